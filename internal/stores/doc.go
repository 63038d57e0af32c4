// Package stores persists short-lived password reset records in Redis.
//
// Records are versioned binary blobs with a TTL. Consume runs as a
// WATCH/MULTI optimistic transaction that checks expiry, the consumed flag
// and the secret digest together, so a record is consumed at most once no
// matter how many confirmations race. Secret digests are compared in
// constant time.
package stores
