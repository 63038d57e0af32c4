// Package account defines the persisted account record and the storage
// contract the authentication engine depends on, together with an
// in-memory store and a PostgreSQL store built on pgx.
//
// Every mutation after creation goes through CompareAndSwap, a conditional
// update keyed by account id and guarded by the record version. Lockout
// counters and password changes are therefore race-free without a global
// lock.
package account
