// Package password hashes and verifies account passwords.
//
// New hashes are Argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verification additionally accepts bcrypt hashes ($2a$, $2b$, $2y$) carried
// over from older deployments; [Hasher.NeedsRehash] reports true for those so
// callers can re-hash on the next successful login.
//
// The package does not enforce password policy and never logs its inputs.
package password
