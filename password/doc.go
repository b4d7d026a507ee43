// Package password hashes and verifies passwords with argon2id.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verify reads the cost parameters from the stored hash, so raising Config does not
// invalidate existing hashes; NeedsUpgrade tells the caller when to re-hash. Strength
// policy (length, composition) is left to the caller.
package password
