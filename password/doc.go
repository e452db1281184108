// Package password hashes account passwords with argon2id and verifies both
// argon2id and bcrypt hashes.
//
// New hashes are PHC strings:
//
//	$argon2id$v=19$m=<KiB>,t=<passes>,p=<lanes>$<salt>$<key>
//
// bcrypt hashes written by earlier deployments verify unchanged. Both they
// and argon2id hashes with weaker costs report [Hasher.NeedsRehash], and the
// engine replaces them after the next successful login.
//
// Character-class policy is enforced by the engine, not here; this package
// only bounds input length.
package password
