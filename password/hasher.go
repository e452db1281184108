package password

// Hasher produces argon2id hashes and verifies both argon2id and legacy
// bcrypt hashes, so accounts imported from older deployments keep working
// and are upgraded on their next successful login.
type Hasher struct {
	argon *Argon2
}

// NewHasher builds a Hasher around an argon2id configuration.
func NewHasher(cfg Config) (*Hasher, error) {
	argon, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	return &Hasher{argon: argon}, nil
}

// Hash always produces argon2id.
func (h *Hasher) Hash(password string) (string, error) {
	return h.argon.Hash(password)
}

// Verify dispatches on the hash format.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	if IsBcrypt(encodedHash) {
		if len(password) > h.argon.config.MaxPasswordBytes {
			return false, ErrPasswordTooLong
		}
		return VerifyBcrypt(password, encodedHash)
	}
	return h.argon.Verify(password, encodedHash)
}

// NeedsRehash reports whether encodedHash should be replaced after a
// successful verification: every bcrypt hash, and argon2id hashes with
// weaker parameters than the current configuration.
func (h *Hasher) NeedsRehash(encodedHash string) bool {
	if IsBcrypt(encodedHash) {
		return true
	}
	upgrade, err := h.argon.NeedsUpgrade(encodedHash)
	if err != nil {
		return false
	}
	return upgrade
}
