package password

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHasherVerifiesLegacyBcrypt(t *testing.T) {
	h, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	legacy, err := HashBcrypt("Abcd1234", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashBcrypt error: %v", err)
	}
	if !IsBcrypt(legacy) {
		t.Fatalf("expected bcrypt prefix, got %q", legacy[:4])
	}

	ok, err := h.Verify("Abcd1234", legacy)
	if err != nil || !ok {
		t.Fatalf("Verify(legacy) ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("Abcd12345", legacy)
	if err != nil || ok {
		t.Fatalf("Verify(legacy, wrong) ok=%v err=%v", ok, err)
	}
	if !h.NeedsRehash(legacy) {
		t.Fatal("expected bcrypt hash to need rehash")
	}
}

func TestHasherHashesArgon2id(t *testing.T) {
	h, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	hash, err := h.Hash("Abcd1234")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if IsBcrypt(hash) {
		t.Fatal("new hashes must not be bcrypt")
	}
	ok, err := h.Verify("Abcd1234", hash)
	if err != nil || !ok {
		t.Fatalf("Verify ok=%v err=%v", ok, err)
	}
	if h.NeedsRehash(hash) {
		t.Fatal("current-parameter hash should not need rehash")
	}
}
