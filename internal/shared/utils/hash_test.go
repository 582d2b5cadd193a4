package utils

import (
	"os"
	"path/filepath"
	"testing"
)

// sha256("hello"), precomputed.
const helloDigest = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestHashString(t *testing.T) {
	h := DefaultHasher()

	if got := h.HashString("hello"); got != helloDigest {
		t.Errorf("HashString = %s, want %s", got, helloDigest)
	}
	if h.Hash([]byte("hello")) != h.HashString("hello") {
		t.Error("Hash and HashString should agree on the same bytes")
	}
	if len(h.HashString("")) != 64 {
		t.Error("digest should be 64 hex characters")
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.tar.gz")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := DefaultHasher().HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if got != helloDigest {
		t.Errorf("HashFile = %s, want %s", got, helloDigest)
	}

	if _, err := DefaultHasher().HashFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("hashing a missing file should fail")
	}
}

func TestShortHash(t *testing.T) {
	if got := ShortHash(helloDigest); got != "2cf24dba" {
		t.Errorf("ShortHash = %s, want first 8 characters", got)
	}
	if got := ShortHash("abc"); got != "abc" {
		t.Errorf("ShortHash of short input = %s, want it unchanged", got)
	}
}
