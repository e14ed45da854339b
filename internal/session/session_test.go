package session

import "testing"

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")
	a := DeriveKey([]byte("hunter2"), salt)
	b := DeriveKey([]byte("hunter2"), salt)
	if a != b {
		t.Fatalf("expected deterministic derivation, got %q vs %q", a, b)
	}
	if len(a) != keyLength*2 {
		t.Fatalf("expected a %d-char hex string, got %d", keyLength*2, len(a))
	}
}

func TestDeriveKeyDiffersBySalt(t *testing.T) {
	a := DeriveKey([]byte("hunter2"), []byte("0123456789abcdef"))
	b := DeriveKey([]byte("hunter2"), []byte("fedcba9876543210"))
	if a == b {
		t.Fatal("expected different salts to produce different keys")
	}
}

func TestNewSessionKeyRoundTrip(t *testing.T) {
	key, salt, err := NewSessionKey([]byte("secret"))
	if err != nil {
		t.Fatalf("NewSessionKey: %v", err)
	}
	if len(salt) != saltLength {
		t.Fatalf("expected %d-byte salt, got %d", saltLength, len(salt))
	}
	if DeriveKey([]byte("secret"), salt) != key {
		t.Fatal("re-deriving with the returned salt should reproduce the same key")
	}
}
