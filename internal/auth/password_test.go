package auth

import "testing"

func TestHashAndComparePassword(t *testing.T) {
	const password = "Passw0rd!"

	hash, err := HashPassword(password, 4)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hash == password {
		t.Fatal("hash must not equal the plaintext")
	}

	if !ComparePassword(hash, password) {
		t.Fatal("expected matching password to verify")
	}
	if ComparePassword(hash, "Passw0rd?") {
		t.Fatal("expected non-matching password to fail")
	}
}

func TestHashPasswordSaltsEveryCall(t *testing.T) {
	const password = "correct horse battery staple"

	first, err := HashPassword(password, 4)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	second, err := HashPassword(password, 4)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if first == second {
		t.Fatal("two hashes of the same password must differ")
	}
	if !ComparePassword(first, password) || !ComparePassword(second, password) {
		t.Fatal("both hashes must verify the original password")
	}
}

func TestComparePasswordMalformedDigest(t *testing.T) {
	tests := []struct {
		name   string
		digest string
	}{
		{name: "empty", digest: ""},
		{name: "garbage", digest: "not-a-bcrypt-digest"},
		{name: "truncated", digest: "$2a$10$abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ComparePassword(tt.digest, "whatever") {
				t.Fatal("malformed digest must never verify")
			}
		})
	}
}

func TestHashPasswordClampsCost(t *testing.T) {
	hash, err := HashPassword("some password", 99)
	if err != nil {
		t.Fatalf("expected out-of-range cost to fall back to default, got %v", err)
	}
	if !ComparePassword(hash, "some password") {
		t.Fatal("expected fallback-cost hash to verify")
	}
}
