package auth

import "testing"

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatalf("hash must not equal the password")
	}
	if !CheckPassword("correct horse battery staple", hash) {
		t.Fatalf("expected matching password to verify")
	}
	if CheckPassword("wrong password", hash) {
		t.Fatalf("expected mismatched password to fail")
	}
}

func TestCheckPasswordBadHash(t *testing.T) {
	if CheckPassword("anything", "not-a-bcrypt-hash") {
		t.Fatalf("expected malformed hash to fail verification")
	}
}
