package hash

import "testing"

func TestHashAndCheck(t *testing.T) {
	h, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if h == "s3cret" {
		t.Fatal("hash equals plaintext")
	}
	if !CheckPasswordHash("s3cret", h) {
		t.Fatal("correct password rejected")
	}
	if CheckPasswordHash("wrong", h) {
		t.Fatal("wrong password accepted")
	}
}
