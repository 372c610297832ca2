package crypto

import "testing"

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	if len(token) == 0 {
		t.Fatal("expected token to be non-empty")
	}

	if _, err := GenerateToken(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}

func TestDigestSeparatesParts(t *testing.T) {
	if Digest("ab", "c") == Digest("a", "bc") {
		t.Fatal("expected part boundaries to change the digest")
	}
	if Digest("a", "b") != Digest("a", "b") {
		t.Fatal("expected digest to be deterministic")
	}
	if len(Digest("x")) != 64 {
		t.Fatalf("unexpected digest length %d", len(Digest("x")))
	}
}
