package auth

import (
	"strings"
	"testing"
)

func TestGenerateToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := GenerateToken(sessionTokenLen)
		if err != nil {
			t.Fatalf("GenerateToken() error = %v", err)
		}
		if token == "" {
			t.Fatal("GenerateToken() returned empty token")
		}
		if seen[token] {
			t.Fatalf("GenerateToken() repeated token %q", token)
		}
		seen[token] = true
	}
}

func TestGenerateToken_URLSafe(t *testing.T) {
	token, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if strings.ContainsAny(token, "+/=") {
		t.Errorf("GenerateToken() = %q, contains non-URL-safe characters", token)
	}
}

func TestHashToken_Deterministic(t *testing.T) {
	a := HashToken("some-token")
	b := HashToken("some-token")
	if a != b {
		t.Errorf("HashToken() not deterministic: %q != %q", a, b)
	}
	if a == HashToken("other-token") {
		t.Error("HashToken() collided for distinct tokens")
	}
	if a == "some-token" {
		t.Error("HashToken() returned the plaintext")
	}
	if len(a) != 64 {
		t.Errorf("HashToken() length = %d, want 64 hex chars", len(a))
	}
}
