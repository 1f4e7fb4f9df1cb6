package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	b, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("token length = %d, want 64", len(a))
	}
	if a == b {
		t.Fatal("two generated tokens are equal")
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Fatal("HashToken is not deterministic")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Fatal("HashToken collides on different input")
	}
}

func TestHashAndVerifyAPIToken(t *testing.T) {
	hash, err := HashAPIToken("s3cret")
	if err != nil {
		t.Fatalf("HashAPIToken: %v", err)
	}
	if !strings.HasPrefix(hash, "argon2id$v=19$m=65536,t=1,p=4$") {
		t.Fatalf("unexpected hash format %q", hash)
	}
	again, err := HashAPIToken("s3cret")
	if err != nil {
		t.Fatalf("HashAPIToken: %v", err)
	}
	if hash == again {
		t.Fatal("hashes of the same token should differ by salt")
	}

	ok, err := VerifyAPIToken("s3cret", hash)
	if err != nil || !ok {
		t.Fatalf("VerifyAPIToken(correct) = %v, %v", ok, err)
	}
	ok, err = VerifyAPIToken("wrong", hash)
	if err != nil || ok {
		t.Fatalf("VerifyAPIToken(wrong) = %v, %v", ok, err)
	}
}

func TestVerifyAPITokenRejectsMalformed(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plain",
		"bcrypt$v=19$m=1,t=1,p=1$AAAA$AAAA",
		"argon2id$v=18$m=65536,t=1,p=4$AAAA$AAAA",
		"argon2id$v=19$m=x,t=1,p=4$AAAA$AAAA",
		"argon2id$v=19$m=0,t=1,p=4$AAAA$AAAA",
		"argon2id$v=19$m=65536,t=1,p=4$!!!$AAAA",
		"argon2id$v=19$m=65536,t=1,p=4$AAAA$",
	} {
		if _, err := VerifyAPIToken("x", encoded); !errors.Is(err, ErrInvalidHash) {
			t.Errorf("VerifyAPIToken(%q) err = %v, want ErrInvalidHash", encoded, err)
		}
	}
}
