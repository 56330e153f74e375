package authinfra_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/Abraxas-365/warden/pkg/iam/auth/authinfra"
)

var fastParams = authinfra.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func newHasher(t *testing.T) *authinfra.Argon2Hasher {
	t.Helper()
	h, err := authinfra.NewArgon2Hasher(fastParams)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	return h
}

func TestArgon2HashAndVerify(t *testing.T) {
	h := newHasher(t)

	encoded, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Fatalf("unexpected encoding %q", encoded)
	}
	if strings.Contains(encoded, "correct horse") {
		t.Fatal("hash leaks the plaintext")
	}

	ok, err := h.Verify(encoded, "correct horse battery staple")
	if err != nil || !ok {
		t.Fatalf("expected match, got %v %v", ok, err)
	}
	ok, err = h.Verify(encoded, "wrong")
	if err != nil || ok {
		t.Fatalf("expected mismatch, got %v %v", ok, err)
	}
}

func TestArgon2SaltsDiffer(t *testing.T) {
	h := newHasher(t)
	a, _ := h.Hash("same")
	b, _ := h.Hash("same")
	if a == b {
		t.Fatal("two hashes of the same password must differ")
	}
}

func TestArgon2VerifyUsesStoredParams(t *testing.T) {
	old := newHasher(t)
	encoded, _ := old.Hash("pw-123456")

	stronger := fastParams
	stronger.Iterations = 2
	h, err := authinfra.NewArgon2Hasher(stronger)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	if ok, err := h.Verify(encoded, "pw-123456"); err != nil || !ok {
		t.Fatalf("old hash should still verify, got %v %v", ok, err)
	}
}

func TestArgon2MalformedHash(t *testing.T) {
	h := newHasher(t)
	for _, bad := range []string{"", "plain", "$bcrypt$v=19$m=1,t=1,p=1$aa$bb", "$argon2id$v=19$m=x$aa$bb"} {
		if _, err := h.Verify(bad, "pw"); !errors.Is(err, authinfra.ErrMalformedHash) {
			t.Errorf("%q: expected malformed hash, got %v", bad, err)
		}
	}
	h.DummyVerify("anything")
}
