package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestVerifyHS256(t *testing.T) {
	v, err := NewVerifier(Config{Algorithm: "HS256", Secret: "s3cret"})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	tok := signHS256(t, "s3cret", jwt.MapClaims{
		"user_id": "42",
		"email":   "a@example.com",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "42" || id.Email != "a@example.com" || id.Role != RoleUser {
		t.Fatalf("unexpected identity: %#v", id)
	}
	if id.IsAdmin() {
		t.Fatalf("default role must not be admin")
	}
}

func TestVerifyNumericUserID(t *testing.T) {
	v, _ := NewVerifier(Config{Algorithm: "HS256", Secret: "s3cret"})
	tok := signHS256(t, "s3cret", jwt.MapClaims{"user_id": 7, "email": "b@example.com", "role": "admin"})

	id, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "7" || !id.IsAdmin() {
		t.Fatalf("unexpected identity: %#v", id)
	}
}

func TestVerifyRejects(t *testing.T) {
	v, _ := NewVerifier(Config{Algorithm: "HS256", Secret: "s3cret"})

	cases := map[string]struct {
		token string
		want  error
	}{
		"wrong secret": {
			token: signHS256(t, "other", jwt.MapClaims{"user_id": "1", "email": "x@y"}),
			want:  ErrInvalidToken,
		},
		"expired": {
			token: signHS256(t, "s3cret", jwt.MapClaims{"user_id": "1", "email": "x@y", "exp": time.Now().Add(-time.Minute).Unix()}),
			want:  ErrInvalidToken,
		},
		"missing email": {
			token: signHS256(t, "s3cret", jwt.MapClaims{"user_id": "1"}),
			want:  ErrMissingClaims,
		},
		"garbage": {
			token: "not-a-token",
			want:  ErrInvalidToken,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(tc.token)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestVerifyRS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	v, err := NewVerifier(Config{Algorithm: "RS256", PublicKey: pemKey})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"user_id": "u1", "email": "u1@example.com",
	}).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := v.Verify(tok); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// An HS256 token must not pass an RS256 verifier.
	hs := signHS256(t, pemKey, jwt.MapClaims{"user_id": "u1", "email": "u1@example.com"})
	if _, err := v.Verify(hs); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected algorithm mismatch to fail, got %v", err)
	}
}

func TestNewVerifierConfigErrors(t *testing.T) {
	if _, err := NewVerifier(Config{Algorithm: "HS256"}); err == nil {
		t.Fatalf("expected missing secret error")
	}
	if _, err := NewVerifier(Config{Algorithm: "RS256", PublicKey: "nope"}); err == nil {
		t.Fatalf("expected bad PEM error")
	}
	if _, err := NewVerifier(Config{Algorithm: "none"}); err == nil {
		t.Fatalf("expected unsupported algorithm error")
	}
}
