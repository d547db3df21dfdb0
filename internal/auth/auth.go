// Package auth verifies bearer tokens and carries the caller identity in the request context.
package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var (
	ErrInvalidToken  = errors.New("auth: invalid or expired token")
	ErrMissingClaims = errors.New("auth: token is missing user_id or email")
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

type Config struct {
	Algorithm string // HS256 or RS256
	Secret    string
	PublicKey string // PEM, for RS256
	Issuer    string
}

// Verifier validates signed tokens and extracts an Identity from their claims.
type Verifier struct {
	keyFunc jwt.Keyfunc
	opts    []jwt.ParserOption
}

func NewVerifier(cfg Config) (*Verifier, error) {
	alg := cfg.Algorithm
	if alg == "" {
		alg = "RS256"
	}

	var key any
	switch alg {
	case "HS256":
		if cfg.Secret == "" {
			return nil, errors.New("auth: HS256 needs a secret")
		}
		key = []byte(cfg.Secret)
	case "RS256":
		pub, err := parseRSAPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		key = pub
	default:
		return nil, fmt.Errorf("auth: unsupported algorithm %q", alg)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{alg})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &Verifier{
		keyFunc: func(*jwt.Token) (any, error) { return key, nil },
		opts:    opts,
	}, nil
}

func parseRSAPublicKey(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, errors.New("auth: RS256 needs a PEM encoded public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("auth: public key is not RSA")
	}
	return rsaKey, nil
}

// Verify parses tokenStr. user_id and email are required; role defaults to "user".
func (v *Verifier) Verify(tokenStr string) (Identity, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.keyFunc, v.opts...)
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id := Identity{
		UserID: claimString(claims["user_id"]),
		Email:  claimString(claims["email"]),
		Role:   claimString(claims["role"]),
	}
	if id.UserID == "" || id.Email == "" {
		return Identity{}, ErrMissingClaims
	}
	if id.Role == "" {
		id.Role = RoleUser
	}
	return id, nil
}

// Numeric user ids are accepted and rendered without a fraction.
func claimString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
