package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

type fingerprintInput struct {
	Request map[string]any `json:"request"`
	UserID  string         `json:"user_id"`
}

// BuildFingerprint hashes the canonical JSON form of params together with userID.
//
// encoding/json writes map keys in sorted order at every level, so two
// parameter maps with the same content always produce the same digest no
// matter how they were built. Values that JSON cannot represent (channels,
// functions, NaN) yield ErrInvalidInput.
func BuildFingerprint(params map[string]any, userID string) (Fingerprint, error) {
	if params == nil {
		params = map[string]any{}
	}

	body, err := json.Marshal(fingerprintInput{Request: params, UserID: userID})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	sum := sha256.Sum256(body)
	return Fingerprint(hex.EncodeToString(sum[:])), nil
}
