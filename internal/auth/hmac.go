// Package auth verifies that a request may act on a project: API key
// ownership and, for projects holding a secret, an HMAC signature over the
// request body.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

func mac(secret string, body []byte) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(body)
	return m.Sum(nil)
}

// ComputeSignature returns the lowercase hex HMAC-SHA256 of body.
func ComputeSignature(secret string, body []byte) string {
	return hex.EncodeToString(mac(secret, body))
}

// VerifySignature reports whether candidate is the signature of body under
// secret. An optional "sha256=" prefix is accepted.
func VerifySignature(secret string, body []byte, candidate string) bool {
	candidate = strings.TrimPrefix(strings.TrimSpace(candidate), signaturePrefix)
	got, err := hex.DecodeString(candidate)
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(mac(secret, body), got)
}

// RequireSignature checks a request body against the project's secret.
// Projects without a secret accept unsigned bodies.
func RequireSignature(secret string, body []byte, candidate string) bool {
	if secret == "" {
		return true
	}
	return candidate != "" && VerifySignature(secret, body, candidate)
}
