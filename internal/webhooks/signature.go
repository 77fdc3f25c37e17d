package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	SignatureHeader = "X-Bruin-Signature"
	signaturePrefix = "sha256="
)

// Sign returns lowercase hex of HMAC-SHA256 over payload keyed by secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeaderValue is the value sent in X-Bruin-Signature.
func SignatureHeaderValue(payload []byte, secret string) string {
	return signaturePrefix + Sign(payload, secret)
}

// Verify checks a "sha256=<hex>" header (the bare hex form is accepted too) against the
// raw body using the shared secret.
func Verify(payload []byte, secret, header string) bool {
	provided, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), provided)
}
