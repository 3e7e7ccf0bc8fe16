package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var ErrBadSignature = errors.New("webhook signature verification failed")

// Sign computes the hex HMAC-SHA256 of a raw webhook payload. The gateway
// signs the exact bytes it sends; verification must run before the payload
// is parsed.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature in constant time.
func VerifySignature(payload []byte, signature, secret string) error {
	expected := Sign(payload, secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
