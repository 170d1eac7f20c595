// Package signature computes and checks the X-Hub-Signature-256 header value
// used on outbound status callbacks.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	Header = "X-Hub-Signature-256"
	prefix = "sha256="
)

var ErrMalformed = errors.New("signature: malformed header value")

// Sign returns "sha256=" followed by the lowercase hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether header is a valid signature of body under secret.
func Verify(secret string, body []byte, header string) (bool, error) {
	if !strings.HasPrefix(header, prefix) {
		return false, ErrMalformed
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false, ErrMalformed
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil)), nil
}
