package sharing

import (
	"crypto/rand"
	"encoding/base64"
)

const tokenBytes = 32

// newToken returns 256 random bits in the URL-safe base64 alphabet without
// padding. Nothing about the session feeds into it.
func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
