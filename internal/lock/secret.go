package lock

import (
	"crypto/rand"
	"encoding/hex"
)

// randomSecret mints a fresh 256-bit hex-encoded secret.
func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
