package middleware_test

import (
	"crypto/sha256"
	"encoding/hex"
)

func sha(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
