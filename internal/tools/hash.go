package tools

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns a short, stable digest of b, used as the argsHash/
// resultHash inputs to the loop detector.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}
