package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

func HashToken(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}

// SecretsMatch reports whether got equals want byte for byte. Both sides are
// hashed first so the comparison time does not depend on their lengths.
func SecretsMatch(got, want string) bool {
	g := sha256.Sum256([]byte(got))
	w := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(g[:], w[:]) == 1
}
