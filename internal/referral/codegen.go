package referral

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet drops visually confusable characters (0/O, 1/I/l) so codes
// survive being read off a pharmacy counter poster.
const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 8
)

// newCode draws a fixed-length code from the unambiguous alphabet.
// Uniqueness is the database's problem; callers retry on collision.
func newCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("draw referral code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
