package appointments

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

const (
	referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	referenceLength   = 8
)

var referencePattern = regexp.MustCompile(`^[A-Z0-9]{8}$`)

// NewShortReference returns prefix followed by 8 random uppercase alphanumerics.
func NewShortReference(prefix string) (string, error) {
	buf := make([]byte, referenceLength)
	max := big.NewInt(int64(len(referenceAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		buf[i] = referenceAlphabet[n.Int64()]
	}
	return prefix + string(buf), nil
}

// ValidShortReference reports whether ref is prefix + 8 uppercase alphanumerics.
func ValidShortReference(prefix, ref string) bool {
	if len(ref) != len(prefix)+referenceLength || ref[:len(prefix)] != prefix {
		return false
	}
	return referencePattern.MatchString(ref[len(prefix):])
}
