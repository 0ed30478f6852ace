package signaling

import (
	"crypto/rand"
	"math/big"
)

const pinLength = 6

// generatePIN returns a random numeric PIN of the given length.
func generatePIN(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = '0' + byte(n.Int64())
	}
	return string(digits), nil
}
