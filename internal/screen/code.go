package screen

import (
	"crypto/rand"
	"math/big"
)

const (
	codePrefix   = "SCR-"
	codeLength   = 8
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateCode draws a fresh SCR-XXXXXXXX code. Uniqueness is the caller's job.
func GenerateCode() (string, error) {
	buf := make([]byte, 0, len(codePrefix)+codeLength)
	buf = append(buf, codePrefix...)
	n := big.NewInt(int64(len(codeAlphabet)))
	for range codeLength {
		i, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", err
		}
		buf = append(buf, codeAlphabet[i.Int64()])
	}
	return string(buf), nil
}
