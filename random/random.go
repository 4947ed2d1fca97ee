// Package random generates human-facing codes.
package random

import (
	"crypto/rand"
	"math/big"
)

// CodeCharset leaves out characters that read alike (0/O, 1/I).
const CodeCharset = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// Code returns a random code of the given length drawn from CodeCharset.
func Code(length int) (string, error) {
	return String(CodeCharset, length)
}

func String(charset string, length int) (string, error) {
	b := make([]byte, length)
	max := big.NewInt(int64(len(charset)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = charset[n.Int64()]
	}
	return string(b), nil
}
