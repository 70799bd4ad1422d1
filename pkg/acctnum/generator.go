/**
 * @description
 * This package generates candidate account numbers. Numbers are fixed-length
 * numeric strings drawn from crypto/rand; global uniqueness is owned by the
 * account store, which checks each candidate against existing accounts and
 * asks for another on collision.
 */
package acctnum

import (
	"crypto/rand"
	"math/big"
)

// DefaultLength matches the account_number column width.
const DefaultLength = 10

// Generator produces random fixed-length numeric account numbers.
type Generator struct {
	length int
}

// New returns a generator producing numbers of the default length.
func New() *Generator {
	return &Generator{length: DefaultLength}
}

// NewWithLength returns a generator producing numbers of the given length.
// Lengths below two fall back to the default.
func NewWithLength(length int) *Generator {
	if length < 2 {
		length = DefaultLength
	}
	return &Generator{length: length}
}

// Next returns a fresh candidate account number. The leading digit is never
// zero so the number keeps its full printed width.
func (g *Generator) Next() (string, error) {
	digits := make([]byte, g.length)
	for i := range digits {
		limit := int64(10)
		offset := int64(0)
		if i == 0 {
			limit = 9
			offset = 1
		}
		n, err := rand.Int(rand.Reader, big.NewInt(limit))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + offset + n.Int64())
	}
	return string(digits), nil
}
