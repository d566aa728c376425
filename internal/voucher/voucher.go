// Package voucher produces the redemption codes users dial into the telecom's USSD
// menu to activate a purchased data bundle.
package voucher

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

const (
	// Digits is the width of the numeric part of a code.
	Digits = 9
	// Suffix terminates every code.
	Suffix = "S"
)

var space = big.NewInt(1_000_000_000)

// Generator produces voucher codes.
type Generator interface {
	Generate() (string, error)
}

// RandomGenerator draws codes uniformly from the 10^9 numeric space. Uniqueness is not
// checked here; the ledger rejects a duplicate and the caller draws again.
type RandomGenerator struct {
	source io.Reader
}

// NewRandomGenerator returns a generator backed by crypto/rand.
func NewRandomGenerator() *RandomGenerator {
	return &RandomGenerator{source: rand.Reader}
}

// NewGeneratorFromSource returns a generator reading randomness from source.
func NewGeneratorFromSource(source io.Reader) *RandomGenerator {
	return &RandomGenerator{source: source}
}

func (g *RandomGenerator) Generate() (string, error) {
	n, err := rand.Int(g.source, space)
	if err != nil {
		return "", fmt.Errorf("voucher: read randomness: %w", err)
	}
	return fmt.Sprintf("%0*d%s", Digits, n.Int64(), Suffix), nil
}

// IsWellFormed reports whether code has the voucher shape.
func IsWellFormed(code string) bool {
	if len(code) != Digits+len(Suffix) || code[Digits:] != Suffix {
		return false
	}
	for i := 0; i < Digits; i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
