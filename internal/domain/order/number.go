package order

import (
	"math/rand/v2"
	"strings"
)

const (
	numberPrefix = "MC-"
	numberLength = 6
	// 0, O, 1, I and L are left out so numbers read back unambiguously.
	numberAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

// GenerateNumber returns a short human-readable order number such as "MC-7KQ2XD".
func GenerateNumber() string {
	var b strings.Builder
	b.Grow(len(numberPrefix) + numberLength)
	b.WriteString(numberPrefix)
	for i := 0; i < numberLength; i++ {
		b.WriteByte(numberAlphabet[rand.IntN(len(numberAlphabet))])
	}
	return b.String()
}
