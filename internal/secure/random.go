package secure

import (
	"fmt"

	"github.com/awnumar/memguard"
)

// passwordCharset has exactly 64 entries (letters, digits, '-' and '_') so
// mapping a random byte with modulo introduces no bias: 256 is a multiple
// of 64, every character is equally likely.
const passwordCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// MaxRandomLength bounds ${random | N} so a malformed template cannot ask
// for an absurd allocation.
const MaxRandomLength = 1024

// Generator produces cryptographically random credential material. The raw
// entropy is drawn into a memguard locked buffer and wiped as soon as the
// character mapping is done.
type Generator struct{}

// NewGenerator creates a Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate returns a random string of the requested length over the
// 64-character password alphabet.
func (g *Generator) Generate(length int) (string, error) {
	if length < 1 {
		return "", fmt.Errorf("random length must be at least 1, got %d", length)
	}
	if length > MaxRandomLength {
		return "", fmt.Errorf("random length %d exceeds maximum %d", length, MaxRandomLength)
	}

	buf := memguard.NewBufferRandom(length)
	defer buf.Destroy()

	out := make([]byte, length)
	for i, b := range buf.Bytes() {
		out[i] = passwordCharset[int(b)%len(passwordCharset)]
	}
	return string(out), nil
}
