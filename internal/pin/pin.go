package pin

import (
	"crypto/rand"
	"fmt"
	"math/big"

	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/crypto/bcrypt"
)

// CodeLength is the fixed digit length of generated access codes
const CodeLength = 6

// Generate returns a fixed-length numeric access code drawn from
// crypto/rand. Leading zeros are kept, so "042917" is a valid code.
func Generate() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < CodeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to draw random code: %w", err)
	}

	return fmt.Sprintf("%0*d", CodeLength, n), nil
}

// Hash hashes an access code using bcrypt. The salt is embedded in the
// output, so hashing the same code twice yields distinct strings that
// both verify.
func Hash(code string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(code), 10)
	return string(bytes), err
}

// Verify compares a plaintext code with a stored hash
func Verify(code, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(code))
	return err == nil
}

// QR renders a freshly issued code as a PNG for one-time guest delivery.
// The image carries the plaintext, so it must never be persisted.
func QR(code string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(code, qrcode.Medium, size)
}
