package library

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// passwordCost is lowered by tests.
var passwordCost = 12

// HashPassword hashes a password with bcrypt.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
