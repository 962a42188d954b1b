package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const passwordHashCost = 12

// HashPassword hashes a plaintext password using bcrypt. Hashing is an
// explicit step owned by the caller; stores persist the hash as given.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
