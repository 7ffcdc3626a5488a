package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted plaintext password.
const MinPasswordLength = 8

// PasswordHasher hashes and verifies passwords with bcrypt at a fixed cost.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher returns a hasher using cost; zero selects bcrypt.DefaultCost.
func NewPasswordHasher(cost int) (PasswordHasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return PasswordHasher{}, fmt.Errorf("%w: bcrypt cost %d out of range", ErrInvalidInput, cost)
	}
	return PasswordHasher{cost: cost}, nil
}

// Hash hashes plaintext password.
func (h PasswordHasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	cost := h.cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// dummyHash is compared against when the email is unknown so that login
// latency does not reveal which field was wrong.
var dummyHash = func() string {
	h, _ := bcrypt.GenerateFromPassword([]byte("learnhub-timing-equalizer"), bcrypt.DefaultCost)
	return string(h)
}()

// HashPassword hashes password at the given bcrypt cost (zero selects the default).
func HashPassword(password string, cost int) (string, error) {
	h, err := NewPasswordHasher(cost)
	if err != nil {
		return "", err
	}
	return h.Hash(password)
}
