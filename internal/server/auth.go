package server

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	hwcerrors "hwc-server/internal/errors"
)

// PinAuthenticator checks the pin of protected requests against a bcrypt
// hash or, if no hash is configured, against a plain pin.
type PinAuthenticator struct {
	hash  []byte
	plain []byte
}

// NewPinAuthenticator creates an authenticator; pinHash takes precedence
func NewPinAuthenticator(pin, pinHash string) (*PinAuthenticator, error) {
	a := &PinAuthenticator{}
	if pinHash != "" {
		if _, err := bcrypt.Cost([]byte(pinHash)); err != nil {
			return nil, hwcerrors.NewConfigError("pin hash", err, "server.pin_hash")
		}
		a.hash = []byte(pinHash)
		return a, nil
	}
	if pin != "" {
		a.plain = []byte(pin)
	}
	return a, nil
}

// HashPin returns the bcrypt hash of a pin for use as server.pin_hash
func HashPin(pin string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash pin: %w", err)
	}
	return string(h), nil
}

// Check returns an AuthError when the pin is missing or wrong
func (a *PinAuthenticator) Check(pin string) error {
	switch {
	case pin == "":
		return hwcerrors.NewAuthError("missing pin")
	case a.hash != nil:
		if bcrypt.CompareHashAndPassword(a.hash, []byte(pin)) != nil {
			return hwcerrors.NewAuthError("wrong pin")
		}
		return nil
	case a.plain != nil:
		if subtle.ConstantTimeCompare(a.plain, []byte(pin)) != 1 {
			return hwcerrors.NewAuthError("wrong pin")
		}
		return nil
	default:
		return hwcerrors.NewAuthError("no pin configured")
	}
}
