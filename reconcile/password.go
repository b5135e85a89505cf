package reconcile

import (
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"
)

const (
	passwordLength   = 32
	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// randomPassword generates the throwaway password for a freshly created
// account. Users authenticate through the directory, so the password only
// has to be unguessable; it is never logged and never reused.
func randomPassword() (string, error) {
	alphabetSize := big.NewInt(int64(len(passwordAlphabet)))
	buf := make([]byte, passwordLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", errors.Wrap(err, "failed to generate password")
		}
		buf[i] = passwordAlphabet[n.Int64()]
	}
	return string(buf), nil
}
