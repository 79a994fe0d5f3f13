package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	recoveryCodeBytes = 4
	recoveryHashCost  = 10
	DefaultCodeCount  = 5
)

var ErrCodeGeneration = errors.New("failed to generate recovery codes")

// RecoveryCodes holds freshly generated codes. Plain codes are shown to the
// caller exactly once; only the hashes are ever persisted.
type RecoveryCodes struct {
	Plain  []string
	Hashed []string
}

// GenerateRecoveryCodes produces count one-time recovery codes of the form
// XXXX-XXXX (uppercase hex) together with their bcrypt hashes. Generation is
// atomic: any failure returns no codes at all.
func GenerateRecoveryCodes(count int) (*RecoveryCodes, error) {
	if count <= 0 {
		count = DefaultCodeCount
	}

	codes := &RecoveryCodes{
		Plain:  make([]string, 0, count),
		Hashed: make([]string, 0, count),
	}

	for i := 0; i < count; i++ {
		buf := make([]byte, recoveryCodeBytes)
		if _, err := rand.Read(buf); err != nil {
			return nil, ErrCodeGeneration
		}

		hexStr := strings.ToUpper(fmt.Sprintf("%x", buf))
		plain := hexStr[:4] + "-" + hexStr[4:]

		hash, err := bcrypt.GenerateFromPassword([]byte(plain), recoveryHashCost)
		if err != nil {
			return nil, ErrCodeGeneration
		}

		codes.Plain = append(codes.Plain, plain)
		codes.Hashed = append(codes.Hashed, string(hash))
	}

	return codes, nil
}

// VerifyRecoveryCode checks a plain code against a stored hash.
func VerifyRecoveryCode(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
