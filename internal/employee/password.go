package employee

import (
	"crypto/subtle"
	"strings"

	"github.com/alexedwards/argon2id"
)

const argonPrefix = "$argon2id$"

// IsHashed reports whether stored is an argon2id hash rather than a legacy
// plaintext password.
func IsHashed(stored string) bool {
	return strings.HasPrefix(stored, argonPrefix)
}

// VerifyPassword compares given against a stored argon2id hash or legacy
// plaintext password.
func VerifyPassword(stored, given string) bool {
	if IsHashed(stored) {
		ok, err := argon2id.ComparePasswordAndHash(given, stored)
		return err == nil && ok
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

func (s *Service) encodePassword(password string) (string, error) {
	if !s.hashPasswords {
		return password, nil
	}
	return argon2id.CreateHash(password, s.params)
}
