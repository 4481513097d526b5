package auth

import (
	"crypto/sha256"
	"sync"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/lorrc/notify-gateway/internal/core/errors"
)

// ServiceKeyVerifier authenticates backend services calling the publish API.
// Keys are configured as bcrypt hashes; a key that verified once is
// remembered by digest so the bcrypt cost is paid once per key.
type ServiceKeyVerifier struct {
	hashes   [][]byte
	verified sync.Map // [32]byte -> struct{}
}

// NewServiceKeyVerifier creates a verifier accepting any of the given bcrypt
// hashes.
func NewServiceKeyVerifier(hashes []string) *ServiceKeyVerifier {
	v := &ServiceKeyVerifier{}
	for _, h := range hashes {
		if h != "" {
			v.hashes = append(v.hashes, []byte(h))
		}
	}
	return v
}

// Enabled reports whether any key is configured.
func (v *ServiceKeyVerifier) Enabled() bool {
	return len(v.hashes) > 0
}

// Verify checks key against the configured hashes.
func (v *ServiceKeyVerifier) Verify(key string) error {
	if key == "" {
		return apperrors.ErrInvalidServiceKey
	}

	digest := sha256.Sum256([]byte(key))
	if _, ok := v.verified.Load(digest); ok {
		return nil
	}

	for _, hash := range v.hashes {
		if bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil {
			v.verified.Store(digest, struct{}{})
			return nil
		}
	}
	return apperrors.ErrInvalidServiceKey
}

// HashServiceKey produces the bcrypt hash to put in configuration.
func HashServiceKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
