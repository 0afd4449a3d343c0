package secrets

import (
	"errors"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// “Service” groups the engine's secrets in the OS keychain.
	KeyringService = "opowatch"
	adminAccount   = "opowatch:admin-token"
)

// GetAdminToken returns the token guarding mutating endpoints, or an
// empty string if none was ever set (the guard is then disabled).
func GetAdminToken() string {
	tok, err := keyring.Get(KeyringService, adminAccount)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(tok)
}

func SetAdminToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("token is empty")
	}
	return keyring.Set(KeyringService, adminAccount, token)
}

func DeleteAdminToken() error {
	return keyring.Delete(KeyringService, adminAccount)
}
