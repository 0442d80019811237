package server

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/nexio-tech/statusbridge/pkg/config"
)

var errInvalidCredentials = errors.New("invalid credentials")

// credentials are submitted in the request body, not headers. Single
// hardcoded operator credential; a known-weak, single-tenant design kept
// for compatibility with the existing operator tooling.
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func authorize(auth config.AuthSettings, creds credentials) error {
	if creds.Username == "" || creds.Password == "" {
		return errInvalidCredentials
	}
	usernameMatch := subtle.ConstantTimeCompare([]byte(auth.Username), []byte(creds.Username)) == 1
	passwordErr := bcrypt.CompareHashAndPassword([]byte(auth.PasswordHash), []byte(creds.Password))
	if !usernameMatch || passwordErr != nil {
		return errInvalidCredentials
	}
	return nil
}
