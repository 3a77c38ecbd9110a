/*
Copyright The Charted Authors.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package auth

import (
	"context"
	"crypto/subtle"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidPassword indicates the presented password does not match.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrMissingPassword indicates the account has no password to check
	// against.
	ErrMissingPassword = errors.New("account has no password")
)

// Backend verifies an account password against some authority. hash is
// the stored bcrypt hash of the account, empty when none is stored.
type Backend interface {
	// Name returns the backend name ("local", "static", "ldap").
	Name() string

	// Authenticate returns nil when password is valid for username,
	// ErrInvalidPassword when it is not.
	Authenticate(ctx context.Context, username, hash, password string) error
}

// Local verifies passwords against the bcrypt hash stored on the account
// row. This is the default backend.
type Local struct{}

var _ Backend = (*Local)(nil)

// Name returns the name of the backend.
func (Local) Name() string { return "local" }

// Authenticate compares password against the stored bcrypt hash.
func (Local) Authenticate(_ context.Context, _, hash, password string) error {
	if hash == "" {
		return ErrMissingPassword
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidPassword
		}
		return err
	}
	return nil
}

// HashPassword produces the bcrypt hash the Local backend verifies
// against.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "unable to hash password")
	}
	return string(hash), nil
}

// Static verifies passwords against a fixed user -> password table from
// the server configuration. Useful for demo and test instances.
type Static struct {
	Users map[string]string
}

var _ Backend = (*Static)(nil)

// Name returns the name of the backend.
func (Static) Name() string { return "static" }

// Authenticate compares password against the configured table entry.
func (s Static) Authenticate(_ context.Context, username, _, password string) error {
	expected, ok := s.Users[username]
	if !ok {
		return ErrInvalidPassword
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(password)) != 1 {
		return ErrInvalidPassword
	}
	return nil
}

// Ldap is a placeholder for LDAP-bound authentication.
type Ldap struct{}

var _ Backend = (*Ldap)(nil)

// Name returns the name of the backend.
func (Ldap) Name() string { return "ldap" }

// Authenticate always fails; binding against an LDAP server is not
// implemented.
func (Ldap) Authenticate(_ context.Context, _, _, _ string) error {
	return errors.New("ldap sessions are not supported yet")
}
