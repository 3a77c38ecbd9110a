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

// Package names validates and compares the names that identify users,
// organizations and repositories.
package names // import "charted.dev/charted/pkg/names"

import (
	"github.com/pkg/errors"
)

// A name is 2 to 32 characters drawn from letters, digits, underscores,
// tildes and dashes. Comparison is ASCII case-insensitive, so "Noel" and
// "noel" identify the same entity.
const (
	minNameLen = 2
	maxNameLen = 32
)

var (
	// ErrMissingName indicates that no name was provided.
	ErrMissingName = errors.New("no name provided")

	// ErrNameTooShort indicates that the name is under the minimum length.
	ErrNameTooShort = errors.Errorf("name must be at least %d characters", minNameLen)

	// ErrNameTooLong indicates that the name is over the maximum length.
	ErrNameTooLong = errors.Errorf("name must be at most %d characters", maxNameLen)

	// ErrInvalidName indicates that the name contains characters outside
	// of letters, digits, '_', '~' and '-'.
	ErrInvalidName = errors.New("name may only contain letters, digits, '_', '~' and '-'")
)

// Validate checks that name conforms to the naming rules for users,
// organizations and repositories.
func Validate(name string) error {
	if name == "" {
		return ErrMissingName
	}
	if len(name) < minNameLen {
		return ErrNameTooShort
	}
	if len(name) > maxNameLen {
		return ErrNameTooLong
	}
	for i := 0; i < len(name); i++ {
		if !isNameByte(name[i]) {
			return ErrInvalidName
		}
	}
	return nil
}

func isNameByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_', c == '~', c == '-':
		return true
	}
	return false
}

// Fold lowercases the ASCII letters of name. Names are compared and
// stored in folded form.
func Fold(name string) string {
	b := []byte(name)
	changed := false
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
			changed = true
		}
	}
	if !changed {
		return name
	}
	return string(b)
}

// Equal reports whether two names identify the same entity.
func Equal(a, b string) bool {
	return Fold(a) == Fold(b)
}
