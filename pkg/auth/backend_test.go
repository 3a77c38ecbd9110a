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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBackend(t *testing.T) {
	ctx := context.Background()
	hash, err := HashPassword("changeme1")
	require.NoError(t, err)

	backend := Local{}
	assert.Equal(t, "local", backend.Name())
	assert.NoError(t, backend.Authenticate(ctx, "noel", hash, "changeme1"))
	assert.Equal(t, ErrInvalidPassword, backend.Authenticate(ctx, "noel", hash, "wrong"))
	assert.Equal(t, ErrMissingPassword, backend.Authenticate(ctx, "noel", "", "changeme1"))
}

func TestStaticBackend(t *testing.T) {
	ctx := context.Background()
	backend := Static{Users: map[string]string{"noel": "changeme1"}}
	assert.Equal(t, "static", backend.Name())
	assert.NoError(t, backend.Authenticate(ctx, "noel", "", "changeme1"))
	assert.Equal(t, ErrInvalidPassword, backend.Authenticate(ctx, "noel", "", "wrong"))
	assert.Equal(t, ErrInvalidPassword, backend.Authenticate(ctx, "ghost", "", "changeme1"))
}

func TestLdapBackend(t *testing.T) {
	backend := Ldap{}
	assert.Equal(t, "ldap", backend.Name())
	assert.Error(t, backend.Authenticate(context.Background(), "noel", "", "changeme1"))
}
