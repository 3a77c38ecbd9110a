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

// Package auth carries the permission scopes API keys are limited to and
// the backends that verify account passwords.
package auth // import "charted.dev/charted/pkg/auth"

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

// Scope is a single named permission bit. Scope values are consecutive
// powers of two; the bit layout is part of the wire and database format
// and must never be reordered.
type Scope uint64

const (
	UserAccess Scope = 1 << iota
	UserUpdate
	UserDelete
	UserAvatarUpdate
	UserSessionsList
	RepoAccess
	RepoCreate
	RepoDelete
	RepoUpdate
	RepoIconUpdate
	RepoReleaseCreate
	RepoReleaseUpdate
	RepoReleaseDelete
	RepoMembersList
	RepoMemberUpdate
	RepoMemberKick
	RepoMemberInvites
	RepoWebhookList
	RepoWebhookCreate
	RepoWebhookUpdate
	RepoWebhookDelete
	RepoWebhookEventList
	RepoWebhookEventDelete
	APIKeyView
	APIKeyCreate
	APIKeyUpdate
	APIKeyDelete
	OrgAccess
	OrgCreate
	OrgUpdate
	OrgDelete
	OrgMembersList
	OrgMemberUpdate
	OrgMemberKick
	OrgMemberInvites
	OrgWebhookList
	OrgWebhookCreate
	OrgWebhookUpdate
	OrgWebhookDelete
	OrgWebhookEventList
	OrgWebhookEventDelete
	AdminStats
	AdminUserCreate
	AdminUserDelete
)

// MaxScope is the highest assigned scope bit.
const MaxScope = AdminUserDelete

var scopeNames = map[Scope]string{
	UserAccess:             "user:access",
	UserUpdate:             "user:update",
	UserDelete:             "user:delete",
	UserAvatarUpdate:       "user:avatar:update",
	UserSessionsList:       "user:sessions:list",
	RepoAccess:             "repo:access",
	RepoCreate:             "repo:create",
	RepoDelete:             "repo:delete",
	RepoUpdate:             "repo:update",
	RepoIconUpdate:         "repo:icon:update",
	RepoReleaseCreate:      "repo:releases:create",
	RepoReleaseUpdate:      "repo:releases:update",
	RepoReleaseDelete:      "repo:releases:delete",
	RepoMembersList:        "repo:members:list",
	RepoMemberUpdate:       "repo:members:update",
	RepoMemberKick:         "repo:members:kick",
	RepoMemberInvites:      "repo:members:invites",
	RepoWebhookList:        "repo:webhooks:list",
	RepoWebhookCreate:      "repo:webhooks:create",
	RepoWebhookUpdate:      "repo:webhooks:update",
	RepoWebhookDelete:      "repo:webhooks:delete",
	RepoWebhookEventList:   "repo:webhooks:events:list",
	RepoWebhookEventDelete: "repo:webhooks:events:delete",
	APIKeyView:             "apikeys:view",
	APIKeyCreate:           "apikeys:create",
	APIKeyUpdate:           "apikeys:update",
	APIKeyDelete:           "apikeys:delete",
	OrgAccess:              "org:access",
	OrgCreate:              "org:create",
	OrgUpdate:              "org:update",
	OrgDelete:              "org:delete",
	OrgMembersList:         "org:members:list",
	OrgMemberUpdate:        "org:members:update",
	OrgMemberKick:          "org:members:kick",
	OrgMemberInvites:       "org:members:invites",
	OrgWebhookList:         "org:webhooks:list",
	OrgWebhookCreate:       "org:webhooks:create",
	OrgWebhookUpdate:       "org:webhooks:update",
	OrgWebhookDelete:       "org:webhooks:delete",
	OrgWebhookEventList:    "org:webhooks:events:list",
	OrgWebhookEventDelete:  "org:webhooks:events:delete",
	AdminStats:             "admin:stats",
	AdminUserCreate:        "admin:users:create",
	AdminUserDelete:        "admin:users:delete",
}

var scopesByName = func() map[string]Scope {
	m := make(map[string]Scope, len(scopeNames))
	for scope, name := range scopeNames {
		m[name] = scope
	}
	return m
}()

// String returns the scope's wire name.
func (s Scope) String() string {
	if name, ok := scopeNames[s]; ok {
		return name
	}
	return "unknown:" + strconv.FormatUint(uint64(s), 10)
}

// ParseScope resolves a wire name to its scope bit.
func ParseScope(name string) (Scope, error) {
	if scope, ok := scopesByName[name]; ok {
		return scope, nil
	}
	return 0, errors.Errorf("unknown scope %q", name)
}

// MarshalJSON renders the scope as its wire name.
func (s Scope) MarshalJSON() ([]byte, error) {
	if _, ok := scopeNames[s]; !ok {
		return nil, errors.Errorf("unknown scope value %d", uint64(s))
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either the wire name or the numeric bit value of
// a defined scope. Any other number is out of range.
func (s *Scope) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		scope, err := ParseScope(name)
		if err != nil {
			return err
		}
		*s = scope
		return nil
	}

	var value uint64
	if err := json.Unmarshal(data, &value); err != nil {
		return errors.New("scopes must be a name or a number")
	}
	if _, ok := scopeNames[Scope(value)]; !ok {
		return errors.Errorf("scope value %d is out of range [1, %d]", value, uint64(MaxScope))
	}
	*s = Scope(value)
	return nil
}

// Scopes is a bitfield of zero or more scopes.
type Scopes uint64

// NewScopes builds a bitfield out of the given scopes.
func NewScopes(scopes ...Scope) Scopes {
	var s Scopes
	s.Add(scopes...)
	return s
}

// Has reports whether every bit of scope is present.
func (s Scopes) Has(scope Scope) bool {
	return uint64(s)&uint64(scope) == uint64(scope)
}

// Add sets the given scope bits.
func (s *Scopes) Add(scopes ...Scope) {
	for _, scope := range scopes {
		*s |= Scopes(scope)
	}
}

// Missing returns the first bit of required that is not present.
func (s Scopes) Missing(required Scopes) (Scope, bool) {
	for i := 0; i < 64; i++ {
		bit := Scope(1) << i
		if bit > MaxScope {
			break
		}
		if required.Has(bit) && !s.Has(bit) {
			return bit, true
		}
	}
	return 0, false
}

// List returns the scopes present in the bitfield, lowest bit first.
func (s Scopes) List() []Scope {
	scopes := []Scope{}
	for i := 0; i < 64; i++ {
		bit := Scope(1) << i
		if bit > MaxScope {
			break
		}
		if s.Has(bit) {
			scopes = append(scopes, bit)
		}
	}
	return scopes
}
