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

package database

import (
	"context"

	"github.com/pkg/errors"
)

// OwnerKind discriminates which table an Owner row came from.
type OwnerKind string

const (
	// OwnerUser marks an owner backed by the users table.
	OwnerUser OwnerKind = "user"
	// OwnerOrganization marks an owner backed by the organizations table.
	OwnerOrganization OwnerKind = "organization"
)

// Owner is the union view of users and organizations. Routes that take
// an {owner} segment resolve it through this type since both kinds act
// as chart namespace roots.
type Owner struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Kind OwnerKind `json:"kind"`
}

// GetOwner resolves idOrName against users first and organizations
// second. It is treated as an ID when it parses as a ULID and as a name
// otherwise.
func (d *Database) GetOwner(ctx context.Context, idOrName string) (*Owner, error) {
	var (
		user *User
		err  error
	)
	if IsID(idOrName) {
		user, err = d.GetUser(ctx, idOrName)
	} else {
		user, err = d.GetUserByName(ctx, idOrName)
	}
	if err == nil {
		return &Owner{ID: user.ID, Name: user.Username, Kind: OwnerUser}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	org, err := d.GetOrganization(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	return &Owner{ID: org.ID, Name: org.Name, Kind: OwnerOrganization}, nil
}
