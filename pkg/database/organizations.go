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
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"charted.dev/charted/pkg/names"
)

// Organization is a shared namespace root administered by the user that
// created it. Like users, organizations own repositories and a chart
// index under metadata/{name}/index.yaml.
type Organization struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	DisplayName *string   `db:"display_name" json:"display_name"`
	Owner       string    `db:"owner" json:"owner"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

const organizationColumns = "id, name, display_name, owner, created_at, updated_at"

// CreateOrganization registers a new organization owned by the given
// user. Name collisions surface as ErrExists.
func (d *Database) CreateOrganization(ctx context.Context, name, owner string, displayName *string) (*Organization, error) {
	if err := names.Validate(name); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	org := &Organization{
		ID:          NewID(),
		Name:        name,
		DisplayName: displayName,
		Owner:       owner,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := d.db.NamedExecContext(ctx,
		"INSERT INTO organizations (id, name, display_name, owner, created_at, updated_at) "+
			"VALUES (:id, :name, :display_name, :owner, :created_at, :updated_at)",
		org,
	); err != nil {
		var existing Organization
		query := d.db.Rebind("SELECT id FROM organizations WHERE LOWER(name) = ?")
		if gerr := d.db.GetContext(ctx, &existing, query, names.Fold(name)); gerr == nil {
			d.Log("create organization: %q already exists", name)
			return nil, ErrExists
		}
		return nil, errors.Wrapf(err, "unable to create organization %q", name)
	}
	return org, nil
}

// GetOrganization resolves idOrName against the organizations table,
// treating it as an ID when it parses as a ULID and as a name otherwise.
func (d *Database) GetOrganization(ctx context.Context, idOrName string) (*Organization, error) {
	var (
		org   Organization
		query string
		arg   string
	)
	if IsID(idOrName) {
		query = d.db.Rebind("SELECT " + organizationColumns + " FROM organizations WHERE id = ?")
		arg = idOrName
	} else {
		query = d.db.Rebind("SELECT " + organizationColumns + " FROM organizations WHERE LOWER(name) = ?")
		arg = names.Fold(idOrName)
	}
	if err := d.db.GetContext(ctx, &org, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "unable to fetch organization %q", idOrName)
	}
	return &org, nil
}

// CountOrganizations returns the number of organizations, used to enforce
// the single_org setting.
func (d *Database) CountOrganizations(ctx context.Context) (int64, error) {
	var count int64
	if err := d.db.GetContext(ctx, &count, "SELECT COUNT(id) FROM organizations"); err != nil {
		return 0, errors.Wrap(err, "unable to count organizations")
	}
	return count, nil
}

// DeleteOrganization removes the organization and the rows of every
// repository it owns.
func (d *Database) DeleteOrganization(ctx context.Context, id string) error {
	tx, err := d.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "unable to begin transaction")
	}

	statements := []string{
		"DELETE FROM repository_releases WHERE repository IN (SELECT id FROM repositories WHERE owner = ?)",
		"DELETE FROM repositories WHERE owner = ?",
	}
	for _, statement := range statements {
		if _, err := tx.ExecContext(ctx, tx.Rebind(statement), id); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "unable to delete organization %s", id)
		}
	}

	result, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM organizations WHERE id = ?"), id)
	if err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "unable to delete organization %s", id)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		tx.Rollback()
		return ErrNotFound
	}
	return errors.Wrap(tx.Commit(), "unable to commit organization deletion")
}
