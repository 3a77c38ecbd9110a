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

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"charted.dev/charted/pkg/names"
)

// The kinds of chart a repository can hold.
const (
	TypeApplication = "application"
	TypeLibrary     = "library"
	TypeOperator    = "operator"
)

// ValidChartType reports whether t is a known chart type.
func ValidChartType(t string) bool {
	switch t {
	case TypeApplication, TypeLibrary, TypeOperator:
		return true
	}
	return false
}

// Repository is a named chart project under an owner. The private flag
// restricts reads to the owner; the name is unique per owner, compared
// case-insensitively.
type Repository struct {
	ID          string    `db:"id" json:"id"`
	Owner       string    `db:"owner" json:"owner"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description"`
	Private     bool      `db:"private" json:"private"`
	Type        string    `db:"type" json:"type"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

const repositoryColumns = "id, owner, name, description, private, type, created_at, updated_at"

// RepositoryPatch carries the mutable repository fields; nil leaves the
// column unchanged.
type RepositoryPatch struct {
	Description *string
	Private     *bool
	Type        *string
}

// CreateRepository creates a chart project under the given owner ID.
// Name collisions within the owner surface as ErrExists.
func (d *Database) CreateRepository(ctx context.Context, owner, name, chartType string, private bool, description *string) (*Repository, error) {
	if err := names.Validate(name); err != nil {
		return nil, err
	}
	if !ValidChartType(chartType) {
		return nil, errors.Errorf("unknown chart type %q", chartType)
	}

	now := time.Now().UTC()
	repo := &Repository{
		ID:          NewID(),
		Owner:       owner,
		Name:        name,
		Description: description,
		Private:     private,
		Type:        chartType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := d.db.NamedExecContext(ctx,
		"INSERT INTO repositories (id, owner, name, description, private, type, created_at, updated_at) "+
			"VALUES (:id, :owner, :name, :description, :private, :type, :created_at, :updated_at)",
		repo,
	); err != nil {
		var existing Repository
		query := d.db.Rebind("SELECT id FROM repositories WHERE owner = ? AND LOWER(name) = ?")
		if gerr := d.db.GetContext(ctx, &existing, query, owner, names.Fold(name)); gerr == nil {
			d.Log("create repository: %s/%s already exists", owner, name)
			return nil, ErrExists
		}
		return nil, errors.Wrapf(err, "unable to create repository %q", name)
	}
	return repo, nil
}

// GetRepository resolves idOrName under the given owner ID, treating it
// as an ID when it parses as a ULID and as a name otherwise.
func (d *Database) GetRepository(ctx context.Context, owner, idOrName string) (*Repository, error) {
	var (
		repo  Repository
		query string
		arg   string
	)
	if IsID(idOrName) {
		query = d.db.Rebind("SELECT " + repositoryColumns + " FROM repositories WHERE owner = ? AND id = ?")
		arg = idOrName
	} else {
		query = d.db.Rebind("SELECT " + repositoryColumns + " FROM repositories WHERE owner = ? AND LOWER(name) = ?")
		arg = names.Fold(idOrName)
	}
	if err := d.db.GetContext(ctx, &repo, query, owner, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "unable to fetch repository %q", idOrName)
	}
	return &repo, nil
}

// ListRepositories returns every repository under the owner ID, oldest
// first.
func (d *Database) ListRepositories(ctx context.Context, owner string) ([]*Repository, error) {
	var repos []*Repository
	query := d.db.Rebind("SELECT " + repositoryColumns + " FROM repositories WHERE owner = ? ORDER BY id")
	if err := d.db.SelectContext(ctx, &repos, query, owner); err != nil {
		return nil, errors.Wrapf(err, "unable to list repositories for %s", owner)
	}
	return repos, nil
}

// UpdateRepository applies the patch to the stored row.
func (d *Database) UpdateRepository(ctx context.Context, id string, patch RepositoryPatch) error {
	builder := d.statementBuilder.
		Update("repositories").
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id})
	if patch.Description != nil {
		builder = builder.Set("description", nullable(*patch.Description))
	}
	if patch.Private != nil {
		builder = builder.Set("private", *patch.Private)
	}
	if patch.Type != nil {
		if !ValidChartType(*patch.Type) {
			return errors.Errorf("unknown chart type %q", *patch.Type)
		}
		builder = builder.Set("type", *patch.Type)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return errors.Wrap(err, "unable to build repository update")
	}
	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "unable to update repository %s", id)
	}
	return ensureAffected(result)
}

// DeleteRepository removes the repository row and its release rows.
// Artifacts in the object store are the registry layer's responsibility.
func (d *Database) DeleteRepository(ctx context.Context, id string) error {
	tx, err := d.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "unable to begin transaction")
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM repository_releases WHERE repository = ?"), id); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "unable to delete releases of repository %s", id)
	}
	result, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM repositories WHERE id = ?"), id)
	if err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "unable to delete repository %s", id)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		tx.Rollback()
		return ErrNotFound
	}
	return errors.Wrap(tx.Commit(), "unable to commit repository deletion")
}
