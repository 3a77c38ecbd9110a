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
)

// Release marks one immutable SemVer tag inside a repository. The row is
// created after the tarball has been validated and stored, so a row
// implies the artifact exists.
type Release struct {
	ID         string    `db:"id" json:"id"`
	Repository string    `db:"repository" json:"repository"`
	Tag        string    `db:"tag" json:"tag"`
	Title      *string   `db:"title" json:"title"`
	UpdateText *string   `db:"update_text" json:"update_text"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

const releaseColumns = "id, repository, tag, title, update_text, created_at, updated_at"

// CreateRelease records a new tag for the repository ID. A duplicate
// (repository, tag) pair surfaces as ErrExists; the unique index is the
// backstop for concurrent publishes of the same version.
func (d *Database) CreateRelease(ctx context.Context, repository, tag string) (*Release, error) {
	now := time.Now().UTC()
	release := &Release{
		ID:         NewID(),
		Repository: repository,
		Tag:        tag,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if _, err := d.db.NamedExecContext(ctx,
		"INSERT INTO repository_releases (id, repository, tag, title, update_text, created_at, updated_at) "+
			"VALUES (:id, :repository, :tag, :title, :update_text, :created_at, :updated_at)",
		release,
	); err != nil {
		var existing Release
		query := d.db.Rebind("SELECT id FROM repository_releases WHERE repository = ? AND tag = ?")
		if gerr := d.db.GetContext(ctx, &existing, query, repository, tag); gerr == nil {
			d.Log("create release: %s already tagged in repository %s", tag, repository)
			return nil, ErrExists
		}
		return nil, errors.Wrapf(err, "unable to create release %q", tag)
	}
	return release, nil
}

// GetRelease resolves idOrTag within the repository ID, treating it as a
// release ID when it parses as a ULID and as a tag otherwise.
func (d *Database) GetRelease(ctx context.Context, repository, idOrTag string) (*Release, error) {
	var (
		release Release
		query   string
	)
	if IsID(idOrTag) {
		query = d.db.Rebind("SELECT " + releaseColumns + " FROM repository_releases WHERE repository = ? AND id = ?")
	} else {
		query = d.db.Rebind("SELECT " + releaseColumns + " FROM repository_releases WHERE repository = ? AND tag = ?")
	}
	if err := d.db.GetContext(ctx, &release, query, repository, idOrTag); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "unable to fetch release %q", idOrTag)
	}
	return &release, nil
}

// ListReleases returns every release of the repository ID, oldest first.
func (d *Database) ListReleases(ctx context.Context, repository string) ([]*Release, error) {
	var releases []*Release
	query := d.db.Rebind("SELECT " + releaseColumns + " FROM repository_releases WHERE repository = ? ORDER BY id")
	if err := d.db.SelectContext(ctx, &releases, query, repository); err != nil {
		return nil, errors.Wrapf(err, "unable to list releases of repository %s", repository)
	}
	return releases, nil
}

// DeleteRelease removes the release row. The tarball and provenance
// objects are the registry layer's responsibility.
func (d *Database) DeleteRelease(ctx context.Context, id string) error {
	result, err := d.db.ExecContext(ctx, d.db.Rebind("DELETE FROM repository_releases WHERE id = ?"), id)
	if err != nil {
		return errors.Wrapf(err, "unable to delete release %s", id)
	}
	return ensureAffected(result)
}
