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

// User is a registered account. Users are namespace roots: their charts
// live under repositories/{username} and their index under
// metadata/{username}/index.yaml.
type User struct {
	ID          string    `db:"id" json:"id"`
	Username    string    `db:"username" json:"username"`
	Email       string    `db:"email" json:"-"`
	Password    *string   `db:"password" json:"-"`
	Description *string   `db:"description" json:"description"`
	AvatarHash  *string   `db:"avatar_hash" json:"avatar_hash"`
	Admin       bool      `db:"admin" json:"admin"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

const userColumns = "id, username, email, password, description, avatar_hash, admin, created_at, updated_at"

// UserPatch carries the mutable user fields. A nil pointer leaves the
// column unchanged; a pointer to the empty string clears it where the
// column is nullable.
type UserPatch struct {
	Email       *string
	Password    *string
	Description *string
	AvatarHash  *string
}

// CreateUser registers a new account. The password hash may be empty when
// authentication is delegated to a non-local backend. Name or email
// collisions surface as ErrExists.
func (d *Database) CreateUser(ctx context.Context, username, email, passwordHash string, admin bool) (*User, error) {
	if err := names.Validate(username); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &User{
		ID:        NewID(),
		Username:  username,
		Email:     email,
		Admin:     admin,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if passwordHash != "" {
		user.Password = &passwordHash
	}

	if _, err := d.db.NamedExecContext(ctx,
		"INSERT INTO users (id, username, email, password, description, avatar_hash, admin, created_at, updated_at) "+
			"VALUES (:id, :username, :email, :password, :description, :avatar_hash, :admin, :created_at, :updated_at)",
		user,
	); err != nil {
		var existing User
		query := d.db.Rebind("SELECT id FROM users WHERE LOWER(username) = ? OR email = ?")
		if gerr := d.db.GetContext(ctx, &existing, query, names.Fold(username), email); gerr == nil {
			d.Log("create user: %q already exists", username)
			return nil, ErrExists
		}
		return nil, errors.Wrapf(err, "unable to create user %q", username)
	}
	return user, nil
}

// GetUser fetches a user by ID.
func (d *Database) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	query := d.db.Rebind("SELECT " + userColumns + " FROM users WHERE id = ?")
	if err := d.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "unable to fetch user %s", id)
	}
	return &user, nil
}

// GetUserByName fetches a user by username, compared case-insensitively.
func (d *Database) GetUserByName(ctx context.Context, username string) (*User, error) {
	var user User
	query := d.db.Rebind("SELECT " + userColumns + " FROM users WHERE LOWER(username) = ?")
	if err := d.db.GetContext(ctx, &user, query, names.Fold(username)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "unable to fetch user %q", username)
	}
	return &user, nil
}

// GetUserByEmail fetches a user by the email they registered with.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	query := d.db.Rebind("SELECT " + userColumns + " FROM users WHERE email = ?")
	if err := d.db.GetContext(ctx, &user, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "unable to fetch user by email")
	}
	return &user, nil
}

// CountUsers returns the number of registered accounts, used to enforce
// the single_user setting.
func (d *Database) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := d.db.GetContext(ctx, &count, "SELECT COUNT(id) FROM users"); err != nil {
		return 0, errors.Wrap(err, "unable to count users")
	}
	return count, nil
}

// UpdateUser applies the patch to the stored row.
func (d *Database) UpdateUser(ctx context.Context, id string, patch UserPatch) error {
	builder := d.statementBuilder.
		Update("users").
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id})
	if patch.Email != nil {
		builder = builder.Set("email", *patch.Email)
	}
	if patch.Password != nil {
		builder = builder.Set("password", nullable(*patch.Password))
	}
	if patch.Description != nil {
		builder = builder.Set("description", nullable(*patch.Description))
	}
	if patch.AvatarHash != nil {
		builder = builder.Set("avatar_hash", nullable(*patch.AvatarHash))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return errors.Wrap(err, "unable to build user update")
	}
	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "unable to update user %s", id)
	}
	return ensureAffected(result)
}

// DeleteUser removes the account and every row it owns: repositories and
// their releases, API keys and sessions. Stored artifacts and the chart
// index are the registry layer's responsibility.
func (d *Database) DeleteUser(ctx context.Context, id string) error {
	tx, err := d.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "unable to begin transaction")
	}

	statements := []string{
		"DELETE FROM repository_releases WHERE repository IN (SELECT id FROM repositories WHERE owner = ?)",
		"DELETE FROM repositories WHERE owner = ?",
		"DELETE FROM api_keys WHERE owner = ?",
		"DELETE FROM sessions WHERE account = ?",
	}
	for _, statement := range statements {
		if _, err := tx.ExecContext(ctx, tx.Rebind(statement), id); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "unable to delete user %s", id)
		}
	}

	result, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM users WHERE id = ?"), id)
	if err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "unable to delete user %s", id)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		tx.Rollback()
		return ErrNotFound
	}
	return errors.Wrap(tx.Commit(), "unable to commit user deletion")
}
