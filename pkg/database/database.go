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

// Package database holds the relational state of the registry: users,
// organizations, repositories, releases, API keys and sessions. It speaks
// to PostgreSQL or SQLite through sqlx and applies its schema with
// embedded migrations on startup.
package database // import "charted.dev/charted/pkg/database"

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"

	// Import the drivers for the dialects in supportedDialects.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DialectPostgres selects the PostgreSQL driver.
	DialectPostgres = "postgres"
	// DialectSQLite selects the embedded SQLite driver.
	DialectSQLite = "sqlite3"
)

var supportedDialects = map[string]sq.PlaceholderFormat{
	DialectPostgres: sq.Dollar,
	DialectSQLite:   sq.Question,
}

var (
	// ErrNotFound indicates that no row matched the lookup.
	ErrNotFound = errors.New("database: entity not found")

	// ErrExists indicates that an insert collided with an existing row.
	ErrExists = errors.New("database: entity already exists")
)

// Database wraps a sqlx connection to one of the supported dialects.
type Database struct {
	db               *sqlx.DB
	dialect          string
	statementBuilder sq.StatementBuilderType

	Log func(string, ...interface{})
}

// Connect opens a connection for the given dialect, runs the pending
// schema migrations and returns the ready database. The logger may be
// nil, in which case log output is discarded.
func Connect(dialect, connectionString string, logger func(string, ...interface{})) (*Database, error) {
	placeholder, ok := supportedDialects[dialect]
	if !ok {
		return nil, errors.Errorf("unsupported database dialect %q", dialect)
	}
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}

	db, err := sqlx.Connect(dialect, connectionString)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open database connection")
	}

	d := &Database{
		db:               db,
		dialect:          dialect,
		statementBuilder: sq.StatementBuilder.PlaceholderFormat(placeholder),
		Log:              logger,
	}
	if err := d.ensureDBSetup(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "unable to apply database migrations")
	}
	return d, nil
}

// Ping verifies the connection is still alive.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) ensureDBSetup() error {
	migrations := &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "init",
				Up: []string{
					`
					CREATE TABLE users (
						id          TEXT PRIMARY KEY,
						username    TEXT NOT NULL,
						email       TEXT NOT NULL UNIQUE,
						password    TEXT,
						description TEXT,
						avatar_hash TEXT,
						admin       BOOLEAN NOT NULL DEFAULT FALSE,
						created_at  TIMESTAMP NOT NULL,
						updated_at  TIMESTAMP NOT NULL
					);
					CREATE UNIQUE INDEX users_username_idx ON users (LOWER(username));

					CREATE TABLE organizations (
						id           TEXT PRIMARY KEY,
						name         TEXT NOT NULL,
						display_name TEXT,
						owner        TEXT NOT NULL REFERENCES users (id),
						created_at   TIMESTAMP NOT NULL,
						updated_at   TIMESTAMP NOT NULL
					);
					CREATE UNIQUE INDEX organizations_name_idx ON organizations (LOWER(name));

					CREATE TABLE repositories (
						id          TEXT PRIMARY KEY,
						owner       TEXT NOT NULL,
						name        TEXT NOT NULL,
						description TEXT,
						private     BOOLEAN NOT NULL DEFAULT FALSE,
						type        TEXT NOT NULL DEFAULT 'application',
						created_at  TIMESTAMP NOT NULL,
						updated_at  TIMESTAMP NOT NULL
					);
					CREATE UNIQUE INDEX repositories_owner_name_idx ON repositories (owner, LOWER(name));

					CREATE TABLE repository_releases (
						id          TEXT PRIMARY KEY,
						repository  TEXT NOT NULL REFERENCES repositories (id) ON DELETE CASCADE,
						tag         TEXT NOT NULL,
						title       TEXT,
						update_text TEXT,
						created_at  TIMESTAMP NOT NULL,
						updated_at  TIMESTAMP NOT NULL
					);
					CREATE UNIQUE INDEX repository_releases_tag_idx ON repository_releases (repository, tag);

					CREATE TABLE api_keys (
						id          TEXT PRIMARY KEY,
						owner       TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
						name        TEXT NOT NULL,
						description TEXT,
						token       TEXT NOT NULL UNIQUE,
						scopes      BIGINT NOT NULL DEFAULT 0,
						expires_at  TIMESTAMP,
						created_at  TIMESTAMP NOT NULL,
						updated_at  TIMESTAMP NOT NULL
					);
					CREATE UNIQUE INDEX api_keys_owner_name_idx ON api_keys (owner, LOWER(name));

					CREATE TABLE sessions (
						id            TEXT PRIMARY KEY,
						account       TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
						access_token  TEXT NOT NULL,
						refresh_token TEXT NOT NULL,
						expires_at    TIMESTAMP NOT NULL,
						created_at    TIMESTAMP NOT NULL
					);
					CREATE INDEX sessions_account_idx ON sessions (account);
					`,
				},
				Down: []string{
					`
					DROP TABLE sessions;
					DROP TABLE api_keys;
					DROP TABLE repository_releases;
					DROP TABLE repositories;
					DROP TABLE organizations;
					DROP TABLE users;
					`,
				},
			},
		},
	}

	_, err := migrate.Exec(d.db.DB, d.dialect, migrations, migrate.Up)
	return err
}

// NewID mints a ULID. Lexicographic order of IDs follows creation order,
// so ORDER BY id sorts oldest first.
func NewID() string {
	return ulid.Make().String()
}

// IsID reports whether s parses as a canonical ULID.
func IsID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// nullable maps the empty string to a SQL NULL, used when a PATCH wants
// to clear a column.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// ensureAffected translates "no rows touched" into ErrNotFound.
func ensureAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
