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

// Package config loads the server configuration from a TOML file and the
// CHARTED_* environment, and turns the storage, database and session
// sections into live backends.
package config // import "charted.dev/charted/pkg/config"

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"charted.dev/charted/pkg/auth"
	"charted.dev/charted/pkg/database"
	"charted.dev/charted/pkg/storage"
)

// Backend selector values for the storage section.
const (
	StorageFilesystem = "filesystem"
	StorageS3         = "s3"
	StorageAzure      = "azure"
)

// Backend selector values for the database section.
const (
	DatabasePostgreSQL = "postgresql"
	DatabaseSQLite     = "sqlite"
)

// Backend selector values for the sessions section.
const (
	SessionsLocal  = "local"
	SessionsStatic = "static"
	SessionsLdap   = "ldap"
)

// Config is the full server configuration.
type Config struct {
	// JWTSecretKey signs every session token with HS512. Required;
	// rotating it invalidates all outstanding sessions.
	JWTSecretKey string `toml:"jwt_secret_key"`

	// Registrations controls whether PUT /users is enabled.
	Registrations bool `toml:"registrations"`

	// SingleUser restricts the instance to one registered user.
	SingleUser bool `toml:"single_user"`

	// SingleOrg restricts the instance to one organization.
	SingleOrg bool `toml:"single_org"`

	// BaseURL is the externally reachable server URL, used to build the
	// tarball URLs the chart index advertises.
	BaseURL string `toml:"base_url"`

	// LogLevel selects the logger: "debug", "info" or "none".
	LogLevel string `toml:"log_level"`

	Server   Server   `toml:"server"`
	Sessions Sessions `toml:"sessions"`
	Storage  Storage  `toml:"storage"`
	Database Database `toml:"database"`
	Janitor  Janitor  `toml:"janitor"`
}

// Server configures the HTTP listener.
type Server struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns the host:port string the server binds to.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Sessions configures how passwords are verified.
type Sessions struct {
	// Backend selects the password authority: "local", "static" or
	// "ldap".
	Backend string `toml:"backend"`

	// EnableBasicAuth permits the Basic authorization scheme.
	EnableBasicAuth bool `toml:"enable_basic_auth"`

	// Static is the user -> password table of the static backend.
	Static map[string]string `toml:"static"`
}

// Storage selects and configures the object-store backend.
type Storage struct {
	Backend string `toml:"backend"`

	Filesystem FilesystemStorage `toml:"filesystem"`
	S3         S3Storage         `toml:"s3"`
	Azure      AzureStorage      `toml:"azure"`
}

// FilesystemStorage configures the local filesystem backend.
type FilesystemStorage struct {
	Directory string `toml:"directory"`
}

// S3Storage configures the S3-compatible backend.
type S3Storage struct {
	Endpoint               string `toml:"endpoint"`
	Region                 string `toml:"region"`
	AccessKeyID            string `toml:"access_key_id"`
	SecretAccessKey        string `toml:"secret_access_key"`
	Bucket                 string `toml:"bucket"`
	EnforcePathAccessStyle bool   `toml:"enforce_path_access_style"`
}

// AzureStorage configures the Azure Blob backend.
type AzureStorage struct {
	AccountName string `toml:"account_name"`
	AccountKey  string `toml:"account_key"`
	Container   string `toml:"container"`
}

// Database selects and configures the relational backend.
type Database struct {
	Backend string `toml:"backend"`

	PostgreSQL PostgreSQLDatabase `toml:"postgresql"`
	SQLite     SQLiteDatabase     `toml:"sqlite"`
}

// PostgreSQLDatabase are the lib/pq connection parameters.
type PostgreSQLDatabase struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"ssl_mode"`
}

// SQLiteDatabase configures the embedded SQLite backend.
type SQLiteDatabase struct {
	Path string `toml:"path"`
}

// Janitor configures the background sweeps.
type Janitor struct {
	// Enabled starts the janitor with the server.
	Enabled bool `toml:"enabled"`

	// Schedule is a cron expression ("@hourly", "30 3 * * *", ...).
	Schedule string `toml:"schedule"`
}

// Default returns the configuration a bare instance starts with: local
// storage and SQLite under ./data, listening on :3651.
func Default() *Config {
	return &Config{
		Registrations: true,
		BaseURL:       "http://localhost:3651",
		LogLevel:      "info",
		Server:        Server{Host: "0.0.0.0", Port: 3651},
		Sessions:      Sessions{Backend: SessionsLocal},
		Storage: Storage{
			Backend:    StorageFilesystem,
			Filesystem: FilesystemStorage{Directory: "./data/storage"},
		},
		Database: Database{
			Backend:    DatabaseSQLite,
			SQLite:     SQLiteDatabase{Path: "./data/charted.db"},
			PostgreSQL: PostgreSQLDatabase{Host: "localhost", Port: 5432, SSLMode: "disable"},
		},
		Janitor: Janitor{Enabled: true, Schedule: "@hourly"},
	}
}

// Load reads the TOML file at path on top of the defaults, then applies
// the CHARTED_* environment overrides. An empty path skips the file and
// loads defaults plus environment only.
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to read configuration file %q", path)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, errors.Wrapf(err, "unable to parse configuration file %q", path)
		}
	}
	config.applyEnvironment()
	return config, nil
}

// applyEnvironment folds CHARTED_* variables over the loaded values, so
// secrets can stay out of the file.
func (c *Config) applyEnvironment() {
	c.JWTSecretKey = envOr("CHARTED_JWT_SECRET_KEY", c.JWTSecretKey)
	c.BaseURL = envOr("CHARTED_BASE_URL", c.BaseURL)
	c.LogLevel = envOr("CHARTED_LOG_LEVEL", c.LogLevel)
	c.Registrations = envBoolOr("CHARTED_REGISTRATIONS", c.Registrations)
	c.SingleUser = envBoolOr("CHARTED_SINGLE_USER", c.SingleUser)
	c.SingleOrg = envBoolOr("CHARTED_SINGLE_ORG", c.SingleOrg)

	c.Server.Host = envOr("CHARTED_SERVER_HOST", c.Server.Host)
	c.Server.Port = envIntOr("CHARTED_SERVER_PORT", c.Server.Port)

	c.Sessions.Backend = envOr("CHARTED_SESSIONS_BACKEND", c.Sessions.Backend)
	c.Sessions.EnableBasicAuth = envBoolOr("CHARTED_SESSIONS_ENABLE_BASIC_AUTH", c.Sessions.EnableBasicAuth)

	c.Storage.Backend = envOr("CHARTED_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Filesystem.Directory = envOr("CHARTED_STORAGE_FILESYSTEM_DIRECTORY", c.Storage.Filesystem.Directory)
	c.Storage.S3.Endpoint = envOr("CHARTED_STORAGE_S3_ENDPOINT", c.Storage.S3.Endpoint)
	c.Storage.S3.Region = envOr("CHARTED_STORAGE_S3_REGION", c.Storage.S3.Region)
	c.Storage.S3.AccessKeyID = envOr("CHARTED_STORAGE_S3_ACCESS_KEY_ID", c.Storage.S3.AccessKeyID)
	c.Storage.S3.SecretAccessKey = envOr("CHARTED_STORAGE_S3_SECRET_ACCESS_KEY", c.Storage.S3.SecretAccessKey)
	c.Storage.S3.Bucket = envOr("CHARTED_STORAGE_S3_BUCKET", c.Storage.S3.Bucket)
	c.Storage.Azure.AccountName = envOr("CHARTED_STORAGE_AZURE_ACCOUNT_NAME", c.Storage.Azure.AccountName)
	c.Storage.Azure.AccountKey = envOr("CHARTED_STORAGE_AZURE_ACCOUNT_KEY", c.Storage.Azure.AccountKey)
	c.Storage.Azure.Container = envOr("CHARTED_STORAGE_AZURE_CONTAINER", c.Storage.Azure.Container)

	c.Database.Backend = envOr("CHARTED_DATABASE_BACKEND", c.Database.Backend)
	c.Database.PostgreSQL.Host = envOr("CHARTED_DATABASE_POSTGRESQL_HOST", c.Database.PostgreSQL.Host)
	c.Database.PostgreSQL.Port = envIntOr("CHARTED_DATABASE_POSTGRESQL_PORT", c.Database.PostgreSQL.Port)
	c.Database.PostgreSQL.Username = envOr("CHARTED_DATABASE_POSTGRESQL_USERNAME", c.Database.PostgreSQL.Username)
	c.Database.PostgreSQL.Password = envOr("CHARTED_DATABASE_POSTGRESQL_PASSWORD", c.Database.PostgreSQL.Password)
	c.Database.PostgreSQL.Database = envOr("CHARTED_DATABASE_POSTGRESQL_DATABASE", c.Database.PostgreSQL.Database)
	c.Database.SQLite.Path = envOr("CHARTED_DATABASE_SQLITE_PATH", c.Database.SQLite.Path)

	c.Janitor.Schedule = envOr("CHARTED_JANITOR_SCHEDULE", c.Janitor.Schedule)
	c.Janitor.Enabled = envBoolOr("CHARTED_JANITOR_ENABLED", c.Janitor.Enabled)
}

// Validate checks the configuration as a whole and reports every problem
// at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.JWTSecretKey == "" {
		result = multierror.Append(result, errors.New("jwt_secret_key is required"))
	}
	if c.BaseURL == "" {
		result = multierror.Append(result, errors.New("base_url is required"))
	} else if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		result = multierror.Append(result, errors.Errorf("base_url %q is not an absolute URL", c.BaseURL))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		result = multierror.Append(result, errors.Errorf("server.port %d is out of range", c.Server.Port))
	}

	switch c.Sessions.Backend {
	case SessionsLocal, SessionsLdap:
	case SessionsStatic:
		if len(c.Sessions.Static) == 0 {
			result = multierror.Append(result, errors.New("sessions.static needs at least one user"))
		}
	default:
		result = multierror.Append(result, errors.Errorf("unknown sessions backend %q", c.Sessions.Backend))
	}

	switch c.Storage.Backend {
	case StorageFilesystem:
		if c.Storage.Filesystem.Directory == "" {
			result = multierror.Append(result, errors.New("storage.filesystem.directory is required"))
		}
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			result = multierror.Append(result, errors.New("storage.s3.bucket is required"))
		}
	case StorageAzure:
		if c.Storage.Azure.AccountName == "" || c.Storage.Azure.AccountKey == "" {
			result = multierror.Append(result, errors.New("storage.azure needs account_name and account_key"))
		}
		if c.Storage.Azure.Container == "" {
			result = multierror.Append(result, errors.New("storage.azure.container is required"))
		}
	default:
		result = multierror.Append(result, errors.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	switch c.Database.Backend {
	case DatabasePostgreSQL:
		if c.Database.PostgreSQL.Database == "" {
			result = multierror.Append(result, errors.New("database.postgresql.database is required"))
		}
	case DatabaseSQLite:
		if c.Database.SQLite.Path == "" {
			result = multierror.Append(result, errors.New("database.sqlite.path is required"))
		}
	default:
		result = multierror.Append(result, errors.Errorf("unknown database backend %q", c.Database.Backend))
	}

	if c.Janitor.Enabled && c.Janitor.Schedule == "" {
		result = multierror.Append(result, errors.New("janitor.schedule is required when the janitor is enabled"))
	}

	return result.ErrorOrNil()
}

// OpenStore builds the configured storage backend. The backend is not
// initialized; callers run Init once connectivity matters.
func (c *Config) OpenStore(ctx context.Context) (storage.Store, error) {
	switch c.Storage.Backend {
	case StorageFilesystem:
		return storage.NewFilesystem(c.Storage.Filesystem.Directory), nil
	case StorageS3:
		return storage.NewS3(ctx, storage.S3Options{
			Endpoint:               c.Storage.S3.Endpoint,
			Region:                 c.Storage.S3.Region,
			AccessKeyID:            c.Storage.S3.AccessKeyID,
			SecretAccessKey:        c.Storage.S3.SecretAccessKey,
			Bucket:                 c.Storage.S3.Bucket,
			EnforcePathAccessStyle: c.Storage.S3.EnforcePathAccessStyle,
		})
	case StorageAzure:
		return storage.NewAzure(storage.AzureOptions{
			AccountName: c.Storage.Azure.AccountName,
			AccountKey:  c.Storage.Azure.AccountKey,
			Container:   c.Storage.Azure.Container,
		})
	}
	return nil, errors.Errorf("unknown storage backend %q", c.Storage.Backend)
}

// ConnectDatabase opens the configured relational backend and applies
// pending migrations.
func (c *Config) ConnectDatabase(logger func(string, ...interface{})) (*database.Database, error) {
	switch c.Database.Backend {
	case DatabasePostgreSQL:
		pg := c.Database.PostgreSQL
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			pg.Host, pg.Port, pg.Username, pg.Password, pg.Database, pg.SSLMode)
		return database.Connect(database.DialectPostgres, dsn, logger)
	case DatabaseSQLite:
		return database.Connect(database.DialectSQLite, c.Database.SQLite.Path, logger)
	}
	return nil, errors.Errorf("unknown database backend %q", c.Database.Backend)
}

// AuthBackend builds the configured password authority.
func (c *Config) AuthBackend() (auth.Backend, error) {
	switch c.Sessions.Backend {
	case SessionsLocal:
		return auth.Local{}, nil
	case SessionsStatic:
		return auth.Static{Users: c.Sessions.Static}, nil
	case SessionsLdap:
		return auth.Ldap{}, nil
	}
	return nil, errors.Errorf("unknown sessions backend %q", c.Sessions.Backend)
}

func envOr(name, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}

func envBoolOr(name string, def bool) bool {
	if v, ok := os.LookupEnv(name); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envIntOr(name string, def int) int {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
