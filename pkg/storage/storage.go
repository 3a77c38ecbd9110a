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

// Package storage provides a uniform blob interface over a local
// filesystem, an S3-compatible bucket, or an Azure Blob container.
//
// Paths are forward-slash, POSIX-style and relative; each backend rewrites
// them to whatever form it needs. The store is an I/O primitive: all trust
// and access decisions belong to the caller.
package storage // import "charted.dev/charted/pkg/storage"

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound indicates that no object exists at the requested path.
var ErrNotFound = errors.New("storage: object not found")

// Store is implemented by every storage backend.
//
// Open and Blob report a missing object with ErrNotFound; any other
// condition is an error. Upload is a whole-object PUT and overwrites.
// Delete of a missing object is a no-op.
type Store interface {
	// Name returns the backend name ("filesystem", "s3", "azure").
	Name() string

	// Init prepares the backend for use. The filesystem backend creates
	// its metadata/ and repositories/ directories; object backends verify
	// or create their container lazily.
	Init(ctx context.Context) error

	// Open returns a reader over the object at path.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Blob returns metadata for the object at path.
	Blob(ctx context.Context, path string) (*Blob, error)

	// Blobs lists the immediate children of dir.
	Blobs(ctx context.Context, dir string, opts *ListOptions) ([]*Blob, error)

	// Exists reports whether an object exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Upload writes a whole object at path, overwriting any previous one.
	Upload(ctx context.Context, path string, req *UploadRequest) error

	// Delete removes the object at path.
	Delete(ctx context.Context, path string) error
}

// Blob describes one entry of a listing, either a file or a directory.
type Blob struct {
	// Name is the leaf name, not the full path.
	Name string

	// Path is the store-relative path of the entry.
	Path string

	// Directory marks directory (or common-prefix) entries. Directory
	// entries carry no size, content type or modification time.
	Directory bool

	// Size is the object size in bytes, or -1 when unknown.
	Size int64

	// ContentType is the stored or detected media type, empty when unknown.
	ContentType string

	// LastModified is the modification timestamp, zero when unknown.
	LastModified time.Time
}

// ListOptions filters a Blobs listing.
type ListOptions struct {
	// Prefix keeps only entries whose leaf name starts with it.
	Prefix string

	// Extensions keeps only files with one of the given extensions
	// (".tgz", ".yaml", ...). Directories are unaffected.
	Extensions []string

	// ExcludeDirectories drops directory entries from the listing.
	ExcludeDirectories bool
}

// Matches reports whether a leaf name passes the listing filters.
func (o *ListOptions) Matches(name string, dir bool) bool {
	if o == nil {
		return true
	}
	if dir && o.ExcludeDirectories {
		return false
	}
	if o.Prefix != "" && !hasPrefix(name, o.Prefix) {
		return false
	}
	if !dir && len(o.Extensions) > 0 {
		for _, ext := range o.Extensions {
			if hasSuffix(name, ext) {
				return true
			}
		}
		return false
	}
	return true
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// UploadRequest carries the body and metadata of an Upload call.
type UploadRequest struct {
	// ContentType is the media type stored alongside the object, where
	// the backend supports one.
	ContentType string

	// Data is the object body. It is read exactly once.
	Data io.Reader

	// Metadata is attached to the object on backends that support
	// user-defined metadata. Optional.
	Metadata map[string]string
}

func nopLogger(_ string, _ ...interface{}) {}
