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

package storage

import (
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"
)

// FilesystemName is the string name of the filesystem backend.
const FilesystemName = "filesystem"

// Filesystem stores objects as plain files under a root directory.
type Filesystem struct {
	dir string
	Log func(string, ...interface{})
}

var _ Store = (*Filesystem)(nil)

// NewFilesystem returns a filesystem backend rooted at dir. The directory
// is created by Init, not here.
func NewFilesystem(dir string) *Filesystem {
	return &Filesystem{dir: dir, Log: nopLogger}
}

// Name returns the name of the backend.
func (f *Filesystem) Name() string { return FilesystemName }

// Dir returns the root directory objects are stored under.
func (f *Filesystem) Dir() string { return f.dir }

// Init creates the root directory and the well-known metadata/ and
// repositories/ subdirectories.
func (f *Filesystem) Init(_ context.Context) error {
	for _, dir := range []string{f.dir, filepath.Join(f.dir, "metadata"), filepath.Join(f.dir, "repositories")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "unable to create directory %q", dir)
		}
	}
	return nil
}

// resolve rewrites a store path into an absolute path under the root,
// refusing any path that would escape it.
func (f *Filesystem) resolve(p string) (string, error) {
	return securejoin.SecureJoin(f.dir, filepath.FromSlash(p))
}

// Open returns a reader over the file at path.
func (f *Filesystem) Open(_ context.Context, p string) (io.ReadCloser, error) {
	name, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	fp, err := os.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fp, nil
}

// Blob stats the file at path. Content types are derived from the
// extension for well-known chart artifacts and sniffed otherwise.
func (f *Filesystem) Blob(_ context.Context, p string) (*Blob, error) {
	name, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	blob := &Blob{
		Name:         filepath.Base(name),
		Path:         p,
		Directory:    fi.IsDir(),
		Size:         fi.Size(),
		LastModified: fi.ModTime(),
	}
	if fi.IsDir() {
		blob.Size = -1
		return blob, nil
	}
	blob.ContentType = f.contentType(name)
	return blob, nil
}

// Blobs lists the immediate children of dir.
func (f *Filesystem) Blobs(_ context.Context, dir string, opts *ListOptions) ([]*Blob, error) {
	name, err := f.resolve(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	blobs := []*Blob{}
	for _, entry := range entries {
		if !opts.Matches(entry.Name(), entry.IsDir()) {
			continue
		}
		blob := &Blob{
			Name:      entry.Name(),
			Path:      path.Join(dir, entry.Name()),
			Directory: entry.IsDir(),
			Size:      -1,
		}
		if fi, err := entry.Info(); err == nil && !entry.IsDir() {
			blob.Size = fi.Size()
			blob.LastModified = fi.ModTime()
			blob.ContentType = f.contentType(filepath.Join(name, entry.Name()))
		}
		blobs = append(blobs, blob)
	}
	return blobs, nil
}

// Exists reports whether a file or directory exists at path.
func (f *Filesystem) Exists(_ context.Context, p string) (bool, error) {
	name, err := f.resolve(p)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Upload writes the object through a temporary file in the target
// directory and renames it into place, so a cancelled or failed write
// never leaves a partial object under the final name.
func (f *Filesystem) Upload(_ context.Context, p string, req *UploadRequest) error {
	name, err := f.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return errors.Wrapf(err, "unable to create directory for %q", p)
	}
	return atomicWriteFile(name, req.Data, 0o644)
}

// Delete removes the file at path. Deleting a missing object is a no-op.
func (f *Filesystem) Delete(_ context.Context, p string) error {
	name, err := f.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *Filesystem) contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".tgz", ".gz":
		return "application/gzip"
	case ".yaml", ".yml":
		return "text/yaml; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	}
	fp, err := os.Open(name)
	if err != nil {
		return ""
	}
	defer fp.Close()
	buf := make([]byte, 512)
	n, err := fp.Read(buf)
	if err != nil && err != io.EOF {
		return ""
	}
	return http.DetectContentType(buf[:n])
}

// atomicWriteFile writes a file atomically (as atomic as os.Rename
// allows) by staging into a temporary file next to the target.
func atomicWriteFile(filename string, reader io.Reader, mode os.FileMode) error {
	tempFile, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	if _, err := io.Copy(tempFile, reader); err != nil {
		tempFile.Close()
		os.Remove(tempName)
		return err
	}

	if err := tempFile.Close(); err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Chmod(tempName, mode); err != nil {
		os.Remove(tempName)
		return err
	}

	return os.Rename(tempName, filename)
}
