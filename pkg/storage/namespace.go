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
	"path"
)

// Namespace is a view of a Store that prefixes every path with a fixed
// namespace. Namespaces are cheap wrappers and are never cached; create
// them on demand.
type Namespace struct {
	store  Store
	prefix string
}

var _ Store = (*Namespace)(nil)

// NewNamespace returns a view of store rooted at prefix. Nested
// namespaces compose: NewNamespace(NewNamespace(s, "a"), "b") is rooted
// at "a/b".
func NewNamespace(store Store, prefix string) *Namespace {
	return &Namespace{store: store, prefix: path.Clean(prefix)}
}

func (n *Namespace) join(p string) string {
	if p == "" || p == "." {
		return n.prefix
	}
	return path.Join(n.prefix, p)
}

// Prefix returns the namespace root within the underlying store.
func (n *Namespace) Prefix() string { return n.prefix }

// Name returns the underlying backend name.
func (n *Namespace) Name() string { return n.store.Name() }

// Init initializes the underlying backend.
func (n *Namespace) Init(ctx context.Context) error { return n.store.Init(ctx) }

// Open opens prefix/path in the underlying store.
func (n *Namespace) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	return n.store.Open(ctx, n.join(p))
}

// Blob stats prefix/path in the underlying store.
func (n *Namespace) Blob(ctx context.Context, p string) (*Blob, error) {
	return n.store.Blob(ctx, n.join(p))
}

// Blobs lists prefix/dir in the underlying store.
func (n *Namespace) Blobs(ctx context.Context, dir string, opts *ListOptions) ([]*Blob, error) {
	return n.store.Blobs(ctx, n.join(dir), opts)
}

// Exists reports whether prefix/path exists in the underlying store.
func (n *Namespace) Exists(ctx context.Context, p string) (bool, error) {
	return n.store.Exists(ctx, n.join(p))
}

// Upload writes prefix/path in the underlying store.
func (n *Namespace) Upload(ctx context.Context, p string, req *UploadRequest) error {
	return n.store.Upload(ctx, n.join(p), req)
}

// Delete removes prefix/path from the underlying store.
func (n *Namespace) Delete(ctx context.Context, p string) error {
	return n.store.Delete(ctx, n.join(p))
}
