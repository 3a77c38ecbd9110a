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

package registry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"charted.dev/charted/pkg/chart"
	"charted.dev/charted/pkg/database"
	"charted.dev/charted/pkg/storage"
)

// indexContentType is what index.yaml objects are stored and served as.
const indexContentType = "text/yaml; charset=utf-8"

// GetIndex reads and parses the owner's chart index. A missing index
// reports storage.ErrNotFound.
func (r *Registry) GetIndex(ctx context.Context, owner string) (*chart.Index, error) {
	rc, err := r.OpenIndex(ctx, owner)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read chart index")
	}
	return chart.LoadIndex(data)
}

// OpenIndex returns the raw index.yaml bytes for streaming to a client.
func (r *Registry) OpenIndex(ctx context.Context, owner string) (io.ReadCloser, error) {
	return r.metadata.Open(ctx, indexPath(owner))
}

// CreateIndex writes an empty chart index for a newly created owner.
func (r *Registry) CreateIndex(ctx context.Context, owner string) error {
	return r.withOwnerLock(ctx, owner, func() error {
		return r.writeIndex(ctx, owner, chart.NewIndex())
	})
}

// DeleteIndex removes the owner's chart index. Deleting an index that
// was never created is a no-op.
func (r *Registry) DeleteIndex(ctx context.Context, owner string) error {
	return r.withOwnerLock(ctx, owner, func() error {
		return r.metadata.Delete(ctx, indexPath(owner))
	})
}

// RefreshIndex recomputes the owner's chart index from the release rows
// and stored tarballs, then writes it back whole. Releases whose
// artifacts cannot be read are skipped with a warning rather than
// failing the refresh.
func (r *Registry) RefreshIndex(ctx context.Context, owner *database.Owner) error {
	return r.withOwnerLock(ctx, owner.ID, func() error {
		index := chart.NewIndex()
		repos, err := r.db.ListRepositories(ctx, owner.ID)
		if err != nil {
			return err
		}
		for _, repo := range repos {
			releases, err := r.db.ListReleases(ctx, repo.ID)
			if err != nil {
				return err
			}
			for _, release := range releases {
				if err := r.addIndexEntry(ctx, index, owner, repo, release); err != nil {
					r.Log("refresh index: skipping %s/%s@%s: %v", owner.Name, repo.Name, release.Tag, err)
				}
			}
		}
		return r.writeIndex(ctx, owner.ID, index)
	})
}

// addIndexEntry appends one release to the index: the tarball's parsed
// Chart.yaml (or a minimal stand-in when it has none), its sha256
// digest, and the URL the tarball is served from.
func (r *Registry) addIndexEntry(ctx context.Context, index *chart.Index, owner *database.Owner, repo *database.Repository, release *database.Release) error {
	rc, err := r.repositories.Open(ctx, tarballPath(owner.ID, repo.ID, release.Tag))
	if err != nil {
		return err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}

	md, err := ExtractMetadata(bytes.NewReader(data))
	if err != nil {
		r.Log("refresh index: %s/%s@%s has no readable Chart.yaml: %v", owner.Name, repo.Name, release.Tag, err)
		md = &chart.Metadata{APIVersion: chart.APIVersionV2, Name: repo.Name, Version: release.Tag}
	}

	sum, err := digest(bytes.NewReader(data))
	if err != nil {
		return err
	}

	filename := fmt.Sprintf("repositories/%s/%s/releases/%s/%s/tarball", owner.Name, repo.Name, release.ID, release.Tag)
	return index.AddEntry(repo.Name, md, filename, r.baseURL, sum)
}

func (r *Registry) writeIndex(ctx context.Context, owner string, index *chart.Index) error {
	data, err := index.Bytes()
	if err != nil {
		return errors.Wrap(err, "unable to encode chart index")
	}
	return r.metadata.Upload(ctx, indexPath(owner), &storage.UploadRequest{
		ContentType: indexContentType,
		Data:        bytes.NewReader(data),
	})
}

// digest returns the hex-encoded sha256 sum of everything in.
func digest(in io.Reader) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, in); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
