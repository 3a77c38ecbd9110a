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
	"context"
	"io"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"

	"charted.dev/charted/pkg/storage"
)

var (
	// ErrInvalidVersion indicates a version that is not strict SemVer 2.
	ErrInvalidVersion = errors.New("registry: version is not valid semver")

	// ErrPrereleaseNotAllowed indicates a pre-release version requested
	// without opting in to pre-releases.
	ErrPrereleaseNotAllowed = errors.New("registry: pre-release versions require prereleases=true")
)

// IsLatest reports whether version is one of the symbolic names that
// resolve to the newest released version.
func IsLatest(version string) bool {
	switch strings.ToLower(version) {
	case "latest", "current":
		return true
	}
	return false
}

// SortVersions lists the released versions of a repository, newest
// first, derived from the stored tarballs. Pre-release versions are
// dropped unless prereleases is set; objects whose names do not parse
// as strict SemVer are skipped with a warning.
func (r *Registry) SortVersions(ctx context.Context, owner, repo string, prereleases bool) ([]*semver.Version, error) {
	blobs, err := r.repositories.Blobs(ctx, tarballsDir(owner, repo), &storage.ListOptions{
		Extensions:         []string{tarballSuffix},
		ExcludeDirectories: true,
	})
	if err != nil {
		// A repository with no uploads has no tarballs directory yet.
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	versions := make([]*semver.Version, 0, len(blobs))
	for _, blob := range blobs {
		if strings.HasSuffix(blob.Name, provenanceSuffix) {
			continue
		}
		version, err := semver.StrictNewVersion(strings.TrimSuffix(blob.Name, tarballSuffix))
		if err != nil {
			r.Log("sort versions: skipping %q in %s/%s: %v", blob.Name, owner, repo, err)
			continue
		}
		if !prereleases && version.Prerelease() != "" {
			continue
		}
		versions = append(versions, version)
	}
	sort.Sort(sort.Reverse(semver.Collection(versions)))
	return versions, nil
}

// resolveVersion maps a concrete or symbolic version to the stored tag
// it names. Symbolic versions resolve against the sorted catalog; a
// repository with nothing released reports storage.ErrNotFound.
func (r *Registry) resolveVersion(ctx context.Context, owner, repo, version string, prereleases bool) (string, error) {
	if IsLatest(version) {
		versions, err := r.SortVersions(ctx, owner, repo, prereleases)
		if err != nil {
			return "", err
		}
		if len(versions) == 0 {
			return "", storage.ErrNotFound
		}
		return versions[0].Original(), nil
	}

	parsed, err := semver.StrictNewVersion(version)
	if err != nil {
		return "", errors.Wrap(ErrInvalidVersion, err.Error())
	}
	if parsed.Prerelease() != "" && !prereleases {
		return "", ErrPrereleaseNotAllowed
	}
	return version, nil
}

// GetTarball resolves version for the repository and opens the stored
// chart bytes, returning the concrete version alongside.
func (r *Registry) GetTarball(ctx context.Context, owner, repo, version string, prereleases bool) (io.ReadCloser, string, error) {
	resolved, err := r.resolveVersion(ctx, owner, repo, version, prereleases)
	if err != nil {
		return nil, "", err
	}
	rc, err := r.repositories.Open(ctx, tarballPath(owner, repo, resolved))
	if err != nil {
		return nil, "", err
	}
	return rc, resolved, nil
}

// GetProvenance resolves version and opens the stored provenance file,
// returning the concrete version alongside.
func (r *Registry) GetProvenance(ctx context.Context, owner, repo, version string, prereleases bool) (io.ReadCloser, string, error) {
	resolved, err := r.resolveVersion(ctx, owner, repo, version, prereleases)
	if err != nil {
		return nil, "", err
	}
	rc, err := r.repositories.Open(ctx, provenancePath(owner, repo, resolved))
	if err != nil {
		return nil, "", err
	}
	return rc, resolved, nil
}
