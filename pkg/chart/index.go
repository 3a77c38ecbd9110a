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

package chart

import (
	"net/url"
	"path"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// IndexPath is the object name of an owner's chart index.
const IndexPath = "index.yaml"

var (
	// ErrNoAPIVersion indicates that an index document has no apiVersion field.
	ErrNoAPIVersion = errors.New("no API version specified")

	// ErrUnknownAPIVersion indicates that an index document carries an
	// apiVersion this server cannot read.
	ErrUnknownAPIVersion = errors.New("unknown API version")
)

// Index is the index.yaml document Helm clients consume to discover the
// charts an owner serves.
type Index struct {
	APIVersion string                `json:"apiVersion"`
	Generated  time.Time             `json:"generated"`
	Entries    map[string]IndexSpecs `json:"entries"`
}

// IndexSpec is one released chart version inside an Index: the chart's
// metadata flattened together with where to fetch it.
type IndexSpec struct {
	*Metadata
	URLs    []string  `json:"urls"`
	Created time.Time `json:"created,omitempty"`
	Removed bool      `json:"removed,omitempty"`
	Digest  string    `json:"digest,omitempty"`
}

// IndexSpecs is a list of versioned chart references, sortable by
// version.
type IndexSpecs []*IndexSpec

// Len returns the length.
func (s IndexSpecs) Len() int { return len(s) }

// Swap swaps the position of two items in the versions slice.
func (s IndexSpecs) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// Less returns true if the version of entry a is less than the version of entry b.
func (s IndexSpecs) Less(a, b int) bool {
	// Failed parse pushes to the back.
	i, err := semver.NewVersion(s[a].Version)
	if err != nil {
		return true
	}
	j, err := semver.NewVersion(s[b].Version)
	if err != nil {
		return false
	}
	return i.LessThan(j)
}

// NewIndex returns an empty V1 index stamped with the current time.
func NewIndex() *Index {
	return &Index{
		APIVersion: APIVersionV1,
		Generated:  time.Now(),
		Entries:    map[string]IndexSpecs{},
	}
}

// LoadIndex parses the bytes of an index.yaml document.
func LoadIndex(data []byte) (*Index, error) {
	i := new(Index)
	if err := yaml.Unmarshal(data, i); err != nil {
		return nil, err
	}
	if i.APIVersion == "" {
		return nil, ErrNoAPIVersion
	}
	if i.APIVersion != APIVersionV1 {
		return nil, errors.Wrap(ErrUnknownAPIVersion, i.APIVersion)
	}
	if i.Entries == nil {
		i.Entries = map[string]IndexSpecs{}
	}
	i.SortEntries()
	return i, nil
}

// Add appends the metadata of one released chart to the index under the
// chart's own name. The chart's URL is baseURL joined with filename;
// digest is the sha256 of the tarball.
func (i *Index) Add(md *Metadata, filename, baseURL, digest string) error {
	return i.AddEntry(md.Name, md, filename, baseURL, digest)
}

// AddEntry appends the metadata of one released chart under an explicit
// entry name. The registry keys entries by repository name, which may
// differ from the name Chart.yaml carries.
func (i *Index) AddEntry(name string, md *Metadata, filename, baseURL, digest string) error {
	if i.Entries == nil {
		return errors.New("entries not initialized")
	}
	if md.APIVersion == "" {
		md.APIVersion = APIVersionV1
	}
	if err := md.Validate(); err != nil {
		return errors.Wrapf(err, "validate failed for %s", filename)
	}

	u := filename
	if baseURL != "" {
		joined, err := urlJoin(baseURL, u)
		if err != nil {
			return errors.Wrapf(err, "could not join %s and %s", baseURL, u)
		}
		u = joined
	}
	i.Entries[name] = append(i.Entries[name], &IndexSpec{
		Metadata: md,
		URLs:     []string{u},
		Created:  time.Now(),
		Digest:   digest,
	})
	return nil
}

// Has returns true if the index has an entry for a chart with the given
// name and exact version.
func (i *Index) Has(name, version string) bool {
	_, err := i.Get(name, version)
	return err == nil
}

// Get returns the entry for the given chart name and exact version.
func (i *Index) Get(name, version string) (*IndexSpec, error) {
	specs, ok := i.Entries[name]
	if !ok {
		return nil, errors.Errorf("no chart name found: %s", name)
	}
	for _, spec := range specs {
		if spec.Version == version {
			return spec, nil
		}
	}
	return nil, errors.Errorf("no chart version found for %s-%s", name, version)
}

// SortEntries sorts the entries of each chart by version, descending.
func (i *Index) SortEntries() {
	for _, specs := range i.Entries {
		sort.Sort(sort.Reverse(specs))
	}
}

// Bytes renders the index to YAML with entries sorted.
func (i *Index) Bytes() ([]byte, error) {
	i.SortEntries()
	return yaml.Marshal(i)
}

// urlJoin joins a base URL with one or more path fragments, keeping the
// base's query string intact.
func urlJoin(baseURL string, paths ...string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	u.Path = path.Join(append([]string{u.Path}, paths...)...)
	return u.String(), nil
}
