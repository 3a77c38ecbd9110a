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
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"charted.dev/charted/pkg/chart"
)

// chartFileName matches the file names a chart tarball may carry beyond
// the exempt set: the fixed Helm files plus free-form .txt, .tpl and
// YAML files whose names start with a word character.
var chartFileName = regexp.MustCompile(`^(Chart\.lock|Chart\.ya?ml|values\.ya?ml|\.helmignore|NOTES\.txt|[A-Za-z0-9_]+.*\.(txt|tpl|ya?ml))$`)

// exemptFiles are accepted by name alone, anywhere a file is allowed.
var exemptFiles = map[string]bool{
	"values.schema.json": true,
	"README.md":          true,
	"LICENSE":            true,
}

// allowedDirs are the only directory names an archive may contain.
var allowedDirs = map[string]bool{
	"charts":    true,
	"templates": true,
}

var drivePathPattern = regexp.MustCompile(`^[a-zA-Z]:/`)

// maxChartManifestSize caps how much of a Chart.yaml entry is read when
// extracting metadata.
const maxChartManifestSize = 1 << 20

// ErrMissingChartManifest indicates a tarball with no Chart.yaml at its
// root.
var ErrMissingChartManifest = errors.New("registry: chart has no Chart.yaml")

// InvalidTarballError describes why an uploaded archive was rejected.
type InvalidTarballError string

func (e InvalidTarballError) Error() string {
	return "invalid tarball: " + string(e)
}

func invalidTarballf(format string, args ...interface{}) InvalidTarballError {
	return InvalidTarballError(fmt.Sprintf(format, args...))
}

// ValidateTarball walks in as a gzipped tar archive and rejects it on
// the first entry that is not part of a well-formed chart: a path that
// escapes the chart root, a directory other than charts/ or templates/,
// a non-regular file, or a file name outside the chart whitelist. The
// reader is consumed only as far as the decision requires.
func ValidateTarball(in io.Reader) error {
	unzipped, err := gzip.NewReader(in)
	if err != nil {
		return invalidTarballf("not a gzip stream: %v", err)
	}
	defer unzipped.Close()

	files := 0
	tr := tar.NewReader(unzipped)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return invalidTarballf("corrupt archive: %v", err)
		}

		switch header.Typeflag {
		// Metadata-only entries added by some tar implementations.
		case tar.TypeXGlobalHeader, tar.TypeXHeader:
			continue
		}

		name, err := normalizeEntryPath(header.Name)
		if err != nil {
			return err
		}
		if name == "." {
			if header.FileInfo().IsDir() {
				continue
			}
			return invalidTarballf("archive entry %q escapes the chart root", header.Name)
		}

		segments := strings.Split(name, "/")
		if header.FileInfo().IsDir() {
			for _, segment := range segments {
				if !allowedDirs[segment] {
					return invalidTarballf("directory %q is not allowed, charts may only contain charts/ and templates/", name)
				}
			}
			continue
		}

		if header.Typeflag != tar.TypeReg {
			return invalidTarballf("entry %q is not a regular file", name)
		}
		for _, segment := range segments[:len(segments)-1] {
			if !allowedDirs[segment] {
				return invalidTarballf("directory %q in %q is not allowed, charts may only contain charts/ and templates/", segment, name)
			}
		}
		leaf := segments[len(segments)-1]
		if !exemptFiles[leaf] && !chartFileName.MatchString(leaf) {
			return invalidTarballf("file %q is not allowed in a chart", name)
		}
		files++
	}
	if files == 0 {
		return InvalidTarballError("archive contains no files")
	}
	return nil
}

// normalizeEntryPath rewrites a tar entry name into a clean, relative,
// forward-slash path, rejecting anything that could reach outside the
// chart root. Archives built on Windows may delimit with backslashes.
func normalizeEntryPath(name string) (string, error) {
	normalized := strings.ReplaceAll(name, "\\", "/")
	if path.IsAbs(normalized) {
		return "", invalidTarballf("archive contains absolute path %q", name)
	}
	normalized = path.Clean(normalized)
	if normalized == ".." || strings.HasPrefix(normalized, "../") {
		return "", invalidTarballf("archive entry %q escapes the chart root", name)
	}
	if drivePathPattern.MatchString(normalized) {
		return "", invalidTarballf("archive contains illegally named entry %q", name)
	}
	return normalized, nil
}

// ExtractMetadata reads the Chart.yaml at the root of a chart tarball
// and returns its parsed metadata. Charts with no manifest return
// ErrMissingChartManifest.
func ExtractMetadata(in io.Reader) (*chart.Metadata, error) {
	unzipped, err := gzip.NewReader(in)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read chart archive")
	}
	defer unzipped.Close()

	tr := tar.NewReader(unzipped)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "unable to read chart archive")
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Clean(strings.ReplaceAll(header.Name, "\\", "/"))
		if name != "Chart.yaml" && name != "Chart.yml" {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(tr, maxChartManifestSize))
		if err != nil {
			return nil, errors.Wrap(err, "unable to read Chart.yaml")
		}
		return chart.LoadMetadata(data)
	}
	return nil, ErrMissingChartManifest
}
