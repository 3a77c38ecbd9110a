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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chartYAML = `apiVersion: v2
name: charted
version: 0.1.0-beta
description: "\U0001F3D8 Free, open-source way to host Helm charts"
kubeVersion: ">=1.23.0"
type: application
keywords:
  - registry
  - helm
maintainers:
  - name: Noel
    email: cutie@floofy.dev
dependencies:
  - name: postgresql
    version: 12.1.2
    repository: https://charts.bitnami.com/bitnami
`

func TestLoadMetadata(t *testing.T) {
	md, err := LoadMetadata([]byte(chartYAML))
	require.NoError(t, err)
	assert.Equal(t, "charted", md.Name)
	assert.Equal(t, "0.1.0-beta", md.Version)
	assert.Equal(t, APIVersionV2, md.APIVersion)
	assert.Equal(t, "application", md.Type)
	require.Len(t, md.Maintainers, 1)
	assert.Equal(t, "Noel", md.Maintainers[0].Name)
	require.Len(t, md.Dependencies, 1)
	assert.Equal(t, "postgresql", md.Dependencies[0].Name)
}

func TestLoadMetadataInvalidYAML(t *testing.T) {
	_, err := LoadMetadata([]byte("{not yaml"))
	require.Error(t, err)
}

func TestMetadataValidate(t *testing.T) {
	tests := []struct {
		md  *Metadata
		err error
	}{
		{nil, ValidationError("chart.metadata is required")},
		{&Metadata{Name: "test", Version: "1.0.0"}, ValidationError("chart.metadata.apiVersion is required")},
		{&Metadata{APIVersion: "v3", Name: "test", Version: "1.0.0"}, ValidationErrorf("chart.metadata.apiVersion must be either %q or %q", "v1", "v2")},
		{&Metadata{APIVersion: APIVersionV2, Version: "1.0.0"}, ValidationError("chart.metadata.name is required")},
		{&Metadata{APIVersion: APIVersionV2, Name: "test"}, ValidationError("chart.metadata.version is required")},
		{&Metadata{APIVersion: APIVersionV2, Name: "test", Version: "oopsie"}, ValidationErrorf("chart.metadata.version %q is invalid", "oopsie")},
		{&Metadata{APIVersion: APIVersionV2, Name: "test", Version: "1.0.0", Type: "operator"}, ValidationError("chart.metadata.type must be application or library")},
		{&Metadata{APIVersion: APIVersionV2, Name: "test", Version: "1.0.0", Maintainers: []*Maintainer{nil}}, ValidationError("maintainers must not contain empty or null nodes")},
		{&Metadata{APIVersion: APIVersionV2, Name: "test", Version: "1.0.0", Dependencies: []*Dependency{nil}}, ValidationError("dependencies must not contain empty or null nodes")},
		{&Metadata{APIVersion: APIVersionV1, Name: "test", Version: "1.0.0"}, nil},
		{&Metadata{APIVersion: APIVersionV2, Name: "test", Version: "1.0.0", Type: "library"}, nil},
	}
	for _, tt := range tests {
		err := tt.md.Validate()
		if tt.err == nil {
			assert.NoError(t, err)
		} else {
			assert.Equal(t, tt.err, err)
		}
	}
}

func TestMetadataSanitizes(t *testing.T) {
	md := &Metadata{
		APIVersion:  APIVersionV2,
		Name:        "test",
		Version:     "1.0.0",
		Description: "multi\nline\ndescription",
	}
	require.NoError(t, md.Validate())
	assert.Equal(t, "multi line description", md.Description)
}
