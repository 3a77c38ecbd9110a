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
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/pkg/errors"
)

// AzureName is the string name of the Azure Blob backend.
const AzureName = "azure"

// AzureOptions configures the Azure Blob backend.
type AzureOptions struct {
	// AccountName and AccountKey are the shared-key credentials of the
	// storage account.
	AccountName string
	AccountKey  string

	// Container is the blob container objects are stored in. Init
	// creates it when absent.
	Container string
}

// Azure stores objects in an Azure Blob container.
type Azure struct {
	container azblob.ContainerURL
	Log       func(string, ...interface{})
}

var _ Store = (*Azure)(nil)

// NewAzure builds an Azure Blob backend from the given options.
func NewAzure(opts AzureOptions) (*Azure, error) {
	credential, err := azblob.NewSharedKeyCredential(opts.AccountName, opts.AccountKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid azure credentials")
	}

	p := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	u, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", opts.AccountName))
	if err != nil {
		return nil, err
	}

	serviceURL := azblob.NewServiceURL(*u, p)
	return &Azure{container: serviceURL.NewContainerURL(opts.Container), Log: nopLogger}, nil
}

// Name returns the name of the backend.
func (a *Azure) Name() string { return AzureName }

// Init creates the container with no metadata and no public access,
// tolerating one that already exists.
func (a *Azure) Init(ctx context.Context) error {
	_, err := a.container.Create(ctx, azblob.Metadata{}, azblob.PublicAccessNone)
	if err != nil {
		if azErr, ok := err.(azblob.StorageError); ok && azErr.ServiceCode() == azblob.ServiceCodeContainerAlreadyExists {
			return nil
		}
		return errors.Wrap(err, "unable to create container")
	}
	return nil
}

// Open returns a reader over the blob at path.
func (a *Azure) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	blobURL := a.container.NewBlockBlobURL(p)
	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, ErrNotFound
		}
		a.Log("failed to download blob %q: %v", p, err)
		return nil, err
	}
	return resp.Body(azblob.RetryReaderOptions{}), nil
}

// Blob returns metadata for the blob at path.
func (a *Azure) Blob(ctx context.Context, p string) (*Blob, error) {
	blobURL := a.container.NewBlockBlobURL(p)
	props, err := blobURL.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &Blob{
		Name:         path.Base(p),
		Path:         p,
		Size:         props.ContentLength(),
		ContentType:  props.ContentType(),
		LastModified: props.LastModified(),
	}, nil
}

// Blobs lists blobs directly under dir. Blob prefixes surface as
// directory entries.
func (a *Azure) Blobs(ctx context.Context, dir string, opts *ListOptions) ([]*Blob, error) {
	prefix := ""
	if dir != "" && dir != "." {
		prefix = strings.TrimSuffix(dir, "/") + "/"
	}

	blobs := []*Blob{}
	for marker := (azblob.Marker{}); marker.NotDone(); {
		segment, err := a.container.ListBlobsHierarchySegment(ctx, marker, "/", azblob.ListBlobsSegmentOptions{Prefix: prefix})
		if err != nil {
			a.Log("failed to list blobs under %q: %v", prefix, err)
			return nil, err
		}
		for _, bp := range segment.Segment.BlobPrefixes {
			name := path.Base(strings.TrimSuffix(bp.Name, "/"))
			if !opts.Matches(name, true) {
				continue
			}
			blobs = append(blobs, &Blob{Name: name, Path: prefix + name, Directory: true, Size: -1})
		}
		for _, item := range segment.Segment.BlobItems {
			name := path.Base(item.Name)
			if !opts.Matches(name, false) {
				continue
			}
			blob := &Blob{Name: name, Path: item.Name, Size: -1, LastModified: item.Properties.LastModified}
			if item.Properties.ContentLength != nil {
				blob.Size = *item.Properties.ContentLength
			}
			if item.Properties.ContentType != nil {
				blob.ContentType = *item.Properties.ContentType
			}
			blobs = append(blobs, blob)
		}
		marker = segment.NextMarker
	}
	return blobs, nil
}

// Exists reports whether a blob exists at path.
func (a *Azure) Exists(ctx context.Context, p string) (bool, error) {
	if _, err := a.Blob(ctx, p); err != nil {
		if err == ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Upload streams a whole blob to path.
func (a *Azure) Upload(ctx context.Context, p string, req *UploadRequest) error {
	blobURL := a.container.NewBlockBlobURL(p)
	opts := azblob.UploadStreamToBlockBlobOptions{
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: req.ContentType},
	}
	if len(req.Metadata) > 0 {
		opts.Metadata = azblob.Metadata(req.Metadata)
	}
	if _, err := azblob.UploadStreamToBlockBlob(ctx, req.Data, blobURL, opts); err != nil {
		a.Log("failed to upload blob %q: %v", p, err)
		return err
	}
	return nil
}

// Delete removes the blob at path. Deleting a missing blob is a no-op.
func (a *Azure) Delete(ctx context.Context, p string) error {
	blobURL := a.container.NewBlockBlobURL(p)
	if _, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{}); err != nil {
		if isAzureNotFound(err) {
			return nil
		}
		return err
	}
	return nil
}

func isAzureNotFound(err error) bool {
	azErr, ok := err.(azblob.StorageError)
	return ok && azErr.ServiceCode() == azblob.ServiceCodeBlobNotFound
}
