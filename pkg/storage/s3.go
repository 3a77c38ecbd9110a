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
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
)

// S3Name is the string name of the S3 backend.
const S3Name = "s3"

// S3Client is the subset of the AWS S3 client the backend uses. It exists
// so tests can substitute an in-memory implementation.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Options configures the S3 backend.
type S3Options struct {
	// Endpoint overrides the AWS endpoint, for MinIO and other
	// S3-compatible services. Optional.
	Endpoint string

	// Region is the bucket region.
	Region string

	// AccessKeyID and SecretAccessKey are static credentials. When both
	// are empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// Bucket is the bucket objects are stored in.
	Bucket string

	// EnforcePathAccessStyle forces path-style bucket addressing, which
	// most S3-compatible services require.
	EnforcePathAccessStyle bool
}

// S3 stores objects in an S3-compatible bucket.
type S3 struct {
	bucket string
	client S3Client
	Log    func(string, ...interface{})
}

var _ Store = (*S3)(nil)

// NewS3 builds an S3 backend from the given options.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	loadOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" || opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load aws sdk configuration")
	}

	client := s3.NewFromConfig(cfg, func(options *s3.Options) {
		if opts.Endpoint != "" {
			options.BaseEndpoint = aws.String(opts.Endpoint)
		}
		options.UsePathStyle = opts.EnforcePathAccessStyle
	})

	return &S3{bucket: opts.Bucket, client: client, Log: nopLogger}, nil
}

// NewS3WithClient builds an S3 backend around an existing client.
func NewS3WithClient(client S3Client, bucket string) *S3 {
	return &S3{bucket: bucket, client: client, Log: nopLogger}
}

// Name returns the name of the backend.
func (s *S3) Name() string { return S3Name }

// Init is a no-op; buckets are provisioned out of band.
func (s *S3) Init(_ context.Context) error { return nil }

// Open returns a reader over the object at path.
func (s *S3) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(p),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		s.Log("failed to get object %q: %v", p, err)
		return nil, err
	}
	return resp.Body, nil
}

// Blob returns metadata for the object at path.
func (s *S3) Blob(ctx context.Context, p string) (*Blob, error) {
	resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(p),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	blob := &Blob{
		Name:        path.Base(p),
		Path:        p,
		Size:        aws.ToInt64(resp.ContentLength),
		ContentType: aws.ToString(resp.ContentType),
	}
	if resp.LastModified != nil {
		blob.LastModified = *resp.LastModified
	}
	return blob, nil
}

// Blobs lists objects directly under dir. Common prefixes surface as
// directory entries.
func (s *S3) Blobs(ctx context.Context, dir string, opts *ListOptions) ([]*Blob, error) {
	prefix := ""
	if dir != "" && dir != "." {
		prefix = strings.TrimSuffix(dir, "/") + "/"
	}

	blobs := []*Blob{}
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}
	for {
		out, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			s.Log("failed to list objects under %q: %v", prefix, err)
			return nil, err
		}
		for _, cp := range out.CommonPrefixes {
			name := path.Base(strings.TrimSuffix(aws.ToString(cp.Prefix), "/"))
			if !opts.Matches(name, true) {
				continue
			}
			blobs = append(blobs, &Blob{Name: name, Path: prefix + name, Directory: true, Size: -1})
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue
			}
			name := path.Base(key)
			if !opts.Matches(name, false) {
				continue
			}
			blob := &Blob{Name: name, Path: key, Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				blob.LastModified = *obj.LastModified
			}
			blobs = append(blobs, blob)
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}
	return blobs, nil
}

// Exists reports whether an object exists at path.
func (s *S3) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(p),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Upload writes a whole object at path.
func (s *S3) Upload(ctx context.Context, p string, req *UploadRequest) error {
	input := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(p),
		Body:     req.Data,
		Metadata: req.Metadata,
	}
	if req.ContentType != "" {
		input.ContentType = aws.String(req.ContentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		s.Log("failed to upload object %q: %v", p, err)
		return err
	}
	return nil
}

// Delete removes the object at path. S3 deletes are idempotent, so a
// missing object is a no-op.
func (s *S3) Delete(ctx context.Context, p string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(p),
	})
	return err
}

// isS3NotFound reports whether err is the 404 returned for HeadObject on
// a missing key, which carries no typed NoSuchKey error.
func isS3NotFound(err error) bool {
	var responseError *awshttp.ResponseError
	return errors.As(err, &responseError) && responseError.ResponseError.HTTPStatusCode() == http.StatusNotFound
}
