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

// Package avatars stores uploaded profile images and falls back to
// Gravatar identicons for accounts that never uploaded one.
package avatars // import "charted.dev/charted/pkg/avatars"

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"charted.dev/charted/internal/version"
	"charted.dev/charted/pkg/storage"
)

// DefaultGravatarURL is where fallback avatars are fetched from.
const DefaultGravatarURL = "https://secure.gravatar.com"

// maxAvatarSize caps how much of a Gravatar response is read.
const maxAvatarSize = 8 << 20

// extensions maps the accepted image media types to a file extension.
var extensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Accepted reports whether contentType is an image type avatars may be
// uploaded with.
func Accepted(contentType string) bool {
	_, ok := extensions[contentType]
	return ok
}

// AcceptedTypes returns the image media types uploads may carry.
func AcceptedTypes() []string {
	types := make([]string, 0, len(extensions))
	for t := range extensions {
		types = append(types, t)
	}
	return types
}

// Client reads and writes avatar objects under one storage namespace
// and fetches Gravatar fallbacks over retrying HTTP.
type Client struct {
	ns   *storage.Namespace
	http *retryablehttp.Client

	// GravatarURL is the Gravatar endpoint, swapped out in tests.
	GravatarURL string

	// Log is called with fmt-style arguments for debug output.
	Log func(string, ...interface{})
}

// NewClient wires an avatar client over the given namespace. The logger
// may be nil.
func NewClient(ns *storage.Namespace, logger func(string, ...interface{})) *Client {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 3
	httpClient.Logger = nil
	return &Client{
		ns:          ns,
		http:        httpClient,
		GravatarURL: DefaultGravatarURL,
		Log:         logger,
	}
}

func objectPath(user, hash, ext string) string {
	return path.Join("users", user, hash+"."+ext)
}

// Store writes an uploaded avatar at users/{user}/{hash}.{ext} and
// returns the content hash callers record on the account row.
func (c *Client) Store(ctx context.Context, user, contentType string, data []byte) (string, error) {
	ext, ok := extensions[contentType]
	if !ok {
		return "", errors.Errorf("avatars: %q is not an accepted image type", contentType)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if err := c.ns.Upload(ctx, objectPath(user, hash, ext), &storage.UploadRequest{
		ContentType: contentType,
		Data:        bytes.NewReader(data),
	}); err != nil {
		return "", errors.Wrap(err, "avatars: unable to store avatar")
	}
	c.Log("stored avatar %s for %s", hash, user)
	return hash, nil
}

// Open returns the stored avatar bytes and content type for the given
// account and hash. storage.ErrNotFound surfaces when nothing matches.
func (c *Client) Open(ctx context.Context, user, hash string) (io.ReadCloser, string, error) {
	blobs, err := c.ns.Blobs(ctx, path.Join("users", user), &storage.ListOptions{
		Prefix:             hash + ".",
		ExcludeDirectories: true,
	})
	if err != nil {
		return nil, "", err
	}
	if len(blobs) == 0 {
		return nil, "", storage.ErrNotFound
	}

	blob := blobs[0]
	rc, err := c.ns.Open(ctx, path.Join("users", user, blob.Name))
	if err != nil {
		return nil, "", err
	}
	contentType := blob.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return rc, contentType, nil
}

// Gravatar fetches the avatar Gravatar serves for the email, an
// identicon when the address has none.
func (c *Client) Gravatar(ctx context.Context, email string) ([]byte, string, error) {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	url := fmt.Sprintf("%s/avatar/%s?d=identicon", strings.TrimSuffix(c.GravatarURL, "/"), hex.EncodeToString(sum[:]))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", errors.Wrap(err, "avatars: unable to build gravatar request")
	}
	req.Header.Set("User-Agent", version.GetUserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", errors.Wrap(err, "avatars: unable to reach gravatar")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", errors.Errorf("avatars: gravatar answered %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAvatarSize))
	if err != nil {
		return nil, "", errors.Wrap(err, "avatars: unable to read gravatar response")
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return data, contentType, nil
}
