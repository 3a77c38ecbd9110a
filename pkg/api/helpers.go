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

package api

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	apierrors "charted.dev/charted/pkg/api/errors"
	"charted.dev/charted/pkg/database"
	"charted.dev/charted/pkg/names"
)

// nameErrors are the grammar violations the names package reports; they
// surface to clients as ValidationFailed instead of a system failure.
var nameErrors = []error{
	names.ErrMissingName,
	names.ErrNameTooShort,
	names.ErrNameTooLong,
	names.ErrInvalidName,
}

// maxBodySize caps JSON request bodies.
const maxBodySize = 1 << 20

// maxUploadSize caps multipart uploads (chart tarballs, provenance,
// avatars).
const maxUploadSize = 64 << 20

// decodeBody parses the JSON request body into out.
func decodeBody(r *http.Request, out interface{}) *apierrors.Error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return apierrors.New(apierrors.UnexpectedEOF, "request body ended unexpectedly")
		}
		return apierrors.Newf(apierrors.BadRequest, "unable to parse request body: %v", err)
	}
	return nil
}

// boolQuery parses a boolean query parameter, defaulting to def when
// absent or malformed.
func boolQuery(r *http.Request, name string, def bool) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return value
}

// firstPart returns the first part of a multipart request whose content
// type is one of accepted. The rest of the request is left unread.
func firstPart(r *http.Request, accepted ...string) (*multipart.Part, *apierrors.Error) {
	reader, err := r.MultipartReader()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) || strings.Contains(err.Error(), "boundary") {
			return nil, apierrors.New(apierrors.MissingMultipartBoundary, "request is not multipart/form-data")
		}
		return nil, apierrors.Newf(apierrors.IncompleteMultipartStream, "unable to read multipart stream: %v", err)
	}

	part, err := reader.NextPart()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apierrors.New(apierrors.MissingMultipartField, "multipart request carries no fields")
		}
		return nil, apierrors.Newf(apierrors.IncompleteMultipartStream, "unable to read multipart stream: %v", err)
	}

	contentType := part.Header.Get("Content-Type")
	if mediaType, _, _ := strings.Cut(contentType, ";"); mediaType != "" {
		contentType = strings.TrimSpace(mediaType)
	}
	for _, accept := range accepted {
		if strings.EqualFold(contentType, accept) {
			return part, nil
		}
	}
	part.Close()
	return nil, apierrors.Newf(apierrors.InvalidContentType,
		"field content type %q is not accepted, expected one of %s", contentType, strings.Join(accepted, ", ")).
		WithDetails(map[string]interface{}{"expected": accepted, "received": contentType})
}

// resolveOwner maps the {owner} path segment to a user or organization.
func (s *Server) resolveOwner(ctx context.Context, idOrName string) (*database.Owner, *apierrors.Error) {
	owner, err := s.db.GetOwner(ctx, idOrName)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apierrors.Newf(apierrors.EntityNotFound, "owner %q doesn't exist", idOrName)
		}
		return nil, apierrors.New(apierrors.InternalServerError, "unable to resolve owner")
	}
	return owner, nil
}

// canManage reports whether the identity administers the owner: the
// owner itself for users, the administering account for organizations.
func (s *Server) canManage(ctx context.Context, identity *Identity, owner *database.Owner) (bool, error) {
	if identity == nil || identity.User == nil {
		return false, nil
	}
	switch owner.Kind {
	case database.OwnerUser:
		return identity.User.ID == owner.ID, nil
	case database.OwnerOrganization:
		org, err := s.db.GetOrganization(ctx, owner.ID)
		if err != nil {
			return false, err
		}
		return org.Owner == identity.User.ID, nil
	}
	return false, nil
}

// requireManage resolves the identity and rejects callers that do not
// administer the owner.
func (s *Server) requireManage(ctx context.Context, r *http.Request, owner *database.Owner) (*Identity, *apierrors.Error) {
	identity, _ := IdentityFrom(r.Context())
	ok, err := s.canManage(ctx, identity, owner)
	if err != nil {
		return nil, apierrors.New(apierrors.InternalServerError, "unable to check ownership")
	}
	if !ok {
		return nil, apierrors.Newf(apierrors.AccessNotPermitted, "you do not administer %q", owner.Name)
	}
	return identity, nil
}
