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

// Package errors defines the error codes the HTTP surface speaks and
// their status mapping. Codes surface verbatim in response envelopes.
package errors // import "charted.dev/charted/pkg/api/errors"

import (
	"fmt"
	"net/http"
)

// Code names one failure kind. The string value is wire format.
type Code string

// Resource and identity errors.
const (
	EntityNotFound        Code = "EntityNotFound"
	EntityAlreadyExists   Code = "EntityAlreadyExists"
	AccessNotPermitted    Code = "AccessNotPermitted"
	RegistrationsDisabled Code = "RegistrationsDisabled"
)

// Authentication errors.
const (
	MissingAuthorizationHeader   Code = "MissingAuthorizationHeader"
	InvalidAuthenticationType    Code = "InvalidAuthenticationType"
	InvalidAuthorizationParts    Code = "InvalidAuthorizationParts"
	InvalidSessionToken          Code = "InvalidSessionToken"
	SessionExpired               Code = "SessionExpired"
	UnknownSession               Code = "UnknownSession"
	RefreshTokenRequired         Code = "RefreshTokenRequired"
	InvalidPassword              Code = "InvalidPassword"
	MissingPassword              Code = "MissingPassword"
	UnsupportedAuthorizationKind Code = "UnsupportedAuthorizationKind"
)

// Validation errors.
const (
	ValidationFailed   Code = "ValidationFailed"
	InvalidContentType Code = "InvalidContentType"
	InvalidUtf8        Code = "InvalidUtf8"
	BadRequest         Code = "BadRequest"
)

// Multipart errors.
const (
	MissingMultipartField       Code = "MissingMultipartField"
	MissingMultipartBoundary    Code = "MissingMultipartBoundary"
	InvalidMultipartBoundary    Code = "InvalidMultipartBoundary"
	IncompleteMultipartStream   Code = "IncompleteMultipartStream"
	StreamSizeExceeded          Code = "StreamSizeExceeded"
	MultipartFieldsSizeExceeded Code = "MultipartFieldsSizeExceeded"
)

// Upload errors.
const (
	InvalidTarball Code = "InvalidTarball"
)

// Transport and system errors.
const (
	InternalServerError Code = "InternalServerError"
	SystemFailure       Code = "SystemFailure"
	Io                  Code = "Io"
	UnexpectedEOF       Code = "UnexpectedEOF"
)

// Error is one element of the errors array of a response envelope.
type Error struct {
	Code    Code        `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches a structured details object and returns the
// error for chaining.
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// Status returns the HTTP status the error surfaces with.
func (e *Error) Status() int {
	return StatusOf(e.Code)
}

// StatusOf maps an error code to its HTTP status.
func StatusOf(code Code) int {
	switch code {
	case EntityNotFound:
		return http.StatusNotFound
	case EntityAlreadyExists:
		return http.StatusConflict
	case AccessNotPermitted, RegistrationsDisabled, InvalidPassword, InvalidSessionToken, RefreshTokenRequired:
		return http.StatusForbidden
	case MissingAuthorizationHeader, UnknownSession:
		return http.StatusUnauthorized
	case SessionExpired:
		return http.StatusGone
	case InvalidContentType, InvalidTarball, MissingMultipartField, MissingMultipartBoundary, InvalidMultipartBoundary:
		return http.StatusNotAcceptable
	case StreamSizeExceeded, MultipartFieldsSizeExceeded:
		return http.StatusRequestEntityTooLarge
	case InvalidAuthenticationType, InvalidAuthorizationParts, MissingPassword,
		UnsupportedAuthorizationKind, ValidationFailed, InvalidUtf8, BadRequest, IncompleteMultipartStream:
		return http.StatusBadRequest
	case InternalServerError, SystemFailure, Io, UnexpectedEOF:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}
