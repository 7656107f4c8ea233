// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package webdav

import (
	"fmt"
	"net/http"
)

// http://www.webdav.org/specs/rfc4918.html#status.code.extensions.to.http11
const (
	StatusMulti               = 207
	StatusUnprocessableEntity = 422
	StatusLocked              = 423
	StatusFailedDependency    = 424
	StatusInsufficientStorage = 507
)

var extStatusText = map[int]string{
	StatusMulti:               "Multi-Status",
	StatusUnprocessableEntity: "Unprocessable Entity",
	StatusLocked:              "Locked",
	StatusFailedDependency:    "Failed Dependency",
	StatusInsufficientStorage: "Insufficient Storage",
}

// Error is the common error type used throughout the handler. It pairs
// an HTTP status with a short stable text and an optional wrapped
// cause; the cause never reaches the client.
type Error struct {
	code  int
	text  string
	cause error
}

// The errors reportable from handlers and backends.
var (
	ErrorBadPath        = Error{code: http.StatusBadRequest, text: "BadPath"}
	ErrorNotFound       = Error{code: http.StatusNotFound, text: "NotFound"}
	ErrorConflict       = Error{code: http.StatusConflict, text: "Conflict"}
	ErrorNotAllowed     = Error{code: http.StatusMethodNotAllowed, text: "NotAllowed"}
	ErrorForbidden      = Error{code: http.StatusForbidden, text: "Forbidden"}
	ErrorIsDir          = Error{code: http.StatusMethodNotAllowed, text: "IsDir"}
	ErrorIsNotDir       = Error{code: http.StatusMethodNotAllowed, text: "IsNotDir"}
	ErrorMissingParent  = Error{code: http.StatusConflict, text: "MissingParent"}
	ErrorNotEmpty       = Error{code: http.StatusConflict, text: "NotEmpty"}
	ErrorBadHost        = Error{code: http.StatusBadGateway, text: "BadHost"}
	ErrorBadDepth       = Error{code: http.StatusBadRequest, text: "BadDepth"}
	ErrorBadDest        = Error{code: http.StatusBadRequest, text: "BadDest"}
	ErrorBadBody        = Error{code: http.StatusBadRequest, text: "BadBody"}
	ErrorBadRange       = Error{code: http.StatusRequestedRangeNotSatisfiable, text: "BadRange"}
	ErrorDestExists     = Error{code: http.StatusPreconditionFailed, text: "DestExists"}
	ErrorPrecondition   = Error{code: http.StatusPreconditionFailed, text: "PreconditionFailed"}
	ErrorSameFile       = Error{code: http.StatusForbidden, text: "SameFile"}
	ErrorLocked         = Error{code: StatusLocked, text: "Locked"}
	ErrorBadLock        = Error{code: http.StatusBadRequest, text: "BadLock"}
	ErrorNoSuchLock     = Error{code: http.StatusConflict, text: "NoSuchLock"}
	ErrorMediaType      = Error{code: http.StatusUnsupportedMediaType, text: "UnsupportedType"}
	ErrorNoStorage      = Error{code: StatusInsufficientStorage, text: "InsufficientStorage"}
	ErrorNotImplemented = Error{code: http.StatusNotImplemented, text: "NotImplemented"}
	ErrorInternal       = Error{code: http.StatusInternalServerError, text: "Internal"}
)

// WithCause chains a cause onto a reported error; the code and text are
// preserved.
func (e Error) WithCause(cause error) Error {
	return Error{code: e.code, text: e.text, cause: cause}
}

// HTTPCode gets the HTTP status code appropriate for the error.
func (e Error) HTTPCode() int {
	return e.code
}

// HTTPStatus gets the HTTP status text to use for the error.
func (e Error) HTTPStatus() string {
	if t, ok := extStatusText[e.code]; ok {
		return t
	}
	return http.StatusText(e.code)
}

// Is reports code/text equality so that wrapped errors compare with
// errors.Is against the sentinel values above.
func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	return ok && t.code == e.code && t.text == e.text
}

// Unwrap exposes the internal cause.
func (e Error) Unwrap() error {
	return e.cause
}

func (e Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%d %s : %s (%s)", e.code, e.HTTPStatus(), e.text, e.cause)
	}
	return fmt.Sprintf("%d %s : %s", e.code, e.HTTPStatus(), e.text)
}

func (e Error) String() string {
	return e.Error()
}
