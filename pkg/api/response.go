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

// Package api is the HTTP surface of the registry: the route table, the
// authentication middleware and the handlers behind every endpoint.
package api // import "charted.dev/charted/pkg/api"

import (
	"encoding/json"
	"net/http"

	apierrors "charted.dev/charted/pkg/api/errors"
	"charted.dev/charted/pkg/api/logger"
)

// Response is the envelope every JSON endpoint answers with. Data and
// Errors are mutually exclusive; Success mirrors the status class.
type Response struct {
	Success bool               `json:"success"`
	Data    interface{}        `json:"data,omitempty"`
	Errors  []*apierrors.Error `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body *Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("unable to encode response: %v", err)
	}
}

// respond writes a success envelope. A nil data still carries the
// envelope so clients can rely on its shape; 204 responses carry no
// body at all.
func respond(w http.ResponseWriter, status int, data interface{}) {
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, &Response{Success: true, Data: data})
}

// respondError writes a failure envelope with the status of the first
// error.
func respondError(w http.ResponseWriter, errs ...*apierrors.Error) {
	status := http.StatusInternalServerError
	if len(errs) > 0 {
		status = errs[0].Status()
	}
	writeJSON(w, status, &Response{Success: false, Errors: errs})
}

// respondSystemFailure reports an internal error to the log and answers
// with a sanitized envelope. The cause never reaches the client.
func respondSystemFailure(w http.ResponseWriter, r *http.Request, err error) {
	logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	respondError(w, apierrors.New(apierrors.InternalServerError, "an internal error occurred"))
}
