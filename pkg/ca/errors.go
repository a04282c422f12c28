// Copyright 2020 Anapaya Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ca

import (
	"errors"
	"net/http"
)

// ClientInputError covers malformed CSRs, wrong MIME types, unsupported
// extension OIDs, and malformed or cryptographically invalid evidence
// payloads. It maps to 400.
type ClientInputError struct {
	msg string
}

func (e *ClientInputError) Error() string { return e.msg }

func clientInputError(msg string) error {
	return &ClientInputError{msg: msg}
}

// NotAttestedError means the CSR was syntactically valid but no
// extension's verifier reported attested=true. It maps to 401.
type NotAttestedError struct{}

func (e *NotAttestedError) Error() string { return "no attesting extension succeeded" }

// InternalError covers signing, DER encoding, or counter failures. It
// maps to 500.
type InternalError struct {
	msg string
}

func (e *InternalError) Error() string { return e.msg }

func internalError(msg string) error {
	return &InternalError{msg: msg}
}

// httpStatus maps an issuance error to the wire status code. Errors that
// don't match a known taxonomy member are treated as internal: the
// issuance pipeline should only ever return the types above, so falling
// through here indicates a bug, not a client mistake.
func httpStatus(err error) int {
	var clientErr *ClientInputError
	var notAttestedErr *NotAttestedError
	switch {
	case errors.As(err, &clientErr):
		return http.StatusBadRequest
	case errors.As(err, &notAttestedErr):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
