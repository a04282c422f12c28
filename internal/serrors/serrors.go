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

// Package serrors provides standardized errors with structured context,
// wrapping and lists of errors.
//
// An error can be wrapped with additional context via WithCtx. The
// resulting error still unwraps to (and Is()-matches) the original, so
// sentinel checks with errors.Is keep working through the call stack
// while the context accumulates for logging.
package serrors

import (
	"errors"
	"fmt"
	"strings"
)

// basicError is a wrapped error with structured context fields attached.
type basicError struct {
	msg    string
	cause  error
	fields []field
}

type field struct {
	key   string
	value interface{}
}

// New creates a new error with context fields attached. fieldArgs must be
// an even number of arguments, alternating key/value.
func New(msg string, fieldArgs ...interface{}) error {
	return &basicError{msg: msg, fields: toFields(fieldArgs)}
}

// WrapStr wraps cause with a static message and optional context fields.
func WrapStr(msg string, cause error, fieldArgs ...interface{}) error {
	if cause == nil {
		return nil
	}
	return &basicError{msg: msg, cause: cause, fields: toFields(fieldArgs)}
}

// WithCtx attaches additional context fields to an existing error without
// changing its message. If err is nil, WithCtx returns nil.
func WithCtx(err error, fieldArgs ...interface{}) error {
	if err == nil {
		return nil
	}
	return &basicError{msg: "", cause: err, fields: toFields(fieldArgs)}
}

func toFields(args []interface{}) []field {
	if len(args)%2 != 0 {
		args = append(args, "MISSING")
	}
	fields := make([]field, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprintf("%v", args[i])
		fields = append(fields, field{key: key, value: args[i+1]})
	}
	return fields
}

func (e *basicError) Error() string {
	var b strings.Builder
	if e.msg != "" {
		b.WriteString(e.msg)
	}
	for _, f := range e.fields {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s=%v", f.key, f.value)
	}
	if e.cause != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *basicError) Unwrap() error {
	return e.cause
}

// List is a list of errors. It implements the error interface so it can be
// returned directly; ToError converts it to an error that is nil when the
// list is empty.
type List []error

func (l List) Error() string {
	msgs := make([]string, 0, len(l))
	for _, err := range l {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ToError returns nil if the list is empty, the sole error if it contains
// exactly one, or the list itself (as an error) otherwise.
func (l List) ToError() error {
	switch len(l) {
	case 0:
		return nil
	case 1:
		return l[0]
	default:
		return l
	}
}

// Is reports whether target matches err through the standard errors.Is
// semantics; re-exported so callers need not import both packages.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As reports whether err's chain contains an error matching target; same
// semantics as the standard library's errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
