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

package serrors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scionproto/steward/internal/serrors"
)

func TestNewFormatsFields(t *testing.T) {
	err := serrors.New("bad thing", "key", "value")
	require.Contains(t, err.Error(), "bad thing")
	require.Contains(t, err.Error(), "key=value")
}

func TestWrapStrNilCauseReturnsNil(t *testing.T) {
	require.NoError(t, serrors.WrapStr("wrapped", nil))
}

func TestWrapStrPreservesUnwrapChain(t *testing.T) {
	sentinel := errors.New("sentinel")
	wrapped := serrors.WrapStr("context", sentinel)
	require.True(t, errors.Is(wrapped, sentinel))
}

func TestWithCtxPreservesUnwrapChain(t *testing.T) {
	sentinel := errors.New("sentinel")
	wrapped := serrors.WithCtx(sentinel, "retry", 3)
	require.True(t, serrors.Is(wrapped, sentinel))
	require.Contains(t, wrapped.Error(), "retry=3")
}

func TestAsFindsTypedError(t *testing.T) {
	type myErr struct{ error }
	inner := &myErr{errors.New("inner")}
	wrapped := serrors.WrapStr("outer", inner)

	var target *myErr
	require.True(t, serrors.As(wrapped, &target))
	require.Same(t, inner, target)
}

func TestListToError(t *testing.T) {
	require.NoError(t, serrors.List(nil).ToError())

	single := serrors.List{errors.New("one")}
	require.Equal(t, single[0], single.ToError())

	multi := serrors.List{errors.New("one"), errors.New("two")}
	err := multi.ToError()
	require.Error(t, err)
	require.Contains(t, err.Error(), "one")
	require.Contains(t, err.Error(), "two")
}
