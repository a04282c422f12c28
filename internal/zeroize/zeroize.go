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

// Package zeroize provides a byte container that wipes its contents when
// it is finalized, so that a dropped issuer key does not linger in the
// heap. Go's garbage collector gives no deterministic drop point, so the
// wipe is registered as a runtime finalizer in addition to being
// available explicitly via Destroy.
package zeroize

import "runtime"

// Bytes holds secret byte material and scrubs it when Destroy is called or
// the value becomes unreachable, whichever happens first.
type Bytes struct {
	buf []byte
}

// New copies src into a new zeroizing container. The caller remains
// responsible for wiping src itself if it is no longer needed.
func New(src []byte) *Bytes {
	buf := make([]byte, len(src))
	copy(buf, src)
	z := &Bytes{buf: buf}
	runtime.SetFinalizer(z, (*Bytes).Destroy)
	return z
}

// Bytes returns the underlying secret bytes. The returned slice aliases
// the container's storage and must not be retained past a call to
// Destroy.
func (z *Bytes) Bytes() []byte {
	return z.buf
}

// Destroy overwrites the secret material with zeroes. It is safe to call
// multiple times and is immune to dead-store elimination because it
// writes through a slice the compiler cannot prove is unused: the buffer
// is reachable from z until SetFinalizer's bookkeeping releases it.
func (z *Bytes) Destroy() {
	for i := range z.buf {
		z.buf[i] = 0
	}
	runtime.SetFinalizer(z, nil)
}
