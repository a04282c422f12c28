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

// Package verify defines the attestation verifier contract and the
// closed, compile-time registry of verifiers keyed by extension OID. A
// new TEE kind is added by implementing Verifier and adding an entry to
// NewRegistry; there is no runtime registration mechanism.
package verify

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
)

// Verifier validates one kind of TEE attestation evidence carried in a
// CSR extension and binds it to the CSR's public key.
type Verifier interface {
	// OID is the extension identifier this verifier handles.
	OID() asn1.ObjectIdentifier

	// Attests reports whether a successful Verify from this verifier
	// alone is sufficient to authorize issuance. It is a static property
	// of the verifier, not a function of the evidence.
	Attests() bool

	// Verify checks ext.Value against csr and reports whether the
	// extension should be copied into the issued leaf. debug indicates
	// the issuer certificate is self-signed, which relaxes verifiers
	// that have no real hardware root of trust (see kvm.Verifier).
	Verify(csr *x509.CertificateRequest, ext pkix.Extension, debug bool) (copy bool, err error)
}

// Registry dispatches an extension OID to the verifier that handles it.
// It is closed: unknown OIDs are a caller error (spec: BadRequest), not a
// registry miss to silently ignore.
type Registry map[string]Verifier

// NewRegistry builds the registry from a fixed set of verifiers. Two
// verifiers for the same OID is a programming error and panics at
// construction rather than silently shadowing one of them.
func NewRegistry(verifiers ...Verifier) Registry {
	r := make(Registry, len(verifiers))
	for _, v := range verifiers {
		key := v.OID().String()
		if _, ok := r[key]; ok {
			panic("verify: duplicate verifier for OID " + key)
		}
		r[key] = v
	}
	return r
}

// Lookup returns the verifier registered for oid, if any.
func (r Registry) Lookup(oid asn1.ObjectIdentifier) (Verifier, bool) {
	v, ok := r[oid.String()]
	return v, ok
}
