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

// Package kvm implements the debug-only KVM attestation verifier. KVM has
// no hardware root of trust; it exists so that development environments
// running under plain KVM (with a self-signed, debug-mode issuer) can
// exercise the full issuance pipeline without real TEE hardware.
package kvm

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"

	"github.com/scionproto/steward/internal/serrors"
)

// OID identifies the KVM debug-marker extension.
var OID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 55704, 1}

// Verifier accepts any extension value, but only when the issuer is
// running in debug mode (self-signed). It never copies the extension
// into the issued leaf: the marker carries no information worth keeping
// once issuance succeeds.
type Verifier struct{}

// New returns a KVM verifier.
func New() Verifier { return Verifier{} }

// OID implements verify.Verifier.
func (Verifier) OID() asn1.ObjectIdentifier { return OID }

// Attests implements verify.Verifier. KVM alone is sufficient to
// authorize issuance, but only in debug mode: Verify rejects outside
// debug mode, so this constant never grants issuance in production.
func (Verifier) Attests() bool { return true }

// Verify implements verify.Verifier. The extension value is treated as
// opaque and unconditionally accepted when debug is true; any payload,
// including a non-empty one, is allowed. Production issuers (chained to
// a real CA) always run with debug=false and reject KVM evidence.
func (Verifier) Verify(_ *x509.CertificateRequest, _ pkix.Extension, debug bool) (bool, error) {
	if !debug {
		return false, serrors.New("KVM attestation is only accepted when the issuer is self-signed")
	}
	return false, nil
}
