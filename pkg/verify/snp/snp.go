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

package snp

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"

	"github.com/scionproto/steward/internal/serrors"
	"github.com/scionproto/steward/pkg/trust"
)

// OID identifies the AMD SEV-SNP evidence extension.
var OID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 55704, 3}

// Verifier validates AMD SEV-SNP attestation reports.
type Verifier struct {
	roots *x509.CertPool
}

// New returns a verifier rooted at the embedded AMD root (see
// trust.AMDRoots): a synthetic ARK-Milan certificate, so only VCEKs
// issued under that synthetic chain verify; AMD-issued VCEKs do not.
func New() Verifier {
	return Verifier{roots: trust.AMDRoots()}
}

// NewWithRoots returns a verifier rooted at a caller-supplied pool.
func NewWithRoots(roots *x509.CertPool) Verifier {
	return Verifier{roots: roots}
}

// OID implements verify.Verifier.
func (Verifier) OID() asn1.ObjectIdentifier { return OID }

// Attests implements verify.Verifier: a verified SNP report alone
// authorizes issuance.
func (Verifier) Attests() bool { return true }

// Verify implements verify.Verifier.
func (v Verifier) Verify(csr *x509.CertificateRequest, ext pkix.Extension, debug bool) (bool, error) {
	evidence, err := ParseEvidence(ext.Value)
	if err != nil {
		return false, serrors.WrapStr("parsing SNP evidence", err)
	}

	intermediates := x509.NewCertPool()
	intermediates.AddCert(evidence.ASK)
	if _, err := trust.VerifyChain(evidence.VCEK, intermediates, v.roots); err != nil {
		return false, serrors.WrapStr("verifying VCEK certificate chain", err)
	}

	vcekPub, ok := evidence.VCEK.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return false, serrors.New("VCEK certificate does not carry an ECDSA public key")
	}
	digest := sha512.Sum384(evidence.Report.SignedData())
	r, s := evidence.Report.Signature()
	if !ecdsa.Verify(vcekPub, digest[:], r, s) {
		return false, serrors.New("SNP report signature verification failed")
	}

	if !debug && evidence.Report.DebugAllowed() {
		return false, serrors.New("SNP report has debug policy set outside debug mode")
	}

	expectBind := sha256.Sum256(csr.RawSubjectPublicKeyInfo)
	if !bytes.Equal(evidence.Report.ReportData()[:32], expectBind[:]) {
		return false, serrors.New("SNP report is not bound to this certificate request's public key")
	}

	return true, nil
}
