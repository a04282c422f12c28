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

// Package sgx implements the Intel SGX DCAP attestation verifier: it
// parses a quote, walks its PCK certificate chain to the embedded Intel
// SGX Root CA, verifies the QE report and ISV report signatures, and
// binds the ISV report's report_data to the CSR's public key.
package sgx

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"

	"github.com/scionproto/steward/internal/serrors"
	"github.com/scionproto/steward/pkg/trust"
)

// OID identifies the SGX DCAP quote extension.
var OID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 55704, 2}

// unknownQuoteMarker is the designated debug-mode bypass vector. It lets
// CI and local development exercise the SGX code path without real
// hardware: in debug mode (self-signed issuer) this exact value is
// accepted without being parsed or cryptographically checked.
var unknownQuoteMarker = []byte("steward:sgx:quote.unknown")

// Verifier validates DCAP ECDSA-P256 SGX quotes.
type Verifier struct {
	roots *x509.CertPool
}

// New returns a verifier rooted at the embedded Intel SGX Root CA.
func New() Verifier {
	return Verifier{roots: trust.SGXRoots()}
}

// NewWithRoots returns a verifier rooted at a caller-supplied pool,
// letting tests substitute a synthetic PCK chain instead of Intel's.
func NewWithRoots(roots *x509.CertPool) Verifier {
	return Verifier{roots: roots}
}

// OID implements verify.Verifier.
func (Verifier) OID() asn1.ObjectIdentifier { return OID }

// Attests implements verify.Verifier: a verified SGX quote alone
// authorizes issuance.
func (Verifier) Attests() bool { return true }

// Verify implements verify.Verifier.
func (v Verifier) Verify(csr *x509.CertificateRequest, ext pkix.Extension, debug bool) (bool, error) {
	if debug && bytes.Equal(ext.Value, unknownQuoteMarker) {
		return true, nil
	}

	quote, err := ParseQuote(ext.Value)
	if err != nil {
		return false, serrors.WrapStr("parsing SGX quote", err)
	}

	if len(quote.CertChain) == 0 {
		return false, serrors.New("SGX quote carried no PCK certificate chain")
	}
	pckLeaf := quote.CertChain[0]
	intermediates := x509.NewCertPool()
	for _, c := range quote.CertChain[1:] {
		intermediates.AddCert(c)
	}
	if _, err := trust.VerifyChain(pckLeaf, intermediates, v.roots); err != nil {
		return false, serrors.WrapStr("verifying PCK certificate chain", err)
	}

	pckPub, ok := pckLeaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return false, serrors.New("PCK leaf certificate does not carry an ECDSA public key")
	}
	if err := verifyECDSASignature(pckPub, quote.QEReport.raw[:], quote.QEReportSignature); err != nil {
		return false, serrors.WrapStr("verifying QE report signature", err)
	}

	attestKey, err := unmarshalAttestationKey(quote.AttestationKey)
	if err != nil {
		return false, serrors.WrapStr("decoding attestation public key", err)
	}

	// Intel DCAP convention: the QE report binds the attestation key and
	// any QE auth data via its own report_data.
	expectQEData := sha256.Sum256(append(append([]byte{}, quote.AttestationKey[:]...), quote.QEAuthData...))
	if !bytes.Equal(quote.QEReport.ReportData[:32], expectQEData[:]) {
		return false, serrors.New("QE report report_data does not match attestation key binding")
	}

	headerAndReport := append(append([]byte{}, quote.Header.raw[:]...), quote.Report.raw[:]...)
	if err := verifyECDSASignature(attestKey, headerAndReport, quote.QuoteSignature); err != nil {
		return false, serrors.WrapStr("verifying ISV enclave report signature", err)
	}

	expectBind := sha256.Sum256(csr.RawSubjectPublicKeyInfo)
	if !bytes.Equal(quote.Report.ReportData[:32], expectBind[:]) {
		return false, serrors.New("SGX quote is not bound to this certificate request's public key")
	}

	return true, nil
}

func verifyECDSASignature(pub *ecdsa.PublicKey, msg []byte, sig [ecdsaSigLen]byte) error {
	digest := sha256.Sum256(msg)
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return serrors.New("ECDSA signature verification failed")
	}
	return nil
}

func unmarshalAttestationKey(raw [ecdsaPubKeyLen]byte) (*ecdsa.PublicKey, error) {
	curve := elliptic.P256()
	x := new(big.Int).SetBytes(raw[:32])
	y := new(big.Int).SetBytes(raw[32:])
	if !curve.IsOnCurve(x, y) {
		return nil, serrors.New("attestation public key is not a valid P-256 point")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}
