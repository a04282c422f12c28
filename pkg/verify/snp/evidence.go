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

// Package snp implements the AMD SEV-SNP attestation verifier: it parses
// the DER-encoded Evidence{vcek, ask, report} extension value, verifies
// the VCEK chains through the ASK to the embedded AMD root, verifies the
// report's
// ECDSA-P384 signature under the VCEK key, and binds the report's
// report_data to the CSR's public key.
package snp

import (
	"crypto/x509"
	"encoding/asn1"

	"github.com/scionproto/steward/internal/serrors"
)

// evidenceASN1 is the wire form of Evidence: a VCEK certificate, the ASK
// (SEV-Milan/Genoa signing key) intermediate certificate that chains it
// to the AMD root, and a raw SEV-SNP attestation report — encoded as a
// DER SEQUENCE of three OCTET STRINGs. AMD's KDS only ever serves the
// VCEK chained through exactly one intermediate, so a single
// certificate is sufficient here (unlike SGX's open-ended PCK chain).
type evidenceASN1 struct {
	VCEK   []byte
	ASK    []byte
	Report []byte
}

// Evidence is a decoded SNP evidence extension value.
type Evidence struct {
	VCEK   *x509.Certificate
	ASK    *x509.Certificate
	Report *Report
}

// Marshal DER-encodes an Evidence value as the SEQUENCE {vcek, ask,
// report} that ParseEvidence reads. The server itself never calls it
// (evidence only ever flows in); it lets tests construct extension
// payloads the same way a client does.
func Marshal(vcekDER, askDER, report []byte) ([]byte, error) {
	return asn1.Marshal(evidenceASN1{VCEK: vcekDER, ASK: askDER, Report: report})
}

// ParseEvidence decodes and structurally validates an Evidence extension
// value.
func ParseEvidence(b []byte) (*Evidence, error) {
	var wire evidenceASN1
	rest, err := asn1.Unmarshal(b, &wire)
	if err != nil {
		return nil, serrors.WrapStr("decoding SNP evidence", err)
	}
	if len(rest) != 0 {
		return nil, serrors.New("trailing data after SNP evidence")
	}

	vcek, err := x509.ParseCertificate(wire.VCEK)
	if err != nil {
		return nil, serrors.WrapStr("parsing VCEK certificate", err)
	}
	ask, err := x509.ParseCertificate(wire.ASK)
	if err != nil {
		return nil, serrors.WrapStr("parsing ASK certificate", err)
	}
	report, err := ParseReport(wire.Report)
	if err != nil {
		return nil, serrors.WrapStr("parsing SEV-SNP attestation report", err)
	}
	return &Evidence{VCEK: vcek, ASK: ask, Report: report}, nil
}
