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
	"encoding/binary"
	"math/big"

	"github.com/scionproto/steward/internal/serrors"
)

// Fixed byte offsets of the AMD SEV-SNP ATTESTATION_REPORT structure, per
// the SEV-SNP ABI specification. Only the fields this verifier inspects
// are named; everything else is treated as opaque payload preserved
// verbatim when the extension is copied into the issued leaf.
const (
	offVersion     = 0x000
	offPolicy      = 0x008
	lenPolicy      = 8
	offReportData  = 0x050
	lenReportData  = 64
	offMeasurement = 0x090
	lenMeasurement = 48

	// signedDataLen is the length of the report prefix covered by the
	// signature (everything before the SIGNATURE field).
	signedDataLen = 0x2A0
	offSignature  = 0x2A0
	lenSignature  = 0x200
	// Within the 0x200-byte signature field, R and S are each stored
	// little-endian and zero-padded to 72 bytes (the ABI's fixed field
	// width; a P-384 component fills the low 48), per the SNP ABI's
	// ECDSA_SIG layout.
	componentLen = 72

	reportLen = 0x4A0 // 1184 bytes

	policyDebugBit = 1 << 19
)

// Report is a parsed AMD SEV-SNP attestation report.
type Report struct {
	raw []byte
}

// ParseReport validates the length and returns an accessor over a raw SNP
// attestation report.
func ParseReport(b []byte) (*Report, error) {
	if len(b) != reportLen {
		return nil, serrors.New("SNP report has unexpected length",
			"len", len(b), "want", reportLen)
	}
	return &Report{raw: append([]byte(nil), b...)}, nil
}

// Version returns the report format version.
func (r *Report) Version() uint32 {
	return binary.LittleEndian.Uint32(r.raw[offVersion : offVersion+4])
}

// Policy returns the raw guest policy bitfield.
func (r *Report) Policy() uint64 {
	return binary.LittleEndian.Uint64(r.raw[offPolicy : offPolicy+lenPolicy])
}

// DebugAllowed reports whether the guest policy permits running the
// guest under a debugger, i.e. this is a non-production attestation.
func (r *Report) DebugAllowed() bool {
	return r.Policy()&policyDebugBit != 0
}

// ReportData returns the 64-byte report_data field set by the attesting
// guest to bind the report to external data (here, the CSR public key).
func (r *Report) ReportData() []byte {
	return r.raw[offReportData : offReportData+lenReportData]
}

// Measurement returns the 48-byte launch measurement.
func (r *Report) Measurement() []byte {
	return r.raw[offMeasurement : offMeasurement+lenMeasurement]
}

// SignedData returns the report bytes covered by the signature.
func (r *Report) SignedData() []byte {
	return r.raw[:signedDataLen]
}

// Signature returns the report's ECDSA-P384 signature components.
func (r *Report) Signature() (rr, s *big.Int) {
	sig := r.raw[offSignature : offSignature+lenSignature]
	rBytes := reverse(sig[0:componentLen])
	sBytes := reverse(sig[componentLen : 2*componentLen])
	return new(big.Int).SetBytes(rBytes), new(big.Int).SetBytes(sBytes)
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
