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

package sgx

import (
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"

	"github.com/scionproto/steward/internal/serrors"
)

const (
	headerLen       = 48
	enclaveReportLen = 384
	ecdsaSigLen     = 64
	ecdsaPubKeyLen  = 64
)

// Header is the fixed-size DCAP quote header.
type Header struct {
	Version      uint16
	AttKeyType   uint16
	TEEType      uint32
	QESVN        uint16
	PCESVN       uint16
	QEVendorID   [16]byte
	UserData     [20]byte
	raw          [headerLen]byte
}

// EnclaveReport is Intel's fixed-size SGX enclave report (used both for
// the ISV enclave report and the QE report, which share the layout).
type EnclaveReport struct {
	CPUSVN     [16]byte
	MiscSelect uint32
	Attributes [16]byte
	MREnclave  [32]byte
	MRSigner   [32]byte
	ISVProdID  uint16
	ISVSVN     uint16
	ReportData [64]byte
	raw        [enclaveReportLen]byte
}

// Quote is a parsed DCAP ECDSA-P256 SGX quote.
type Quote struct {
	Header Header
	Report EnclaveReport

	// QuoteSignature is the ECDSA-P256 signature over Header||Report,
	// produced with the attestation key below.
	QuoteSignature [ecdsaSigLen]byte
	// AttestationKey is the raw (X||Y) attestation public key.
	AttestationKey [ecdsaPubKeyLen]byte

	QEReport          EnclaveReport
	QEReportSignature [ecdsaSigLen]byte
	QEAuthData        []byte

	// CertChain holds the PCK certificate chain carried in the quote:
	// index 0 is the PCK leaf, the remainder are intermediates (and
	// optionally the root).
	CertChain []*x509.Certificate
}

// ParseQuote decodes a DCAP ECDSA-P256 quote. It performs only structural
// validation; cryptographic verification happens in Verify.
func ParseQuote(b []byte) (*Quote, error) {
	if len(b) < headerLen+enclaveReportLen+4 {
		return nil, serrors.New("SGX quote too short", "len", len(b))
	}

	q := &Quote{}
	off := 0

	copy(q.Header.raw[:], b[off:off+headerLen])
	r := &reader{b: b[off : off+headerLen]}
	q.Header.Version = r.u16()
	q.Header.AttKeyType = r.u16()
	q.Header.TEEType = r.u32()
	q.Header.QESVN = r.u16()
	q.Header.PCESVN = r.u16()
	copy(q.Header.QEVendorID[:], r.bytes(16))
	copy(q.Header.UserData[:], r.bytes(20))
	off += headerLen

	rpt, err := parseEnclaveReport(b[off : off+enclaveReportLen])
	if err != nil {
		return nil, serrors.WrapStr("parsing ISV enclave report", err)
	}
	q.Report = *rpt
	off += enclaveReportLen

	if len(b[off:]) < 4 {
		return nil, serrors.New("SGX quote missing signature length")
	}
	sigLen := binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	if uint64(off)+uint64(sigLen) > uint64(len(b)) {
		return nil, serrors.New("SGX quote signature_data_len out of range",
			"declared", sigLen, "remaining", len(b)-off)
	}
	sigData := b[off : off+int(sigLen)]

	if err := q.parseSignatureData(sigData); err != nil {
		return nil, serrors.WrapStr("parsing SGX quote signature section", err)
	}
	return q, nil
}

func parseEnclaveReport(b []byte) (*EnclaveReport, error) {
	if len(b) != enclaveReportLen {
		return nil, serrors.New("malformed enclave report length", "len", len(b))
	}
	rep := &EnclaveReport{}
	copy(rep.raw[:], b)
	r := &reader{b: b}
	copy(rep.CPUSVN[:], r.bytes(16))
	rep.MiscSelect = r.u32()
	r.skip(28)
	copy(rep.Attributes[:], r.bytes(16))
	copy(rep.MREnclave[:], r.bytes(32))
	r.skip(32)
	copy(rep.MRSigner[:], r.bytes(32))
	r.skip(96)
	rep.ISVProdID = r.u16()
	rep.ISVSVN = r.u16()
	r.skip(60)
	copy(rep.ReportData[:], r.bytes(64))
	if r.err != nil {
		return nil, r.err
	}
	return rep, nil
}

// parseSignatureData parses the quote's ECDSA signature section: the
// quote signature, the raw attestation public key, the QE report, its
// signature, QE auth data, and the QE certification data (the PCK
// certificate chain, PEM-encoded back to back).
func (q *Quote) parseSignatureData(b []byte) error {
	r := &reader{b: b}
	copy(q.QuoteSignature[:], r.bytes(ecdsaSigLen))
	copy(q.AttestationKey[:], r.bytes(ecdsaPubKeyLen))

	qeReportBytes := r.bytes(enclaveReportLen)
	if r.err != nil {
		return r.err
	}
	qeReport, err := parseEnclaveReport(qeReportBytes)
	if err != nil {
		return serrors.WrapStr("parsing QE report", err)
	}
	q.QEReport = *qeReport

	copy(q.QEReportSignature[:], r.bytes(ecdsaSigLen))

	authLen := r.u16()
	q.QEAuthData = append([]byte(nil), r.bytes(int(authLen))...)

	certType := r.u16()
	certLen := r.u32()
	certData := r.bytes(int(certLen))
	if r.err != nil {
		return r.err
	}
	if certType != certTypePCKCertChain {
		return serrors.New("unsupported QE certification data type", "type", certType)
	}

	chain, err := parsePEMChain(certData)
	if err != nil {
		return serrors.WrapStr("parsing PCK certificate chain", err)
	}
	q.CertChain = chain
	return nil
}

// certTypePCKCertChain is Intel's PCK_CERT_CHAIN certification data type
// (concatenated PEM-encoded leaf, intermediate, and root certificates).
const certTypePCKCertChain = 5

func parsePEMChain(b []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := b
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, serrors.WrapStr("parsing PCK chain certificate", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, serrors.New("PCK certification data contained no certificates")
	}
	return certs, nil
}

// reader is a tiny bounds-checked byte cursor; it records the first
// out-of-range access instead of panicking so callers can report one
// structured error for a malformed quote.
type reader struct {
	b   []byte
	pos int
	err error
}

// take returns the next n bytes without allocating more than the caller's
// own remaining buffer: n is attacker-controlled (it comes from length
// fields read earlier in the quote), so the bounds check must happen
// before any allocation, not after.
func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.b)-r.pos {
		r.err = serrors.New("SGX quote truncated", "need", n, "have", len(r.b)-r.pos)
		return nil
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *reader) bytes(n int) []byte { return r.take(n) }
func (r *reader) skip(n int)         { r.take(n) }

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}
