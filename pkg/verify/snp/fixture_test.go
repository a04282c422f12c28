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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testSynthSNPChain struct {
	ark, ask, vcek *x509.Certificate
	vcekKey        *ecdsa.PrivateKey
}

func loadSynthSNPChain(t *testing.T) *testSynthSNPChain {
	t.Helper()
	dir := filepath.Join("..", "..", "ca", "testdata", "snp")

	ark := parseCertFile(t, filepath.Join(dir, "ark.pem"))
	ask := parseCertFile(t, filepath.Join(dir, "ask.pem"))
	vcek := parseCertFile(t, filepath.Join(dir, "vcek.pem"))

	keyPEM, err := os.ReadFile(filepath.Join(dir, "vcek.key"))
	require.NoError(t, err)
	block, _ := pem.Decode(keyPEM)
	require.NotNil(t, block)
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	require.NoError(t, err)
	priv, ok := key.(*ecdsa.PrivateKey)
	require.True(t, ok)

	return &testSynthSNPChain{ark: ark, ask: ask, vcek: vcek, vcekKey: priv}
}

func parseCertFile(t *testing.T, path string) *x509.Certificate {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	block, _ := pem.Decode(b)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return cert
}

func rootPoolFor(chain *testSynthSNPChain) *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(chain.ark)
	return pool
}

// buildTestCSR generates a fresh ECDSA P-384 CSR, matching the key size
// AMD SNP deployments typically pair with VCEK-signed workloads.
func buildTestCSR(t *testing.T) *x509.CertificateRequest {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.CertificateRequest{Subject: pkix.Name{CommonName: "snp-client"}}
	der, err := x509.CreateCertificateRequest(rand.Reader, tmpl, priv)
	require.NoError(t, err)
	csr, err := x509.ParseCertificateRequest(der)
	require.NoError(t, err)
	return csr
}

// buildValidReport constructs a full 1184-byte SNP attestation report
// bound to csr's public key and signed with the synthetic VCEK key.
func buildValidReport(t *testing.T, chain *testSynthSNPChain, csr *x509.CertificateRequest, debug bool) []byte {
	t.Helper()
	raw := make([]byte, reportLen)
	if debug {
		raw[offPolicy] = 0x00
		raw[offPolicy+2] = 0x08 // bit 19 -> byte 2, bit 3 of policy (little-endian)
	}
	bind := sha256.Sum256(csr.RawSubjectPublicKeyInfo)
	copy(raw[offReportData:offReportData+32], bind[:])

	digest := sha512.Sum384(raw[:signedDataLen])
	r, s, err := ecdsa.Sign(rand.Reader, chain.vcekKey, digest[:])
	require.NoError(t, err)

	// report.go's Signature() reverses the full componentLen-wide
	// little-endian field back into a big-endian value before calling
	// SetBytes, so the fixture must store the byte-reversal of r/s's
	// full-width, zero-padded big-endian form (not a value-then-padding
	// layout), for the round trip to reproduce r and s exactly.
	rBytes := make([]byte, componentLen)
	r.FillBytes(rBytes)
	sBytes := make([]byte, componentLen)
	s.FillBytes(sBytes)
	copy(raw[offSignature:offSignature+componentLen], reverseBytes(rBytes))
	copy(raw[offSignature+componentLen:offSignature+2*componentLen], reverseBytes(sBytes))

	return raw
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
