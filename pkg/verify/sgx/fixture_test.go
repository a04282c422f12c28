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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testSynthChain loads the fully self-signable synthetic PCK chain
// (root, platform CA, leaf + leaf private key) used to build quotes with
// real, verifiable signatures in tests.
type testSynthChain struct {
	root, platform, leaf *x509.Certificate
	leafKey               *ecdsa.PrivateKey
	leafPEMChain          []byte
}

func loadSynthChain(t *testing.T) *testSynthChain {
	t.Helper()
	dir := filepath.Join("..", "..", "ca", "testdata", "sgx", "synth")

	root := parsePEMCertFile(t, filepath.Join(dir, "root.pem"))
	platform := parsePEMCertFile(t, filepath.Join(dir, "platform.pem"))
	leaf := parsePEMCertFile(t, filepath.Join(dir, "pckleaf.pem"))

	keyPEM, err := os.ReadFile(filepath.Join(dir, "pckleaf_pkcs8.key"))
	require.NoError(t, err)
	key := parsePKCS8ECKey(t, keyPEM)

	chainPEM := concatPEMFiles(t,
		filepath.Join(dir, "pckleaf.pem"),
		filepath.Join(dir, "platform.pem"),
		filepath.Join(dir, "root.pem"))

	return &testSynthChain{root: root, platform: platform, leaf: leaf, leafKey: key, leafPEMChain: chainPEM}
}

func testSGXRoots(t *testing.T, chain *testSynthChain) *x509.CertPool {
	t.Helper()
	pool := x509.NewCertPool()
	pool.AddCert(chain.root)
	return pool
}

// buildTestCSR generates a fresh ECDSA P-256 CSR and returns it parsed.
func buildTestCSR(t *testing.T) *x509.CertificateRequest {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.CertificateRequest{Subject: pkix.Name{CommonName: "sgx-client"}}
	der, err := x509.CreateCertificateRequest(rand.Reader, tmpl, priv)
	require.NoError(t, err)
	csr, err := x509.ParseCertificateRequest(der)
	require.NoError(t, err)
	return csr
}

// buildValidQuote constructs a fully self-consistent DCAP quote bound to
// csr's public key, signed end to end with fresh ephemeral keys and the
// synthetic PCK chain's leaf key. corrupt, if non-nil, is applied to the
// raw bytes just before returning, to exercise failure paths.
func buildValidQuote(t *testing.T, chain *testSynthChain, csr *x509.CertificateRequest, corrupt func([]byte) []byte) []byte {
	t.Helper()

	attestKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	var attestKeyRaw [ecdsaPubKeyLen]byte
	attestKey.PublicKey.X.FillBytes(attestKeyRaw[:32])
	attestKey.PublicKey.Y.FillBytes(attestKeyRaw[32:])

	qeAuthData := []byte{}

	isvReport := make([]byte, enclaveReportLen)
	bind := sha256.Sum256(csr.RawSubjectPublicKeyInfo)
	copy(isvReport[320:320+64], bind[:32])

	header := make([]byte, headerLen)
	binary.LittleEndian.PutUint16(header[0:2], 3)  // version
	binary.LittleEndian.PutUint16(header[2:4], 2)  // ECDSA-P256 key type
	binary.LittleEndian.PutUint32(header[4:8], 0)  // TEE type: SGX

	quoteSig := signDigest(t, attestKey, append(append([]byte{}, header...), isvReport...))

	qeReport := make([]byte, enclaveReportLen)
	qeBind := sha256.Sum256(append(append([]byte{}, attestKeyRaw[:]...), qeAuthData...))
	copy(qeReport[320:320+64], qeBind[:32])

	qeReportSig := signDigest(t, chain.leafKey, qeReport)

	var buf []byte
	buf = append(buf, header...)
	buf = append(buf, isvReport...)

	sigSection := buildSignatureSection(quoteSig, attestKeyRaw, qeReport, qeReportSig, qeAuthData, chain.leafPEMChain)
	sigLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(sigLen, uint32(len(sigSection)))
	buf = append(buf, sigLen...)
	buf = append(buf, sigSection...)

	if corrupt != nil {
		buf = corrupt(buf)
	}
	return buf
}

func buildSignatureSection(quoteSig [ecdsaSigLen]byte, attestKeyRaw [ecdsaPubKeyLen]byte, qeReport []byte, qeReportSig [ecdsaSigLen]byte, qeAuthData, certChainPEM []byte) []byte {
	var buf []byte
	buf = append(buf, quoteSig[:]...)
	buf = append(buf, attestKeyRaw[:]...)
	buf = append(buf, qeReport...)
	buf = append(buf, qeReportSig[:]...)

	authLen := make([]byte, 2)
	binary.LittleEndian.PutUint16(authLen, uint16(len(qeAuthData)))
	buf = append(buf, authLen...)
	buf = append(buf, qeAuthData...)

	certType := make([]byte, 2)
	binary.LittleEndian.PutUint16(certType, certTypePCKCertChain)
	buf = append(buf, certType...)

	certLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(certLen, uint32(len(certChainPEM)))
	buf = append(buf, certLen...)
	buf = append(buf, certChainPEM...)

	return buf
}

func signDigest(t *testing.T, priv *ecdsa.PrivateKey, msg []byte) [ecdsaSigLen]byte {
	t.Helper()
	digest := sha256.Sum256(msg)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	require.NoError(t, err)
	var out [ecdsaSigLen]byte
	r.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out
}

func parsePEMCertFile(t *testing.T, path string) *x509.Certificate {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	block, _ := pemDecodeOne(t, b)
	cert, err := x509.ParseCertificate(block)
	require.NoError(t, err)
	return cert
}

func pemDecodeOne(t *testing.T, b []byte) ([]byte, bool) {
	t.Helper()
	block, _ := pem.Decode(b)
	require.NotNil(t, block)
	return block.Bytes, true
}

func concatPEMFiles(t *testing.T, paths ...string) []byte {
	t.Helper()
	var out []byte
	for _, p := range paths {
		b, err := os.ReadFile(p)
		require.NoError(t, err)
		out = append(out, b...)
	}
	return out
}

func parsePKCS8ECKey(t *testing.T, pemBytes []byte) *ecdsa.PrivateKey {
	t.Helper()
	block, _ := pem.Decode(pemBytes)
	require.NotNil(t, block)
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	require.NoError(t, err)
	priv, ok := key.(*ecdsa.PrivateKey)
	require.True(t, ok)
	return priv
}
