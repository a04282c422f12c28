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

// Package ca implements the issuance engine: CSR verification, attestation
// verifier dispatch, and leaf certificate construction/signing.
package ca

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/pem"
	"math/big"
	"os"
	"sync/atomic"
	"time"

	"github.com/scionproto/steward/internal/serrors"
	"github.com/scionproto/steward/internal/zeroize"
)

// selfSignedValidity is the lifetime of an ephemerally generated issuer
// certificate.
const selfSignedValidity = 365 * 24 * time.Hour

// IssuerState is the process-wide, read-mostly state shared by every
// request. Only serialCounter is mutated after startup.
type IssuerState struct {
	key  *zeroize.Bytes // PKCS#8 DER of an ECDSA P-256 private key
	cert *x509.Certificate

	serialCounter atomic.Uint64

	// SANOverride, if set, is appended as a DNS SubjectAltName to every
	// issued leaf.
	SANOverride string
}

// LoadIssuer reads the issuer key and certificate from PEM files on disk.
func LoadIssuer(keyPath, crtPath, san string) (*IssuerState, error) {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, serrors.WrapStr("reading issuer key file", err, "path", keyPath)
	}
	crtPEM, err := os.ReadFile(crtPath)
	if err != nil {
		return nil, serrors.WrapStr("reading issuer certificate file", err, "path", crtPath)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil || keyBlock.Type != "PRIVATE KEY" {
		return nil, serrors.New("issuer key file is not a PKCS#8 PEM private key", "path", keyPath)
	}
	if _, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes); err != nil {
		return nil, serrors.WrapStr("parsing issuer private key", err)
	}

	crtBlock, _ := pem.Decode(crtPEM)
	if crtBlock == nil || crtBlock.Type != "CERTIFICATE" {
		return nil, serrors.New("issuer certificate file is not a PEM certificate", "path", crtPath)
	}
	cert, err := x509.ParseCertificate(crtBlock.Bytes)
	if err != nil {
		return nil, serrors.WrapStr("parsing issuer certificate", err)
	}

	return newState(keyBlock.Bytes, cert, san), nil
}

// GenerateIssuer creates an ephemeral, self-signed P-256 issuer with the
// given CN. It is used when no on-disk key/certificate pair is
// configured (spec: the `host` flag path).
func GenerateIssuer(commonName, san string) (*IssuerState, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, serrors.WrapStr("generating issuer key", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, serrors.WrapStr("encoding issuer key", err)
	}

	now := time.Now()
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now,
		NotAfter:     now.Add(selfSignedValidity),
		KeyUsage:     x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, serrors.WrapStr("self-signing issuer certificate", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, serrors.WrapStr("parsing self-signed issuer certificate", err)
	}

	return newState(keyDER, cert, san), nil
}

func newState(keyDER []byte, cert *x509.Certificate, san string) *IssuerState {
	s := &IssuerState{
		key:         zeroize.New(keyDER),
		cert:        cert,
		SANOverride: san,
	}
	s.serialCounter.Store(1)
	return s
}

// Certificate returns the issuer certificate.
func (s *IssuerState) Certificate() *x509.Certificate {
	return s.cert
}

// signer parses the issuer private key on demand rather than keeping a
// live crypto.Signer around, so the only long-lived representation of
// the secret is the zeroizable DER buffer.
func (s *IssuerState) signer() (*ecdsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(s.key.Bytes())
	if err != nil {
		return nil, serrors.WrapStr("parsing issuer private key", err)
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, serrors.New("issuer private key is not ECDSA")
	}
	return priv, nil
}

// nextSerial returns the next serial number as a minimal-length
// big-endian integer, per the monotonic counter design (see SPEC_FULL.md
// §11). It is safe for concurrent use.
func (s *IssuerState) nextSerial() *big.Int {
	v := s.serialCounter.Add(1) - 1
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return new(big.Int).SetBytes(b)
}

// debugMode reports whether the issuer certificate is self-signed: a
// production deployment chains to a real CA and can never accidentally
// satisfy this.
func (s *IssuerState) debugMode() bool {
	if !bytes.Equal(s.cert.RawIssuer, s.cert.RawSubject) {
		return false
	}
	return s.cert.CheckSignatureFrom(s.cert) == nil
}

// randomSerial generates a random 20-byte serial number, mirroring
// scion's own CAPolicy.CreateChain. Used only for the self-signed issuer
// certificate generated at startup, never for leaves.
func randomSerial() (*big.Int, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return nil, serrors.WrapStr("generating random serial number", err)
	}
	return new(big.Int).SetBytes(buf), nil
}
