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

package ca

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scionproto/steward/pkg/verify"
)

// leafValidity is the lifetime of every issued leaf certificate.
const leafValidity = 24 * time.Hour

// subjectDomain is the fixed domain every issued leaf's CommonName is
// rooted at; only the UUIDv4 label varies per issuance.
const subjectDomain = "foo.bar.hub.profian.com"

// idExtensionRequest is the PKCS#9 extensionRequest attribute OID
// (1.2.840.113549.1.9.14), the only CSR attribute this engine accepts.
var idExtensionRequest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 14}

// pkcs10ContentType is the only Content-Type the issuance endpoint
// accepts.
const pkcs10ContentType = "application/pkcs10"

// Issuer ties an IssuerState to a verifier registry and runs the
// attestation-to-certificate pipeline described in the issuance engine
// design: CSR decode, self-signature check, per-extension verifier
// dispatch, leaf construction, signing, and PkiPath encoding.
type Issuer struct {
	state    *IssuerState
	registry verify.Registry
	log      *zap.Logger
}

// NewIssuer builds an Issuer from a loaded or generated IssuerState and a
// closed verifier registry.
func NewIssuer(state *IssuerState, registry verify.Registry, log *zap.Logger) *Issuer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Issuer{state: state, registry: registry, log: log}
}

// Certificate exposes the issuer certificate, e.g. for a health check or
// admin endpoint.
func (iss *Issuer) Certificate() *x509.Certificate {
	return iss.state.Certificate()
}

// Issue runs the full pipeline described in the issuance engine: decode,
// verify, dispatch, build, sign, encode. contentType is the request's
// Content-Type header value; body is the raw request body. The returned
// bytes, on success, are a DER-encoded PkiPath of [issuer, leaf].
func (iss *Issuer) Issue(ctx context.Context, contentType string, body []byte) ([]byte, error) {
	if contentType != pkcs10ContentType {
		return nil, clientInputError("unexpected content type")
	}

	csr, err := x509.ParseCertificateRequest(body)
	if err != nil {
		return nil, clientInputError("malformed PKCS#10 certificate request")
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, clientInputError("certificate request signature does not verify")
	}

	debug := iss.state.debugMode()

	extensions, attested, err := iss.runVerifiers(csr, debug)
	if err != nil {
		return nil, err
	}
	if !attested {
		return nil, &NotAttestedError{}
	}

	leaf, err := iss.buildLeaf(csr, extensions)
	if err != nil {
		return nil, err
	}

	pkiPath, err := encodePkiPath(iss.state.Certificate().Raw, leaf)
	if err != nil {
		return nil, internalError("encoding PkiPath: " + err.Error())
	}

	iss.log.Info("issued leaf certificate", zap.Int("pki_path_len", len(pkiPath)))

	return pkiPath, nil
}

// runVerifiers walks the CSR's extensionRequest attribute (spec §4.1
// steps 5-6). Go's x509.ParseCertificateRequest already decodes that
// attribute's SEQUENCE OF Extension into csr.Extensions; Attributes is
// only consulted to reject any attribute that isn't extensionRequest
// itself, since the spec requires failing closed on unrecognized
// attribute kinds rather than silently ignoring them.
func (iss *Issuer) runVerifiers(csr *x509.CertificateRequest, debug bool) ([]pkix.Extension, bool, error) {
	for _, attr := range csr.Attributes {
		if !attr.Type.Equal(idExtensionRequest) {
			return nil, false, clientInputError("unsupported CSR attribute")
		}
	}

	var toCopy []pkix.Extension
	attested := false

	for _, ext := range csr.Extensions {
		v, ok := iss.registry.Lookup(ext.Id)
		if !ok {
			return nil, false, clientInputError("unsupported attestation extension OID")
		}
		copyExt, err := v.Verify(csr, ext, debug)
		if err != nil {
			return nil, false, clientInputError("attestation verification failed: " + err.Error())
		}
		if v.Attests() {
			attested = true
		}
		if copyExt {
			toCopy = append(toCopy, ext)
		}
	}
	return toCopy, attested, nil
}

// buildLeaf constructs and signs the issued leaf certificate per the
// "Issued Leaf" data model entry: fresh serial, 24h validity, issuer DN
// from the issuer certificate, a CN=<uuidv4>.foo.bar.hub.profian.com
// subject, the CSR's public key verbatim, the verifier-copied
// extensions, and the configured SAN override if present.
func (iss *Issuer) buildLeaf(csr *x509.CertificateRequest, extensions []pkix.Extension) ([]byte, error) {
	signer, err := iss.state.signer()
	if err != nil {
		return nil, internalError("loading issuer signing key: " + err.Error())
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, internalError("generating leaf subject identifier: " + err.Error())
	}
	commonName := id.String() + "." + subjectDomain

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:    iss.state.nextSerial(),
		Subject:         pkix.Name{CommonName: commonName},
		NotBefore:       now,
		NotAfter:        now.Add(leafValidity),
		ExtraExtensions: extensions,
	}
	if san := iss.state.SANOverride; san != "" {
		tmpl.DNSNames = []string{san}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, iss.state.Certificate(), csr.PublicKey, signer)
	if err != nil {
		return nil, internalError("signing leaf certificate: " + err.Error())
	}
	return der, nil
}

// pkiPathASN1 is the ASN.1 shape of a PkiPath: SEQUENCE OF Certificate,
// where each element is the raw DER of an x509.Certificate.
type pkiPathASN1 []asn1.RawValue

func encodePkiPath(issuerDER, leafDER []byte) ([]byte, error) {
	path := pkiPathASN1{
		{FullBytes: issuerDER},
		{FullBytes: leafDER},
	}
	return asn1.Marshal(path)
}
