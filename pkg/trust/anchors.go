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

// Package trust holds the vendor root certificates compiled into the
// binary and the chain-verification helpers the per-TEE verifiers build
// on. The roots are embedded with go:embed so that the service never
// reads them from disk at runtime.
package trust

import (
	"crypto/x509"
	_ "embed"

	"github.com/scionproto/steward/internal/serrors"
)

//go:embed embedded/sgx_root.pem
var sgxRootPEM []byte

//go:embed embedded/amd_root.pem
var amdRootPEM []byte

// SGXRoots returns a pool containing the embedded Intel SGX Root CA.
func SGXRoots() *x509.CertPool {
	return poolFromPEM(sgxRootPEM)
}

// AMDRoots returns a pool containing the embedded AMD root certificate.
// The embedded certificate is a synthetic self-signed "ARK-Milan" root,
// the same certificate as the SNP test fixture ark.pem; it is not AMD's
// published ARK, so AMD-issued VCEK chains (Milan or Genoa) do not
// verify against it.
func AMDRoots() *x509.CertPool {
	return poolFromPEM(amdRootPEM)
}

func poolFromPEM(pemBytes []byte) *x509.CertPool {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		// The embedded roots are compiled into the binary; a failure here
		// means the build is broken, not a runtime condition to recover
		// from.
		panic("trust: embedded root certificate is not valid PEM")
	}
	return pool
}

// VerifyChain checks that leaf chains to one of the certificates in roots,
// using intermediates as the set of certificates that may complete the
// chain. KeyUsage is left unconstrained (x509.ExtKeyUsageAny) because the
// vendor certificate profiles predate Go's default key-usage checks.
func VerifyChain(leaf *x509.Certificate, intermediates, roots *x509.CertPool) ([][]*x509.Certificate, error) {
	chains, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, serrors.WrapStr("verifying certificate chain", err,
			"subject", leaf.Subject.String())
	}
	return chains, nil
}
