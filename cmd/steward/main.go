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

// Command steward runs the attestation-gated certificate authority: an
// HTTP endpoint that issues short-lived leaf certificates to clients
// that present a PKCS#10 CSR bearing verifiable TEE attestation
// evidence.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/scionproto/steward/internal/log"
	"github.com/scionproto/steward/pkg/ca"
	"github.com/scionproto/steward/pkg/verify"
	"github.com/scionproto/steward/pkg/verify/kvm"
	"github.com/scionproto/steward/pkg/verify/sgx"
	"github.com/scionproto/steward/pkg/verify/snp"
)

const envPrefix = "STEWARD"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "steward",
		Short: "Attestation-gated certificate authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	flags := cmd.Flags()
	flags.String("key", "", "path to the issuer PKCS#8 PEM private key")
	flags.String("crt", "", "path to the issuer X.509 PEM certificate")
	flags.Uint16("port", 3000, "listen port")
	flags.String("addr", "::", "listen address")
	flags.String("host", "", "common name for an ephemeral self-signed issuer, used when key/crt are unset")
	flags.String("san", "", "optional DNS SubjectAltName appended to every issued leaf")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("metrics-addr", "", "address to serve Prometheus metrics on; empty disables it")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return cmd
}

func run(v *viper.Viper) error {
	logger := log.Setup(log.Config{Level: v.GetString("log-level")})
	defer func() { _ = logger.Sync() }()

	state, err := loadOrGenerateIssuer(v)
	if err != nil {
		logger.Fatal("invalid issuer configuration", zap.Error(err))
		return err
	}

	registry := verify.NewRegistry(kvm.New(), sgx.New(), snp.New())
	issuer := ca.NewIssuer(state, registry, logger)
	server := ca.NewServer(issuer, logger)

	if metricsAddr := v.GetString("metrics-addr"); metricsAddr != "" {
		go serveMetrics(logger, metricsAddr)
	}

	addr := net.JoinHostPort(v.GetString("addr"), strconv.Itoa(v.GetInt("port")))
	logger.Info("listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, server.Handler())
}

// loadOrGenerateIssuer implements the startup-config invariant: exactly
// one of {key and crt} or {host, with key/crt unset} must hold.
func loadOrGenerateIssuer(v *viper.Viper) (*ca.IssuerState, error) {
	key, crt, host := v.GetString("key"), v.GetString("crt"), v.GetString("host")
	san := v.GetString("san")

	onDisk := key != "" || crt != ""
	switch {
	case onDisk && host != "":
		return nil, fmt.Errorf("exactly one of {key,crt} or {host} must be set, not both")
	case onDisk:
		if key == "" || crt == "" {
			return nil, fmt.Errorf("both key and crt must be set together")
		}
		return ca.LoadIssuer(key, crt, san)
	case host != "":
		return ca.GenerateIssuer(host, san)
	default:
		return nil, fmt.Errorf("one of {key,crt} or {host} must be set")
	}
}

func serveMetrics(logger *zap.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", zap.Error(err))
	}
}
