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
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Server is the HTTP surface described in the issuance engine design: a
// single POST endpoint running the issuance pipeline, and a GET health
// probe, both at "/". No other paths are routed; besides GET and POST,
// the CORS middleware answers browser preflight (OPTIONS) requests.
type Server struct {
	issuer  *Issuer
	metrics *metrics
	log     *zap.Logger
}

// NewServer builds the chi router for the issuance endpoint.
func NewServer(issuer *Issuer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{issuer: issuer, metrics: newMetrics(), log: log}
}

// Handler returns the fully configured chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/", s.health)
	r.Post("/", s.issue)
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// maxBodyBytes bounds the request body the server will read before
// giving up; PKCS#10 CSRs carrying attestation evidence run at most a
// few kilobytes, so this generously covers every real client while
// capping the cost of a malicious oversized body.
const maxBodyBytes = 1 << 20 // 1 MiB

func (s *Server) issue(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		s.fail(w, clientInputError("reading request body"), start)
		return
	}
	if len(body) > maxBodyBytes {
		s.fail(w, clientInputError("request body too large"), start)
		return
	}

	pkiPath, err := s.issuer.Issue(r.Context(), r.Header.Get("Content-Type"), body)
	if err != nil {
		s.fail(w, err, start)
		return
	}

	s.metrics.observe("success", time.Since(start).Seconds())
	w.Header().Set("Content-Type", "application/pkix-pkipath")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pkiPath)
}

func (s *Server) fail(w http.ResponseWriter, err error, start time.Time) {
	status := httpStatus(err)
	s.metrics.observe(resultLabel(status), time.Since(start).Seconds())
	s.log.Info("issuance request failed", zap.Error(err), zap.Int("status", status))
	w.WriteHeader(status)
}

func resultLabel(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "not_attested"
	default:
		return "internal_error"
	}
}
