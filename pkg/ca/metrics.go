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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus instrumentation for the issuance
// endpoint. A single package-level registerer (prometheus.DefaultRegisterer)
// is used, matching the teacher's metrics setup.
type metrics struct {
	issuanceTotal    *prometheus.CounterVec
	issuanceDuration prometheus.Histogram
}

// metricsOnce guards registration: the issuance collectors are registered
// against prometheus.DefaultRegisterer at most once per process, so a
// second NewServer (e.g. in tests) reuses them instead of panicking on
// a duplicate registration.
var (
	metricsOnce sync.Once
	sharedMetrics *metrics
)

func newMetrics() *metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &metrics{
			issuanceTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "steward",
				Name:      "issuance_total",
				Help:      "Total number of issuance requests by result.",
			}, []string{"result"}),
			issuanceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "steward",
				Name:      "issuance_duration_seconds",
				Help:      "Time to service a single issuance request.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
	})
	return sharedMetrics
}

// observe records the outcome of one issuance attempt.
func (m *metrics) observe(result string, seconds float64) {
	m.issuanceTotal.WithLabelValues(result).Inc()
	m.issuanceDuration.Observe(seconds)
}
