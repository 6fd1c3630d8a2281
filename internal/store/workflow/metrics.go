// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics is the pkg/ingestion/metrics.go sync.Once singleton pattern
// again, this time tracking worker-pool occupancy: the count of runs
// currently executing against an Engine's bounded semaphore, across every
// tenant this process serves.
type metrics struct {
	once sync.Once

	activeRuns prometheus.Gauge
	debounced  prometheus.Counter
}

var wfMetrics metrics

func (m *metrics) init() {
	m.once.Do(func() {
		m.activeRuns = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kgpipe_workflow_active_runs", Help: "PipelineRuns currently executing on the worker pool",
		})
		m.debounced = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kgpipe_workflow_signals_debounced_total", Help: "Signals dropped because a debounce window was already open",
		})
		prometheus.MustRegister(m.activeRuns, m.debounced)
	})
}
