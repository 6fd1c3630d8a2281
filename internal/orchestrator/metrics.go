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

package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics mirrors pkg/ingestion/metrics.go's sync.Once-guarded singleton:
// one counter per run outcome (started, completed, failed) plus a duration
// histogram and a failure counter per step. No gauge is used, so a run that
// never completes (process killed mid-step) doesn't leave a gauge stuck
// non-zero.
type metrics struct {
	once sync.Once

	runsStarted   prometheus.Counter
	runsCompleted prometheus.Counter
	runsFailed    prometheus.Counter

	stepDuration *prometheus.HistogramVec
	stepFailures *prometheus.CounterVec
}

var orchMetrics metrics

func (m *metrics) init() {
	m.once.Do(func() {
		m.runsStarted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kgpipe_pipeline_runs_started_total", Help: "PipelineRuns started",
		})
		m.runsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kgpipe_pipeline_runs_completed_total", Help: "PipelineRuns that reached status ready",
		})
		m.runsFailed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kgpipe_pipeline_runs_failed_total", Help: "PipelineRuns that ended in an error status",
		})
		m.stepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kgpipe_pipeline_step_seconds",
			Help:    "Duration of each named PipelineRun step",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"step"})
		m.stepFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kgpipe_pipeline_step_failures_total", Help: "Step failures by step name",
		}, []string{"step"})

		prometheus.MustRegister(m.runsStarted, m.runsCompleted, m.runsFailed, m.stepDuration, m.stepFailures)
	})
}
