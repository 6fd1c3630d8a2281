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

// Package workflow is the production store.WorkflowEngine adapter. Runs
// execute on a bounded worker pool (golang.org/x/sync/semaphore), the same
// job/result concurrency shape pkg/ingestion/local_pipeline.go's
// parseFilesParallel uses for parsing, generalized here from a fixed batch
// of parse jobs to a long-lived pool of pipeline runs. A CacheStore-backed
// lock debounces re-index signals for 60 seconds per (org_id, repo_id),
// per §4.1's trigger rules.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
)

// DebounceWindow is the signal-coalescing window of §4.1: a webhook push
// arriving while a run is debounced for the same repo is dropped, not
// queued, since the in-flight (or about-to-start) run will see it.
const DebounceWindow = 60 * time.Second

// Engine is the semaphore-bounded production WorkflowEngine.
type Engine struct {
	relational store.RelationalStore
	cache      store.CacheStore
	runner     store.WorkflowRunner
	sem        *semaphore.Weighted

	mu     sync.Mutex
	active map[string]string // "orgID/repoID" -> runID of the in-flight run
}

// New returns an Engine that executes runner for every StartRun/Signal,
// allowing at most concurrency runs in flight across all tenants at once.
func New(relational store.RelationalStore, cache store.CacheStore, runner store.WorkflowRunner, concurrency int64) *Engine {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Engine{
		relational: relational,
		cache:      cache,
		runner:     runner,
		sem:        semaphore.NewWeighted(concurrency),
		active:     make(map[string]string),
	}
}

func tenantTag(orgID, repoID string) string { return orgID + "/" + repoID }

// StartRun creates a PipelineRun row and launches it asynchronously on the
// worker pool, returning immediately with the new run's id. If a run is
// already in flight for this tenant it is returned instead of starting a
// second one, since §4.1 forbids overlapping runs per repo.
func (e *Engine) StartRun(ctx context.Context, orgID, repoID string, incremental bool) (string, error) {
	e.mu.Lock()
	if existing, ok := e.active[tenantTag(orgID, repoID)]; ok {
		e.mu.Unlock()
		return existing, nil
	}
	e.mu.Unlock()

	runID := uuid.NewString()
	run := &model.PipelineRun{
		RunID:     runID,
		OrgID:     orgID,
		RepoID:    repoID,
		StartedAt: time.Now().UTC(),
	}
	if err := e.relational.CreatePipelineRun(ctx, run); err != nil {
		return "", fmt.Errorf("workflow: create run: %w", err)
	}

	e.mu.Lock()
	e.active[tenantTag(orgID, repoID)] = runID
	e.mu.Unlock()

	go e.execute(context.WithoutCancel(ctx), orgID, repoID, runID, incremental, run)
	return runID, nil
}

func (e *Engine) execute(ctx context.Context, orgID, repoID, runID string, incremental bool, run *model.PipelineRun) {
	defer func() {
		e.mu.Lock()
		delete(e.active, tenantTag(orgID, repoID))
		e.mu.Unlock()
	}()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer e.sem.Release(1)

	wfMetrics.init()
	wfMetrics.activeRuns.Inc()
	defer wfMetrics.activeRuns.Dec()

	runErr := e.runner(ctx, orgID, repoID, incremental, run)
	now := time.Now().UTC()
	run.CompletedAt = &now
	if runErr != nil && len(run.Steps) > 0 {
		run.Steps[len(run.Steps)-1].Error = runErr.Error()
	}
	_ = e.relational.UpdatePipelineRun(ctx, run)

	if e.cache != nil {
		payload := []byte(fmt.Sprintf(`{"run_id":%q,"completed":true,"error":%q}`, runID, errString(runErr)))
		_ = e.cache.Publish(ctx, progressChannel(orgID, repoID), payload)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// progressChannel is the CacheStore pub/sub channel name progress events
// for a tenant's runs are published to (§4.1.10).
func progressChannel(orgID, repoID string) string {
	return fmt.Sprintf("kgpipe:progress:%s:%s", orgID, repoID)
}

// Signal debounces re-index triggers for DebounceWindow per tenant, then
// starts a run. A signal arriving inside an already-open debounce window is
// dropped silently, per §4.1: the repo's in-flight or about-to-start run
// will already cover it.
func (e *Engine) Signal(ctx context.Context, orgID, repoID string, signal store.Signal) error {
	key := fmt.Sprintf("kgpipe:debounce:%s:%s", orgID, repoID)
	acquired, err := e.cache.SetIfAbsent(ctx, key, string(signal), DebounceWindow)
	if err != nil {
		return fmt.Errorf("workflow: debounce lock: %w", err)
	}
	if !acquired {
		wfMetrics.init()
		wfMetrics.debounced.Inc()
		return nil
	}
	incremental := signal != store.SignalManualIndex
	_, err = e.StartRun(ctx, orgID, repoID, incremental)
	return err
}

// RunStatus reads back the current PipelineRun row.
func (e *Engine) RunStatus(ctx context.Context, orgID, repoID, runID string) (*model.PipelineRun, error) {
	return e.relational.GetPipelineRun(ctx, orgID, repoID, runID)
}

var _ store.WorkflowEngine = (*Engine)(nil)
