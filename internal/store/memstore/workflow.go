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

package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
)

// WorkflowEngine is an in-memory store.WorkflowEngine fake: it runs the
// injected store.WorkflowRunner synchronously, on the calling goroutine of
// StartRun, so tests observe a completed PipelineRun without needing to
// poll. Signal still honors the debounce window via CacheStore, so
// orchestrator tests can exercise the coalescing behavior deterministically.
type WorkflowEngine struct {
	mu         sync.Mutex
	relational RelationalStoreLike
	cache      store.CacheStore
	runner     store.WorkflowRunner
	nextID     int
}

// RelationalStoreLike is the subset of store.RelationalStore the fake
// workflow engine needs, satisfied by *RelationalStore.
type RelationalStoreLike interface {
	CreatePipelineRun(ctx context.Context, run *model.PipelineRun) error
	UpdatePipelineRun(ctx context.Context, run *model.PipelineRun) error
	GetPipelineRun(ctx context.Context, orgID, repoID, runID string) (*model.PipelineRun, error)
}

// NewWorkflowEngine returns a synchronous fake WorkflowEngine.
func NewWorkflowEngine(relational RelationalStoreLike, cache store.CacheStore, runner store.WorkflowRunner) *WorkflowEngine {
	return &WorkflowEngine{relational: relational, cache: cache, runner: runner}
}

func (e *WorkflowEngine) StartRun(ctx context.Context, orgID, repoID string, incremental bool) (string, error) {
	e.mu.Lock()
	e.nextID++
	runID := fmt.Sprintf("run-%d", e.nextID)
	e.mu.Unlock()

	run := &model.PipelineRun{RunID: runID, OrgID: orgID, RepoID: repoID, StartedAt: time.Now().UTC()}
	if err := e.relational.CreatePipelineRun(ctx, run); err != nil {
		return "", err
	}
	runErr := e.runner(ctx, orgID, repoID, incremental, run)
	now := time.Now().UTC()
	run.CompletedAt = &now
	if runErr != nil && len(run.Steps) > 0 {
		run.Steps[len(run.Steps)-1].Error = runErr.Error()
	}
	if err := e.relational.UpdatePipelineRun(ctx, run); err != nil {
		return runID, err
	}
	return runID, runErr
}

func (e *WorkflowEngine) Signal(ctx context.Context, orgID, repoID string, signal store.Signal) error {
	key := fmt.Sprintf("kgpipe:debounce:%s:%s", orgID, repoID)
	acquired, err := e.cache.SetIfAbsent(ctx, key, string(signal), 60*time.Second)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	_, err = e.StartRun(ctx, orgID, repoID, signal != store.SignalManualIndex)
	return err
}

func (e *WorkflowEngine) RunStatus(ctx context.Context, orgID, repoID, runID string) (*model.PipelineRun, error) {
	return e.relational.GetPipelineRun(ctx, orgID, repoID, runID)
}

var _ store.WorkflowEngine = (*WorkflowEngine)(nil)
