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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
)

func TestWorkflowEngine_StartRun_RunsSynchronously(t *testing.T) {
	rel := NewRelationalStore()
	cache := NewCacheStore()
	var sawIncremental bool
	runner := func(ctx context.Context, orgID, repoID string, incremental bool, run *model.PipelineRun) error {
		sawIncremental = incremental
		run.StepByName(model.StepPrepare)
		return nil
	}
	eng := NewWorkflowEngine(rel, cache, runner)

	runID, err := eng.StartRun(context.Background(), "org-1", "repo-1", true)
	require.NoError(t, err)

	run, err := eng.RunStatus(context.Background(), "org-1", "repo-1", runID)
	require.NoError(t, err)
	require.NotNil(t, run.CompletedAt)
	require.True(t, sawIncremental)
}

func TestWorkflowEngine_Signal_SecondCallDebounced(t *testing.T) {
	rel := NewRelationalStore()
	cache := NewCacheStore()
	calls := 0
	runner := func(ctx context.Context, orgID, repoID string, incremental bool, run *model.PipelineRun) error {
		calls++
		return nil
	}
	eng := NewWorkflowEngine(rel, cache, runner)

	require.NoError(t, eng.Signal(context.Background(), "org-1", "repo-1", store.SignalWebhookPush))
	require.NoError(t, eng.Signal(context.Background(), "org-1", "repo-1", store.SignalWebhookPush))
	require.Equal(t, 1, calls)
}
