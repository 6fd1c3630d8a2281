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
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
	"github.com/kraklabs/kgpipe/internal/store/memstore"
)

func TestEngine_StartRun_ExecutesRunnerAndRecordsCompletion(t *testing.T) {
	rel := memstore.NewRelationalStore()
	cache := memstore.NewCacheStore()
	var calls int32
	runner := func(ctx context.Context, orgID, repoID string, incremental bool, run *model.PipelineRun) error {
		atomic.AddInt32(&calls, 1)
		run.StepByName(model.StepPrepare)
		return nil
	}
	eng := New(rel, cache, runner, 2)

	runID, err := eng.StartRun(context.Background(), "org-1", "repo-1", false)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		run, err := eng.RunStatus(context.Background(), "org-1", "repo-1", runID)
		return err == nil && run.CompletedAt != nil
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEngine_StartRun_DoesNotDoubleRunWhileInFlight(t *testing.T) {
	rel := memstore.NewRelationalStore()
	cache := memstore.NewCacheStore()
	release := make(chan struct{})
	runner := func(ctx context.Context, orgID, repoID string, incremental bool, run *model.PipelineRun) error {
		<-release
		return nil
	}
	eng := New(rel, cache, runner, 2)

	id1, err := eng.StartRun(context.Background(), "org-1", "repo-1", false)
	require.NoError(t, err)
	id2, err := eng.StartRun(context.Background(), "org-1", "repo-1", false)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	close(release)
}

func TestEngine_Signal_DebouncesWithinWindow(t *testing.T) {
	rel := memstore.NewRelationalStore()
	cache := memstore.NewCacheStore()
	var calls int32
	runner := func(ctx context.Context, orgID, repoID string, incremental bool, run *model.PipelineRun) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	eng := New(rel, cache, runner, 2)

	require.NoError(t, eng.Signal(context.Background(), "org-1", "repo-1", store.SignalWebhookPush))
	require.NoError(t, eng.Signal(context.Background(), "org-1", "repo-1", store.SignalWebhookPush))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
