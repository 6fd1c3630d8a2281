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

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepoStatus_HappyPath(t *testing.T) {
	steps := []RepoStatus{
		StatusPending, StatusIndexing, StatusEmbedding, StatusOntology,
		StatusJustifying, StatusAnalyzing, StatusReady,
	}
	for i := 0; i < len(steps)-1; i++ {
		assert.True(t, steps[i].CanTransition(steps[i+1]), "%s -> %s", steps[i], steps[i+1])
	}
}

func TestRepoStatus_ShadowReindex(t *testing.T) {
	assert.True(t, StatusReady.CanTransition(StatusIndexing))
}

func TestRepoStatus_RejectsSkippingSteps(t *testing.T) {
	assert.False(t, StatusPending.CanTransition(StatusReady))
	assert.False(t, StatusIndexing.CanTransition(StatusJustifying))
}

func TestRepoStatus_FailureStatesRecoverToIndexing(t *testing.T) {
	for _, s := range []RepoStatus{StatusError, StatusEmbedFailed, StatusJustifyFailed} {
		assert.True(t, s.CanTransition(StatusIndexing))
		assert.True(t, s.IsTerminalFailure())
	}
	assert.False(t, StatusReady.IsTerminalFailure())
}

func TestRepoStatus_IsInProgress(t *testing.T) {
	for _, s := range []RepoStatus{StatusIndexing, StatusEmbedding, StatusOntology, StatusJustifying, StatusAnalyzing} {
		assert.True(t, s.IsInProgress(), s)
	}
	for _, s := range []RepoStatus{StatusPending, StatusReady, StatusError} {
		assert.False(t, s.IsInProgress(), s)
	}
}

func TestPipelineRun_StepByName(t *testing.T) {
	run := &PipelineRun{RunID: "run-1"}
	step := run.StepByName(StepPrepare)
	require.NotNil(t, step)
	assert.Len(t, run.Steps, 1)

	again := run.StepByName(StepPrepare)
	assert.Len(t, run.Steps, 1, "StepByName must not duplicate existing steps")
	assert.Same(t, step, again)
}

func TestAllSteps_HasElevenSteps(t *testing.T) {
	assert.Len(t, AllSteps, 11)
}
