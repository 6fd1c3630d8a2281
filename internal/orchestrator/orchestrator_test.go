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
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
	"github.com/kraklabs/kgpipe/internal/store/memstore"
	"github.com/kraklabs/kgpipe/internal/store/pattern"
)

type fakeLLM struct{}

func (fakeLLM) Name() string { return "fake" }

func (fakeLLM) Chat(ctx context.Context, messages []store.ChatMessage, modelID string) (*store.ChatCompletion, error) {
	return &store.ChatCompletion{Content: "ok", Model: modelID}, nil
}

func (fakeLLM) GenerateObject(ctx context.Context, messages []store.ChatMessage, schema map[string]any, modelID string) (*store.ObjectCompletion, error) {
	return &store.ObjectCompletion{
		Model: modelID,
		Data: map[string]any{
			"taxonomy":         "UTILITY",
			"feature_tag":      "core",
			"business_purpose": "test entity",
			"domain_concepts":  []any{"widget"},
			"semantic_triples": []any{},
			"confidence":       0.6,
			"reasoning":        "fake reasoning",
		},
	}, nil
}

func fakeEmbedder(ctx context.Context, session string, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, model.EmbeddingDim)
		v[0] = 1
		vectors[i] = v
	}
	return vectors, nil
}

func writeWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := []byte("package sample\n\nfunc Entry() {\n\tHelper()\n}\n\nfunc Helper() int {\n\treturn 1\n}\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), content, 0o644))
	return dir
}

func TestOrchestrator_Run_FullPipelineReachesReady(t *testing.T) {
	ctx := context.Background()
	dir := writeWorkspace(t)

	graph := memstore.NewGraphStore()
	relational := memstore.NewRelationalStore()
	vector := memstore.NewVectorSearch()
	objects := memstore.NewObjectStore()
	git := memstore.NewGitHost(dir, "sha-1")
	patterns := pattern.New()

	repo := &model.Repo{OrgID: "org", RepoID: "repo", Status: model.StatusPending, DefaultBranch: "main"}
	require.NoError(t, relational.PutRepo(ctx, repo))

	orch := New(relational, graph, vector, objects, git, fakeLLM{}, patterns, fakeEmbedder)

	run := &model.PipelineRun{RunID: "run-1", OrgID: "org", RepoID: "repo"}
	err := orch.Run(ctx, "org", "repo", false, run)
	require.NoError(t, err)

	stored, err := relational.GetRepo(ctx, "org", "repo")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, stored.Status)
	assert.Equal(t, "sha-1", stored.LastIndexedSHA)
	assert.Greater(t, stored.EntityCount, 0)

	assert.Len(t, run.Steps, len(model.AllSteps))
	for _, step := range run.Steps {
		assert.Empty(t, step.Error, "step %s should not have failed", step.Name)
		assert.NotNil(t, step.StartedAt)
		assert.NotNil(t, step.CompletedAt)
	}

	entities, err := graph.EntitiesByVersion(ctx, "org", "repo", "sha-1")
	require.NoError(t, err)
	assert.Greater(t, len(entities), 0)

	snap, err := relational.GetSnapshotMeta(ctx, "org", "repo")
	require.NoError(t, err)
	assert.Equal(t, model.SnapshotAvailable, snap.Status)
}

func TestOrchestrator_Run_PrepareFailureMarksRepoError(t *testing.T) {
	ctx := context.Background()
	graph := memstore.NewGraphStore()
	relational := memstore.NewRelationalStore()
	vector := memstore.NewVectorSearch()
	objects := memstore.NewObjectStore()
	git := memstore.NewGitHost("", "")
	git.AcquireErr = assertErr{}
	patterns := pattern.New()

	repo := &model.Repo{OrgID: "org", RepoID: "repo", Status: model.StatusPending}
	require.NoError(t, relational.PutRepo(ctx, repo))

	orch := New(relational, graph, vector, objects, git, fakeLLM{}, patterns, fakeEmbedder)
	run := &model.PipelineRun{RunID: "run-2", OrgID: "org", RepoID: "repo"}

	err := orch.Run(ctx, "org", "repo", false, run)
	require.Error(t, err)

	stored, err := relational.GetRepo(ctx, "org", "repo")
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, stored.Status)
}

type assertErr struct{}

func (assertErr) Error() string { return "git unavailable" }
