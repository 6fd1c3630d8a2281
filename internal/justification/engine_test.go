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

package justification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
	"github.com/kraklabs/kgpipe/internal/store/memstore"
)

type fakeLLM struct {
	response map[string]any
	fail     bool
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Chat(ctx context.Context, messages []store.ChatMessage, modelID string) (*store.ChatCompletion, error) {
	return &store.ChatCompletion{Content: "ok", Model: modelID}, nil
}

func (f *fakeLLM) GenerateObject(ctx context.Context, messages []store.ChatMessage, schema map[string]any, modelID string) (*store.ObjectCompletion, error) {
	if f.fail {
		return nil, assertErr{}
	}
	return &store.ObjectCompletion{Data: f.response, Model: modelID}, nil
}

type assertErr struct{}

func (assertErr) Error() string { return "llm unavailable" }

func TestEngine_Run_JustifiesCallGraphBottomUp(t *testing.T) {
	gs := memstore.NewGraphStore()
	rs := memstore.NewRelationalStore()
	llm := &fakeLLM{response: map[string]any{
		"taxonomy": "VERTICAL", "business_purpose": "processes an order", "confidence": 0.7,
	}}
	ctx := context.Background()

	entities := []model.CodeEntity{
		{Key: "caller", OrgID: "org", RepoID: "repo", Kind: model.KindFunction, Name: "Caller", IndexVersion: "v1", Body: "func Caller() { Callee() }"},
		{Key: "callee", OrgID: "org", RepoID: "repo", Kind: model.KindFunction, Name: "Callee", IndexVersion: "v1", Body: "func Callee() {}"},
	}
	edges := []model.CodeEdge{
		{Key: "e1", OrgID: "org", RepoID: "repo", FromKey: "caller", ToKey: "callee", EdgeKind: model.EdgeCalls, IndexVersion: "v1"},
	}
	require.NoError(t, gs.UpsertEntities(ctx, "org", "repo", entities))
	require.NoError(t, gs.UpsertEdges(ctx, "org", "repo", edges))

	eng := NewEngine(gs, rs, llm)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	summary, err := eng.Run(ctx, "org", "repo", "v1")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Planned)
	assert.Equal(t, 2, summary.Stale)
	assert.Equal(t, 2, summary.Justified)

	current, err := rs.CurrentJustification(ctx, "org", "repo", "callee")
	require.NoError(t, err)
	assert.Equal(t, model.Taxonomy("VERTICAL"), current.Taxonomy)
}

func TestEngine_Run_FallsBackWhenLLMFails(t *testing.T) {
	gs := memstore.NewGraphStore()
	rs := memstore.NewRelationalStore()
	llm := &fakeLLM{fail: true}
	ctx := context.Background()

	entities := []model.CodeEntity{
		{Key: "fn", OrgID: "org", RepoID: "repo", Kind: model.KindFunction, Name: "Fn", IndexVersion: "v1", Body: "func Fn() {}", FanIn: 1},
	}
	require.NoError(t, gs.UpsertEntities(ctx, "org", "repo", entities))

	eng := NewEngine(gs, rs, llm)
	summary, err := eng.Run(ctx, "org", "repo", "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Fallback)

	current, err := rs.CurrentJustification(ctx, "org", "repo", "fn")
	require.NoError(t, err)
	assert.Equal(t, model.TierFallback, current.ModelTier)
}

func TestEngine_Run_SkipsUpToDateEntities(t *testing.T) {
	gs := memstore.NewGraphStore()
	rs := memstore.NewRelationalStore()
	llm := &fakeLLM{response: map[string]any{"taxonomy": "UTILITY", "business_purpose": "x", "confidence": 0.5}}
	ctx := context.Background()

	entity := model.CodeEntity{Key: "fn", OrgID: "org", RepoID: "repo", Kind: model.KindFunction, IndexVersion: "v1", Body: "func Fn(){}"}
	require.NoError(t, gs.UpsertEntities(ctx, "org", "repo", []model.CodeEntity{entity}))
	require.NoError(t, rs.PutJustifications(ctx, "org", "repo", []model.Justification{{
		EntityKey: "fn", OrgID: "org", RepoID: "repo", BodyHash: BodyHash(entity.Body),
		ValidFrom: time.Now(), ValidTo: model.FarFuture,
	}}))

	eng := NewEngine(gs, rs, llm)
	summary, err := eng.Run(ctx, "org", "repo", "v1")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Stale)
	assert.Equal(t, 0, summary.Justified)
}
