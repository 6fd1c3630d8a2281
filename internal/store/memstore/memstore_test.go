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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
)

func TestGraphStore_ShadowSwapFinalize(t *testing.T) {
	ctx := context.Background()
	g := NewGraphStore()

	old := model.CodeEntity{Key: "e1", IndexVersion: "v1"}
	fresh := model.CodeEntity{Key: "e2", IndexVersion: "v2"}
	require.NoError(t, g.UpsertEntities(ctx, "org", "repo", []model.CodeEntity{old, fresh}))

	require.NoError(t, g.DeleteOlderVersions(ctx, "org", "repo", "v2"))

	remaining, err := g.EntitiesByVersion(ctx, "org", "repo", "v2")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
	assert.Equal(t, "e2", remaining[0].Key)

	_, err = g.EntityByKey(ctx, "org", "repo", "e1")
	assert.Error(t, err, "old-version entity must be gone after finalize")
}

func TestGraphStore_Neighbors_Direction(t *testing.T) {
	ctx := context.Background()
	g := NewGraphStore()
	edges := []model.CodeEdge{
		{Key: "k1", FromKey: "a", ToKey: "b", EdgeKind: model.EdgeCalls},
		{Key: "k2", FromKey: "b", ToKey: "a", EdgeKind: model.EdgeCalls},
	}
	require.NoError(t, g.UpsertEdges(ctx, "org", "repo", edges))

	out, err := g.Neighbors(ctx, "org", "repo", "a", []model.EdgeKind{model.EdgeCalls}, store.DirectionOut)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "k1", out[0].Key)

	in, err := g.Neighbors(ctx, "org", "repo", "a", []model.EdgeKind{model.EdgeCalls}, store.DirectionIn)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, "k2", in[0].Key)

	both, err := g.Neighbors(ctx, "org", "repo", "a", nil, store.DirectionBoth)
	require.NoError(t, err)
	assert.Len(t, both, 2)
}

func TestRelationalStore_JustificationBiTemporalWrite(t *testing.T) {
	ctx := context.Background()
	r := NewRelationalStore()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)

	first := model.Justification{EntityKey: "e1", ValidFrom: t0, ValidTo: model.FarFuture}
	require.NoError(t, r.PutJustifications(ctx, "org", "repo", []model.Justification{first}))

	cur, err := r.CurrentJustification(ctx, "org", "repo", "e1")
	require.NoError(t, err)
	assert.True(t, cur.IsCurrent())

	second := model.Justification{EntityKey: "e1", ValidFrom: t1, ValidTo: model.FarFuture}
	require.NoError(t, r.PutJustifications(ctx, "org", "repo", []model.Justification{second}))

	cur, err = r.CurrentJustification(ctx, "org", "repo", "e1")
	require.NoError(t, err)
	assert.Equal(t, t1, cur.ValidFrom, "second write must become the current row")

	asOfFirst, err := r.JustificationAsOf(ctx, "org", "repo", "e1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, t0, asOfFirst.ValidFrom, "historical read must return the row valid at that time")
}

func TestCacheStore_SetIfAbsent(t *testing.T) {
	ctx := context.Background()
	c := NewCacheStore()

	ok, err := c.SetIfAbsent(ctx, "lock:repo-1", "run-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetIfAbsent(ctx, "lock:repo-1", "run-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second lock attempt within TTL must fail, implementing the debounce window")
}

func TestCacheStore_PubSub(t *testing.T) {
	ctx := context.Background()
	c := NewCacheStore()

	ch, cancel, err := c.Subscribe(ctx, "progress:repo-1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, c.Publish(ctx, "progress:repo-1", []byte("event")))

	select {
	case msg := <-ch:
		assert.Equal(t, "event", string(msg))
	case <-time.After(time.Second):
		t.Fatal("expected a published message")
	}
}

func TestVectorSearch_SearchAndOrphans(t *testing.T) {
	ctx := context.Background()
	v := NewVectorSearch()

	dim := model.EmbeddingDim
	vecA := make([]float32, dim)
	vecA[0] = 1
	vecB := make([]float32, dim)
	vecB[1] = 1

	require.NoError(t, v.Upsert(ctx, []model.Embedding{
		{EntityKey: "a", Variant: model.VariantCode, Vector: vecA, OrgID: "org", RepoID: "repo"},
		{EntityKey: "b", Variant: model.VariantCode, Vector: vecB, OrgID: "org", RepoID: "repo"},
	}))

	hits, err := v.Search(ctx, "org", "repo", model.VariantCode, vecA, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].EntityKey)

	orphans, err := v.Orphans(ctx, "org", "repo", model.VariantCode, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, orphans)
}

func TestObjectStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	o := NewObjectStore()

	require.NoError(t, o.Put(ctx, "snapshots/repo-1/v1.bin", []byte("payload"), "application/octet-stream"))

	got, err := o.Get(ctx, "snapshots/repo-1/v1.bin")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	require.NoError(t, o.Delete(ctx, "snapshots/repo-1/v1.bin"))
	_, err = o.Get(ctx, "snapshots/repo-1/v1.bin")
	assert.Error(t, err)
}
