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

package embedding

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store/memstore"
)

func fakeVector(seed float32) []float32 {
	v := make([]float32, model.EmbeddingDim)
	for i := range v {
		v[i] = seed
	}
	return v
}

func TestChunkText_SplitsOnTokenBound(t *testing.T) {
	text := strings.Repeat("word ", 1000)
	chunks := chunkText(text, 512)
	require.Len(t, chunks, 2)
	assert.Equal(t, 512, len(strings.Fields(chunks[0])))
}

func TestSessionRotator_RoundRobins(t *testing.T) {
	r := NewSessionRotator("a", "b")
	assert.Equal(t, "a", r.Next())
	assert.Equal(t, "b", r.Next())
	assert.Equal(t, "a", r.Next())
}

func TestSessionRotator_EmptyPoolReturnsDefault(t *testing.T) {
	r := NewSessionRotator()
	assert.Equal(t, "", r.Next())
}

func TestEmbedEntities_RejectsNonFiniteVectors(t *testing.T) {
	vs := memstore.NewVectorSearch()
	calls := 0
	embed := func(ctx context.Context, session string, texts []string) ([][]float32, error) {
		calls++
		out := make([][]float32, len(texts))
		for i := range texts {
			if i == 0 {
				bad := fakeVector(0.1)
				bad[0] = float32(math.NaN())
				out[i] = bad
			} else {
				out[i] = fakeVector(0.2)
			}
		}
		return out, nil
	}
	p := New(vs, embed)

	entities := []model.CodeEntity{
		{Key: "e1", OrgID: "org", RepoID: "repo", Body: "func A() {}"},
		{Key: "e2", OrgID: "org", RepoID: "repo", Body: "func B() {}"},
	}
	summary, err := p.EmbedEntities(context.Background(), "org", "repo", entities, model.VariantCode)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, 1, summary.Rejected)
	assert.Equal(t, 1, summary.Written)
	assert.Equal(t, 1, calls)
}

func TestEmbedEntities_BatchesAcrossMultipleCalls(t *testing.T) {
	vs := memstore.NewVectorSearch()
	var batchSizes []int
	embed := func(ctx context.Context, session string, texts []string) ([][]float32, error) {
		batchSizes = append(batchSizes, len(texts))
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = fakeVector(0.3)
		}
		return out, nil
	}
	p := New(vs, embed, WithBatchSize(2))

	entities := make([]model.CodeEntity, 5)
	for i := range entities {
		entities[i] = model.CodeEntity{Key: entityKeyFor(i), OrgID: "org", RepoID: "repo", Body: "body"}
	}
	_, err := p.EmbedEntities(context.Background(), "org", "repo", entities, model.VariantCode)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, batchSizes)
}

func TestSweepOrphans_DeletesStaleKeys(t *testing.T) {
	vs := memstore.NewVectorSearch()
	require.NoError(t, vs.Upsert(context.Background(), []model.Embedding{
		{EntityKey: "live", OrgID: "org", RepoID: "repo", Variant: model.VariantCode, Vector: fakeVector(0.4)},
		{EntityKey: "dead", OrgID: "org", RepoID: "repo", Variant: model.VariantCode, Vector: fakeVector(0.5)},
	}))
	p := New(vs, nil)

	removed, err := p.SweepOrphans(context.Background(), "org", "repo", []string{"live"}, model.VariantCode)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	hits, err := vs.Search(context.Background(), "org", "repo", model.VariantCode, fakeVector(0.4), 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "live", hits[0].EntityKey)
}

func entityKeyFor(i int) string {
	return string(rune('a' + i))
}
