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

// Package embedding implements §4.5: batching entity bodies/justification
// text into provider-sized requests, rotating across API sessions to
// spread rate limits, filtering non-finite vectors before they ever reach
// the VectorSearch index, and sweeping orphaned vectors once a shadow
// re-index swaps in a new index_version. It is the store-agnostic layer
// above store.VectorSearch, the same separation pkg/ingestion keeps
// between parsing and the storage.Backend it writes to.
package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
)

// MaxTokensPerChunk is the 512-token bound invariant of §4.5: any entity
// body longer than this is split into multiple chunks before embedding,
// and only the first chunk's vector is kept as the entity's code embedding
// (a whole-entity embedding is approximate by nature; the first chunk is
// the declaration plus its opening body, the most representative slice).
const MaxTokensPerChunk = 512

// DefaultBatchSize bounds how many texts are sent to the provider per
// embedding request.
const DefaultBatchSize = 32

// Embedder calls out to the embedding-capable model for a batch of texts,
// returning one vector per input, in order.
type Embedder func(ctx context.Context, session string, texts []string) ([][]float32, error)

// SessionRotator round-robins across a fixed pool of API sessions (keys or
// connection handles), so a long embedding run spreads load instead of
// hammering a single rate-limit bucket.
type SessionRotator struct {
	mu       sync.Mutex
	sessions []string
	next     int
}

// NewSessionRotator returns a rotator over sessions. An empty pool is
// legal: Next then always returns "", the provider's default session.
func NewSessionRotator(sessions ...string) *SessionRotator {
	return &SessionRotator{sessions: sessions}
}

// Next returns the next session in rotation.
func (s *SessionRotator) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) == 0 {
		return ""
	}
	sess := s.sessions[s.next%len(s.sessions)]
	s.next++
	return sess
}

// Pipeline drives the embed/sweep operations of §6.1 (embed_documents,
// embed_query, delete_orphaned) over one tenant's live entities.
type Pipeline struct {
	vs        store.VectorSearch
	embed     Embedder
	rotator   *SessionRotator
	batchSize int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithSessionRotator overrides the default single-session rotator.
func WithSessionRotator(r *SessionRotator) Option {
	return func(p *Pipeline) { p.rotator = r }
}

// New builds a Pipeline over vs, calling embed to turn text into vectors.
func New(vs store.VectorSearch, embed Embedder, opts ...Option) *Pipeline {
	p := &Pipeline{vs: vs, embed: embed, rotator: NewSessionRotator(), batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// chunkText splits text on whitespace-token boundaries into pieces no
// longer than maxTokens tokens, approximating tokenization by
// whitespace-delimited words, matching the conservative estimate the
// teacher's LLM provider cost accounting already uses for budgeting.
func chunkText(text string, maxTokens int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var chunks []string
	for i := 0; i < len(words); i += maxTokens {
		end := i + maxTokens
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks
}

// EmbedEntities computes and persists code embeddings for entities,
// batching bodies into provider requests of at most p.batchSize texts.
// Entities whose body exceeds MaxTokensPerChunk are truncated to their
// first chunk before embedding. Non-finite or wrong-dimension vectors
// returned by the provider are dropped rather than written, so a
// misbehaving provider response can never corrupt the index (invariant 8,
// §8); the caller observes this only as a reduced count in the returned
// summary, not an error, since the other entities in the batch are still
// good data.
func (p *Pipeline) EmbedEntities(ctx context.Context, orgID, repoID string, entities []model.CodeEntity, variant model.EmbeddingVariant) (Summary, error) {
	var summary Summary
	for batchStart := 0; batchStart < len(entities); batchStart += p.batchSize {
		end := batchStart + p.batchSize
		if end > len(entities) {
			end = len(entities)
		}
		batch := entities[batchStart:end]

		texts := make([]string, len(batch))
		for i, e := range batch {
			chunks := chunkText(e.Body, MaxTokensPerChunk)
			if len(chunks) == 0 {
				texts[i] = e.Signature
			} else {
				texts[i] = chunks[0]
			}
		}

		vectors, err := p.embed(ctx, p.rotator.Next(), texts)
		if err != nil {
			return summary, fmt.Errorf("embedding: provider call: %w", err)
		}
		if len(vectors) != len(batch) {
			return summary, fmt.Errorf("embedding: provider returned %d vectors for %d inputs", len(vectors), len(batch))
		}

		var toUpsert []model.Embedding
		for i, e := range batch {
			emb := model.Embedding{
				EntityKey: e.Key,
				Variant:   variant,
				Vector:    vectors[i],
				OrgID:     orgID,
				RepoID:    repoID,
			}
			summary.Attempted++
			if !emb.Valid() {
				summary.Rejected++
				continue
			}
			toUpsert = append(toUpsert, emb)
		}
		if len(toUpsert) > 0 {
			if err := p.vs.Upsert(ctx, toUpsert); err != nil {
				return summary, fmt.Errorf("embedding: upsert: %w", err)
			}
			summary.Written += len(toUpsert)
		}
	}
	return summary, nil
}

// Summary reports what one EmbedEntities call did, for the PipelineRun
// Totals map the "embed" step records.
type Summary struct {
	Attempted int
	Written   int
	Rejected  int
}

// SweepOrphans implements §4.5.6: it asks the VectorSearch index for
// variant-embedded keys absent from liveKeys (the entity set that survived
// the shadow-swap finalize) and deletes them, so embeddings for removed
// code never linger and skew search results.
func (p *Pipeline) SweepOrphans(ctx context.Context, orgID, repoID string, liveKeys []string, variant model.EmbeddingVariant) (int, error) {
	orphans, err := p.vs.Orphans(ctx, orgID, repoID, variant, liveKeys)
	if err != nil {
		return 0, fmt.Errorf("embedding: find orphans: %w", err)
	}
	if len(orphans) == 0 {
		return 0, nil
	}
	if err := p.vs.DeleteByKeys(ctx, orgID, repoID, orphans); err != nil {
		return 0, fmt.Errorf("embedding: delete orphans: %w", err)
	}
	return len(orphans), nil
}

// EmbedQuery embeds a single free-text query for Search, the embed_query
// operation of §6.1.
func (p *Pipeline) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.embed(ctx, p.rotator.Next(), []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding: query embed: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding: provider returned %d vectors for 1 query", len(vectors))
	}
	return vectors[0], nil
}
