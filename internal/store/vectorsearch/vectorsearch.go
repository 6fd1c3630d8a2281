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

// Package vectorsearch is the production store.VectorSearch adapter. It
// reuses the same embedded CozoDB instance internal/store/graphdb opens,
// storing dense vectors in a dedicated relation and querying them through
// Cozo's HNSW index, the same mechanism the teacher's
// pkg/storage.EmbeddedBackend.CreateHNSWIndex sets up for semantic code
// search, generalized here from a single 1536-dim function-embedding
// relation to kgpipe's tenant-scoped, two-variant (code/synthesis) shape.
package vectorsearch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kraklabs/kgpipe/internal/cozodb"
	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
)

// Config configures the embedded vector index.
type Config struct {
	// DataDir is the directory CozoDB stores its data in. Defaults to
	// ~/.kgpipe/vectors/<org_id> when empty.
	DataDir string
	// Engine is the CozoDB storage engine: "rocksdb", "sqlite", or "mem".
	Engine string
	OrgID  string
}

const relation = "kg_embedding"

// Store is the embedded-CozoDB VectorSearch adapter.
type Store struct {
	db *cozodb.CozoDB
	mu sync.Mutex
}

// New opens (creating if absent) the embedded vector store, the
// kg_embedding relation, and its HNSW index over model.EmbeddingDim vectors.
func New(cfg Config) (*Store, error) {
	if cfg.Engine == "" {
		cfg.Engine = "rocksdb"
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("vectorsearch: home dir: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".kgpipe", "vectors", cfg.OrgID)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("vectorsearch: create data dir: %w", err)
	}

	db, err := cozodb.New(cfg.Engine, cfg.DataDir, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorsearch: open: %w", err)
	}
	s := &Store{db: &db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	schema := fmt.Sprintf(`:create %s {
		org_id: String,
		repo_id: String,
		variant: String,
		entity_key: String
		=>
		vector: <F32; %d>
	}`, relation, model.EmbeddingDim)
	if _, err := s.db.Run(schema, nil); err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("vectorsearch: ensure schema: %w", err)
	}

	index := fmt.Sprintf(`::hnsw create %s:hnsw_idx { dim: %d, m: 16, ef_construction: 200, fields: [vector], distance: Cosine }`,
		relation, model.EmbeddingDim)
	if _, err := s.db.Run(index, nil); err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("vectorsearch: create hnsw index: %w", err)
	}
	return nil
}

// Upsert implements embed_documents / embed_query persistence (§6.1): each
// embedding is validated via model.Embedding.Valid before being written, so
// a NaN/Inf vector produced by a bad provider response never reaches the
// index (invariant 8, §8).
func (s *Store) Upsert(ctx context.Context, embeddings []model.Embedding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range embeddings {
		if !e.Valid() {
			return fmt.Errorf("vectorsearch: embedding for %s is not valid (wrong dim or NaN/Inf component)", e.EntityKey)
		}
		script := fmt.Sprintf(`?[org_id, repo_id, variant, entity_key, vector] <- [[
			$org_id, $repo_id, $variant, $entity_key, $vector]]
			:put %s {org_id, repo_id, variant, entity_key => vector}`, relation)
		params := map[string]any{
			"org_id": e.OrgID, "repo_id": e.RepoID, "variant": string(e.Variant),
			"entity_key": e.EntityKey, "vector": e.Vector,
		}
		if _, err := s.db.Run(script, params); err != nil {
			return fmt.Errorf("vectorsearch: upsert %s: %w", e.EntityKey, err)
		}
	}
	return nil
}

// Search implements the search / search_justification_embeddings
// operations of §6.1 over the HNSW index, scoped by org/repo/variant.
func (s *Store) Search(ctx context.Context, orgID, repoID string, variant model.EmbeddingVariant, query []float32, k int) ([]store.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}
	script := fmt.Sprintf(`?[entity_key, dist] := ~%s:hnsw_idx{entity_key |
			query: $query, k: $k, ef: 50, bind_distance: dist},
			*%s{org_id: $org_id, repo_id: $repo_id, variant: $variant, entity_key}
		:order dist
		:limit $k`, relation, relation)
	params := map[string]any{
		"org_id": orgID, "repo_id": repoID, "variant": string(variant),
		"query": query, "k": k,
	}
	rows, err := s.db.RunReadOnly(script, params)
	if err != nil {
		return nil, fmt.Errorf("vectorsearch: search: %w", err)
	}
	hits := make([]store.SearchHit, 0, len(rows.Rows))
	for _, row := range rows.Rows {
		if len(row) < 2 {
			continue
		}
		key, _ := row[0].(string)
		dist, _ := toFloat64(row[1])
		// Cozo's HNSW reports cosine distance; the port documents ascending
		// distance, so the score here is the raw distance, not similarity.
		hits = append(hits, store.SearchHit{EntityKey: key, Score: dist})
	}
	return hits, nil
}

// Orphans implements §4.5.6's reconciliation sweep: it reads every
// entity_key currently embedded for variant and reports those absent from
// liveKeys, the set internal/embedding computed from the live GraphStore.
func (s *Store) Orphans(ctx context.Context, orgID, repoID string, variant model.EmbeddingVariant, liveKeys []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	script := fmt.Sprintf(`?[entity_key] := *%s{org_id: $org_id, repo_id: $repo_id, variant: $variant, entity_key}`, relation)
	rows, err := s.db.RunReadOnly(script, map[string]any{"org_id": orgID, "repo_id": repoID, "variant": string(variant)})
	if err != nil {
		return nil, fmt.Errorf("vectorsearch: list embedded keys: %w", err)
	}
	live := make(map[string]bool, len(liveKeys))
	for _, k := range liveKeys {
		live[k] = true
	}
	var orphans []string
	for _, row := range rows.Rows {
		key, _ := row[0].(string)
		if key != "" && !live[key] {
			orphans = append(orphans, key)
		}
	}
	return orphans, nil
}

// DeleteByKeys implements delete_orphaned (§6.1).
func (s *Store) DeleteByKeys(ctx context.Context, orgID, repoID string, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, variant := range []model.EmbeddingVariant{model.VariantCode, model.VariantSynthesis} {
		for _, key := range keys {
			script := fmt.Sprintf(`?[org_id, repo_id, variant, entity_key] <- [[$org_id, $repo_id, $variant, $entity_key]]
				:rm %s {org_id, repo_id, variant, entity_key}`, relation)
			params := map[string]any{"org_id": orgID, "repo_id": repoID, "variant": string(variant), "entity_key": key}
			if _, err := s.db.Run(script, params); err != nil {
				return fmt.Errorf("vectorsearch: delete %s: %w", key, err)
			}
		}
	}
	return nil
}

// Close releases the underlying CozoDB handle.
func (s *Store) Close() {
	s.db.Close()
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

var _ store.VectorSearch = (*Store)(nil)
