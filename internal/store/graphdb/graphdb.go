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

// Package graphdb is the production store.GraphStore adapter, backed by
// the embedded CozoDB Datalog engine (internal/cozodb). It generalizes the
// teacher's pkg/storage.EmbeddedBackend from a single vertically-partitioned
// CIE schema to a tenant-scoped (org_id, repo_id) entity/edge schema capable
// of representing any Kind/EdgeKind named in internal/model.
package graphdb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kraklabs/kgpipe/internal/cozodb"
	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
)

// Config configures the embedded graph store.
type Config struct {
	// DataDir is the directory CozoDB stores its data in. Defaults to
	// ~/.kgpipe/graph/<org_id> when empty.
	DataDir string
	// Engine is the CozoDB storage engine: "rocksdb", "sqlite", or "mem".
	// Defaults to "rocksdb".
	Engine string
	OrgID  string
}

// Store is the embedded-CozoDB GraphStore adapter.
type Store struct {
	db *cozodb.CozoDB
	mu sync.RWMutex
}

// New opens (creating if absent) the embedded graph store and ensures the
// kg_entity/kg_edge relations exist.
func New(cfg Config) (*Store, error) {
	if cfg.Engine == "" {
		cfg.Engine = "rocksdb"
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("graphdb: home dir: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".kgpipe", "graph", cfg.OrgID)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("graphdb: create data dir: %w", err)
	}

	db, err := cozodb.New(cfg.Engine, cfg.DataDir, nil)
	if err != nil {
		return nil, fmt.Errorf("graphdb: open: %w", err)
	}
	s := &Store{db: &db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	relations := []string{
		`:create kg_entity {
			org_id: String,
			repo_id: String,
			key: String
			=>
			kind: String,
			original_kind: String,
			name: String,
			file_path: String,
			start_line: Int,
			end_line: Int,
			start_col: Int,
			end_col: Int,
			signature: String,
			body: String,
			documentation: String,
			language: String,
			index_version: String,
			fan_in: Int,
			fan_out: Int,
			risk_level: String,
			community_id: Int,
			page_rank: Float,
			page_rank_pctl: Float
		}`,
		`:create kg_edge {
			org_id: String,
			repo_id: String,
			key: String
			=>
			from_key: String,
			to_key: String,
			edge_kind: String,
			index_version: String,
			is_external: Bool,
			package_name: String,
			boundary_category: String,
			weight: Float,
			event_name: String
		}`,
	}
	for _, rel := range relations {
		if _, err := s.db.Run(rel, nil); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("graphdb: ensure schema: %w", err)
		}
	}
	return nil
}

func entityToParams(orgID, repoID string, e model.CodeEntity) map[string]any {
	return map[string]any{
		"org_id": orgID, "repo_id": repoID, "key": e.Key,
		"kind": string(e.Kind), "original_kind": string(e.OriginalKind),
		"name": e.Name, "file_path": e.FilePath,
		"start_line": e.StartLine, "end_line": e.EndLine,
		"start_col": e.StartCol, "end_col": e.EndCol,
		"signature": e.Signature, "body": e.Body, "documentation": e.Documentation,
		"language": e.Language, "index_version": e.IndexVersion,
		"fan_in": e.FanIn, "fan_out": e.FanOut, "risk_level": string(e.RiskLevel),
		"community_id": e.CommunityID, "page_rank": e.PageRank, "page_rank_pctl": e.PageRankPctl,
	}
}

// UpsertEntities writes entities with one parameterized :put script per
// row, all run under the store's write lock.
func (s *Store) UpsertEntities(ctx context.Context, orgID, repoID string, entities []model.CodeEntity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		script := `?[org_id, repo_id, key, kind, original_kind, name, file_path, start_line, end_line,
			start_col, end_col, signature, body, documentation, language, index_version,
			fan_in, fan_out, risk_level, community_id, page_rank, page_rank_pctl] <- [[
			$org_id, $repo_id, $key, $kind, $original_kind, $name, $file_path, $start_line, $end_line,
			$start_col, $end_col, $signature, $body, $documentation, $language, $index_version,
			$fan_in, $fan_out, $risk_level, $community_id, $page_rank, $page_rank_pctl]]
			:put kg_entity {org_id, repo_id, key => kind, original_kind, name, file_path, start_line, end_line,
			start_col, end_col, signature, body, documentation, language, index_version,
			fan_in, fan_out, risk_level, community_id, page_rank, page_rank_pctl}`
		if _, err := s.db.Run(script, entityToParams(orgID, repoID, e)); err != nil {
			return fmt.Errorf("graphdb: upsert entity %s: %w", e.Key, err)
		}
	}
	return nil
}

// UpsertEdges writes edges the same way UpsertEntities writes entities.
func (s *Store) UpsertEdges(ctx context.Context, orgID, repoID string, edges []model.CodeEdge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range edges {
		params := map[string]any{
			"org_id": orgID, "repo_id": repoID, "key": e.Key,
			"from_key": e.FromKey, "to_key": e.ToKey, "edge_kind": string(e.EdgeKind),
			"index_version": e.IndexVersion, "is_external": e.IsExternal,
			"package_name": e.PackageName, "boundary_category": e.BoundaryCategory,
			"weight": e.Weight, "event_name": e.EventName,
		}
		script := `?[org_id, repo_id, key, from_key, to_key, edge_kind, index_version,
			is_external, package_name, boundary_category, weight, event_name] <- [[
			$org_id, $repo_id, $key, $from_key, $to_key, $edge_kind, $index_version,
			$is_external, $package_name, $boundary_category, $weight, $event_name]]
			:put kg_edge {org_id, repo_id, key => from_key, to_key, edge_kind, index_version,
			is_external, package_name, boundary_category, weight, event_name}`
		if _, err := s.db.Run(script, params); err != nil {
			return fmt.Errorf("graphdb: upsert edge %s: %w", e.Key, err)
		}
	}
	return nil
}

func rowToEntity(headers []string, row []any) model.CodeEntity {
	m := make(map[string]any, len(headers))
	for i, h := range headers {
		if i < len(row) {
			m[h] = row[i]
		}
	}
	return model.CodeEntity{
		Key: str(m["key"]), OrgID: str(m["org_id"]), RepoID: str(m["repo_id"]),
		Kind: model.Kind(str(m["kind"])), OriginalKind: model.Kind(str(m["original_kind"])),
		Name: str(m["name"]), FilePath: str(m["file_path"]),
		StartLine: int(num(m["start_line"])), EndLine: int(num(m["end_line"])),
		StartCol: int(num(m["start_col"])), EndCol: int(num(m["end_col"])),
		Signature: str(m["signature"]), Body: str(m["body"]), Documentation: str(m["documentation"]),
		Language: str(m["language"]), IndexVersion: str(m["index_version"]),
		FanIn: int(num(m["fan_in"])), FanOut: int(num(m["fan_out"])),
		RiskLevel: model.RiskLevel(str(m["risk_level"])), CommunityID: int(num(m["community_id"])),
		PageRank: num(m["page_rank"]), PageRankPctl: num(m["page_rank_pctl"]),
	}
}

func rowToEdge(headers []string, row []any) model.CodeEdge {
	m := make(map[string]any, len(headers))
	for i, h := range headers {
		if i < len(row) {
			m[h] = row[i]
		}
	}
	isExternal, _ := m["is_external"].(bool)
	return model.CodeEdge{
		Key: str(m["key"]), OrgID: str(m["org_id"]), RepoID: str(m["repo_id"]),
		FromKey: str(m["from_key"]), ToKey: str(m["to_key"]), EdgeKind: model.EdgeKind(str(m["edge_kind"])),
		IndexVersion: str(m["index_version"]), IsExternal: isExternal,
		PackageName: str(m["package_name"]), BoundaryCategory: str(m["boundary_category"]),
		Weight: num(m["weight"]), EventName: str(m["event_name"]),
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// EntitiesByVersion returns every entity stamped with indexVersion.
func (s *Store) EntitiesByVersion(ctx context.Context, orgID, repoID, indexVersion string) ([]model.CodeEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	script := `?[org_id, repo_id, key, kind, original_kind, name, file_path, start_line, end_line,
		start_col, end_col, signature, body, documentation, language, index_version,
		fan_in, fan_out, risk_level, community_id, page_rank, page_rank_pctl] :=
		*kg_entity{org_id, repo_id, key, kind, original_kind, name, file_path, start_line, end_line,
		start_col, end_col, signature, body, documentation, language, index_version,
		fan_in, fan_out, risk_level, community_id, page_rank, page_rank_pctl},
		org_id == $org_id, repo_id == $repo_id, index_version == $index_version`
	params := map[string]any{"org_id": orgID, "repo_id": repoID, "index_version": indexVersion}
	res, err := s.db.RunReadOnly(script, params)
	if err != nil {
		return nil, fmt.Errorf("graphdb: entities by version: %w", err)
	}
	out := make([]model.CodeEntity, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, rowToEntity(res.Headers, row))
	}
	return out, nil
}

// EdgesByVersion returns every edge stamped with indexVersion.
func (s *Store) EdgesByVersion(ctx context.Context, orgID, repoID, indexVersion string) ([]model.CodeEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	script := `?[org_id, repo_id, key, from_key, to_key, edge_kind, index_version,
		is_external, package_name, boundary_category, weight, event_name] :=
		*kg_edge{org_id, repo_id, key, from_key, to_key, edge_kind, index_version,
		is_external, package_name, boundary_category, weight, event_name},
		org_id == $org_id, repo_id == $repo_id, index_version == $index_version`
	params := map[string]any{"org_id": orgID, "repo_id": repoID, "index_version": indexVersion}
	res, err := s.db.RunReadOnly(script, params)
	if err != nil {
		return nil, fmt.Errorf("graphdb: edges by version: %w", err)
	}
	out := make([]model.CodeEdge, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, rowToEdge(res.Headers, row))
	}
	return out, nil
}

// DeleteOlderVersions atomically removes rows not stamped keepVersion,
// implementing the shadow-swap finalize (§4.1 step 4).
func (s *Store) DeleteOlderVersions(ctx context.Context, orgID, repoID, keepVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	params := map[string]any{"org_id": orgID, "repo_id": repoID, "keep_version": keepVersion}
	entityScript := `?[org_id, repo_id, key] :=
		*kg_entity{org_id, repo_id, key, index_version},
		org_id == $org_id, repo_id == $repo_id, index_version != $keep_version
		:rm kg_entity {org_id, repo_id, key}`
	if _, err := s.db.Run(entityScript, params); err != nil {
		return fmt.Errorf("graphdb: delete stale entities: %w", err)
	}
	edgeScript := `?[org_id, repo_id, key] :=
		*kg_edge{org_id, repo_id, key, index_version},
		org_id == $org_id, repo_id == $repo_id, index_version != $keep_version
		:rm kg_edge {org_id, repo_id, key}`
	if _, err := s.db.Run(edgeScript, params); err != nil {
		return fmt.Errorf("graphdb: delete stale edges: %w", err)
	}
	return nil
}

// UpdateAnalytics writes back fan-in/out, pagerank, and community_id.
func (s *Store) UpdateAnalytics(ctx context.Context, orgID, repoID string, annotations []store.EntityAnnotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range annotations {
		script := `?[org_id, repo_id, key, fan_in, fan_out, risk_level, community_id, page_rank, page_rank_pctl] <- [[
			$org_id, $repo_id, $key, $fan_in, $fan_out, $risk_level, $community_id, $page_rank, $page_rank_pctl]]
			:update kg_entity {org_id, repo_id, key => fan_in, fan_out, risk_level, community_id, page_rank, page_rank_pctl}`
		params := map[string]any{
			"org_id": orgID, "repo_id": repoID, "key": a.Key,
			"fan_in": a.FanIn, "fan_out": a.FanOut, "risk_level": string(a.RiskLevel),
			"community_id": a.CommunityID, "page_rank": a.PageRank, "page_rank_pctl": a.PageRankPctl,
		}
		if _, err := s.db.Run(script, params); err != nil {
			return fmt.Errorf("graphdb: update analytics for %s: %w", a.Key, err)
		}
	}
	return nil
}

// EntityByKey fetches a single entity.
func (s *Store) EntityByKey(ctx context.Context, orgID, repoID, key string) (*model.CodeEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	script := `?[org_id, repo_id, key, kind, original_kind, name, file_path, start_line, end_line,
		start_col, end_col, signature, body, documentation, language, index_version,
		fan_in, fan_out, risk_level, community_id, page_rank, page_rank_pctl] :=
		*kg_entity{org_id, repo_id, key, kind, original_kind, name, file_path, start_line, end_line,
		start_col, end_col, signature, body, documentation, language, index_version,
		fan_in, fan_out, risk_level, community_id, page_rank, page_rank_pctl},
		org_id == $org_id, repo_id == $repo_id, key == $key`
	params := map[string]any{"org_id": orgID, "repo_id": repoID, "key": key}
	res, err := s.db.RunReadOnly(script, params)
	if err != nil {
		return nil, fmt.Errorf("graphdb: entity by key: %w", err)
	}
	if len(res.Rows) == 0 {
		return nil, fmt.Errorf("graphdb: entity %q not found", key)
	}
	e := rowToEntity(res.Headers, res.Rows[0])
	return &e, nil
}

// Neighbors traverses edges of the given kinds incident to key.
func (s *Store) Neighbors(ctx context.Context, orgID, repoID, key string, kinds []model.EdgeKind, direction store.Direction) ([]model.CodeEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sideFilter string
	switch direction {
	case store.DirectionOut:
		sideFilter = "from_key == $key"
	case store.DirectionIn:
		sideFilter = "to_key == $key"
	default:
		sideFilter = "(from_key == $key or to_key == $key)"
	}

	kindParams := map[string]any{"org_id": orgID, "repo_id": repoID, "key": key}
	kindFilter := ""
	if len(kinds) > 0 {
		kindJSON, _ := json.Marshal(kindStrings(kinds))
		kindFilter = ", is_in(edge_kind, " + string(kindJSON) + ")"
	}

	script := fmt.Sprintf(`?[org_id, repo_id, key, from_key, to_key, edge_kind, index_version,
		is_external, package_name, boundary_category, weight, event_name] :=
		*kg_edge{org_id, repo_id, key, from_key, to_key, edge_kind, index_version,
		is_external, package_name, boundary_category, weight, event_name},
		org_id == $org_id, repo_id == $repo_id, %s%s`, sideFilter, kindFilter)

	res, err := s.db.RunReadOnly(script, kindParams)
	if err != nil {
		return nil, fmt.Errorf("graphdb: neighbors: %w", err)
	}
	out := make([]model.CodeEdge, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, rowToEdge(res.Headers, row))
	}
	return out, nil
}

func kindStrings(kinds []model.EdgeKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// Close releases the underlying CozoDB handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db.Close()
	return nil
}

var _ store.GraphStore = (*Store)(nil)
