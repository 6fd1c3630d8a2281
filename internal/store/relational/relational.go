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

// Package relational is the production store.RelationalStore adapter,
// backed by PostgreSQL via pgx/pgxpool. Grounded on the connection-pool
// wrapper shape of evalgo's db.PostgresDB: a pgxpool.Pool created once,
// pinged at construction, and exposed through typed methods rather than
// raw SQL at every call site.
package relational

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kraklabs/kgpipe/internal/model"
)

// Store is the pgx-backed RelationalStore adapter.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a connection pool against connString and verifies connectivity.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("relational: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("relational: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Pool returns the underlying connection pool for migrations or batch use.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) GetRepo(ctx context.Context, orgID, repoID string) (*model.Repo, error) {
	row := s.pool.QueryRow(ctx, `
		select provider, default_branch, last_indexed_sha, index_version, status,
		       entity_count, edge_count, manifest_data, context_documents
		from repos where org_id = $1 and repo_id = $2`, orgID, repoID)

	var manifestJSON, docsJSON []byte
	repo := model.Repo{OrgID: orgID, RepoID: repoID}
	if err := row.Scan(&repo.Provider, &repo.DefaultBranch, &repo.LastIndexedSHA, &repo.IndexVersion,
		&repo.Status, &repo.EntityCount, &repo.EdgeCount, &manifestJSON, &docsJSON); err != nil {
		return nil, fmt.Errorf("relational: get repo: %w", err)
	}
	if len(manifestJSON) > 0 {
		_ = json.Unmarshal(manifestJSON, &repo.ManifestData)
	}
	if len(docsJSON) > 0 {
		_ = json.Unmarshal(docsJSON, &repo.ContextDocuments)
	}
	return &repo, nil
}

func (s *Store) PutRepo(ctx context.Context, repo *model.Repo) error {
	manifestJSON, err := json.Marshal(repo.ManifestData)
	if err != nil {
		return fmt.Errorf("relational: marshal manifest_data: %w", err)
	}
	docsJSON, err := json.Marshal(repo.ContextDocuments)
	if err != nil {
		return fmt.Errorf("relational: marshal context_documents: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		insert into repos (org_id, repo_id, provider, default_branch, last_indexed_sha,
		                    index_version, status, entity_count, edge_count, manifest_data, context_documents)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		on conflict (org_id, repo_id) do update set
			provider = excluded.provider,
			default_branch = excluded.default_branch,
			last_indexed_sha = excluded.last_indexed_sha,
			index_version = excluded.index_version,
			status = excluded.status,
			entity_count = excluded.entity_count,
			edge_count = excluded.edge_count,
			manifest_data = excluded.manifest_data,
			context_documents = excluded.context_documents`,
		repo.OrgID, repo.RepoID, repo.Provider, repo.DefaultBranch, repo.LastIndexedSHA,
		repo.IndexVersion, repo.Status, repo.EntityCount, repo.EdgeCount, manifestJSON, docsJSON)
	if err != nil {
		return fmt.Errorf("relational: put repo: %w", err)
	}
	return nil
}

func (s *Store) CreatePipelineRun(ctx context.Context, run *model.PipelineRun) error {
	return s.UpdatePipelineRun(ctx, run)
}

func (s *Store) UpdatePipelineRun(ctx context.Context, run *model.PipelineRun) error {
	stepsJSON, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("relational: marshal steps: %w", err)
	}
	totalsJSON, err := json.Marshal(run.Totals)
	if err != nil {
		return fmt.Errorf("relational: marshal totals: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		insert into pipeline_runs (run_id, org_id, repo_id, index_version, steps, started_at, completed_at, totals)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (run_id) do update set
			steps = excluded.steps, completed_at = excluded.completed_at, totals = excluded.totals`,
		run.RunID, run.OrgID, run.RepoID, run.IndexVersion, stepsJSON, run.StartedAt, run.CompletedAt, totalsJSON)
	if err != nil {
		return fmt.Errorf("relational: upsert pipeline run: %w", err)
	}
	return nil
}

func (s *Store) GetPipelineRun(ctx context.Context, orgID, repoID, runID string) (*model.PipelineRun, error) {
	row := s.pool.QueryRow(ctx, `
		select index_version, steps, started_at, completed_at, totals
		from pipeline_runs where org_id = $1 and repo_id = $2 and run_id = $3`, orgID, repoID, runID)

	run := model.PipelineRun{RunID: runID, OrgID: orgID, RepoID: repoID}
	var stepsJSON, totalsJSON []byte
	if err := row.Scan(&run.IndexVersion, &stepsJSON, &run.StartedAt, &run.CompletedAt, &totalsJSON); err != nil {
		return nil, fmt.Errorf("relational: get pipeline run: %w", err)
	}
	if len(stepsJSON) > 0 {
		_ = json.Unmarshal(stepsJSON, &run.Steps)
	}
	if len(totalsJSON) > 0 {
		_ = json.Unmarshal(totalsJSON, &run.Totals)
	}
	return &run, nil
}

// PutJustifications closes the current row for each incoming entity
// (valid_to = that incoming row's ValidFrom) and inserts the new rows,
// all inside one transaction, implementing the bi-temporal write of
// §4.7.12.
func (s *Store) PutJustifications(ctx context.Context, orgID, repoID string, js []model.Justification) error {
	if len(js) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("relational: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, j := range js {
		if _, err := tx.Exec(ctx, `
			update justifications set valid_to = $1
			where org_id = $2 and repo_id = $3 and entity_key = $4 and valid_to >= $5`,
			j.ValidFrom, orgID, repoID, j.EntityKey, model.FarFuture); err != nil {
			return fmt.Errorf("relational: close current justification for %s: %w", j.EntityKey, err)
		}

		triplesJSON, err := json.Marshal(j.SemanticTriples)
		if err != nil {
			return fmt.Errorf("relational: marshal semantic_triples: %w", err)
		}
		conceptsJSON, err := json.Marshal(j.DomainConcepts)
		if err != nil {
			return fmt.Errorf("relational: marshal domain_concepts: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			insert into justifications (org_id, repo_id, entity_key, taxonomy, feature_tag,
				business_purpose, domain_concepts, semantic_triples, confidence, calibrated_confidence,
				confidence_structural, confidence_intent, confidence_llm, reasoning, model_used,
				model_tier, body_hash, valid_from, valid_to)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
			orgID, repoID, j.EntityKey, j.Taxonomy, j.FeatureTag, j.BusinessPurpose,
			conceptsJSON, triplesJSON, j.Confidence, j.CalibratedConfidence,
			j.ConfidenceBreakdown.Structural, j.ConfidenceBreakdown.Intent, j.ConfidenceBreakdown.LLM,
			j.Reasoning, j.ModelUsed, j.ModelTier, j.BodyHash, j.ValidFrom, j.ValidTo); err != nil {
			return fmt.Errorf("relational: insert justification for %s: %w", j.EntityKey, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("relational: commit justifications: %w", err)
	}
	return nil
}

func scanJustification(row pgx.Row, orgID, repoID, entityKey string) (*model.Justification, error) {
	j := model.Justification{OrgID: orgID, RepoID: repoID, EntityKey: entityKey}
	var conceptsJSON, triplesJSON []byte
	if err := row.Scan(&j.Taxonomy, &j.FeatureTag, &j.BusinessPurpose, &conceptsJSON, &triplesJSON,
		&j.Confidence, &j.CalibratedConfidence, &j.ConfidenceBreakdown.Structural,
		&j.ConfidenceBreakdown.Intent, &j.ConfidenceBreakdown.LLM, &j.Reasoning, &j.ModelUsed,
		&j.ModelTier, &j.BodyHash, &j.ValidFrom, &j.ValidTo); err != nil {
		return nil, err
	}
	if len(conceptsJSON) > 0 {
		_ = json.Unmarshal(conceptsJSON, &j.DomainConcepts)
	}
	if len(triplesJSON) > 0 {
		_ = json.Unmarshal(triplesJSON, &j.SemanticTriples)
	}
	return &j, nil
}

func (s *Store) CurrentJustification(ctx context.Context, orgID, repoID, entityKey string) (*model.Justification, error) {
	row := s.pool.QueryRow(ctx, `
		select taxonomy, feature_tag, business_purpose, domain_concepts, semantic_triples,
		       confidence, calibrated_confidence, confidence_structural, confidence_intent,
		       confidence_llm, reasoning, model_used, model_tier, body_hash, valid_from, valid_to
		from justifications
		where org_id = $1 and repo_id = $2 and entity_key = $3 and valid_to >= $4
		order by valid_from desc limit 1`, orgID, repoID, entityKey, model.FarFuture)
	j, err := scanJustification(row, orgID, repoID, entityKey)
	if err != nil {
		return nil, fmt.Errorf("relational: current justification: %w", err)
	}
	return j, nil
}

func (s *Store) JustificationAsOf(ctx context.Context, orgID, repoID, entityKey string, at time.Time) (*model.Justification, error) {
	row := s.pool.QueryRow(ctx, `
		select taxonomy, feature_tag, business_purpose, domain_concepts, semantic_triples,
		       confidence, calibrated_confidence, confidence_structural, confidence_intent,
		       confidence_llm, reasoning, model_used, model_tier, body_hash, valid_from, valid_to
		from justifications
		where org_id = $1 and repo_id = $2 and entity_key = $3 and valid_from <= $4 and valid_to > $4
		order by valid_from desc limit 1`, orgID, repoID, entityKey, at)
	j, err := scanJustification(row, orgID, repoID, entityKey)
	if err != nil {
		return nil, fmt.Errorf("relational: justification as of %s: %w", at, err)
	}
	return j, nil
}

func (s *Store) PutOntology(ctx context.Context, ont *model.DomainOntology) error {
	termsJSON, err := json.Marshal(ont.Terms)
	if err != nil {
		return fmt.Errorf("relational: marshal terms: %w", err)
	}
	aliasesJSON, err := json.Marshal(ont.Aliases)
	if err != nil {
		return fmt.Errorf("relational: marshal aliases: %w", err)
	}
	relationsJSON, err := json.Marshal(ont.Relations)
	if err != nil {
		return fmt.Errorf("relational: marshal relations: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		insert into ontologies (org_id, repo_id, terms, aliases, relations)
		values ($1, $2, $3, $4, $5)
		on conflict (org_id, repo_id) do update set
			terms = excluded.terms, aliases = excluded.aliases, relations = excluded.relations`,
		ont.OrgID, ont.RepoID, termsJSON, aliasesJSON, relationsJSON)
	if err != nil {
		return fmt.Errorf("relational: put ontology: %w", err)
	}
	return nil
}

func (s *Store) GetOntology(ctx context.Context, orgID, repoID string) (*model.DomainOntology, error) {
	row := s.pool.QueryRow(ctx, `select terms, aliases, relations from ontologies where org_id = $1 and repo_id = $2`, orgID, repoID)
	ont := model.DomainOntology{OrgID: orgID, RepoID: repoID}
	var termsJSON, aliasesJSON, relationsJSON []byte
	if err := row.Scan(&termsJSON, &aliasesJSON, &relationsJSON); err != nil {
		return nil, fmt.Errorf("relational: get ontology: %w", err)
	}
	_ = json.Unmarshal(termsJSON, &ont.Terms)
	_ = json.Unmarshal(aliasesJSON, &ont.Aliases)
	_ = json.Unmarshal(relationsJSON, &ont.Relations)
	return &ont, nil
}

func (s *Store) PutFeatureAggregations(ctx context.Context, orgID, repoID string, aggs []model.FeatureAggregation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("relational: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `delete from feature_aggregations where org_id = $1 and repo_id = $2`, orgID, repoID); err != nil {
		return fmt.Errorf("relational: clear feature aggregations: %w", err)
	}
	for _, a := range aggs {
		breakdownJSON, err := json.Marshal(a.TaxonomyBreakdown)
		if err != nil {
			return fmt.Errorf("relational: marshal taxonomy_breakdown: %w", err)
		}
		entryPointsJSON, err := json.Marshal(a.EntryPoints)
		if err != nil {
			return fmt.Errorf("relational: marshal entry_points: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			insert into feature_aggregations (org_id, repo_id, feature_tag, entity_count, entry_points, taxonomy_breakdown, average_confidence)
			values ($1, $2, $3, $4, $5, $6, $7)`,
			orgID, repoID, a.FeatureTag, a.EntityCount, entryPointsJSON, breakdownJSON, a.AverageConfidence); err != nil {
			return fmt.Errorf("relational: insert feature aggregation %s: %w", a.FeatureTag, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("relational: commit feature aggregations: %w", err)
	}
	return nil
}

func (s *Store) PutHealthReport(ctx context.Context, report *model.HealthReport) error {
	categoriesJSON, err := json.Marshal(report.Categories)
	if err != nil {
		return fmt.Errorf("relational: marshal categories: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		insert into health_reports (org_id, repo_id, index_version, state, categories, summary)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (org_id, repo_id) do update set
			index_version = excluded.index_version, state = excluded.state,
			categories = excluded.categories, summary = excluded.summary`,
		report.OrgID, report.RepoID, report.IndexVersion, report.State, categoriesJSON, report.Summary)
	if err != nil {
		return fmt.Errorf("relational: put health report: %w", err)
	}
	return nil
}

func (s *Store) GetHealthReport(ctx context.Context, orgID, repoID string) (*model.HealthReport, error) {
	row := s.pool.QueryRow(ctx, `
		select index_version, state, categories, summary
		from health_reports where org_id = $1 and repo_id = $2`, orgID, repoID)
	report := model.HealthReport{OrgID: orgID, RepoID: repoID}
	var categoriesJSON []byte
	if err := row.Scan(&report.IndexVersion, &report.State, &categoriesJSON, &report.Summary); err != nil {
		return nil, fmt.Errorf("relational: get health report: %w", err)
	}
	_ = json.Unmarshal(categoriesJSON, &report.Categories)
	return &report, nil
}

func (s *Store) PutRules(ctx context.Context, orgID, repoID string, rules []model.Rule) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("relational: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range rules {
		languagesJSON, err := json.Marshal(r.Languages)
		if err != nil {
			return fmt.Errorf("relational: marshal languages: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			insert into rules (id, org_id, repo_id, rule_body, mangle_program, semgrep_rule,
				enforcement, scope, priority, status, languages)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			on conflict (id) do update set
				rule_body = excluded.rule_body, mangle_program = excluded.mangle_program,
				semgrep_rule = excluded.semgrep_rule, enforcement = excluded.enforcement,
				scope = excluded.scope, priority = excluded.priority, status = excluded.status,
				languages = excluded.languages`,
			r.ID, orgID, repoID, r.RuleBody, r.MangleProgram, r.SemgrepRule,
			r.Enforcement, r.Scope, r.Priority, r.Status, languagesJSON); err != nil {
			return fmt.Errorf("relational: upsert rule %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("relational: commit rules: %w", err)
	}
	return nil
}

func (s *Store) ActiveRules(ctx context.Context, orgID, repoID string) ([]model.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		select id, rule_body, mangle_program, semgrep_rule, enforcement, scope, priority, status, languages
		from rules where (org_id = $1 or repo_id = $2) and status = $3`,
		orgID, repoID, model.RuleStatusActive)
	if err != nil {
		return nil, fmt.Errorf("relational: active rules: %w", err)
	}
	defer rows.Close()

	var out []model.Rule
	for rows.Next() {
		var r model.Rule
		var languagesJSON []byte
		if err := rows.Scan(&r.ID, &r.RuleBody, &r.MangleProgram, &r.SemgrepRule,
			&r.Enforcement, &r.Scope, &r.Priority, &r.Status, &languagesJSON); err != nil {
			return nil, fmt.Errorf("relational: scan rule: %w", err)
		}
		_ = json.Unmarshal(languagesJSON, &r.Languages)
		r.OrgID, r.RepoID = orgID, repoID
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) PutPatterns(ctx context.Context, orgID, repoID string, patterns []model.Pattern) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("relational: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, p := range patterns {
		evidenceJSON, err := json.Marshal(p.Evidence)
		if err != nil {
			return fmt.Errorf("relational: marshal evidence: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			insert into patterns (id, org_id, repo_id, name, category, evidence, confirmed)
			values ($1, $2, $3, $4, $5, $6, $7)
			on conflict (id) do update set
				name = excluded.name, category = excluded.category,
				evidence = excluded.evidence, confirmed = excluded.confirmed`,
			p.ID, orgID, repoID, p.Name, p.Category, evidenceJSON, p.Confirmed); err != nil {
			return fmt.Errorf("relational: upsert pattern %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("relational: commit patterns: %w", err)
	}
	return nil
}

func (s *Store) AppendLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	changesJSON, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("relational: marshal changes: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		insert into ledger_entries (id, org_id, repo_id, prompt, changes, status, branch,
			timeline_branch, parent_id, rewind_target_id, commit_sha, snapshot_id,
			validated_at, rule_generated, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		entry.ID, entry.OrgID, entry.RepoID, entry.Prompt, changesJSON, entry.Status, entry.Branch,
		entry.TimelineBranch, entry.ParentID, entry.RewindTargetID, entry.CommitSHA, entry.SnapshotID,
		entry.ValidatedAt, entry.RuleGenerated, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("relational: append ledger entry: %w", err)
	}
	return nil
}

func (s *Store) PutSnapshotMeta(ctx context.Context, snap *model.GraphSnapshot) error {
	_, err := s.pool.Exec(ctx, `
		insert into graph_snapshots (org_id, repo_id, checksum, size_bytes, entity_count, edge_count, generated_at, status)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (org_id, repo_id) do update set
			checksum = excluded.checksum, size_bytes = excluded.size_bytes,
			entity_count = excluded.entity_count, edge_count = excluded.edge_count,
			generated_at = excluded.generated_at, status = excluded.status`,
		snap.OrgID, snap.RepoID, snap.Checksum, snap.SizeBytes, snap.EntityCount,
		snap.EdgeCount, snap.GeneratedAt, snap.Status)
	if err != nil {
		return fmt.Errorf("relational: put snapshot meta: %w", err)
	}
	return nil
}

func (s *Store) GetSnapshotMeta(ctx context.Context, orgID, repoID string) (*model.GraphSnapshot, error) {
	row := s.pool.QueryRow(ctx, `
		select checksum, size_bytes, entity_count, edge_count, generated_at, status
		from graph_snapshots where org_id = $1 and repo_id = $2`, orgID, repoID)
	snap := model.GraphSnapshot{OrgID: orgID, RepoID: repoID}
	if err := row.Scan(&snap.Checksum, &snap.SizeBytes, &snap.EntityCount, &snap.EdgeCount,
		&snap.GeneratedAt, &snap.Status); err != nil {
		return nil, fmt.Errorf("relational: get snapshot meta: %w", err)
	}
	return &snap, nil
}
