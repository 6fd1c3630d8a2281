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

// Package store defines the port interfaces every pipeline stage depends on.
// Each port has exactly one production adapter (graphdb, relational, cache,
// objectstore, ...) and one in-memory fake (memstore), following the same
// Backend-interface-plus-implementation split the ingestion pipeline uses
// for its storage.Backend abstraction.
package store

import (
	"context"
	"time"

	"github.com/kraklabs/kgpipe/internal/model"
)

// GraphStore is the Datalog-backed graph store: entities, edges, and
// analytics-derived annotations (§4.1, §4.4). Queries are scoped by
// org_id/repo_id at the call site, never implicitly.
type GraphStore interface {
	UpsertEntities(ctx context.Context, orgID, repoID string, entities []model.CodeEntity) error
	UpsertEdges(ctx context.Context, orgID, repoID string, edges []model.CodeEdge) error

	// EntitiesByVersion returns every entity stamped with indexVersion,
	// used by the shadow-swap finalize step and by analytics precompute.
	EntitiesByVersion(ctx context.Context, orgID, repoID, indexVersion string) ([]model.CodeEntity, error)
	EdgesByVersion(ctx context.Context, orgID, repoID, indexVersion string) ([]model.CodeEdge, error)

	// DeleteOlderVersions atomically removes entities/edges not stamped
	// with keepVersion, implementing the shadow-swap finalize (§4.1 step 4).
	DeleteOlderVersions(ctx context.Context, orgID, repoID, keepVersion string) error

	// UpdateAnalytics writes back fan-in/out, pagerank, and community_id
	// annotations computed by internal/graphanalytics (§4.4).
	UpdateAnalytics(ctx context.Context, orgID, repoID string, annotations []EntityAnnotation) error

	EntityByKey(ctx context.Context, orgID, repoID, key string) (*model.CodeEntity, error)
	Neighbors(ctx context.Context, orgID, repoID, key string, kinds []model.EdgeKind, direction Direction) ([]model.CodeEdge, error)

	Close() error
}

// Direction constrains a Neighbors traversal.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// EntityAnnotation is the analytics write-back payload for one entity.
type EntityAnnotation struct {
	Key          string
	FanIn        int
	FanOut       int
	RiskLevel    model.RiskLevel
	CommunityID  int
	PageRank     float64
	PageRankPctl float64
}

// RelationalStore is the tenant-scoped relational store for rows that do
// not belong in the graph: repos, pipeline runs, justifications (bi-temporal
// rows), ontology, health reports, rules/patterns, and ledger entries.
type RelationalStore interface {
	GetRepo(ctx context.Context, orgID, repoID string) (*model.Repo, error)
	PutRepo(ctx context.Context, repo *model.Repo) error

	CreatePipelineRun(ctx context.Context, run *model.PipelineRun) error
	UpdatePipelineRun(ctx context.Context, run *model.PipelineRun) error
	GetPipelineRun(ctx context.Context, orgID, repoID, runID string) (*model.PipelineRun, error)

	// PutJustifications inserts new current rows; any existing current row
	// for the same entity key is closed (valid_to = now) in the same call,
	// implementing the bi-temporal write of §4.7.12.
	PutJustifications(ctx context.Context, orgID, repoID string, js []model.Justification) error
	CurrentJustification(ctx context.Context, orgID, repoID, entityKey string) (*model.Justification, error)
	JustificationAsOf(ctx context.Context, orgID, repoID, entityKey string, at time.Time) (*model.Justification, error)

	PutOntology(ctx context.Context, ont *model.DomainOntology) error
	GetOntology(ctx context.Context, orgID, repoID string) (*model.DomainOntology, error)

	PutFeatureAggregations(ctx context.Context, orgID, repoID string, aggs []model.FeatureAggregation) error
	PutHealthReport(ctx context.Context, report *model.HealthReport) error
	GetHealthReport(ctx context.Context, orgID, repoID string) (*model.HealthReport, error)

	PutRules(ctx context.Context, orgID, repoID string, rules []model.Rule) error
	ActiveRules(ctx context.Context, orgID, repoID string) ([]model.Rule, error)
	PutPatterns(ctx context.Context, orgID, repoID string, patterns []model.Pattern) error

	AppendLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error
	PutSnapshotMeta(ctx context.Context, snap *model.GraphSnapshot) error
	GetSnapshotMeta(ctx context.Context, orgID, repoID string) (*model.GraphSnapshot, error)

	Close() error
}

// VectorSearch is the nearest-neighbor index over code and synthesis
// embeddings (§4.5, §6.2).
type VectorSearch interface {
	Upsert(ctx context.Context, embeddings []model.Embedding) error
	// Search returns the k nearest entity keys for the given variant,
	// scoped to org/repo, ordered by ascending cosine distance.
	Search(ctx context.Context, orgID, repoID string, variant model.EmbeddingVariant, query []float32, k int) ([]SearchHit, error)
	// Orphans returns the entity keys that have an embedding of the given
	// variant but are absent from liveKeys, for the embedding reconciliation
	// sweep (§4.5.6).
	Orphans(ctx context.Context, orgID, repoID string, variant model.EmbeddingVariant, liveKeys []string) ([]string, error)
	DeleteByKeys(ctx context.Context, orgID, repoID string, keys []string) error
}

// SearchHit is one ranked vector-search result.
type SearchHit struct {
	EntityKey string
	Score     float64
}

// CacheStore provides distributed locks, debounce state, and progress
// pub/sub, generalizing the SetNX-based lock pattern (§4.1 debounce,
// §4.1.10 progress events).
type CacheStore interface {
	// SetIfAbsent implements the distributed lock primitive used for the
	// 60-second re-index debounce window and for single-flight guards.
	SetIfAbsent(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	// Publish/Subscribe carry ProgressEvent notifications (§4.1.10).
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
	Close() error
}

// ObjectStore is the blob store backing graph snapshot export (§4.8).
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// GitHost abstracts repository acquisition: clone/fetch a workspace at a
// ref and report the resolved commit SHA (§4.1 step "prepare").
type GitHost interface {
	// Acquire clones or fetches repoURL into a local workspace at ref,
	// returning the workspace path and the resolved commit SHA.
	Acquire(ctx context.Context, repoURL, ref string) (workspacePath string, sha string, err error)
	// ChangedFiles returns the paths that differ between two commits, used
	// by the incremental delta classifier (§4.1 incremental mode).
	ChangedFiles(ctx context.Context, workspacePath, fromSHA, toSHA string) ([]string, error)
}

// WorkflowEngine runs the eleven-step pipeline for a repo and debounces
// signals (webhook-triggered re-index) against an in-flight run (§4.1).
// The PipelineRun row is written through the RelationalStore, but a run's
// execution is held in process memory: a run cut short by a process
// restart is not resumed, and a failed step is not retried.
type WorkflowEngine interface {
	StartRun(ctx context.Context, orgID, repoID string, incremental bool) (runID string, err error)
	Signal(ctx context.Context, orgID, repoID string, signal Signal) error
	RunStatus(ctx context.Context, orgID, repoID, runID string) (*model.PipelineRun, error)
}

// Signal is an external event the workflow engine debounces and reacts to.
type Signal string

const (
	SignalWebhookPush Signal = "webhook_push"
	SignalManualIndex Signal = "manual_index"
)

// WorkflowRunner executes the eleven-step pipeline for a single
// StartRun/Signal invocation, recording per-step progress onto run via
// run.StepByName. internal/orchestrator supplies the concrete runner;
// WorkflowEngine adapters (internal/store/workflow, internal/store/memstore)
// are constructed with one and invoke it once per debounced run.
type WorkflowRunner func(ctx context.Context, orgID, repoID string, incremental bool, run *model.PipelineRun) error

// ChatMessage is a single turn in a justification or ontology-inference
// prompt, mirroring pkg/llm.Message's role/content shape.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatCompletion is the raw text response to a ChatMessage exchange, plus
// the token accounting the cost tracker in §4.7.7 needs.
type ChatCompletion struct {
	Content      string
	Model        string
	PromptTokens int
	OutputTokens int
}

// ObjectCompletion is a structured-output response: Raw is the provider's
// unparsed JSON text (kept for audit/replay), Data is that text decoded
// against the schema the caller requested.
type ObjectCompletion struct {
	Raw          string
	Data         map[string]any
	Model        string
	PromptTokens int
	OutputTokens int
}

// LLMProvider is the justification/ontology-inference LLM port. It extends
// the teacher's pkg/llm.Provider shape with a structured-output method
// (GenerateObject), required because §4.6's justification writer and
// §4.5's ontology inference both need schema-conformant JSON rather than
// free text to parse reliably.
type LLMProvider interface {
	Name() string

	// Chat runs a multi-turn completion, used for conversational ontology
	// clarification passes that don't require structured output.
	Chat(ctx context.Context, messages []ChatMessage, model string) (*ChatCompletion, error)

	// GenerateObject runs a completion constrained to return JSON matching
	// schema (a JSON Schema object), used by the justification writer
	// (§4.6.6) and ontology/rule synthesis (§4.5, §4.9) so callers can
	// unmarshal the result directly instead of parsing free text.
	GenerateObject(ctx context.Context, messages []ChatMessage, schema map[string]any, model string) (*ObjectCompletion, error)
}

// PatternEngine evaluates a compiled Mangle/Datalog rule program against a
// fact base derived from the graph, returning matched entity keys (§4.8).
type PatternEngine interface {
	LoadProgram(ctx context.Context, mangleSource string) (programID string, err error)
	Eval(ctx context.Context, programID string, facts []Fact) ([]Match, error)
}

// Fact is one Datalog fact asserted into a PatternEngine program, derived
// from a CodeEntity/CodeEdge projection.
type Fact struct {
	Predicate string
	Args      []string
}

// Match is one Mangle program result row, mapped back to an entity key.
type Match struct {
	EntityKey string
	RuleArgs  []string
}
