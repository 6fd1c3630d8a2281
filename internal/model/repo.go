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

import "time"

// RepoStatus is a state in the repo status machine (§4.9).
type RepoStatus string

const (
	StatusPending      RepoStatus = "pending"
	StatusIndexing     RepoStatus = "indexing"
	StatusEmbedding    RepoStatus = "embedding"
	StatusOntology     RepoStatus = "ontology"
	StatusJustifying   RepoStatus = "justifying"
	StatusAnalyzing    RepoStatus = "analyzing"
	StatusReady        RepoStatus = "ready"
	StatusError        RepoStatus = "error"
	StatusEmbedFailed  RepoStatus = "embed_failed"
	StatusJustifyFailed RepoStatus = "justify_failed"
)

// repoTransitions encodes the state machine of §4.9. `ready` and the
// error-family states all lead back to `indexing`; from `ready` that is a
// shadow re-index. The table does not decide whether a trigger is accepted
// while a run is in progress; IsInProgress reports that, and the
// orchestrator does not check it.
var repoTransitions = map[RepoStatus][]RepoStatus{
	StatusPending:    {StatusIndexing, StatusError},
	StatusIndexing:   {StatusEmbedding, StatusError},
	StatusEmbedding:  {StatusOntology, StatusEmbedFailed},
	StatusOntology:   {StatusJustifying, StatusError},
	StatusJustifying: {StatusAnalyzing, StatusJustifyFailed},
	StatusAnalyzing:  {StatusReady, StatusError},
	StatusReady:      {StatusIndexing}, // shadow re-index
	StatusError:        {StatusIndexing},
	StatusEmbedFailed:  {StatusIndexing},
	StatusJustifyFailed: {StatusIndexing},
}

// CanTransition reports whether moving from s to next is a legal step of
// the repo status machine.
func (s RepoStatus) CanTransition(next RepoStatus) bool {
	for _, allowed := range repoTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminalFailure reports whether s is one of the error-family states.
func (s RepoStatus) IsTerminalFailure() bool {
	return s == StatusError || s == StatusEmbedFailed || s == StatusJustifyFailed
}

// IsInProgress reports whether a re-index trigger must be rejected because
// one is already running (§4.1 trigger rules).
func (s RepoStatus) IsInProgress() bool {
	switch s {
	case StatusIndexing, StatusEmbedding, StatusOntology, StatusJustifying, StatusAnalyzing:
		return true
	default:
		return false
	}
}

// Repo is a tenant-scoped source repository (§3.1).
type Repo struct {
	OrgID          string     `json:"org_id"`
	RepoID         string     `json:"repo_id"`
	Provider       string     `json:"provider"`
	DefaultBranch  string     `json:"default_branch"`
	LastIndexedSHA string     `json:"last_indexed_sha"`
	IndexVersion   string     `json:"index_version"`
	Status         RepoStatus `json:"status"`

	PrepareStartedAt    *time.Time `json:"prepare_started_at,omitempty"`
	PrepareCompletedAt  *time.Time `json:"prepare_completed_at,omitempty"`
	IndexStartedAt      *time.Time `json:"index_started_at,omitempty"`
	IndexCompletedAt    *time.Time `json:"index_completed_at,omitempty"`
	EmbedStartedAt      *time.Time `json:"embed_started_at,omitempty"`
	EmbedCompletedAt    *time.Time `json:"embed_completed_at,omitempty"`
	JustifyStartedAt    *time.Time `json:"justify_started_at,omitempty"`
	JustifyCompletedAt  *time.Time `json:"justify_completed_at,omitempty"`

	EntityCount int `json:"entity_count"`
	EdgeCount   int `json:"edge_count"`

	ManifestData      map[string]string `json:"manifest_data,omitempty"`
	ContextDocuments  []string          `json:"context_documents,omitempty"`
}

// PipelineStepName names one of the eleven discrete steps tracked on a
// PipelineRun row (§4.1).
type PipelineStepName string

const (
	StepPrepare        PipelineStepName = "prepare"
	StepSCIP           PipelineStepName = "scip"
	StepTreeSitter     PipelineStepName = "tree_sitter"
	StepFinalize       PipelineStepName = "finalize"
	StepAnalyticsPrecompute PipelineStepName = "analytics_precompute"
	StepEmbed          PipelineStepName = "embed"
	StepOntology       PipelineStepName = "ontology"
	StepJustify        PipelineStepName = "justify"
	StepHealth         PipelineStepName = "health"
	StepSnapshot       PipelineStepName = "snapshot"
	StepPatterns       PipelineStepName = "patterns"
)

// AllSteps lists the eleven pipeline steps in canonical order.
var AllSteps = []PipelineStepName{
	StepPrepare, StepSCIP, StepTreeSitter, StepFinalize, StepAnalyticsPrecompute,
	StepEmbed, StepOntology, StepJustify, StepHealth, StepSnapshot, StepPatterns,
}

// PipelineStep is the per-step progress state attached to a PipelineRun.
type PipelineStep struct {
	Name        PipelineStepName `json:"name"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// PipelineRun is a single invocation of the pipeline (§3.1).
type PipelineRun struct {
	RunID        string         `json:"run_id"`
	OrgID        string         `json:"org_id"`
	RepoID       string         `json:"repo_id"`
	IndexVersion string         `json:"index_version"`
	Steps        []PipelineStep `json:"steps"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Totals       map[string]int `json:"totals,omitempty"`
}

// StepByName returns a pointer to the named step, appending a fresh one if
// absent, so callers can record start/complete/error in place.
func (r *PipelineRun) StepByName(name PipelineStepName) *PipelineStep {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i]
		}
	}
	r.Steps = append(r.Steps, PipelineStep{Name: name})
	return &r.Steps[len(r.Steps)-1]
}

// SnapshotStatus is the lifecycle state of a GraphSnapshot (§3.1).
type SnapshotStatus string

const (
	SnapshotGenerating SnapshotStatus = "generating"
	SnapshotAvailable  SnapshotStatus = "available"
	SnapshotFailed     SnapshotStatus = "failed"
)

// GraphSnapshot is the metadata row for an exported binary artifact (§3.1).
type GraphSnapshot struct {
	OrgID       string         `json:"org_id"`
	RepoID      string         `json:"repo_id"`
	Checksum    string         `json:"checksum"`
	SizeBytes   int64          `json:"size_bytes"`
	EntityCount int            `json:"entity_count"`
	EdgeCount   int            `json:"edge_count"`
	GeneratedAt time.Time      `json:"generated_at"`
	Status      SnapshotStatus `json:"status"`
}
