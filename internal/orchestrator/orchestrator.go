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

// Package orchestrator wires every pipeline package into the eleven-step
// run (§4.1, §4.9) a store.WorkflowEngine invokes once per debounced
// signal. It owns the repo status state machine transitions
// (model.RepoStatus.CanTransition) and the per-step PipelineRun
// bookkeeping; every step it runs is implemented by another package
// already grounded and tested on its own (internal/indexer,
// internal/graphanalytics, internal/embedding, internal/ontology,
// internal/justification, internal/health, internal/snapshot,
// internal/rules) — this package's own job is sequencing and status
// tracking, not domain logic.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/kraklabs/kgpipe/internal/embedding"
	"github.com/kraklabs/kgpipe/internal/graphanalytics"
	"github.com/kraklabs/kgpipe/internal/health"
	"github.com/kraklabs/kgpipe/internal/indexer"
	"github.com/kraklabs/kgpipe/internal/justification"
	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/ontology"
	"github.com/kraklabs/kgpipe/internal/rules"
	"github.com/kraklabs/kgpipe/internal/snapshot"
	"github.com/kraklabs/kgpipe/internal/store"
)

// CloneURLKey is the model.Repo.ManifestData key the orchestrator reads
// for the URL to pass to GitHost.Acquire; no Repo field is dedicated to
// it since ManifestData is already the catch-all per-repo config bag
// (§3.1) and a clone URL is exactly that kind of provider-specific detail.
const CloneURLKey = "clone_url"

// Orchestrator runs the eleven named pipeline steps against one tenant's
// repo, constructed once with every store port and domain package it
// needs and then handed to a store.WorkflowEngine as a store.WorkflowRunner.
type Orchestrator struct {
	Relational store.RelationalStore
	Graph      store.GraphStore
	Vector     store.VectorSearch
	Objects    store.ObjectStore
	Git        store.GitHost
	LLM        store.LLMProvider
	Patterns   store.PatternEngine
	Embed      embedding.Embedder
	Now        func() time.Time
}

// New returns an Orchestrator wired to the given ports.
func New(relational store.RelationalStore, graph store.GraphStore, vector store.VectorSearch, objects store.ObjectStore, git store.GitHost, llm store.LLMProvider, patterns store.PatternEngine, embed embedding.Embedder) *Orchestrator {
	return &Orchestrator{
		Relational: relational, Graph: graph, Vector: vector, Objects: objects,
		Git: git, LLM: llm, Patterns: patterns, Embed: embed, Now: time.Now,
	}
}

// Runner adapts the Orchestrator's Run method to store.WorkflowRunner's
// signature, for use as the runner argument to internal/store/workflow.New
// or internal/store/memstore.NewWorkflowEngine.
func (o *Orchestrator) Runner() store.WorkflowRunner {
	return o.Run
}

// Run executes the full eleven-step pipeline for one PipelineRun,
// choosing between indexRepo (full) and incrementalIndex (delta) for the
// indexing steps based on incremental and the repo's prior
// LastIndexedSHA, and advancing the repo status machine one legal
// transition per phase. A step failure stops the run, records the error
// on that step, and moves the repo into the corresponding failure state
// rather than silently continuing into steps whose preconditions no
// longer hold.
func (o *Orchestrator) Run(ctx context.Context, orgID, repoID string, incremental bool, run *model.PipelineRun) error {
	orchMetrics.init()
	orchMetrics.runsStarted.Inc()

	repo, err := o.Relational.GetRepo(ctx, orgID, repoID)
	if err != nil {
		return fmt.Errorf("orchestrator: load repo: %w", err)
	}
	if repo == nil {
		return fmt.Errorf("orchestrator: repo %s/%s not found", orgID, repoID)
	}

	var workspacePath, sha string
	if err := o.runStep(run, model.StepPrepare, func() error {
		var stepErr error
		workspacePath, sha, stepErr = o.stepPrepare(ctx, repo)
		return stepErr
	}); err != nil {
		return o.fail(ctx, repo, model.StatusError, err)
	}
	o.transition(ctx, repo, model.StatusIndexing)
	indexStarted := o.Now()
	repo.IndexStartedAt = &indexStarted

	useIncremental := incremental && repo.LastIndexedSHA != "" && repo.LastIndexedSHA != sha
	var scanned int
	if err := o.runStep(run, model.StepSCIP, func() error {
		var stepErr error
		scanned, stepErr = o.stepSCIP(workspacePath)
		return stepErr
	}); err != nil {
		return o.fail(ctx, repo, model.StatusError, err)
	}
	run.Totals = mergeTotals(run.Totals, "files_scanned", scanned)

	var indexResult indexer.Result
	if err := o.runStep(run, model.StepTreeSitter, func() error {
		var stepErr error
		indexResult, stepErr = o.stepTreeSitter(ctx, orgID, repoID, sha, repo.LastIndexedSHA, workspacePath, useIncremental)
		return stepErr
	}); err != nil {
		return o.fail(ctx, repo, model.StatusError, err)
	}
	run.Totals = mergeTotals(run.Totals, "entities_written", indexResult.EntitiesWritten)
	run.Totals = mergeTotals(run.Totals, "edges_written", indexResult.EdgesWritten)

	if err := o.runStep(run, model.StepFinalize, func() error {
		return o.stepFinalize(ctx, repo, sha, indexResult)
	}); err != nil {
		return o.fail(ctx, repo, model.StatusError, err)
	}

	var entities []model.CodeEntity
	if err := o.runStep(run, model.StepAnalyticsPrecompute, func() error {
		var stepErr error
		entities, stepErr = o.stepAnalyticsPrecompute(ctx, orgID, repoID, sha, run)
		return stepErr
	}); err != nil {
		return o.fail(ctx, repo, model.StatusError, err)
	}

	o.transition(ctx, repo, model.StatusEmbedding)
	embedStarted := o.Now()
	repo.EmbedStartedAt = &embedStarted
	if err := o.runStep(run, model.StepEmbed, func() error {
		return o.stepEmbed(ctx, orgID, repoID, entities, run)
	}); err != nil {
		return o.fail(ctx, repo, model.StatusEmbedFailed, err)
	}
	embedCompleted := o.Now()
	repo.EmbedCompletedAt = &embedCompleted

	o.transition(ctx, repo, model.StatusOntology)
	if err := o.runStep(run, model.StepOntology, func() error {
		_, stepErr := ontology.New(o.Graph, o.Relational).Build(ctx, orgID, repoID, sha)
		return stepErr
	}); err != nil {
		return o.fail(ctx, repo, model.StatusError, err)
	}

	o.transition(ctx, repo, model.StatusJustifying)
	justifyStarted := o.Now()
	repo.JustifyStartedAt = &justifyStarted
	if err := o.runStep(run, model.StepJustify, func() error {
		summary, stepErr := justification.NewEngine(o.Graph, o.Relational, o.LLM).Run(ctx, orgID, repoID, sha)
		run.Totals = mergeTotals(run.Totals, "entities_justified", summary.Justified)
		run.Totals = mergeTotals(run.Totals, "entities_fallback", summary.Fallback)
		return stepErr
	}); err != nil {
		return o.fail(ctx, repo, model.StatusJustifyFailed, err)
	}
	justifyCompleted := o.Now()
	repo.JustifyCompletedAt = &justifyCompleted

	o.transition(ctx, repo, model.StatusAnalyzing)
	if err := o.runStep(run, model.StepHealth, func() error {
		_, stepErr := health.New(o.Graph, o.Relational).Build(ctx, orgID, repoID, sha)
		return stepErr
	}); err != nil {
		return o.fail(ctx, repo, model.StatusError, err)
	}

	if err := o.runStep(run, model.StepSnapshot, func() error {
		snap, stepErr := snapshot.NewExporter(o.Graph, o.Objects, o.Relational).Export(ctx, orgID, repoID, sha)
		run.Totals = mergeTotals(run.Totals, "snapshot_size_bytes", int(snap.SizeBytes))
		return stepErr
	}); err != nil {
		return o.fail(ctx, repo, model.StatusError, err)
	}

	if err := o.runStep(run, model.StepPatterns, func() error {
		patterns, draftRules, stepErr := rules.NewSynthesizer(o.Graph, o.Patterns, o.Relational).Detect(ctx, orgID, repoID, sha)
		if stepErr != nil {
			return stepErr
		}
		if len(patterns) > 0 {
			if stepErr := o.Relational.PutPatterns(ctx, orgID, repoID, patterns); stepErr != nil {
				return fmt.Errorf("orchestrator: persist patterns: %w", stepErr)
			}
		}
		if len(draftRules) > 0 {
			if stepErr := o.Relational.PutRules(ctx, orgID, repoID, draftRules); stepErr != nil {
				return fmt.Errorf("orchestrator: persist draft rules: %w", stepErr)
			}
		}
		run.Totals = mergeTotals(run.Totals, "patterns_detected", len(patterns))
		run.Totals = mergeTotals(run.Totals, "rules_drafted", len(draftRules))
		return nil
	}); err != nil {
		return o.fail(ctx, repo, model.StatusError, err)
	}

	o.transition(ctx, repo, model.StatusReady)
	orchMetrics.runsCompleted.Inc()
	return nil
}

func (o *Orchestrator) stepPrepare(ctx context.Context, repo *model.Repo) (string, string, error) {
	cloneURL := repo.ManifestData[CloneURLKey]
	ref := repo.DefaultBranch
	if ref == "" {
		ref = "HEAD"
	}
	started := o.Now()
	repo.PrepareStartedAt = &started
	workspacePath, sha, err := o.Git.Acquire(ctx, cloneURL, ref)
	if err != nil {
		return "", "", fmt.Errorf("orchestrator: acquire workspace: %w", err)
	}
	completed := o.Now()
	repo.PrepareCompletedAt = &completed
	return workspacePath, sha, nil
}

// stepSCIP is the coarse, fast inventory pass over the workspace (§4.2):
// a file count recorded before the slower
// Tree-sitter structural pass runs, so a run that dies mid-parse still
// leaves behind how large the repo was.
func (o *Orchestrator) stepSCIP(workspacePath string) (int, error) {
	files, err := indexer.WalkRepo(workspacePath, indexer.DefaultMaxFileSize)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: scan workspace: %w", err)
	}
	return len(files), nil
}

func (o *Orchestrator) stepTreeSitter(ctx context.Context, orgID, repoID, toSHA, fromSHA, workspacePath string, useIncremental bool) (indexer.Result, error) {
	ix := indexer.New(o.Graph)
	if useIncremental {
		return ix.IndexChangedFiles(ctx, orgID, repoID, toSHA, workspacePath, fromSHA, toSHA, o.Git)
	}
	return ix.Index(ctx, orgID, repoID, toSHA, workspacePath)
}

func (o *Orchestrator) stepFinalize(ctx context.Context, repo *model.Repo, sha string, result indexer.Result) error {
	if err := o.Graph.DeleteOlderVersions(ctx, repo.OrgID, repo.RepoID, sha); err != nil {
		return fmt.Errorf("orchestrator: finalize shadow swap: %w", err)
	}
	now := o.Now()
	repo.IndexCompletedAt = &now
	repo.LastIndexedSHA = sha
	repo.IndexVersion = sha
	repo.EntityCount = result.EntitiesWritten
	repo.EdgeCount = result.EdgesWritten
	return o.Relational.PutRepo(ctx, repo)
}

func (o *Orchestrator) stepAnalyticsPrecompute(ctx context.Context, orgID, repoID, indexVersion string, run *model.PipelineRun) ([]model.CodeEntity, error) {
	result, err := graphanalytics.Run(ctx, o.Graph, orgID, repoID, indexVersion)
	if err != nil {
		return nil, err
	}
	run.Totals = mergeTotals(run.Totals, "entities_analyzed", len(result.Annotations))
	return o.Graph.EntitiesByVersion(ctx, orgID, repoID, indexVersion)
}

func (o *Orchestrator) stepEmbed(ctx context.Context, orgID, repoID string, entities []model.CodeEntity, run *model.PipelineRun) error {
	pipeline := embedding.New(o.Vector, o.Embed)
	summary, err := pipeline.EmbedEntities(ctx, orgID, repoID, entities, model.VariantCode)
	if err != nil {
		return err
	}
	run.Totals = mergeTotals(run.Totals, "entities_embedded", summary.Written)

	liveKeys := make([]string, 0, len(entities))
	for _, e := range entities {
		liveKeys = append(liveKeys, e.Key)
	}
	orphaned, err := pipeline.SweepOrphans(ctx, orgID, repoID, liveKeys, model.VariantCode)
	if err != nil {
		return err
	}
	run.Totals = mergeTotals(run.Totals, "orphans_swept", orphaned)
	return nil
}

// transition advances repo.Status to next if the state machine allows it,
// persisting the new status. An illegal transition is a silent no-op
// (nothing is logged or persisted) rather than forced through, since a status
// machine violation here means a step ran out of order, a bug in this
// package rather than something a caller can fix by retrying.
func (o *Orchestrator) transition(ctx context.Context, repo *model.Repo, next model.RepoStatus) {
	if !repo.Status.CanTransition(next) && repo.Status != next {
		return
	}
	repo.Status = next
	_ = o.Relational.PutRepo(ctx, repo)
}

func (o *Orchestrator) fail(ctx context.Context, repo *model.Repo, failState model.RepoStatus, cause error) error {
	if repo.Status.CanTransition(failState) {
		repo.Status = failState
		_ = o.Relational.PutRepo(ctx, repo)
	}
	orchMetrics.runsFailed.Inc()
	return cause
}

// runStep records start/completion/error timestamps for name around fn,
// the same per-step bookkeeping model.PipelineRun.StepByName exists to
// support, and mirrors that bookkeeping onto the step's Prometheus
// duration histogram and failure counter.
func (o *Orchestrator) runStep(run *model.PipelineRun, name model.PipelineStepName, fn func() error) error {
	step := run.StepByName(name)
	started := o.Now()
	step.StartedAt = &started
	err := fn()
	completed := o.Now()
	step.CompletedAt = &completed
	orchMetrics.stepDuration.WithLabelValues(string(name)).Observe(completed.Sub(started).Seconds())
	if err != nil {
		step.Error = err.Error()
		orchMetrics.stepFailures.WithLabelValues(string(name)).Inc()
	}
	return err
}

func mergeTotals(totals map[string]int, key string, value int) map[string]int {
	if totals == nil {
		totals = make(map[string]int)
	}
	totals[key] += value
	return totals
}
