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
	"fmt"
	"time"

	"github.com/kraklabs/kgpipe/internal/graphanalytics"
	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
)

// Engine runs the full justification pass over one repo's current index
// version: plan the topological visiting order, find stale entities, batch
// and route them by tier, call the LLM with retries, score confidence, and
// write bi-temporal rows.
type Engine struct {
	GraphStore      store.GraphStore
	RelationalStore store.RelationalStore
	LLM             store.LLMProvider
	Now             func() time.Time
}

// NewEngine builds an Engine with time.Now as its clock.
func NewEngine(gs store.GraphStore, rs store.RelationalStore, llm store.LLMProvider) *Engine {
	return &Engine{GraphStore: gs, RelationalStore: rs, LLM: llm, Now: time.Now}
}

// Summary reports the outcome of one Run call, recorded onto the
// PipelineRun's Totals map by internal/orchestrator.
type Summary struct {
	Planned   int
	Stale     int
	Justified int
	Fallback  int
}

// Run executes §4.7 end to end for indexVersion. Entities are visited in
// the reverse topological order internal/graphanalytics computes over
// `calls` edges; the stale ones are then grouped into per-tier batches by
// BuildBatches, and tiers are processed in lexical order. Within one tier
// a function's callees already have a current justification by the time
// BuildContext gathers CalleePurposes for it (§4.7.11's bottom-up context
// propagation). A callee routed to a tier processed after its caller's
// tier is justified after the caller, and its purpose is then missing
// from the caller's context.
func (e *Engine) Run(ctx context.Context, orgID, repoID, indexVersion string) (Summary, error) {
	var summary Summary

	entities, err := e.GraphStore.EntitiesByVersion(ctx, orgID, repoID, indexVersion)
	if err != nil {
		return summary, fmt.Errorf("justification: load entities: %w", err)
	}
	edges, err := e.GraphStore.EdgesByVersion(ctx, orgID, repoID, indexVersion)
	if err != nil {
		return summary, fmt.Errorf("justification: load edges: %w", err)
	}
	summary.Planned = len(entities)

	g := graphanalytics.BuildGraph(entities, edges)
	order := graphanalytics.TopoSort(g)

	byKey := make(map[string]model.CodeEntity, len(entities))
	for _, ent := range entities {
		byKey[ent.Key] = ent
	}

	// TopoSort peels off nodes with no remaining incoming `calls` edges
	// first, i.e. the entry points nothing calls, so callers come before
	// their callees. Reversing that order visits leaves (callees) first.
	visitOrder := make([]string, len(order))
	for i, k := range order {
		visitOrder[len(order)-1-i] = k
	}

	justified := make(map[string]model.Justification, len(entities))

	stale := make([]model.CodeEntity, 0, len(entities))
	for _, key := range visitOrder {
		ent, ok := byKey[key]
		if !ok {
			continue
		}
		current, _ := e.RelationalStore.CurrentJustification(ctx, orgID, repoID, key)
		if IsStale(ent, current) {
			stale = append(stale, ent)
		} else if current != nil {
			justified[key] = *current
		}
	}
	summary.Stale = len(stale)

	batches := BuildBatches(stale)
	for _, batch := range batches {
		for _, ent := range batch.Entities {
			j, isFallback, err := e.justifyOne(ctx, orgID, repoID, ent, batch.Tier, justified)
			if err != nil {
				return summary, err
			}
			justified[ent.Key] = j
			if isFallback {
				summary.Fallback++
			} else {
				summary.Justified++
			}
			if err := e.RelationalStore.PutJustifications(ctx, orgID, repoID, []model.Justification{j}); err != nil {
				return summary, fmt.Errorf("justification: persist %s: %w", ent.Key, err)
			}
		}
	}
	return summary, nil
}

func (e *Engine) justifyOne(ctx context.Context, orgID, repoID string, ent model.CodeEntity, tier model.ModelTier, justified map[string]model.Justification) (model.Justification, bool, error) {
	gc, err := BuildContext(ctx, e.GraphStore, orgID, repoID, ent, justified)
	if err != nil {
		return model.Justification{}, false, err
	}

	if tier == model.TierHeuristic {
		return e.heuristicJustification(orgID, repoID, ent), false, nil
	}

	messages := BuildPrompt(ent, gc)
	modelID := ModelForTier(tier)

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			messages = append(messages, store.ChatMessage{
				Role:    "user",
				Content: "Your previous response did not match the required schema. Respond again with valid JSON matching it exactly.",
			})
		}
		completion, err := e.LLM.GenerateObject(ctx, messages, resultSchema, modelID)
		if err != nil {
			lastErr = err
			continue
		}
		p, err := decodeResult(completion.Data)
		if err != nil {
			lastErr = err
			continue
		}
		breakdown := ScoreConfidence(ent, p.Confidence)
		now := e.Now()
		return model.Justification{
			EntityKey:            ent.Key,
			OrgID:                orgID,
			RepoID:               repoID,
			Taxonomy:             model.Taxonomy(p.Taxonomy),
			FeatureTag:           p.FeatureTag,
			BusinessPurpose:      p.BusinessPurpose,
			DomainConcepts:       p.DomainConcepts,
			SemanticTriples:      p.SemanticTriples,
			Confidence:           p.Confidence,
			CalibratedConfidence: breakdown.Sum(),
			ConfidenceBreakdown:  breakdown,
			Reasoning:            p.Reasoning,
			ModelUsed:            completion.Model,
			ModelTier:            tier,
			BodyHash:             BodyHash(ent.Body),
			ValidFrom:            now,
			ValidTo:              model.FarFuture,
		}, false, nil
	}

	_ = lastErr
	return FallbackJustification(orgID, repoID, ent, e.Now()), true, nil
}

// heuristicJustification covers §4.7.4's heuristic tier: files and plain
// variables are classified without a model call, from structural signals
// alone, keeping the LLM budget for entities whose purpose isn't obvious
// from their kind.
func (e *Engine) heuristicJustification(orgID, repoID string, ent model.CodeEntity) model.Justification {
	purpose := fmt.Sprintf("%s declared in %s", ent.Kind, ent.FilePath)
	breakdown := ScoreConfidence(ent, 0)
	return model.Justification{
		EntityKey:            ent.Key,
		OrgID:                orgID,
		RepoID:               repoID,
		Taxonomy:             model.TaxonomyUtility,
		BusinessPurpose:      purpose,
		Confidence:           0.3,
		CalibratedConfidence: breakdown.Sum(),
		ConfidenceBreakdown:  breakdown,
		Reasoning:            "heuristic_tier_no_llm_call",
		ModelTier:            model.TierHeuristic,
		BodyHash:             BodyHash(ent.Body),
		ValidFrom:            e.Now(),
		ValidTo:              model.FarFuture,
	}
}
