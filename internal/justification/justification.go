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

// Package justification implements §4.7, the algorithmic center of the
// pipeline: it decides which entities need a fresh business-meaning
// explanation, orders them so that within a tier a callee is justified
// before its callers (context propagation), batches and routes them to an
// LLM tier, retries
// malformed responses, scores calibrated confidence, and writes the result
// as a bi-temporal Justification row. It is built on internal/graphanalytics
// for ordering and store.LLMProvider for the model call, the same
// composition-over-inheritance style the teacher's pkg/llm callers use
// (accept a Provider, don't embed one).
package justification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
)

// BodyHash computes the staleness-detection digest of §4.7.2: an entity
// whose current justification's BodyHash no longer matches this value has
// changed since it was last justified.
func BodyHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:8])
}

// IsStale reports whether entity needs a fresh justification: either none
// exists yet, or the body hash on file no longer matches the entity's
// current body (§4.7.2).
func IsStale(entity model.CodeEntity, current *model.Justification) bool {
	if current == nil {
		return true
	}
	return current.BodyHash != BodyHash(entity.Body)
}

// MaxRetries bounds the schema-repair retry loop of §4.7.5: a malformed or
// taxonomy-invalid response gets this many additional attempts with a
// stricter reminder appended to the prompt before the entity falls back to
// a heuristic stub (§4.7.8).
const MaxRetries = 2

// RouteTier implements §4.7.4's tier router: risk and connectivity decide
// how much model capability an entity's justification is worth spending.
func RouteTier(entity model.CodeEntity) model.ModelTier {
	switch {
	case entity.RiskLevel == model.RiskHigh:
		return model.TierPremium
	case entity.RiskLevel == model.RiskMedium || entity.FanIn+entity.FanOut >= 5:
		return model.TierStandard
	case entity.Kind == model.KindFile || entity.Kind == model.KindVariable:
		return model.TierHeuristic
	default:
		return model.TierFast
	}
}

// ModelForTier maps a tier to the concrete model identifier passed to
// store.LLMProvider.GenerateObject. Tiers that make no model call
// (heuristic, fallback) map to "".
func ModelForTier(tier model.ModelTier) string {
	switch tier {
	case model.TierPremium:
		return "claude-opus"
	case model.TierStandard:
		return "claude-sonnet"
	case model.TierFast:
		return "claude-haiku"
	default:
		return ""
	}
}

// GraphContext is the neighbor summary built for one entity's prompt,
// gathered from already-justified callees so context propagates upward
// through the call graph (§4.7.11).
type GraphContext struct {
	Callers         []string
	Callees         []string
	CalleePurposes  []string
	ContainingFile  string
}

// BuildContext gathers the neighbor summary for entity from the graph
// store, using already-computed justifications for its callees so the
// business meaning of what an entity calls informs its own (§4.7.11).
func BuildContext(ctx context.Context, gs store.GraphStore, orgID, repoID string, entity model.CodeEntity, justified map[string]model.Justification) (GraphContext, error) {
	gc := GraphContext{ContainingFile: entity.FilePath}

	callerEdges, err := gs.Neighbors(ctx, orgID, repoID, entity.Key, []model.EdgeKind{model.EdgeCalls}, store.DirectionIn)
	if err != nil {
		return gc, fmt.Errorf("justification: load callers: %w", err)
	}
	for _, e := range callerEdges {
		gc.Callers = append(gc.Callers, e.FromKey)
	}

	calleeEdges, err := gs.Neighbors(ctx, orgID, repoID, entity.Key, []model.EdgeKind{model.EdgeCalls}, store.DirectionOut)
	if err != nil {
		return gc, fmt.Errorf("justification: load callees: %w", err)
	}
	for _, e := range calleeEdges {
		gc.Callees = append(gc.Callees, e.ToKey)
		if j, ok := justified[e.ToKey]; ok {
			gc.CalleePurposes = append(gc.CalleePurposes, j.BusinessPurpose)
		}
	}
	return gc, nil
}

// Batch groups entities for one LLM call, each keeping the tier it routed
// to so the batcher never mixes tiers within a request.
type Batch struct {
	Tier     model.ModelTier
	Entities []model.CodeEntity
}

// MaxBatchChars bounds a batch's combined body length, a conservative
// stand-in for a token budget consistent with embedding's
// MaxTokensPerChunk whitespace-token approximation.
const MaxBatchChars = 8000

// BuildBatches groups stale entities by tier, then splits each tier's
// queue into size-bounded batches (§4.7.3's dynamic batcher): batches grow
// until the next entity would push the running character total over
// MaxBatchChars, so a handful of large functions doesn't get crammed into
// one oversized request alongside many small ones.
func BuildBatches(entities []model.CodeEntity) []Batch {
	byTier := make(map[model.ModelTier][]model.CodeEntity)
	var tiers []model.ModelTier
	seen := make(map[model.ModelTier]bool)
	for _, e := range entities {
		tier := RouteTier(e)
		if !seen[tier] {
			seen[tier] = true
			tiers = append(tiers, tier)
		}
		byTier[tier] = append(byTier[tier], e)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })

	var batches []Batch
	for _, tier := range tiers {
		queue := byTier[tier]
		var current []model.CodeEntity
		var size int
		flush := func() {
			if len(current) > 0 {
				batches = append(batches, Batch{Tier: tier, Entities: current})
				current, size = nil, 0
			}
		}
		for _, e := range queue {
			cost := len(e.Body) + len(e.Signature)
			if size > 0 && size+cost > MaxBatchChars {
				flush()
			}
			current = append(current, e)
			size += cost
		}
		flush()
	}
	return batches
}

// resultSchema is the JSON Schema store.LLMProvider.GenerateObject
// constrains its response to, matching model.Justification's business
// fields (§4.7.6).
var resultSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"taxonomy":         map[string]any{"type": "string", "enum": []string{"VERTICAL", "HORIZONTAL", "UTILITY"}},
		"feature_tag":      map[string]any{"type": "string"},
		"business_purpose": map[string]any{"type": "string"},
		"domain_concepts":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"semantic_triples": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"subject":   map[string]any{"type": "string"},
					"predicate": map[string]any{"type": "string"},
					"object":    map[string]any{"type": "string"},
				},
			},
		},
		"confidence": map[string]any{"type": "number"},
		"reasoning":  map[string]any{"type": "string"},
	},
	"required": []string{"taxonomy", "business_purpose", "confidence"},
}

// BuildPrompt renders the system and user messages for one entity's
// justification call, folding in its graph context (§4.7.6).
func BuildPrompt(entity model.CodeEntity, gc GraphContext) []store.ChatMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "Explain the business purpose of this %s named %q in %s.\n\n", entity.Kind, entity.Name, entity.FilePath)
	if entity.Signature != "" {
		fmt.Fprintf(&b, "Signature: %s\n", entity.Signature)
	}
	if entity.Documentation != "" {
		fmt.Fprintf(&b, "Documentation: %s\n", entity.Documentation)
	}
	if entity.Body != "" {
		fmt.Fprintf(&b, "Body:\n%s\n", entity.Body)
	}
	if len(gc.CalleePurposes) > 0 {
		b.WriteString("\nThis calls entities with these known purposes:\n")
		for _, p := range gc.CalleePurposes {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	return []store.ChatMessage{
		{Role: "system", Content: "You classify code entities into VERTICAL (business feature), HORIZONTAL (cross-cutting concern), or UTILITY (generic helper) taxonomies and explain their business purpose concisely."},
		{Role: "user", Content: b.String()},
	}
}

// parsed is the shape resultSchema's JSON decodes into.
type parsed struct {
	Taxonomy        string                 `json:"taxonomy"`
	FeatureTag      string                 `json:"feature_tag"`
	BusinessPurpose string                 `json:"business_purpose"`
	DomainConcepts  []string               `json:"domain_concepts"`
	SemanticTriples []model.SemanticTriple `json:"semantic_triples"`
	Confidence      float64                `json:"confidence"`
	Reasoning       string                 `json:"reasoning"`
}

func decodeResult(data map[string]any) (parsed, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return parsed{}, err
	}
	var p parsed
	if err := json.Unmarshal(raw, &p); err != nil {
		return parsed{}, err
	}
	switch model.Taxonomy(p.Taxonomy) {
	case model.TaxonomyVertical, model.TaxonomyHorizontal, model.TaxonomyUtility:
	default:
		return parsed{}, fmt.Errorf("justification: invalid taxonomy %q", p.Taxonomy)
	}
	return p, nil
}

// ScoreConfidence computes the calibrated three-dimension confidence of
// §4.7.9: structural (0-0.5) from fan-in/out and risk level,
// intent (0-0.3) from documentation/naming signals, and llm (0-0.2) scaled
// from the model's self-reported confidence.
func ScoreConfidence(entity model.CodeEntity, llmConfidence float64) model.ConfidenceBreakdown {
	structural := 0.2
	if entity.FanIn+entity.FanOut > 0 {
		structural += 0.15
	}
	if entity.RiskLevel == model.RiskNormal {
		structural += 0.15
	}
	if structural > 0.5 {
		structural = 0.5
	}

	intent := 0.1
	if entity.Documentation != "" {
		intent += 0.15
	}
	if entity.Name != "" && len(entity.Name) > 3 {
		intent += 0.05
	}
	if intent > 0.3 {
		intent = 0.3
	}

	if llmConfidence < 0 {
		llmConfidence = 0
	}
	if llmConfidence > 1 {
		llmConfidence = 1
	}
	llm := llmConfidence * 0.2

	return model.ConfidenceBreakdown{Structural: structural, Intent: intent, LLM: llm}
}

// FallbackJustification builds the heuristic stub of §4.7.8, used when an
// entity exhausts MaxRetries without a schema-conformant LLM response.
func FallbackJustification(orgID, repoID string, entity model.CodeEntity, now time.Time) model.Justification {
	return model.Justification{
		EntityKey:            entity.Key,
		OrgID:                orgID,
		RepoID:               repoID,
		Taxonomy:             model.TaxonomyUtility,
		BusinessPurpose:      fmt.Sprintf("%s %s (purpose not determined: fallback after retry exhaustion)", entity.Kind, entity.Name),
		Confidence:           0,
		CalibratedConfidence: 0.1,
		ConfidenceBreakdown:  model.ConfidenceBreakdown{Structural: 0.1, Intent: 0, LLM: 0},
		Reasoning:            "llm_unavailable_or_malformed",
		ModelTier:            model.TierFallback,
		BodyHash:             BodyHash(entity.Body),
		ValidFrom:            now,
		ValidTo:              model.FarFuture,
	}
}
