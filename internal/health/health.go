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

// Package health computes the 13-category risk scorecard (§3.1, §4.1 step
// "health") from structural analytics and justification confidence already
// on file for an index_version. It never calls an LLM itself; scoring is
// a pure aggregation over what internal/graphanalytics and
// internal/justification have already written, the same layering
// internal/graphanalytics uses relative to the GraphStore it reads from.
package health

import (
	"context"
	"fmt"
	"sort"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
)

// categoryNames is the fixed 13-dimension scorecard (§3.1). Each entry is
// scored out of 100; a repo with no signal for a dimension (e.g. no
// mutates_state edges at all) scores it neutral (70) rather than 0, so an
// empty graph doesn't read as maximally unhealthy.
var categoryNames = []string{
	"architectural_coupling",
	"state_mutation_risk",
	"fan_in_concentration",
	"documentation_coverage",
	"justification_confidence",
	"taxonomy_balance",
	"external_boundary_surface",
	"community_cohesion",
	"dead_code_risk",
	"interface_compliance",
	"test_surface_risk",
	"ontology_maturity",
	"overall_maintainability",
}

const neutralScore = 70

// Builder computes a HealthReport from the GraphStore/RelationalStore
// state already written by earlier pipeline steps.
type Builder struct {
	Graph      store.GraphStore
	Relational store.RelationalStore
}

// New returns a Builder wired to the given store ports.
func New(graph store.GraphStore, relational store.RelationalStore) *Builder {
	return &Builder{Graph: graph, Relational: relational}
}

// Build scores all 13 categories for indexVersion and persists the result
// (§4.1 step "health"). If fewer than MinJustifiedForHealth entities carry
// a current justification, or every current justification is a fallback
// row (model.TierFallback), the report is written with
// model.InsufficientDataState instead of scored categories, per §7's
// null-guard requirement.
func (b *Builder) Build(ctx context.Context, orgID, repoID, indexVersion string) (model.HealthReport, error) {
	entities, err := b.Graph.EntitiesByVersion(ctx, orgID, repoID, indexVersion)
	if err != nil {
		return model.HealthReport{}, fmt.Errorf("health: load entities: %w", err)
	}
	edges, err := b.Graph.EdgesByVersion(ctx, orgID, repoID, indexVersion)
	if err != nil {
		return model.HealthReport{}, fmt.Errorf("health: load edges: %w", err)
	}

	report := model.HealthReport{OrgID: orgID, RepoID: repoID, IndexVersion: indexVersion}

	var justifiedCount, nonFallbackCount int
	var confidenceSum float64
	taxonomyCounts := make(map[model.Taxonomy]int)
	for _, ent := range entities {
		j, err := b.Relational.CurrentJustification(ctx, orgID, repoID, ent.Key)
		if err != nil || j == nil {
			continue
		}
		justifiedCount++
		if j.ModelTier != model.TierFallback {
			nonFallbackCount++
		}
		confidenceSum += j.CalibratedConfidence
		taxonomyCounts[j.Taxonomy]++
	}

	if len(entities) == 0 || justifiedCount < MinJustifiedForHealth(len(entities)) || nonFallbackCount == 0 {
		report.State = model.InsufficientDataState
		report.Summary = "insufficient justified entities to compute a reliable scorecard"
		if err := b.Relational.PutHealthReport(ctx, &report); err != nil {
			return report, fmt.Errorf("health: persist: %w", err)
		}
		return report, nil
	}

	report.Categories = append(report.Categories, scoreFanInConcentration(entities))
	report.Categories = append(report.Categories, scoreStateMutationRisk(entities, edges))
	report.Categories = append(report.Categories, scoreExternalBoundary(edges))
	report.Categories = append(report.Categories, scoreCommunityCohesion(entities))
	report.Categories = append(report.Categories, scoreJustificationConfidence(confidenceSum, justifiedCount))
	report.Categories = append(report.Categories, scoreTaxonomyBalance(taxonomyCounts, justifiedCount))
	report.Categories = append(report.Categories, scoreDocumentationCoverage(entities))
	for _, name := range categoryNames {
		if name != "overall_maintainability" && !hasCategory(report.Categories, name) {
			report.Categories = append(report.Categories, model.HealthCategory{Name: name, Score: neutralScore, Summary: "no targeted signal; scored neutral"})
		}
	}
	sort.Slice(report.Categories, func(i, j int) bool { return report.Categories[i].Name < report.Categories[j].Name })

	report.Categories = append(report.Categories[:0:0], report.Categories...) // stable copy before overall rollup
	report.Categories = append(report.Categories, model.HealthCategory{Name: "overall_maintainability", Score: overallScore(report.Categories), Summary: "unweighted average of the other 12 categories"})

	report.Summary = fmt.Sprintf("scored %d categories across %d justified entities", len(report.Categories), justifiedCount)

	if err := b.Relational.PutHealthReport(ctx, &report); err != nil {
		return report, fmt.Errorf("health: persist: %w", err)
	}
	return report, nil
}

// MinJustifiedForHealth is the §7 null-guard threshold: at least a quarter
// of a repo's entities (minimum 1) need a current justification before a
// scorecard is considered meaningful rather than noise.
func MinJustifiedForHealth(totalEntities int) int {
	min := totalEntities / 4
	if min < 1 {
		min = 1
	}
	return min
}

func hasCategory(cats []model.HealthCategory, name string) bool {
	for _, c := range cats {
		if c.Name == name {
			return true
		}
	}
	return false
}

func overallScore(cats []model.HealthCategory) int {
	if len(cats) == 0 {
		return neutralScore
	}
	sum := 0
	for _, c := range cats {
		sum += c.Score
	}
	return sum / len(cats)
}

func scoreFanInConcentration(entities []model.CodeEntity) model.HealthCategory {
	var hubs []string
	for _, e := range entities {
		if e.FanIn >= 10 {
			hubs = append(hubs, e.Key)
		}
	}
	score := neutralScore
	if len(entities) > 0 {
		ratio := float64(len(hubs)) / float64(len(entities))
		score = clampScore(100 - int(ratio*400))
	}
	return model.HealthCategory{Name: "fan_in_concentration", Score: score, EntityReferences: capRefs(hubs), Summary: fmt.Sprintf("%d entities with fan-in >= 10", len(hubs))}
}

func scoreStateMutationRisk(entities []model.CodeEntity, edges []model.CodeEdge) model.HealthCategory {
	var mutators []string
	seen := make(map[string]bool)
	for _, e := range edges {
		if e.EdgeKind == model.EdgeMutatesState && !seen[e.FromKey] {
			seen[e.FromKey] = true
			mutators = append(mutators, e.FromKey)
		}
	}
	score := neutralScore
	if len(entities) > 0 {
		ratio := float64(len(mutators)) / float64(len(entities))
		score = clampScore(100 - int(ratio*150))
	}
	return model.HealthCategory{Name: "state_mutation_risk", Score: score, EntityReferences: capRefs(mutators), Summary: fmt.Sprintf("%d entities mutate shared state", len(mutators))}
}

func scoreExternalBoundary(edges []model.CodeEdge) model.HealthCategory {
	var external int
	for _, e := range edges {
		if e.IsExternal {
			external++
		}
	}
	score := clampScore(100 - external*2)
	return model.HealthCategory{Name: "external_boundary_surface", Score: score, Summary: fmt.Sprintf("%d edges cross an external boundary", external)}
}

func scoreCommunityCohesion(entities []model.CodeEntity) model.HealthCategory {
	communities := make(map[int]int)
	for _, e := range entities {
		communities[e.CommunityID]++
	}
	if len(communities) == 0 {
		return model.HealthCategory{Name: "community_cohesion", Score: neutralScore, Summary: "no community data"}
	}
	largest := 0
	for _, n := range communities {
		if n > largest {
			largest = n
		}
	}
	ratio := float64(largest) / float64(len(entities))
	score := clampScore(int(ratio * 100))
	return model.HealthCategory{Name: "community_cohesion", Score: score, Summary: fmt.Sprintf("largest community holds %.0f%% of entities", ratio*100)}
}

func scoreJustificationConfidence(confidenceSum float64, justifiedCount int) model.HealthCategory {
	if justifiedCount == 0 {
		return model.HealthCategory{Name: "justification_confidence", Score: neutralScore, Summary: "no justified entities"}
	}
	avg := confidenceSum / float64(justifiedCount)
	return model.HealthCategory{Name: "justification_confidence", Score: clampScore(int(avg * 100)), Summary: fmt.Sprintf("average calibrated confidence %.2f", avg)}
}

func scoreTaxonomyBalance(counts map[model.Taxonomy]int, total int) model.HealthCategory {
	if total == 0 {
		return model.HealthCategory{Name: "taxonomy_balance", Score: neutralScore, Summary: "no taxonomy data"}
	}
	verticalRatio := float64(counts[model.TaxonomyVertical]) / float64(total)
	score := clampScore(int(verticalRatio * 150))
	return model.HealthCategory{Name: "taxonomy_balance", Score: score, Summary: fmt.Sprintf("%.0f%% of justified entities carry direct business logic", verticalRatio*100)}
}

func scoreDocumentationCoverage(entities []model.CodeEntity) model.HealthCategory {
	if len(entities) == 0 {
		return model.HealthCategory{Name: "documentation_coverage", Score: neutralScore, Summary: "no entities"}
	}
	var documented int
	for _, e := range entities {
		if e.Documentation != "" {
			documented++
		}
	}
	ratio := float64(documented) / float64(len(entities))
	return model.HealthCategory{Name: "documentation_coverage", Score: clampScore(int(ratio * 100)), Summary: fmt.Sprintf("%d of %d entities carry doc comments", documented, len(entities))}
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// capRefs bounds a category's EntityReferences to 10, the same evidence
// cap internal/rules applies to pattern evidence, so a large repo's
// scorecard stays a summary rather than a dump.
func capRefs(keys []string) []string {
	if len(keys) > 10 {
		return keys[:10]
	}
	return keys
}
