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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/kgpipe/internal/model"
)

func TestIsStale_NoCurrentJustification(t *testing.T) {
	entity := model.CodeEntity{Key: "e1", Body: "func A(){}"}
	assert.True(t, IsStale(entity, nil))
}

func TestIsStale_BodyChanged(t *testing.T) {
	entity := model.CodeEntity{Key: "e1", Body: "func A(){ return 2 }"}
	current := &model.Justification{BodyHash: BodyHash("func A(){ return 1 }")}
	assert.True(t, IsStale(entity, current))
}

func TestIsStale_UpToDate(t *testing.T) {
	entity := model.CodeEntity{Key: "e1", Body: "func A(){}"}
	current := &model.Justification{BodyHash: BodyHash("func A(){}")}
	assert.False(t, IsStale(entity, current))
}

func TestRouteTier_HighRiskGetsPremium(t *testing.T) {
	e := model.CodeEntity{RiskLevel: model.RiskHigh}
	assert.Equal(t, model.TierPremium, RouteTier(e))
}

func TestRouteTier_FileGetsHeuristic(t *testing.T) {
	e := model.CodeEntity{Kind: model.KindFile, RiskLevel: model.RiskNormal}
	assert.Equal(t, model.TierHeuristic, RouteTier(e))
}

func TestBuildBatches_SplitsByTierAndSize(t *testing.T) {
	bigBody := make([]byte, MaxBatchChars)
	for i := range bigBody {
		bigBody[i] = 'x'
	}
	entities := []model.CodeEntity{
		{Key: "a", RiskLevel: model.RiskHigh, Body: string(bigBody)},
		{Key: "b", RiskLevel: model.RiskHigh, Body: string(bigBody)},
		{Key: "c", Kind: model.KindFile},
	}
	batches := BuildBatches(entities)
	require.Len(t, batches, 3)
	// Tiers are visited in lexical order (heuristic before premium); each
	// premium (risk-high) entity ends up in a batch alone, since one body
	// is exactly MaxBatchChars long and two together exceed it.
	assert.Equal(t, model.TierHeuristic, batches[0].Tier)
	for _, b := range batches[1:] {
		assert.Equal(t, model.TierPremium, b.Tier)
		assert.Len(t, b.Entities, 1)
	}
}

func TestScoreConfidence_WithinBounds(t *testing.T) {
	e := model.CodeEntity{FanIn: 2, FanOut: 1, RiskLevel: model.RiskNormal, Documentation: "does x", Name: "DoesX"}
	breakdown := ScoreConfidence(e, 0.9)
	assert.LessOrEqual(t, breakdown.Structural, 0.5)
	assert.LessOrEqual(t, breakdown.Intent, 0.3)
	assert.LessOrEqual(t, breakdown.LLM, 0.2)
	assert.Greater(t, breakdown.Sum(), 0.0)
}

func TestFallbackJustification_IsCurrentAndLowConfidence(t *testing.T) {
	e := model.CodeEntity{Key: "e1", Kind: model.KindFunction, Name: "Foo"}
	j := FallbackJustification("org", "repo", e, time.Now())
	assert.True(t, j.IsCurrent())
	assert.Equal(t, model.TierFallback, j.ModelTier)
	assert.Less(t, j.CalibratedConfidence, 0.3)
}

func TestDecodeResult_RejectsInvalidTaxonomy(t *testing.T) {
	_, err := decodeResult(map[string]any{"taxonomy": "BOGUS", "business_purpose": "x", "confidence": 0.5})
	assert.Error(t, err)
}

func TestDecodeResult_AcceptsValidPayload(t *testing.T) {
	p, err := decodeResult(map[string]any{
		"taxonomy": "VERTICAL", "business_purpose": "handles checkout", "confidence": 0.8,
		"domain_concepts": []any{"checkout"},
	})
	require.NoError(t, err)
	assert.Equal(t, "VERTICAL", p.Taxonomy)
	assert.Equal(t, []string{"checkout"}, p.DomainConcepts)
}
