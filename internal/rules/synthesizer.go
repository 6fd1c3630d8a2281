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

package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
)

// builtinProgram is one of the Datalog pattern programs the Synthesizer
// evaluates against every repo's fact base, paired with the structural
// query it corresponds to and the Rule it should be synthesized into when
// it fires. This is the bridge between the raw Mangle evaluator
// (internal/store/pattern) and a persisted, enforceable model.Rule.
type builtinProgram struct {
	name        string
	category    string
	mangle      string
	structural  []StructuralPattern
	enforcement model.Enforcement
}

// builtinPrograms is the seed pattern catalog for §4.8: a god-object
// detector (many callers, already flagged high-risk by analytics) and an
// unchecked-state-mutation detector (every entity with a mutates_state
// fact; test coverage is not checked). Both compile to a single
// "match" head predicate, the convention internal/store/pattern.Engine
// requires of every loaded program.
var builtinPrograms = []builtinProgram{
	{
		name:        "god_object",
		category:    "structural",
		mangle:      `entity(EntityKey, Kind, Language). high_fan_in(EntityKey, Count). high_risk(EntityKey). match(EntityKey, Count) :- high_fan_in(EntityKey, Count), high_risk(EntityKey).`,
		structural:  []StructuralPattern{{NodeType: "function_declaration"}},
		enforcement: model.EnforceWarn,
	},
	{
		name:        "unchecked_state_mutation",
		category:    "behavioral",
		mangle:      `entity(EntityKey, Kind, Language). mutates_state(EntityKey). match(EntityKey) :- mutates_state(EntityKey).`,
		structural:  []StructuralPattern{{NodeType: "assignment_statement"}},
		enforcement: model.EnforceSuggest,
	},
}

// Synthesizer runs the builtin pattern catalog over a repo's current graph
// and turns every match set into a detected model.Pattern plus a draft
// model.Rule the orchestrator's "patterns" step persists (§4.8, §4.9).
type Synthesizer struct {
	Graph    store.GraphStore
	Patterns store.PatternEngine
	Relational store.RelationalStore
}

// NewSynthesizer builds a Synthesizer wired to the given store ports.
func NewSynthesizer(graph store.GraphStore, patterns store.PatternEngine, relational store.RelationalStore) *Synthesizer {
	return &Synthesizer{Graph: graph, Patterns: patterns, Relational: relational}
}

// Detect evaluates every builtin program against orgID/repoID's current
// entities/edges, returning the patterns that fired and the draft rules
// synthesized from them. It does not persist anything; callers (typically
// internal/orchestrator's "patterns" step) decide whether to call
// RelationalStore.PutRules with the result.
func (s *Synthesizer) Detect(ctx context.Context, orgID, repoID, indexVersion string) ([]model.Pattern, []model.Rule, error) {
	entities, err := s.Graph.EntitiesByVersion(ctx, orgID, repoID, indexVersion)
	if err != nil {
		return nil, nil, fmt.Errorf("rules: load entities: %w", err)
	}
	edges, err := s.Graph.EdgesByVersion(ctx, orgID, repoID, indexVersion)
	if err != nil {
		return nil, nil, fmt.Errorf("rules: load edges: %w", err)
	}
	byKey := make(map[string]model.CodeEntity, len(entities))
	for _, e := range entities {
		byKey[e.Key] = e
	}
	facts := BuildFacts(entities, edges)

	var patterns []model.Pattern
	var synthesized []model.Rule

	for _, bp := range builtinPrograms {
		programID, err := s.Patterns.LoadProgram(ctx, bp.mangle)
		if err != nil {
			return nil, nil, fmt.Errorf("rules: load program %s: %w", bp.name, err)
		}
		matches, err := s.Patterns.Eval(ctx, programID, facts)
		if err != nil {
			return nil, nil, fmt.Errorf("rules: eval program %s: %w", bp.name, err)
		}
		if len(matches) == 0 {
			continue
		}

		sort.Slice(matches, func(i, j int) bool { return matches[i].EntityKey < matches[j].EntityKey })

		pattern := model.Pattern{
			ID:       uuid.NewString(),
			OrgID:    orgID,
			RepoID:   repoID,
			Name:     bp.name,
			Category: bp.category,
		}
		for _, m := range matches {
			if len(pattern.Evidence) >= 5 {
				break
			}
			ent, ok := byKey[m.EntityKey]
			if !ok {
				continue
			}
			pattern.Evidence = append(pattern.Evidence, model.PatternEvidence{
				EntityKey: ent.Key,
				FilePath:  ent.FilePath,
				Line:      ent.StartLine,
				Snippet:   snippet(ent.Body, 200),
			})
		}
		patterns = append(patterns, pattern)

		synthesized = append(synthesized, model.Rule{
			ID:            uuid.NewString(),
			OrgID:         orgID,
			RepoID:        repoID,
			RuleBody:      Encode(bp.structural),
			MangleProgram: bp.mangle,
			Enforcement:   bp.enforcement,
			Scope:         model.ScopeRepo,
			Priority:      1,
			Status:        model.RuleStatusDraft,
			Languages:     []string{"go"},
		})
	}

	return patterns, synthesized, nil
}

func snippet(body string, max int) string {
	if len(body) <= max {
		return body
	}
	return body[:max]
}
