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

// Package ontology builds the repo-wide domain vocabulary (§4.6) out of
// the justification pass's per-entity DomainConcepts and FeatureTag
// fields, as a frequency rollup across the whole repo.
package ontology

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
)

// MinFrequency is the lowest term frequency (§4.6) that earns a
// DomainOntology entry; a concept an LLM call mentioned only once across
// the whole repo is more likely noise than vocabulary.
const MinFrequency = 2

// Builder assembles a DomainOntology from the current justification set.
type Builder struct {
	Graph      store.GraphStore
	Relational store.RelationalStore
}

// New returns a Builder wired to the given store ports.
func New(graph store.GraphStore, relational store.RelationalStore) *Builder {
	return &Builder{Graph: graph, Relational: relational}
}

// Build loads every entity at indexVersion, pulls its current
// justification, and aggregates DomainConcepts into ranked OntologyTerm
// rows, FeatureTags into architecture relations, and persists the result
// (§4.1 step "ontology"). Entities with no current justification (the
// justify step hasn't reached them yet, or the run is index-only)
// contribute nothing; an empty ontology is a valid, persisted result, not
// an error.
func (b *Builder) Build(ctx context.Context, orgID, repoID, indexVersion string) (model.DomainOntology, error) {
	entities, err := b.Graph.EntitiesByVersion(ctx, orgID, repoID, indexVersion)
	if err != nil {
		return model.DomainOntology{}, fmt.Errorf("ontology: load entities: %w", err)
	}

	termFreq := make(map[string]int)
	featureFreq := make(map[string]int)
	for _, ent := range entities {
		j, err := b.Relational.CurrentJustification(ctx, orgID, repoID, ent.Key)
		if err != nil || j == nil {
			continue
		}
		for _, term := range j.DomainConcepts {
			term = strings.TrimSpace(term)
			if term == "" {
				continue
			}
			termFreq[term]++
		}
		if j.FeatureTag != "" {
			featureFreq[j.FeatureTag]++
		}
	}

	ont := model.DomainOntology{OrgID: orgID, RepoID: repoID}
	for term, freq := range termFreq {
		if freq < MinFrequency {
			continue
		}
		ont.Terms = append(ont.Terms, model.OntologyTerm{
			Term:      term,
			Tier:      classifyTier(term),
			Frequency: freq,
		})
	}
	sort.Slice(ont.Terms, func(i, j int) bool {
		if ont.Terms[i].Frequency != ont.Terms[j].Frequency {
			return ont.Terms[i].Frequency > ont.Terms[j].Frequency
		}
		return ont.Terms[i].Term < ont.Terms[j].Term
	})

	for feature, freq := range featureFreq {
		if freq < MinFrequency {
			continue
		}
		ont.Relations = append(ont.Relations, model.DomainArchitectureRelation{
			DomainConcept:       feature,
			ArchitectureConcept: feature,
			Relation:            "realized_by",
		})
	}
	sort.Slice(ont.Relations, func(i, j int) bool {
		return ont.Relations[i].DomainConcept < ont.Relations[j].DomainConcept
	})

	if err := b.Relational.PutOntology(ctx, &ont); err != nil {
		return ont, fmt.Errorf("ontology: persist: %w", err)
	}
	return ont, nil
}

// frameworkWords is the small set of terms §4.6 classifies as framework
// vocabulary rather than domain or architectural terms, regardless of how
// often the justification LLM mentions them.
var frameworkWords = map[string]bool{
	"http": true, "grpc": true, "kafka": true, "sql": true, "json": true,
	"cache": true, "queue": true, "config": true, "logger": true,
}

// architecturalWords marks terms that name a structural role rather than
// a business concept.
var architecturalWords = map[string]bool{
	"handler": true, "controller": true, "repository": true, "adapter": true,
	"middleware": true, "worker": true, "pipeline": true, "service": true,
}

// classifyTier buckets a term by the heuristic §4.6 describes: a known
// framework or architectural word short-circuits to its tier, everything
// else is assumed domain vocabulary until an ontology refinement pass
// says otherwise.
func classifyTier(term string) model.OntologyTier {
	lower := strings.ToLower(term)
	if frameworkWords[lower] {
		return model.TierFramework
	}
	if architecturalWords[lower] {
		return model.TierArchitectural
	}
	return model.TierDomain
}
