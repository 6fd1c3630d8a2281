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

package ontology

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store/memstore"
)

func TestBuilder_Build_AggregatesRepeatedTermsOnly(t *testing.T) {
	graph := memstore.NewGraphStore()
	relational := memstore.NewRelationalStore()
	ctx := context.Background()

	entities := []model.CodeEntity{
		{Key: "e1", OrgID: "org", RepoID: "repo", Kind: model.KindFunction, Name: "Checkout", IndexVersion: "v1"},
		{Key: "e2", OrgID: "org", RepoID: "repo", Kind: model.KindFunction, Name: "Refund", IndexVersion: "v1"},
		{Key: "e3", OrgID: "org", RepoID: "repo", Kind: model.KindFunction, Name: "Ping", IndexVersion: "v1"},
	}
	require.NoError(t, graph.UpsertEntities(ctx, "org", "repo", entities))

	require.NoError(t, relational.PutJustifications(ctx, "org", "repo", []model.Justification{
		{EntityKey: "e1", OrgID: "org", RepoID: "repo", FeatureTag: "billing", DomainConcepts: []string{"invoice", "payment"}, ValidFrom: model.FarFuture.AddDate(-1, 0, 0), ValidTo: model.FarFuture},
		{EntityKey: "e2", OrgID: "org", RepoID: "repo", FeatureTag: "billing", DomainConcepts: []string{"invoice", "refund"}, ValidFrom: model.FarFuture.AddDate(-1, 0, 0), ValidTo: model.FarFuture},
		{EntityKey: "e3", OrgID: "org", RepoID: "repo", FeatureTag: "health_check", DomainConcepts: []string{"heartbeat"}, ValidFrom: model.FarFuture.AddDate(-1, 0, 0), ValidTo: model.FarFuture},
	}))

	b := New(graph, relational)
	ont, err := b.Build(ctx, "org", "repo", "v1")
	require.NoError(t, err)

	var terms []string
	for _, term := range ont.Terms {
		terms = append(terms, term.Term)
	}
	assert.Contains(t, terms, "invoice")
	assert.NotContains(t, terms, "refund", "single-mention terms below MinFrequency should be dropped")
	assert.NotContains(t, terms, "heartbeat")

	require.Len(t, ont.Relations, 1)
	assert.Equal(t, "billing", ont.Relations[0].DomainConcept)

	stored, err := relational.GetOntology(ctx, "org", "repo")
	require.NoError(t, err)
	assert.Equal(t, ont.Terms, stored.Terms)
}

func TestClassifyTier(t *testing.T) {
	assert.Equal(t, model.TierFramework, classifyTier("Kafka"))
	assert.Equal(t, model.TierArchitectural, classifyTier("Handler"))
	assert.Equal(t, model.TierDomain, classifyTier("invoice"))
}
