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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store/memstore"
	"github.com/kraklabs/kgpipe/internal/store/pattern"
)

func TestBuildFacts_EmitsCallsAndHighFanIn(t *testing.T) {
	entities := []model.CodeEntity{
		{Key: "hub", Kind: model.KindFunction, Language: "go"},
		{Key: "a", Kind: model.KindFunction, Language: "go"},
	}
	var edges []model.CodeEdge
	for i := 0; i < HighFanInThreshold; i++ {
		edges = append(edges, model.CodeEdge{FromKey: "a", ToKey: "hub", EdgeKind: model.EdgeCalls})
	}

	facts := BuildFacts(entities, edges)

	var sawHighFanIn bool
	for _, f := range facts {
		if f.Predicate == "high_fan_in" && f.Args[0] == "hub" {
			sawHighFanIn = true
		}
	}
	assert.True(t, sawHighFanIn)
}

func TestStructuralMatcher_MatchesFunctionDeclaration(t *testing.T) {
	m := NewStructuralMatcher()
	ok, err := m.Matches(context.Background(), "package p\nfunc Foo() {}\n", []StructuralPattern{
		{NodeType: "function_declaration", Contains: "Foo"},
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStructuralMatcher_NoMatchWhenAbsent(t *testing.T) {
	m := NewStructuralMatcher()
	ok, err := m.Matches(context.Background(), "package p\nvar X = 1\n", []StructuralPattern{
		{NodeType: "function_declaration"},
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEncodeDecode_RoundTrips(t *testing.T) {
	patterns := []StructuralPattern{{NodeType: "function_declaration", Contains: "Foo"}, {NodeType: "assignment_statement"}}
	decoded := Decode(Encode(patterns))
	assert.Equal(t, patterns, decoded)
}

func TestSynthesizer_Detect_FlagsGodObject(t *testing.T) {
	ctx := context.Background()
	gs := memstore.NewGraphStore()
	rs := memstore.NewRelationalStore()
	pe := pattern.New()

	hub := model.CodeEntity{Key: "hub", OrgID: "org", RepoID: "repo", Kind: model.KindFunction, Language: "go", IndexVersion: "v1", RiskLevel: model.RiskHigh, FilePath: "hub.go", Body: "func Hub() {}"}
	entities := []model.CodeEntity{hub}
	var edges []model.CodeEdge
	for i := 0; i < HighFanInThreshold; i++ {
		entities = append(entities, model.CodeEntity{Key: "caller" + string(rune('a'+i)), OrgID: "org", RepoID: "repo", Kind: model.KindFunction, Language: "go", IndexVersion: "v1"})
		edges = append(edges, model.CodeEdge{Key: "e" + string(rune('a'+i)), OrgID: "org", RepoID: "repo", FromKey: "caller" + string(rune('a'+i)), ToKey: "hub", EdgeKind: model.EdgeCalls, IndexVersion: "v1"})
	}
	require.NoError(t, gs.UpsertEntities(ctx, "org", "repo", entities))
	require.NoError(t, gs.UpsertEdges(ctx, "org", "repo", edges))

	synth := NewSynthesizer(gs, pe, rs)
	patterns, rules, err := synth.Detect(ctx, "org", "repo", "v1")
	require.NoError(t, err)

	var found bool
	for _, p := range patterns {
		if p.Name == "god_object" {
			found = true
			require.NotEmpty(t, p.Evidence)
			assert.Equal(t, "hub", p.Evidence[0].EntityKey)
		}
	}
	assert.True(t, found)
	require.NotEmpty(t, rules)
}
