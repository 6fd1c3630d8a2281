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

package graphanalytics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store/memstore"
)

func star(orgID, repoID, indexVersion string) ([]model.CodeEntity, []model.CodeEdge) {
	entities := []model.CodeEntity{
		{Key: "hub", OrgID: orgID, RepoID: repoID, Kind: model.KindFunction, Name: "Hub", IndexVersion: indexVersion},
		{Key: "a", OrgID: orgID, RepoID: repoID, Kind: model.KindFunction, Name: "A", IndexVersion: indexVersion},
		{Key: "b", OrgID: orgID, RepoID: repoID, Kind: model.KindFunction, Name: "B", IndexVersion: indexVersion},
		{Key: "c", OrgID: orgID, RepoID: repoID, Kind: model.KindFunction, Name: "C", IndexVersion: indexVersion},
	}
	edges := []model.CodeEdge{
		{Key: "e1", OrgID: orgID, RepoID: repoID, FromKey: "a", ToKey: "hub", EdgeKind: model.EdgeCalls, IndexVersion: indexVersion},
		{Key: "e2", OrgID: orgID, RepoID: repoID, FromKey: "b", ToKey: "hub", EdgeKind: model.EdgeCalls, IndexVersion: indexVersion},
		{Key: "e3", OrgID: orgID, RepoID: repoID, FromKey: "c", ToKey: "hub", EdgeKind: model.EdgeCalls, IndexVersion: indexVersion},
	}
	return entities, edges
}

func TestFanInOut_CountsOnlyCallsEdges(t *testing.T) {
	entities, edges := star("org", "repo", "v1")
	edges = append(edges, model.CodeEdge{Key: "e4", FromKey: "a", ToKey: "hub", EdgeKind: model.EdgeContains, IndexVersion: "v1"})
	g := BuildGraph(entities, edges)
	fanIn, fanOut := g.FanInOut()
	assert.Equal(t, 3, fanIn["hub"])
	assert.Equal(t, 1, fanOut["a"])
	assert.Equal(t, 0, fanOut["hub"])
}

func TestPageRank_HubRanksHighest(t *testing.T) {
	entities, edges := star("org", "repo", "v1")
	g := BuildGraph(entities, edges)
	rank := PageRank(g, 0.85, 50)
	for _, k := range []string{"a", "b", "c"} {
		assert.Greater(t, rank["hub"], rank[k])
	}
}

func TestPercentiles_RangeAndOrdering(t *testing.T) {
	values := map[string]float64{"a": 0.1, "b": 0.5, "c": 0.9}
	pctl := Percentiles(values)
	assert.Equal(t, 0.0, pctl["a"])
	assert.Equal(t, 1.0, pctl["c"])
	assert.Greater(t, pctl["c"], pctl["b"])
}

func TestClassifyRisk_Thresholds(t *testing.T) {
	assert.Equal(t, model.RiskHigh, ClassifyRisk(5, 0.95))
	assert.Equal(t, model.RiskMedium, ClassifyRisk(1, 0.7))
	assert.Equal(t, model.RiskNormal, ClassifyRisk(0, 0.1))
}

func TestTopoSort_OrdersCallers(t *testing.T) {
	entities, edges := star("org", "repo", "v1")
	g := BuildGraph(entities, edges)
	order := TopoSort(g)
	require.Len(t, order, 4)
	posHub := indexOf(order, "hub")
	for _, k := range []string{"a", "b", "c"} {
		assert.Less(t, indexOf(order, k), posHub)
	}
}

func TestTopoSort_BreaksCycles(t *testing.T) {
	entities := []model.CodeEntity{
		{Key: "x", IndexVersion: "v1"},
		{Key: "y", IndexVersion: "v1"},
	}
	edges := []model.CodeEdge{
		{Key: "xy", FromKey: "x", ToKey: "y", EdgeKind: model.EdgeCalls, IndexVersion: "v1"},
		{Key: "yx", FromKey: "y", ToKey: "x", EdgeKind: model.EdgeCalls, IndexVersion: "v1"},
	}
	g := BuildGraph(entities, edges)
	order := TopoSort(g)
	assert.Len(t, order, 2)
}

func TestLouvain_GroupsStarTogether(t *testing.T) {
	entities, edges := star("org", "repo", "v1")
	g := BuildGraph(entities, edges)
	community := Louvain(g)
	assert.Equal(t, community["hub"], community["a"])
	assert.Equal(t, community["hub"], community["b"])
}

func TestRun_WritesBackAnnotations(t *testing.T) {
	gs := memstore.NewGraphStore()
	entities, edges := star("org", "repo", "v1")
	require.NoError(t, gs.UpsertEntities(context.Background(), "org", "repo", entities))
	require.NoError(t, gs.UpsertEdges(context.Background(), "org", "repo", edges))

	result, err := Run(context.Background(), gs, "org", "repo", "v1")
	require.NoError(t, err)
	require.Len(t, result.Annotations, 4)

	hub, err := gs.EntityByKey(context.Background(), "org", "repo", "hub")
	require.NoError(t, err)
	assert.Equal(t, 3, hub.FanIn)
	assert.Greater(t, hub.PageRank, 0.0)
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
