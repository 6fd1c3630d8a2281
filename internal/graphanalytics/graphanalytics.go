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

// Package graphanalytics computes the structural annotations §4.4
// attaches to every CodeEntity after indexing: fan-in/out, weighted
// PageRank, Louvain community membership, and a topological order used by
// internal/justification's context-propagation pass (§4.7.11). It operates
// entirely on the in-memory Graph built from one EntitiesByVersion/
// EdgesByVersion snapshot; nothing here talks to a store directly, mirroring
// the teacher's separation between pkg/ingestion's pure-function parsers
// and the storage.Backend that persists their output.
package graphanalytics

import (
	"context"
	"fmt"
	"sort"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
)

// Graph is an adjacency-list view over one index_version's entities/edges.
type Graph struct {
	Keys     []string // stable, sorted entity keys
	adjOut   map[string][]model.CodeEdge
	adjIn    map[string][]model.CodeEdge
	entities map[string]model.CodeEntity
}

// BuildGraph indexes entities and edges for repeated traversal.
func BuildGraph(entities []model.CodeEntity, edges []model.CodeEdge) *Graph {
	g := &Graph{
		adjOut:   make(map[string][]model.CodeEdge),
		adjIn:    make(map[string][]model.CodeEdge),
		entities: make(map[string]model.CodeEntity, len(entities)),
	}
	for _, e := range entities {
		g.entities[e.Key] = e
		g.Keys = append(g.Keys, e.Key)
	}
	sort.Strings(g.Keys)
	for _, e := range edges {
		g.adjOut[e.FromKey] = append(g.adjOut[e.FromKey], e)
		g.adjIn[e.ToKey] = append(g.adjIn[e.ToKey], e)
	}
	return g
}

// FanInOut resolves invariant §8's "fan-in/fan-out counts calls edges only"
// decision (DESIGN.md "Open Question: fan-in/out edge scope"): only
// model.EdgeCalls edges contribute, so a file's `contains` edges or a
// type's `implements` edges never inflate its fan score.
func (g *Graph) FanInOut() (fanIn, fanOut map[string]int) {
	fanIn = make(map[string]int, len(g.Keys))
	fanOut = make(map[string]int, len(g.Keys))
	for _, key := range g.Keys {
		for _, e := range g.adjOut[key] {
			if e.EdgeKind == model.EdgeCalls {
				fanOut[key]++
			}
		}
		for _, e := range g.adjIn[key] {
			if e.EdgeKind == model.EdgeCalls {
				fanIn[key]++
			}
		}
	}
	return fanIn, fanOut
}

// PageRank runs weighted power-iteration PageRank, using
// model.EdgeKind.PageRankWeight as each edge's transition weight rather
// than a uniform 1/out-degree split, so a mutates_state edge biases rank
// more than a contains edge out of the same node (§4.4).
func PageRank(g *Graph, damping float64, iterations int) map[string]float64 {
	n := len(g.Keys)
	rank := make(map[string]float64, n)
	if n == 0 {
		return rank
	}
	for _, k := range g.Keys {
		rank[k] = 1.0 / float64(n)
	}

	outWeight := make(map[string]float64, n)
	for _, key := range g.Keys {
		var total float64
		for _, e := range g.adjOut[key] {
			total += e.EdgeKind.PageRankWeight()
		}
		outWeight[key] = total
	}

	for iter := 0; iter < iterations; iter++ {
		next := make(map[string]float64, n)
		base := (1 - damping) / float64(n)
		for _, k := range g.Keys {
			next[k] = base
		}
		var danglingMass float64
		for _, key := range g.Keys {
			if outWeight[key] == 0 {
				danglingMass += rank[key]
				continue
			}
			for _, e := range g.adjOut[key] {
				w := e.EdgeKind.PageRankWeight()
				if w == 0 {
					continue
				}
				next[e.ToKey] += damping * rank[key] * (w / outWeight[key])
			}
		}
		if danglingMass > 0 {
			share := damping * danglingMass / float64(n)
			for _, k := range g.Keys {
				next[k] += share
			}
		}
		rank = next
	}
	return rank
}

// Percentiles maps each key's rank value to its percentile (0-1) among all
// keys, used for CodeEntity.PageRankPctl and the risk-level thresholds.
func Percentiles(values map[string]float64) map[string]float64 {
	type kv struct {
		key string
		val float64
	}
	sorted := make([]kv, 0, len(values))
	for k, v := range values {
		sorted = append(sorted, kv{k, v})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].val != sorted[j].val {
			return sorted[i].val < sorted[j].val
		}
		return sorted[i].key < sorted[j].key
	})
	out := make(map[string]float64, len(sorted))
	n := len(sorted)
	for i, e := range sorted {
		if n <= 1 {
			out[e.key] = 1.0
			continue
		}
		out[e.key] = float64(i) / float64(n-1)
	}
	return out
}

// ClassifyRisk assigns the §4.4 risk level from fixed thresholds: `high`
// when the pagerank percentile is at least 0.9 and fan-in is at least 3;
// `medium` when the percentile is at least 0.66 and fan-in is at least 1;
// otherwise `normal`. Fan-out is not taken into account.
func ClassifyRisk(fanIn int, pageRankPctl float64) model.RiskLevel {
	switch {
	case pageRankPctl >= 0.9 && fanIn >= 3:
		return model.RiskHigh
	case pageRankPctl >= 0.66 && fanIn >= 1:
		return model.RiskMedium
	default:
		return model.RiskNormal
	}
}

// Louvain runs one pass of greedy modularity-gain community assignment over
// an undirected projection of the graph (edges in either direction merged),
// which is the single-level approximation of the Louvain method: nodes
// start in singleton communities and repeatedly move to the neighboring
// community that most increases modularity, until no move improves it.
// This is the first-pass result, not the full recursive dendrogram Louvain
// builds, which is sufficient for the community_id annotation §4.4 exposes.
func Louvain(g *Graph) map[string]int {
	n := len(g.Keys)
	community := make(map[string]int, n)
	for i, k := range g.Keys {
		community[k] = i
	}
	if n == 0 {
		return community
	}

	neighborWeight := make(map[string]map[string]float64, n)
	var totalWeight float64
	degree := make(map[string]float64, n)
	for _, key := range g.Keys {
		neighborWeight[key] = make(map[string]float64)
	}
	addEdge := func(a, b string, w float64) {
		neighborWeight[a][b] += w
		degree[a] += w
		totalWeight += w
	}
	for _, key := range g.Keys {
		for _, e := range g.adjOut[key] {
			w := e.EdgeKind.PageRankWeight()
			if w == 0 {
				w = 0.01
			}
			addEdge(e.FromKey, e.ToKey, w)
			addEdge(e.ToKey, e.FromKey, w)
		}
	}
	if totalWeight == 0 {
		return community
	}

	communityDegree := make(map[int]float64, n)
	for _, key := range g.Keys {
		communityDegree[community[key]] += degree[key]
	}

	improved := true
	for pass := 0; improved && pass < 20; pass++ {
		improved = false
		for _, key := range g.Keys {
			current := community[key]
			gain := make(map[int]float64)
			for neighbor, w := range neighborWeight[key] {
				gain[community[neighbor]] += w
			}
			communityDegree[current] -= degree[key]
			best, bestGain := current, gain[current]
			for cand, g2 := range gain {
				score := g2 - degree[key]*communityDegree[cand]/(2*totalWeight)
				baseline := gain[current] - degree[key]*communityDegree[current]/(2*totalWeight)
				if score > baseline && g2 > bestGain {
					best, bestGain = cand, g2
				}
			}
			communityDegree[best] += degree[key]
			if best != current {
				community[key] = best
				improved = true
			}
		}
	}
	return normalizeCommunityIDs(g.Keys, community)
}

// normalizeCommunityIDs renumbers community ids 0..k-1 in deterministic,
// first-seen order so output is stable across runs with identical input.
func normalizeCommunityIDs(keys []string, community map[string]int) map[string]int {
	seen := make(map[int]int)
	out := make(map[string]int, len(keys))
	next := 0
	for _, k := range keys {
		c := community[k]
		id, ok := seen[c]
		if !ok {
			id = next
			seen[c] = id
			next++
		}
		out[k] = id
	}
	return out
}

// TopoSort returns a topological order over `calls` edges using Kahn's
// algorithm, breaking ties by entity key for determinism. A code graph
// ordinarily contains call cycles (mutual recursion, callback
// registration); when Kahn's algorithm stalls with nodes remaining, the
// lowest-PageRankWeight edge among the remaining in-degree>0 nodes is
// removed and the algorithm resumes, so the context-propagation pass of
// §4.7.11 always receives a full, deterministic visiting order rather than
// failing outright on a cyclic graph.
func TopoSort(g *Graph) []string {
	type edgeRef struct {
		from, to string
		weight   float64
	}
	remaining := make(map[string][]edgeRef, len(g.Keys))
	indegree := make(map[string]int, len(g.Keys))
	for _, k := range g.Keys {
		indegree[k] = 0
	}
	for _, key := range g.Keys {
		for _, e := range g.adjOut[key] {
			if e.EdgeKind != model.EdgeCalls {
				continue
			}
			remaining[key] = append(remaining[key], edgeRef{key, e.ToKey, e.EdgeKind.PageRankWeight()})
			indegree[e.ToKey]++
		}
	}

	var order []string
	for len(order) < len(g.Keys) {
		var ready []string
		for _, k := range g.Keys {
			if indegree[k] == 0 {
				alreadyVisited := false
				for _, v := range order {
					if v == k {
						alreadyVisited = true
						break
					}
				}
				if !alreadyVisited {
					ready = append(ready, k)
				}
			}
		}
		if len(ready) == 0 {
			// Cycle: break the globally weakest remaining edge and retry.
			weakFrom, weakTo, weakIdx, found := "", "", -1, false
			weakest := -1.0
			for _, from := range g.Keys {
				for i, e := range remaining[from] {
					if !found || e.weight < weakest {
						weakFrom, weakTo, weakIdx, weakest, found = from, e.to, i, e.weight, true
					}
				}
			}
			if !found {
				break
			}
			remaining[weakFrom] = append(remaining[weakFrom][:weakIdx], remaining[weakFrom][weakIdx+1:]...)
			indegree[weakTo]--
			continue
		}
		sort.Strings(ready)
		for _, k := range ready {
			order = append(order, k)
			for _, e := range remaining[k] {
				indegree[e.to]--
			}
			delete(remaining, k)
		}
	}
	return order
}

// Result is the full write-back payload for one analytics pass.
type Result struct {
	Annotations []store.EntityAnnotation
	TopoOrder   []string
}

// Run computes fan-in/out, PageRank, percentile, risk level, and community
// for every entity at indexVersion, then persists the annotations via
// gs.UpdateAnalytics (§4.1 step "analytics_precompute"). The PipelineRun's
// Totals map gets an "entities_analyzed" count for observability.
func Run(ctx context.Context, gs store.GraphStore, orgID, repoID, indexVersion string) (Result, error) {
	entities, err := gs.EntitiesByVersion(ctx, orgID, repoID, indexVersion)
	if err != nil {
		return Result{}, fmt.Errorf("graphanalytics: load entities: %w", err)
	}
	edges, err := gs.EdgesByVersion(ctx, orgID, repoID, indexVersion)
	if err != nil {
		return Result{}, fmt.Errorf("graphanalytics: load edges: %w", err)
	}

	g := BuildGraph(entities, edges)
	fanIn, fanOut := g.FanInOut()
	rank := PageRank(g, 0.85, 30)
	pctl := Percentiles(rank)
	community := Louvain(g)

	annotations := make([]store.EntityAnnotation, 0, len(g.Keys))
	for _, key := range g.Keys {
		annotations = append(annotations, store.EntityAnnotation{
			Key:          key,
			FanIn:        fanIn[key],
			FanOut:       fanOut[key],
			RiskLevel:    ClassifyRisk(fanIn[key], pctl[key]),
			CommunityID:  community[key],
			PageRank:     rank[key],
			PageRankPctl: pctl[key],
		})
	}

	if err := gs.UpdateAnalytics(ctx, orgID, repoID, annotations); err != nil {
		return Result{}, fmt.Errorf("graphanalytics: write back annotations: %w", err)
	}

	return Result{Annotations: annotations, TopoOrder: TopoSort(g)}, nil
}
