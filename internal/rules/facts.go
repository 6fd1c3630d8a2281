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
	"strconv"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
)

// HighFanInThreshold marks an entity as a fan-in hotspot for the
// "god_object" and similar built-in patterns below.
const HighFanInThreshold = 5

// BuildFacts projects a repo's entities and edges into the Datalog facts a
// loaded Mangle program can match against (§4.8). Every predicate here must
// have a matching declaration in the program text passed to
// store.PatternEngine.LoadProgram, or Eval rejects the fact.
func BuildFacts(entities []model.CodeEntity, edges []model.CodeEdge) []store.Fact {
	var facts []store.Fact

	fanIn := make(map[string]int, len(entities))
	for _, e := range edges {
		switch e.EdgeKind {
		case model.EdgeCalls:
			facts = append(facts, store.Fact{Predicate: "calls", Args: []string{e.FromKey, e.ToKey}})
			fanIn[e.ToKey]++
		case model.EdgeMutatesState:
			facts = append(facts, store.Fact{Predicate: "mutates_state", Args: []string{e.FromKey}})
		case model.EdgeImplements:
			facts = append(facts, store.Fact{Predicate: "implements", Args: []string{e.FromKey, e.ToKey}})
		case model.EdgeEmits:
			facts = append(facts, store.Fact{Predicate: "emits", Args: []string{e.FromKey, e.ToKey}})
		case model.EdgeListensTo:
			facts = append(facts, store.Fact{Predicate: "listens_to", Args: []string{e.FromKey, e.ToKey}})
		}
	}

	for _, ent := range entities {
		facts = append(facts, store.Fact{Predicate: "entity", Args: []string{ent.Key, string(ent.Kind), ent.Language}})
		if count := fanIn[ent.Key]; count >= HighFanInThreshold {
			facts = append(facts, store.Fact{Predicate: "high_fan_in", Args: []string{ent.Key, strconv.Itoa(count)}})
		}
		if ent.RiskLevel == model.RiskHigh {
			facts = append(facts, store.Fact{Predicate: "high_risk", Args: []string{ent.Key}})
		}
	}

	return facts
}
