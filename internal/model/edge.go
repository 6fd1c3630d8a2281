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

package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// EdgeKind enumerates the semantic labels CodeEdge can carry (§3.1).
type EdgeKind string

const (
	EdgeContains       EdgeKind = "contains"
	EdgeCalls          EdgeKind = "calls"
	EdgeReferences     EdgeKind = "references"
	EdgeImports        EdgeKind = "imports"
	EdgeExtends        EdgeKind = "extends"
	EdgeImplements     EdgeKind = "implements"
	EdgeMemberOf       EdgeKind = "member_of"
	EdgeEmits          EdgeKind = "emits"
	EdgeListensTo      EdgeKind = "listens_to"
	EdgeMutatesState   EdgeKind = "mutates_state"
	EdgeLogicallyCoupled EdgeKind = "logically_coupled"
	EdgeTests          EdgeKind = "tests"
)

// PageRankWeight returns the weighted-PageRank edge weight for a kind,
// per §4.4. The Open Question on fan-in/out scope (spec.md §9) is resolved
// here: fan-in/fan-out (§4.4) counts `calls` edges only, consistently with
// the weight table below assigning calls edges the dominant non-mutation
// weight; see DESIGN.md "Open Question: fan-in/out edge scope".
func (k EdgeKind) PageRankWeight() float64 {
	switch k {
	case EdgeMutatesState:
		return 0.9
	case EdgeImplements:
		return 0.7
	case EdgeEmits, EdgeListensTo:
		return 0.6
	case EdgeCalls:
		return 0.5
	case EdgeReferences, EdgeExtends:
		return 0.3
	case EdgeImports:
		return 0.1
	case EdgeMemberOf:
		return 0.05
	case EdgeContains:
		return 0.0
	default:
		return 0.0
	}
}

// CodeEdge is a typed directed relation between two entities (or files).
type CodeEdge struct {
	Key              string   `json:"key"`
	OrgID            string   `json:"org_id"`
	RepoID           string   `json:"repo_id"`
	FromKey          string   `json:"from_key"`
	ToKey            string   `json:"to_key"`
	EdgeKind         EdgeKind `json:"edge_kind"`
	IndexVersion     string   `json:"index_version"`
	IsExternal       bool     `json:"is_external,omitempty"`
	PackageName      string   `json:"package_name,omitempty"`
	BoundaryCategory string   `json:"boundary_category,omitempty"`
	Weight           float64  `json:"weight,omitempty"`
	EventName        string   `json:"event_name,omitempty"`
}

// EdgeKeyFor computes the deterministic 16-hex-char key for a CodeEdge:
// SHA-256(from_key ∥ to_key ∥ edge_kind) truncated to 8 bytes (§3.1).
func EdgeKeyFor(fromKey, toKey string, kind EdgeKind) string {
	h := sha256.New()
	h.Write([]byte(fromKey))
	h.Write([]byte{0})
	h.Write([]byte(toKey))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}
