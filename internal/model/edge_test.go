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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEdgeKeyFor_Deterministic(t *testing.T) {
	k1 := EdgeKeyFor("a", "b", EdgeCalls)
	k2 := EdgeKeyFor("a", "b", EdgeCalls)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 16)
}

func TestEdgeKeyFor_DirectionMatters(t *testing.T) {
	ab := EdgeKeyFor("a", "b", EdgeCalls)
	ba := EdgeKeyFor("b", "a", EdgeCalls)
	assert.NotEqual(t, ab, ba)
}

func TestPageRankWeight_OrderingMatchesSpec(t *testing.T) {
	assert.Greater(t, EdgeMutatesState.PageRankWeight(), EdgeImplements.PageRankWeight())
	assert.Greater(t, EdgeImplements.PageRankWeight(), EdgeEmits.PageRankWeight())
	assert.Equal(t, EdgeEmits.PageRankWeight(), EdgeListensTo.PageRankWeight())
	assert.Greater(t, EdgeEmits.PageRankWeight(), EdgeCalls.PageRankWeight())
	assert.Greater(t, EdgeCalls.PageRankWeight(), EdgeReferences.PageRankWeight())
	assert.Equal(t, EdgeReferences.PageRankWeight(), EdgeExtends.PageRankWeight())
	assert.Greater(t, EdgeReferences.PageRankWeight(), EdgeImports.PageRankWeight())
	assert.Greater(t, EdgeImports.PageRankWeight(), EdgeMemberOf.PageRankWeight())
	assert.Equal(t, 0.0, EdgeContains.PageRankWeight())
}
