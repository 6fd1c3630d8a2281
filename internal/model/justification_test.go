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
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJustification_IsCurrent(t *testing.T) {
	current := Justification{ValidTo: FarFuture}
	assert.True(t, current.IsCurrent())

	closed := Justification{ValidTo: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	assert.False(t, closed.IsCurrent())
}

func TestEmbedding_Valid(t *testing.T) {
	good := make([]float32, EmbeddingDim)
	assert.True(t, Embedding{Vector: good}.Valid())

	short := make([]float32, EmbeddingDim-1)
	assert.False(t, Embedding{Vector: short}.Valid())

	withNaN := make([]float32, EmbeddingDim)
	withNaN[5] = float32(math.NaN())
	assert.False(t, Embedding{Vector: withNaN}.Valid())

	withInf := make([]float32, EmbeddingDim)
	withInf[5] = float32(math.Inf(1))
	assert.False(t, Embedding{Vector: withInf}.Valid())
}

func TestConfidenceBreakdown_Sum(t *testing.T) {
	c := ConfidenceBreakdown{Structural: 0.5, Intent: 0.3, LLM: 0.2}
	assert.InDelta(t, 1.0, c.Sum(), 1e-9)
}
