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

package memstore

import (
	"context"
	"testing"

	"github.com/kraklabs/kgpipe/internal/store"
	"github.com/stretchr/testify/require"
)

func TestPatternEngine_LoadAndEval(t *testing.T) {
	eng := NewPatternEngine()
	ctx := context.Background()

	programID, err := eng.LoadProgram(ctx, "high_risk_mutator")
	require.NoError(t, err)

	matches, err := eng.Eval(ctx, programID, []store.Fact{
		{Predicate: "high_risk_mutator", Args: []string{"entity-1", "mutates_state"}},
		{Predicate: "other_predicate", Args: []string{"entity-2"}},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "entity-1", matches[0].EntityKey)
	require.Equal(t, []string{"mutates_state"}, matches[0].RuleArgs)
}

func TestPatternEngine_UnknownProgram(t *testing.T) {
	eng := NewPatternEngine()
	_, err := eng.Eval(context.Background(), "nonexistent", nil)
	require.Error(t, err)
}
