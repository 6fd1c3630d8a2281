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

package pattern

import (
	"context"
	"testing"

	"github.com/kraklabs/kgpipe/internal/store"
	"github.com/stretchr/testify/require"
)

const riskyMutatorProgram = `
.decl high_fan_in(entity_key, count)
.decl mutates(entity_key)
.decl match(entity_key, reason)

match(Key, "high_fan_in_mutator") :-
  high_fan_in(Key, Count),
  mutates(Key),
  :gt(Count, 5).
`

func TestEngine_LoadProgram_RejectsMissingMatchPredicate(t *testing.T) {
	eng := New()
	_, err := eng.LoadProgram(context.Background(), ".decl foo(x)\n")
	require.Error(t, err)
}

func TestEngine_LoadAndEval_DerivesMatch(t *testing.T) {
	eng := New()
	programID, err := eng.LoadProgram(context.Background(), riskyMutatorProgram)
	require.NoError(t, err)

	facts := []store.Fact{
		{Predicate: "high_fan_in", Args: []string{"entity-1", "10"}},
		{Predicate: "mutates", Args: []string{"entity-1"}},
		{Predicate: "high_fan_in", Args: []string{"entity-2", "1"}},
		{Predicate: "mutates", Args: []string{"entity-2"}},
	}

	matches, err := eng.Eval(context.Background(), programID, facts)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "entity-1", matches[0].EntityKey)
}

func TestEngine_Eval_UnknownProgram(t *testing.T) {
	eng := New()
	_, err := eng.Eval(context.Background(), "bogus", nil)
	require.Error(t, err)
}
