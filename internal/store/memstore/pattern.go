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
	"fmt"
	"sync"

	"github.com/kraklabs/kgpipe/internal/store"
)

// PatternEngine is an in-memory store.PatternEngine fake. It does not
// evaluate real Datalog: a "program" is just a bare predicate name (the
// whole source passed to LoadProgram), and Eval reports a Match for every fact whose Predicate equals that
// target, letting pattern-package tests exercise the pipeline wiring
// without needing a real Mangle analysis.
type PatternEngine struct {
	mu       sync.Mutex
	programs map[string]string
	nextID   int
}

// NewPatternEngine returns an empty fake.
func NewPatternEngine() *PatternEngine {
	return &PatternEngine{programs: make(map[string]string)}
}

// LoadProgram treats mangleSource as a bare predicate name for the fake's
// simplified matching rule.
func (e *PatternEngine) LoadProgram(ctx context.Context, mangleSource string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := fmt.Sprintf("program-%d", e.nextID)
	e.programs[id] = mangleSource
	return id, nil
}

func (e *PatternEngine) Eval(ctx context.Context, programID string, facts []store.Fact) ([]store.Match, error) {
	e.mu.Lock()
	target, ok := e.programs[programID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("memstore: unknown pattern program %q", programID)
	}

	var matches []store.Match
	for _, f := range facts {
		if f.Predicate != target || len(f.Args) == 0 {
			continue
		}
		matches = append(matches, store.Match{EntityKey: f.Args[0], RuleArgs: f.Args[1:]})
	}
	return matches, nil
}

var _ store.PatternEngine = (*PatternEngine)(nil)
