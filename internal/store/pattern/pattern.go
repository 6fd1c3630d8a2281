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

// Package pattern is the production store.PatternEngine adapter, backed by
// Google Mangle. Each loaded program gets its own isolated Mangle analysis
// and fact store, so that concurrent evaluation of unrelated rule programs
// (one org's custom rules vs. another's) never share state. Convention:
// every loaded program's rules must resolve to a head predicate named
// "match" with entity_key as its first argument (§4.8), so Eval knows
// which derived facts to harvest back into store.Match rows.
package pattern

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	_ "github.com/google/mangle/packages"
	"github.com/google/mangle/parse"

	"github.com/google/uuid"
	"github.com/kraklabs/kgpipe/internal/store"
)

const matchPredicateName = "match"

type program struct {
	info  *analysis.ProgramInfo
	store factstore.ConcurrentFactStore
	sym   ast.PredicateSym
}

// Engine is the Mangle-backed PatternEngine.
type Engine struct {
	mu       sync.Mutex
	programs map[string]*program
}

// New returns an empty Engine.
func New() *Engine {
	return &Engine{programs: make(map[string]*program)}
}

// LoadProgram parses and analyzes mangleSource, returning an opaque
// programID for later Eval calls.
func (e *Engine) LoadProgram(ctx context.Context, mangleSource string) (string, error) {
	unit, err := parse.Unit(bytes.NewReader([]byte(mangleSource)))
	if err != nil {
		return "", fmt.Errorf("pattern: parse program: %w", err)
	}

	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return "", fmt.Errorf("pattern: analyze program: %w", err)
	}

	var matchSym ast.PredicateSym
	found := false
	for sym := range info.Decls {
		if sym.Symbol == matchPredicateName {
			matchSym = sym
			found = true
			break
		}
	}
	if !found {
		return "", fmt.Errorf("pattern: program declares no %q predicate", matchPredicateName)
	}

	baseStore := factstore.NewSimpleInMemoryStore()
	id := uuid.NewString()
	e.mu.Lock()
	e.programs[id] = &program{
		info:  info,
		store: factstore.NewConcurrentFactStore(baseStore),
		sym:   matchSym,
	}
	e.mu.Unlock()

	return id, nil
}

// Eval asserts facts into programID's fact store, evaluates its rules, and
// returns every derived match(EntityKey, ...) row.
func (e *Engine) Eval(ctx context.Context, programID string, facts []store.Fact) ([]store.Match, error) {
	e.mu.Lock()
	p, ok := e.programs[programID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("pattern: unknown program %q", programID)
	}

	for _, fact := range facts {
		atom, err := factToAtom(p.info, fact)
		if err != nil {
			return nil, err
		}
		p.store.Add(atom)
	}

	if _, err := mengine.EvalProgramWithStats(p.info, p.store); err != nil {
		return nil, fmt.Errorf("pattern: eval program: %w", err)
	}

	var matches []store.Match
	err := p.store.GetFacts(ast.NewQuery(p.sym), func(atom ast.Atom) error {
		if len(atom.Args) == 0 {
			return nil
		}
		entityKey := termToString(atom.Args[0])
		args := make([]string, 0, len(atom.Args)-1)
		for _, a := range atom.Args[1:] {
			args = append(args, termToString(a))
		}
		matches = append(matches, store.Match{EntityKey: entityKey, RuleArgs: args})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pattern: read matches: %w", err)
	}
	return matches, nil
}

func factToAtom(info *analysis.ProgramInfo, fact store.Fact) (ast.Atom, error) {
	var sym ast.PredicateSym
	found := false
	for s := range info.Decls {
		if s.Symbol == fact.Predicate {
			sym = s
			found = true
			break
		}
	}
	if !found {
		return ast.Atom{}, fmt.Errorf("pattern: predicate %q not declared in program", fact.Predicate)
	}
	if sym.Arity != len(fact.Args) {
		return ast.Atom{}, fmt.Errorf("pattern: predicate %q expects %d args, got %d", fact.Predicate, sym.Arity, len(fact.Args))
	}

	args := make([]ast.BaseTerm, len(fact.Args))
	for i, raw := range fact.Args {
		if strings.HasPrefix(raw, "/") {
			name, err := ast.Name(raw)
			if err != nil {
				return ast.Atom{}, fmt.Errorf("pattern: arg %d of %q: %w", i, fact.Predicate, err)
			}
			args[i] = name
			continue
		}
		args[i] = ast.String(raw)
	}
	return ast.Atom{Predicate: sym, Args: args}, nil
}

func termToString(term ast.BaseTerm) string {
	c, ok := term.(ast.Constant)
	if !ok {
		return term.String()
	}
	return c.Symbol
}
