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

// Package rules implements the layer of §4.8 that sits above the raw
// Mangle-eval store.PatternEngine port (internal/store/pattern): a
// structural (Semgrep-like) AST matcher built on Tree-sitter, and a rule
// synthesizer that turns a PatternEngine match set into a persisted
// model.Rule. It reuses the same Tree-sitter walking idiom
// pkg/ingestion's Go/TypeScript parsers use (node.Type(), node.Child(i),
// node.ChildByFieldName), applied here to structural queries instead of
// entity extraction.
package rules

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// StructuralPattern is one AST-shape constraint: a Tree-sitter node type,
// optionally narrowed to nodes whose source text contains a substring.
// A Rule's structural query is a list of these, ANDed together: the rule
// fires on a body only when every pattern matches some node in it.
type StructuralPattern struct {
	NodeType string
	Contains string
}

// StructuralMatcher evaluates StructuralPattern lists against Go source,
// the primary language the fallback parser and justification engine both
// weight most heavily (pkg/ingestion's "90% of codebase" comment).
type StructuralMatcher struct {
	parser *sitter.Parser
}

// NewStructuralMatcher returns a matcher configured for the Go grammar.
func NewStructuralMatcher() *StructuralMatcher {
	p := sitter.NewParser()
	p.SetLanguage(golang.GetLanguage())
	return &StructuralMatcher{parser: p}
}

// Close releases the underlying Tree-sitter parser.
func (m *StructuralMatcher) Close() {
	m.parser.Close()
}

// Matches reports whether body satisfies every pattern in patterns.
func (m *StructuralMatcher) Matches(ctx context.Context, body string, patterns []StructuralPattern) (bool, error) {
	if len(patterns) == 0 {
		return true, nil
	}
	content := []byte(body)
	tree, err := m.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return false, fmt.Errorf("rules: parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	for _, p := range patterns {
		if !anyNodeMatches(root, content, p) {
			return false, nil
		}
	}
	return true, nil
}

// anyNodeMatches performs a depth-first search for a node satisfying p.
func anyNodeMatches(node *sitter.Node, content []byte, p StructuralPattern) bool {
	if node == nil {
		return false
	}
	if node.Type() == p.NodeType {
		if p.Contains == "" {
			return true
		}
		text := string(content[node.StartByte():node.EndByte()])
		if strings.Contains(text, p.Contains) {
			return true
		}
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if anyNodeMatches(node.Child(i), content, p) {
			return true
		}
	}
	return false
}

// Encode renders patterns into the compact DSL text stored on
// model.Rule.RuleBody, so a persisted rule is self-describing without
// needing the original []StructuralPattern slice kept alongside it.
func Encode(patterns []StructuralPattern) string {
	var parts []string
	for _, p := range patterns {
		if p.Contains == "" {
			parts = append(parts, p.NodeType)
		} else {
			parts = append(parts, fmt.Sprintf("%s:%q", p.NodeType, p.Contains))
		}
	}
	return strings.Join(parts, " && ")
}

// Decode parses RuleBody text produced by Encode back into patterns.
func Decode(ruleBody string) []StructuralPattern {
	if strings.TrimSpace(ruleBody) == "" {
		return nil
	}
	var patterns []StructuralPattern
	for _, part := range strings.Split(ruleBody, "&&") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		nodeType, rest, found := strings.Cut(part, ":")
		if !found {
			patterns = append(patterns, StructuralPattern{NodeType: part})
			continue
		}
		patterns = append(patterns, StructuralPattern{NodeType: nodeType, Contains: strings.Trim(rest, `"`)})
	}
	return patterns
}
