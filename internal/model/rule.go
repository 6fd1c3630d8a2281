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

// Enforcement is the severity a Rule is evaluated with (§3.1).
type Enforcement string

const (
	EnforceSuggest Enforcement = "suggest"
	EnforceWarn    Enforcement = "warn"
	EnforceBlock   Enforcement = "block"
)

// Scope determines whether a Rule belongs to one repo or an entire org;
// repo scope outranks org scope regardless of priority (see Rule.Wins) (§3.1).
type Scope string

const (
	ScopeOrg  Scope = "org"
	ScopeRepo Scope = "repo"
)

// RuleStatus is the lifecycle state of a synthesized or curated Rule.
type RuleStatus string

const (
	RuleStatusDraft    RuleStatus = "draft"
	RuleStatusActive   RuleStatus = "active"
	RuleStatusArchived RuleStatus = "archived"
)

// Rule is a synthesized or curated enforcement directive (§3.1). RuleBody
// holds a structural query (AST-shape match, evaluated by the Tree-sitter
// structural matcher); MangleProgram optionally holds the same rule
// compiled into a Mangle/Datalog program for fact-base evaluation — the
// two together form the "Semgrep-like" evaluator of §4 component 6.
type Rule struct {
	ID            string      `json:"id"`
	OrgID         string      `json:"org_id"`
	RepoID        string      `json:"repo_id,omitempty"`
	RuleBody      string      `json:"rule_body"`
	MangleProgram string      `json:"mangle_program,omitempty"`
	SemgrepRule   string      `json:"semgrep_rule,omitempty"`
	Enforcement   Enforcement `json:"enforcement"`
	Scope         Scope       `json:"scope"`
	Priority      int         `json:"priority"`
	Status        RuleStatus  `json:"status"`
	Languages     []string    `json:"languages"`
}

// Wins reports whether r outranks other under the conflict-resolution
// policy (§4.1's "priority resolves conflicts: higher wins; repo-scoped
// overrides org-scoped").
func (r Rule) Wins(other Rule) bool {
	if r.Scope != other.Scope {
		return r.Scope == ScopeRepo
	}
	return r.Priority > other.Priority
}

// PatternEvidence is one matched code location supporting a detected
// Pattern, capped at 5 per pattern with 200-char snippets (§4.8).
type PatternEvidence struct {
	EntityKey string `json:"entity_key"`
	FilePath  string `json:"file_path"`
	Line      int    `json:"line"`
	Snippet   string `json:"snippet"`
}

// Pattern is a structural or behavioral pattern detected across the repo.
type Pattern struct {
	ID       string            `json:"id"`
	OrgID    string            `json:"org_id"`
	RepoID   string            `json:"repo_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Evidence []PatternEvidence `json:"evidence"`
	Confirmed bool             `json:"confirmed"`
}
