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

// Package model defines the tenant-scoped knowledge-graph data model shared
// by every pipeline stage: entities, edges, justifications, embeddings,
// ontology, health reports, rules/patterns, ledger entries, pipeline runs,
// and graph snapshots.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

// Kind enumerates the declaration kinds a CodeEntity can represent.
type Kind string

const (
	KindFile      Kind = "file"
	KindFunction  Kind = "function"
	KindMethod    Kind = "method"
	KindClass     Kind = "class"
	KindInterface Kind = "interface"
	KindVariable  Kind = "variable"
	KindType      Kind = "type"
	KindEnum      Kind = "enum"
	KindModule    Kind = "module"
)

// RiskLevel is the fan-in/fan-out-derived risk classification (§4.4).
type RiskLevel string

const (
	RiskNormal RiskLevel = "normal"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// MaxBodyLines is the cap on CodeEntity.Body (§3.1 invariant).
const MaxBodyLines = 3000

// CodeEntity is a single declaration extracted from source code.
type CodeEntity struct {
	Key           string  `json:"key"`
	OrgID         string  `json:"org_id"`
	RepoID        string  `json:"repo_id"`
	Kind          Kind    `json:"kind"`
	OriginalKind  Kind    `json:"original_kind,omitempty"`
	Name          string  `json:"name"`
	FilePath      string  `json:"file_path"`
	StartLine     int     `json:"start_line"`
	EndLine       int     `json:"end_line"`
	StartCol      int     `json:"start_col"`
	EndCol        int     `json:"end_col"`
	Signature     string  `json:"signature,omitempty"`
	Body          string  `json:"body,omitempty"`
	Documentation string  `json:"documentation,omitempty"`
	Language      string  `json:"language"`
	IndexVersion  string  `json:"index_version"`
	FanIn         int     `json:"fan_in,omitempty"`
	FanOut        int     `json:"fan_out,omitempty"`
	RiskLevel     RiskLevel `json:"risk_level,omitempty"`
	CommunityID   int     `json:"community_id,omitempty"`
	PageRank      float64 `json:"page_rank,omitempty"`
	PageRankPctl  float64 `json:"page_rank_percentile,omitempty"`
}

// EntityKey computes the deterministic 16-hex-char key for a CodeEntity,
// per invariant 1 of spec.md §8: SHA-256(repo_id ∥ file_path ∥ kind ∥ name ∥
// signature), truncated to the first 16 hex characters (8 bytes).
func EntityKey(repoID, filePath string, kind Kind, name, signature string) string {
	norm := normalizePath(filePath)
	h := sha256.New()
	h.Write([]byte(repoID))
	h.Write([]byte{0})
	h.Write([]byte(norm))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(signature))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}

// TruncateBody enforces MaxBodyLines on a function/type body, returning the
// truncated text and whether truncation occurred.
func TruncateBody(body string) (string, bool) {
	lines := splitLinesKeepEnds(body)
	if len(lines) <= MaxBodyLines {
		return body, false
	}
	var out string
	for _, l := range lines[:MaxBodyLines] {
		out += l
	}
	return out, true
}

func splitLinesKeepEnds(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// normalizePath normalizes a file path for deterministic key generation,
// matching the teacher's ingestion.normalizePath behavior: forward slashes,
// no leading "./", no leading "/".
func normalizePath(path string) string {
	if len(path) >= 2 && path[0:2] == "./" {
		path = path[2:]
	}
	path = filepath.Clean(path)
	path = filepath.ToSlash(path)
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	return path
}

// String implements fmt.Stringer for readable log lines.
func (e CodeEntity) String() string {
	return fmt.Sprintf("%s:%s@%s:%d", e.Kind, e.Name, e.FilePath, e.StartLine)
}
