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

package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
)

// Indexer runs §4.2's full-repo and incremental indexing passes: walk the
// workspace, parse each file (Tree-sitter for Go, fallback otherwise),
// resolve cross-file calls, and write the result to the GraphStore under
// a new index_version for the shadow-swap finalize step to adopt.
type Indexer struct {
	Graph store.GraphStore
}

// New returns an Indexer backed by the given GraphStore.
func New(graph store.GraphStore) *Indexer {
	return &Indexer{Graph: graph}
}

// Result reports what one Index call discovered, recorded onto the
// PipelineRun's Totals map by internal/orchestrator.
type Result struct {
	FilesScanned   int
	FilesParsed    int
	FilesFallback  int
	EntitiesWritten int
	EdgesWritten   int
}

// Index performs a full scan of workspacePath: every file under it is
// parsed (structurally for Go, coarsely otherwise) and the resulting
// entities/edges are upserted under indexVersion (§4.2 step "scip" +
// "tree_sitter"). The incremental re-index, which re-parses only the
// files git reports as changed, is IndexChangedFiles in delta.go.
func (ix *Indexer) Index(ctx context.Context, orgID, repoID, indexVersion, workspacePath string) (Result, error) {
	var res Result

	files, err := WalkRepo(workspacePath, DefaultMaxFileSize)
	if err != nil {
		return res, fmt.Errorf("indexer: walk %s: %w", workspacePath, err)
	}
	res.FilesScanned = len(files)

	goParser := NewGoParser()
	defer goParser.Close()

	var allEntities []model.CodeEntity
	var allEdges []model.CodeEdge
	var unresolved []UnresolvedCall

	for _, f := range files {
		content, err := os.ReadFile(f.FullPath)
		if err != nil {
			continue
		}

		if f.Language == "go" {
			result, err := goParser.ParseFile(ctx, orgID, repoID, indexVersion, f.Path, content)
			if err != nil {
				continue
			}
			allEntities = append(allEntities, result.Entities...)
			allEdges = append(allEdges, result.Edges...)
			unresolved = append(unresolved, result.UnresolvedCalls...)
			res.FilesParsed++
			continue
		}

		allEntities = append(allEntities, ParseFallback(orgID, repoID, indexVersion, f.Path, f.Language, content))
		res.FilesFallback++
	}

	allEdges = append(allEdges, ResolveCrossFile(allEntities, unresolved)...)

	if err := ix.Graph.UpsertEntities(ctx, orgID, repoID, allEntities); err != nil {
		return res, fmt.Errorf("indexer: upsert entities: %w", err)
	}
	if err := ix.Graph.UpsertEdges(ctx, orgID, repoID, allEdges); err != nil {
		return res, fmt.Errorf("indexer: upsert edges: %w", err)
	}
	res.EntitiesWritten = len(allEntities)
	res.EdgesWritten = len(allEdges)
	return res, nil
}

// resolveWorkspacePath joins a workspace root with a repo-relative path,
// rejecting any ".." escape attempt the way pkg/ingestion/repo_loader.go's
// validateLocalPath guards against path traversal outside the clone.
func resolveWorkspacePath(root, rel string) (string, error) {
	joined := filepath.Join(root, rel)
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("indexer: path %q escapes workspace", rel)
	}
	return joined, nil
}
