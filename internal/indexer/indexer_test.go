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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store/memstore"
)

const sampleGo = `package sample

func Helper() int {
	return 1
}

func Main() {
	Helper()
}

type Service struct{}

func (s *Service) Run() {
	Helper()
}
`

func writeWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return dir
}

func TestWalkRepo_SkipsExcludedDirs(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{
		"main.go":            sampleGo,
		"vendor/dep/dep.go":  "package dep",
		"node_modules/x.js":  "console.log(1)",
	})
	files, err := WalkRepo(dir, 0)
	require.NoError(t, err)
	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	assert.Contains(t, paths, "main.go")
	assert.NotContains(t, paths, "vendor/dep/dep.go")
	assert.NotContains(t, paths, "node_modules/x.js")
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "go", DetectLanguage("a/b.go"))
	assert.Equal(t, "python", DetectLanguage("a/b.py"))
	assert.Equal(t, "", DetectLanguage("a/b.unknownext"))
}

func TestGoParser_ExtractsFunctionsMethodsTypesAndCalls(t *testing.T) {
	p := NewGoParser()
	defer p.Close()

	result, err := p.ParseFile(context.Background(), "org", "repo", "v1", "sample.go", []byte(sampleGo))
	require.NoError(t, err)
	assert.Equal(t, "sample", result.PackageName)

	var names []string
	for _, e := range result.Entities {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "Helper")
	assert.Contains(t, names, "Main")
	assert.Contains(t, names, "Service")
	assert.Contains(t, names, "Service.Run")

	var sawMainCallsHelper bool
	helperKey := ""
	for _, e := range result.Entities {
		if e.Name == "Helper" {
			helperKey = e.Key
		}
	}
	for _, edge := range result.Edges {
		if edge.ToKey == helperKey {
			sawMainCallsHelper = true
		}
	}
	assert.True(t, sawMainCallsHelper)
}

func TestIndexer_Index_WritesEntitiesAndEdges(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{
		"main.go":   sampleGo,
		"notes.txt": "just some notes",
	})
	gs := memstore.NewGraphStore()
	ix := New(gs)

	res, err := ix.Index(context.Background(), "org", "repo", "v1", dir)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesParsed)
	assert.Equal(t, 1, res.FilesFallback)
	assert.Greater(t, res.EntitiesWritten, 0)

	entities, err := gs.EntitiesByVersion(context.Background(), "org", "repo", "v1")
	require.NoError(t, err)
	assert.Greater(t, len(entities), 0)
}

func TestResolveCrossFile_MatchesUniqueSimpleName(t *testing.T) {
	entities := []model.CodeEntity{
		{Key: "callee", OrgID: "org", RepoID: "repo", Kind: model.KindFunction, Name: "DoThing", IndexVersion: "v1"},
	}
	unresolved := []UnresolvedCall{{CallerKey: "caller", CalleeName: "DoThing"}}

	edges := ResolveCrossFile(entities, unresolved)
	require.Len(t, edges, 1)
	assert.Equal(t, "callee", edges[0].ToKey)
	assert.Equal(t, "caller", edges[0].FromKey)
}

func TestResolveCrossFile_AmbiguousNameStaysUnresolved(t *testing.T) {
	entities := []model.CodeEntity{
		{Key: "a", OrgID: "org", RepoID: "repo", Kind: model.KindFunction, Name: "Run", IndexVersion: "v1"},
		{Key: "b", OrgID: "org", RepoID: "repo", Kind: model.KindMethod, Name: "Service.Run", IndexVersion: "v1"},
	}
	unresolved := []UnresolvedCall{{CallerKey: "caller", CalleeName: "Run"}}

	edges := ResolveCrossFile(entities, unresolved)
	assert.Empty(t, edges)
}
