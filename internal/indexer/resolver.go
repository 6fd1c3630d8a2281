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
	"sort"

	"github.com/kraklabs/kgpipe/internal/model"
)

// ResolveCrossFile settles the UnresolvedCall list every GoParser.ParseFile
// call returns for calls whose callee isn't declared in the same file, by
// matching on simple name against every function/method entity discovered
// across the whole repo (pkg/ingestion/resolver.go's cross-file resolution
// pass, generalized from the teacher's global ID-index to this package's
// per-repo entity set). A name matching more than one entity is left
// unresolved rather than guessed at, since a wrong edge would corrupt
// fan-in/out and therefore risk classification and PageRank.
func ResolveCrossFile(entities []model.CodeEntity, unresolved []UnresolvedCall) []model.CodeEdge {
	byName := make(map[string][]model.CodeEntity)
	for _, e := range entities {
		if e.Kind != model.KindFunction && e.Kind != model.KindMethod {
			continue
		}
		simple := simpleName(e.Name)
		byName[simple] = append(byName[simple], e)
	}

	var edges []model.CodeEdge
	for _, uc := range unresolved {
		candidates := byName[uc.CalleeName]
		if len(candidates) != 1 {
			continue
		}
		callee := candidates[0]
		edges = append(edges, model.CodeEdge{
			OrgID:        callee.OrgID,
			RepoID:       callee.RepoID,
			FromKey:      uc.CallerKey,
			ToKey:        callee.Key,
			EdgeKind:     model.EdgeCalls,
			Key:          model.EdgeKeyFor(uc.CallerKey, callee.Key, model.EdgeCalls),
			IndexVersion: callee.IndexVersion,
		})
	}

	sort.Slice(edges, func(i, j int) bool { return edges[i].Key < edges[j].Key })
	return edges
}

// simpleName strips a "Receiver.Method" qualifier down to "Method", the
// form a bare call-site reference (recv.Method()) resolves against.
func simpleName(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i+1:]
		}
	}
	return name
}
