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

// Package cozodb provides a Go binding for CozoDB v0.7.6+.
//
// CozoDB is a Datalog-based embedded database designed for graph queries
// and complex data relationships. kgpipe uses it as the GraphStore backing
// a tenant's knowledge graph: entities, edges, and the analytics write-back
// columns (fan-in/out, pagerank, community_id) computed by
// internal/graphanalytics.
//
// # Requirements
//
// This package requires CGO and the CozoDB C library (libcozo_c). Build with:
//
//	CGO_ENABLED=1 go build
//
// The library must be installed on the host:
//
//	# macOS (Homebrew)
//	brew install cozodb
//
//	# Linux
//	# See https://github.com/cozodb/cozo for installation
//
// You may need to set library paths:
//
//	export CGO_LDFLAGS="-L/path/to/libcozo_c"
//	export CGO_CFLAGS="-I/path/to/cozo_c.h"
//
// # Storage Engines
//
//   - "mem": in-memory, not persisted (tests, ephemeral demos)
//   - "sqlite": single-file persistence
//   - "rocksdb": best performance for production, used by default
//
// # Quick Start
//
//	db, err := cozodb.New("rocksdb", "/path/to/data", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	result, err := db.Run(`?[x] := x = 1 + 1`, nil)
//
// # Read-Only Queries
//
// RunReadOnly enforces read-only semantics at the database level, used by
// every query path that does not mutate the graph (internal/store/graphdb's
// EntityByKey, Neighbors, EntitiesByVersion, EdgesByVersion).
package cozodb
