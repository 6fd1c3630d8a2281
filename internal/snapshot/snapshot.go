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

// Package snapshot implements the "snapshot" pipeline step (§4.8/§6.3): it
// serializes a repo's current entities/edges as chunked msgpack, checksums
// the result, and uploads it through store.ObjectStore so a downstream
// consumer (an IDE plugin, a CLI) can pull the whole graph in one fetch
// instead of paging the relational/graph store directly.
package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
)

// ChunkSize bounds how many entities or edges are encoded per msgpack
// chunk, keeping any single encode/decode call's memory footprint bounded
// regardless of repo size.
const ChunkSize = 500

// chunkEnvelope is one length-prefixed section of the snapshot body.
type chunkEnvelope struct {
	Kind  string `msgpack:"kind"`
	Items msgpack.RawMessage `msgpack:"items"`
}

// Exporter builds and uploads graph snapshots.
type Exporter struct {
	Graph      store.GraphStore
	Objects    store.ObjectStore
	Relational store.RelationalStore
	Now        func() time.Time
}

// NewExporter returns an Exporter wired to the given store ports.
func NewExporter(graph store.GraphStore, objects store.ObjectStore, relational store.RelationalStore) *Exporter {
	return &Exporter{Graph: graph, Objects: objects, Relational: relational, Now: time.Now}
}

// ObjectKey computes the deterministic storage key a snapshot for
// orgID/repoID/indexVersion is uploaded and later fetched under.
func ObjectKey(orgID, repoID, indexVersion string) string {
	return fmt.Sprintf("snapshots/%s/%s/%s.msgpack", orgID, repoID, indexVersion)
}

// Export loads every entity and edge for indexVersion, serializes them as
// a sequence of length-prefixed msgpack chunks, uploads the result, and
// persists the resulting model.GraphSnapshot metadata row (§4.8). The
// chunking lets a consumer stream-decode without holding the whole
// payload in memory, the same reasoning the teacher's own batching
// (pkg/ingestion/batcher.go) applies to LLM request bodies.
func (e *Exporter) Export(ctx context.Context, orgID, repoID, indexVersion string) (model.GraphSnapshot, error) {
	snap := model.GraphSnapshot{OrgID: orgID, RepoID: repoID, Status: model.SnapshotGenerating, GeneratedAt: e.Now()}
	if err := e.Relational.PutSnapshotMeta(ctx, &snap); err != nil {
		return snap, fmt.Errorf("snapshot: record generating: %w", err)
	}

	entities, err := e.Graph.EntitiesByVersion(ctx, orgID, repoID, indexVersion)
	if err != nil {
		return e.fail(ctx, snap, fmt.Errorf("snapshot: load entities: %w", err))
	}
	edges, err := e.Graph.EdgesByVersion(ctx, orgID, repoID, indexVersion)
	if err != nil {
		return e.fail(ctx, snap, fmt.Errorf("snapshot: load edges: %w", err))
	}

	var body bytes.Buffer
	if err := writeChunks(&body, "entity", len(entities), func(start, end int) (any, error) {
		return entities[start:end], nil
	}); err != nil {
		return e.fail(ctx, snap, err)
	}
	if err := writeChunks(&body, "edge", len(edges), func(start, end int) (any, error) {
		return edges[start:end], nil
	}); err != nil {
		return e.fail(ctx, snap, err)
	}

	sum := sha256.Sum256(body.Bytes())
	checksum := hex.EncodeToString(sum[:])

	key := ObjectKey(orgID, repoID, indexVersion)
	if err := e.Objects.Put(ctx, key, body.Bytes(), "application/msgpack"); err != nil {
		return e.fail(ctx, snap, fmt.Errorf("snapshot: upload: %w", err))
	}

	snap.Checksum = checksum
	snap.SizeBytes = int64(body.Len())
	snap.EntityCount = len(entities)
	snap.EdgeCount = len(edges)
	snap.Status = model.SnapshotAvailable
	snap.GeneratedAt = e.Now()
	if err := e.Relational.PutSnapshotMeta(ctx, &snap); err != nil {
		return snap, fmt.Errorf("snapshot: record available: %w", err)
	}
	return snap, nil
}

func (e *Exporter) fail(ctx context.Context, snap model.GraphSnapshot, cause error) (model.GraphSnapshot, error) {
	snap.Status = model.SnapshotFailed
	_ = e.Relational.PutSnapshotMeta(ctx, &snap)
	return snap, cause
}

// writeChunks msgpack-encodes total items in batches of ChunkSize under
// kind, each chunk preceded by a 4-byte big-endian length so a reader can
// seek past chunks it doesn't need without decoding them.
func writeChunks(w *bytes.Buffer, kind string, total int, slice func(start, end int) (any, error)) error {
	for start := 0; start < total || (total == 0 && start == 0); start += ChunkSize {
		end := start + ChunkSize
		if end > total {
			end = total
		}
		items, err := slice(start, end)
		if err != nil {
			return err
		}
		itemsRaw, err := msgpack.Marshal(items)
		if err != nil {
			return fmt.Errorf("snapshot: marshal %s chunk: %w", kind, err)
		}
		envelope := chunkEnvelope{Kind: kind, Items: itemsRaw}
		chunkBytes, err := msgpack.Marshal(envelope)
		if err != nil {
			return fmt.Errorf("snapshot: marshal %s envelope: %w", kind, err)
		}
		var lenPrefix [4]byte
		binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(chunkBytes)))
		w.Write(lenPrefix[:])
		w.Write(chunkBytes)
		if total == 0 {
			break
		}
	}
	return nil
}

// ReadChunks decodes a snapshot body produced by Export back into its
// entity and edge chunks, invoking onChunk once per length-prefixed
// section in upload order.
func ReadChunks(body []byte, onChunk func(kind string, raw msgpack.RawMessage) error) error {
	r := bytes.NewReader(body)
	for r.Len() > 0 {
		var lenPrefix [4]byte
		if _, err := r.Read(lenPrefix[:]); err != nil {
			return fmt.Errorf("snapshot: read chunk length: %w", err)
		}
		n := binary.BigEndian.Uint32(lenPrefix[:])
		chunkBytes := make([]byte, n)
		if _, err := r.Read(chunkBytes); err != nil {
			return fmt.Errorf("snapshot: read chunk body: %w", err)
		}
		var envelope chunkEnvelope
		if err := msgpack.Unmarshal(chunkBytes, &envelope); err != nil {
			return fmt.Errorf("snapshot: unmarshal envelope: %w", err)
		}
		if err := onChunk(envelope.Kind, envelope.Items); err != nil {
			return err
		}
	}
	return nil
}

// VerifyChecksum recomputes the SHA-256 of body and compares it against
// want, guarding a consumer against a truncated or corrupted download.
func VerifyChecksum(body []byte, want string) bool {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]) == want
}
