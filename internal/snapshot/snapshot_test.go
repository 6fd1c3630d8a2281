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

package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store/memstore"
)

func sha256Hex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func seedGraph(t *testing.T, graph *memstore.GraphStore, entityCount int) {
	t.Helper()
	var entities []model.CodeEntity
	for i := 0; i < entityCount; i++ {
		entities = append(entities, model.CodeEntity{
			Key:          fmt.Sprintf("entity-%d", i),
			OrgID:        "org",
			RepoID:       "repo",
			Kind:         model.KindFunction,
			Name:         fmt.Sprintf("Fn%d", i),
			IndexVersion: "v1",
		})
	}
	require.NoError(t, graph.UpsertEntities(context.Background(), "org", "repo", entities))
}

func TestExporter_Export_RoundTripsThroughObjectStore(t *testing.T) {
	graph := memstore.NewGraphStore()
	seedGraph(t, graph, 3)
	objects := memstore.NewObjectStore()
	relational := memstore.NewRelationalStore()

	exp := NewExporter(graph, objects, relational)
	exp.Now = fixedClock(time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC))

	snap, err := exp.Export(context.Background(), "org", "repo", "v1")
	require.NoError(t, err)
	assert.Equal(t, model.SnapshotAvailable, snap.Status)
	assert.Equal(t, 3, snap.EntityCount)
	assert.Equal(t, 0, snap.EdgeCount)
	assert.NotEmpty(t, snap.Checksum)
	assert.Greater(t, snap.SizeBytes, int64(0))

	stored, err := relational.GetSnapshotMeta(context.Background(), "org", "repo")
	require.NoError(t, err)
	assert.Equal(t, snap.Checksum, stored.Checksum)

	body, err := objects.Get(context.Background(), ObjectKey("org", "repo", "v1"))
	require.NoError(t, err)
	assert.True(t, VerifyChecksum(body, snap.Checksum))

	var sawEntities int
	err = ReadChunks(body, func(kind string, raw msgpack.RawMessage) error {
		if kind != "entity" {
			return nil
		}
		var chunk []model.CodeEntity
		if err := msgpack.Unmarshal(raw, &chunk); err != nil {
			return err
		}
		sawEntities += len(chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, sawEntities)
}

func TestExporter_Export_ChunksAcrossBoundary(t *testing.T) {
	graph := memstore.NewGraphStore()
	seedGraph(t, graph, ChunkSize+10)
	objects := memstore.NewObjectStore()
	relational := memstore.NewRelationalStore()

	exp := NewExporter(graph, objects, relational)
	snap, err := exp.Export(context.Background(), "org", "repo", "v1")
	require.NoError(t, err)
	assert.Equal(t, ChunkSize+10, snap.EntityCount)

	body, err := objects.Get(context.Background(), ObjectKey("org", "repo", "v1"))
	require.NoError(t, err)

	var chunkCount int
	var total int
	err = ReadChunks(body, func(kind string, raw msgpack.RawMessage) error {
		if kind != "entity" {
			return nil
		}
		chunkCount++
		var chunk []model.CodeEntity
		if err := msgpack.Unmarshal(raw, &chunk); err != nil {
			return err
		}
		total += len(chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, chunkCount)
	assert.Equal(t, ChunkSize+10, total)
}

func TestExporter_Export_EmptyGraphProducesValidEmptySnapshot(t *testing.T) {
	graph := memstore.NewGraphStore()
	objects := memstore.NewObjectStore()
	relational := memstore.NewRelationalStore()

	exp := NewExporter(graph, objects, relational)
	snap, err := exp.Export(context.Background(), "org", "repo", "v1")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.EntityCount)
	assert.Equal(t, 0, snap.EdgeCount)
	assert.Equal(t, model.SnapshotAvailable, snap.Status)
}

func TestVerifyChecksum_DetectsCorruption(t *testing.T) {
	body := []byte("some snapshot bytes")
	sum := sha256Hex(body)
	assert.True(t, VerifyChecksum(body, sum))
	assert.False(t, VerifyChecksum(append(body, 'x'), sum))
}
