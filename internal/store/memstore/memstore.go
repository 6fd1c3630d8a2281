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

// Package memstore implements every internal/store port in memory, for use
// in tests and in single-process demo runs. It favors clarity over
// efficiency: full scans and copy-on-read, guarded by a single mutex per
// store, matching the teacher's MockProvider style of straightforward
// in-memory fakes over production adapters.
package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/store"
)

type tenantKey struct {
	orgID, repoID string
}

// GraphStore is an in-memory store.GraphStore.
type GraphStore struct {
	mu       sync.RWMutex
	entities map[tenantKey]map[string]model.CodeEntity
	edges    map[tenantKey]map[string]model.CodeEdge
}

// NewGraphStore returns an empty in-memory GraphStore.
func NewGraphStore() *GraphStore {
	return &GraphStore{
		entities: make(map[tenantKey]map[string]model.CodeEntity),
		edges:    make(map[tenantKey]map[string]model.CodeEdge),
	}
}

func (g *GraphStore) UpsertEntities(ctx context.Context, orgID, repoID string, entities []model.CodeEntity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	tk := tenantKey{orgID, repoID}
	bucket, ok := g.entities[tk]
	if !ok {
		bucket = make(map[string]model.CodeEntity)
		g.entities[tk] = bucket
	}
	for _, e := range entities {
		bucket[e.Key] = e
	}
	return nil
}

func (g *GraphStore) UpsertEdges(ctx context.Context, orgID, repoID string, edges []model.CodeEdge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	tk := tenantKey{orgID, repoID}
	bucket, ok := g.edges[tk]
	if !ok {
		bucket = make(map[string]model.CodeEdge)
		g.edges[tk] = bucket
	}
	for _, e := range edges {
		bucket[e.Key] = e
	}
	return nil
}

func (g *GraphStore) EntitiesByVersion(ctx context.Context, orgID, repoID, indexVersion string) ([]model.CodeEntity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []model.CodeEntity
	for _, e := range g.entities[tenantKey{orgID, repoID}] {
		if e.IndexVersion == indexVersion {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (g *GraphStore) EdgesByVersion(ctx context.Context, orgID, repoID, indexVersion string) ([]model.CodeEdge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []model.CodeEdge
	for _, e := range g.edges[tenantKey{orgID, repoID}] {
		if e.IndexVersion == indexVersion {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// DeleteOlderVersions removes entities/edges not stamped keepVersion,
// implementing the shadow-swap finalize (§4.1 step 4, invariant 2 §8).
func (g *GraphStore) DeleteOlderVersions(ctx context.Context, orgID, repoID, keepVersion string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	tk := tenantKey{orgID, repoID}
	for k, e := range g.entities[tk] {
		if e.IndexVersion != keepVersion {
			delete(g.entities[tk], k)
		}
	}
	for k, e := range g.edges[tk] {
		if e.IndexVersion != keepVersion {
			delete(g.edges[tk], k)
		}
	}
	return nil
}

func (g *GraphStore) UpdateAnalytics(ctx context.Context, orgID, repoID string, annotations []store.EntityAnnotation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	bucket := g.entities[tenantKey{orgID, repoID}]
	if bucket == nil {
		return nil
	}
	for _, a := range annotations {
		e, ok := bucket[a.Key]
		if !ok {
			continue
		}
		e.FanIn = a.FanIn
		e.FanOut = a.FanOut
		e.RiskLevel = a.RiskLevel
		e.CommunityID = a.CommunityID
		e.PageRank = a.PageRank
		e.PageRankPctl = a.PageRankPctl
		bucket[a.Key] = e
	}
	return nil
}

func (g *GraphStore) EntityByKey(ctx context.Context, orgID, repoID, key string) (*model.CodeEntity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entities[tenantKey{orgID, repoID}][key]
	if !ok {
		return nil, fmt.Errorf("memstore: entity %q not found", key)
	}
	return &e, nil
}

func (g *GraphStore) Neighbors(ctx context.Context, orgID, repoID, key string, kinds []model.EdgeKind, direction store.Direction) ([]model.CodeEdge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	kindSet := make(map[model.EdgeKind]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
	}
	var out []model.CodeEdge
	for _, e := range g.edges[tenantKey{orgID, repoID}] {
		if len(kindSet) > 0 && !kindSet[e.EdgeKind] {
			continue
		}
		switch direction {
		case store.DirectionOut:
			if e.FromKey == key {
				out = append(out, e)
			}
		case store.DirectionIn:
			if e.ToKey == key {
				out = append(out, e)
			}
		default:
			if e.FromKey == key || e.ToKey == key {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (g *GraphStore) Close() error { return nil }

// RelationalStore is an in-memory store.RelationalStore.
type RelationalStore struct {
	mu             sync.RWMutex
	repos          map[tenantKey]model.Repo
	runs           map[tenantKey]map[string]model.PipelineRun
	justifications map[tenantKey]map[string][]model.Justification // sorted by ValidFrom asc
	ontologies     map[tenantKey]model.DomainOntology
	featureAggs    map[tenantKey][]model.FeatureAggregation
	healthReports  map[tenantKey]model.HealthReport
	rules          map[tenantKey][]model.Rule
	patterns       map[tenantKey][]model.Pattern
	ledger         []model.LedgerEntry
	snapshots      map[tenantKey]model.GraphSnapshot
}

// NewRelationalStore returns an empty in-memory RelationalStore.
func NewRelationalStore() *RelationalStore {
	return &RelationalStore{
		repos:          make(map[tenantKey]model.Repo),
		runs:           make(map[tenantKey]map[string]model.PipelineRun),
		justifications: make(map[tenantKey]map[string][]model.Justification),
		ontologies:     make(map[tenantKey]model.DomainOntology),
		featureAggs:    make(map[tenantKey][]model.FeatureAggregation),
		healthReports:  make(map[tenantKey]model.HealthReport),
		rules:          make(map[tenantKey][]model.Rule),
		patterns:       make(map[tenantKey][]model.Pattern),
		snapshots:      make(map[tenantKey]model.GraphSnapshot),
	}
}

func (r *RelationalStore) GetRepo(ctx context.Context, orgID, repoID string) (*model.Repo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	repo, ok := r.repos[tenantKey{orgID, repoID}]
	if !ok {
		return nil, fmt.Errorf("memstore: repo %s/%s not found", orgID, repoID)
	}
	return &repo, nil
}

func (r *RelationalStore) PutRepo(ctx context.Context, repo *model.Repo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repos[tenantKey{repo.OrgID, repo.RepoID}] = *repo
	return nil
}

func (r *RelationalStore) CreatePipelineRun(ctx context.Context, run *model.PipelineRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tk := tenantKey{run.OrgID, run.RepoID}
	if r.runs[tk] == nil {
		r.runs[tk] = make(map[string]model.PipelineRun)
	}
	r.runs[tk][run.RunID] = *run
	return nil
}

func (r *RelationalStore) UpdatePipelineRun(ctx context.Context, run *model.PipelineRun) error {
	return r.CreatePipelineRun(ctx, run)
}

func (r *RelationalStore) GetPipelineRun(ctx context.Context, orgID, repoID, runID string) (*model.PipelineRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[tenantKey{orgID, repoID}][runID]
	if !ok {
		return nil, fmt.Errorf("memstore: run %s not found", runID)
	}
	return &run, nil
}

// PutJustifications closes any existing current row per entity and inserts
// the new ones as current, implementing the bi-temporal write of §4.7.12.
func (r *RelationalStore) PutJustifications(ctx context.Context, orgID, repoID string, js []model.Justification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tk := tenantKey{orgID, repoID}
	if r.justifications[tk] == nil {
		r.justifications[tk] = make(map[string][]model.Justification)
	}
	now := js0Now(js)
	for _, j := range js {
		hist := r.justifications[tk][j.EntityKey]
		for i := range hist {
			if hist[i].IsCurrent() {
				hist[i].ValidTo = now
			}
		}
		hist = append(hist, j)
		r.justifications[tk][j.EntityKey] = hist
	}
	return nil
}

// js0Now picks ValidFrom of the first incoming row as "now" for closing
// prior current rows, avoiding a call to time.Now (deterministic tests).
func js0Now(js []model.Justification) time.Time {
	if len(js) == 0 {
		return time.Time{}
	}
	return js[0].ValidFrom
}

func (r *RelationalStore) CurrentJustification(ctx context.Context, orgID, repoID, entityKey string) (*model.Justification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hist := r.justifications[tenantKey{orgID, repoID}][entityKey]
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].IsCurrent() {
			j := hist[i]
			return &j, nil
		}
	}
	return nil, fmt.Errorf("memstore: no current justification for %s", entityKey)
}

func (r *RelationalStore) JustificationAsOf(ctx context.Context, orgID, repoID, entityKey string, at time.Time) (*model.Justification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hist := r.justifications[tenantKey{orgID, repoID}][entityKey]
	for _, j := range hist {
		if !at.Before(j.ValidFrom) && at.Before(j.ValidTo) {
			jj := j
			return &jj, nil
		}
	}
	return nil, fmt.Errorf("memstore: no justification for %s as of %s", entityKey, at)
}

func (r *RelationalStore) PutOntology(ctx context.Context, ont *model.DomainOntology) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ontologies[tenantKey{ont.OrgID, ont.RepoID}] = *ont
	return nil
}

func (r *RelationalStore) GetOntology(ctx context.Context, orgID, repoID string) (*model.DomainOntology, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ont, ok := r.ontologies[tenantKey{orgID, repoID}]
	if !ok {
		return nil, fmt.Errorf("memstore: ontology for %s/%s not found", orgID, repoID)
	}
	return &ont, nil
}

func (r *RelationalStore) PutFeatureAggregations(ctx context.Context, orgID, repoID string, aggs []model.FeatureAggregation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.featureAggs[tenantKey{orgID, repoID}] = aggs
	return nil
}

func (r *RelationalStore) PutHealthReport(ctx context.Context, report *model.HealthReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthReports[tenantKey{report.OrgID, report.RepoID}] = *report
	return nil
}

func (r *RelationalStore) GetHealthReport(ctx context.Context, orgID, repoID string) (*model.HealthReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	report, ok := r.healthReports[tenantKey{orgID, repoID}]
	if !ok {
		return nil, fmt.Errorf("memstore: health report for %s/%s not found", orgID, repoID)
	}
	return &report, nil
}

func (r *RelationalStore) PutRules(ctx context.Context, orgID, repoID string, rules []model.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[tenantKey{orgID, repoID}] = rules
	return nil
}

func (r *RelationalStore) ActiveRules(ctx context.Context, orgID, repoID string) ([]model.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Rule
	for _, rule := range r.rules[tenantKey{orgID, repoID}] {
		if rule.Status == model.RuleStatusActive {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *RelationalStore) PutPatterns(ctx context.Context, orgID, repoID string, patterns []model.Pattern) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns[tenantKey{orgID, repoID}] = patterns
	return nil
}

func (r *RelationalStore) AppendLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger = append(r.ledger, *entry)
	return nil
}

func (r *RelationalStore) PutSnapshotMeta(ctx context.Context, snap *model.GraphSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[tenantKey{snap.OrgID, snap.RepoID}] = *snap
	return nil
}

func (r *RelationalStore) GetSnapshotMeta(ctx context.Context, orgID, repoID string) (*model.GraphSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[tenantKey{orgID, repoID}]
	if !ok {
		return nil, fmt.Errorf("memstore: snapshot for %s/%s not found", orgID, repoID)
	}
	return &snap, nil
}

func (r *RelationalStore) Close() error { return nil }

// VectorSearch is an in-memory brute-force store.VectorSearch: cosine
// distance over a linear scan, adequate for tests and small demo repos.
type VectorSearch struct {
	mu   sync.RWMutex
	vecs map[tenantKey]map[model.EmbeddingVariant]map[string][]float32
}

// NewVectorSearch returns an empty in-memory VectorSearch.
func NewVectorSearch() *VectorSearch {
	return &VectorSearch{vecs: make(map[tenantKey]map[model.EmbeddingVariant]map[string][]float32)}
}

func (v *VectorSearch) Upsert(ctx context.Context, embeddings []model.Embedding) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, e := range embeddings {
		tk := tenantKey{e.OrgID, e.RepoID}
		if v.vecs[tk] == nil {
			v.vecs[tk] = make(map[model.EmbeddingVariant]map[string][]float32)
		}
		if v.vecs[tk][e.Variant] == nil {
			v.vecs[tk][e.Variant] = make(map[string][]float32)
		}
		v.vecs[tk][e.Variant][e.EntityKey] = e.Vector
	}
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (v *VectorSearch) Search(ctx context.Context, orgID, repoID string, variant model.EmbeddingVariant, query []float32, k int) ([]store.SearchHit, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	bucket := v.vecs[tenantKey{orgID, repoID}][variant]
	hits := make([]store.SearchHit, 0, len(bucket))
	for key, vec := range bucket {
		hits = append(hits, store.SearchHit{EntityKey: key, Score: cosine(query, vec)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (v *VectorSearch) Orphans(ctx context.Context, orgID, repoID string, variant model.EmbeddingVariant, liveKeys []string) ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	bucket := v.vecs[tenantKey{orgID, repoID}][variant]
	live := make(map[string]bool, len(liveKeys))
	for _, k := range liveKeys {
		live[k] = true
	}
	var orphans []string
	for key := range bucket {
		if !live[key] {
			orphans = append(orphans, key)
		}
	}
	sort.Strings(orphans)
	return orphans, nil
}

func (v *VectorSearch) DeleteByKeys(ctx context.Context, orgID, repoID string, keys []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	tk := tenantKey{orgID, repoID}
	for variant, bucket := range v.vecs[tk] {
		for _, k := range keys {
			delete(bucket, k)
		}
		v.vecs[tk][variant] = bucket
	}
	return nil
}

// CacheStore is an in-memory store.CacheStore: locks via a guarded map,
// pub/sub via buffered channels fanned out synchronously under the lock.
type CacheStore struct {
	mu    sync.Mutex
	data  map[string]cacheEntry
	subs  map[string][]chan []byte
}

type cacheEntry struct {
	value   string
	expires time.Time
}

// NewCacheStore returns an empty in-memory CacheStore.
func NewCacheStore() *CacheStore {
	return &CacheStore{data: make(map[string]cacheEntry), subs: make(map[string][]chan []byte)}
}

func (c *CacheStore) SetIfAbsent(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.data[key]; ok && time.Now().Before(e.expires) {
		return false, nil
	}
	c.data[key] = cacheEntry{value: value, expires: time.Now().Add(ttl)}
	return true, nil
}

func (c *CacheStore) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok || !time.Now().Before(e.expires) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *CacheStore) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *CacheStore) Publish(ctx context.Context, channel string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (c *CacheStore) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan []byte, 16)
	c.subs[channel] = append(c.subs[channel], ch)
	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.subs[channel]
		for i, existing := range subs {
			if existing == ch {
				c.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, cancel, nil
}

func (c *CacheStore) Close() error { return nil }

// ObjectStore is an in-memory store.ObjectStore.
type ObjectStore struct {
	mu   sync.RWMutex
	blobs map[string][]byte
}

// NewObjectStore returns an empty in-memory ObjectStore.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{blobs: make(map[string][]byte)}
}

func (o *ObjectStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := make([]byte, len(body))
	copy(cp, body)
	o.blobs[key] = cp
	return nil
}

func (o *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	b, ok := o.blobs[key]
	if !ok {
		return nil, fmt.Errorf("memstore: object %q not found", key)
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

func (o *ObjectStore) Delete(ctx context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.blobs, key)
	return nil
}

// GitHost is a scripted in-memory store.GitHost: a test preloads
// Acquire/ChangedFiles responses rather than this fake shelling out to a
// real git binary, the same scripted-fixture style the teacher's own
// MockProvider uses for external dependencies it won't hit in a unit test.
type GitHost struct {
	mu sync.Mutex

	// AcquireWorkspace and AcquireSHA are returned verbatim from every
	// Acquire call unless AcquireErr is set.
	AcquireWorkspace string
	AcquireSHA       string
	AcquireErr       error
	AcquireCalls     int

	// ChangedFilesResult is returned verbatim from every ChangedFiles call
	// unless ChangedFilesErr is set.
	ChangedFilesResult []string
	ChangedFilesErr    error
}

// NewGitHost returns a GitHost fake that resolves every Acquire to
// workspace/sha until reconfigured.
func NewGitHost(workspace, sha string) *GitHost {
	return &GitHost{AcquireWorkspace: workspace, AcquireSHA: sha}
}

func (g *GitHost) Acquire(ctx context.Context, repoURL, ref string) (string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.AcquireCalls++
	if g.AcquireErr != nil {
		return "", "", g.AcquireErr
	}
	return g.AcquireWorkspace, g.AcquireSHA, nil
}

func (g *GitHost) ChangedFiles(ctx context.Context, workspacePath, fromSHA, toSHA string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ChangedFilesErr != nil {
		return nil, g.ChangedFilesErr
	}
	return g.ChangedFilesResult, nil
}

var _ store.GitHost = (*GitHost)(nil)
