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

// Package main implements kgpipe-worker, the long-running service that
// drives the Repository Indexing & Knowledge-Graph Pipeline end to end:
// it wires every store adapter to internal/orchestrator, hands the result
// to internal/store/workflow's bounded worker pool, and exposes a small
// HTTP surface for webhook-triggered and manual re-index signals plus
// Prometheus metrics, mirroring the way cmd/cie/index.go starts an
// optional metrics listener and cmd/cie/start.go polls a health endpoint
// before declaring the service up.
//
// Usage:
//
//	kgpipe-worker --config /etc/kgpipe/worker.yaml
//	kgpipe-worker --org acme --config worker.yaml
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kraklabs/kgpipe/internal/contract"
	"github.com/kraklabs/kgpipe/internal/embedding"
	"github.com/kraklabs/kgpipe/internal/errors"
	"github.com/kraklabs/kgpipe/internal/githost"
	"github.com/kraklabs/kgpipe/internal/llm"
	"github.com/kraklabs/kgpipe/internal/model"
	"github.com/kraklabs/kgpipe/internal/orchestrator"
	"github.com/kraklabs/kgpipe/internal/output"
	"github.com/kraklabs/kgpipe/internal/store"
	"github.com/kraklabs/kgpipe/internal/store/cache"
	"github.com/kraklabs/kgpipe/internal/store/graphdb"
	"github.com/kraklabs/kgpipe/internal/store/objectstore"
	"github.com/kraklabs/kgpipe/internal/store/pattern"
	"github.com/kraklabs/kgpipe/internal/store/relational"
	"github.com/kraklabs/kgpipe/internal/store/vectorsearch"
	"github.com/kraklabs/kgpipe/internal/store/workflow"
	"github.com/kraklabs/kgpipe/internal/ui"
)

func main() {
	configPath := flag.String("config", "", "Path to worker.yaml (defaults to local single-node settings)")
	orgID := flag.String("org", "default", "Tenant org_id this worker instance serves")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ui.Header("Starting kgpipe-worker")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Cannot load worker configuration",
			err.Error(),
			"Check the --config path and YAML syntax",
			err,
		), false)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := buildServer(ctx, *orgID, cfg, logger)
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"Cannot start kgpipe-worker",
			err.Error(),
			"Check connectivity to Postgres, Redis, the object store, and the LLM/embedding endpoints",
			err,
		), false)
	}
	defer srv.Close()
	ui.Success("Stores connected")

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
			logger.Info("metrics.http.start", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics.http.error", "err", err)
			}
		}()
	}

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.routes()}
	go func() {
		logger.Info("worker.http.start", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("worker.http.error", "err", err)
		}
	}()
	ui.Success(fmt.Sprintf("kgpipe-worker is up, serving org %q on %s", *orgID, cfg.HTTPAddr))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutdown.signal", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	cancel()
}

// server holds every live store connection and the workflow engine that
// drives indexing runs, plus the http.ServeMux wiring them to the
// webhook/manual-trigger/status endpoints.
type server struct {
	relational store.RelationalStore
	engine     *workflow.Engine
	orgID      string
}

func buildServer(ctx context.Context, orgID string, cfg Config, logger *slog.Logger) (*server, error) {
	rel, err := relational.New(ctx, cfg.Relational.DSN)
	if err != nil {
		return nil, fmt.Errorf("relational store: %w", err)
	}

	graph, err := graphdb.New(graphdb.Config{DataDir: cfg.Graph.DataDir, Engine: cfg.Graph.Engine, OrgID: orgID})
	if err != nil {
		return nil, fmt.Errorf("graph store: %w", err)
	}

	vector, err := vectorsearch.New(vectorsearch.Config{DataDir: cfg.Vector.DataDir, Engine: cfg.Vector.Engine, OrgID: orgID})
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}

	cacheStore, err := cache.New(cfg.Cache.URL)
	if err != nil {
		return nil, fmt.Errorf("cache store: %w", err)
	}

	objects, err := objectstore.New(ctx, objectstore.Config{
		Endpoint:        cfg.Objects.Endpoint,
		Region:          cfg.Objects.Region,
		AccessKeyID:     cfg.Objects.AccessKeyID,
		SecretAccessKey: cfg.Objects.SecretAccessKey,
		Bucket:          cfg.Objects.Bucket,
	})
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}

	provider, err := llm.NewProvider(llm.ProviderConfig{
		Type:         cfg.LLM.Type,
		BaseURL:      cfg.LLM.BaseURL,
		APIKey:       cfg.LLM.APIKey,
		DefaultModel: cfg.LLM.DefaultModel,
	})
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	llmAdapter := llm.NewAdapter(provider)

	embedder := embedding.NewOllamaEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.Model)
	patterns := pattern.New()
	git := githost.New()

	orch := orchestrator.New(rel, graph, vector, objects, git, llmAdapter, patterns, embedder.Embed)
	engine := workflow.New(rel, cacheStore, orch.Runner(), cfg.Concurrency)

	logger.Info("worker.stores.ready", "org", orgID)
	return &server{relational: rel, engine: engine, orgID: orgID}, nil
}

func (s *server) Close() {
	_ = s.relational.Close()
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/webhooks/push", s.handleWebhookPush)
	mux.HandleFunc("/repos/", s.handleRepo)
	return mux
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// webhookPushRequest is the payload a git host's push webhook delivers.
// registerIfAbsent uses CloneURL/DefaultBranch to create the repo's first
// model.Repo row; later pushes only need OrgID/RepoID to resolve which
// tenant's debounce window to signal.
type webhookPushRequest struct {
	OrgID         string `json:"org_id"`
	RepoID        string `json:"repo_id"`
	CloneURL      string `json:"clone_url"`
	DefaultBranch string `json:"default_branch"`
}

func (s *server) handleWebhookPush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, int64(contract.SoftLimitBytes())+1))
	if err != nil {
		http.Error(w, fmt.Sprintf("read body: %v", err), http.StatusBadRequest)
		return
	}

	var req webhookPushRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if req.OrgID == "" || req.RepoID == "" {
		http.Error(w, "org_id and repo_id are required", http.StatusBadRequest)
		return
	}
	if result := contract.ValidateWebhookPayload(body, req.OrgID, req.RepoID); !result.OK {
		http.Error(w, result.Message, http.StatusRequestEntityTooLarge)
		return
	}

	ctx := r.Context()
	if err := s.registerIfAbsent(ctx, req); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.engine.Signal(ctx, req.OrgID, req.RepoID, store.SignalWebhookPush); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) registerIfAbsent(ctx context.Context, req webhookPushRequest) error {
	_, err := s.relational.GetRepo(ctx, req.OrgID, req.RepoID)
	if err == nil {
		return nil
	}

	branch := req.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	repo := &model.Repo{
		OrgID:         req.OrgID,
		RepoID:        req.RepoID,
		DefaultBranch: branch,
		Status:        model.StatusPending,
		ManifestData:  map[string]string{orchestrator.CloneURLKey: req.CloneURL},
	}
	return s.relational.PutRepo(ctx, repo)
}

// handleRepo serves GET /repos/{org}/{repo}/status and POST
// /repos/{org}/{repo}/index, the manual-trigger counterpart to the
// webhook path above.
func (s *server) handleRepo(w http.ResponseWriter, r *http.Request) {
	parts := splitRepoPath(r.URL.Path)
	if len(parts) < 3 {
		http.Error(w, "expected /repos/{org}/{repo}/{status|index}", http.StatusBadRequest)
		return
	}
	orgID, repoID, action := parts[0], parts[1], parts[2]

	switch {
	case action == "status" && r.Method == http.MethodGet:
		repo, err := s.relational.GetRepo(r.Context(), orgID, repoID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = output.JSONTo(w, repo)
	case action == "index" && r.Method == http.MethodPost:
		if err := s.engine.Signal(r.Context(), orgID, repoID, store.SignalManualIndex); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func splitRepoPath(path string) []string {
	trimmed := strings.TrimPrefix(path, "/repos/")
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
