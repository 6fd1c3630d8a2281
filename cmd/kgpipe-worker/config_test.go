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

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig(\"\") returned error: %v", err)
	}
	want := defaultConfig()
	if cfg != want {
		t.Fatalf("loadConfig(\"\") = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadConfig_OverridesOnlyProvidedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.yaml")
	body := []byte("http_addr: \":9100\"\nconcurrency: 8\nllm:\n  type: openai\n  api_key: sk-test\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig(%q) returned error: %v", path, err)
	}

	if cfg.HTTPAddr != ":9100" {
		t.Errorf("HTTPAddr = %q, want :9100", cfg.HTTPAddr)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8", cfg.Concurrency)
	}
	if cfg.LLM.Type != "openai" || cfg.LLM.APIKey != "sk-test" {
		t.Errorf("LLM = %+v, want type=openai api_key=sk-test", cfg.LLM)
	}
	// Fields absent from the file keep their default values.
	if cfg.Relational.DSN != defaultConfig().Relational.DSN {
		t.Errorf("Relational.DSN = %q, want default preserved", cfg.Relational.DSN)
	}
}

func TestLoadConfig_MissingFileErrors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestSplitRepoPath(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"/repos/acme/widgets/status", []string{"acme", "widgets", "status"}},
		{"/repos/acme/widgets/index", []string{"acme", "widgets", "index"}},
		{"/repos/", nil},
	}
	for _, tt := range tests {
		got := splitRepoPath(tt.path)
		if len(got) != len(tt.want) {
			t.Errorf("splitRepoPath(%q) = %v, want %v", tt.path, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("splitRepoPath(%q) = %v, want %v", tt.path, got, tt.want)
				break
			}
		}
	}
}
