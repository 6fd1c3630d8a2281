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

package llm

import (
	"context"
	"testing"
	"time"
)

func TestGenerateObject_ParsesPlainJSON(t *testing.T) {
	p := &MockProvider{
		ChatFunc: func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
			return &ChatResponse{
				Message: Message{Role: "assistant", Content: `{"risk_level": "high", "confidence": 0.82}`},
				Model:   "mock-model",
				Done:    true,
			}, nil
		},
	}

	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"risk_level": map[string]any{"type": "string"}},
	}
	result, err := GenerateObject(context.Background(), p, []Message{{Role: "user", Content: "classify this entity"}}, schema, "mock-model")
	if err != nil {
		t.Fatalf("GenerateObject error = %v", err)
	}
	if result.Data["risk_level"] != "high" {
		t.Errorf("expected risk_level=high, got %v", result.Data["risk_level"])
	}
}

func TestGenerateObject_StripsMarkdownFence(t *testing.T) {
	p := &MockProvider{
		ChatFunc: func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
			return &ChatResponse{
				Message: Message{Role: "assistant", Content: "```json\n{\"ok\": true}\n```"},
				Model:   "mock-model",
				Done:    true,
			}, nil
		},
	}
	result, err := GenerateObject(context.Background(), p, []Message{{Role: "user", Content: "x"}}, map[string]any{"type": "object"}, "mock-model")
	if err != nil {
		t.Fatalf("GenerateObject error = %v", err)
	}
	if result.Data["ok"] != true {
		t.Errorf("expected ok=true, got %v", result.Data["ok"])
	}
}

func TestGenerateObject_RetriesOnMalformedThenSucceeds(t *testing.T) {
	calls := 0
	p := &MockProvider{
		ChatFunc: func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
			calls++
			if calls == 1 {
				return &ChatResponse{Message: Message{Role: "assistant", Content: "not json at all"}, Done: true}, nil
			}
			return &ChatResponse{Message: Message{Role: "assistant", Content: `{"fixed": true}`}, Done: true}, nil
		},
	}

	// Shrink the backoff schedule so the retry test doesn't sleep for real.
	orig := retryBackoff
	retryBackoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	defer func() { retryBackoff = orig }()

	result, err := GenerateObject(context.Background(), p, []Message{{Role: "user", Content: "x"}}, map[string]any{"type": "object"}, "")
	if err != nil {
		t.Fatalf("GenerateObject error = %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if result.Data["fixed"] != true {
		t.Errorf("expected fixed=true, got %v", result.Data["fixed"])
	}
}
