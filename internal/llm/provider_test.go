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
)

func TestNewProvider_MockType(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Type: "mock"})
	if err != nil {
		t.Fatalf("NewProvider(mock) error = %v", err)
	}
	if p.Name() != "mock" {
		t.Errorf("expected name 'mock', got %q", p.Name())
	}
}

func TestNewProvider_UnknownType(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Type: "something-else"})
	if err == nil {
		t.Fatal("expected error for unknown provider type")
	}
}

func TestMockProvider_ChatUsesOverride(t *testing.T) {
	p := &MockProvider{
		ChatFunc: func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
			return &ChatResponse{Message: Message{Role: "assistant", Content: "override"}, Model: "mock-model", Done: true}, nil
		},
	}
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("Chat error = %v", err)
	}
	if resp.Message.Content != "override" {
		t.Errorf("expected override content, got %q", resp.Message.Content)
	}
}

func TestMockProvider_GenerateDefault(t *testing.T) {
	p := &MockProvider{}
	resp, err := p.Generate(context.Background(), GenerateRequest{Prompt: "explain this function"})
	if err != nil {
		t.Fatalf("Generate error = %v", err)
	}
	if resp.Model != "mock-model" {
		t.Errorf("expected mock-model, got %q", resp.Model)
	}
	if !resp.Done {
		t.Error("expected Done = true")
	}
}
