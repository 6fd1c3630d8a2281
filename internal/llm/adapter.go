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

	"github.com/kraklabs/kgpipe/internal/store"
)

// Adapter wraps a Provider as a store.LLMProvider, translating between
// this package's Message/ChatResponse shapes and the store port's narrower
// ChatMessage/ChatCompletion/ObjectCompletion shapes so justification and
// ontology code only ever import internal/store, never internal/llm
// directly.
type Adapter struct {
	provider Provider
}

// NewAdapter wraps provider for use as a store.LLMProvider.
func NewAdapter(provider Provider) *Adapter {
	return &Adapter{provider: provider}
}

func (a *Adapter) Name() string { return a.provider.Name() }

func (a *Adapter) Chat(ctx context.Context, messages []store.ChatMessage, model string) (*store.ChatCompletion, error) {
	req := ChatRequest{Messages: toMessages(messages), Model: model}
	resp, err := a.provider.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	return &store.ChatCompletion{
		Content:      resp.Message.Content,
		Model:        resp.Model,
		PromptTokens: resp.PromptTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}

func (a *Adapter) GenerateObject(ctx context.Context, messages []store.ChatMessage, schema map[string]any, model string) (*store.ObjectCompletion, error) {
	result, err := GenerateObject(ctx, a.provider, toMessages(messages), schema, model)
	if err != nil {
		return nil, err
	}
	return &store.ObjectCompletion{
		Raw:          result.Raw,
		Data:         result.Data,
		Model:        result.Model,
		PromptTokens: result.PromptTokens,
		OutputTokens: result.OutputTokens,
	}, nil
}

func toMessages(messages []store.ChatMessage) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = Message{Role: m.Role, Content: m.Content}
	}
	return out
}

var _ store.LLMProvider = (*Adapter)(nil)
