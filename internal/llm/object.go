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
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// retryBackoff is the fixed retry schedule for transient LLM failures
// (rate limits, 5xx, malformed JSON) per §4.7.5.
var retryBackoff = []time.Duration{2 * time.Second, 8 * time.Second, 30 * time.Second}

// ObjectResult is a structured-output completion: Raw is the provider's
// unparsed text (kept for audit/replay in the justification ledger), Data
// is that text decoded against the requested schema.
type ObjectResult struct {
	Raw          string
	Data         map[string]any
	Model        string
	PromptTokens int
	OutputTokens int
}

// GenerateObject asks provider for a chat completion constrained to return
// JSON matching schema, via a JSON-mode system-prompt instruction rather
// than a provider-native function-calling API (none of ollama/openai-
// compatible/anthropic expose an identical one, so a prompt-level
// constraint is the only approach that works across all three). On a
// malformed response, a rate limit (429) or a 5xx status it retries on the
// schedule in retryBackoff before giving up.
func GenerateObject(ctx context.Context, provider Provider, messages []Message, schema map[string]any, model string) (*ObjectResult, error) {
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("llm: marshal schema: %w", err)
	}

	instruction := Message{
		Role: "system",
		Content: "Respond with a single JSON object only, no prose, no markdown code fences, " +
			"conforming exactly to this JSON Schema:\n" + string(schemaJSON),
	}
	req := ChatRequest{Messages: append([]Message{instruction}, messages...), Model: model}

	var lastErr error
	for attempt := 0; attempt <= len(retryBackoff); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff[attempt-1]):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := provider.Chat(ctx, req)
		if err != nil {
			lastErr = err
			var se *statusError
			if IsRateLimited(err) || (asStatusError(err, &se) && se.statusCode >= 500) {
				continue
			}
			return nil, fmt.Errorf("llm: generate object: %w", err)
		}

		data, parseErr := parseJSONObject(resp.Message.Content)
		if parseErr != nil {
			lastErr = parseErr
			continue
		}

		return &ObjectResult{
			Raw:          resp.Message.Content,
			Data:         data,
			Model:        resp.Model,
			PromptTokens: resp.PromptTokens,
			OutputTokens: resp.OutputTokens,
		}, nil
	}
	return nil, fmt.Errorf("llm: generate object: exhausted retries: %w", lastErr)
}

// parseJSONObject extracts and decodes a JSON object from text, tolerating
// a leading/trailing markdown code fence some models add despite
// instructions not to.
func parseJSONObject(text string) (map[string]any, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("llm: no JSON object found in response")
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &data); err != nil {
		return nil, fmt.Errorf("llm: decode JSON object: %w", err)
	}
	return data, nil
}
