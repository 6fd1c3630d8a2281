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

package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityKey_Deterministic(t *testing.T) {
	k1 := EntityKey("repo-1", "pkg/foo.go", KindFunction, "Bar", "func Bar()")
	k2 := EntityKey("repo-1", "pkg/foo.go", KindFunction, "Bar", "func Bar()")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 16)
}

func TestEntityKey_PathNormalizationDoesNotChangeKey(t *testing.T) {
	k1 := EntityKey("repo-1", "./pkg/foo.go", KindFunction, "Bar", "sig")
	k2 := EntityKey("repo-1", "pkg/foo.go", KindFunction, "Bar", "sig")
	assert.Equal(t, k1, k2, "normalized and unnormalized paths must hash the same")
}

func TestEntityKey_DiffersByAnyComponent(t *testing.T) {
	base := EntityKey("repo-1", "pkg/foo.go", KindFunction, "Bar", "sig")
	cases := []string{
		EntityKey("repo-2", "pkg/foo.go", KindFunction, "Bar", "sig"),
		EntityKey("repo-1", "pkg/baz.go", KindFunction, "Bar", "sig"),
		EntityKey("repo-1", "pkg/foo.go", KindMethod, "Bar", "sig"),
		EntityKey("repo-1", "pkg/foo.go", KindFunction, "Baz", "sig"),
		EntityKey("repo-1", "pkg/foo.go", KindFunction, "Bar", "other"),
	}
	for _, c := range cases {
		assert.NotEqual(t, base, c)
	}
}

func TestTruncateBody_UnderLimit(t *testing.T) {
	body := "line1\nline2\n"
	out, truncated := TruncateBody(body)
	assert.False(t, truncated)
	assert.Equal(t, body, out)
}

func TestTruncateBody_OverLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < MaxBodyLines+50; i++ {
		b.WriteString("x\n")
	}
	out, truncated := TruncateBody(b.String())
	require.True(t, truncated)
	assert.Equal(t, MaxBodyLines, strings.Count(out, "\n"))
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"./foo/bar.go": "foo/bar.go",
		"/foo/bar.go":  "foo/bar.go",
		"foo//bar.go":  "foo/bar.go",
		"foo/bar.go":   "foo/bar.go",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizePath(in), "normalizePath(%q)", in)
	}
}
