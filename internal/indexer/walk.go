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

// Package indexer implements §4.2, the repository indexer: it walks an
// acquired workspace, parses each file with the language-appropriate
// parser (Tree-sitter for Go, a coarse file-level fallback for everything
// else), resolves same-file and cross-file calls, and for incremental
// re-index re-parses only the files git reports as changed.
package indexer

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// DefaultMaxFileSize bounds how large a single file can be before the
// walker skips it outright, avoiding pathological giant generated files
// (vendored bundles, lockfiles) dominating indexing time.
const DefaultMaxFileSize = 2 << 20 // 2 MiB

// defaultExcludeDirs lists directory names the walker never descends
// into, the fixed-list counterpart to the teacher's configurable
// excludeGlobs — chosen because these are never hand-authored source.
var defaultExcludeDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	".venv":        true,
	"__pycache__":  true,
}

// FileInfo is one discovered source file, relative to the workspace root.
type FileInfo struct {
	Path     string
	FullPath string
	Size     int64
	Language string
}

// WalkRepo discovers every non-excluded, size-bounded file under root,
// mirroring pkg/ingestion/repo_loader.go's walkRepository but with a fixed
// exclude-dir list instead of caller-supplied glob patterns.
func WalkRepo(root string, maxFileSize int64) ([]FileInfo, error) {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	var files []FileInfo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if defaultExcludeDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > maxFileSize {
			return nil
		}
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		files = append(files, FileInfo{
			Path:     filepath.ToSlash(relPath),
			FullPath: path,
			Size:     info.Size(),
			Language: DetectLanguage(relPath),
		})
		return nil
	})
	return files, err
}

// languageByExt is the extension-to-language table, carried over from
// pkg/ingestion/repo_loader.go's detectLanguageFromPath unchanged: the
// spec's "fallback parsing for at least ten languages" requirement
// (§4.2) is satisfied by this breadth even though only Go gets a real
// structural parser below.
var languageByExt = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".ts":    "typescript",
	".jsx":   "javascript",
	".tsx":   "typescript",
	".java":  "java",
	".rs":    "rust",
	".cpp":   "cpp",
	".c":     "c",
	".h":     "c",
	".hpp":   "cpp",
	".cc":    "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".proto": "protobuf",
}

// DetectLanguage maps a file path's extension to a language tag, or ""
// for an unrecognized extension (the fallback parser still handles it as
// a generic file entity).
func DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	return languageByExt[ext]
}
