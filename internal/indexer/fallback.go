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

package indexer

import "github.com/kraklabs/kgpipe/internal/model"

// ParseFallback produces a single coarse file-level entity for a file
// whose language has no structural parser (§4.2's ten-language breadth
// requirement is satisfied at file granularity instead of declaration
// granularity for these). The file's own content becomes the entity body,
// truncated the same way a function body is.
func ParseFallback(orgID, repoID, indexVersion, filePath, language string, content []byte) model.CodeEntity {
	body, _ := model.TruncateBody(string(content))
	key := model.EntityKey(repoID, filePath, model.KindFile, filePath, "")
	return model.CodeEntity{
		Key:          key,
		OrgID:        orgID,
		RepoID:       repoID,
		Kind:         model.KindFile,
		Name:         filePath,
		FilePath:     filePath,
		EndLine:      countLines(content),
		Body:         body,
		Language:     language,
		IndexVersion: indexVersion,
	}
}

func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := 1
	for _, b := range content {
		if b == '\n' {
			n++
		}
	}
	return n
}
