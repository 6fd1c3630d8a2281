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

import "time"

// LedgerStatus is a state in the append-only ledger state machine (§3.1).
type LedgerStatus string

const (
	LedgerPending   LedgerStatus = "pending"
	LedgerWorking   LedgerStatus = "working"
	LedgerBroken    LedgerStatus = "broken"
	LedgerCommitted LedgerStatus = "committed"
	LedgerReverted  LedgerStatus = "reverted"
)

// validLedgerTransitions encodes the allowed status transitions; entries
// are never deleted, only appended with a new status (§3.1).
var validLedgerTransitions = map[LedgerStatus][]LedgerStatus{
	LedgerPending:   {LedgerWorking, LedgerBroken, LedgerReverted},
	LedgerWorking:   {LedgerBroken, LedgerCommitted, LedgerReverted},
	LedgerBroken:    {LedgerWorking, LedgerReverted},
	LedgerCommitted: {LedgerReverted},
	LedgerReverted:  {},
}

// CanTransition reports whether moving from s to next is legal.
func (s LedgerStatus) CanTransition(next LedgerStatus) bool {
	for _, allowed := range validLedgerTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ChangeRecord is one file mutation within a LedgerEntry.
type ChangeRecord struct {
	FilePath string `json:"file_path"`
	DiffText string `json:"diff_text"`
}

// LedgerEntry is an append-only record of a single AI-driven change
// attempt (§3.1, GLOSSARY). Owned by a separate rewind/replay subsystem;
// the knowledge-graph pipeline only appends and reads these rows.
type LedgerEntry struct {
	ID              string       `json:"id"`
	OrgID           string       `json:"org_id"`
	RepoID          string       `json:"repo_id"`
	Prompt          string       `json:"prompt"`
	Changes         []ChangeRecord `json:"changes"`
	Status          LedgerStatus `json:"status"`
	Branch          string       `json:"branch"`
	TimelineBranch  string       `json:"timeline_branch"`
	ParentID        string       `json:"parent_id,omitempty"`
	RewindTargetID  string       `json:"rewind_target_id,omitempty"`
	CommitSHA       string       `json:"commit_sha,omitempty"`
	SnapshotID      string       `json:"snapshot_id,omitempty"`
	ValidatedAt     *time.Time   `json:"validated_at,omitempty"`
	RuleGenerated   bool         `json:"rule_generated"`
	CreatedAt       time.Time    `json:"created_at"`
}

// WorkingSnapshotFile is one file captured at a known-good ledger entry.
type WorkingSnapshotFile struct {
	Path         string   `json:"path"`
	Content      string   `json:"content"`
	EntityHashes []string `json:"entity_hashes"`
}

// WorkingSnapshot is a blob of files at a known-good ledger entry,
// referenced by rewind (§3.1).
type WorkingSnapshot struct {
	ID            string                `json:"id"`
	OrgID         string                `json:"org_id"`
	RepoID        string                `json:"repo_id"`
	LedgerEntryID string                `json:"ledger_entry_id"`
	Files         []WorkingSnapshotFile `json:"files"`
	Reason        string                `json:"reason"`
	CreatedAt     time.Time             `json:"created_at"`
}
