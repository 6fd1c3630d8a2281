// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package contract

import (
	"os"
	"strconv"
)

const (
	// DefaultSoftLimitBytes is the baseline soft limit for an inbound
	// webhook payload.
	DefaultSoftLimitBytes = 1 << 20 // 1 MiB

	// RepoIDMaxBytes is the maximum length accepted for org_id/repo_id
	// fields in a webhook payload.
	RepoIDMaxBytes = 128
)

// SoftLimitBytes returns the effective soft limit for a webhook push
// payload's size. Controlled via env KGPIPE_SOFT_LIMIT_BYTES; falls back
// to DefaultSoftLimitBytes.
func SoftLimitBytes() int {
	if v := os.Getenv("KGPIPE_SOFT_LIMIT_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return DefaultSoftLimitBytes
}

// ValidationResult represents the result of a validation check.
type ValidationResult struct {
	OK      bool
	Message string
}

// ValidateWebhookPayload checks a raw push-webhook request body against
// the soft size limit and rejects org_id/repo_id values too long to be
// sane cache/debounce keys. The push handler calls it after decoding the
// body, passing the org_id/repo_id read from the decoded payload.
func ValidateWebhookPayload(body []byte, orgID, repoID string) *ValidationResult {
	if len(body) > SoftLimitBytes() {
		return &ValidationResult{OK: false, Message: "webhook payload exceeds soft limit"}
	}
	if len(orgID) > RepoIDMaxBytes || len(repoID) > RepoIDMaxBytes {
		return &ValidationResult{OK: false, Message: "org_id/repo_id exceeds max length"}
	}
	return &ValidationResult{OK: true}
}
