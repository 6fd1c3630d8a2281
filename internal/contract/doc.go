// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package contract provides validation constants and utilities for
// kgpipe-worker's HTTP surface.
//
// # Payload Size Limits
//
// kgpipe-worker enforces a soft limit on inbound webhook payloads to
// prevent memory exhaustion:
//
//	// Default limit is 1 MiB
//	limit := contract.SoftLimitBytes()
//
//	// Validate a push-webhook body and the org/repo ids decoded from it
//	result := contract.ValidateWebhookPayload(body, orgID, repoID)
//	if !result.OK {
//	    log.Printf("Validation failed: %s", result.Message)
//	}
//
// # Configuration via Environment
//
// The soft limit can be adjusted via the KGPIPE_SOFT_LIMIT_BYTES
// environment variable:
//
//	export KGPIPE_SOFT_LIMIT_BYTES=4194304  # 4 MiB
//
// If the environment variable is not set or invalid, the default limit
// of 1 MiB (DefaultSoftLimitBytes) is used.
package contract
