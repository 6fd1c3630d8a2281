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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedgerStatus_CanTransition(t *testing.T) {
	assert.True(t, LedgerPending.CanTransition(LedgerWorking))
	assert.True(t, LedgerWorking.CanTransition(LedgerCommitted))
	assert.True(t, LedgerBroken.CanTransition(LedgerWorking))
	assert.True(t, LedgerCommitted.CanTransition(LedgerReverted))
	assert.False(t, LedgerReverted.CanTransition(LedgerWorking))
	assert.False(t, LedgerCommitted.CanTransition(LedgerWorking), "committed is not reversible to working")
}

func TestRule_Wins(t *testing.T) {
	repoRule := Rule{Scope: ScopeRepo, Priority: 1}
	orgRule := Rule{Scope: ScopeOrg, Priority: 100}
	assert.True(t, repoRule.Wins(orgRule), "repo scope outranks org scope regardless of priority")

	low := Rule{Scope: ScopeOrg, Priority: 1}
	high := Rule{Scope: ScopeOrg, Priority: 2}
	assert.True(t, high.Wins(low))
	assert.False(t, low.Wins(high))
}
