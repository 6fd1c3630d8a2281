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

package cozodb

/*
#cgo LDFLAGS: -lcozo_c
#include <stdlib.h>
#include <stdint.h>

extern char* cozo_open_db(const char* engine, const char* path, const char* options, int32_t* db_id);
extern void cozo_close_db(int32_t db_id);
extern char* cozo_run_query(int32_t db_id, const char* script, const char* params, uint8_t immutable);
extern void cozo_free_str(char* s);
*/
import "C"

import (
	"encoding/json"
	"fmt"
	"sync"
	"unsafe"
)

// NamedRows is the column-headers-plus-row-matrix shape every Cozo query
// returns, mirroring the teacher's pkg/storage.QueryResult conversion pair.
type NamedRows struct {
	Headers []string `json:"headers"`
	Rows    [][]any  `json:"rows"`
	Next    *NamedRows `json:"next,omitempty"`
}

// cozoQueryResponse is the JSON envelope the C API returns.
type cozoQueryResponse struct {
	Ok      bool      `json:"ok"`
	Message string    `json:"message"`
	Headers []string  `json:"headers"`
	Rows    [][]any   `json:"rows"`
}

// CozoDB is a handle to an open CozoDB instance.
type CozoDB struct {
	mu    sync.Mutex
	dbID  int32
	valid bool
}

// New opens a CozoDB instance at path using the given storage engine
// ("mem", "sqlite", or "rocksdb"). options is passed through as the raw
// JSON options string accepted by the C API; nil uses the engine default.
func New(engine, path string, options map[string]any) (CozoDB, error) {
	cEngine := C.CString(engine)
	defer C.free(unsafe.Pointer(cEngine))
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	optsJSON := "{}"
	if options != nil {
		b, err := json.Marshal(options)
		if err != nil {
			return CozoDB{}, fmt.Errorf("cozodb: marshal options: %w", err)
		}
		optsJSON = string(b)
	}
	cOpts := C.CString(optsJSON)
	defer C.free(unsafe.Pointer(cOpts))

	var dbID C.int32_t
	if errStr := C.cozo_open_db(cEngine, cPath, cOpts, &dbID); errStr != nil {
		defer C.cozo_free_str(errStr)
		return CozoDB{}, fmt.Errorf("cozodb: open: %s", C.GoString(errStr))
	}
	return CozoDB{dbID: int32(dbID), valid: true}, nil
}

// Run executes a Datalog script, which may mutate the database.
func (db *CozoDB) Run(script string, params map[string]any) (NamedRows, error) {
	return db.run(script, params, false)
}

// RunReadOnly executes a Datalog script under a read-only transaction; any
// attempt to mutate data is rejected by the database itself.
func (db *CozoDB) RunReadOnly(script string, params map[string]any) (NamedRows, error) {
	return db.run(script, params, true)
}

func (db *CozoDB) run(script string, params map[string]any, readOnly bool) (NamedRows, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.valid {
		return NamedRows{}, fmt.Errorf("cozodb: database is closed")
	}

	paramsJSON := "{}"
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return NamedRows{}, fmt.Errorf("cozodb: marshal params: %w", err)
		}
		paramsJSON = string(b)
	}

	cScript := C.CString(script)
	defer C.free(unsafe.Pointer(cScript))
	cParams := C.CString(paramsJSON)
	defer C.free(unsafe.Pointer(cParams))

	var immutable C.uint8_t
	if readOnly {
		immutable = 1
	}

	resultStr := C.cozo_run_query(C.int32_t(db.dbID), cScript, cParams, immutable)
	if resultStr == nil {
		return NamedRows{}, fmt.Errorf("cozodb: query returned no response")
	}
	defer C.cozo_free_str(resultStr)

	var resp cozoQueryResponse
	if err := json.Unmarshal([]byte(C.GoString(resultStr)), &resp); err != nil {
		return NamedRows{}, fmt.Errorf("cozodb: decode response: %w", err)
	}
	if !resp.Ok {
		return NamedRows{}, fmt.Errorf("cozodb: query failed: %s", resp.Message)
	}
	return NamedRows{Headers: resp.Headers, Rows: resp.Rows}, nil
}

// Close releases the database handle. Safe to call more than once.
func (db *CozoDB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.valid {
		return
	}
	C.cozo_close_db(C.int32_t(db.dbID))
	db.valid = false
}
