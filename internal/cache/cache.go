// Copyright 2024 ViewFS Authors
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

// Package cache holds the per-mount-table registry of backing filesystems.
//
// Design Principles:
// 1. Scoped ownership - every mount table owns its registry, there is no process-wide cache
// 2. Atomic construction - a handle is built under the registry lock, so no goroutine can
//    observe a half-constructed handle or race a duplicate into existence
// 3. Best-effort teardown - CloseAll closes everything once and never stops early
package cache

import "os"

// Disabled forces the inner cache off regardless of configuration.
// Set via VIEWFS_INNER_CACHE=0 environment variable.
// Useful for isolating bugs that only appear when handles are shared.
var Disabled = os.Getenv("VIEWFS_INNER_CACHE") == "0"
