// Copyright 2020-2023 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package classfile

import "sync"

// Interner deduplicates strings so that repeated names (class names,
// package names, descriptors) share one backing string across every
// classfile decoded through it. Safe for concurrent use by many
// scan.Queue workers decoding classfiles in parallel.
type Interner struct {
	mu    sync.Mutex
	table map[string]string
}

// NewInterner creates an empty Interner.
func NewInterner() *Interner {
	return &Interner{table: make(map[string]string)}
}

// Intern returns the canonical shared copy of s, storing s as the
// canonical copy on first sight. Uses a putIfAbsent-style critical
// section so concurrent callers never race on the table.
func (in *Interner) Intern(s string) string {
	in.mu.Lock()
	defer in.mu.Unlock()
	if existing, ok := in.table[s]; ok {
		return existing
	}
	in.table[s] = s
	return s
}
