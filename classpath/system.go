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

package classpath

import (
	"path/filepath"
	"strings"
	"sync"
)

// systemArchiveDepth is the bounded ancestor-directory search depth used
// by IsSystemArchive when neither the manifest nor the module name
// settle the question.
const systemArchiveDepth = 2

var systemRuntimeNames = []string{"rt.jar", filepath.Join("lib", "rt.jar"), filepath.Join("jre", "lib", "rt.jar")}

// systemModulePrefixes classifies module names as belonging to the
// runtime itself.
var systemModulePrefixes = []string{"java.", "jdk.", "sun.", "com.sun."}

// SystemArchiveCache memoizes IsSystemArchive results in a concurrent map.
type SystemArchiveCache struct {
	mu    sync.RWMutex
	cache map[string]bool
}

// NewSystemArchiveCache creates an empty cache.
func NewSystemArchiveCache() *SystemArchiveCache {
	return &SystemArchiveCache{cache: make(map[string]bool)}
}

// IsSystemArchive reports whether the archive at canonicalPath is a
// "system" archive: an ancestor directory within systemArchiveDepth
// contains a well-known runtime archive name, or manifestSelfIdentifies
// reports the archive's own manifest as system, or moduleName (if any)
// carries a known system prefix.
func (c *SystemArchiveCache) IsSystemArchive(canonicalPath, moduleName string, manifestSelfIdentifies bool, ancestorHasRuntimeJar func(dir string) bool) bool {
	c.mu.RLock()
	if v, ok := c.cache[canonicalPath]; ok {
		c.mu.RUnlock()
		return v
	}
	c.mu.RUnlock()

	result := manifestSelfIdentifies || hasSystemModulePrefix(moduleName) || ancestorHasRuntimeJar != nil && c.searchAncestors(canonicalPath, ancestorHasRuntimeJar)

	c.mu.Lock()
	c.cache[canonicalPath] = result
	c.mu.Unlock()
	return result
}

func (c *SystemArchiveCache) searchAncestors(canonicalPath string, ancestorHasRuntimeJar func(dir string) bool) bool {
	dir := filepath.Dir(canonicalPath)
	for depth := 0; depth <= systemArchiveDepth; depth++ {
		if ancestorHasRuntimeJar(dir) {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return false
}

func hasSystemModulePrefix(moduleName string) bool {
	if moduleName == "" {
		return false
	}
	for _, prefix := range systemModulePrefixes {
		if strings.HasPrefix(moduleName, prefix) {
			return true
		}
	}
	return false
}

// KnownRuntimeArchiveNames returns the file names searched for in ancestor
// directories by the default ancestorHasRuntimeJar implementation
// (DefaultAncestorHasRuntimeJar).
func KnownRuntimeArchiveNames() []string {
	out := make([]string, len(systemRuntimeNames))
	copy(out, systemRuntimeNames)
	return out
}
