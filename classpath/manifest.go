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
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Manifest is the parsed form of a classfile-container manifest: textual
// key/value pairs with continuation lines. Only the headers this core
// cares about are kept as named fields; everything else is available via
// Attributes for a higher layer.
type Manifest struct {
	ClassPath              []string
	MainClass              string
	MultiRelease           bool
	ImplementationVersion  string
	ImplementationTitle    string
	Attributes             map[string]string
}

// ParseManifest parses the textual manifest format: "Key: Value" lines,
// where a line starting with a single space is a continuation of the
// previous line's value. Unknown keys are preserved in Attributes.
func ParseManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{Attributes: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var key, value string
	flush := func() {
		if key == "" {
			return
		}
		m.Attributes[key] = value
		switch key {
		case "Class-Path":
			if value != "" {
				m.ClassPath = strings.Fields(value)
			}
		case "Main-Class":
			m.MainClass = value
		case "Multi-Release":
			m.MultiRelease = strings.EqualFold(value, "true")
		case "Implementation-Version":
			m.ImplementationVersion = value
		case "Implementation-Title":
			m.ImplementationTitle = value
		}
		key, value = "", ""
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue // section boundary
		}
		if strings.HasPrefix(line, " ") {
			value += strings.TrimPrefix(line, " ")
			continue
		}
		flush()
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue // malformed header line; ignore rather than fail the whole manifest
		}
		key = strings.TrimSpace(line[:idx])
		value = strings.TrimPrefix(line[idx+1:], " ")
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// ResolveClassPath resolves the manifest's Class-Path entries (space
// delimited URIs) relative to the archive's parent directory.
func (m *Manifest) ResolveClassPath(archiveParentDir string) []RelativePath {
	out := make([]RelativePath, 0, len(m.ClassPath))
	for _, raw := range m.ClassPath {
		out = append(out, RelativePath{Base: archiveParentDir, RawPath: raw})
	}
	return out
}

// SelfIdentifiesAsSystem reports whether the manifest identifies its
// archive as part of the runtime itself, used by SystemArchiveCache.
func (m *Manifest) SelfIdentifiesAsSystem() bool {
	return strings.Contains(strings.ToLower(m.ImplementationTitle), "runtime environment")
}

// DefaultAncestorHasRuntimeJar checks, for a given ancestor directory,
// whether any of the well-known runtime archive names exist directly
// under it.
func DefaultAncestorHasRuntimeJar(dir string) bool {
	for _, name := range systemRuntimeNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}
