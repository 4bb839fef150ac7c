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

// Package scan implements the parallel recursive scan: an order-preserving
// work queue and a path-matching scanner, driven over
// classpath.ClasspathElement units.
package scan

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchResult is the scanner's path classification result.
type MatchResult int

const (
	// NotWithinAllowed means skip this subtree entirely.
	NotWithinAllowed MatchResult = iota
	// WithinDenied means skip this subtree entirely (explicitly denied).
	WithinDenied
	// AncestorOfAllowed means descend but do not emit this path itself.
	AncestorOfAllowed
	// WithinAllowed means descend and emit matches under this path.
	WithinAllowed
	// AtAllowedClassPackage means do not recurse into children but emit
	// specifically allow-listed classes found directly here.
	AtAllowedClassPackage
)

// ResourcePredicate pairs a path-matching predicate with a handler name,
// for user-registered path-predicate resource matching. The Pattern may
// be a plain prefix or a doublestar glob (containing "*" or "**");
// globOrPrefixMatch decides which. Dispatching a matched ResourceMatch to application code
// is the end-user API surface's job; this core only needs Name to tag
// which predicate a given hit came from.
type ResourcePredicate struct {
	Name    string
	Pattern string
}

// ScanSpec is the scanner's input configuration.
type ScanSpec struct {
	// AllowPackages and DenyPackages are dotted package-name prefixes
	// (e.g. "com.example") or doublestar globs over the slash-form of a
	// package ("com/example/**"). An empty AllowPackages means "allow
	// everything not denied".
	AllowPackages []string
	DenyPackages  []string
	// AllowClasses specifically allows these fully-qualified class names
	// even outside AllowPackages.
	AllowClasses []string

	ResourcePredicates []ResourcePredicate

	ScanJars           bool
	ScanDirs           bool
	DenySystemArchives bool
	// JarNameFilter returns false to deny an archive by file name.
	JarNameFilter func(name string) bool

	OverrideClassLoaders bool
	AddedClassLoaders    []string
}

func packageToPath(pkg string) string {
	return strings.ReplaceAll(pkg, ".", "/")
}

func classToPath(class string) string {
	return strings.ReplaceAll(class, ".", "/") + ".class"
}

// globOrPrefixMatch reports whether candidate matches pattern, treating
// pattern as a doublestar glob when it contains any of "*?[", and as a
// plain path-prefix match otherwise (so "com/example" matches
// "com/example/Foo.class" and every path beneath it).
func globOrPrefixMatch(pattern, candidate string) bool {
	if strings.ContainsAny(pattern, "*?[") {
		ok, _ := doublestar.Match(pattern, candidate)
		return ok
	}
	return candidate == pattern || strings.HasPrefix(candidate, pattern+"/")
}

// isAncestorOf reports whether candidateDir is an ancestor directory of, or
// the same directory as, a path that pattern could match, used to decide AncestorOfAllowed so the
// scanner descends into directories on the way to an allowed package
// without emitting them.
func isAncestorOf(pattern, candidateDir string) bool {
	if strings.ContainsAny(pattern, "*?[") {
		// Conservative: an ancestor directory is "on the way" to a glob
		// pattern if the pattern, up to its first wildcard segment,
		// starts with candidateDir.
		prefix := pattern
		if idx := strings.IndexAny(pattern, "*?["); idx >= 0 {
			prefix = pattern[:idx]
		}
		return strings.HasPrefix(prefix, candidateDir)
	}
	return strings.HasPrefix(pattern, candidateDir+"/") || pattern == candidateDir
}

// Match classifies relativePath (a directory or a ".class"/resource path)
// against spec's allow/deny package and class rules.
func Match(spec *ScanSpec, relativePath string, isDir bool) MatchResult {
	pathForMatch := relativePath
	dirForMatch := relativePath
	if !isDir {
		if idx := strings.LastIndex(relativePath, "/"); idx >= 0 {
			dirForMatch = relativePath[:idx]
		} else {
			dirForMatch = ""
		}
	}

	for _, deny := range spec.DenyPackages {
		if globOrPrefixMatch(packageToPath(deny), pathForMatch) {
			return WithinDenied
		}
	}

	if len(spec.AllowPackages) == 0 {
		return WithinAllowed
	}

	for _, allow := range spec.AllowPackages {
		allowPath := packageToPath(allow)
		if globOrPrefixMatch(allowPath, pathForMatch) {
			return WithinAllowed
		}
	}

	for _, allow := range spec.AllowPackages {
		allowPath := packageToPath(allow)
		if isAncestorOf(allowPath, dirForMatch) || isAncestorOf(allowPath, pathForMatch) {
			return AncestorOfAllowed
		}
	}

	if !isDir {
		for _, cls := range spec.AllowClasses {
			if classToPath(cls) == relativePath {
				return AtAllowedClassPackage
			}
		}
	} else {
		for _, cls := range spec.AllowClasses {
			if filepathDirOf(classToPath(cls)) == relativePath {
				return AtAllowedClassPackage
			}
		}
	}

	return NotWithinAllowed
}

func filepathDirOf(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return ""
	}
	return p[:idx]
}
