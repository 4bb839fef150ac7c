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

// Package classpath implements classpath resolution: turning the
// heterogeneous, possibly-nested, possibly-remote class-loading roots a
// caller supplies into a canonical, ordered, de-duplicated list of
// scannable ClasspathElements.
package classpath

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// archiveExtensions lists the extensions (case-insensitively) that mark a
// nested-path segment as "archive-like".
var archiveExtensions = map[string]bool{
	".jar": true,
	".zip": true,
	".war": true,
	".car": true,
}

func hasArchiveExtension(segment string) bool {
	return archiveExtensions[strings.ToLower(filepath.Ext(segment))]
}

// RelativePath is an unresolved location as supplied by a caller: a base
// directory (used only when rawPath is relative and not URI-qualified),
// the raw path text (which may itself be a nested-archive expression), and
// the class loaders that declared it (informational; used only for
// diagnostics and environment discovery bookkeeping).
type RelativePath struct {
	Base         string
	RawPath      string
	ClassLoaders []string
}

// Segment is one "!"-delimited piece of a nested-path expression.
type Segment struct {
	// Path is the OS path or zip-internal directory text for this segment.
	Path string
	// IsArchive is true for every segment except possibly the last: it is
	// false only when the final segment has no archive extension, in
	// which case it names a zip-internal base directory inside the
	// previous (archive) segment.
	IsArchive bool
}

// ErrNotLocal reports that a path is an HTTP(S) URI rather than a local
// path. Resolve does not return it: it flags such paths through its remote
// result instead.
var ErrNotLocal = fmt.Errorf("classpath: path is a remote URI, not a local path")

// normalizeTrailingBang strips any trailing "!", "!/", "/!", or "/!/" per
// RelativePath invariant, so a caller-supplied path like
// "outer.jar!" behaves identically to "outer.jar".
func normalizeTrailingBang(raw string) string {
	for {
		switch {
		case strings.HasSuffix(raw, "!/"):
			raw = strings.TrimSuffix(raw, "!/")
		case strings.HasSuffix(raw, "/!"):
			raw = strings.TrimSuffix(raw, "/!")
		case strings.HasSuffix(raw, "!"):
			raw = strings.TrimSuffix(raw, "!")
		default:
			return raw
		}
	}
}

// IsRemote reports whether raw is an HTTP(S) URI, preserved in URI form
// rather than canonicalized as a local filesystem path.
func IsRemote(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// ParseNestedPath splits a normalized raw path on "!" into segments:
// every segment but possibly the last must be archive-like; a
// non-archive final segment is the zip base directory within the
// second-to-last (archive) segment.
func ParseNestedPath(raw string) ([]Segment, error) {
	raw = normalizeTrailingBang(raw)
	if raw == "" {
		return nil, fmt.Errorf("classpath: empty path")
	}
	parts := strings.Split(raw, "!")
	segs := make([]Segment, 0, len(parts))
	for i, p := range parts {
		p = strings.Trim(p, "/")
		isLast := i == len(parts)-1
		archiveLike := hasArchiveExtension(p)
		if !isLast && !archiveLike {
			return nil, fmt.Errorf("classpath: nested path segment %q is not archive-like (%s)", p, raw)
		}
		segs = append(segs, Segment{Path: p, IsArchive: archiveLike})
	}
	return segs, nil
}

// ZipBaseDirOf returns the zip-internal base directory implied by segs (the
// path text of the final segment, if it is not itself archive-like), or ""
// if every segment is archive-like.
func ZipBaseDirOf(segs []Segment) string {
	if len(segs) == 0 {
		return ""
	}
	last := segs[len(segs)-1]
	if last.IsArchive {
		return ""
	}
	return last.Path
}

// resolveOSPath canonicalizes an OS-level path: it applies base only when
// raw is not already absolute, cleans separators, then runs Canonicalize so
// two different raw paths that are symlinks to the same target resolve to
// the same identity.
func resolveOSPath(base, raw string) string {
	raw = filepath.FromSlash(raw)
	var joined string
	if filepath.IsAbs(raw) || base == "" {
		joined = filepath.Clean(raw)
	} else {
		joined = filepath.Clean(filepath.Join(base, raw))
	}
	return Canonicalize(joined)
}

// Canonicalize resolves symlinks in path and normalizes volume-case (on
// case-insensitive filesystems, filepath.EvalSymlinks also normalizes a
// path's on-disk casing), so that two different raw paths pointing at the
// same archive or directory compare equal for de-duplication. If path
// doesn't exist yet or EvalSymlinks otherwise fails, the cleaned input path
// is returned unchanged: resolution only tightens identity, it never turns
// an otherwise-valid path into an error.
func Canonicalize(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(resolved)
}

// Resolve turns a raw caller-supplied path into a canonical local path or
// a remote URI marker. For HTTP(S)
// inputs it returns the preserved URI text with remote set to true and a
// nil error, so the caller can hand it to ArchiveCache.Fetch. For OS paths it trims
// Windows-style drive artifacts (via filepath.Clean, which is a no-op on
// non-Windows GOOS but collapses "C:\" forms correctly under
// windows-targeted builds), collapses separators, and applies base only
// when raw is relative.
func Resolve(base, rawPath string) (canonical string, remote bool, err error) {
	rawPath = normalizeTrailingBang(strings.TrimSpace(rawPath))
	if rawPath == "" {
		return "", false, fmt.Errorf("classpath: empty path")
	}
	if IsRemote(rawPath) {
		return rawPath, true, nil
	}
	return resolveOSPath(base, rawPath), false, nil
}
