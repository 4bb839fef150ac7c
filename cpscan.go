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

// Package cpscan parallel-scans a set of classpath roots, decodes every
// classfile found, and cross-links the result into a queryable class
// graph. It wires together classpath (resolution), scan (the work queue
// and recursive matcher), classfile (binary decoding), and graph
// (cross-linking) as the stages of a single pipeline: resolve, walk,
// decode, link.
package cpscan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/cpscan/core/classfile"
	"github.com/cpscan/core/classpath"
	"github.com/cpscan/core/graph"
	"github.com/cpscan/core/reporter"
	"github.com/cpscan/core/scan"
)

// Scanner scans one or more classpath roots and produces a ScanResult. The
// zero value is usable; MaxParallelism, Logger, and Reporter default as
// documented on their fields.
type Scanner struct {
	// Spec configures allow/deny package and resource matching. The zero
	// value scans every package and resource.
	Spec scan.ScanSpec

	// MaxParallelism caps the worker pool. If unspecified or non-positive,
	// min(runtime.NumCPU(), runtime.GOMAXPROCS(-1)) is used.
	MaxParallelism int

	// Reporter receives every non-fatal problem encountered during the
	// scan (malformed classfiles, denied archives, unreadable roots). If
	// nil, problems are accumulated silently.
	Reporter reporter.Reporter

	// Logger receives the scan-summary message. If nil, slog.Default() is
	// used.
	Logger *slog.Logger

	// DiscoverOptions configures ambient environment discovery, run
	// automatically before validation when Scan is given no roots.
	DiscoverOptions classpath.DiscoverOptions

	// TempDir is forwarded to the classpath.ArchiveCache used for
	// remote/nested archive resolution.
	TempDir string
}

// Stats is scan telemetry, logged via go-humanize at Info level after a
// scan completes and exposed on ScanResult.
type Stats struct {
	DirectoriesVisited int
	ZipEntriesVisited  int
	ClassfilesDecoded  int
	ClassfilesSkipped  int
	Elapsed            time.Duration
}

// ScanResult is the query surface over the linked class graph, plus a
// per-file last-modified snapshot.
type ScanResult struct {
	*graph.Graph
	Stats Stats
}

// Scan resolves roots (or, if empty, discovers the ambient environment per
// DiscoverOptions), walks every resulting classpath element in parallel,
// decodes every classfile found, and cross-links the result. It either
// returns a complete ScanResult or surfaces the first worker exception;
// partial progress is never returned.
func (s *Scanner) Scan(ctx context.Context, roots []classpath.RelativePath) (*ScanResult, error) {
	start := time.Now()
	logger := s.logger()
	fingerprint := uuid.New().String()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h := reporter.NewHandler(s.Reporter)

	if len(roots) == 0 {
		roots = classpath.DiscoverEnvironment(s.DiscoverOptions)
	}

	archives := classpath.NewArchiveCache()
	archives.TempDir = filepath.Join(s.tempRoot(), "cpscan-"+fingerprint)
	if err := os.MkdirAll(archives.TempDir, 0o700); err != nil {
		return nil, fmt.Errorf("cpscan: creating scan temp dir: %w", err)
	}
	defer archives.Close()
	defer os.RemoveAll(archives.TempDir)

	sysCache := classpath.NewSystemArchiveCache()

	elements, err := s.resolveElements(roots, archives, sysCache, h)
	if err != nil {
		return nil, err
	}
	if fatalErr := h.Error(); fatalErr != nil && len(elements) == 0 {
		return nil, fatalErr
	}

	par := s.MaxParallelism
	if par <= 0 {
		par = runtime.GOMAXPROCS(-1)
		if cpus := runtime.NumCPU(); par > cpus {
			par = cpus
		}
	}

	results, allElements, stats, err := s.scanElements(ctx, elements, archives, sysCache, par, h)
	if err != nil {
		return nil, err
	}

	deduped := scan.DeduplicateByPath(results)

	decoder := classfile.NewDecoder()
	decoder.Deny = func(name string) bool { return matchesAnyPackage(s.Spec.DenyPackages, name) }

	var inputs []graph.Input
	for _, cf := range deduped.Classfiles {
		rc, openErr := cf.Open()
		if openErr != nil {
			h.HandleError(cf.RelativePath, reporter.SeverityWarn, openErr)
			stats.ClassfilesSkipped++
			continue
		}
		u, decodeErr := decoder.Decode(rc)
		rc.Close()
		if decodeErr != nil {
			h.HandleError(cf.RelativePath, reporter.SeverityWarn, decodeErr)
			stats.ClassfilesSkipped++
			continue
		}
		stats.ClassfilesDecoded++
		inputs = append(inputs, graph.Input{
			Unlinked: u,
			Source: graph.ClasspathElementRef{
				Key:           cf.CE.Location.Key(),
				CanonicalPath: cf.CE.Location.CanonicalPath,
			},
		})
	}

	g := graph.Link(inputs)
	for _, elem := range allElements {
		for path, t := range elem.LastModified() {
			g.RecordFileTimestamp(elem.Location.CanonicalPath+"!"+path, t)
		}
	}

	stats.Elapsed = time.Since(start)
	logger.Info("scan complete",
		"classes_decoded", stats.ClassfilesDecoded,
		"classes_skipped", stats.ClassfilesSkipped,
		"dirs_visited", stats.DirectoriesVisited,
		"zip_entries_visited", stats.ZipEntriesVisited,
		"elapsed", humanize.Time(start),
		"warnings", h.WarnCount(),
	)

	return &ScanResult{Graph: g, Stats: stats}, nil
}

func (s *Scanner) tempRoot() string {
	if s.TempDir != "" {
		return s.TempDir
	}
	return os.TempDir()
}

func (s *Scanner) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// resolveOneRoot resolves and validates a single classpath root (or a
// manifest-discovered child root) into a ClasspathElement keyed by
// scanOrderKey. A nil, nil return means the root was skipped (reported to h
// already); this function never returns a non-nil error, mirroring the
// skip-and-continue behavior callers expect from both the top-level root
// list and dynamically-spawned manifest children.
func (s *Scanner) resolveOneRoot(root classpath.RelativePath, scanOrderKey string, archives *classpath.ArchiveCache, sysCache *classpath.SystemArchiveCache, h *reporter.Handler) (*classpath.ClasspathElement, error) {
	segs, err := classpath.ParseNestedPath(root.RawPath)
	if err != nil {
		h.HandleError(root.RawPath, reporter.SeverityWarn, err)
		return nil, nil
	}
	canonical, remote, err := classpath.Resolve(root.Base, root.RawPath)
	if err != nil {
		h.HandleError(root.RawPath, reporter.SeverityWarn, err)
		return nil, nil
	}
	if remote {
		fetched, err := archives.Fetch(canonical)
		if err != nil {
			h.HandleError(root.RawPath, reporter.SeverityWarn, err)
			return nil, nil
		}
		canonical = fetched
	}

	archivePath, zipBaseDir := canonical, ""
	if len(segs) > 1 {
		archivePath, zipBaseDir, err = archives.Resolve(root.Base, segs)
		if err != nil {
			h.HandleError(root.RawPath, reporter.SeverityWarn, err)
			return nil, nil
		}
	} else if len(segs) == 1 {
		zipBaseDir = classpath.ZipBaseDirOf(segs)
	}

	loc := classpath.ResolvedLocation{
		CanonicalPath: archivePath,
		ZipBaseDir:    zipBaseDir,
		IsArchive:     hasArchiveLikeSuffix(archivePath),
		IsDirectory:   !hasArchiveLikeSuffix(archivePath),
		IsRemote:      remote,
	}

	ce := classpath.NewClasspathElement(loc, scanOrderKey)
	opts := classpath.ValidateOptions{
		DenySystemArchives: s.Spec.DenySystemArchives,
		SystemCache:        sysCache,
		JarNameFilter:      s.Spec.JarNameFilter,
	}
	if err := ce.Validate(opts); err != nil {
		h.HandleError(loc.CanonicalPath, reporter.SeverityDebug, err)
		return nil, nil
	}
	return ce, nil
}

func (s *Scanner) resolveElements(roots []classpath.RelativePath, archives *classpath.ArchiveCache, sysCache *classpath.SystemArchiveCache, h *reporter.Handler) ([]*classpath.ClasspathElement, error) {
	var elements []*classpath.ClasspathElement
	for i, root := range roots {
		ce, err := s.resolveOneRoot(root, fmt.Sprintf("%06d", i), archives, sysCache, h)
		if err != nil {
			return nil, err
		}
		if ce == nil {
			continue
		}
		elements = append(elements, ce)
	}
	return elements, nil
}

// scanElements walks every element, and recursively resolves and walks any
// manifest Class-Path secondary roots an archive element declares. Children
// are spawned back through the same queue so they are picked up by any idle
// worker rather than scanned inline on their parent's goroutine. It returns
// results ordered by ScanOrderKey (parent before child, sibling before
// sibling) so DeduplicateByPath's first-occurrence-wins rule sees classpath
// order, plus every element -- initial and spawned -- for the caller's
// LastModified pass.
func (s *Scanner) scanElements(ctx context.Context, elements []*classpath.ClasspathElement, archives *classpath.ArchiveCache, sysCache *classpath.SystemArchiveCache, par int, h *reporter.Handler) ([]scan.ElementScanResult, []*classpath.ClasspathElement, Stats, error) {
	var stats Stats

	var mu sync.Mutex
	resultsByKey := make(map[string]scan.ElementScanResult, len(elements))
	allElements := make([]*classpath.ClasspathElement, len(elements))
	copy(allElements, elements)

	initial := make([]scan.Item, len(elements))
	for i, ce := range elements {
		initial[i] = scan.Item{Key: ce.ScanOrderKey, Payload: ce}
	}

	q := scan.NewQueue()
	process := func(_ *scan.Queue, item scan.Item) ([]scan.Item, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		ce := item.Payload.(*classpath.ClasspathElement)
		r, err := scan.ScanElement(ce, &s.Spec)
		if err != nil {
			h.HandleError(ce.Location.CanonicalPath, reporter.SeverityWarn, err)
			return nil, nil
		}
		mu.Lock()
		resultsByKey[ce.ScanOrderKey] = r
		mu.Unlock()
		ce.MarkScanned()

		children, err := ce.Children()
		if err != nil {
			h.HandleError(ce.Location.CanonicalPath, reporter.SeverityWarn, err)
			return nil, nil
		}

		var spawned []scan.Item
		for i, child := range children {
			childCE, err := s.resolveOneRoot(child, scan.ChildKey(ce.ScanOrderKey, i), archives, sysCache, h)
			if err != nil || childCE == nil {
				continue
			}
			mu.Lock()
			allElements = append(allElements, childCE)
			mu.Unlock()
			spawned = append(spawned, scan.Item{Key: childCE.ScanOrderKey, Payload: childCE})
		}
		return spawned, nil
	}

	if err := q.Run(initial, par, process); err != nil {
		return nil, nil, stats, h.HandleFatal("scan", err)
	}

	keys := make([]string, 0, len(resultsByKey))
	for k := range resultsByKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]scan.ElementScanResult, len(keys))
	for i, k := range keys {
		results[i] = resultsByKey[k]
		stats.DirectoriesVisited += results[i].DirEntriesSeen
		stats.ZipEntriesVisited += results[i].ZipEntriesSeen
	}
	return results, allElements, stats, nil
}

func matchesAnyPackage(patterns []string, dottedClassName string) bool {
	for _, p := range patterns {
		if scan.Match(&scan.ScanSpec{DenyPackages: []string{p}}, classNameToPath(dottedClassName), false) == scan.WithinDenied {
			return true
		}
	}
	return false
}

func classNameToPath(dotted string) string {
	out := make([]byte, 0, len(dotted)+6)
	for i := 0; i < len(dotted); i++ {
		if dotted[i] == '.' {
			out = append(out, '/')
		} else {
			out = append(out, dotted[i])
		}
	}
	return string(out) + ".class"
}

func hasArchiveLikeSuffix(p string) bool {
	for _, ext := range []string{".jar", ".zip", ".war", ".ear"} {
		if len(p) >= len(ext) && p[len(p)-len(ext):] == ext {
			return true
		}
	}
	return false
}
