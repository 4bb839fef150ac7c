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

package scan

import (
	"fmt"
	"io"
	"strings"

	"github.com/cpscan/core/classpath"
)

// ClassfileResource is an emitted ".class" hit, ready for classfile
// decoding.
type ClassfileResource struct {
	CE           *classpath.ClasspathElement
	RelativePath string
	Open         func() (io.ReadCloser, error)
}

// ResourceMatch is an emitted hit against a user-registered path predicate.
type ResourceMatch struct {
	CE            *classpath.ClasspathElement
	RelativePath  string
	PredicateName string
	Open          func() (io.ReadCloser, error)
}

// ElementScanResult is everything produced while walking one
// ClasspathElement: the classfile and resource hits, plus telemetry.
type ElementScanResult struct {
	Classfiles     []ClassfileResource
	Resources      []ResourceMatch
	DirEntriesSeen int
	ZipEntriesSeen int
}

// ScanElement walks ce and classifies every entry's relative path against
// the given matcher, emitting ClassfileResource for every strictly-named
// ".class" path and a ResourceMatch for every ResourcePredicate whose
// Pattern matches. It also records file/directory modification times on
// ce for later change detection.
func ScanElement(ce *classpath.ClasspathElement, spec *ScanSpec) (ElementScanResult, error) {
	var result ElementScanResult

	if ce.Location.IsArchive && !spec.ScanJars {
		return result, nil
	}
	if ce.Location.IsDirectory && !spec.ScanDirs {
		return result, nil
	}

	iter, err := ce.Resources()
	if err != nil {
		return result, fmt.Errorf("scan: %s: %w", ce.Location.CanonicalPath, err)
	}

	var iterErr error
	iter(func(entry classpath.ResourceEntry, entryErr error) bool {
		if entryErr != nil {
			iterErr = entryErr
			return false
		}

		if ce.Location.IsArchive {
			result.ZipEntriesSeen++
		} else {
			result.DirEntriesSeen++
		}

		ce.RecordLastModified(entry.RelativePath, entry.ModTime)

		match := Match(spec, entry.RelativePath, entry.IsDir)
		switch match {
		case NotWithinAllowed, WithinDenied:
			return false // skip subtree (dirs) / skip emitting (files)
		case AncestorOfAllowed:
			return true // descend, but don't emit
		}

		if entry.IsDir {
			return true
		}

		if strings.HasSuffix(entry.RelativePath, ".class") {
			result.Classfiles = append(result.Classfiles, ClassfileResource{
				CE:           ce,
				RelativePath: entry.RelativePath,
				Open:         entry.Open,
			})
		}
		for _, pred := range spec.ResourcePredicates {
			if globOrPrefixMatch(pred.Pattern, entry.RelativePath) {
				result.Resources = append(result.Resources, ResourceMatch{
					CE:            ce,
					RelativePath:  entry.RelativePath,
					PredicateName: pred.Name,
					Open:          entry.Open,
				})
			}
		}
		return true
	})
	if iterErr != nil {
		return result, fmt.Errorf("scan: %s: %w", ce.Location.CanonicalPath, iterErr)
	}
	return result, nil
}

// DeduplicateByPath implements relative-path shadowing: the first
// occurrence wins. It must be called with per-element results in the
// final (post-reordering) classpath order, as a single-threaded pass --
// the same first-seen-wins rule graph.Link applies to classfiles, but for
// the generic classfile and resource streams themselves, before either is
// handed to the decoder or a resource handler.
func DeduplicateByPath(ordered []ElementScanResult) ElementScanResult {
	var out ElementScanResult
	seenClass := make(map[string]bool)
	seenResource := make(map[string]bool)
	for _, r := range ordered {
		out.DirEntriesSeen += r.DirEntriesSeen
		out.ZipEntriesSeen += r.ZipEntriesSeen
		for _, cf := range r.Classfiles {
			if seenClass[cf.RelativePath] {
				continue
			}
			seenClass[cf.RelativePath] = true
			out.Classfiles = append(out.Classfiles, cf)
		}
		for _, rm := range r.Resources {
			key := rm.PredicateName + "\x00" + rm.RelativePath
			if seenResource[key] {
				continue
			}
			seenResource[key] = true
			out.Resources = append(out.Resources, rm)
		}
	}
	return out
}
