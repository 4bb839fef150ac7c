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
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ResolvedLocation is a canonicalized, classified location. Its identity
// is (CanonicalPath, ZipBaseDir).
type ResolvedLocation struct {
	CanonicalPath string
	ZipBaseDir    string
	IsDirectory   bool
	IsArchive     bool
	IsRemote      bool
}

// Key returns the identity key used for de-duplication across the whole
// scan.
func (r ResolvedLocation) Key() string {
	return r.CanonicalPath + "\x00" + r.ZipBaseDir
}

// ValidateOptions configures Validate's allow/deny checks.
type ValidateOptions struct {
	DenySystemArchives    bool
	SystemCache           *SystemArchiveCache
	ModuleName            string
	AncestorHasRuntimeJar func(dir string) bool
	ManifestSelfSystem    bool
	// JarNameFilter, if non-nil, is consulted for archive locations; it
	// returns false to deny the archive by name.
	JarNameFilter func(name string) bool
}

// Validate checks that the location must exist, be exactly a file or a
// directory, must not be a denied system archive, and must pass
// JarNameFilter.
func Validate(loc ResolvedLocation, opts ValidateOptions) error {
	info, err := os.Stat(loc.CanonicalPath)
	if err != nil {
		return fmt.Errorf("classpath: %s does not exist: %w", loc.CanonicalPath, err)
	}
	isDir := info.IsDir()
	if isDir != loc.IsDirectory || (!isDir && !loc.IsArchive) {
		return fmt.Errorf("classpath: %s is neither a valid directory nor archive location", loc.CanonicalPath)
	}
	if loc.IsArchive {
		if opts.JarNameFilter != nil && !opts.JarNameFilter(filepath.Base(loc.CanonicalPath)) {
			return fmt.Errorf("classpath: %s denied by jar name filter", loc.CanonicalPath)
		}
		if opts.DenySystemArchives && opts.SystemCache != nil {
			if opts.SystemCache.IsSystemArchive(loc.CanonicalPath, opts.ModuleName, opts.ManifestSelfSystem, opts.AncestorHasRuntimeJar) {
				return fmt.Errorf("classpath: %s is a denied system archive", loc.CanonicalPath)
			}
		}
	}
	return nil
}

// State is a ClasspathElement's lifecycle stage.
type State int

const (
	Pending State = iota
	Validating
	Valid
	Invalid
	Scanned
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Validating:
		return "validating"
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	case Scanned:
		return "scanned"
	default:
		return "unknown"
	}
}

// ResourceEntry is one file (resource or classfile) visited while walking
// a ClasspathElement.
type ResourceEntry struct {
	// RelativePath is slash-separated and relative to the element's root
	// (or its ZipBaseDir, for an archive with one).
	RelativePath string
	IsDir        bool
	ModTime      time.Time
	Size         int64
	Open         func() (io.ReadCloser, error)
}

// ClasspathElement is a validated scannable unit: a directory or archive,
// with lazily-discovered manifest children.
type ClasspathElement struct {
	Location     ResolvedLocation
	ScanOrderKey string

	mu    sync.Mutex
	state State
	err   error

	lastModified map[string]time.Time
}

// NewClasspathElement creates a CE in the Pending state.
func NewClasspathElement(loc ResolvedLocation, scanOrderKey string) *ClasspathElement {
	return &ClasspathElement{
		Location:     loc,
		ScanOrderKey: scanOrderKey,
		state:        Pending,
		lastModified: make(map[string]time.Time),
	}
}

// State returns the element's current lifecycle state.
func (ce *ClasspathElement) State() State {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	return ce.state
}

// Validate runs the location validation rules and transitions Pending ->
// Valid/Invalid.
func (ce *ClasspathElement) Validate(opts ValidateOptions) error {
	ce.mu.Lock()
	ce.state = Validating
	ce.mu.Unlock()

	err := Validate(ce.Location, opts)

	ce.mu.Lock()
	defer ce.mu.Unlock()
	if err != nil {
		ce.state = Invalid
		ce.err = err
	} else {
		ce.state = Valid
	}
	return err
}

// MarkScanned transitions Valid -> Scanned. It is owned exclusively by the
// worker that scanned this CE.
func (ce *ClasspathElement) MarkScanned() {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	ce.state = Scanned
}

// RecordLastModified records the modification time observed for a file or
// directory entry at relativePath, so a later caller can detect changes
// via LastModified.
func (ce *ClasspathElement) RecordLastModified(relativePath string, t time.Time) {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	ce.lastModified[relativePath] = t
}

// LastModified returns a snapshot of every recorded file/directory
// timestamp under this element.
func (ce *ClasspathElement) LastModified() map[string]time.Time {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	out := make(map[string]time.Time, len(ce.lastModified))
	for k, v := range ce.lastModified {
		out[k] = v
	}
	return out
}

// Resources returns an iterator over every entry in this element: for a
// directory, a recursive filesystem walk; for an archive, its zip entries
// filtered to those under ZipBaseDir (with ZipBaseDir stripped from
// RelativePath). The iterator itself does not apply scan-spec matching;
// that is the scanner's job (package scan).
func (ce *ClasspathElement) Resources() (func(yield func(ResourceEntry, error) bool), error) {
	if ce.Location.IsDirectory {
		return ce.walkDirectory()
	}
	return ce.walkArchive()
}

func (ce *ClasspathElement) walkDirectory() (func(yield func(ResourceEntry, error) bool), error) {
	root := ce.Location.CanonicalPath
	return func(yield func(ResourceEntry, error) bool) {
		_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if !yield(ResourceEntry{}, err) {
					return fs.SkipAll
				}
				return nil
			}
			rel, relErr := filepath.Rel(root, p)
			if relErr != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if rel == "." {
				return nil
			}
			info, infoErr := d.Info()
			var modTime time.Time
			var size int64
			if infoErr == nil {
				modTime = info.ModTime()
				size = info.Size()
			}
			entry := ResourceEntry{
				RelativePath: rel,
				IsDir:        d.IsDir(),
				ModTime:      modTime,
				Size:         size,
			}
			if !d.IsDir() {
				fullPath := p
				entry.Open = func() (io.ReadCloser, error) { return os.Open(fullPath) }
			}
			// yield's return value only controls directory descent: a
			// "false" for a file entry means "don't emit it", not "abort
			// the walk" (NotWithinAllowed/WithinDenied for one file must
			// not stop its siblings from being visited).
			if !yield(entry, nil) && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		})
	}, nil
}

func (ce *ClasspathElement) walkArchive() (func(yield func(ResourceEntry, error) bool), error) {
	zr, err := zip.OpenReader(ce.Location.CanonicalPath)
	if err != nil {
		return nil, fmt.Errorf("classpath: open archive %s: %w", ce.Location.CanonicalPath, err)
	}
	prefix := ce.Location.ZipBaseDir
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return func(yield func(ResourceEntry, error) bool) {
		defer zr.Close()
		for _, f := range zr.File {
			name := f.Name
			if prefix != "" {
				if !strings.HasPrefix(name, prefix) {
					continue
				}
				name = strings.TrimPrefix(name, prefix)
				if name == "" {
					continue
				}
			}
			zf := f
			entry := ResourceEntry{
				RelativePath: name,
				IsDir:        zf.FileInfo().IsDir(),
				ModTime:      zf.Modified,
				Size:         int64(zf.UncompressedSize64),
			}
			if !entry.IsDir {
				entry.Open = func() (io.ReadCloser, error) { return zf.Open() }
			}
			if !yield(entry, nil) {
				continue
			}
		}
	}, nil
}

// Children parses this element's manifest (if it is an archive and has
// one) and returns the RelativePaths it declares as secondary roots.
func (ce *ClasspathElement) Children() ([]RelativePath, error) {
	if !ce.Location.IsArchive {
		return nil, nil
	}
	zr, err := zip.OpenReader(ce.Location.CanonicalPath)
	if err != nil {
		return nil, fmt.Errorf("classpath: open archive %s: %w", ce.Location.CanonicalPath, err)
	}
	defer zr.Close()

	f, err := zr.Open("META-INF/MANIFEST.MF")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, zip.ErrFormat) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	m, err := ParseManifest(f)
	if err != nil {
		return nil, fmt.Errorf("classpath: parse manifest in %s: %w", ce.Location.CanonicalPath, err)
	}
	parentDir := filepath.Dir(ce.Location.CanonicalPath)
	return m.ResolveClassPath(parentDir), nil
}
