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
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
)

// zipLocalHeaderMagic is the local-file-header magic every well-formed zip
// begins with.
var zipLocalHeaderMagic = []byte{'P', 'K', 0x03, 0x04}

// ArchiveCache resolves a path that is either a remote URI or a
// nested-archive chain down to the innermost local
// archive file. It fetches remote archives to a content-addressed temp
// file, strips self-extracting prefixes, and recursively extracts nested
// segments, memoizing each step behind a singleflight group so concurrent
// demand for the same path performs the work exactly once.
type ArchiveCache struct {
	// HTTPClient fetches remote archives. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// TempDir is the directory new temp files are created in. Defaults to
	// os.TempDir().
	TempDir string

	group singleflight.Group

	mu        sync.Mutex
	tempFiles map[string]struct{}
}

// NewArchiveCache creates an ArchiveCache ready for use.
func NewArchiveCache() *ArchiveCache {
	return &ArchiveCache{tempFiles: make(map[string]struct{})}
}

func (c *ArchiveCache) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *ArchiveCache) tempDir() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return os.TempDir()
}

// tempName derives a content-addressed temp file name from key, so repeated
// resolution of the same URL/nested-segment reuses the same file across the
// lifetime of the cache.
func (c *ArchiveCache) tempName(key string) string {
	h := xxhash.Sum64String(key)
	return filepath.Join(c.tempDir(), fmt.Sprintf("cpscan-%016x.tmp", h))
}

// Fetch downloads the archive at url to a local temp file, returning its
// path. Concurrent calls with the same url share one download.
func (c *ArchiveCache) Fetch(url string) (string, error) {
	v, err, _ := c.group.Do("fetch:"+url, func() (any, error) {
		dest := c.tempName("fetch:" + url)
		if _, err := os.Stat(dest); err == nil {
			return dest, nil
		}
		resp, err := c.httpClient().Get(url)
		if err != nil {
			return "", fmt.Errorf("classpath: fetch %s: %w", url, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("classpath: fetch %s: status %s", url, resp.Status)
		}
		f, err := os.Create(dest)
		if err != nil {
			return "", err
		}
		defer f.Close()
		if _, err := io.Copy(f, resp.Body); err != nil {
			os.Remove(dest)
			return "", fmt.Errorf("classpath: fetch %s: %w", url, err)
		}
		c.track(dest)
		return dest, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// StripSelfExtractingPrefix returns the path of a file that holds the
// archive at path without any bytes before the zip local-file-header
// magic: a copy written beside it as path+".stripped" when a prefix is
// present. If the file already starts with the magic, or contains no
// magic at all, path itself is returned.
func StripSelfExtractingPrefix(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	idx := bytes.Index(data, zipLocalHeaderMagic)
	if idx <= 0 {
		return path, nil
	}
	stripped := path + ".stripped"
	if err := os.WriteFile(stripped, data[idx:], 0o600); err != nil {
		return "", err
	}
	return stripped, nil
}

// ExtractInner extracts the zip entry at entryPath from the archive at
// archivePath to a local temp file and returns its path. Used to resolve
// one "!"-delimited nested-archive segment at a time.
func (c *ArchiveCache) ExtractInner(archivePath, entryPath string) (string, error) {
	key := "extract:" + archivePath + "!" + entryPath
	v, err, _ := c.group.Do(key, func() (any, error) {
		dest := c.tempName(key)
		if _, err := os.Stat(dest); err == nil {
			return dest, nil
		}
		zr, err := zip.OpenReader(archivePath)
		if err != nil {
			return "", fmt.Errorf("classpath: open %s: %w", archivePath, err)
		}
		defer zr.Close()
		f, err := zr.Open(entryPath)
		if err != nil {
			return "", fmt.Errorf("classpath: extract %s from %s: %w", entryPath, archivePath, err)
		}
		defer f.Close()
		out, err := os.Create(dest)
		if err != nil {
			return "", err
		}
		defer out.Close()
		if _, err := io.Copy(out, f); err != nil {
			os.Remove(dest)
			return "", fmt.Errorf("classpath: extract %s from %s: %w", entryPath, archivePath, err)
		}
		c.track(dest)
		return dest, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Resolve walks a parsed nested-path (ParseNestedPath) down to its
// innermost local archive file, fetching/extracting each segment as
// needed, and returns that file's path plus the zip-internal base
// directory implied by a trailing non-archive segment.
func (c *ArchiveCache) Resolve(base string, segs []Segment) (archivePath, zipBaseDir string, err error) {
	if len(segs) == 0 {
		return "", "", fmt.Errorf("classpath: empty nested path")
	}
	cur := segs[0].Path
	if IsRemote(cur) {
		cur, err = c.Fetch(cur)
		if err != nil {
			return "", "", err
		}
	} else {
		cur = resolveOSPath(base, cur)
	}
	cur, err = StripSelfExtractingPrefix(cur)
	if err != nil {
		return "", "", err
	}

	for _, seg := range segs[1:] {
		if !seg.IsArchive {
			// final non-archive segment: zip base dir within cur
			return cur, seg.Path, nil
		}
		cur, err = c.ExtractInner(cur, seg.Path)
		if err != nil {
			return "", "", err
		}
		cur, err = StripSelfExtractingPrefix(cur)
		if err != nil {
			return "", "", err
		}
	}
	return cur, "", nil
}

func (c *ArchiveCache) track(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tempFiles[path] = struct{}{}
}

// Close deletes every tracked temp file.
func (c *ArchiveCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for p := range c.tempFiles {
		if err := os.Remove(p); err != nil && firstErr == nil && !os.IsNotExist(err) {
			firstErr = err
		}
		delete(c.tempFiles, p)
	}
	return firstErr
}
