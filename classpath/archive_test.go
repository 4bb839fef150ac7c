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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestStripSelfExtractingPrefixNoOpOnPlainZip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.jar")
	writeTestZip(t, path, map[string]string{"a.txt": "hi"})

	out, err := StripSelfExtractingPrefix(path)
	require.NoError(t, err)
	require.Equal(t, path, out)
}

func TestStripSelfExtractingPrefixStripsLeadingBytes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.jar")
	writeTestZip(t, plain, map[string]string{"a.txt": "hi"})
	plainData, err := os.ReadFile(plain)
	require.NoError(t, err)

	selfExtracting := filepath.Join(dir, "sfx.jar")
	var prefixed []byte
	prefixed = append(prefixed, []byte("#!/bin/sh\nexit 0\n")...)
	prefixed = append(prefixed, plainData...)
	require.NoError(t, os.WriteFile(selfExtracting, prefixed, 0o644))

	out, err := StripSelfExtractingPrefix(selfExtracting)
	require.NoError(t, err)
	require.NotEqual(t, selfExtracting, out)

	strippedData, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, plainData, strippedData)
}

func TestArchiveCacheExtractInnerIsIdempotentAndTracked(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	outer := filepath.Join(dir, "outer.jar")
	writeTestZip(t, outer, map[string]string{"inner.jar": "fake-inner-bytes"})

	c := NewArchiveCache()
	c.TempDir = dir
	defer c.Close()

	p1, err := c.ExtractInner(outer, "inner.jar")
	require.NoError(t, err)
	p2, err := c.ExtractInner(outer, "inner.jar")
	require.NoError(t, err)
	require.Equal(t, p1, p2)

	data, err := os.ReadFile(p1)
	require.NoError(t, err)
	require.Equal(t, "fake-inner-bytes", string(data))
}

func TestArchiveCacheCloseRemovesTrackedTempFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	outer := filepath.Join(dir, "outer.jar")
	writeTestZip(t, outer, map[string]string{"inner.jar": "x"})

	c := NewArchiveCache()
	c.TempDir = dir
	path, err := c.ExtractInner(outer, "inner.jar")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestArchiveCacheResolveMultiSegmentNestedPath(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	outer := filepath.Join(dir, "outer.jar")
	writeTestZip(t, outer, map[string]string{"BOOT-INF/classes/marker": "x"})

	c := NewArchiveCache()
	c.TempDir = dir
	defer c.Close()

	segs, err := ParseNestedPath("outer.jar!BOOT-INF/classes")
	require.NoError(t, err)
	segs[0].Path = outer

	archivePath, zipBaseDir, err := c.Resolve("", segs)
	require.NoError(t, err)
	require.Equal(t, outer, archivePath)
	require.Equal(t, "BOOT-INF/classes", zipBaseDir)
}
