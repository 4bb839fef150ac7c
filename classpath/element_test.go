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
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateRejectsMissingPath(t *testing.T) {
	t.Parallel()
	loc := ResolvedLocation{CanonicalPath: filepath.Join(t.TempDir(), "missing.jar"), IsArchive: true}
	err := Validate(loc, ValidateOptions{})
	require.Error(t, err)
}

func TestValidateRejectsJarNameFilterDenial(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	jarPath := filepath.Join(dir, "denied.jar")
	require.NoError(t, os.WriteFile(jarPath, []byte("not a real jar"), 0o644))

	loc := ResolvedLocation{CanonicalPath: jarPath, IsArchive: true}
	err := Validate(loc, ValidateOptions{JarNameFilter: func(name string) bool { return name != "denied.jar" }})
	require.Error(t, err)
}

func TestValidateAcceptsOrdinaryDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	loc := ResolvedLocation{CanonicalPath: dir, IsDirectory: true}
	require.NoError(t, Validate(loc, ValidateOptions{}))
}

func TestClasspathElementWalkDirectoryYieldsRelativeSlashPaths(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "com", "example"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "com", "example", "Foo.class"), []byte("x"), 0o644))

	ce := NewClasspathElement(ResolvedLocation{CanonicalPath: root, IsDirectory: true}, "000000")
	iter, err := ce.Resources()
	require.NoError(t, err)

	var paths []string
	iter(func(e ResourceEntry, err error) bool {
		require.NoError(t, err)
		if !e.IsDir {
			paths = append(paths, e.RelativePath)
		}
		return true
	})
	require.Contains(t, paths, "com/example/Foo.class")
}

func TestClasspathElementWalkArchiveStripsZipBaseDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	jarPath := filepath.Join(dir, "app.jar")
	f, err := os.Create(jarPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("BOOT-INF/classes/com/example/Foo.class")
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	ce := NewClasspathElement(ResolvedLocation{
		CanonicalPath: jarPath,
		IsArchive:     true,
		ZipBaseDir:    "BOOT-INF/classes",
	}, "000000")
	iter, err := ce.Resources()
	require.NoError(t, err)

	var paths []string
	iter(func(e ResourceEntry, err error) bool {
		require.NoError(t, err)
		if !e.IsDir {
			paths = append(paths, e.RelativePath)
		}
		return true
	})
	require.Equal(t, []string{"com/example/Foo.class"}, paths)
}

func TestClasspathElementChildrenFromManifestClassPath(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	jarPath := filepath.Join(dir, "app.jar")
	f, err := os.Create(jarPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("META-INF/MANIFEST.MF")
	require.NoError(t, err)
	_, err = w.Write([]byte("Manifest-Version: 1.0\nClass-Path: lib/a.jar lib/b.jar\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	ce := NewClasspathElement(ResolvedLocation{CanonicalPath: jarPath, IsArchive: true}, "000000")
	children, err := ce.Children()
	require.NoError(t, err)
	require.Len(t, children, 2)
	require.Equal(t, dir, children[0].Base)
	require.Equal(t, "lib/a.jar", children[0].RawPath)
}

func TestClasspathElementChildrenNilWithoutManifest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	jarPath := filepath.Join(dir, "nomanifest.jar")
	f, err := os.Create(jarPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	ce := NewClasspathElement(ResolvedLocation{CanonicalPath: jarPath, IsArchive: true}, "000000")
	children, err := ce.Children()
	require.NoError(t, err)
	require.Nil(t, children)
}

func TestRecordAndSnapshotLastModified(t *testing.T) {
	t.Parallel()
	ce := NewClasspathElement(ResolvedLocation{}, "000000")
	require.Empty(t, ce.LastModified())

	when := time.Now()
	ce.RecordLastModified("com/example/Foo.class", when)
	snapshot := ce.LastModified()
	require.Len(t, snapshot, 1)
	require.WithinDuration(t, when, snapshot["com/example/Foo.class"], 0)
}
