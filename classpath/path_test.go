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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseNestedPathSingleArchive(t *testing.T) {
	t.Parallel()
	segs, err := ParseNestedPath("/libs/outer.jar")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.True(t, segs[0].IsArchive)
}

func TestParseNestedPathArchiveInArchive(t *testing.T) {
	t.Parallel()
	segs, err := ParseNestedPath("outer.jar!inner.jar")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	require.True(t, segs[0].IsArchive)
	require.True(t, segs[1].IsArchive)
}

func TestParseNestedPathFinalNonArchiveIsZipBaseDir(t *testing.T) {
	t.Parallel()
	segs, err := ParseNestedPath("outer.jar!BOOT-INF/classes")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	require.True(t, segs[0].IsArchive)
	require.False(t, segs[1].IsArchive)
	require.Equal(t, "BOOT-INF/classes", ZipBaseDirOf(segs))
}

func TestParseNestedPathRejectsNonArchiveMiddleSegment(t *testing.T) {
	t.Parallel()
	_, err := ParseNestedPath("notanarchive!inner.jar")
	require.Error(t, err)
}

func TestParseNestedPathNormalizesTrailingBang(t *testing.T) {
	t.Parallel()
	segs, err := ParseNestedPath("outer.jar!/")
	require.NoError(t, err)
	require.Len(t, segs, 1)
}

func TestIsRemoteDetectsHTTPURIs(t *testing.T) {
	t.Parallel()
	require.True(t, IsRemote("https://example.com/lib.jar"))
	require.True(t, IsRemote("http://example.com/lib.jar"))
	require.False(t, IsRemote("/local/path/lib.jar"))
}

func TestResolveAppliesBaseOnlyToRelativePaths(t *testing.T) {
	t.Parallel()
	canonical, remote, err := Resolve("/home/user", "lib/foo.jar")
	require.NoError(t, err)
	require.False(t, remote)
	require.Equal(t, "/home/user/lib/foo.jar", canonical)
}

func TestResolveLeavesAbsolutePathsUntouchedByBase(t *testing.T) {
	t.Parallel()
	canonical, remote, err := Resolve("/home/user", "/opt/libs/foo.jar")
	require.NoError(t, err)
	require.False(t, remote)
	require.Equal(t, "/opt/libs/foo.jar", canonical)
}

func TestCanonicalizeFallsBackToCleanWhenPathDoesNotExist(t *testing.T) {
	t.Parallel()
	require.Equal(t, filepath.Clean("/no/such/path/../lib.jar"), Canonicalize("/no/such/path/../lib.jar"))
}

func TestResolveFollowsSymlinksToACommonIdentity(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(real, link))

	viaReal, _, err := Resolve("", real)
	require.NoError(t, err)
	viaLink, _, err := Resolve("", link)
	require.NoError(t, err)
	require.Equal(t, viaReal, viaLink)
}

func TestResolveFlagsRemoteURIsWithoutCanonicalizing(t *testing.T) {
	t.Parallel()
	canonical, remote, err := Resolve("", "https://example.com/lib.jar")
	require.NoError(t, err)
	require.True(t, remote)
	require.Equal(t, "https://example.com/lib.jar", canonical)
}
