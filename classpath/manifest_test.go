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
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseManifestBasicHeaders(t *testing.T) {
	t.Parallel()
	raw := "Manifest-Version: 1.0\nMain-Class: com.example.Main\nClass-Path: a.jar b.jar\n"
	m, err := ParseManifest(strings.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "com.example.Main", m.MainClass)
	require.Equal(t, []string{"a.jar", "b.jar"}, m.ClassPath)
}

func TestParseManifestHandlesContinuationLines(t *testing.T) {
	t.Parallel()
	raw := "Class-Path: a.jar b.jar \n c.jar d.jar\n"
	m, err := ParseManifest(strings.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, []string{"a.jar", "b.jar", "c.jar", "d.jar"}, m.ClassPath)
}

func TestParseManifestIgnoresMalformedHeaderLine(t *testing.T) {
	t.Parallel()
	raw := "not a header line without a colon\nMain-Class: com.example.Main\n"
	m, err := ParseManifest(strings.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "com.example.Main", m.MainClass)
}

func TestParseManifestMultiReleaseCaseInsensitive(t *testing.T) {
	t.Parallel()
	m, err := ParseManifest(strings.NewReader("Multi-Release: True\n"))
	require.NoError(t, err)
	require.True(t, m.MultiRelease)
}

func TestResolveClassPathAppliesArchiveParentAsBase(t *testing.T) {
	t.Parallel()
	m := &Manifest{ClassPath: []string{"lib/a.jar", "lib/b.jar"}}
	resolved := m.ResolveClassPath("/opt/app")
	require.Len(t, resolved, 2)
	require.Equal(t, "/opt/app", resolved[0].Base)
	require.Equal(t, "lib/a.jar", resolved[0].RawPath)
}

func TestSelfIdentifiesAsSystem(t *testing.T) {
	t.Parallel()
	m := &Manifest{ImplementationTitle: "Java Runtime Environment"}
	require.True(t, m.SelfIdentifiesAsSystem())

	other := &Manifest{ImplementationTitle: "My Application"}
	require.False(t, other.SelfIdentifiesAsSystem())
}
