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

package reporter

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleErrorAccumulatesAndCountsWarnings(t *testing.T) {
	t.Parallel()
	h := NewHandler(nil)
	h.HandleError("a.jar!Foo.class", SeverityWarn, errors.New("malformed"))
	h.HandleError("b.jar!Bar.class", SeverityDebug, errors.New("denied"))

	require.Equal(t, 1, h.WarnCount())
	require.Len(t, h.Errors(), 2)
	require.Error(t, h.Error())
}

func TestDefaultReporterNeverFailsOnWarnOrDebug(t *testing.T) {
	t.Parallel()
	h := NewHandler(nil)
	h.HandleError("x", SeverityWarn, errors.New("boom"))
	// the default reporter accumulates but the caller decides whether to
	// treat Error() as fatal; Handler itself never aborts a scan.
	require.NotNil(t, h.Error())
}

func TestHandleFatalReturnsWrappedError(t *testing.T) {
	t.Parallel()
	h := NewHandler(nil)
	err := h.HandleFatal("scan", errors.New("worker panic"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "scan")
	require.Contains(t, err.Error(), "worker panic")
}

func TestReporterCanPromoteToFatal(t *testing.T) {
	t.Parallel()
	promote := ReporterFunc(func(severity Severity, path string, err error) error {
		if severity == SeverityWarn {
			return errors.New("promoted: " + err.Error())
		}
		return nil
	})
	h := NewHandler(promote)
	h.HandleError("x", SeverityWarn, errors.New("malformed"))
	require.Contains(t, h.Error().Error(), "promoted")
}

func TestHandlerSafeForConcurrentUse(t *testing.T) {
	t.Parallel()
	h := NewHandler(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.HandleError("path", SeverityWarn, errors.New("e"))
		}(i)
	}
	wg.Wait()
	require.Equal(t, 50, h.WarnCount())
	require.Len(t, h.Errors(), 50)
}
