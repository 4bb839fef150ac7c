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

// Package reporter provides shared error and warning accumulation for the
// scan pipeline. It mirrors the accumulate-then-surface-first-error pattern
// used across the scan phases: root resolution, the scan.Queue workers, and
// the classfile decoding loop report through a Handler instead of returning
// directly, so that one bad archive or malformed classfile never aborts an
// otherwise-healthy scan.
package reporter

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidInput is a sentinel for a scan that failed because of its
// input. Handler.Error does not return it; it returns the first reported
// error itself.
var ErrInvalidInput = errors.New("scan failed: invalid input")

// ErrorWithPath decorates an error with the classpath location (and, where
// applicable, the in-archive relative path) that caused it.
type ErrorWithPath interface {
	error
	Path() string
	Unwrap() error
}

// Error wraps err with the classpath/in-archive path that produced it.
func Error(path string, err error) ErrorWithPath {
	return errorWithPath{path: path, underlying: err}
}

// Errorf is like Error but builds the underlying error with fmt.Errorf.
func Errorf(path string, format string, args ...any) ErrorWithPath {
	return errorWithPath{path: path, underlying: fmt.Errorf(format, args...)}
}

type errorWithPath struct {
	path       string
	underlying error
}

func (e errorWithPath) Error() string  { return fmt.Sprintf("%s: %v", e.path, e.underlying) }
func (e errorWithPath) Path() string   { return e.path }
func (e errorWithPath) Unwrap() error  { return e.underlying }

var _ ErrorWithPath = errorWithPath{}

// Severity classifies a reported problem: Debug/Warn problems never fail
// a scan; Fatal problems do.
type Severity int

const (
	// SeverityDebug is for silent skips (denied system archive, filtered
	// jar name, denied package) that are expected and not noteworthy.
	SeverityDebug Severity = iota
	// SeverityWarn is for recoverable per-entry problems (malformed
	// classfile, unreadable archive or manifest) that are recorded but do
	// not stop the scan.
	SeverityWarn
	// SeverityFatal is for a worker exception that must propagate and
	// cancel the scan.
	SeverityFatal
)

// Reporter receives every problem encountered during a scan. Implementations
// must be safe for concurrent use: scan.Queue workers and the classfile
// decoder may all report concurrently. A non-nil error returned from
// Report for a Warn/Debug severity problem replaces the reported error in
// what the Handler records (Error and Errors return it); it does not stop
// the scan or change the problem's severity.
type Reporter interface {
	Report(severity Severity, path string, err error) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(severity Severity, path string, err error) error

func (f ReporterFunc) Report(severity Severity, path string, err error) error {
	return f(severity, path, err)
}

// defaultReporter logs nothing and never promotes to fatal; it just lets
// the Handler accumulate. The default policy never fails on recoverable
// problems, only on SeverityFatal.
type defaultReporter struct{}

func (defaultReporter) Report(severity Severity, _ string, _ error) error {
	if severity == SeverityFatal {
		return errors.New("fatal")
	}
	return nil
}

// Handler accumulates problems reported during one scan phase. It is safe
// for concurrent use by multiple scan.Queue workers.
type Handler struct {
	rep Reporter

	mu     sync.Mutex
	errs   []error
	warned int
}

// NewHandler creates a Handler that delegates to rep. If rep is nil, a
// default Reporter is used (see defaultReporter).
func NewHandler(rep Reporter) *Handler {
	if rep == nil {
		rep = defaultReporter{}
	}
	return &Handler{rep: rep}
}

// HandleError reports a non-fatal, recoverable problem. It never returns an error that should stop the
// caller's current unit of work; call HandleFatal for that.
func (h *Handler) HandleError(path string, severity Severity, err error) {
	if err == nil {
		return
	}
	wrapped := Error(path, err)
	if promoted := h.rep.Report(severity, path, err); promoted != nil {
		err = promoted
		wrapped = Error(path, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if severity == SeverityWarn {
		h.warned++
	}
	h.errs = append(h.errs, wrapped)
}

// HandleFatal reports a fatal problem and returns the error that should
// be returned from the current call stack.
func (h *Handler) HandleFatal(path string, err error) error {
	if err == nil {
		return nil
	}
	h.rep.Report(SeverityFatal, path, err)
	wrapped := Error(path, err)
	h.mu.Lock()
	h.errs = append(h.errs, wrapped)
	h.mu.Unlock()
	return wrapped
}

// Error returns the first reported error, or nil if none were reported.
// The top-level API either returns a clean result or the first error.
func (h *Handler) Error() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.errs) == 0 {
		return nil
	}
	return h.errs[0]
}

// Errors returns every reported error, in report order.
func (h *Handler) Errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]error, len(h.errs))
	copy(out, h.errs)
	return out
}

// WarnCount returns the number of SeverityWarn problems reported.
func (h *Handler) WarnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.warned
}
