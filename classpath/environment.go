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
	"path/filepath"
	"runtime"
	"strings"
)

// DiscoverOptions configures DiscoverEnvironment.
type DiscoverOptions struct {
	// IncludeSystemRoot adds GOROOT (this runtime's closest analogue to a
	// JVM's system/bootstrap classloader root) as the first candidate.
	IncludeSystemRoot bool
	// CallerStackDepth bounds how many frames of runtime.Callers are
	// walked to build the "caller-stack" portion (outer-to-inner). Zero
	// disables this source; it is skipped with a log note rather than
	// treated as an error.
	CallerStackDepth int
	// ContextRoots are roots contributed by whatever the embedding
	// application considers its "thread-context" classloader analogue.
	// Go has no implicit per-goroutine loader, so this is always explicit.
	ContextRoots []string
	// UserAdded are explicitly caller-added roots, consulted last.
	UserAdded []string
	// OnSkipped is called (if non-nil) whenever a discovery source is
	// unavailable and skipped, for the caller to log.
	OnSkipped func(source, reason string)
}

// DiscoverEnvironment assembles candidate class-loading roots in a fixed
// precedence order: system -> caller-stack (outer-to-inner) ->
// thread-context -> user-added, then removes any root that is an
// ancestor of another discovered root.
func DiscoverEnvironment(opts DiscoverOptions) []RelativePath {
	var roots []string

	if opts.IncludeSystemRoot {
		if gr := runtime.GOROOT(); gr != "" {
			roots = append(roots, gr)
		} else if opts.OnSkipped != nil {
			opts.OnSkipped("system", "GOROOT unavailable")
		}
	}

	if opts.CallerStackDepth > 0 {
		frames := callerStackDirs(opts.CallerStackDepth)
		if len(frames) == 0 && opts.OnSkipped != nil {
			opts.OnSkipped("caller-stack", "no caller frames available")
		}
		roots = append(roots, frames...)
	} else if opts.OnSkipped != nil {
		opts.OnSkipped("caller-stack", "CallerStackDepth is 0")
	}

	roots = append(roots, opts.ContextRoots...)
	roots = append(roots, opts.UserAdded...)

	roots = removeAncestorDuplicates(dedupeStable(roots))

	out := make([]RelativePath, 0, len(roots))
	for _, r := range roots {
		out = append(out, RelativePath{RawPath: r})
	}
	return out
}

// callerStackDirs walks the calling goroutine's frames (outer-to-inner,
// i.e. furthest-from-DiscoverEnvironment first) and returns the
// directories containing each frame's source file. This is the closest
// Go-native analogue available to a JVM calling frame's classloader: Go
// has no reflective call-stack-to-classloader mapping, so the source
// directory of each calling function stands in for "the root that loaded
// this frame".
func callerStackDirs(maxDepth int) []string {
	pcs := make([]uintptr, maxDepth)
	// Skip runtime.Callers itself and this function's frame.
	n := runtime.Callers(2, pcs)
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])

	var dirs []string
	for {
		frame, more := frames.Next()
		if frame.File != "" {
			dirs = append(dirs, filepath.Dir(frame.File))
		}
		if !more {
			break
		}
	}
	// Reverse to outer-to-inner (runtime.Callers yields inner-to-outer).
	for i, j := 0, len(dirs)-1; i < j; i, j = i+1, j-1 {
		dirs[i], dirs[j] = dirs[j], dirs[i]
	}
	return dirs
}

func dedupeStable(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// removeAncestorDuplicates drops any root that is a filesystem ancestor of
// another root in the list.
func removeAncestorDuplicates(roots []string) []string {
	cleaned := make([]string, len(roots))
	for i, r := range roots {
		cleaned[i] = filepath.Clean(r)
	}

	isAncestor := func(ancestor, descendant string) bool {
		if ancestor == descendant {
			return false
		}
		rel, err := filepath.Rel(ancestor, descendant)
		if err != nil {
			return false
		}
		return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
	}

	keep := make([]bool, len(cleaned))
	for i := range keep {
		keep[i] = true
	}
	for i, a := range cleaned {
		for j, b := range cleaned {
			if i == j {
				continue
			}
			if isAncestor(a, b) {
				keep[i] = false
			}
		}
	}

	out := make([]string, 0, len(cleaned))
	for i := range cleaned {
		if keep[i] {
			out = append(out, roots[i])
		}
	}
	return out
}
