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

// Package trie wraps an adaptive radix tree keyed by byte-string names
// (fully-qualified class/package names, canonical classpath-element keys)
// so the rest of cpscan can do prefix-ordered lookups without depending on
// the underlying tree implementation directly. The graph package uses it
// for its by-name class table and package-prefix queries.
package trie

import (
	art "github.com/plar/go-adaptive-radix-tree"
)

// Tree is a prefix-ordered string-keyed map. The zero value is not usable;
// use New.
type Tree[V any] struct {
	t art.Tree
}

// New creates an empty Tree.
func New[V any]() *Tree[V] {
	return &Tree[V]{t: art.New()}
}

// Insert stores value under key, overwriting any previous value.
func (t *Tree[V]) Insert(key string, value V) {
	t.t.Insert(art.Key(key), value)
}

// Get returns the value stored under key, if any.
func (t *Tree[V]) Get(key string) (V, bool) {
	v, ok := t.t.Search(art.Key(key))
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Delete removes key, returning whether it was present.
func (t *Tree[V]) Delete(key string) bool {
	_, ok := t.t.Delete(art.Key(key))
	return ok
}

// Len returns the number of entries.
func (t *Tree[V]) Len() int {
	return t.t.Size()
}

// HasPrefix reports whether any key in the tree starts with prefix (for
// example a package name like "com.example."); only membership, not the
// value, is reported.
func (t *Tree[V]) HasPrefix(prefix string) bool {
	found := false
	t.t.ForEachPrefix(art.Key(prefix), func(art.Node) bool {
		found = true
		return false
	})
	return found
}

// WalkPrefix calls fn for every key with the given prefix, in lexicographic
// order, stopping early if fn returns false.
func (t *Tree[V]) WalkPrefix(prefix string, fn func(key string, value V) bool) {
	t.t.ForEachPrefix(art.Key(prefix), func(n art.Node) bool {
		return fn(string(n.Key()), n.Value().(V))
	})
}

// Walk calls fn for every key in the tree, in lexicographic order, stopping
// early if fn returns false.
func (t *Tree[V]) Walk(fn func(key string, value V) bool) {
	t.t.ForEach(func(n art.Node) bool {
		return fn(string(n.Key()), n.Value().(V))
	})
}
