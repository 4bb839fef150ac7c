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

// Package graph implements the cross-linker and the scan result: a
// single-threaded pass that links a collection of classfile.Unlinked
// records into a bidirectional class graph, and the read-only query
// surface over the result.
package graph

import (
	"sort"
	"time"

	"github.com/cpscan/core/classfile"
	"github.com/cpscan/core/internal/trie"
)

// ClassInfo is one linked node in the class graph. A class referenced only
// as a superclass, interface, or inner/outer class but never itself scanned
// is represented as an external placeholder (IsExternal true, Unlinked nil).
// Annotation and field-type references are indexed by name only and create
// no node.
type ClassInfo struct {
	Name       string
	IsExternal bool

	Unlinked *classfile.Unlinked

	Superclass *ClassInfo
	Subclasses []*ClassInfo

	Interfaces   []*ClassInfo
	Implementors []*ClassInfo

	ClassAnnotations   []classfile.AnnotationInfo
	AnnotatedByClasses map[string][]*ClassInfo // annotation name -> classes carrying it at class level
	AnnotatedByMethods map[string][]*ClassInfo // annotation name -> classes carrying it at method level
	AnnotatedByFields  map[string][]*ClassInfo // annotation name -> classes carrying it at field level

	ContainedIn *ClassInfo
	Contains    []*ClassInfo

	FieldTypes map[string]bool // field descriptor human-readable name -> present
}

// Graph is the linked output plus its lookup indexes. Names are kept in
// a radix tree rather than a plain map so prefix queries (e.g. "every
// class in package com.example") are a tree walk instead of a full scan.
type Graph struct {
	byName *trie.Tree[*ClassInfo]
	order  []*ClassInfo // linking order == shadowing order (first-seen wins)

	annotationToClasses map[string][]*ClassInfo
	annotationToMethods map[string][]*ClassInfo
	annotationToFields  map[string][]*ClassInfo
	fieldTypeToClasses  map[string][]*ClassInfo

	classpathElements []ClasspathElementRef
	fileTimestamps    map[string]time.Time
}

// ClasspathElementRef is an opaque, caller-supplied identifier for the
// classpath.ClasspathElement a classfile.Unlinked came from, kept here
// without importing package classpath (which would create an import
// cycle through scan).
type ClasspathElementRef struct {
	Key          string
	CanonicalPath string
}

// Input is one classfile.Unlinked plus the source-ordering information
// Link needs to implement shadowing.
type Input struct {
	Unlinked *classfile.Unlinked
	Source   ClasspathElementRef
}

func newClassInfo(name string, external bool) *ClassInfo {
	return &ClassInfo{
		Name:               name,
		IsExternal:         external,
		AnnotatedByClasses: make(map[string][]*ClassInfo),
		AnnotatedByMethods: make(map[string][]*ClassInfo),
		AnnotatedByFields:  make(map[string][]*ClassInfo),
		FieldTypes:         make(map[string]bool),
	}
}

// Link runs a single-threaded cross-linking pass over inputs, in the
// order given -- callers must supply inputs in final classpath-element
// scan order. Re-encountering a class name already linked
// leaves its earlier binding intact and the later Unlinked is ignored
// entirely: its relations are not linked.
//
// Link never issues I/O and never takes external locks; it owns every
// byte it touches for the duration of the call.
func Link(inputs []Input) *Graph {
	g := &Graph{
		byName:              trie.New[*ClassInfo](),
		annotationToClasses: make(map[string][]*ClassInfo),
		annotationToMethods: make(map[string][]*ClassInfo),
		annotationToFields:  make(map[string][]*ClassInfo),
		fieldTypeToClasses:  make(map[string][]*ClassInfo),
		fileTimestamps:      make(map[string]time.Time),
	}

	seenNames := make(map[string]bool)
	for _, in := range inputs {
		if in.Unlinked == nil {
			continue
		}
		name := in.Unlinked.ClassName
		if seenNames[name] {
			continue // first-seen wins; later Unlinked for the same name is shadowed
		}
		seenNames[name] = true
		g.bindClass(name, in.Unlinked)
		bound, _ := g.byName.Get(name)
		g.order = append(g.order, bound)
		g.classpathElements = append(g.classpathElements, in.Source)
	}

	for _, in := range inputs {
		if in.Unlinked == nil || !seenNames[in.Unlinked.ClassName] {
			continue
		}
		ci, _ := g.byName.Get(in.Unlinked.ClassName)
		if ci.Unlinked != in.Unlinked {
			continue // shadowed binding; relations already linked from the winning copy
		}
		g.linkRelations(ci, in.Unlinked)
	}

	return g
}

// getOrCreate returns the existing node for name, or creates an external
// placeholder node.
func (g *Graph) getOrCreate(name string) *ClassInfo {
	if ci, ok := g.byName.Get(name); ok {
		return ci
	}
	ci := newClassInfo(name, true)
	g.byName.Insert(name, ci)
	return ci
}

func (g *Graph) bindClass(name string, u *classfile.Unlinked) {
	ci, ok := g.byName.Get(name)
	if !ok {
		ci = newClassInfo(name, false)
		g.byName.Insert(name, ci)
	} else {
		ci.IsExternal = false
	}
	ci.Unlinked = u
	ci.ClassAnnotations = u.ClassAnnotations
}

func (g *Graph) linkRelations(ci *ClassInfo, u *classfile.Unlinked) {
	if u.SuperclassName != "" {
		super := g.getOrCreate(u.SuperclassName)
		ci.Superclass = super
		super.Subclasses = append(super.Subclasses, ci)
	}

	for _, ifaceName := range u.Interfaces {
		iface := g.getOrCreate(ifaceName)
		ci.Interfaces = append(ci.Interfaces, iface)
		iface.Implementors = append(iface.Implementors, ci)
	}

	ci.ClassAnnotations = make([]classfile.AnnotationInfo, 0, len(u.ClassAnnotations))
	for _, a := range u.ClassAnnotations {
		merged := mergeDefaults(a, g, ci)
		ci.ClassAnnotations = append(ci.ClassAnnotations, merged)
		ci.AnnotatedByClasses[merged.Name] = append(ci.AnnotatedByClasses[merged.Name], ci)
		g.annotationToClasses[merged.Name] = append(g.annotationToClasses[merged.Name], ci)
	}
	for _, a := range u.MethodAnnotations {
		merged := mergeDefaults(a, g, ci)
		ci.AnnotatedByMethods[merged.Name] = append(ci.AnnotatedByMethods[merged.Name], ci)
		g.annotationToMethods[merged.Name] = append(g.annotationToMethods[merged.Name], ci)
	}
	for _, a := range u.FieldAnnotations {
		merged := mergeDefaults(a, g, ci)
		ci.AnnotatedByFields[merged.Name] = append(ci.AnnotatedByFields[merged.Name], ci)
		g.annotationToFields[merged.Name] = append(g.annotationToFields[merged.Name], ci)
	}

	for _, c := range u.Containments {
		inner := g.getOrCreate(c.Inner)
		outer := g.getOrCreate(c.Outer)
		if inner.ContainedIn == nil {
			inner.ContainedIn = outer
			outer.Contains = append(outer.Contains, inner)
		}
	}

	for _, f := range u.Fields {
		typeName := f.DescriptorHumanReadable
		if !ci.FieldTypes[typeName] {
			ci.FieldTypes[typeName] = true
			g.fieldTypeToClasses[typeName] = append(g.fieldTypeToClasses[typeName], ci)
		}
	}
}

// mergeDefaults folds an annotation type's declared default parameter
// values into a concrete application of that annotation. The annotation
// type's class may not have been linked yet (or may never be scanned at
// all), in which case no defaults are merged and a is returned unchanged.
func mergeDefaults(a classfile.AnnotationInfo, g *Graph, _ *ClassInfo) classfile.AnnotationInfo {
	annoType, ok := g.byName.Get(a.Name)
	if !ok || annoType.Unlinked == nil || len(annoType.Unlinked.AnnotationDefaults) == 0 {
		return a
	}
	return classfile.AddDefaults(a, annoType.Unlinked.AnnotationDefaults)
}

// RecordFileTimestamp stores a file's observed last-modified time.
func (g *Graph) RecordFileTimestamp(path string, t time.Time) {
	g.fileTimestamps[path] = t
}

// FileTimestamps returns a snapshot of every recorded file timestamp.
func (g *Graph) FileTimestamps() map[string]time.Time {
	out := make(map[string]time.Time, len(g.fileTimestamps))
	for k, v := range g.fileTimestamps {
		out[k] = v
	}
	return out
}

// ClasspathElements returns the classpath element references in final
// scan order.
func (g *Graph) ClasspathElements() []ClasspathElementRef {
	out := make([]ClasspathElementRef, len(g.classpathElements))
	copy(out, g.classpathElements)
	return out
}

// ClassByName looks up a linked or external node by fully-qualified name.
func (g *Graph) ClassByName(name string) (*ClassInfo, bool) {
	ci, ok := g.byName.Get(name)
	return ci, ok
}

// AllClasses returns every scanned (non-external) class, in link order.
func (g *Graph) AllClasses() []*ClassInfo {
	out := make([]*ClassInfo, 0, len(g.order))
	for _, ci := range g.order {
		if !ci.IsExternal {
			out = append(out, ci)
		}
	}
	return out
}

// Subclasses returns name's direct subclasses.
func (g *Graph) Subclasses(name string) []*ClassInfo {
	ci, ok := g.byName.Get(name)
	if !ok {
		return nil
	}
	return append([]*ClassInfo(nil), ci.Subclasses...)
}

// Superclass returns name's direct superclass, or nil if it has none.
func (g *Graph) Superclass(name string) *ClassInfo {
	ci, ok := g.byName.Get(name)
	if !ok {
		return nil
	}
	return ci.Superclass
}

// Implementations returns the classes that name (an interface) is
// implemented by, directly.
func (g *Graph) Implementations(name string) []*ClassInfo {
	ci, ok := g.byName.Get(name)
	if !ok {
		return nil
	}
	return append([]*ClassInfo(nil), ci.Implementors...)
}

// Implementors is an alias for Implementations.
func (g *Graph) Implementors(name string) []*ClassInfo {
	return g.Implementations(name)
}

// ClassesAnnotatedBy returns every class carrying annotationName at the
// class level.
func (g *Graph) ClassesAnnotatedBy(annotationName string) []*ClassInfo {
	return dedupeClassInfo(g.annotationToClasses[annotationName])
}

// MethodsAnnotatedBy returns every class with at least one method carrying
// annotationName.
func (g *Graph) MethodsAnnotatedBy(annotationName string) []*ClassInfo {
	return dedupeClassInfo(g.annotationToMethods[annotationName])
}

// FieldsAnnotatedBy returns every class with at least one field carrying
// annotationName.
func (g *Graph) FieldsAnnotatedBy(annotationName string) []*ClassInfo {
	return dedupeClassInfo(g.annotationToFields[annotationName])
}

// AnnotationsOn returns the normalized set of annotation names applied
// anywhere (class, method, or field site) on the named class.
func (g *Graph) AnnotationsOn(name string) []string {
	ci, ok := g.byName.Get(name)
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	add := func(m map[string][]*ClassInfo) {
		for anno := range m {
			if !seen[anno] {
				seen[anno] = true
				out = append(out, anno)
			}
		}
	}
	add(ci.AnnotatedByClasses)
	add(ci.AnnotatedByMethods)
	add(ci.AnnotatedByFields)
	sort.Strings(out)
	return out
}

// ClassesWithFieldOfType returns every class with at least one field whose
// human-readable type name matches typeName.
func (g *Graph) ClassesWithFieldOfType(typeName string) []*ClassInfo {
	return dedupeClassInfo(g.fieldTypeToClasses[typeName])
}

// Enclosing returns name's containing (outer) class, or nil.
func (g *Graph) Enclosing(name string) *ClassInfo {
	ci, ok := g.byName.Get(name)
	if !ok {
		return nil
	}
	return ci.ContainedIn
}

// Enclosed returns the classes directly contained within name.
func (g *Graph) Enclosed(name string) []*ClassInfo {
	ci, ok := g.byName.Get(name)
	if !ok {
		return nil
	}
	return append([]*ClassInfo(nil), ci.Contains...)
}

// ClassesInPackage returns every scanned class whose dotted name begins
// with packagePrefix (e.g. "com.example."), in lexicographic name order.
// This walks only the matching subtree of the radix tree rather than
// scanning every linked class, the same prefix-query shape package-scoped
// allow/deny decisions need.
func (g *Graph) ClassesInPackage(packagePrefix string) []*ClassInfo {
	var out []*ClassInfo
	g.byName.WalkPrefix(packagePrefix, func(_ string, ci *ClassInfo) bool {
		if !ci.IsExternal {
			out = append(out, ci)
		}
		return true
	})
	return out
}

func dedupeClassInfo(in []*ClassInfo) []*ClassInfo {
	seen := make(map[*ClassInfo]bool, len(in))
	out := make([]*ClassInfo, 0, len(in))
	for _, ci := range in {
		if !seen[ci] {
			seen[ci] = true
			out = append(out, ci)
		}
	}
	return out
}
