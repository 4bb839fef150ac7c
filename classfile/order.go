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

package classfile

import "sort"

// CompareValues imposes a total order over annotation values for stable
// output and deduplication: numeric kinds compare
// numerically, strings lexically, and otherwise incomparable combinations
// (different Kind, or Kind == KindAnnotation/KindArray) fall back to
// string form as a last resort.
func CompareValues(a, b Value) int {
	if a.Kind != b.Kind {
		return compareStrings(a.String(), b.String())
	}
	switch a.Kind {
	case KindBool:
		return compareBool(a.Bool, b.Bool)
	case KindInt8, KindUint8, KindInt16, KindUint16, KindInt32, KindUint32, KindInt64, KindUint64:
		return compareInt64(a.Int, b.Int)
	case KindFloat32:
		return compareFloat64(float64(a.F32), float64(b.F32))
	case KindFloat64:
		return compareFloat64(a.F64, b.F64)
	case KindChar:
		return compareInt64(int64(a.Char), int64(b.Char))
	case KindString, KindClassRef:
		return compareStrings(a.String(), b.String())
	case KindEnumRef:
		if c := compareStrings(a.EnumClassName, b.EnumClassName); c != 0 {
			return c
		}
		return compareStrings(a.EnumConstName, b.EnumConstName)
	default:
		// Arrays and nested annotations have no natural total order;
		// fall back to string form.
		return compareStrings(a.String(), b.String())
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// sortParams sorts an AnnotationInfo's parameter list by name, giving a
// stable ordering independent of the classfile's on-disk element order
//.
func sortParams(params []Param) {
	sort.SliceStable(params, func(i, j int) bool {
		return params[i].Name < params[j].Name
	})
}

// NormalizeAnnotation returns a copy of a with its parameters sorted by
// name, for stable comparison and output.
func NormalizeAnnotation(a AnnotationInfo) AnnotationInfo {
	out := AnnotationInfo{Name: a.Name, Params: append([]Param(nil), a.Params...)}
	sortParams(out.Params)
	return out
}

// CompareAnnotations imposes a total order: by Name, then by each sorted
// parameter's (name, value) in turn, with a shorter parameter list
// sorting before a longer one that shares its prefix.
func CompareAnnotations(a, b AnnotationInfo) int {
	if c := compareStrings(a.Name, b.Name); c != 0 {
		return c
	}
	na, nb := NormalizeAnnotation(a), NormalizeAnnotation(b)
	for i := 0; i < len(na.Params) && i < len(nb.Params); i++ {
		if c := compareStrings(na.Params[i].Name, nb.Params[i].Name); c != 0 {
			return c
		}
		if c := CompareValues(na.Params[i].Value, nb.Params[i].Value); c != 0 {
			return c
		}
	}
	return compareInt64(int64(len(na.Params)), int64(len(nb.Params)))
}

// EqualAnnotations reports whether a and b are equal once their parameter
// lists are normalized (sorted by name).
func EqualAnnotations(a, b AnnotationInfo) bool {
	return CompareAnnotations(a, b) == 0
}

// AddDefaults merges an annotation-type class's AnnotationDefaults into an
// AnnotationInfo application that omitted some of those defaulted
// parameters: for each (name, value) pair, the concrete
// (explicitly-specified) side always wins over the default;
// de-duplication is by paramName, and the merged parameter list is
// re-sorted by name afterward so the result matches CompareAnnotations'
// expectations.
func AddDefaults(applied AnnotationInfo, defaults map[string]Value) AnnotationInfo {
	have := make(map[string]bool, len(applied.Params))
	merged := append([]Param(nil), applied.Params...)
	for _, p := range applied.Params {
		have[p.Name] = true
	}
	// Iterate defaults in sorted key order so the merge is deterministic
	// regardless of Go's randomized map iteration.
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, name := range keys {
		if have[name] {
			continue // concrete side wins; never overwrite an explicit value
		}
		merged = append(merged, Param{Name: name, Value: defaults[name]})
	}
	sortParams(merged)
	return AnnotationInfo{Name: applied.Name, Params: merged}
}
