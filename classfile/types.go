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

// Package classfile implements the binary classfile decoder and the
// annotation/signature model: parsing the fixed classfile format into
// unlinked, language-neutral metadata records.
package classfile

import "fmt"

// Modifier bits, matching the classfile access_flags layout.
const (
	ModPublic     = 0x0001
	ModPrivate    = 0x0002
	ModProtected  = 0x0004
	ModStatic     = 0x0008
	ModFinal      = 0x0010
	ModSuper      = 0x0020
	ModSynchronized = 0x0020
	ModVolatile   = 0x0040
	ModBridge     = 0x0040
	ModTransient  = 0x0080
	ModVarargs    = 0x0080
	ModNative     = 0x0100
	ModInterface  = 0x0200
	ModAbstract   = 0x0400
	ModStrict     = 0x0800
	ModSynthetic  = 0x1000
	ModAnnotation = 0x2000
	ModEnum       = 0x4000
	ModModule     = 0x8000
)

// ValueKind discriminates Value's tagged-sum variants.
type ValueKind int

const (
	KindString ValueKind = iota
	KindBool
	KindInt8
	KindUint8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindChar
	KindArray
	KindEnumRef
	KindClassRef
	KindAnnotation
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt8:
		return "int8"
	case KindUint8:
		return "uint8"
	case KindInt16:
		return "int16"
	case KindUint16:
		return "uint16"
	case KindInt32:
		return "int32"
	case KindUint32:
		return "uint32"
	case KindInt64:
		return "int64"
	case KindUint64:
		return "uint64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindChar:
		return "char"
	case KindArray:
		return "array"
	case KindEnumRef:
		return "enumref"
	case KindClassRef:
		return "classref"
	case KindAnnotation:
		return "annotation"
	default:
		return "unknown"
	}
}

// Value is the tagged-sum representation of one annotation parameter
// value or array element. Only the fields relevant to Kind
// are meaningful; the rest are zero.
type Value struct {
	Kind ValueKind

	Str   string // KindString
	Bool  bool
	Int   int64 // every integer Kind, sign-extended/zero-extended as appropriate
	F32   float32
	F64   float64
	Char  rune

	Array []Value

	EnumClassName string
	EnumConstName string

	ClassDescriptor string

	Nested *AnnotationInfo
}

// String renders v for diagnostics and as the incomparable-value fallback
// used by CompareValues, which falls back to string form as a last resort.
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindFloat32:
		return fmt.Sprintf("%g", v.F32)
	case KindFloat64:
		return fmt.Sprintf("%g", v.F64)
	case KindChar:
		return fmt.Sprintf("%q", v.Char)
	case KindArray:
		return fmt.Sprintf("%v", v.Array)
	case KindEnumRef:
		return v.EnumClassName + "." + v.EnumConstName
	case KindClassRef:
		return v.ClassDescriptor
	case KindAnnotation:
		if v.Nested == nil {
			return "<nil annotation>"
		}
		return v.Nested.String()
	default:
		return fmt.Sprintf("%d", v.Int)
	}
}

// Param is one (name, value) entry of an AnnotationInfo's ordered
// parameter list.
type Param struct {
	Name  string
	Value Value
}

// AnnotationInfo is a decoded annotation application.
type AnnotationInfo struct {
	Name   string
	Params []Param
}

func (a AnnotationInfo) String() string {
	return "@" + a.Name
}

// ParameterInfo describes one formal parameter of a method, as derived
// from its descriptor. The MethodParameters attribute is not decoded, so
// Name is always empty.
type ParameterInfo struct {
	Name             string
	DescriptorInternal string
}

// FieldInfo is one decoded field.
type FieldInfo struct {
	ClassName               string
	Name                     string
	Modifiers                int
	DescriptorInternal       string
	DescriptorHumanReadable  string
	// GenericSignature is the raw Signature attribute body, if the field
	// declared one (e.g. a field of type List<String> rather than the
	// erased List). Empty when the field has no generic type.
	GenericSignature string
	Annotations       []AnnotationInfo
	ConstValue        *Value
}

// MethodInfo is one decoded method.
type MethodInfo struct {
	ClassName               string
	Name                     string
	Modifiers                int
	DescriptorInternal       string
	DescriptorHumanReadable  string
	// GenericSignature is the raw Signature attribute body, if the method
	// declared one (generic parameter/return types, or its own type
	// parameters). Empty when the method has no generic signature.
	GenericSignature string
	Annotations       []AnnotationInfo
	Parameters        []ParameterInfo
}

// Containment is one inner/outer class relationship decoded from an
// InnerClasses attribute entry.
type Containment struct {
	Inner string
	Outer string
}

// Unlinked is the per-classfile decoded record Decode produces, before
// graph.Link cross-links it into the class graph.
type Unlinked struct {
	ClassName     string
	Modifiers     int
	IsInterface   bool
	IsAnnotation  bool

	SuperclassName string // "" if this class has no superclass (java.lang.Object or a denied reference, see DeniedSuperclass)
	Interfaces     []string

	ClassAnnotations  []AnnotationInfo
	MethodAnnotations []AnnotationInfo // union of every method's annotations, for fast "annotated at method site" queries
	FieldAnnotations  []AnnotationInfo // union of every field's annotations, for fast "annotated at field site" queries

	Fields  []FieldInfo
	Methods []MethodInfo

	StaticFinalValues map[string]Value

	// GenericSignature is the raw class Signature attribute body (type
	// parameters plus generic superclass/superinterface signatures), if
	// this class declared one. Empty for a non-generic class.
	GenericSignature string

	Containments    []Containment
	EnclosingMethod string // "ClassName.methodName methodDescriptor", just "ClassName" when not enclosed by a method, or "" if none

	// AnnotationDefaults holds, for an annotation-type class, each
	// element method's default value.
	AnnotationDefaults map[string]Value

	// DeniedSuperclass/DeniedInterfaces/DeniedAnnotations record that a
	// reference existed but was pruned by a deny-list filter: retained as
	// a null/placeholder edge so callers can tell the original relation
	// existed rather than silently vanishing.
	DeniedSuperclass  bool
	DeniedInterfaces  []string
	DeniedAnnotations []string

	// SourceClasspathElement is a non-owning back reference to whatever
	// produced this record (typically a *classpath.ClasspathElement,
	// opaque here to avoid an import cycle between classfile and
	// classpath).
	SourceClasspathElement any
}
