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

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// classBuilder assembles a minimal well-formed classfile byte buffer for
// tests, since the corpus this decoder targets has no textual form to
// embed as testdata.
type classBuilder struct {
	cp      []entryBytes
	access  uint16
	this    uint16
	super   uint16
	ifaces  []uint16
	fields  []fieldBuilder
	methods []methodBuilder
	classAttrs []attrBuilder
}

type entryBytes struct {
	tag  byte
	body []byte
}

type fieldBuilder struct {
	access uint16
	name   uint16
	desc   uint16
	attrs  []attrBuilder
}

type methodBuilder struct {
	access uint16
	name   uint16
	desc   uint16
	attrs  []attrBuilder
}

type attrBuilder struct {
	name uint16
	body []byte
}

func newClassBuilder() *classBuilder {
	return &classBuilder{cp: []entryBytes{{}}} // index 0 unused
}

func (b *classBuilder) addUTF8(s string) uint16 {
	var body bytes.Buffer
	writeU2(&body, uint16(len(s)))
	body.WriteString(s)
	b.cp = append(b.cp, entryBytes{tag: 1, body: body.Bytes()})
	return uint16(len(b.cp) - 1)
}

func (b *classBuilder) addClass(utf8Idx uint16) uint16 {
	var body bytes.Buffer
	writeU2(&body, utf8Idx)
	b.cp = append(b.cp, entryBytes{tag: 7, body: body.Bytes()})
	return uint16(len(b.cp) - 1)
}

func (b *classBuilder) addInteger(v int32) uint16 {
	var body bytes.Buffer
	writeU4(&body, uint32(v))
	b.cp = append(b.cp, entryBytes{tag: 3, body: body.Bytes()})
	return uint16(len(b.cp) - 1)
}

func (b *classBuilder) addClassNamed(dotted string) uint16 {
	internal := bytes.ReplaceAll([]byte(dotted), []byte("."), []byte("/"))
	return b.addClass(b.addUTF8(string(internal)))
}

func writeU2(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

func writeU4(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v >> 24))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

func (b *classBuilder) bytes() []byte {
	var out bytes.Buffer
	writeU4(&out, classMagic)
	writeU2(&out, 0) // minor
	writeU2(&out, 61) // major

	writeU2(&out, uint16(len(b.cp)))
	for i := 1; i < len(b.cp); i++ {
		out.WriteByte(b.cp[i].tag)
		out.Write(b.cp[i].body)
	}

	writeU2(&out, b.access)
	writeU2(&out, b.this)
	writeU2(&out, b.super)

	writeU2(&out, uint16(len(b.ifaces)))
	for _, idx := range b.ifaces {
		writeU2(&out, idx)
	}

	writeU2(&out, uint16(len(b.fields)))
	for _, f := range b.fields {
		writeU2(&out, f.access)
		writeU2(&out, f.name)
		writeU2(&out, f.desc)
		writeU2(&out, uint16(len(f.attrs)))
		for _, a := range f.attrs {
			writeU2(&out, a.name)
			writeU4(&out, uint32(len(a.body)))
			out.Write(a.body)
		}
	}

	writeU2(&out, uint16(len(b.methods)))
	for _, m := range b.methods {
		writeU2(&out, m.access)
		writeU2(&out, m.name)
		writeU2(&out, m.desc)
		writeU2(&out, uint16(len(m.attrs)))
		for _, a := range m.attrs {
			writeU2(&out, a.name)
			writeU4(&out, uint32(len(a.body)))
			out.Write(a.body)
		}
	}

	writeU2(&out, uint16(len(b.classAttrs)))
	for _, a := range b.classAttrs {
		writeU2(&out, a.name)
		writeU4(&out, uint32(len(a.body)))
		out.Write(a.body)
	}

	return out.Bytes()
}

func TestDecodeMinimalClass(t *testing.T) {
	t.Parallel()
	b := newClassBuilder()
	b.this = b.addClassNamed("com.example.Foo")
	b.super = b.addClassNamed("java.lang.Object")
	b.access = ModPublic | ModSuper

	d := NewDecoder()
	u, err := d.Decode(bytes.NewReader(b.bytes()))
	require.NoError(t, err)
	require.Equal(t, "com.example.Foo", u.ClassName)
	require.Equal(t, "java.lang.Object", u.SuperclassName)
	require.False(t, u.IsInterface)
	require.Empty(t, u.Fields)
}

func TestDecodeFieldWithConstantValueAndAnnotation(t *testing.T) {
	t.Parallel()
	b := newClassBuilder()
	b.this = b.addClassNamed("com.example.Bar")
	b.super = b.addClassNamed("java.lang.Object")
	b.access = ModPublic | ModSuper

	fieldName := b.addUTF8("MAX")
	fieldDesc := b.addUTF8("I")
	constIdx := b.addInteger(42)

	annoTypeDesc := b.addUTF8("Lcom/example/Important;")
	annoElemName := b.addUTF8("value")
	annoElemConst := b.addInteger(7)

	var anno bytes.Buffer
	writeU2(&anno, 1) // num_annotations
	writeU2(&anno, annoTypeDesc)
	writeU2(&anno, 1) // num_element_value_pairs
	writeU2(&anno, annoElemName)
	anno.WriteByte('I')
	writeU2(&anno, annoElemConst)

	var constVal bytes.Buffer
	writeU2(&constVal, constIdx)

	b.fields = []fieldBuilder{{
		access: ModStatic | ModFinal,
		name:   fieldName,
		desc:   fieldDesc,
		attrs: []attrBuilder{
			{name: b.addUTF8("ConstantValue"), body: constVal.Bytes()},
			{name: b.addUTF8("RuntimeVisibleAnnotations"), body: anno.Bytes()},
		},
	}}

	d := NewDecoder()
	u, err := d.Decode(bytes.NewReader(b.bytes()))
	require.NoError(t, err)
	require.Len(t, u.Fields, 1)

	f := u.Fields[0]
	require.Equal(t, "MAX", f.Name)
	require.NotNil(t, f.ConstValue)
	require.Equal(t, int64(42), f.ConstValue.Int)
	require.Equal(t, int64(42), u.StaticFinalValues["MAX"].Int)

	require.Len(t, f.Annotations, 1)
	require.Equal(t, "com.example.Important", f.Annotations[0].Name)
	require.Len(t, f.Annotations[0].Params, 1)
	require.Equal(t, "value", f.Annotations[0].Params[0].Name)
	require.Equal(t, int64(7), f.Annotations[0].Params[0].Value.Int)
}

func TestDecodeFieldAndMethodWithGenericSignature(t *testing.T) {
	t.Parallel()
	b := newClassBuilder()
	b.this = b.addClassNamed("com.example.Box")
	b.super = b.addClassNamed("java.lang.Object")
	b.access = ModPublic | ModSuper

	fieldName := b.addUTF8("items")
	fieldDesc := b.addUTF8("Ljava/util/List;")
	fieldSig := b.addUTF8("Ljava/util/List<Ljava/lang/String;>;")
	b.fields = []fieldBuilder{{
		access: ModPrivate,
		name:   fieldName,
		desc:   fieldDesc,
		attrs: []attrBuilder{
			{name: b.addUTF8("Signature"), body: func() []byte {
				var buf bytes.Buffer
				writeU2(&buf, fieldSig)
				return buf.Bytes()
			}()},
		},
	}}

	methodName := b.addUTF8("first")
	methodDesc := b.addUTF8("(Ljava/util/List;)Ljava/lang/Object;")
	methodSig := b.addUTF8("<T:Ljava/lang/Object;>(Ljava/util/List<TT;>;)TT;")
	b.methods = []methodBuilder{{
		access: ModPublic,
		name:   methodName,
		desc:   methodDesc,
		attrs: []attrBuilder{
			{name: b.addUTF8("Signature"), body: func() []byte {
				var buf bytes.Buffer
				writeU2(&buf, methodSig)
				return buf.Bytes()
			}()},
		},
	}}

	classSig := b.addUTF8("Ljava/lang/Object;")
	b.classAttrs = []attrBuilder{
		{name: b.addUTF8("Signature"), body: func() []byte {
			var buf bytes.Buffer
			writeU2(&buf, classSig)
			return buf.Bytes()
		}()},
	}

	d := NewDecoder()
	u, err := d.Decode(bytes.NewReader(b.bytes()))
	require.NoError(t, err)

	require.Equal(t, "Ljava/lang/Object;", u.GenericSignature)

	require.Len(t, u.Fields, 1)
	require.Equal(t, "Ljava/util/List<Ljava/lang/String;>;", u.Fields[0].GenericSignature)
	require.Equal(t, "java.util.List<java.lang.String>", u.Fields[0].DescriptorHumanReadable)

	require.Len(t, u.Methods, 1)
	require.Equal(t, "<T:Ljava/lang/Object;>(Ljava/util/List<TT;>;)TT;", u.Methods[0].GenericSignature)
	require.Equal(t, "(java.util.List<TT>)TT", u.Methods[0].DescriptorHumanReadable)
}

func TestDecodeDeniesSuperclassAndInterfaces(t *testing.T) {
	t.Parallel()
	b := newClassBuilder()
	b.this = b.addClassNamed("com.example.Baz")
	b.super = b.addClassNamed("com.example.internal.Denied")
	ifaceIdx := b.addClassNamed("com.example.internal.DeniedIface")
	b.ifaces = []uint16{ifaceIdx}
	b.access = ModPublic | ModSuper

	d := NewDecoder()
	d.Deny = func(name string) bool {
		return name == "com.example.internal.Denied" || name == "com.example.internal.DeniedIface"
	}
	u, err := d.Decode(bytes.NewReader(b.bytes()))
	require.NoError(t, err)
	require.True(t, u.DeniedSuperclass)
	require.Empty(t, u.SuperclassName)
	require.Equal(t, []string{"com.example.internal.DeniedIface"}, u.DeniedInterfaces)
	require.Empty(t, u.Interfaces)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	t.Parallel()
	d := NewDecoder()
	_, err := d.Decode(bytes.NewReader([]byte{0, 0, 0, 0}))
	require.Error(t, err)
}

func TestDecodeTruncatedInputNeverReturnsPartialRecord(t *testing.T) {
	t.Parallel()
	b := newClassBuilder()
	b.this = b.addClassNamed("com.example.Truncated")
	b.super = b.addClassNamed("java.lang.Object")
	full := b.bytes()

	d := NewDecoder()
	u, err := d.Decode(bytes.NewReader(full[:len(full)-3]))
	require.Error(t, err)
	require.Nil(t, u)
}

func TestInternerDeduplicatesStrings(t *testing.T) {
	t.Parallel()
	in := NewInterner()
	a := in.Intern("com.example.Foo")
	b := in.Intern(string([]byte("com.example.Foo")))
	require.Equal(t, a, b)
}
