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

import "fmt"

// readAnnotation parses one annotation structure: a type
// descriptor index followed by a count-prefixed list of (name, value)
// pairs.
func readAnnotation(r *byteReader, p *pool) (AnnotationInfo, error) {
	typeIdx, err := r.readU2()
	if err != nil {
		return AnnotationInfo{}, fmt.Errorf("classfile: annotation type_index: %w", err)
	}
	descriptor, err := p.utf8At(typeIdx)
	if err != nil {
		return AnnotationInfo{}, fmt.Errorf("classfile: annotation type descriptor: %w", err)
	}
	name := descriptorToClassName(descriptor)

	numPairs, err := r.readU2()
	if err != nil {
		return AnnotationInfo{}, fmt.Errorf("classfile: annotation num_element_value_pairs: %w", err)
	}
	params := make([]Param, 0, numPairs)
	for i := 0; i < int(numPairs); i++ {
		nameIdx, err := r.readU2()
		if err != nil {
			return AnnotationInfo{}, fmt.Errorf("classfile: annotation element_name_index: %w", err)
		}
		paramName, err := p.utf8At(nameIdx)
		if err != nil {
			return AnnotationInfo{}, fmt.Errorf("classfile: annotation element name: %w", err)
		}
		val, err := readElementValue(r, p)
		if err != nil {
			return AnnotationInfo{}, fmt.Errorf("classfile: annotation %s.%s value: %w", name, paramName, err)
		}
		params = append(params, Param{Name: p.intern.Intern(paramName), Value: val})
	}
	return AnnotationInfo{Name: name, Params: params}, nil
}

// readElementValue is the recursive-descent core of the annotation value
// grammar: a one-byte tag followed by tag-specific data.
func readElementValue(r *byteReader, p *pool) (Value, error) {
	tagByte, err := r.readU1()
	if err != nil {
		return Value{}, fmt.Errorf("reading element_value tag: %w", err)
	}

	switch tagByte {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's':
		idx, err := r.readU2()
		if err != nil {
			return Value{}, err
		}
		return constValueAt(p, tagByte, idx)

	case 'e': // enum constant
		typeIdx, err := r.readU2()
		if err != nil {
			return Value{}, err
		}
		constIdx, err := r.readU2()
		if err != nil {
			return Value{}, err
		}
		typeDescriptor, err := p.utf8At(typeIdx)
		if err != nil {
			return Value{}, err
		}
		constName, err := p.utf8At(constIdx)
		if err != nil {
			return Value{}, err
		}
		return Value{
			Kind:          KindEnumRef,
			EnumClassName: descriptorToClassName(typeDescriptor),
			EnumConstName: p.intern.Intern(constName),
		}, nil

	case 'c': // class literal
		idx, err := r.readU2()
		if err != nil {
			return Value{}, err
		}
		descriptor, err := p.utf8At(idx)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindClassRef, ClassDescriptor: p.intern.Intern(descriptor)}, nil

	case '@': // nested annotation
		nested, err := readAnnotation(r, p)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindAnnotation, Nested: &nested}, nil

	case '[': // array
		count, err := r.readU2()
		if err != nil {
			return Value{}, err
		}
		elems := make([]Value, 0, count)
		for i := 0; i < int(count); i++ {
			v, err := readElementValue(r, p)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, v)
		}
		return Value{Kind: KindArray, Array: elems}, nil

	default:
		return Value{}, fmt.Errorf("unknown element_value tag %q", tagByte)
	}
}

// constValueAt resolves a primitive/string constant element value, given
// the element_value tag byte and a constant pool index into a const_value
// entry.
func constValueAt(p *pool, tagByte byte, idx uint16) (Value, error) {
	if int(idx) >= len(p.entries) {
		return Value{}, fmt.Errorf("constant pool index %d out of range", idx)
	}
	e := p.entries[idx]

	switch tagByte {
	case 'Z':
		return Value{Kind: KindBool, Bool: e.intVal != 0}, nil
	case 'B':
		return Value{Kind: KindInt8, Int: int64(int8(e.intVal))}, nil
	case 'C':
		return Value{Kind: KindChar, Char: rune(uint16(e.intVal))}, nil
	case 'S':
		return Value{Kind: KindInt16, Int: int64(int16(e.intVal))}, nil
	case 'I':
		return Value{Kind: KindInt32, Int: int64(e.intVal)}, nil
	case 'J':
		return Value{Kind: KindInt64, Int: e.longVal}, nil
	case 'F':
		return Value{Kind: KindFloat32, F32: e.floatVal}, nil
	case 'D':
		return Value{Kind: KindFloat64, F64: e.doubleVal}, nil
	case 's':
		return Value{Kind: KindString, Str: p.intern.Intern(e.utf8)}, nil
	default:
		return Value{}, fmt.Errorf("unexpected const tag %q", tagByte)
	}
}

// descriptorToClassName converts a field-descriptor form class reference
// ("Lcom/example/Foo;") to a dotted class name ("com.example.Foo").
func descriptorToClassName(descriptor string) string {
	d := descriptor
	if len(d) >= 2 && d[0] == 'L' && d[len(d)-1] == ';' {
		d = d[1 : len(d)-1]
	}
	return internalToDotted(d)
}

// constFieldValue resolves a field's ConstantValue attribute, using the field descriptor to pick the right constant pool
// interpretation.
func constFieldValue(p *pool, fieldDescriptor string, idx uint16) (Value, error) {
	if int(idx) >= len(p.entries) {
		return Value{}, fmt.Errorf("constant pool index %d out of range", idx)
	}
	switch fieldDescriptor {
	case "Z":
		return constValueAt(p, 'Z', idx)
	case "B":
		return constValueAt(p, 'B', idx)
	case "C":
		return constValueAt(p, 'C', idx)
	case "S":
		return constValueAt(p, 'S', idx)
	case "I":
		return constValueAt(p, 'I', idx)
	case "J":
		return constValueAt(p, 'J', idx)
	case "F":
		return constValueAt(p, 'F', idx)
	case "D":
		return constValueAt(p, 'D', idx)
	case "Ljava/lang/String;":
		return constValueAt(p, 's', idx)
	default:
		return Value{}, fmt.Errorf("ConstantValue attribute on unsupported field type %q", fieldDescriptor)
	}
}
