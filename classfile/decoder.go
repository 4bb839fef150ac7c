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
	"fmt"
	"io"
)

const classMagic = 0xCAFEBABE

// DenyFilter lets a Decoder caller prune superclass, interface, and
// annotation references against a ScanSpec-style deny list without the
// classfile package importing scan. A nil DenyFilter
// denies nothing.
type DenyFilter func(className string) bool

// Decoder decodes classfiles into Unlinked records, sharing one Interner
// across every call so that names collapse across classes scanned through
// the same Decoder.
type Decoder struct {
	Intern *Interner
	Deny   DenyFilter
}

// NewDecoder creates a Decoder with a fresh Interner.
func NewDecoder() *Decoder {
	return &Decoder{Intern: NewInterner()}
}

// Decode parses one classfile's bytes into an Unlinked record. A truncated
// or malformed classfile returns an error and produces no partial record
//; callers are expected to route the error through a
// reporter.Handler at SeverityWarn and continue scanning.
func (d *Decoder) Decode(r io.Reader) (*Unlinked, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("classfile: reading classfile: %w", err)
	}
	br := newByteReader(data)

	magic, err := br.readU4()
	if err != nil {
		return nil, fmt.Errorf("classfile: reading magic: %w", err)
	}
	if magic != classMagic {
		return nil, fmt.Errorf("classfile: bad magic %#x", magic)
	}
	if err := br.skip(4); err != nil { // minor_version, major_version
		return nil, fmt.Errorf("classfile: reading version: %w", err)
	}

	pool, err := readConstantPool(br, d.Intern)
	if err != nil {
		return nil, err
	}

	accessFlags, err := br.readU2()
	if err != nil {
		return nil, fmt.Errorf("classfile: reading access_flags: %w", err)
	}
	thisIdx, err := br.readU2()
	if err != nil {
		return nil, fmt.Errorf("classfile: reading this_class: %w", err)
	}
	superIdx, err := br.readU2()
	if err != nil {
		return nil, fmt.Errorf("classfile: reading super_class: %w", err)
	}

	thisName, err := pool.classNameAt(thisIdx)
	if err != nil {
		return nil, fmt.Errorf("classfile: resolving this_class: %w", err)
	}

	u := &Unlinked{
		ClassName:          d.Intern.Intern(thisName),
		Modifiers:          int(accessFlags),
		IsInterface:        accessFlags&ModInterface != 0,
		IsAnnotation:       accessFlags&ModAnnotation != 0,
		StaticFinalValues:  make(map[string]Value),
		AnnotationDefaults: make(map[string]Value),
	}

	if superIdx != 0 {
		superName, err := pool.classNameAt(superIdx)
		if err != nil {
			return nil, fmt.Errorf("classfile: resolving super_class: %w", err)
		}
		if d.denied(superName) {
			u.DeniedSuperclass = true
		} else {
			u.SuperclassName = superName
		}
	}

	ifaceCount, err := br.readU2()
	if err != nil {
		return nil, fmt.Errorf("classfile: reading interfaces_count: %w", err)
	}
	for i := 0; i < int(ifaceCount); i++ {
		idx, err := br.readU2()
		if err != nil {
			return nil, fmt.Errorf("classfile: reading interface %d: %w", i, err)
		}
		name, err := pool.classNameAt(idx)
		if err != nil {
			return nil, fmt.Errorf("classfile: resolving interface %d: %w", i, err)
		}
		if d.denied(name) {
			u.DeniedInterfaces = append(u.DeniedInterfaces, name)
			continue
		}
		u.Interfaces = append(u.Interfaces, name)
	}

	if err := d.readFields(br, pool, u); err != nil {
		return nil, err
	}
	if err := d.readMethods(br, pool, u); err != nil {
		return nil, err
	}
	if err := d.readClassAttributes(br, pool, u); err != nil {
		return nil, err
	}

	return u, nil
}

func (d *Decoder) denied(className string) bool {
	return d.Deny != nil && d.Deny(className)
}

func (d *Decoder) readFields(br *byteReader, p *pool, u *Unlinked) error {
	count, err := br.readU2()
	if err != nil {
		return fmt.Errorf("classfile: reading fields_count: %w", err)
	}
	for i := 0; i < int(count); i++ {
		accessFlags, err := br.readU2()
		if err != nil {
			return fmt.Errorf("classfile: reading field %d access_flags: %w", i, err)
		}
		nameIdx, err := br.readU2()
		if err != nil {
			return fmt.Errorf("classfile: reading field %d name_index: %w", i, err)
		}
		descIdx, err := br.readU2()
		if err != nil {
			return fmt.Errorf("classfile: reading field %d descriptor_index: %w", i, err)
		}
		name, err := p.utf8At(nameIdx)
		if err != nil {
			return fmt.Errorf("classfile: resolving field %d name: %w", i, err)
		}
		descriptor, err := p.utf8At(descIdx)
		if err != nil {
			return fmt.Errorf("classfile: resolving field %d descriptor: %w", i, err)
		}

		f := FieldInfo{
			ClassName:              u.ClassName,
			Name:                   d.Intern.Intern(name),
			Modifiers:              int(accessFlags),
			DescriptorInternal:     d.Intern.Intern(descriptor),
			DescriptorHumanReadable: humanReadableDescriptor(descriptor),
		}

		attrCount, err := br.readU2()
		if err != nil {
			return fmt.Errorf("classfile: reading field %d attributes_count: %w", i, err)
		}
		for a := 0; a < int(attrCount); a++ {
			attrName, body, err := readAttributeHeader(br, p)
			if err != nil {
				return fmt.Errorf("classfile: reading field %d attribute %d: %w", i, a, err)
			}
			abr := newByteReader(body)
			switch attrName {
			case "ConstantValue":
				idx, err := abr.readU2()
				if err != nil {
					return fmt.Errorf("classfile: field %d ConstantValue: %w", i, err)
				}
				v, err := constFieldValue(p, descriptor, idx)
				if err != nil {
					return fmt.Errorf("classfile: field %d ConstantValue: %w", i, err)
				}
				f.ConstValue = &v
				if accessFlags&ModStatic != 0 && accessFlags&ModFinal != 0 {
					u.StaticFinalValues[f.Name] = v
				}
			case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
				annos, err := readAnnotationsAttribute(abr, p)
				if err != nil {
					return fmt.Errorf("classfile: field %d annotations: %w", i, err)
				}
				f.Annotations = append(f.Annotations, annos...)
				u.FieldAnnotations = append(u.FieldAnnotations, annos...)
			case "Signature":
				idx, err := abr.readU2()
				if err != nil {
					return fmt.Errorf("classfile: field %d Signature: %w", i, err)
				}
				sig, err := p.utf8At(idx)
				if err != nil {
					return fmt.Errorf("classfile: field %d Signature: %w", i, err)
				}
				f.GenericSignature = d.Intern.Intern(sig)
				if parsed, err := ParseFieldSignature(sig); err == nil {
					f.DescriptorHumanReadable = parsed.String()
				}
			}
		}
		u.Fields = append(u.Fields, f)
	}
	return nil
}

func (d *Decoder) readMethods(br *byteReader, p *pool, u *Unlinked) error {
	count, err := br.readU2()
	if err != nil {
		return fmt.Errorf("classfile: reading methods_count: %w", err)
	}
	for i := 0; i < int(count); i++ {
		accessFlags, err := br.readU2()
		if err != nil {
			return fmt.Errorf("classfile: reading method %d access_flags: %w", i, err)
		}
		nameIdx, err := br.readU2()
		if err != nil {
			return fmt.Errorf("classfile: reading method %d name_index: %w", i, err)
		}
		descIdx, err := br.readU2()
		if err != nil {
			return fmt.Errorf("classfile: reading method %d descriptor_index: %w", i, err)
		}
		name, err := p.utf8At(nameIdx)
		if err != nil {
			return fmt.Errorf("classfile: resolving method %d name: %w", i, err)
		}
		descriptor, err := p.utf8At(descIdx)
		if err != nil {
			return fmt.Errorf("classfile: resolving method %d descriptor: %w", i, err)
		}

		m := MethodInfo{
			ClassName:              u.ClassName,
			Name:                   d.Intern.Intern(name),
			Modifiers:              int(accessFlags),
			DescriptorInternal:     d.Intern.Intern(descriptor),
			DescriptorHumanReadable: humanReadableDescriptor(descriptor),
			Parameters:             parametersFromDescriptor(descriptor),
		}

		attrCount, err := br.readU2()
		if err != nil {
			return fmt.Errorf("classfile: reading method %d attributes_count: %w", i, err)
		}
		for a := 0; a < int(attrCount); a++ {
			attrName, body, err := readAttributeHeader(br, p)
			if err != nil {
				return fmt.Errorf("classfile: reading method %d attribute %d: %w", i, a, err)
			}
			abr := newByteReader(body)
			switch attrName {
			case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
				annos, err := readAnnotationsAttribute(abr, p)
				if err != nil {
					return fmt.Errorf("classfile: method %d annotations: %w", i, err)
				}
				m.Annotations = append(m.Annotations, annos...)
				u.MethodAnnotations = append(u.MethodAnnotations, annos...)
			case "AnnotationDefault":
				v, err := readElementValue(abr, p)
				if err != nil {
					return fmt.Errorf("classfile: method %d AnnotationDefault: %w", i, err)
				}
				u.AnnotationDefaults[m.Name] = v
			case "Signature":
				idx, err := abr.readU2()
				if err != nil {
					return fmt.Errorf("classfile: method %d Signature: %w", i, err)
				}
				sig, err := p.utf8At(idx)
				if err != nil {
					return fmt.Errorf("classfile: method %d Signature: %w", i, err)
				}
				m.GenericSignature = d.Intern.Intern(sig)
				if params, ret, err := ParseMethodSignature(sig); err == nil {
					parts := make([]string, len(params))
					for pi, ps := range params {
						parts[pi] = ps.String()
					}
					m.DescriptorHumanReadable = "(" + joinComma(parts) + ")" + ret.String()
				}
			}
		}
		u.Methods = append(u.Methods, m)
	}
	return nil
}

func (d *Decoder) readClassAttributes(br *byteReader, p *pool, u *Unlinked) error {
	count, err := br.readU2()
	if err != nil {
		return fmt.Errorf("classfile: reading class attributes_count: %w", err)
	}
	for i := 0; i < int(count); i++ {
		attrName, body, err := readAttributeHeader(br, p)
		if err != nil {
			return fmt.Errorf("classfile: reading class attribute %d: %w", i, err)
		}
		abr := newByteReader(body)
		switch attrName {
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			annos, err := readAnnotationsAttribute(abr, p)
			if err != nil {
				return fmt.Errorf("classfile: class annotations: %w", err)
			}
			for _, a := range annos {
				if d.denied(a.Name) {
					u.DeniedAnnotations = append(u.DeniedAnnotations, a.Name)
					continue
				}
				u.ClassAnnotations = append(u.ClassAnnotations, a)
			}
		case "InnerClasses":
			if err := readInnerClasses(abr, p, u); err != nil {
				return fmt.Errorf("classfile: InnerClasses: %w", err)
			}
		case "EnclosingMethod":
			classIdx, err := abr.readU2()
			if err != nil {
				return fmt.Errorf("classfile: EnclosingMethod: %w", err)
			}
			methodIdx, err := abr.readU2()
			if err != nil {
				return fmt.Errorf("classfile: EnclosingMethod: %w", err)
			}
			className, err := p.classNameAt(classIdx)
			if err != nil {
				return fmt.Errorf("classfile: EnclosingMethod class: %w", err)
			}
			if methodIdx != 0 {
				if int(methodIdx) >= len(p.entries) {
					return fmt.Errorf("classfile: EnclosingMethod: constant pool index %d out of range", methodIdx)
				}
				ent := p.entries[methodIdx]
				methodName, err := p.utf8At(ent.idx1)
				if err != nil {
					return fmt.Errorf("classfile: EnclosingMethod name_and_type: %w", err)
				}
				methodDescriptor, err := p.utf8At(ent.idx2)
				if err != nil {
					return fmt.Errorf("classfile: EnclosingMethod name_and_type: %w", err)
				}
				u.EnclosingMethod = fmt.Sprintf("%s.%s %s", className, methodName, methodDescriptor)
			} else {
				u.EnclosingMethod = className
			}
		case "Signature":
			idx, err := abr.readU2()
			if err != nil {
				return fmt.Errorf("classfile: class Signature: %w", err)
			}
			sig, err := p.utf8At(idx)
			if err != nil {
				return fmt.Errorf("classfile: class Signature: %w", err)
			}
			u.GenericSignature = d.Intern.Intern(sig)
		}
	}
	return nil
}

func readInnerClasses(abr *byteReader, p *pool, u *Unlinked) error {
	count, err := abr.readU2()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		innerIdx, err := abr.readU2()
		if err != nil {
			return err
		}
		outerIdx, err := abr.readU2()
		if err != nil {
			return err
		}
		if _, err := abr.readU2(); err != nil { // inner_name_index
			return err
		}
		if _, err := abr.readU2(); err != nil { // inner_class_access_flags
			return err
		}
		if outerIdx == 0 {
			continue
		}
		innerName, err := p.classNameAt(innerIdx)
		if err != nil {
			return err
		}
		outerName, err := p.classNameAt(outerIdx)
		if err != nil {
			return err
		}
		u.Containments = append(u.Containments, Containment{Inner: innerName, Outer: outerName})
	}
	return nil
}

// readAttributeHeader reads one generic attribute_info header (name_index,
// attribute_length) and returns the attribute's name plus its raw body
// bytes, letting the caller dispatch on name without re-parsing the length
// framing in each case arm.
func readAttributeHeader(br *byteReader, p *pool) (name string, body []byte, err error) {
	nameIdx, err := br.readU2()
	if err != nil {
		return "", nil, fmt.Errorf("reading attribute_name_index: %w", err)
	}
	length, err := br.readU4()
	if err != nil {
		return "", nil, fmt.Errorf("reading attribute_length: %w", err)
	}
	body, err = br.readBytes(int(length))
	if err != nil {
		return "", nil, fmt.Errorf("reading attribute body: %w", err)
	}
	name, err = p.utf8At(nameIdx)
	if err != nil {
		return "", nil, fmt.Errorf("resolving attribute_name_index: %w", err)
	}
	return name, body, nil
}

func readAnnotationsAttribute(br *byteReader, p *pool) ([]AnnotationInfo, error) {
	count, err := br.readU2()
	if err != nil {
		return nil, err
	}
	out := make([]AnnotationInfo, 0, count)
	for i := 0; i < int(count); i++ {
		a, err := readAnnotation(br, p)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func parametersFromDescriptor(descriptor string) []ParameterInfo {
	params, _, err := ParseMethodDescriptor(descriptor)
	if err != nil {
		return nil
	}
	out := make([]ParameterInfo, len(params))
	for i, p := range params {
		out[i] = ParameterInfo{DescriptorInternal: p.String()}
	}
	return out
}

func humanReadableDescriptor(descriptor string) string {
	if sig, err := ParseDescriptor(descriptor); err == nil {
		return sig.String()
	}
	if params, ret, err := ParseMethodDescriptor(descriptor); err == nil {
		parts := make([]string, len(params))
		for i, p := range params {
			parts[i] = p.String()
		}
		return "(" + joinComma(parts) + ")" + ret.String()
	}
	return descriptor
}

func joinComma(parts []string) string {
	var buf bytes.Buffer
	for i, s := range parts {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(s)
	}
	return buf.String()
}
