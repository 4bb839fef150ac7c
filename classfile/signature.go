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
	"fmt"
	"strings"
)

// TypeSignatureKind discriminates the TypeSignature variants (,
// §4.8: "generic signatures decode into a small typed tree: primitive,
// array(elementSig, dims), classRef(name, typeArgs, nestedSuffixes), or
// typeVariable(name)").
type TypeSignatureKind int

const (
	SigPrimitive TypeSignatureKind = iota
	SigArray
	SigClassRef
	SigTypeVariable
)

// TypeSignature is a parsed type descriptor or generic signature element.
type TypeSignature struct {
	Kind TypeSignatureKind

	// SigPrimitive
	Primitive byte // one of Z B C S I J F D V

	// SigArray
	Element *TypeSignature
	Dims    int

	// SigClassRef
	ClassName      string
	TypeArgs       []TypeSignature
	NestedSuffixes []string // generic type args on member classes, e.g. Outer<X>.Inner<Y>

	// SigTypeVariable
	VarName string
}

func (s TypeSignature) String() string {
	switch s.Kind {
	case SigPrimitive:
		return string(s.Primitive)
	case SigArray:
		elem := ""
		if s.Element != nil {
			elem = s.Element.String()
		}
		return elem + strings.Repeat("[]", s.Dims)
	case SigClassRef:
		if len(s.TypeArgs) == 0 {
			return s.ClassName
		}
		args := make([]string, len(s.TypeArgs))
		for i, a := range s.TypeArgs {
			args[i] = a.String()
		}
		return s.ClassName + "<" + strings.Join(args, ", ") + ">"
	case SigTypeVariable:
		return "T" + s.VarName
	default:
		return "<?>"
	}
}

// sigScanner is a small peek/expect scanner over a signature or descriptor
// string.
type sigScanner struct {
	s   string
	pos int
}

func (sc *sigScanner) peek() (byte, bool) {
	if sc.pos >= len(sc.s) {
		return 0, false
	}
	return sc.s[sc.pos], true
}

func (sc *sigScanner) next() (byte, bool) {
	c, ok := sc.peek()
	if ok {
		sc.pos++
	}
	return c, ok
}

func (sc *sigScanner) expect(c byte) error {
	got, ok := sc.next()
	if !ok || got != c {
		return fmt.Errorf("expected %q at offset %d in %q", c, sc.pos, sc.s)
	}
	return nil
}

// ParseDescriptor parses a field or method-return type descriptor into a
// TypeSignature; generic type arguments and type variables are accepted
// too. A parse failure drops the whole
// descriptor; callers should log
// and ignore rather than propagate past the decoder boundary.
func ParseDescriptor(descriptor string) (TypeSignature, error) {
	sc := &sigScanner{s: descriptor}
	sig, err := parseFieldType(sc)
	if err != nil {
		return TypeSignature{}, fmt.Errorf("classfile: parsing descriptor %q: %w", descriptor, err)
	}
	if sc.pos != len(sc.s) {
		return TypeSignature{}, fmt.Errorf("classfile: trailing data in descriptor %q at offset %d", descriptor, sc.pos)
	}
	return sig, nil
}

func parseFieldType(sc *sigScanner) (TypeSignature, error) {
	c, ok := sc.next()
	if !ok {
		return TypeSignature{}, fmt.Errorf("unexpected end of descriptor")
	}
	switch c {
	case 'Z', 'B', 'C', 'S', 'I', 'J', 'F', 'D', 'V':
		return TypeSignature{Kind: SigPrimitive, Primitive: c}, nil
	case 'L':
		return parseClassTypeSignature(sc)
	case 'T':
		return parseTypeVariable(sc)
	case '[':
		dims := 1
		for {
			next, ok := sc.peek()
			if ok && next == '[' {
				sc.pos++
				dims++
				continue
			}
			break
		}
		elem, err := parseFieldType(sc)
		if err != nil {
			return TypeSignature{}, err
		}
		return TypeSignature{Kind: SigArray, Element: &elem, Dims: dims}, nil
	default:
		return TypeSignature{}, fmt.Errorf("unexpected descriptor character %q", c)
	}
}

func parseTypeVariable(sc *sigScanner) (TypeSignature, error) {
	var sb strings.Builder
	for {
		c, ok := sc.next()
		if !ok {
			return TypeSignature{}, fmt.Errorf("unterminated type variable")
		}
		if c == ';' {
			break
		}
		sb.WriteByte(c)
	}
	return TypeSignature{Kind: SigTypeVariable, VarName: sb.String()}, nil
}

// parseClassTypeSignature parses the body of an 'L' class type, including
// optional generic type arguments "<...>" and nested member-class
// suffixes "Outer<X>.Inner<Y>;".
func parseClassTypeSignature(sc *sigScanner) (TypeSignature, error) {
	var nameParts []string
	var sb strings.Builder
	var typeArgs []TypeSignature
	var nestedSuffixes []string

loop:
	for {
		c, ok := sc.next()
		if !ok {
			return TypeSignature{}, fmt.Errorf("unterminated class type signature")
		}
		switch c {
		case ';':
			if sb.Len() > 0 || len(nameParts) == 0 {
				nameParts = append(nameParts, sb.String())
			}
			break loop
		case '<':
			args, err := parseTypeArgs(sc)
			if err != nil {
				return TypeSignature{}, err
			}
			if len(nameParts) == 0 {
				typeArgs = args
			} else {
				nestedSuffixes = append(nestedSuffixes, sb.String())
			}
			nameParts = append(nameParts, sb.String())
			sb.Reset()
		case '.':
			if sb.Len() > 0 {
				nameParts = append(nameParts, sb.String())
			}
			sb.Reset()
		default:
			sb.WriteByte(c)
		}
	}

	className := internalToDotted(strings.Join(nameParts, "/"))
	return TypeSignature{
		Kind:           SigClassRef,
		ClassName:      className,
		TypeArgs:       typeArgs,
		NestedSuffixes: nestedSuffixes,
	}, nil
}

func parseTypeArgs(sc *sigScanner) ([]TypeSignature, error) {
	var args []TypeSignature
	for {
		c, ok := sc.peek()
		if !ok {
			return nil, fmt.Errorf("unterminated type argument list")
		}
		if c == '>' {
			sc.pos++
			return args, nil
		}
		if c == '*' { // unbounded wildcard
			sc.pos++
			args = append(args, TypeSignature{Kind: SigTypeVariable, VarName: "?"})
			continue
		}
		if c == '+' || c == '-' { // bounded wildcard, skip variance marker
			sc.pos++
		}
		arg, err := parseFieldType(sc)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
}

// ParseMethodDescriptor parses a method descriptor "(ArgTypes)ReturnType"
// into its parameter and return TypeSignatures.
func ParseMethodDescriptor(descriptor string) (params []TypeSignature, ret TypeSignature, err error) {
	sc := &sigScanner{s: descriptor}
	if err := sc.expect('('); err != nil {
		return nil, TypeSignature{}, fmt.Errorf("classfile: parsing method descriptor %q: %w", descriptor, err)
	}
	for {
		c, ok := sc.peek()
		if !ok {
			return nil, TypeSignature{}, fmt.Errorf("classfile: unterminated parameter list in %q", descriptor)
		}
		if c == ')' {
			sc.pos++
			break
		}
		p, err := parseFieldType(sc)
		if err != nil {
			return nil, TypeSignature{}, fmt.Errorf("classfile: parsing method descriptor %q: %w", descriptor, err)
		}
		params = append(params, p)
	}
	ret, err = parseFieldType(sc)
	if err != nil {
		return nil, TypeSignature{}, fmt.Errorf("classfile: parsing method descriptor %q return type: %w", descriptor, err)
	}
	if sc.pos != len(sc.s) {
		return nil, TypeSignature{}, fmt.Errorf("classfile: trailing data in method descriptor %q", descriptor)
	}
	return params, ret, nil
}

// ParseFieldSignature parses a field's generic Signature attribute body.
// The grammar is identical to a plain field descriptor except that a type
// variable ('T') may appear anywhere a class type can, which parseFieldType
// already handles.
func ParseFieldSignature(sig string) (TypeSignature, error) {
	return ParseDescriptor(sig)
}

// skipTypeParams consumes a class or method signature's leading
// "<Name:Bound;...>" type-parameter section, if sc is positioned at its
// opening '<'. The parsed type parameters aren't modeled on TypeSignature;
// callers only need the scanner advanced past them.
func skipTypeParams(sc *sigScanner) error {
	depth := 0
	for {
		c, ok := sc.next()
		if !ok {
			return fmt.Errorf("unterminated type parameter section in %q", sc.s)
		}
		switch c {
		case '<':
			depth++
		case '>':
			depth--
			if depth == 0 {
				return nil
			}
		}
	}
}

// ParseMethodSignature parses a method's generic Signature attribute body:
// an optional leading type-parameter section (skipped), a parenthesized
// parameter signature list, and a return type signature. Trailing
// "^ThrowsSignature" clauses are not modeled and are ignored.
func ParseMethodSignature(sig string) (params []TypeSignature, ret TypeSignature, err error) {
	sc := &sigScanner{s: sig}
	if c, ok := sc.peek(); ok && c == '<' {
		if err := skipTypeParams(sc); err != nil {
			return nil, TypeSignature{}, fmt.Errorf("classfile: parsing method signature %q: %w", sig, err)
		}
	}
	if err := sc.expect('('); err != nil {
		return nil, TypeSignature{}, fmt.Errorf("classfile: parsing method signature %q: %w", sig, err)
	}
	for {
		c, ok := sc.peek()
		if !ok {
			return nil, TypeSignature{}, fmt.Errorf("classfile: unterminated parameter list in signature %q", sig)
		}
		if c == ')' {
			sc.pos++
			break
		}
		p, err := parseFieldType(sc)
		if err != nil {
			return nil, TypeSignature{}, fmt.Errorf("classfile: parsing method signature %q: %w", sig, err)
		}
		params = append(params, p)
	}
	ret, err = parseFieldType(sc)
	if err != nil {
		return nil, TypeSignature{}, fmt.Errorf("classfile: parsing method signature %q return type: %w", sig, err)
	}
	return params, ret, nil
}

// ParseClassSignature parses a class's generic Signature attribute body: an
// optional leading type-parameter section (skipped), the superclass
// signature, and zero or more superinterface signatures.
func ParseClassSignature(sig string) (super TypeSignature, ifaces []TypeSignature, err error) {
	sc := &sigScanner{s: sig}
	if c, ok := sc.peek(); ok && c == '<' {
		if err := skipTypeParams(sc); err != nil {
			return TypeSignature{}, nil, fmt.Errorf("classfile: parsing class signature %q: %w", sig, err)
		}
	}
	super, err = parseFieldType(sc)
	if err != nil {
		return TypeSignature{}, nil, fmt.Errorf("classfile: parsing class signature %q superclass: %w", sig, err)
	}
	for sc.pos < len(sc.s) {
		iface, err := parseFieldType(sc)
		if err != nil {
			return TypeSignature{}, nil, fmt.Errorf("classfile: parsing class signature %q interface: %w", sig, err)
		}
		ifaces = append(ifaces, iface)
	}
	return super, ifaces, nil
}
