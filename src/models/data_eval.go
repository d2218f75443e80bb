// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package models

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/hexya-erp/erpkit/src/tools/exceptions"
)

// A literalParser reads the literal expressions of "eval" attributes of
// data files: numbers, quoted strings, True, False, None, lists, tuples
// and ref('module.name') calls.
type literalParser struct {
	src string
	pos int
	ref func(string) (int64, error)
}

// evalLiteral returns the value of the given literal expression
func evalLiteral(expr string, ref func(string) (int64, error)) (interface{}, error) {
	p := &literalParser{src: expr, ref: ref}
	val, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpaces()
	if p.pos < len(p.src) {
		return nil, p.errorf("unexpected %q", p.src[p.pos:])
	}
	return val, nil
}

func (p *literalParser) errorf(format string, args ...interface{}) error {
	return exceptions.Validation("invalid_eval", "Invalid expression %q: "+format, append([]interface{}{p.src}, args...)...)
}

func (p *literalParser) skipSpaces() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *literalParser) value() (interface{}, error) {
	p.skipSpaces()
	if p.pos >= len(p.src) {
		return nil, p.errorf("unexpected end")
	}
	switch c := p.src[p.pos]; {
	case c == '[':
		return p.sequence(']')
	case c == '(':
		return p.sequence(')')
	case c == '\'' || c == '"':
		return p.quoted()
	case c == '-' || c == '+' || c >= '0' && c <= '9':
		return p.number()
	}
	ident := p.identifier()
	switch ident {
	case "True":
		return true, nil
	case "False":
		return false, nil
	case "None":
		return nil, nil
	case "ref":
		p.skipSpaces()
		if p.pos >= len(p.src) || p.src[p.pos] != '(' {
			return nil, p.errorf("ref expects an argument")
		}
		args, err := p.sequence(')')
		if err != nil {
			return nil, err
		}
		if len(args) != 1 {
			return nil, p.errorf("ref expects one argument")
		}
		xmlID, ok := args[0].(string)
		if !ok {
			return nil, p.errorf("ref expects a string")
		}
		return p.ref(xmlID)
	}
	return nil, p.errorf("unknown identifier %q", ident)
}

func (p *literalParser) identifier() string {
	start := p.pos
	for p.pos < len(p.src) && (p.src[p.pos] == '_' || unicode.IsLetter(rune(p.src[p.pos])) || unicode.IsDigit(rune(p.src[p.pos]))) {
		p.pos++
	}
	return p.src[start:p.pos]
}

// sequence reads a list or a tuple closed by the given character
func (p *literalParser) sequence(end byte) ([]interface{}, error) {
	p.pos++
	res := []interface{}{}
	for {
		p.skipSpaces()
		if p.pos < len(p.src) && p.src[p.pos] == end {
			p.pos++
			return res, nil
		}
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		res = append(res, val)
		p.skipSpaces()
		if p.pos >= len(p.src) {
			return nil, p.errorf("missing %q", end)
		}
		switch p.src[p.pos] {
		case ',':
			p.pos++
		case end:
		default:
			return nil, p.errorf("unexpected %q", p.src[p.pos])
		}
	}
}

func (p *literalParser) quoted() (interface{}, error) {
	quote := p.src[p.pos]
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		p.pos++
		switch {
		case c == '\\' && p.pos < len(p.src):
			sb.WriteByte(p.src[p.pos])
			p.pos++
		case c == quote:
			return sb.String(), nil
		default:
			sb.WriteByte(c)
		}
	}
	return nil, p.errorf("unterminated string")
}

func (p *literalParser) number() (interface{}, error) {
	start := p.pos
	p.pos++
	for p.pos < len(p.src) && strings.ContainsRune("0123456789.eE", rune(p.src[p.pos])) {
		p.pos++
	}
	lit := p.src[start:p.pos]
	if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return nil, p.errorf("invalid number %s", lit)
	}
	return f, nil
}
