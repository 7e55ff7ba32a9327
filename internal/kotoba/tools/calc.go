package tools

import (
	"errors"
	"fmt"
	"strconv"
	"unicode"
)

var errDivByZero = errors.New("division by zero")

// Evaluate computes an arithmetic expression over float64 with the usual
// precedence. Supported: numbers, + - * /, unary minus, parentheses.
func Evaluate(expr string) (float64, error) {
	p := &calcParser{src: []rune(expr)}
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return 0, fmt.Errorf("unexpected %q at position %d", p.src[p.pos], p.pos)
	}
	return v, nil
}

type calcParser struct {
	src   []rune
	pos   int
	depth int
}

func (p *calcParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *calcParser) peek() rune {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *calcParser) expr() (float64, error) {
	left, err := p.term()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+', '-':
			op := p.src[p.pos]
			p.pos++
			right, err := p.term()
			if err != nil {
				return 0, err
			}
			if op == '+' {
				left += right
			} else {
				left -= right
			}
		default:
			return left, nil
		}
	}
}

func (p *calcParser) term() (float64, error) {
	left, err := p.factor()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*', '/':
			op := p.src[p.pos]
			p.pos++
			right, err := p.factor()
			if err != nil {
				return 0, err
			}
			if op == '*' {
				left *= right
			} else {
				if right == 0 {
					return 0, errDivByZero
				}
				left /= right
			}
		default:
			return left, nil
		}
	}
}

func (p *calcParser) factor() (float64, error) {
	switch r := p.peek(); {
	case r == '-':
		p.pos++
		v, err := p.factor()
		return -v, err
	case r == '+':
		p.pos++
		return p.factor()
	case r == '(':
		p.pos++
		p.depth++
		if p.depth > 64 {
			return 0, errors.New("expression nested too deeply")
		}
		v, err := p.expr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, errors.New("missing closing parenthesis")
		}
		p.pos++
		p.depth--
		return v, nil
	case r >= '0' && r <= '9' || r == '.':
		start := p.pos
		for p.pos < len(p.src) && (p.src[p.pos] >= '0' && p.src[p.pos] <= '9' || p.src[p.pos] == '.') {
			p.pos++
		}
		v, err := strconv.ParseFloat(string(p.src[start:p.pos]), 64)
		if err != nil {
			return 0, fmt.Errorf("bad number %q", string(p.src[start:p.pos]))
		}
		return v, nil
	case r == 0:
		return 0, errors.New("unexpected end of expression")
	default:
		return 0, fmt.Errorf("unexpected %q at position %d", r, p.pos)
	}
}
