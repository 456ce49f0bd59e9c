package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// node is an element of a parsed expression.
type node interface {
	eval(env *Env) (any, error)
}

type literal struct{ v any }

type ident struct{ path []string }

type unary struct {
	op      tokenType
	operand node
}

type binary struct {
	op          tokenType
	left, right node
}

const (
	precLowest = iota
	precOr
	precAnd
	precEquality
	precCompare
	precSum
	precProduct
	precUnary
)

var precedence = map[tokenType]int{
	tokOr:      precOr,
	tokAnd:     precAnd,
	tokEq:      precEquality,
	tokNeq:     precEquality,
	tokLt:      precCompare,
	tokLte:     precCompare,
	tokGt:      precCompare,
	tokGte:     precCompare,
	tokPlus:    precSum,
	tokMinus:   precSum,
	tokStar:    precProduct,
	tokSlash:   precProduct,
	tokPercent: precProduct,
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.typ != tokEOF {
		p.pos++
	}
	return t
}

// parse builds an expression tree from src.
func parse(src string) (node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseExpr(precLowest)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.typ != tokEOF {
		return nil, fmt.Errorf("expr: unexpected %s %q at %d", t.typ, t.val, t.pos)
	}
	return n, nil
}

func (p *parser) parseExpr(minPrec int) (node, error) {
	left, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek()
		prec, ok := precedence[op.typ]
		if !ok || prec <= minPrec {
			return left, nil
		}
		p.next()
		right, err := p.parseExpr(prec)
		if err != nil {
			return nil, err
		}
		left = &binary{op: op.typ, left: left, right: right}
	}
}

func (p *parser) parsePrefix() (node, error) {
	t := p.next()
	switch t.typ {
	case tokNumber:
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, fmt.Errorf("expr: bad number %q at %d", t.val, t.pos)
		}
		return &literal{v: f}, nil
	case tokString:
		return &literal{v: t.val}, nil
	case tokTrue:
		return &literal{v: true}, nil
	case tokFalse:
		return &literal{v: false}, nil
	case tokNull:
		return &literal{v: nil}, nil
	case tokIdent:
		return &ident{path: strings.Split(t.val, ".")}, nil
	case tokNot, tokMinus:
		operand, err := p.parseExpr(precUnary)
		if err != nil {
			return nil, err
		}
		return &unary{op: t.typ, operand: operand}, nil
	case tokLParen:
		inner, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.typ != tokRParen {
			return nil, fmt.Errorf("expr: expected ) at %d", closing.pos)
		}
		return inner, nil
	case tokEOF:
		return nil, fmt.Errorf("expr: unexpected end of expression")
	default:
		return nil, fmt.Errorf("expr: unexpected %q at %d", t.val, t.pos)
	}
}
