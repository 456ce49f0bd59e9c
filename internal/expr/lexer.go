// Package expr implements the restricted expression language used by
// connection conditions and assignment expressions.
//
// The language has literals, dotted variable lookups, comparison,
// arithmetic and boolean operators, and parentheses. It has no function
// calls, and nothing in a graph definition can reach host code through it.
package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokNumber
	tokString
	tokIdent
	tokTrue
	tokFalse
	tokNull
	tokEq  // == or =
	tokNeq // !=
	tokLt
	tokLte
	tokGt
	tokGte
	tokAnd // && or and
	tokOr  // || or or
	tokNot // ! or not
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokPercent
	tokLParen
	tokRParen
)

func (t tokenType) String() string {
	switch t {
	case tokEOF:
		return "EOF"
	case tokNumber:
		return "NUMBER"
	case tokString:
		return "STRING"
	case tokIdent:
		return "IDENT"
	case tokTrue, tokFalse:
		return "BOOLEAN"
	case tokNull:
		return "NULL"
	case tokLParen:
		return "("
	case tokRParen:
		return ")"
	default:
		return "OPERATOR"
	}
}

type token struct {
	typ tokenType
	val string
	pos int
}

var keywords = map[string]tokenType{
	"true":  tokTrue,
	"false": tokFalse,
	"null":  tokNull,
	"nil":   tokNull,
	"and":   tokAnd,
	"or":    tokOr,
	"not":   tokNot,
}

// lex splits src into tokens.
func lex(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			start := i
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.') {
				i++
			}
			toks = append(toks, token{typ: tokNumber, val: string(rs[start:i]), pos: start})
		case r == '"' || r == '\'':
			s, next, err := lexString(rs, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{typ: tokString, val: s, pos: i})
			i = next
		case unicode.IsLetter(r) || r == '_' || r == '$':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_' || rs[i] == '$' || rs[i] == '.') {
				i++
			}
			word := string(rs[start:i])
			if strings.HasSuffix(word, ".") {
				return nil, fmt.Errorf("expr: malformed identifier %q at %d", word, start)
			}
			if kw, ok := keywords[word]; ok {
				toks = append(toks, token{typ: kw, val: word, pos: start})
			} else {
				toks = append(toks, token{typ: tokIdent, val: word, pos: start})
			}
		default:
			t, width, err := lexOperator(rs, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, t)
			i += width
		}
	}
	toks = append(toks, token{typ: tokEOF, pos: len(rs)})
	return toks, nil
}

func lexString(rs []rune, start int) (string, int, error) {
	quote := rs[start]
	var sb strings.Builder
	i := start + 1
	for i < len(rs) {
		r := rs[i]
		switch {
		case r == '\\' && i+1 < len(rs):
			i++
			switch rs[i] {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			default:
				sb.WriteRune(rs[i])
			}
		case r == quote:
			return sb.String(), i + 1, nil
		default:
			sb.WriteRune(r)
		}
		i++
	}
	return "", 0, fmt.Errorf("expr: unterminated string at %d", start)
}

func lexOperator(rs []rune, i int) (token, int, error) {
	two := ""
	if i+1 < len(rs) {
		two = string(rs[i : i+2])
	}
	switch two {
	case "==":
		// Accept the strict form as well.
		if i+2 < len(rs) && rs[i+2] == '=' {
			return token{typ: tokEq, val: "===", pos: i}, 3, nil
		}
		return token{typ: tokEq, val: two, pos: i}, 2, nil
	case "!=":
		if i+2 < len(rs) && rs[i+2] == '=' {
			return token{typ: tokNeq, val: "!==", pos: i}, 3, nil
		}
		return token{typ: tokNeq, val: two, pos: i}, 2, nil
	case "<=":
		return token{typ: tokLte, val: two, pos: i}, 2, nil
	case ">=":
		return token{typ: tokGte, val: two, pos: i}, 2, nil
	case "&&":
		return token{typ: tokAnd, val: two, pos: i}, 2, nil
	case "||":
		return token{typ: tokOr, val: two, pos: i}, 2, nil
	}

	single := map[rune]tokenType{
		'=': tokEq,
		'<': tokLt,
		'>': tokGt,
		'!': tokNot,
		'+': tokPlus,
		'-': tokMinus,
		'*': tokStar,
		'/': tokSlash,
		'%': tokPercent,
		'(': tokLParen,
		')': tokRParen,
	}
	if t, ok := single[rs[i]]; ok {
		return token{typ: t, val: string(rs[i]), pos: i}, 1, nil
	}
	return token{}, 0, fmt.Errorf("expr: unexpected character %q at %d", rs[i], i)
}
