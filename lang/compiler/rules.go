package compiler

import "github.com/mna/lumen/lang/token"

// Precedence levels from lowest to highest binding power.
type Precedence int

const (
	PrecNone Precedence = iota
	PrecAssignment
	PrecOr
	PrecAnd
	PrecEquality
	PrecComparison
	PrecTerm
	PrecFactor
	PrecUnary
	PrecCall
	PrecPrimary
)

type parseFn func(c *compiler, canAssign bool)

type rule struct {
	prefix parseFn
	infix  parseFn
	prec   Precedence
}

// rules is the constant-time Pratt dispatch table: a static array indexed by
// token kind, one lookup per parse step instead of a type switch or map.
var rules [token.NumKinds]rule

func init() {
	rules[token.LPAREN] = rule{(*compiler).grouping, (*compiler).call, PrecCall}
	rules[token.DOT] = rule{nil, (*compiler).dot, PrecCall}
	rules[token.MINUS] = rule{(*compiler).unary, (*compiler).binary, PrecTerm}
	rules[token.PLUS] = rule{nil, (*compiler).binary, PrecTerm}
	rules[token.SLASH] = rule{nil, (*compiler).binary, PrecFactor}
	rules[token.STAR] = rule{nil, (*compiler).binary, PrecFactor}
	rules[token.BANG] = rule{(*compiler).unary, nil, PrecNone}
	rules[token.BANG_EQUAL] = rule{nil, (*compiler).binary, PrecEquality}
	rules[token.EQUAL_EQUAL] = rule{nil, (*compiler).binary, PrecEquality}
	rules[token.GREATER] = rule{nil, (*compiler).binary, PrecComparison}
	rules[token.GREATER_EQUAL] = rule{nil, (*compiler).binary, PrecComparison}
	rules[token.LESS] = rule{nil, (*compiler).binary, PrecComparison}
	rules[token.LESS_EQUAL] = rule{nil, (*compiler).binary, PrecComparison}
	rules[token.IDENT] = rule{(*compiler).variable, nil, PrecNone}
	rules[token.STRING] = rule{(*compiler).string, nil, PrecNone}
	rules[token.NUMBER] = rule{(*compiler).number, nil, PrecNone}
	rules[token.AND] = rule{nil, (*compiler).and_, PrecAnd}
	rules[token.OR] = rule{nil, (*compiler).or_, PrecOr}
	rules[token.FALSE] = rule{(*compiler).literal, nil, PrecNone}
	rules[token.TRUE] = rule{(*compiler).literal, nil, PrecNone}
	rules[token.NIL] = rule{(*compiler).literal, nil, PrecNone}
	rules[token.THIS] = rule{(*compiler).this, nil, PrecNone}
	rules[token.SUPER] = rule{(*compiler).super, nil, PrecNone}
}

func getRule(k token.Kind) rule { return rules[k] }
