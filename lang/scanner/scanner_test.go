package scanner_test

import (
	"testing"

	"github.com/mna/lumen/lang/scanner"
	"github.com/mna/lumen/lang/token"
	"github.com/stretchr/testify/require"
)

func scanAll(t *testing.T, src string) []token.Token {
	t.Helper()
	var s scanner.Scanner
	s.Init(src)
	var toks []token.Token
	for {
		tok := s.Scan()
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			break
		}
	}
	return toks
}

func kinds(toks []token.Token) []token.Kind {
	out := make([]token.Kind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestScanPunctAndOperators(t *testing.T) {
	toks := scanAll(t, "(){};,+-*!= <= >= == < > / .")
	require.Equal(t, []token.Kind{
		token.LPAREN, token.RPAREN, token.LBRACE, token.RBRACE, token.SEMICOLON,
		token.COMMA, token.PLUS, token.MINUS, token.STAR, token.BANG_EQUAL,
		token.LESS_EQUAL, token.GREATER_EQUAL, token.EQUAL_EQUAL, token.LESS,
		token.GREATER, token.SLASH, token.DOT, token.EOF,
	}, kinds(toks))
}

func TestScanKeywordsAndIdentifiers(t *testing.T) {
	toks := scanAll(t, "class fun a1 _b2 while")
	require.Equal(t, []token.Kind{
		token.CLASS, token.FUN, token.IDENT, token.IDENT, token.WHILE, token.EOF,
	}, kinds(toks))
	require.Equal(t, "a1", toks[2].Lexeme)
	require.Equal(t, "_b2", toks[3].Lexeme)
}

func TestScanIdentifierWithDigits(t *testing.T) {
	// Digits are identifier-continuation characters anywhere after the first
	// character, not just in the tail that follows a leading letter run.
	toks := scanAll(t, "a1b2c3")
	require.Len(t, toks, 2)
	require.Equal(t, token.IDENT, toks[0].Kind)
	require.Equal(t, "a1b2c3", toks[0].Lexeme)
}

func TestScanNumbers(t *testing.T) {
	toks := scanAll(t, "123 45.67 0")
	require.Equal(t, []token.Kind{token.NUMBER, token.NUMBER, token.NUMBER, token.EOF}, kinds(toks))
	require.Equal(t, "45.67", toks[1].Lexeme)
}

func TestScanString(t *testing.T) {
	toks := scanAll(t, `"hello world"`)
	require.Equal(t, token.STRING, toks[0].Kind)
	require.Equal(t, `"hello world"`, toks[0].Lexeme)
}

func TestScanMultilineString(t *testing.T) {
	toks := scanAll(t, "\"line1\nline2\"\nvar")
	require.Equal(t, token.STRING, toks[0].Kind)
	require.Equal(t, token.VAR, toks[1].Kind)
	require.Equal(t, 3, toks[1].Line)
}

func TestScanUnterminatedString(t *testing.T) {
	toks := scanAll(t, `"oops`)
	require.Equal(t, token.ILLEGAL, toks[0].Kind)
	require.Contains(t, toks[0].Lexeme, "unterminated string")
}

func TestScanUnknownCharacter(t *testing.T) {
	toks := scanAll(t, "@")
	require.Equal(t, token.ILLEGAL, toks[0].Kind)
	require.Contains(t, toks[0].Lexeme, "unexpected character")
}

func TestScanSkipsLineComments(t *testing.T) {
	toks := scanAll(t, "// a whole comment\nvar x")
	require.Equal(t, []token.Kind{token.VAR, token.IDENT, token.EOF}, kinds(toks))
	require.Equal(t, 2, toks[0].Line)
}

func TestScanLineTracking(t *testing.T) {
	toks := scanAll(t, "var a\n= 1\n;")
	lines := make([]int, len(toks))
	for i, tok := range toks {
		lines[i] = tok.Line
	}
	require.Equal(t, []int{1, 1, 2, 2, 3, 3}, lines)
}
