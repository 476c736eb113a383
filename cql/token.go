package cql

import (
	"strings"
)

// Token is a lexical token of the query language.
type Token int

const (
	// ILLEGAL and the other special tokens.
	ILLEGAL Token = iota
	EOF
	WS

	literalBeg
	IDENT     // cpu.idle
	NUMBER    // 12345.67
	INTEGER   // 12345
	DURATION  // 13h
	STRING    // 'abc'
	BADSTRING // 'abc
	BADESCAPE // \q
	TRUE      // true
	FALSE     // false
	REGEX     // /a.*/
	literalEnd

	operatorBeg
	ADD // +
	SUB // -
	MUL // *
	DIV // /

	AND // AND
	OR  // OR

	EQ      // =
	NEQ     // !=
	EQREGEX // =~
	LT      // <
	LTE     // <=
	GT      // >
	GTE     // >=
	operatorEnd

	LPAREN    // (
	RPAREN    // )
	COMMA     // ,
	SEMICOLON // ;

	keywordBeg
	AS
	ASC
	BY
	CONTINUOUS
	DELETE
	DESC
	DROP
	EXPLAIN
	FILL
	FROM
	GROUP
	INNER
	INTO
	JOIN
	LIMIT
	LIST
	MERGE
	ORDER
	QUERIES
	QUERY
	SELECT
	SERIES
	WHERE
	keywordEnd
)

var tokens = [...]string{
	ILLEGAL: "ILLEGAL",
	EOF:     "EOF",
	WS:      "WS",

	IDENT:    "IDENT",
	NUMBER:   "NUMBER",
	INTEGER:  "INTEGER",
	DURATION: "DURATION",
	STRING:   "STRING",
	TRUE:     "TRUE",
	FALSE:    "FALSE",
	REGEX:    "REGEX",

	ADD: "+",
	SUB: "-",
	MUL: "*",
	DIV: "/",

	AND: "AND",
	OR:  "OR",

	EQ:      "=",
	NEQ:     "!=",
	EQREGEX: "=~",
	LT:      "<",
	LTE:     "<=",
	GT:      ">",
	GTE:     ">=",

	LPAREN:    "(",
	RPAREN:    ")",
	COMMA:     ",",
	SEMICOLON: ";",

	AS:         "AS",
	ASC:        "ASC",
	BY:         "BY",
	CONTINUOUS: "CONTINUOUS",
	DELETE:     "DELETE",
	DESC:       "DESC",
	DROP:       "DROP",
	EXPLAIN:    "EXPLAIN",
	FILL:       "FILL",
	FROM:       "FROM",
	GROUP:      "GROUP",
	INNER:      "INNER",
	INTO:       "INTO",
	JOIN:       "JOIN",
	LIMIT:      "LIMIT",
	LIST:       "LIST",
	MERGE:      "MERGE",
	ORDER:      "ORDER",
	QUERIES:    "QUERIES",
	QUERY:      "QUERY",
	SELECT:     "SELECT",
	SERIES:     "SERIES",
	WHERE:      "WHERE",
}

var keywords map[string]Token

func init() {
	keywords = make(map[string]Token)
	for tok := keywordBeg + 1; tok < keywordEnd; tok++ {
		keywords[strings.ToLower(tokens[tok])] = tok
	}
	for _, tok := range []Token{AND, OR} {
		keywords[strings.ToLower(tokens[tok])] = tok
	}
	keywords["true"] = TRUE
	keywords["false"] = FALSE
}

// String returns the string representation of the token.
func (tok Token) String() string {
	if tok >= 0 && tok < Token(len(tokens)) {
		return tokens[tok]
	}
	return ""
}

// Precedence returns the operator precedence of the binary operator token.
func (tok Token) Precedence() int {
	switch tok {
	case OR:
		return 1
	case AND:
		return 2
	case EQ, NEQ, EQREGEX, LT, LTE, GT, GTE:
		return 3
	case ADD, SUB:
		return 4
	case MUL, DIV:
		return 5
	}
	return 0
}

// isOperator reports whether the token is an operator.
func (tok Token) isOperator() bool { return tok > operatorBeg && tok < operatorEnd }

// Lookup returns the token associated with a given string.
func Lookup(ident string) Token {
	if tok, ok := keywords[strings.ToLower(ident)]; ok {
		return tok
	}
	return IDENT
}

// Pos specifies the line and character position of a token.
// The Char and Line are both zero-based indexes.
type Pos struct {
	Line int
	Char int
}
