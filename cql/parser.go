// Package cql implements the parser for the query language.
package cql

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Parser represents a parser for the query language.
type Parser struct {
	s *bufScanner
}

// NewParser returns a new instance of Parser reading from r.
func NewParser(r io.Reader) *Parser {
	return &Parser{s: newBufScanner(r)}
}

// ParseQuery parses a query string and returns its AST representation.
func ParseQuery(s string) (*Query, error) {
	return NewParser(strings.NewReader(s)).ParseQuery()
}

// ParseQuery parses statements until EOF.
func (p *Parser) ParseQuery() (*Query, error) {
	var statements Statements
	semi := true

	for {
		if tok, pos, lit := p.scanIgnoreWhitespace(); tok == EOF {
			if len(statements) == 0 {
				return nil, newParseError(tokstr(tok, lit), []string{"statement"}, pos)
			}
			return &Query{Statements: statements}, nil
		} else if tok == SEMICOLON {
			semi = true
		} else {
			if !semi {
				return nil, newParseError(tokstr(tok, lit), []string{";"}, pos)
			}
			p.unscan()
			s, err := p.ParseStatement()
			if err != nil {
				return nil, err
			}
			statements = append(statements, s)
			semi = false
		}
	}
}

// ParseStatement parses a single statement.
func (p *Parser) ParseStatement() (Statement, error) {
	tok, pos, lit := p.scanIgnoreWhitespace()
	switch tok {
	case SELECT:
		return p.parseSelectStatement()
	case DELETE:
		return p.parseDeleteStatement()
	case DROP:
		return p.parseDropStatement()
	case LIST:
		return p.parseListStatement()
	case EXPLAIN:
		if tok, pos, lit := p.scanIgnoreWhitespace(); tok != SELECT {
			return nil, newParseError(tokstr(tok, lit), []string{"SELECT"}, pos)
		}
		s, err := p.parseSelectStatement()
		if err != nil {
			return nil, err
		}
		return &ExplainStatement{Statement: s}, nil
	default:
		return nil, newParseError(tokstr(tok, lit), []string{"SELECT", "DELETE", "DROP", "LIST", "EXPLAIN"}, pos)
	}
}

// parseSelectStatement parses a select command beginning after SELECT.
func (p *Parser) parseSelectStatement() (*SelectStatement, error) {
	stmt := &SelectStatement{Limit: DefaultQueryLimit, Order: Descending}

	fields, err := p.parseFields()
	if err != nil {
		return nil, err
	}
	stmt.Fields = fields

	if tok, pos, lit := p.scanIgnoreWhitespace(); tok != FROM {
		return nil, newParseError(tokstr(tok, lit), []string{"FROM"}, pos)
	}
	source, err := p.parseSource()
	if err != nil {
		return nil, err
	}
	stmt.Source = source

	if tok, _, _ := p.scanIgnoreWhitespace(); tok == WHERE {
		expr, err := p.ParseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Condition = expr
	} else {
		p.unscan()
	}

	if tok, _, _ := p.scanIgnoreWhitespace(); tok == GROUP {
		if tok, pos, lit := p.scanIgnoreWhitespace(); tok != BY {
			return nil, newParseError(tokstr(tok, lit), []string{"BY"}, pos)
		}
		groupBy, err := p.parseGroupBy()
		if err != nil {
			return nil, err
		}
		stmt.GroupBy = groupBy
	} else {
		p.unscan()
	}

	if tok, _, _ := p.scanIgnoreWhitespace(); tok == LIMIT {
		tok, pos, lit := p.scanIgnoreWhitespace()
		if tok != INTEGER {
			return nil, newParseError(tokstr(tok, lit), []string{"integer"}, pos)
		}
		n, err := strconv.Atoi(lit)
		if err != nil || n < 0 {
			return nil, &ParseError{Message: fmt.Sprintf("invalid limit %q", lit), Pos: pos}
		}
		if n > 0 {
			stmt.Limit = n
		}
	} else {
		p.unscan()
	}

	if tok, _, _ := p.scanIgnoreWhitespace(); tok == ORDER {
		tok, pos, lit := p.scanIgnoreWhitespace()
		switch tok {
		case ASC:
			stmt.Order = Ascending
		case DESC:
			stmt.Order = Descending
		default:
			return nil, newParseError(tokstr(tok, lit), []string{"ASC", "DESC"}, pos)
		}
	} else {
		p.unscan()
	}

	if tok, _, _ := p.scanIgnoreWhitespace(); tok == INTO {
		name, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		stmt.Into = name
	} else {
		p.unscan()
	}

	if err := stmt.validate(); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (s *SelectStatement) validate() error {
	aggregates := 0
	raw := 0
	for _, f := range s.Fields {
		switch expr := f.Expr.(type) {
		case *Call:
			if !IsAggregateFunc(expr.Name) {
				return fmt.Errorf("unknown function %q", expr.Name)
			}
			aggregates++
		case *Wildcard, *VarRef, *BinaryExpr:
			raw++
		}
	}
	if aggregates > 0 && raw > 0 {
		return fmt.Errorf("mixing aggregate and raw columns is not supported")
	}
	if s.GroupBy != nil && s.GroupBy.Interval > 0 && aggregates == 0 {
		return fmt.Errorf("group by time requires an aggregate function")
	}
	return nil
}

// parseDeleteStatement parses a delete command beginning after DELETE.
func (p *Parser) parseDeleteStatement() (*DeleteStatement, error) {
	stmt := &DeleteStatement{}

	if tok, pos, lit := p.scanIgnoreWhitespace(); tok != FROM {
		return nil, newParseError(tokstr(tok, lit), []string{"FROM"}, pos)
	}
	name, err := p.parseIdent()
	if err != nil {
		return nil, err
	}
	stmt.Source = &Series{Name: name}

	if tok, _, _ := p.scanIgnoreWhitespace(); tok == WHERE {
		expr, err := p.ParseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Condition = expr
	} else {
		p.unscan()
	}

	return stmt, nil
}

// parseDropStatement parses statements beginning after DROP.
func (p *Parser) parseDropStatement() (Statement, error) {
	tok, pos, lit := p.scanIgnoreWhitespace()
	switch tok {
	case SERIES:
		name, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		return &DropSeriesStatement{Name: name}, nil
	case CONTINUOUS:
		if tok, pos, lit := p.scanIgnoreWhitespace(); tok != QUERY {
			return nil, newParseError(tokstr(tok, lit), []string{"QUERY"}, pos)
		}
		tok, pos, lit := p.scanIgnoreWhitespace()
		if tok != INTEGER {
			return nil, newParseError(tokstr(tok, lit), []string{"integer"}, pos)
		}
		id, err := strconv.ParseUint(lit, 10, 64)
		if err != nil {
			return nil, &ParseError{Message: fmt.Sprintf("invalid continuous query id %q", lit), Pos: pos}
		}
		return &DropContinuousQueryStatement{ID: id}, nil
	default:
		return nil, newParseError(tokstr(tok, lit), []string{"SERIES", "CONTINUOUS"}, pos)
	}
}

// parseListStatement parses statements beginning after LIST.
func (p *Parser) parseListStatement() (Statement, error) {
	tok, pos, lit := p.scanIgnoreWhitespace()
	switch tok {
	case SERIES:
		return &ListSeriesStatement{}, nil
	case CONTINUOUS:
		if tok, pos, lit := p.scanIgnoreWhitespace(); tok != QUERIES {
			return nil, newParseError(tokstr(tok, lit), []string{"QUERIES"}, pos)
		}
		return &ListContinuousQueriesStatement{}, nil
	default:
		return nil, newParseError(tokstr(tok, lit), []string{"SERIES", "CONTINUOUS"}, pos)
	}
}

// parseFields parses a comma separated field list.
func (p *Parser) parseFields() (Fields, error) {
	var fields Fields
	for {
		expr, err := p.ParseExpr()
		if err != nil {
			return nil, err
		}
		field := &Field{Expr: expr}

		if tok, _, _ := p.scanIgnoreWhitespace(); tok == AS {
			alias, err := p.parseIdent()
			if err != nil {
				return nil, err
			}
			field.Alias = alias
		} else {
			p.unscan()
		}

		fields = append(fields, field)

		if tok, _, _ := p.scanIgnoreWhitespace(); tok != COMMA {
			p.unscan()
			return fields, nil
		}
	}
}

// parseSource parses the from clause: a single series, "a merge b",
// "a inner join b", or the function forms merge(a, b) / inner_join(a, b).
func (p *Parser) parseSource() (Source, error) {
	tok, pos, lit := p.scanIgnoreWhitespace()

	switch tok {
	case MERGE:
		lhs, rhs, err := p.parsePairArgs()
		if err != nil {
			return nil, err
		}
		return &Merge{LHS: lhs, RHS: rhs}, nil
	case IDENT:
		if strings.ToLower(lit) == "inner_join" {
			if tok, _, _ := p.scanIgnoreWhitespace(); tok == LPAREN {
				p.unscan()
				lhs, rhs, err := p.parsePairArgs()
				if err != nil {
					return nil, err
				}
				return &InnerJoin{LHS: lhs, RHS: rhs}, nil
			}
			p.unscan()
		}
	default:
		return nil, newParseError(tokstr(tok, lit), []string{"series name"}, pos)
	}

	lhs := &Series{Name: lit}

	tok, _, _ = p.scanIgnoreWhitespace()
	switch tok {
	case MERGE:
		name, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		return &Merge{LHS: lhs, RHS: &Series{Name: name}}, nil
	case INNER:
		if tok, pos, lit := p.scanIgnoreWhitespace(); tok != JOIN {
			return nil, newParseError(tokstr(tok, lit), []string{"JOIN"}, pos)
		}
		name, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		return &InnerJoin{LHS: lhs, RHS: &Series{Name: name}}, nil
	default:
		p.unscan()
		return lhs, nil
	}
}

// parsePairArgs parses "(a, b)".
func (p *Parser) parsePairArgs() (*Series, *Series, error) {
	if tok, pos, lit := p.scanIgnoreWhitespace(); tok != LPAREN {
		return nil, nil, newParseError(tokstr(tok, lit), []string{"("}, pos)
	}
	lhs, err := p.parseIdent()
	if err != nil {
		return nil, nil, err
	}
	if tok, pos, lit := p.scanIgnoreWhitespace(); tok != COMMA {
		return nil, nil, newParseError(tokstr(tok, lit), []string{","}, pos)
	}
	rhs, err := p.parseIdent()
	if err != nil {
		return nil, nil, err
	}
	if tok, pos, lit := p.scanIgnoreWhitespace(); tok != RPAREN {
		return nil, nil, newParseError(tokstr(tok, lit), []string{")"}, pos)
	}
	return &Series{Name: lhs}, &Series{Name: rhs}, nil
}

// parseGroupBy parses the clause following GROUP BY.
func (p *Parser) parseGroupBy() (*GroupByClause, error) {
	g := &GroupByClause{}

	for {
		tok, pos, lit := p.scanIgnoreWhitespace()
		switch {
		case tok == IDENT && strings.ToLower(lit) == "time":
			if tok, pos, lit := p.scanIgnoreWhitespace(); tok != LPAREN {
				return nil, newParseError(tokstr(tok, lit), []string{"("}, pos)
			}
			tok, pos, lit := p.scanIgnoreWhitespace()
			if tok != DURATION {
				return nil, newParseError(tokstr(tok, lit), []string{"duration"}, pos)
			}
			d, err := ParseDuration(lit)
			if err != nil {
				return nil, &ParseError{Message: err.Error(), Pos: pos}
			}
			g.Interval = d
			if tok, pos, lit := p.scanIgnoreWhitespace(); tok != RPAREN {
				return nil, newParseError(tokstr(tok, lit), []string{")"}, pos)
			}
		case tok == FILL:
			if tok, pos, lit := p.scanIgnoreWhitespace(); tok != LPAREN {
				return nil, newParseError(tokstr(tok, lit), []string{"("}, pos)
			}
			tok, pos, lit := p.scanIgnoreWhitespace()
			switch tok {
			case INTEGER:
				n, _ := strconv.ParseInt(lit, 10, 64)
				g.FillValue = float64(n)
			case NUMBER:
				f, _ := strconv.ParseFloat(lit, 64)
				g.FillValue = f
			case IDENT:
				if strings.ToLower(lit) != "null" {
					return nil, newParseError(tokstr(tok, lit), []string{"number", "null"}, pos)
				}
			default:
				return nil, newParseError(tokstr(tok, lit), []string{"number", "null"}, pos)
			}
			g.Fill = true
			if tok, pos, lit := p.scanIgnoreWhitespace(); tok != RPAREN {
				return nil, newParseError(tokstr(tok, lit), []string{")"}, pos)
			}
		case tok == IDENT:
			g.Columns = append(g.Columns, lit)
		default:
			return nil, newParseError(tokstr(tok, lit), []string{"time(...)", "column", "fill(...)"}, pos)
		}

		if tok, _, _ := p.scanIgnoreWhitespace(); tok != COMMA {
			p.unscan()
			return g, nil
		}
	}
}

// parseIdent parses an identifier.
func (p *Parser) parseIdent() (string, error) {
	tok, pos, lit := p.scanIgnoreWhitespace()
	if tok != IDENT {
		return "", newParseError(tokstr(tok, lit), []string{"identifier"}, pos)
	}
	return lit, nil
}

// ParseExpr parses an expression using precedence climbing.
func (p *Parser) ParseExpr() (Expr, error) {
	var err error
	root := &BinaryExpr{}

	root.RHS, err = p.parseUnaryExpr()
	if err != nil {
		return nil, err
	}

	// Loop over operations and unary exprs and build a tree based on
	// precedence.
	for {
		op, _, _ := p.scanIgnoreWhitespace()
		if !op.isOperator() {
			p.unscan()
			return root.RHS, nil
		}

		var rhs Expr
		if op == EQREGEX {
			tok, pos, lit := p.scanIgnoreWhitespace()
			if tok != REGEX {
				return nil, newParseError(tokstr(tok, lit), []string{"regex"}, pos)
			}
			re, err := regexp.Compile(lit)
			if err != nil {
				return nil, &ParseError{Message: err.Error(), Pos: pos}
			}
			rhs = &RegexLiteral{Val: re}
		} else {
			rhs, err = p.parseUnaryExpr()
			if err != nil {
				return nil, err
			}
		}

		// Find the right spot in the tree for the new expression by
		// descending the RHS of the tree as long as operator precedence
		// is lower.
		for node := root; ; {
			r, ok := node.RHS.(*BinaryExpr)
			if !ok || r.Op.Precedence() >= op.Precedence() {
				node.RHS = &BinaryExpr{LHS: node.RHS, RHS: rhs, Op: op}
				break
			}
			node = r
		}
	}
}

// parseUnaryExpr parses a non-binary expression.
func (p *Parser) parseUnaryExpr() (Expr, error) {
	tok, pos, lit := p.scanIgnoreWhitespace()

	switch tok {
	case LPAREN:
		expr, err := p.ParseExpr()
		if err != nil {
			return nil, err
		}
		if tok, pos, lit := p.scanIgnoreWhitespace(); tok != RPAREN {
			return nil, newParseError(tokstr(tok, lit), []string{")"}, pos)
		}
		return &ParenExpr{Expr: expr}, nil
	case IDENT:
		if tok0, _, _ := p.scan(); tok0 == LPAREN {
			return p.parseCall(lit)
		}
		p.unscan()
		return &VarRef{Val: lit}, nil
	case STRING:
		return &StringLiteral{Val: lit}, nil
	case NUMBER:
		v, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return nil, &ParseError{Message: "unable to parse number", Pos: pos}
		}
		return &NumberLiteral{Val: v}, nil
	case INTEGER:
		v, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return nil, &ParseError{Message: "unable to parse integer", Pos: pos}
		}
		return &IntegerLiteral{Val: v}, nil
	case DURATION:
		d, err := ParseDuration(lit)
		if err != nil {
			return nil, &ParseError{Message: err.Error(), Pos: pos}
		}
		return &DurationLiteral{Val: d}, nil
	case TRUE, FALSE:
		return &BooleanLiteral{Val: tok == TRUE}, nil
	case MUL:
		return &Wildcard{}, nil
	case SUB:
		expr, err := p.parseUnaryExpr()
		if err != nil {
			return nil, err
		}
		switch e := expr.(type) {
		case *NumberLiteral:
			e.Val = -e.Val
			return e, nil
		case *IntegerLiteral:
			e.Val = -e.Val
			return e, nil
		case *DurationLiteral:
			e.Val = -e.Val
			return e, nil
		default:
			return &BinaryExpr{Op: MUL, LHS: &IntegerLiteral{Val: -1}, RHS: expr}, nil
		}
	default:
		return nil, newParseError(tokstr(tok, lit), []string{"identifier", "string", "number", "bool"}, pos)
	}
}

// parseCall parses a function call after the opening paren has been consumed.
func (p *Parser) parseCall(name string) (*Call, error) {
	call := &Call{Name: strings.ToLower(name)}

	// Empty argument list, e.g. now().
	if tok, _, _ := p.scanIgnoreWhitespace(); tok == RPAREN {
		return call, nil
	}
	p.unscan()

	for {
		arg, err := p.ParseExpr()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)

		tok, pos, lit := p.scanIgnoreWhitespace()
		switch tok {
		case COMMA:
			continue
		case RPAREN:
			return call, nil
		default:
			return nil, newParseError(tokstr(tok, lit), []string{",", ")"}, pos)
		}
	}
}

// scan returns the next token from the underlying scanner.
func (p *Parser) scan() (tok Token, pos Pos, lit string) { return p.s.Scan() }

// scanIgnoreWhitespace scans the next non-whitespace token.
func (p *Parser) scanIgnoreWhitespace() (tok Token, pos Pos, lit string) {
	for {
		tok, pos, lit = p.scan()
		if tok == WS {
			continue
		}
		return
	}
}

// unscan pushes the previously read token back onto the buffer.
func (p *Parser) unscan() { p.s.Unscan() }

// ParseError represents an error that occurred during parsing.
type ParseError struct {
	Message  string
	Found    string
	Expected []string
	Pos      Pos
}

// newParseError returns a new instance of ParseError.
func newParseError(found string, expected []string, pos Pos) *ParseError {
	return &ParseError{Found: found, Expected: expected, Pos: pos}
}

// Error returns the string representation of the error.
func (e *ParseError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s at %s", e.Message, e.Pos)
	}
	return fmt.Sprintf("found %s, expected %s at %s", e.Found, strings.Join(e.Expected, ", "), e.Pos)
}

func tokstr(tok Token, lit string) string {
	if lit != "" {
		return lit
	}
	if tok == EOF {
		return "EOF"
	}
	return tok.String()
}

// bufScanner wraps a Scanner with a two-token lookahead buffer.
type bufScanner struct {
	s   *Scanner
	i   int
	n   int
	buf [2]struct {
		tok Token
		pos Pos
		lit string
	}
}

func newBufScanner(r io.Reader) *bufScanner {
	return &bufScanner{s: NewScanner(r)}
}

// Scan reads the next token from the scanner.
func (s *bufScanner) Scan() (tok Token, pos Pos, lit string) {
	// If we have unscanned tokens then read them off the buffer first.
	if s.n > 0 {
		s.n--
		return s.curr()
	}

	// Move buffer position forward and save the token.
	s.i = (s.i + 1) % len(s.buf)
	buf := &s.buf[s.i]
	buf.tok, buf.pos, buf.lit = s.s.Scan()

	return s.curr()
}

// Unscan pushes the previously token back onto the buffer.
func (s *bufScanner) Unscan() { s.n++ }

// curr returns the last read token.
func (s *bufScanner) curr() (tok Token, pos Pos, lit string) {
	buf := &s.buf[(s.i-s.n+len(s.buf))%len(s.buf)]
	return buf.tok, buf.pos, buf.lit
}
