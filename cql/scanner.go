package cql

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Scanner represents a lexical scanner for the query language.
type Scanner struct {
	r *reader
}

// NewScanner returns a new instance of Scanner.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: &reader{r: bufio.NewReader(r)}}
}

// Scan returns the next token and position from the underlying reader.
// Also returns the literal text read for strings, numbers, and duration tokens
// since these token types can have different literal representations.
func (s *Scanner) Scan() (tok Token, pos Pos, lit string) {
	ch0, pos := s.r.read()

	// If we see whitespace then consume all contiguous whitespace.
	// If we see a letter, or certain acceptable special characters, then consume
	// as an ident or reserved word.
	if isWhitespace(ch0) {
		return s.scanWhitespace()
	} else if isLetter(ch0) || ch0 == '_' {
		s.r.unread()
		return s.scanIdent()
	} else if isDigit(ch0) {
		s.r.unread()
		return s.scanNumber()
	}

	// Otherwise parse individual characters.
	switch ch0 {
	case eof:
		return EOF, pos, ""
	case '"':
		s.r.unread()
		return s.scanIdent()
	case '\'':
		return s.scanString()
	case '+':
		return ADD, pos, ""
	case '-':
		// A duration like -1h is scanned as SUB then DURATION.
		return SUB, pos, ""
	case '*':
		return MUL, pos, ""
	case '/':
		return s.scanRegex(pos)
	case '=':
		if ch1, _ := s.r.read(); ch1 == '~' {
			return EQREGEX, pos, ""
		}
		s.r.unread()
		return EQ, pos, ""
	case '!':
		if ch1, _ := s.r.read(); ch1 == '=' {
			return NEQ, pos, ""
		}
		s.r.unread()
	case '<':
		if ch1, _ := s.r.read(); ch1 == '=' {
			return LTE, pos, ""
		} else if ch1 == '>' {
			return NEQ, pos, ""
		}
		s.r.unread()
		return LT, pos, ""
	case '>':
		if ch1, _ := s.r.read(); ch1 == '=' {
			return GTE, pos, ""
		}
		s.r.unread()
		return GT, pos, ""
	case '(':
		return LPAREN, pos, ""
	case ')':
		return RPAREN, pos, ""
	case ',':
		return COMMA, pos, ""
	case ';':
		return SEMICOLON, pos, ""
	}

	return ILLEGAL, pos, string(ch0)
}

// scanWhitespace consumes the current rune and all contiguous whitespace.
func (s *Scanner) scanWhitespace() (tok Token, pos Pos, lit string) {
	var buf bytes.Buffer
	ch, pos := s.r.curr()
	_, _ = buf.WriteRune(ch)

	for {
		ch, _ = s.r.read()
		if ch == eof {
			break
		} else if !isWhitespace(ch) {
			s.r.unread()
			break
		}
		_, _ = buf.WriteRune(ch)
	}

	return WS, pos, buf.String()
}

// scanIdent consumes an identifier, which may be quoted or contain dots.
func (s *Scanner) scanIdent() (tok Token, pos Pos, lit string) {
	// Save the starting position of the identifier.
	_, pos = s.r.read()
	s.r.unread()

	var buf bytes.Buffer
	for {
		ch, _ := s.r.read()
		if ch == eof {
			break
		} else if ch == '"' {
			tok0, _, lit0 := s.scanQuotedIdent()
			if tok0 == BADSTRING || tok0 == BADESCAPE {
				return tok0, pos, lit0
			}
			buf.WriteString(lit0)
			continue
		} else if isIdentChar(ch) {
			buf.WriteRune(ch)
			continue
		}
		s.r.unread()
		break
	}
	lit = buf.String()

	// If the literal matches a keyword then return that keyword.
	if tok = Lookup(lit); tok != IDENT {
		return tok, pos, tokens[tok]
	}
	return IDENT, pos, lit
}

// scanQuotedIdent reads a double-quoted identifier segment. The opening
// quote has already been consumed.
func (s *Scanner) scanQuotedIdent() (tok Token, pos Pos, lit string) {
	_, pos = s.r.curr()
	var buf bytes.Buffer
	for {
		ch, _ := s.r.read()
		if ch == '"' {
			return IDENT, pos, buf.String()
		} else if ch == eof || ch == '\n' {
			return BADSTRING, pos, buf.String()
		} else if ch == '\\' {
			ch1, _ := s.r.read()
			switch ch1 {
			case '"', '\\':
				buf.WriteRune(ch1)
			default:
				return BADESCAPE, pos, string(ch1)
			}
		} else {
			buf.WriteRune(ch)
		}
	}
}

// scanString consumes a single-quoted string. The opening quote has
// already been consumed.
func (s *Scanner) scanString() (tok Token, pos Pos, lit string) {
	_, pos = s.r.curr()
	var buf bytes.Buffer
	for {
		ch, _ := s.r.read()
		if ch == '\'' {
			return STRING, pos, buf.String()
		} else if ch == eof || ch == '\n' {
			return BADSTRING, pos, buf.String()
		} else if ch == '\\' {
			ch1, _ := s.r.read()
			switch ch1 {
			case 'n':
				buf.WriteRune('\n')
			case '\'', '\\':
				buf.WriteRune(ch1)
			default:
				return BADESCAPE, pos, string(ch1)
			}
		} else {
			buf.WriteRune(ch)
		}
	}
}

// scanRegex consumes a regex literal delimited by slashes, or returns a
// DIV token if what follows cannot be a regex.
func (s *Scanner) scanRegex(pos Pos) (Token, Pos, string) {
	var buf bytes.Buffer
	for {
		ch, _ := s.r.read()
		if ch == '/' {
			return REGEX, pos, buf.String()
		} else if ch == eof || ch == '\n' {
			// Not a regex after all; rewind what we consumed and
			// treat the slash as division.
			for i := 0; i < buf.Len()+1; i++ {
				s.r.unread()
			}
			return DIV, pos, ""
		} else if ch == '\\' {
			ch1, _ := s.r.read()
			if ch1 != '/' {
				buf.WriteRune(ch)
			}
			buf.WriteRune(ch1)
		} else {
			buf.WriteRune(ch)
		}
	}
}

// scanNumber consumes a number, integer or duration literal.
func (s *Scanner) scanNumber() (tok Token, pos Pos, lit string) {
	_, pos = s.r.read()
	s.r.unread()

	var buf bytes.Buffer
	isFloat := false
	for {
		ch, _ := s.r.read()
		if isDigit(ch) {
			buf.WriteRune(ch)
		} else if ch == '.' {
			// A dot followed by a digit continues the number; a dot
			// followed by anything else ends it (dotted series names are
			// scanned as idents, not numbers).
			ch1, _ := s.r.read()
			s.r.unread()
			if !isDigit(ch1) || isFloat {
				s.r.unread()
				break
			}
			isFloat = true
			buf.WriteRune(ch)
		} else if isDurationUnitStart(ch) && !isFloat {
			s.r.unread()
			return s.scanDuration(pos, buf.String())
		} else {
			if ch != eof {
				s.r.unread()
			}
			break
		}
	}

	if isFloat {
		return NUMBER, pos, buf.String()
	}
	return INTEGER, pos, buf.String()
}

// scanDuration consumes the unit suffix of a duration literal whose
// integral part has already been read into prefix.
func (s *Scanner) scanDuration(pos Pos, prefix string) (Token, Pos, string) {
	var unit bytes.Buffer
	for {
		ch, _ := s.r.read()
		if isLetter(ch) {
			unit.WriteRune(ch)
		} else {
			if ch != eof {
				s.r.unread()
			}
			break
		}
	}

	switch unit.String() {
	case "u", "ms", "s", "m", "h", "d", "w", "y":
		return DURATION, pos, prefix + unit.String()
	}
	return ILLEGAL, pos, prefix + unit.String()
}

const eof = rune(0)

func isWhitespace(ch rune) bool { return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' }

func isLetter(ch rune) bool { return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') }

func isDigit(ch rune) bool { return ch >= '0' && ch <= '9' }

func isIdentChar(ch rune) bool {
	return isLetter(ch) || isDigit(ch) || ch == '_' || ch == '.'
}

func isDurationUnitStart(ch rune) bool {
	return strings.ContainsRune("umshdwy", ch)
}

// reader is a buffered rune reader that tracks position and supports
// multi-level unread.
type reader struct {
	r   io.RuneScanner
	i   int
	n   int
	pos Pos
	buf [64]struct {
		ch  rune
		pos Pos
	}
	eof bool
}

// read reads the next rune from the reader.
func (r *reader) read() (ch rune, pos Pos) {
	// If we have unread characters then read them off the buffer first.
	if r.n > 0 {
		r.n--
		return r.curr()
	}

	ch, _, err := r.r.ReadRune()
	if err != nil {
		ch = eof
	} else if ch == '\r' {
		if ch1, _, err := r.r.ReadRune(); err == nil && ch1 != '\n' {
			_ = r.r.UnreadRune()
		}
		ch = '\n'
	}

	// Save character and position to the buffer.
	r.i = (r.i + 1) % len(r.buf)
	buf := &r.buf[r.i]
	buf.ch, buf.pos = ch, r.pos

	// Update position. Only count EOF once.
	if ch == '\n' {
		r.pos.Line++
		r.pos.Char = 0
	} else if !r.eof {
		r.pos.Char++
	}
	if ch == eof {
		r.eof = true
	}

	return ch, buf.pos
}

// unread pushes the previously read rune back onto the buffer.
func (r *reader) unread() {
	r.n++
}

// curr returns the last read character and position.
func (r *reader) curr() (ch rune, pos Pos) {
	i := (r.i - r.n + len(r.buf)) % len(r.buf)
	buf := &r.buf[i]
	return buf.ch, buf.pos
}

// String returns a human-readable position string.
func (p Pos) String() string {
	return fmt.Sprintf("line %d, char %d", p.Line+1, p.Char+1)
}
