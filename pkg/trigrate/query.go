package trigrate

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Queries use the pandas DataFrame.query dialect: comparisons (chained ones
// included), arithmetic, "~"/"not", "&"/"and", "|"/"or", True/False and
// column names, bare or between backticks. "&" and "|" bind like "and" and
// "or", looser than comparisons. A comparison involving NaN is false, except
// "!=" which is true.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(q string) ([]token, error) {
	var toks []token
	rs := []rune(q)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			start := i
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.') {
				i++
			}
			if i < len(rs) && (rs[i] == 'e' || rs[i] == 'E') {
				i++
				if i < len(rs) && (rs[i] == '+' || rs[i] == '-') {
					i++
				}
				for i < len(rs) && unicode.IsDigit(rs[i]) {
					i++
				}
			}
			text := string(rs[start:i])
			if _, err := strconv.ParseFloat(text, 64); err != nil {
				return nil, fmt.Errorf("invalid number %q at %d", text, start)
			}
			toks = append(toks, token{tokNumber, text, start})
		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(rs) && (rs[i] == '_' || unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i])) {
				i++
			}
			toks = append(toks, token{tokIdent, string(rs[start:i]), start})
		case r == '`':
			end := i + 1
			for end < len(rs) && rs[end] != '`' {
				end++
			}
			if end == len(rs) {
				return nil, fmt.Errorf("unterminated backtick at %d", i)
			}
			// the backtick marks the token as a column name
			toks = append(toks, token{tokIdent, "`" + string(rs[i+1:end]), i})
			i = end + 1
		case r == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		default:
			op := ""
			for _, cand := range []string{"**", "//", "==", "!=", "<=", ">=", "<", ">", "&", "|", "~", "+", "-", "*", "/", "%"} {
				if strings.HasPrefix(string(rs[i:]), cand) {
					op = cand
					break
				}
			}
			switch op {
			case "":
				return nil, fmt.Errorf("unexpected character %q at %d", r, i)
			case "**", "//":
				return nil, fmt.Errorf("operator %s at %d is not supported", op, i)
			}
			toks = append(toks, token{tokOp, op, i})
			i += len(op)
		}
	}
	return append(toks, token{tokEOF, "", len(rs)}), nil
}

// queryParser translates one query into an SQLite expression over the
// events table. Column names must match the table exactly.
type queryParser struct {
	toks    []token
	pos     int
	columns map[string]bool
}

func translateQuery(q string, columns []string) (string, error) {
	toks, err := tokenize(q)
	if err != nil {
		return "", err
	}
	p := &queryParser{toks: toks, columns: make(map[string]bool, len(columns))}
	for _, c := range columns {
		p.columns[c] = true
	}
	expr, err := p.or()
	if err != nil {
		return "", err
	}
	if t := p.peek(); t.kind != tokEOF {
		return "", fmt.Errorf("unexpected %q at %d", t.text, t.pos)
	}
	return expr, nil
}

func (p *queryParser) peek() token { return p.toks[p.pos] }

func (p *queryParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// accept consumes the next token when it is one of the given operators or
// keywords.
func (p *queryParser) accept(words ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp && t.kind != tokIdent {
		return "", false
	}
	for _, w := range words {
		if t.text == w {
			p.pos++
			return w, true
		}
	}
	return "", false
}

func (p *queryParser) or() (string, error) {
	left, err := p.and()
	if err != nil {
		return "", err
	}
	for {
		if _, ok := p.accept("|", "or"); !ok {
			return left, nil
		}
		right, err := p.and()
		if err != nil {
			return "", err
		}
		left = "(" + left + " OR " + right + ")"
	}
}

func (p *queryParser) and() (string, error) {
	left, err := p.not()
	if err != nil {
		return "", err
	}
	for {
		if _, ok := p.accept("&", "and"); !ok {
			return left, nil
		}
		right, err := p.not()
		if err != nil {
			return "", err
		}
		left = "(" + left + " AND " + right + ")"
	}
}

func (p *queryParser) not() (string, error) {
	if _, ok := p.accept("not"); ok {
		x, err := p.not()
		if err != nil {
			return "", err
		}
		return "(NOT " + x + ")", nil
	}
	return p.comparison()
}

var comparisons = map[string]string{
	"==": "=", "!=": "<>", "<": "<", "<=": "<=", ">": ">", ">=": ">=",
}

func (p *queryParser) comparison() (string, error) {
	left, err := p.sum()
	if err != nil {
		return "", err
	}
	var terms []string
	for {
		op, ok := p.accept("==", "!=", "<", "<=", ">", ">=")
		if !ok {
			break
		}
		right, err := p.sum()
		if err != nil {
			return "", err
		}
		// NULL is a NaN: false for every comparison but !=
		ifNull := "0"
		if op == "!=" {
			ifNull = "1"
		}
		terms = append(terms, fmt.Sprintf("coalesce(%s %s %s, %s)", left, comparisons[op], right, ifNull))
		left = right
	}
	switch len(terms) {
	case 0:
		return left, nil
	case 1:
		return terms[0], nil
	}
	return "(" + strings.Join(terms, " AND ") + ")", nil
}

func (p *queryParser) sum() (string, error) {
	left, err := p.term()
	if err != nil {
		return "", err
	}
	for {
		op, ok := p.accept("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.term()
		if err != nil {
			return "", err
		}
		left = "(" + left + " " + op + " " + right + ")"
	}
}

func (p *queryParser) term() (string, error) {
	left, err := p.unary()
	if err != nil {
		return "", err
	}
	for {
		op, ok := p.accept("*", "/", "%")
		if !ok {
			return left, nil
		}
		right, err := p.unary()
		if err != nil {
			return "", err
		}
		if op == "/" {
			// true division, also between integer columns
			left = "(CAST(" + left + " AS REAL) / " + right + ")"
			continue
		}
		left = "(" + left + " " + op + " " + right + ")"
	}
}

func (p *queryParser) unary() (string, error) {
	op, ok := p.accept("-", "+", "~")
	if !ok {
		return p.atom()
	}
	x, err := p.unary()
	if err != nil {
		return "", err
	}
	switch op {
	case "-":
		return "(-" + x + ")", nil
	case "~":
		return "(NOT " + x + ")", nil
	}
	return x, nil
}

func (p *queryParser) atom() (string, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return t.text, nil
	case tokLParen:
		x, err := p.or()
		if err != nil {
			return "", err
		}
		if c := p.next(); c.kind != tokRParen {
			return "", fmt.Errorf("missing ) at %d", c.pos)
		}
		return x, nil
	case tokIdent:
		if strings.HasPrefix(t.text, "`") {
			return p.column(t.text[1:])
		}
		switch t.text {
		case "True", "true":
			return "1", nil
		case "False", "false":
			return "0", nil
		case "and", "or", "not", "in", "is":
			return "", fmt.Errorf("unexpected %q at %d", t.text, t.pos)
		}
		return p.column(t.text)
	case tokEOF:
		return "", fmt.Errorf("unexpected end of query")
	}
	return "", fmt.Errorf("unexpected %q at %d", t.text, t.pos)
}

func (p *queryParser) column(name string) (string, error) {
	if !p.columns[name] {
		return "", &ErrMissingColumn{Column: name}
	}
	return quoteIdent(name), nil
}
