package statement

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robbenti/nsdb/internal/model"
)

// Parser parses one SQL statement of the accepted subset:
//
//	SELECT <*|fields> FROM <metric> [WHERE <cond>] [GROUP BY <tag>]
//	       [ORDER BY <field> [DESC]] [LIMIT <n>]
//	INSERT INTO <metric> [TS = <ts>] [DIM(<k>=<v>, ...)] [TAGS(<k>=<v>, ...)] VAL = <v>
//	DELETE FROM <metric> WHERE <cond>
//	DROP [METRIC] <metric>
type Parser struct {
	s   *scanner
	buf struct {
		tok token  // last read token
		lit string // last read literal
		n   int    // buffer size (max=1)
	}
}

// NewParser returns a parser over the statement text.
func NewParser(text string) *Parser {
	return &Parser{s: newScanner(strings.NewReader(text))}
}

// Parse parses the statement text into its AST.
func Parse(text string) (Statement, error) {
	return NewParser(text).Parse()
}

// Parse consumes the whole input and returns one statement.
func (p *Parser) Parse() (Statement, error) {
	tok, lit := p.scanIgnoreWhitespace()
	var stmt Statement
	var err error
	switch tok {
	case tokSelect:
		stmt, err = p.parseSelect()
	case tokInsert:
		stmt, err = p.parseInsert()
	case tokDelete:
		stmt, err = p.parseDelete()
	case tokDrop:
		stmt, err = p.parseDrop()
	default:
		return nil, fmt.Errorf("found %q, expected SELECT, INSERT, DELETE or DROP", lit)
	}
	if err != nil {
		return nil, err
	}
	if tok, lit := p.scanIgnoreWhitespace(); tok != tokEOF {
		return nil, fmt.Errorf("unexpected trailing input %q", lit)
	}
	return stmt, nil
}

func (p *Parser) parseSelect() (*SelectSQLStatement, error) {
	stmt := &SelectSQLStatement{}

	// Projection
	if tok, _ := p.scanIgnoreWhitespace(); tok == tokAsterisk {
		stmt.AllFields = true
	} else {
		p.unscan()
		for {
			f, err := p.parseProjectedField()
			if err != nil {
				return nil, err
			}
			stmt.Fields = append(stmt.Fields, f)
			if tok, _ := p.scanIgnoreWhitespace(); tok != tokComma {
				p.unscan()
				break
			}
		}
	}

	if err := p.expect(tokFrom, "FROM"); err != nil {
		return nil, err
	}
	metric, err := p.expectIdent("metric name")
	if err != nil {
		return nil, err
	}
	stmt.Metric = metric

	for {
		tok, lit := p.scanIgnoreWhitespace()
		switch tok {
		case tokWhere:
			cond, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			stmt.Condition = cond
		case tokGroup:
			if err := p.expect(tokBy, "BY"); err != nil {
				return nil, err
			}
			field, err := p.expectIdent("group by field")
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = field
		case tokOrder:
			if err := p.expect(tokBy, "BY"); err != nil {
				return nil, err
			}
			field, err := p.expectIdent("order by field")
			if err != nil {
				return nil, err
			}
			order := &OrderOperator{Dimension: field}
			if tok, _ := p.scanIgnoreWhitespace(); tok == tokDesc {
				order.Desc = true
			} else {
				p.unscan()
			}
			stmt.Order = order
		case tokLimit:
			tok, lit := p.scanIgnoreWhitespace()
			if tok != tokNumber {
				return nil, fmt.Errorf("found %q, expected limit value", lit)
			}
			n, err := strconv.Atoi(lit)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid limit %q", lit)
			}
			stmt.Limit = &n
		case tokEOF:
			return stmt, nil
		default:
			return nil, fmt.Errorf("found %q, expected WHERE, GROUP BY, ORDER BY or LIMIT", lit)
		}
	}
}

// parseProjectedField parses `name` or `agg(value)` / `count(*)`.
func (p *Parser) parseProjectedField() (Field, error) {
	tok, lit := p.scanIgnoreWhitespace()
	if tok != tokIdent {
		return Field{}, fmt.Errorf("found %q, expected field name", lit)
	}

	next, _ := p.scanIgnoreWhitespace()
	if next != tokLparen {
		p.unscan()
		return Field{Name: lit}, nil
	}

	agg := Aggregation(strings.ToLower(lit))
	switch agg {
	case AggSum, AggCount, AggMin, AggMax, AggAvg:
	default:
		return Field{}, fmt.Errorf("unknown aggregation %q", lit)
	}

	tok, lit = p.scanIgnoreWhitespace()
	var name string
	switch tok {
	case tokAsterisk:
		name = model.ValueField
	case tokIdent:
		name = lit
	default:
		return Field{}, fmt.Errorf("found %q, expected aggregated field", lit)
	}
	if err := p.expect(tokRparen, ")"); err != nil {
		return Field{}, err
	}
	return Field{Name: name, Aggregation: agg}, nil
}

func (p *Parser) parseInsert() (*InsertSQLStatement, error) {
	if err := p.expect(tokInto, "INTO"); err != nil {
		return nil, err
	}
	metric, err := p.expectIdent("metric name")
	if err != nil {
		return nil, err
	}
	stmt := &InsertSQLStatement{
		Metric:     metric,
		Dimensions: map[string]model.Scalar{},
		Tags:       map[string]model.Scalar{},
	}

	for {
		tok, lit := p.scanIgnoreWhitespace()
		switch tok {
		case tokTs:
			if err := p.expect(tokEq, "="); err != nil {
				return nil, err
			}
			tok, lit := p.scanIgnoreWhitespace()
			if tok != tokNumber {
				return nil, fmt.Errorf("found %q, expected timestamp", lit)
			}
			ts, err := strconv.ParseInt(lit, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid timestamp %q", lit)
			}
			stmt.Timestamp = &ts
		case tokDim:
			if err := p.parseFieldMap(stmt.Dimensions); err != nil {
				return nil, err
			}
		case tokTags:
			if err := p.parseFieldMap(stmt.Tags); err != nil {
				return nil, err
			}
		case tokVal:
			if err := p.expect(tokEq, "="); err != nil {
				return nil, err
			}
			v, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			stmt.Value = v
		case tokEOF:
			p.unscan()
			return stmt, nil
		default:
			return nil, fmt.Errorf("found %q, expected TS, DIM, TAGS or VAL", lit)
		}
	}
}

func (p *Parser) parseFieldMap(dst map[string]model.Scalar) error {
	if err := p.expect(tokLparen, "("); err != nil {
		return err
	}
	for {
		name, err := p.expectIdent("field name")
		if err != nil {
			return err
		}
		if err := p.expect(tokEq, "="); err != nil {
			return err
		}
		v, err := p.parseLiteral()
		if err != nil {
			return err
		}
		dst[name] = v
		tok, lit := p.scanIgnoreWhitespace()
		if tok == tokRparen {
			return nil
		}
		if tok != tokComma {
			return fmt.Errorf("found %q, expected , or )", lit)
		}
	}
}

func (p *Parser) parseDelete() (*DeleteSQLStatement, error) {
	if err := p.expect(tokFrom, "FROM"); err != nil {
		return nil, err
	}
	metric, err := p.expectIdent("metric name")
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokWhere, "WHERE"); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &DeleteSQLStatement{Metric: metric, Condition: cond}, nil
}

func (p *Parser) parseDrop() (*DropSQLStatement, error) {
	tok, _ := p.scanIgnoreWhitespace()
	if tok != tokMetric {
		p.unscan()
	}
	metric, err := p.expectIdent("metric name")
	if err != nil {
		return nil, err
	}
	return &DropSQLStatement{Metric: metric}, nil
}

// parseExpression parses OR-separated conjunctions, lowest precedence first.
func (p *Parser) parseExpression() (Expression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		tok, _ := p.scanIgnoreWhitespace()
		if tok != tokOr {
			p.unscan()
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &OrExpression{Left: left, Right: right}
	}
}

func (p *Parser) parseAnd() (Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok, _ := p.scanIgnoreWhitespace()
		if tok != tokAnd {
			p.unscan()
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &AndExpression{Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() (Expression, error) {
	tok, lit := p.scanIgnoreWhitespace()
	switch tok {
	case tokNot:
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotExpression{Expr: inner}, nil
	case tokLparen:
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRparen, ")"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokIdent:
		return p.parseComparison(lit)
	default:
		return nil, fmt.Errorf("found %q, expected condition", lit)
	}
}

// parseComparison parses `field <op> literal` or `field IN RANGE (lo, hi)`.
func (p *Parser) parseComparison(field string) (Expression, error) {
	tok, lit := p.scanIgnoreWhitespace()

	if tok == tokIn {
		if err := p.expect(tokRange, "RANGE"); err != nil {
			return nil, err
		}
		if err := p.expect(tokLparen, "("); err != nil {
			return nil, err
		}
		lo, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokComma, ","); err != nil {
			return nil, err
		}
		hi, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRparen, ")"); err != nil {
			return nil, err
		}
		return &RangeExpression{Field: field, Lo: lo, Hi: hi}, nil
	}

	var op ComparisonOperator
	switch tok {
	case tokEq:
		op = OpEq
	case tokGt:
		op = OpGt
	case tokGte:
		op = OpGte
	case tokLt:
		op = OpLt
	case tokLte:
		op = OpLte
	default:
		return nil, fmt.Errorf("found %q, expected comparison operator", lit)
	}

	v, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return &ComparisonExpression{Field: field, Op: op, Value: v}, nil
}

// parseLiteral parses a number, a quoted string, or a bare word.
func (p *Parser) parseLiteral() (model.Scalar, error) {
	tok, lit := p.scanIgnoreWhitespace()
	switch tok {
	case tokNumber:
		if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
			return model.Int64Scalar(i), nil
		}
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return model.Scalar{}, fmt.Errorf("invalid number %q", lit)
		}
		return model.DecimalScalar(f), nil
	case tokString, tokIdent:
		return model.StringScalar(lit), nil
	default:
		return model.Scalar{}, fmt.Errorf("found %q, expected literal", lit)
	}
}

func (p *Parser) expect(want token, repr string) error {
	if tok, lit := p.scanIgnoreWhitespace(); tok != want {
		return fmt.Errorf("found %q, expected %s", lit, repr)
	}
	return nil
}

func (p *Parser) expectIdent(what string) (string, error) {
	tok, lit := p.scanIgnoreWhitespace()
	if tok != tokIdent {
		return "", fmt.Errorf("found %q, expected %s", lit, what)
	}
	return lit, nil
}

// scan returns the next token, honoring one level of unscan.
func (p *Parser) scan() (token, string) {
	if p.buf.n != 0 {
		p.buf.n = 0
		return p.buf.tok, p.buf.lit
	}
	tok, lit := p.s.scan()
	p.buf.tok, p.buf.lit = tok, lit
	return tok, lit
}

func (p *Parser) scanIgnoreWhitespace() (token, string) {
	tok, lit := p.scan()
	if tok == tokWS {
		tok, lit = p.scan()
	}
	return tok, lit
}

func (p *Parser) unscan() { p.buf.n = 1 }
