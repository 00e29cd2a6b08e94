package index

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/robbenti/nsdb/internal/model"
	"github.com/robbenti/nsdb/internal/statement"
)

// Translate lowers a condition AST to the underlying index query:
// equality becomes a term or point-exact query, comparisons become half-open
// point ranges, AND/OR become boolean junctions, and NOT subtracts its operand
// from a match-all.
func Translate(expr statement.Expression, schema model.Schema) (query.Query, error) {
	if expr == nil {
		return bleve.NewMatchAllQuery(), nil
	}
	switch e := expr.(type) {
	case *statement.ComparisonExpression:
		return translateComparison(e, schema)
	case *statement.RangeExpression:
		return translateRange(e, schema)
	case *statement.AndExpression:
		l, err := Translate(e.Left, schema)
		if err != nil {
			return nil, err
		}
		r, err := Translate(e.Right, schema)
		if err != nil {
			return nil, err
		}
		return bleve.NewConjunctionQuery(l, r), nil
	case *statement.OrExpression:
		l, err := Translate(e.Left, schema)
		if err != nil {
			return nil, err
		}
		r, err := Translate(e.Right, schema)
		if err != nil {
			return nil, err
		}
		return bleve.NewDisjunctionQuery(l, r), nil
	case *statement.NotExpression:
		inner, err := Translate(e.Expr, schema)
		if err != nil {
			return nil, err
		}
		b := bleve.NewBooleanQuery()
		b.AddMust(bleve.NewMatchAllQuery())
		b.AddMustNot(inner)
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported expression %T", expr)
	}
}

func translateComparison(e *statement.ComparisonExpression, schema model.Schema) (query.Query, error) {
	if fieldIsText(e.Field, schema) {
		if e.Op != statement.OpEq {
			return nil, &model.InvalidStatementError{
				Detail: fmt.Sprintf("operator %s not applicable to VARCHAR field %q", e.Op, e.Field),
			}
		}
		q := bleve.NewTermQuery(e.Value.String())
		q.SetField(e.Field)
		return q, nil
	}

	v := e.Value.Float64()
	yes, no := true, false
	var q *query.NumericRangeQuery
	switch e.Op {
	case statement.OpEq:
		q = bleve.NewNumericRangeInclusiveQuery(&v, &v, &yes, &yes)
	case statement.OpGt:
		q = bleve.NewNumericRangeInclusiveQuery(&v, nil, &no, nil)
	case statement.OpGte:
		q = bleve.NewNumericRangeInclusiveQuery(&v, nil, &yes, nil)
	case statement.OpLt:
		q = bleve.NewNumericRangeInclusiveQuery(nil, &v, nil, &no)
	case statement.OpLte:
		q = bleve.NewNumericRangeInclusiveQuery(nil, &v, nil, &yes)
	default:
		return nil, fmt.Errorf("unknown comparison operator %v", e.Op)
	}
	q.SetField(e.Field)
	return q, nil
}

func translateRange(e *statement.RangeExpression, schema model.Schema) (query.Query, error) {
	if fieldIsText(e.Field, schema) {
		lo, hi := e.Lo.String(), e.Hi.String()
		yes := true
		q := bleve.NewTermRangeInclusiveQuery(lo, hi, &yes, &yes)
		q.SetField(e.Field)
		return q, nil
	}
	lo, hi := e.Lo.Float64(), e.Hi.Float64()
	yes := true
	q := bleve.NewNumericRangeInclusiveQuery(&lo, &hi, &yes, &yes)
	q.SetField(e.Field)
	return q, nil
}

// fieldIsText decides term vs point translation. Undeclared fields translate
// as point fields, matching nothing in a shard that never stored them.
func fieldIsText(name string, schema model.Schema) bool {
	if f, ok := schema.Field(name); ok {
		return !f.Type.Numeric()
	}
	return false
}
