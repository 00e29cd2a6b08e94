package statement

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robbenti/nsdb/internal/model"
)

// Render prints a statement back to SQL text accepted by Parse. Coordinators
// use it to ship shard subqueries to owning nodes.
func Render(stmt Statement) string {
	switch s := stmt.(type) {
	case *SelectSQLStatement:
		return renderSelect(s)
	case *InsertSQLStatement:
		return renderInsert(s)
	case *DeleteSQLStatement:
		return fmt.Sprintf("DELETE FROM %s WHERE %s", s.Metric, RenderExpression(s.Condition))
	case *DropSQLStatement:
		return "DROP METRIC " + s.Metric
	default:
		return ""
	}
}

func renderSelect(s *SelectSQLStatement) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if s.AllFields {
		b.WriteString("*")
	} else {
		parts := make([]string, len(s.Fields))
		for i, f := range s.Fields {
			if f.Aggregation != AggNone {
				parts[i] = fmt.Sprintf("%s(%s)", f.Aggregation, f.Name)
			} else {
				parts[i] = f.Name
			}
		}
		b.WriteString(strings.Join(parts, ", "))
	}
	b.WriteString(" FROM ")
	b.WriteString(s.Metric)
	if s.Condition != nil {
		b.WriteString(" WHERE ")
		b.WriteString(RenderExpression(s.Condition))
	}
	if s.GroupBy != "" {
		b.WriteString(" GROUP BY ")
		b.WriteString(s.GroupBy)
	}
	if s.Order != nil {
		b.WriteString(" ORDER BY ")
		b.WriteString(s.Order.Dimension)
		if s.Order.Desc {
			b.WriteString(" DESC")
		}
	}
	if s.Limit != nil {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(*s.Limit))
	}
	return b.String()
}

func renderInsert(s *InsertSQLStatement) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(s.Metric)
	if s.Timestamp != nil {
		b.WriteString(" TS = ")
		b.WriteString(strconv.FormatInt(*s.Timestamp, 10))
	}
	if len(s.Dimensions) > 0 {
		b.WriteString(" DIM(")
		b.WriteString(renderFieldMap(s.Dimensions))
		b.WriteString(")")
	}
	if len(s.Tags) > 0 {
		b.WriteString(" TAGS(")
		b.WriteString(renderFieldMap(s.Tags))
		b.WriteString(")")
	}
	b.WriteString(" VAL = ")
	b.WriteString(renderLiteral(s.Value))
	return b.String()
}

func renderFieldMap(m map[string]model.Scalar) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Stable output for tests and logs.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + " = " + renderLiteral(m[k])
	}
	return strings.Join(parts, ", ")
}

// RenderExpression prints a condition tree with explicit parentheses.
func RenderExpression(e Expression) string {
	switch x := e.(type) {
	case *ComparisonExpression:
		return fmt.Sprintf("%s %s %s", x.Field, x.Op, renderLiteral(x.Value))
	case *RangeExpression:
		return fmt.Sprintf("%s IN RANGE (%s, %s)", x.Field, renderLiteral(x.Lo), renderLiteral(x.Hi))
	case *AndExpression:
		return fmt.Sprintf("(%s AND %s)", RenderExpression(x.Left), RenderExpression(x.Right))
	case *OrExpression:
		return fmt.Sprintf("(%s OR %s)", RenderExpression(x.Left), RenderExpression(x.Right))
	case *NotExpression:
		return fmt.Sprintf("NOT (%s)", RenderExpression(x.Expr))
	default:
		return ""
	}
}

func renderLiteral(v model.Scalar) string {
	if v.Kind() == model.KindString {
		return "'" + v.Str() + "'"
	}
	return v.String()
}
