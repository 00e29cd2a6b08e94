package statement

import "github.com/robbenti/nsdb/internal/model"

// Statement is the parsed form of one SQL text accepted by the endpoint.
type Statement interface {
	isStatement()
}

// Aggregation names the aggregators allowed on the value field.
type Aggregation string

const (
	AggNone  Aggregation = ""
	AggSum   Aggregation = "sum"
	AggCount Aggregation = "count"
	AggMin   Aggregation = "min"
	AggMax   Aggregation = "max"
	AggAvg   Aggregation = "avg"
)

// Field is one projected field, optionally aggregated.
type Field struct {
	Name        string
	Aggregation Aggregation
}

// OrderOperator is an ORDER BY clause.
type OrderOperator struct {
	Dimension string
	Desc      bool
}

// SelectSQLStatement projects records from one metric.
// AllFields set means `*` was projected and Fields is empty.
type SelectSQLStatement struct {
	Metric    string
	AllFields bool
	Fields    []Field
	Condition Expression
	GroupBy   string
	Order     *OrderOperator
	Limit     *int
}

// InsertSQLStatement appends one record to a metric.
type InsertSQLStatement struct {
	Metric     string
	Timestamp  *int64
	Value      model.Scalar
	Dimensions map[string]model.Scalar
	Tags       map[string]model.Scalar
}

// DeleteSQLStatement removes the records matching the condition.
type DeleteSQLStatement struct {
	Metric    string
	Condition Expression
}

// DropSQLStatement drops a whole metric: schema, locations and shards.
type DropSQLStatement struct {
	Metric string
}

func (*SelectSQLStatement) isStatement() {}
func (*InsertSQLStatement) isStatement() {}
func (*DeleteSQLStatement) isStatement() {}
func (*DropSQLStatement) isStatement()   {}

// ComparisonOperator enumerates the comparison forms in a condition.
type ComparisonOperator int

const (
	OpEq ComparisonOperator = iota
	OpGt
	OpGte
	OpLt
	OpLte
)

func (op ComparisonOperator) String() string {
	switch op {
	case OpEq:
		return "="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	default:
		return "<="
	}
}

// Expression is a boolean expression over dimensions, tags and timestamp.
type Expression interface {
	isExpression()
}

// ComparisonExpression compares one field against a literal.
type ComparisonExpression struct {
	Field string
	Op    ComparisonOperator
	Value model.Scalar
}

// RangeExpression is an inclusive range filter on one field.
type RangeExpression struct {
	Field string
	Lo    model.Scalar
	Hi    model.Scalar
}

// AndExpression is the conjunction of two expressions.
type AndExpression struct {
	Left, Right Expression
}

// OrExpression is the disjunction of two expressions.
type OrExpression struct {
	Left, Right Expression
}

// NotExpression negates its operand.
type NotExpression struct {
	Expr Expression
}

func (*ComparisonExpression) isExpression() {}
func (*RangeExpression) isExpression()      {}
func (*AndExpression) isExpression()        {}
func (*OrExpression) isExpression()         {}
func (*NotExpression) isExpression()        {}
