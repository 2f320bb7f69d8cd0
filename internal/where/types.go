// Package where defines the filter expression AST used by selects.
//
// Filters arrive as untyped nested JSON arrays:
//
//	["Name", "Ada"]                                   equality
//	["Name", "contains", "a"]                         operator form
//	["Deleted", "null"]                               IS NULL
//	[["Total", ">", 10]]                              parenthesized
//	[["A", 1], ["B", 2]]                              implicit AND
//	[["A", 1], "or", ["B", 2], "and", ["C", 3]]       explicit connectives, folded left
//	["Orders", ["Total", ">", 10]]                    EXISTS through a relation
//
// Parse turns the raw form into a tagged AST once; backends compile the
// AST and never look at raw arrays again.
package where

// Expr is a filter expression.
//
// This is a sealed interface. Implementations: Comparison, Group, Junction,
// Exists.
type Expr interface {
	exprNode()
}

// Operator is a comparison operator.
type Operator string

const (
	OpEq          Operator = "="
	OpNe          Operator = "!="
	OpGt          Operator = ">"
	OpGte         Operator = ">="
	OpLt          Operator = "<"
	OpLte         Operator = "<="
	OpContains    Operator = "contains"
	OpNotContains Operator = "notcontains"
	OpStartsWith  Operator = "startswith"
	OpEndsWith    Operator = "endswith"

	// OpIn matches any of a list of values. It is built with In and has no
	// raw array spelling.
	OpIn Operator = "in"
)

// operatorAliases maps accepted raw spellings to operators.
var operatorAliases = map[string]Operator{
	"=":           OpEq,
	"==":          OpEq,
	"!=":          OpNe,
	"<>":          OpNe,
	">":           OpGt,
	">=":          OpGte,
	"<":           OpLt,
	"<=":          OpLte,
	"contains":    OpContains,
	"notcontains": OpNotContains,
	"startswith":  OpStartsWith,
	"endswith":    OpEndsWith,
}

// IsLike reports whether the operator is a pattern operator.
func (op Operator) IsLike() bool {
	switch op {
	case OpContains, OpNotContains, OpStartsWith, OpEndsWith:
		return true
	}
	return false
}

// Comparison compares a field with a literal value.
//
// Field may be a dotted path ("Customer.Name") reaching a column through
// relations. A nil Value means NULL; only OpEq and OpNe accept it.
type Comparison struct {
	Field string
	Op    Operator
	Value any
}

func (Comparison) exprNode() {}

// Group parenthesizes an expression.
type Group struct {
	Expr Expr
}

func (Group) exprNode() {}

// Logic is a boolean connective.
type Logic string

const (
	And Logic = "and"
	Or  Logic = "or"
)

// Junction joins two expressions with a connective.
type Junction struct {
	Left  Expr
	Logic Logic
	Right Expr
}

func (Junction) exprNode() {}

// Exists matches when at least one row reachable through Path satisfies
// Where. Path is one or more association names joined by dots. A nil Where
// matches any related row.
type Exists struct {
	Path  string
	Where Expr
}

func (Exists) exprNode() {}
