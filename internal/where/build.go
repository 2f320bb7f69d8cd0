package where

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Eq builds an equality comparison. A nil value means IS NULL.
func Eq(field string, value any) Expr {
	return Comparison{Field: field, Op: OpEq, Value: value}
}

// Cmp builds a comparison with an explicit operator.
func Cmp(field string, op Operator, value any) Expr {
	return Comparison{Field: field, Op: op, Value: value}
}

// IsNull builds an IS NULL comparison.
func IsNull(field string) Expr {
	return Comparison{Field: field, Op: OpEq}
}

// In builds a membership comparison.
func In(field string, values []any) Expr {
	vs := make([]any, len(values))
	copy(vs, values)
	return Comparison{Field: field, Op: OpIn, Value: vs}
}

// AllOf joins expressions with AND, folded left. Nil expressions are skipped;
// the result is nil when nothing remains.
func AllOf(exprs ...Expr) Expr {
	return fold(And, exprs)
}

// AnyOf joins expressions with OR, folded left.
func AnyOf(exprs ...Expr) Expr {
	return fold(Or, exprs)
}

func fold(logic Logic, exprs []Expr) Expr {
	var acc Expr
	for _, e := range exprs {
		acc = join(acc, logic, e)
	}
	return acc
}

// ToRaw renders an expression back into nested-array form. Parse(ToRaw(e))
// is equivalent to e. OpIn is rendered as an OR of equalities.
func ToRaw(e Expr) any {
	switch x := e.(type) {
	case nil:
		return []any{}
	case Comparison:
		if x.Op == OpIn {
			values, _ := x.Value.([]any)
			if len(values) == 0 {
				// Matches nothing.
				return []any{
					[]any{x.Field, NullLiteral}, string(And), []any{x.Field, string(OpNe), NullLiteral},
				}
			}
			raw := []any{}
			for i, v := range values {
				if i > 0 {
					raw = append(raw, string(Or))
				}
				raw = append(raw, []any{x.Field, string(OpEq), rawValue(v)})
			}
			return []any{raw}
		}
		return []any{x.Field, string(x.Op), rawValue(x.Value)}
	case Group:
		return []any{ToRaw(x.Expr)}
	case Junction:
		raw := []any{}
		if left, ok := x.Left.(Junction); ok {
			raw = append(raw, ToRaw(left).([]any)...)
		} else {
			raw = append(raw, ToRaw(x.Left))
		}
		return append(raw, string(x.Logic), ToRaw(x.Right))
	case Exists:
		return []any{x.Path, ToRaw(x.Where)}
	default:
		return []any{}
	}
}

func rawValue(v any) any {
	if v == nil {
		return NullLiteral
	}
	return v
}

// MarshalJSON renders an expression as its raw JSON form.
func MarshalJSON(e Expr) ([]byte, error) {
	return json.Marshal(ToRaw(e))
}

// String renders an expression in a compact, human-readable form for logs
// and error messages.
func String(e Expr) string {
	var b strings.Builder
	writeExpr(&b, e)
	return b.String()
}

func writeExpr(b *strings.Builder, e Expr) {
	switch x := e.(type) {
	case nil:
		b.WriteString("true")
	case Comparison:
		if x.Value == nil && (x.Op == OpEq || x.Op == OpNe) {
			if x.Op == OpEq {
				fmt.Fprintf(b, "%s is null", x.Field)
			} else {
				fmt.Fprintf(b, "%s is not null", x.Field)
			}
			return
		}
		fmt.Fprintf(b, "%s %s %s", x.Field, x.Op, formatValue(x.Value))
	case Group:
		b.WriteString("(")
		writeExpr(b, x.Expr)
		b.WriteString(")")
	case Junction:
		b.WriteString("(")
		writeExpr(b, x.Left)
		fmt.Fprintf(b, " %s ", x.Logic)
		writeExpr(b, x.Right)
		b.WriteString(")")
	case Exists:
		fmt.Fprintf(b, "exists %s", x.Path)
		if x.Where != nil {
			b.WriteString(" where ")
			writeExpr(b, x.Where)
		}
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return fmt.Sprintf("%q", x)
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = formatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", x)
	}
}
