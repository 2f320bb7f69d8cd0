package where

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// NullLiteral is the raw value spelling of NULL.
const NullLiteral = "null"

// ParseError reports a malformed raw expression.
type ParseError struct {
	// Fragment is the raw (sub-)expression that failed to parse.
	Fragment any

	// Message describes the problem.
	Message string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	frag, err := json.Marshal(e.Fragment)
	if err != nil {
		frag = []byte(fmt.Sprintf("%v", e.Fragment))
	}
	return fmt.Sprintf("invalid filter %s: %s", frag, e.Message)
}

func parseErrorf(fragment any, format string, args ...any) *ParseError {
	return &ParseError{Fragment: fragment, Message: fmt.Sprintf(format, args...)}
}

// ParseJSON decodes a raw JSON filter and parses it. Numbers are kept as
// json.Number so integer precision survives until column coercion.
func ParseJSON(data []byte) (Expr, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode filter: %w", err)
	}
	return Parse(raw)
}

// Parse converts a raw nested-array filter into an Expr.
// A nil or empty array parses to a nil Expr (no filter).
func Parse(raw any) (Expr, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, parseErrorf(raw, "expected array, got %T", raw)
	}
	if len(list) == 0 {
		return nil, nil
	}
	if _, isField := list[0].(string); isField {
		return parseFieldForm(list)
	}
	if _, isExpr := list[0].([]any); isExpr {
		return parseCompound(list)
	}
	return nil, parseErrorf(raw, "first element must be a field name or an expression")
}

func parseFieldForm(list []any) (Expr, error) {
	field := list[0].(string)
	if strings.TrimSpace(field) == "" {
		return nil, parseErrorf(list, "empty field name")
	}

	switch len(list) {
	case 2:
		if inner, ok := list[1].([]any); ok {
			sub, err := Parse(inner)
			if err != nil {
				return nil, err
			}
			return Exists{Path: field, Where: sub}, nil
		}
		return Comparison{Field: field, Op: OpEq, Value: literal(list[1])}, nil

	case 3:
		opRaw, ok := list[1].(string)
		if !ok {
			return nil, parseErrorf(list, "operator must be a string, got %T", list[1])
		}
		op, ok := operatorAliases[strings.ToLower(strings.TrimSpace(opRaw))]
		if !ok {
			return nil, parseErrorf(list, "unknown operator %q", opRaw)
		}
		if _, isList := list[2].([]any); isList {
			return nil, parseErrorf(list, "operator %q takes a scalar value", opRaw)
		}
		return Comparison{Field: field, Op: op, Value: literal(list[2])}, nil

	default:
		return nil, parseErrorf(list, "field expression must have 2 or 3 elements, got %d", len(list))
	}
}

func parseCompound(list []any) (Expr, error) {
	if len(list) == 1 {
		inner, err := Parse(list[0])
		if err != nil {
			return nil, err
		}
		if inner == nil {
			return nil, nil
		}
		return Group{Expr: inner}, nil
	}

	if allArrays(list) {
		var acc Expr
		for _, item := range list {
			e, err := Parse(item)
			if err != nil {
				return nil, err
			}
			acc = join(acc, And, e)
		}
		return acc, nil
	}

	if len(list)%2 == 0 {
		return nil, parseErrorf(list, "expressions and connectives must alternate")
	}
	acc, err := Parse(list[0])
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(list); i += 2 {
		connRaw, ok := list[i].(string)
		if !ok {
			return nil, parseErrorf(list, "expected connective at position %d, got %T", i, list[i])
		}
		logic := Logic(strings.ToLower(strings.TrimSpace(connRaw)))
		if logic != And && logic != Or {
			return nil, parseErrorf(list, "unknown connective %q", connRaw)
		}
		if _, ok := list[i+1].([]any); !ok {
			return nil, parseErrorf(list, "expected expression at position %d, got %T", i+1, list[i+1])
		}
		right, err := Parse(list[i+1])
		if err != nil {
			return nil, err
		}
		acc = join(acc, logic, right)
	}
	return acc, nil
}

func allArrays(list []any) bool {
	for _, item := range list {
		if _, ok := item.([]any); !ok {
			return false
		}
	}
	return true
}

func join(left Expr, logic Logic, right Expr) Expr {
	switch {
	case left == nil:
		return right
	case right == nil:
		return left
	default:
		return Junction{Left: left, Logic: logic, Right: right}
	}
}

func literal(v any) any {
	if s, ok := v.(string); ok && s == NullLiteral {
		return nil
	}
	return v
}
