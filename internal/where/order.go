package where

import (
	"fmt"
	"strings"
)

// Order is one ORDER BY entry. Field follows the same dotted-path rules as
// comparisons.
type Order struct {
	Field string
	Desc  bool
}

// ParseOrder parses "Field", "Field asc" or "Rel.Field desc".
func ParseOrder(s string) (Order, error) {
	parts := strings.Fields(s)
	switch len(parts) {
	case 1:
		return Order{Field: parts[0]}, nil
	case 2:
		switch strings.ToLower(parts[1]) {
		case "asc":
			return Order{Field: parts[0]}, nil
		case "desc":
			return Order{Field: parts[0], Desc: true}, nil
		}
	}
	return Order{}, &ParseError{Fragment: s, Message: "order must be \"Field [asc|desc]\""}
}

// ParseOrders parses a list of order strings.
func ParseOrders(items []string) ([]Order, error) {
	out := make([]Order, 0, len(items))
	for _, item := range items {
		o, err := ParseOrder(item)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// String renders the order in its parseable form.
func (o Order) String() string {
	if o.Desc {
		return fmt.Sprintf("%s desc", o.Field)
	}
	return o.Field
}
