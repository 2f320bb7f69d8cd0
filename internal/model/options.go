package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/ormso/internal/schema"
	"github.com/roach88/ormso/internal/where"
)

// SelectOptions describes a select request.
//
// On the wire:
//
//	{"columns":["Id","Name"], "where":[["Name","contains","a"]],
//	 "orderBy":["Name desc"], "skip":0, "take":20,
//	 "expand":["Orders/Lines"], "requireTotalCount":true}
type SelectOptions struct {
	Columns           []string
	Where             where.Expr
	OrderBy           []where.Order
	Skip              int
	Take              int
	Expand            []string
	RequireTotalCount bool

	// IncludeSoftDeleted lets the query see rows the sync engine has
	// soft-deleted. It is never read from JSON.
	IncludeSoftDeleted bool
}

type selectOptionsWire struct {
	Columns           []string        `json:"columns,omitempty"`
	Where             json.RawMessage `json:"where,omitempty"`
	OrderBy           []string        `json:"orderBy,omitempty"`
	Skip              int             `json:"skip,omitempty"`
	Take              int             `json:"take,omitempty"`
	Expand            []string        `json:"expand,omitempty"`
	RequireTotalCount bool            `json:"requireTotalCount,omitempty"`
}

// ParseSelectOptions decodes the JSON form. Empty input yields zero options.
func ParseSelectOptions(data []byte) (*SelectOptions, error) {
	opts := &SelectOptions{}
	if len(bytes.TrimSpace(data)) == 0 {
		return opts, nil
	}
	if err := json.Unmarshal(data, opts); err != nil {
		return nil, err
	}
	return opts, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *SelectOptions) UnmarshalJSON(data []byte) error {
	var w selectOptionsWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("select options: %w", err)
	}
	expr, err := where.ParseJSON(w.Where)
	if err != nil {
		return fmt.Errorf("select options: where: %w", err)
	}
	orders, err := where.ParseOrders(w.OrderBy)
	if err != nil {
		return fmt.Errorf("select options: orderBy: %w", err)
	}
	*o = SelectOptions{
		Columns:           w.Columns,
		Where:             expr,
		OrderBy:           orders,
		Skip:              w.Skip,
		Take:              w.Take,
		Expand:            w.Expand,
		RequireTotalCount: w.RequireTotalCount,
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (o SelectOptions) MarshalJSON() ([]byte, error) {
	w := selectOptionsWire{
		Columns:           o.Columns,
		Skip:              o.Skip,
		Take:              o.Take,
		Expand:            o.Expand,
		RequireTotalCount: o.RequireTotalCount,
	}
	if o.Where != nil {
		raw, err := where.MarshalJSON(o.Where)
		if err != nil {
			return nil, err
		}
		w.Where = raw
	}
	for _, ord := range o.OrderBy {
		w.OrderBy = append(w.OrderBy, ord.String())
	}
	return json.Marshal(w)
}

// SelectResult is the outcome of Select. Count is set only when the options
// requested a total count.
type SelectResult struct {
	Rows  []*schema.Row
	Count *int64
}

// MarshalJSON renders a bare array of rows, or {"rows":[...],"count":n}
// when a count was requested.
func (r *SelectResult) MarshalJSON() ([]byte, error) {
	rows := make([]map[string]any, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = row.ToMap()
	}
	if r.Count == nil {
		return json.Marshal(rows)
	}
	return json.Marshal(struct {
		Rows  []map[string]any `json:"rows"`
		Count int64            `json:"count"`
	}{rows, *r.Count})
}
