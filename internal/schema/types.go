package schema

import (
	"fmt"
	"strings"
)

// DataType is the logical type of a column.
type DataType int

const (
	// Text is a UTF-8 string, NFC normalized on coercion.
	Text DataType = iota + 1
	// Integer is a 64-bit signed integer.
	Integer
	// Float is a 64-bit floating point number.
	Float
	// Date is a timestamp, stored in UTC.
	Date
	// Boolean is true/false.
	Boolean
	// Blob is raw bytes.
	Blob
)

var dataTypeNames = map[DataType]string{
	Text:    "text",
	Integer: "integer",
	Float:   "float",
	Date:    "date",
	Boolean: "boolean",
	Blob:    "blob",
}

// String returns the canonical lower-case type name.
func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("DataType(%d)", int(t))
}

// ParseDataType converts a type name into a DataType.
// Accepts common aliases ("int", "real", "datetime", "bool").
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "string":
		return Text, nil
	case "integer", "int":
		return Integer, nil
	case "float", "real", "double":
		return Float, nil
	case "date", "datetime", "timestamp":
		return Date, nil
	case "boolean", "bool":
		return Boolean, nil
	case "blob", "bytes":
		return Blob, nil
	default:
		return 0, fmt.Errorf("unknown data type %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t DataType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DataType) UnmarshalText(b []byte) error {
	parsed, err := ParseDataType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Relation marks a column as a foreign key to the parent table's primary key.
//
// ParentAssociation is the name under which a child row carries its parent
// (e.g. Order.Customer). ChildAssociation is the name under which a parent
// row carries its children (e.g. Customer.Orders); it may be empty when the
// parent never navigates to the children.
type Relation struct {
	ParentTable       string `json:"parentTable" yaml:"parentTable"`
	ParentAssociation string `json:"parentAssociation" yaml:"parentAssociation"`
	ChildAssociation  string `json:"childAssociation,omitempty" yaml:"childAssociation,omitempty"`
}

// Column describes one column of a table.
type Column struct {
	Name          string    `json:"name" yaml:"name"`
	Type          DataType  `json:"type" yaml:"type"`
	PrimaryKey    bool      `json:"primaryKey,omitempty" yaml:"primaryKey,omitempty"`
	AutoIncrement bool      `json:"autoIncrement,omitempty" yaml:"autoIncrement,omitempty"`
	Indexed       bool      `json:"indexed,omitempty" yaml:"indexed,omitempty"`
	Unique        bool      `json:"unique,omitempty" yaml:"unique,omitempty"`
	Default       any       `json:"default,omitempty" yaml:"default,omitempty"`
	Relation      *Relation `json:"relation,omitempty" yaml:"relation,omitempty"`
}

// Table is a declared table. Abstract tables are never created physically;
// they only contribute columns (and hooks) to the tables built on them.
type Table struct {
	Name       string   `json:"name" yaml:"name"`
	Columns    []Column `json:"columns" yaml:"columns"`
	IsAbstract bool     `json:"isAbstract,omitempty" yaml:"isAbstract,omitempty"`
}

// Column returns the declared column with the given name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}
