// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

// Package fieldtype defines the closed set of semantic field types.
package fieldtype

// A Type defines a type of a model's field
type Type string

// Types for model fields
const (
	NoType    Type = ""
	Binary    Type = "binary"
	Boolean   Type = "boolean"
	Char      Type = "char"
	Date      Type = "date"
	DateTime  Type = "datetime"
	Float     Type = "float"
	Integer   Type = "integer"
	JSON      Type = "json"
	Many2Many Type = "many2many"
	Many2One  Type = "many2one"
	Monetary  Type = "monetary"
	One2Many  Type = "one2many"
	Selection Type = "selection"
	Text      Type = "text"
)

// IsValid returns true if t is one of the known types
func (t Type) IsValid() bool {
	switch t {
	case Binary, Boolean, Char, Date, DateTime, Float, Integer, JSON,
		Many2Many, Many2One, Monetary, One2Many, Selection, Text:
		return true
	}
	return false
}

// IsRelationType returns true if this type is a relation.
func (t Type) IsRelationType() bool {
	return t == Many2Many || t == Many2One || t == One2Many
}

// IsFKRelationType returns true for relation types
// that are stored in the model's table (i.e. M2O)
func (t Type) IsFKRelationType() bool {
	return t == Many2One
}

// Is2ManyRelationType returns true for relation types
// that point to multiple comodel records (i.e. M2M and O2M)
func (t Type) Is2ManyRelationType() bool {
	return t == Many2Many || t == One2Many
}

// IsColumnType returns true if a stored field of this type has a column
// in its model's table.
func (t Type) IsColumnType() bool {
	return t != NoType && !t.Is2ManyRelationType()
}

// IsNumeric returns true for types that can be summed
func (t Type) IsNumeric() bool {
	return t == Integer || t == Float || t == Monetary
}

// IsNullInDB returns true if this type's zero value is
// saved as null in database.
func (t Type) IsNullInDB() bool {
	switch t {
	case Many2One, Binary, Char, Text, Selection, Date, DateTime, JSON:
		return true
	}
	return false
}
