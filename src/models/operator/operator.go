// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

// Package operator lists the comparison operators of predicate leaves.
package operator

// An Operator inside an SQL WHERE clause
type Operator string

// Operators
const (
	Equals         Operator = "="
	NotEquals      Operator = "!="
	Greater        Operator = ">"
	GreaterOrEqual Operator = ">="
	Lower          Operator = "<"
	LowerOrEqual   Operator = "<="
	Like           Operator = "=like"
	Contains       Operator = "like"
	NotContains    Operator = "not like"
	IContains      Operator = "ilike"
	NotIContains   Operator = "not ilike"
	ILike          Operator = "=ilike"
	In             Operator = "in"
	NotIn          Operator = "not in"
)

var allowedOperators = map[Operator]bool{
	Equals:         true,
	NotEquals:      true,
	Greater:        true,
	GreaterOrEqual: true,
	Lower:          true,
	LowerOrEqual:   true,
	Like:           true,
	Contains:       true,
	NotContains:    true,
	IContains:      true,
	NotIContains:   true,
	ILike:          true,
	In:             true,
	NotIn:          true,
}

var negativeOperators = map[Operator]bool{
	NotEquals:    true,
	NotContains:  true,
	NotIContains: true,
	NotIn:        true,
}

var multiOperator = map[Operator]bool{
	In:    true,
	NotIn: true,
}

var containsOperator = map[Operator]bool{
	Contains:     true,
	NotContains:  true,
	IContains:    true,
	NotIContains: true,
}

// IsMulti returns true if the operator expects a array as arguments
func (o Operator) IsMulti() bool {
	return multiOperator[o]
}

// IsValid returns true if o is a known operator.
func (o Operator) IsValid() bool {
	return allowedOperators[o]
}

// IsNegative returns true if this is a negative operator
func (o Operator) IsNegative() bool {
	return negativeOperators[o]
}

// IsContains returns true if the argument of this operator must be
// wrapped with '%' wildcards.
func (o Operator) IsContains() bool {
	return containsOperator[o]
}
