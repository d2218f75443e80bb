// Copyright 2016 NDP Systèmes. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/hexya-erp/erpkit/src/models/operator"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
)

// ExprSep define the expression separation
const ExprSep = "."

type condKind uint8

const (
	condAnd condKind = iota
	condOr
	condNot
	condLeaf
)

// An EnvRef is a condition value that is resolved against the environment
// when the query is executed.
type EnvRef string

// Environment references
const (
	// CurrentUser is replaced by the uid of the environment
	CurrentUser EnvRef = "uid"
	// CurrentCompany is replaced by the company id of the environment
	CurrentCompany EnvRef = "company_id"
)

// A Condition is a predicate over the records of a model. It is a tree
// of conjunctions, disjunctions and negations of comparison leaves.
//
// The empty condition (and a nil *Condition) matches all records.
// Conditions are immutable: combining methods return new conditions.
type Condition struct {
	kind     condKind
	path     string
	op       operator.Operator
	arg      interface{}
	children []*Condition
}

// NewCondition returns a new empty condition
func NewCondition() *Condition {
	return &Condition{}
}

// IsEmpty returns true if this condition matches all records
func (c *Condition) IsEmpty() bool {
	return c == nil || (c.kind == condAnd && len(c.children) == 0)
}

func combine(kind condKind, c1, c2 *Condition) *Condition {
	switch {
	case c1.IsEmpty():
		return c2
	case c2.IsEmpty():
		return c1
	}
	var children []*Condition
	for _, c := range []*Condition{c1, c2} {
		if c.kind == kind {
			children = append(children, c.children...)
			continue
		}
		children = append(children, c)
	}
	return &Condition{kind: kind, children: children}
}

// Not returns the negation of the given condition
func Not(c *Condition) *Condition {
	if c.IsEmpty() {
		return c
	}
	if c.kind == condNot {
		return c.children[0]
	}
	return &Condition{kind: condNot, children: []*Condition{c}}
}

// And completes the current condition with a simple AND clause : c.And().nextCond => c AND nextCond
func (c *Condition) And() *ConditionStart {
	return &ConditionStart{cond: c, kind: condAnd}
}

// AndCond completes the current condition with the given cond as an AND clause
// between brackets : c.And(cond) => c AND (cond)
func (c *Condition) AndCond(cond *Condition) *Condition {
	return combine(condAnd, c, cond)
}

// AndNot completes the current condition with a simple AND NOT clause :
// c.AndNot().nextCond => c AND NOT nextCond
func (c *Condition) AndNot() *ConditionStart {
	return &ConditionStart{cond: c, kind: condAnd, not: true}
}

// AndNotCond completes the current condition with an AND NOT clause between
// brackets : c.AndNot(cond) => c AND NOT (cond)
func (c *Condition) AndNotCond(cond *Condition) *Condition {
	return combine(condAnd, c, Not(cond))
}

// Or completes the current condition both with a simple OR clause : c.Or().nextCond => c OR nextCond
func (c *Condition) Or() *ConditionStart {
	return &ConditionStart{cond: c, kind: condOr}
}

// OrCond completes the current condition both with an OR clause between
// brackets : c.Or(cond) => c OR (cond)
func (c *Condition) OrCond(cond *Condition) *Condition {
	return combine(condOr, c, cond)
}

// OrNot completes the current condition both with a simple OR NOT clause : c.OrNot().nextCond => c OR NOT nextCond
func (c *Condition) OrNot() *ConditionStart {
	return &ConditionStart{cond: c, kind: condOr, not: true}
}

// OrNotCond completes the current condition both with an OR NOT clause between
// brackets : c.OrNot(cond) => c OR NOT (cond)
func (c *Condition) OrNotCond(cond *Condition) *Condition {
	return combine(condOr, c, Not(cond))
}

// A ConditionStart is an object representing a Condition when
// we just added a logical operator (AND, OR, ...) and we are
// about to add a predicate.
type ConditionStart struct {
	cond *Condition
	kind condKind
	not  bool
}

// Field adds a field path (dot separated) to this condition
func (cs ConditionStart) Field(name string) *ConditionField {
	return &ConditionField{cs: cs, path: name}
}

// A ConditionField is a partial Condition when we have set
// a field name in a predicate and are about to add an operator.
type ConditionField struct {
	cs   ConditionStart
	path string
}

// AddOperator adds a condition value to the condition with the given operator and data.
// A RecordCollection value is replaced by its ids.
//
// This method is low level and should be avoided. Use operator methods such as Equals()
// instead.
func (c ConditionField) AddOperator(op operator.Operator, data interface{}) *Condition {
	leaf := &Condition{kind: condLeaf, path: c.path, op: op, arg: sanitizeArgs(data, op.IsMulti())}
	if c.cs.not {
		leaf = Not(leaf)
	}
	return combine(c.cs.kind, c.cs.cond, leaf)
}

// sanitizeArgs returns the given args suitable for SQL query
// In particular, retrieves the ids of a record set if args is one.
func sanitizeArgs(args interface{}, multi bool) interface{} {
	rc, ok := args.(*RecordCollection)
	if !ok {
		return args
	}
	if multi {
		return rc.Ids()
	}
	if rc.Len() == 0 {
		return nil
	}
	return rc.Ids()[0]
}

// Equals appends the '=' operator to the current Condition
func (c ConditionField) Equals(data interface{}) *Condition {
	return c.AddOperator(operator.Equals, data)
}

// NotEquals appends the '!=' operator to the current Condition
func (c ConditionField) NotEquals(data interface{}) *Condition {
	return c.AddOperator(operator.NotEquals, data)
}

// Greater appends the '>' operator to the current Condition
func (c ConditionField) Greater(data interface{}) *Condition {
	return c.AddOperator(operator.Greater, data)
}

// GreaterOrEqual appends the '>=' operator to the current Condition
func (c ConditionField) GreaterOrEqual(data interface{}) *Condition {
	return c.AddOperator(operator.GreaterOrEqual, data)
}

// Lower appends the '<' operator to the current Condition
func (c ConditionField) Lower(data interface{}) *Condition {
	return c.AddOperator(operator.Lower, data)
}

// LowerOrEqual appends the '<=' operator to the current Condition
func (c ConditionField) LowerOrEqual(data interface{}) *Condition {
	return c.AddOperator(operator.LowerOrEqual, data)
}

// Like appends the '=like' operator to the current Condition
func (c ConditionField) Like(data interface{}) *Condition {
	return c.AddOperator(operator.Like, data)
}

// ILike appends the '=ilike' operator to the current Condition
func (c ConditionField) ILike(data interface{}) *Condition {
	return c.AddOperator(operator.ILike, data)
}

// Contains appends the 'like' operator to the current Condition
func (c ConditionField) Contains(data interface{}) *Condition {
	return c.AddOperator(operator.Contains, data)
}

// NotContains appends the 'not like' operator to the current Condition
func (c ConditionField) NotContains(data interface{}) *Condition {
	return c.AddOperator(operator.NotContains, data)
}

// IContains appends the 'ilike' operator to the current Condition
func (c ConditionField) IContains(data interface{}) *Condition {
	return c.AddOperator(operator.IContains, data)
}

// NotIContains appends the 'not ilike' operator to the current Condition
func (c ConditionField) NotIContains(data interface{}) *Condition {
	return c.AddOperator(operator.NotIContains, data)
}

// In appends the 'in' operator to the current Condition
func (c ConditionField) In(data interface{}) *Condition {
	return c.AddOperator(operator.In, data)
}

// NotIn appends the 'not in' operator to the current Condition
func (c ConditionField) NotIn(data interface{}) *Condition {
	return c.AddOperator(operator.NotIn, data)
}

// IsNull checks if the current condition field is null
func (c ConditionField) IsNull() *Condition {
	return c.AddOperator(operator.Equals, nil)
}

// IsNotNull checks if the current condition field is not null
func (c ConditionField) IsNotNull() *Condition {
	return c.AddOperator(operator.NotEquals, nil)
}

// Serialize returns the condition as a prefix notation domain list, such
// as ["|", ["a", "=", 1], ["b", "=", 2]].
func (c *Condition) Serialize() []interface{} {
	if c.IsEmpty() {
		return []interface{}{}
	}
	switch c.kind {
	case condLeaf:
		arg := c.arg
		if ref, ok := arg.(EnvRef); ok {
			arg = "$" + string(ref)
		}
		return []interface{}{[]interface{}{c.path, string(c.op), arg}}
	case condNot:
		return append([]interface{}{"!"}, c.children[0].Serialize()...)
	}
	symbol := "&"
	if c.kind == condOr {
		symbol = "|"
	}
	var res []interface{}
	for i := 0; i < len(c.children)-1; i++ {
		res = append(res, symbol)
	}
	for _, child := range c.children {
		res = append(res, child.Serialize()...)
	}
	return res
}

// String returns the JSON representation of the serialized condition
func (c *Condition) String() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(c.Serialize())
	return strings.TrimSuffix(buf.String(), "\n")
}

// ParseDomain returns the Condition of the given prefix notation domain.
// Consecutive terms without operator are AND-ed.
func ParseDomain(domain []interface{}) (*Condition, error) {
	res := NewCondition()
	pos := 0
	for pos < len(domain) {
		cond, next, err := parseDomainTerm(domain, pos)
		if err != nil {
			return nil, err
		}
		res = combine(condAnd, res, cond)
		pos = next
	}
	return res, nil
}

// ParseDomainString parses a JSON encoded domain
func ParseDomainString(domain string) (*Condition, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return NewCondition(), nil
	}
	var list []interface{}
	if err := json.Unmarshal([]byte(domain), &list); err != nil {
		return nil, exceptions.Validation("invalid_domain", "Invalid domain %s: %s", domain, err)
	}
	return ParseDomain(list)
}

func parseDomainTerm(domain []interface{}, pos int) (*Condition, int, error) {
	if pos >= len(domain) {
		return nil, pos, exceptions.Validation("invalid_domain", "Domain ends unexpectedly")
	}
	switch term := domain[pos].(type) {
	case string:
		switch term {
		case "!":
			c, next, err := parseDomainTerm(domain, pos+1)
			if err != nil {
				return nil, next, err
			}
			return Not(c), next, nil
		case "&", "|":
			c1, next, err := parseDomainTerm(domain, pos+1)
			if err != nil {
				return nil, next, err
			}
			c2, next, err := parseDomainTerm(domain, next)
			if err != nil {
				return nil, next, err
			}
			kind := condAnd
			if term == "|" {
				kind = condOr
			}
			return &Condition{kind: kind, children: []*Condition{c1, c2}}, next, nil
		}
		return nil, pos, exceptions.Validation("invalid_domain", "Unknown domain operator %s", term)
	case []interface{}:
		if len(term) != 3 {
			return nil, pos, exceptions.Validation("invalid_domain", "Invalid domain leaf %v", term)
		}
		path, ok := term[0].(string)
		op, ok2 := term[1].(string)
		if !ok || !ok2 || !operator.Operator(op).IsValid() {
			return nil, pos, exceptions.Validation("invalid_domain", "Invalid domain leaf %v", term)
		}
		return &Condition{kind: condLeaf, path: path, op: operator.Operator(op), arg: parseDomainValue(term[2])}, pos + 1, nil
	}
	return nil, pos, exceptions.Validation("invalid_domain", "Invalid domain term %v", domain[pos])
}

// parseDomainValue converts JSON values into condition arguments
func parseDomainValue(val interface{}) interface{} {
	switch v := val.(type) {
	case string:
		if strings.HasPrefix(v, "$") {
			return EnvRef(strings.TrimPrefix(v, "$"))
		}
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return int64(v)
		}
	case []interface{}:
		res := make([]interface{}, len(v))
		for i, item := range v {
			res[i] = parseDomainValue(item)
		}
		return res
	}
	return val
}

// Paths returns the field paths used in this condition
func (c *Condition) Paths() []string {
	if c.IsEmpty() {
		return nil
	}
	if c.kind == condLeaf {
		return []string{c.path}
	}
	var res []string
	for _, child := range c.children {
		res = append(res, child.Paths()...)
	}
	return res
}

// check returns an error if the condition uses unknown fields of mi or
// invalid operators.
func (c *Condition) check(mi *Model) error {
	if c.IsEmpty() {
		return nil
	}
	if c.kind != condLeaf {
		for _, child := range c.children {
			if err := child.check(mi); err != nil {
				return err
			}
		}
		return nil
	}
	if !c.op.IsValid() {
		return exceptions.Validation("invalid_operator", "Unknown operator %s", c.op)
	}
	current := mi
	for _, seg := range strings.Split(c.path, ExprSep) {
		if current == nil {
			return exceptions.Validation("invalid_path", "Path %s goes through a non relational field", c.path)
		}
		fi := current.fields[seg]
		if fi == nil {
			return exceptions.Validation("unknown_field", "Unknown field %s in model %s", seg, current.name)
		}
		current = fi.relatedModel
		if !fi.fieldType.IsRelationType() {
			current = nil
		}
	}
	return nil
}

// isMultiValue returns true if val is a slice other than []byte
func isMultiValue(val interface{}) bool {
	if val == nil {
		return false
	}
	if _, ok := val.([]byte); ok {
		return false
	}
	kind := reflect.ValueOf(val).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}

// toInterfaceSlice converts any slice into a []interface{}
func toInterfaceSlice(val interface{}) []interface{} {
	if val == nil {
		return nil
	}
	v := reflect.ValueOf(val)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return []interface{}{val}
	}
	res := make([]interface{}, v.Len())
	for i := 0; i < v.Len(); i++ {
		res[i] = v.Index(i).Interface()
	}
	return res
}

// GoString returns a readable representation of the condition for debugging
func (c *Condition) GoString() string {
	return fmt.Sprintf("Condition(%s)", c.String())
}
