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
	"fmt"
	"strings"

	"github.com/hexya-erp/erpkit/src/models/fieldtype"
	"github.com/hexya-erp/erpkit/src/models/operator"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
)

// SQLParams is a list of parameters that are passed to the
// DB server with the query string and that will be used
// in the placeholders.
type SQLParams []interface{}

// Extend returns a new SQLParams with both params of this SQLParams and
// of p2 SQLParams.
func (p SQLParams) Extend(p2 SQLParams) SQLParams {
	return append(append(SQLParams(nil), p...), p2...)
}

// A Query defines the common part an SQL Query, i.e. all that come
// after the FROM keyword. Tables of many2one paths are joined lazily,
// only when a condition or an order needs them.
type Query struct {
	env     Environment
	model   *Model
	cond    *Condition
	orders  []string
	limit   int
	offset  int
	alias   string
	joins   []tableJoin
	joined  map[string]string
	subs    *int
	adapter dbAdapter
}

// newQuery returns a new query on the given model
func newQuery(env Environment, mi *Model, cond *Condition) *Query {
	adapter := env.registry.db.adapter
	return &Query{
		env:     env,
		model:   mi,
		cond:    cond,
		alias:   adapter.quoteTableName(mi.table),
		joined:  make(map[string]string),
		subs:    new(int),
		adapter: adapter,
	}
}

// subQuery returns a query on the given model with its own aliases
func (q *Query) subQuery(mi *Model, cond *Condition) *Query {
	*q.subs++
	return &Query{
		env:     q.env,
		model:   mi,
		cond:    cond,
		alias:   q.adapter.quoteTableName(fmt.Sprintf("s%d%s%s", *q.subs, sqlSep, mi.table)),
		joined:  make(map[string]string),
		subs:    q.subs,
		adapter: q.adapter,
	}
}

// quote returns the given column name quoted
func (q *Query) quote(col string) string {
	return q.adapter.quoteTableName(col)
}

// join returns the alias of the table reached through the many2one fi
// from the table with the given alias, adding the join if needed.
func (q *Query) join(fromAlias, pathKey string, fi *Field) string {
	if alias, ok := q.joined[pathKey]; ok {
		return alias
	}
	alias := q.quote(strings.Trim(q.alias, `"`) + sqlSep + pathKey)
	q.joins = append(q.joins, tableJoin{
		tableName:  q.quote(fi.relatedModel.table),
		alias:      alias,
		otherAlias: fromAlias,
		otherField: q.quote(fi.name),
	})
	q.joined[pathKey] = alias
	return alias
}

// columnExpr returns the SQL expression of the given path, which must go
// through many2one fields only, and the last field of the path.
func (q *Query) columnExpr(path string) (string, *Field, error) {
	exprs := expandRelatedPath(q.model, strings.Split(path, ExprSep))
	alias := q.alias
	mi := q.model
	for i, seg := range exprs {
		fi := mi.fields[seg]
		if fi == nil {
			return "", nil, exceptions.Validation("unknown_field", "Unknown field %s in model %s", seg, mi.name)
		}
		if i == len(exprs)-1 {
			if !fi.IsColumn() {
				return "", nil, exceptions.Validation("not_stored", "Field %s of %s is not stored", seg, mi.name)
			}
			return fmt.Sprintf("%s.%s", alias, q.quote(seg)), fi, nil
		}
		if fi.fieldType != fieldtype.Many2One {
			return "", nil, exceptions.Validation("invalid_path", "Field %s of %s in path %s is not a many2one", seg, mi.name, path)
		}
		alias = q.join(alias, strings.Join(exprs[:i+1], sqlSep), fi)
		mi = fi.relatedModel
	}
	return "", nil, exceptions.Validation("invalid_path", "Empty path")
}

// conditionSQLClause returns the sql string and parameters corresponding to
// the given Condition.
func (q *Query) conditionSQLClause(c *Condition) (string, SQLParams, error) {
	if c.IsEmpty() {
		return "1=1", nil, nil
	}
	switch c.kind {
	case condLeaf:
		return q.predicateSQLClause(c)
	case condNot:
		sql, args, err := q.conditionSQLClause(c.children[0])
		return fmt.Sprintf("NOT COALESCE((%s), FALSE)", sql), args, err
	}
	sep := " AND "
	if c.kind == condOr {
		sep = " OR "
	}
	var (
		parts []string
		args  SQLParams
	)
	for _, child := range c.children {
		sql, cArgs, err := q.conditionSQLClause(child)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		args = args.Extend(cArgs)
	}
	return strings.Join(parts, sep), args, nil
}

// positiveOperators maps negative operators to their positive counterpart
var positiveOperators = map[operator.Operator]operator.Operator{
	operator.NotEquals:    operator.Equals,
	operator.NotIn:        operator.In,
	operator.NotContains:  operator.Contains,
	operator.NotIContains: operator.IContains,
}

// predicateSQLClause returns the sql clause of the given leaf
func (q *Query) predicateSQLClause(c *Condition) (string, SQLParams, error) {
	arg := q.resolveArg(c.arg)
	exprs := expandRelatedPath(q.model, strings.Split(c.path, ExprSep))
	alias := q.alias
	mi := q.model
	for i, seg := range exprs {
		fi := mi.fields[seg]
		if fi == nil {
			return "", nil, exceptions.Validation("unknown_field", "Unknown field %s in model %s", seg, mi.name)
		}
		last := i == len(exprs)-1
		switch {
		case fi.fieldType.Is2ManyRelationType():
			return q.x2manySQLClause(alias, fi, exprs[i+1:], c.op, arg)
		case !last && fi.fieldType == fieldtype.Many2One:
			alias = q.join(alias, strings.Join(exprs[:i+1], sqlSep), fi)
			mi = fi.relatedModel
		case !last:
			return "", nil, exceptions.Validation("invalid_path", "Field %s of %s in path %s is not relational", seg, mi.name, c.path)
		default:
			if !fi.IsColumn() {
				return "", nil, exceptions.Validation("not_stored", "Field %s of %s is not stored and cannot be searched", seg, mi.name)
			}
			return q.columnSQLClause(fmt.Sprintf("%s.%s", alias, q.quote(seg)), fi, c.op, arg)
		}
	}
	return "", nil, exceptions.Validation("invalid_path", "Empty path")
}

// resolveArg replaces environment references by their value
func (q *Query) resolveArg(arg interface{}) interface{} {
	switch a := arg.(type) {
	case EnvRef:
		switch a {
		case CurrentUser:
			return q.env.uid
		case CurrentCompany:
			return q.env.CompanyID()
		}
		return q.env.context.Get(string(a))
	case []interface{}:
		res := make([]interface{}, len(a))
		for i, v := range a {
			res[i] = q.resolveArg(v)
		}
		return res
	}
	return arg
}

// x2manySQLClause returns an IN sub-query for a path going through a
// one2many or many2many field.
func (q *Query) x2manySQLClause(alias string, fi *Field, rest []string, op operator.Operator, arg interface{}) (string, SQLParams, error) {
	outer := "IN"
	var subCond *Condition
	switch {
	case len(rest) == 0 && (arg == nil || arg == false) && (op == operator.Equals || op == operator.NotEquals):
		if op == operator.Equals {
			outer = "NOT IN"
		}
	default:
		if len(rest) == 0 {
			rest = []string{"id"}
		}
		if pos, ok := positiveOperators[op]; ok {
			op = pos
			outer = "NOT IN"
		}
		subCond = &Condition{kind: condLeaf, path: strings.Join(rest, ExprSep), op: op, arg: arg}
	}
	sub := q.subQuery(fi.relatedModel, subCond)
	var (
		subSQL  string
		subArgs SQLParams
		err     error
	)
	switch fi.fieldType {
	case fieldtype.One2Many:
		subSQL, subArgs, err = sub.selectColumnQuery(fi.reverseFK)
	default:
		var inner string
		inner, subArgs, err = sub.selectColumnQuery("id")
		subSQL = fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
			q.quote(fi.m2mOurField), q.quote(fi.m2mRelTable), q.quote(fi.m2mTheirField), inner)
	}
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s.id %s (%s)", alias, outer, subSQL), subArgs, nil
}

// searchArg converts a condition value into a database value of fi
func searchArg(fi *Field, op operator.Operator, v interface{}) (interface{}, error) {
	if op.IsContains() || op == operator.Like || op == operator.ILike {
		return fmt.Sprintf("%v", v), nil
	}
	switch fi.fieldType {
	case fieldtype.Char, fieldtype.Text, fieldtype.Selection:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", v), nil
	case fieldtype.JSON, fieldtype.Binary:
		return v, nil
	}
	nv, err := fi.normalize(v)
	if err != nil {
		return nil, err
	}
	return fi.convertToDB(nv)
}

// isNullArg returns true if v means "no value" for field fi
func isNullArg(fi *Field, v interface{}) bool {
	if v == nil {
		return true
	}
	if b, ok := v.(bool); ok && !b && fi.fieldType != fieldtype.Boolean {
		return true
	}
	if fi.fieldType == fieldtype.Many2One {
		if rc, ok := v.(*RecordCollection); ok {
			return rc.Len() == 0
		}
		if id, ok := v.(int64); ok && id == 0 {
			return true
		}
		if id, ok := v.(int); ok && id == 0 {
			return true
		}
	}
	return false
}

// nullableNumber returns true if fi is a numeric column that may be NULL.
// Such columns read as 0 when NULL.
func nullableNumber(fi *Field) bool {
	return fi.fieldType.IsNumeric() && fi.name != "id" && !fi.required
}

// columnSQLClause returns the SQL comparison of the given column
func (q *Query) columnSQLClause(col string, fi *Field, op operator.Operator, arg interface{}) (string, SQLParams, error) {
	if op.IsMulti() {
		return q.multiSQLClause(col, fi, op, arg)
	}
	if fi.fieldType == fieldtype.Boolean && (op == operator.Equals || op == operator.NotEquals) {
		val, _ := fi.normalize(arg)
		truth, _ := val.(bool)
		if op == operator.NotEquals {
			truth = !truth
		}
		if truth {
			return fmt.Sprintf("%s = ?", col), SQLParams{true}, nil
		}
		return fmt.Sprintf("(%s IS NULL OR %s = ?)", col, col), SQLParams{false}, nil
	}
	if isNullArg(fi, arg) {
		switch op {
		case operator.Equals:
			return fmt.Sprintf("%s IS NULL", col), nil, nil
		case operator.NotEquals:
			return fmt.Sprintf("%s IS NOT NULL", col), nil, nil
		}
		return "", nil, exceptions.Validation("invalid_operator", "Null value can only be used with = and != operators, not %s", op)
	}
	dbArg, err := searchArg(fi, op, arg)
	if err != nil {
		return "", nil, err
	}
	opSQL, dbArg := q.adapter.operatorSQL(op, dbArg)
	if nullableNumber(fi) {
		return fmt.Sprintf("COALESCE(%s, 0) %s", col, opSQL), SQLParams{dbArg}, nil
	}
	sql := fmt.Sprintf("%s %s", col, opSQL)
	if op.IsNegative() {
		sql = fmt.Sprintf("(%s OR %s IS NULL)", sql, col)
	}
	return sql, SQLParams{dbArg}, nil
}

// multiSQLClause returns the SQL clause of an in / not in comparison
func (q *Query) multiSQLClause(col string, fi *Field, op operator.Operator, arg interface{}) (string, SQLParams, error) {
	var (
		values  []interface{}
		hasNull bool
	)
	for _, v := range toInterfaceSlice(arg) {
		if isNullArg(fi, v) {
			hasNull = true
			continue
		}
		dbArg, err := searchArg(fi, operator.Equals, v)
		if err != nil {
			return "", nil, err
		}
		values = append(values, dbArg)
	}
	negative := op == operator.NotIn
	if nullableNumber(fi) {
		if hasNull {
			values = append(values, 0)
		}
		if len(values) == 0 {
			if negative {
				return "1=1", nil, nil
			}
			return "1=0", nil, nil
		}
		opSQL, _ := q.adapter.operatorSQL(op, nil)
		return fmt.Sprintf("COALESCE(%s, 0) %s", col, opSQL), SQLParams{values}, nil
	}
	switch {
	case len(values) == 0 && !negative && hasNull:
		return fmt.Sprintf("%s IS NULL", col), nil, nil
	case len(values) == 0 && !negative:
		return "1=0", nil, nil
	case len(values) == 0 && hasNull:
		return fmt.Sprintf("%s IS NOT NULL", col), nil, nil
	case len(values) == 0:
		return "1=1", nil, nil
	}
	opSQL, _ := q.adapter.operatorSQL(op, nil)
	sql := fmt.Sprintf("%s %s", col, opSQL)
	switch {
	case !negative && hasNull:
		sql = fmt.Sprintf("(%s OR %s IS NULL)", sql, col)
	case negative && hasNull:
		sql = fmt.Sprintf("(%s AND %s IS NOT NULL)", sql, col)
	case negative:
		sql = fmt.Sprintf("(%s OR %s IS NULL)", sql, col)
	}
	return sql, SQLParams{values}, nil
}

// sqlOrderByClause returns the sql string for the ORDER BY clause
func (q *Query) sqlOrderByClause() (string, error) {
	var parts []string
	hasID := false
	for _, order := range q.model.orderOrDefault(q.orders) {
		for _, o := range strings.Split(order, ",") {
			tokens := strings.Fields(o)
			if len(tokens) == 0 {
				continue
			}
			dir := "ASC"
			if len(tokens) > 1 {
				dir = strings.ToUpper(tokens[1])
				if dir != "ASC" && dir != "DESC" {
					return "", exceptions.Validation("invalid_order", "Invalid order direction %s", tokens[1])
				}
			}
			expr, fi, err := q.columnExpr(tokens[0])
			if err != nil {
				return "", err
			}
			if fi.name == "id" && fi.model == q.model && !strings.Contains(tokens[0], ExprSep) {
				hasID = true
			}
			parts = append(parts, fmt.Sprintf("%s %s", expr, dir))
		}
	}
	if !hasID {
		parts = append(parts, fmt.Sprintf("%s.id ASC", q.alias))
	}
	return "ORDER BY " + strings.Join(parts, ", "), nil
}

// sqlLimitOffsetClause returns the sql string for the LIMIT and OFFSET clauses
// of this Query
func (q *Query) sqlLimitOffsetClause() string {
	var res string
	if q.limit > 0 {
		res = fmt.Sprintf("LIMIT %d", q.limit)
	}
	if q.offset > 0 {
		if q.limit <= 0 {
			res = "LIMIT -1"
			if q.env.cr.DriverName() != "sqlite3" {
				res = "LIMIT ALL"
			}
		}
		res += fmt.Sprintf(" OFFSET %d", q.offset)
	}
	return res
}

// tablesSQL returns the SQL string for the FROM clause of our SQL query
// including all joins. It must be called after all the other clauses
// have been generated.
func (q *Query) tablesSQL() string {
	res := fmt.Sprintf("%s %s", q.quote(q.model.table), q.alias)
	for _, j := range q.joins {
		res += " " + j.sqlString()
	}
	return res
}

// selectColumnQuery returns the SQL query selecting the given column of
// the records matching the query's condition, without ordering.
func (q *Query) selectColumnQuery(column string) (string, SQLParams, error) {
	where, args, err := q.conditionSQLClause(q.cond)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT %s.%s FROM %s WHERE %s", q.alias, q.quote(column), q.tablesSQL(), where), args, nil
}

// selectIDsQuery returns the SQL query selecting the ordered ids of the
// records matching the query's condition.
func (q *Query) selectIDsQuery() (string, SQLParams, error) {
	where, args, err := q.conditionSQLClause(q.cond)
	if err != nil {
		return "", nil, err
	}
	order, err := q.sqlOrderByClause()
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT %s.id FROM %s WHERE %s %s %s", q.alias, q.tablesSQL(), where, order, q.sqlLimitOffsetClause()), args, nil
}

// countQuery returns the SQL query that counts the records matching the
// query's condition.
func (q *Query) countQuery() (string, SQLParams, error) {
	where, args, err := q.conditionSQLClause(q.cond)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", q.tablesSQL(), where), args, nil
}
