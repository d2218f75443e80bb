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
	"time"

	"github.com/hexya-erp/erpkit/src/models/fieldtype"
	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/nbutils"
)

// CountKey is the name of the records count in read_group orders
const CountKey = "__count"

// DefaultGranularity is the granularity of date groupings without suffix
const DefaultGranularity = "month"

// aggregateFunctions maps aggregate names to their SQL format
var aggregateFunctions = map[string]string{
	"sum":            "SUM(%s)",
	"avg":            "AVG(%s)",
	"min":            "MIN(%s)",
	"max":            "MAX(%s)",
	"count":          "COUNT(%s)",
	"count_distinct": "COUNT(DISTINCT %s)",
}

// A groupingExpr is one GROUP BY item of a read_group query
type groupingExpr struct {
	key         string
	path        string
	granularity string
	field       *Field
	sql         string
}

// An aggregateExpr is one aggregated column of a read_group query
type aggregateExpr struct {
	name     string
	function string
	field    *Field
	sql      string
}

// splitSuffix splits "name:suffix" expressions
func splitSuffix(expr string) (string, string) {
	if i := strings.Index(expr, ":"); i >= 0 {
		return strings.TrimSpace(expr[:i]), strings.TrimSpace(expr[i+1:])
	}
	return strings.TrimSpace(expr), ""
}

// groupingExprs parses the GroupBy items of params for query q
func (q *Query) groupingExprs(groupBy []string) ([]groupingExpr, error) {
	res := make([]groupingExpr, 0, len(groupBy))
	for _, gb := range groupBy {
		path, gran := splitSuffix(gb)
		col, fi, err := q.columnExpr(path)
		if err != nil {
			return nil, err
		}
		ge := groupingExpr{key: gb, path: path, field: fi, sql: col}
		switch fi.fieldType {
		case fieldtype.Date, fieldtype.DateTime:
			if gran == "" {
				gran = DefaultGranularity
			}
			ge.granularity = gran
			ge.sql, err = q.adapter.dateTruncSQL(gran, col)
			if err != nil {
				return nil, err
			}
		default:
			if gran != "" {
				return nil, exceptions.Validation("invalid_granularity", "Field %s of %s is not a date field", path, q.model.name)
			}
		}
		res = append(res, ge)
	}
	return res, nil
}

// aggregateExprs parses the Aggregates items of params for query q
func (q *Query) aggregateExprs(aggregates []string) ([]aggregateExpr, error) {
	res := make([]aggregateExpr, 0, len(aggregates))
	for _, agg := range aggregates {
		name, fnct := splitSuffix(agg)
		col, fi, err := q.columnExpr(name)
		if err != nil {
			return nil, err
		}
		if fnct == "" {
			if !fi.fieldType.IsNumeric() {
				return nil, exceptions.Validation("invalid_aggregate", "Field %s of %s needs an aggregate function", name, q.model.name)
			}
			fnct = "sum"
		}
		format, ok := aggregateFunctions[fnct]
		if !ok {
			return nil, exceptions.Validation("invalid_aggregate", "Unknown aggregate function %s", fnct)
		}
		if (fnct == "sum" || fnct == "avg") && !fi.fieldType.IsNumeric() {
			return nil, exceptions.Validation("invalid_aggregate", "Cannot compute %s of non numeric field %s", fnct, name)
		}
		res = append(res, aggregateExpr{name: name, function: fnct, field: fi, sql: fmt.Sprintf(format, col)})
	}
	return res, nil
}

// groupOrderClause returns the ORDER BY clause of a read_group query.
// Orders may refer to grouping keys, aggregate names or __count.
func groupOrderClause(orders []string, groups []groupingExpr, aggs []aggregateExpr) (string, error) {
	var parts []string
	for _, order := range orders {
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
			expr := ""
			switch {
			case tokens[0] == CountKey:
				expr = "COUNT(*)"
			default:
				for _, g := range groups {
					if g.key == tokens[0] || g.path == tokens[0] {
						expr = g.sql
						break
					}
				}
				for _, a := range aggs {
					if expr == "" && a.name == tokens[0] {
						expr = a.sql
					}
				}
			}
			if expr == "" {
				return "", exceptions.Validation("invalid_order", "Cannot order groups by %s", tokens[0])
			}
			parts = append(parts, fmt.Sprintf("%s %s", expr, dir))
		}
	}
	if len(parts) == 0 {
		for _, g := range groups {
			parts = append(parts, g.sql+" ASC")
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	return "ORDER BY " + strings.Join(parts, ", "), nil
}

// readGroup returns the aggregates of the records matching params,
// grouped by the params' grouping keys.
func (rc *RecordCollection) readGroup(params ReadGroupParams) ([]GroupResult, error) {
	if err := rc.checkModelAccess(security.Read); err != nil {
		return nil, err
	}
	for _, gb := range params.GroupBy {
		path, _ := splitSuffix(gb)
		if err := CheckField(rc.env, rc.model.name, strings.Split(path, ExprSep)[0], security.Read); err != nil {
			return nil, err
		}
	}
	cond, err := rc.searchCondition(params.Condition, security.Read)
	if err != nil {
		return nil, err
	}
	q := newQuery(rc.env, rc.model, cond)
	q.limit, q.offset = params.Limit, params.Offset
	where, args, err := q.conditionSQLClause(cond)
	if err != nil {
		return nil, err
	}
	groups, err := q.groupingExprs(params.GroupBy)
	if err != nil {
		return nil, err
	}
	aggs, err := q.aggregateExprs(params.Aggregates)
	if err != nil {
		return nil, err
	}
	order, err := groupOrderClause(params.Order, groups, aggs)
	if err != nil {
		return nil, err
	}
	var selects, groupSQL []string
	for i, g := range groups {
		selects = append(selects, fmt.Sprintf("%s AS g%d", g.sql, i))
		groupSQL = append(groupSQL, g.sql)
	}
	selects = append(selects, "COUNT(*) AS "+CountKey)
	for i, a := range aggs {
		selects = append(selects, fmt.Sprintf("%s AS a%d", a.sql, i))
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(selects, ", "), q.tablesSQL(), where)
	if len(groupSQL) > 0 {
		query += " GROUP BY " + strings.Join(groupSQL, ", ")
	}
	query = strings.TrimSpace(fmt.Sprintf("%s %s %s", query, order, q.sqlLimitOffsetClause()))

	rows, err := rc.env.cr.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []GroupResult
	for rows.Next() {
		line, err := rows.SliceScan()
		if err != nil {
			return nil, rc.env.registry.db.wrapError(err)
		}
		gr, err := rc.groupResult(line, params.Condition, groups, aggs)
		if err != nil {
			return nil, err
		}
		res = append(res, gr)
	}
	return res, rc.env.registry.db.wrapError(rows.Err())
}

// groupResult builds a GroupResult from a read_group query row
func (rc *RecordCollection) groupResult(line []interface{}, base *Condition, groups []groupingExpr, aggs []aggregateExpr) (GroupResult, error) {
	gr := GroupResult{
		Values:     make(FieldMap, len(groups)),
		Aggregates: make(FieldMap, len(aggs)),
		Condition:  base,
	}
	if gr.Condition == nil {
		gr.Condition = NewCondition()
	}
	for i, g := range groups {
		raw := line[i]
		if g.granularity != "" {
			key, start, end, err := dateGroupRange(raw, g.granularity)
			if err != nil {
				return gr, err
			}
			gr.Values[g.key] = key
			if key == nil {
				gr.Condition = gr.Condition.And().Field(g.path).IsNull()
				continue
			}
			gr.Condition = gr.Condition.And().Field(g.path).GreaterOrEqual(start).
				And().Field(g.path).Lower(end)
			continue
		}
		val, err := g.field.convertFromDB(raw)
		if err != nil {
			return gr, err
		}
		gr.Values[g.key] = val
		if raw == nil {
			gr.Condition = gr.Condition.And().Field(g.path).IsNull()
			continue
		}
		gr.Condition = gr.Condition.And().Field(g.path).Equals(val)
	}
	count, err := nbutils.CastToInteger(line[len(groups)])
	if err != nil {
		return gr, exceptions.System("read_group", err)
	}
	gr.Count = count
	for i, a := range aggs {
		raw := line[len(groups)+1+i]
		var (
			val interface{}
			err error
		)
		switch {
		case a.function == "count" || a.function == "count_distinct":
			val, err = nbutils.CastToInteger(raw)
		case a.function == "avg":
			val, err = nbutils.CastToFloat(raw)
			if raw == nil {
				val, err = 0.0, nil
			}
		default:
			val, err = a.field.convertFromDB(raw)
		}
		if err != nil {
			return gr, exceptions.System("read_group", err)
		}
		gr.Aggregates[a.name] = val
	}
	return gr, nil
}

// dateGroupRange returns the key of a date group read from the database
// and the [start, end) range it covers.
func dateGroupRange(raw interface{}, granularity string) (interface{}, time.Time, time.Time, error) {
	var s string
	switch v := raw.(type) {
	case nil:
		return nil, time.Time{}, time.Time{}, nil
	case []byte:
		s = string(v)
	case string:
		s = v
	case time.Time:
		s = v.Format(DateFormat)
	default:
		s = fmt.Sprintf("%v", v)
	}
	start, err := time.Parse(DateFormat, s[:min(len(s), len(DateFormat))])
	if err != nil {
		return nil, start, start, exceptions.System("read_group", err)
	}
	var end time.Time
	switch granularity {
	case "day":
		end = start.AddDate(0, 0, 1)
	case "week":
		end = start.AddDate(0, 0, 7)
	case "month":
		end = start.AddDate(0, 1, 0)
	case "quarter":
		end = start.AddDate(0, 3, 0)
	case "year":
		end = start.AddDate(1, 0, 0)
	}
	return start.Format(DateFormat), start, end, nil
}
