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
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/nbutils"
)

// x2many commands
const (
	cmdCreate  = 0
	cmdUpdate  = 1
	cmdDelete  = 2
	cmdUnlink  = 3
	cmdLink    = 4
	cmdClear   = 5
	cmdReplace = 6
)

// An x2manyCommand is a single modification of an x2many field
type x2manyCommand struct {
	code int64
	id   int64
	vals FieldMap
	ids  []int64
}

// parseX2ManyCommands converts the value written to an x2many field into
// a list of commands. A list of ids (or a RecordCollection) means
// "replace by these records".
func parseX2ManyCommands(value interface{}) ([]x2manyCommand, error) {
	switch v := value.(type) {
	case nil:
		return []x2manyCommand{{code: cmdClear}}, nil
	case *RecordCollection:
		return []x2manyCommand{{code: cmdReplace, ids: v.Ids()}}, nil
	case []int64:
		return []x2manyCommand{{code: cmdReplace, ids: v}}, nil
	}
	items := toInterfaceSlice(value)
	if len(items) == 0 {
		return []x2manyCommand{{code: cmdReplace}}, nil
	}
	if !isMultiValue(items[0]) {
		ids, err := castIDs(items)
		if err != nil {
			return nil, err
		}
		return []x2manyCommand{{code: cmdReplace, ids: ids}}, nil
	}
	res := make([]x2manyCommand, 0, len(items))
	for _, item := range items {
		tuple := toInterfaceSlice(item)
		if len(tuple) == 0 {
			return nil, exceptions.Validation("invalid_command", "Empty x2many command")
		}
		code, err := nbutils.CastToInteger(tuple[0])
		if err != nil {
			return nil, exceptions.Validation("invalid_command", "Invalid x2many command %v", item)
		}
		cmd := x2manyCommand{code: code}
		if len(tuple) > 1 && tuple[1] != nil && tuple[1] != false {
			if cmd.id, err = nbutils.CastToInteger(tuple[1]); err != nil {
				return nil, exceptions.Validation("invalid_command", "Invalid record id in x2many command %v", item)
			}
		}
		if len(tuple) > 2 {
			switch code {
			case cmdCreate, cmdUpdate:
				vals, err := argFieldMap(tuple, 2)
				if err != nil {
					return nil, err
				}
				cmd.vals = vals
			case cmdReplace:
				if cmd.ids, err = castIDs(tuple[2]); err != nil {
					return nil, err
				}
			}
		}
		switch code {
		case cmdCreate, cmdUpdate, cmdDelete, cmdUnlink, cmdLink, cmdClear, cmdReplace:
		default:
			return nil, exceptions.Validation("invalid_command", "Unknown x2many command %d", code)
		}
		res = append(res, cmd)
	}
	return res, nil
}

// updateX2Many applies the given value of the x2many field fi to the
// single record rc.
func (rc *RecordCollection) updateX2Many(fi *Field, value interface{}) error {
	cmds, err := parseX2ManyCommands(value)
	if err != nil {
		return err
	}
	id := rc.ids[0]
	comodel := newRecordCollection(rc.env, fi.relatedModel)
	for _, cmd := range cmds {
		switch cmd.code {
		case cmdCreate:
			vals := cmd.vals.Copy()
			if fi.fieldType == fieldtype.One2Many {
				vals[fi.reverseFK] = id
			}
			rec, err := comodel.Call("create", vals)
			if err != nil {
				return err
			}
			if fi.fieldType == fieldtype.Many2Many {
				if err := rc.linkM2M(fi, rec.(*RecordCollection).ids); err != nil {
					return err
				}
			}
		case cmdUpdate:
			if _, err := comodel.withIds([]int64{cmd.id}).Call("write", cmd.vals); err != nil {
				return err
			}
		case cmdDelete:
			if _, err := comodel.withIds([]int64{cmd.id}).Call("unlink"); err != nil {
				return err
			}
		case cmdUnlink:
			if err := rc.unlinkX2Many(fi, []int64{cmd.id}); err != nil {
				return err
			}
		case cmdLink:
			if err := rc.linkX2Many(fi, []int64{cmd.id}); err != nil {
				return err
			}
		case cmdClear, cmdReplace:
			current, err := rc.readX2Many(fi)
			if err != nil {
				return err
			}
			if err := rc.unlinkX2Many(fi, subtractIDs(current[id].([]int64), cmd.ids)); err != nil {
				return err
			}
			if err := rc.linkX2Many(fi, subtractIDs(cmd.ids, current[id].([]int64))); err != nil {
				return err
			}
		}
	}
	return nil
}

// linkX2Many adds the given records to the x2many field fi of rc
func (rc *RecordCollection) linkX2Many(fi *Field, ids []int64) error {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	if fi.fieldType == fieldtype.Many2Many {
		return rc.linkM2M(fi, ids)
	}
	_, err := newRecordCollection(rc.env, fi.relatedModel).withIds(ids).Call("write", FieldMap{fi.reverseFK: rc.ids[0]})
	return err
}

// unlinkX2Many removes the given records from the x2many field fi of rc.
// One2many records whose reverse field is required are deleted.
func (rc *RecordCollection) unlinkX2Many(fi *Field, ids []int64) error {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	if fi.fieldType == fieldtype.Many2Many {
		adapter := rc.env.registry.db.adapter
		query := fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s IN (?)", adapter.quoteTableName(fi.m2mRelTable),
			adapter.quoteTableName(fi.m2mOurField), adapter.quoteTableName(fi.m2mTheirField))
		if _, err := rc.env.cr.Execute(query, rc.ids[0], ids); err != nil {
			return err
		}
		return rc.m2mModified(fi, ids)
	}
	lines := newRecordCollection(rc.env, fi.relatedModel).withIds(ids)
	if fi.relatedModel.fields[fi.reverseFK].required {
		_, err := lines.Call("unlink")
		return err
	}
	_, err := lines.Call("write", FieldMap{fi.reverseFK: nil})
	return err
}

// linkM2M inserts the missing rows of the relation table of fi between rc
// and the given ids.
func (rc *RecordCollection) linkM2M(fi *Field, ids []int64) error {
	current, err := rc.readX2Many(fi)
	if err != nil {
		return err
	}
	adapter := rc.env.registry.db.adapter
	query := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (?, ?)", adapter.quoteTableName(fi.m2mRelTable),
		adapter.quoteTableName(fi.m2mOurField), adapter.quoteTableName(fi.m2mTheirField))
	added := subtractIDs(uniqueIDs(ids), current[rc.ids[0]].([]int64))
	for _, relID := range added {
		if _, err := rc.env.cr.Execute(query, rc.ids[0], relID); err != nil {
			return err
		}
	}
	return rc.m2mModified(fi, added)
}

// m2mModified marks the computed fields depending on fi of rc and on the
// inverse many2many fields of the given records as to recompute.
func (rc *RecordCollection) m2mModified(fi *Field, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := rc.modified([]string{fi.name}); err != nil {
		return err
	}
	for _, other := range fi.relatedModel.Fields() {
		if other.fieldType == fieldtype.Many2Many && other.m2mRelTable == fi.m2mRelTable && other.relatedModel == rc.model && other.related == "" {
			if err := newRecordCollection(rc.env, fi.relatedModel).withIds(ids).modified([]string{other.name}); err != nil {
				return err
			}
		}
	}
	return nil
}

// removeM2MLinks deletes the relation table rows of the records of rc,
// on both sides of every many2many field involving the model.
func (rc *RecordCollection) removeM2MLinks() error {
	adapter := rc.env.registry.db.adapter
	done := make(map[string]bool)
	for _, mi := range rc.env.registry.Models() {
		for _, fi := range mi.Fields() {
			if fi.fieldType != fieldtype.Many2Many || !fi.IsStored() {
				continue
			}
			var column string
			switch {
			case fi.model == rc.model:
				column = fi.m2mOurField
			case fi.relatedModel == rc.model:
				column = fi.m2mTheirField
			default:
				continue
			}
			key := fi.m2mRelTable + "." + column
			if done[key] {
				continue
			}
			done[key] = true
			if fi.relatedModel == rc.model && fi.model != rc.model {
				ids, err := rc.m2mOwners(fi)
				if err != nil {
					return err
				}
				if err := newRecordCollection(rc.env, fi.model).withIds(ids).modified([]string{fi.name}); err != nil {
					return err
				}
			}
			query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (?)", adapter.quoteTableName(fi.m2mRelTable), adapter.quoteTableName(column))
			if _, err := rc.env.cr.Execute(query, rc.ids); err != nil {
				return err
			}
		}
	}
	return nil
}

// m2mOwners returns the ids of the records of fi's model linked to rc
// through fi.
func (rc *RecordCollection) m2mOwners(fi *Field) ([]int64, error) {
	adapter := rc.env.registry.db.adapter
	var ids []int64
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IN (?)", adapter.quoteTableName(fi.m2mOurField),
		adapter.quoteTableName(fi.m2mRelTable), adapter.quoteTableName(fi.m2mTheirField))
	err := rc.env.cr.Select(&ids, query, rc.ids)
	return ids, err
}

// readX2Many returns the ids of the records linked to each record of rc
// through the x2many field fi.
func (rc *RecordCollection) readX2Many(fi *Field) (map[int64]interface{}, error) {
	res := make(map[int64]interface{}, len(rc.ids))
	for _, id := range rc.ids {
		res[id] = []int64{}
	}
	if rc.IsEmpty() {
		return res, nil
	}
	adapter := rc.env.registry.db.adapter
	var query string
	switch fi.fieldType {
	case fieldtype.One2Many:
		comodel := fi.relatedModel
		order := comodel.orderOrDefault(nil)
		q := newQuery(rc.env, comodel, NewCondition().And().Field(fi.reverseFK).In(rc.ids))
		q.orders = order
		orderBy, err := q.sqlOrderByClause()
		if err != nil {
			return nil, err
		}
		where, args, err := q.conditionSQLClause(q.cond)
		if err != nil {
			return nil, err
		}
		query = fmt.Sprintf("SELECT %s.%s, %s.id FROM %s WHERE %s %s", q.alias, adapter.quoteTableName(fi.reverseFK),
			q.alias, q.tablesSQL(), where, orderBy)
		return res, rc.scanPairs(query, args, res)
	default:
		query = fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IN (?) ORDER BY %s",
			adapter.quoteTableName(fi.m2mOurField), adapter.quoteTableName(fi.m2mTheirField),
			adapter.quoteTableName(fi.m2mRelTable), adapter.quoteTableName(fi.m2mOurField), adapter.quoteTableName(fi.m2mTheirField))
		return res, rc.scanPairs(query, SQLParams{rc.ids}, res)
	}
}

// scanPairs executes the given query returning (owner id, related id)
// rows and appends the related ids to res.
func (rc *RecordCollection) scanPairs(query string, args SQLParams, res map[int64]interface{}) error {
	rows, err := rc.env.cr.Query(query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var owner, rel int64
		if err := rows.Scan(&owner, &rel); err != nil {
			return rc.env.registry.db.wrapError(err)
		}
		res[owner] = append(res[owner].([]int64), rel)
	}
	return rc.env.registry.db.wrapError(rows.Err())
}

// followMany2One returns for each record of rc the id reached through
// the given many2one path, or 0.
func (rc *RecordCollection) followMany2One(path []string) (map[int64]int64, *Model, error) {
	current := make(map[int64]int64, len(rc.ids))
	for _, id := range rc.ids {
		current[id] = id
	}
	mi := rc.model
	for _, seg := range path {
		fi := mi.fields[seg]
		if fi == nil || fi.fieldType != fieldtype.Many2One {
			return nil, nil, exceptions.Validation("invalid_path", "Field %s of %s is not a many2one", seg, mi.name)
		}
		var targets []int64
		for _, t := range current {
			targets = append(targets, t)
		}
		vals, err := newRecordCollection(rc.env.Sudo(), mi).withIds(targets).read([]string{seg})
		if err != nil {
			return nil, nil, err
		}
		next := make(map[int64]int64, len(vals))
		for _, v := range vals {
			next[v["id"].(int64)] = v[seg].(int64)
		}
		for id, t := range current {
			current[id] = next[t]
		}
		mi = fi.relatedModel
	}
	return current, mi, nil
}

// readRelated returns the value of the related field fi for each record
func (rc *RecordCollection) readRelated(fi *Field) (map[int64]interface{}, error) {
	path := fi.relatedPath()
	targets, mi, err := rc.followMany2One(path[:len(path)-1])
	if err != nil {
		return nil, err
	}
	last := path[len(path)-1]
	var ids []int64
	for _, t := range targets {
		ids = append(ids, t)
	}
	vals, err := newRecordCollection(rc.env.Sudo(), mi).withIds(ids).read([]string{last})
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]interface{}, len(vals))
	for _, v := range vals {
		byID[v["id"].(int64)] = v[last]
	}
	res := make(map[int64]interface{}, len(rc.ids))
	for id, t := range targets {
		if v, ok := byID[t]; ok {
			res[id] = v
			continue
		}
		res[id] = fi.zeroValue()
	}
	return res, nil
}

// writeRelated writes the given related field values through their path
// on every record of rc.
func (rc *RecordCollection) writeRelated(vals FieldMap) error {
	if len(vals) == 0 || rc.IsEmpty() {
		return nil
	}
	byPrefix := make(map[string]FieldMap)
	var prefixes []string
	for _, name := range vals.OrderedKeys() {
		path := rc.model.fields[name].relatedPath()
		prefix := strings.Join(path[:len(path)-1], ExprSep)
		if _, ok := byPrefix[prefix]; !ok {
			byPrefix[prefix] = make(FieldMap)
			prefixes = append(prefixes, prefix)
		}
		byPrefix[prefix][path[len(path)-1]] = vals[name]
	}
	for _, prefix := range prefixes {
		var segs []string
		if prefix != "" {
			segs = strings.Split(prefix, ExprSep)
		}
		targets, mi, err := rc.followMany2One(segs)
		if err != nil {
			return err
		}
		var ids []int64
		for id, t := range targets {
			if t == 0 {
				return exceptions.Validation("invalid_related", "Cannot write %v on record %d of %s: %s is empty", byPrefix[prefix].Keys(), id, rc.model.name, prefix)
			}
			ids = append(ids, t)
		}
		if _, err := newRecordCollection(rc.env, mi).withIds(ids).Call("write", byPrefix[prefix]); err != nil {
			return err
		}
	}
	return nil
}

// createDelegateParents creates the parent records of the delegations of
// the model that are not given in cols, using the values of the delegated
// fields. These values are removed from related.
func (rc *RecordCollection) createDelegateParents(cols, related FieldMap) error {
	for _, dd := range rc.model.delegates {
		parentVals := make(FieldMap)
		for name, val := range related {
			if fi := rc.model.fields[name]; fi.delegate == dd.field {
				parentVals[fi.relatedPath()[1]] = val
			}
		}
		if v, ok := cols[dd.field]; ok && !isNullArg(rc.model.fields[dd.field], v) {
			continue
		}
		for name := range related {
			if rc.model.fields[name].delegate == dd.field {
				delete(related, name)
			}
		}
		parent, err := newRecordCollection(rc.env, rc.env.registry.Get(dd.model)).Call("create", parentVals)
		if err != nil {
			return err
		}
		cols[dd.field] = parent.(*RecordCollection).ID()
	}
	return nil
}
