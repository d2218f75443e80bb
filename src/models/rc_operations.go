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
	"sort"
	"strings"
	"time"

	"github.com/hexya-erp/erpkit/src/models/fieldtype"
	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/strutils"
	"github.com/pkg/errors"
)

// existingIDs returns the ids of this RecordCollection that exist in
// the database.
func (rc *RecordCollection) existingIDs() ([]int64, error) {
	if rc.IsEmpty() {
		return nil, nil
	}
	var ids []int64
	query := fmt.Sprintf("SELECT id FROM %s WHERE id IN (?)", rc.quotedTable())
	if err := rc.env.cr.Select(&ids, query, rc.ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// quotedTable returns the quoted table name of this RecordCollection's model
func (rc *RecordCollection) quotedTable() string {
	return rc.env.registry.db.adapter.quoteTableName(rc.model.table)
}

// searchIDs returns the ids of the records matching cond, without
// applying any access rule or active filter.
func (rc *RecordCollection) searchIDs(cond *Condition, orders []string, limit, offset int) ([]int64, error) {
	q := newQuery(rc.env, rc.model, cond)
	q.orders, q.limit, q.offset = orders, limit, offset
	query, args, err := q.selectIDsQuery()
	if err != nil {
		return nil, err
	}
	var ids []int64
	if err := rc.env.cr.Select(&ids, query, args...); err != nil {
		return nil, err
	}
	return ids, nil
}

// searchCondition returns cond with the active filter and the row rules
// of perm applied.
func (rc *RecordCollection) searchCondition(cond *Condition, perm security.Permission) (*Condition, error) {
	if fi := rc.model.fields["active"]; fi != nil && fi.fieldType == fieldtype.Boolean && fi.IsColumn() &&
		rc.env.context.GetBool("active_test", true) && !strutils.IsIn("active", cond.Paths()...) {
		cond = cond.AndCond(NewCondition().And().Field("active").Equals(true))
	}
	return ApplyRowRules(rc.env, rc.model.name, perm, cond)
}

// search returns the records matching the given search parameters that
// the current user is allowed to read.
func (rc *RecordCollection) search(params SearchParams) (*RecordCollection, error) {
	if err := rc.checkModelAccess(security.Read); err != nil {
		return nil, err
	}
	cond, err := rc.searchCondition(params.Condition, security.Read)
	if err != nil {
		return nil, err
	}
	ids, err := rc.searchIDs(cond, params.Order, params.Limit, params.Offset)
	if err != nil {
		return nil, err
	}
	return rc.withIds(ids), nil
}

// searchCount returns the number of records matching the given condition
// that the current user is allowed to read.
func (rc *RecordCollection) searchCount(cond *Condition) (int64, error) {
	if err := rc.checkModelAccess(security.Read); err != nil {
		return 0, err
	}
	cond, err := rc.searchCondition(cond, security.Read)
	if err != nil {
		return 0, err
	}
	query, args, err := newQuery(rc.env, rc.model, cond).countQuery()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := rc.env.cr.Get(&count, query, args...); err != nil {
		return 0, err
	}
	return count, nil
}

// splitValues checks the given values and sorts them in column values,
// x2many values and related values.
func (rc *RecordCollection) splitValues(vals FieldMap, perm security.Permission) (cols, x2m, related FieldMap, err error) {
	cols, x2m, related = make(FieldMap), make(FieldMap), make(FieldMap)
	for _, name := range vals.OrderedKeys() {
		fi := rc.model.fields[name]
		if fi == nil {
			return nil, nil, nil, exceptions.Validation("unknown_field", "Unknown field %s in model %s", name, rc.model.name)
		}
		if isMagicField(name) {
			continue
		}
		if fi.IsComputed() && !fi.IsRelated() {
			log.Warn("Ignoring value of computed field", "model", rc.model.name, "field", name)
			continue
		}
		if err = CheckField(rc.env, rc.model.name, name, perm); err != nil {
			return nil, nil, nil, err
		}
		switch {
		case fi.IsRelated():
			related[name] = vals[name]
		case fi.fieldType.Is2ManyRelationType():
			x2m[name] = vals[name]
		default:
			cols[name] = vals[name]
		}
	}
	return cols, x2m, related, nil
}

// normalizeColumns returns the database values of the given column values
func (rc *RecordCollection) normalizeColumns(cols FieldMap, checkAllRequired bool) (FieldMap, error) {
	res := make(FieldMap, len(cols))
	for name, val := range cols {
		fi := rc.model.fields[name]
		nv, err := fi.normalize(val)
		if err != nil {
			return nil, err
		}
		if fi.required && fi.isEmptyValue(nv) {
			return nil, exceptions.Validation("required", "Field %s of %s is required", name, rc.model.name)
		}
		dbv, err := fi.convertToDB(nv)
		if err != nil {
			return nil, err
		}
		res[name] = dbv
	}
	if checkAllRequired {
		for _, fi := range rc.model.Fields() {
			if !fi.required || !fi.IsColumn() || fi.IsComputed() || isMagicField(fi.name) {
				continue
			}
			if _, ok := res[fi.name]; !ok {
				return nil, exceptions.Validation("required", "Field %s of %s is required", fi.name, rc.model.name)
			}
		}
	}
	return res, nil
}

// now returns the current timestamp as stored in the database
func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// create inserts a new record in the database with the given data and
// returns it.
func (rc *RecordCollection) create(data FieldMap) (*RecordCollection, error) {
	if err := rc.checkModelAccess(security.Create); err != nil {
		return nil, err
	}
	vals := data.Copy()
	vals.RemovePK()
	for _, fi := range rc.model.Fields() {
		if vals.Has(fi.name) || isMagicField(fi.name) || fi.IsComputed() || fi.IsRelated() {
			continue
		}
		if dv, ok := fi.defaultValue(rc.env); ok {
			vals[fi.name] = dv
		}
	}
	cols, x2m, related, err := rc.splitValues(vals, security.Write)
	if err != nil {
		return nil, err
	}
	if err = rc.createDelegateParents(cols, related); err != nil {
		return nil, err
	}
	dbVals, err := rc.normalizeColumns(cols, true)
	if err != nil {
		return nil, err
	}
	ts := now().Format(DateTimeFormat)
	for name, val := range map[string]interface{}{
		"create_date": ts, "write_date": ts,
		"create_uid": rc.env.uid, "write_uid": rc.env.uid,
	} {
		if fi := rc.model.fields[name]; fi != nil && fi.IsColumn() {
			dbVals[name] = val
		}
	}
	id, err := rc.insertRow(dbVals)
	if err != nil {
		return nil, err
	}
	res := rc.withIds([]int64{id})
	for _, name := range x2m.OrderedKeys() {
		if err := res.updateX2Many(rc.model.fields[name], x2m[name]); err != nil {
			return nil, err
		}
	}
	if err := res.writeRelated(related); err != nil {
		return nil, err
	}
	for _, fi := range rc.model.Fields() {
		if fi.IsComputed() && fi.IsStored() {
			rc.env.state.addPending(fi, res.ids)
		}
	}
	if err := res.modified(append(cols.Keys(), x2m.Keys()...)); err != nil {
		return nil, err
	}
	if err := res.checkCompanies(cols.Keys()); err != nil {
		return nil, err
	}
	if err := rc.env.processRecompute(); err != nil {
		return nil, err
	}
	if err := res.checkConstraints(nil); err != nil {
		return nil, err
	}
	if err := res.checkRecordsAccess(security.Create); err != nil {
		return nil, err
	}
	return res, nil
}

// insertRow inserts the given database values in the model's table and
// returns the new id.
func (rc *RecordCollection) insertRow(dbVals FieldMap) (int64, error) {
	adapter := rc.env.registry.db.adapter
	keys := dbVals.OrderedKeys()
	cols := make([]string, len(keys))
	marks := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		cols[i] = adapter.quoteTableName(k)
		marks[i] = "?"
		args[i] = dbVals[k]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		rc.quotedTable(), strings.Join(cols, ", "), strings.Join(marks, ", "))
	if len(keys) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING id", rc.quotedTable())
	}
	var id int64
	if err := rc.env.cr.Get(&id, query, args...); err != nil {
		return 0, errors.Wrapf(rc.uniqueViolation(err), "unable to create %s record", rc.model.name)
	}
	return id, nil
}

// uniqueViolation returns the error of the declared unique constraint
// violated by err, or err itself.
func (rc *RecordCollection) uniqueViolation(err error) error {
	if exceptions.CodeOf(err) != "unique_violation" {
		return err
	}
	msg := err.Error()
	for _, uc := range rc.model.uniques {
		matched := strings.Contains(msg, fmt.Sprintf("%s_%s", rc.model.table, uc.name))
		if !matched {
			matched = true
			for _, f := range uc.fields {
				matched = matched && strings.Contains(msg, fmt.Sprintf("%s.%s", rc.model.table, f))
			}
		}
		if matched {
			return exceptions.Validation("unique_violation", uc.message).WithCause(err)
		}
	}
	return err
}

// updateRows updates the columns of all the records of this RecordCollection
func (rc *RecordCollection) updateRows(dbVals FieldMap) error {
	if len(dbVals) == 0 || rc.IsEmpty() {
		return nil
	}
	adapter := rc.env.registry.db.adapter
	keys := dbVals.OrderedKeys()
	sets := make([]string, len(keys))
	args := make([]interface{}, 0, len(keys)+1)
	for i, k := range keys {
		sets[i] = fmt.Sprintf("%s = ?", adapter.quoteTableName(k))
		args = append(args, dbVals[k])
	}
	args = append(args, rc.ids)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id IN (?)", rc.quotedTable(), strings.Join(sets, ", "))
	_, err := rc.env.cr.Execute(query, args...)
	return rc.uniqueViolation(err)
}

// write updates the records of this RecordCollection with the given data
func (rc *RecordCollection) write(data FieldMap) error {
	if err := rc.checkModelAccess(security.Write); err != nil {
		return err
	}
	if rc.IsEmpty() {
		return nil
	}
	if err := rc.checkRecordsAccess(security.Write); err != nil {
		return err
	}
	vals := data.Copy()
	vals.RemovePK()
	cols, x2m, related, err := rc.splitValues(vals, security.Write)
	if err != nil {
		return err
	}
	fields := append(cols.Keys(), x2m.Keys()...)
	if err := rc.modified(fields); err != nil {
		return err
	}
	dbVals, err := rc.normalizeColumns(cols, false)
	if err != nil {
		return err
	}
	if fi := rc.model.fields["write_date"]; fi != nil && fi.IsColumn() {
		dbVals["write_date"] = now().Format(DateTimeFormat)
	}
	if fi := rc.model.fields["write_uid"]; fi != nil && fi.IsColumn() {
		dbVals["write_uid"] = rc.env.uid
	}
	if err := rc.updateRows(dbVals); err != nil {
		return errors.Wrapf(err, "unable to write %s records", rc.model.name)
	}
	for _, rec := range rc.Records() {
		for _, name := range x2m.OrderedKeys() {
			if err := rec.updateX2Many(rc.model.fields[name], x2m[name]); err != nil {
				return err
			}
		}
	}
	if err := rc.writeRelated(related); err != nil {
		return err
	}
	if err := rc.modified(fields); err != nil {
		return err
	}
	if err := rc.checkCompanies(cols.Keys()); err != nil {
		return err
	}
	if err := rc.env.processRecompute(); err != nil {
		return err
	}
	return rc.checkConstraints(append(fields, related.Keys()...))
}

// unlink deletes the records of this RecordCollection, applying the
// on delete policy of every many2one field pointing to this model.
func (rc *RecordCollection) unlink() error {
	if err := rc.checkModelAccess(security.Unlink); err != nil {
		return err
	}
	if rc.IsEmpty() {
		return nil
	}
	if err := rc.checkRecordsAccess(security.Unlink); err != nil {
		return err
	}
	var stored []string
	for _, fi := range rc.model.Fields() {
		if fi.IsStored() {
			stored = append(stored, fi.name)
		}
	}
	if err := rc.modified(stored); err != nil {
		return err
	}
	reg := rc.env.registry
	sudoEnv := rc.env.Sudo().WithContext("active_test", false)
	for _, fi := range reg.reverseM2O[rc.model.name] {
		cond := NewCondition().And().Field(fi.name).In(rc.ids)
		if fi.model == rc.model {
			cond = cond.And().Field("id").NotIn(rc.ids)
		}
		deps := newRecordCollection(sudoEnv, fi.model)
		ids, err := deps.searchIDs(cond, nil, 0, 0)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			continue
		}
		deps = deps.withIds(ids)
		switch fi.onDelete {
		case Restrict:
			return exceptions.Validation("restrict", "Records of %s cannot be deleted because they are referenced by %s (field %s)", rc.model.name, fi.model.name, fi.name)
		case Cascade:
			if _, err := deps.Call("unlink"); err != nil {
				return err
			}
		default:
			if err := deps.modified([]string{fi.name}); err != nil {
				return err
			}
			if err := deps.updateRows(FieldMap{fi.name: nil}); err != nil {
				return err
			}
			if err := deps.modified([]string{fi.name}); err != nil {
				return err
			}
		}
	}
	if err := rc.removeM2MLinks(); err != nil {
		return err
	}
	if reg.Get(ModelDataModel) != nil && rc.model.name != ModelDataModel {
		query := fmt.Sprintf("DELETE FROM %s WHERE model = ? AND res_id IN (?)", reg.db.adapter.quoteTableName(tableName(ModelDataModel)))
		if _, err := rc.env.cr.Execute(query, rc.model.name, rc.ids); err != nil {
			return err
		}
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id IN (?)", rc.quotedTable())
	if _, err := rc.env.cr.Execute(query, rc.ids); err != nil {
		return errors.Wrapf(err, "unable to delete %s records", rc.model.name)
	}
	rc.env.state.forget(rc.model, rc.ids)
	return rc.env.processRecompute()
}

// read returns the values of the given fields for the records of this
// RecordCollection, in the order of its ids.
func (rc *RecordCollection) read(fields []string) ([]FieldMap, error) {
	if err := rc.checkModelAccess(security.Read); err != nil {
		return nil, err
	}
	if rc.IsEmpty() {
		return []FieldMap{}, nil
	}
	if err := rc.checkRecordsAccess(security.Read); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		fields = rc.model.FieldNames()
	}
	var readable []*Field
	for _, name := range fields {
		fi := rc.model.fields[name]
		if fi == nil {
			return nil, exceptions.Validation("unknown_field", "Unknown field %s in model %s", name, rc.model.name)
		}
		if err := CheckField(rc.env, rc.model.name, name, security.Read); err != nil {
			if rc.env.context.GetBool("raise_on_field_access", false) {
				return nil, err
			}
			continue
		}
		readable = append(readable, fi)
	}
	records := make(map[int64]FieldMap, len(rc.ids))
	for _, id := range rc.ids {
		records[id] = FieldMap{"id": id}
	}
	if err := rc.readColumns(readable, records); err != nil {
		return nil, err
	}
	computeGroups := make(map[string][]*Field)
	var computeOrder []string
	for _, fi := range readable {
		var (
			values map[int64]interface{}
			err    error
		)
		switch {
		case fi.IsColumn():
			continue
		case fi.IsRelated():
			values, err = rc.readRelated(fi)
		case fi.IsComputed():
			if _, ok := computeGroups[fi.compute]; !ok {
				computeOrder = append(computeOrder, fi.compute)
			}
			computeGroups[fi.compute] = append(computeGroups[fi.compute], fi)
			continue
		case fi.fieldType.Is2ManyRelationType():
			values, err = rc.readX2Many(fi)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		for id, v := range values {
			records[id][fi.name] = v
		}
	}
	for _, method := range computeOrder {
		if err := rc.computeNonStored(method, computeGroups[method], records); err != nil {
			return nil, err
		}
	}
	res := make([]FieldMap, len(rc.ids))
	for i, id := range rc.ids {
		res[i] = records[id]
	}
	return res, nil
}

// readColumns reads the column fields of the given list from the database
// into records.
func (rc *RecordCollection) readColumns(fields []*Field, records map[int64]FieldMap) error {
	adapter := rc.env.registry.db.adapter
	selects := []string{"id"}
	var colFields []*Field
	for _, fi := range fields {
		if fi.IsColumn() && fi.name != "id" {
			selects = append(selects, adapter.quoteTableName(fi.name))
			colFields = append(colFields, fi)
		}
	}
	if len(colFields) == 0 {
		return nil
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id IN (?)", strings.Join(selects, ", "), rc.quotedTable())
	rows, err := rc.env.cr.Query(query, rc.ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		line, err := rows.SliceScan()
		if err != nil {
			return rc.env.registry.db.wrapError(err)
		}
		id, err := rc.model.fields["id"].convertFromDB(line[0])
		if err != nil {
			return err
		}
		rec := records[id.(int64)]
		for i, fi := range colFields {
			v, err := fi.convertFromDB(line[i+1])
			if err != nil {
				return err
			}
			rec[fi.name] = v
		}
	}
	return rc.env.registry.db.wrapError(rows.Err())
}

// searchRead searches the records matching params and reads the given
// fields.
func (rc *RecordCollection) searchRead(params SearchParams, fields []string) ([]FieldMap, error) {
	recs, err := rc.search(params)
	if err != nil {
		return nil, err
	}
	return recs.Read(fields...)
}

// defaultGet returns the default values of the given fields
func (rc *RecordCollection) defaultGet(fields []string) (FieldMap, error) {
	if len(fields) == 0 {
		fields = rc.model.FieldNames()
	}
	res := make(FieldMap)
	for _, name := range fields {
		fi := rc.model.fields[name]
		if fi == nil {
			return nil, exceptions.Validation("unknown_field", "Unknown field %s in model %s", name, rc.model.name)
		}
		dv, ok := fi.defaultValue(rc.env)
		if !ok {
			continue
		}
		nv, err := fi.normalize(dv)
		if err != nil {
			return nil, err
		}
		res[name] = nv
	}
	return res, nil
}

// copyData returns the values to use to duplicate this single record
func (rc *RecordCollection) copyData(overrides FieldMap) (FieldMap, error) {
	if err := rc.EnsureOne(); err != nil {
		return nil, err
	}
	var fields []string
	for _, fi := range rc.model.Fields() {
		switch {
		case fi.noCopy, isMagicField(fi.name), fi.IsComputed(), fi.IsRelated(), fi.fieldType == fieldtype.One2Many:
			continue
		}
		fields = append(fields, fi.name)
	}
	vals, err := rc.read(fields)
	if err != nil {
		return nil, err
	}
	res := vals[0]
	res.RemovePK()
	for k, v := range overrides {
		res[k] = v
	}
	return res, nil
}

// nameGet returns the display names of the records
func (rc *RecordCollection) nameGet() ([]IDName, error) {
	vals, err := rc.Read("display_name")
	if err != nil {
		return nil, err
	}
	res := make([]IDName, len(vals))
	for i, v := range vals {
		name, _ := v["display_name"].(string)
		res[i] = IDName{ID: v["id"].(int64), Name: name}
	}
	return res, nil
}

// fieldsGet returns the definition of the given fields, or of all fields
func (rc *RecordCollection) fieldsGet(fields []string) (map[string]*FieldInfo, error) {
	if len(fields) == 0 {
		fields = rc.model.FieldNames()
	}
	res := make(map[string]*FieldInfo, len(fields))
	for _, name := range fields {
		fi := rc.model.fields[name]
		if fi == nil {
			return nil, exceptions.Validation("unknown_field", "Unknown field %s in model %s", name, rc.model.name)
		}
		if CheckField(rc.env, rc.model.name, name, security.Read) != nil {
			continue
		}
		res[name] = fi.fieldInfo()
	}
	return res, nil
}

// checkConstraints calls the constraint methods of the model on each
// record. If fields is not nil, only the constraints on one of these
// fields are checked.
func (rc *RecordCollection) checkConstraints(fields []string) error {
	for _, c := range rc.model.constraints {
		if fields != nil && len(c.fields) > 0 && !intersects(c.fields, fields) {
			continue
		}
		for _, rec := range rc.Records() {
			if _, err := rec.Call(c.method); err != nil {
				if exceptions.As(err) == nil {
					return exceptions.Validation("constraint", "%s", err.Error()).WithCause(err)
				}
				return err
			}
		}
	}
	return nil
}

// intersects returns true if a and b have a common element
func intersects(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		if set[s] {
			return true
		}
	}
	return false
}

// checkCompanies checks that the many2one fields of the given list that
// are flagged CheckCompany point to records of the same company as the
// record, or to records without company.
func (rc *RecordCollection) checkCompanies(fields []string) error {
	if !rc.model.checkCompany || rc.model.fields["company_id"] == nil {
		return nil
	}
	var checked []string
	for _, f := range fields {
		fi := rc.model.fields[f]
		if f == "company_id" {
			checked = nil
			for _, cf := range rc.model.FieldNames() {
				if cfi := rc.model.fields[cf]; cfi.checkCompany && cfi.fieldType == fieldtype.Many2One {
					checked = append(checked, cf)
				}
			}
			break
		}
		if fi.checkCompany && fi.fieldType == fieldtype.Many2One && fi.relatedModel.fields["company_id"] != nil {
			checked = append(checked, f)
		}
	}
	if len(checked) == 0 {
		return nil
	}
	sort.Strings(checked)
	sudo := rc.Sudo()
	vals, err := sudo.read(append([]string{"company_id"}, checked...))
	if err != nil {
		return err
	}
	for _, v := range vals {
		company := v["company_id"].(int64)
		if company == 0 {
			continue
		}
		for _, f := range checked {
			fi := rc.model.fields[f]
			target, _ := v[f].(int64)
			if target == 0 || fi.relatedModel.fields["company_id"] == nil {
				continue
			}
			tc, err := newRecordCollection(rc.env.Sudo(), fi.relatedModel).withIds([]int64{target}).Get("company_id")
			if err != nil {
				return err
			}
			if tcID := tc.(int64); tcID != 0 && tcID != company {
				return exceptions.Validation("company_mismatch", "Record %d of %s referenced by %s of %s belongs to another company", target, fi.relatedModel.name, f, rc.model.name)
			}
		}
	}
	return nil
}
