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
	"github.com/hexya-erp/erpkit/src/models/fieldtype"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
)

// addPending marks the given field as to recompute on the given records
func (s *envState) addPending(fi *Field, ids []int64) {
	if len(ids) == 0 {
		return
	}
	set, ok := s.pending[fi]
	if !ok {
		set = make(map[int64]bool, len(ids))
		s.pending[fi] = set
	}
	for _, id := range ids {
		set[id] = true
	}
}

// forget removes the given records of mi from the recompute queue
func (s *envState) forget(mi *Model, ids []int64) {
	for fi, set := range s.pending {
		if fi.model != mi {
			continue
		}
		for _, id := range ids {
			delete(set, id)
		}
		if len(set) == 0 {
			delete(s.pending, fi)
		}
	}
}

// modified marks the stored computed fields that depend on the given
// fields of the records of rc as to recompute.
func (rc *RecordCollection) modified(fields []string) error {
	if rc.IsEmpty() {
		return nil
	}
	reg := rc.env.registry
	sudoEnv := rc.env.Sudo().WithContext("active_test", false)
	for _, name := range fields {
		fi := rc.model.fields[name]
		if fi == nil {
			continue
		}
		for _, trig := range reg.triggers[fi] {
			if trig.path == "" {
				rc.env.state.addPending(trig.field, rc.ids)
				continue
			}
			cond := NewCondition().And().Field(trig.path).In(rc.ids)
			ids, err := newRecordCollection(sudoEnv, trig.field.model).searchIDs(cond, nil, 0, 0)
			if err != nil {
				return err
			}
			rc.env.state.addPending(trig.field, ids)
		}
	}
	return nil
}

// nextPending returns the pending field with the lowest recompute rank
func (env Environment) nextPending() *Field {
	var next *Field
	for fi := range env.state.pending {
		if next == nil {
			next = fi
			continue
		}
		r1, r2 := env.registry.computeRank[fi], env.registry.computeRank[next]
		if r1 < r2 || r1 == r2 && fi.model.name+"."+fi.name < next.model.name+"."+next.name {
			next = fi
		}
	}
	return next
}

// processRecompute recomputes all the stored computed fields of the
// recompute queue, in recompute rank order. Fields sharing a compute
// method are computed together.
func (env Environment) processRecompute() error {
	st := env.state
	if st.recomputing {
		return nil
	}
	st.recomputing = true
	defer func() { st.recomputing = false }()
	for len(st.pending) > 0 {
		fi := env.nextPending()
		ids := sortedIDs(st.pending[fi])
		delete(st.pending, fi)
		fields := []*Field{fi}
		for _, other := range fi.model.Fields() {
			if other != fi && other.compute == fi.compute && other.IsStored() && other.related == "" {
				fields = append(fields, other)
				if set, ok := st.pending[other]; ok {
					for _, id := range ids {
						delete(set, id)
					}
					if len(set) == 0 {
						delete(st.pending, other)
					}
				}
			}
		}
		rc := newRecordCollection(env.Sudo(), fi.model).withIds(ids)
		existing, err := rc.existingIDs()
		if err != nil {
			return err
		}
		for _, rec := range rc.withIds(existing).Records() {
			if err := rec.recompute(fi.compute, fields); err != nil {
				return err
			}
		}
	}
	return nil
}

// callCompute calls the given compute method on the single record rc and
// returns the values of the given fields.
func (rc *RecordCollection) callCompute(method string, fields []*Field) (FieldMap, error) {
	res, err := rc.Call(method)
	if err != nil {
		return nil, err
	}
	vals, ok := res.(FieldMap)
	if !ok {
		if m, isMap := res.(map[string]interface{}); isMap {
			vals = FieldMap(m)
		} else if res != nil {
			return nil, exceptions.Systemf("invalid_compute", "compute method %s of %s returned %T instead of a FieldMap", method, rc.model.name, res)
		}
	}
	out := make(FieldMap, len(fields))
	for _, fi := range fields {
		v, err := fi.normalize(vals[fi.name])
		if err != nil {
			return nil, err
		}
		out[fi.name] = v
	}
	return out, nil
}

// recompute computes the given stored fields of the single record rc and
// saves them, marking their own dependents as to recompute.
func (rc *RecordCollection) recompute(method string, fields []*Field) error {
	vals, err := rc.callCompute(method, fields)
	if err != nil {
		return err
	}
	dbVals := make(FieldMap)
	var names []string
	for _, fi := range fields {
		names = append(names, fi.name)
		if fi.fieldType.Is2ManyRelationType() {
			if fi.fieldType == fieldtype.Many2Many {
				if err := rc.updateX2Many(fi, vals[fi.name]); err != nil {
					return err
				}
			}
			continue
		}
		dbv, err := fi.convertToDB(vals[fi.name])
		if err != nil {
			return err
		}
		dbVals[fi.name] = dbv
	}
	if err := rc.updateRows(dbVals); err != nil {
		return err
	}
	return rc.modified(names)
}

// computeNonStored computes the given non stored fields sharing the given
// compute method for every record and sets them in records.
func (rc *RecordCollection) computeNonStored(method string, fields []*Field, records map[int64]FieldMap) error {
	for _, rec := range rc.Sudo().Records() {
		vals, err := rec.callCompute(method, fields)
		if err != nil {
			return err
		}
		for k, v := range vals {
			records[rec.ids[0]][k] = v
		}
	}
	return nil
}
