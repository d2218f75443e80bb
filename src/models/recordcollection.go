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
	"strconv"
	"strings"

	"github.com/hexya-erp/erpkit/src/tools/exceptions"
)

// RecordCollection is a generic struct representing several
// records of a model.
//
// A RecordCollection is immutable: methods that change its ids, its
// environment or its search options return a new RecordCollection.
type RecordCollection struct {
	model  *Model
	env    Environment
	ids    []int64
	frame  *callFrame
	orders []string
	limit  int
	offset int
}

// SearchParams are the arguments of the "search" method
type SearchParams struct {
	Condition *Condition
	Order     []string
	Limit     int
	Offset    int
}

// ReadGroupParams are the arguments of the "read_group" method.
//
// GroupBy items are field paths, optionally suffixed with a date
// granularity (e.g. "date:month"). Aggregates are field names optionally
// suffixed with an aggregate function (e.g. "amount:sum"). Numeric fields
// are summed by default.
type ReadGroupParams struct {
	Condition  *Condition
	GroupBy    []string
	Aggregates []string
	Order      []string
	Limit      int
	Offset     int
}

// A GroupResult is one row of a read_group call
type GroupResult struct {
	Values     FieldMap
	Aggregates FieldMap
	Count      int64
	Condition  *Condition
}

// An IDName is the display name of a record
type IDName struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// newRecordCollection returns a new empty RecordCollection in the
// given environment for the given model
func newRecordCollection(env Environment, mi *Model) *RecordCollection {
	return &RecordCollection{
		model: mi,
		env:   env,
	}
}

// String returns the string representation of a RecordSet
func (rc *RecordCollection) String() string {
	idsStr := make([]string, len(rc.ids))
	for i, id := range rc.ids {
		idsStr[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("%s(%s)", rc.model.name, strings.Join(idsStr, ","))
}

// clone returns a pointer to a new RecordCollection identical to this one.
func (rc *RecordCollection) clone() *RecordCollection {
	res := *rc
	return &res
}

// withFrame returns a copy of this RecordCollection executing the given
// method layer.
func (rc *RecordCollection) withFrame(frame *callFrame) *RecordCollection {
	res := rc.clone()
	res.frame = frame
	return res
}

// withIds returns a copy of this RecordCollection with the given ids and
// without search options.
func (rc *RecordCollection) withIds(ids []int64) *RecordCollection {
	res := rc.clone()
	res.ids = uniqueIDs(ids)
	res.frame = nil
	res.orders, res.limit, res.offset = nil, 0, 0
	return res
}

// Env returns the RecordSet's Environment
func (rc *RecordCollection) Env() Environment {
	return rc.env
}

// Model returns the Model of this RecordCollection
func (rc *RecordCollection) Model() *Model {
	return rc.model
}

// ModelName returns the model name of the RecordSet
func (rc *RecordCollection) ModelName() string {
	return rc.model.name
}

// Ids returns the ids of the RecordSet
func (rc *RecordCollection) Ids() []int64 {
	return append([]int64(nil), rc.ids...)
}

// ID returns the id of this single record, or 0 if this RecordCollection
// is empty. It panics if there is more than one record.
func (rc *RecordCollection) ID() int64 {
	switch len(rc.ids) {
	case 0:
		return 0
	case 1:
		return rc.ids[0]
	}
	log.Panic("Expected singleton", "model", rc.model.name, "received", rc)
	return 0
}

// Len returns the number of records in this RecordCollection
func (rc *RecordCollection) Len() int {
	return len(rc.ids)
}

// IsEmpty returns true if this RecordCollection has no records
func (rc *RecordCollection) IsEmpty() bool {
	return len(rc.ids) == 0
}

// IsNotEmpty returns true if this RecordCollection has at least one record
func (rc *RecordCollection) IsNotEmpty() bool {
	return !rc.IsEmpty()
}

// EnsureOne returns a validation error if this RecordCollection is not a
// singleton.
func (rc *RecordCollection) EnsureOne() error {
	if len(rc.ids) != 1 {
		return exceptions.Validation("expected_singleton", "Expected singleton %s, got %d records", rc.model.name, len(rc.ids))
	}
	return nil
}

// Records returns the slice of RecordCollection singletons that constitute
// this RecordCollection.
func (rc *RecordCollection) Records() []*RecordCollection {
	res := make([]*RecordCollection, len(rc.ids))
	for i, id := range rc.ids {
		res[i] = rc.withIds([]int64{id})
	}
	return res
}

// Browse returns a new RecordCollection of the same model with the given
// ids. Existence is checked when the records are read or written.
func (rc *RecordCollection) Browse(ids ...int64) *RecordCollection {
	return rc.withIds(ids)
}

// Union returns a new RecordCollection with the records of this and
// other, in order.
func (rc *RecordCollection) Union(other *RecordCollection) *RecordCollection {
	return rc.withIds(append(rc.Ids(), other.ids...))
}

// Subtract returns a new RecordCollection with the records of this that
// are not in other.
func (rc *RecordCollection) Subtract(other *RecordCollection) *RecordCollection {
	return rc.withIds(subtractIDs(rc.ids, other.ids))
}

// Intersect returns a new RecordCollection with the records that are
// both in this and in other.
func (rc *RecordCollection) Intersect(other *RecordCollection) *RecordCollection {
	in := make(map[int64]bool, len(other.ids))
	for _, id := range other.ids {
		in[id] = true
	}
	var res []int64
	for _, id := range rc.ids {
		if in[id] {
			res = append(res, id)
		}
	}
	return rc.withIds(res)
}

// Sudo returns a copy of this RecordCollection in an environment that
// bypasses access control. If uid is given, the copy acts as this user.
func (rc *RecordCollection) Sudo(uid ...int64) *RecordCollection {
	return rc.WithEnv(rc.env.Sudo(uid...))
}

// WithEnv returns a copy of this RecordCollection in the given environment
func (rc *RecordCollection) WithEnv(env Environment) *RecordCollection {
	res := rc.clone()
	res.env = env
	return res
}

// WithContext returns a copy of this RecordCollection with the given key
// set in the context of its environment.
func (rc *RecordCollection) WithContext(key string, value interface{}) *RecordCollection {
	return rc.WithEnv(rc.env.WithContext(key, value))
}

// OrderBy returns a copy of this RecordCollection whose next Search will
// be ordered by the given expressions, such as "name" or "date desc".
func (rc *RecordCollection) OrderBy(exprs ...string) *RecordCollection {
	res := rc.clone()
	res.orders = append(append([]string(nil), rc.orders...), exprs...)
	return res
}

// Limit returns a copy of this RecordCollection whose next Search will
// return at most limit records.
func (rc *RecordCollection) Limit(limit int) *RecordCollection {
	res := rc.clone()
	res.limit = limit
	return res
}

// Offset returns a copy of this RecordCollection whose next Search will
// skip the first offset records.
func (rc *RecordCollection) Offset(offset int) *RecordCollection {
	res := rc.clone()
	res.offset = offset
	return res
}

// Search returns the records of the model matching the given condition,
// taking into account the search options set on this RecordCollection.
func (rc *RecordCollection) Search(cond *Condition) (*RecordCollection, error) {
	res, err := rc.Call("search", SearchParams{
		Condition: cond,
		Order:     rc.orders,
		Limit:     rc.limit,
		Offset:    rc.offset,
	})
	if err != nil {
		return nil, err
	}
	return res.(*RecordCollection), nil
}

// SearchAll returns all the records of the model
func (rc *RecordCollection) SearchAll() (*RecordCollection, error) {
	return rc.Search(nil)
}

// SearchCount returns the number of records matching the given condition
func (rc *RecordCollection) SearchCount(cond *Condition) (int64, error) {
	res, err := rc.Call("search_count", cond)
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

// Read returns the values of the given fields for each record. If no
// field is given, all readable fields are returned.
func (rc *RecordCollection) Read(fields ...string) ([]FieldMap, error) {
	res, err := rc.Call("read", fields)
	if err != nil {
		return nil, err
	}
	return res.([]FieldMap), nil
}

// Get returns the value of the given field of this single record. It
// returns the empty value of the field if this RecordCollection is empty.
func (rc *RecordCollection) Get(field string) (interface{}, error) {
	fi := rc.model.fields[field]
	if fi == nil {
		return nil, exceptions.Validation("unknown_field", "Unknown field %s in model %s", field, rc.model.name)
	}
	if rc.IsEmpty() {
		return fi.zeroValue(), nil
	}
	if err := rc.EnsureOne(); err != nil {
		return nil, err
	}
	vals, err := rc.Read(field)
	if err != nil {
		return nil, err
	}
	if v, ok := vals[0][field]; ok {
		return v, nil
	}
	return fi.zeroValue(), nil
}

// GetRecord returns the records of the relation field of this single
// record.
func (rc *RecordCollection) GetRecord(field string) (*RecordCollection, error) {
	fi := rc.model.fields[field]
	if fi == nil || !fi.fieldType.IsRelationType() {
		return nil, exceptions.Validation("invalid_field", "Field %s of %s is not a relation field", field, rc.model.name)
	}
	val, err := rc.Get(field)
	if err != nil {
		return nil, err
	}
	target := newRecordCollection(rc.env, fi.relatedModel)
	switch v := val.(type) {
	case int64:
		if v == 0 {
			return target, nil
		}
		return target.withIds([]int64{v}), nil
	case []int64:
		return target.withIds(v), nil
	}
	return target, nil
}

// Create creates a new record with the given values and returns it
func (rc *RecordCollection) Create(vals FieldMap) (*RecordCollection, error) {
	res, err := rc.Call("create", vals)
	if err != nil {
		return nil, err
	}
	return res.(*RecordCollection), nil
}

// Write updates all the records of this RecordCollection with the given values
func (rc *RecordCollection) Write(vals FieldMap) error {
	_, err := rc.Call("write", vals)
	return err
}

// Set writes a single field on all the records of this RecordCollection
func (rc *RecordCollection) Set(field string, value interface{}) error {
	return rc.Write(FieldMap{field: value})
}

// Unlink deletes the records of this RecordCollection
func (rc *RecordCollection) Unlink() error {
	_, err := rc.Call("unlink")
	return err
}

// ReadGroup returns the aggregated values of the records matching
// params.Condition grouped by params.GroupBy.
func (rc *RecordCollection) ReadGroup(params ReadGroupParams) ([]GroupResult, error) {
	res, err := rc.Call("read_group", params)
	if err != nil {
		return nil, err
	}
	return res.([]GroupResult), nil
}

// Copy duplicates this single record, with the given values overriding
// the copied ones.
func (rc *RecordCollection) Copy(overrides FieldMap) (*RecordCollection, error) {
	res, err := rc.Call("copy", overrides)
	if err != nil {
		return nil, err
	}
	return res.(*RecordCollection), nil
}

// NameGet returns the display names of the records
func (rc *RecordCollection) NameGet() ([]IDName, error) {
	res, err := rc.Call("name_get")
	if err != nil {
		return nil, err
	}
	return res.([]IDName), nil
}

// DefaultGet returns the default values of the given fields, or of all
// fields if none is given.
func (rc *RecordCollection) DefaultGet(fields ...string) (FieldMap, error) {
	res, err := rc.Call("default_get", fields)
	if err != nil {
		return nil, err
	}
	return res.(FieldMap), nil
}
