// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package models

import (
	"sort"
)

// A FieldMap is a map of field names and values used to create, write
// and read records.
type FieldMap map[string]interface{}

// Keys returns the FieldMap keys as a slice of strings
func (fm FieldMap) Keys() (res []string) {
	for k := range fm {
		res = append(res, k)
	}
	return
}

// OrderedKeys returns the keys of this FieldMap ordered.
//
// This has the convenient side effect of having shorter paths come before longer paths,
// which is particularly useful when creating or updating related records.
func (fm FieldMap) OrderedKeys() []string {
	keys := fm.Keys()
	sort.Strings(keys)
	return keys
}

// Has returns true if the given field is set in this FieldMap
func (fm FieldMap) Has(field string) bool {
	_, ok := fm[field]
	return ok
}

// RemovePK removes the entries of our FieldMap which
// references the ID field.
func (fm FieldMap) RemovePK() {
	delete(fm, "id")
}

// Copy returns a shallow copy of this FieldMap
func (fm FieldMap) Copy() FieldMap {
	res := make(FieldMap, len(fm))
	for k, v := range fm {
		res[k] = v
	}
	return res
}

// MergeWith updates this FieldMap with the given other FieldMap.
// Values of other override the values of this FieldMap.
func (fm FieldMap) MergeWith(other FieldMap) {
	for field, value := range other {
		fm[field] = value
	}
}

// Filtered returns a copy of this FieldMap with only the given keys
func (fm FieldMap) Filtered(keys ...string) FieldMap {
	res := make(FieldMap, len(keys))
	for _, k := range keys {
		if v, ok := fm[k]; ok {
			res[k] = v
		}
	}
	return res
}
