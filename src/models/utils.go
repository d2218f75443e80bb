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
	"sort"

	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/nbutils"
)

// uniqueIDs returns ids without duplicates and zeros, keeping order
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	res := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		res = append(res, id)
	}
	return res
}

// subtractIDs returns the ids of a that are not in b
func subtractIDs(a, b []int64) []int64 {
	out := make(map[int64]bool, len(b))
	for _, id := range b {
		out[id] = true
	}
	var res []int64
	for _, id := range a {
		if !out[id] {
			res = append(res, id)
		}
	}
	return res
}

// sortedIDs returns the keys of the given set, sorted
func sortedIDs(set map[int64]bool) []int64 {
	res := make([]int64, 0, len(set))
	for id := range set {
		res = append(res, id)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// castIDs converts a list of ids given by a caller into []int64
func castIDs(val interface{}) ([]int64, error) {
	switch v := val.(type) {
	case nil:
		return nil, nil
	case []int64:
		return v, nil
	case *RecordCollection:
		return v.Ids(), nil
	}
	var res []int64
	for _, item := range toInterfaceSlice(val) {
		id, err := nbutils.CastToInteger(item)
		if err != nil {
			return nil, exceptions.Validation("invalid_ids", "Invalid record id %v", item)
		}
		res = append(res, id)
	}
	return res, nil
}

// filterMapOnStoredFields returns a new FieldMap from fMap
// with only the keys of fields that have a column in the database.
func filterMapOnStoredFields(mi *Model, fMap FieldMap) FieldMap {
	res := make(FieldMap)
	for k, v := range fMap {
		if fi := mi.fields[k]; fi != nil && fi.IsColumn() {
			res[k] = v
		}
	}
	return res
}

// argFieldMap returns the i-th argument as a FieldMap
func argFieldMap(args []interface{}, i int) (FieldMap, error) {
	if len(args) <= i || args[i] == nil {
		return FieldMap{}, nil
	}
	switch v := args[i].(type) {
	case FieldMap:
		return v, nil
	case map[string]interface{}:
		return FieldMap(v), nil
	}
	return nil, exceptions.Validation("invalid_argument", "Expected a map of values, got %T", args[i])
}

// argStrings returns the i-th argument as a list of strings
func argStrings(args []interface{}, i int) ([]string, error) {
	if len(args) <= i || args[i] == nil {
		return nil, nil
	}
	switch v := args[i].(type) {
	case []string:
		return v, nil
	case string:
		return []string{v}, nil
	case []interface{}:
		res := make([]string, len(v))
		for j, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, exceptions.Validation("invalid_argument", "Expected a list of strings, got %v", item)
			}
			res[j] = s
		}
		return res, nil
	}
	return nil, exceptions.Validation("invalid_argument", "Expected a list of strings, got %T", args[i])
}

// argCondition returns the i-th argument as a Condition. Domains in
// prefix notation are accepted.
func argCondition(args []interface{}, i int) (*Condition, error) {
	if len(args) <= i || args[i] == nil {
		return nil, nil
	}
	switch v := args[i].(type) {
	case *Condition:
		return v, nil
	case []interface{}:
		return ParseDomain(v)
	case string:
		return ParseDomainString(v)
	}
	return nil, exceptions.Validation("invalid_argument", "Expected a condition, got %T", args[i])
}
