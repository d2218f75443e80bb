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
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hexya-erp/erpkit/src/models/fieldtype"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/nbutils"
	"github.com/hexya-erp/erpkit/src/tools/strutils"
)

// Date and time formats used to store and parse values
const (
	DateFormat     = "2006-01-02"
	DateTimeFormat = "2006-01-02 15:04:05"
)

var timeLayouts = []string{
	DateTimeFormat,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	DateFormat,
}

// parseTime parses the given string with the known layouts
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time %q", s)
}

// zeroValue returns the value of an empty field of this type
func (fi *Field) zeroValue() interface{} {
	switch fi.fieldType {
	case fieldtype.Integer, fieldtype.Many2One:
		return int64(0)
	case fieldtype.Float, fieldtype.Monetary:
		return float64(0)
	case fieldtype.Boolean:
		return false
	case fieldtype.Char, fieldtype.Text, fieldtype.Selection:
		return ""
	case fieldtype.Date, fieldtype.DateTime:
		return time.Time{}
	case fieldtype.Binary:
		return []byte(nil)
	case fieldtype.One2Many, fieldtype.Many2Many:
		return []int64{}
	}
	return nil
}

// isEmptyValue returns true if v does not satisfy a required constraint
func (fi *Field) isEmptyValue(v interface{}) bool {
	switch fi.fieldType {
	case fieldtype.Integer, fieldtype.Float, fieldtype.Monetary, fieldtype.Boolean:
		return false
	case fieldtype.Many2One:
		id, _ := v.(int64)
		return id == 0
	case fieldtype.Char, fieldtype.Text, fieldtype.Selection:
		s, _ := v.(string)
		return s == ""
	case fieldtype.Date, fieldtype.DateTime:
		t, _ := v.(time.Time)
		return t.IsZero()
	case fieldtype.Binary:
		b, _ := v.([]byte)
		return len(b) == 0
	case fieldtype.One2Many, fieldtype.Many2Many:
		ids, _ := v.([]int64)
		return len(ids) == 0
	}
	return v == nil
}

func (fi *Field) invalidValue(value interface{}, err interface{}) error {
	return exceptions.Validation("invalid_value", "Invalid value %v for field %s of %s: %v", value, fi.name, fi.model.name, err)
}

// normalize converts a value given by the caller into the canonical Go
// value of this field.
func (fi *Field) normalize(value interface{}) (interface{}, error) {
	if value == nil || value == false && fi.fieldType != fieldtype.Boolean {
		return fi.zeroValue(), nil
	}
	switch fi.fieldType {
	case fieldtype.Integer:
		v, err := nbutils.CastToInteger(value)
		if err != nil {
			return nil, fi.invalidValue(value, err)
		}
		return v, nil
	case fieldtype.Many2One:
		if rc, ok := value.(*RecordCollection); ok {
			if rc.Len() > 1 {
				return nil, fi.invalidValue(rc.Ids(), "expected a single record")
			}
			return rc.ID(), nil
		}
		v, err := nbutils.CastToInteger(value)
		if err != nil {
			return nil, fi.invalidValue(value, err)
		}
		return v, nil
	case fieldtype.Float, fieldtype.Monetary:
		v, err := nbutils.CastToFloat(value)
		if err != nil {
			return nil, fi.invalidValue(value, err)
		}
		if !fi.digits.IsZero() {
			v = nbutils.Round(v, fi.digits.ToPrecision())
		}
		return v, nil
	case fieldtype.Boolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			return strutils.ParseBool(v), nil
		}
		v, err := nbutils.CastToInteger(value)
		if err != nil {
			return nil, fi.invalidValue(value, err)
		}
		return v != 0, nil
	case fieldtype.Char, fieldtype.Text, fieldtype.Selection:
		var s string
		switch v := value.(type) {
		case string:
			s = v
		case []byte:
			s = string(v)
		case fmt.Stringer:
			s = v.String()
		default:
			s = fmt.Sprintf("%v", v)
		}
		if fi.fieldType == fieldtype.Char && fi.size > 0 && utf8.RuneCountInString(s) > fi.size {
			return nil, exceptions.Validation("value_too_long", "Value of field %s of %s exceeds %d characters", fi.name, fi.model.name, fi.size)
		}
		if fi.fieldType == fieldtype.Selection && s != "" && len(fi.selection) > 0 {
			if _, ok := fi.selection[s]; !ok {
				return nil, exceptions.Validation("invalid_selection", "Value %s is not allowed for field %s of %s", s, fi.name, fi.model.name)
			}
		}
		return s, nil
	case fieldtype.Date, fieldtype.DateTime:
		var t time.Time
		switch v := value.(type) {
		case time.Time:
			t = v.UTC()
		case string:
			if v == "" {
				return time.Time{}, nil
			}
			var err error
			if t, err = parseTime(v); err != nil {
				return nil, fi.invalidValue(value, err)
			}
		case []byte:
			var err error
			if t, err = parseTime(string(v)); err != nil {
				return nil, fi.invalidValue(value, err)
			}
		default:
			return nil, fi.invalidValue(value, "expected a date")
		}
		if fi.fieldType == fieldtype.Date {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		} else {
			t = t.Truncate(time.Second)
		}
		return t, nil
	case fieldtype.Binary:
		switch v := value.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}
		return nil, fi.invalidValue(value, "expected binary data")
	case fieldtype.JSON:
		switch v := value.(type) {
		case json.RawMessage:
			var res interface{}
			if err := json.Unmarshal(v, &res); err != nil {
				return nil, fi.invalidValue(string(v), err)
			}
			return res, nil
		}
		return value, nil
	case fieldtype.One2Many, fieldtype.Many2Many:
		if rc, ok := value.(*RecordCollection); ok {
			return rc.Ids(), nil
		}
		return value, nil
	}
	return value, nil
}

// convertToDB returns the database value of the given normalized value
func (fi *Field) convertToDB(value interface{}) (interface{}, error) {
	switch fi.fieldType {
	case fieldtype.Many2One:
		if id, _ := value.(int64); id == 0 {
			return nil, nil
		}
	case fieldtype.Char, fieldtype.Text, fieldtype.Selection:
		if s, _ := value.(string); s == "" {
			return nil, nil
		}
	case fieldtype.Date:
		t, _ := value.(time.Time)
		if t.IsZero() {
			return nil, nil
		}
		return t.Format(DateFormat), nil
	case fieldtype.DateTime:
		t, _ := value.(time.Time)
		if t.IsZero() {
			return nil, nil
		}
		return t.UTC().Format(DateTimeFormat), nil
	case fieldtype.Binary:
		if b, _ := value.([]byte); len(b) == 0 {
			return nil, nil
		}
	case fieldtype.JSON:
		if value == nil {
			return nil, nil
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fi.invalidValue(value, err)
		}
		return string(data), nil
	}
	return value, nil
}

// convertFromDB returns the Go value of a value read from the database
func (fi *Field) convertFromDB(raw interface{}) (interface{}, error) {
	if raw == nil {
		return fi.zeroValue(), nil
	}
	switch fi.fieldType {
	case fieldtype.Integer, fieldtype.Many2One:
		return nbutils.CastToInteger(raw)
	case fieldtype.Float, fieldtype.Monetary:
		return nbutils.CastToFloat(raw)
	case fieldtype.Boolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case []byte:
			return strutils.ParseBool(string(v)), nil
		case string:
			return strutils.ParseBool(v), nil
		}
		v, err := nbutils.CastToInteger(raw)
		return v != 0, err
	case fieldtype.Char, fieldtype.Text, fieldtype.Selection:
		switch v := raw.(type) {
		case []byte:
			return string(v), nil
		case string:
			return v, nil
		}
		return fmt.Sprintf("%v", raw), nil
	case fieldtype.Date, fieldtype.DateTime:
		return fi.normalize(raw)
	case fieldtype.Binary:
		switch v := raw.(type) {
		case []byte:
			return append([]byte(nil), v...), nil
		case string:
			return []byte(v), nil
		}
	case fieldtype.JSON:
		var data []byte
		switch v := raw.(type) {
		case []byte:
			data = v
		case string:
			data = []byte(v)
		default:
			return raw, nil
		}
		var res interface{}
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fi.invalidValue(string(data), err)
		}
		return res, nil
	}
	return raw, nil
}

// defaultValue returns the default value of this field in env, or false
// if there is no default.
func (fi *Field) defaultValue(env Environment) (interface{}, bool) {
	ctxKey := "default_" + fi.name
	if env.context.HasKey(ctxKey) {
		return env.context.Get(ctxKey), true
	}
	if fi.defaultFunc != nil {
		return fi.defaultFunc(env), true
	}
	return nil, false
}
