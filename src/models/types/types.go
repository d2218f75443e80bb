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

// Package types holds small value types shared by the models packages.
package types

import (
	"encoding/json"
	"sort"

	"github.com/hexya-erp/erpkit/src/tools/nbutils"
)

// A Context is a map of objects that is passed along from function to function
// during a transaction. A Context is read only: WithKey returns a modified copy.
type Context struct {
	values map[string]interface{}
}

// NewContext returns a new Context instance
func NewContext(data ...map[string]interface{}) *Context {
	c := &Context{values: make(map[string]interface{})}
	for _, d := range data {
		for k, v := range d {
			c.values[k] = v
		}
	}
	return c
}

// Copy returns a shallow copy of the Context
func (c *Context) Copy() *Context {
	if c == nil {
		return NewContext()
	}
	return NewContext(c.values)
}

// WithKey returns a copy of this context with the given key set to value
func (c *Context) WithKey(key string, value interface{}) *Context {
	res := c.Copy()
	res.values[key] = value
	return res
}

// HasKey returns true if this Context has the given key
func (c *Context) HasKey(key string) bool {
	if c == nil {
		return false
	}
	_, ok := c.values[key]
	return ok
}

// Get returns the value of the given key in this Context
// It returns nil if the key is not in this context
func (c *Context) Get(key string) interface{} {
	if c == nil {
		return nil
	}
	return c.values[key]
}

// GetString returns the value of the given key in
// this Context as a string. It returns an empty string if
// there is no such key or if the value is not a string.
func (c *Context) GetString(key string) string {
	res, _ := c.Get(key).(string)
	return res
}

// GetInteger returns the value of the given key in
// this Context as an int64. It returns 0 if there is no such key
// or if the value cannot be casted.
func (c *Context) GetInteger(key string) int64 {
	res, _ := nbutils.CastToInteger(c.Get(key))
	return res
}

// GetBool returns the value of the given key in this Context as a bool.
// If the key is not set, def is returned.
func (c *Context) GetBool(key string, def bool) bool {
	if !c.HasKey(key) {
		return def
	}
	switch v := c.Get(key).(type) {
	case bool:
		return v
	case nil:
		return false
	default:
		i, err := nbutils.CastToInteger(v)
		return err == nil && i != 0
	}
}

// Keys returns the sorted keys of this context
func (c *Context) Keys() []string {
	if c == nil {
		return nil
	}
	res := make([]string, 0, len(c.values))
	for k := range c.values {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

// ToMap returns a copy of the context values as a map
func (c *Context) ToMap() map[string]interface{} {
	return c.Copy().values
}

// MarshalJSON method for Context
func (c Context) MarshalJSON() ([]byte, error) {
	if c.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.values)
}

// UnmarshalJSON method for Context
func (c *Context) UnmarshalJSON(data []byte) error {
	values := make(map[string]interface{})
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	c.values = values
	return nil
}

// A Selection is a set of possible (key, label) values for a model
// "selection" field.
type Selection map[string]string

// Keys returns the sorted keys of this selection
func (s Selection) Keys() []string {
	res := make([]string, 0, len(s))
	for k := range s {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

// ToList returns this selection as a sorted list of [key, label] pairs
func (s Selection) ToList() [][2]string {
	var res [][2]string
	for _, k := range s.Keys() {
		res = append(res, [2]string{k, s[k]})
	}
	return res
}
