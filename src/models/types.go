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
	"github.com/hexya-erp/erpkit/src/models/types"
)

// RecordRef stores a projection of a record as an ID and a name
type RecordRef struct {
	ModelName string
	ID        int64
	Name      string
}

// A RecordSet is a set of records of a single model in an environment.
// It is implemented by *RecordCollection and by the typed wrappers of
// modules.
type RecordSet interface {
	// ModelName returns the name of the model of this RecordSet
	ModelName() string
	// Ids returns the ids in this set of Records
	Ids() []int64
	// Env returns the current Environment of this RecordSet
	Env() Environment
	// Len returns the number of records in this RecordSet
	Len() int
	// IsEmpty returns true if this RecordSet has no records
	IsEmpty() bool
	// Call executes the given method with the given parameters
	Call(methName string, args ...interface{}) (interface{}, error)
}

var _ RecordSet = new(RecordCollection)

// FieldInfo is the exportable field information struct returned by
// fields_get.
type FieldInfo struct {
	Name         string          `json:"name"`
	String       string          `json:"string"`
	Help         string          `json:"help"`
	Type         fieldtype.Type  `json:"type"`
	Required     bool            `json:"required"`
	ReadOnly     bool            `json:"readonly"`
	Stored       bool            `json:"store"`
	Relation     string          `json:"relation,omitempty"`
	ReverseFK    string          `json:"relation_field,omitempty"`
	Selection    types.Selection `json:"selection,omitempty"`
	Size         int             `json:"size,omitempty"`
	Groups       []string        `json:"groups,omitempty"`
	Related      string          `json:"related,omitempty"`
	Depends      []string        `json:"depends,omitempty"`
	Sortable     bool            `json:"sortable"`
	Searchable   bool            `json:"searchable"`
	Tracking     bool            `json:"tracking"`
	CheckCompany bool            `json:"check_company"`
}

// fieldInfo returns the FieldInfo of this field
func (f *Field) fieldInfo() *FieldInfo {
	var relation string
	if f.relatedModel != nil {
		relation = f.relatedModel.name
	}
	return &FieldInfo{
		Name:         f.name,
		String:       f.description,
		Help:         f.help,
		Type:         f.fieldType,
		Required:     f.required,
		ReadOnly:     f.ReadOnly(),
		Stored:       f.IsStored(),
		Relation:     relation,
		ReverseFK:    f.reverseFK,
		Selection:    f.selection,
		Size:         f.size,
		Groups:       f.Groups(),
		Related:      f.related,
		Depends:      f.Depends(),
		Sortable:     f.IsColumn(),
		Searchable:   f.IsColumn() || f.IsRelated() || f.fieldType.Is2ManyRelationType(),
		Tracking:     f.tracking,
		CheckCompany: f.checkCompany,
	}
}
