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
	"github.com/hexya-erp/erpkit/src/tools/nbutils"
)

// A FieldDefinition is a struct that declares a new field in a model
type FieldDefinition interface {
	// DeclareField creates a field with the given name. The field is
	// attached to its model during Finalize.
	DeclareField(name string) *Field
}

// An OnDeleteAction defines what to do with a record pointing to a
// deleted record through a many2one field.
type OnDeleteAction string

// On delete actions
const (
	SetNull  OnDeleteAction = "set null"
	Restrict OnDeleteAction = "restrict"
	Cascade  OnDeleteAction = "cascade"
)

// DefaultValue returns a default function that always returns value
func DefaultValue(value interface{}) func(Environment) interface{} {
	return func(Environment) interface{} {
		return value
	}
}

// A Binary is a field for storing binary data, such as attachments.
//
// Binary fields are stored in the database. Consider other disk based
// alternatives if you have a large amount of data to store.
type Binary struct {
	String   string
	Help     string
	Stored   bool
	Required bool
	ReadOnly bool
	Unique   bool
	Index    bool
	NoCopy   bool
	Compute  string
	Depends  []string
	Related  string
	Groups   []string
	Tracking bool
	Default  func(Environment) interface{}
}

// DeclareField creates a binary field with the given name.
func (f Binary) DeclareField(name string) *Field {
	return &Field{
		name:        name,
		fieldType:   fieldtype.Binary,
		description: f.String,
		help:        f.Help,
		stored:      f.Stored,
		required:    f.Required,
		readOnly:    f.ReadOnly,
		unique:      f.Unique,
		index:       f.Index,
		noCopy:      f.NoCopy,
		compute:     f.Compute,
		depends:     f.Depends,
		related:     f.Related,
		groups:      f.Groups,
		tracking:    f.Tracking,
		defaultFunc: f.Default,
	}
}

// A Boolean is a field for storing true/false values.
type Boolean struct {
	String   string
	Help     string
	Stored   bool
	Required bool
	ReadOnly bool
	Unique   bool
	Index    bool
	NoCopy   bool
	Compute  string
	Depends  []string
	Related  string
	Groups   []string
	Tracking bool
	Default  func(Environment) interface{}
}

// DeclareField creates a boolean field with the given name.
func (f Boolean) DeclareField(name string) *Field {
	return &Field{
		name:        name,
		fieldType:   fieldtype.Boolean,
		description: f.String,
		help:        f.Help,
		stored:      f.Stored,
		required:    f.Required,
		readOnly:    f.ReadOnly,
		unique:      f.Unique,
		index:       f.Index,
		noCopy:      f.NoCopy,
		compute:     f.Compute,
		depends:     f.Depends,
		related:     f.Related,
		groups:      f.Groups,
		tracking:    f.Tracking,
		defaultFunc: f.Default,
	}
}

// A Char is a field for storing short text. There is no
// default max size, but it can be forced by setting the Size value.
type Char struct {
	String   string
	Help     string
	Stored   bool
	Required bool
	ReadOnly bool
	Unique   bool
	Index    bool
	NoCopy   bool
	Compute  string
	Depends  []string
	Related  string
	Groups   []string
	Tracking bool
	Default  func(Environment) interface{}
	Size     int
}

// DeclareField creates a char field with the given name.
func (f Char) DeclareField(name string) *Field {
	return &Field{
		name:        name,
		fieldType:   fieldtype.Char,
		description: f.String,
		help:        f.Help,
		stored:      f.Stored,
		required:    f.Required,
		readOnly:    f.ReadOnly,
		unique:      f.Unique,
		index:       f.Index,
		noCopy:      f.NoCopy,
		compute:     f.Compute,
		depends:     f.Depends,
		related:     f.Related,
		groups:      f.Groups,
		tracking:    f.Tracking,
		defaultFunc: f.Default,
		size:        f.Size,
	}
}

// A Date is a field for storing dates without time.
type Date struct {
	String   string
	Help     string
	Stored   bool
	Required bool
	ReadOnly bool
	Unique   bool
	Index    bool
	NoCopy   bool
	Compute  string
	Depends  []string
	Related  string
	Groups   []string
	Tracking bool
	Default  func(Environment) interface{}
}

// DeclareField creates a date field with the given name.
func (f Date) DeclareField(name string) *Field {
	return &Field{
		name:        name,
		fieldType:   fieldtype.Date,
		description: f.String,
		help:        f.Help,
		stored:      f.Stored,
		required:    f.Required,
		readOnly:    f.ReadOnly,
		unique:      f.Unique,
		index:       f.Index,
		noCopy:      f.NoCopy,
		compute:     f.Compute,
		depends:     f.Depends,
		related:     f.Related,
		groups:      f.Groups,
		tracking:    f.Tracking,
		defaultFunc: f.Default,
	}
}

// A DateTime is a field for storing dates with time, in UTC.
type DateTime struct {
	String   string
	Help     string
	Stored   bool
	Required bool
	ReadOnly bool
	Unique   bool
	Index    bool
	NoCopy   bool
	Compute  string
	Depends  []string
	Related  string
	Groups   []string
	Tracking bool
	Default  func(Environment) interface{}
}

// DeclareField creates a datetime field with the given name.
func (f DateTime) DeclareField(name string) *Field {
	return &Field{
		name:        name,
		fieldType:   fieldtype.DateTime,
		description: f.String,
		help:        f.Help,
		stored:      f.Stored,
		required:    f.Required,
		readOnly:    f.ReadOnly,
		unique:      f.Unique,
		index:       f.Index,
		noCopy:      f.NoCopy,
		compute:     f.Compute,
		depends:     f.Depends,
		related:     f.Related,
		groups:      f.Groups,
		tracking:    f.Tracking,
		defaultFunc: f.Default,
	}
}

// A Float is a field for storing decimal numbers. If Digits is set,
// values are rounded to its scale on write.
type Float struct {
	String   string
	Help     string
	Stored   bool
	Required bool
	ReadOnly bool
	Unique   bool
	Index    bool
	NoCopy   bool
	Compute  string
	Depends  []string
	Related  string
	Groups   []string
	Tracking bool
	Default  func(Environment) interface{}
	Digits   nbutils.Digits
}

// DeclareField creates a float field with the given name.
func (f Float) DeclareField(name string) *Field {
	return &Field{
		name:        name,
		fieldType:   fieldtype.Float,
		description: f.String,
		help:        f.Help,
		stored:      f.Stored,
		required:    f.Required,
		readOnly:    f.ReadOnly,
		unique:      f.Unique,
		index:       f.Index,
		noCopy:      f.NoCopy,
		compute:     f.Compute,
		depends:     f.Depends,
		related:     f.Related,
		groups:      f.Groups,
		tracking:    f.Tracking,
		defaultFunc: f.Default,
		digits:      f.Digits,
	}
}

// An Integer is a field for storing non decimal numbers.
type Integer struct {
	String   string
	Help     string
	Stored   bool
	Required bool
	ReadOnly bool
	Unique   bool
	Index    bool
	NoCopy   bool
	Compute  string
	Depends  []string
	Related  string
	Groups   []string
	Tracking bool
	Default  func(Environment) interface{}
}

// DeclareField creates a integer field with the given name.
func (f Integer) DeclareField(name string) *Field {
	return &Field{
		name:        name,
		fieldType:   fieldtype.Integer,
		description: f.String,
		help:        f.Help,
		stored:      f.Stored,
		required:    f.Required,
		readOnly:    f.ReadOnly,
		unique:      f.Unique,
		index:       f.Index,
		noCopy:      f.NoCopy,
		compute:     f.Compute,
		depends:     f.Depends,
		related:     f.Related,
		groups:      f.Groups,
		tracking:    f.Tracking,
		defaultFunc: f.Default,
	}
}

// A JSON is a field for storing arbitrary JSON objects.
type JSON struct {
	String   string
	Help     string
	Stored   bool
	Required bool
	ReadOnly bool
	Unique   bool
	Index    bool
	NoCopy   bool
	Compute  string
	Depends  []string
	Related  string
	Groups   []string
	Tracking bool
	Default  func(Environment) interface{}
}

// DeclareField creates a json field with the given name.
func (f JSON) DeclareField(name string) *Field {
	return &Field{
		name:        name,
		fieldType:   fieldtype.JSON,
		description: f.String,
		help:        f.Help,
		stored:      f.Stored,
		required:    f.Required,
		readOnly:    f.ReadOnly,
		unique:      f.Unique,
		index:       f.Index,
		noCopy:      f.NoCopy,
		compute:     f.Compute,
		depends:     f.Depends,
		related:     f.Related,
		groups:      f.Groups,
		tracking:    f.Tracking,
		defaultFunc: f.Default,
	}
}

// A Monetary is a field for storing an amount in the currency
// given by the CurrencyField of the same record.
type Monetary struct {
	String        string
	Help          string
	Stored        bool
	Required      bool
	ReadOnly      bool
	Unique        bool
	Index         bool
	NoCopy        bool
	Compute       string
	Depends       []string
	Related       string
	Groups        []string
	Tracking      bool
	Default       func(Environment) interface{}
	Digits        nbutils.Digits
	CurrencyField string
}

// DeclareField creates a monetary field with the given name.
func (f Monetary) DeclareField(name string) *Field {
	return &Field{
		name:          name,
		fieldType:     fieldtype.Monetary,
		description:   f.String,
		help:          f.Help,
		stored:        f.Stored,
		required:      f.Required,
		readOnly:      f.ReadOnly,
		unique:        f.Unique,
		index:         f.Index,
		noCopy:        f.NoCopy,
		compute:       f.Compute,
		depends:       f.Depends,
		related:       f.Related,
		groups:        f.Groups,
		tracking:      f.Tracking,
		defaultFunc:   f.Default,
		digits:        f.Digits,
		currencyField: f.CurrencyField,
	}
}

// A Selection is a field for storing a value among a fixed set of
// keys. Writing a key that is not in Selection is a validation error.
type Selection struct {
	String    string
	Help      string
	Stored    bool
	Required  bool
	ReadOnly  bool
	Unique    bool
	Index     bool
	NoCopy    bool
	Compute   string
	Depends   []string
	Related   string
	Groups    []string
	Tracking  bool
	Default   func(Environment) interface{}
	Selection types.Selection
}

// DeclareField creates a selection field with the given name.
func (f Selection) DeclareField(name string) *Field {
	return &Field{
		name:        name,
		fieldType:   fieldtype.Selection,
		description: f.String,
		help:        f.Help,
		stored:      f.Stored,
		required:    f.Required,
		readOnly:    f.ReadOnly,
		unique:      f.Unique,
		index:       f.Index,
		noCopy:      f.NoCopy,
		compute:     f.Compute,
		depends:     f.Depends,
		related:     f.Related,
		groups:      f.Groups,
		tracking:    f.Tracking,
		defaultFunc: f.Default,
		selection:   f.Selection,
	}
}

// A Text is a field for storing long text.
type Text struct {
	String   string
	Help     string
	Stored   bool
	Required bool
	ReadOnly bool
	Unique   bool
	Index    bool
	NoCopy   bool
	Compute  string
	Depends  []string
	Related  string
	Groups   []string
	Tracking bool
	Default  func(Environment) interface{}
}

// DeclareField creates a text field with the given name.
func (f Text) DeclareField(name string) *Field {
	return &Field{
		name:        name,
		fieldType:   fieldtype.Text,
		description: f.String,
		help:        f.Help,
		stored:      f.Stored,
		required:    f.Required,
		readOnly:    f.ReadOnly,
		unique:      f.Unique,
		index:       f.Index,
		noCopy:      f.NoCopy,
		compute:     f.Compute,
		depends:     f.Depends,
		related:     f.Related,
		groups:      f.Groups,
		tracking:    f.Tracking,
		defaultFunc: f.Default,
	}
}

// A Many2One is a field for storing a reference to a single record of
// RelationModel. OnDelete defaults to SetNull.
type Many2One struct {
	String        string
	Help          string
	Stored        bool
	Required      bool
	ReadOnly      bool
	Unique        bool
	Index         bool
	NoCopy        bool
	Compute       string
	Depends       []string
	Related       string
	Groups        []string
	Tracking      bool
	Default       func(Environment) interface{}
	RelationModel string
	OnDelete      OnDeleteAction
	CheckCompany  bool
}

// DeclareField creates a many2one field with the given name.
func (f Many2One) DeclareField(name string) *Field {
	return &Field{
		name:             name,
		fieldType:        fieldtype.Many2One,
		description:      f.String,
		help:             f.Help,
		stored:           f.Stored,
		required:         f.Required,
		readOnly:         f.ReadOnly,
		unique:           f.Unique,
		index:            f.Index,
		noCopy:           f.NoCopy,
		compute:          f.Compute,
		depends:          f.Depends,
		related:          f.Related,
		groups:           f.Groups,
		tracking:         f.Tracking,
		defaultFunc:      f.Default,
		relatedModelName: f.RelationModel,
		onDelete:         f.OnDelete,
		checkCompany:     f.CheckCompany,
	}
}

// A One2Many is the reverse side of a Many2One: it lists the records
// of RelationModel whose ReverseFK field points to this record.
type One2Many struct {
	String        string
	Help          string
	Stored        bool
	Required      bool
	ReadOnly      bool
	Unique        bool
	Index         bool
	NoCopy        bool
	Compute       string
	Depends       []string
	Related       string
	Groups        []string
	Tracking      bool
	Default       func(Environment) interface{}
	RelationModel string
	ReverseFK     string
}

// DeclareField creates a one2many field with the given name.
func (f One2Many) DeclareField(name string) *Field {
	return &Field{
		name:             name,
		fieldType:        fieldtype.One2Many,
		description:      f.String,
		help:             f.Help,
		stored:           f.Stored,
		required:         f.Required,
		readOnly:         f.ReadOnly,
		unique:           f.Unique,
		index:            f.Index,
		noCopy:           f.NoCopy,
		compute:          f.Compute,
		depends:          f.Depends,
		related:          f.Related,
		groups:           f.Groups,
		tracking:         f.Tracking,
		defaultFunc:      f.Default,
		relatedModelName: f.RelationModel,
		reverseFK:        f.ReverseFK,
	}
}

// A Many2Many is a field for storing references to several records of
// RelationModel through a relation table. The table and its columns are
// derived from the model names unless M2MLinkTable, M2MOurField and
// M2MTheirField are given.
type Many2Many struct {
	String        string
	Help          string
	Stored        bool
	Required      bool
	ReadOnly      bool
	Unique        bool
	Index         bool
	NoCopy        bool
	Compute       string
	Depends       []string
	Related       string
	Groups        []string
	Tracking      bool
	Default       func(Environment) interface{}
	RelationModel string
	M2MLinkTable  string
	M2MOurField   string
	M2MTheirField string
}

// DeclareField creates a many2many field with the given name.
func (f Many2Many) DeclareField(name string) *Field {
	return &Field{
		name:             name,
		fieldType:        fieldtype.Many2Many,
		description:      f.String,
		help:             f.Help,
		stored:           f.Stored,
		required:         f.Required,
		readOnly:         f.ReadOnly,
		unique:           f.Unique,
		index:            f.Index,
		noCopy:           f.NoCopy,
		compute:          f.Compute,
		depends:          f.Depends,
		related:          f.Related,
		groups:           f.Groups,
		tracking:         f.Tracking,
		defaultFunc:      f.Default,
		relatedModelName: f.RelationModel,
		m2mRelTable:      f.M2MLinkTable,
		m2mOurField:      f.M2MOurField,
		m2mTheirField:    f.M2MTheirField,
	}
}
