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
)

type declKind int

const (
	declExtend declKind = iota
	declNewModel
	declNewMixin
)

// A GroupResolver returns the ids of the groups the user of the given
// environment explicitly belongs to. Implied groups are added by the caller.
type GroupResolver func(env Environment) ([]string, error)

// A Declarer collects the contributions of a single module to the entity
// registry. Modules receive a Declarer in their Declare hook.
type Declarer struct {
	module        string
	depends       []string
	decls         []*ModelDecl
	groupResolver GroupResolver
}

// NewDeclarer returns a Declarer for the given module, which depends on
// the given modules.
func NewDeclarer(module string, depends ...string) *Declarer {
	return &Declarer{
		module:  module,
		depends: depends,
	}
}

// Module returns the name of the module of this Declarer
func (d *Declarer) Module() string {
	return d.module
}

// Depends returns the direct dependencies of the module
func (d *Declarer) Depends() []string {
	return d.depends
}

func (d *Declarer) register(name string, kind declKind) *ModelDecl {
	md := &ModelDecl{
		module: d.module,
		model:  name,
		kind:   kind,
	}
	d.decls = append(d.decls, md)
	return md
}

// NewModel declares a new entity with the given dotted name.
func (d *Declarer) NewModel(name string) *ModelDecl {
	return d.register(name, declNewModel)
}

// NewMixinModel declares a new mixin. A mixin has no table; its fields
// and methods are copied into the models that inherit it.
func (d *Declarer) NewMixinModel(name string) *ModelDecl {
	return d.register(name, declNewMixin)
}

// ExtendModel declares an extension of an existing entity or mixin.
func (d *Declarer) ExtendModel(name string) *ModelDecl {
	return d.register(name, declExtend)
}

// SetGroupResolver sets the function used to find the groups of users.
// When several modules set a resolver, the one of the last module wins.
func (d *Declarer) SetGroupResolver(resolver GroupResolver) {
	d.groupResolver = resolver
}

// A ModelDecl is the set of declarations a module contributes to one
// entity.
type ModelDecl struct {
	module       string
	model        string
	kind         declKind
	description  string
	fields       []fieldDecl
	methods      []methodDecl
	mixins       []string
	delegates    []delegateDecl
	constraints  []constraintDecl
	uniques      []uniqueConstraint
	defaultOrder []string
	checkCompany bool
}

type fieldDecl struct {
	name string
	def  FieldDefinition
}

type methodDecl struct {
	name   string
	fnct   MethodFunc
	extend bool
}

type delegateDecl struct {
	model string
	field string
}

type constraintDecl struct {
	method string
	fields []string
}

type uniqueConstraint struct {
	name    string
	message string
	fields  []string
}

// AddFields adds the given fields to the model.
func (md *ModelDecl) AddFields(fields map[string]FieldDefinition) *ModelDecl {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		md.fields = append(md.fields, fieldDecl{name: name, def: fields[name]})
	}
	return md
}

// AddMethod adds a new method to the model. The method must not already
// exist on the model, its mixins or the base model.
func (md *ModelDecl) AddMethod(name string, fnct MethodFunc) *ModelDecl {
	md.methods = append(md.methods, methodDecl{name: name, fnct: fnct})
	return md
}

// ExtendMethod adds an override layer to an existing method. The
// override can call rc.Super() to execute the next layer.
func (md *ModelDecl) ExtendMethod(name string, fnct MethodFunc) *ModelDecl {
	md.methods = append(md.methods, methodDecl{name: name, fnct: fnct, extend: true})
	return md
}

// InheritModel copies the fields and methods of the given mixin into
// this model.
func (md *ModelDecl) InheritModel(mixin string) *ModelDecl {
	md.mixins = append(md.mixins, mixin)
	return md
}

// Delegate embeds the given target model: a required many2one field
// fieldName pointing to target is added, and all target fields are exposed
// on this model as writable related fields.
func (md *ModelDecl) Delegate(target, fieldName string) *ModelDecl {
	md.delegates = append(md.delegates, delegateDecl{model: target, field: fieldName})
	return md
}

// AddConstraint declares that the given method must be called after each
// create, and after each write modifying one of the given fields. The
// method returns an error to reject the values.
func (md *ModelDecl) AddConstraint(method string, fields ...string) *ModelDecl {
	md.constraints = append(md.constraints, constraintDecl{method: method, fields: fields})
	return md
}

// AddUniqueConstraint adds a database unique constraint on the given
// fields. message is returned in a validation error on violation.
func (md *ModelDecl) AddUniqueConstraint(name, message string, fields ...string) *ModelDecl {
	md.uniques = append(md.uniques, uniqueConstraint{name: name, message: message, fields: fields})
	return md
}

// SetDefaultOrder sets the default order of searches, e.g. "name", "date desc".
func (md *ModelDecl) SetDefaultOrder(orders ...string) *ModelDecl {
	md.defaultOrder = orders
	return md
}

// SetCheckCompany activates the company consistency check of the many2one
// fields flagged with CheckCompany.
func (md *ModelDecl) SetCheckCompany() *ModelDecl {
	md.checkCompany = true
	return md
}

// SetDescription sets the human readable name of the model
func (md *ModelDecl) SetDescription(desc string) *ModelDecl {
	md.description = desc
	return md
}
