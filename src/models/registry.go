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
	"strings"

	"github.com/hexya-erp/erpkit/src/models/fieldtype"
	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/models/types"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/nbutils"
	"github.com/hexya-erp/erpkit/src/tools/strutils"
)

// A Registry holds the effective schema of every entity of a given module
// set, together with the access rules of these modules.
//
// A Registry is built by Finalize and must not be modified once frozen.
type Registry struct {
	models        map[string]*Model
	modules       []string
	moduleDeps    map[string]map[string]bool
	groups        *security.GroupCollection
	acl           *security.AccessControlList
	groupResolver GroupResolver
	computeRank   map[*Field]int
	triggers      map[*Field][]computeTrigger
	reverseM2O    map[string][]*Field
	db            *DB
	frozen        bool
}

// Get returns the Model with the given name or nil if it does not exist.
func (r *Registry) Get(name string) *Model {
	return r.models[name]
}

// MustGet returns the Model with the given name or panics.
func (r *Registry) MustGet(name string) *Model {
	mi := r.Get(name)
	if mi == nil {
		log.Panic("Unknown model", "model", name)
	}
	return mi
}

// Models returns all the models of this registry, sorted by name.
// Mixins are not included.
func (r *Registry) Models() []*Model {
	res := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		if m.isMixin {
			continue
		}
		res = append(res, m)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].name < res[j].name })
	return res
}

// Modules returns the linearized list of modules of this registry.
func (r *Registry) Modules() []string {
	return append([]string(nil), r.modules...)
}

// ModuleIndex returns the position of the given module in the registry
// module order, or -1.
func (r *Registry) ModuleIndex(module string) int {
	for i, m := range r.modules {
		if m == module {
			return i
		}
	}
	return -1
}

// Groups returns the security groups of this registry
func (r *Registry) Groups() *security.GroupCollection {
	return r.groups
}

// ACL returns the model access rules of this registry
func (r *Registry) ACL() *security.AccessControlList {
	return r.acl
}

// DB returns the database bound to this registry
func (r *Registry) DB() *DB {
	return r.db
}

// Bind sets the database this registry works with and returns the registry.
func (r *Registry) Bind(db *DB) *Registry {
	r.db = db
	return r
}

// Freeze forbids any further change to the access rules of this registry.
func (r *Registry) Freeze() {
	r.frozen = true
}

// IsFrozen returns true if this registry has been frozen
func (r *Registry) IsFrozen() bool {
	return r.frozen
}

// AddAccessRule adds a model access rule to this registry
func (r *Registry) AddAccessRule(rule security.AccessRule) error {
	if r.frozen {
		return exceptions.Systemf("frozen_registry", "cannot add access rule %s to a frozen registry", rule.ID)
	}
	if r.Get(rule.Model) == nil {
		return exceptions.NotFound("unknown_model", "access rule %s references unknown model %s", rule.ID, rule.Model)
	}
	r.acl.AddRule(rule)
	return nil
}

// AddRecordRule adds a row rule to the given model
func (r *Registry) AddRecordRule(rule *RecordRule) error {
	if r.frozen {
		return exceptions.Systemf("frozen_registry", "cannot add record rule %s to a frozen registry", rule.ID)
	}
	mi := r.Get(rule.Model)
	if mi == nil {
		return exceptions.NotFound("unknown_model", "record rule %s references unknown model %s", rule.ID, rule.Model)
	}
	if err := rule.Condition.check(mi); err != nil {
		return exceptions.Validation("invalid_rule", "invalid condition in record rule %s: %s", rule.ID, err)
	}
	mi.rules = append(mi.rules, rule)
	return nil
}

// Resolve returns the ordered list of layers of the given method of the
// given model. The first layer is called first; calling Super from layer
// N calls layer N+1.
func (r *Registry) Resolve(model, method string) ([]*MethodLayer, error) {
	mi := r.Get(model)
	if mi == nil {
		return nil, exceptions.NotFound("unknown_model", "unknown model %s", model)
	}
	meth, ok := mi.methods[method]
	if !ok {
		return nil, exceptions.NotFound("unknown_method", "unknown method %s on model %s", method, model)
	}
	return append([]*MethodLayer(nil), meth.layers...), nil
}

// A Model is the effective definition of an entity after composition of
// all module contributions.
type Model struct {
	registry     *Registry
	name         string
	description  string
	module       string
	table        string
	isMixin      bool
	fields       map[string]*Field
	methods      map[string]*Method
	mixins       []string
	delegates    []delegateDecl
	constraints  []constraintDecl
	uniques      []uniqueConstraint
	defaultOrder []string
	checkCompany bool
	rules        []*RecordRule
	contributors []string
}

// Name returns the dotted name of this model
func (m *Model) Name() string {
	return m.name
}

// Description returns the human readable name of this model
func (m *Model) Description() string {
	return m.description
}

// TableName returns the database table of this model
func (m *Model) TableName() string {
	return m.table
}

// Module returns the module that created this model
func (m *Model) Module() string {
	return m.module
}

// IsMixin returns true if this model is a mixin
func (m *Model) IsMixin() bool {
	return m.isMixin
}

// Contributors returns the modules that contributed to this model, in
// module order.
func (m *Model) Contributors() []string {
	return append([]string(nil), m.contributors...)
}

// Field returns the field with the given name or nil
func (m *Model) Field(name string) *Field {
	return m.fields[name]
}

// HasField returns true if this model has a field with the given name
func (m *Model) HasField(name string) bool {
	_, ok := m.fields[name]
	return ok
}

// FieldNames returns the names of all fields of this model, sorted.
func (m *Model) FieldNames() []string {
	res := make([]string, 0, len(m.fields))
	for name := range m.fields {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}

// Fields returns all fields of this model sorted by name.
func (m *Model) Fields() []*Field {
	var res []*Field
	for _, name := range m.FieldNames() {
		res = append(res, m.fields[name])
	}
	return res
}

// HasMethod returns true if this model has the given method
func (m *Model) HasMethod(name string) bool {
	_, ok := m.methods[name]
	return ok
}

// MethodNames returns the names of the methods of this model, sorted
func (m *Model) MethodNames() []string {
	res := make([]string, 0, len(m.methods))
	for name := range m.methods {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}

// Mixins returns the names of the mixins this model inherits, in
// inheritance order.
func (m *Model) Mixins() []string {
	return append([]string(nil), m.mixins...)
}

// InheritsFrom returns true if this model inherits the given mixin,
// directly or through another mixin. Every model inherits BaseMixin.
func (m *Model) InheritsFrom(mixin string) bool {
	if mixin == BaseMixin && !m.isMixin {
		return true
	}
	for _, mx := range m.mixins {
		if mx == mixin {
			return true
		}
		if mm := m.registry.Get(mx); mm != nil && mm.InheritsFrom(mixin) {
			return true
		}
	}
	return false
}

// RecordRules returns the row rules of this model
func (m *Model) RecordRules() []*RecordRule {
	return append([]*RecordRule(nil), m.rules...)
}

// orderOrDefault returns the given order if not empty, or the model's
// default order.
func (m *Model) orderOrDefault(order []string) []string {
	if len(order) > 0 {
		return order
	}
	if len(m.defaultOrder) > 0 {
		return m.defaultOrder
	}
	return []string{"id"}
}

// A Field is the effective definition of a model's field
type Field struct {
	model            *Model
	module           string
	name             string
	description      string
	help             string
	fieldType        fieldtype.Type
	stored           bool
	required         bool
	readOnly         bool
	unique           bool
	index            bool
	noCopy           bool
	compute          string
	depends          []string
	related          string
	groups           []string
	tracking         bool
	defaultFunc      func(Environment) interface{}
	size             int
	digits           nbutils.Digits
	currencyField    string
	selection        types.Selection
	relatedModelName string
	relatedModel     *Model
	reverseFK        string
	m2mRelTable      string
	m2mOurField      string
	m2mTheirField    string
	onDelete         OnDeleteAction
	checkCompany     bool
	delegate         string
}

// Name returns the name of this field
func (f *Field) Name() string {
	return f.name
}

// Model returns the model of this field
func (f *Field) Model() *Model {
	return f.model
}

// Module returns the module that declared this field
func (f *Field) Module() string {
	return f.module
}

// Type returns the semantic type of this field
func (f *Field) Type() fieldtype.Type {
	return f.fieldType
}

// String returns the human readable label of this field
func (f *Field) String() string {
	return f.description
}

// Help returns the help text of this field
func (f *Field) Help() string {
	return f.help
}

// IsStored returns true if this field is saved in database
func (f *Field) IsStored() bool {
	if f.related != "" {
		return false
	}
	if f.compute != "" {
		return f.stored
	}
	return true
}

// IsColumn returns true if this field has a column in the model's table.
func (f *Field) IsColumn() bool {
	return f.IsStored() && f.fieldType.IsColumnType()
}

// IsComputed returns true if this field is computed by a method
func (f *Field) IsComputed() bool {
	return f.compute != ""
}

// IsRelated returns true if this field is a projection through a
// reference chain
func (f *Field) IsRelated() bool {
	return f.related != ""
}

// Related returns the path of a related field
func (f *Field) Related() string {
	return f.related
}

// Compute returns the name of the compute method of this field
func (f *Field) Compute() string {
	return f.compute
}

// Depends returns the dependency paths of a computed field
func (f *Field) Depends() []string {
	return append([]string(nil), f.depends...)
}

// Required returns true if this field must have a value
func (f *Field) Required() bool {
	return f.required
}

// ReadOnly returns true if this field cannot be written by clients
func (f *Field) ReadOnly() bool {
	return f.readOnly || (f.compute != "" && f.related == "")
}

// Groups returns the ids of the groups allowed to access this field.
// An empty list means no restriction.
func (f *Field) Groups() []string {
	return append([]string(nil), f.groups...)
}

// Tracking returns true if changes of this field are recorded on the
// audit thread.
func (f *Field) Tracking() bool {
	return f.tracking
}

// CheckCompany returns true if this field must point to a record of a
// compatible company.
func (f *Field) CheckCompany() bool {
	return f.checkCompany
}

// Selection returns the allowed values of a selection field
func (f *Field) Selection() types.Selection {
	return f.selection
}

// Digits returns the precision of a float or monetary field
func (f *Field) Digits() nbutils.Digits {
	return f.digits
}

// Size returns the maximum size of a char field, or 0
func (f *Field) Size() int {
	return f.size
}

// RelatedModel returns the target model of a relation field or nil
func (f *Field) RelatedModel() *Model {
	return f.relatedModel
}

// ReverseFK returns the name of the many2one field of a one2many
func (f *Field) ReverseFK() string {
	return f.reverseFK
}

// OnDelete returns the deletion policy of a many2one field
func (f *Field) OnDelete() OnDeleteAction {
	return f.onDelete
}

// Delegate returns the name of the delegation field this field is exposed
// through, or the empty string.
func (f *Field) Delegate() string {
	return f.delegate
}

// relatedPath returns the related path of this field split by dots
func (f *Field) relatedPath() []string {
	return strings.Split(f.related, ".")
}

// copyField returns a copy of f for the given model
func (f *Field) copyField(model *Model) *Field {
	res := *f
	res.model = model
	res.depends = append([]string(nil), f.depends...)
	res.groups = append([]string(nil), f.groups...)
	return &res
}

// tableName returns the database table of the given dotted model name
func tableName(model string) string {
	return strutils.SnakeCase(model)
}
