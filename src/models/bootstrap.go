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
	"sort"
	"strings"

	"github.com/hexya-erp/erpkit/src/models/fieldtype"
	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/tools/logging"
	"github.com/hexya-erp/erpkit/src/tools/strutils"
)

var log logging.Logger

const (
	// FrameworkModule is the name of the implicit module that declares the
	// base mixin and the metadata models. It is always loaded first.
	FrameworkModule = "__framework__"
	// BaseMixin is the name of the mixin inherited by every model
	BaseMixin = "base"
)

// A SchemaError is returned by Finalize when the module contributions
// cannot be composed into a registry.
type SchemaError struct {
	Code    string
	Module  string
	Model   string
	Field   string
	Message string
}

// Error method for the SchemaError type
func (e *SchemaError) Error() string {
	var loc []string
	for _, l := range []string{e.Module, e.Model, e.Field} {
		if l != "" {
			loc = append(loc, l)
		}
	}
	if len(loc) == 0 {
		return fmt.Sprintf("schema error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("schema error %s (%s): %s", e.Code, strings.Join(loc, "/"), e.Message)
}

func schemaError(code, module, model, field, format string, args ...interface{}) *SchemaError {
	return &SchemaError{
		Code:    code,
		Module:  module,
		Model:   model,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// Linearize returns the modules of the given dependency graph in load
// order. A module comes after all its dependencies; modules of the same
// dependency level are sorted by name, so that the result does not depend
// on the order of the input.
func Linearize(deps map[string][]string) ([]string, error) {
	nodes := make([]string, 0, len(deps))
	for mod, modDeps := range deps {
		nodes = append(nodes, mod)
		for _, dep := range modDeps {
			if _, ok := deps[dep]; !ok {
				return nil, schemaError("unknown_dependency", mod, "", "", "module %s depends on unknown module %s", mod, dep)
			}
		}
	}
	res, cycle := levelSort(nodes, deps)
	if cycle != nil {
		return nil, schemaError("load_cycle", cycle[0], "", "", "dependency cycle between modules: %s", strings.Join(cycle, " -> "))
	}
	return res, nil
}

// levelSort sorts nodes so that each node comes after its dependencies,
// by dependency level then by name. It returns a cycle if any.
func levelSort(nodes []string, deps map[string][]string) ([]string, []string) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(nodes))
	level := make(map[string]int, len(nodes))
	var stack []string
	var visit func(n string) []string
	visit = func(n string) []string {
		switch state[n] {
		case done:
			return nil
		case visiting:
			for i, s := range stack {
				if s == n {
					return append(append([]string(nil), stack[i:]...), n)
				}
			}
		}
		state[n] = visiting
		stack = append(stack, n)
		lvl := 0
		sortedDeps := append([]string(nil), deps[n]...)
		sort.Strings(sortedDeps)
		for _, d := range sortedDeps {
			if cycle := visit(d); cycle != nil {
				return cycle
			}
			if level[d]+1 > lvl {
				lvl = level[d] + 1
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
		level[n] = lvl
		return nil
	}
	sorted := append([]string(nil), nodes...)
	sort.Strings(sorted)
	for _, n := range sorted {
		if cycle := visit(n); cycle != nil {
			return nil, cycle
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if level[sorted[i]] != level[sorted[j]] {
			return level[sorted[i]] < level[sorted[j]]
		}
		return sorted[i] < sorted[j]
	})
	return sorted, nil
}

// Finalize composes the contributions of the given modules into a new
// Registry. It is a pure function of its input: the declarers are not
// modified and calling Finalize twice yields two equivalent registries.
//
// The framework module is implicitly prepended.
func Finalize(declarers []*Declarer) (*Registry, error) {
	all := append([]*Declarer{frameworkDeclarer()}, declarers...)
	byModule := make(map[string]*Declarer, len(all))
	deps := make(map[string][]string, len(all))
	for _, d := range all {
		if _, exists := byModule[d.module]; exists {
			return nil, schemaError("duplicate_module", d.module, "", "", "module %s is declared twice", d.module)
		}
		byModule[d.module] = d
		modDeps := append([]string(nil), d.depends...)
		if d.module != FrameworkModule && !strutils.IsIn(FrameworkModule, modDeps...) {
			modDeps = append(modDeps, FrameworkModule)
		}
		deps[d.module] = modDeps
	}
	order, err := Linearize(deps)
	if err != nil {
		return nil, err
	}
	reg := &Registry{
		models:      make(map[string]*Model),
		modules:     order,
		moduleDeps:  transitiveDeps(deps),
		groups:      security.NewGroupCollection(),
		acl:         security.NewAccessControlList(),
		computeRank: make(map[*Field]int),
		triggers:    make(map[*Field][]computeTrigger),
		reverseM2O:  make(map[string][]*Field),
	}
	b := &builder{
		reg:      reg,
		contribs: make(map[string][]*ModelDecl),
		state:    make(map[string]int),
	}
	for _, mod := range order {
		d := byModule[mod]
		if d.groupResolver != nil {
			reg.groupResolver = d.groupResolver
		}
		for _, md := range d.decls {
			if err := b.register(md); err != nil {
				return nil, err
			}
		}
	}
	if err := b.build(); err != nil {
		return nil, err
	}
	return reg, nil
}

// transitiveDeps returns for each module the set of modules it depends
// on directly or indirectly.
func transitiveDeps(deps map[string][]string) map[string]map[string]bool {
	res := make(map[string]map[string]bool, len(deps))
	var walk func(mod string, acc map[string]bool)
	walk = func(mod string, acc map[string]bool) {
		for _, d := range deps[mod] {
			if !acc[d] {
				acc[d] = true
				walk(d, acc)
			}
		}
	}
	for mod := range deps {
		acc := make(map[string]bool)
		walk(mod, acc)
		res[mod] = acc
	}
	return res
}

// dependsOn returns true if module depends directly or indirectly on other
func (r *Registry) dependsOn(module, other string) bool {
	return r.moduleDeps[module][other]
}

// A builder holds the state of a Finalize call
type builder struct {
	reg      *Registry
	contribs map[string][]*ModelDecl
	state    map[string]int
	extends  map[*MethodLayer]bool
}

// register records the given contribution, creating the model if needed
func (b *builder) register(md *ModelDecl) error {
	existing := b.reg.models[md.model]
	switch md.kind {
	case declNewModel, declNewMixin:
		if existing != nil {
			return schemaError("duplicate_model", md.module, md.model, "", "model %s is already declared by module %s", md.model, existing.module)
		}
		b.reg.models[md.model] = &Model{
			registry:    b.reg,
			name:        md.model,
			description: md.model,
			module:      md.module,
			table:       tableName(md.model),
			isMixin:     md.kind == declNewMixin,
			fields:      make(map[string]*Field),
			methods:     make(map[string]*Method),
		}
	default:
		if existing == nil {
			return schemaError("unknown_model", md.module, md.model, "", "module %s extends unknown model %s", md.module, md.model)
		}
	}
	b.contribs[md.model] = append(b.contribs[md.model], md)
	return nil
}

// build composes all registered models
func (b *builder) build() error {
	b.extends = make(map[*MethodLayer]bool)
	names := make([]string, 0, len(b.reg.models))
	for name := range b.reg.models {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := b.compose(name); err != nil {
			return err
		}
	}
	for _, name := range names {
		if err := b.resolveFields(b.reg.models[name]); err != nil {
			return err
		}
	}
	for _, fields := range b.reg.reverseM2O {
		sort.Slice(fields, func(i, j int) bool {
			return fields[i].model.name+"."+fields[i].name < fields[j].model.name+"."+fields[j].name
		})
	}
	for _, name := range names {
		if err := b.checkModel(b.reg.models[name]); err != nil {
			return err
		}
	}
	return b.buildTriggers(names)
}

// compose builds the fields and methods of the given model, after its
// mixins and delegation targets.
func (b *builder) compose(name string) error {
	const (
		visiting = 1
		done     = 2
	)
	switch b.state[name] {
	case done:
		return nil
	case visiting:
		return schemaError("inheritance_cycle", "", name, "", "model %s inherits from itself", name)
	}
	b.state[name] = visiting
	mi := b.reg.models[name]
	contribs := b.contribs[name]

	// Own declarations in module order
	layers := make(map[string][]*MethodLayer)
	for _, md := range contribs {
		if md.description != "" {
			mi.description = md.description
		}
		if len(md.defaultOrder) > 0 {
			mi.defaultOrder = md.defaultOrder
		}
		mi.checkCompany = mi.checkCompany || md.checkCompany
		mi.constraints = append(mi.constraints, md.constraints...)
		mi.uniques = append(mi.uniques, md.uniques...)
		mi.delegates = append(mi.delegates, md.delegates...)
		if !strutils.IsIn(md.module, mi.contributors...) {
			mi.contributors = append(mi.contributors, md.module)
		}
		for _, mx := range md.mixins {
			if !strutils.IsIn(mx, mi.mixins...) {
				mi.mixins = append(mi.mixins, mx)
			}
		}
		for _, fd := range md.fields {
			if err := b.addOwnField(mi, md.module, fd); err != nil {
				return err
			}
		}
		for _, meth := range md.methods {
			layer := &MethodLayer{module: md.module, model: name, fnct: meth.fnct}
			b.extends[layer] = meth.extend
			// layers are kept bottom first here and reversed below
			layers[meth.name] = append(layers[meth.name], layer)
		}
	}
	for meth, ls := range layers {
		rev := make([]*MethodLayer, len(ls))
		for i, l := range ls {
			rev[len(ls)-1-i] = l
		}
		layers[meth] = rev
	}

	allMixins := mi.mixins
	if !mi.isMixin && name != BaseMixin {
		allMixins = append([]string{BaseMixin}, mi.mixins...)
	}
	// Mixins: the last inherited mixin has the highest priority
	for i := len(allMixins) - 1; i >= 0; i-- {
		mxName := allMixins[i]
		mx, ok := b.reg.models[mxName]
		if !ok || !mx.isMixin {
			return schemaError("unknown_model", mi.module, name, "", "model %s inherits unknown mixin %s", name, mxName)
		}
		if err := b.compose(mxName); err != nil {
			return err
		}
		for _, fName := range mx.FieldNames() {
			if _, exists := mi.fields[fName]; !exists {
				mi.fields[fName] = mx.fields[fName].copyField(mi)
			}
		}
		for _, c := range mx.constraints {
			mi.constraints = append(mi.constraints, c)
		}
	}
	// Method layers: own layers, then mixins from last to first
	for meth, ls := range layers {
		mi.methods[meth] = &Method{name: meth, model: mi, layers: append([]*MethodLayer(nil), ls...)}
	}
	for i := len(allMixins) - 1; i >= 0; i-- {
		mx := b.reg.models[allMixins[i]]
		for _, meth := range mx.MethodNames() {
			m, ok := mi.methods[meth]
			if !ok {
				m = &Method{name: meth, model: mi}
				mi.methods[meth] = m
			}
			m.layers = append(m.layers, mx.methods[meth].layers...)
		}
	}
	if !mi.isMixin {
		if err := b.checkLayers(mi); err != nil {
			return err
		}
	}

	// Delegation
	for _, dd := range mi.delegates {
		if err := b.compose(dd.model); err != nil {
			return err
		}
		if err := b.addDelegation(mi, dd); err != nil {
			return err
		}
	}
	b.state[name] = done
	return nil
}

// addOwnField adds the field declared by module to the model, checking
// redeclarations.
func (b *builder) addOwnField(mi *Model, module string, fd fieldDecl) error {
	fi := fd.def.DeclareField(fd.name)
	fi.model = mi
	fi.module = module
	if !fi.fieldType.IsValid() {
		return schemaError("invalid_field", module, mi.name, fd.name, "field %s has an invalid type", fd.name)
	}
	if fi.description == "" {
		fi.description = strutils.Title(fd.name)
	}
	existing, ok := mi.fields[fd.name]
	if !ok {
		mi.fields[fd.name] = fi
		return nil
	}
	if existing.fieldType != fi.fieldType {
		return schemaError("field_type_change", module, mi.name, fd.name,
			"field %s is declared as %s by %s and cannot become %s", fd.name, existing.fieldType, existing.module, fi.fieldType)
	}
	if existing.module == module || !b.reg.dependsOn(module, existing.module) {
		return schemaError("duplicate_field", module, mi.name, fd.name,
			"field %s is already declared by module %s", fd.name, existing.module)
	}
	mi.fields[fd.name] = fi
	return nil
}

// checkLayers verifies that each method is added once and only extended
// afterwards.
func (b *builder) checkLayers(mi *Model) error {
	for _, meth := range mi.MethodNames() {
		ls := mi.methods[meth].layers
		for i := len(ls) - 1; i >= 0; i-- {
			bottom := i == len(ls)-1
			switch {
			case bottom && b.extends[ls[i]]:
				return schemaError("unknown_method", ls[i].module, mi.name, "",
					"method %s is extended but never declared", meth)
			case !bottom && !b.extends[ls[i]]:
				return schemaError("duplicate_method", ls[i].module, mi.name, "",
					"method %s is already declared by module %s", meth, ls[i+1].module)
			}
		}
	}
	return nil
}

// addDelegation adds the reference field of the delegation and exposes
// the target fields as related fields.
func (b *builder) addDelegation(mi *Model, dd delegateDecl) error {
	target := b.reg.models[dd.model]
	if target == nil || target.isMixin {
		return schemaError("unknown_model", mi.module, mi.name, dd.field, "delegation to unknown model %s", dd.model)
	}
	if _, exists := mi.fields[dd.field]; !exists {
		fi := Many2One{RelationModel: dd.model, Required: true, OnDelete: Cascade, Index: true}.DeclareField(dd.field)
		fi.model = mi
		fi.module = mi.module
		fi.description = strutils.Title(dd.field)
		mi.fields[dd.field] = fi
	}
	for _, tf := range target.Fields() {
		if _, exists := mi.fields[tf.name]; exists || isMagicField(tf.name) {
			continue
		}
		fi := tf.copyField(mi)
		fi.related = dd.field + "." + tf.name
		fi.compute = ""
		fi.stored = false
		fi.required = false
		fi.defaultFunc = nil
		fi.delegate = dd.field
		fi.readOnly = tf.readOnly
		mi.fields[tf.name] = fi
	}
	return nil
}

// resolveFields resolves relation targets, link tables and related paths
func (b *builder) resolveFields(mi *Model) error {
	for _, fi := range mi.Fields() {
		if fi.fieldType.IsRelationType() && fi.related == "" {
			target, ok := b.reg.models[fi.relatedModelName]
			if !ok || target.isMixin {
				return schemaError("unknown_model", fi.module, mi.name, fi.name,
					"field %s references unknown model %s", fi.name, fi.relatedModelName)
			}
			fi.relatedModel = target
		}
		switch fi.fieldType {
		case fieldtype.Many2One:
			if fi.onDelete == "" {
				fi.onDelete = SetNull
			}
			if fi.related == "" && !mi.isMixin && fi.IsStored() {
				b.reg.reverseM2O[fi.relatedModelName] = append(b.reg.reverseM2O[fi.relatedModelName], fi)
			}
		case fieldtype.One2Many:
			if fi.related != "" {
				break
			}
			if fi.reverseFK == "" {
				return schemaError("invalid_field", fi.module, mi.name, fi.name, "one2many %s has no reverse field", fi.name)
			}
		case fieldtype.Many2Many:
			if fi.related == "" {
				b.setLinkTable(fi)
			}
		}
	}
	for _, fi := range mi.Fields() {
		if fi.related == "" {
			continue
		}
		target, err := b.walkPath(mi, fi.relatedPath(), fi)
		if err != nil {
			return err
		}
		if target.fieldType != fi.fieldType {
			return schemaError("field_type_change", fi.module, mi.name, fi.name,
				"related field %s is %s but its target %s is %s", fi.name, fi.fieldType, fi.related, target.fieldType)
		}
		fi.relatedModelName = target.relatedModelName
		fi.relatedModel = target.relatedModel
		fi.selection = target.selection
		fi.reverseFK = target.reverseFK
		fi.m2mRelTable, fi.m2mOurField, fi.m2mTheirField = target.m2mRelTable, target.m2mOurField, target.m2mTheirField
	}
	return nil
}

// setLinkTable sets the default relation table of a many2many field.
// Both sides of a relation get the same table when not given.
func (b *builder) setLinkTable(fi *Field) {
	ourTable := fi.model.table
	theirTable := fi.relatedModel.table
	if fi.m2mRelTable == "" {
		tables := []string{ourTable, theirTable}
		sort.Strings(tables)
		fi.m2mRelTable = fmt.Sprintf("%s_%s_rel", tables[0], tables[1])
	}
	if fi.m2mOurField == "" {
		fi.m2mOurField = ourTable + "_id"
	}
	if fi.m2mTheirField == "" {
		fi.m2mTheirField = theirTable + "_id"
		if theirTable == ourTable {
			fi.m2mOurField, fi.m2mTheirField = "src_id", "dst_id"
		}
	}
}

// walkPath follows the given path from mi and returns the last field. All
// segments but the last must be relation fields.
func (b *builder) walkPath(mi *Model, path []string, owner *Field) (*Field, error) {
	current := mi
	var fi *Field
	for i, seg := range path {
		if current == nil {
			return nil, schemaError("invalid_path", owner.module, owner.model.name, owner.name,
				"path %s goes through non relational field %s", strings.Join(path, "."), path[i-1])
		}
		fi = current.fields[seg]
		if fi == nil {
			return nil, schemaError("unknown_field", owner.module, owner.model.name, owner.name,
				"unknown field %s on model %s in path %s", seg, current.name, strings.Join(path, "."))
		}
		current = b.reg.models[fi.relatedModelName]
		if !fi.fieldType.IsRelationType() {
			current = nil
		}
	}
	return fi, nil
}

// checkModel checks the compute methods, constraints and unique
// constraints of the model.
func (b *builder) checkModel(mi *Model) error {
	if mi.isMixin {
		return nil
	}
	for _, fi := range mi.Fields() {
		if fi.compute != "" {
			if _, ok := mi.methods[fi.compute]; !ok {
				return schemaError("unknown_method", fi.module, mi.name, fi.name,
					"compute method %s of field %s does not exist", fi.compute, fi.name)
			}
			for _, dep := range fi.depends {
				if _, err := b.walkPath(mi, strings.Split(dep, "."), fi); err != nil {
					return err
				}
			}
		}
		if fi.fieldType == fieldtype.One2Many && fi.related == "" {
			rev := fi.relatedModel.fields[fi.reverseFK]
			if rev == nil || rev.fieldType != fieldtype.Many2One {
				return schemaError("unknown_field", fi.module, mi.name, fi.name,
					"reverse field %s of one2many %s is not a many2one of %s", fi.reverseFK, fi.name, fi.relatedModelName)
			}
		}
	}
	for _, c := range mi.constraints {
		if _, ok := mi.methods[c.method]; !ok {
			return schemaError("unknown_method", "", mi.name, "", "constraint method %s does not exist", c.method)
		}
		for _, f := range c.fields {
			if !mi.HasField(f) {
				return schemaError("unknown_field", "", mi.name, f, "constraint %s references unknown field %s", c.method, f)
			}
		}
	}
	for _, u := range mi.uniques {
		for _, f := range u.fields {
			fi := mi.fields[f]
			if fi == nil || !fi.IsColumn() {
				return schemaError("unknown_field", "", mi.name, f, "unique constraint %s references unknown or non stored field %s", u.name, f)
			}
		}
	}
	return nil
}

// A computeTrigger tells that when its owning field changes on some
// records, field must be recomputed on the records of field's model
// reached from the changed records by the reverse of path.
type computeTrigger struct {
	field *Field
	path  string
}

// expandRelatedPath replaces related fields of the given path by their
// target paths.
func expandRelatedPath(mi *Model, path []string) []string {
	var res []string
	current := mi
	for _, seg := range path {
		if current == nil {
			res = append(res, seg)
			continue
		}
		fi := current.fields[seg]
		if fi == nil {
			res = append(res, seg)
			current = nil
			continue
		}
		if fi.related != "" {
			exp := expandRelatedPath(current, fi.relatedPath())
			res = append(res, exp...)
		} else {
			res = append(res, seg)
		}
		current = fi.relatedModel
	}
	return res
}

// buildTriggers computes the recompute triggers and ranks of all stored
// computed fields.
func (b *builder) buildTriggers(names []string) error {
	key := func(fi *Field) string { return fi.model.name + "." + fi.name }
	computed := make(map[string]*Field)
	rankDeps := make(map[string][]string)
	for _, name := range names {
		mi := b.reg.models[name]
		if mi.isMixin {
			continue
		}
		for _, fi := range mi.Fields() {
			if fi.compute == "" || fi.related != "" || !fi.stored {
				continue
			}
			computed[key(fi)] = fi
			rankDeps[key(fi)] = nil
			for _, dep := range fi.depends {
				path := expandRelatedPath(mi, strings.Split(dep, "."))
				current := mi
				for i, seg := range path {
					sf := current.fields[seg]
					prefix := strings.Join(path[:i], ".")
					b.reg.triggers[sf] = append(b.reg.triggers[sf], computeTrigger{field: fi, path: prefix})
					if sf.compute != "" && sf.stored && sf.related == "" && sf != fi {
						rankDeps[key(fi)] = append(rankDeps[key(fi)], key(sf))
					}
					if sf.fieldType == fieldtype.One2Many {
						rev := sf.relatedModel.fields[sf.reverseFK]
						revPath := strings.Join(path[:i+1], ".")
						b.reg.triggers[rev] = append(b.reg.triggers[rev], computeTrigger{field: fi, path: revPath})
					}
					if !sf.fieldType.IsRelationType() {
						break
					}
					current = sf.relatedModel
				}
			}
		}
	}
	nodes := make([]string, 0, len(computed))
	for k := range computed {
		nodes = append(nodes, k)
	}
	order, cycle := levelSort(nodes, rankDeps)
	if cycle != nil {
		fi := computed[cycle[0]]
		return schemaError("compute_cycle", fi.module, fi.model.name, fi.name,
			"computed fields depend on each other: %s", strings.Join(cycle, " -> "))
	}
	for i, k := range order {
		b.reg.computeRank[computed[k]] = i
	}
	return nil
}

// isMagicField returns true for the fields managed by the framework
func isMagicField(name string) bool {
	return strutils.IsIn(name, "id", "create_date", "create_uid", "write_date", "write_uid", "display_name")
}

func init() {
	log = logging.GetLogger("models")
}
