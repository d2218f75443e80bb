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

package views

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/beevik/etree"
	"github.com/hexya-erp/erpkit/src/i18n"
	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/xmlutils"
)

// A ViewType defines the type of a view
type ViewType string

// View types
const (
	VIEW_TYPE_FORM      ViewType = "form"
	VIEW_TYPE_LIST      ViewType = "list"
	VIEW_TYPE_KANBAN    ViewType = "kanban"
	VIEW_TYPE_CALENDAR  ViewType = "calendar"
	VIEW_TYPE_GANTT     ViewType = "gantt"
	VIEW_TYPE_MAP       ViewType = "map"
	VIEW_TYPE_GRID      ViewType = "grid"
	VIEW_TYPE_COHORT    ViewType = "cohort"
	VIEW_TYPE_PIVOT     ViewType = "pivot"
	VIEW_TYPE_GRAPH     ViewType = "graph"
	VIEW_TYPE_DASHBOARD ViewType = "dashboard"
	VIEW_TYPE_SEARCH    ViewType = "search"
	VIEW_TYPE_QWEB      ViewType = "qweb"
)

// viewTypes is the closed set of view types
var viewTypes = map[ViewType]bool{
	VIEW_TYPE_FORM:      true,
	VIEW_TYPE_LIST:      true,
	VIEW_TYPE_KANBAN:    true,
	VIEW_TYPE_CALENDAR:  true,
	VIEW_TYPE_GANTT:     true,
	VIEW_TYPE_MAP:       true,
	VIEW_TYPE_GRID:      true,
	VIEW_TYPE_COHORT:    true,
	VIEW_TYPE_PIVOT:     true,
	VIEW_TYPE_GRAPH:     true,
	VIEW_TYPE_DASHBOARD: true,
	VIEW_TYPE_SEARCH:    true,
	VIEW_TYPE_QWEB:      true,
}

// ParseViewType returns the ViewType of the given string.
// "tree" is an alias of "list". "template" is an alias of "qweb".
func ParseViewType(str string) (ViewType, error) {
	switch str {
	case "tree":
		return VIEW_TYPE_LIST, nil
	case "template":
		return VIEW_TYPE_QWEB, nil
	}
	vt := ViewType(str)
	if !viewTypes[vt] {
		return "", exceptions.Validation("invalid_view_type", "unknown view type '%s'", str)
	}
	return vt, nil
}

// defaultPriority is the priority of views that do not set one
const defaultPriority = 16

// translatableAttributes is the list of XML attribute names the
// value of which needs to be translated.
var translatableAttributes = []string{"string", "help", "sum", "confirm", "placeholder"}

// Registry is the views collection of the application
var Registry *Collection

// A ViewDefinition is the raw definition of a view as declared by a module.
//
// A definition without InheritID is a primary view and Arch holds its full
// architecture. A definition with InheritID is an inheriting view and
// Arch holds its patch program.
type ViewDefinition struct {
	ID        string
	Name      string
	Model     string
	Type      ViewType
	Priority  int
	InheritID string
	Arch      string
}

// View is the internal definition of a view in the application
type View struct {
	ID        string
	Name      string
	Model     string
	Module    string
	Type      ViewType
	Priority  int
	InheritID string
	arch      *etree.Element
	patches   []xmlutils.Patch
	seq       int
}

// IsPrimary returns true if this view does not inherit another view
func (v *View) IsPrimary() bool {
	return v.InheritID == ""
}

// Arch returns the arch XML string of this view as it was registered.
// For inheriting views, this is the patch program.
func (v *View) Arch() string {
	return xmlutils.ElementToString(v.arch)
}

// A Collection is a view collection
type Collection struct {
	sync.RWMutex
	views    map[string]*View
	registry *models.Registry
	seq      int
}

// NewCollection returns a pointer to a new
// Collection instance
func NewCollection() *Collection {
	res := Collection{
		views: make(map[string]*View),
	}
	return &res
}

// SetRegistry binds this collection to the given models registry. The
// registry gives the module order of inheriting views and the models the
// views are validated against.
func (vc *Collection) SetRegistry(reg *models.Registry) {
	vc.Lock()
	defer vc.Unlock()
	vc.registry = reg
}

// qualifyID returns the given view id prefixed with the module name if it
// has no module prefix.
func qualifyID(module, id string) string {
	if id == "" || strings.Contains(id, ".") || module == "" {
		return id
	}
	return fmt.Sprintf("%s.%s", module, id)
}

// Register adds the view defined by def and contributed by module to
// this collection.
func (vc *Collection) Register(module string, def ViewDefinition) error {
	vc.Lock()
	defer vc.Unlock()
	id := qualifyID(module, def.ID)
	if id == "" {
		return exceptions.Validation("invalid_view", "view of model %s in module %s has no id", def.Model, module)
	}
	if existing, ok := vc.views[id]; ok && existing.Module != module {
		return exceptions.Conflict("duplicate_view", "view %s of module %s is already defined by module %s",
			id, module, existing.Module)
	}
	priority := defaultPriority
	if def.Priority != 0 {
		priority = def.Priority
	}
	name := def.Name
	if name == "" {
		name = strings.Replace(def.ID, "_", ".", -1)
	}
	view := View{
		ID:        id,
		Name:      name,
		Model:     def.Model,
		Module:    module,
		Priority:  priority,
		InheritID: qualifyID(module, def.InheritID),
		seq:       vc.seq,
	}
	vc.seq++
	if view.IsPrimary() {
		arch, err := xmlutils.XMLToElement(def.Arch)
		if err != nil {
			return exceptions.Validation("invalid_view", "invalid arch in view %s: %s", id, err)
		}
		vType, err := ParseViewType(arch.Tag)
		if err != nil {
			return exceptions.Validation("invalid_view_type", "view %s has unknown root tag '%s'", id, arch.Tag)
		}
		if def.Type != "" && def.Type != vType {
			return exceptions.Validation("invalid_view_type", "view %s is declared as %s but its arch is a %s",
				id, def.Type, vType)
		}
		if view.Model == "" {
			return exceptions.Validation("invalid_view", "view %s has no model", id)
		}
		view.Type = vType
		view.arch = arch
	} else {
		program, err := xmlutils.XMLToElement(fmt.Sprintf("<data>%s</data>", def.Arch))
		if err != nil {
			return exceptions.Validation("invalid_view", "invalid patch program in view %s: %s", id, err)
		}
		if len(program.ChildElements()) == 1 && program.ChildElements()[0].Tag == "data" {
			program = program.ChildElements()[0]
		}
		patches, err := xmlutils.ParsePatches(program)
		if err != nil {
			return exceptions.Validation("invalid_view", "invalid patch program in view %s: %s", id, err)
		}
		parent, ok := vc.views[view.InheritID]
		if !ok {
			return exceptions.NotFound("unknown_view", "view %s inherits unknown view %s", id, view.InheritID)
		}
		if view.Model == "" {
			view.Model = parent.Model
		}
		view.Type = parent.Type
		view.arch = program
		view.patches = patches
	}
	vc.views[id] = &view
	log.Debug("View registered", "view", id, "model", view.Model, "type", view.Type, "inherit", view.InheritID)
	return nil
}

// LoadFromEtree reads the view given as a <view> element and registers
// it for the given module. The arch is the content of the element.
func (vc *Collection) LoadFromEtree(module string, element *etree.Element) error {
	def := ViewDefinition{
		ID:        element.SelectAttrValue("id", ""),
		Name:      element.SelectAttrValue("name", ""),
		Model:     element.SelectAttrValue("model", ""),
		InheritID: element.SelectAttrValue("inherit_id", ""),
		Arch:      xmlutils.InnerXML(element),
	}
	if prio := element.SelectAttrValue("priority", ""); prio != "" {
		p, err := strconv.Atoi(prio)
		if err != nil {
			return exceptions.Validation("invalid_view", "invalid priority '%s' in view %s", prio, def.ID)
		}
		def.Priority = p
	}
	if vt := element.SelectAttrValue("type", ""); vt != "" {
		vType, err := ParseViewType(vt)
		if err != nil {
			return err
		}
		def.Type = vType
	}
	return vc.Register(module, def)
}

// GetByID returns the View with the given id
func (vc *Collection) GetByID(id string) *View {
	vc.RLock()
	defer vc.RUnlock()
	return vc.views[id]
}

// GetAll returns all views of this Collection sorted by id
func (vc *Collection) GetAll() []*View {
	vc.RLock()
	defer vc.RUnlock()
	res := make([]*View, 0, len(vc.views))
	for _, view := range vc.views {
		res = append(res, view)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// GetAllViewsForModel returns a list with all views for the given model
func (vc *Collection) GetAllViewsForModel(model string) []*View {
	var res []*View
	for _, view := range vc.GetAll() {
		if view.Model == model {
			res = append(res, view)
		}
	}
	return res
}

// GetFirstViewForModel returns the primary view of type viewType for the
// given model with the lowest priority, or nil if there is none.
func (vc *Collection) GetFirstViewForModel(model string, viewType ViewType) *View {
	var res *View
	for _, view := range vc.GetAllViewsForModel(model) {
		if !view.IsPrimary() || view.Type != viewType {
			continue
		}
		if res == nil || view.Priority < res.Priority {
			res = view
		}
	}
	return res
}

// A ResolvedView is the final architecture of a view after all inheriting
// views have been applied.
type ResolvedView struct {
	ID     string         `json:"view_id"`
	Name   string         `json:"name"`
	Model  string         `json:"model"`
	Type   ViewType       `json:"type"`
	Arch   *etree.Element `json:"-"`
	Fields []string       `json:"fields"`
}

// ArchString returns the architecture of this view as an XML string
func (rv *ResolvedView) ArchString() string {
	return xmlutils.ElementToString(rv.Arch)
}

// MarshalJSON adds the serialized arch to the JSON representation
func (rv *ResolvedView) MarshalJSON() ([]byte, error) {
	type resolvedView ResolvedView
	return json.Marshal(struct {
		*resolvedView
		Arch string `json:"arch"`
	}{
		resolvedView: (*resolvedView)(rv),
		Arch:         rv.ArchString(),
	})
}

// Resolve returns the final architecture of the view of the given type for
// the given model, translated in lang. The primary view with the lowest
// priority is used. A default view is generated for forms, lists and
// search views of models without such a view.
func (vc *Collection) Resolve(model string, viewType ViewType, lang string) (*ResolvedView, error) {
	vType, err := ParseViewType(string(viewType))
	if err != nil {
		return nil, err
	}
	base := vc.GetFirstViewForModel(model, vType)
	if base == nil {
		return vc.defaultViewForModel(model, vType)
	}
	return vc.ResolveByID(base.ID, lang)
}

// ResolveByID returns the final architecture of the view with the given id,
// translated in lang. If the view is an inheriting view, its primary view
// is resolved.
func (vc *Collection) ResolveByID(id, lang string) (*ResolvedView, error) {
	vc.RLock()
	defer vc.RUnlock()
	base, ok := vc.views[id]
	if !ok {
		return nil, exceptions.NotFound("unknown_view", "view %s does not exist", id)
	}
	for !base.IsPrimary() {
		base = vc.views[base.InheritID]
	}
	arch := base.arch
	applied := []string{base.ID}
	for _, ext := range vc.inheritingViews(base) {
		newArch, err := xmlutils.ApplyPatches(arch, ext.patches)
		if err != nil {
			return nil, exceptions.Validation("invalid_view_patch", "error while applying view %s on %s: %s",
				ext.ID, base.ID, err)
		}
		arch = newArch
		applied = append(applied, ext.ID)
	}
	res := &ResolvedView{
		ID:    base.ID,
		Name:  base.Name,
		Model: base.Model,
		Type:  base.Type,
		Arch:  translateArch(arch, lang, applied),
	}
	res.Fields = archFields(res.Arch)
	return res, nil
}

// inheritingViews returns all the views inheriting base, directly or
// transitively, in the order they must be applied: module order, then
// priority, then id. A view is always applied after the view it inherits.
func (vc *Collection) inheritingViews(base *View) []*View {
	children := make(map[string][]*View)
	for _, v := range vc.views {
		if !v.IsPrimary() {
			children[v.InheritID] = append(children[v.InheritID], v)
		}
	}
	var candidates []*View
	queue := []string{base.ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range children[id] {
			candidates = append(candidates, child)
			queue = append(queue, child.ID)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := vc.moduleRank(candidates[i]), vc.moduleRank(candidates[j])
		if ri != rj {
			return ri < rj
		}
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].ID < candidates[j].ID
	})
	done := map[string]bool{base.ID: true}
	res := make([]*View, 0, len(candidates))
	for len(res) < len(candidates) {
		for _, c := range candidates {
			if done[c.ID] || !done[c.InheritID] {
				continue
			}
			done[c.ID] = true
			res = append(res, c)
			break
		}
	}
	return res
}

// moduleRank returns the position of the module of the given view in the
// registry module order. Without registry, registration order is used.
func (vc *Collection) moduleRank(v *View) int {
	if vc.registry == nil {
		return v.seq
	}
	return vc.registry.ModuleIndex(v.Module)
}

// defaultViewForModel returns a default view for the given model and type
func (vc *Collection) defaultViewForModel(model string, viewType ViewType) (*ResolvedView, error) {
	var fieldName string
	if vc.registry != nil {
		mi := vc.registry.Get(model)
		if mi == nil {
			return nil, exceptions.NotFound("unknown_model", "model %s does not exist", model)
		}
		fieldName = "display_name"
		if mi.HasField("name") {
			fieldName = "name"
		}
	} else {
		fieldName = "name"
	}
	var archStr string
	switch viewType {
	case VIEW_TYPE_FORM:
		archStr = fmt.Sprintf(`<form><sheet><group><field name="%s"/></group></sheet></form>`, fieldName)
	case VIEW_TYPE_LIST, VIEW_TYPE_SEARCH:
		archStr = fmt.Sprintf(`<%s><field name="%s"/></%s>`, viewType, fieldName, viewType)
	default:
		return nil, exceptions.NotFound("no_view", "no %s view defined for model %s", viewType, model)
	}
	arch, err := xmlutils.XMLToElement(archStr)
	if err != nil {
		return nil, exceptions.System("invalid_view", err)
	}
	return &ResolvedView{
		ID:     fmt.Sprintf("default_%s_%s", strings.Replace(model, ".", "_", -1), viewType),
		Name:   fmt.Sprintf("Default %s view", viewType),
		Model:  model,
		Type:   viewType,
		Arch:   arch,
		Fields: []string{fieldName},
	}, nil
}

// Validate checks that all the primary views of this collection can be
// resolved and that their fields exist in their model.
func (vc *Collection) Validate() error {
	vc.RLock()
	reg := vc.registry
	vc.RUnlock()
	for _, view := range vc.GetAll() {
		if !view.IsPrimary() {
			continue
		}
		rv, err := vc.ResolveByID(view.ID, "")
		if err != nil {
			return err
		}
		if reg == nil || view.Type == VIEW_TYPE_QWEB {
			continue
		}
		mi := reg.Get(view.Model)
		if mi == nil {
			return exceptions.NotFound("unknown_model", "view %s references unknown model %s", view.ID, view.Model)
		}
		if err := checkFields(view.ID, rv.Arch, mi); err != nil {
			return err
		}
	}
	return nil
}

// checkFields checks recursively that all <field> elements of elt exist
// in mi. Embedded views of relation fields are checked against the
// relation model.
func checkFields(viewID string, elt *etree.Element, mi *models.Model) error {
	for _, child := range elt.ChildElements() {
		if child.Tag != "field" {
			if err := checkFields(viewID, child, mi); err != nil {
				return err
			}
			continue
		}
		name := child.SelectAttrValue("name", "")
		fi := mi.Field(name)
		if fi == nil {
			return exceptions.Validation("invalid_view_field", "field %s does not exist in model %s (view %s)",
				name, mi.Name(), viewID)
		}
		if len(child.ChildElements()) == 0 {
			continue
		}
		if fi.RelatedModel() == nil {
			return exceptions.Validation("invalid_view_field", "field %s of model %s has an embedded view but is not a relation (view %s)",
				name, mi.Name(), viewID)
		}
		if err := checkFields(viewID, child, fi.RelatedModel()); err != nil {
			return err
		}
	}
	return nil
}

// archFields returns the names of the top level fields of the given arch,
// without duplicates and in document order. Fields of embedded views are
// not included.
func archFields(arch *etree.Element) []string {
	var res []string
	seen := make(map[string]bool)
	var walk func(elt *etree.Element)
	walk = func(elt *etree.Element) {
		for _, child := range elt.ChildElements() {
			if child.Tag == "field" {
				name := child.SelectAttrValue("name", "")
				if !seen[name] {
					seen[name] = true
					res = append(res, name)
				}
				continue
			}
			walk(child)
		}
	}
	walk(arch)
	return res
}

// translateArch returns a copy of arch with all translatable attributes
// translated in lang. Translations are looked up in the given resources
// in order until one is found.
func translateArch(arch *etree.Element, lang string, resourceIDs []string) *etree.Element {
	if lang == "" {
		return arch
	}
	res := xmlutils.CopyElement(arch)
	var walk func(elt *etree.Element)
	walk = func(elt *etree.Element) {
		for _, attrName := range translatableAttributes {
			attr := elt.SelectAttr(attrName)
			if attr == nil || attr.Value == "" {
				continue
			}
			for _, resID := range resourceIDs {
				trans := i18n.TranslateResourceItem(lang, resID, attr.Value)
				if trans != attr.Value {
					attr.Value = trans
					break
				}
			}
		}
		for _, child := range elt.ChildElements() {
			walk(child)
		}
	}
	walk(res)
	return res
}

// A TranslatableAttribute is a reference to an attribute in a
// XML view definition that can be translated.
type TranslatableAttribute struct {
	Attribute string
	Value     string
}

// TranslatableStrings returns the list of all the strings in the
// view arch that must be translated.
func (v *View) TranslatableStrings() []TranslatableAttribute {
	var labels []TranslatableAttribute
	for _, tagName := range translatableAttributes {
		elts := v.arch.FindElements(fmt.Sprintf("//[@%s]", tagName))
		for _, elt := range elts {
			label := elt.SelectAttrValue(tagName, "")
			if label == "" {
				continue
			}
			labels = append(labels, TranslatableAttribute{Attribute: tagName, Value: label})
		}
	}
	return labels
}
