// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package server

import (
	"encoding/csv"
	"io"
	"io/fs"
	"sort"
	"strings"

	"github.com/beevik/etree"
	"github.com/hexya-erp/erpkit/src/actions"
	"github.com/hexya-erp/erpkit/src/i18n"
	"github.com/hexya-erp/erpkit/src/menus"
	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/strutils"
	"github.com/hexya-erp/erpkit/src/views"
	"github.com/pkg/errors"
)

const (
	// resourcesGlob matches the XML files holding views, actions, groups
	// and record rules in the resources of a module.
	resourcesGlob = "resources/*.xml"
	// accessFileName is the model access file in the resources of a module
	accessFileName = "security/ir.model.access.csv"
)

// accessHeaders is the fixed schema of model access files
var accessHeaders = []string{"id", "name", "model_id:id", "group_id:id", "perm_read", "perm_write", "perm_create", "perm_unlink"}

// A Bundle holds a registry and the in-memory resources of the modules
// it has been built from.
type Bundle struct {
	Registry *models.Registry
	Views    *views.Collection
	Actions  *actions.Collection
	Menus    *menus.Collection
	// Modules lists the modules of the bundle in load order
	Modules []string
}

// newBundle returns a Bundle around reg with empty resource collections
func newBundle(reg *models.Registry) *Bundle {
	vc := views.NewCollection()
	vc.SetRegistry(reg)
	return &Bundle{
		Registry: reg,
		Views:    vc,
		Actions:  actions.NewCollection(),
		Menus:    menus.NewCollection(),
	}
}

// loadResources loads the in-memory resources of mod into b: groups,
// record rules, views, actions and menus from the XML resource files, then
// model access rules.
func (b *Bundle) loadResources(mod *Module) error {
	if mod.Resources == nil {
		return nil
	}
	files, err := fs.Glob(mod.Resources, resourcesGlob)
	if err != nil {
		return exceptions.System("resources", err)
	}
	sort.Strings(files)
	for _, file := range files {
		if err := b.loadXMLResourceFile(mod, file); err != nil {
			return errors.Wrapf(err, "error while loading %s/%s", mod.Name(), file)
		}
	}
	if err := b.loadAccessFile(mod); err != nil {
		return errors.Wrapf(err, "error while loading %s/%s", mod.Name(), accessFileName)
	}
	return nil
}

// loadXMLResourceFile loads the resources of an XML file. Resources are
// read from <data> elements or directly from the root element.
func (b *Bundle) loadXMLResourceFile(mod *Module, fileName string) error {
	content, err := fs.ReadFile(mod.Resources, fileName)
	if err != nil {
		return exceptions.System("resources", err)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(content); err != nil {
		return exceptions.Validation("invalid_xml", "invalid XML: %s", err)
	}
	root := doc.Root()
	if root == nil {
		return nil
	}
	blocks := []*etree.Element{root}
	if root.Tag != "data" {
		blocks = append(blocks, root.SelectElements("data")...)
	}
	for _, block := range blocks {
		for _, object := range block.ChildElements() {
			switch object.Tag {
			case "view":
				err = b.Views.LoadFromEtree(mod.Name(), object)
			case "action":
				err = b.Actions.LoadFromEtree(mod.Name(), object)
			case "menuitem":
				err = b.Menus.LoadFromEtree(mod.Name(), object)
			case "group":
				err = b.loadGroup(mod.Name(), object)
			case "rule":
				err = b.loadRecordRule(mod.Name(), object)
			case "data":
				continue
			default:
				err = exceptions.Validation("invalid_xml", "unknown XML tag <%s>", object.Tag)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// qualify returns the external id of the given id in module
func qualify(module, id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, ".") {
		return id
	}
	return module + "." + id
}

// loadGroup loads a <group id name implied> element
func (b *Bundle) loadGroup(module string, elt *etree.Element) error {
	id := qualify(module, elt.SelectAttrValue("id", ""))
	if id == "" {
		return exceptions.Validation("invalid_group", "group without id")
	}
	var implied []string
	for _, ig := range strings.Split(elt.SelectAttrValue("implied", ""), ",") {
		if ig = qualify(module, ig); ig != "" {
			implied = append(implied, ig)
		}
	}
	if _, err := b.Registry.Groups().NewGroup(id, elt.SelectAttrValue("name", id), implied...); err != nil {
		return exceptions.Validation("invalid_group", "%s", err)
	}
	return nil
}

// loadRecordRule loads a <rule id model group perms> element whose text
// is a domain in JSON prefix notation.
func (b *Bundle) loadRecordRule(module string, elt *etree.Element) error {
	id := qualify(module, elt.SelectAttrValue("id", ""))
	cond, err := models.ParseDomainString(elt.Text())
	if err != nil {
		return errors.Wrapf(err, "record rule %s", id)
	}
	perms := security.All
	if p := elt.SelectAttrValue("perms", ""); p != "" {
		perms = 0
		for _, name := range strings.Split(p, ",") {
			perm := security.ParsePermission(strings.TrimSpace(name))
			if perm == 0 {
				return exceptions.Validation("invalid_rule", "invalid permission '%s' in record rule %s", name, id)
			}
			perms |= perm
		}
	}
	return b.Registry.AddRecordRule(&models.RecordRule{
		ID:        id,
		Name:      elt.SelectAttrValue("name", id),
		Model:     elt.SelectAttrValue("model", ""),
		Group:     qualify(module, elt.SelectAttrValue("group", "")),
		Condition: cond,
		Perms:     perms,
	})
}

// accessModel returns the name of the model referenced by the model_id:id
// column of a model access file: either a model name or the external id
// of a model (e.g. model_res_partner).
func (b *Bundle) accessModel(ref string) string {
	ref = strings.TrimSpace(ref)
	if idx := strings.LastIndex(ref, "."); idx >= 0 && b.Registry.Get(ref) == nil {
		ref = ref[idx+1:]
	}
	if b.Registry.Get(ref) != nil {
		return ref
	}
	for _, mi := range b.Registry.Models() {
		if "model_"+strings.Replace(mi.Name(), ".", "_", -1) == ref {
			return mi.Name()
		}
	}
	return ref
}

// loadAccessFile loads the model access rules of mod
func (b *Bundle) loadAccessFile(mod *Module) error {
	f, err := mod.Resources.Open(accessFileName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return exceptions.System("resources", err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	headers, err := r.Read()
	if err != nil {
		return exceptions.Validation("invalid_csv", "unable to read headers: %s", err)
	}
	if strings.Join(headers, ",") != strings.Join(accessHeaders, ",") {
		return exceptions.Validation("invalid_csv", "model access headers must be %s", strings.Join(accessHeaders, ","))
	}
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return exceptions.Validation("invalid_csv", "invalid line %d: %s", line, err)
		}
		var perm security.Permission
		for i, p := range []security.Permission{security.Read, security.Write, security.Create, security.Unlink} {
			if strutils.ParseBool(record[4+i]) {
				perm |= p
			}
		}
		rule := security.AccessRule{
			ID:    qualify(mod.Name(), record[0]),
			Name:  record[1],
			Model: b.accessModel(record[2]),
			Group: qualify(mod.Name(), record[3]),
			Perm:  perm,
		}
		if err := b.Registry.AddAccessRule(rule); err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
	}
	return nil
}

// loadTranslations loads the PO files of mod into the i18n registry
func loadTranslations(mod *Module) error {
	if mod.Resources == nil {
		return nil
	}
	return i18n.Registry.LoadModuleTranslations(mod.Resources)
}

// finalize validates the views, sanitizes the actions of this bundle, links
// its menus and freezes its registry.
func (b *Bundle) finalize() error {
	if err := b.Views.Validate(); err != nil {
		return err
	}
	if err := b.Actions.SanitizeAll(b.Views); err != nil {
		return err
	}
	if err := b.Actions.Validate(b.Registry); err != nil {
		return err
	}
	if err := b.Menus.Link(b.Actions); err != nil {
		return err
	}
	b.Registry.Freeze()
	return nil
}
