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
	"strings"
	"testing"

	"github.com/hexya-erp/erpkit/src/i18n"
	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/xmlutils"
	. "github.com/smartystreets/goconvey/convey"
)

var viewDef1 = `
<view id="partner_form" model="res.partner" priority="12">
	<form>
		<h1><field name="name"/></h1>
		<group name="position_info">
			<field name="function"/>
		</group>
		<group name="contact_data" string="Contact">
			<field name="email"/>
		</group>
	</form>
</view>
`

var viewDef2 = `
<view id="partner_form_ext" inherit_id="base.partner_form">
	<group name="position_info" position="inside">
		<field name="company_name"/>
	</group>
	<xpath expr="//field[@name='email']" position="after">
		<field name="phone"/>
	</xpath>
</view>
`

var viewDef3 = `
<view id="partner_form_ext2" inherit_id="sale.partner_form_ext">
	<field name="phone" position="replace">
		<field name="mobile"/>
	</field>
	<group name="contact_data" position="attributes">
		<attribute name="string">Contact data</attribute>
	</group>
</view>
`

var viewDef4 = `
<view id="partner_list" model="res.partner">
	<tree>
		<field name="name"/>
		<field name="child_ids">
			<tree><field name="name"/></tree>
		</field>
	</tree>
</view>
`

func newTestModelsRegistry() *models.Registry {
	base := models.NewDeclarer("base")
	base.NewModel("res.partner").AddFields(map[string]models.FieldDefinition{
		"name":         models.Char{},
		"function":     models.Char{},
		"email":        models.Char{},
		"company_name": models.Char{},
		"phone":        models.Char{},
		"mobile":       models.Char{},
		"parent_id":    models.Many2One{RelationModel: "res.partner"},
		"child_ids":    models.One2Many{RelationModel: "res.partner", ReverseFK: "parent_id"},
	})
	base.NewModel("res.bank").AddFields(map[string]models.FieldDefinition{
		"bic": models.Char{},
	})
	sale := models.NewDeclarer("sale", "base")
	crm := models.NewDeclarer("crm", "base", "sale")
	reg, err := models.Finalize([]*models.Declarer{crm, sale, base})
	if err != nil {
		panic(err)
	}
	return reg
}

func TestViews(t *testing.T) {
	Convey("Testing view registration and resolution", t, func() {
		vc := NewCollection()
		vc.SetRegistry(newTestModelsRegistry())
		elt, err := xmlutils.XMLToElement(viewDef1)
		So(err, ShouldBeNil)
		So(vc.LoadFromEtree("base", elt), ShouldBeNil)
		Convey("Primary views are registered with their type", func() {
			view := vc.GetByID("base.partner_form")
			So(view, ShouldNotBeNil)
			So(view.Type, ShouldEqual, VIEW_TYPE_FORM)
			So(view.Priority, ShouldEqual, 12)
			So(view.Name, ShouldEqual, "partner.form")
			So(view.IsPrimary(), ShouldBeTrue)
			rv, err := vc.Resolve("res.partner", VIEW_TYPE_FORM, "")
			So(err, ShouldBeNil)
			So(rv.ID, ShouldEqual, "base.partner_form")
			So(rv.Fields, ShouldResemble, []string{"name", "function", "email"})
		})
		Convey("Inheriting views are applied in module order", func() {
			elt3, _ := xmlutils.XMLToElement(viewDef3)
			elt2, _ := xmlutils.XMLToElement(viewDef2)
			So(vc.LoadFromEtree("sale", elt2), ShouldBeNil)
			So(vc.LoadFromEtree("crm", elt3), ShouldBeNil)
			rv, err := vc.Resolve("res.partner", VIEW_TYPE_FORM, "")
			So(err, ShouldBeNil)
			So(rv.Fields, ShouldResemble, []string{"name", "function", "company_name", "email", "mobile"})
			So(rv.Arch.FindElement("//group[@name='contact_data']").SelectAttrValue("string", ""),
				ShouldEqual, "Contact data")
			Convey("Resolving an inheriting view resolves its primary view", func() {
				rv2, err := vc.ResolveByID("crm.partner_form_ext2", "")
				So(err, ShouldBeNil)
				So(rv2.ArchString(), ShouldEqual, rv.ArchString())
			})
			Convey("Registered views are never modified", func() {
				So(vc.GetByID("base.partner_form").Arch(), ShouldNotContainSubstring, "mobile")
			})
			Convey("Resolution is deterministic", func() {
				for i := 0; i < 5; i++ {
					rv2, err := vc.Resolve("res.partner", VIEW_TYPE_FORM, "")
					So(err, ShouldBeNil)
					So(rv2.ArchString(), ShouldEqual, rv.ArchString())
				}
			})
			Convey("The collection validates against the models", func() {
				So(vc.Validate(), ShouldBeNil)
			})
		})
		Convey("Later modules see the tree modified by earlier ones", func() {
			So(vc.Register("crm", ViewDefinition{
				ID:        "partner_crm",
				InheritID: "base.partner_form",
				Arch:      `<field name="function" position="replace"><field name="phone"/></field>`,
			}), ShouldBeNil)
			So(vc.Register("sale", ViewDefinition{
				ID:        "partner_sale",
				InheritID: "base.partner_form",
				Priority:  99,
				Arch:      `<field name="function" position="after"><field name="mobile"/></field>`,
			}), ShouldBeNil)
			rv, err := vc.Resolve("res.partner", VIEW_TYPE_FORM, "")
			So(err, ShouldBeNil)
			So(rv.Fields, ShouldResemble, []string{"name", "phone", "mobile", "email"})
		})
		Convey("Priority then id order views of the same module", func() {
			So(vc.Register("sale", ViewDefinition{
				ID:        "b_view",
				InheritID: "base.partner_form",
				Arch:      `<field name="name" position="after"><field name="phone"/></field>`,
			}), ShouldBeNil)
			So(vc.Register("sale", ViewDefinition{
				ID:        "a_view",
				InheritID: "base.partner_form",
				Arch:      `<field name="name" position="after"><field name="mobile"/></field>`,
			}), ShouldBeNil)
			rv, err := vc.Resolve("res.partner", VIEW_TYPE_FORM, "")
			So(err, ShouldBeNil)
			So(rv.Fields, ShouldResemble, []string{"name", "phone", "mobile", "function", "email"})
		})
		Convey("A missing locator is reported with the view id", func() {
			So(vc.Register("sale", ViewDefinition{
				ID:        "bad_view",
				InheritID: "base.partner_form",
				Arch:      `<field name="unknown" position="after"><field name="phone"/></field>`,
			}), ShouldBeNil)
			_, err := vc.Resolve("res.partner", VIEW_TYPE_FORM, "")
			So(exceptions.CodeOf(err), ShouldEqual, "invalid_view_patch")
			So(err.Error(), ShouldContainSubstring, "sale.bad_view")
		})
		Convey("The lowest priority primary view is used", func() {
			So(vc.Register("sale", ViewDefinition{
				ID:       "partner_form_simple",
				Model:    "res.partner",
				Priority: 5,
				Arch:     `<form><field name="name"/></form>`,
			}), ShouldBeNil)
			rv, err := vc.Resolve("res.partner", VIEW_TYPE_FORM, "")
			So(err, ShouldBeNil)
			So(rv.ID, ShouldEqual, "sale.partner_form_simple")
		})
		Convey("Tree is an alias of list", func() {
			elt4, _ := xmlutils.XMLToElement(viewDef4)
			So(vc.LoadFromEtree("base", elt4), ShouldBeNil)
			rv, err := vc.Resolve("res.partner", "tree", "")
			So(err, ShouldBeNil)
			So(rv.Type, ShouldEqual, VIEW_TYPE_LIST)
			So(rv.Fields, ShouldResemble, []string{"name", "child_ids"})
			So(vc.Validate(), ShouldBeNil)
		})
		Convey("Default views are generated", func() {
			rv, err := vc.Resolve("res.bank", VIEW_TYPE_LIST, "")
			So(err, ShouldBeNil)
			So(rv.ArchString(), ShouldContainSubstring, `<field name="display_name"/>`)
			rv, err = vc.Resolve("res.partner", VIEW_TYPE_SEARCH, "")
			So(err, ShouldBeNil)
			So(rv.Fields, ShouldResemble, []string{"name"})
			_, err = vc.Resolve("res.partner", VIEW_TYPE_PIVOT, "")
			So(exceptions.KindOf(err), ShouldEqual, exceptions.KindNotFound)
			_, err = vc.Resolve("res.unknown", VIEW_TYPE_FORM, "")
			So(exceptions.CodeOf(err), ShouldEqual, "unknown_model")
		})
		Convey("View types are closed", func() {
			_, err := vc.Resolve("res.partner", "diagram", "")
			So(exceptions.CodeOf(err), ShouldEqual, "invalid_view_type")
			err = vc.Register("base", ViewDefinition{ID: "v", Model: "res.partner", Arch: `<diagram/>`})
			So(exceptions.CodeOf(err), ShouldEqual, "invalid_view_type")
			err = vc.Register("base", ViewDefinition{ID: "v", Model: "res.partner", Type: VIEW_TYPE_LIST, Arch: `<form/>`})
			So(exceptions.CodeOf(err), ShouldEqual, "invalid_view_type")
		})
		Convey("Invalid definitions are rejected", func() {
			err := vc.Register("sale", ViewDefinition{ID: "x", InheritID: "base.unknown", Arch: `<field name="a"/>`})
			So(exceptions.CodeOf(err), ShouldEqual, "unknown_view")
			err = vc.Register("sale", ViewDefinition{ID: "partner_form", Model: "res.partner", Arch: `<form name=></form>`})
			So(exceptions.CodeOf(err), ShouldEqual, "invalid_view")
			err = vc.Register("sale", ViewDefinition{ID: "base.partner_form", Model: "res.partner", Arch: `<form/>`})
			So(exceptions.KindOf(err), ShouldEqual, exceptions.KindConflict)
		})
		Convey("Unknown fields fail validation", func() {
			So(vc.Register("sale", ViewDefinition{
				ID:        "bad_field",
				InheritID: "base.partner_form",
				Arch:      `<field name="email" position="after"><field name="fax"/></field>`,
			}), ShouldBeNil)
			err := vc.Validate()
			So(exceptions.CodeOf(err), ShouldEqual, "invalid_view_field")
			So(err.Error(), ShouldContainSubstring, "fax")
		})
		Convey("Resolved views are serialized with their arch", func() {
			rv, err := vc.Resolve("res.partner", VIEW_TYPE_FORM, "")
			So(err, ShouldBeNil)
			data, err := json.Marshal(rv)
			So(err, ShouldBeNil)
			var res map[string]interface{}
			So(json.Unmarshal(data, &res), ShouldBeNil)
			So(res["view_id"], ShouldEqual, "base.partner_form")
			So(res["type"], ShouldEqual, "form")
			So(res["arch"], ShouldStartWith, "<form>")
		})
	})
	Convey("Testing view translations", t, func() {
		So(i18n.Registry.LoadPO("fr", strings.NewReader(`
msgctxt "resource:base.partner_form"
msgid "Contact"
msgstr "Coordonnées"
`)), ShouldBeNil)
		vc := NewCollection()
		So(vc.Register("base", ViewDefinition{
			ID:    "partner_form",
			Model: "res.partner",
			Arch:  `<form><group string="Contact"><field name="name"/></group></form>`,
		}), ShouldBeNil)
		rv, err := vc.Resolve("res.partner", VIEW_TYPE_FORM, "fr")
		So(err, ShouldBeNil)
		So(rv.ArchString(), ShouldContainSubstring, `string="Coordonnées"`)
		rv, err = vc.Resolve("res.partner", VIEW_TYPE_FORM, "")
		So(err, ShouldBeNil)
		So(rv.ArchString(), ShouldContainSubstring, `string="Contact"`)
		labels := vc.GetByID("base.partner_form").TranslatableStrings()
		So(labels, ShouldResemble, []TranslatableAttribute{{Attribute: "string", Value: "Contact"}})
	})
}
