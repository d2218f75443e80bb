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
	"errors"
	"testing"

	"github.com/hexya-erp/erpkit/src/models/fieldtype"
	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	. "github.com/smartystreets/goconvey/convey"
)

func schemaErrorCode(err error) string {
	var se *SchemaError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func TestLinearize(t *testing.T) {
	Convey("Testing module linearization", t, func() {
		Convey("Dependencies come first and siblings are sorted by name", func() {
			order, err := Linearize(map[string][]string{
				"sale":     {"base", "product"},
				"product":  {"base"},
				"base":     nil,
				"account":  {"base"},
				"sale_ext": {"sale"},
			})
			So(err, ShouldBeNil)
			So(order, ShouldResemble, []string{"base", "account", "product", "sale", "sale_ext"})
		})
		Convey("The result does not depend on the input order", func() {
			deps1 := map[string][]string{"a": nil, "b": {"a"}, "c": {"a"}, "d": {"b", "c"}}
			deps2 := map[string][]string{"d": {"c", "b"}, "c": {"a"}, "b": {"a"}, "a": nil}
			order1, err1 := Linearize(deps1)
			order2, err2 := Linearize(deps2)
			So(err1, ShouldBeNil)
			So(err2, ShouldBeNil)
			So(order1, ShouldResemble, order2)
		})
		Convey("Cycles are reported", func() {
			_, err := Linearize(map[string][]string{"a": {"b"}, "b": {"a"}})
			So(schemaErrorCode(err), ShouldEqual, "load_cycle")
		})
		Convey("Unknown dependencies are reported", func() {
			_, err := Linearize(map[string][]string{"a": {"missing"}})
			So(schemaErrorCode(err), ShouldEqual, "unknown_dependency")
		})
	})
}

func TestFinalize(t *testing.T) {
	Convey("Testing registry finalization", t, func() {
		reg, err := Finalize([]*Declarer{testBaseDeclarer(), testExtDeclarer()})
		So(err, ShouldBeNil)
		Convey("Extensions merge their fields into the model", func() {
			x := reg.MustGet("test.x")
			So(x.HasField("a"), ShouldBeTrue)
			So(x.HasField("b"), ShouldBeTrue)
			So(x.Field("b").Module(), ShouldEqual, "test_ext")
			So(x.Contributors(), ShouldResemble, []string{"test_base", "test_ext"})
		})
		Convey("Every model gets the magic fields of the base mixin", func() {
			for _, name := range []string{"id", "create_date", "create_uid", "write_date", "write_uid", "display_name"} {
				So(reg.MustGet("test.tag").HasField(name), ShouldBeTrue)
			}
			So(reg.MustGet("test.tag").InheritsFrom(BaseMixin), ShouldBeTrue)
		})
		Convey("Mixins inherited by an extension add fields and methods", func() {
			partner := reg.MustGet("test.partner")
			So(partner.HasField("code"), ShouldBeTrue)
			So(partner.HasMethod("describe"), ShouldBeTrue)
			So(partner.InheritsFrom("test.mixin.named"), ShouldBeTrue)
		})
		Convey("Method layers are ordered from the most derived module", func() {
			layers, err := reg.Resolve("test.x", "m")
			So(err, ShouldBeNil)
			So(layers, ShouldHaveLength, 2)
			So(layers[0].Module(), ShouldEqual, "test_ext")
			So(layers[1].Module(), ShouldEqual, "test_base")
		})
		Convey("Relations are resolved", func() {
			fi := reg.MustGet("test.order").Field("partner_id")
			So(fi.Type(), ShouldEqual, fieldtype.Many2One)
			So(fi.RelatedModel().Name(), ShouldEqual, "test.partner")
			So(fi.OnDelete(), ShouldEqual, Restrict)
			So(reg.MustGet("test.partner").Field("tag_ids").RelatedModel().Name(), ShouldEqual, "test.tag")
		})
		Convey("Finalize is deterministic", func() {
			reg2, err := Finalize([]*Declarer{testExtDeclarer(), testBaseDeclarer()})
			So(err, ShouldBeNil)
			So(reg2.Modules(), ShouldResemble, reg.Modules())
			So(reg2.MustGet("test.x").FieldNames(), ShouldResemble, reg.MustGet("test.x").FieldNames())
			So(reg2.MustGet("test.partner").MethodNames(), ShouldResemble, reg.MustGet("test.partner").MethodNames())
		})
		Convey("A frozen registry refuses access rules", func() {
			reg.Freeze()
			err := reg.AddAccessRule(security.AccessRule{ID: "r", Model: "test.x", Perm: security.Read})
			So(err, ShouldNotBeNil)
		})
	})
	Convey("Testing schema errors", t, func() {
		Convey("Extending an unknown model", func() {
			d := NewDeclarer("bad")
			d.ExtendModel("test.unknown")
			_, err := Finalize([]*Declarer{d})
			So(schemaErrorCode(err), ShouldEqual, "unknown_model")
		})
		Convey("Declaring the same field in two independent modules", func() {
			d1 := NewDeclarer("m1", "test_base")
			d1.ExtendModel("test.x").AddFields(map[string]FieldDefinition{"c": Integer{}})
			d2 := NewDeclarer("m2", "test_base")
			d2.ExtendModel("test.x").AddFields(map[string]FieldDefinition{"c": Integer{}})
			_, err := Finalize([]*Declarer{testBaseDeclarer(), d1, d2})
			So(schemaErrorCode(err), ShouldEqual, "duplicate_field")
		})
		Convey("Changing the type of an existing field", func() {
			d := NewDeclarer("m1", "test_base")
			d.ExtendModel("test.x").AddFields(map[string]FieldDefinition{"a": Char{}})
			_, err := Finalize([]*Declarer{testBaseDeclarer(), d})
			So(schemaErrorCode(err), ShouldEqual, "field_type_change")
		})
		Convey("Computed fields depending on each other", func() {
			d := NewDeclarer("cyclic")
			d.NewModel("test.cycle").
				AddFields(map[string]FieldDefinition{
					"f1": Integer{Compute: "_compute_f1", Depends: []string{"f2"}, Stored: true},
					"f2": Integer{Compute: "_compute_f2", Depends: []string{"f1"}, Stored: true},
				}).
				AddMethod("_compute_f1", func(rc *RecordCollection, _ ...interface{}) (interface{}, error) { return FieldMap{}, nil }).
				AddMethod("_compute_f2", func(rc *RecordCollection, _ ...interface{}) (interface{}, error) { return FieldMap{}, nil })
			_, err := Finalize([]*Declarer{d})
			So(schemaErrorCode(err), ShouldEqual, "compute_cycle")
		})
		Convey("Missing compute method", func() {
			d := NewDeclarer("nocompute")
			d.NewModel("test.nocompute").AddFields(map[string]FieldDefinition{
				"f1": Integer{Compute: "_compute_missing"},
			})
			_, err := Finalize([]*Declarer{d})
			So(schemaErrorCode(err), ShouldEqual, "unknown_method")
		})
	})
}

func TestMethodChain(t *testing.T) {
	Convey("Testing method overrides", t, func() {
		reg := newFullTestRegistry(t)
		So(inTransaction(reg, security.SuperUserID, func(env Environment) error {
			x, err := env.Pool("test.x").Create(FieldMap{"a": 1})
			So(err, ShouldBeNil)
			Convey("Extension defaults apply to created records", func() {
				b, err := x.Get("b")
				So(err, ShouldBeNil)
				So(b, ShouldEqual, int64(7))
			})
			Convey("Super calls the next layer", func() {
				res, err := x.Call("m")
				So(err, ShouldBeNil)
				So(res, ShouldEqual, int64(15))
			})
			Convey("Calling Super from the base layer fails", func() {
				_, err := x.Super()
				So(exceptions.KindOf(err), ShouldEqual, exceptions.KindSystem)
			})
			Convey("Calling an unknown method fails", func() {
				_, err := x.Call("unknown_method")
				So(err, ShouldNotBeNil)
			})
			Convey("Mixin methods are callable", func() {
				p, err := env.Pool("test.partner").Create(FieldMap{"name": "P", "code": "P01"})
				So(err, ShouldBeNil)
				res, err := p.Call("describe")
				So(err, ShouldBeNil)
				So(res, ShouldEqual, "code:P01")
			})
			return nil
		}), ShouldBeNil)
	})
}
