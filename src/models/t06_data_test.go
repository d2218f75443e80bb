// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package models

import (
	"testing"
	"testing/fstest"

	"github.com/beevik/etree"
	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	. "github.com/smartystreets/goconvey/convey"
)

const testDataXML = `<?xml version="1.0" encoding="utf-8"?>
<erpkit>
    <data>
        <record id="tag_red" model="test.tag">
            <field name="name">Red</field>
            <field name="color" eval="3"/>
        </record>
        <record id="partner_a" model="test.partner">
            <field name="name">Partner A</field>
            <field name="age">42</field>
            <field name="tag_ids" eval="[(6, 0, [ref('tag_red')])]"/>
        </record>
    </data>
    <data noupdate="1">
        <record id="partner_b" model="test.partner">
            <field name="name">Partner B</field>
            <field name="parent_id" ref="partner_a"/>
        </record>
    </data>
</erpkit>
`

const testDataXMLv2 = `<?xml version="1.0" encoding="utf-8"?>
<erpkit>
    <data>
        <record id="partner_a" model="test.partner">
            <field name="name">Partner A v2</field>
        </record>
    </data>
    <data noupdate="1">
        <record id="partner_b" model="test.partner">
            <field name="name">Partner B v2</field>
        </record>
    </data>
</erpkit>
`

func testDataFS() fstest.MapFS {
	return fstest.MapFS{
		"data/records.xml":    {Data: []byte(testDataXML)},
		"data/records_v2.xml": {Data: []byte(testDataXMLv2)},
		"data/delete.xml":     {Data: []byte(`<erpkit><delete id="tag_red"/></erpkit>`)},
		"data/broken.xml": {Data: []byte(`<erpkit>
    <record id="tag_green" model="test.tag"><field name="name">Green</field></record>
    <record id="partner_c" model="test.partner">
        <field name="name">C</field>
        <field name="parent_id" ref="does_not_exist"/>
    </record>
</erpkit>`)},
		"data/conflict.xml": {Data: []byte(`<erpkit>
    <record id="tag_red" model="test.partner"><field name="name">Red partner</field></record>
</erpkit>`)},
		"data/test.tag.csv": {Data: []byte("id,name,color\ntag_blue,Blue,4\ntag_yellow,Yellow,\n")},
		"data/test.partner.csv": {Data: []byte("id,name,parent_id:id,tag_ids/id\n" +
			"partner_d,Partner D,partner_a,\"tag_red,tag_blue\"\n")},
		"data/test.x.json": {Data: []byte(`{}`)},
	}
}

func TestDataLoading(t *testing.T) {
	Convey("Testing data files loading", t, func() {
		reg := newFullTestRegistry(t)
		fsys := testDataFS()
		So(inTransaction(reg, security.SuperUserID, func(env Environment) error {
			So(NewDataLoader(env, "test_base", fsys, false).LoadFile("data/records.xml"), ShouldBeNil)
			Convey("Records are created with their external ids", func() {
				red, err := env.Ref("test_base.tag_red")
				So(err, ShouldBeNil)
				vals, err := red.Read("name", "color")
				So(err, ShouldBeNil)
				So(vals[0]["name"], ShouldEqual, "Red")
				So(vals[0]["color"], ShouldEqual, int64(3))
				partnerA, err := env.Ref("test_base.partner_a")
				So(err, ShouldBeNil)
				age, err := partnerA.Get("age")
				So(err, ShouldBeNil)
				So(age, ShouldEqual, int64(42))
				tags, err := partnerA.Get("tag_ids")
				So(err, ShouldBeNil)
				So(tags, ShouldResemble, red.Ids())
				partnerB, err := env.Ref("test_base.partner_b")
				So(err, ShouldBeNil)
				parent, err := partnerB.Get("parent_id")
				So(err, ShouldBeNil)
				So(parent, ShouldEqual, partnerA.ID())
				xids, err := ExternalIDsOf(partnerA)
				So(err, ShouldBeNil)
				So(xids[partnerA.ID()], ShouldResemble, []string{"test_base.partner_a"})
			})
			Convey("Loading again updates records without duplicating them", func() {
				So(NewDataLoader(env, "test_base", fsys, true).LoadFile("data/records_v2.xml"), ShouldBeNil)
				count, err := env.Pool("test.partner").SearchCount(nil)
				So(err, ShouldBeNil)
				So(count, ShouldEqual, int64(2))
				partnerA, _ := env.Ref("test_base.partner_a")
				name, _ := partnerA.Get("name")
				So(name, ShouldEqual, "Partner A v2")
				Convey("Records of noupdate blocks are left untouched on upgrade", func() {
					partnerB, _ := env.Ref("test_base.partner_b")
					name, _ := partnerB.Get("name")
					So(name, ShouldEqual, "Partner B")
				})
			})
			Convey("Records of noupdate blocks are written on first install", func() {
				So(NewDataLoader(env, "test_base", fsys, false).LoadFile("data/records_v2.xml"), ShouldBeNil)
				partnerB, _ := env.Ref("test_base.partner_b")
				name, _ := partnerB.Get("name")
				So(name, ShouldEqual, "Partner B v2")
			})
			Convey("Deleted records are recreated", func() {
				partnerB, _ := env.Ref("test_base.partner_b")
				So(partnerB.Unlink(), ShouldBeNil)
				_, err := env.Ref("test_base.partner_b")
				So(exceptions.KindOf(err), ShouldEqual, exceptions.KindNotFound)
				So(NewDataLoader(env, "test_base", fsys, false).LoadFile("data/records.xml"), ShouldBeNil)
				_, err = env.Ref("test_base.partner_b")
				So(err, ShouldBeNil)
			})
			Convey("Delete directives remove records", func() {
				So(NewDataLoader(env, "test_base", fsys, true).LoadFile("data/delete.xml"), ShouldBeNil)
				_, err := env.Ref("test_base.tag_red")
				So(exceptions.CodeOf(err), ShouldEqual, "unknown_xmlid")
			})
			Convey("A failing file is rolled back entirely", func() {
				err := NewDataLoader(env, "test_base", fsys, false).LoadFile("data/broken.xml")
				So(exceptions.CodeOf(err), ShouldEqual, "unknown_xmlid")
				count, err := env.Pool("test.tag").SearchCount(NewCondition().And().Field("name").Equals("Green"))
				So(err, ShouldBeNil)
				So(count, ShouldEqual, int64(0))
			})
			Convey("External ids cannot change model", func() {
				err := NewDataLoader(env, "test_base", fsys, false).LoadFile("data/conflict.xml")
				So(exceptions.KindOf(err), ShouldEqual, exceptions.KindConflict)
			})
			Convey("CSV files are loaded in the model of their name", func() {
				loader := NewDataLoader(env, "test_base", fsys, false)
				So(loader.LoadFile("data/test.tag.csv"), ShouldBeNil)
				So(loader.LoadFile("data/test.partner.csv"), ShouldBeNil)
				blue, err := env.Ref("test_base.tag_blue")
				So(err, ShouldBeNil)
				color, _ := blue.Get("color")
				So(color, ShouldEqual, int64(4))
				yellow, err := env.Ref("test_base.tag_yellow")
				So(err, ShouldBeNil)
				color, _ = yellow.Get("color")
				So(color, ShouldEqual, int64(0))
				partnerD, err := env.Ref("test_base.partner_d")
				So(err, ShouldBeNil)
				vals, err := partnerD.Read("parent_id", "tag_ids")
				So(err, ShouldBeNil)
				partnerA, _ := env.Ref("test_base.partner_a")
				red, _ := env.Ref("test_base.tag_red")
				So(vals[0]["parent_id"], ShouldEqual, partnerA.ID())
				So(vals[0]["tag_ids"], ShouldResemble, []int64{red.ID(), blue.ID()})
			})
			Convey("Unknown formats are rejected", func() {
				err := NewDataLoader(env, "test_base", fsys, false).LoadFile("data/test.x.json")
				So(exceptions.CodeOf(err), ShouldEqual, "invalid_data_file")
			})
			return nil
		}), ShouldBeNil)
	})
}

func TestEvalLiteral(t *testing.T) {
	Convey("Testing eval expressions of data files", t, func() {
		ref := func(xmlID string) (int64, error) {
			if xmlID == "test_base.known" {
				return 12, nil
			}
			return 0, exceptions.NotFound("unknown_xmlid", "External id %s does not exist", xmlID)
		}
		for expr, expected := range map[string]interface{}{
			"42":                  int64(42),
			"-1.5":                -1.5,
			"True":                true,
			"False":               false,
			"None":                nil,
			"'text'":              "text",
			`"double \"quoted\""`: `double "quoted"`,
		} {
			val, err := evalLiteral(expr, ref)
			So(err, ShouldBeNil)
			So(val, ShouldEqual, expected)
		}
		val, err := evalLiteral("[(6, 0, [ref('test_base.known')]), (4, 3)]", ref)
		So(err, ShouldBeNil)
		So(val, ShouldResemble, []interface{}{
			[]interface{}{int64(6), int64(0), []interface{}{int64(12)}},
			[]interface{}{int64(4), int64(3)},
		})
		_, err = evalLiteral("ref('unknown')", ref)
		So(exceptions.CodeOf(err), ShouldEqual, "unknown_xmlid")
		_, err = evalLiteral("[1, 2", ref)
		So(exceptions.CodeOf(err), ShouldEqual, "invalid_eval")
		_, err = evalLiteral("1 2", ref)
		So(exceptions.CodeOf(err), ShouldEqual, "invalid_eval")
	})
}

func TestInnerXML(t *testing.T) {
	Convey("Field values given as XML content", t, func() {
		doc := etree.NewDocument()
		So(doc.ReadFromString(`<field name="arch"><form string="Tags"><field name="name"/></form></field>`), ShouldBeNil)
		fElt := doc.Root()
		So(innerXML(fElt), ShouldEqual, `<form string="Tags"><field name="name"/></form>`)
		So(fElt.ChildElements(), ShouldHaveLength, 1)
		So(fElt.ChildElements()[0].Tag, ShouldEqual, "form")
	})
}
