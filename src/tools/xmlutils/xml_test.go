// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package xmlutils

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

const baseView = `<form><group name="main"><field name="name"/><field name="email"/></group></form>`

func mustPatches(program string) []Patch {
	el, err := XMLToElement(program)
	if err != nil {
		panic(err)
	}
	patches, err := ParsePatches(el)
	if err != nil {
		panic(err)
	}
	return patches
}

func TestApplyPatches(t *testing.T) {
	Convey("Testing patch programs", t, func() {
		base, err := XMLToElement(baseView)
		So(err, ShouldBeNil)
		Convey("after and before with shorthand locators", func() {
			res, err := ApplyPatches(base, mustPatches(`<data>
	<field name="name" position="after"><field name="phone"/></field>
	<field name="name" position="before"><field name="ref"/></field>
</data>`))
			So(err, ShouldBeNil)
			So(ElementToString(res), ShouldEqual, `<form><group name="main"><field name="ref"/><field name="name"/><field name="phone"/><field name="email"/></group></form>`)
			Convey("base is left untouched", func() {
				So(ElementToString(base), ShouldEqual, baseView)
			})
		})
		Convey("append, prepend and replace with xpath locators", func() {
			res, err := ApplyPatches(base, mustPatches(`<data>
	<xpath expr="//group[@name='main']" position="append"><field name="z"/></xpath>
	<xpath expr="//group[@name='main']" position="prepend"><field name="a"/></xpath>
	<xpath expr="//field[@name='email']" position="replace"><field name="mail"/></xpath>
</data>`))
			So(err, ShouldBeNil)
			So(ElementToString(res), ShouldEqual, `<form><group name="main"><field name="a"/><field name="name"/><field name="mail"/><field name="z"/></group></form>`)
		})
		Convey("inside is an alias of append", func() {
			res, err := ApplyPatches(base, mustPatches(`<data><group position="inside"><field name="z"/></group></data>`))
			So(err, ShouldBeNil)
			So(ElementToString(res), ShouldEqual, `<form><group name="main"><field name="name"/><field name="email"/><field name="z"/></group></form>`)
		})
		Convey("attributes are set and removed", func() {
			res, err := ApplyPatches(base, mustPatches(`<data>
	<field name="name" position="attributes">
		<attribute name="required">1</attribute>
	</field>
	<group position="attributes"><attribute name="name"></attribute></group>
</data>`))
			So(err, ShouldBeNil)
			So(ElementToString(res), ShouldEqual, `<form><group><field name="name" required="1"/><field name="email"/></group></form>`)
		})
		Convey("later patches see the tree modified by earlier ones", func() {
			res, err := ApplyPatches(base, mustPatches(`<data>
	<field name="name" position="after"><field name="phone"/></field>
	<field name="phone" position="after"><field name="mobile"/></field>
</data>`))
			So(err, ShouldBeNil)
			So(ElementToString(res), ShouldEqual, `<form><group name="main"><field name="name"/><field name="phone"/><field name="mobile"/><field name="email"/></group></form>`)
		})
		Convey("the same inputs give the same output", func() {
			patches := mustPatches(`<data><field name="name" position="after"><field name="phone"/></field></data>`)
			res1, _ := ApplyPatches(base, patches)
			res2, _ := ApplyPatches(base, patches)
			So(ElementToString(res1), ShouldEqual, ElementToString(res2))
		})
		Convey("missing locator is an error", func() {
			_, err := ApplyPatches(base, mustPatches(`<data><field name="nope" position="after"><field name="x"/></field></data>`))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "node not found")
		})
		Convey("unknown position is an error", func() {
			el, _ := XMLToElement(`<data><field name="name" position="sideways"/></data>`)
			_, err := ParsePatches(el)
			So(err, ShouldNotBeNil)
		})
	})
}
