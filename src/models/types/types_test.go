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

package types

import (
	"encoding/json"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestContext(t *testing.T) {
	Convey("Testing contexts", t, func() {
		ctx := NewContext(map[string]interface{}{"lang": "fr_FR", "active_test": false})
		Convey("Getters", func() {
			So(ctx.GetString("lang"), ShouldEqual, "fr_FR")
			So(ctx.GetBool("active_test", true), ShouldBeFalse)
			So(ctx.GetBool("missing", true), ShouldBeTrue)
			So(ctx.GetInteger("missing"), ShouldEqual, 0)
			So(ctx.Keys(), ShouldResemble, []string{"active_test", "lang"})
		})
		Convey("WithKey does not modify the original", func() {
			ctx2 := ctx.WithKey("company_id", 3)
			So(ctx2.GetInteger("company_id"), ShouldEqual, 3)
			So(ctx.HasKey("company_id"), ShouldBeFalse)
		})
		Convey("Nil contexts are empty", func() {
			var c *Context
			So(c.HasKey("x"), ShouldBeFalse)
			So(c.Get("x"), ShouldBeNil)
			So(c.WithKey("x", 1).GetInteger("x"), ShouldEqual, 1)
		})
		Convey("JSON round trip", func() {
			data, err := json.Marshal(ctx)
			So(err, ShouldBeNil)
			var c2 Context
			So(json.Unmarshal(data, &c2), ShouldBeNil)
			So(c2.GetString("lang"), ShouldEqual, "fr_FR")
		})
	})
	Convey("Testing selections", t, func() {
		sel := Selection{"done": "Done", "draft": "Draft"}
		So(sel.Keys(), ShouldResemble, []string{"done", "draft"})
		So(sel.ToList(), ShouldResemble, [][2]string{{"done", "Done"}, {"draft", "Draft"}})
	})
}
