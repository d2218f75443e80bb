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
	"strings"
	"testing"

	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDomains(t *testing.T) {
	Convey("Testing domain parsing and serialization", t, func() {
		for _, domain := range []string{
			`[["name","=","John"]]`,
			`["|",["a","=",1],["b","=",2]]`,
			`["&","&",["a","=",1],["b","!=",2],["c","in",[1,2,3]]]`,
			`["!",["owner_uid","=","$uid"]]`,
			`["|",["a","ilike","x"],"&",["b",">",1],["c","<=",3.5]]`,
		} {
			cond, err := ParseDomainString(domain)
			So(err, ShouldBeNil)
			So(cond.String(), ShouldEqual, domain)
		}
		Convey("Consecutive terms are AND-ed", func() {
			cond, err := ParseDomainString(`[["a","=",1],["b","=",2]]`)
			So(err, ShouldBeNil)
			So(cond.String(), ShouldEqual, `["&",["a","=",1],["b","=",2]]`)
		})
		Convey("Environment references are parsed", func() {
			cond, err := ParseDomainString(`[["owner_uid","=","$uid"]]`)
			So(err, ShouldBeNil)
			So(cond.arg, ShouldEqual, CurrentUser)
		})
		Convey("Invalid domains are rejected", func() {
			for _, domain := range []string{
				`[["a","~",1]]`,
				`["|",["a","=",1]]`,
				`[["a","="]]`,
				`{"a":1}`,
			} {
				_, err := ParseDomainString(domain)
				So(exceptions.CodeOf(err), ShouldEqual, "invalid_domain")
			}
		})
		Convey("Builders combine conditions immutably", func() {
			base := NewCondition().And().Field("a").Equals(1)
			c1 := base.And().Field("b").Equals(2)
			c2 := base.Or().Field("c").Equals(3)
			So(base.String(), ShouldEqual, `[["a","=",1]]`)
			So(c1.String(), ShouldEqual, `["&",["a","=",1],["b","=",2]]`)
			So(c2.String(), ShouldEqual, `["|",["a","=",1],["c","=",3]]`)
			So(Not(Not(c1)).String(), ShouldEqual, c1.String())
			So(NewCondition().IsEmpty(), ShouldBeTrue)
			So(c1.Paths(), ShouldResemble, []string{"a", "b"})
		})
	})
}

func TestSearch(t *testing.T) {
	Convey("Testing searches", t, func() {
		reg := newFullTestRegistry(t)
		So(inTransaction(reg, security.SuperUserID, func(env Environment) error {
			partners := env.Pool("test.partner")
			tags := env.Pool("test.tag")
			red, err := tags.Create(FieldMap{"name": "Red"})
			So(err, ShouldBeNil)
			blue, err := tags.Create(FieldMap{"name": "Blue"})
			So(err, ShouldBeNil)
			alice, err := partners.Create(FieldMap{"name": "Alice", "age": 30, "tag_ids": []int64{red.ID()}})
			So(err, ShouldBeNil)
			bob, err := partners.Create(FieldMap{"name": "Bob", "age": 20, "parent_id": alice.ID(), "tag_ids": []int64{blue.ID()}})
			So(err, ShouldBeNil)
			carol, err := partners.Create(FieldMap{"name": "Carol", "age": 40, "parent_id": bob.ID()})
			So(err, ShouldBeNil)
			search := func(cond *Condition) []int64 {
				recs, err := partners.Search(cond)
				So(err, ShouldBeNil)
				return recs.Ids()
			}
			Convey("Comparison operators", func() {
				So(search(NewCondition().And().Field("age").Greater(25)), ShouldResemble, []int64{alice.ID(), carol.ID()})
				So(search(NewCondition().And().Field("age").LowerOrEqual(20)), ShouldResemble, bob.Ids())
				So(search(NewCondition().And().Field("name").IContains("o")), ShouldResemble, []int64{bob.ID(), carol.ID()})
				So(search(NewCondition().And().Field("name").In([]string{"Alice", "Carol"})), ShouldResemble, []int64{alice.ID(), carol.ID()})
				So(search(NewCondition().And().Field("name").NotIn([]string{"Alice"})), ShouldResemble, []int64{bob.ID(), carol.ID()})
			})
			Convey("Empty IN lists", func() {
				So(search(NewCondition().And().Field("id").In([]int64{})), ShouldBeEmpty)
				So(search(NewCondition().And().Field("id").NotIn([]int64{})), ShouldHaveLength, 3)
			})
			Convey("Null checks", func() {
				So(search(NewCondition().And().Field("parent_id").IsNull()), ShouldResemble, alice.Ids())
				So(search(NewCondition().And().Field("parent_id").IsNotNull()), ShouldResemble, []int64{bob.ID(), carol.ID()})
			})
			Convey("Or and Not", func() {
				cond := NewCondition().And().Field("age").Equals(20).Or().Field("age").Equals(40)
				So(search(cond), ShouldResemble, []int64{bob.ID(), carol.ID()})
				So(search(Not(cond)), ShouldResemble, alice.Ids())
			})
			Convey("Negations match unset values like inequalities", func() {
				dave, err := partners.Create(FieldMap{"name": "Dave"})
				So(err, ShouldBeNil)
				age, err := dave.Get("age")
				So(err, ShouldBeNil)
				So(age, ShouldEqual, int64(0))
				notTwenty := []int64{alice.ID(), carol.ID(), dave.ID()}
				So(search(NewCondition().And().Field("age").NotEquals(20)), ShouldResemble, notTwenty)
				So(search(Not(NewCondition().And().Field("age").Equals(20))), ShouldResemble, notTwenty)
				So(search(NewCondition().AndNot().Field("age").Equals(20)), ShouldResemble, notTwenty)
				So(search(NewCondition().And().Field("age").Equals(0)), ShouldResemble, dave.Ids())
				So(search(NewCondition().And().Field("age").NotEquals(0)), ShouldResemble, []int64{alice.ID(), bob.ID(), carol.ID()})
				So(search(Not(NewCondition().And().Field("age").Equals(0))), ShouldResemble, []int64{alice.ID(), bob.ID(), carol.ID()})
				So(search(NewCondition().And().Field("age").In([]int64{0, 20})), ShouldResemble, []int64{bob.ID(), dave.ID()})
				So(search(NewCondition().And().Field("age").NotIn([]int64{0, 20})), ShouldResemble, []int64{alice.ID(), carol.ID()})
				So(search(Not(NewCondition().And().Field("parent_id.name").Equals("Alice"))), ShouldResemble, []int64{alice.ID(), carol.ID(), dave.ID()})
			})
			Convey("Paths through many2one fields", func() {
				So(search(NewCondition().And().Field("parent_id.name").Equals("Alice")), ShouldResemble, bob.Ids())
				So(search(NewCondition().And().Field("parent_id.parent_id.name").Equals("Alice")), ShouldResemble, carol.Ids())
			})
			Convey("Only the needed joins are generated", func() {
				q := newQuery(env, partners.model, NewCondition().And().Field("age").Equals(1))
				_, _, err := q.selectIDsQuery()
				So(err, ShouldBeNil)
				So(q.joins, ShouldBeEmpty)
				q = newQuery(env, partners.model, NewCondition().And().Field("parent_id.parent_id.name").Equals("x"))
				query, _, err := q.selectIDsQuery()
				So(err, ShouldBeNil)
				So(q.joins, ShouldHaveLength, 2)
				So(strings.Count(query, "LEFT JOIN"), ShouldEqual, 2)
			})
			Convey("Paths through x2many fields", func() {
				So(search(NewCondition().And().Field("child_ids.name").Equals("Bob")), ShouldResemble, alice.Ids())
				So(search(NewCondition().And().Field("tag_ids.name").Equals("Blue")), ShouldResemble, bob.Ids())
				So(search(NewCondition().And().Field("tag_ids").In([]int64{red.ID()})), ShouldResemble, alice.Ids())
			})
			Convey("Ordering, limit and offset", func() {
				recs, err := partners.OrderBy("age desc").Search(nil)
				So(err, ShouldBeNil)
				So(recs.Ids(), ShouldResemble, []int64{carol.ID(), alice.ID(), bob.ID()})
				recs, err = partners.OrderBy("age").Limit(1).Offset(1).Search(nil)
				So(err, ShouldBeNil)
				So(recs.Ids(), ShouldResemble, alice.Ids())
				_, err = partners.OrderBy("age sideways").Search(nil)
				So(exceptions.CodeOf(err), ShouldEqual, "invalid_order")
			})
			Convey("Default order of the model", func() {
				recs, err := partners.SearchAll()
				So(err, ShouldBeNil)
				So(recs.Ids(), ShouldResemble, []int64{alice.ID(), bob.ID(), carol.ID()})
			})
			Convey("Environment references", func() {
				So(bob.Set("owner_uid", security.SuperUserID), ShouldBeNil)
				So(search(NewCondition().And().Field("owner_uid").Equals(CurrentUser)), ShouldResemble, bob.Ids())
			})
			Convey("Domains are accepted by search methods", func() {
				res, err := partners.Call("search", []interface{}{[]interface{}{"name", "=", "Carol"}})
				So(err, ShouldBeNil)
				So(res.(*RecordCollection).Ids(), ShouldResemble, carol.Ids())
				count, err := partners.Call("search_count", `[["age", ">=", 30]]`)
				So(err, ShouldBeNil)
				So(count, ShouldEqual, int64(2))
			})
			Convey("Unknown fields in conditions", func() {
				_, err := partners.Search(NewCondition().And().Field("nope").Equals(1))
				So(exceptions.CodeOf(err), ShouldEqual, "unknown_field")
			})
			return nil
		}), ShouldBeNil)
	})
}
