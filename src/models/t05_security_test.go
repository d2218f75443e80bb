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
	"testing"

	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	. "github.com/smartystreets/goconvey/convey"
)

const testUserNoGroup int64 = 4

func TestAccessRights(t *testing.T) {
	Convey("Testing model access rights", t, func() {
		reg := newFullTestRegistry(t)
		So(inTransaction(reg, security.SuperUserID, func(env Environment) error {
			_, err := env.Pool("test.tag").Create(FieldMap{"name": "T1"})
			So(err, ShouldBeNil)
			Convey("Users without access rule are denied", func() {
				_, err := env.Sudo(testUserNoGroup).Pool("test.tag").SearchAll()
				So(exceptions.KindOf(err), ShouldEqual, exceptions.KindAccessDenied)
				So(exceptions.CodeOf(err), ShouldEqual, "model_access")
			})
			Convey("Members of the granted group are allowed", func() {
				tags, err := env.Sudo(testUserU1).Pool("test.tag").SearchAll()
				So(err, ShouldBeNil)
				So(tags.Len(), ShouldEqual, 1)
			})
			Convey("Sudo bypasses access rights", func() {
				tags, err := env.Sudo(testUserNoGroup).Pool("test.tag").Sudo().SearchAll()
				So(err, ShouldBeNil)
				So(tags.Len(), ShouldEqual, 1)
			})
			Convey("Models without any rule are reserved to the superuser", func() {
				So(CheckModel(env.Sudo(testUserU1), ModelDataModel, security.Read), ShouldNotBeNil)
				So(CheckModel(env, ModelDataModel, security.Read), ShouldBeNil)
			})
			Convey("Read only rules do not grant write access", func() {
				So(CheckModel(env.Sudo(testUserNoGroup), "test.x", security.Read), ShouldNotBeNil)
				reg.ACL().AddRule(security.AccessRule{
					ID:    "access_test_x_everyone",
					Model: "test.x",
					Group: security.GroupEveryoneID,
					Perm:  security.Read,
				})
				So(CheckModel(env.Sudo(testUserNoGroup), "test.x", security.Read), ShouldBeNil)
				So(CheckModel(env.Sudo(testUserNoGroup), "test.x", security.Write), ShouldNotBeNil)
			})
			return nil
		}), ShouldBeNil)
	})
}

func TestFieldAccess(t *testing.T) {
	Convey("Testing field groups", t, func() {
		reg := newFullTestRegistry(t)
		So(reg.AddAccessRule(security.AccessRule{
			ID:    "access_partner_everyone",
			Model: "test.partner",
			Group: security.GroupEveryoneID,
			Perm:  security.All,
		}), ShouldBeNil)
		So(inTransaction(reg, security.SuperUserID, func(env Environment) error {
			partner, err := env.Pool("test.partner").Create(FieldMap{"name": "P", "email": "p@example.com"})
			So(err, ShouldBeNil)
			Convey("Group members can read the field", func() {
				email, err := partner.WithEnv(env.Sudo(testUserU1)).Get("email")
				So(err, ShouldBeNil)
				So(email, ShouldEqual, "p@example.com")
			})
			Convey("Other users cannot read or write the field", func() {
				other := partner.WithEnv(env.Sudo(testUserNoGroup))
				So(CheckField(env.Sudo(testUserNoGroup), "test.partner", "email", security.Read), ShouldNotBeNil)
				email, err := other.Get("email")
				So(err, ShouldBeNil)
				So(email, ShouldEqual, "")
				_, err = other.WithContext("raise_on_field_access", true).Get("email")
				So(exceptions.CodeOf(err), ShouldEqual, "field_access")
				err = other.Set("email", "x@example.com")
				So(exceptions.CodeOf(err), ShouldEqual, "field_access")
				name, err := other.Get("name")
				So(err, ShouldBeNil)
				So(name, ShouldEqual, "P")
			})
			Convey("Reading all fields omits forbidden fields", func() {
				vals, err := partner.WithEnv(env.Sudo(testUserNoGroup)).Read()
				So(err, ShouldBeNil)
				So(vals[0], ShouldNotContainKey, "email")
				So(vals[0], ShouldContainKey, "name")
			})
			return nil
		}), ShouldBeNil)
	})
}

func TestRowRules(t *testing.T) {
	Convey("Testing row rules", t, func() {
		reg := newFullTestRegistry(t)
		So(reg.AddRecordRule(&RecordRule{
			ID:        "partner_own",
			Name:      "Own partners",
			Model:     "test.partner",
			Group:     testGroupG1,
			Condition: NewCondition().And().Field("owner_uid").Equals(CurrentUser),
			Perms:     security.All,
		}), ShouldBeNil)
		So(inTransaction(reg, security.SuperUserID, func(env Environment) error {
			partners := env.Pool("test.partner")
			p1, err := partners.Create(FieldMap{"name": "P1", "owner_uid": testUserU1})
			So(err, ShouldBeNil)
			p2, err := partners.Create(FieldMap{"name": "P2", "owner_uid": testUserU2})
			So(err, ShouldBeNil)
			p3, err := partners.Create(FieldMap{"name": "P3", "owner_uid": testUserU1})
			So(err, ShouldBeNil)
			Convey("Users only see the records allowed by their rules", func() {
				recs, err := env.Sudo(testUserU1).Pool("test.partner").SearchAll()
				So(err, ShouldBeNil)
				So(recs.Ids(), ShouldResemble, []int64{p1.ID(), p3.ID()})
				count, err := env.Sudo(testUserU2).Pool("test.partner").SearchCount(nil)
				So(err, ShouldBeNil)
				So(count, ShouldEqual, int64(1))
			})
			Convey("The superuser sees all records", func() {
				recs, err := partners.SearchAll()
				So(err, ShouldBeNil)
				So(recs.Ids(), ShouldResemble, []int64{p1.ID(), p2.ID(), p3.ID()})
			})
			Convey("Forbidden records cannot be read or written", func() {
				other := p2.WithEnv(env.Sudo(testUserU1))
				_, err := other.Get("name")
				So(exceptions.KindOf(err), ShouldEqual, exceptions.KindAccessDenied)
				err = other.Set("name", "Hacked")
				So(exceptions.KindOf(err), ShouldEqual, exceptions.KindAccessDenied)
				err = other.Unlink()
				So(exceptions.KindOf(err), ShouldEqual, exceptions.KindAccessDenied)
			})
			Convey("Missing records are reported as not found", func() {
				_, err := env.Sudo(testUserU1).Pool("test.partner").Browse(9999).Get("name")
				So(exceptions.KindOf(err), ShouldEqual, exceptions.KindNotFound)
			})
			Convey("Global rules restrict every user", func() {
				So(reg.AddRecordRule(&RecordRule{
					ID:        "partner_p_only",
					Model:     "test.partner",
					Condition: NewCondition().And().Field("name").NotEquals("P3"),
					Perms:     security.Read,
				}), ShouldBeNil)
				recs, err := env.Sudo(testUserU1).Pool("test.partner").SearchAll()
				So(err, ShouldBeNil)
				So(recs.Ids(), ShouldResemble, p1.Ids())
				Convey("But the superuser is not affected", func() {
					recs, err := partners.SearchAll()
					So(err, ShouldBeNil)
					So(recs.Len(), ShouldEqual, 3)
				})
			})
			Convey("Permissive rules of several groups are united", func() {
				_, err := reg.Groups().NewGroup("test_base.group_g2", "Group G2")
				So(err, ShouldBeNil)
				reg.Groups().AddMembership(testUserU1, "test_base.group_g2")
				So(reg.AddRecordRule(&RecordRule{
					ID:        "partner_p2",
					Model:     "test.partner",
					Group:     "test_base.group_g2",
					Condition: NewCondition().And().Field("name").Equals("P2"),
					Perms:     security.Read,
				}), ShouldBeNil)
				u1Env := env.Sudo(testUserU1)
				u1Env.InvalidateGroups()
				recs, err := u1Env.Pool("test.partner").SearchAll()
				So(err, ShouldBeNil)
				So(recs.Ids(), ShouldResemble, []int64{p1.ID(), p2.ID(), p3.ID()})
				Convey("Rules are applied per permission", func() {
					err := p2.WithEnv(u1Env).Set("name", "P2bis")
					So(exceptions.KindOf(err), ShouldEqual, exceptions.KindAccessDenied)
				})
			})
			Convey("Invalid rule conditions are rejected", func() {
				err := reg.AddRecordRule(&RecordRule{
					ID:        "bad_rule",
					Model:     "test.partner",
					Condition: NewCondition().And().Field("unknown").Equals(1),
					Perms:     security.Read,
				})
				So(exceptions.CodeOf(err), ShouldEqual, "invalid_rule")
			})
			return nil
		}), ShouldBeNil)
	})
}
