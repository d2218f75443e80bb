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

package security

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestGroupCollection(t *testing.T) {
	Convey("Testing group collections", t, func() {
		gc := NewGroupCollection()
		group1, err := gc.NewGroup("test.group1", "Group 1")
		So(err, ShouldBeNil)
		group2, _ := gc.NewGroup("test.group2", "Group 2")
		group3, _ := gc.NewGroup("test.group3", "Group 3", "test.group1")
		group4, _ := gc.NewGroup("test.group4", "Group 4", "test.group3")
		Convey("Basic access methods", func() {
			So(group1.ID(), ShouldEqual, "test.group1")
			So(group2.Name(), ShouldEqual, "Group 2")
			So(group3.String(), ShouldEqual, "Group(test.group3)")
			So(group4.Implies(group1), ShouldBeTrue)
			So(group1.Implies(group3), ShouldBeFalse)
			So(group4.ImpliedGroups(), ShouldResemble, []*Group{group3})
			So(gc.GetGroup("test.group4"), ShouldEqual, group4)
			So(gc.AllGroups(), ShouldHaveLength, 5)
			So(gc.AllGroups()[0].ID(), ShouldEqual, GroupEveryoneID)
		})
		Convey("Registering an existing group or implying an unknown one fails", func() {
			_, err := gc.NewGroup("test.group1", "Again")
			So(err, ShouldNotBeNil)
			_, err = gc.NewGroup("test.group5", "Five", "test.nope")
			So(err, ShouldNotBeNil)
		})
		Convey("Memberships include implied groups and everyone", func() {
			gc.AddMembership(5, "test.group4")
			groups := gc.UserGroups(5)
			So(groups, ShouldHaveLength, 4)
			So(groups, ShouldContainKey, "test.group1")
			So(groups, ShouldContainKey, "test.group3")
			So(groups, ShouldContainKey, GroupEveryoneID)
			So(gc.HasMembership(5, "test.group2"), ShouldBeFalse)
			gc.RemoveMembership(5, "test.group4")
			So(gc.UserGroups(5), ShouldHaveLength, 1)
			gc.AddMembership(6, "test.group2")
			gc.RemoveAllMembershipsForUser(6)
			So(gc.DirectGroups(6), ShouldBeEmpty)
		})
	})
}

func TestAccessControlList(t *testing.T) {
	Convey("Testing access control lists", t, func() {
		acl := NewAccessControlList()
		acl.AddRule(AccessRule{ID: "access_user", Model: "res.partner", Group: "base.group_user", Perm: Read | Write})
		acl.AddRule(AccessRule{ID: "access_manager", Model: "res.partner", Group: "base.group_manager", Perm: All})
		acl.AddRule(AccessRule{ID: "access_public", Model: "res.country", Perm: Read})
		user := map[string]bool{"base.group_user": true}
		manager := map[string]bool{"base.group_user": true, "base.group_manager": true}
		So(acl.CheckPermission("res.partner", user, Read), ShouldBeTrue)
		So(acl.CheckPermission("res.partner", user, Unlink), ShouldBeFalse)
		So(acl.CheckPermission("res.partner", manager, Unlink|Create), ShouldBeTrue)
		So(acl.CheckPermission("res.country", nil, Read), ShouldBeTrue)
		So(acl.CheckPermission("res.country", nil, Write), ShouldBeFalse)
		So(acl.CheckPermission("res.secret", manager, Read), ShouldBeFalse)
		So(acl.Rules("res.partner"), ShouldHaveLength, 2)
		Convey("Rules with the same id are replaced", func() {
			acl.AddRule(AccessRule{ID: "access_user", Model: "res.partner", Group: "base.group_user", Perm: Read})
			So(acl.CheckPermission("res.partner", user, Write), ShouldBeFalse)
		})
	})
	Convey("Permission names", t, func() {
		So((Read | Unlink).String(), ShouldEqual, "read|unlink")
		So(Permission(0).String(), ShouldEqual, "none")
		So(ParsePermission("create"), ShouldEqual, Create)
	})
}

type testBackend map[string]string

func (tb testBackend) Authenticate(_ context.Context, login, secret string) (int64, error) {
	pwd, ok := tb[login]
	if !ok {
		return 0, UserNotFoundError(login)
	}
	if pwd != secret {
		return 0, InvalidCredentialsError(login)
	}
	return int64(len(login)), nil
}

func TestAuthBackends(t *testing.T) {
	Convey("Testing authentication backends", t, func() {
		reg := new(AuthBackendRegistry)
		reg.RegisterBackend(testBackend{"admin": "admin"})
		reg.RegisterBackend(testBackend{"john": "secret"})
		uid, err := reg.Authenticate(context.Background(), "admin", "admin")
		So(err, ShouldBeNil)
		So(uid, ShouldEqual, 5)
		_, err = reg.Authenticate(context.Background(), "john", "wrong")
		So(err, ShouldHaveSameTypeAs, InvalidCredentialsError(""))
		_, err = reg.Authenticate(context.Background(), "nobody", "x")
		So(err, ShouldHaveSameTypeAs, UserNotFoundError(""))
	})
}
