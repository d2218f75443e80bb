// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package base

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hexya-erp/erpkit/src/cron"
	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/server"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/logging"
	"github.com/hexya-erp/erpkit/src/tools/password"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/viper"
)

func TestMain(m *testing.M) {
	viper.Set("LogLevel", "panic")
	logging.Initialize()
	os.Exit(m.Run())
}

func installBase(t *testing.T) *server.Bundle {
	db, err := models.Connect(models.ConnectionParams{
		Driver: "sqlite3",
		DBName: filepath.Join(t.TempDir(), "base_tests.db"),
	})
	if err != nil {
		t.Fatalf("unable to connect to database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ms, err := server.NewModuleSet(NewModule())
	if err != nil {
		t.Fatalf("unable to register module: %v", err)
	}
	b, err := server.NewLoader(ms, db).Install(context.Background(), []string{ModuleName}, true)
	if err != nil {
		t.Fatalf("unable to install base: %v", err)
	}
	return b
}

func refID(env models.Environment, xmlID string) int64 {
	rec, err := env.Ref(xmlID)
	So(err, ShouldBeNil)
	return rec.ID()
}

func TestBase(t *testing.T) {
	b := installBase(t)
	reg := b.Registry
	Convey("Testing the base module", t, func() {
		So(reg.Get(cron.ModelName), ShouldNotBeNil)
		Convey("The administrator is the superuser and passwords are hashed", func() {
			err := reg.SimulateInNewEnvironment(context.Background(), security.SuperUserID, func(env models.Environment) error {
				So(refID(env, "base.user_admin"), ShouldEqual, security.SuperUserID)
				admin := env.Pool(UsersModel).Browse(security.SuperUserID)
				pwd, err := admin.Get("password")
				So(err, ShouldBeNil)
				So(password.IsHashed(pwd.(string)), ShouldBeTrue)
				So(password.Verify("admin", pwd.(string)), ShouldBeTrue)
				_, err = admin.Call("unlink")
				So(exceptions.CodeOf(err), ShouldEqual, "superuser_unlink")
				return nil
			})
			So(err, ShouldBeNil)
		})
		Convey("Users are authenticated against res.users", func() {
			uid, err := Backend.Authenticate(context.Background(), "demo", "demo")
			So(err, ShouldBeNil)
			So(uid, ShouldBeGreaterThan, security.SuperUserID)
			_, err = Backend.Authenticate(context.Background(), "demo", "wrong")
			So(err, ShouldHaveSameTypeAs, security.InvalidCredentialsError(""))
			_, err = Backend.Authenticate(context.Background(), "nobody", "nobody")
			So(err, ShouldHaveSameTypeAs, security.UserNotFoundError(""))
		})
		Convey("Groups of users are read from the database", func() {
			var demoID int64
			So(reg.SimulateInNewEnvironment(context.Background(), security.SuperUserID, func(env models.Environment) error {
				demoID = refID(env, "base.user_demo")
				return nil
			}), ShouldBeNil)
			err := reg.SimulateInNewEnvironment(context.Background(), demoID, func(env models.Environment) error {
				isUser, err := env.HasGroup(GroupUser)
				So(err, ShouldBeNil)
				So(isUser, ShouldBeTrue)
				isSystem, err := env.HasGroup(GroupSystem)
				So(err, ShouldBeNil)
				So(isSystem, ShouldBeFalse)
				users := env.Pool(UsersModel)
				So(users.Browse(demoID).Write(models.FieldMap{"lang": "fr"}), ShouldBeNil)
				err = users.Browse(security.SuperUserID).Write(models.FieldMap{"lang": "fr"})
				So(exceptions.KindOf(err), ShouldEqual, exceptions.KindAccessDenied)
				_, err = env.Pool(ConfigParameterModel).SearchAll()
				So(exceptions.KindOf(err), ShouldEqual, exceptions.KindAccessDenied)
				return nil
			})
			So(err, ShouldBeNil)
		})
		Convey("System parameters", func() {
			err := reg.SimulateInNewEnvironment(context.Background(), security.SuperUserID, func(env models.Environment) error {
				val, err := GetParam(env, "web.base.url", "http://localhost")
				So(err, ShouldBeNil)
				So(val, ShouldEqual, "http://localhost")
				So(SetParam(env, "web.base.url", "https://erp.example.com"), ShouldBeNil)
				res, err := env.Pool(ConfigParameterModel).Call("get_param", "web.base.url")
				So(err, ShouldBeNil)
				So(res, ShouldEqual, "https://erp.example.com")
				So(SetParam(env, "web.base.url", ""), ShouldBeNil)
				count, err := env.Pool(ConfigParameterModel).SearchCount(nil)
				So(err, ShouldBeNil)
				So(count, ShouldEqual, int64(0))
				return nil
			})
			So(err, ShouldBeNil)
		})
		Convey("Commercial partners and archiving", func() {
			err := reg.SimulateInNewEnvironment(context.Background(), security.SuperUserID, func(env models.Environment) error {
				azure := refID(env, "base.res_partner_azure")
				brandon, err := env.Ref("base.res_partner_azure_brandon")
				So(err, ShouldBeNil)
				commercial, err := brandon.Get("commercial_partner_id")
				So(err, ShouldBeNil)
				So(commercial, ShouldEqual, azure)
				_, err = brandon.Call("action_archive")
				So(err, ShouldBeNil)
				active, err := brandon.Get("active")
				So(err, ShouldBeNil)
				So(active, ShouldBeFalse)
				return nil
			})
			So(err, ShouldBeNil)
		})
		Convey("Unknown groups cannot be recorded", func() {
			err := reg.SimulateInNewEnvironment(context.Background(), security.SuperUserID, func(env models.Environment) error {
				_, err := env.Pool(GroupsModel).Create(models.FieldMap{"name": "Ghost", "group_id": "base.group_ghost"})
				So(err, ShouldNotBeNil)
				return nil
			})
			So(err, ShouldBeNil)
		})
	})
}
