// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/hexya-erp/erpkit/src/migrations"
	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/logging"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/viper"
)

func TestMain(m *testing.M) {
	viper.Set("LogLevel", "panic")
	logging.Initialize()
	os.Exit(m.Run())
}

const corePartnersXML = `<erpkit>
    <data>
        <record id="partner_p1" model="test.partner">
            <field name="name">P1</field>
            <field name="ref">R1</field>
        </record>
    </data>
    <data noupdate="1">
        <record id="partner_p2" model="test.partner">
            <field name="name">P2</field>
        </record>
    </data>
</erpkit>`

const coreResourcesXML = `<erpkit>
    <group id="group_user" name="Users"/>
    <group id="group_manager" name="Managers" implied="group_user"/>
    <view id="partner_form" model="test.partner">
        <form>
            <field name="name"/>
        </form>
    </view>
    <action id="partner_action" name="Partners" type="act_window" model="test.partner" view_mode="form"/>
    <menuitem id="menu_root" name="Directory"/>
    <menuitem id="menu_partners" parent="menu_root" action="partner_action" sequence="1"/>
    <menuitem id="menu_managers" name="Managers" parent="menu_root" action="partner_action" sequence="2" groups="group_manager"/>
    <rule id="partner_own" model="test.partner" group="group_user" perms="write,unlink">[["create_uid", "=", "$uid"]]</rule>
</erpkit>`

const coreAccessCSV = `id,name,model_id:id,group_id:id,perm_read,perm_write,perm_create,perm_unlink
access_partner_user,partner user,model_test_partner,group_user,1,1,1,0
access_partner_manager,partner manager,test.partner,group_manager,1,1,1,1
`

// coreModule returns the "core" test module. Version 2.0 renames the
// "ref" field into "code".
func coreModule(version string, extraMigrations ...migrations.Script) *Module {
	refField := "ref"
	data := corePartnersXML
	var scripts []migrations.Script
	if version == "2.0" {
		refField = "code"
		data = `<erpkit><data>
    <record id="partner_p1" model="test.partner"><field name="name">P1</field></record>
</data></erpkit>`
		scripts = append(scripts, migrations.Script{
			Version: "2.0",
			Stage:   migrations.StagePre,
			Name:    "rename_ref",
			Run: func(cr *models.Cursor, previous string) error {
				_, err := cr.Execute(`ALTER TABLE "test_partner" RENAME COLUMN "ref" TO "code"`)
				return err
			},
		})
	}
	scripts = append(scripts, extraMigrations...)
	return &Module{
		Manifest: Manifest{
			Name:    "core",
			Version: version,
			Data:    []string{"data/partners.xml"},
		},
		Declare: func(d *models.Declarer) {
			d.NewModel("test.partner").AddFields(map[string]models.FieldDefinition{
				"name":   models.Char{Required: true},
				refField: models.Char{},
			})
		},
		Resources: fstest.MapFS{
			"data/partners.xml":            {Data: []byte(data)},
			"resources/partners.xml":       {Data: []byte(coreResourcesXML)},
			"security/ir.model.access.csv": {Data: []byte(coreAccessCSV)},
		},
		Migrations: scripts,
	}
}

func extraModule() *Module {
	return &Module{
		Resources: fstest.MapFS{
			ManifestFileName: {Data: []byte(`
name: extra
version: "1.0"
depends: [core]
data:
  - data/extra.xml
demo:
  - demo/extra_demo.xml
`)},
			"data/extra.xml": {Data: []byte(`<erpkit>
    <record id="core.partner_p1" model="test.partner"><field name="phone">555</field></record>
</erpkit>`)},
			"demo/extra_demo.xml": {Data: []byte(`<erpkit>
    <record id="partner_demo" model="test.partner"><field name="name">Demo</field></record>
</erpkit>`)},
			"resources/views.xml": {Data: []byte(`<erpkit>
    <view id="partner_form_phone" inherit_id="core.partner_form">
        <xpath expr="//field[@name='name']" position="after">
            <field name="phone"/>
        </xpath>
    </view>
</erpkit>`)},
		},
		Declare: func(d *models.Declarer) {
			d.ExtendModel("test.partner").AddFields(map[string]models.FieldDefinition{
				"phone": models.Char{},
			})
		},
	}
}

func bridgeModule() *Module {
	return &Module{
		Manifest: Manifest{
			Name:        "bridge",
			Depends:     []string{"core", "extra"},
			AutoInstall: true,
		},
	}
}

func brokenModule() *Module {
	return &Module{
		Manifest: Manifest{
			Name:    "broken",
			Depends: []string{"core"},
			Data:    []string{"data/broken.xml"},
		},
		Resources: fstest.MapFS{
			"data/broken.xml": {Data: []byte(`<erpkit>
    <record id="partner_ok" model="test.partner"><field name="name">OK</field></record>
    <record id="partner_ko" model="test.partner"><field name="name">KO</field><field name="parent_id" ref="missing"/></record>
</erpkit>`)},
		},
	}
}

func notInstallableModule() *Module {
	installable := false
	return &Module{
		Manifest: Manifest{
			Name:        "lonely",
			Installable: &installable,
		},
	}
}

func newTestDB(t *testing.T) *models.DB {
	db, err := models.Connect(models.ConnectionParams{
		Driver: "sqlite3",
		DBName: filepath.Join(t.TempDir(), "loader_tests.db"),
	})
	if err != nil {
		t.Fatalf("unable to connect to database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestLoader(db *models.DB, mods ...*Module) *Loader {
	ms, err := NewModuleSet(mods...)
	So(err, ShouldBeNil)
	return NewLoader(ms, db)
}

func partnerValue(b *Bundle, xmlID, field string) interface{} {
	var res interface{}
	err := b.Registry.SimulateInNewEnvironment(context.Background(), security.SuperUserID, func(env models.Environment) error {
		rec, err := env.Ref(xmlID)
		if err != nil {
			return err
		}
		res, err = rec.Get(field)
		return err
	})
	So(err, ShouldBeNil)
	return res
}

func writePartner(b *Bundle, xmlID string, vals models.FieldMap) {
	err := b.Registry.ExecuteInNewEnvironment(context.Background(), security.SuperUserID, func(env models.Environment) error {
		rec, err := env.Ref(xmlID)
		if err != nil {
			return err
		}
		return rec.Write(vals)
	})
	So(err, ShouldBeNil)
}

func TestManifest(t *testing.T) {
	Convey("Parsing module manifests", t, func() {
		m, err := ParseManifest([]byte("name: sale\ndepends: [base, mail]\nauto_install: true\n"))
		So(err, ShouldBeNil)
		So(m.Name, ShouldEqual, "sale")
		So(m.Version, ShouldEqual, "1.0")
		So(m.Depends, ShouldResemble, []string{"base", "mail"})
		So(m.AutoInstall, ShouldBeTrue)
		So(m.IsInstallable(), ShouldBeTrue)
		_, err = ParseManifest([]byte("version: 2.0\n"))
		So(exceptions.CodeOf(err), ShouldEqual, "invalid_manifest")
		_, err = ParseManifest([]byte("name: [unclosed"))
		So(exceptions.CodeOf(err), ShouldEqual, "invalid_manifest")
		Convey("Modules cannot be registered twice", func() {
			_, err := NewModuleSet(coreModule("1.0"), coreModule("1.0"))
			So(exceptions.CodeOf(err), ShouldEqual, "duplicate_module")
		})
	})
}

func TestInstall(t *testing.T) {
	Convey("Installing modules", t, func() {
		db := newTestDB(t)
		loader := newTestLoader(db, coreModule("1.0"), extraModule(), brokenModule(), notInstallableModule())
		b, err := loader.Install(context.Background(), []string{"core"}, false)
		So(err, ShouldBeNil)
		So(b.Modules, ShouldResemble, []string{"core"})
		So(b.Registry.IsFrozen(), ShouldBeTrue)
		So(partnerValue(b, "core.partner_p1", "name"), ShouldEqual, "P1")
		So(b.Views.GetByID("core.partner_form"), ShouldNotBeNil)
		_, err = b.Actions.Get("core.partner_action")
		So(err, ShouldBeNil)
		So(b.Registry.Groups().GetGroup("core.group_manager"), ShouldNotBeNil)
		installed, err := loader.installedModules(context.Background())
		So(err, ShouldBeNil)
		So(installed["core"].State, ShouldEqual, models.ModuleInstalled)
		So(installed["core"].Version, ShouldEqual, "1.0")
		Convey("Dependencies are installed first and demo data is loaded on request", func() {
			b, err := loader.Install(context.Background(), []string{"extra"}, true)
			So(err, ShouldBeNil)
			So(b.Modules, ShouldResemble, []string{"core", "extra"})
			So(partnerValue(b, "core.partner_p1", "phone"), ShouldEqual, "555")
			So(partnerValue(b, "extra.partner_demo", "name"), ShouldEqual, "Demo")
			view, err := b.Views.ResolveByID("core.partner_form", "")
			So(err, ShouldBeNil)
			So(view.Fields, ShouldResemble, []string{"name", "phone"})
		})
		Convey("Unknown and non installable modules are rejected", func() {
			_, err := loader.Install(context.Background(), []string{"unknown"}, false)
			So(exceptions.KindOf(err), ShouldEqual, exceptions.KindNotFound)
			_, err = loader.Install(context.Background(), []string{"lonely"}, false)
			So(exceptions.CodeOf(err), ShouldEqual, "not_installable")
		})
		Convey("A failing module is rolled back as a whole", func() {
			_, err := loader.Install(context.Background(), []string{"broken"}, false)
			So(err, ShouldNotBeNil)
			installed, err := loader.installedModules(context.Background())
			So(err, ShouldBeNil)
			So(installed, ShouldContainKey, "core")
			So(installed, ShouldNotContainKey, "broken")
			b, err := loader.Load(context.Background())
			So(err, ShouldBeNil)
			err = b.Registry.SimulateInNewEnvironment(context.Background(), security.SuperUserID, func(env models.Environment) error {
				count, err := env.Pool("test.partner").SearchCount(models.NewCondition().And().Field("name").Equals("OK"))
				So(count, ShouldEqual, int64(0))
				return err
			})
			So(err, ShouldBeNil)
		})
		Convey("Modules cannot be installed while the metadata lock is held", func() {
			err := b.Registry.SimulateInNewEnvironment(context.Background(), security.SuperUserID, func(env models.Environment) error {
				locked, err := env.TryLock(metadataLockKey)
				So(locked, ShouldBeTrue)
				_, installErr := loader.Install(context.Background(), []string{"extra"}, false)
				So(exceptions.CodeOf(installErr), ShouldEqual, "metadata_locked")
				return err
			})
			So(err, ShouldBeNil)
		})
	})
}

func TestAutoInstall(t *testing.T) {
	Convey("Auto-install modules", t, func() {
		db := newTestDB(t)
		Convey("are installed with their last dependency", func() {
			loader := newTestLoader(db, coreModule("1.0"), extraModule(), bridgeModule())
			b, err := loader.Install(context.Background(), []string{"core"}, false)
			So(err, ShouldBeNil)
			So(b.Modules, ShouldResemble, []string{"core"})
			b, err = loader.Install(context.Background(), []string{"extra"}, false)
			So(err, ShouldBeNil)
			So(b.Modules, ShouldResemble, []string{"core", "extra", "bridge"})
		})
		Convey("are installed on load when they become available", func() {
			loader := newTestLoader(db, coreModule("1.0"), extraModule())
			_, err := loader.Install(context.Background(), []string{"extra"}, false)
			So(err, ShouldBeNil)
			loader = newTestLoader(db, coreModule("1.0"), extraModule(), bridgeModule())
			b, err := loader.Load(context.Background())
			So(err, ShouldBeNil)
			So(b.Modules, ShouldResemble, []string{"core", "extra", "bridge"})
			installed, err := loader.installedModules(context.Background())
			So(err, ShouldBeNil)
			So(installed["bridge"].State, ShouldEqual, models.ModuleInstalled)
		})
	})
}

func TestLoad(t *testing.T) {
	Convey("Loading installed modules", t, func() {
		db := newTestDB(t)
		loader := newTestLoader(db, coreModule("1.0"), extraModule())
		_, err := loader.Install(context.Background(), []string{"extra"}, false)
		So(err, ShouldBeNil)
		Convey("does not modify the database", func() {
			b1, err := loader.Load(context.Background())
			So(err, ShouldBeNil)
			writePartner(b1, "core.partner_p1", models.FieldMap{"name": "Changed"})
			b2, err := loader.Load(context.Background())
			So(err, ShouldBeNil)
			So(b2.Modules, ShouldResemble, b1.Modules)
			So(partnerValue(b2, "core.partner_p1", "name"), ShouldEqual, "Changed")
			So(len(b2.Registry.Models()), ShouldEqual, len(b1.Registry.Models()))
		})
		Convey("fails if an installed module is not available", func() {
			_, err := newTestLoader(db, coreModule("1.0")).Load(context.Background())
			So(exceptions.KindOf(err), ShouldEqual, exceptions.KindNotFound)
		})
		Convey("reports the status of available modules", func() {
			status, err := newTestLoader(db, coreModule("2.0"), extraModule(), notInstallableModule()).Status(context.Background())
			So(err, ShouldBeNil)
			So(status, ShouldHaveLength, 3)
			So(status[0].Name, ShouldEqual, "core")
			So(status[0].Version, ShouldEqual, "2.0")
			So(status[0].InstalledVersion, ShouldEqual, "1.0")
			So(status[0].State, ShouldEqual, models.ModuleInstalled)
			So(status[1].Name, ShouldEqual, "extra")
			So(status[1].Depends, ShouldResemble, []string{"core"})
			So(status[2].Name, ShouldEqual, "lonely")
			So(status[2].State, ShouldEqual, models.ModuleUninstalled)
			So(status[2].Installable, ShouldBeFalse)
		})
		Convey("describes modules without a database", func() {
			b, err := newTestLoader(nil, coreModule("1.0"), extraModule()).Describe([]string{"extra"})
			So(err, ShouldBeNil)
			So(b.Modules, ShouldResemble, []string{"core", "extra"})
			So(b.Registry.Get("test.partner"), ShouldNotBeNil)
			_, err = newTestLoader(nil, coreModule("1.0")).Describe([]string{"missing"})
			So(exceptions.KindOf(err), ShouldEqual, exceptions.KindNotFound)
		})
	})
}

func TestUpgrade(t *testing.T) {
	Convey("Upgrading modules", t, func() {
		db := newTestDB(t)
		loader := newTestLoader(db, coreModule("1.0"))
		b, err := loader.Install(context.Background(), []string{"core"}, false)
		So(err, ShouldBeNil)
		writePartner(b, "core.partner_p1", models.FieldMap{"name": "P1 edited"})
		writePartner(b, "core.partner_p2", models.FieldMap{"name": "P2 edited"})
		Convey("Data is reloaded except noupdate records", func() {
			b, err := loader.Upgrade(context.Background(), []string{"core"})
			So(err, ShouldBeNil)
			So(partnerValue(b, "core.partner_p1", "name"), ShouldEqual, "P1")
			So(partnerValue(b, "core.partner_p2", "name"), ShouldEqual, "P2 edited")
		})
		Convey("Only installed modules can be upgraded", func() {
			_, err := loader.Upgrade(context.Background(), []string{"extra"})
			So(exceptions.CodeOf(err), ShouldEqual, "not_installed")
		})
		Convey("Migration scripts run between the installed and declared versions", func() {
			loader := newTestLoader(db, coreModule("2.0"))
			b, err := loader.Upgrade(context.Background(), nil)
			So(err, ShouldBeNil)
			So(partnerValue(b, "core.partner_p1", "code"), ShouldEqual, "R1")
			So(partnerValue(b, "core.partner_p1", "name"), ShouldEqual, "P1")
			installed, err := loader.installedModules(context.Background())
			So(err, ShouldBeNil)
			So(installed["core"].Version, ShouldEqual, "2.0")
		})
		Convey("A failing migration keeps the previous version", func() {
			failing := migrations.Script{
				Version: "2.0",
				Stage:   migrations.StagePost,
				Name:    "z_fail",
				Run: func(cr *models.Cursor, previous string) error {
					return exceptions.Validation("migration_failed", "cannot migrate from %s", previous)
				},
			}
			loader := newTestLoader(db, coreModule("2.0", failing))
			_, err := loader.Upgrade(context.Background(), []string{"core"})
			So(err, ShouldNotBeNil)
			installed, err := loader.installedModules(context.Background())
			So(err, ShouldBeNil)
			So(installed["core"].Version, ShouldEqual, "1.0")
			cols, err := db.Columns("test_partner")
			So(err, ShouldBeNil)
			So(cols, ShouldContainKey, "ref")
			So(cols, ShouldNotContainKey, "code")
		})
	})
}

func TestUninstall(t *testing.T) {
	Convey("Uninstalling modules", t, func() {
		db := newTestDB(t)
		loader := newTestLoader(db, coreModule("1.0"), extraModule())
		_, err := loader.Install(context.Background(), []string{"extra"}, true)
		So(err, ShouldBeNil)
		Convey("Dependent modules are uninstalled too", func() {
			b, err := loader.Uninstall(context.Background(), []string{"core"})
			So(err, ShouldBeNil)
			So(b.Modules, ShouldBeEmpty)
			installed, err := loader.installedModules(context.Background())
			So(err, ShouldBeNil)
			So(installed, ShouldBeEmpty)
		})
		Convey("Records of the module are deleted", func() {
			b, err := loader.Uninstall(context.Background(), []string{"extra"})
			So(err, ShouldBeNil)
			So(b.Modules, ShouldResemble, []string{"core"})
			err = b.Registry.SimulateInNewEnvironment(context.Background(), security.SuperUserID, func(env models.Environment) error {
				_, found, err := env.LookupExternalID("extra.partner_demo", "")
				So(err, ShouldBeNil)
				So(found, ShouldBeFalse)
				count, err := env.Pool(models.ModelDataModel).SearchCount(models.NewCondition().
					And().Field("module").Equals("extra"))
				So(count, ShouldEqual, int64(0))
				return err
			})
			So(err, ShouldBeNil)
			So(partnerValue(b, "core.partner_p1", "name"), ShouldEqual, "P1")
		})
		Convey("Modules that are not installed cannot be uninstalled", func() {
			_, err := loader.Uninstall(context.Background(), []string{"bridge"})
			So(exceptions.CodeOf(err), ShouldEqual, "not_installed")
		})
	})
}
