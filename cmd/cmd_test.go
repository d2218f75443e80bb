// Copyright 2018 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	_ "github.com/hexya-erp/erpkit/addons/base"
	_ "github.com/hexya-erp/erpkit/addons/mail"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/viper"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	viper.Set("LogLevel", "panic")
	os.Exit(m.Run())
}

// run executes the command line with the given arguments and returns its
// output.
func run(args ...string) (string, error) {
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&out)
	RootCmd.SetArgs(args)
	err := RootCmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	viper.Set("DB.Driver", "sqlite3")
	viper.Set("DB.Name", filepath.Join(dir, "cmd_tests.db"))
	Convey("Testing the command line", t, func() {
		Convey("Arguments are validated", func() {
			_, err := run("install")
			So(exceptions.KindOf(err), ShouldEqual, exceptions.KindValidation)
			So(exceptions.ExitCode(err), ShouldEqual, 2)
			_, err = run("dump")
			So(exceptions.KindOf(err), ShouldEqual, exceptions.KindValidation)
			_, err = run("upgrade")
			So(exceptions.CodeOf(err), ShouldEqual, "invalid_argument")
		})
		Convey("Unknown modules cannot be installed", func() {
			_, err := run("install", "unknown")
			So(exceptions.KindOf(err), ShouldEqual, exceptions.KindNotFound)
			So(exceptions.ExitCode(err), ShouldEqual, 4)
		})
		Convey("Modules can be installed, listed, upgraded and uninstalled", func() {
			out, err := run("install", "base", "--demo")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "Installed modules: base")
			out, err = run("install", "mail")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "Installed modules: base, mail")
			out, err = run("module", "list")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "NAME")
			So(out, ShouldContainSubstring, "mail")
			So(out, ShouldContainSubstring, "installed")
			out, err = run("cron")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "failed: 0")
			out, err = run("upgrade", "base")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "Loaded modules: base, mail")
			out, err = run("uninstall", "mail")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "Remaining modules: base")
			_, err = run("upgrade", "mail")
			So(exceptions.CodeOf(err), ShouldEqual, "not_installed")
			backup := filepath.Join(dir, "backup.db")
			out, err = run("dump", backup)
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, backup)
			_, err = os.Stat(backup)
			So(err, ShouldBeNil)
		})
		Convey("Translations of a module can be exported", func() {
			poFile := filepath.Join(dir, "mail_fr.po")
			_, err := run("i18n", "export", "mail", "fr", "--output", poFile)
			So(err, ShouldBeNil)
			data, err := os.ReadFile(poFile)
			So(err, ShouldBeNil)
			content := string(data)
			So(content, ShouldContainSubstring, "\"Language: fr\\n\"")
			So(content, ShouldContainSubstring, "msgctxt \"field:mail.activity.summary\"\nmsgid \"Summary\"\nmsgstr \"Résumé\"")
			So(content, ShouldContainSubstring, "msgctxt \"selection:mail.activity.state\"\nmsgid \"Overdue\"\nmsgstr \"En retard\"")
			So(content, ShouldContainSubstring, "msgctxt \"resource:mail.action_activities\"\nmsgid \"Activities\"\nmsgstr \"\"")
			So(content, ShouldContainSubstring, "msgid \"message_post requires a body\"")
			So(content, ShouldNotContainSubstring, "field:res.partner.name")
			_, err = run("i18n", "export", "mail", "not a language", "--output", poFile)
			So(exceptions.CodeOf(err), ShouldEqual, "invalid_lang")
		})
		Convey("Errors are printed with their kind", func() {
			var buf bytes.Buffer
			printError(&buf, exceptions.NotFound("unknown_module", "module %s is not available", "foo"))
			So(buf.String(), ShouldEqual, "not_found: module foo is not available\n")
		})
		Convey("A configuration file can be scaffolded", func() {
			cfgFile := filepath.Join(dir, "erpkit.toml")
			_, err := run("config", "scaffold", "-c", cfgFile)
			So(err, ShouldBeNil)
			data, err := os.ReadFile(cfgFile)
			So(err, ShouldBeNil)
			So(string(data), ShouldContainSubstring, "sqlite3")
			So(string(data), ShouldContainSubstring, "jobtimeout")
		})
	})
}
