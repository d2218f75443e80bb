// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package models

import (
	"testing"

	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	. "github.com/smartystreets/goconvey/convey"
)

// testCompanyDeclarer declares models embedding other models and models
// checking the company of their references.
func testCompanyDeclarer() *Declarer {
	d := NewDeclarer("test_company")

	d.NewModel("test.company").AddFields(map[string]FieldDefinition{
		"name": Char{Required: true},
	})

	d.NewModel("test.contact").AddFields(map[string]FieldDefinition{
		"name":  Char{Required: true},
		"email": Char{},
	})

	d.NewModel("test.employee").
		Delegate("test.contact", "contact_id").
		AddFields(map[string]FieldDefinition{
			"job": Char{},
		})

	d.NewModel("test.project").AddFields(map[string]FieldDefinition{
		"name":       Char{Required: true},
		"company_id": Many2One{RelationModel: "test.company"},
	})

	d.NewModel("test.task").
		SetCheckCompany().
		AddFields(map[string]FieldDefinition{
			"name":       Char{Required: true},
			"company_id": Many2One{RelationModel: "test.company"},
			"project_id": Many2One{RelationModel: "test.project", CheckCompany: true},
		})
	return d
}

func TestDelegation(t *testing.T) {
	reg := newTestRegistry(t, testCompanyDeclarer())
	Convey("Models embedding another model", t, func() {
		employee := reg.MustGet("test.employee")
		So(employee.HasField("contact_id"), ShouldBeTrue)
		So(employee.Field("contact_id").Required(), ShouldBeTrue)
		So(employee.Field("email").Delegate(), ShouldEqual, "contact_id")
		So(employee.Field("job").Delegate(), ShouldBeEmpty)
		So(inTransaction(reg, security.SuperUserID, func(env Environment) error {
			emp, err := env.Pool("test.employee").Create(FieldMap{"name": "Alice", "email": "alice@example.com", "job": "Accountant"})
			So(err, ShouldBeNil)
			contact, err := emp.GetRecord("contact_id")
			So(err, ShouldBeNil)
			So(contact.Len(), ShouldEqual, 1)
			Convey("Creating a record creates its parent with the delegated values", func() {
				vals, err := contact.Read("name", "email")
				So(err, ShouldBeNil)
				So(vals[0]["name"], ShouldEqual, "Alice")
				So(vals[0]["email"], ShouldEqual, "alice@example.com")
				vals, err = emp.Read("name", "email", "job")
				So(err, ShouldBeNil)
				So(vals[0]["name"], ShouldEqual, "Alice")
				So(vals[0]["job"], ShouldEqual, "Accountant")
			})
			Convey("Delegated fields are written on the parent", func() {
				So(emp.Write(FieldMap{"email": "a.smith@example.com", "job": "Controller"}), ShouldBeNil)
				email, err := contact.Get("email")
				So(err, ShouldBeNil)
				So(email, ShouldEqual, "a.smith@example.com")
			})
			Convey("Delegated fields can be searched", func() {
				found, err := env.Pool("test.employee").Search(NewCondition().And().Field("email").Equals("alice@example.com"))
				So(err, ShouldBeNil)
				So(found.Ids(), ShouldResemble, emp.Ids())
			})
			Convey("An existing parent can be given", func() {
				bob, err := env.Pool("test.contact").Create(FieldMap{"name": "Bob"})
				So(err, ShouldBeNil)
				emp2, err := env.Pool("test.employee").Create(FieldMap{"contact_id": bob.ID(), "job": "Clerk"})
				So(err, ShouldBeNil)
				name, err := emp2.Get("name")
				So(err, ShouldBeNil)
				So(name, ShouldEqual, "Bob")
				count, err := env.Pool("test.contact").SearchCount(nil)
				So(err, ShouldBeNil)
				So(count, ShouldEqual, int64(2))
			})
			Convey("Deleting the parent deletes the record", func() {
				So(contact.Unlink(), ShouldBeNil)
				count, err := env.Pool("test.employee").SearchCount(nil)
				So(err, ShouldBeNil)
				So(count, ShouldEqual, int64(0))
			})
			return nil
		}), ShouldBeNil)
	})
}

func TestCheckCompany(t *testing.T) {
	reg := newTestRegistry(t, testCompanyDeclarer())
	Convey("References checked against the record company", t, func() {
		So(inTransaction(reg, security.SuperUserID, func(env Environment) error {
			companies := env.Pool("test.company")
			acme, err := companies.Create(FieldMap{"name": "ACME"})
			So(err, ShouldBeNil)
			globex, err := companies.Create(FieldMap{"name": "Globex"})
			So(err, ShouldBeNil)
			projects := env.Pool("test.project")
			acmeProject, err := projects.Create(FieldMap{"name": "Rollout", "company_id": acme.ID()})
			So(err, ShouldBeNil)
			globexProject, err := projects.Create(FieldMap{"name": "Audit", "company_id": globex.ID()})
			So(err, ShouldBeNil)
			sharedProject, err := projects.Create(FieldMap{"name": "Shared"})
			So(err, ShouldBeNil)
			tasks := env.Pool("test.task")
			Convey("References to the same company are accepted", func() {
				_, err := tasks.Create(FieldMap{"name": "T1", "company_id": acme.ID(), "project_id": acmeProject.ID()})
				So(err, ShouldBeNil)
			})
			Convey("References to records without company are accepted", func() {
				_, err := tasks.Create(FieldMap{"name": "T2", "company_id": acme.ID(), "project_id": sharedProject.ID()})
				So(err, ShouldBeNil)
				_, err = tasks.Create(FieldMap{"name": "T3", "project_id": globexProject.ID()})
				So(err, ShouldBeNil)
			})
			Convey("References to another company are rejected on create", func() {
				_, err := tasks.Create(FieldMap{"name": "T4", "company_id": acme.ID(), "project_id": globexProject.ID()})
				So(exceptions.KindOf(err), ShouldEqual, exceptions.KindValidation)
				So(exceptions.CodeOf(err), ShouldEqual, "company_mismatch")
			})
			Convey("References to another company are rejected on write", func() {
				task, err := tasks.Create(FieldMap{"name": "T5", "company_id": acme.ID(), "project_id": acmeProject.ID()})
				So(err, ShouldBeNil)
				err = task.Set("project_id", globexProject.ID())
				So(exceptions.CodeOf(err), ShouldEqual, "company_mismatch")
				err = task.Set("company_id", globex.ID())
				So(exceptions.CodeOf(err), ShouldEqual, "company_mismatch")
			})
			return nil
		}), ShouldBeNil)
	})
}
