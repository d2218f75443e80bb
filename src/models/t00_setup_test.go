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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/logging"
	"github.com/spf13/viper"
)

const (
	testUserU1 int64 = 2
	testUserU2 int64 = 3
)

const testGroupG1 = "test_base.group_g1"

func TestMain(m *testing.M) {
	viper.Set("LogLevel", "panic")
	if os.Getenv("ERPKIT_DEBUG") != "" {
		viper.Set("LogLevel", "debug")
		viper.Set("LogStdout", true)
	}
	logging.Initialize()
	os.Exit(m.Run())
}

// testBaseDeclarer declares the models of the test_base module
func testBaseDeclarer() *Declarer {
	d := NewDeclarer("test_base")

	d.NewModel("test.tag").AddFields(map[string]FieldDefinition{
		"name":  Char{Required: true},
		"color": Integer{},
	})

	d.NewMixinModel("test.mixin.named").
		AddFields(map[string]FieldDefinition{
			"code": Char{Size: 16},
		}).
		AddMethod("describe", func(rc *RecordCollection, _ ...interface{}) (interface{}, error) {
			code, err := rc.Get("code")
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("code:%s", code), nil
		})

	d.NewModel("test.partner").
		AddFields(map[string]FieldDefinition{
			"name":      Char{Required: true},
			"email":     Char{Groups: []string{testGroupG1}},
			"active":    Boolean{Default: DefaultValue(true)},
			"owner_uid": Integer{Index: true},
			"age":       Integer{},
			"score":     Float{},
			"birthday":  Date{},
			"parent_id": Many2One{RelationModel: "test.partner"},
			"child_ids": One2Many{RelationModel: "test.partner", ReverseFK: "parent_id"},
			"tag_ids":   Many2Many{RelationModel: "test.tag"},
			"order_ids": One2Many{RelationModel: "test.order", ReverseFK: "partner_id"},
		}).
		AddMethod("_check_age", func(rc *RecordCollection, _ ...interface{}) (interface{}, error) {
			age, err := rc.Get("age")
			if err != nil {
				return nil, err
			}
			if age.(int64) < 0 {
				return nil, exceptions.Validation("negative_age", "Age cannot be negative")
			}
			return nil, nil
		}).
		AddConstraint("_check_age", "age").
		SetDefaultOrder("name")

	d.NewModel("test.order").
		AddFields(map[string]FieldDefinition{
			"name":         Char{},
			"partner_id":   Many2One{RelationModel: "test.partner", OnDelete: Restrict},
			"partner_name": Char{Related: "partner_id.name"},
			"price":        Float{},
			"qty":          Integer{},
			"total":        Float{Compute: "_compute_total", Depends: []string{"price", "qty"}, Stored: true},
			"line_ids":     One2Many{RelationModel: "test.order.line", ReverseFK: "order_id"},
			"amount":       Float{Compute: "_compute_amount", Depends: []string{"line_ids.amount"}, Stored: true},
			"date":         Date{},
		}).
		AddMethod("_compute_total", func(rc *RecordCollection, _ ...interface{}) (interface{}, error) {
			vals, err := rc.Read("price", "qty")
			if err != nil {
				return nil, err
			}
			return FieldMap{"total": vals[0]["price"].(float64) * float64(vals[0]["qty"].(int64))}, nil
		}).
		AddMethod("_compute_amount", func(rc *RecordCollection, _ ...interface{}) (interface{}, error) {
			lines, err := rc.GetRecord("line_ids")
			if err != nil {
				return nil, err
			}
			vals, err := lines.Read("amount")
			if err != nil {
				return nil, err
			}
			var total float64
			for _, v := range vals {
				total += v["amount"].(float64)
			}
			return FieldMap{"amount": total}, nil
		})

	d.NewModel("test.order.line").AddFields(map[string]FieldDefinition{
		"order_id": Many2One{RelationModel: "test.order", Required: true, OnDelete: Cascade},
		"amount":   Float{},
	})

	d.NewModel("test.x").
		AddFields(map[string]FieldDefinition{
			"a": Integer{},
		}).
		AddMethod("m", func(rc *RecordCollection, _ ...interface{}) (interface{}, error) {
			return int64(5), nil
		})
	return d
}

// testExtDeclarer declares the extensions of the test_ext module
func testExtDeclarer() *Declarer {
	d := NewDeclarer("test_ext", "test_base")
	d.ExtendModel("test.x").
		AddFields(map[string]FieldDefinition{
			"b": Integer{Default: DefaultValue(7)},
		}).
		ExtendMethod("m", func(rc *RecordCollection, args ...interface{}) (interface{}, error) {
			res, err := rc.Super(args...)
			if err != nil {
				return nil, err
			}
			return res.(int64) + 10, nil
		})
	d.ExtendModel("test.partner").InheritModel("test.mixin.named")
	return d
}

// newTestRegistry finalizes the given declarers into a registry bound to
// a new SQLite database with an up to date schema.
func newTestRegistry(t *testing.T, declarers ...*Declarer) *Registry {
	t.Helper()
	reg, err := Finalize(declarers)
	if err != nil {
		t.Fatalf("unable to finalize registry: %v", err)
	}
	db, err := Connect(ConnectionParams{
		Driver: "sqlite3",
		DBName: filepath.Join(t.TempDir(), "models_tests.db"),
	})
	if err != nil {
		t.Fatalf("unable to connect to database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	reg.Bind(db)
	if err := reg.ExecuteInNewEnvironment(context.Background(), security.SuperUserID, SyncDatabase); err != nil {
		t.Fatalf("unable to sync database: %v", err)
	}
	return reg
}

// newFullTestRegistry returns a registry with the test_base and test_ext
// modules, test users and access rights.
func newFullTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := newTestRegistry(t, testBaseDeclarer(), testExtDeclarer())
	if _, err := reg.Groups().NewGroup(testGroupG1, "Group G1"); err != nil {
		t.Fatalf("unable to create group: %v", err)
	}
	reg.Groups().AddMembership(testUserU1, testGroupG1)
	reg.Groups().AddMembership(testUserU2, testGroupG1)
	for _, model := range []string{"test.partner", "test.tag", "test.order", "test.order.line", "test.x"} {
		err := reg.AddAccessRule(security.AccessRule{
			ID:    "access_" + model,
			Model: model,
			Group: testGroupG1,
			Perm:  security.All,
		})
		if err != nil {
			t.Fatalf("unable to add access rule: %v", err)
		}
	}
	return reg
}

// inTransaction runs fnct as uid in a transaction that is rolled back
func inTransaction(reg *Registry, uid int64, fnct func(env Environment) error) error {
	return reg.SimulateInNewEnvironment(context.Background(), uid, fnct)
}
