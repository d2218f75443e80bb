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
	"fmt"
	"time"

	"github.com/hexya-erp/erpkit/src/models/types"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/nbutils"
)

// Names of the models declared by the framework
const (
	ModelDataModel = "ir.model.data"
	ModuleModel    = "ir.module.module"
)

// Module states
const (
	ModuleUninstalled = "uninstalled"
	ModuleInstalled   = "installed"
	ModuleToUpgrade   = "to upgrade"
)

// frameworkDeclarer returns the declarations of the framework module: the
// base mixin inherited by every model and the metadata models.
func frameworkDeclarer() *Declarer {
	d := NewDeclarer(FrameworkModule)
	declareBaseMixin(d)
	declareMetadataModels(d)
	return d
}

// declareBaseMixin creates the mixin that implements all the necessary
// base methods of a model
func declareBaseMixin(d *Declarer) {
	base := d.NewMixinModel(BaseMixin)
	base.AddFields(map[string]FieldDefinition{
		"id":           Integer{String: "ID", ReadOnly: true, NoCopy: true},
		"create_date":  DateTime{String: "Created on", ReadOnly: true, NoCopy: true},
		"create_uid":   Integer{String: "Created by", ReadOnly: true, NoCopy: true},
		"write_date":   DateTime{String: "Last Updated on", ReadOnly: true, NoCopy: true},
		"write_uid":    Integer{String: "Last Updated by", ReadOnly: true, NoCopy: true},
		"display_name": Char{String: "Display Name", Compute: "_compute_display_name"},
		"last_update":  DateTime{String: "Last Modified on", Compute: "_compute_last_update"},
	})
	declareCRUDMethods(base)
	declareSearchMethods(base)
	declareBaseComputeMethods(base)
}

// declareBaseComputeMethods declares methods used to compute fields
func declareBaseComputeMethods(base *ModelDecl) {
	base.AddMethod("_compute_display_name",
		func(rc *RecordCollection, _ ...interface{}) (interface{}, error) {
			if !rc.model.HasField("name") {
				return FieldMap{"display_name": fmt.Sprintf("%s,%d", rc.model.name, rc.ID())}, nil
			}
			name, err := rc.Get("name")
			if err != nil {
				return nil, err
			}
			return FieldMap{"display_name": fmt.Sprintf("%v", name)}, nil
		})

	base.AddMethod("_compute_last_update",
		func(rc *RecordCollection, _ ...interface{}) (interface{}, error) {
			vals, err := rc.read([]string{"write_date", "create_date"})
			if err != nil {
				return nil, err
			}
			for _, f := range []string{"write_date", "create_date"} {
				if t, _ := vals[0][f].(time.Time); !t.IsZero() {
					return FieldMap{"last_update": t}, nil
				}
			}
			return FieldMap{"last_update": now()}, nil
		})
}

// declareCRUDMethods declares RecordSet CRUD methods
func declareCRUDMethods(base *ModelDecl) {
	base.AddMethod("create",
		func(rc *RecordCollection, args ...interface{}) (interface{}, error) {
			vals, err := argFieldMap(args, 0)
			if err != nil {
				return nil, err
			}
			return rc.create(vals)
		})

	base.AddMethod("write",
		func(rc *RecordCollection, args ...interface{}) (interface{}, error) {
			vals, err := argFieldMap(args, 0)
			if err != nil {
				return nil, err
			}
			return true, rc.write(vals)
		})

	base.AddMethod("unlink",
		func(rc *RecordCollection, _ ...interface{}) (interface{}, error) {
			return true, rc.unlink()
		})

	base.AddMethod("read",
		func(rc *RecordCollection, args ...interface{}) (interface{}, error) {
			fields, err := argStrings(args, 0)
			if err != nil {
				return nil, err
			}
			return rc.read(fields)
		})

	base.AddMethod("copy",
		func(rc *RecordCollection, args ...interface{}) (interface{}, error) {
			overrides, err := argFieldMap(args, 0)
			if err != nil {
				return nil, err
			}
			vals, err := rc.copyData(overrides)
			if err != nil {
				return nil, err
			}
			return rc.withIds(nil).Call("create", vals)
		})

	base.AddMethod("default_get",
		func(rc *RecordCollection, args ...interface{}) (interface{}, error) {
			fields, err := argStrings(args, 0)
			if err != nil {
				return nil, err
			}
			return rc.defaultGet(fields)
		})

	base.AddMethod("fields_get",
		func(rc *RecordCollection, args ...interface{}) (interface{}, error) {
			fields, err := argStrings(args, 0)
			if err != nil {
				return nil, err
			}
			return rc.fieldsGet(fields)
		})

	base.AddMethod("name_get",
		func(rc *RecordCollection, _ ...interface{}) (interface{}, error) {
			return rc.nameGet()
		})
}

// searchParamsArg returns the search parameters given as first argument,
// either as SearchParams or as a condition.
func searchParamsArg(args []interface{}) (SearchParams, error) {
	if len(args) > 0 {
		if p, ok := args[0].(SearchParams); ok {
			return p, nil
		}
	}
	cond, err := argCondition(args, 0)
	return SearchParams{Condition: cond}, err
}

// declareSearchMethods declares the search related methods
func declareSearchMethods(base *ModelDecl) {
	base.AddMethod("search",
		func(rc *RecordCollection, args ...interface{}) (interface{}, error) {
			params, err := searchParamsArg(args)
			if err != nil {
				return nil, err
			}
			return rc.search(params)
		})

	base.AddMethod("search_count",
		func(rc *RecordCollection, args ...interface{}) (interface{}, error) {
			cond, err := argCondition(args, 0)
			if err != nil {
				return nil, err
			}
			return rc.searchCount(cond)
		})

	base.AddMethod("search_read",
		func(rc *RecordCollection, args ...interface{}) (interface{}, error) {
			params, err := searchParamsArg(args)
			if err != nil {
				return nil, err
			}
			fields, err := argStrings(args, 1)
			if err != nil {
				return nil, err
			}
			return rc.searchRead(params, fields)
		})

	base.AddMethod("read_group",
		func(rc *RecordCollection, args ...interface{}) (interface{}, error) {
			if len(args) == 0 {
				return nil, exceptions.Validation("invalid_argument", "read_group expects its parameters")
			}
			params, ok := args[0].(ReadGroupParams)
			if !ok {
				return nil, exceptions.Validation("invalid_argument", "read_group expects ReadGroupParams, got %T", args[0])
			}
			return rc.readGroup(params)
		})

	base.AddMethod("name_search",
		func(rc *RecordCollection, args ...interface{}) (interface{}, error) {
			var name string
			if len(args) > 0 && args[0] != nil {
				name = fmt.Sprintf("%v", args[0])
			}
			limit := int64(8)
			if len(args) > 1 {
				l, err := nbutils.CastToInteger(args[1])
				if err != nil {
					return nil, exceptions.Validation("invalid_argument", "invalid limit %v", args[1])
				}
				limit = l
			}
			cond := NewCondition()
			if name != "" && rc.model.HasField("name") {
				cond = cond.And().Field("name").IContains(name)
			}
			recs, err := rc.search(SearchParams{Condition: cond, Limit: int(limit)})
			if err != nil {
				return nil, err
			}
			return recs.nameGet()
		})
}

// declareMetadataModels declares the models holding external ids and
// installed modules.
func declareMetadataModels(d *Declarer) {
	d.NewModel(ModelDataModel).
		SetDescription("External Identifiers").
		AddFields(map[string]FieldDefinition{
			"module":   Char{Required: true, Index: true},
			"name":     Char{Required: true, Index: true},
			"model":    Char{Required: true},
			"res_id":   Integer{Index: true},
			"noupdate": Boolean{},
		}).
		AddUniqueConstraint("module_name_uniq", "External ids must be unique per module", "module", "name").
		SetDefaultOrder("module", "name")

	d.NewModel(ModuleModel).
		SetDescription("Modules").
		AddFields(map[string]FieldDefinition{
			"name":    Char{Required: true, Unique: true},
			"version": Char{},
			"state": Selection{
				Selection: types.Selection{
					ModuleUninstalled: "Not Installed",
					ModuleInstalled:   "Installed",
					ModuleToUpgrade:   "To be upgraded",
				},
				Default: DefaultValue(ModuleUninstalled),
			},
			"auto_install": Boolean{},
			"application":  Boolean{},
			"summary":      Char{},
		}).
		SetDefaultOrder("name")
}
