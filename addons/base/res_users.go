// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package base

import (
	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/password"
)

// UsersModel is the name of the users model
const UsersModel = "res.users"

func declareResUsers(d *models.Declarer) {
	d.NewModel(UsersModel).
		SetDescription("Users").
		AddFields(map[string]models.FieldDefinition{
			"name":       models.Char{Required: true},
			"login":      models.Char{Required: true, Unique: true, Index: true},
			"password":   models.Char{NoCopy: true, Groups: []string{GroupSystem}},
			"active":     models.Boolean{Default: models.DefaultValue(true)},
			"lang":       models.Char{Size: 16},
			"login_date": models.DateTime{String: "Latest Connection", ReadOnly: true, NoCopy: true},
			"company_id": models.Many2One{RelationModel: CompanyModel},
			"partner_id": models.Many2One{RelationModel: PartnerModel, OnDelete: models.Restrict},
			"group_ids":  models.Many2Many{String: "Groups", RelationModel: GroupsModel, M2MLinkTable: "res_groups_users_rel", M2MOurField: "uid", M2MTheirField: "gid"},
		}).
		SetDefaultOrder("login").
		ExtendMethod("create", func(rc *models.RecordCollection, args ...interface{}) (interface{}, error) {
			args, err := hashPasswordArg(args, 0)
			if err != nil {
				return nil, err
			}
			return rc.Super(args...)
		}).
		ExtendMethod("write", func(rc *models.RecordCollection, args ...interface{}) (interface{}, error) {
			args, err := hashPasswordArg(args, 0)
			if err != nil {
				return nil, err
			}
			return rc.Super(args...)
		}).
		ExtendMethod("unlink", func(rc *models.RecordCollection, args ...interface{}) (interface{}, error) {
			for _, id := range rc.Ids() {
				if id == security.SuperUserID {
					return nil, exceptions.Validation("superuser_unlink", "The administrator cannot be deleted")
				}
			}
			return rc.Super(args...)
		})
}

// hashPasswordArg returns args where the password of the values map at
// index i is replaced by its hash.
func hashPasswordArg(args []interface{}, i int) ([]interface{}, error) {
	if len(args) <= i {
		return args, nil
	}
	var vals models.FieldMap
	switch v := args[i].(type) {
	case models.FieldMap:
		vals = v
	case map[string]interface{}:
		vals = models.FieldMap(v)
	default:
		return args, nil
	}
	pwd, ok := vals["password"].(string)
	if !ok || pwd == "" || password.IsHashed(pwd) {
		return args, nil
	}
	hash, err := password.Hash(pwd)
	if err != nil {
		return nil, exceptions.System("password_hash", err)
	}
	newVals := make(models.FieldMap, len(vals))
	for k, v := range vals {
		newVals[k] = v
	}
	newVals["password"] = hash
	res := append([]interface{}(nil), args...)
	res[i] = newVals
	return res, nil
}
