// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package base

import (
	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
)

// GroupsModel is the name of the model of access groups
const GroupsModel = "res.groups"

func declareResGroups(d *models.Declarer) {
	d.NewModel(GroupsModel).
		SetDescription("Access Groups").
		AddFields(map[string]models.FieldDefinition{
			"name":     models.Char{Required: true},
			"group_id": models.Char{String: "Group ID", Required: true, Unique: true, Help: "External id of the group in the security registry"},
			"user_ids": models.Many2Many{String: "Users", RelationModel: UsersModel, M2MLinkTable: "res_groups_users_rel", M2MOurField: "gid", M2MTheirField: "uid"},
		}).
		SetDefaultOrder("name").
		AddConstraint("_check_group_id", "group_id").
		AddMethod("_check_group_id", func(rc *models.RecordCollection, _ ...interface{}) (interface{}, error) {
			gid, err := rc.Get("group_id")
			if err != nil {
				return nil, err
			}
			if rc.Env().Registry().Groups().GetGroup(gid.(string)) == nil {
				return nil, exceptions.Validation("unknown_group", "Group %s is not declared by any module", gid)
			}
			return nil, nil
		})
}

// userGroups returns the ids of the groups of the user of env, as recorded
// in the group_ids field of res.users. Groups unknown to the registry are
// ignored.
func userGroups(env models.Environment) ([]string, error) {
	users, err := env.Pool(UsersModel).Search(models.NewCondition().And().Field("id").Equals(env.Uid()))
	if err != nil || users.IsEmpty() {
		return nil, err
	}
	groups, err := users.GetRecord("group_ids")
	if err != nil {
		return nil, err
	}
	vals, err := groups.Read("group_id")
	if err != nil {
		return nil, err
	}
	res := make([]string, 0, len(vals))
	for _, v := range vals {
		gid, _ := v["group_id"].(string)
		if env.Registry().Groups().GetGroup(gid) == nil {
			log.Debug("Ignoring unknown group", "group", gid, "uid", env.Uid())
			continue
		}
		res = append(res, gid)
	}
	return res, nil
}
