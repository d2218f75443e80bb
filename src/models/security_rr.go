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
	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
)

// A RecordRule allow to grant a group some permissions
// on a selection of records.
// - If Group is empty, then the RecordRule is global and applies to all
// users. Global rules restrict: a record must satisfy all of them.
// - Group rules are permissive: a record must satisfy at least one rule
// of the user's groups.
// - Condition is the filter to apply on the model to retrieve
// the records on which to allow the Perms permission.
type RecordRule struct {
	ID        string
	Name      string
	Model     string
	Group     string
	Condition *Condition
	Perms     security.Permission
}

// IsGlobal returns true if this rule applies to all users
func (rr *RecordRule) IsGlobal() bool {
	return rr.Group == ""
}

// UserGroups returns the ids of the groups of the environment's user,
// including implied groups and the everyone group.
func (env Environment) UserGroups() (map[string]bool, error) {
	if groups, ok := env.state.userGroups[env.uid]; ok {
		return groups, nil
	}
	reg := env.registry
	var groups map[string]bool
	if reg.groupResolver != nil {
		direct, err := reg.groupResolver(env.Sudo())
		if err != nil {
			return nil, err
		}
		groups = reg.groups.Expand(append(direct, reg.groups.DirectGroups(env.uid)...))
	} else {
		groups = reg.groups.UserGroups(env.uid)
	}
	env.state.userGroups[env.uid] = groups
	return groups, nil
}

// HasGroup returns true if the user of env belongs to the given group
func (env Environment) HasGroup(groupID string) (bool, error) {
	if env.uid == security.SuperUserID {
		return true, nil
	}
	groups, err := env.UserGroups()
	if err != nil {
		return false, err
	}
	return groups[groupID], nil
}

// CheckModel returns an AccessDenied error if the user of env is not
// allowed perm on the given model.
func CheckModel(env Environment, model string, perm security.Permission) error {
	if env.IsSuperUser() {
		return nil
	}
	groups, err := env.UserGroups()
	if err != nil {
		return err
	}
	if !env.registry.acl.CheckPermission(model, groups, perm) {
		return exceptions.AccessDenied("model_access", "You are not allowed to %s records of %s", perm, model)
	}
	return nil
}

// ApplyRowRules returns cond restricted by the row rules of the given model
// for the user of env and the given permission.
func ApplyRowRules(env Environment, model string, perm security.Permission, cond *Condition) (*Condition, error) {
	rule, err := rowRulesCondition(env, model, perm)
	if err != nil || rule == nil {
		return cond, err
	}
	if cond.IsEmpty() {
		return rule, nil
	}
	return cond.AndCond(rule), nil
}

// rowRulesCondition returns the condition that records of model must
// satisfy for the user of env to be allowed perm, or nil if there is no
// restriction.
func rowRulesCondition(env Environment, model string, perm security.Permission) (*Condition, error) {
	if env.IsSuperUser() {
		return nil, nil
	}
	mi := env.registry.Get(model)
	if mi == nil {
		return nil, exceptions.NotFound("unknown_model", "Unknown model %s", model)
	}
	if len(mi.rules) == 0 {
		return nil, nil
	}
	groups, err := env.UserGroups()
	if err != nil {
		return nil, err
	}
	var global, permissive *Condition
	for _, rule := range mi.rules {
		if rule.Perms&perm == 0 {
			continue
		}
		switch {
		case rule.IsGlobal():
			global = andConditions(global, rule.Condition)
		case groups[rule.Group]:
			permissive = orConditions(permissive, rule.Condition)
		}
	}
	return andConditions(global, permissive), nil
}

// andConditions returns c1 AND c2, where nil is the neutral element
func andConditions(c1, c2 *Condition) *Condition {
	switch {
	case c1 == nil:
		return c2
	case c2 == nil:
		return c1
	}
	return c1.AndCond(c2)
}

// orConditions returns c1 OR c2, where nil is the neutral element. An
// empty condition matches all records.
func orConditions(c1, c2 *Condition) *Condition {
	switch {
	case c1 == nil:
		return c2
	case c2 == nil:
		return c1
	case c1.IsEmpty() || c2.IsEmpty():
		return NewCondition()
	}
	return c1.OrCond(c2)
}

// CheckField returns an AccessDenied error if the user of env is not
// allowed to access the given field. Fields without groups are accessible
// to every user allowed on the model.
func CheckField(env Environment, model, field string, perm security.Permission) error {
	if env.IsSuperUser() {
		return nil
	}
	mi := env.registry.Get(model)
	if mi == nil {
		return exceptions.NotFound("unknown_model", "Unknown model %s", model)
	}
	fi := mi.fields[field]
	if fi == nil {
		return exceptions.Validation("unknown_field", "Unknown field %s in model %s", field, model)
	}
	if len(fi.groups) == 0 {
		return nil
	}
	groups, err := env.UserGroups()
	if err != nil {
		return err
	}
	for _, g := range fi.groups {
		if groups[g] {
			return nil
		}
	}
	return exceptions.AccessDenied("field_access", "You are not allowed to %s field %s of %s", perm, field, model)
}

// checkModelAccess checks that the user may perform perm on this model
func (rc *RecordCollection) checkModelAccess(perm security.Permission) error {
	return CheckModel(rc.env, rc.model.name, perm)
}

// checkRecordsAccess checks that all the records of this RecordCollection
// exist and that the row rules of perm allow them. Missing records give
// a NotFound error and forbidden records an AccessDenied error.
func (rc *RecordCollection) checkRecordsAccess(perm security.Permission) error {
	if rc.IsEmpty() {
		return nil
	}
	existing, err := rc.existingIDs()
	if err != nil {
		return err
	}
	if missing := subtractIDs(rc.ids, existing); len(missing) > 0 {
		return exceptions.NotFound("missing_record", "Records %v of %s do not exist or have been deleted", missing, rc.model.name)
	}
	rule, err := rowRulesCondition(rc.env, rc.model.name, perm)
	if err != nil || rule == nil {
		return err
	}
	cond := NewCondition().And().Field("id").In(rc.ids).AndCond(rule)
	allowed, err := rc.searchIDs(cond, nil, 0, 0)
	if err != nil {
		return err
	}
	if forbidden := subtractIDs(rc.ids, allowed); len(forbidden) > 0 {
		return exceptions.AccessDenied("record_rule", "You are not allowed to %s records %v of %s", perm, forbidden, rc.model.name)
	}
	return nil
}
