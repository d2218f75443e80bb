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
	"sort"
	"sync"
)

// An AccessRule grants permissions on a model to the members of a group.
// A rule with an empty Group applies to every user.
type AccessRule struct {
	ID    string
	Name  string
	Model string
	Group string
	Perm  Permission
}

// An AccessControlList holds the model access rules of the application.
//
// A model without any rule can only be accessed by the superuser.
type AccessControlList struct {
	sync.RWMutex
	rules map[string]map[string]AccessRule
}

// NewAccessControlList returns a pointer to a new empty AccessControlList
func NewAccessControlList() *AccessControlList {
	return &AccessControlList{
		rules: make(map[string]map[string]AccessRule),
	}
}

// AddRule adds the given rule. A rule with the same ID on the same model
// is replaced.
func (acl *AccessControlList) AddRule(rule AccessRule) {
	acl.Lock()
	defer acl.Unlock()
	if acl.rules[rule.Model] == nil {
		acl.rules[rule.Model] = make(map[string]AccessRule)
	}
	acl.rules[rule.Model][rule.ID] = rule
}

// Rules returns the rules of the given model sorted by id.
func (acl *AccessControlList) Rules(model string) []AccessRule {
	acl.RLock()
	defer acl.RUnlock()
	res := make([]AccessRule, 0, len(acl.rules[model]))
	for _, r := range acl.rules[model] {
		res = append(res, r)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// CheckPermission returns true if one of the given groups (or every user)
// is granted perm on model.
func (acl *AccessControlList) CheckPermission(model string, groups map[string]bool, perm Permission) bool {
	acl.RLock()
	defer acl.RUnlock()
	var granted Permission
	for _, rule := range acl.rules[model] {
		if rule.Group == "" || groups[rule.Group] {
			granted |= rule.Perm
		}
	}
	return granted&perm == perm
}
