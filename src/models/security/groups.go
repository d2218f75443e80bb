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
	"fmt"
	"sort"
	"sync"
)

const (
	// SuperUserID is the uid of the administrator. It bypasses all
	// access checks.
	SuperUserID int64 = 1
	// GroupEveryoneID is the id of the group every user belongs to
	GroupEveryoneID = "base.group_everyone"
)

// A Group defines a role which can be granted or denied permissions.
// Groups are identified by their external id (e.g. base.group_user).
//
// A group can imply other groups: its members are also members of the
// implied groups.
type Group struct {
	id      string
	name    string
	implied []*Group
}

// ID returns the external id of this group
func (g *Group) ID() string {
	return g.id
}

// Name returns the display name of this group
func (g *Group) Name() string {
	return g.name
}

// String method for groups
func (g *Group) String() string {
	return fmt.Sprintf("Group(%s)", g.id)
}

// ImpliedGroups returns the groups directly implied by this group
func (g *Group) ImpliedGroups() []*Group {
	return append([]*Group(nil), g.implied...)
}

// Implies returns true if g implies other, directly or transitively.
func (g *Group) Implies(other *Group) bool {
	for _, ig := range g.implied {
		if ig == other || ig.Implies(other) {
			return true
		}
	}
	return false
}

// A GroupCollection holds the groups of an application and the
// memberships of users that are not resolved from the database.
type GroupCollection struct {
	sync.RWMutex
	groups      map[string]*Group
	memberships map[int64]map[string]bool
}

// NewGroupCollection returns a new GroupCollection holding only the
// everyone group.
func NewGroupCollection() *GroupCollection {
	gc := &GroupCollection{
		groups:      make(map[string]*Group),
		memberships: make(map[int64]map[string]bool),
	}
	gc.groups[GroupEveryoneID] = &Group{id: GroupEveryoneID, name: "Everyone"}
	return gc
}

// NewGroup creates and registers a new group with the given id, name and
// implied groups. Implied groups are given by id and must exist.
func (gc *GroupCollection) NewGroup(id, name string, implied ...string) (*Group, error) {
	gc.Lock()
	defer gc.Unlock()
	if _, exists := gc.groups[id]; exists {
		return nil, fmt.Errorf("group %s already exists", id)
	}
	g := &Group{id: id, name: name}
	for _, iid := range implied {
		ig, ok := gc.groups[iid]
		if !ok {
			return nil, fmt.Errorf("group %s implies unknown group %s", id, iid)
		}
		g.implied = append(g.implied, ig)
	}
	gc.groups[id] = g
	return g, nil
}

// GetGroup returns the group with the given id or nil if it does not exist
func (gc *GroupCollection) GetGroup(id string) *Group {
	gc.RLock()
	defer gc.RUnlock()
	return gc.groups[id]
}

// AllGroups returns all the groups of this collection sorted by id
func (gc *GroupCollection) AllGroups() []*Group {
	gc.RLock()
	defer gc.RUnlock()
	res := make([]*Group, 0, len(gc.groups))
	for _, g := range gc.groups {
		res = append(res, g)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].id < res[j].id })
	return res
}

// AddMembership adds the user uid to the group with the given id
func (gc *GroupCollection) AddMembership(uid int64, groupID string) {
	gc.Lock()
	defer gc.Unlock()
	if gc.memberships[uid] == nil {
		gc.memberships[uid] = make(map[string]bool)
	}
	gc.memberships[uid][groupID] = true
}

// RemoveMembership removes the user uid from the group with the given id
func (gc *GroupCollection) RemoveMembership(uid int64, groupID string) {
	gc.Lock()
	defer gc.Unlock()
	delete(gc.memberships[uid], groupID)
}

// RemoveAllMembershipsForUser removes the user uid from all groups
func (gc *GroupCollection) RemoveAllMembershipsForUser(uid int64) {
	gc.Lock()
	defer gc.Unlock()
	delete(gc.memberships, uid)
}

// DirectGroups returns the ids of the groups uid was explicitly added to.
func (gc *GroupCollection) DirectGroups(uid int64) []string {
	gc.RLock()
	defer gc.RUnlock()
	var res []string
	for gid := range gc.memberships[uid] {
		res = append(res, gid)
	}
	sort.Strings(res)
	return res
}

// Expand returns the given group ids together with all the groups they
// imply and the everyone group, as a set. Unknown ids are kept as is.
func (gc *GroupCollection) Expand(groupIDs []string) map[string]bool {
	gc.RLock()
	defer gc.RUnlock()
	res := map[string]bool{GroupEveryoneID: true}
	var walk func(g *Group)
	walk = func(g *Group) {
		if res[g.id] && g.id != GroupEveryoneID {
			return
		}
		res[g.id] = true
		for _, ig := range g.implied {
			walk(ig)
		}
	}
	for _, gid := range groupIDs {
		if g, ok := gc.groups[gid]; ok {
			walk(g)
			continue
		}
		res[gid] = true
	}
	return res
}

// UserGroups returns the set of group ids uid belongs to, including
// implied groups.
func (gc *GroupCollection) UserGroups(uid int64) map[string]bool {
	return gc.Expand(gc.DirectGroups(uid))
}

// HasMembership returns true if uid belongs to the given group, directly or
// through implied groups.
func (gc *GroupCollection) HasMembership(uid int64, groupID string) bool {
	return gc.UserGroups(uid)[groupID]
}
