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

// Package menus holds the navigation menus declared by modules.
package menus

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/beevik/etree"
	"github.com/hexya-erp/erpkit/src/actions"
	"github.com/hexya-erp/erpkit/src/i18n"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
)

// A Collection is a hierarchical and sortable Collection of menus
type Collection struct {
	sync.RWMutex
	menus  map[string]*Menu
	roots  []*Menu
	lastID int64
}

// NewCollection returns a pointer to a new
// Collection instance
func NewCollection() *Collection {
	return &Collection{menus: make(map[string]*Menu)}
}

// A Menu is the representation of a single menu item
type Menu struct {
	ID       int64
	XMLID    string
	Module   string
	Name     string
	ParentID string
	Sequence int
	ActionID string
	Groups   []string
	WebIcon  string
	Parent   *Menu
	Action   *actions.Action
	Children []*Menu
	// nameFromAction is set when the menu takes the name of its action
	nameFromAction bool
}

// TranslatedName returns the translated name of this menu
// in the given language
func (m *Menu) TranslatedName(lang string) string {
	if m.nameFromAction {
		return i18n.TranslateResourceItem(lang, m.Action.XMLID, m.Name)
	}
	return i18n.TranslateResourceItem(lang, m.XMLID, m.Name)
}

// IsAllowed returns true if the user with the given groups can see this
// menu. The groups of the menu action are checked too.
func (m *Menu) IsAllowed(userGroups map[string]bool) bool {
	if m.Action != nil && !m.Action.IsAllowed(userGroups) {
		return false
	}
	if len(m.Groups) == 0 {
		return true
	}
	for _, g := range m.Groups {
		if userGroups[g] {
			return true
		}
	}
	return false
}

// qualify returns the external id of id in module
func qualify(module, id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, ".") {
		return id
	}
	return fmt.Sprintf("%s.%s", module, id)
}

// LoadFromEtree reads the menu given as a <menuitem> element of the given
// module and adds it to this Collection. A menu with the same id replaces
// the existing one.
func (mc *Collection) LoadFromEtree(module string, element *etree.Element) error {
	seq, err := strconv.Atoi(element.SelectAttrValue("sequence", "10"))
	if err != nil {
		return exceptions.Validation("invalid_menu", "invalid sequence in menu %s", element.SelectAttrValue("id", ""))
	}
	menu := Menu{
		XMLID:    qualify(module, element.SelectAttrValue("id", "")),
		Module:   module,
		Name:     element.SelectAttrValue("name", ""),
		ParentID: qualify(module, element.SelectAttrValue("parent", "")),
		Sequence: seq,
		ActionID: qualify(module, element.SelectAttrValue("action", "")),
		WebIcon:  element.SelectAttrValue("web_icon", ""),
	}
	if groups := element.SelectAttrValue("groups", ""); groups != "" {
		for _, g := range strings.Split(groups, ",") {
			menu.Groups = append(menu.Groups, qualify(module, g))
		}
	}
	return mc.Add(&menu)
}

// Add adds a menu to the menu Collection. Menus are linked to their parent
// and action by Link.
func (mc *Collection) Add(m *Menu) error {
	if m.XMLID == "" {
		return exceptions.Validation("invalid_menu", "menu %s has no id", m.Name)
	}
	mc.Lock()
	defer mc.Unlock()
	if existing, ok := mc.menus[m.XMLID]; ok {
		m.ID = existing.ID
	} else {
		mc.lastID++
		m.ID = mc.lastID
	}
	mc.menus[m.XMLID] = m
	return nil
}

// GetByXMLID returns the Menu with the given xmlid
func (mc *Collection) GetByXMLID(xmlid string) *Menu {
	mc.RLock()
	defer mc.RUnlock()
	return mc.menus[xmlid]
}

// All returns all menus sorted by id
func (mc *Collection) All() []*Menu {
	mc.RLock()
	defer mc.RUnlock()
	res := make([]*Menu, 0, len(mc.menus))
	for _, menu := range mc.menus {
		res = append(res, menu)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Roots returns the top level menus, sorted by sequence
func (mc *Collection) Roots() []*Menu {
	mc.RLock()
	defer mc.RUnlock()
	return append([]*Menu(nil), mc.roots...)
}

func sortMenus(menus []*Menu) {
	sort.SliceStable(menus, func(i, j int) bool {
		if menus[i].Sequence != menus[j].Sequence {
			return menus[i].Sequence < menus[j].Sequence
		}
		return menus[i].ID < menus[j].ID
	})
}

// Link resolves the parents and the actions of the menus of this
// collection and builds the menu tree.
func (mc *Collection) Link(ac *actions.Collection) error {
	all := mc.All()
	mc.Lock()
	defer mc.Unlock()
	mc.roots = nil
	for _, menu := range all {
		menu.Children, menu.Parent = nil, nil
	}
	for _, menu := range all {
		if menu.ActionID != "" {
			action, err := ac.Get(menu.ActionID)
			if err != nil {
				return exceptions.NotFound("unknown_action", "menu %s references unknown action %s", menu.XMLID, menu.ActionID)
			}
			menu.Action = action
			if menu.Name == "" || menu.nameFromAction {
				menu.Name = action.Name
				menu.nameFromAction = true
			}
		}
		if menu.ParentID == "" {
			mc.roots = append(mc.roots, menu)
			continue
		}
		parent, ok := mc.menus[menu.ParentID]
		if !ok {
			return exceptions.NotFound("unknown_menu", "menu %s has unknown parent %s", menu.XMLID, menu.ParentID)
		}
		menu.Parent = parent
		parent.Children = append(parent.Children, menu)
	}
	for _, menu := range all {
		depth := 0
		for p := menu.Parent; p != nil; p = p.Parent {
			if depth++; depth > len(all) {
				return exceptions.Validation("menu_cycle", "menu %s has a cyclic parent chain", menu.XMLID)
			}
		}
		sortMenus(menu.Children)
	}
	sortMenus(mc.roots)
	return nil
}

// An Item is a menu as sent to a client
type Item struct {
	ID       int64   `json:"id"`
	XMLID    string  `json:"xmlid"`
	Name     string  `json:"name"`
	Sequence int     `json:"sequence"`
	Action   string  `json:"action,omitempty"`
	WebIcon  string  `json:"web_icon,omitempty"`
	Children []*Item `json:"children"`
}

// Tree returns the menu tree visible by a user with the given groups,
// translated in lang. Menus without action are omitted when none of their
// children is visible. A nil userGroups shows all menus.
func (mc *Collection) Tree(lang string, userGroups map[string]bool) []*Item {
	res := []*Item{}
	for _, menu := range mc.Roots() {
		if item := menuItem(menu, lang, userGroups); item != nil {
			res = append(res, item)
		}
	}
	return res
}

func menuItem(menu *Menu, lang string, userGroups map[string]bool) *Item {
	if userGroups != nil && !menu.IsAllowed(userGroups) {
		return nil
	}
	item := &Item{
		ID:       menu.ID,
		XMLID:    menu.XMLID,
		Name:     menu.TranslatedName(lang),
		Sequence: menu.Sequence,
		WebIcon:  menu.WebIcon,
		Children: []*Item{},
	}
	if menu.Action != nil {
		item.Action = menu.Action.XMLID
	}
	for _, child := range menu.Children {
		if c := menuItem(child, lang, userGroups); c != nil {
			item.Children = append(item.Children, c)
		}
	}
	if menu.Action == nil && len(item.Children) == 0 {
		return nil
	}
	return item
}
