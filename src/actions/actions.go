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

package actions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/beevik/etree"
	"github.com/hexya-erp/erpkit/src/i18n"
	"github.com/hexya-erp/erpkit/src/models/types"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/xmlutils"
	"github.com/hexya-erp/erpkit/src/views"
)

// An ActionType defines the type of action
type ActionType string

// Action types
const (
	ActionActWindow ActionType = "ir.actions.act_window"
	ActionActURL    ActionType = "ir.actions.act_url"
	ActionServer    ActionType = "ir.actions.server"
	ActionClient    ActionType = "ir.actions.client"
	ActionReport    ActionType = "ir.actions.report"
)

// IsDeclarative returns true if actions of this type are returned to the
// client as is, without executing anything on the server.
func (at ActionType) IsDeclarative() bool {
	return at != ActionServer
}

// ParseActionType returns the ActionType of the given string. The short
// forms "act_window", "server"... are accepted.
func ParseActionType(str string) (ActionType, error) {
	if !strings.HasPrefix(str, "ir.actions.") {
		str = "ir.actions." + str
	}
	at := ActionType(str)
	switch at {
	case ActionActWindow, ActionActURL, ActionServer, ActionClient, ActionReport:
		return at, nil
	}
	return "", exceptions.Validation("invalid_action_type", "unknown action type '%s'", str)
}

// Registry is the action collection of the application
var Registry *Collection

// ViewTuple is an array of two strings representing a view:
// - The first one is the ID of the view
// - The second one is the view type corresponding to the view ID
type ViewTuple struct {
	ID   string
	Type views.ViewType
}

// MarshalJSON is the JSON marshalling method of ViewTuple.
// It marshals ViewTuple into a list [id, type]. An empty id is marshalled
// as false.
func (vt ViewTuple) MarshalJSON() ([]byte, error) {
	var id interface{} = vt.ID
	if vt.ID == "" {
		id = false
	}
	return json.Marshal([2]interface{}{id, vt.Type})
}

var _ json.Marshaler = ViewTuple{}

// A Collection is a collection of actions
type Collection struct {
	sync.RWMutex
	actions     map[string]*Action
	actionsByID map[int64]*Action
	links       map[string][]*Action
	lastID      int64
}

// NewCollection returns a pointer to a new
// Collection instance
func NewCollection() *Collection {
	res := Collection{
		actions:     make(map[string]*Action),
		actionsByID: make(map[int64]*Action),
		links:       make(map[string][]*Action),
	}
	return &res
}

// Add adds the given action to our Collection. An action with the same
// xml id replaces the existing one and keeps its id.
func (ar *Collection) Add(a *Action) error {
	if a.XMLID == "" {
		return exceptions.Validation("invalid_action", "action %s has no id", a.Name)
	}
	if _, err := ParseActionType(string(a.Type)); err != nil {
		return err
	}
	ar.Lock()
	defer ar.Unlock()
	if existing, ok := ar.actions[a.XMLID]; ok {
		a.ID = existing.ID
		links := ar.links[existing.BindingModel]
		for i, l := range links {
			if l == existing {
				ar.links[existing.BindingModel] = append(links[:i:i], links[i+1:]...)
				break
			}
		}
	} else {
		ar.lastID++
		a.ID = ar.lastID
	}
	ar.actions[a.XMLID] = a
	ar.actionsByID[a.ID] = a
	if a.BindingModel != "" {
		ar.links[a.BindingModel] = append(ar.links[a.BindingModel], a)
	}
	return nil
}

// GetByXMLID returns the Action with the given xmlid
func (ar *Collection) GetByXMLID(id string) *Action {
	ar.RLock()
	defer ar.RUnlock()
	return ar.actions[id]
}

// GetById returns the Action with the given id
func (ar *Collection) GetById(id int64) *Action {
	ar.RLock()
	defer ar.RUnlock()
	return ar.actionsByID[id]
}

// Get returns the action referenced by ref, which is either an xml id or
// a numeric id.
func (ar *Collection) Get(ref string) (*Action, error) {
	if a := ar.GetByXMLID(ref); a != nil {
		return a, nil
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if a := ar.GetById(id); a != nil {
			return a, nil
		}
	}
	return nil, exceptions.NotFound("unknown_action", "action %s does not exist", ref)
}

// GetAll returns a list of all actions of this Collection sorted by id.
func (ar *Collection) GetAll() []*Action {
	ar.RLock()
	defer ar.RUnlock()
	res := make([]*Action, 0, len(ar.actions))
	for _, action := range ar.actions {
		res = append(res, action)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// GetActionLinksForModel returns the list of linked actions
// for the model with the given name
func (ar *Collection) GetActionLinksForModel(modelName string) []*Action {
	ar.RLock()
	defer ar.RUnlock()
	return append([]*Action(nil), ar.links[modelName]...)
}

// LoadFromEtree reads the action given as an <action> element of the given
// module and adds it to this Collection.
func (ar *Collection) LoadFromEtree(module string, element *etree.Element) error {
	xmlID := element.SelectAttrValue("id", "")
	if xmlID != "" && !strings.Contains(xmlID, ".") {
		xmlID = fmt.Sprintf("%s.%s", module, xmlID)
	}
	aType, err := ParseActionType(element.SelectAttrValue("type", string(ActionActWindow)))
	if err != nil {
		return err
	}
	action := Action{
		XMLID:        xmlID,
		Module:       module,
		Type:         aType,
		Name:         element.SelectAttrValue("name", ""),
		Model:        element.SelectAttrValue("model", ""),
		Method:       element.SelectAttrValue("method", ""),
		Domain:       element.SelectAttrValue("domain", ""),
		ViewMode:     element.SelectAttrValue("view_mode", ""),
		View:         element.SelectAttrValue("view_id", ""),
		SearchView:   element.SelectAttrValue("search_view_id", ""),
		BindingModel: element.SelectAttrValue("binding_model", element.SelectAttrValue("src_model", "")),
		Target:       element.SelectAttrValue("target", ""),
		URL:          element.SelectAttrValue("url", ""),
		Tag:          element.SelectAttrValue("tag", ""),
		Report:       element.SelectAttrValue("report", ""),
		ReportType:   element.SelectAttrValue("report_type", ""),
	}
	if groups := element.SelectAttrValue("groups", ""); groups != "" {
		for _, g := range strings.Split(groups, ",") {
			g = strings.TrimSpace(g)
			if !strings.Contains(g, ".") {
				g = fmt.Sprintf("%s.%s", module, g)
			}
			action.Groups = append(action.Groups, g)
		}
	}
	if resID := element.SelectAttrValue("res_id", ""); resID != "" {
		action.ResID, err = strconv.ParseInt(resID, 10, 64)
		if err != nil {
			return exceptions.Validation("invalid_action", "invalid res_id '%s' in action %s", resID, xmlID)
		}
	}
	if limit := element.SelectAttrValue("limit", ""); limit != "" {
		action.Limit, err = strconv.ParseInt(limit, 10, 64)
		if err != nil {
			return exceptions.Validation("invalid_action", "invalid limit '%s' in action %s", limit, xmlID)
		}
	}
	if ctx := element.SelectAttrValue("context", ""); ctx != "" {
		action.Context = types.NewContext()
		if err := json.Unmarshal([]byte(ctx), action.Context); err != nil {
			return exceptions.Validation("invalid_action", "invalid context in action %s: %s", xmlID, err)
		}
	}
	if help := element.SelectElement("help"); help != nil {
		action.Help = strings.TrimSpace(xmlutils.InnerXML(help))
	}
	for _, v := range element.SelectElements("view") {
		vType, err := views.ParseViewType(v.SelectAttrValue("type", ""))
		if err != nil {
			return err
		}
		vID := v.SelectAttrValue("id", "")
		if vID != "" && !strings.Contains(vID, ".") {
			vID = fmt.Sprintf("%s.%s", module, vID)
		}
		action.Views = append(action.Views, ViewTuple{ID: vID, Type: vType})
	}
	if action.View != "" && !strings.Contains(action.View, ".") {
		action.View = fmt.Sprintf("%s.%s", module, action.View)
	}
	if err := action.check(); err != nil {
		return err
	}
	return ar.Add(&action)
}

// A Action is the definition of an action. Actions define the
// behavior of the system in response to user requests.
type Action struct {
	ID           int64          `json:"id"`
	XMLID        string         `json:"xml_id"`
	Module       string         `json:"-"`
	Type         ActionType     `json:"type"`
	Name         string         `json:"name"`
	Model        string         `json:"res_model,omitempty"`
	ResID        int64          `json:"res_id,omitempty"`
	Method       string         `json:"-"`
	Groups       []string       `json:"groups_id,omitempty"`
	Domain       string         `json:"domain,omitempty"`
	Help         string         `json:"help,omitempty"`
	SearchView   string         `json:"search_view_id,omitempty"`
	BindingModel string         `json:"binding_model_id,omitempty"`
	Views        []ViewTuple    `json:"views,omitempty"`
	View         string         `json:"view_id,omitempty"`
	ViewMode     string         `json:"view_mode,omitempty"`
	Target       string         `json:"target,omitempty"`
	Limit        int64          `json:"limit,omitempty"`
	Context      *types.Context `json:"context,omitempty"`
	URL          string         `json:"url,omitempty"`
	Tag          string         `json:"tag,omitempty"`
	Report       string         `json:"report_name,omitempty"`
	ReportType   string         `json:"report_type,omitempty"`
}

// check verifies that the attributes required by the action type are set
func (a *Action) check() error {
	var missing string
	switch a.Type {
	case ActionActWindow:
		if a.Model == "" {
			missing = "model"
		}
	case ActionServer:
		switch {
		case a.Model == "":
			missing = "model"
		case a.Method == "":
			missing = "method"
		}
	case ActionActURL:
		if a.URL == "" {
			missing = "url"
		}
	case ActionClient:
		if a.Tag == "" {
			missing = "tag"
		}
	case ActionReport:
		switch {
		case a.Model == "":
			missing = "model"
		case a.Report == "":
			missing = "report"
		}
	}
	if missing != "" {
		return exceptions.Validation("invalid_action", "action %s of type %s has no %s", a.XMLID, a.Type, missing)
	}
	return nil
}

// TranslatedName returns the translated name of this action
// in the given language
func (a Action) TranslatedName(lang string) string {
	return i18n.TranslateResourceItem(lang, a.XMLID, a.Name)
}

// Translated returns a copy of this action with its name translated
// in the given language.
func (a Action) Translated(lang string) *Action {
	a.Name = a.TranslatedName(lang)
	a.Views = append([]ViewTuple(nil), a.Views...)
	return &a
}

// Sanitize makes the necessary updates to action definitions.
// It is good practice to call Sanitize before sending an action to the client.
func (a *Action) Sanitize(vc *views.Collection) error {
	switch a.Type {
	case ActionActWindow:
		return a.sanitizeActWindow(vc)
	case ActionActURL:
		if a.Target == "" {
			a.Target = "new"
		}
	case ActionReport:
		if a.ReportType == "" {
			a.ReportType = "qweb-pdf"
		}
	}
	return nil
}

// sanitizeActWindow makes the necessary updates to action definitions. In particular:
// - Add a few default values
// - Add View to Views if not already present
// - Add all views that are not specified
func (a *Action) sanitizeActWindow(vc *views.Collection) error {
	if a.Target == "" {
		a.Target = "current"
	}
	if a.ViewMode == "" {
		a.ViewMode = "list,form"
	}
	if a.View != "" {
		view := vc.GetByID(a.View)
		if view == nil {
			return exceptions.NotFound("unknown_view", "action %s references unknown view %s", a.XMLID, a.View)
		}
		var present bool
		for _, vt := range a.Views {
			if vt.ID == a.View {
				present = true
				break
			}
		}
		if !present {
			a.Views = append([]ViewTuple{{ID: a.View, Type: view.Type}}, a.Views...)
		}
	}
	var modes []views.ViewType
	for _, m := range strings.Split(a.ViewMode, ",") {
		mode, err := views.ParseViewType(strings.TrimSpace(m))
		if err != nil {
			return exceptions.Validation("invalid_view_mode", "invalid view mode in action %s: %s", a.XMLID, err)
		}
		modes = append(modes, mode)
	}
	var modeStrs []string
modeLoop:
	for _, mode := range modes {
		modeStrs = append(modeStrs, string(mode))
		for _, vRef := range a.Views {
			if vRef.Type == mode {
				continue modeLoop
			}
		}
		// No view defined for mode, we take the first one or the default view.
		var vID string
		if view := vc.GetFirstViewForModel(a.Model, mode); view != nil {
			vID = view.ID
		}
		a.Views = append(a.Views, ViewTuple{ID: vID, Type: mode})
	}
	a.ViewMode = strings.Join(modeStrs, ",")
	if a.SearchView == "" {
		if view := vc.GetFirstViewForModel(a.Model, views.VIEW_TYPE_SEARCH); view != nil {
			a.SearchView = view.ID
		}
	}
	return nil
}

// IsAllowed returns true if a user with the given groups may run this
// action.
func (a *Action) IsAllowed(userGroups map[string]bool) bool {
	if len(a.Groups) == 0 {
		return true
	}
	for _, g := range a.Groups {
		if userGroups[g] {
			return true
		}
	}
	return false
}

// SanitizeAll sanitizes all the actions of the collection against the
// given views.
func (ar *Collection) SanitizeAll(vc *views.Collection) error {
	for _, a := range ar.GetAll() {
		if err := a.Sanitize(vc); err != nil {
			return err
		}
	}
	return nil
}
