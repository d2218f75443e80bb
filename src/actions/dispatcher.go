// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package actions

import (
	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/pkg/errors"
)

// maxChainLength is the maximum number of server actions that can be
// chained by returning action references.
const maxChainLength = 16

// A Result is the outcome of running an action.
//
// Action is set when the outcome is a declarative action for the client.
// Otherwise Value holds the value returned by the server method.
type Result struct {
	Action *Action     `json:"action,omitempty"`
	Value  interface{} `json:"value,omitempty"`
}

// A Dispatcher runs the actions of a Collection
type Dispatcher struct {
	actions *Collection
}

// NewDispatcher returns a Dispatcher for the actions of the given collection
func NewDispatcher(actions *Collection) *Dispatcher {
	return &Dispatcher{actions: actions}
}

// Run resolves the action referenced by ref and runs it on the records of
// the given activeIDs.
//
// Declarative actions are returned unchanged, with their name translated
// in the language of env. Server actions call their method on the active
// records. If this method returns an action reference (a string xml id),
// an *Action or a Result, this action is run in turn.
func (d *Dispatcher) Run(env models.Environment, ref string, activeIDs []int64) (*Result, error) {
	return d.run(env, ref, activeIDs, 0)
}

func (d *Dispatcher) run(env models.Environment, ref string, activeIDs []int64, depth int) (*Result, error) {
	if depth >= maxChainLength {
		return nil, exceptions.Validation("action_loop", "too many chained actions from %s", ref)
	}
	action, err := d.actions.Get(ref)
	if err != nil {
		return nil, err
	}
	if err := d.checkGroups(env, action); err != nil {
		return nil, err
	}
	if action.Type.IsDeclarative() {
		log.Debug("Returning declarative action", "action", action.XMLID, "type", action.Type, "uid", env.Uid())
		return &Result{Action: action.Translated(env.Lang())}, nil
	}
	rc, err := env.Model(action.Model)
	if err != nil {
		return nil, err
	}
	log.Debug("Running server action", "action", action.XMLID, "model", action.Model, "method", action.Method,
		"ids", activeIDs, "uid", env.Uid())
	res, err := rc.Browse(activeIDs...).Call(action.Method)
	if err != nil {
		return nil, errors.Wrapf(err, "server action %s", action.XMLID)
	}
	switch r := res.(type) {
	case string:
		return d.run(env, r, activeIDs, depth+1)
	case *Action:
		if err := d.checkGroups(env, r); err != nil {
			return nil, err
		}
		return &Result{Action: r}, nil
	case *Result:
		return r, nil
	}
	return &Result{Value: res}, nil
}

// checkGroups returns an AccessDenied error if the user of env is not
// allowed to run the given action.
func (d *Dispatcher) checkGroups(env models.Environment, action *Action) error {
	if env.IsSuperUser() || len(action.Groups) == 0 {
		return nil
	}
	groups, err := env.UserGroups()
	if err != nil {
		return err
	}
	if !action.IsAllowed(groups) {
		return exceptions.AccessDenied("action_access", "you are not allowed to run action %s", action.XMLID)
	}
	return nil
}

// Validate checks that all the models referenced by the actions of this
// collection exist in reg.
func (ar *Collection) Validate(reg *models.Registry) error {
	for _, a := range ar.GetAll() {
		for _, model := range []string{a.Model, a.BindingModel} {
			if model == "" || reg.Get(model) != nil {
				continue
			}
			return exceptions.NotFound("unknown_model", "action %s references unknown model %s", a.XMLID, model)
		}
		if a.Type == ActionServer && !reg.Get(a.Model).HasMethod(a.Method) {
			return exceptions.NotFound("unknown_method", "action %s references unknown method %s of model %s",
				a.XMLID, a.Method, a.Model)
		}
	}
	return nil
}
