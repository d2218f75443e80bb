// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package server

import (
	"strings"

	"github.com/hexya-erp/erpkit/src/menus"
	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/nbutils"
	"github.com/hexya-erp/erpkit/src/views"
	"github.com/pkg/errors"
)

// AuthenticateParams are the parameters of /web/session/authenticate
type AuthenticateParams struct {
	DB       string `json:"db"`
	Login    string `json:"login" binding:"required"`
	Password string `json:"password"`
	Lang     string `json:"lang"`
}

// authenticate opens a session for the user with the given credentials
func (s *Server) authenticate(c *Context) {
	var params AuthenticateParams
	if err := c.BindRPCParams(&params); err != nil {
		c.RPCError(err)
		return
	}
	uid, err := security.AuthenticationRegistry.Authenticate(c.Request.Context(), params.Login, params.Password)
	if err != nil {
		switch err.(type) {
		case security.UserNotFoundError, security.InvalidCredentialsError:
			log.Info("Authentication failed", "login", params.Login)
			c.RPCError(exceptions.AccessDenied("invalid_credentials", "Wrong login or password"))
		default:
			c.RPCError(err)
		}
		return
	}
	sess := s.sessions.New(uid, params.Login, params.Lang)
	log.Debug("Session opened", "login", params.Login, "uid", uid)
	c.RPC(map[string]interface{}{
		"uid":        uid,
		"session_id": sess.ID,
	})
}

// logout deletes the current session
func (s *Server) logout(c *Context) {
	s.sessions.Delete(c.Session().ID)
	c.RPC(true)
}

// CallParams are the parameters of /web/dataset/call_kw
type CallParams struct {
	Model  string                 `json:"model" binding:"required"`
	Method string                 `json:"method" binding:"required"`
	Args   []interface{}          `json:"args"`
	KWArgs map[string]interface{} `json:"kwargs"`
}

// arg returns the keyword argument name if it is set, or else the
// positional argument at index pos.
func (p CallParams) arg(name string, pos int) interface{} {
	if v, ok := p.KWArgs[name]; ok {
		return v
	}
	if pos >= 0 && pos < len(p.Args) {
		return p.Args[pos]
	}
	return nil
}

// callKW executes a method of a model as the session user
func (s *Server) callKW(c *Context) {
	var params CallParams
	if err := c.BindRPCParams(&params); err != nil {
		c.RPCError(err)
		return
	}
	if strings.HasPrefix(params.Method, "_") {
		c.RPCError(exceptions.AccessDenied("private_method", "Private method %s cannot be called remotely", params.Method))
		return
	}
	calls.WithLabelValues(params.Model, params.Method).Inc()
	sess := c.Session()
	var res interface{}
	err := s.bundle.Registry.ExecuteInNewEnvironment(c.Request.Context(), sess.UID, func(env models.Environment) error {
		if sess.Lang != "" {
			env = env.WithContext("lang", sess.Lang)
		}
		rc, err := env.Model(params.Model)
		if err != nil {
			return err
		}
		res, err = s.execute(rc, params)
		return err
	})
	if err != nil {
		log.Debug("call_kw failed", "model", params.Model, "method", params.Method, "uid", sess.UID, "error", err)
		c.RPCError(err)
		return
	}
	c.RPC(res)
}

// execute runs the method of params on rc and returns a JSON serializable
// result.
func (s *Server) execute(rc *models.RecordCollection, params CallParams) (interface{}, error) {
	switch params.Method {
	case "search":
		sp, err := searchParams(params, 0)
		if err != nil {
			return nil, err
		}
		res, err := rc.Call("search", sp)
		if err != nil {
			return nil, err
		}
		return res.(*models.RecordCollection).Ids(), nil
	case "search_read":
		sp, err := searchParams(params, 0)
		if err != nil {
			return nil, err
		}
		return rc.Call("search_read", sp, params.arg("fields", 1))
	case "search_count":
		return rc.Call("search_count", params.arg("domain", 0))
	case "read":
		ids, err := toIDs(params.arg("ids", 0))
		if err != nil {
			return nil, err
		}
		return rc.Browse(ids...).Call("read", params.arg("fields", 1))
	case "create":
		res, err := rc.Call("create", params.arg("vals", 0))
		if err != nil {
			return nil, err
		}
		return res.(*models.RecordCollection).ID(), nil
	case "write":
		ids, err := toIDs(params.arg("ids", 0))
		if err != nil {
			return nil, err
		}
		return rc.Browse(ids...).Call("write", params.arg("vals", 1))
	case "unlink":
		ids, err := toIDs(params.arg("ids", 0))
		if err != nil {
			return nil, err
		}
		return rc.Browse(ids...).Call("unlink")
	case "read_group":
		return readGroup(rc, params)
	case "fields_get":
		return rc.Call("fields_get", params.arg("allfields", 0))
	case "name_get":
		ids, err := toIDs(params.arg("ids", 0))
		if err != nil {
			return nil, err
		}
		return rc.Browse(ids...).Call("name_get")
	case "get_views":
		return s.getViews(rc, params)
	}
	ids, err := toIDs(params.arg("ids", 0))
	if err != nil {
		return nil, err
	}
	var args []interface{}
	if len(params.Args) > 1 {
		args = params.Args[1:]
	}
	res, err := rc.Browse(ids...).Call(params.Method, args...)
	if err != nil {
		return nil, err
	}
	if recs, ok := res.(*models.RecordCollection); ok {
		return recs.Ids(), nil
	}
	return res, nil
}

// searchParams returns the search parameters of a search call, the domain
// being the positional argument at index pos.
func searchParams(params CallParams, pos int) (models.SearchParams, error) {
	var sp models.SearchParams
	if domain, ok := params.arg("domain", pos).([]interface{}); ok {
		cond, err := models.ParseDomain(domain)
		if err != nil {
			return sp, err
		}
		sp.Condition = cond
	}
	if order, ok := params.KWArgs["order"].(string); ok && order != "" {
		for _, o := range strings.Split(order, ",") {
			sp.Order = append(sp.Order, strings.TrimSpace(o))
		}
	}
	for key, dest := range map[string]*int{"limit": &sp.Limit, "offset": &sp.Offset} {
		if v, ok := params.KWArgs[key]; ok && v != nil {
			n, err := nbutils.CastToInteger(v)
			if err != nil {
				return sp, exceptions.Validation("invalid_argument", "invalid %s %v", key, v)
			}
			*dest = int(n)
		}
	}
	return sp, nil
}

// readGroup executes a read_group call
func readGroup(rc *models.RecordCollection, params CallParams) (interface{}, error) {
	sp, err := searchParams(params, 0)
	if err != nil {
		return nil, err
	}
	rgp := models.ReadGroupParams{
		Condition: sp.Condition,
		Order:     sp.Order,
		Limit:     sp.Limit,
		Offset:    sp.Offset,
	}
	if rgp.GroupBy, err = stringList(params.arg("groupby", 2)); err != nil {
		return nil, err
	}
	if rgp.Aggregates, err = stringList(params.arg("fields", 1)); err != nil {
		return nil, err
	}
	res, err := rc.Call("read_group", rgp)
	if err != nil {
		return nil, err
	}
	groups := res.([]models.GroupResult)
	out := make([]map[string]interface{}, len(groups))
	for i, g := range groups {
		line := make(map[string]interface{}, len(g.Values)+len(g.Aggregates)+2)
		for k, v := range g.Values {
			line[k] = v
		}
		for k, v := range g.Aggregates {
			line[k] = v
		}
		line["__count"] = g.Count
		line["__domain"] = g.Condition.Serialize()
		out[i] = line
	}
	return out, nil
}

// getViews returns the resolved views requested as a list of [id, type]
// pairs, where id is false for the default view of the type, together
// with the fields of the model.
func (s *Server) getViews(rc *models.RecordCollection, params CallParams) (interface{}, error) {
	fields, err := rc.Call("fields_get")
	if err != nil {
		return nil, err
	}
	requested, _ := params.arg("views", 0).([]interface{})
	res := make(map[string]interface{}, len(requested))
	lang := rc.Env().Lang()
	for _, item := range requested {
		pair, ok := item.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, exceptions.Validation("invalid_argument", "views must be [id, type] pairs, got %v", item)
		}
		vt, err := views.ParseViewType(strings.TrimSpace(toString(pair[1])))
		if err != nil {
			return nil, err
		}
		var view *views.ResolvedView
		if id, ok := pair[0].(string); ok && id != "" {
			view, err = s.bundle.Views.ResolveByID(id, lang)
			if err == nil && view.Model != rc.ModelName() {
				err = exceptions.Validation("invalid_argument", "view %s is not a view of %s", id, rc.ModelName())
			}
		} else {
			view, err = s.bundle.Views.Resolve(rc.ModelName(), vt, lang)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "%s view", vt)
		}
		res[string(vt)] = view
	}
	return map[string]interface{}{
		"views":  res,
		"fields": fields,
	}, nil
}

// RunActionParams are the parameters of /web/action/run
type RunActionParams struct {
	Action    string        `json:"action" binding:"required"`
	ActiveIDs []interface{} `json:"active_ids"`
}

// runAction runs an action on the given active records
func (s *Server) runAction(c *Context) {
	var params RunActionParams
	if err := c.BindRPCParams(&params); err != nil {
		c.RPCError(err)
		return
	}
	ids, err := toIDs(params.ActiveIDs)
	if err != nil {
		c.RPCError(err)
		return
	}
	sess := c.Session()
	var res interface{}
	err = s.bundle.Registry.ExecuteInNewEnvironment(c.Request.Context(), sess.UID, func(env models.Environment) error {
		if sess.Lang != "" {
			env = env.WithContext("lang", sess.Lang)
		}
		r, err := s.dispatcher.Run(env, params.Action, ids)
		if err != nil {
			return err
		}
		if recs, ok := r.Value.(*models.RecordCollection); ok {
			r.Value = recs.Ids()
		}
		res = r
		return nil
	})
	if err != nil {
		c.RPCError(err)
		return
	}
	c.RPC(res)
}

// loadMenus returns the menu tree visible by the session user
func (s *Server) loadMenus(c *Context) {
	sess := c.Session()
	var res []*menus.Item
	err := s.bundle.Registry.ExecuteInNewEnvironment(c.Request.Context(), sess.UID, func(env models.Environment) error {
		if env.IsSuperUser() {
			res = s.bundle.Menus.Tree(sess.Lang, nil)
			return nil
		}
		groups, err := env.UserGroups()
		if err != nil {
			return err
		}
		res = s.bundle.Menus.Tree(sess.Lang, groups)
		return nil
	})
	if err != nil {
		c.RPCError(err)
		return
	}
	c.RPC(res)
}

// toIDs converts a JSON id or list of ids to a slice of int64
func toIDs(val interface{}) ([]int64, error) {
	var items []interface{}
	switch v := val.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		items = v
	default:
		items = []interface{}{v}
	}
	res := make([]int64, len(items))
	for i, item := range items {
		id, err := nbutils.CastToInteger(item)
		if err != nil {
			return nil, exceptions.Validation("invalid_ids", "Invalid record id %v", item)
		}
		res[i] = id
	}
	return res, nil
}

// stringList converts a JSON string or list of strings to a slice
func stringList(val interface{}) ([]string, error) {
	switch v := val.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []interface{}:
		res := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, exceptions.Validation("invalid_argument", "Expected a list of strings, got %v", item)
			}
			res[i] = s
		}
		return res, nil
	}
	return nil, exceptions.Validation("invalid_argument", "Expected a list of strings, got %T", val)
}

func toString(val interface{}) string {
	s, _ := val.(string)
	return s
}
