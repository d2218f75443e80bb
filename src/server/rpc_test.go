// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	. "github.com/smartystreets/goconvey/convey"
)

type testAuthBackend map[string]int64

func (b testAuthBackend) Authenticate(_ context.Context, login, secret string) (int64, error) {
	uid, ok := b[login]
	if !ok {
		return 0, security.UserNotFoundError(login)
	}
	if secret != login {
		return 0, security.InvalidCredentialsError(login)
	}
	return uid, nil
}

func init() {
	security.AuthenticationRegistry.RegisterBackend(testAuthBackend{
		"admin": security.SuperUserID,
		"demo":  2,
	})
}

type rpcResponse struct {
	Result interface{} `json:"result"`
	Error  ErrorBody   `json:"error"`
}

func doRPC(s *Server, path, token string, body interface{}) (int, rpcResponse) {
	data, err := json.Marshal(body)
	So(err, ShouldBeNil)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	var resp rpcResponse
	So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
	return w.Code, resp
}

func login(s *Server, user string) string {
	code, resp := doRPC(s, "/web/session/authenticate", "", map[string]interface{}{"login": user, "password": user})
	So(code, ShouldEqual, http.StatusOK)
	return resp.Result.(map[string]interface{})["session_id"].(string)
}

func callKW(s *Server, token, model, method string, args []interface{}, kwargs map[string]interface{}) (int, rpcResponse) {
	return doRPC(s, "/web/dataset/call_kw", token, map[string]interface{}{
		"model":  model,
		"method": method,
		"args":   args,
		"kwargs": kwargs,
	})
}

func TestRPC(t *testing.T) {
	Convey("Calling the RPC server", t, func() {
		db := newTestDB(t)
		loader := newTestLoader(db, coreModule("1.0"))
		b, err := loader.Install(context.Background(), []string{"core"}, false)
		So(err, ShouldBeNil)
		s := New(b, Config{RequestTimeout: 5 * time.Second, SessionTTL: time.Hour})
		Convey("Authentication", func() {
			code, resp := doRPC(s, "/web/session/authenticate", "", map[string]interface{}{"login": "admin", "password": "wrong"})
			So(code, ShouldEqual, http.StatusForbidden)
			So(resp.Error.Code, ShouldEqual, "invalid_credentials")
			code, resp = doRPC(s, "/web/session/authenticate", "", map[string]interface{}{"login": "nobody", "password": "nobody"})
			So(code, ShouldEqual, http.StatusForbidden)
			code, resp = doRPC(s, "/web/session/authenticate", "", map[string]interface{}{"password": "admin"})
			So(code, ShouldEqual, http.StatusBadRequest)
			So(resp.Error.Kind, ShouldEqual, exceptions.KindValidation)
			code, resp = callKW(s, "", "test.partner", "search", nil, nil)
			So(code, ShouldEqual, http.StatusForbidden)
			So(resp.Error.Code, ShouldEqual, "no_session")
			code, resp = callKW(s, "not-a-session", "test.partner", "search", nil, nil)
			So(code, ShouldEqual, http.StatusForbidden)
			So(resp.Error.Code, ShouldEqual, "session_expired")
			token := login(s, "admin")
			code, _ = doRPC(s, "/web/session/logout", token, map[string]interface{}{})
			So(code, ShouldEqual, http.StatusOK)
			code, _ = callKW(s, token, "test.partner", "search", nil, nil)
			So(code, ShouldEqual, http.StatusForbidden)
		})
		Convey("CRUD calls", func() {
			token := login(s, "admin")
			code, resp := callKW(s, token, "test.partner", "create", []interface{}{map[string]interface{}{"name": "RPC partner"}}, nil)
			So(code, ShouldEqual, http.StatusOK)
			id := resp.Result.(float64)
			code, _ = callKW(s, token, "test.partner", "write", []interface{}{[]interface{}{id}, map[string]interface{}{"ref": "RPC"}}, nil)
			So(code, ShouldEqual, http.StatusOK)
			code, resp = callKW(s, token, "test.partner", "search_read", []interface{}{[]interface{}{[]interface{}{"ref", "=", "RPC"}}},
				map[string]interface{}{"fields": []interface{}{"name"}})
			So(code, ShouldEqual, http.StatusOK)
			rows := resp.Result.([]interface{})
			So(rows, ShouldHaveLength, 1)
			So(rows[0].(map[string]interface{})["name"], ShouldEqual, "RPC partner")
			code, resp = callKW(s, token, "test.partner", "search_count", []interface{}{[]interface{}{}}, nil)
			So(code, ShouldEqual, http.StatusOK)
			So(resp.Result, ShouldEqual, float64(3))
			code, resp = callKW(s, token, "test.partner", "search", nil, map[string]interface{}{"order": "name desc", "limit": 1})
			So(code, ShouldEqual, http.StatusOK)
			So(resp.Result, ShouldResemble, []interface{}{id})
			code, resp = callKW(s, token, "test.partner", "name_get", []interface{}{[]interface{}{id}}, nil)
			So(code, ShouldEqual, http.StatusOK)
			So(resp.Result.([]interface{})[0].(map[string]interface{})["name"], ShouldEqual, "RPC partner")
			code, _ = callKW(s, token, "test.partner", "unlink", []interface{}{[]interface{}{id}}, nil)
			So(code, ShouldEqual, http.StatusOK)
			code, resp = callKW(s, token, "test.partner", "read", []interface{}{[]interface{}{id}, []interface{}{"name"}}, nil)
			So(code, ShouldEqual, http.StatusNotFound)
			So(resp.Error.Kind, ShouldEqual, exceptions.KindNotFound)
		})
		Convey("Errors are mapped to HTTP statuses", func() {
			token := login(s, "admin")
			code, resp := callKW(s, token, "test.unknown", "search", nil, nil)
			So(code, ShouldEqual, http.StatusNotFound)
			So(resp.Error.Code, ShouldEqual, "unknown_model")
			code, resp = callKW(s, token, "test.partner", "create", []interface{}{map[string]interface{}{"ref": "no name"}}, nil)
			So(code, ShouldEqual, http.StatusBadRequest)
			So(resp.Error.Kind, ShouldEqual, exceptions.KindValidation)
			code, resp = callKW(s, token, "test.partner", "_compute_display_name", nil, nil)
			So(code, ShouldEqual, http.StatusForbidden)
			So(resp.Error.Code, ShouldEqual, "private_method")
			demo := login(s, "demo")
			code, resp = callKW(s, demo, "test.partner", "search", nil, nil)
			So(code, ShouldEqual, http.StatusForbidden)
			So(resp.Error.Kind, ShouldEqual, exceptions.KindAccessDenied)
		})
		Convey("Views and actions", func() {
			token := login(s, "admin")
			code, resp := callKW(s, token, "test.partner", "get_views", nil, map[string]interface{}{
				"views": []interface{}{[]interface{}{false, "form"}, []interface{}{false, "list"}},
			})
			So(code, ShouldEqual, http.StatusOK)
			res := resp.Result.(map[string]interface{})
			views := res["views"].(map[string]interface{})
			So(views["form"].(map[string]interface{})["view_id"], ShouldEqual, "core.partner_form")
			So(views["form"].(map[string]interface{})["arch"], ShouldContainSubstring, `name="name"`)
			So(views, ShouldContainKey, "list")
			So(res["fields"], ShouldContainKey, "ref")
			code, resp = doRPC(s, "/web/action/run", token, map[string]interface{}{"action": "core.partner_action"})
			So(code, ShouldEqual, http.StatusOK)
			So(resp.Result.(map[string]interface{}), ShouldContainKey, "action")
			code, resp = doRPC(s, "/web/action/run", token, map[string]interface{}{"action": "core.unknown_action"})
			So(code, ShouldEqual, http.StatusNotFound)
		})
		Convey("Menus are filtered by user groups", func() {
			code, resp := doRPC(s, "/web/menu/load", login(s, "admin"), map[string]interface{}{})
			So(code, ShouldEqual, http.StatusOK)
			roots := resp.Result.([]interface{})
			So(roots, ShouldHaveLength, 1)
			root := roots[0].(map[string]interface{})
			So(root["name"], ShouldEqual, "Directory")
			children := root["children"].([]interface{})
			So(children, ShouldHaveLength, 2)
			So(children[0].(map[string]interface{})["name"], ShouldEqual, "Partners")
			So(children[0].(map[string]interface{})["action"], ShouldEqual, "core.partner_action")
			code, resp = doRPC(s, "/web/menu/load", login(s, "demo"), map[string]interface{}{})
			So(code, ShouldEqual, http.StatusOK)
			children = resp.Result.([]interface{})[0].(map[string]interface{})["children"].([]interface{})
			So(children, ShouldHaveLength, 1)
		})
		Convey("Metrics are exposed", func() {
			login(s, "admin")
			w := httptest.NewRecorder()
			s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(strings.Contains(w.Body.String(), "erpkit_rpc_requests_total"), ShouldBeTrue)
		})
	})
}
