// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
)

// sessionKey is the gin context key of the current session
const sessionKey = "erpkit.session"

// The Context allows to pass data across controller layers
// and middlewares.
type Context struct {
	*gin.Context
}

func newContext(c *gin.Context) *Context {
	return &Context{Context: c}
}

// An ErrorBody is the error object of a failed RPC call
type ErrorBody struct {
	Kind    exceptions.Kind `json:"kind"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

// A ResponseError is the message format sent back to a
// client in case of failure
type ResponseError struct {
	Error ErrorBody `json:"error"`
}

// RPC serializes the given result as JSON into the response body.
func (c *Context) RPC(obj interface{}) {
	c.JSON(http.StatusOK, gin.H{"result": obj})
}

// RPCError aborts the request with the given error. The HTTP status is
// derived from the kind of the error.
func (c *Context) RPCError(err error) {
	e := exceptions.As(err)
	if e == nil {
		e = exceptions.System("internal", err)
	}
	lang := ""
	if sess := c.Session(); sess != nil {
		lang = sess.Lang
	}
	body := ErrorBody{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: e.Localize(lang),
	}
	status := exceptions.HTTPStatus(e)
	if status == http.StatusInternalServerError {
		c.Error(err)
		if !gin.IsDebugging() {
			body.Message = "Internal server error"
		}
	}
	c.AbortWithStatusJSON(status, ResponseError{Error: body})
}

// BindRPCParams binds the JSON body of the request to the given data object.
func (c *Context) BindRPCParams(data interface{}) error {
	if err := c.ShouldBindJSON(data); err != nil {
		return exceptions.Validation("invalid_request", "invalid request body: %s", err)
	}
	return nil
}

// Session returns the session of the current request or nil
func (c *Context) Session() *Session {
	sess, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	return sess.(*Session)
}
