// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package server

import "github.com/gin-gonic/gin"

// A HandlerFunc is a function that can be used for handling a given request or as a middleware
type HandlerFunc func(*Context)

// RouterGroup is used internally to configure router, a RouterGroup is associated with a prefix
// and an array of handlers (middleware)
type RouterGroup struct {
	gin.RouterGroup
}

// wrapContextFuncs returns a slice of gin.HandlerFunc from a slice of HandlerFunc
func wrapContextFuncs(handlers ...HandlerFunc) []gin.HandlerFunc {
	wrappedHandlers := make([]gin.HandlerFunc, len(handlers))
	for i, hf := range handlers {
		// We use here a closure inside a closure to freeze hf
		wrappedHandlers[i] = func(f HandlerFunc) gin.HandlerFunc {
			return func(ctx *gin.Context) {
				f(newContext(ctx))
			}
		}(hf)
	}
	return wrappedHandlers
}

// Group creates a new router group. Routes of the group share the group's
// middlewares and path prefix.
func (rg *RouterGroup) Group(relativePath string, handlers ...HandlerFunc) *RouterGroup {
	return &RouterGroup{
		RouterGroup: *rg.RouterGroup.Group(relativePath, wrapContextFuncs(handlers...)...),
	}
}

// Use adds middleware to the group.
func (rg *RouterGroup) Use(middleware ...HandlerFunc) gin.IRoutes {
	return rg.RouterGroup.Use(wrapContextFuncs(middleware...)...)
}

// POST is a shortcut for router.Handle("POST", path, handle)
func (rg *RouterGroup) POST(relativePath string, handlers ...HandlerFunc) gin.IRoutes {
	return rg.RouterGroup.POST(relativePath, wrapContextFuncs(handlers...)...)
}

// GET is a shortcut for router.Handle("GET", path, handle)
func (rg *RouterGroup) GET(relativePath string, handlers ...HandlerFunc) gin.IRoutes {
	return rg.RouterGroup.GET(relativePath, wrapContextFuncs(handlers...)...)
}
