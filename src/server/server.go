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

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/hexya-erp/erpkit/src/actions"
	"github.com/hexya-erp/erpkit/src/tools/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
)

// Config holds the parameters of a Server
type Config struct {
	// Debug enables gin debug mode and the pprof endpoints
	Debug bool
	// RequestTimeout is the wall-clock budget of a RPC request
	RequestTimeout time.Duration
	// SessionTTL is the lifetime of an idle session
	SessionTTL time.Duration
}

// DefaultConfig returns the server configuration read from viper
func DefaultConfig() Config {
	cfg := Config{
		Debug:          viper.GetBool("Debug"),
		RequestTimeout: viper.GetDuration("Server.RequestTimeout"),
		SessionTTL:     viper.GetDuration("Server.SessionTTL"),
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return cfg
}

// A Server is the http server of the application
// It is internally a wrapper around a gin.Engine
type Server struct {
	*gin.Engine
	bundle     *Bundle
	config     Config
	sessions   *SessionStore
	dispatcher *actions.Dispatcher
}

// New returns a Server exposing the given bundle
func New(bundle *Bundle, cfg Config) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	}
	s := &Server{
		Engine:     gin.New(),
		bundle:     bundle,
		config:     cfg,
		sessions:   NewSessionStore(cfg.SessionTTL),
		dispatcher: actions.NewDispatcher(bundle.Actions),
	}
	s.Use(gin.Recovery())
	s.Use(logging.LogForGin(log))
	s.Use(metricsMiddleware())
	if cfg.Debug {
		pprof.Register(s.Engine)
	}
	s.GET("/metrics", gin.WrapH(promhttp.Handler()))
	web := s.Group("/web", s.timeoutMiddleware)
	web.POST("/session/authenticate", s.authenticate)
	auth := web.Group("", s.sessionMiddleware)
	auth.POST("/session/logout", s.logout)
	auth.POST("/dataset/call_kw", s.callKW)
	auth.POST("/action/run", s.runAction)
	auth.POST("/menu/load", s.loadMenus)
	return s
}

// Bundle returns the bundle served by this server
func (s *Server) Bundle() *Bundle {
	return s.bundle
}

// Group creates a new router group. You should add all the routes that have common middlwares or the same path prefix.
// For example, all the routes that use a common middlware for authorization could be grouped.
func (s *Server) Group(relativePath string, handlers ...HandlerFunc) *RouterGroup {
	return &RouterGroup{
		RouterGroup: *s.Engine.Group(relativePath, wrapContextFuncs(handlers...)...),
	}
}

// timeoutMiddleware bounds the request context with the configured
// request timeout.
func (s *Server) timeoutMiddleware(c *Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.RequestTimeout)
	defer cancel()
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

// Run listens on addr and serves HTTP requests until ctx is cancelled.
// Pending requests are given RequestTimeout to complete.
func (s *Server) Run(ctx context.Context, addr string) (err error) {
	srv := &http.Server{
		Addr:    addr,
		Handler: s,
	}
	errChan := make(chan error, 1)
	go func() {
		log.Info("erpkit is up and running HTTP", "address", addr)
		errChan <- srv.ListenAndServe()
	}()
	select {
	case err = <-errChan:
		log.Error("HTTP server stopped", "error", err)
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.RequestTimeout)
	defer cancel()
	log.Info("Shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}
