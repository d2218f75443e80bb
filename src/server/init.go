// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

/*
Package server holds the module loader and the RPC server.

Modules are registered at init time with RegisterModule. A Loader installs,
upgrades or uninstalls them in a database and returns a Bundle holding the
frozen registry and the in-memory resources of the installed modules. A
Server exposes a Bundle over JSON RPC.
*/
package server

import (
	"github.com/gin-gonic/gin"
	"github.com/hexya-erp/erpkit/src/tools/logging"
)

var log logging.Logger

func init() {
	log = logging.GetLogger("server")
	// Set to ReleaseMode now for tests and is overridden by Config.Debug
	gin.SetMode(gin.ReleaseMode)
}
