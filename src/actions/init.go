// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

// Package actions holds the action registry and the dispatcher that runs
// actions on behalf of clients.
package actions

import (
	"github.com/hexya-erp/erpkit/src/tools/logging"
)

var log logging.Logger

func init() {
	log = logging.GetLogger("actions")
	Registry = NewCollection()
}
