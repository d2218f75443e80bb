// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

// Package cron runs the scheduled jobs stored in the ir.cron model.
package cron

import (
	"github.com/hexya-erp/erpkit/src/tools/logging"
)

var log logging.Logger

func init() {
	log = logging.GetLogger("cron")
}
