// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

// Package views holds the view registry. Views are XML architectures
// declared by modules for a model and a view type. Modules can modify the
// views of other modules with inheriting views holding patch programs.
package views

import (
	"github.com/hexya-erp/erpkit/src/tools/logging"
)

var log logging.Logger

func init() {
	log = logging.GetLogger("views")
	Registry = NewCollection()
}
