// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

// Package migrations runs the version migration scripts of modules.
//
// When the declared version of an installed module is greater than its
// installed version, the module loader runs the pre-migration scripts of
// the module against the old schema, synchronizes the schema and then
// runs the post-migration scripts.
package migrations

import (
	"github.com/hexya-erp/erpkit/src/tools/logging"
)

var log logging.Logger

func init() {
	log = logging.GetLogger("migrations")
}
