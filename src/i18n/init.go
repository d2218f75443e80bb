// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package i18n

import (
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/logging"
)

var log logging.Logger

func init() {
	log = logging.GetLogger("i18n")
	Registry = NewTranslationsCollection()
	exceptions.SetTranslator(TranslateCode)
}
