// Copyright 2018 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

// Package notify composes notifications from pongo2 templates and hands
// them over to the provider registered for their channel.
package notify

import (
	"github.com/hexya-erp/erpkit/src/tools/logging"
)

var log logging.Logger

func init() {
	log = logging.GetLogger("notify")
	Templates = NewTemplateSet()
	providers = make(map[string]Provider)
	for _, channel := range []string{ChannelEmail, ChannelSMS, ChannelWhatsApp} {
		RegisterProvider(channel, LogProvider{})
	}
}
