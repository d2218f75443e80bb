// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

/*
Package mail is the "mail" module of erpkit.

It provides the mail.thread mixin that keeps an audit trail of messages
on records, the mail.activity.mixin to schedule activities on records,
and notification templates delivered through the notify package.
*/
package mail

import (
	"embed"

	"github.com/hexya-erp/erpkit/addons/base"
	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/server"
	"github.com/hexya-erp/erpkit/src/tools/logging"
)

// ModuleName is the name of this module
const ModuleName = "mail"

// Models and mixins declared by this module
const (
	MessageModel  = "mail.message"
	ActivityModel = "mail.activity"
	TemplateModel = "mail.template"
	ThreadMixin   = "mail.thread"
	ActivityMixin = "mail.activity.mixin"
)

// OverdueTemplate is the external id of the template of the overdue
// activities reminder.
const OverdueTemplate = "mail.template_activity_overdue"

//go:embed __manifest__.yaml data resources security i18n
var resources embed.FS

var log logging.Logger

// NewModule returns the definition of the mail module
func NewModule() *server.Module {
	return &server.Module{
		Declare:   declare,
		Resources: resources,
	}
}

func declare(d *models.Declarer) {
	declareMessage(d)
	declareThread(d)
	declareActivity(d)
	declareActivityMixin(d)
	declareTemplate(d)
	d.ExtendModel(base.PartnerModel).
		InheritModel(ThreadMixin).
		InheritModel(ActivityMixin)
}

func init() {
	log = logging.GetLogger("mail")
	server.RegisterModule(NewModule())
}
