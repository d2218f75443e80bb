// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

/*
Package base is the "base" module of erpkit.

It declares companies, partners, users and groups, system parameters and
scheduled jobs, and authenticates users against the res.users table.
*/
package base

import (
	"embed"

	"github.com/hexya-erp/erpkit/src/cron"
	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/server"
	"github.com/hexya-erp/erpkit/src/tools/logging"
)

// ModuleName is the name of this module
const ModuleName = "base"

// Groups declared by this module
const (
	GroupUser   = "base.group_user"
	GroupSystem = "base.group_system"
	GroupPortal = "base.group_portal"
)

//go:embed __manifest__.yaml data demo resources security i18n
var resources embed.FS

var log logging.Logger

// Backend authenticates users of the res.users model of the last loaded
// registry.
var Backend = new(AuthBackend)

// NewModule returns the definition of the base module
func NewModule() *server.Module {
	return &server.Module{
		Declare:   declare,
		Resources: resources,
		OnLoad:    Backend.SetRegistry,
	}
}

func declare(d *models.Declarer) {
	declareResCompany(d)
	declareResPartner(d)
	declareResGroups(d)
	declareResUsers(d)
	declareConfigParameter(d)
	cron.DeclareModel(d)
	d.SetGroupResolver(userGroups)
}

func init() {
	log = logging.GetLogger("base")
	server.RegisterModule(NewModule())
	security.AuthenticationRegistry.RegisterBackend(Backend)
}
