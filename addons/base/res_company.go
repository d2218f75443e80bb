// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package base

import "github.com/hexya-erp/erpkit/src/models"

// CompanyModel is the name of the company model
const CompanyModel = "res.company"

func declareResCompany(d *models.Declarer) {
	d.NewModel(CompanyModel).
		SetDescription("Companies").
		AddFields(map[string]models.FieldDefinition{
			"name":     models.Char{Required: true, Unique: true},
			"email":    models.Char{},
			"phone":    models.Char{},
			"currency": models.Char{Size: 3, Default: models.DefaultValue("EUR")},
			"user_ids": models.One2Many{RelationModel: UsersModel, ReverseFK: "company_id"},
		}).
		SetDefaultOrder("name")
}
