// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package base

import "github.com/hexya-erp/erpkit/src/models"

// PartnerModel is the name of the partner model
const PartnerModel = "res.partner"

func declareResPartner(d *models.Declarer) {
	d.NewModel(PartnerModel).
		SetDescription("Contacts").
		AddFields(map[string]models.FieldDefinition{
			"name":       models.Char{Required: true, Index: true, Tracking: true},
			"ref":        models.Char{String: "Internal Reference", Index: true},
			"email":      models.Char{Tracking: true},
			"phone":      models.Char{},
			"is_company": models.Boolean{String: "Is a Company"},
			"active":     models.Boolean{Default: models.DefaultValue(true)},
			"comment":    models.Text{String: "Notes"},
			"parent_id":  models.Many2One{String: "Related Company", RelationModel: PartnerModel, Index: true},
			"child_ids":  models.One2Many{String: "Contacts", RelationModel: PartnerModel, ReverseFK: "parent_id"},
			"company_id": models.Many2One{RelationModel: CompanyModel},
			"commercial_partner_id": models.Many2One{
				String:        "Commercial Entity",
				RelationModel: PartnerModel,
				Compute:       "_compute_commercial_partner",
				Depends:       []string{"is_company", "parent_id"},
				Stored:        true,
			},
		}).
		SetDefaultOrder("name").
		AddMethod("_compute_commercial_partner", computeCommercialPartner).
		AddMethod("action_archive", func(rc *models.RecordCollection, _ ...interface{}) (interface{}, error) {
			return nil, rc.Write(models.FieldMap{"active": false})
		}).
		AddMethod("action_unarchive", func(rc *models.RecordCollection, _ ...interface{}) (interface{}, error) {
			return nil, rc.Write(models.FieldMap{"active": true})
		})
}

// computeCommercialPartner returns the partner itself if it is a company
// or has no parent, and the commercial partner of its parent otherwise.
func computeCommercialPartner(rc *models.RecordCollection, _ ...interface{}) (interface{}, error) {
	vals, err := rc.Read("is_company", "parent_id")
	if err != nil {
		return nil, err
	}
	parentID, _ := vals[0]["parent_id"].(int64)
	if vals[0]["is_company"].(bool) || parentID == 0 {
		return models.FieldMap{"commercial_partner_id": rc.ID()}, nil
	}
	commercial, err := rc.Browse(parentID).Get("commercial_partner_id")
	if err != nil {
		return nil, err
	}
	return models.FieldMap{"commercial_partner_id": commercial}, nil
}
