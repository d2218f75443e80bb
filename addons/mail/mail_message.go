// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package mail

import (
	"time"

	"github.com/hexya-erp/erpkit/addons/base"
	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/models/types"
)

// Message types
const (
	TypeComment      = "comment"
	TypeNotification = "notification"
)

func declareMessage(d *models.Declarer) {
	d.NewModel(MessageModel).
		SetDescription("Message").
		AddFields(map[string]models.FieldDefinition{
			"model":  models.Char{String: "Related Document Model", Required: true, Index: true},
			"res_id": models.Integer{String: "Related Document ID", Index: true},
			"body":   models.Text{String: "Contents"},
			"message_type": models.Selection{Selection: types.Selection{
				TypeComment:      "Comment",
				TypeNotification: "System notification",
			}, Required: true, Default: models.DefaultValue(TypeComment)},
			"author_id":       models.Many2One{String: "Author", RelationModel: base.PartnerModel},
			"date":            models.DateTime{Default: func(models.Environment) interface{} { return time.Now().UTC() }},
			"tracking_values": models.JSON{String: "Tracking Values"},
		}).
		SetDefaultOrder("id desc")
}

// authorID returns the id of the partner of the user of env, or 0 if the
// user has no partner.
func authorID(env models.Environment) (int64, error) {
	users, err := env.Sudo().Pool(base.UsersModel).Search(models.NewCondition().And().Field("id").Equals(env.Uid()))
	if err != nil || users.IsEmpty() {
		return 0, err
	}
	partner, err := users.Get("partner_id")
	if err != nil {
		return 0, err
	}
	id, _ := partner.(int64)
	return id, nil
}

// postMessage creates a message on each record of rc
func postMessage(rc *models.RecordCollection, body, msgType string, tracking interface{}) (*models.RecordCollection, error) {
	author, err := authorID(rc.Env())
	if err != nil {
		return nil, err
	}
	messages := rc.Env().Sudo().Pool(MessageModel)
	var ids []int64
	for _, id := range rc.Ids() {
		vals := models.FieldMap{
			"model":        rc.ModelName(),
			"res_id":       id,
			"body":         body,
			"message_type": msgType,
			"author_id":    author,
		}
		if tracking != nil {
			vals["tracking_values"] = tracking
		}
		msg, err := messages.Create(vals)
		if err != nil {
			return nil, err
		}
		ids = append(ids, msg.ID())
	}
	return rc.Env().Pool(MessageModel).Browse(ids...), nil
}

// messagesOf returns the messages attached to the records of rc
func messagesOf(rc *models.RecordCollection) (*models.RecordCollection, error) {
	return rc.Env().Sudo().Pool(MessageModel).Search(models.NewCondition().
		And().Field("model").Equals(rc.ModelName()).
		And().Field("res_id").In(rc.Ids()))
}
