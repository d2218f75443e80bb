// Copyright 2018 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package mail

import (
	"strings"

	"github.com/hexya-erp/erpkit/addons/base"
	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/models/types"
	"github.com/hexya-erp/erpkit/src/notify"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/nbutils"
	"github.com/pkg/errors"
)

func declareTemplate(d *models.Declarer) {
	d.NewModel(TemplateModel).
		SetDescription("Notification Template").
		AddFields(map[string]models.FieldDefinition{
			"name":  models.Char{Required: true},
			"model": models.Char{String: "Applies to", Required: true},
			"channel": models.Selection{Selection: types.Selection{
				notify.ChannelEmail:    "Email",
				notify.ChannelSMS:      "SMS",
				notify.ChannelWhatsApp: "WhatsApp",
			}, Required: true, Default: models.DefaultValue(notify.ChannelEmail)},
			"recipients": models.Char{String: "To", Required: true, Help: "Comma separated recipients, in template syntax"},
			"subject":    models.Char{},
			"body":       models.Text{Required: true},
		}).
		SetDefaultOrder("name").
		AddConstraint("_check_syntax", "recipients", "subject", "body").
		AddMethod("_check_syntax", func(rc *models.RecordCollection, _ ...interface{}) (interface{}, error) {
			vals, err := rc.Read("recipients", "subject", "body")
			if err != nil {
				return nil, err
			}
			for _, f := range []string{"recipients", "subject", "body"} {
				if err := notify.Check(vals[0][f].(string)); err != nil {
					return nil, errors.Wrapf(err, "field %s of template", f)
				}
			}
			return nil, nil
		}).
		AddMethod("send", func(rc *models.RecordCollection, args ...interface{}) (interface{}, error) {
			var sent int64
			for _, arg := range args {
				id, err := nbutils.CastToInteger(arg)
				if err != nil {
					return nil, exceptions.Validation("invalid_ids", "Invalid record id %v", arg)
				}
				if err := SendTemplate(rc, id, nil); err != nil {
					return nil, err
				}
				sent++
			}
			return sent, nil
		})
}

// templateValues returns the values a template is rendered with for the
// record resID of model.
func templateValues(env models.Environment, model string, resID int64) (map[string]interface{}, error) {
	rc, err := env.Model(model)
	if err != nil {
		return nil, err
	}
	rec := rc.Browse(resID)
	vals, err := rec.Read()
	if err != nil {
		return nil, err
	}
	user, err := env.Sudo().Pool(base.UsersModel).Browse(env.Uid()).Read("name", "login", "lang")
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"object": map[string]interface{}(vals[0]),
		"user":   map[string]interface{}(user[0]),
	}, nil
}

// SendTemplate renders the template tmpl for the record resID of the
// template model and hands the message over to the provider of the
// template channel. extra values are added to the rendering values. The
// message is recorded on the record if its model is a thread.
func SendTemplate(tmpl *models.RecordCollection, resID int64, extra map[string]interface{}) error {
	if err := tmpl.EnsureOne(); err != nil {
		return err
	}
	tv, err := tmpl.Read("model", "channel", "recipients", "subject", "body")
	if err != nil {
		return err
	}
	model := tv[0]["model"].(string)
	env := tmpl.Env()
	values, err := templateValues(env, model, resID)
	if err != nil {
		return err
	}
	for k, v := range extra {
		values[k] = v
	}
	to, err := notify.Render(tv[0]["recipients"].(string), values)
	if err != nil {
		return err
	}
	var recipients []string
	for _, r := range strings.Split(to, ",") {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	tpl := notify.Template{
		Channel: tv[0]["channel"].(string),
		Subject: tv[0]["subject"].(string),
		Body:    tv[0]["body"].(string),
	}
	msg, err := tpl.Compose(recipients, values)
	if err != nil {
		return err
	}
	msg.Model, msg.ResID = model, resID
	if err := notify.Send(env.Ctx(), msg); err != nil {
		return err
	}
	doc := env.Pool(model)
	if doc.Model().InheritsFrom(ThreadMixin) {
		_, err = postMessage(doc.Browse(resID), msg.Subject, TypeNotification, nil)
	}
	return err
}

// NotifyOverdue sends the overdue reminder to the users of the overdue
// activities and returns the number of reminders sent. Activities whose
// user has no email are skipped.
func NotifyOverdue(env models.Environment) (int64, error) {
	tmpl, err := env.Sudo().Ref(OverdueTemplate)
	if err != nil {
		return 0, err
	}
	activities, err := env.Sudo().Pool(ActivityModel).Search(models.NewCondition().
		And().Field("date_deadline").Lower(today()))
	if err != nil {
		return 0, err
	}
	var sent int64
	for _, act := range activities.Records() {
		user, err := act.GetRecord("user_id")
		if err != nil {
			return sent, err
		}
		partner, err := user.GetRecord("partner_id")
		if err != nil {
			return sent, err
		}
		var email string
		if partner.IsNotEmpty() {
			e, err := partner.Get("email")
			if err != nil {
				return sent, err
			}
			email, _ = e.(string)
		}
		if email == "" {
			log.Debug("Skipping overdue activity of user without email", "activity", act.ID(), "user", user.ID())
			continue
		}
		err = SendTemplate(tmpl, act.ID(), map[string]interface{}{"email": email})
		switch exceptions.KindOf(err) {
		case "":
			sent++
		case exceptions.KindValidation:
			log.Warn("Unable to send overdue reminder", "activity", act.ID(), "error", err)
		default:
			return sent, err
		}
	}
	log.Info("Overdue activities reminders sent", "count", sent)
	return sent, nil
}
