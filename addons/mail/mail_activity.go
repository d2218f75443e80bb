// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package mail

import (
	"fmt"
	"time"

	"github.com/hexya-erp/erpkit/addons/base"
	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/models/types"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/nbutils"
	"github.com/pkg/errors"
)

// Activity states
const (
	StateOverdue = "overdue"
	StateToday   = "today"
	StatePlanned = "planned"
)

// now returns the current time
var now = time.Now

// today returns the current date at midnight UTC
func today() time.Time {
	return now().UTC().Truncate(24 * time.Hour)
}

func declareActivity(d *models.Declarer) {
	d.NewModel(ActivityModel).
		SetDescription("Activity").
		AddFields(map[string]models.FieldDefinition{
			"res_model": models.Char{String: "Related Document Model", Required: true, Index: true},
			"res_id":    models.Integer{String: "Related Document ID", Required: true, Index: true},
			"user_id": models.Many2One{String: "Assigned to", RelationModel: base.UsersModel, Required: true,
				OnDelete: models.Cascade, Default: func(env models.Environment) interface{} { return env.Uid() }},
			"summary":       models.Char{},
			"note":          models.Text{},
			"date_deadline": models.Date{String: "Due Date", Required: true, Index: true},
			"state": models.Selection{Selection: types.Selection{
				StateOverdue: "Overdue",
				StateToday:   "Today",
				StatePlanned: "Planned",
			}, Compute: "_compute_state"},
		}).
		SetDefaultOrder("date_deadline", "id").
		AddMethod("_compute_state", func(rc *models.RecordCollection, _ ...interface{}) (interface{}, error) {
			deadline, err := rc.Get("date_deadline")
			if err != nil {
				return nil, err
			}
			return models.FieldMap{"state": activityState(deadline.(time.Time))}, nil
		}).
		AddMethod("action_done", func(rc *models.RecordCollection, args ...interface{}) (interface{}, error) {
			var feedback string
			if len(args) > 0 && args[0] != nil {
				feedback = fmt.Sprintf("%v", args[0])
			}
			return nil, activitiesDone(rc, feedback)
		}).
		AddMethod("cron_notify_overdue", func(rc *models.RecordCollection, _ ...interface{}) (interface{}, error) {
			return NotifyOverdue(rc.Env())
		})
}

// activityState returns the state of an activity due at deadline
func activityState(deadline time.Time) string {
	t := today()
	switch {
	case deadline.Before(t):
		return StateOverdue
	case deadline.Equal(t):
		return StateToday
	}
	return StatePlanned
}

// activitiesDone posts a message on the documents of the activities of rc
// and deletes the activities.
func activitiesDone(rc *models.RecordCollection, feedback string) error {
	vals, err := rc.Read("res_model", "res_id", "summary")
	if err != nil {
		return err
	}
	for _, v := range vals {
		doc, err := rc.Env().Model(v["res_model"].(string))
		if err != nil {
			return err
		}
		if !doc.Model().InheritsFrom(ThreadMixin) {
			continue
		}
		body := fmt.Sprintf("Activity done: %s", v["summary"])
		if feedback != "" {
			body += "\n" + feedback
		}
		if _, err := doc.Browse(v["res_id"].(int64)).Call("message_post", body, TypeNotification); err != nil {
			return errors.Wrapf(err, "unable to post on %s %d", v["res_model"], v["res_id"])
		}
	}
	return rc.Unlink()
}

// activitiesOf returns the activities attached to the records of rc
func activitiesOf(rc *models.RecordCollection) (*models.RecordCollection, error) {
	return rc.Env().Sudo().Pool(ActivityModel).Search(models.NewCondition().
		And().Field("res_model").Equals(rc.ModelName()).
		And().Field("res_id").In(rc.Ids()))
}

func declareActivityMixin(d *models.Declarer) {
	d.NewMixinModel(ActivityMixin).
		SetDescription("Activity Mixin").
		AddFields(map[string]models.FieldDefinition{
			"activity_ids": models.Many2Many{String: "Activities", RelationModel: ActivityModel, Compute: "_compute_activity_ids"},
		}).
		AddMethod("_compute_activity_ids", func(rc *models.RecordCollection, _ ...interface{}) (interface{}, error) {
			acts, err := activitiesOf(rc)
			if err != nil {
				return nil, err
			}
			return models.FieldMap{"activity_ids": acts.Ids()}, nil
		}).
		AddMethod("activity_schedule", func(rc *models.RecordCollection, args ...interface{}) (interface{}, error) {
			if len(args) < 3 {
				return nil, exceptions.Validation("invalid_argument", "activity_schedule requires a user, a summary and a deadline")
			}
			uid, err := nbutils.CastToInteger(args[0])
			if err != nil {
				return nil, exceptions.Validation("invalid_argument", "invalid user %v", args[0])
			}
			return ScheduleActivity(rc, uid, fmt.Sprintf("%v", args[1]), args[2])
		}).
		ExtendMethod("unlink", func(rc *models.RecordCollection, args ...interface{}) (interface{}, error) {
			acts, err := activitiesOf(rc)
			if err != nil {
				return nil, err
			}
			res, err := rc.Super(args...)
			if err != nil {
				return nil, err
			}
			return res, acts.Unlink()
		})
}

// ScheduleActivity creates an activity assigned to the user uid on each
// record of rc. deadline is a time.Time or a date string.
func ScheduleActivity(rc *models.RecordCollection, uid int64, summary string, deadline interface{}) (*models.RecordCollection, error) {
	activities := rc.Env().Pool(ActivityModel)
	var ids []int64
	for _, id := range rc.Ids() {
		act, err := activities.Create(models.FieldMap{
			"res_model":     rc.ModelName(),
			"res_id":        id,
			"user_id":       uid,
			"summary":       summary,
			"date_deadline": deadline,
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, act.ID())
	}
	return activities.Browse(ids...), nil
}
