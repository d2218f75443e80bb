// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package mail

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
)

// A TrackingValue is the change of a tracked field recorded in a message
type TrackingValue struct {
	Field    string      `json:"field"`
	String   string      `json:"string"`
	OldValue interface{} `json:"old_value"`
	NewValue interface{} `json:"new_value"`
}

func declareThread(d *models.Declarer) {
	d.NewMixinModel(ThreadMixin).
		SetDescription("Discussion Thread").
		AddFields(map[string]models.FieldDefinition{
			"message_ids": models.Many2Many{String: "Messages", RelationModel: MessageModel, Compute: "_compute_message_ids"},
		}).
		AddMethod("_compute_message_ids", func(rc *models.RecordCollection, _ ...interface{}) (interface{}, error) {
			msgs, err := messagesOf(rc)
			if err != nil {
				return nil, err
			}
			return models.FieldMap{"message_ids": msgs.Ids()}, nil
		}).
		AddMethod("message_post", func(rc *models.RecordCollection, args ...interface{}) (interface{}, error) {
			if len(args) == 0 {
				return nil, exceptions.Validation("invalid_argument", "message_post requires a body")
			}
			msgType := TypeComment
			if len(args) > 1 && args[1] != nil {
				msgType = fmt.Sprintf("%v", args[1])
			}
			return postMessage(rc, fmt.Sprintf("%v", args[0]), msgType, nil)
		}).
		ExtendMethod("create", func(rc *models.RecordCollection, args ...interface{}) (interface{}, error) {
			res, err := rc.Super(args...)
			if err != nil {
				return nil, err
			}
			recs := res.(*models.RecordCollection)
			desc := recs.Model().Description()
			if desc == "" {
				desc = recs.ModelName()
			}
			if _, err := postMessage(recs, fmt.Sprintf("%s created", desc), TypeNotification, nil); err != nil {
				return nil, err
			}
			return recs, nil
		}).
		ExtendMethod("write", func(rc *models.RecordCollection, args ...interface{}) (interface{}, error) {
			tracked := trackedFields(rc, args)
			if len(tracked) == 0 {
				return rc.Super(args...)
			}
			before, err := readValues(rc, tracked)
			if err != nil {
				return nil, err
			}
			res, err := rc.Super(args...)
			if err != nil {
				return nil, err
			}
			after, err := readValues(rc, tracked)
			if err != nil {
				return nil, err
			}
			for _, rec := range rc.Records() {
				changes := trackingValues(rec, tracked, before[rec.ID()], after[rec.ID()])
				if len(changes) == 0 {
					continue
				}
				if _, err := postMessage(rec, "", TypeNotification, changes); err != nil {
					return nil, err
				}
			}
			return res, nil
		}).
		ExtendMethod("unlink", func(rc *models.RecordCollection, args ...interface{}) (interface{}, error) {
			msgs, err := messagesOf(rc)
			if err != nil {
				return nil, err
			}
			res, err := rc.Super(args...)
			if err != nil {
				return nil, err
			}
			return res, msgs.Unlink()
		})
}

// trackedFields returns the sorted names of the tracked fields of rc's
// model that are set in the values given to write.
func trackedFields(rc *models.RecordCollection, args []interface{}) []string {
	if len(args) == 0 {
		return nil
	}
	var keys []string
	switch vals := args[0].(type) {
	case models.FieldMap:
		keys = vals.Keys()
	case map[string]interface{}:
		keys = models.FieldMap(vals).Keys()
	}
	var res []string
	for _, k := range keys {
		if fi := rc.Model().Field(k); fi != nil && fi.Tracking() {
			res = append(res, k)
		}
	}
	sort.Strings(res)
	return res
}

// readValues returns the values of fields for each record of rc
func readValues(rc *models.RecordCollection, fields []string) (map[int64]models.FieldMap, error) {
	vals, err := rc.Sudo().Read(append([]string{"id"}, fields...)...)
	if err != nil {
		return nil, err
	}
	res := make(map[int64]models.FieldMap, len(vals))
	for _, v := range vals {
		res[v["id"].(int64)] = v
	}
	return res, nil
}

// trackingValues returns the changes of the given fields between before
// and after.
func trackingValues(rc *models.RecordCollection, fields []string, before, after models.FieldMap) []TrackingValue {
	var res []TrackingValue
	for _, f := range fields {
		if reflect.DeepEqual(before[f], after[f]) {
			continue
		}
		res = append(res, TrackingValue{
			Field:    f,
			String:   rc.Model().Field(f).String(),
			OldValue: before[f],
			NewValue: after[f],
		})
	}
	return res
}
