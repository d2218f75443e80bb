// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package cron

import (
	"time"

	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/robfig/cron/v3"
)

// ModelName is the name of the model holding scheduled jobs
const ModelName = "ir.cron"

// parser reads job intervals: 5-field cron specs and descriptors such as
// "@daily" or "@every 1h30m".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseInterval returns the schedule of the given interval descriptor
func ParseInterval(interval string) (cron.Schedule, error) {
	sched, err := parser.Parse(interval)
	if err != nil {
		return nil, exceptions.Validation("invalid_interval", "invalid cron interval '%s': %s", interval, err)
	}
	return sched, nil
}

// DeclareModel declares the ir.cron model in the given module declarer.
func DeclareModel(d *models.Declarer) {
	d.NewModel(ModelName).
		SetDescription("Scheduled Actions").
		AddFields(map[string]models.FieldDefinition{
			"name":          models.Char{String: "Name", Required: true, Unique: true},
			"model":         models.Char{String: "Model", Required: true},
			"method":        models.Char{String: "Method", Required: true},
			"interval":      models.Char{String: "Interval", Required: true, Default: models.DefaultValue("@every 1h")},
			"nextcall":      models.DateTime{String: "Next Execution Date", Index: true, Default: nowDefault},
			"lastcall":      models.DateTime{String: "Last Execution Date", ReadOnly: true},
			"active":        models.Boolean{String: "Active", Default: models.DefaultValue(true)},
			"timeout":       models.Integer{String: "Timeout (seconds)", Help: "0 means the default job timeout"},
			"failure_count": models.Integer{String: "Consecutive Failures", ReadOnly: true},
			"last_error":    models.Text{String: "Last Error", ReadOnly: true},
		}).
		AddMethod("_check_interval", func(rc *models.RecordCollection, _ ...interface{}) (interface{}, error) {
			interval, err := rc.Get("interval")
			if err != nil {
				return nil, err
			}
			_, err = ParseInterval(interval.(string))
			return nil, err
		}).
		AddConstraint("_check_interval", "interval").
		AddMethod("method_direct_trigger", func(rc *models.RecordCollection, _ ...interface{}) (interface{}, error) {
			for _, rec := range rc.Records() {
				job, err := readJob(rec)
				if err != nil {
					return nil, err
				}
				if _, err := rec.Env().Pool(job.Model).Call(job.Method); err != nil {
					return nil, err
				}
				if err := rec.Write(models.FieldMap{"lastcall": time.Now()}); err != nil {
					return nil, err
				}
			}
			return true, nil
		}).
		SetDefaultOrder("nextcall", "id")
}

// nowDefault is the default value of nextcall
func nowDefault(models.Environment) interface{} {
	return time.Now().UTC()
}

// A Job is a scheduled call of a model method
type Job struct {
	ID           int64
	Name         string
	Model        string
	Method       string
	Interval     string
	NextCall     time.Time
	LastCall     time.Time
	Timeout      time.Duration
	FailureCount int64
}

// readJob returns the Job of the given ir.cron record
func readJob(rec *models.RecordCollection) (Job, error) {
	vals, err := rec.Read("name", "model", "method", "interval", "nextcall", "lastcall", "timeout", "failure_count")
	if err != nil {
		return Job{}, err
	}
	if len(vals) == 0 {
		return Job{}, exceptions.NotFound("unknown_cron", "scheduled job %d does not exist", rec.ID())
	}
	v := vals[0]
	job := Job{
		ID:           rec.ID(),
		Name:         v["name"].(string),
		Model:        v["model"].(string),
		Method:       v["method"].(string),
		Interval:     v["interval"].(string),
		NextCall:     v["nextcall"].(time.Time),
		LastCall:     v["lastcall"].(time.Time),
		Timeout:      time.Duration(v["timeout"].(int64)) * time.Second,
		FailureCount: v["failure_count"].(int64),
	}
	return job, nil
}

// Next returns the next execution date of this job after the given time
func (j Job) Next(after time.Time) (time.Time, error) {
	sched, err := ParseInterval(j.Interval)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after).UTC(), nil
}
