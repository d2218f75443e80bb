// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package cron

import (
	"context"
	"time"

	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// A Status is the outcome of a single job execution
type Status string

// Job execution statuses
const (
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Config holds the parameters of a Runner
type Config struct {
	// Workers is the maximum number of jobs run concurrently
	Workers int
	// Period is the polling period of Start
	Period time.Duration
	// JobTimeout applies to jobs that do not set their own timeout
	JobTimeout time.Duration
}

// DefaultConfig returns the Runner configuration read from viper,
// with sensible defaults for unset keys.
func DefaultConfig() Config {
	cfg := Config{
		Workers:    viper.GetInt("Cron.Workers"),
		Period:     viper.GetDuration("Cron.Period"),
		JobTimeout: viper.GetDuration("Cron.JobTimeout"),
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Minute
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	return cfg
}

// A Runner executes the due jobs of the ir.cron model of a registry.
//
// Several runners, in this process or others, can share the same
// database: each job execution holds the advisory lock of the job so
// that a job is never run twice at the same time.
type Runner struct {
	registry *models.Registry
	config   Config
	now      func() time.Time
}

// NewRunner returns a Runner for the jobs of the given registry
func NewRunner(reg *models.Registry, cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Runner{
		registry: reg,
		config:   cfg,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// Stats counts the job executions of a RunDue call
type Stats struct {
	Done    int
	Failed  int
	Skipped int
}

func (s *Stats) add(st Status) {
	switch st {
	case StatusDone:
		s.Done++
	case StatusFailed:
		s.Failed++
	case StatusSkipped:
		s.Skipped++
	}
}

// DueJobs returns the active jobs whose next execution date is past
func (r *Runner) DueJobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	now := r.now()
	err := r.registry.SimulateInNewEnvironment(ctx, security.SuperUserID, func(env models.Environment) error {
		recs, err := env.Pool(ModelName).Search(models.NewCondition().
			And().Field("active").Equals(true).
			And().Field("nextcall").LowerOrEqual(now))
		if err != nil {
			return err
		}
		for _, rec := range recs.Records() {
			job, err := readJob(rec)
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	return jobs, err
}

// RunDue runs all the due jobs on at most Config.Workers goroutines and
// returns the execution counts once they are all finished.
//
// A failing job does not stop the other ones. The returned error is only
// set when due jobs could not be fetched.
func (r *Runner) RunDue(ctx context.Context) (Stats, error) {
	var stats Stats
	jobs, err := r.DueJobs(ctx)
	if err != nil {
		return stats, errors.Wrap(err, "unable to fetch due jobs")
	}
	if len(jobs) == 0 {
		return stats, nil
	}
	log.Debug("Running due jobs", "count", len(jobs))
	statuses := make([]Status, len(jobs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			statuses[i] = r.RunJob(gCtx, job)
			return nil
		})
	}
	g.Wait()
	for _, st := range statuses {
		stats.add(st)
	}
	return stats, nil
}

// RunJob runs the given job in its own transaction.
//
// The job is skipped if another transaction holds its lock or if it has
// been run since it was fetched. On success, the transaction is committed
// and the job rescheduled. On failure or timeout, the transaction is rolled
// back and the failure is recorded in a new transaction, which also
// reschedules the job.
func (r *Runner) RunJob(ctx context.Context, job Job) Status {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = r.config.JobTimeout
	}
	jobCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := r.now()
	began := time.Now()
	skipped := false
	err := r.registry.ExecuteInNewEnvironment(jobCtx, security.SuperUserID, func(env models.Environment) error {
		skipped = false
		current, ok, err := r.lockDueJob(env, job.ID, start)
		if err != nil || !ok {
			skipped = !ok
			return err
		}
		rc, err := env.Model(current.Model)
		if err != nil {
			return err
		}
		if _, err := rc.Call(current.Method); err != nil {
			return err
		}
		if err := jobCtx.Err(); err != nil {
			return exceptions.System("cron_timeout", err)
		}
		return r.reschedule(env, current, start, nil)
	})
	duration := time.Since(began).Seconds()
	switch {
	case err == nil && skipped:
		log.Debug("Skipping scheduled job", "job", job.Name)
		jobRuns.WithLabelValues(job.Name, string(StatusSkipped)).Inc()
		return StatusSkipped
	case err == nil:
		log.Info("Scheduled job done", "job", job.Name, "duration", duration)
		jobRuns.WithLabelValues(job.Name, string(StatusDone)).Inc()
		jobDuration.WithLabelValues(job.Name).Observe(duration)
		return StatusDone
	}
	log.Warn("Scheduled job failed", "job", job.Name, "model", job.Model, "method", job.Method, "error", err)
	jobRuns.WithLabelValues(job.Name, string(StatusFailed)).Inc()
	jobDuration.WithLabelValues(job.Name).Observe(duration)
	jobErr := err
	recErr := r.registry.ExecuteInNewEnvironment(ctx, security.SuperUserID, func(env models.Environment) error {
		current, ok, err := r.lockDueJob(env, job.ID, start)
		if err != nil || !ok {
			return err
		}
		return r.reschedule(env, current, start, jobErr)
	})
	if recErr != nil {
		log.Error("Unable to record job failure", "job", job.Name, "error", recErr)
	}
	return StatusFailed
}

// lockDueJob takes the lock of the job with the given id and returns it
// if it is still due at now. ok is false if the lock is held elsewhere or
// if the job is not due anymore.
func (r *Runner) lockDueJob(env models.Environment, id int64, now time.Time) (Job, bool, error) {
	job, err := readJob(env.Pool(ModelName).Browse(id))
	if err != nil {
		return Job{}, false, err
	}
	locked, err := env.TryLock(lockKey(job.Name))
	if err != nil || !locked {
		return Job{}, false, err
	}
	job, err = readJob(env.Pool(ModelName).Browse(id))
	if err != nil {
		return Job{}, false, err
	}
	if job.NextCall.After(now) {
		return Job{}, false, nil
	}
	return job, true, nil
}

// reschedule sets the next execution date of job after now and records
// the outcome of its execution.
func (r *Runner) reschedule(env models.Environment, job Job, now time.Time, jobErr error) error {
	next, err := job.Next(now)
	if err != nil {
		return err
	}
	vals := models.FieldMap{
		"nextcall":      next,
		"lastcall":      now,
		"failure_count": int64(0),
		"last_error":    "",
	}
	if jobErr != nil {
		delete(vals, "lastcall")
		vals["failure_count"] = job.FailureCount + 1
		vals["last_error"] = jobErr.Error()
	}
	return env.Pool(ModelName).Browse(job.ID).Write(vals)
}

// Start runs the due jobs every Config.Period until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	log.Info("Starting scheduler", "workers", r.config.Workers, "period", r.config.Period)
	ticker := time.NewTicker(r.config.Period)
	defer ticker.Stop()
	for {
		stats, err := r.RunDue(ctx)
		if err != nil {
			log.Warn("Scheduler iteration failed", "error", err)
		} else if stats != (Stats{}) {
			log.Debug("Scheduler iteration done", "done", stats.Done, "failed", stats.Failed, "skipped", stats.Skipped)
		}
		select {
		case <-ctx.Done():
			log.Info("Stopping scheduler")
			return nil
		case <-ticker.C:
		}
	}
}

func lockKey(name string) string {
	return "cron:" + name
}
