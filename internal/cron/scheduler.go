// Package cron schedules and runs a function's cron.json jobs. Validation
// of an individual job's schedule expression and handler artifact happens
// here, at scheduling time, not when the manifest is parsed — a bad job
// costs a WARN and is skipped, it never fails the function's load.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	robfigcron "github.com/robfig/cron/v3"

	"faasd/internal/faasfunction"
	"faasd/internal/invocation"
	"faasd/internal/logging"
)

// drainTimeout bounds how long Remove/Sync waits for an in-flight firing of
// a job being unscheduled to finish before moving on.
const drainTimeout = 5 * time.Second

var scheduleParser = robfigcron.NewParser(
	robfigcron.Minute | robfigcron.Hour | robfigcron.Dom | robfigcron.Month | robfigcron.Dow,
)

// scheduledJob tracks one installed gocron job plus the bookkeeping needed
// to skip overlapping firings and drain on removal.
type scheduledJob struct {
	name    string
	gocron  gocron.Job
	running atomic.Bool
	wg      sync.WaitGroup
}

// Scheduler owns a single gocron.Scheduler shared by every function's cron
// jobs, grouped by function name so a reload or unload can replace or drain
// exactly that function's jobs without disturbing the rest.
type Scheduler struct {
	mu     sync.Mutex
	sched  gocron.Scheduler
	logger *logging.Logger
	jobs   map[string]map[string]*scheduledJob // function -> job name -> job
}

// New creates a Scheduler and starts it immediately; jobs begin firing as
// soon as they are installed via Sync.
func New(logger *logging.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("cron: create scheduler: %w", err)
	}
	sched := &Scheduler{
		sched:  s,
		logger: logger,
		jobs:   make(map[string]map[string]*scheduledJob),
	}
	s.Start()
	return sched, nil
}

// Sync installs fn's current cron jobs, replacing whatever was previously
// scheduled for fn.Name. Each job is validated independently: an invalid
// schedule expression or a handler not present in fn.JobHandlers is logged
// with WARN and that job alone is skipped, the function's HTTP routes and
// other jobs are unaffected.
func (s *Scheduler) Sync(fn *faasfunction.Function) {
	s.Remove(fn.Name)

	if len(fn.CronJobs.Jobs) == 0 {
		return
	}

	logger := s.logger.WithFunction(fn.Name)
	installed := make(map[string]*scheduledJob, len(fn.CronJobs.Jobs))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range fn.CronJobs.Jobs {
		handler, ok := fn.JobHandlers[job.Handler]
		if !ok {
			logger.Warn("cron job references missing handler artifact, skipping",
				"job", job.Name, "handler", job.Handler)
			continue
		}
		if _, err := scheduleParser.Parse(job.Schedule); err != nil {
			logger.Warn("cron job has invalid schedule expression, skipping",
				"job", job.Name, "schedule", job.Schedule, "error", err)
			continue
		}

		sj := &scheduledJob{name: job.Name}
		task := s.makeTask(fn.Name, job.Name, job.Timezone, handler, fn.Env, sj, logger)

		loc, err := time.LoadLocation(job.Timezone)
		if err != nil {
			logger.Warn("cron job has unknown timezone, falling back to UTC",
				"job", job.Name, "timezone", job.Timezone, "error", err)
			loc = time.UTC
		}

		gj, err := s.sched.NewJob(
			gocron.CronJob(job.Schedule, false),
			gocron.NewTask(task),
			gocron.WithName(fmt.Sprintf("%s/%s", fn.Name, job.Name)),
			gocron.WithLocation(loc),
		)
		if err != nil {
			logger.Warn("failed to schedule cron job, skipping", "job", job.Name, "error", err)
			continue
		}

		sj.gocron = gj
		installed[job.Name] = sj
		logger.Log(context.Background(), logging.LevelCron, "cron job scheduled", "job", job.Name, "schedule", job.Schedule)
	}

	if len(installed) > 0 {
		s.jobs[fn.Name] = installed
	}
}

// makeTask builds the gocron task function for one job: it skips an
// overlapping firing with a WARN, otherwise invokes the handler and logs
// CRON or CRON_ERROR depending on outcome.
func (s *Scheduler) makeTask(function, jobName, timezone string, handler invocation.JobHandler, env map[string]string, sj *scheduledJob, logger *slog.Logger) func() {
	_ = timezone
	return func() {
		if !sj.running.CompareAndSwap(false, true) {
			logger.Warn("cron job still running from previous firing, skipping", "job", jobName, "tick", time.Now().UTC())
			return
		}
		sj.wg.Add(1)
		defer func() {
			sj.running.Store(false)
			sj.wg.Done()
		}()

		job := &invocation.Job{
			JobName:      jobName,
			FunctionName: function,
			Env:          env,
			Logger:       logger,
		}

		start := time.Now()
		err := s.invoke(handler, job)
		duration := time.Since(start)

		ctx := context.Background()
		if err != nil {
			logger.Log(ctx, logging.LevelCronError, "cron job failed", "job", jobName, "duration_ms", duration.Milliseconds(), "error", err)
			return
		}
		logger.Log(ctx, logging.LevelCron, "cron job finished", "job", jobName, "duration_ms", duration.Milliseconds())
	}
}

// invoke calls the handler, converting a panic into an error the same way
// the HTTP dispatch path does.
func (s *Scheduler) invoke(handler invocation.JobHandler, job *invocation.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return handler(job)
}

// Remove unschedules every job belonging to function, waiting up to
// drainTimeout for any in-flight firing to finish before moving on.
func (s *Scheduler) Remove(function string) {
	s.mu.Lock()
	existing := s.jobs[function]
	delete(s.jobs, function)
	s.mu.Unlock()

	for _, sj := range existing {
		_ = s.sched.RemoveJob(sj.gocron.ID())
		if !waitWithTimeout(&sj.wg, drainTimeout) {
			s.logger.Warn("timed out draining in-flight cron job, abandoning handle",
				"function", function, "job", sj.name, "timeout", drainTimeout)
		}
	}
}

// waitWithTimeout waits for wg to drain, returning false if timeout elapses
// first.
func waitWithTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Stop shuts down the scheduler, waiting for in-flight jobs to finish.
func (s *Scheduler) Stop() error {
	return s.sched.Shutdown()
}
