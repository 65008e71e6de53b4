// Package jobs runs background work on cron schedules.
package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler runs registered jobs on their cron schedules.
type Scheduler struct {
	cron *cron.Cron
	log  *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Overlapping runs of the same job are skipped.
func NewScheduler(log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "jobs")
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{log}),
			cron.SkipIfStillRunning(cronLogger{log}),
		)),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddRetention schedules r on schedule, a standard five-field cron expression or
// a descriptor such as "@hourly" or "@every 30m".
func (s *Scheduler) AddRetention(schedule string, r *Retention) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := r.Run(s.ctx); err != nil {
			s.log.WithError(err).Error("retention failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention %q: %w", schedule, err)
	}
	s.log.WithFields(logrus.Fields{"schedule": schedule, "max_age": r.maxAge}).Info("retention scheduled")
	return nil
}

// Jobs reports how many jobs are registered.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.WithField("jobs", s.Jobs()).Info("scheduler started")
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	log *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
