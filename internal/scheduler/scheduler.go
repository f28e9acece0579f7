// Package scheduler fires persisted tasks when their trigger time
// arrives. One goroutine polls the store; fired tasks are delivered
// through a callback so the agent and transport stay decoupled from
// the loop.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/seele/internal/store"
	"github.com/xonecas/seele/internal/timeutil"
)

// FireFunc handles a due task. It typically runs an agent turn and
// delivers the reply. Errors are logged; they never stop the loop.
type FireFunc func(ctx context.Context, name, triggerTime, message string) error

// Scheduler polls the store for due tasks and fires them in order.
type Scheduler struct {
	store    *store.Store
	fire     FireFunc
	interval time.Duration
	tz       *time.Location
}

func New(st *store.Store, fire FireFunc, pollInterval time.Duration, tz *time.Location) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if tz == nil {
		tz = time.UTC
	}
	return &Scheduler{store: st, fire: fire, interval: pollInterval, tz: tz}
}

// Run polls until the context is cancelled. A tick that fails to load
// tasks is logged and skipped; the loop keeps going.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("poll_interval", s.interval).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every task that is due right now. Exposed so a tick can
// be driven directly in tests and at startup.
func (s *Scheduler) Tick(ctx context.Context) {
	now := timeutil.Now()
	due, err := s.store.DueTasks(now)
	if err != nil {
		log.Error().Err(err).Msg("loading due tasks")
		return
	}
	for _, task := range due {
		if ctx.Err() != nil {
			return
		}
		s.runTask(ctx, task, now)
	}
}

// runTask fires one task and records the run in a single update. A
// once task is completed even when firing fails, so a broken task
// cannot fire forever. An interval task advances to its next slot.
func (s *Scheduler) runTask(ctx context.Context, task store.Task, now int64) {
	triggerTime := s.triggerTime(task)
	log.Info().Str("task_id", task.ID).Str("name", task.Name).Msg("firing scheduled task")

	if err := s.fire(ctx, task.Name, triggerTime, task.Message); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("scheduled task firing failed")
	}

	nextRun := int64(0)
	status := store.TaskCompleted
	if task.TriggerType == store.TriggerInterval {
		seconds, err := task.IntervalSeconds()
		if err != nil {
			log.Error().Err(err).Str("task_id", task.ID).Msg("unreadable interval config, completing task")
		} else {
			nextRun = now + seconds
			status = store.TaskActive
		}
	}
	if err := s.store.FinishRun(task.ID, now, nextRun, status); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("recording task run")
	}
}

// triggerTime renders the time the task was meant to fire, for the
// synthetic prompt the agent builds.
func (s *Scheduler) triggerTime(task store.Task) string {
	if task.TriggerType == store.TriggerOnce {
		if runAt, err := task.OnceRunAt(); err == nil {
			return timeutil.Format(runAt, s.tz)
		}
	}
	return timeutil.Format(task.NextRunAt, s.tz)
}
