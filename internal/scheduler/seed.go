package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xonecas/seele/internal/errs"
	"github.com/xonecas/seele/internal/store"
	"github.com/xonecas/seele/internal/timeutil"
)

// seedTask is one entry of the seed file: a JSON list of tasks created
// at startup. Time uses the same grammar as the scheduled_task tool.
type seedTask struct {
	Name        string `json:"name"`
	TriggerType string `json:"trigger_type"`
	Time        string `json:"time"`
	Message     string `json:"message"`
}

// Seed loads tasks from a JSON file into the store. Entries matching
// an existing task by name, trigger type and trigger config are
// skipped, so the file can be loaded on every start. A missing file is
// not an error.
func Seed(st *store.Store, path string, tz *time.Location) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Debug().Str("path", path).Msg("no task seed file")
		return nil
	}
	if err != nil {
		return errs.New(errs.BadArgument, fmt.Errorf("read task seed file: %w", err))
	}

	var seeds []seedTask
	if err := json.Unmarshal(data, &seeds); err != nil {
		return errs.New(errs.BadArgument, fmt.Errorf("parse task seed file %s: %w", path, err))
	}

	now := timeutil.Now()
	created := 0
	for _, seed := range seeds {
		if seed.Name == "" || seed.Message == "" || seed.Time == "" {
			log.Warn().Str("name", seed.Name).Msg("skipping incomplete seed task")
			continue
		}

		var triggerConfig string
		var nextRun int64
		switch seed.TriggerType {
		case store.TriggerOnce:
			runAt, err := timeutil.ParseOnceTrigger(seed.Time, now, tz)
			if err != nil {
				log.Warn().Err(err).Str("name", seed.Name).Msg("skipping seed task with bad time")
				continue
			}
			triggerConfig = store.EncodeOnceConfig(runAt)
			nextRun = runAt
		case store.TriggerInterval:
			seconds, err := timeutil.ParseInterval(seed.Time)
			if err != nil {
				log.Warn().Err(err).Str("name", seed.Name).Msg("skipping seed task with bad interval")
				continue
			}
			triggerConfig = store.EncodeIntervalConfig(seconds)
			nextRun = now + seconds
		default:
			log.Warn().Str("name", seed.Name).Str("trigger_type", seed.TriggerType).
				Msg("skipping seed task with unknown trigger type")
			continue
		}

		existing, err := st.FindTaskBySpec(seed.Name, seed.TriggerType, triggerConfig)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		task := store.Task{
			ID:            uuid.NewString(),
			Name:          seed.Name,
			TriggerType:   seed.TriggerType,
			TriggerConfig: triggerConfig,
			Message:       seed.Message,
			CreatedAt:     now,
			NextRunAt:     nextRun,
			Status:        store.TaskActive,
		}
		if err := st.InsertTask(task); err != nil {
			return err
		}
		created++
	}

	if created > 0 {
		log.Info().Int("created", created).Str("path", path).Msg("seeded scheduled tasks")
	}
	return nil
}
