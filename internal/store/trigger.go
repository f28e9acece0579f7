package store

import (
	"encoding/json"
	"fmt"

	"github.com/xonecas/seele/internal/errs"
)

// Trigger configs are stored as canonical JSON so identical specs compare
// equal for idempotent seeding.

func EncodeOnceConfig(runAt int64) string {
	return fmt.Sprintf(`{"run_at":%d}`, runAt)
}

func EncodeIntervalConfig(seconds int64) string {
	return fmt.Sprintf(`{"seconds":%d}`, seconds)
}

// OnceRunAt decodes the firing time of a one-shot task.
func (t Task) OnceRunAt() (int64, error) {
	var cfg struct {
		RunAt int64 `json:"run_at"`
	}
	if err := json.Unmarshal([]byte(t.TriggerConfig), &cfg); err != nil || cfg.RunAt <= 0 {
		return 0, errs.Newf(errs.BadArgument, "task %s has invalid once config %q", t.ID, t.TriggerConfig)
	}
	return cfg.RunAt, nil
}

// IntervalSeconds decodes the repeat interval of a recurring task.
func (t Task) IntervalSeconds() (int64, error) {
	var cfg struct {
		Seconds int64 `json:"seconds"`
	}
	if err := json.Unmarshal([]byte(t.TriggerConfig), &cfg); err != nil || cfg.Seconds <= 0 {
		return 0, errs.Newf(errs.BadArgument, "task %s has invalid interval config %q", t.ID, t.TriggerConfig)
	}
	return cfg.Seconds, nil
}
