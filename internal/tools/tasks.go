package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xonecas/seele/internal/errs"
	"github.com/xonecas/seele/internal/provider"
	"github.com/xonecas/seele/internal/store"
	"github.com/xonecas/seele/internal/timeutil"
)

// TaskName is the task management tool's advertised name.
const TaskName = "scheduled_task"

var taskSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"action": {
			"type": "string",
			"enum": ["create", "list", "get", "pause", "resume", "cancel"],
			"description": "Action to perform. 'create' makes a new task, 'list' shows active tasks, 'get' shows details, 'pause' stops a task temporarily, 'resume' reactivates it, 'cancel' ends it permanently."
		},
		"task_id": {
			"type": "string",
			"description": "Task identifier, required for get, pause, resume, and cancel. Obtain it from 'list'."
		},
		"name": {
			"type": "string",
			"description": "Descriptive task name like 'Morning reminder'. Required for 'create'."
		},
		"trigger_type": {
			"type": "string",
			"enum": ["once", "interval"],
			"description": "'once' fires a single time, 'interval' recurs. Required for 'create'."
		},
		"time": {
			"type": "string",
			"description": "When to trigger. Required for 'create'. For 'once': epoch seconds, an ISO datetime like '2026-09-01 14:30:00', 'in 30 minutes', 'tomorrow', or 'next week'. For 'interval': '30s', '5m', '1h', '1d', '1w', or plain seconds."
		},
		"message": {
			"type": "string",
			"description": "The reminder message delivered when the task fires. Required for 'create'."
		}
	},
	"required": ["action"]
}`)

// TaskTool manages scheduled tasks on behalf of the model.
type TaskTool struct {
	store *store.Store
	tz    *time.Location
}

func NewTaskTool(st *store.Store, tz *time.Location) *TaskTool {
	return &TaskTool{store: st, tz: tz}
}

func (t *TaskTool) Definition() provider.Tool {
	return provider.Tool{
		Name: TaskName,
		Description: "Manage scheduled tasks like reminders and recurring messages. " +
			"Use when the user asks to be reminded about something, wants recurring check-ins, " +
			"or asks to inspect, pause, resume, or cancel existing reminders.",
		Parameters: taskSchema,
	}
}

type taskArgs struct {
	Action      string `json:"action"`
	TaskID      string `json:"task_id"`
	Name        string `json:"name"`
	TriggerType string `json:"trigger_type"`
	Time        string `json:"time"`
	Message     string `json:"message"`
}

func (t *TaskTool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var a taskArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", errs.New(errs.BadArgument, fmt.Errorf("decode task arguments: %w", err))
	}

	switch a.Action {
	case "create":
		return t.create(a)
	case "list":
		return t.list()
	case "get":
		return t.get(a.TaskID)
	case "pause":
		return t.setStatus(a.TaskID, store.TaskActive, store.TaskPaused, "paused")
	case "resume":
		return t.setStatus(a.TaskID, store.TaskPaused, store.TaskActive, "resumed")
	case "cancel":
		return t.cancel(a.TaskID)
	default:
		return "", errs.Newf(errs.BadArgument, "unknown action %q", a.Action)
	}
}

func (t *TaskTool) create(a taskArgs) (string, error) {
	if a.Name == "" {
		return "", errs.Newf(errs.BadArgument, "name is required to create a task")
	}
	if a.Message == "" {
		return "", errs.Newf(errs.BadArgument, "message is required to create a task")
	}
	if a.Time == "" {
		return "", errs.Newf(errs.BadArgument, "time is required to create a task")
	}

	now := timeutil.Now()
	task := store.Task{
		ID:          uuid.NewString(),
		Name:        a.Name,
		TriggerType: a.TriggerType,
		Message:     a.Message,
		CreatedAt:   now,
		Status:      store.TaskActive,
	}

	var detail string
	switch a.TriggerType {
	case store.TriggerOnce:
		runAt, err := timeutil.ParseOnceTrigger(a.Time, now, t.tz)
		if err != nil {
			return "", err
		}
		task.TriggerConfig = store.EncodeOnceConfig(runAt)
		task.NextRunAt = runAt
		detail = fmt.Sprintf("Type: One-time\nTrigger at: %s", timeutil.Format(runAt, t.tz))
	case store.TriggerInterval:
		seconds, err := timeutil.ParseInterval(a.Time)
		if err != nil {
			return "", err
		}
		task.TriggerConfig = store.EncodeIntervalConfig(seconds)
		task.NextRunAt = now + seconds
		detail = fmt.Sprintf("Type: Recurring\nInterval: %s", timeutil.FormatInterval(seconds))
	default:
		return "", errs.Newf(errs.BadArgument, "trigger_type must be once or interval, got %q", a.TriggerType)
	}

	if err := t.store.InsertTask(task); err != nil {
		return "", err
	}
	log.Info().Str("task_id", task.ID).Str("name", task.Name).Str("trigger", task.TriggerType).Msg("scheduled task created")
	return fmt.Sprintf("✓ Task created (ID: %s)\nName: %s\n%s\nMessage: %s", task.ID, task.Name, detail, task.Message), nil
}

func (t *TaskTool) list() (string, error) {
	tasks, err := t.store.Tasks(store.TaskActive)
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return "No active tasks found.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Active tasks (%d):\n", len(tasks))
	for _, task := range tasks {
		fmt.Fprintf(&b, "\n• %s\n  ID: %s\n  Type: %s\n", task.Name, task.ID, task.TriggerType)
		b.WriteString(t.triggerLines(task, "  "))
		fmt.Fprintf(&b, "  Message: %s\n", task.Message)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (t *TaskTool) get(taskID string) (string, error) {
	if taskID == "" {
		return "", errs.Newf(errs.BadArgument, "task_id is required")
	}
	task, err := t.store.TaskByID(taskID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nID: %s\nType: %s\nStatus: %s\n", task.Name, task.ID, task.TriggerType, task.Status)
	b.WriteString(t.triggerLines(*task, ""))
	if task.LastRunAt > 0 {
		fmt.Fprintf(&b, "Last run: %s (%s)\n",
			timeutil.Format(task.LastRunAt, t.tz), timeutil.FormatRelative(task.LastRunAt, timeutil.Now()))
	}
	fmt.Fprintf(&b, "Message: %s", task.Message)
	return b.String(), nil
}

func (t *TaskTool) triggerLines(task store.Task, indent string) string {
	if task.TriggerType == store.TriggerOnce {
		if runAt, err := task.OnceRunAt(); err == nil {
			return fmt.Sprintf("%sTrigger at: %s\n", indent, timeutil.Format(runAt, t.tz))
		}
		return ""
	}
	seconds, err := task.IntervalSeconds()
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%sInterval: %s\n%sNext run: %s\n",
		indent, timeutil.FormatInterval(seconds), indent, timeutil.Format(task.NextRunAt, t.tz))
}

func (t *TaskTool) setStatus(taskID, from, to, verb string) (string, error) {
	if taskID == "" {
		return "", errs.Newf(errs.BadArgument, "task_id is required")
	}
	task, err := t.store.TaskByID(taskID)
	if err != nil {
		return "", err
	}
	if task.Status != from {
		return fmt.Sprintf("Task cannot be %s (current status: %s)", verb, task.Status), nil
	}
	if err := t.store.SetTaskStatus(taskID, to); err != nil {
		return "", err
	}
	return fmt.Sprintf("✓ Task %s: %s", verb, task.Name), nil
}

func (t *TaskTool) cancel(taskID string) (string, error) {
	if taskID == "" {
		return "", errs.Newf(errs.BadArgument, "task_id is required")
	}
	task, err := t.store.TaskByID(taskID)
	if err != nil {
		return "", err
	}
	if err := t.store.SetTaskStatus(taskID, store.TaskCompleted); err != nil {
		return "", err
	}
	return fmt.Sprintf("✓ Task cancelled: %s", task.Name), nil
}
