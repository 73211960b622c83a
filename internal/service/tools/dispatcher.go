package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tasks/backend/internal/logging"
	"github.com/zhouzirui/z-tasks/backend/internal/model/task"
	"github.com/zhouzirui/z-tasks/backend/internal/service/temporal"
)

// Code classifies a failed tool result.
type Code string

const (
	CodeMissingIdentifier Code = "MissingIdentifier"
	CodeNotFound          Code = "NotFound"
	CodeNoFieldsProvided  Code = "NoFieldsProvided"
	CodeUnparsableTime    Code = "UnparsableTime"
	CodeInvalidArguments  Code = "InvalidArguments"
	CodeUnknownTool       Code = "UnknownTool"
	CodeStoreFailure      Code = "StoreFailure"
)

const (
	msgNoIdentifier   = "No task specified. Provide an ID, text snippet, or task number."
	msgNotFound       = "Task not found."
	msgNoFields       = "Provide new text, completion status, or new datetime."
	msgUnparsableTime = "Could not understand the datetime. Try 'tomorrow 14:00', '14/05', etc."
	msgStoreFailure   = "Something went wrong while updating your tasks. Please try again."
	msgCleared        = "All completed tasks have been cleared."

	labelCompleted = "✔ Completed"
	labelPending   = "❌ Pending"
)

// Result is what the model reads back after a tool call. Failures are data:
// Success is false and Message explains what to correct.
type Result struct {
	Success bool   `json:"success"`
	Code    Code   `json:"code,omitempty"`
	Message string `json:"message"`
	Payload any    `json:"payload,omitempty"`
}

// ListEntry is a task annotated with its 1-based position in the listing.
type ListEntry struct {
	Index     int       `json:"index"`
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Time      time.Time `json:"time"`
	Completed bool      `json:"completed"`
}

// ListPayload is the payload of listTasks and of unresolved references.
type ListPayload struct {
	Count int         `json:"count"`
	Tasks []ListEntry `json:"tasks"`
}

// ClockPayload is the payload of getCurrentTime.
type ClockPayload struct {
	ISO          string `json:"iso"`
	LocaleString string `json:"localeString"`
	Timestamp    int64  `json:"timestamp"`
}

// Dispatcher executes operations against the task store on behalf of one
// owner per call. Every mutation is written through before it returns.
type Dispatcher struct {
	tasks  task.Store
	parser *temporal.Parser
	now    func() time.Time
	logger *zap.Logger
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the reference instant used for time phrases.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the logger used for store failures.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func NewDispatcher(tasks task.Store, parser *temporal.Parser, opts ...Option) *Dispatcher {
	if parser == nil {
		parser = temporal.NewParser()
	}
	d := &Dispatcher{
		tasks:  tasks,
		parser: parser,
		now:    time.Now,
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute decodes raw arguments for the named tool and dispatches it.
func (d *Dispatcher) Execute(ctx context.Context, ownerID, name string, args json.RawMessage) Result {
	op, err := Decode(name, args)
	if err != nil {
		if errors.Is(err, ErrUnknownTool) {
			return failure(CodeUnknownTool, fmt.Sprintf("Unknown tool %q.", name))
		}
		return failure(CodeInvalidArguments, fmt.Sprintf("Invalid arguments for %s: %v", name, err))
	}
	return d.Dispatch(ctx, ownerID, op)
}

// Dispatch runs one operation.
func (d *Dispatcher) Dispatch(ctx context.Context, ownerID string, op Operation) Result {
	switch op := op.(type) {
	case AddTask:
		return d.add(ctx, ownerID, op)
	case ListTasks:
		return d.list(ctx, ownerID)
	case EditTask:
		return d.edit(ctx, ownerID, op)
	case DeleteTask:
		return d.delete(ctx, ownerID, op)
	case ToggleAllTasks:
		return d.toggleAll(ctx, ownerID, op)
	case ClearCompletedTasks:
		return d.clearCompleted(ctx, ownerID)
	case GetCurrentTime:
		return d.currentTime(op)
	default:
		return failure(CodeUnknownTool, "Unknown tool.")
	}
}

func (d *Dispatcher) add(ctx context.Context, ownerID string, op AddTask) Result {
	at, ok := d.parser.Parse(op.Time, d.now())
	if !ok {
		return failure(CodeUnparsableTime, msgUnparsableTime)
	}

	created, err := d.tasks.Create(ctx, ownerID, strings.TrimSpace(op.Text), at.UTC())
	if err != nil {
		return d.storeFailure(NameAddTask, err)
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("Task added: %q scheduled on %s", created.Text, formatTime(created.Time)),
		Payload: created,
	}
}

func (d *Dispatcher) list(ctx context.Context, ownerID string) Result {
	tasks, err := d.tasks.List(ctx, ownerID)
	if err != nil {
		return d.storeFailure(NameListTasks, err)
	}

	message := fmt.Sprintf("You have %d tasks.", len(tasks))
	if len(tasks) == 1 {
		message = "You have 1 task."
	}
	return Result{Success: true, Message: message, Payload: enumerate(tasks)}
}

func (d *Dispatcher) edit(ctx context.Context, ownerID string, op EditTask) Result {
	tasks, err := d.tasks.List(ctx, ownerID)
	if err != nil {
		return d.storeFailure(NameEditTask, err)
	}
	if len(tasks) == 0 {
		return failure(CodeNotFound, "You have no tasks to edit.")
	}

	target, err := task.Resolve(op.TaskIdentifier, tasks)
	if err != nil {
		return resolutionFailure(err)
	}

	var patch task.Patch
	if op.NewText != nil && strings.TrimSpace(*op.NewText) != "" {
		text := strings.TrimSpace(*op.NewText)
		patch.Text = &text
	}
	patch.Completed = op.Completed
	if op.Time != nil && strings.TrimSpace(*op.Time) != "" {
		at, ok := d.parser.Parse(*op.Time, d.now())
		if !ok {
			return failure(CodeUnparsableTime, msgUnparsableTime)
		}
		at = at.UTC()
		patch.Time = &at
	}
	if patch.Empty() {
		return failure(CodeNoFieldsProvided, msgNoFields)
	}

	updated, err := d.tasks.Update(ctx, target.ID, ownerID, patch)
	if errors.Is(err, task.ErrTaskNotFound) {
		return failure(CodeNotFound, msgNotFound)
	}
	if err != nil {
		return d.storeFailure(NameEditTask, err)
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("Task updated: %q on %s [%s]", updated.Text, formatTime(updated.Time), statusLabel(updated.Completed)),
		Payload: updated,
	}
}

func (d *Dispatcher) delete(ctx context.Context, ownerID string, op DeleteTask) Result {
	tasks, err := d.tasks.List(ctx, ownerID)
	if err != nil {
		return d.storeFailure(NameDeleteTask, err)
	}
	if len(tasks) == 0 {
		return failure(CodeNotFound, "You have no tasks to delete.")
	}

	target, err := task.Resolve(op.TaskIdentifier, tasks)
	if err != nil {
		return resolutionFailure(err)
	}

	err = d.tasks.Delete(ctx, target.ID, ownerID)
	if errors.Is(err, task.ErrTaskNotFound) {
		return failure(CodeNotFound, msgNotFound)
	}
	if err != nil {
		return d.storeFailure(NameDeleteTask, err)
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("Deleted task: %q on %s", target.Text, formatTime(target.Time)),
		Payload: target,
	}
}

func (d *Dispatcher) toggleAll(ctx context.Context, ownerID string, op ToggleAllTasks) Result {
	completed := op.Completed != nil && *op.Completed
	if _, err := d.tasks.BulkUpdate(ctx, ownerID, completed); err != nil {
		return d.storeFailure(NameToggleAllTasks, err)
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("All tasks are now marked as %s.", statusLabel(completed)),
	}
}

func (d *Dispatcher) clearCompleted(ctx context.Context, ownerID string) Result {
	if _, err := d.tasks.BulkDeleteCompleted(ctx, ownerID); err != nil {
		return d.storeFailure(NameClearCompletedTasks, err)
	}
	return Result{Success: true, Message: msgCleared}
}

func (d *Dispatcher) currentTime(op GetCurrentTime) Result {
	now := d.now()
	loc := d.parser.Location()
	if op.TimezoneOffset != nil {
		offset := int(*op.TimezoneOffset * 3600)
		loc = time.FixedZone(formatOffset(offset), offset)
	}
	now = now.In(loc)

	payload := ClockPayload{
		ISO:          now.Format(time.RFC3339),
		LocaleString: now.Format("1/2/2006, 3:04:05 PM"),
		Timestamp:    now.UnixMilli(),
	}
	return Result{
		Success: true,
		Message: "Current time is " + payload.ISO,
		Payload: payload,
	}
}

func (d *Dispatcher) storeFailure(tool string, err error) Result {
	d.logger.Error("task store operation failed",
		zap.String("tool", tool),
		zap.Error(err),
	)
	if errors.Is(err, task.ErrEmptyText) {
		return failure(CodeInvalidArguments, "Task text must not be empty.")
	}
	return failure(CodeStoreFailure, msgStoreFailure)
}

func resolutionFailure(err error) Result {
	var resolution *task.ResolutionError
	if !errors.As(err, &resolution) {
		return failure(CodeNotFound, msgNotFound)
	}
	if errors.Is(resolution, task.ErrMissingIdentifier) {
		result := failure(CodeMissingIdentifier, msgNoIdentifier)
		result.Payload = enumerate(resolution.Candidates)
		return result
	}
	return failure(CodeNotFound, msgNotFound)
}

func failure(code Code, message string) Result {
	return Result{Success: false, Code: code, Message: message}
}

func enumerate(tasks []task.Task) ListPayload {
	entries := make([]ListEntry, 0, len(tasks))
	for i, t := range tasks {
		entries = append(entries, ListEntry{
			Index:     i + 1,
			ID:        t.ID,
			Text:      t.Text,
			Time:      t.Time,
			Completed: t.Completed,
		})
	}
	return ListPayload{Count: len(entries), Tasks: entries}
}

func statusLabel(completed bool) string {
	if completed {
		return labelCompleted
	}
	return labelPending
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOffset(seconds int) string {
	sign := "+"
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	return fmt.Sprintf("UTC%s%02d:%02d", sign, seconds/3600, seconds%3600/60)
}
