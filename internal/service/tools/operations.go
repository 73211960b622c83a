// Package tools is the closed set of task operations a model may call.
package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Tool names as exposed to the model.
const (
	NameAddTask             = "addTask"
	NameListTasks           = "listTasks"
	NameEditTask            = "editTask"
	NameDeleteTask          = "deleteTask"
	NameToggleAllTasks      = "toggleAllTasks"
	NameClearCompletedTasks = "clearCompletedTasks"
	NameGetCurrentTime      = "getCurrentTime"
)

var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Operation is one decoded tool invocation.
type Operation interface {
	ToolName() string
}

type AddTask struct {
	Text string `json:"text"`
	Time string `json:"time"`
}

type ListTasks struct{}

type EditTask struct {
	TaskIdentifier *string `json:"taskIdentifier,omitempty"`
	NewText        *string `json:"newText,omitempty"`
	Completed      *bool   `json:"completed,omitempty"`
	Time           *string `json:"time,omitempty"`
}

type DeleteTask struct {
	TaskIdentifier *string `json:"taskIdentifier,omitempty"`
}

type ToggleAllTasks struct {
	Completed *bool `json:"completed"`
}

type ClearCompletedTasks struct{}

// GetCurrentTime reports the server clock, optionally shifted to a UTC offset
// given in hours.
type GetCurrentTime struct {
	TimezoneOffset *float64 `json:"timezoneOffset,omitempty"`
}

func (AddTask) ToolName() string             { return NameAddTask }
func (ListTasks) ToolName() string           { return NameListTasks }
func (EditTask) ToolName() string            { return NameEditTask }
func (DeleteTask) ToolName() string          { return NameDeleteTask }
func (ToggleAllTasks) ToolName() string      { return NameToggleAllTasks }
func (ClearCompletedTasks) ToolName() string { return NameClearCompletedTasks }
func (GetCurrentTime) ToolName() string      { return NameGetCurrentTime }

// Names lists every callable tool in declaration order.
func Names() []string {
	return []string{
		NameAddTask,
		NameListTasks,
		NameEditTask,
		NameDeleteTask,
		NameToggleAllTasks,
		NameClearCompletedTasks,
		NameGetCurrentTime,
	}
}

// Decode checks raw model arguments against the shape of the named tool.
func Decode(name string, raw json.RawMessage) (Operation, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}

	switch name {
	case NameAddTask:
		var op AddTask
		if err := unmarshal(name, raw, &op); err != nil {
			return nil, err
		}
		if strings.TrimSpace(op.Text) == "" {
			return nil, invalid(name, "text is required")
		}
		if strings.TrimSpace(op.Time) == "" {
			return nil, invalid(name, "time is required")
		}
		return op, nil
	case NameListTasks:
		var op ListTasks
		return op, unmarshal(name, raw, &op)
	case NameEditTask:
		var op EditTask
		if err := unmarshal(name, raw, &op); err != nil {
			return nil, err
		}
		return op, nil
	case NameDeleteTask:
		var op DeleteTask
		if err := unmarshal(name, raw, &op); err != nil {
			return nil, err
		}
		return op, nil
	case NameToggleAllTasks:
		var op ToggleAllTasks
		if err := unmarshal(name, raw, &op); err != nil {
			return nil, err
		}
		if op.Completed == nil {
			return nil, invalid(name, "completed is required")
		}
		return op, nil
	case NameClearCompletedTasks:
		var op ClearCompletedTasks
		return op, unmarshal(name, raw, &op)
	case NameGetCurrentTime:
		var op GetCurrentTime
		if err := unmarshal(name, raw, &op); err != nil {
			return nil, err
		}
		return op, nil
	default:
		return nil, goerr.Wrap(ErrUnknownTool, "tool is not registered", goerr.V("name", name))
	}
}

func unmarshal(name string, raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return goerr.Wrap(ErrInvalidArguments, err.Error(), goerr.V("name", name))
	}
	return nil
}

func invalid(name, reason string) error {
	return goerr.Wrap(ErrInvalidArguments, reason, goerr.V("name", name))
}
