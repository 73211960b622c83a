package tools

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	op, err := Decode(NameEditTask, json.RawMessage(`{"taskIdentifier":"2","completed":false}`))
	if err != nil {
		t.Fatalf("decode edit: %v", err)
	}
	edit, ok := op.(EditTask)
	if !ok {
		t.Fatalf("expected EditTask, got %T", op)
	}
	if edit.TaskIdentifier == nil || *edit.TaskIdentifier != "2" {
		t.Fatalf("unexpected identifier: %v", edit.TaskIdentifier)
	}
	if edit.Completed == nil || *edit.Completed {
		t.Fatalf("expected completed=false to be kept, got %v", edit.Completed)
	}
	if edit.NewText != nil || edit.Time != nil {
		t.Fatalf("absent fields must stay nil")
	}

	if _, err := Decode(NameListTasks, nil); err != nil {
		t.Fatalf("empty arguments should decode: %v", err)
	}

	if _, err := Decode("nope", nil); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
	if _, err := Decode(NameAddTask, json.RawMessage(`{"text":"  ","time":"tomorrow"}`)); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments, got %v", err)
	}
}

func TestEveryNameDecodes(t *testing.T) {
	args := map[string]string{
		NameAddTask:        `{"text":"x","time":"tomorrow"}`,
		NameToggleAllTasks: `{"completed":true}`,
	}
	for _, name := range Names() {
		raw := args[name]
		op, err := Decode(name, json.RawMessage(raw))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if op.ToolName() != name {
			t.Fatalf("%s decoded as %s", name, op.ToolName())
		}
	}
}
