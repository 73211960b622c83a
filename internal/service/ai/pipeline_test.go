package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
	"github.com/zhouzirui/z-tasks/backend/internal/model/variant"
	taskservice "github.com/zhouzirui/z-tasks/backend/internal/service/task"
	"github.com/zhouzirui/z-tasks/backend/internal/service/temporal"
	"github.com/zhouzirui/z-tasks/backend/internal/service/tools"
)

const owner = "user-1"

var clock = time.Date(2026, 10, 21, 10, 30, 0, 0, time.UTC)

var (
	chatVariant      = variant.Variant{ID: variant.ChatModel}
	reasoningVariant = variant.Variant{ID: variant.ChatModelReasoning, Reasoning: true}
)

type harness struct {
	model    *scriptedModel
	store    *taskservice.MemoryStore
	pipeline *Pipeline
}

func newHarness(t *testing.T, m *scriptedModel) *harness {
	t.Helper()
	now := func() time.Time { return clock }
	store := taskservice.NewMemoryStore()
	dispatcher := tools.NewDispatcher(store, temporal.NewParser(temporal.WithLocation(time.UTC)), tools.WithClock(now))
	pipeline := NewPipeline(
		StaticProvider{Default: m},
		dispatcher,
		WithClock(now),
		WithLocation(time.UTC),
		WithLogger(zaptest.NewLogger(t)),
	)
	return &harness{model: m, store: store, pipeline: pipeline}
}

func (h *harness) run(v variant.Variant, history ...chat.Message) []chat.Event {
	if len(history) == 0 {
		history = []chat.Message{userText("hi")}
	}
	var events []chat.Event
	h.pipeline.Run(context.Background(), Turn{OwnerID: owner, Variant: v, History: history}, func(ev chat.Event) {
		events = append(events, ev)
	})
	return events
}

func userText(text string) chat.Message {
	return chat.Message{ID: "m-user", Role: chat.RoleUser, Parts: []chat.Part{{Type: chat.PartText, Text: text}}}
}

func ofType(events []chat.Event, typ chat.EventType) []chat.Event {
	var out []chat.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func terminals(events []chat.Event) int {
	n := 0
	for _, ev := range events {
		if ev.Terminal() {
			n++
		}
	}
	return n
}

func TestRunStreamsWordSizedDeltas(t *testing.T) {
	h := newHarness(t, &scriptedModel{steps: [][]*schema.Message{
		textChunks("Hel", "lo wor", "ld, how are", " you?"),
	}})

	events := h.run(chatVariant)

	var deltas []string
	for _, ev := range ofType(events, chat.EventTextDelta) {
		deltas = append(deltas, ev.Content)
	}
	assert.Equal(t, []string{"Hello ", "world, ", "how ", "are ", "you?"}, deltas)
	assert.Equal(t, chat.EventDone, events[len(events)-1].Type)
	assert.Equal(t, 1, terminals(events))
	assert.Len(t, h.model.tools, len(tools.Specs()))
}

func TestRunExecutesToolRound(t *testing.T) {
	h := newHarness(t, &scriptedModel{steps: [][]*schema.Message{
		toolCallStep("call-1", tools.NameAddTask, `{"text":"buy milk","time":"tomorrow 14:00"}`),
		textChunks("Added it. "),
	}})

	events := h.run(chatVariant, userText("add buy milk tomorrow at 2pm"))

	types := make([]chat.EventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []chat.EventType{chat.EventToolCall, chat.EventToolResult, chat.EventTextDelta, chat.EventTextDelta, chat.EventDone}, types)
	assert.Equal(t, "Added ", events[2].Content)
	assert.Equal(t, "it. ", events[3].Content)

	call, result := events[0], events[1]
	assert.Equal(t, "call-1", call.ToolCallID)
	assert.JSONEq(t, `{"text":"buy milk","time":"tomorrow 14:00"}`, string(call.Arguments))
	require.NotNil(t, result.Success)
	assert.True(t, *result.Success)
	assert.Equal(t, "call-1", result.ToolCallID)
	assert.Contains(t, result.Message, `"buy milk"`)

	tasks, err := h.store.List(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].Time.Equal(time.Date(2026, 10, 22, 14, 0, 0, 0, time.UTC)))

	require.Len(t, h.model.inputs, 2)
	second := h.model.inputs[1]
	last := second[len(second)-1]
	assert.Equal(t, schema.Tool, last.Role)
	assert.Equal(t, "call-1", last.ToolCallID)
	var fed tools.Result
	require.NoError(t, json.Unmarshal([]byte(last.Content), &fed))
	assert.True(t, fed.Success)
}

func TestRunStopsAfterMaxRounds(t *testing.T) {
	h := newHarness(t, &scriptedModel{
		steps: [][]*schema.Message{
			append(textChunks("Checking. "), toolCallStep("", tools.NameListTasks, `{}`)...),
		},
		repeat: true,
	})

	events := h.run(chatVariant)

	assert.Equal(t, DefaultMaxRounds, h.model.callCount())
	assert.Len(t, ofType(events, chat.EventToolCall), DefaultMaxRounds)
	assert.Len(t, ofType(events, chat.EventToolResult), DefaultMaxRounds)
	assert.Len(t, ofType(events, chat.EventTextDelta), DefaultMaxRounds)
	assert.Empty(t, ofType(events, chat.EventError))
	assert.Equal(t, chat.EventDone, events[len(events)-1].Type)

	ids := map[string]bool{}
	for _, ev := range ofType(events, chat.EventToolCall) {
		assert.NotEmpty(t, ev.ToolCallID)
		ids[ev.ToolCallID] = true
	}
	assert.Len(t, ids, DefaultMaxRounds)
}

func TestRunReasoningVariantHasNoTools(t *testing.T) {
	h := newHarness(t, &scriptedModel{steps: [][]*schema.Message{
		textChunks("<thi", "nk>plan the ", "day</think>Answer", " here"),
	}})

	success := true
	history := []chat.Message{
		userText("add a task"),
		{
			ID:   "m-assistant",
			Role: chat.RoleAssistant,
			Parts: []chat.Part{
				{Type: chat.PartToolCall, ToolCallID: "c1", ToolName: tools.NameListTasks, Arguments: json.RawMessage(`{}`)},
				{Type: chat.PartToolResult, ToolCallID: "c1", ToolName: tools.NameListTasks, Success: &success, Message: "You have 0 tasks."},
				{Type: chat.PartText, Text: "Your list is empty."},
			},
		},
		userText("what should I do first?"),
	}
	events := h.run(reasoningVariant, history...)

	assert.Nil(t, h.model.tools)
	for _, msg := range h.model.inputs[0] {
		assert.NotEqual(t, schema.Tool, msg.Role)
		assert.Empty(t, msg.ToolCalls)
	}

	var reasoning, text strings.Builder
	for _, ev := range events {
		switch ev.Type {
		case chat.EventReasoningDelta:
			reasoning.WriteString(ev.Content)
		case chat.EventTextDelta:
			text.WriteString(ev.Content)
		}
	}
	assert.Equal(t, "plan the day", reasoning.String())
	assert.Equal(t, "Answer here", text.String())
	assert.Equal(t, chat.EventDone, events[len(events)-1].Type)
}

func TestRunReasoningIgnoresToolCalls(t *testing.T) {
	h := newHarness(t, &scriptedModel{steps: [][]*schema.Message{
		toolCallStep("c1", tools.NameClearCompletedTasks, `{}`),
	}})

	events := h.run(reasoningVariant)

	assert.Empty(t, ofType(events, chat.EventToolCall))
	assert.Equal(t, 1, h.model.callCount())
	assert.Equal(t, chat.EventDone, events[len(events)-1].Type)
}

func TestRunModelFailureEmitsOneGenericError(t *testing.T) {
	h := newHarness(t, &scriptedModel{err: errors.New("upstream 500: secret detail")})

	events := h.run(chatVariant)

	require.Len(t, events, 1)
	assert.Equal(t, chat.EventError, events[0].Type)
	assert.Equal(t, FaultMessage, events[0].Message)
}

func TestRunPanicEmitsOneGenericError(t *testing.T) {
	h := newHarness(t, &scriptedModel{panics: true})

	events := h.run(chatVariant)

	require.Len(t, events, 1)
	assert.Equal(t, FaultMessage, events[0].Message)
}

func TestRunMidStreamFaultKeepsPartialText(t *testing.T) {
	sr, sw := schema.Pipe[*schema.Message](4)
	sw.Send(&schema.Message{Role: schema.Assistant, Content: "partial answer "}, nil)
	sw.Send(nil, errors.New("connection reset"))
	sw.Close()

	h := newHarness(t, &scriptedModel{})
	h.pipeline.models = streamProvider{reader: sr}

	events := h.run(chatVariant)

	require.Len(t, events, 3)
	assert.Equal(t, "partial ", events[0].Content)
	assert.Equal(t, "answer ", events[1].Content)
	assert.Equal(t, chat.EventError, events[2].Type)
	assert.Equal(t, 1, terminals(events))
}

func TestRunSmoothDelayHonoursCancellation(t *testing.T) {
	h := newHarness(t, &scriptedModel{steps: [][]*schema.Message{textChunks("one two three four ")}})
	WithSmoothDelay(time.Hour)(h.pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var events []chat.Event
	h.pipeline.Run(ctx, Turn{OwnerID: owner, Variant: chatVariant, History: []chat.Message{userText("hi")}}, func(ev chat.Event) {
		events = append(events, ev)
	})

	require.Len(t, events, 2)
	assert.Equal(t, "one ", events[0].Content)
	assert.Equal(t, chat.EventError, events[1].Type)
}
