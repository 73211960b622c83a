package ai

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// scriptedModel replays one chunk list per model call.
type scriptedModel struct {
	mu     sync.Mutex
	steps  [][]*schema.Message
	repeat bool
	err    error
	panics bool

	calls  int
	tools  []*schema.ToolInfo
	inputs [][]*schema.Message
}

func (m *scriptedModel) next(input []*schema.Message) ([]*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inputs = append(m.inputs, input)
	if m.panics {
		panic("model exploded")
	}
	if m.err != nil {
		return nil, m.err
	}
	idx := m.calls
	m.calls++
	if idx >= len(m.steps) {
		if !m.repeat || len(m.steps) == 0 {
			return nil, errors.New("script exhausted")
		}
		idx = len(m.steps) - 1
	}
	return m.steps[idx], nil
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	chunks, err := m.next(input)
	if err != nil {
		return nil, err
	}
	return schema.ConcatMessages(chunks)
}

func (m *scriptedModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	chunks, err := m.next(input)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray(chunks), nil
}

func (m *scriptedModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools = tools
	return m, nil
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func textChunks(parts ...string) []*schema.Message {
	out := make([]*schema.Message, 0, len(parts))
	for _, p := range parts {
		out = append(out, &schema.Message{Role: schema.Assistant, Content: p})
	}
	return out
}

func toolCallStep(id, name, args string) []*schema.Message {
	return []*schema.Message{{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       id,
			Type:     "function",
			Function: schema.FunctionCall{Name: name, Arguments: args},
		}},
	}}
}

// streamProvider hands out a prepared stream once.
type streamProvider struct {
	reader *schema.StreamReader[*schema.Message]
}

func (p streamProvider) ChatModel(context.Context, string) (model.ToolCallingChatModel, error) {
	return streamModel(p), nil
}

type streamModel streamProvider

func (m streamModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return nil, errors.New("not supported")
}

func (m streamModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return m.reader, nil
}

func (m streamModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}
