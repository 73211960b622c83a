// Package ai runs model invocations for chat turns.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tasks/backend/internal/logging"
	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
	"github.com/zhouzirui/z-tasks/backend/internal/model/variant"
	"github.com/zhouzirui/z-tasks/backend/internal/service/tools"
)

const (
	// DefaultMaxRounds bounds the tool-call rounds of one turn.
	DefaultMaxRounds = 5

	FaultMessage = chat.FaultMessage
)

// Turn is the input of one model invocation. History ends with the user
// message that triggered the turn.
type Turn struct {
	OwnerID string
	Variant variant.Variant
	History []chat.Message
}

// Emitter receives the events of a turn in order.
type Emitter func(chat.Event)

// Pipeline streams a model response, executing requested tools between
// rounds.
type Pipeline struct {
	models      ModelProvider
	dispatcher  *tools.Dispatcher
	maxRounds   int
	smoothDelay time.Duration
	location    *time.Location
	now         func() time.Time
	logger      *zap.Logger
}

// PipelineOption customises a Pipeline.
type PipelineOption func(*Pipeline)

func WithMaxRounds(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxRounds = n
		}
	}
}

// WithSmoothDelay paces word-sized text deltas.
func WithSmoothDelay(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d >= 0 {
			p.smoothDelay = d
		}
	}
}

func WithLocation(loc *time.Location) PipelineOption {
	return func(p *Pipeline) {
		if loc != nil {
			p.location = loc
		}
	}
}

func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline wires a pipeline. dispatcher executes every tool call the
// model makes.
func NewPipeline(models ModelProvider, dispatcher *tools.Dispatcher, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		models:     models,
		dispatcher: dispatcher,
		maxRounds:  DefaultMaxRounds,
		location:   time.Local,
		now:        time.Now,
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the turn and emits its events. Exactly one terminal event
// (done or error) is emitted last; internal faults never leak their detail.
func (p *Pipeline) Run(ctx context.Context, turn Turn, emit Emitter) {
	logger := p.logger.With(zap.String("owner", turn.OwnerID), zap.String("variant", turn.Variant.ID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("model pipeline panicked", zap.Any("panic", r), zap.Stack("stack"))
			emit(chat.Failure(FaultMessage))
		}
	}()

	if err := p.run(ctx, turn, emit, logger); err != nil {
		logger.Error("model pipeline failed", zap.Error(err))
		emit(chat.Failure(FaultMessage))
		return
	}
	emit(chat.Done())
}

func (p *Pipeline) run(ctx context.Context, turn Turn, emit Emitter, logger *zap.Logger) error {
	chatModel, err := p.models.ChatModel(ctx, turn.Variant.ID)
	if err != nil {
		return err
	}

	withTools := !turn.Variant.Reasoning
	if withTools {
		chatModel, err = chatModel.WithTools(tools.Specs())
		if err != nil {
			return goerr.Wrap(err, "failed to bind tools")
		}
	}

	messages, err := renderPrompt(ctx, turn.Variant.Reasoning, p.now().In(p.location), toSchemaMessages(turn.History, withTools))
	if err != nil {
		return err
	}

	for round := 1; ; round++ {
		reply, err := p.step(ctx, chatModel, messages, turn.Variant.Reasoning, emit)
		if err != nil {
			return goerr.Wrap(err, "model step failed", goerr.V("round", round))
		}
		if !withTools || len(reply.ToolCalls) == 0 {
			return nil
		}

		messages = append(messages, reply)
		for _, call := range reply.ToolCalls {
			messages = append(messages, p.invoke(ctx, turn.OwnerID, call, emit))
		}

		if round >= p.maxRounds {
			logger.Info("tool round limit reached", zap.Int("rounds", round))
			return nil
		}
	}
}

// step streams one model response and returns it fully assembled.
func (p *Pipeline) step(ctx context.Context, chatModel model.BaseChatModel, messages []*schema.Message, reasoning bool, emit Emitter) (*schema.Message, error) {
	stream, err := chatModel.Stream(ctx, messages)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open model stream")
	}
	defer stream.Close()

	var (
		chunks   = make([]*schema.Message, 0, 16)
		words    wordChunker
		splitter thinkSplitter
	)

	text := func(s string) error {
		for _, w := range words.Push(s) {
			if err := p.emitText(ctx, w, emit); err != nil {
				return err
			}
		}
		return nil
	}
	route := func(segments []segment) error {
		for _, seg := range segments {
			if seg.reasoning {
				emit(chat.ReasoningDelta(seg.text))
				continue
			}
			if err := text(seg.text); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return nil, goerr.Wrap(recvErr, "failed to read model stream")
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)

		if chunk.ReasoningContent != "" {
			emit(chat.ReasoningDelta(chunk.ReasoningContent))
		}
		if chunk.Content == "" {
			continue
		}
		if reasoning {
			err = route(splitter.Push(chunk.Content))
		} else {
			err = text(chunk.Content)
		}
		if err != nil {
			return nil, err
		}
	}

	if reasoning {
		if err := route(splitter.Flush()); err != nil {
			return nil, err
		}
	}
	if rest := words.Flush(); rest != "" {
		emit(chat.TextDelta(rest))
	}

	if len(chunks) == 0 {
		return schema.AssistantMessage("", nil), nil
	}
	reply, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to concat model chunks")
	}
	reply.ToolCalls = append([]schema.ToolCall(nil), reply.ToolCalls...)
	for i := range reply.ToolCalls {
		if reply.ToolCalls[i].ID == "" {
			reply.ToolCalls[i].ID = "call_" + uuid.NewString()
		}
	}
	return reply, nil
}

func (p *Pipeline) emitText(ctx context.Context, word string, emit Emitter) error {
	emit(chat.TextDelta(word))
	if p.smoothDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(p.smoothDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// invoke executes one tool call and returns the message fed back to the model.
func (p *Pipeline) invoke(ctx context.Context, ownerID string, call schema.ToolCall, emit Emitter) *schema.Message {
	args := normalizeArguments(call.Function.Arguments)
	emit(chat.Event{
		Type:       chat.EventToolCall,
		ToolCallID: call.ID,
		Name:       call.Function.Name,
		Arguments:  args,
	})

	result := p.dispatcher.Execute(ctx, ownerID, call.Function.Name, args)

	success := result.Success
	event := chat.Event{
		Type:       chat.EventToolResult,
		ToolCallID: call.ID,
		Name:       call.Function.Name,
		Success:    &success,
		Message:    result.Message,
	}
	if result.Payload != nil {
		payload, err := json.Marshal(result.Payload)
		if err != nil {
			p.logger.Warn("failed to encode tool payload", zap.String("tool", call.Function.Name), zap.Error(err))
		} else {
			event.Payload = payload
		}
	}
	emit(event)

	content, err := json.Marshal(result)
	if err != nil {
		content = []byte(fmt.Sprintf(`{"success":%t,"message":%q}`, result.Success, result.Message))
	}
	return toolMessage(call.ID, call.Function.Name, string(content))
}

// normalizeArguments makes model-supplied arguments safe to embed in events.
func normalizeArguments(raw string) json.RawMessage {
	if raw == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	quoted, _ := json.Marshal(raw)
	return quoted
}
