// Package gemini adapts the Google Gen AI SDK to the eino chat model
// interface so the pipeline can run on Gemini as well as Ark.
package gemini

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

const (
	roleUser  = "user"
	roleModel = "model"
)

// Config selects the Gemini model and credentials.
type Config struct {
	APIKey      string
	Model       string
	Temperature *float32
}

// ChatModel implements model.ToolCallingChatModel on top of genai.
type ChatModel struct {
	client      *genai.Client
	model       string
	temperature *float32
	tools       []*genai.Tool
}

var _ model.ToolCallingChatModel = (*ChatModel)(nil)

// New creates a Gemini chat model.
func New(ctx context.Context, cfg Config) (*ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, goerr.New("gemini api key is required")
	}
	if cfg.Model == "" {
		return nil, goerr.New("gemini model is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	return &ChatModel{client: client, model: cfg.Model, temperature: cfg.Temperature}, nil
}

// WithTools returns a copy of the model with the given tools declared.
func (m *ChatModel) WithTools(infos []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	decls, err := declarations(infos)
	if err != nil {
		return nil, err
	}
	clone := *m
	clone.tools = nil
	if len(decls) > 0 {
		clone.tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return &clone, nil
}

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	contents, config, err := m.request(input)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content", goerr.V("model", m.model))
	}
	return toMessage(resp), nil
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	contents, config, err := m.request(input)
	if err != nil {
		return nil, err
	}

	sr, sw := schema.Pipe[*schema.Message](8)
	go func() {
		defer sw.Close()
		for resp, err := range m.client.Models.GenerateContentStream(ctx, m.model, contents, config) {
			if err != nil {
				sw.Send(nil, goerr.Wrap(err, "gemini stream failed", goerr.V("model", m.model)))
				return
			}
			if resp == nil {
				continue
			}
			if closed := sw.Send(toMessage(resp), nil); closed {
				return
			}
		}
	}()
	return sr, nil
}

func (m *ChatModel) request(input []*schema.Message) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	system, contents, err := toContents(input)
	if err != nil {
		return nil, nil, err
	}
	config := &genai.GenerateContentConfig{
		Tools:             m.tools,
		SystemInstruction: system,
		Temperature:       m.temperature,
	}
	return contents, config, nil
}

func declarations(infos []*schema.ToolInfo) ([]*genai.FunctionDeclaration, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(infos))
	for _, info := range infos {
		if info == nil {
			continue
		}
		decl := &genai.FunctionDeclaration{
			Name:        info.Name,
			Description: info.Desc,
		}
		if info.ParamsOneOf != nil {
			js, err := info.ParamsOneOf.ToJSONSchema()
			if err != nil {
				return nil, goerr.Wrap(err, "failed to convert tool parameters", goerr.V("tool", info.Name))
			}
			decl.ParametersJsonSchema = js
		}
		decls = append(decls, decl)
	}
	return decls, nil
}

// toContents splits system messages into the system instruction and maps the
// rest onto alternating user/model contents.
func toContents(input []*schema.Message) (*genai.Content, []*genai.Content, error) {
	var (
		system   []*genai.Part
		contents []*genai.Content
		names    = make(map[string]string)
	)

	push := func(role string, parts ...*genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			if msg.Content != "" {
				system = append(system, &genai.Part{Text: msg.Content})
			}
		case schema.User:
			if msg.Content != "" {
				push(roleUser, &genai.Part{Text: msg.Content})
			}
		case schema.Assistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				args, err := decodeObject(call.Function.Arguments)
				if err != nil {
					return nil, nil, goerr.Wrap(err, "invalid tool call arguments", goerr.V("tool", call.Function.Name))
				}
				names[call.ID] = call.Function.Name
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Function.Name,
					Args: args,
				}})
			}
			push(roleModel, parts...)
		case schema.Tool:
			name := msg.ToolName
			if name == "" {
				name = names[msg.ToolCallID]
			}
			response, err := decodeObject(msg.Content)
			if err != nil {
				response = map[string]any{"result": msg.Content}
			}
			push(roleUser, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       msg.ToolCallID,
				Name:     name,
				Response: response,
			}})
		}
	}

	var instruction *genai.Content
	if len(system) > 0 {
		instruction = &genai.Content{Parts: system}
	}
	return instruction, contents, nil
}

func decodeObject(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// toMessage converts one response (or stream chunk) into an assistant
// message chunk. Function calls arrive whole, so they carry no stream index.
func toMessage(resp *genai.GenerateContentResponse) *schema.Message {
	msg := &schema.Message{Role: schema.Assistant}
	if resp == nil {
		return msg
	}

	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		var text, thought strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if part == nil {
				continue
			}
			switch {
			case part.FunctionCall != nil:
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil || part.FunctionCall.Args == nil {
					args = []byte("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
					ID:   part.FunctionCall.ID,
					Type: "function",
					Function: schema.FunctionCall{
						Name:      part.FunctionCall.Name,
						Arguments: string(args),
					},
				})
			case part.Thought:
				thought.WriteString(part.Text)
			default:
				text.WriteString(part.Text)
			}
		}
		msg.Content = text.String()
		msg.ReasoningContent = thought.String()
	}

	if usage := resp.UsageMetadata; usage != nil {
		msg.ResponseMeta = &schema.ResponseMeta{
			Usage: &schema.TokenUsage{
				PromptTokens:     int(usage.PromptTokenCount),
				CompletionTokens: int(usage.CandidatesTokenCount),
				TotalTokens:      int(usage.TotalTokenCount),
			},
		}
	}
	return msg
}
