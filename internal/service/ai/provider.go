package ai

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/m-mizutani/goerr/v2"
)

// ErrNoModel is returned when no chat model serves a variant.
var ErrNoModel = goerr.New("no chat model configured for variant")

// ModelProvider resolves a model variant id to a chat model.
type ModelProvider interface {
	ChatModel(ctx context.Context, variantID string) (model.ToolCallingChatModel, error)
}

// StaticProvider serves a fixed model per variant, with a fallback for
// variants that are not listed.
type StaticProvider struct {
	Default  model.ToolCallingChatModel
	Variants map[string]model.ToolCallingChatModel
}

func (p StaticProvider) ChatModel(_ context.Context, variantID string) (model.ToolCallingChatModel, error) {
	if m, ok := p.Variants[variantID]; ok && m != nil {
		return m, nil
	}
	if p.Default == nil {
		return nil, goerr.Wrap(ErrNoModel, "resolve chat model", goerr.V("variant", variantID))
	}
	return p.Default, nil
}

// ToolCalling returns m as a ToolCallingChatModel. Models that only support
// BindTools are wrapped; their tool binding is shared by every caller.
func ToolCalling(m model.ChatModel) model.ToolCallingChatModel {
	if tc, ok := m.(model.ToolCallingChatModel); ok {
		return tc
	}
	return &boundModel{ChatModel: m}
}

type boundModel struct {
	model.ChatModel
}

func (b *boundModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if err := b.BindTools(tools); err != nil {
		return nil, goerr.Wrap(err, "failed to bind tools")
	}
	return b, nil
}
