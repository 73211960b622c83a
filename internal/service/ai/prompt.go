package ai

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/m-mizutani/goerr/v2"
)

const regularPrompt = `You are a friendly assistant that manages the user's personal task list.
Use the tools to add, list, edit, delete and complete tasks. When the user refers to a task by its
number, call listTasks first if you have not listed the tasks in this conversation yet.
Pass dates and times to the tools exactly as the user said them, for example "tomorrow 14:00" or
"next Monday". If a tool reports a failure, read its message, then fix the arguments or ask the
user to clarify. Keep your answers short.`

const reasoningPrompt = `You are a friendly assistant that helps the user plan their tasks.
Think step by step inside <think></think> tags before you answer. You cannot change the task list
in this mode, so describe what the user could do instead.`

const requestHints = `About the origin of the user's request:
- current time: {now}
- timezone: {timezone}`

// systemTemplate renders the system prompt followed by the transcript.
var systemTemplate = prompt.FromMessages(
	schema.FString,
	schema.SystemMessage("{instructions}\n\n"+requestHints),
	schema.MessagesPlaceholder("history", false),
)

func systemPrompt(reasoning bool) string {
	if reasoning {
		return reasoningPrompt
	}
	return regularPrompt
}

// renderPrompt builds the model input for a turn.
func renderPrompt(ctx context.Context, reasoning bool, now time.Time, history []*schema.Message) ([]*schema.Message, error) {
	messages, err := systemTemplate.Format(ctx, map[string]any{
		"instructions": systemPrompt(reasoning),
		"now":          now.Format(time.RFC3339),
		"timezone":     now.Location().String(),
		"history":      history,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to render system prompt")
	}
	return messages, nil
}
