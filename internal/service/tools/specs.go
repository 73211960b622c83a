package tools

import "github.com/cloudwego/eino/schema"

const identifierDesc = "Task number from the latest listing (1-based), task ID, or a snippet of the task text."

// Specs returns the callable surface in declaration order.
func Specs() []*schema.ToolInfo {
	return []*schema.ToolInfo{
		{
			Name: NameAddTask,
			Desc: `Add a new task with text and a scheduled datetime (supports natural language like "tomorrow 2pm", "next Monday", "14/05").`,
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"text": {Type: schema.String, Desc: "What needs to be done.", Required: true},
				"time": {Type: schema.String, Desc: "When it is due, in the user's words.", Required: true},
			}),
		},
		{
			Name:        NameListTasks,
			Desc:        "List all your tasks with status and scheduled time.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
		{
			Name: NameEditTask,
			Desc: "Edit a task by number, ID, or text. Can update text, completion status, or datetime.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"taskIdentifier": {Type: schema.String, Desc: identifierDesc},
				"newText":        {Type: schema.String, Desc: "Replacement text."},
				"completed":      {Type: schema.Boolean, Desc: "New completion status."},
				"time":           {Type: schema.String, Desc: "New datetime, in the user's words."},
			}),
		},
		{
			Name: NameDeleteTask,
			Desc: "Delete a task by number, ID, or text snippet.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"taskIdentifier": {Type: schema.String, Desc: identifierDesc},
			}),
		},
		{
			Name: NameToggleAllTasks,
			Desc: "Mark all tasks as completed or pending.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"completed": {Type: schema.Boolean, Desc: "true to complete every task, false to reopen them.", Required: true},
			}),
		},
		{
			Name:        NameClearCompletedTasks,
			Desc:        "Delete all completed tasks.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
		{
			Name: NameGetCurrentTime,
			Desc: "Get the current date and time.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"timezoneOffset": {Type: schema.Number, Desc: "Optional UTC offset in hours, e.g. 7 for Vietnam."},
			}),
		},
	}
}
