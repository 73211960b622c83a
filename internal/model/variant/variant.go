package variant

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

const (
	ChatModel          = "chat-model"
	ChatModelReasoning = "chat-model-reasoning"
	TitleModel         = "title-model"
)

// Variant describes a model configuration a turn can run with.
type Variant struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	// Reasoning variants run with no callable tools.
	Reasoning bool `json:"reasoning" yaml:"reasoning"`
	// Selectable variants may be requested by clients.
	Selectable bool `json:"-" yaml:"selectable"`
}

// Seed provides the default variant catalog.
func Seed() []Variant {
	return []Variant{
		{
			ID:          ChatModel,
			Name:        "Chat model",
			Description: "Primary model for all-purpose chat and task management",
			Selectable:  true,
		},
		{
			ID:          ChatModelReasoning,
			Name:        "Reasoning model",
			Description: "Uses advanced reasoning, cannot modify tasks",
			Reasoning:   true,
			Selectable:  true,
		},
		{
			ID:          TitleModel,
			Name:        "Title model",
			Description: "Generates session titles",
		},
	}
}

type catalogFile struct {
	Variants []Variant `yaml:"variants"`
}

// LoadFile reads a YAML catalog of the form `variants: [...]`.
func LoadFile(path string) ([]Variant, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read variant catalog", goerr.V("path", path))
	}

	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, goerr.Wrap(err, "failed to parse variant catalog", goerr.V("path", path))
	}
	if len(file.Variants) == 0 {
		return nil, goerr.New("variant catalog is empty", goerr.V("path", path))
	}
	for _, v := range file.Variants {
		if v.ID == "" {
			return nil, goerr.New("variant without id", goerr.V("path", path))
		}
	}
	return file.Variants, nil
}
