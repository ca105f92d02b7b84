package catalog

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

// seedFile is the YAML shape of a catalog seed document.
type seedFile struct {
	Models  []seedModel       `yaml:"models"`
	Aliases map[string]string `yaml:"aliases"` // alias -> "provider:model"
	Tasks   []seedTask        `yaml:"tasks"`
}

type seedModel struct {
	Provider          string `yaml:"provider"`
	Name              string `yaml:"name"`
	ContextTokens     int64  `yaml:"context_tokens"`
	MaxOutputTokens   int64  `yaml:"max_output_tokens"`
	SupportsFunctions bool   `yaml:"supports_functions"`
	SupportsVision    bool   `yaml:"supports_vision"`
	SupportsStreaming bool   `yaml:"supports_streaming"`
	// Prices are YAML strings to keep exact decimal values.
	InputPerMToken  string  `yaml:"input_per_m_token"`
	OutputPerMToken string  `yaml:"output_per_m_token"`
	Temperature     float64 `yaml:"temperature"`
	AvgLatencyMs    int64   `yaml:"avg_latency_ms"`
	Deprecated      bool    `yaml:"deprecated"`
}

type seedTask struct {
	Task              string   `yaml:"task"`
	Provider          string   `yaml:"provider"`
	Model             string   `yaml:"model"`
	Temperature       float64  `yaml:"temperature"`
	MaxTokens         int64    `yaml:"max_tokens"`
	FallbackProviders []string `yaml:"fallback_providers"`
}

// LoadFile builds a catalog from a YAML seed file, replacing the built-in
// model set. Aliases and task configs in the file are optional.
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: reading seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("catalog: parsing seed file %s: %w", path, err)
	}
	if len(seed.Models) == 0 {
		return nil, fmt.Errorf("catalog: seed file %s defines no models", path)
	}

	c := NewEmpty()
	for _, m := range seed.Models {
		def, err := m.definition()
		if err != nil {
			return nil, fmt.Errorf("catalog: seed model %s:%s: %w", m.Provider, m.Name, err)
		}
		c.Register(def)
	}

	for alias, target := range seed.Aliases {
		a, err := aliasFromTarget(alias, target)
		if err != nil {
			return nil, fmt.Errorf("catalog: seed alias %q: %w", alias, err)
		}
		c.RegisterAlias(a)
	}

	for _, t := range seed.Tasks {
		fallbacks := make([]models.LLMProvider, 0, len(t.FallbackProviders))
		for _, p := range t.FallbackProviders {
			fallbacks = append(fallbacks, models.LLMProvider(p))
		}
		if t.Task == "" || t.Provider == "" || t.Model == "" {
			return nil, fmt.Errorf("catalog: seed task %q: task, provider, and model are required", t.Task)
		}
		c.SetTaskConfig(models.TaskModelConfig{
			TaskType:          models.TaskType(t.Task),
			Provider:          models.LLMProvider(t.Provider),
			Model:             t.Model,
			Temperature:       t.Temperature,
			MaxTokens:         t.MaxTokens,
			FallbackProviders: fallbacks,
		})
	}

	return c, nil
}

func (m seedModel) definition() (models.ModelDefinition, error) {
	if m.Provider == "" || m.Name == "" {
		return models.ModelDefinition{}, fmt.Errorf("provider and name are required")
	}
	input, err := decimal.NewFromString(m.InputPerMToken)
	if err != nil {
		return models.ModelDefinition{}, fmt.Errorf("input_per_m_token: %w", err)
	}
	output, err := decimal.NewFromString(m.OutputPerMToken)
	if err != nil {
		return models.ModelDefinition{}, fmt.Errorf("output_per_m_token: %w", err)
	}
	return models.ModelDefinition{
		Provider:          models.LLMProvider(m.Provider),
		Name:              m.Name,
		ContextTokens:     m.ContextTokens,
		MaxOutputTokens:   m.MaxOutputTokens,
		SupportsFunctions: m.SupportsFunctions,
		SupportsVision:    m.SupportsVision,
		SupportsStreaming: m.SupportsStreaming,
		InputPerMToken:    input,
		OutputPerMToken:   output,
		Temperature:       m.Temperature,
		AvgLatencyMs:      m.AvgLatencyMs,
		Deprecated:        m.Deprecated,
	}, nil
}
