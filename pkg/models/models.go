// Package models defines the core data structures shared across the pilot
// routing engine: model catalog entries, task defaults, routing decisions,
// token usage records, and budget alert values.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LLMProvider represents a supported LLM API provider.
type LLMProvider string

const (
	ProviderOpenAI    LLMProvider = "openai"
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderGemini    LLMProvider = "gemini"

	// ProviderNone is the reserved provider of the terminal no-op fallback
	// model. Routing degrades to it instead of failing when every real
	// candidate is filtered out.
	ProviderNone LLMProvider = "none"
)

// KnownProviders lists every provider the engine routes to, excluding the
// reserved terminal fallback.
var KnownProviders = []LLMProvider{ProviderOpenAI, ProviderAnthropic, ProviderGemini}

// TaskType classifies a generation request for per-task routing defaults.
type TaskType string

const (
	TaskChat           TaskType = "chat"
	TaskGeneration     TaskType = "generation"
	TaskSummarization  TaskType = "summarization"
	TaskClassification TaskType = "classification"
)

// DefaultTaskTypes lists the task types seeded into the global routing
// configuration.
var DefaultTaskTypes = []TaskType{TaskChat, TaskGeneration, TaskSummarization, TaskClassification}

// QualifiedName returns the canonical "provider:model" identity string.
func QualifiedName(provider LLMProvider, model string) string {
	return string(provider) + ":" + model
}

// SplitQualifiedName splits a "provider:model" string. ok is false when the
// string has no provider qualifier.
func SplitQualifiedName(name string) (provider LLMProvider, model string, ok bool) {
	idx := strings.Index(name, ":")
	if idx < 0 {
		return "", name, false
	}
	return LLMProvider(name[:idx]), name[idx+1:], true
}

// ModelDefinition describes a model available for routing. Immutable;
// identity is (provider, name).
type ModelDefinition struct {
	Provider          LLMProvider     `json:"provider"`
	Name              string          `json:"name"`
	ContextTokens     int64           `json:"context_tokens"`
	MaxOutputTokens   int64           `json:"max_output_tokens"`
	SupportsFunctions bool            `json:"supports_functions"`
	SupportsVision    bool            `json:"supports_vision"`
	SupportsStreaming bool            `json:"supports_streaming"`
	InputPerMToken    decimal.Decimal `json:"input_per_m_token"`  // USD per 1M input tokens
	OutputPerMToken   decimal.Decimal `json:"output_per_m_token"` // USD per 1M output tokens
	Temperature       float64         `json:"temperature"`        // recommended default
	AvgLatencyMs      int64           `json:"avg_latency_ms"`     // typical completion latency
	Deprecated        bool            `json:"deprecated"`
}

// QualifiedName returns the "provider:model" identity of this definition.
func (m ModelDefinition) QualifiedName() string {
	return QualifiedName(m.Provider, m.Name)
}

// CostFactor is the combined per-1M-token cost used for cheapest-first
// ordering.
func (m ModelDefinition) CostFactor() decimal.Decimal {
	return m.InputPerMToken.Add(m.OutputPerMToken)
}

// ModelAlias maps a short name to a (provider, model) pair.
type ModelAlias struct {
	Alias    string      `json:"alias"`
	Provider LLMProvider `json:"provider"`
	Model    string      `json:"model"`
}

// TaskModelConfig holds the per-task default model and its ordered
// fallback-provider list.
type TaskModelConfig struct {
	TaskType          TaskType      `json:"task_type"`
	Provider          LLMProvider   `json:"provider"`
	Model             string        `json:"model"`
	Temperature       float64       `json:"temperature"`
	MaxTokens         int64         `json:"max_tokens"`
	FallbackProviders []LLMProvider `json:"fallback_providers"`
}

// RoutingReason encodes why a routing decision selected its model.
type RoutingReason string

const (
	ReasonTaskDefault    RoutingReason = "TASK_DEFAULT"
	ReasonFallback       RoutingReason = "FALLBACK"
	ReasonManualOverride RoutingReason = "MANUAL_OVERRIDE"
	ReasonUnavailable    RoutingReason = "UNAVAILABLE"
)

// RoutingDecision is the immutable record of one routing outcome.
type RoutingDecision struct {
	TaskType        TaskType          `json:"task_type"`
	Provider        LLMProvider       `json:"provider"`
	Model           string            `json:"model"`
	Reason          RoutingReason     `json:"reason"`
	FallbackUsed    bool              `json:"fallback_used"`
	CircuitBypassed bool              `json:"circuit_bypassed"`
	Latency         time.Duration     `json:"decision_latency_ns"`
	Timestamp       time.Time         `json:"timestamp"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// QualifiedName returns the "provider:model" identity of the chosen model.
func (d RoutingDecision) QualifiedName() string {
	return QualifiedName(d.Provider, d.Model)
}

func (d RoutingDecision) String() string {
	return fmt.Sprintf("%s -> %s (%s)", d.TaskType, d.QualifiedName(), d.Reason)
}
