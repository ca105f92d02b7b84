package catalog

import (
	"github.com/shopspring/decimal"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

func usd(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// defaultModelDefinitions is the built-in registry. Pricing is USD per 1M
// tokens; deployments override via Register or the catalog seed file.
func defaultModelDefinitions() []models.ModelDefinition {
	return []models.ModelDefinition{
		// OpenAI
		{
			Provider: models.ProviderOpenAI, Name: "gpt-4o-mini",
			ContextTokens: 128_000, MaxOutputTokens: 16_384,
			SupportsFunctions: true, SupportsVision: true, SupportsStreaming: true,
			InputPerMToken: usd("0.15"), OutputPerMToken: usd("0.60"),
			Temperature: 0.7, AvgLatencyMs: 400,
		},
		{
			Provider: models.ProviderOpenAI, Name: "gpt-4o",
			ContextTokens: 128_000, MaxOutputTokens: 16_384,
			SupportsFunctions: true, SupportsVision: true, SupportsStreaming: true,
			InputPerMToken: usd("2.50"), OutputPerMToken: usd("10.00"),
			Temperature: 0.7, AvgLatencyMs: 800,
		},
		{
			Provider: models.ProviderOpenAI, Name: "gpt-4-turbo",
			ContextTokens: 128_000, MaxOutputTokens: 4_096,
			SupportsFunctions: true, SupportsVision: true, SupportsStreaming: true,
			InputPerMToken: usd("10.00"), OutputPerMToken: usd("30.00"),
			Temperature: 0.7, AvgLatencyMs: 1200,
		},
		{
			Provider: models.ProviderOpenAI, Name: "o1",
			ContextTokens: 200_000, MaxOutputTokens: 100_000,
			SupportsFunctions: true, SupportsStreaming: true,
			InputPerMToken: usd("15.00"), OutputPerMToken: usd("60.00"),
			Temperature: 1.0, AvgLatencyMs: 2000,
		},

		// Anthropic
		{
			Provider: models.ProviderAnthropic, Name: "claude-haiku-3-20240307",
			ContextTokens: 200_000, MaxOutputTokens: 4_096,
			SupportsFunctions: true, SupportsVision: true, SupportsStreaming: true,
			InputPerMToken: usd("0.25"), OutputPerMToken: usd("1.25"),
			Temperature: 0.7, AvgLatencyMs: 350,
		},
		{
			Provider: models.ProviderAnthropic, Name: "claude-sonnet-4-20250514",
			ContextTokens: 200_000, MaxOutputTokens: 64_000,
			SupportsFunctions: true, SupportsVision: true, SupportsStreaming: true,
			InputPerMToken: usd("3.00"), OutputPerMToken: usd("15.00"),
			Temperature: 0.7, AvgLatencyMs: 700,
		},
		{
			Provider: models.ProviderAnthropic, Name: "claude-opus-4-20250514",
			ContextTokens: 200_000, MaxOutputTokens: 32_000,
			SupportsFunctions: true, SupportsVision: true, SupportsStreaming: true,
			InputPerMToken: usd("15.00"), OutputPerMToken: usd("75.00"),
			Temperature: 0.7, AvgLatencyMs: 1500,
		},

		// Google Gemini
		{
			Provider: models.ProviderGemini, Name: "gemini-2.0-flash",
			ContextTokens: 1_000_000, MaxOutputTokens: 8_192,
			SupportsFunctions: true, SupportsVision: true, SupportsStreaming: true,
			InputPerMToken: usd("0.10"), OutputPerMToken: usd("0.40"),
			Temperature: 0.7, AvgLatencyMs: 300,
		},
		{
			Provider: models.ProviderGemini, Name: "gemini-2.0-pro",
			ContextTokens: 2_000_000, MaxOutputTokens: 8_192,
			SupportsFunctions: true, SupportsVision: true, SupportsStreaming: true,
			InputPerMToken: usd("1.25"), OutputPerMToken: usd("10.00"),
			Temperature: 0.7, AvgLatencyMs: 900,
		},
		{
			Provider: models.ProviderGemini, Name: "gemini-1.5-flash",
			ContextTokens: 1_000_000, MaxOutputTokens: 8_192,
			SupportsFunctions: true, SupportsVision: true, SupportsStreaming: true,
			InputPerMToken: usd("0.075"), OutputPerMToken: usd("0.30"),
			Temperature: 0.7, AvgLatencyMs: 300, Deprecated: true,
		},
	}
}

func defaultAliases() []models.ModelAlias {
	return []models.ModelAlias{
		{Alias: "haiku", Provider: models.ProviderAnthropic, Model: "claude-haiku-3-20240307"},
		{Alias: "sonnet", Provider: models.ProviderAnthropic, Model: "claude-sonnet-4-20250514"},
		{Alias: "opus", Provider: models.ProviderAnthropic, Model: "claude-opus-4-20250514"},
		{Alias: "4o", Provider: models.ProviderOpenAI, Model: "gpt-4o"},
		{Alias: "4o-mini", Provider: models.ProviderOpenAI, Model: "gpt-4o-mini"},
		{Alias: "flash", Provider: models.ProviderGemini, Model: "gemini-2.0-flash"},
	}
}

func defaultTaskConfigs() []models.TaskModelConfig {
	return []models.TaskModelConfig{
		{
			TaskType: models.TaskChat,
			Provider: models.ProviderAnthropic, Model: "claude-sonnet-4-20250514",
			Temperature: 0.7, MaxTokens: 4_096,
			FallbackProviders: []models.LLMProvider{models.ProviderOpenAI, models.ProviderGemini},
		},
		{
			TaskType: models.TaskGeneration,
			Provider: models.ProviderOpenAI, Model: "gpt-4o",
			Temperature: 0.8, MaxTokens: 8_192,
			FallbackProviders: []models.LLMProvider{models.ProviderAnthropic, models.ProviderGemini},
		},
		{
			TaskType: models.TaskSummarization,
			Provider: models.ProviderGemini, Model: "gemini-2.0-flash",
			Temperature: 0.3, MaxTokens: 2_048,
			FallbackProviders: []models.LLMProvider{models.ProviderAnthropic, models.ProviderOpenAI},
		},
		{
			TaskType: models.TaskClassification,
			Provider: models.ProviderOpenAI, Model: "gpt-4o-mini",
			Temperature: 0.0, MaxTokens: 1_024,
			FallbackProviders: []models.LLMProvider{models.ProviderGemini, models.ProviderAnthropic},
		},
	}
}
