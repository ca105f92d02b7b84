// Package catalog implements the model registry: model definitions keyed by
// "provider:model", short-name aliases, and per-task default configurations.
//
// The catalog is read-mostly; registration maps are guarded by one RWMutex
// and every returned value is a copy, so lookups are safe to share across
// callers.
package catalog

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/errs"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

// FallbackModelName is the model name of the terminal no-op fallback entry
// registered under models.ProviderNone. It is free, never deprecated, and
// always available, so routing can degrade to it instead of failing.
const FallbackModelName = "unavailable"

// Catalog is the model registry.
type Catalog struct {
	mu        sync.RWMutex
	defs      map[string]models.ModelDefinition // keyed by "provider:model"
	aliases   map[string]models.ModelAlias      // keyed by alias
	tasks     map[models.TaskType]models.TaskModelConfig
	providers map[models.LLMProvider]bool
}

// New returns a catalog seeded with the default model registry, aliases,
// and task defaults.
func New() *Catalog {
	c := NewEmpty()
	for _, def := range defaultModelDefinitions() {
		c.Register(def)
	}
	for _, a := range defaultAliases() {
		c.RegisterAlias(a)
	}
	for _, tc := range defaultTaskConfigs() {
		c.SetTaskConfig(tc)
	}
	return c
}

// NewEmpty returns a catalog containing only the terminal fallback model.
func NewEmpty() *Catalog {
	c := &Catalog{
		defs:      make(map[string]models.ModelDefinition),
		aliases:   make(map[string]models.ModelAlias),
		tasks:     make(map[models.TaskType]models.TaskModelConfig),
		providers: make(map[models.LLMProvider]bool),
	}
	c.Register(models.ModelDefinition{
		Provider:          models.ProviderNone,
		Name:              FallbackModelName,
		ContextTokens:     0,
		MaxOutputTokens:   0,
		SupportsStreaming: false,
		InputPerMToken:    decimal.Zero,
		OutputPerMToken:   decimal.Zero,
	})
	return c
}

// Register upserts a model definition keyed by (provider, model).
func (c *Catalog) Register(def models.ModelDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defs[def.QualifiedName()] = def
	c.providers[def.Provider] = true
}

// RegisterAlias upserts a short-name alias.
func (c *Catalog) RegisterAlias(a models.ModelAlias) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aliases[a.Alias] = a
}

// Get returns the definition for (provider, model).
func (c *Catalog) Get(provider models.LLMProvider, model string) (models.ModelDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[models.QualifiedName(provider, model)]
	return def, ok
}

// IsAvailable reports whether (provider, model) is registered and not
// deprecated.
func (c *Catalog) IsAvailable(provider models.LLMProvider, model string) bool {
	def, ok := c.Get(provider, model)
	return ok && !def.Deprecated
}

// Deprecate marks a registered model deprecated; it stays resolvable but is
// skipped by routing and recommendation.
func (c *Catalog) Deprecate(provider models.LLMProvider, model string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := models.QualifiedName(provider, model)
	def, ok := c.defs[key]
	if !ok {
		return false
	}
	def.Deprecated = true
	c.defs[key] = def
	return true
}

// Resolve parses a model reference in one of three forms: a bare alias, a
// qualified "provider:model" name, or a bare model name assumed to live
// under defaultProvider. A qualifier that names no known provider falls back
// to alias lookup before failing with an InvalidReferenceError.
func (c *Catalog) Resolve(reference string, defaultProvider models.LLMProvider) (models.LLMProvider, string, error) {
	if reference == "" {
		return "", "", errs.InvalidReference(reference, "empty reference")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if a, ok := c.aliases[reference]; ok {
		return a.Provider, a.Model, nil
	}

	provider, model, qualified := models.SplitQualifiedName(reference)
	if !qualified {
		if defaultProvider == "" {
			return "", "", errs.InvalidReference(reference, "no provider qualifier and no default provider")
		}
		return defaultProvider, reference, nil
	}

	if c.providers[provider] {
		return provider, model, nil
	}

	// The qualifier is not a known provider; it may itself be an alias
	// (e.g. "haiku:latest" style typos resolve to nothing, but a plain
	// aliased qualifier does).
	if a, ok := c.aliases[string(provider)]; ok {
		return a.Provider, a.Model, nil
	}

	return "", "", errs.InvalidReference(reference, "unknown provider "+string(provider))
}

// DefaultForTask returns the task's default model configuration.
func (c *Catalog) DefaultForTask(taskType models.TaskType) (models.TaskModelConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tc, ok := c.tasks[taskType]
	if !ok {
		return models.TaskModelConfig{}, errs.NoTaskConfig(string(taskType))
	}
	return tc, nil
}

// SetTaskConfig upserts the default configuration for a task type.
func (c *Catalog) SetTaskConfig(tc models.TaskModelConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks[tc.TaskType] = tc
}

// TaskConfigs returns every registered task configuration.
func (c *Catalog) TaskConfigs() []models.TaskModelConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.TaskModelConfig, 0, len(c.tasks))
	for _, tc := range c.tasks {
		out = append(out, tc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskType < out[j].TaskType })
	return out
}

// List returns every registered model definition, fallback entry included,
// ordered by qualified name.
func (c *Catalog) List() []models.ModelDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.ModelDefinition, 0, len(c.defs))
	for _, def := range c.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QualifiedName() < out[j].QualifiedName()
	})
	return out
}

// Providers returns the set of registered providers, terminal fallback
// excluded, in sorted order.
func (c *Catalog) Providers() []models.LLMProvider {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.LLMProvider, 0, len(c.providers))
	for p := range c.providers {
		if p == models.ProviderNone {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RecommendRequest narrows the candidate set for Recommend. Zero values
// leave the corresponding predicate unapplied.
type RecommendRequest struct {
	TaskType          models.TaskType
	RequiresFunctions bool
	RequiresVision    bool
	MaxCostPer1M      decimal.Decimal // zero = no cap
	AllowedProviders  []models.LLMProvider
}

// Recommend returns the cheapest capable model for the request: candidates
// are seeded from the task default plus its fallback providers (or the full
// non-deprecated catalog when no task is given), filtered by each supplied
// predicate, then ordered by cost factor ascending with context window
// descending as the tiebreak. ok is false when nothing qualifies.
func (c *Catalog) Recommend(req RecommendRequest) (models.ModelDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var candidates []models.ModelDefinition
	if tc, ok := c.tasks[req.TaskType]; req.TaskType != "" && ok {
		seedProviders := map[models.LLMProvider]bool{tc.Provider: true}
		for _, p := range tc.FallbackProviders {
			seedProviders[p] = true
		}
		if def, ok := c.defs[models.QualifiedName(tc.Provider, tc.Model)]; ok {
			candidates = append(candidates, def)
		}
		for _, def := range c.defs {
			if seedProviders[def.Provider] && def.QualifiedName() != models.QualifiedName(tc.Provider, tc.Model) {
				candidates = append(candidates, def)
			}
		}
	} else {
		for _, def := range c.defs {
			candidates = append(candidates, def)
		}
	}

	allowed := map[models.LLMProvider]bool{}
	for _, p := range req.AllowedProviders {
		allowed[p] = true
	}

	var best models.ModelDefinition
	found := false
	for _, def := range candidates {
		if def.Deprecated || def.Provider == models.ProviderNone {
			continue
		}
		if req.RequiresFunctions && !def.SupportsFunctions {
			continue
		}
		if req.RequiresVision && !def.SupportsVision {
			continue
		}
		if !req.MaxCostPer1M.IsZero() && def.CostFactor().GreaterThan(req.MaxCostPer1M) {
			continue
		}
		if len(allowed) > 0 && !allowed[def.Provider] {
			continue
		}
		if !found || cheaper(def, best) {
			best = def
			found = true
		}
	}
	return best, found
}

// cheaper orders by cost factor ascending, context window descending.
func cheaper(a, b models.ModelDefinition) bool {
	switch a.CostFactor().Cmp(b.CostFactor()) {
	case -1:
		return true
	case 1:
		return false
	}
	return a.ContextTokens > b.ContextTokens
}

// CheapestFor returns the cheapest non-deprecated model under provider whose
// cost factor does not exceed maxCostPer1M (zero = no cap). Used by routing
// to pick the fallback candidate per provider.
func (c *Catalog) CheapestFor(provider models.LLMProvider, maxCostPer1M decimal.Decimal) (models.ModelDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best models.ModelDefinition
	found := false
	for _, def := range c.defs {
		if def.Provider != provider || def.Deprecated {
			continue
		}
		if !maxCostPer1M.IsZero() && def.CostFactor().GreaterThan(maxCostPer1M) {
			continue
		}
		if !found || cheaper(def, best) {
			best = def
			found = true
		}
	}
	return best, found
}

// FallbackModel returns the terminal no-op fallback definition.
func (c *Catalog) FallbackModel() models.ModelDefinition {
	def, _ := c.Get(models.ProviderNone, FallbackModelName)
	return def
}
