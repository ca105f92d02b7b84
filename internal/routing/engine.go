// Package routing implements the decision engine that selects a provider and
// model for each generation request.
//
// For a task-based request the engine builds an ordered candidate list from
// the task's default model, the cheapest eligible model of each fallback
// provider, and a terminal always-available no-op entry; it then walks the
// list applying the per-call constraints and circuit-breaker admission and
// selects the first survivor. The engine never performs the provider call
// itself: callers invoke the chosen model and report the outcome back via
// RecordSuccess or RecordFailure.
package routing

import (
	"strconv"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/breaker"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/internal/catalog"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

// Engine makes routing decisions over a model catalog. It exclusively owns
// one circuit breaker per model key, created lazily on first use; breakers
// are never shared across engine instances.
type Engine struct {
	catalog  *catalog.Catalog
	breakers *breaker.Registry
	history  *history
	now      func() time.Time
}

// NewEngine creates an engine over the given catalog; breakerDefaults apply
// to every lazily created breaker.
func NewEngine(cat *catalog.Catalog, breakerDefaults breaker.Config) *Engine {
	return &Engine{
		catalog:  cat,
		breakers: breaker.NewRegistry(breakerDefaults),
		history:  newHistory(historyLimit),
		now:      time.Now,
	}
}

// Catalog exposes the engine's model catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// RouteTask selects a model for the given task type. complexity is recorded
// for analytics only and never influences selection. The only failure is an
// unconfigured task type; when every real candidate is filtered out the
// engine degrades to the terminal fallback instead of failing.
func (e *Engine) RouteTask(taskType models.TaskType, cfg *Config, complexity float64) (models.RoutingDecision, error) {
	start := e.now()

	conf := DefaultConfig()
	if cfg != nil {
		conf = *cfg
	}

	taskCfg, err := e.catalog.DefaultForTask(taskType)
	if err != nil {
		return models.RoutingDecision{}, err
	}

	candidates := e.buildCandidates(taskCfg, conf)
	decision := e.selectFrom(taskType, candidates, conf, start, complexity)
	e.history.append(decision)
	return decision, nil
}

// RouteModel handles a manual model override. The reference is resolved via
// the catalog; when it cannot be resolved, or its breaker refuses admission,
// or its provider is blocked, routing recurses into task-based routing when
// a task type is available. With no task type to fall back to an unresolvable
// reference is an error.
func (e *Engine) RouteModel(reference string, taskType models.TaskType, cfg *Config, complexity float64) (models.RoutingDecision, error) {
	start := e.now()

	conf := DefaultConfig()
	if cfg != nil {
		conf = *cfg
	}

	var defaultProvider models.LLMProvider
	if taskCfg, err := e.catalog.DefaultForTask(taskType); err == nil {
		defaultProvider = taskCfg.Provider
	}

	provider, model, err := e.catalog.Resolve(reference, defaultProvider)
	if err != nil {
		if taskType != "" {
			return e.RouteTask(taskType, &conf, complexity)
		}
		return models.RoutingDecision{}, err
	}

	admitted := true
	if conf.CircuitBreaker {
		admitted = e.breakers.Get(models.QualifiedName(provider, model)).CanRequest()
	}
	deprecatedDef := false
	if def, ok := e.catalog.Get(provider, model); ok && def.Deprecated {
		deprecatedDef = true
	}

	if !admitted || conf.blocked(provider) || deprecatedDef {
		if taskType != "" {
			return e.RouteTask(taskType, &conf, complexity)
		}
		// No task type to recurse into: degrade to the terminal fallback.
		fb := e.catalog.FallbackModel()
		decision := e.finish(taskType, fb.Provider, fb.Name, models.ReasonUnavailable, true, false, start, complexity)
		e.history.append(decision)
		return decision, nil
	}

	decision := e.finish(taskType, provider, model, models.ReasonManualOverride, false, e.bypassed(conf, provider, model), start, complexity)
	e.history.append(decision)
	return decision, nil
}

// RecordSuccess reports a successful provider call for the exact model that
// was invoked.
func (e *Engine) RecordSuccess(provider models.LLMProvider, model string) {
	e.breakers.Get(models.QualifiedName(provider, model)).RecordSuccess()
}

// RecordFailure reports a failed provider call for the exact model that was
// invoked.
func (e *Engine) RecordFailure(provider models.LLMProvider, model string) {
	e.breakers.Get(models.QualifiedName(provider, model)).RecordFailure()
}

// Breaker returns the breaker owned by this engine for the model key.
func (e *Engine) Breaker(provider models.LLMProvider, model string) *breaker.Breaker {
	return e.breakers.Get(models.QualifiedName(provider, model))
}

// ConfigureBreaker installs per-model breaker thresholds (workspace
// overrides), replacing any accumulated state for that key.
func (e *Engine) ConfigureBreaker(provider models.LLMProvider, model string, cfg breaker.Config) {
	e.breakers.Configure(models.QualifiedName(provider, model), cfg)
}

// BreakerSnapshots returns the state of every breaker created so far.
func (e *Engine) BreakerSnapshots() []breaker.Snapshot {
	return e.breakers.Snapshots()
}

// History returns up to n recent decisions, newest first; n <= 0 returns the
// full retained log.
func (e *Engine) History(n int) []models.RoutingDecision {
	return e.history.recent(n)
}

// candidate pairs a model definition with whether it is the task's configured
// default. Blocked providers can drop the default from the list entirely, so
// selection must not infer default-ness from position.
type candidate struct {
	def         models.ModelDefinition
	taskDefault bool
}

// buildCandidates assembles the ordered candidate list: task default first,
// then the cheapest cost-cap-eligible model per fallback provider, then the
// terminal no-op fallback. Blocked providers are dropped here.
func (e *Engine) buildCandidates(taskCfg models.TaskModelConfig, conf Config) []candidate {
	var candidates []candidate
	seen := map[string]bool{}

	add := func(def models.ModelDefinition, taskDefault bool) {
		key := def.QualifiedName()
		if seen[key] || conf.blocked(def.Provider) {
			return
		}
		seen[key] = true
		candidates = append(candidates, candidate{def: def, taskDefault: taskDefault})
	}

	if def, ok := e.catalog.Get(taskCfg.Provider, taskCfg.Model); ok {
		add(def, true)
	} else {
		// Unregistered task default: carry it through so availability
		// filtering (not candidate building) decides its fate.
		add(models.ModelDefinition{Provider: taskCfg.Provider, Name: taskCfg.Model}, true)
	}

	if conf.Fallback {
		for _, p := range taskCfg.FallbackProviders {
			if def, ok := e.catalog.CheapestFor(p, conf.MaxCostPer1M); ok {
				add(def, false)
			}
		}
	}

	add(e.catalog.FallbackModel(), false)
	return candidates
}

// selectFrom walks the candidate list and returns the decision for the first
// survivor. The breaker admission check runs last so a reserved half-open
// probe slot is only consumed by the candidate actually selected.
func (e *Engine) selectFrom(taskType models.TaskType, candidates []candidate, conf Config, start time.Time, complexity float64) models.RoutingDecision {
	for i, c := range candidates {
		def := c.def
		last := i == len(candidates)-1
		terminal := def.Provider == models.ProviderNone

		if !e.catalog.IsAvailable(def.Provider, def.Name) {
			continue
		}
		if !terminal {
			if !conf.MaxCostPer1M.IsZero() && def.OutputPerMToken.GreaterThan(conf.MaxCostPer1M) {
				continue
			}
			if conf.MaxLatencyMs > 0 && def.AvgLatencyMs > conf.MaxLatencyMs {
				continue
			}
			if conf.RequireFunctions && !def.SupportsFunctions {
				continue
			}
			if conf.RequireVision && !def.SupportsVision {
				continue
			}
		}
		if !conf.preferred(def.Provider) && !last {
			continue
		}
		if conf.CircuitBreaker && !terminal {
			if !e.breakers.Get(def.QualifiedName()).CanRequest() {
				continue
			}
		}

		reason := models.ReasonFallback
		if c.taskDefault {
			reason = models.ReasonTaskDefault
		}
		return e.finish(taskType, def.Provider, def.Name, reason, !c.taskDefault, e.bypassed(conf, def.Provider, def.Name), start, complexity)
	}

	// Even the unconstrained terminal fallback was filtered out.
	fb := e.catalog.FallbackModel()
	return e.finish(taskType, fb.Provider, fb.Name, models.ReasonUnavailable, true, false, start, complexity)
}

// bypassed reports whether the chosen model's breaker would have refused the
// call had breaker checking been enabled.
func (e *Engine) bypassed(conf Config, provider models.LLMProvider, model string) bool {
	if conf.CircuitBreaker {
		return false
	}
	return e.breakers.Get(models.QualifiedName(provider, model)).IsOpen()
}

func (e *Engine) finish(taskType models.TaskType, provider models.LLMProvider, model string, reason models.RoutingReason, fallbackUsed, circuitBypassed bool, start time.Time, complexity float64) models.RoutingDecision {
	d := models.RoutingDecision{
		TaskType:        taskType,
		Provider:        provider,
		Model:           model,
		Reason:          reason,
		FallbackUsed:    fallbackUsed,
		CircuitBypassed: circuitBypassed,
		Latency:         e.now().Sub(start),
		Timestamp:       e.now().UTC(),
	}
	if complexity > 0 {
		d.Metadata = map[string]string{
			"complexity": strconv.FormatFloat(complexity, 'f', -1, 64),
		}
	}
	return d
}
