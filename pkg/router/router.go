// Package router implements multi-model task routing: tier recommendation
// from task metadata, model scoring within a tier, fallback chains across
// tiers, and a bounded decision history.
package router

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jedarden/forge/pkg/log"
	"github.com/jedarden/forge/pkg/types"
)

// maxHistory bounds the in-memory decision log.
const maxHistory = 1000

// ModelConfig describes one routable model.
type ModelConfig struct {
	ID                   string
	Name                 string
	HasSubscription      bool
	MaxTokens            uint32
	CostPerMillionInput  float64
	CostPerMillionOutput float64
}

// Config is the router's tiered model table and scoring toggles.
type Config struct {
	PreferSubscription  bool
	EnableLoadBalancing bool
	PremiumModels       []ModelConfig
	StandardModels      []ModelConfig
	BudgetModels        []ModelConfig
}

// DefaultConfig mirrors the commonly cited model table: Premium
// (claude-opus-4, o1, glm-5), Standard (claude-sonnet-4, gpt-4, qwen-2.5),
// Budget (claude-haiku-4, gpt-3.5, deepseek-coder).
func DefaultConfig() Config {
	return Config{
		PreferSubscription:  true,
		EnableLoadBalancing: true,
		PremiumModels: []ModelConfig{
			{ID: "claude-opus-4", Name: "Claude Opus 4", HasSubscription: true, MaxTokens: 128000},
			{ID: "o1", Name: "OpenAI O1", HasSubscription: false, MaxTokens: 128000},
			{ID: "glm-5", Name: "GLM-5", HasSubscription: true, MaxTokens: 128000},
		},
		StandardModels: []ModelConfig{
			{ID: "claude-sonnet-4", Name: "Claude Sonnet 4", HasSubscription: true, MaxTokens: 128000},
			{ID: "gpt-4", Name: "GPT-4", HasSubscription: false, MaxTokens: 128000},
			{ID: "qwen-2.5", Name: "Qwen 2.5", HasSubscription: false, MaxTokens: 128000},
		},
		BudgetModels: []ModelConfig{
			{ID: "claude-haiku-4", Name: "Claude Haiku 4", HasSubscription: true, MaxTokens: 128000},
			{ID: "gpt-3.5", Name: "GPT-3.5", HasSubscription: false, MaxTokens: 128000},
			{ID: "deepseek-coder", Name: "DeepSeek Coder", HasSubscription: false, MaxTokens: 128000},
		},
	}
}

// ModelsForTier returns the models configured for tier.
func (c Config) ModelsForTier(tier types.Tier) []ModelConfig {
	switch tier {
	case types.TierPremium:
		return c.PremiumModels
	case types.TierStandard:
		return c.StandardModels
	case types.TierBudget:
		return c.BudgetModels
	default:
		return nil
	}
}

// Validate requires at least one model per tier.
func (c Config) Validate() error {
	if len(c.PremiumModels) == 0 {
		return fmt.Errorf("router config: at least one premium model is required")
	}
	if len(c.StandardModels) == 0 {
		return fmt.Errorf("router config: at least one standard model is required")
	}
	if len(c.BudgetModels) == 0 {
		return fmt.Errorf("router config: at least one budget model is required")
	}
	return nil
}

// Quota is a model's subscription quota snapshot, as tracked by
// pkg/subscription and fed into the router's scoring.
type Quota struct {
	TotalTokens uint64
	UsedTokens  uint64
	ResetAt     *time.Time
}

// Remaining returns the unused token budget, floored at zero.
func (q Quota) Remaining() uint64 {
	if q.UsedTokens >= q.TotalTokens {
		return 0
	}
	return q.TotalTokens - q.UsedTokens
}

// IsAvailable reports whether any quota remains.
func (q Quota) IsAvailable() bool { return q.Remaining() > 0 }

// IsUrgent reports whether the quota resets within 24h and still has
// remaining tokens — the "use it or lose it" signal.
func (q Quota) IsUrgent(now time.Time) bool {
	if q.ResetAt == nil {
		return false
	}
	return q.ResetAt.Sub(now) < 24*time.Hour && q.Remaining() > 0
}

// Availability is a model's liveness/load snapshot.
type Availability struct {
	ModelID      string
	IsAvailable  bool
	ActiveWorkers int
	AvgLatencyMS  *uint64
	LastError     string
}

// TaskMetadata describes a task for routing purposes.
type TaskMetadata struct {
	BeadID           string
	Priority         types.Priority
	ComplexityScore  *int
	Labels           []string
	RequiresReasoning bool
	EstimatedTokens  *uint64
}

// RecommendedTier derives the task's tier, starting from priority and
// escalating for reasoning, complexity, or architecture/critical labels —
// mirroring the Rust prototype's recommended_tier rule set exactly.
func (t TaskMetadata) RecommendedTier() types.Tier {
	base := t.Priority.RecommendedTier()

	if t.RequiresReasoning {
		return types.TierPremium
	}

	if t.ComplexityScore != nil {
		score := *t.ComplexityScore
		if score >= 80 {
			return types.TierPremium
		}
		if score >= 50 && base == types.TierBudget {
			return types.TierStandard
		}
	}

	for _, l := range t.Labels {
		lower := strings.ToLower(l)
		if lower == "architecture" || lower == "critical" {
			return types.TierPremium
		}
	}
	for _, l := range t.Labels {
		if strings.ToLower(l) == "complex" {
			return types.TierStandard
		}
	}

	return base
}

// Reason names why a routing decision was made.
type Reason string

const (
	ReasonPriorityBased           Reason = "priority-based"
	ReasonComplexityBased         Reason = "complexity-based"
	ReasonSubscriptionPreference  Reason = "subscription-preference"
	ReasonLoadBalancing           Reason = "load-balancing"
	ReasonFallback                Reason = "fallback"
	ReasonLabelBased               Reason = "label-based"
	ReasonDefault                  Reason = "default"
)

// FallbackOption is one entry in a decision's fallback chain.
type FallbackOption struct {
	ModelID string
	Tier    types.Tier
	Reason  string
}

// Decision is a single routing outcome.
type Decision struct {
	ID             string
	ModelID        string
	ModelName      string
	Tier           types.Tier
	IsAvailable    bool
	UsesSubscription bool
	Reason         Reason
	DecidedAt      time.Time
	FallbackChain  []FallbackOption
	BeadID         string
}

// Stats summarizes the decision history.
type Stats struct {
	TotalDecisions int
	ByTier         map[types.Tier]int
	ByModel        map[string]int
	ByReason       map[Reason]int
}

// MostUsedModel returns the model with the most decisions, if any.
func (s Stats) MostUsedModel() (string, int, bool) {
	best, bestN := "", 0
	for m, n := range s.ByModel {
		if n > bestN {
			best, bestN = m, n
		}
	}
	return best, bestN, bestN > 0
}

// Health is a per-model health snapshot for monitoring/metrics.
type Health struct {
	IsAvailable     bool
	ActiveWorkers   int
	AvgLatencyMS    *uint64
	LastError       string
	QuotaRemaining  *uint64
	QuotaUrgent     bool
}

// Router routes tasks to models within a recommended tier, scoring
// candidates by subscription availability, load, and health, and falling
// back Premium -> Standard -> Budget when a selection turns out
// unavailable.
type Router struct {
	mu           sync.Mutex
	cfg          Config
	quotas       map[string]Quota
	availability map[string]Availability
	loadCounters map[string]uint64
	history      []Decision
	now          func() time.Time
}

// New constructs a Router from cfg, seeding every configured model as
// available with a zero load counter.
func New(cfg Config) *Router {
	r := &Router{
		cfg:          cfg,
		quotas:       make(map[string]Quota),
		availability: make(map[string]Availability),
		loadCounters: make(map[string]uint64),
		now:          time.Now,
	}
	for _, m := range allModels(cfg) {
		r.availability[m.ID] = Availability{ModelID: m.ID, IsAvailable: true}
		r.loadCounters[m.ID] = 0
	}
	return r
}

func allModels(cfg Config) []ModelConfig {
	all := make([]ModelConfig, 0, len(cfg.PremiumModels)+len(cfg.StandardModels)+len(cfg.BudgetModels))
	all = append(all, cfg.PremiumModels...)
	all = append(all, cfg.StandardModels...)
	all = append(all, cfg.BudgetModels...)
	return all
}

// Config returns the router's current configuration.
func (r *Router) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// UpdateQuota sets a model's subscription quota snapshot.
func (r *Router) UpdateQuota(modelID string, q Quota) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotas[modelID] = q
}

// UpdateAvailability sets a model's liveness/load snapshot.
func (r *Router) UpdateAvailability(a Availability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.availability[a.ModelID] = a
}

// Route selects the best model for task within its recommended tier and
// attaches the cross-tier fallback chain.
func (r *Router) Route(task TaskMetadata) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tier := task.RecommendedTier()
	decision, err := r.selectModel(task, tier)
	if err != nil {
		return Decision{}, err
	}
	decision.FallbackChain = r.buildFallbackChain(tier)
	r.recordDecision(decision)

	log.WithComponent("router").Info().
		Str("bead_id", task.BeadID).Str("model", decision.ModelID).
		Str("tier", string(decision.Tier)).Str("reason", string(decision.Reason)).
		Msg("routing decision made")

	return decision, nil
}

func (r *Router) selectModel(task TaskMetadata, tier types.Tier) (Decision, error) {
	models := r.cfg.ModelsForTier(tier)
	if len(models) == 0 {
		return Decision{}, fmt.Errorf("router: no models available in %s tier", tier)
	}

	best := models[0]
	bestScore := r.scoreModel(best)
	for _, m := range models[1:] {
		if s := r.scoreModel(m); s > bestScore {
			best, bestScore = m, s
		}
	}

	isAvailable := true
	if a, ok := r.availability[best.ID]; ok {
		isAvailable = a.IsAvailable
	}

	reason := r.determineReason(best, task, tier)

	if r.cfg.EnableLoadBalancing {
		r.loadCounters[best.ID]++
	}

	return Decision{
		ID:               uuid.NewString(),
		ModelID:          best.ID,
		ModelName:        best.Name,
		Tier:             tier,
		IsAvailable:      isAvailable,
		UsesSubscription: best.HasSubscription,
		Reason:           reason,
		DecidedAt:        r.now(),
		BeadID:           task.BeadID,
	}, nil
}

func (r *Router) scoreModel(m ModelConfig) float64 {
	score := 100.0

	if r.cfg.PreferSubscription && m.HasSubscription {
		if q, ok := r.quotas[m.ID]; ok {
			if q.IsAvailable() {
				score += 20.0
				if q.IsUrgent(r.now()) {
					score += 15.0
				}
			}
		} else {
			score += 10.0
		}
	}

	if r.cfg.EnableLoadBalancing {
		score -= float64(r.loadCounters[m.ID]) * 0.5
	}

	if a, ok := r.availability[m.ID]; ok {
		if !a.IsAvailable {
			score -= 100.0
		}
		if a.AvgLatencyMS != nil && *a.AvgLatencyMS > 5000 {
			score -= 10.0
		}
	}

	if score < 0 {
		score = 0
	}
	return score
}

func (r *Router) determineReason(m ModelConfig, task TaskMetadata, tier types.Tier) Reason {
	if r.cfg.PreferSubscription && m.HasSubscription {
		if q, ok := r.quotas[m.ID]; ok && q.IsUrgent(r.now()) {
			return ReasonSubscriptionPreference
		}
	}

	if task.ComplexityScore != nil || task.RequiresReasoning {
		return ReasonComplexityBased
	}

	if len(task.Labels) > 0 {
		return ReasonLabelBased
	}

	if r.cfg.EnableLoadBalancing && r.loadCounters[m.ID] > 0 {
		return ReasonLoadBalancing
	}

	if tier == task.Priority.RecommendedTier() {
		return ReasonPriorityBased
	}
	return ReasonDefault
}

func (r *Router) buildFallbackChain(tier types.Tier) []FallbackOption {
	var chain []FallbackOption
	switch tier {
	case types.TierPremium:
		for _, m := range r.cfg.StandardModels {
			chain = append(chain, FallbackOption{ModelID: m.ID, Tier: types.TierStandard, Reason: "premium tier unavailable"})
		}
		for _, m := range r.cfg.BudgetModels {
			chain = append(chain, FallbackOption{ModelID: m.ID, Tier: types.TierBudget, Reason: "premium and standard tiers unavailable"})
		}
	case types.TierStandard:
		for _, m := range r.cfg.BudgetModels {
			chain = append(chain, FallbackOption{ModelID: m.ID, Tier: types.TierBudget, Reason: "standard tier unavailable"})
		}
	case types.TierBudget:
		// No fallback from budget.
	}
	return chain
}

// Fallback returns the first available model in decision's fallback
// chain, or an error if none are available.
func (r *Router) Fallback(decision Decision) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(decision.FallbackChain) == 0 {
		return Decision{}, fmt.Errorf("router: no fallback available for model %s", decision.ModelID)
	}

	for _, fb := range decision.FallbackChain {
		a, ok := r.availability[fb.ModelID]
		if !ok || !a.IsAvailable {
			continue
		}
		model, ok := findModel(r.cfg.ModelsForTier(fb.Tier), fb.ModelID)
		if !ok {
			continue
		}

		newDecision := Decision{
			ID:               uuid.NewString(),
			ModelID:          model.ID,
			ModelName:        model.Name,
			Tier:             fb.Tier,
			IsAvailable:      true,
			UsesSubscription: model.HasSubscription,
			Reason:           ReasonFallback,
			DecidedAt:        r.now(),
			FallbackChain:    r.buildFallbackChain(fb.Tier),
			BeadID:           decision.BeadID,
		}
		r.recordDecision(newDecision)

		log.WithComponent("router").Warn().
			Str("from_model", decision.ModelID).Str("to_model", newDecision.ModelID).
			Msg("falling back to alternative model")

		return newDecision, nil
	}

	return Decision{}, fmt.Errorf("router: no fallback available for model %s", decision.ModelID)
}

func findModel(models []ModelConfig, id string) (ModelConfig, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelConfig{}, false
}

func (r *Router) recordDecision(d Decision) {
	r.history = append(r.history, d)
	if len(r.history) > maxHistory {
		r.history = r.history[len(r.history)-maxHistory:]
	}
}

// History returns a copy of the decision history.
func (r *Router) History() []Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Decision, len(r.history))
	copy(out, r.history)
	return out
}

// Stats summarizes the decision history by tier, model, and reason.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{ByTier: map[types.Tier]int{}, ByModel: map[string]int{}, ByReason: map[Reason]int{}}
	for _, d := range r.history {
		s.ByTier[d.Tier]++
		s.ByModel[d.ModelID]++
		s.ByReason[d.Reason]++
	}
	s.TotalDecisions = len(r.history)
	return s
}

// ClearHistory discards the decision history.
func (r *Router) ClearHistory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = nil
}

// IsModelAvailable reports a model's last-known availability.
func (r *Router) IsModelAvailable(modelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.availability[modelID]
	return ok && a.IsAvailable
}

// AvailableModels returns tier's models currently marked available.
func (r *Router) AvailableModels(tier types.Tier) []ModelConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ModelConfig
	for _, m := range r.cfg.ModelsForTier(tier) {
		if a, ok := r.availability[m.ID]; ok && a.IsAvailable {
			out = append(out, m)
		}
	}
	return out
}

// HealthCheck returns a per-model health snapshot, joining availability
// and quota state — used for the router's own monitoring surface.
func (r *Router) HealthCheck() map[string]Health {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Health, len(r.availability))
	for id, a := range r.availability {
		h := Health{
			IsAvailable:   a.IsAvailable,
			ActiveWorkers: a.ActiveWorkers,
			AvgLatencyMS:  a.AvgLatencyMS,
			LastError:     a.LastError,
		}
		if q, ok := r.quotas[id]; ok {
			remaining := q.Remaining()
			h.QuotaRemaining = &remaining
			h.QuotaUrgent = q.IsUrgent(r.now())
		}
		out[id] = h
	}
	return out
}
