// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cost tracks per-workflow token usage and USD cost against a
// configurable budget, raising a classified error once the running total
// crosses the approval-required or hard-stop threshold. Crossing the
// warning threshold raises no error; IsWarning reports it.
package cost

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrBudgetExceeded is returned by AddUsage once the running cost reaches
// or exceeds the budget limit. The engine must terminate the workflow.
var ErrBudgetExceeded = errors.New("cost: budget exceeded")

// ErrBudgetApprovalRequired is returned by AddUsage once the running cost
// reaches the approval threshold and the budget has not yet been
// approved. The engine must route this through the approval queue.
var ErrBudgetApprovalRequired = errors.New("cost: budget approval required")

// BudgetError wraps ErrBudgetExceeded or ErrBudgetApprovalRequired with
// the concrete totals that triggered it, so callers can render a useful
// message without re-deriving the percentage.
type BudgetError struct {
	Err            error
	TotalCostUSD   float64
	BudgetLimitUSD float64
	PercentUsed    float64
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("%s: $%.2f / $%.2f (%.0f%%)", e.Err, e.TotalCostUSD, e.BudgetLimitUSD, e.PercentUsed*100)
}

func (e *BudgetError) Unwrap() error { return e.Err }

// ModelPricing is the USD-per-million-tokens rate for a single model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// CalculateCost returns the USD cost of inputTokens and outputTokens at
// this pricing.
func (p ModelPricing) CalculateCost(inputTokens, outputTokens int64) float64 {
	inputCost := (float64(inputTokens) / 1_000_000) * p.InputPerMillion
	outputCost := (float64(outputTokens) / 1_000_000) * p.OutputPerMillion
	return inputCost + outputCost
}

// fallbackPricePerMillion is applied to the combined token count of any
// model absent from the pricing table, roughly matching the original's
// "~$5/1M tokens" fallback.
const fallbackPricePerMillion = 5.0

// DefaultPricing is seeded from the original FABER implementation's
// DEFAULT_PRICING table (early-2025 list prices).
var DefaultPricing = map[string]ModelPricing{
	"claude-opus-4-20250514":    {InputPerMillion: 15.0, OutputPerMillion: 75.0},
	"claude-sonnet-4-20250514":  {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	"claude-3-5-haiku-20241022": {InputPerMillion: 0.25, OutputPerMillion: 1.25},
	"gpt-4o":                    {InputPerMillion: 2.50, OutputPerMillion: 10.0},
	"gpt-4o-mini":               {InputPerMillion: 0.15, OutputPerMillion: 0.60},
}

// Config configures a Tracker's budget thresholds and pricing table.
type Config struct {
	// BudgetLimitUSD <= 0 means unlimited: no threshold is ever raised.
	BudgetLimitUSD float64 `yaml:"budget_limit_usd,omitempty" mapstructure:"budget_limit_usd"`

	// WarningThreshold is the fraction of BudgetLimitUSD at which the
	// engine should log a warning but continue. Default 0.8.
	WarningThreshold float64 `yaml:"warning_threshold,omitempty" mapstructure:"warning_threshold"`

	// RequireApprovalAt is the fraction of BudgetLimitUSD at which the
	// engine must route through the approval queue before continuing.
	// Default 0.9.
	RequireApprovalAt float64 `yaml:"require_approval_at,omitempty" mapstructure:"require_approval_at"`

	// Pricing overrides/extends DefaultPricing. Nil entries fall back to
	// DefaultPricing, then to fallbackPricePerMillion.
	Pricing map[string]ModelPricing `yaml:"-" mapstructure:"-"`
}

// SetDefaults applies the original implementation's documented defaults.
func (c *Config) SetDefaults() {
	if c.WarningThreshold == 0 {
		c.WarningThreshold = 0.8
	}
	if c.RequireApprovalAt == 0 {
		c.RequireApprovalAt = 0.9
	}
}

// UsageEvent is one recorded LLM call's token usage and derived cost.
type UsageEvent struct {
	Timestamp    time.Time      `json:"timestamp"`
	Model        string         `json:"model"`
	InputTokens  int64          `json:"input_tokens"`
	OutputTokens int64          `json:"output_tokens"`
	CostUSD      float64        `json:"cost_usd"`
	Phase        string         `json:"phase,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Summary aggregates a Tracker's recorded events.
type Summary struct {
	TotalTokens        int64              `json:"total_tokens"`
	TotalInputTokens   int64              `json:"total_input_tokens"`
	TotalOutputTokens  int64              `json:"total_output_tokens"`
	TotalCostUSD       float64            `json:"total_cost_usd"`
	ByModel            map[string]float64 `json:"by_model"`
	ByPhase            map[string]float64 `json:"by_phase"`
	EventsCount        int                `json:"events_count"`
	BudgetRemainingUSD *float64           `json:"budget_remaining_usd,omitempty"`
	BudgetPercentUsed  *float64           `json:"budget_percent_used,omitempty"`
}

// metrics are package-level Prometheus collectors shared across all
// Tracker instances in the process, labelled by workflow/model/phase so
// a single registry can scrape cost across every concurrently running
// workflow.
var (
	costTotalUSD = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "faber_cost_total_usd",
		Help: "Cumulative USD cost of LLM usage, by model and phase.",
	}, []string{"model", "phase"})

	tokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "faber_tokens_total",
		Help: "Cumulative input+output token count, by model and phase.",
	}, []string{"model", "phase"})

	registerMetricsOnce sync.Once
)

// RegisterMetrics registers the package's Prometheus collectors against
// reg. Safe to call multiple times; registration happens at most once.
func RegisterMetrics(reg prometheus.Registerer) {
	registerMetricsOnce.Do(func() {
		reg.MustRegister(costTotalUSD, tokensTotal)
	})
}

// Tracker accumulates usage events and cost for a single workflow run.
// One Tracker is owned by exactly one workflow; internal aggregation
// tolerates concurrent summary reads while that workflow appends events.
type Tracker struct {
	workflowID string
	cfg        Config

	mu             sync.RWMutex
	events         []UsageEvent
	totalCostUSD   float64
	totalTokens    int64
	budgetApproved bool
}

// New constructs a Tracker for workflowID with the given configuration.
func New(workflowID string, cfg Config) *Tracker {
	cfg.SetDefaults()
	if cfg.Pricing == nil {
		cfg.Pricing = DefaultPricing
	}
	return &Tracker{workflowID: workflowID, cfg: cfg}
}

func (t *Tracker) priceFor(model string) ModelPricing {
	if p, ok := t.cfg.Pricing[model]; ok {
		return p
	}
	if p, ok := DefaultPricing[model]; ok {
		return p
	}
	return ModelPricing{} // caller falls back to flat per-token rate
}

// AddUsage records a usage event, updates the running totals, and
// returns a *BudgetError wrapping ErrBudgetExceeded or
// ErrBudgetApprovalRequired once the corresponding threshold is crossed.
// The event is always appended and the totals always updated, even when
// an error is returned - the caller decides how to react to the budget
// state, the tracker's job is only to classify it.
func (t *Tracker) AddUsage(model string, inputTokens, outputTokens int64, phase string, metadata map[string]any, now time.Time) (UsageEvent, error) {
	var cost float64
	if pricing := t.priceFor(model); pricing.InputPerMillion != 0 || pricing.OutputPerMillion != 0 {
		cost = pricing.CalculateCost(inputTokens, outputTokens)
	} else {
		cost = (float64(inputTokens+outputTokens) / 1_000_000) * fallbackPricePerMillion
	}

	event := UsageEvent{
		Timestamp:    now,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Phase:        phase,
		Metadata:     metadata,
	}

	t.mu.Lock()
	t.events = append(t.events, event)
	t.totalCostUSD += cost
	t.totalTokens += inputTokens + outputTokens
	totalCost := t.totalCostUSD
	approved := t.budgetApproved
	t.mu.Unlock()

	costTotalUSD.WithLabelValues(model, phase).Add(cost)
	tokensTotal.WithLabelValues(model, phase).Add(float64(inputTokens + outputTokens))

	if err := t.checkBudget(totalCost, approved); err != nil {
		return event, err
	}
	return event, nil
}

func (t *Tracker) checkBudget(totalCost float64, approved bool) error {
	if t.cfg.BudgetLimitUSD <= 0 {
		return nil
	}

	percentUsed := totalCost / t.cfg.BudgetLimitUSD

	if percentUsed >= 1.0 {
		return &BudgetError{Err: ErrBudgetExceeded, TotalCostUSD: totalCost, BudgetLimitUSD: t.cfg.BudgetLimitUSD, PercentUsed: percentUsed}
	}
	if percentUsed >= t.cfg.RequireApprovalAt && !approved {
		return &BudgetError{Err: ErrBudgetApprovalRequired, TotalCostUSD: totalCost, BudgetLimitUSD: t.cfg.BudgetLimitUSD, PercentUsed: percentUsed}
	}
	return nil
}

// ApproveBudget flips the tracker to approved, suppressing further
// ErrBudgetApprovalRequired errors until the hard limit is reached.
func (t *Tracker) ApproveBudget() {
	t.mu.Lock()
	t.budgetApproved = true
	t.mu.Unlock()
}

// IsWithinBudget reports whether the running total is below the limit.
func (t *Tracker) IsWithinBudget() bool {
	if t.cfg.BudgetLimitUSD <= 0 {
		return true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalCostUSD < t.cfg.BudgetLimitUSD
}

// IsWarning reports whether the running total is at or above the
// warning threshold.
func (t *Tracker) IsWarning() bool {
	if t.cfg.BudgetLimitUSD <= 0 {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalCostUSD/t.cfg.BudgetLimitUSD >= t.cfg.WarningThreshold
}

// GetSummary returns the aggregated totals, safe to call concurrently
// with AddUsage.
func (t *Tracker) GetSummary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byModel := map[string]float64{}
	byPhase := map[string]float64{}
	var totalInput, totalOutput int64

	for _, e := range t.events {
		byModel[e.Model] += e.CostUSD
		if e.Phase != "" {
			byPhase[e.Phase] += e.CostUSD
		}
		totalInput += e.InputTokens
		totalOutput += e.OutputTokens
	}

	summary := Summary{
		TotalTokens:       t.totalTokens,
		TotalInputTokens:  totalInput,
		TotalOutputTokens: totalOutput,
		TotalCostUSD:      t.totalCostUSD,
		ByModel:           byModel,
		ByPhase:           byPhase,
		EventsCount:       len(t.events),
	}

	if t.cfg.BudgetLimitUSD > 0 {
		remaining := t.cfg.BudgetLimitUSD - t.totalCostUSD
		percent := (t.totalCostUSD / t.cfg.BudgetLimitUSD) * 100
		summary.BudgetRemainingUSD = &remaining
		summary.BudgetPercentUsed = &percent
	}

	return summary
}

// Reset clears all recorded events and totals.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
	t.totalCostUSD = 0
	t.totalTokens = 0
	t.budgetApproved = false
}
