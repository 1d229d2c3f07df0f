// Package quota is the local usage limiter that gates generation requests.
//
// Every key has a rolling list of call times for the per-minute window and a
// (day, count) pair for the daily cap. Denials are advisory: the caller
// decides how to surface them.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ubuygold/gosparklio/internal/config"
	"github.com/ubuygold/gosparklio/internal/keyed"
	"github.com/ubuygold/gosparklio/internal/metrics"
	"github.com/ubuygold/gosparklio/internal/model"
)

const (
	// GlobalKey is used when a request carries no user id.
	GlobalKey = "global"

	window    = time.Minute
	dayLayout = "2006-01-02"

	WindowMinute = "minute"
	WindowDaily  = "daily"
)

// Store persists one QuotaState per key.
type Store interface {
	LoadQuota(ctx context.Context, key string) (model.QuotaState, bool, error)
	SaveQuota(ctx context.Context, key string, state model.QuotaState) error
}

// Limits are the thresholds a Governor enforces.
type Limits struct {
	PerMinute     int
	DailyShared   int
	DailyPersonal int
}

// LimitsFromConfig converts the configured quota section.
func LimitsFromConfig(cfg config.QuotaConfig) Limits {
	return Limits{PerMinute: cfg.PerMinute, DailyShared: cfg.DailyShared, DailyPersonal: cfg.DailyPersonal}
}

func (l Limits) daily(personal bool) int {
	if personal {
		return l.DailyPersonal
	}
	return l.DailyShared
}

// Verdict is the outcome of a Check. Window names the limit that denied the request.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Window  string `json:"window,omitempty"`
}

// Counter is the usage of one window.
type Counter struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// Usage is the snapshot returned by Stats.
type Usage struct {
	PerMinute  Counter `json:"per_minute"`
	Daily      Counter `json:"daily"`
	Percentage int     `json:"percentage"`
}

// Governor enforces per-minute and daily limits per key.
type Governor struct {
	store   Store
	limits  Limits
	locks   *keyed.Mutex
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewGovernor creates a Governor backed by store.
func NewGovernor(store Store, limits Limits, rec metrics.Recorder, log *slog.Logger) *Governor {
	return &Governor{
		store:   store,
		limits:  limits,
		locks:   keyed.NewMutex(),
		metrics: metrics.OrNop(rec),
		logger:  log.With("component", "quota"),
		now:     time.Now,
	}
}

// Check reports whether key may start another generation. It never consumes
// quota, so repeated checks without a Record agree.
func (g *Governor) Check(ctx context.Context, key string, personal bool) (Verdict, error) {
	key = normalizeKey(key)
	var verdict Verdict
	err := g.locks.Do(ctx, key, func() error {
		state, changed, err := g.load(ctx, key)
		if err != nil {
			return err
		}
		if changed {
			if err := g.store.SaveQuota(ctx, key, state); err != nil {
				g.logger.Warn("Failed to save pruned quota state", "key", key, "error", err)
			}
		}
		verdict = g.evaluate(state, personal)
		return nil
	})
	if err != nil {
		return Verdict{}, err
	}
	g.observe(key, verdict)
	return verdict, nil
}

// Record consumes one call for key and persists the new state immediately.
func (g *Governor) Record(ctx context.Context, key string) error {
	key = normalizeKey(key)
	return g.locks.Do(ctx, key, func() error {
		state, _, err := g.load(ctx, key)
		if err != nil {
			return err
		}
		return g.consume(ctx, key, state)
	})
}

// Reserve is Check followed by Record under one lock: an allowed verdict has
// already consumed its call, so concurrent callers cannot pass on a stale count.
func (g *Governor) Reserve(ctx context.Context, key string, personal bool) (Verdict, error) {
	key = normalizeKey(key)
	var verdict Verdict
	err := g.locks.Do(ctx, key, func() error {
		state, changed, err := g.load(ctx, key)
		if err != nil {
			return err
		}
		verdict = g.evaluate(state, personal)
		if verdict.Allowed {
			return g.consume(ctx, key, state)
		}
		if changed {
			if err := g.store.SaveQuota(ctx, key, state); err != nil {
				g.logger.Warn("Failed to save pruned quota state", "key", key, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		return Verdict{}, err
	}
	g.observe(key, verdict)
	return verdict, nil
}

// consume must be called with the lock for key held.
func (g *Governor) consume(ctx context.Context, key string, state model.QuotaState) error {
	state.Timestamps = append(state.Timestamps, g.now().UnixMilli())
	state.Count++
	if err := g.store.SaveQuota(ctx, key, state); err != nil {
		return fmt.Errorf("failed to record quota usage: %w", err)
	}
	return nil
}

func (g *Governor) observe(key string, verdict Verdict) {
	if verdict.Allowed {
		return
	}
	g.logger.Info("Quota denied", "key", key, "window", verdict.Window)
	g.metrics.RecordQuotaDenied(verdict.Window)
}

// Stats returns the current usage of key against the limits for its tier.
func (g *Governor) Stats(ctx context.Context, key string, personal bool) (Usage, error) {
	key = normalizeKey(key)
	var state model.QuotaState
	err := g.locks.Do(ctx, key, func() error {
		var err error
		state, _, err = g.load(ctx, key)
		return err
	})
	if err != nil {
		return Usage{}, err
	}

	minute := len(state.Timestamps)
	dailyLimit := g.limits.daily(personal)
	usage := Usage{
		PerMinute: Counter{Used: minute, Limit: g.limits.PerMinute, Remaining: max(g.limits.PerMinute-minute, 0)},
		Daily:     Counter{Used: state.Count, Limit: dailyLimit, Remaining: max(dailyLimit-state.Count, 0)},
	}
	if dailyLimit > 0 {
		usage.Percentage = int(math.Round(float64(state.Count) / float64(dailyLimit) * 100))
	}
	return usage, nil
}

// load reads the state for key with stale timestamps pruned and the daily
// count reset on a new day. changed reports whether that altered a stored record.
func (g *Governor) load(ctx context.Context, key string) (model.QuotaState, bool, error) {
	state, found, err := g.store.LoadQuota(ctx, key)
	if err != nil {
		return model.QuotaState{}, false, fmt.Errorf("failed to load quota state: %w", err)
	}
	now := g.now()
	today := now.Format(dayLayout)
	if !found {
		return model.QuotaState{Date: today, Timestamps: []int64{}}, false, nil
	}

	changed := false
	if state.Date != today {
		state.Date = today
		state.Count = 0
		changed = true
	}

	cutoff := now.Add(-window).UnixMilli()
	kept := make([]int64, 0, len(state.Timestamps))
	for _, ts := range state.Timestamps {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	if len(kept) != len(state.Timestamps) {
		changed = true
	}
	state.Timestamps = kept
	return state, changed, nil
}

func (g *Governor) evaluate(state model.QuotaState, personal bool) Verdict {
	if len(state.Timestamps) >= g.limits.PerMinute {
		return Verdict{Reason: "Per-minute limit reached. Wait 10 seconds.", Window: WindowMinute}
	}
	limit := g.limits.daily(personal)
	if state.Count >= limit {
		reason := fmt.Sprintf("Daily limit reached (%d/%d). Resets at midnight.", state.Count, limit)
		if !personal {
			reason += " Add your own API key for a higher limit."
		}
		return Verdict{Reason: reason, Window: WindowDaily}
	}
	return Verdict{Allowed: true}
}

func normalizeKey(key string) string {
	if key = strings.TrimSpace(key); key == "" {
		return GlobalKey
	}
	return key
}
