// Package limits resolves per-account risk limits. Overrides live in the
// secrets backend under {prefix}/{userID}/limits and are cached locally;
// accounts without an override get the service defaults. Resolution never
// fails the order path: any lookup problem falls back to the defaults.
package limits

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Meridian-Markets/engine/pkg/model"
	"github.com/Meridian-Markets/engine/pkg/secrets"
)

// Resolver looks up account limit overrides.
type Resolver struct {
	logger   *zap.Logger
	prefix   string
	provider secrets.Provider
	cache    *secrets.Cache[model.RiskLimits]
	defaults model.RiskLimits
}

// NewResolver builds a resolver. provider may be nil, in which case every
// account resolves to the defaults.
func NewResolver(
	logger *zap.Logger,
	prefix string,
	provider secrets.Provider,
	cache *secrets.Cache[model.RiskLimits],
	defaults model.RiskLimits,
) *Resolver {
	return &Resolver{
		logger:   logger,
		prefix:   prefix,
		provider: provider,
		cache:    cache,
		defaults: defaults,
	}
}

func (r *Resolver) secretName(userID string) string {
	return strings.ToLower(fmt.Sprintf("%s/%s/limits", r.prefix, userID))
}

// Limits returns the account's risk limits.
func (r *Resolver) Limits(ctx context.Context, userID string) model.RiskLimits {
	if r.provider == nil {
		return r.defaults
	}

	key := strings.ToLower(userID)
	if r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			return cached
		}
	}

	secretMap, err := r.provider.GetSecret(ctx, r.secretName(userID))
	if err != nil {
		// Missing override and backend failure look the same here; both
		// resolve to defaults so trading continues.
		r.logger.Debug("limits.override_unavailable",
			zap.String("user_id", userID),
			zap.Error(err))
		return r.defaults
	}

	resolved, err := parseLimits(secretMap, r.defaults)
	if err != nil {
		r.logger.Warn("limits.override_invalid",
			zap.String("user_id", userID),
			zap.Error(err))
		return r.defaults
	}

	if r.cache != nil {
		r.cache.Put(key, resolved)
	}
	r.logger.Info("limits.override_resolved",
		zap.String("user_id", userID),
		zap.String("max_position_size", resolved.MaxPositionSize.String()),
		zap.Float64("min_confidence", resolved.MinConfidence))
	return resolved
}

// Bust drops a cached override, forcing a re-fetch on next use.
func (r *Resolver) Bust(userID string) {
	if r.cache != nil {
		r.cache.Bust(strings.ToLower(userID))
	}
}

// parseLimits reads the override fields, keeping the default for any field
// the secret omits.
func parseLimits(secretMap map[string]string, defaults model.RiskLimits) (model.RiskLimits, error) {
	out := defaults

	if raw, ok := secretMap["maxPositionSize"]; ok {
		size, err := decimal.NewFromString(raw)
		if err != nil {
			return model.RiskLimits{}, fmt.Errorf("maxPositionSize: %w", err)
		}
		if size.IsNegative() {
			return model.RiskLimits{}, fmt.Errorf("maxPositionSize must not be negative")
		}
		out.MaxPositionSize = size
	}

	if raw, ok := secretMap["minConfidence"]; ok {
		conf, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return model.RiskLimits{}, fmt.Errorf("minConfidence: %w", err)
		}
		if conf < 0 || conf > 1 {
			return model.RiskLimits{}, fmt.Errorf("minConfidence must be within [0,1]")
		}
		out.MinConfidence = conf
	}

	return out, nil
}
