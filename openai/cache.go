package openai

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ModelLister fetches the vision-capable model catalog.
type ModelLister interface {
	VisionModels(ctx context.Context) ([]string, error)
}

// ModelCache caches the model catalog with a TTL and optional periodic
// refresh, so the catalog endpoint does not hit the remote API on every
// request.
type ModelCache struct {
	mu        sync.Mutex
	models    []string
	fetchedAt time.Time
	ttl       time.Duration
	lister    ModelLister
	log       zerolog.Logger
}

// NewModelCache creates a cache over the given lister.
func NewModelCache(lister ModelLister, ttl time.Duration, log zerolog.Logger) *ModelCache {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &ModelCache{ttl: ttl, lister: lister, log: log}
}

// Models returns the cached catalog, refreshing it when empty or expired.
// A failed refresh keeps serving the stale catalog if one exists.
func (mc *ModelCache) Models(ctx context.Context) ([]string, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.models != nil && time.Since(mc.fetchedAt) < mc.ttl {
		return append([]string(nil), mc.models...), nil
	}

	models, err := mc.lister.VisionModels(ctx)
	if err != nil {
		if mc.models != nil {
			mc.log.Warn().Err(err).Msg("model refresh failed, serving stale catalog")
			return append([]string(nil), mc.models...), nil
		}
		return nil, err
	}

	mc.models = models
	mc.fetchedAt = time.Now()
	mc.log.Info().Int("model_count", len(models)).Msg("model catalog refreshed")
	return append([]string(nil), models...), nil
}

// StartPeriodicRefresh refreshes the catalog at the TTL interval until ctx
// is cancelled.
func (mc *ModelCache) StartPeriodicRefresh(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(mc.ttl)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mc.mu.Lock()
				mc.fetchedAt = time.Time{} // force refresh on next read
				mc.mu.Unlock()
				if _, err := mc.Models(ctx); err != nil {
					mc.log.Error().Err(err).Msg("periodic model refresh failed")
				}
			}
		}
	}()
}

// Status reports cache state for monitoring.
func (mc *ModelCache) Status() map[string]any {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	status := map[string]any{
		"ttl_seconds": mc.ttl.Seconds(),
		"model_count": len(mc.models),
	}
	switch {
	case mc.models == nil:
		status["status"] = "empty"
	case time.Since(mc.fetchedAt) > mc.ttl:
		status["status"] = "expired"
	default:
		status["status"] = "valid"
	}
	return status
}
