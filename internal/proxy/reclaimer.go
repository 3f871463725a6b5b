package proxy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/agentrouter/internal/logging"
	"github.com/wudi/agentrouter/internal/metrics"
	"github.com/wudi/agentrouter/internal/store"
)

// StaleMappingInterval is how often the active sets are swept.
const StaleMappingInterval = 5 * time.Minute

// ExpiredTokenInterval is how often the logout_tokens set is swept.
const ExpiredTokenInterval = time.Hour

// logoutTokensKey is swept for compatibility with the shared schema; nothing
// in this process writes to it.
const logoutTokensKey = "logout_tokens"

// Reclaimer evicts entries older than the TTL window from each backend's
// active set, bounding the damage of lost stop calls and racing starts.
type Reclaimer struct {
	store      store.Store
	backends   []string
	mappingTTL time.Duration
	collector  *metrics.Collector

	now func() time.Time
}

// NewReclaimer creates the reclamation workers' state.
func NewReclaimer(st store.Store, backends []string, mappingTTL time.Duration, collector *metrics.Collector) *Reclaimer {
	return &Reclaimer{
		store:      st,
		backends:   backends,
		mappingTTL: mappingTTL,
		collector:  collector,
		now:        time.Now,
	}
}

// RunStaleMappings sweeps stale active-set entries on a ticker until the
// context is cancelled. Sweep errors are logged and the loop continues.
func (rc *Reclaimer) RunStaleMappings(ctx context.Context, interval time.Duration) {
	logging.Info("Starting stale mapping cleaner", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rc.SweepStaleMappings(ctx); err != nil {
				logging.Error("Stale mapping sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepStaleMappings removes, for every backend, active-set entries whose
// score is at or below now-TTL, in a single pipelined call.
func (rc *Reclaimer) SweepStaleMappings(ctx context.Context) error {
	cutoff := rc.now().Add(-rc.mappingTTL).UnixMilli()

	zkeys := make([]string, len(rc.backends))
	for i, backend := range rc.backends {
		zkeys[i] = "backend:" + backend
	}

	removed, err := rc.store.ZRemRangeByScoreMulti(ctx, zkeys, 0, cutoff)
	if err != nil {
		return err
	}

	for i, backend := range rc.backends {
		count := removed[zkeys[i]]
		if count > 0 {
			logging.Info("Reclaimed stale mappings",
				zap.String("backend", backend),
				zap.Int64("count", count),
			)
		}
		if rc.collector != nil {
			rc.collector.RecordReclaimed(backend, count)
		}
	}
	return nil
}

// RunExpiredTokens sweeps the logout_tokens set on a ticker until the context
// is cancelled.
func (rc *Reclaimer) RunExpiredTokens(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rc.SweepExpiredTokens(ctx); err != nil {
				logging.Error("Expired token sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepExpiredTokens removes logout_tokens entries scored at or below the
// current time. Scores in this set are seconds, not milliseconds.
func (rc *Reclaimer) SweepExpiredTokens(ctx context.Context) error {
	_, err := rc.store.ZRemRangeByScore(ctx, logoutTokensKey, 0, rc.now().Unix())
	return err
}
