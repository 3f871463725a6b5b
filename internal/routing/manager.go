// Package routing implements the shared routing state: the client→backend
// forward mapping and each backend's active set in the coordination store.
package routing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wudi/agentrouter/internal/logging"
	"github.com/wudi/agentrouter/internal/metrics"
	"github.com/wudi/agentrouter/internal/store"
)

// ErrNoAvailableBackend is returned when every backend's live count has
// reached the soft cap.
var ErrNoAvailableBackend = errors.New("no available backend found")

// ClientIDHeader carries the caller's session identifier.
const ClientIDHeader = "X-Client-ID"

// Manager performs the data-model operations on the coordination store.
// It holds no per-client state; replicas sharing a store behave identically.
type Manager struct {
	store         store.Store
	backends      []string
	maxPerBackend int
	mappingTTL    time.Duration
	collector     *metrics.Collector

	// now is stubbed in tests.
	now func() time.Time
}

// NewManager creates a routing state manager over the given store.
// backends is the static backend set in selection order.
func NewManager(st store.Store, backends []string, maxPerBackend int, mappingTTL time.Duration, collector *metrics.Collector) *Manager {
	return &Manager{
		store:         st,
		backends:      backends,
		maxPerBackend: maxPerBackend,
		mappingTTL:    mappingTTL,
		collector:     collector,
		now:           time.Now,
	}
}

// Backends returns the configured backend set.
func (m *Manager) Backends() []string {
	return m.backends
}

func clientKey(clientID string) string {
	return "client:" + clientID
}

func backendKey(addr string) string {
	return "backend:" + addr
}

// ClientIDFromRequest returns the X-Client-ID request header if present, or
// mints a fresh UUID. The identifier is opaque and echoed back to the caller.
func ClientIDFromRequest(r *http.Request) string {
	clientID := r.Header.Get(ClientIDHeader)
	if clientID == "" {
		clientID = uuid.New().String()
	}
	return clientID
}

// GetOrAssignBackend returns the backend mapped to clientID, or selects the
// least-loaded backend when no mapping exists. Store errors other than a
// missing key surface to the caller.
func (m *Manager) GetOrAssignBackend(ctx context.Context, clientID string) (string, error) {
	backend, err := m.store.Get(ctx, clientKey(clientID))
	if err == nil {
		if m.collector != nil {
			m.collector.RecordStickyHit(backend)
		}
		return backend, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("error getting backend: %w", err)
	}

	backend, err = m.LeastLoadedBackend(ctx)
	if err != nil {
		if m.collector != nil {
			m.collector.RecordAssignmentFailure()
		}
		return "", fmt.Errorf("error getting least loaded backend: %w", err)
	}
	if m.collector != nil {
		m.collector.RecordAssignment(backend)
	}
	return backend, nil
}

// ClientBackend returns the backend mapped to clientID. A missing mapping is
// an error; this is the stop path, where unknown clients cannot be routed.
func (m *Manager) ClientBackend(ctx context.Context, clientID string) (string, error) {
	backend, err := m.store.Get(ctx, clientKey(clientID))
	if err != nil {
		return "", fmt.Errorf("error getting client backend: %w", err)
	}
	return backend, nil
}

// LeastLoadedBackend returns the first backend, in configured order, with the
// strictly smallest live count below the cap. Live counts are computed lazily
// from the active set's score range; stale entries are simply outside the
// window. A backend whose count cannot be read is skipped.
func (m *Manager) LeastLoadedBackend(ctx context.Context) (string, error) {
	var leastLoaded string
	minCount := int64(m.maxPerBackend)

	for _, backend := range m.backends {
		count, err := m.liveCount(ctx, backend)
		if err != nil {
			logging.Warn("Skipping backend with unreadable live count",
				zap.String("backend", backend),
				zap.Error(err),
			)
			continue
		}
		if count < minCount {
			minCount = count
			leastLoaded = backend
		}
	}

	if leastLoaded == "" {
		return "", ErrNoAvailableBackend
	}
	return leastLoaded, nil
}

// liveCount counts active-set entries within the liveness window
// [now-TTL, now], in milliseconds.
func (m *Manager) liveCount(ctx context.Context, backend string) (int64, error) {
	now := m.now()
	min := now.Add(-m.mappingTTL).UnixMilli()
	max := now.UnixMilli()
	return m.store.ZCount(ctx, backendKey(backend), min, max)
}

// RecordActiveRequest writes the forward mapping with the configured TTL and
// the active-set entry scored by the current time, in one pipelined call.
func (m *Manager) RecordActiveRequest(ctx context.Context, backend, clientID string) error {
	score := float64(m.now().UnixMilli())
	err := m.store.RecordPair(ctx,
		clientKey(clientID), backend, m.mappingTTL,
		backendKey(backend), clientID, score,
	)
	if err != nil {
		return fmt.Errorf("error recording active request: %w", err)
	}
	return nil
}

// ClearActiveRequest removes clientID from the backend's active set. The
// forward mapping is left to expire via its TTL.
func (m *Manager) ClearActiveRequest(ctx context.Context, backend, clientID string) error {
	if err := m.store.ZRem(ctx, backendKey(backend), clientID); err != nil {
		return fmt.Errorf("error clearing active request: %w", err)
	}
	return nil
}
