// Package proxy implements the router's HTTP surface: session start/stop
// forwarding with response augmentation, backend liveness probing, and the
// background reclamation workers.
package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/agentrouter/internal/errors"
	"github.com/wudi/agentrouter/internal/logging"
	"github.com/wudi/agentrouter/internal/metrics"
	"github.com/wudi/agentrouter/internal/routing"
)

// backendPort is the fixed port every backend listens on.
const backendPort = "8080"

const upstreamTimeout = 30 * time.Second

const probeTimeout = 5 * time.Second

// Handler serves the routed endpoints.
type Handler struct {
	routing   *routing.Manager
	collector *metrics.Collector

	upstream *http.Client
	probe    *http.Client

	// port is backendPort except in tests, which point it at a stub server.
	port string
}

// NewHandler creates the request handlers over the given routing manager.
func NewHandler(rt *routing.Manager, collector *metrics.Collector) *Handler {
	return &Handler{
		routing:   rt,
		collector: collector,
		upstream:  &http.Client{Timeout: upstreamTimeout},
		probe:     &http.Client{Timeout: probeTimeout},
		port:      backendPort,
	}
}

// Start handles POST /start_agent: validate, pick a backend, forward, augment
// the upstream response with the client identifier, and record the mapping on
// upstream success.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAgentRequest(w, r, "/start_agent")
	if !ok {
		return
	}

	clientID := routing.ClientIDFromRequest(r)

	backend, err := h.routing.GetOrAssignBackend(r.Context(), clientID)
	if err != nil {
		logging.Error("Failed to get or assign backend for /start_agent",
			zap.String("clientID", clientID),
			zap.Error(err),
		)
		errors.ErrAssignBackend.WithDetails(err.Error()).WriteJSON(w)
		return
	}

	status, ok := h.forward(w, r, req, backend, "/start_agent", clientID)
	if !ok {
		return
	}

	if status >= 200 && status < 300 {
		if err := h.routing.RecordActiveRequest(r.Context(), backend, clientID); err != nil {
			// The caller already has a success response; the reclaimer and
			// TTL bound the damage of a missing record.
			logging.Error("Failed to record active request",
				zap.String("backend", backend),
				zap.String("clientID", clientID),
				zap.Error(err),
			)
		}
	}
}

// Stop handles POST /stop_agent: route by the existing mapping, forward, and
// clear the active-set entry on upstream success. A client with no mapping is
// a lookup error, not a 404.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAgentRequest(w, r, "/stop_agent")
	if !ok {
		return
	}

	clientID := routing.ClientIDFromRequest(r)

	backend, err := h.routing.ClientBackend(r.Context(), clientID)
	if err != nil {
		logging.Error("Failed to get client backend for /stop_agent",
			zap.String("clientID", clientID),
			zap.Error(err),
		)
		errors.ErrRetrieveBackend.WithDetails(err.Error()).WriteJSON(w)
		return
	}

	status, ok := h.forward(w, r, req, backend, "/stop_agent", clientID)
	if !ok {
		return
	}

	if status >= 200 && status < 300 {
		if err := h.routing.ClearActiveRequest(r.Context(), backend, clientID); err != nil {
			logging.Error("Failed to clear active request",
				zap.String("backend", backend),
				zap.String("clientID", clientID),
				zap.Error(err),
			)
		}
	}
}

// Health handles GET /health: probe every backend concurrently and report a
// status line or error per backend. Probe results feed the health gauge but
// never routing decisions.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	backends := h.routing.Backends()
	results := make(map[string]string, len(backends))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(r.Context())
	for _, backend := range backends {
		g.Go(func() error {
			url := "http://" + backend + ":" + h.port + "/start_agent"
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				mu.Lock()
				results[backend] = "Error: " + err.Error()
				mu.Unlock()
				return nil
			}

			resp, err := h.probe.Do(req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[backend] = "Error: " + err.Error()
				if h.collector != nil {
					h.collector.SetBackendHealth(backend, false)
				}
				return nil
			}
			resp.Body.Close()
			results[backend] = "Status: " + resp.Status
			if h.collector != nil {
				h.collector.SetBackendHealth(backend, true)
			}
			return nil
		})
	}
	g.Wait()

	writeJSON(w, http.StatusOK, results)
}

// Ping handles GET /ping.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

// decodeAgentRequest parses and validates the request body, writing the 400
// response itself on failure.
func (h *Handler) decodeAgentRequest(w http.ResponseWriter, r *http.Request, path string) (AgentRequest, bool) {
	var req AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logging.Warn("Failed to parse request body",
			zap.String("path", path),
			zap.Error(err),
		)
		errors.ErrInvalidBody.WriteJSON(w)
		return req, false
	}

	if err := req.Validate(); err != nil {
		logging.Warn("Failed to validate request body",
			zap.String("path", path),
			zap.Error(err),
		)
		errors.New(http.StatusBadRequest, err.Error()).WriteJSON(w)
		return req, false
	}

	return req, true
}

// forward re-serializes the validated body, posts it to the backend with the
// inbound request's context, parses the upstream JSON object, injects the
// clientID, and relays it with the upstream status. Returns the upstream
// status and whether the response was written successfully.
func (h *Handler) forward(w http.ResponseWriter, r *http.Request, req AgentRequest, backend, path, clientID string) (int, bool) {
	url := "http://" + backend + ":" + h.port + path
	body, _ := json.Marshal(req)

	backendReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		logging.Error("Failed to create upstream request",
			zap.String("url", url),
			zap.Error(err),
		)
		errors.ErrCreateRequest.WithDetails(err.Error()).WriteJSON(w)
		return 0, false
	}
	backendReq.Header.Set("Content-Type", "application/json")

	resp, err := h.upstream.Do(backendReq)
	if err != nil {
		logging.Error("Failed to reach backend",
			zap.String("url", url),
			zap.String("clientID", clientID),
			zap.Error(err),
		)
		errors.ErrReachBackend.WithDetails(err.Error()).WriteJSON(w)
		return 0, false
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		logging.Error("Failed to read upstream response body",
			zap.String("url", url),
			zap.Error(err),
		)
		errors.ErrReadResponseBody.WithDetails(err.Error()).WriteJSON(w)
		return 0, false
	}

	var responseData map[string]interface{}
	if err := json.Unmarshal(respBody, &responseData); err != nil {
		logging.Error("Failed to parse upstream response body",
			zap.String("url", url),
			zap.Error(err),
		)
		errors.ErrParseResponseBody.WithDetails(err.Error()).WriteJSON(w)
		return 0, false
	}

	responseData["clientID"] = clientID
	writeJSON(w, resp.StatusCode, responseData)

	logging.Info("Upstream request completed",
		zap.String("url", url),
		zap.String("clientID", clientID),
		zap.Int("status", resp.StatusCode),
	)
	return resp.StatusCode, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
