package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Collector tracks router metrics for Prometheus-compatible export
type Collector struct {
	mu sync.RWMutex

	// Request metrics
	requestsTotal    map[string]int64          // key: path|method|status
	requestDurations map[string]*HistogramData // key: path

	// Routing metrics
	assignmentsTotal   map[string]int64 // key: backend, new assignments via selection
	stickyHitsTotal    map[string]int64 // key: backend, forward-mapping reuse
	assignmentFailures int64            // saturation or store errors

	// Reclamation
	reclaimedTotal map[string]int64 // key: backend

	// Backend health from /health probes: 0=down, 1=up
	backendHealth map[string]int // key: backend
}

// HistogramData stores histogram-like data for durations
type HistogramData struct {
	Count   int64
	Sum     float64
	Buckets map[float64]int64 // upper bound -> count
}

// DefaultBuckets are default histogram buckets in seconds
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		requestsTotal:    make(map[string]int64),
		requestDurations: make(map[string]*HistogramData),
		assignmentsTotal: make(map[string]int64),
		stickyHitsTotal:  make(map[string]int64),
		reclaimedTotal:   make(map[string]int64),
		backendHealth:    make(map[string]int),
	}
}

// RecordRequest records a completed request
func (c *Collector) RecordRequest(path, method string, statusCode int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := path + "|" + method + "|" + strconv.Itoa(statusCode)
	c.requestsTotal[key]++

	hd, ok := c.requestDurations[path]
	if !ok {
		hd = &HistogramData{
			Buckets: make(map[float64]int64),
		}
		for _, b := range DefaultBuckets {
			hd.Buckets[b] = 0
		}
		c.requestDurations[path] = hd
	}

	secs := duration.Seconds()
	hd.Count++
	hd.Sum += secs
	for _, bound := range DefaultBuckets {
		if secs <= bound {
			hd.Buckets[bound]++
		}
	}
}

// RecordAssignment records a fresh backend assignment via selection
func (c *Collector) RecordAssignment(backend string) {
	c.mu.Lock()
	c.assignmentsTotal[backend]++
	c.mu.Unlock()
}

// RecordStickyHit records a request routed by an existing forward mapping
func (c *Collector) RecordStickyHit(backend string) {
	c.mu.Lock()
	c.stickyHitsTotal[backend]++
	c.mu.Unlock()
}

// RecordAssignmentFailure records a failed assignment (saturation or store error)
func (c *Collector) RecordAssignmentFailure() {
	c.mu.Lock()
	c.assignmentFailures++
	c.mu.Unlock()
}

// RecordReclaimed records active-set entries removed by the stale-mapping cleaner
func (c *Collector) RecordReclaimed(backend string, count int64) {
	if count == 0 {
		return
	}
	c.mu.Lock()
	c.reclaimedTotal[backend] += count
	c.mu.Unlock()
}

// SetBackendHealth sets the probed health status of a backend
func (c *Collector) SetBackendHealth(backend string, healthy bool) {
	c.mu.Lock()
	if healthy {
		c.backendHealth[backend] = 1
	} else {
		c.backendHealth[backend] = 0
	}
	c.mu.Unlock()
}

// WritePrometheus writes metrics in Prometheus text exposition format
func (c *Collector) WritePrometheus(w http.ResponseWriter) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeHelp(w, "router_requests_total", "Total number of requests", "counter")
	for key, count := range c.requestsTotal {
		parts := splitKey(key, 3)
		if len(parts) == 3 {
			writeMetric(w, "router_requests_total", count,
				"path", parts[0], "method", parts[1], "status", parts[2])
		}
	}

	writeHelp(w, "router_request_duration_seconds", "Request duration in seconds", "histogram")
	for path, hd := range c.requestDurations {
		for _, bound := range DefaultBuckets {
			cnt := hd.Buckets[bound]
			writeMetricFloat(w, "router_request_duration_seconds_bucket", float64(cnt),
				"path", path, "le", strconv.FormatFloat(bound, 'f', -1, 64))
		}
		writeMetricFloat(w, "router_request_duration_seconds_bucket", float64(hd.Count),
			"path", path, "le", "+Inf")
		writeMetricFloat(w, "router_request_duration_seconds_sum", hd.Sum,
			"path", path)
		writeMetric(w, "router_request_duration_seconds_count", hd.Count,
			"path", path)
	}

	writeHelp(w, "router_assignments_total", "Backend assignments via least-loaded selection", "counter")
	for backend, count := range c.assignmentsTotal {
		writeMetric(w, "router_assignments_total", count, "backend", backend)
	}

	writeHelp(w, "router_sticky_hits_total", "Requests routed by an existing client mapping", "counter")
	for backend, count := range c.stickyHitsTotal {
		writeMetric(w, "router_sticky_hits_total", count, "backend", backend)
	}

	writeHelp(w, "router_assignment_failures_total", "Failed backend assignments", "counter")
	writeMetric(w, "router_assignment_failures_total", c.assignmentFailures)

	writeHelp(w, "router_reclaimed_mappings_total", "Stale active-set entries reclaimed", "counter")
	for backend, count := range c.reclaimedTotal {
		writeMetric(w, "router_reclaimed_mappings_total", count, "backend", backend)
	}

	writeHelp(w, "router_backend_health", "Backend health from /health probes (0=down, 1=up)", "gauge")
	for backend, health := range c.backendHealth {
		writeMetric(w, "router_backend_health", int64(health), "backend", backend)
	}
}

func writeHelp(w http.ResponseWriter, name, help, metricType string) {
	w.Write([]byte("# HELP " + name + " " + help + "\n"))
	w.Write([]byte("# TYPE " + name + " " + metricType + "\n"))
}

func writeMetric(w http.ResponseWriter, name string, value int64, labels ...string) {
	line := name + formatLabels(labels) + " " + strconv.FormatInt(value, 10) + "\n"
	w.Write([]byte(line))
}

func writeMetricFloat(w http.ResponseWriter, name string, value float64, labels ...string) {
	line := name + formatLabels(labels) + " " + strconv.FormatFloat(value, 'f', -1, 64) + "\n"
	w.Write([]byte(line))
}

func formatLabels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	result := "{"
	for i := 0; i < len(labels)-1; i += 2 {
		if i > 0 {
			result += ","
		}
		result += labels[i] + "=\"" + labels[i+1] + "\""
	}
	return result + "}"
}

func splitKey(key string, n int) []string {
	parts := make([]string, 0, n)
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			parts = append(parts, key[start:i])
			start = i + 1
			if len(parts) == n-1 {
				parts = append(parts, key[start:])
				return parts
			}
		}
	}
	if start < len(key) {
		parts = append(parts, key[start:])
	}
	return parts
}
