// Package stats is the performance sink: it observes every protocol
// round-trip, keeps per-command timing statistics, exposes Prometheus metrics
// and optionally ships snapshots to a storage backend.
package stats

import (
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// reservoirSize bounds the per-command sample reservoir the percentiles are
// computed from.
const reservoirSize = 1024

// Config selects the sink behavior.
type Config struct {
	// LogInterval is the period between statistics log dumps and storage
	// flushes; 0 disables the background loop.
	LogInterval time.Duration
	// StorageType is one of "none", "jsonfile", "redis".
	StorageType string
	StorageURI  string
}

// CommandStats is the aggregated view of one command's round-trips.
type CommandStats struct {
	Action string  `json:"action"`
	Count  int64   `json:"count"`
	Errors int64   `json:"errors"`
	MinMs  float64 `json:"minTimeMeasurement"`
	MaxMs  float64 `json:"maxTimeMeasurement"`
	MeanMs float64 `json:"avgTimeMeasurement"`
	P50Ms  float64 `json:"medTimeMeasurement"`
	P90Ms  float64 `json:"ninetyPercentileTimeMeasurement"`
	P95Ms  float64 `json:"ninetyFivePercentileTimeMeasurement"`
	P99Ms  float64 `json:"ninetyNinePercentileTimeMeasurement"`
}

type commandStats struct {
	count  int64
	errors int64
	min    float64
	max    float64
	sum    float64

	// samples is a uniform reservoir over all observations.
	samples []float64
	seen    int64
}

// Sink aggregates round-trip measurements. It implements the station
// Recorder contract and is shared by every station in the process.
type Sink struct {
	logger *slog.Logger

	mu       sync.Mutex
	commands map[string]*commandStats

	storage backend

	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// New builds a sink. A redis storage backend is dialed and pinged here, so a
// dead backend surfaces as a construction error.
func New(cfg Config, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{
		logger:   logger.With("component", "stats"),
		commands: make(map[string]*commandStats),
		registry: prometheus.NewRegistry(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ocppsim_requests_total",
		Help: "Protocol round-trips by command and outcome.",
	}, []string{"action", "outcome"})
	s.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ocppsim_request_duration_seconds",
		Help:    "Protocol round-trip latency by command.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})
	s.registry.MustRegister(s.requests, s.latency)

	storage, err := newBackend(cfg.StorageType, cfg.StorageURI)
	if err != nil {
		return nil, err
	}
	s.storage = storage

	if cfg.LogInterval > 0 {
		go s.run(cfg.LogInterval)
	} else {
		close(s.done)
	}
	return s, nil
}

// RecordRequest observes one round-trip.
func (s *Sink) RecordRequest(action string, elapsed time.Duration, err error) {
	ms := float64(elapsed) / float64(time.Millisecond)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.requests.WithLabelValues(action, outcome).Inc()
	s.latency.WithLabelValues(action).Observe(elapsed.Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.commands[action]
	if !ok {
		cs = &commandStats{min: math.MaxFloat64}
		s.commands[action] = cs
	}
	cs.count++
	if err != nil {
		cs.errors++
	}
	cs.sum += ms
	if ms < cs.min {
		cs.min = ms
	}
	if ms > cs.max {
		cs.max = ms
	}

	cs.seen++
	if len(cs.samples) < reservoirSize {
		cs.samples = append(cs.samples, ms)
	} else if idx := rand.Int63n(cs.seen); idx < reservoirSize {
		cs.samples[idx] = ms
	}
}

// Snapshot returns the aggregated statistics sorted by action name.
func (s *Sink) Snapshot() []CommandStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CommandStats, 0, len(s.commands))
	for action, cs := range s.commands {
		sorted := append([]float64(nil), cs.samples...)
		sort.Float64s(sorted)
		out = append(out, CommandStats{
			Action: action,
			Count:  cs.count,
			Errors: cs.errors,
			MinMs:  cs.min,
			MaxMs:  cs.max,
			MeanMs: cs.sum / float64(cs.count),
			P50Ms:  percentile(sorted, 50),
			P90Ms:  percentile(sorted, 90),
			P95Ms:  percentile(sorted, 95),
			P99Ms:  percentile(sorted, 99),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}

// Registry exposes the sink's Prometheus registry for the ops server.
func (s *Sink) Registry() *prometheus.Registry { return s.registry }

func (s *Sink) run(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.stop:
			s.flush()
			return
		}
	}
}

// flush logs the current snapshot and hands it to the storage backend.
func (s *Sink) flush() {
	snap := s.Snapshot()
	for _, cs := range snap {
		s.logger.Info("command statistics",
			"action", cs.Action,
			"count", cs.Count,
			"errors", cs.Errors,
			"minMs", round2(cs.MinMs),
			"maxMs", round2(cs.MaxMs),
			"meanMs", round2(cs.MeanMs),
			"p50Ms", round2(cs.P50Ms),
			"p90Ms", round2(cs.P90Ms),
			"p95Ms", round2(cs.P95Ms),
			"p99Ms", round2(cs.P99Ms))
	}
	if len(snap) == 0 {
		return
	}
	if err := s.storage.store(snap); err != nil {
		s.logger.Warn("statistics storage write failed", "error", err)
	}
}

// Close stops the background loop and closes the storage backend.
func (s *Sink) Close() {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
		if err := s.storage.close(); err != nil {
			s.logger.Warn("statistics storage close failed", "error", err)
		}
	})
}

// percentile is the nearest-rank percentile over an ascending sample slice.
func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(float64(p) / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
