// Package atg drives randomized charging sessions on a station: per connector
// it starts a transaction after a random delay, holds it for a random
// duration, then stops it, until told to stop.
package atg

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/evfleet/ocppsim/internal/auth"
	"github.com/evfleet/ocppsim/internal/ocppj"
	"github.com/evfleet/ocppsim/internal/station"
	"github.com/evfleet/ocppsim/internal/template"
	"github.com/evfleet/ocppsim/internal/transport"
)

// Generator runs one transaction loop per enabled connector.
type Generator struct {
	st     *station.Station
	cfg    template.ATGConfig
	logger *slog.Logger

	mu        sync.Mutex
	loops     map[int]chan struct{}
	wg        sync.WaitGroup
	startedAt time.Time
}

// New builds a generator from the station's template policy and registers it
// on the station lifecycle, so a station start/stop carries the generator
// along.
func New(st *station.Station) *Generator {
	g := &Generator{
		st:     st,
		logger: st.Logger().With("component", "atg"),
		loops:  make(map[int]chan struct{}),
	}
	if atg := st.Template().ATG; atg != nil {
		g.cfg = *atg
	}
	if g.cfg.Enable {
		st.OnATGLifecycle(func() { g.Start() }, func() { g.Stop() })
	}
	return g
}

// Enabled reports whether the template turns the generator on.
func (g *Generator) Enabled() bool { return g.cfg.Enable }

// Running reports whether any connector loop is active.
func (g *Generator) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.loops) > 0
}

// Start launches loops for the given connectors, or for every connector when
// none are named. Already-running loops are left alone.
func (g *Generator) Start(connectorIDs ...int) {
	if len(connectorIDs) == 0 {
		connectorIDs = g.st.ConnectorIDs()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.startedAt.IsZero() {
		g.startedAt = time.Now()
	}
	for _, id := range connectorIDs {
		if id == 0 && !g.cfg.EnableConnectorZero {
			continue
		}
		if _, running := g.loops[id]; running {
			continue
		}
		stop := make(chan struct{})
		g.loops[id] = stop
		g.wg.Add(1)
		go g.run(id, stop)
	}
}

// Stop terminates the named connector loops, or all of them, and waits for
// in-flight transactions to wind down.
func (g *Generator) Stop(connectorIDs ...int) {
	g.mu.Lock()
	if len(connectorIDs) == 0 {
		for id := range g.loops {
			connectorIDs = append(connectorIDs, id)
		}
	}
	for _, id := range connectorIDs {
		if stop, ok := g.loops[id]; ok {
			close(stop)
			delete(g.loops, id)
		}
	}
	stopped := len(g.loops) == 0
	if stopped {
		g.startedAt = time.Time{}
	}
	g.mu.Unlock()
	if stopped {
		g.wg.Wait()
	}
}

func (g *Generator) run(connectorID int, stop <-chan struct{}) {
	defer g.wg.Done()
	logger := g.logger.With("connectorId", connectorID)
	logger.Info("transaction generator started")
	defer logger.Info("transaction generator stopped")

	for {
		delay := randSeconds(g.cfg.MinDelayBetweenTwoTransactions, g.cfg.MaxDelayBetweenTwoTransactions)
		if !sleep(stop, delay) {
			return
		}
		if g.expired() {
			logger.Info("generator run time exhausted", "after", g.cfg.StopAfterHours)
			g.remove(connectorID)
			return
		}
		if g.cfg.StopOnConnectionFailure && g.st.ConnectionState() != transport.StateOpen {
			logger.Warn("connection lost, stopping generator")
			g.remove(connectorID)
			return
		}

		if g.cfg.ProbabilityOfStart > 0 && rand.Float64() > g.cfg.ProbabilityOfStart {
			g.st.UpdateATGStats(func(s *station.ATGStatistics) { s.SkippedTransactions++ })
			continue
		}

		idTag := g.pickTag(connectorID)
		if g.cfg.RequireAuthorize && idTag != "" {
			res := g.st.Authorize(context.Background(),
				auth.Identifier{Value: idTag, Type: auth.TokenIDTag},
				auth.ContextTransactionStart, connectorID)
			if res.Status != auth.StatusAccepted {
				logger.Info("tag not authorized", "idTag", idTag, "status", res.Status)
				g.st.UpdateATGStats(func(s *station.ATGStatistics) { s.RejectedStarts++ })
				continue
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), ocppj.DefaultRequestTimeout)
		err := g.st.StartTransaction(ctx, connectorID, idTag, false)
		cancel()
		if err != nil {
			logger.Warn("start transaction failed", "error", err)
			g.st.UpdateATGStats(func(s *station.ATGStatistics) { s.RejectedStarts++ })
			continue
		}
		g.st.UpdateATGStats(func(s *station.ATGStatistics) { s.StartedTransactions++ })

		duration := randSeconds(g.cfg.MinDuration, g.cfg.MaxDuration)
		sleep(stop, duration)

		ctx, cancel = context.WithTimeout(context.Background(), ocppj.DefaultRequestTimeout)
		err = g.st.StopTransaction(ctx, connectorID, "Local")
		cancel()
		if err != nil {
			logger.Warn("stop transaction failed", "error", err)
		} else {
			g.st.UpdateATGStats(func(s *station.ATGStatistics) { s.StoppedTransactions++ })
		}

		select {
		case <-stop:
			return
		default:
		}
	}
}

// pickTag draws the next idTag, occasionally substituting an unauthorized one
// per the configured probability.
func (g *Generator) pickTag(connectorID int) string {
	if g.cfg.ProbabilityOfNonAuthorizedTag > 0 && rand.Float64() < g.cfg.ProbabilityOfNonAuthorizedTag {
		return fmt.Sprintf("INVALID-%06d", rand.Intn(1000000))
	}
	tag, ok := g.st.NextIDTag(connectorID)
	if !ok {
		return ""
	}
	return tag
}

// expired reports whether the absolute run budget is used up.
func (g *Generator) expired() bool {
	if !g.cfg.StopAbsoluteDuration || g.cfg.StopAfterHours <= 0 {
		return false
	}
	g.mu.Lock()
	startedAt := g.startedAt
	g.mu.Unlock()
	return time.Since(startedAt) > time.Duration(g.cfg.StopAfterHours*float64(time.Hour))
}

// remove drops a finished loop from the table without closing its channel.
func (g *Generator) remove(connectorID int) {
	g.mu.Lock()
	delete(g.loops, connectorID)
	g.mu.Unlock()
}

// sleep waits for d or until stop closes; it reports false on stop. A
// non-positive duration yields immediately so loops with zero delays still
// observe the stop channel.
func sleep(stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}

func randSeconds(minSec, maxSec int) time.Duration {
	if maxSec <= minSec {
		return time.Duration(minSec) * time.Second
	}
	return time.Duration(minSec)*time.Second +
		time.Duration(rand.Int63n(int64(maxSec-minSec)*int64(time.Second)))
}
