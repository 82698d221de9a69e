// Package pool is the worker harness: it spawns station runtimes from
// template tasks, multiplexes them across a bounded set of workers and posts
// lifecycle events upstream.
package pool

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/evfleet/ocppsim/internal/atg"
	"github.com/evfleet/ocppsim/internal/broadcast"
	v16 "github.com/evfleet/ocppsim/internal/ocpp/v16"
	v201 "github.com/evfleet/ocppsim/internal/ocpp/v201"
	"github.com/evfleet/ocppsim/internal/station"
	"github.com/evfleet/ocppsim/internal/template"
)

// Mode selects how tasks map onto workers.
type Mode string

const (
	// ModeNone runs every station on its own goroutine.
	ModeNone Mode = "none"
	// ModeDynamicPool grows the worker set between MinSize and MaxSize with
	// the task backlog.
	ModeDynamicPool Mode = "dynamicPool"
	// ModeStaticPool starts MaxSize workers up front.
	ModeStaticPool Mode = "staticPool"
)

// EventKind tags a lifecycle event posted by a worker.
type EventKind string

const (
	EventAdded                 EventKind = "added"
	EventStarted               EventKind = "started"
	EventStopped               EventKind = "stopped"
	EventUpdated               EventKind = "updated"
	EventPerformanceStatistics EventKind = "performanceStatistics"
	EventElementError          EventKind = "elementError"
)

// known reports whether an event kind is part of the lifecycle contract.
// Anything else is a fatal harness bug.
func (k EventKind) known() bool {
	switch k {
	case EventAdded, EventStarted, EventStopped, EventUpdated,
		EventPerformanceStatistics, EventElementError:
		return true
	}
	return false
}

// Event is one lifecycle notification with the station's serialized snapshot.
type Event struct {
	Kind    EventKind
	Station Snapshot
	Err     error
}

// Snapshot is the serialized station view carried by events and the ops
// server.
type Snapshot struct {
	ID              string                `json:"id"`
	HashID          string                `json:"hashId"`
	TemplateFile    string                `json:"templateFile"`
	OCPPVersion     string                `json:"ocppVersion"`
	ConnectionState string                `json:"connectionState"`
	Registration    string                `json:"registrationStatus,omitempty"`
	Connectors      []station.Connector   `json:"connectors,omitempty"`
	ATG             station.ATGStatistics `json:"automaticTransactionGenerator"`
}

// Task instructs a worker to build one station.
type Task struct {
	Index        int
	TemplateFile string
}

// Config shapes the pool.
type Config struct {
	Mode    Mode
	MinSize int
	MaxSize int
	// StartDelay spaces worker startup; AddDelay spaces station construction
	// within a worker.
	StartDelay time.Duration
	AddDelay   time.Duration

	// Station carries the per-station harness settings; Index is overridden
	// per task.
	Station station.Config
}

// element is one running station with its generator and control listener.
type element struct {
	st       *station.Station
	gen      *atg.Generator
	listener *broadcast.Listener
	task     Task
}

// Pool spawns and tracks station runtimes.
type Pool struct {
	cfg    Config
	deps   station.Deps
	bus    *broadcast.Bus
	logger *slog.Logger

	tasks  chan Task
	events chan Event

	mu       sync.Mutex
	elements map[string]*element
	workers  int
	closed   bool

	wg sync.WaitGroup
}

// New builds a pool. The bus may be nil when no control plane is wanted.
func New(cfg Config, deps station.Deps, bus *broadcast.Bus) *Pool {
	if cfg.Mode == "" {
		cfg.Mode = ModeNone
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = 1
	}
	if cfg.MaxSize < cfg.MinSize {
		cfg.MaxSize = cfg.MinSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg:      cfg,
		deps:     deps,
		bus:      bus,
		logger:   logger.With("component", "pool"),
		tasks:    make(chan Task, 256),
		events:   make(chan Event, 256),
		elements: make(map[string]*element),
	}
}

// Events is the lifecycle stream. The harness must drain it.
func (p *Pool) Events() <-chan Event { return p.events }

// Start brings up the worker set for the configured mode.
func (p *Pool) Start() {
	switch p.cfg.Mode {
	case ModeStaticPool:
		for i := 0; i < p.cfg.MaxSize; i++ {
			p.spawnWorker()
			time.Sleep(p.cfg.StartDelay)
		}
	case ModeDynamicPool:
		for i := 0; i < p.cfg.MinSize; i++ {
			p.spawnWorker()
			time.Sleep(p.cfg.StartDelay)
		}
	}
}

// Add enqueues one station task. In ModeNone the task gets a dedicated
// goroutine; pool modes queue it for the workers, growing a dynamic pool when
// the backlog calls for it.
func (p *Pool) Add(task Task) {
	if p.cfg.Mode == ModeNone {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runTask(task)
		}()
		return
	}

	if p.cfg.Mode == ModeDynamicPool {
		p.mu.Lock()
		if p.workers < p.cfg.MaxSize && len(p.tasks) > 0 {
			p.mu.Unlock()
			p.spawnWorker()
		} else {
			p.mu.Unlock()
		}
	}
	p.tasks <- task
}

func (p *Pool) spawnWorker() {
	p.mu.Lock()
	p.workers++
	n := p.workers
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.logger.Debug("worker started", "worker", n)
		for task := range p.tasks {
			p.runTask(task)
			time.Sleep(p.cfg.AddDelay)
		}
	}()
}

// runTask builds and starts one station, posting lifecycle events.
func (p *Pool) runTask(task Task) {
	el, err := p.buildElement(task)
	if err != nil {
		p.post(Event{Kind: EventElementError, Station: Snapshot{TemplateFile: task.TemplateFile}, Err: err})
		return
	}
	p.post(Event{Kind: EventAdded, Station: p.snapshot(el)})

	if el.listener != nil {
		el.listener.Start()
	}
	if err := el.st.Start(); err != nil {
		// The transport keeps retrying per its policy; the station is up.
		p.logger.Warn("station initial connect failed",
			"station", el.st.Identity().Name, "error", err)
	}
	p.post(Event{Kind: EventStarted, Station: p.snapshot(el)})
}

func (p *Pool) buildElement(task Task) (*element, error) {
	tpl, err := template.Load(task.TemplateFile, p.logger)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", task.TemplateFile, err)
	}

	stationCfg := p.cfg.Station
	stationCfg.Index = task.Index

	st, err := station.New(tpl, stationCfg, p.deps, bindFor(tpl.OCPPVersion))
	if err != nil {
		return nil, fmt.Errorf("station %s #%d: %w", tpl.BaseName, task.Index, err)
	}

	el := &element{
		st:   st,
		gen:  atg.New(st),
		task: task,
	}
	if p.bus != nil {
		el.listener = broadcast.NewListener(p.bus, st, el.gen)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		st.Shutdown()
		return nil, fmt.Errorf("pool is stopped")
	}
	p.elements[st.Identity().HashID] = el
	p.mu.Unlock()
	return el, nil
}

// bindFor picks the protocol binding from the template version.
func bindFor(v template.Version) station.BindFunc {
	if v == template.Version201 {
		return v201.Bind
	}
	return v16.Bind
}

// post delivers an event, dropping it when the harness is not draining. An
// unknown kind is a programming error and panics the worker.
func (p *Pool) post(ev Event) {
	if !ev.Kind.known() {
		panic(fmt.Sprintf("pool: unknown lifecycle event %q", ev.Kind))
	}
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("lifecycle event dropped", "kind", ev.Kind, "station", ev.Station.ID)
	}
}

func (p *Pool) snapshot(el *element) Snapshot {
	st := el.st
	snap := Snapshot{
		ID:              st.Identity().Name,
		HashID:          st.Identity().HashID,
		TemplateFile:    el.task.TemplateFile,
		OCPPVersion:     string(st.Version()),
		ConnectionState: st.ConnectionState().String(),
		Registration:    string(st.Registration()),
		ATG:             st.ATGStats(),
	}
	for _, id := range st.ConnectorIDs() {
		if c, ok := st.ConnectorSnapshot(id); ok {
			snap.Connectors = append(snap.Connectors, c)
		}
	}
	return snap
}

// Snapshots returns the current view of every tracked station, sorted by id.
func (p *Pool) Snapshots() []Snapshot {
	p.mu.Lock()
	els := make([]*element, 0, len(p.elements))
	for _, el := range p.elements {
		els = append(els, el)
	}
	p.mu.Unlock()

	out := make([]Snapshot, 0, len(els))
	for _, el := range els {
		out = append(out, p.snapshot(el))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Station looks a tracked station up by hashId.
func (p *Pool) Station(hashID string) (*station.Station, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[hashID]
	if !ok {
		return nil, false
	}
	return el.st, true
}

// Size reports how many stations the pool tracks.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.elements)
}

// Stop shuts every station down and waits for the workers to drain.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	els := make([]*element, 0, len(p.elements))
	for _, el := range p.elements {
		els = append(els, el)
	}
	p.mu.Unlock()

	close(p.tasks)
	p.wg.Wait()

	for _, el := range els {
		if el.listener != nil {
			el.listener.Stop()
		}
		el.st.Stop("PowerLoss")
		el.st.Shutdown()
		p.post(Event{Kind: EventStopped, Station: p.snapshot(el)})
	}
	close(p.events)
}
