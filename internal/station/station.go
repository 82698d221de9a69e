// Package station implements the per-station OCPP runtime: identity,
// connector state machine, boot and heartbeat scheduling, transaction
// handling, meter sampling and state persistence. One Station owns one
// connection and one protocol binding; all connector and transaction state is
// mutated under the station lock.
package station

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evfleet/ocppsim/internal/auth"
	"github.com/evfleet/ocppsim/internal/configstore"
	"github.com/evfleet/ocppsim/internal/idtags"
	"github.com/evfleet/ocppsim/internal/ocpp"
	"github.com/evfleet/ocppsim/internal/ocppj"
	"github.com/evfleet/ocppsim/internal/profiles"
	"github.com/evfleet/ocppsim/internal/template"
	"github.com/evfleet/ocppsim/internal/transport"
)

// Errors returned by transaction operations.
var (
	ErrUnknownConnector     = errors.New("unknown connector")
	ErrTransactionActive    = errors.New("transaction already active on connector")
	ErrNoTransaction        = errors.New("no active transaction on connector")
	ErrConnectorUnavailable = errors.New("connector is not operative")
	ErrReserved             = errors.New("connector reserved for another idTag")
	ErrNotAccepted          = errors.New("transaction start not accepted")
	ErrOffline              = errors.New("not connected to central system")
)

// Recorder observes protocol round-trips; the performance sink implements it.
type Recorder interface {
	RecordRequest(action string, elapsed time.Duration, err error)
}

// Config is the harness-level station configuration that is not part of the
// template.
type Config struct {
	Index         int
	InstanceIndex int
	DataDir       string

	// SupervisionURLs is the harness fallback when the template has none.
	SupervisionURLs   []string
	DistributeEqually bool

	AutoReconnectMaxRetries int
	AutoReconnectTimeout    time.Duration
}

// Deps are the process-wide collaborators shared across stations.
type Deps struct {
	Logger    *slog.Logger
	Tags      *idtags.Cache
	AuthCache *auth.Cache
	Recorder  Recorder
}

// BindFunc constructs the protocol binding for a station. It runs during New,
// after identity and stores exist but before any network activity.
type BindFunc func(st *Station) (ocpp.Service, ocpp.Dispatcher)

// Station is one simulated charging station.
type Station struct {
	cfg    Config
	tpl    *template.Template
	logger *slog.Logger

	identity Identity
	version  ocpp.Version

	mu            sync.Mutex
	connectors    map[int]*Connector
	connectorIDs  []int
	evses         map[int]*EVSE
	registration  ocpp.RegistrationStatus
	started       bool
	activeTxCount int

	cfgStore  *configstore.Store
	localList *LocalList
	certs     *CertificateStore
	tags      *idtags.Cache
	authChain *auth.Chain
	recorder  Recorder

	// ocpp20Variables persists accepted 2.0.1 Sets keyed by
	// "Component.Variable[.instance]"; the device model owns the semantics.
	ocpp20Variables map[string]string

	correlator *ocppj.Correlator
	client     *transport.Client
	svc        ocpp.Service
	dispatcher ocpp.Dispatcher

	hbMu   sync.Mutex
	hbStop chan struct{}
	hbIntv time.Duration

	samplers map[int]chan struct{}

	offlineTxSeq atomic.Int64
	atgStats     ATGStatistics

	// Hooks let the transaction generator start and stop with the station
	// without a package dependency in either direction.
	startATG func()
	stopATG  func()

	lastFirmwareStatus    string
	lastDiagnosticsStatus string
}

// New builds a station from a loaded template. bind wires the 1.6 or 2.0.1
// protocol binding; the caller picks it from tpl.OCPPVersion.
func New(tpl *template.Template, cfg Config, deps Deps, bind BindFunc) (*Station, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(tpl.SupervisionURLs) == 0 && len(cfg.SupervisionURLs) == 0 {
		return nil, fmt.Errorf("station %s: no supervision URLs configured", tpl.BaseName)
	}

	s := &Station{
		cfg:                   cfg,
		tpl:                   tpl,
		version:               ocpp.Version(tpl.OCPPVersion),
		connectors:            make(map[int]*Connector),
		evses:                 make(map[int]*EVSE),
		cfgStore:              configstore.New(),
		localList:             NewLocalList(),
		certs:                 NewCertificateStore(),
		tags:                  deps.Tags,
		recorder:              deps.Recorder,
		ocpp20Variables:       make(map[string]string),
		samplers:              make(map[int]chan struct{}),
		lastFirmwareStatus:    "Idle",
		lastDiagnosticsStatus: "Idle",
	}
	if s.tags == nil {
		s.tags = idtags.Default()
	}

	var prev *Identity
	if cfg.DataDir != "" {
		// Identity probe: derive a candidate, look for persisted state.
		probe := NewIdentity(tpl, cfg.Index, cfg.InstanceIndex, nil)
		if st, err := LoadState(cfg.DataDir, probe.HashID); err != nil {
			logger.Warn("persisted station state unreadable", "station", probe.Name, "error", err)
		} else if st != nil {
			prev = &st.Info
			for _, k := range st.ConfigurationKey {
				s.cfgStore.Add(k)
			}
			for k, v := range st.OCPP20Variables {
				s.ocpp20Variables[k] = v
			}
			if st.ATG != nil {
				s.atgStats = *st.ATG
			}
		}
	}
	s.identity = NewIdentity(tpl, cfg.Index, cfg.InstanceIndex, prev)
	s.logger = logger.With("station", s.identity.Name)

	s.buildConnectors()
	s.seedConfiguration()

	s.correlator = ocppj.NewCorrelator(s.logger)
	s.client = transport.NewClient(transport.Config{
		SupervisionURLs:         s.supervisionURLs(),
		StationName:             s.identity.Name,
		Subprotocol:             s.version.Subprotocol(),
		StationIndex:            cfg.Index,
		DistributeEqually:       cfg.DistributeEqually,
		PingInterval:            s.pingInterval(),
		AutoReconnectMaxRetries: cfg.AutoReconnectMaxRetries,
		ReconnectBaseTimeout:    cfg.AutoReconnectTimeout,
	}, s.logger)
	s.client.OnOpen = s.onOpen
	s.client.OnMessage = s.handleMessage

	s.svc, s.dispatcher = bind(s)
	s.buildAuthChain(deps.AuthCache)

	s.cfgStore.OnChange(func(key, value string) { s.persistState() })
	return s, nil
}

func (s *Station) buildConnectors() {
	count := s.tpl.ConnectorCount(s.cfg.Index)

	// Connector 0 always exists as the station-wide pseudo-connector.
	s.connectors[0] = newConnector(0)

	specFor := func(id int) (template.ConnectorSpec, bool) {
		spec, ok := s.tpl.Connectors[strconv.Itoa(id)]
		return spec, ok
	}

	if len(s.tpl.Evses) > 0 {
		evseIDs := make([]int, 0, len(s.tpl.Evses))
		for key := range s.tpl.Evses {
			if id, err := strconv.Atoi(key); err == nil {
				evseIDs = append(evseIDs, id)
			}
		}
		sort.Ints(evseIDs)
		next := 1
		for _, evseID := range evseIDs {
			if evseID == 0 {
				continue
			}
			evse := &EVSE{ID: evseID, Availability: Operative}
			for range s.tpl.Evses[strconv.Itoa(evseID)].Connectors {
				c := newConnector(next)
				c.EVSEID = evseID
				s.applySpec(c, specFor)
				s.connectors[next] = c
				evse.ConnectorIDs = append(evse.ConnectorIDs, next)
				next++
			}
			s.evses[evseID] = evse
		}
	} else {
		for id := 1; id <= count; id++ {
			c := newConnector(id)
			s.applySpec(c, specFor)
			s.connectors[id] = c
		}
	}

	for id := range s.connectors {
		if id > 0 {
			s.connectorIDs = append(s.connectorIDs, id)
		}
	}
	sort.Ints(s.connectorIDs)
}

func (s *Station) applySpec(c *Connector, specFor func(int) (template.ConnectorSpec, bool)) {
	spec, ok := specFor(c.ID)
	if !ok {
		c.Phases = s.tpl.NumberOfPhases
		c.Measurands = []string{MeasurandEnergyActiveImport}
		return
	}
	if spec.BootStatus != "" {
		c.BootStatus = Status(spec.BootStatus)
		c.Status = c.BootStatus
	}
	c.MeterType = spec.MeterType
	c.MaxAmperage = spec.MaxAmperage
	if spec.Phases != nil {
		c.Phases = *spec.Phases
	} else {
		c.Phases = s.tpl.NumberOfPhases
	}
	if len(spec.MeterValues) > 0 {
		c.Measurands = spec.MeterValues
	} else {
		c.Measurands = []string{MeasurandEnergyActiveImport}
	}
}

// seedConfiguration installs the template's configuration keys plus the
// well-known defaults the runtime relies on. Persisted values loaded before
// this call win because Add never clobbers an existing value.
func (s *Station) seedConfiguration() {
	for _, k := range s.tpl.Configuration {
		visible := true
		if k.Visible != nil {
			visible = *k.Visible
		}
		s.cfgStore.Add(configstore.Key{
			Key: k.Key, Value: k.Value, Readonly: k.Readonly, Visible: visible, Reboot: k.Reboot,
		})
	}
	defaults := []configstore.Key{
		{Key: configstore.KeyHeartBeatInterval, Value: "0", Visible: true},
		{Key: configstore.KeyHeartbeatInterval, Value: "0", Visible: true},
		{Key: configstore.KeyMeterValueSampleInterval, Value: "60", Visible: true},
		{Key: configstore.KeyWebSocketPingInterval, Value: "60", Visible: true},
		{Key: configstore.KeyLocalAuthListEnabled, Value: "true", Visible: true},
		{Key: configstore.KeyAuthorizeRemoteTxRequests, Value: "false", Visible: true},
		{Key: configstore.KeyLocalAuthorizeOffline, Value: "true", Visible: true},
		{Key: configstore.KeyAllowOfflineTxForUnknownID, Value: "false", Visible: true},
		{Key: configstore.KeyNumberOfConnectors, Value: strconv.Itoa(len(s.connectorIDs)), Readonly: true, Visible: true},
		{Key: configstore.KeySupportedFeatureProfiles,
			Value:    "Core,FirmwareManagement,LocalAuthListManagement,SmartCharging,RemoteTrigger,Reservation",
			Readonly: true, Visible: true},
	}
	for _, k := range defaults {
		s.cfgStore.Add(k)
	}
}

func (s *Station) buildAuthChain(cache *auth.Cache) {
	remote := &remoteAuthorizer{s: s}
	s.authChain = auth.NewChain(cache,
		&auth.CacheStrategy{Cache: cache},
		&auth.LocalListStrategy{Lookup: s.IsLocallyAuthorized},
		&auth.RemoteStrategy{
			Authorizer: remote,
			Breaker:    auth.NewBreaker(auth.BreakerConfig{}),
			Logger:     s.logger,
		},
		&auth.OfflineFallbackStrategy{Policy: func() auth.OfflinePolicy {
			return auth.OfflinePolicy{
				AllowOfflineTxForUnknownID: s.boolKey(configstore.KeyAllowOfflineTxForUnknownID),
				LocalAuthorizeOffline:      s.boolKey(configstore.KeyLocalAuthorizeOffline),
			}
		}},
	)
}

// remoteAuthorizer adapts the protocol service to the auth chain.
type remoteAuthorizer struct{ s *Station }

func (r *remoteAuthorizer) Authorize(ctx context.Context, id auth.Identifier) (auth.Status, error) {
	return r.s.svc.Authorize(ctx, id)
}

func (s *Station) supervisionURLs() []string {
	if len(s.tpl.SupervisionURLs) > 0 {
		return s.tpl.SupervisionURLs
	}
	return s.cfg.SupervisionURLs
}

func (s *Station) pingInterval() time.Duration {
	if s.tpl.WebSocketPingInterval != nil {
		return time.Duration(*s.tpl.WebSocketPingInterval) * time.Second
	}
	return 60 * time.Second
}

// Accessors used by the protocol bindings and the control plane.

func (s *Station) Identity() Identity                { return s.identity }
func (s *Station) Template() *template.Template      { return s.tpl }
func (s *Station) Version() ocpp.Version             { return s.version }
func (s *Station) ConfigStore() *configstore.Store   { return s.cfgStore }
func (s *Station) LocalList() *LocalList             { return s.localList }
func (s *Station) Certificates() *CertificateStore   { return s.certs }
func (s *Station) Logger() *slog.Logger              { return s.logger }
func (s *Station) ConnectionState() transport.State  { return s.client.State() }
func (s *Station) Service() ocpp.Service             { return s.svc }

// Registration returns the BootNotification outcome, empty before boot.
func (s *Station) Registration() ocpp.RegistrationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registration
}

// ConnectorIDs lists the chargeable connector ids in ascending order.
func (s *Station) ConnectorIDs() []int {
	out := make([]int, len(s.connectorIDs))
	copy(out, s.connectorIDs)
	return out
}

// ConnectorSnapshot returns a copy of the connector state.
func (s *Station) ConnectorSnapshot(id int) (Connector, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connectors[id]
	if !ok {
		return Connector{}, false
	}
	return *c, true
}

// OnATGLifecycle registers the transaction generator hooks fired from the
// start message sequence and the stop sequence.
func (s *Station) OnATGLifecycle(start, stop func()) {
	s.startATG = start
	s.stopATG = stop
}

func (s *Station) boolKey(key string) bool {
	v, _ := strconv.ParseBool(s.cfgStore.Value(key))
	return v
}

// IsLocallyAuthorized checks the idTags file and the SendLocalList entries.
func (s *Station) IsLocallyAuthorized(idTag string) bool {
	if s.localList.Accepted(idTag) {
		return true
	}
	if s.tpl.IDTagsFile == "" {
		return false
	}
	return s.tags.Contains(s.tpl.IDTagsFile, idTag)
}

// NextIDTag draws a tag per the template distribution for the generator.
func (s *Station) NextIDTag(connectorID int) (string, bool) {
	if s.tpl.IDTagsFile == "" {
		return "", false
	}
	dist := idtags.Distribution(s.tpl.IDTagDistribution)
	if dist == "" {
		dist = idtags.DistributionRandom
	}
	return s.tags.NextTag(s.tpl.IDTagsFile, dist, s.identity.HashID, s.cfg.Index, connectorID)
}

// Authorize runs the full strategy chain for idTag.
func (s *Station) Authorize(ctx context.Context, id auth.Identifier, reqCtx auth.RequestContext, connectorID int) auth.Result {
	return s.authChain.Evaluate(ctx, auth.Request{
		Identifier:   id,
		ConnectorID:  connectorID,
		Context:      reqCtx,
		AllowOffline: !s.client.IsOpen(),
	})
}

// Start opens the connection. The boot sequence runs from the open callback.
func (s *Station) Start() error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	if err := s.client.Start(); err != nil {
		// The transport keeps reconnecting per its retry policy.
		s.logger.Warn("initial connect failed", "error", err)
		return err
	}
	return nil
}

// Stop shuts the station down: heartbeat and generator stop, every active
// transaction is closed with the given reason, connectors report Unavailable,
// then the socket closes normally.
func (s *Station) Stop(reason string) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.stopHeartbeat()
	if s.stopATG != nil {
		s.stopATG()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if reason == "" {
		reason = "Other"
	}
	for _, id := range s.ConnectorIDs() {
		if c, ok := s.ConnectorSnapshot(id); ok && c.InTransaction() {
			if err := s.StopTransaction(ctx, id, reason); err != nil {
				s.logger.Warn("stop transaction on shutdown failed", "connectorId", id, "error", err)
			}
		}
	}
	for _, id := range s.ConnectorIDs() {
		if err := s.SendStatusNotification(ctx, id, StatusUnavailable); err != nil {
			s.logger.Warn("unavailable status notification failed", "connectorId", id, "error", err)
		}
	}

	s.persistState()
	s.client.Stop(websocket.CloseNormalClosure)
	s.mu.Lock()
	s.registration = ""
	s.mu.Unlock()
}

// OpenConnection dials the Central System without rerunning the transaction
// teardown a full Stop/Start cycle implies.
func (s *Station) OpenConnection() error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return s.client.Start()
}

// CloseConnection closes the socket but keeps station state. Transactions
// survive and frames produced while closed buffer until the next open.
func (s *Station) CloseConnection() {
	s.client.Stop(websocket.CloseNormalClosure)
}

// SetSupervisionURL points the station at a different Central System. An open
// connection is cycled so the change takes effect immediately.
func (s *Station) SetSupervisionURL(url string) {
	s.client.SetSupervisionURLs([]string{url})
	if s.client.IsOpen() {
		s.client.Stop(websocket.CloseServiceRestart)
		if err := s.client.Start(); err != nil {
			s.logger.Warn("reconnect to new supervision url failed", "url", url, "error", err)
		}
	}
}

// ScheduleReset performs the asynchronous part of a Reset request: stop with
// reason "{type}Reset", wait the template's reset time, start again.
func (s *Station) ScheduleReset(resetType string) {
	go func() {
		s.Stop(resetType + "Reset")
		time.Sleep(time.Duration(s.tpl.ResetTime) * time.Second)
		if err := s.Start(); err != nil {
			s.logger.Error("restart after reset failed", "error", err)
		}
	}()
}

// onOpen drives the boot sequence on first open and the start message
// sequence plus buffer flush on every reconnect.
func (s *Station) onOpen(reconnected bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*ocppj.DefaultRequestTimeout)
	defer cancel()

	s.mu.Lock()
	registered := s.registration == ocpp.RegistrationAccepted
	s.mu.Unlock()

	if !registered {
		s.boot(ctx)
		return
	}
	// Reconnect of a registered station: statuses first, then the frames
	// buffered while offline, before anything produced later.
	s.basicStartMessageSequence(ctx, true)
	s.client.Flush()
}

func (s *Station) boot(ctx context.Context) {
	res, err := s.svc.BootNotification(ctx)
	if err != nil {
		s.logger.Error("boot notification failed", "error", err)
		return
	}

	s.mu.Lock()
	s.registration = res.Status
	s.mu.Unlock()

	switch res.Status {
	case ocpp.RegistrationAccepted:
		seconds := int(res.Interval / time.Second)
		s.cfgStore.ForceSet(configstore.KeyHeartBeatInterval, strconv.Itoa(seconds))
		s.cfgStore.ForceSet(configstore.KeyHeartbeatInterval, strconv.Itoa(seconds))
		s.RestartHeartbeat(res.Interval)
		s.basicStartMessageSequence(ctx, false)
		s.client.Flush()
	case ocpp.RegistrationPending:
		// No automatic resend; a TriggerMessage(BootNotification) re-drives it.
		s.logger.Info("registration pending")
	case ocpp.RegistrationRejected:
		s.logger.Warn("registration rejected")
	}
}

// TriggerBootNotification re-drives the boot sequence, e.g. for a
// TriggerMessage while registration is Pending.
func (s *Station) TriggerBootNotification() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*ocppj.DefaultRequestTimeout)
		defer cancel()
		s.boot(ctx)
	}()
}

// basicStartMessageSequence re-announces connector statuses and starts the
// periodic machinery.
func (s *Station) basicStartMessageSequence(ctx context.Context, reconnected bool) {
	for _, id := range s.ConnectorIDs() {
		s.mu.Lock()
		c := s.connectors[id]
		status := c.BootStatus
		if c.InTransaction() {
			status = StatusCharging
		} else if c.Status == StatusUnavailable || c.Availability == Inoperative {
			status = StatusUnavailable
		}
		s.mu.Unlock()

		if err := s.SendStatusNotification(ctx, id, status); err != nil {
			s.logger.Warn("status notification failed", "connectorId", id, "error", err)
		}
	}
	if s.startATG != nil {
		s.startATG()
	}
}

// handleMessage routes one inbound frame. A malformed frame logs and is
// dropped; the loop never crashes on bad input.
func (s *Station) handleMessage(data []byte) {
	frame, err := ocppj.Unmarshal(data)
	if err != nil {
		s.logger.Error("malformed inbound frame", "error", err)
		return
	}

	switch frame.Type {
	case ocppj.MessageTypeCall:
		// Inbound CALLs are handled synchronously so frames are processed in
		// the order received; long-running effects are scheduled by handlers.
		s.handleCall(frame)
	case ocppj.MessageTypeCallResult:
		s.correlator.ResolveResult(frame.MessageID, frame.Payload)
	case ocppj.MessageTypeCallError:
		s.correlator.ResolveError(frame.MessageID, &ocppj.Error{
			Code:        frame.ErrorCode,
			Description: frame.ErrorDescription,
			Details:     frame.ErrorDetails,
		})
	}
}

func (s *Station) handleCall(frame *ocppj.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), ocppj.DefaultRequestTimeout)
	defer cancel()

	payload, wireErr := s.dispatcher.Handle(ctx, frame.Action, frame.Payload)

	var out []byte
	var err error
	if wireErr != nil {
		out, err = ocppj.MarshalCallError(frame.MessageID, wireErr)
	} else {
		out, err = ocppj.MarshalCallResult(frame.MessageID, payload)
	}
	if err != nil {
		s.logger.Error("cannot marshal response", "action", frame.Action, "error", err)
		return
	}
	if err := s.client.Send(out); err != nil {
		s.logger.Warn("response write failed", "action", frame.Action, "error", err)
	}
}

// Call implements ocpp.Endpoint: frame the payload, correlate the response,
// honor the deadline. Round-trip timing feeds the performance sink.
func (s *Station) Call(ctx context.Context, action string, payload any) (json.RawMessage, error) {
	messageID := ocppj.NewMessageID()
	data, err := ocppj.MarshalCall(messageID, action, payload)
	if err != nil {
		return nil, err
	}

	timeout := ocppj.DefaultRequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	started := time.Now()
	if !s.client.IsOpen() {
		// Buffer the frame for the post-reconnect flush and fail the caller
		// now so offline policies apply immediately. The response arriving
		// after the flush has no pending entry and is dropped.
		if err := s.client.Send(data); err != nil {
			s.record(action, started, err)
			return nil, fmt.Errorf("buffer %s: %w", action, err)
		}
		s.record(action, started, ErrOffline)
		return nil, fmt.Errorf("send %s: %w", action, ErrOffline)
	}

	done := s.correlator.Register(messageID, action, timeout)
	if err := s.client.Send(data); err != nil {
		s.correlator.Cancel(messageID, err)
		s.record(action, started, err)
		return nil, fmt.Errorf("send %s: %w", action, err)
	}

	select {
	case res := <-done:
		s.record(action, started, res.Err)
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Payload, nil
	case <-ctx.Done():
		s.correlator.Cancel(messageID, ctx.Err())
		s.record(action, started, ctx.Err())
		return nil, ctx.Err()
	}
}

func (s *Station) record(action string, started time.Time, err error) {
	if s.recorder != nil {
		s.recorder.RecordRequest(action, time.Since(started), err)
	}
}

// SendStatusNotification updates the connector status and notifies the
// Central System.
func (s *Station) SendStatusNotification(ctx context.Context, connectorID int, status Status) error {
	s.mu.Lock()
	c, ok := s.connectors[connectorID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownConnector
	}
	c.Status = status
	s.mu.Unlock()

	return s.svc.StatusNotification(ctx, connectorID, string(status), "NoError")
}

// StartTransaction runs the full start flow on a connector: guards, the
// protocol round-trip, state transition and meter sampling.
func (s *Station) StartTransaction(ctx context.Context, connectorID int, idTag string, remote bool) error {
	s.mu.Lock()
	c, ok := s.connectors[connectorID]
	switch {
	case !ok || connectorID <= 0:
		s.mu.Unlock()
		return ErrUnknownConnector
	case c.InTransaction():
		s.mu.Unlock()
		return ErrTransactionActive
	case c.Availability == Inoperative || c.Status == StatusUnavailable || c.Status == StatusFaulted:
		s.mu.Unlock()
		return ErrConnectorUnavailable
	case c.ReservedFor(idTag, time.Now()):
		s.mu.Unlock()
		return ErrReserved
	}
	meterStart := c.EnergyActiveImport
	s.mu.Unlock()

	res, err := s.svc.StartTransaction(ctx, connectorID, auth.OCPP16Adapter{}.ToUnified(idTag), meterStart)
	if err != nil {
		if s.client.IsOpen() {
			return fmt.Errorf("start transaction: %w", err)
		}
		// Offline: local policy decides, transaction ids come from a local
		// counter until the backend can assign them again.
		policy := auth.OfflinePolicy{
			AllowOfflineTxForUnknownID: s.boolKey(configstore.KeyAllowOfflineTxForUnknownID),
			LocalAuthorizeOffline:      s.boolKey(configstore.KeyLocalAuthorizeOffline),
		}
		if !policy.AllowOfflineTxForUnknownID && !(policy.LocalAuthorizeOffline && s.IsLocallyAuthorized(idTag)) {
			return fmt.Errorf("start transaction offline not permitted: %w", err)
		}
		res = ocpp.TransactionStart{
			TransactionID: fmt.Sprintf("offline-%d", s.offlineTxSeq.Add(1)),
			Status:        auth.StatusAccepted,
		}
	}
	if res.Status != auth.StatusAccepted {
		return fmt.Errorf("%w: idTagInfo %s", ErrNotAccepted, res.Status)
	}

	s.mu.Lock()
	if c.InTransaction() {
		s.mu.Unlock()
		return ErrTransactionActive
	}
	c.Tx = &Transaction{
		ID:            res.TransactionID,
		IDTag:         idTag,
		StartedAt:     time.Now(),
		StartMeter:    meterStart,
		RemoteStarted: remote,
	}
	c.TransactionEnergyActiveImport = 0
	c.Reservation = nil
	s.activeTxCount++
	s.mu.Unlock()

	if err := s.SendStatusNotification(ctx, connectorID, StatusCharging); err != nil {
		s.logger.Warn("charging status notification failed", "connectorId", connectorID, "error", err)
	}
	s.startSampler(connectorID)
	return nil
}

// StopTransaction closes the active transaction on a connector.
func (s *Station) StopTransaction(ctx context.Context, connectorID int, reason string) error {
	s.mu.Lock()
	c, ok := s.connectors[connectorID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownConnector
	}
	tx := c.Tx
	if tx == nil {
		s.mu.Unlock()
		return ErrNoTransaction
	}
	meterStop := c.EnergyActiveImport
	s.mu.Unlock()

	s.stopSampler(connectorID)

	_, err := s.svc.StopTransaction(ctx, connectorID, tx.ID,
		auth.OCPP16Adapter{}.ToUnified(tx.IDTag), meterStop, reason)
	if err != nil {
		s.logger.Warn("stop transaction round-trip failed", "connectorId", connectorID, "error", err)
	}

	s.mu.Lock()
	c.Tx = nil
	c.clearAuthorization()
	if s.activeTxCount > 0 {
		s.activeTxCount--
	}
	s.mu.Unlock()

	if nErr := s.SendStatusNotification(ctx, connectorID, StatusAvailable); nErr != nil {
		s.logger.Warn("available status notification failed", "connectorId", connectorID, "error", nErr)
	}
	return err
}

// TransactionFor returns the transaction matching transactionID, if any.
func (s *Station) TransactionFor(transactionID string) (connectorID int, tx Transaction, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.connectors {
		if c.Tx != nil && c.Tx.ID == transactionID {
			return id, *c.Tx, true
		}
	}
	return 0, Transaction{}, false
}

// PowerDivider is the denominator for per-connector power: the count of
// chargeable connectors, or the active transaction count under the shared
// power policy (never below 1).
func (s *Station) PowerDivider() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.powerDividerLocked()
}

func (s *Station) powerDividerLocked() int {
	if s.tpl.PowerSharedByConnectors {
		if s.activeTxCount > 0 {
			return s.activeTxCount
		}
		return 1
	}
	if n := len(s.connectorIDs); n > 0 {
		return n
	}
	return 1
}

// MaximumPower is the station's total power budget in watts.
func (s *Station) MaximumPower() float64 {
	return s.tpl.MaximumPower(s.cfg.Index)
}

// RestartHeartbeat replaces the heartbeat scheduler. Non-positive intervals
// stop it.
func (s *Station) RestartHeartbeat(interval time.Duration) {
	s.hbMu.Lock()
	defer s.hbMu.Unlock()

	if s.hbStop != nil {
		close(s.hbStop)
		s.hbStop = nil
	}
	s.hbIntv = interval
	if interval <= 0 {
		if interval < 0 {
			s.logger.Warn("negative heartbeat interval, scheduler disabled", "interval", interval.String())
		}
		return
	}

	stop := make(chan struct{})
	s.hbStop = stop
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), ocppj.DefaultRequestTimeout)
				if _, err := s.svc.Heartbeat(ctx); err != nil {
					s.logger.Warn("heartbeat failed", "error", err)
				}
				cancel()
			case <-stop:
				return
			}
		}
	}()
}

func (s *Station) stopHeartbeat() {
	s.hbMu.Lock()
	defer s.hbMu.Unlock()
	if s.hbStop != nil {
		close(s.hbStop)
		s.hbStop = nil
	}
	s.hbIntv = 0
}

// HeartbeatInterval reports the scheduler's current interval; the 2.0.1
// device model resolves OCPPCommCtrlr.HeartbeatInterval through this.
func (s *Station) HeartbeatInterval() time.Duration {
	s.hbMu.Lock()
	defer s.hbMu.Unlock()
	return s.hbIntv
}

// ChangeAvailability applies the requested availability. "Scheduled" is
// reported while a transaction is in flight; the change then applies when the
// transaction ends.
func (s *Station) ChangeAvailability(ctx context.Context, connectorID int, avail Availability) (string, error) {
	s.mu.Lock()
	targets := make([]*Connector, 0, 1)
	if connectorID == 0 {
		for _, id := range s.connectorIDs {
			targets = append(targets, s.connectors[id])
		}
	} else if c, ok := s.connectors[connectorID]; ok {
		targets = append(targets, c)
	} else {
		s.mu.Unlock()
		return "Rejected", ErrUnknownConnector
	}

	scheduled := false
	for _, c := range targets {
		if c.InTransaction() {
			scheduled = true
			continue
		}
		c.Availability = avail
	}
	ids := make([]int, 0, len(targets))
	for _, c := range targets {
		if !c.InTransaction() {
			ids = append(ids, c.ID)
		}
	}
	s.mu.Unlock()

	status := StatusAvailable
	if avail == Inoperative {
		status = StatusUnavailable
	}
	for _, id := range ids {
		if err := s.SendStatusNotification(ctx, id, status); err != nil {
			s.logger.Warn("availability status notification failed", "connectorId", id, "error", err)
		}
	}
	if scheduled {
		return "Scheduled", nil
	}
	return "Accepted", nil
}

// Reserve installs a reservation per the ReserveNow contract.
func (s *Station) Reserve(ctx context.Context, connectorID int, res Reservation) string {
	s.mu.Lock()
	c, ok := s.connectors[connectorID]
	if !ok || connectorID <= 0 {
		s.mu.Unlock()
		return "Rejected"
	}
	switch {
	case c.Availability == Inoperative || c.Status == StatusUnavailable:
		s.mu.Unlock()
		return "Unavailable"
	case c.Status == StatusFaulted:
		s.mu.Unlock()
		return "Faulted"
	case c.InTransaction() || (c.Reservation != nil && !c.Reservation.Expired(time.Now()) && c.Reservation.ID != res.ID):
		s.mu.Unlock()
		return "Occupied"
	}
	c.Reservation = &res
	s.mu.Unlock()

	if err := s.SendStatusNotification(ctx, connectorID, StatusReserved); err != nil {
		s.logger.Warn("reserved status notification failed", "connectorId", connectorID, "error", err)
	}
	return "Accepted"
}

// CancelReservation removes the reservation with id and reports whether it
// existed.
func (s *Station) CancelReservation(ctx context.Context, reservationID int) bool {
	s.mu.Lock()
	freed := -1
	for id, c := range s.connectors {
		if c.Reservation != nil && c.Reservation.ID == reservationID {
			c.Reservation = nil
			freed = id
			break
		}
	}
	s.mu.Unlock()

	if freed < 0 {
		return false
	}
	if err := s.SendStatusNotification(ctx, freed, StatusAvailable); err != nil {
		s.logger.Warn("available status notification failed", "connectorId", freed, "error", err)
	}
	return true
}

// SetChargingProfile attaches a profile to a connector (0 = station-wide).
func (s *Station) SetChargingProfile(connectorID int, p profiles.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connectors[connectorID]
	if !ok {
		return ErrUnknownConnector
	}
	c.Profiles = profiles.Add(c.Profiles, p)
	return nil
}

// ClearChargingProfiles removes matching profiles across connectors; a
// negative connectorID matches every connector.
func (s *Station) ClearChargingProfiles(connectorID int, f profiles.ClearFilter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cleared := false
	for id, c := range s.connectors {
		if connectorID >= 0 && id != connectorID {
			continue
		}
		var removed bool
		c.Profiles, removed = profiles.Clear(c.Profiles, f)
		cleared = cleared || removed
	}
	return cleared
}

// PowerLimit evaluates the connector's profiles (plus the station-wide ones
// on connector 0) and returns the instantaneous limit in watts, clamped to
// the station budget share. ok is false when no profile is active.
func (s *Station) PowerLimit(connectorID int, now time.Time) (float64, bool) {
	s.mu.Lock()
	var list []profiles.Profile
	if c, found := s.connectors[connectorID]; found {
		list = append(list, c.Profiles...)
	}
	if zero, found := s.connectors[0]; found && connectorID != 0 {
		list = append(list, zero.Profiles...)
	}
	var txStarted *time.Time
	phases := s.tpl.NumberOfPhases
	if c, found := s.connectors[connectorID]; found {
		if c.Tx != nil {
			t := c.Tx.StartedAt
			txStarted = &t
		}
		if c.Phases > 0 {
			phases = c.Phases
		}
	}
	divider := s.powerDividerLocked()
	s.mu.Unlock()

	sorted := []profiles.Profile{}
	for _, p := range list {
		sorted = profiles.Add(sorted, p)
	}
	res := profiles.Evaluate(sorted, now, txStarted)
	if res == nil {
		return 0, false
	}

	watts := profiles.LimitToWatts(res, string(s.tpl.CurrentOutType), s.tpl.VoltageOut, phases)
	if budget := s.MaximumPower(); budget > 0 {
		if share := budget / float64(divider); watts > share {
			watts = share
		}
	}
	return watts, true
}

// FirmwareStatus tracks the last notified firmware status for TriggerMessage.
func (s *Station) FirmwareStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFirmwareStatus
}

// DiagnosticsStatus tracks the last notified diagnostics status.
func (s *Station) DiagnosticsStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDiagnosticsStatus
}

// SimulateFirmwareUpdate walks the firmware status sequence asynchronously.
func (s *Station) SimulateFirmwareUpdate() {
	go s.walkStatusSequence(
		[]string{"Downloading", "Downloaded", "Installing", "Installed"},
		func(ctx context.Context, status string) error {
			s.mu.Lock()
			s.lastFirmwareStatus = status
			s.mu.Unlock()
			return s.svc.FirmwareStatusNotification(ctx, status)
		})
}

// SimulateDiagnosticsUpload walks the diagnostics status sequence.
func (s *Station) SimulateDiagnosticsUpload() {
	go s.walkStatusSequence(
		[]string{"Uploading", "Uploaded"},
		func(ctx context.Context, status string) error {
			s.mu.Lock()
			s.lastDiagnosticsStatus = status
			s.mu.Unlock()
			return s.svc.DiagnosticsStatusNotification(ctx, status)
		})
}

func (s *Station) walkStatusSequence(statuses []string, notify func(context.Context, string) error) {
	for _, status := range statuses {
		time.Sleep(2 * time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), ocppj.DefaultRequestTimeout)
		if err := notify(ctx, status); err != nil {
			s.logger.Warn("status sequence notification failed", "status", status, "error", err)
		}
		cancel()
	}
}

// OCPP20Variable reads a persisted 2.0.1 variable value.
func (s *Station) OCPP20Variable(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.ocpp20Variables[key]
	return v, ok
}

// SetOCPP20Variable persists a 2.0.1 variable value.
func (s *Station) SetOCPP20Variable(key, value string) {
	s.mu.Lock()
	s.ocpp20Variables[key] = value
	s.mu.Unlock()
	s.persistState()
}

// ATGStats returns a copy of the generator counters.
func (s *Station) ATGStats() ATGStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.atgStats
}

// UpdateATGStats applies a mutation to the generator counters and persists.
func (s *Station) UpdateATGStats(fn func(*ATGStatistics)) {
	s.mu.Lock()
	fn(&s.atgStats)
	s.mu.Unlock()
	s.persistState()
}

func (s *Station) persistState() {
	if s.cfg.DataDir == "" {
		return
	}
	s.mu.Lock()
	vars := make(map[string]string, len(s.ocpp20Variables))
	for k, v := range s.ocpp20Variables {
		vars[k] = v
	}
	atg := s.atgStats
	s.mu.Unlock()

	st := &PersistedState{
		Info:             s.identity,
		ConfigurationKey: s.cfgStore.All(),
		OCPP20Variables:  vars,
		ATG:              &atg,
	}
	if err := SaveState(s.cfg.DataDir, st); err != nil {
		s.logger.Warn("persist station state failed", "error", err)
	}
}

// Shutdown releases station resources after Stop; mainly for tests and
// template reloads.
func (s *Station) Shutdown() {
	s.correlator.Stop()
}
