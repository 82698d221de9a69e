package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/evfleet/ocppsim/internal/atg"
	"github.com/evfleet/ocppsim/internal/auth"
	"github.com/evfleet/ocppsim/internal/ocpp"
	"github.com/evfleet/ocppsim/internal/ocppj"
	"github.com/evfleet/ocppsim/internal/station"
)

// Listener attaches one station to the worker channel: it filters request
// frames by hashId, executes the command and answers with a response frame.
type Listener struct {
	bus    *Bus
	st     *station.Station
	gen    *atg.Generator
	logger *slog.Logger

	sub  chan json.RawMessage
	stop chan struct{}
	done chan struct{}
}

// NewListener builds a listener; Start subscribes it.
func NewListener(bus *Bus, st *station.Station, gen *atg.Generator) *Listener {
	return &Listener{
		bus:    bus,
		st:     st,
		gen:    gen,
		logger: st.Logger().With("component", "broadcast"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start subscribes to the worker channel and begins serving commands.
func (l *Listener) Start() {
	l.sub = l.bus.Subscribe(ChannelName)
	go l.run()
}

// Stop unsubscribes and waits for the serving goroutine to exit.
func (l *Listener) Stop() {
	close(l.stop)
	l.bus.Unsubscribe(ChannelName, l.sub)
	<-l.done
}

func (l *Listener) run() {
	defer close(l.done)
	for {
		select {
		case data, ok := <-l.sub:
			if !ok {
				return
			}
			l.dispatch(data)
		case <-l.stop:
			return
		}
	}
}

// dispatch filters and executes one frame. Response frames on the shared
// channel parse as something other than a request and are skipped silently.
func (l *Listener) dispatch(data json.RawMessage) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	if !l.addressed(req.Payload.HashIDs) {
		return
	}

	resp := l.execute(req)
	if err := l.bus.SendResponse(Response{UUID: req.UUID, Payload: resp}); err != nil {
		l.logger.Warn("broadcast response failed", "command", req.Command, "error", err)
	}
}

// addressed reports whether the request targets this station. An empty hashId
// list reaches every station.
func (l *Listener) addressed(hashIDs []string) bool {
	if len(hashIDs) == 0 {
		return true
	}
	for _, id := range hashIDs {
		if id == l.st.Identity().HashID {
			return true
		}
	}
	return false
}

func (l *Listener) execute(req Request) ResponsePayload {
	ctx, cancel := context.WithTimeout(context.Background(), ocppj.DefaultRequestTimeout)
	defer cancel()

	result, err := l.run1(ctx, req)
	payload := req.Payload
	resp := ResponsePayload{
		HashID:         l.st.Identity().HashID,
		Command:        req.Command,
		RequestPayload: &payload,
	}
	if err != nil {
		l.logger.Warn("broadcast command failed", "command", req.Command, "error", err)
		resp.Status = ResponseFailure
		resp.ErrorMessage = err.Error()
		return resp
	}
	resp.Status = ResponseSuccess
	if result != nil {
		if data, merr := json.Marshal(result); merr == nil {
			resp.CommandResponse = data
		}
	}
	return resp
}

// run1 executes a single command against the station. A nil error maps to a
// success response.
func (l *Listener) run1(ctx context.Context, req Request) (any, error) {
	p := req.Payload
	svc := l.st.Service()

	switch req.Command {
	case CommandStartStation:
		return nil, l.st.Start()

	case CommandStopStation:
		reason := p.Reason
		if reason == "" {
			reason = "Local"
		}
		l.st.Stop(reason)
		return nil, nil

	case CommandOpenConnection:
		return nil, l.st.OpenConnection()

	case CommandCloseConnection:
		l.st.CloseConnection()
		return nil, nil

	case CommandStartATG:
		if l.gen == nil {
			return nil, fmt.Errorf("station has no transaction generator")
		}
		l.gen.Start(p.ConnectorIDs...)
		return nil, nil

	case CommandStopATG:
		if l.gen == nil {
			return nil, fmt.Errorf("station has no transaction generator")
		}
		l.gen.Stop(p.ConnectorIDs...)
		return nil, nil

	case CommandSetSupervisionURL:
		if p.URL == "" {
			return nil, fmt.Errorf("setSupervisionUrl needs a url")
		}
		l.st.SetSupervisionURL(p.URL)
		return nil, nil

	case CommandStartTransaction:
		if err := l.st.StartTransaction(ctx, p.ConnectorID, p.IDTag, true); err != nil {
			return nil, err
		}
		return map[string]any{"idTagInfo": map[string]string{"status": "Accepted"}}, nil

	case CommandStopTransaction:
		connectorID, _, ok := l.st.TransactionFor(p.TransactionID)
		if !ok {
			return nil, fmt.Errorf("no active transaction %s", p.TransactionID)
		}
		reason := p.Reason
		if reason == "" {
			reason = "Remote"
		}
		if err := l.st.StopTransaction(ctx, connectorID, reason); err != nil {
			return nil, err
		}
		return map[string]any{"idTagInfo": map[string]string{"status": "Accepted"}}, nil

	case CommandAuthorize:
		res := l.st.Authorize(ctx,
			auth.Identifier{Value: p.IDTag, Type: auth.TokenIDTag},
			auth.ContextTransactionStart, p.ConnectorID)
		if res.Status != auth.StatusAccepted {
			return nil, fmt.Errorf("idTag %s not authorized: %s", p.IDTag, res.Status)
		}
		return map[string]any{"idTagInfo": map[string]any{"status": res.Status}}, nil

	case CommandBootNotification:
		br, err := svc.BootNotification(ctx)
		if err != nil {
			return nil, err
		}
		if br.Status != ocpp.RegistrationAccepted {
			return nil, fmt.Errorf("registration %s", br.Status)
		}
		return map[string]any{
			"status":      br.Status,
			"currentTime": br.CurrentTime,
			"interval":    int(br.Interval / time.Second),
		}, nil

	case CommandHeartbeat:
		currentTime, err := svc.Heartbeat(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"currentTime": currentTime}, nil

	case CommandStatusNotification:
		status := station.Status(p.Status)
		if status == "" {
			if c, ok := l.st.ConnectorSnapshot(p.ConnectorID); ok {
				status = c.Status
			} else {
				status = station.StatusAvailable
			}
		}
		return nil, l.st.SendStatusNotification(ctx, p.ConnectorID, status)

	case CommandMeterValues:
		return nil, svc.MeterValues(ctx, p.ConnectorID, p.TransactionID, l.meterSamples(p.ConnectorID))

	case CommandDataTransfer:
		res, err := svc.DataTransfer(ctx, p.VendorID, p.MessageID, p.Data)
		if err != nil {
			return nil, err
		}
		if res.Status != "Accepted" {
			return nil, fmt.Errorf("data transfer %s", res.Status)
		}
		return res, nil

	case CommandDiagnosticsStatusNotification:
		return nil, svc.DiagnosticsStatusNotification(ctx, l.st.DiagnosticsStatus())

	case CommandFirmwareStatusNotification:
		return nil, svc.FirmwareStatusNotification(ctx, l.st.FirmwareStatus())

	default:
		return nil, fmt.Errorf("unknown broadcast command %q", req.Command)
	}
}

// meterSamples builds a one-off register reading for an operator-driven
// MeterValues frame.
func (l *Listener) meterSamples(connectorID int) []ocpp.MeterSample {
	c, ok := l.st.ConnectorSnapshot(connectorID)
	if !ok {
		return nil
	}
	return []ocpp.MeterSample{{
		Measurand: "Energy.Active.Import.Register",
		Value:     strconv.FormatInt(c.EnergyActiveImport, 10),
		Unit:      "Wh",
		Context:   "Sample.Periodic",
	}}
}
