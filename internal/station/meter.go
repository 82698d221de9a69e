package station

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"github.com/evfleet/ocppsim/internal/configstore"
	"github.com/evfleet/ocppsim/internal/ocpp"
	"github.com/evfleet/ocppsim/internal/ocppj"
	"github.com/evfleet/ocppsim/internal/template"
)

// Measurands the simulator can sample.
const (
	MeasurandEnergyActiveImport = "Energy.Active.Import.Register"
	MeasurandVoltage            = "Voltage"
	MeasurandSoC                = "SoC"
)

func (s *Station) meterSampleInterval() time.Duration {
	seconds, err := strconv.Atoi(s.cfgStore.Value(configstore.KeyMeterValueSampleInterval))
	if err != nil || seconds <= 0 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

// startSampler begins periodic MeterValues emission for the connector's
// active transaction. One sampler per connector.
func (s *Station) startSampler(connectorID int) {
	s.mu.Lock()
	if _, running := s.samplers[connectorID]; running {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.samplers[connectorID] = stop
	s.mu.Unlock()

	interval := s.meterSampleInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sampleMeters(connectorID, interval)
			case <-stop:
				return
			}
		}
	}()
}

func (s *Station) stopSampler(connectorID int) {
	s.mu.Lock()
	if stop, ok := s.samplers[connectorID]; ok {
		close(stop)
		delete(s.samplers, connectorID)
	}
	s.mu.Unlock()
}

// sampleMeters advances the connector's registers and emits one MeterValues
// frame for the tick.
func (s *Station) sampleMeters(connectorID int, interval time.Duration) {
	s.mu.Lock()
	c, ok := s.connectors[connectorID]
	if !ok || c.Tx == nil {
		s.mu.Unlock()
		return
	}

	divider := s.powerDividerLocked()
	maxPower := s.tpl.MaximumPower(s.cfg.Index)
	measurands := c.Measurands
	txID := c.Tx.ID

	var samples []ocpp.MeterSample
	for _, m := range measurands {
		switch m {
		case MeasurandEnergyActiveImport:
			s.sampleEnergy(c, maxPower, interval, divider)
			// Register measurand: the lifetime meter reading, monotone across
			// transactions.
			samples = append(samples, ocpp.MeterSample{
				Measurand: m,
				Value:     strconv.FormatInt(c.EnergyActiveImport, 10),
				Unit:      "Wh",
				Context:   "Sample.Periodic",
			})
		case MeasurandVoltage:
			if s.tpl.CurrentOutType == template.CurrentDC {
				continue
			}
			voltage := s.tpl.VoltageOut
			if voltage == 0 {
				voltage = 230
			}
			samples = append(samples, ocpp.MeterSample{
				Measurand: m,
				Value:     strconv.FormatFloat(voltage, 'f', -1, 64),
				Unit:      "V",
				Context:   "Sample.Periodic",
			})
		case MeasurandSoC:
			samples = append(samples, ocpp.MeterSample{
				Measurand: m,
				Value:     strconv.Itoa(rand.Intn(101)),
				Unit:      "Percent",
				Context:   "Sample.Periodic",
				Location:  "EV",
			})
		default:
			s.logger.Warn("unknown measurand, skipping", "measurand", m, "connectorId", connectorID)
		}
	}
	s.mu.Unlock()

	if len(samples) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ocppj.DefaultRequestTimeout)
	defer cancel()
	if err := s.svc.MeterValues(ctx, connectorID, txID, samples); err != nil {
		s.logger.Warn("meter values failed", "connectorId", connectorID, "error", err)
	}
}

// sampleEnergy advances the energy registers by a random share of the
// maximum energy the connector could deliver over the interval.
func (s *Station) sampleEnergy(c *Connector, maxPower float64, interval time.Duration, divider int) int64 {
	if divider <= 0 {
		divider = 1
	}
	// Maximum Wh deliverable this interval at full power over the divider.
	maxWh := maxPower * interval.Seconds() / 3600 / float64(divider)
	if maxWh <= 0 {
		return 0
	}
	added := int64(rand.Float64() * maxWh)
	c.EnergyActiveImport += added
	c.TransactionEnergyActiveImport += added
	c.LastEnergyActiveImport = c.EnergyActiveImport
	return added
}

// TriggerMeterValues emits one immediate sample outside the periodic timer,
// for TriggerMessage and the control plane.
func (s *Station) TriggerMeterValues(connectorID int) {
	s.sampleMeters(connectorID, s.meterSampleInterval())
}
