package station

import (
	"time"

	"github.com/evfleet/ocppsim/internal/profiles"
)

// Status is the OCPP connector status.
type Status string

const (
	StatusAvailable     Status = "Available"
	StatusPreparing     Status = "Preparing"
	StatusCharging      Status = "Charging"
	StatusSuspendedEV   Status = "SuspendedEV"
	StatusSuspendedEVSE Status = "SuspendedEVSE"
	StatusFinishing     Status = "Finishing"
	StatusReserved      Status = "Reserved"
	StatusUnavailable   Status = "Unavailable"
	StatusFaulted       Status = "Faulted"
	StatusOccupied      Status = "Occupied"
)

// Availability of a connector or the whole station (connector 0).
type Availability string

const (
	Operative   Availability = "Operative"
	Inoperative Availability = "Inoperative"
)

// Transaction is the active transaction block of one connector. At most one
// per connector.
type Transaction struct {
	ID            string    `json:"transactionId"`
	IDTag         string    `json:"idTag"`
	StartedAt     time.Time `json:"startedAt"`
	StartMeter    int64     `json:"startMeter"`
	RemoteStarted bool      `json:"remoteStarted"`
}

// Reservation holds one ReserveNow grant on a connector.
type Reservation struct {
	ID         int       `json:"reservationId"`
	IDTag      string    `json:"idTag"`
	ExpiryDate time.Time `json:"expiryDate"`
}

// Expired reports whether the reservation has lapsed at now.
func (r *Reservation) Expired(now time.Time) bool {
	return now.After(r.ExpiryDate)
}

// Connector is the runtime state of one connector. Id 0 is the station-wide
// pseudo-connector. All mutation happens under the owning station's lock.
type Connector struct {
	ID           int          `json:"id"`
	Availability Availability `json:"availability"`
	Status       Status       `json:"status"`
	BootStatus   Status       `json:"bootStatus"`
	MeterType    string       `json:"meterType,omitempty"`
	Phases       int          `json:"numberOfPhases,omitempty"`
	MaxAmperage  float64      `json:"maxAmperage,omitempty"`
	// EVSEID groups 2.0.1 connectors; zero for 1.6 stations.
	EVSEID int `json:"evseId,omitempty"`

	// Measurands sampled for this connector's MeterValues frames.
	Measurands []string `json:"meterValues,omitempty"`

	Tx          *Transaction `json:"transaction,omitempty"`
	Reservation *Reservation `json:"reservation,omitempty"`

	// EnergyActiveImport is the lifetime register in Wh.
	EnergyActiveImport int64 `json:"energyActiveImport"`
	// TransactionEnergyActiveImport accumulates Wh within the active
	// transaction; reset to 0 on start.
	TransactionEnergyActiveImport int64 `json:"transactionEnergyActiveImport"`
	// LastEnergyActiveImport preserves the last sampled register across
	// ticks; -1 is the re-init sentinel.
	LastEnergyActiveImport int64 `json:"lastEnergyActiveImport"`

	Profiles []profiles.Profile `json:"chargingProfiles,omitempty"`

	LocalAuthorized  bool   `json:"localAuthorized"`
	RemoteAuthorized bool   `json:"remoteAuthorized"`
	AuthorizedIDTag  string `json:"authorizedIdTag,omitempty"`
}

func newConnector(id int) *Connector {
	return &Connector{
		ID:                     id,
		Availability:           Operative,
		Status:                 StatusAvailable,
		BootStatus:             StatusAvailable,
		LastEnergyActiveImport: -1,
	}
}

// InTransaction reports whether a transaction is active on the connector.
func (c *Connector) InTransaction() bool {
	return c.Tx != nil
}

// ReservedFor reports whether the connector currently holds an unexpired
// reservation for a different idTag, blocking a start by idTag.
func (c *Connector) ReservedFor(idTag string, now time.Time) bool {
	if c.Reservation == nil || c.Reservation.Expired(now) {
		return false
	}
	return c.Reservation.IDTag != idTag
}

// clearAuthorization resets the per-connector authorize cache.
func (c *Connector) clearAuthorization() {
	c.LocalAuthorized = false
	c.RemoteAuthorized = false
	c.AuthorizedIDTag = ""
}

// EVSE groups connectors in a 2.0.1 station and carries EVSE-scope
// availability.
type EVSE struct {
	ID           int          `json:"id"`
	Availability Availability `json:"availability"`
	ConnectorIDs []int        `json:"connectorIds"`
}
