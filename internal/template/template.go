// Package template loads station template files: the on-disk description of
// a simulated charging station. Templates are immutable after load and
// watched for changes so running stations can hot-reload.
package template

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// Version is the OCPP protocol version a template targets.
type Version string

const (
	Version16  Version = "1.6"
	Version20  Version = "2.0"
	Version201 Version = "2.0.1"
)

// CurrentType is the supply type.
type CurrentType string

const (
	CurrentAC CurrentType = "AC"
	CurrentDC CurrentType = "DC"
)

// PowerUnit qualifies the template's power figures.
type PowerUnit string

const (
	PowerUnitWatt     PowerUnit = "W"
	PowerUnitKiloWatt PowerUnit = "kW"
)

// AmperageUnit qualifies amperage limitation values.
type AmperageUnit string

const (
	AmperageAmpere      AmperageUnit = "A"
	AmperageDeciAmpere  AmperageUnit = "dA"
	AmperageCentiAmpere AmperageUnit = "cA"
	AmperageMilliAmpere AmperageUnit = "mA"
)

// ConnectorSpec describes one connector in the template.
type ConnectorSpec struct {
	BootStatus  string   `json:"bootStatus,omitempty"`
	MeterType   string   `json:"meterType,omitempty"`
	MaxAmperage float64  `json:"maxAmperage,omitempty"`
	Phases      *int     `json:"numberOfPhases,omitempty"`
	MeterValues []string `json:"meterValues,omitempty"`
}

// EvseSpec groups connectors under one EVSE (2.0.1).
type EvseSpec struct {
	Connectors map[string]ConnectorSpec `json:"Connectors"`
}

// ATGConfig is the automatic transaction generator policy.
type ATGConfig struct {
	Enable                         bool    `json:"enable"`
	MinDuration                    int     `json:"minDuration"`
	MaxDuration                    int     `json:"maxDuration"`
	MinDelayBetweenTwoTransactions int     `json:"minDelayBetweenTwoTransactions"`
	MaxDelayBetweenTwoTransactions int     `json:"maxDelayBetweenTwoTransactions"`
	ProbabilityOfStart             float64 `json:"probabilityOfStart"`
	StopAfterHours                 float64 `json:"stopAfterHours"`
	StopAbsoluteDuration           bool    `json:"stopAbsoluteDuration"`
	RequireAuthorize               bool    `json:"requireAuthorize"`
	ProbabilityOfNonAuthorizedTag  float64 `json:"idTagLessThanProbability,omitempty"`
	StopOnConnectionFailure        bool    `json:"stopOnConnectionFailure"`
	EnableConnectorZero            bool    `json:"enableConnectorZero,omitempty"`
}

// ConfigurationKey seeds the 1.6 configuration store.
type ConfigurationKey struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Readonly bool   `json:"readonly"`
	Visible  *bool  `json:"visible,omitempty"`
	Reboot   bool   `json:"reboot"`
}

// Template is the on-disk station description. Deprecated keys are migrated
// at load; see migrate.
type Template struct {
	BaseName   string `json:"baseName"`
	NameSuffix string `json:"nameSuffix,omitempty"`
	FixedName  bool   `json:"fixedName,omitempty"`

	ChargePointVendor             string `json:"chargePointVendor"`
	ChargePointModel              string `json:"chargePointModel"`
	FirmwareVersion               string `json:"firmwareVersion,omitempty"`
	ChargeBoxSerialNumberPrefix   string `json:"chargeBoxSerialNumberPrefix,omitempty"`
	ChargePointSerialNumberPrefix string `json:"chargePointSerialNumberPrefix,omitempty"`
	MeterSerialNumberPrefix       string `json:"meterSerialNumberPrefix,omitempty"`

	OCPPVersion                       Version    `json:"ocppVersion,omitempty"`
	SupervisionURLs                   StringList `json:"supervisionUrls,omitempty"`
	DeprecatedSupervisionURL          string     `json:"supervisionUrl,omitempty"`
	SupervisionURLOCPPConfiguration   bool       `json:"supervisionUrlOcppConfiguration,omitempty"`
	OCPPStrictCompliance              *bool      `json:"ocppStrictCompliance,omitempty"`
	DeprecatedPayloadSchemaValidation *bool      `json:"payloadSchemaValidation,omitempty"`

	NumberOfConnectors IntList `json:"numberOfConnectors,omitempty"`
	UseConnectorID0    bool    `json:"useConnectorId0,omitempty"`
	RandomConnectors   bool    `json:"randomConnectors,omitempty"`

	EnableStatistics    bool  `json:"enableStatistics,omitempty"`
	RemoteAuthorization *bool `json:"remoteAuthorization,omitempty"`

	IDTagsFile                  string `json:"idTagsFile,omitempty"`
	DeprecatedAuthorizationFile string `json:"authorizationFile,omitempty"`
	IDTagDistribution           string `json:"idTagDistribution,omitempty"`

	Power                   FloatList    `json:"power,omitempty"`
	PowerUnit               PowerUnit    `json:"powerUnit,omitempty"`
	PowerSharedByConnectors bool         `json:"powerSharedByConnectors,omitempty"`
	VoltageOut              float64      `json:"voltageOut,omitempty"`
	CurrentOutType          CurrentType  `json:"currentOutType,omitempty"`
	NumberOfPhases          int          `json:"numberOfPhases,omitempty"`
	AmperageLimitationUnit  AmperageUnit `json:"amperageLimitationUnit,omitempty"`

	ResetTime             int  `json:"resetTime,omitempty"` // seconds
	AutoRegister          bool `json:"autoRegister,omitempty"`
	WebSocketPingInterval *int `json:"webSocketPingInterval,omitempty"`

	Connectors map[string]ConnectorSpec `json:"Connectors,omitempty"`
	Evses      map[string]EvseSpec      `json:"Evses,omitempty"`

	Configuration []ConfigurationKey `json:"Configuration,omitempty"`
	ATG           *ATGConfig         `json:"AutomaticTransactionGenerator,omitempty"`
}

// Load reads, parses and migrates a template file. Invalid templates are a
// fatal configuration error at station construction.
func Load(path string, logger *slog.Logger) (*Template, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	var tpl Template
	if err := json.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("parse template %s: %w", path, err)
	}
	if tpl.BaseName == "" {
		return nil, fmt.Errorf("template %s: baseName is required", path)
	}
	tpl.migrate(path, logger)
	tpl.applyDefaults()
	return &tpl, nil
}

// migrate rewrites deprecated keys to their current forms.
func (t *Template) migrate(path string, logger *slog.Logger) {
	if t.DeprecatedSupervisionURL != "" && len(t.SupervisionURLs) == 0 {
		logger.Warn("template uses deprecated key 'supervisionUrl', use 'supervisionUrls'", "template", path)
		t.SupervisionURLs = StringList{t.DeprecatedSupervisionURL}
	}
	if t.DeprecatedAuthorizationFile != "" && t.IDTagsFile == "" {
		logger.Warn("template uses deprecated key 'authorizationFile', use 'idTagsFile'", "template", path)
		t.IDTagsFile = t.DeprecatedAuthorizationFile
	}
	if t.DeprecatedPayloadSchemaValidation != nil && t.OCPPStrictCompliance == nil {
		logger.Warn("template uses deprecated key 'payloadSchemaValidation', use 'ocppStrictCompliance'", "template", path)
		t.OCPPStrictCompliance = t.DeprecatedPayloadSchemaValidation
	}
}

func (t *Template) applyDefaults() {
	if t.OCPPVersion == "" {
		t.OCPPVersion = Version16
	}
	// 2.0 speaks the 2.0.1 wire protocol.
	if t.OCPPVersion == Version20 {
		t.OCPPVersion = Version201
	}
	if t.VoltageOut == 0 {
		if t.CurrentOutType == CurrentDC {
			t.VoltageOut = 400
		} else {
			t.VoltageOut = 230
		}
	}
	if t.CurrentOutType == "" {
		t.CurrentOutType = CurrentAC
	}
	if t.NumberOfPhases == 0 && t.CurrentOutType == CurrentAC {
		t.NumberOfPhases = 3
	}
	if t.PowerUnit == "" {
		t.PowerUnit = PowerUnitWatt
	}
	if t.ResetTime == 0 {
		t.ResetTime = 60
	}
}

// MaximumPower resolves the template power to watts, picking the entry for
// the station index when a list is given.
func (t *Template) MaximumPower(stationIndex int) float64 {
	if len(t.Power) == 0 {
		return 0
	}
	p := t.Power[(stationIndex-1+len(t.Power))%len(t.Power)]
	if t.PowerUnit == PowerUnitKiloWatt {
		p *= 1000
	}
	return p
}

// ConnectorCount resolves numberOfConnectors, preferring the explicit
// Connectors table; a list value picks by station index.
func (t *Template) ConnectorCount(stationIndex int) int {
	if n := len(t.Connectors); n > 0 {
		// Connector 0 does not count as a chargeable connector.
		if _, hasZero := t.Connectors["0"]; hasZero {
			return n - 1
		}
		return n
	}
	if len(t.NumberOfConnectors) > 0 {
		return t.NumberOfConnectors[(stationIndex-1+len(t.NumberOfConnectors))%len(t.NumberOfConnectors)]
	}
	return 1
}
