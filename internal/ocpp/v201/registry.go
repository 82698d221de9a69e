package v201

import (
	"strconv"
	"time"

	"github.com/evfleet/ocppsim/internal/configstore"
)

// Component names of the standard device model.
const (
	ComponentChargingStation    = "ChargingStation"
	ComponentOCPPCommCtrlr      = "OCPPCommCtrlr"
	ComponentDeviceDataCtrlr    = "DeviceDataCtrlr"
	ComponentSecurityCtrlr      = "SecurityCtrlr"
	ComponentAuthCtrlr          = "AuthCtrlr"
	ComponentLocalAuthListCtrlr = "LocalAuthListCtrlr"
	ComponentTxCtrlr            = "TxCtrlr"
	ComponentSampledDataCtrlr   = "SampledDataCtrlr"
	ComponentAlignedDataCtrlr   = "AlignedDataCtrlr"
)

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

var actualOnly = []Attribute{AttrActual}
var actualWithBounds = []Attribute{AttrActual, AttrMinSet, AttrMaxSet}

// standardRegistry is the device model shipped by every simulated station.
// Several persistent entries share their backing key with the 1.6
// configuration store so a single persistence layer serves both versions.
func standardRegistry() []*VariableRecord {
	return []*VariableRecord{
		{
			Component:  ComponentOCPPCommCtrlr,
			Variable:   "HeartbeatInterval",
			DataType:   TypeInteger,
			Mutability: ReadWrite,
			Persistent: true,
			PersistKey: configstore.KeyHeartbeatInterval,
			Attributes: actualWithBounds,
			Min:        floatPtr(0),
			Resolve: func(rt Runtime) (string, bool) {
				return strconv.Itoa(int(rt.HeartbeatInterval() / time.Second)), true
			},
			OnSet: func(rt Runtime, value string) {
				n, err := strconv.Atoi(value)
				if err != nil || n <= 0 {
					return
				}
				rt.ConfigStore().ForceSet(configstore.KeyHeartBeatInterval, value)
				rt.RestartHeartbeat(time.Duration(n) * time.Second)
			},
		},
		{
			Component:  ComponentOCPPCommCtrlr,
			Variable:   "WebSocketPingInterval",
			DataType:   TypeInteger,
			Mutability: ReadWrite,
			Persistent: true,
			PersistKey: configstore.KeyWebSocketPingInterval,
			Attributes: actualOnly,
			Min:        floatPtr(0),
			Default:    strPtr("60"),
			OnSet: func(rt Runtime, value string) {
				// The ping loop reads its interval on (re)connect.
				rt.Logger().Info("ping interval updated, applies on next connection", "interval", value)
			},
		},
		{
			Component:  ComponentOCPPCommCtrlr,
			Variable:   "OfflineThreshold",
			DataType:   TypeInteger,
			Mutability: ReadWrite,
			Persistent: true,
			Attributes: actualOnly,
			Min:        floatPtr(0),
			Default:    strPtr("60"),
		},
		{
			Component:  ComponentDeviceDataCtrlr,
			Variable:   "ValueSize",
			DataType:   TypeInteger,
			Mutability: ReadWrite,
			Persistent: true,
			Attributes: actualOnly,
			Min:        floatPtr(0),
			Max:        floatPtr(defaultValueSizeLimit),
			Default:    strPtr("2500"),
		},
		{
			Component:  ComponentDeviceDataCtrlr,
			Variable:   "ReportingValueSize",
			DataType:   TypeInteger,
			Mutability: ReadWrite,
			Persistent: true,
			Attributes: actualOnly,
			Min:        floatPtr(0),
			Max:        floatPtr(defaultValueSizeLimit),
			Default:    strPtr("2500"),
		},
		{
			Component:  ComponentDeviceDataCtrlr,
			Variable:   "ConfigurationValueSize",
			DataType:   TypeInteger,
			Mutability: ReadWrite,
			Persistent: true,
			Attributes: actualOnly,
			Min:        floatPtr(0),
			Max:        floatPtr(defaultValueSizeLimit),
			Default:    strPtr("2500"),
		},
		{
			Component:      ComponentDeviceDataCtrlr,
			Variable:       "ItemsPerMessage",
			DataType:       TypeInteger,
			Mutability:     ReadWrite,
			Attributes:     actualOnly,
			Min:            floatPtr(1),
			Default:        strPtr("4"),
			InstanceScoped: true,
		},
		{
			Component:  ComponentSecurityCtrlr,
			Variable:   "OrganizationName",
			DataType:   TypeString,
			Mutability: ReadWrite,
			Attributes: actualOnly,
			Default:    strPtr(""),
			NoPersist:  true,
		},
		{
			Component:  ComponentSecurityCtrlr,
			Variable:   "SecurityProfile",
			DataType:   TypeInteger,
			Mutability: ReadOnly,
			Attributes: actualOnly,
			Default:    strPtr("1"),
		},
		{
			Component:  ComponentSecurityCtrlr,
			Variable:   "BasicAuthPassword",
			DataType:   TypeString,
			Mutability: WriteOnly,
			Attributes: actualOnly,
		},
		{
			Component:  ComponentAuthCtrlr,
			Variable:   "Enabled",
			DataType:   TypeBoolean,
			Mutability: ReadWrite,
			Persistent: true,
			PersistKey: "AuthEnabled",
			Attributes: actualOnly,
			Default:    strPtr("true"),
		},
		{
			Component:  ComponentAuthCtrlr,
			Variable:   "LocalAuthorizeOffline",
			DataType:   TypeBoolean,
			Mutability: ReadWrite,
			Persistent: true,
			PersistKey: configstore.KeyLocalAuthorizeOffline,
			Attributes: actualOnly,
			Default:    strPtr("true"),
		},
		{
			Component:  ComponentAuthCtrlr,
			Variable:   "LocalPreAuthorize",
			DataType:   TypeBoolean,
			Mutability: ReadWrite,
			Persistent: true,
			Attributes: actualOnly,
			Default:    strPtr("false"),
		},
		{
			Component:  ComponentLocalAuthListCtrlr,
			Variable:   "Enabled",
			DataType:   TypeBoolean,
			Mutability: ReadWrite,
			Persistent: true,
			PersistKey: configstore.KeyLocalAuthListEnabled,
			Attributes: actualOnly,
			Default:    strPtr("true"),
		},
		{
			Component:  ComponentTxCtrlr,
			Variable:   "StopTxOnInvalidId",
			DataType:   TypeBoolean,
			Mutability: ReadWrite,
			Persistent: true,
			Attributes: actualOnly,
			Default:    strPtr("true"),
		},
		{
			Component:  ComponentTxCtrlr,
			Variable:   "StopTxOnEVSideDisconnect",
			DataType:   TypeBoolean,
			Mutability: ReadOnly,
			Attributes: actualOnly,
			Default:    strPtr("true"),
		},
		{
			Component:  ComponentTxCtrlr,
			Variable:   "EVConnectionTimeOut",
			DataType:   TypeInteger,
			Mutability: ReadWrite,
			Persistent: true,
			PersistKey: configstore.KeyConnectionTimeOut,
			Attributes: actualWithBounds,
			Min:        floatPtr(0),
			Max:        floatPtr(3600),
			Default:    strPtr("120"),
		},
		{
			Component:  ComponentSampledDataCtrlr,
			Variable:   "TxUpdatedInterval",
			DataType:   TypeInteger,
			Mutability: ReadWrite,
			Persistent: true,
			PersistKey: configstore.KeyMeterValueSampleInterval,
			Attributes: actualWithBounds,
			Min:        floatPtr(0),
			Default:    strPtr("60"),
		},
		{
			Component:  ComponentSampledDataCtrlr,
			Variable:   "TxUpdatedMeasurands",
			DataType:   TypeMemberList,
			Mutability: ReadWrite,
			Persistent: true,
			Attributes: actualOnly,
			Members: []string{
				"Energy.Active.Import.Register",
				"Power.Active.Import",
				"Voltage",
				"SoC",
			},
			Default: strPtr("Energy.Active.Import.Register"),
		},
		{
			Component:  ComponentAlignedDataCtrlr,
			Variable:   "Interval",
			DataType:   TypeInteger,
			Mutability: ReadWrite,
			Persistent: true,
			PersistKey: "AlignedDataInterval",
			Attributes: actualOnly,
			Min:        floatPtr(0),
			Default:    strPtr("900"),
		},
		{
			Component:  ComponentChargingStation,
			Variable:   "AvailabilityState",
			DataType:   TypeOptionList,
			Mutability: ReadOnly,
			Attributes: actualOnly,
			Members:    []string{"Available", "Occupied", "Reserved", "Unavailable", "Faulted"},
			Default:    strPtr("Available"),
		},
	}
}
