// Package v201 is the OCPP 2.0.1 protocol binding: the device model variable
// manager, wire payload types, the outgoing request service and the incoming
// call dispatcher.
package v201

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/evfleet/ocppsim/internal/configstore"
)

// DataType of a device model variable.
type DataType string

const (
	TypeString       DataType = "string"
	TypeInteger      DataType = "integer"
	TypeDecimal      DataType = "decimal"
	TypeBoolean      DataType = "boolean"
	TypeDateTime     DataType = "dateTime"
	TypeOptionList   DataType = "OptionList"
	TypeSequenceList DataType = "SequenceList"
	TypeMemberList   DataType = "MemberList"
)

// Mutability of a variable's Actual attribute.
type Mutability string

const (
	ReadOnly  Mutability = "ReadOnly"
	WriteOnly Mutability = "WriteOnly"
	ReadWrite Mutability = "ReadWrite"
)

// Attribute types addressable on a variable.
type Attribute string

const (
	AttrActual Attribute = "Actual"
	AttrTarget Attribute = "Target"
	AttrMinSet Attribute = "MinSet"
	AttrMaxSet Attribute = "MaxSet"
)

// ReasonCode refines a Rejected Get/Set result. Never an error value; always
// part of the typed result.
type ReasonCode string

const (
	ReasonNotFound         ReasonCode = "NotFound"
	ReasonInvalidValue     ReasonCode = "InvalidValue"
	ReasonUnsupportedParam ReasonCode = "UnsupportedParam"
	ReasonWriteOnly        ReasonCode = "WriteOnly"
	ReasonReadOnly         ReasonCode = "ReadOnly"
	ReasonValueTooLow      ReasonCode = "ValueTooLow"
	ReasonValueTooHigh     ReasonCode = "ValueTooHigh"
	ReasonTooLargeElement  ReasonCode = "TooLargeElement"
	ReasonNotEnabled       ReasonCode = "NotEnabled"
	ReasonInternalError    ReasonCode = "InternalError"
	ReasonNoError          ReasonCode = "NoError"
)

// Attribute status values on the 2.0.1 wire.
const (
	StatusAccepted                  = "Accepted"
	StatusRejected                  = "Rejected"
	StatusRebootRequired            = "RebootRequired"
	StatusUnknownComponent          = "UnknownComponent"
	StatusUnknownVariable           = "UnknownVariable"
	StatusNotSupportedAttributeType = "NotSupportedAttributeType"
)

// additionalInfoLimit caps the free-text detail attached to a result.
const additionalInfoLimit = 50

// defaultValueSizeLimit is the ceiling on Set values when no
// DeviceDataCtrlr size keys narrow it.
const defaultValueSizeLimit = 2500

// Runtime is what the device model needs from the owning station.
type Runtime interface {
	ConfigStore() *configstore.Store
	OCPP20Variable(key string) (string, bool)
	SetOCPP20Variable(key, value string)
	RestartHeartbeat(interval time.Duration)
	HeartbeatInterval() time.Duration
	Logger() *slog.Logger
}

// VariableRecord is the registry metadata of one device model variable.
type VariableRecord struct {
	Component string
	Variable  string

	DataType   DataType
	Mutability Mutability
	// Persistent variables write through to the configuration store;
	// volatile ones live in the runtime override map only.
	Persistent bool
	// PersistKey overrides the store key. Variables sharing a 1.6
	// configuration key set it; it also disambiguates same-named
	// variables across components.
	PersistKey string
	Attributes []Attribute

	Min *float64
	Max *float64
	// Members constrains OptionList/SequenceList/MemberList values.
	Members []string

	Default        *string
	RebootRequired bool
	// InstanceScoped variables are per EVSE or connector and never
	// auto-seeded by the self-check.
	InstanceScoped bool

	// NoPersist accepts Sets without writing them anywhere.
	NoPersist bool

	// Resolve supplies a dynamic Actual value from the runtime.
	Resolve func(rt Runtime) (string, bool)
	// PostProcess transforms a resolved value before it is returned.
	PostProcess func(value string) string
	// OnSet runs after an accepted Actual write.
	OnSet func(rt Runtime, value string)
}

func (r *VariableRecord) supportsAttribute(attr Attribute) bool {
	for _, a := range r.Attributes {
		if a == attr {
			return true
		}
	}
	return false
}

// GetResult is the typed outcome of one GetVariables item.
type GetResult struct {
	Status         string
	Value          string
	ReasonCode     ReasonCode
	AdditionalInfo string
}

// SetResult is the typed outcome of one SetVariables item.
type SetResult struct {
	Status         string
	ReasonCode     ReasonCode
	AdditionalInfo string
}

// Model is the station-scoped device model: the variable registry plus the
// volatile override map and the set of keys marked invalid by the startup
// self-check.
type Model struct {
	rt       Runtime
	registry map[string]*VariableRecord
	ordered  []*VariableRecord
	volatile map[string]string
	invalid  map[string]bool
	logger   *slog.Logger
}

// NewModel builds the model over the standard registry and runs the startup
// self-check.
func NewModel(rt Runtime) *Model {
	m := &Model{
		rt:       rt,
		registry: make(map[string]*VariableRecord),
		volatile: make(map[string]string),
		invalid:  make(map[string]bool),
		logger:   rt.Logger(),
	}
	for _, rec := range standardRegistry() {
		m.register(rec)
	}
	m.performMappingSelfCheck()
	return m
}

func (m *Model) register(rec *VariableRecord) {
	m.registry[registryKey(rec.Component, rec.Variable)] = rec
	m.ordered = append(m.ordered, rec)
}

func registryKey(component, variable string) string {
	return component + "." + variable
}

// persistKey is the configuration store key of a persistent variable,
// qualified with the variable instance when present.
func persistKey(rec *VariableRecord, variableInstance string) string {
	base := rec.Variable
	if rec.PersistKey != "" {
		base = rec.PersistKey
	}
	if variableInstance != "" {
		return base + "." + variableInstance
	}
	return base
}

// compositeKey identifies one addressed variable including instances.
func compositeKey(component, componentInstance, variable, variableInstance string) string {
	key := component
	if componentInstance != "" {
		key += "[" + componentInstance + "]"
	}
	key += "." + variable
	if variableInstance != "" {
		key += "[" + variableInstance + "]"
	}
	return key
}

// performMappingSelfCheck seeds defaults for persistent variables and marks
// entries that have neither a default nor a stored value as invalid. A Get on
// an invalid key reports InternalError until a successful Set clears it.
func (m *Model) performMappingSelfCheck() {
	store := m.rt.ConfigStore()
	for _, rec := range m.ordered {
		if !rec.Persistent || rec.Mutability == WriteOnly || rec.InstanceScoped {
			continue
		}
		key := persistKey(rec, "")
		if _, ok := store.Get(key); ok {
			continue
		}
		if rec.Default != nil {
			store.Add(configstore.Key{Key: key, Value: *rec.Default, Visible: false})
			continue
		}
		if rec.Resolve != nil {
			// Dynamically resolved variables need no stored value.
			continue
		}
		composite := compositeKey(rec.Component, "", rec.Variable, "")
		m.invalid[composite] = true
		m.logger.Warn("device model variable has no value and no default",
			"component", rec.Component, "variable", rec.Variable)
	}
}

// lookup validates component and variable existence.
func (m *Model) lookup(component, variable string) (*VariableRecord, string) {
	known := false
	for _, rec := range m.ordered {
		if rec.Component == component {
			known = true
			break
		}
	}
	if !known {
		return nil, StatusUnknownComponent
	}
	rec, ok := m.registry[registryKey(component, variable)]
	if !ok {
		return nil, StatusUnknownVariable
	}
	return rec, ""
}

// overrideKey addresses a MinSet/MaxSet override in the persisted variable
// map.
func overrideKey(component, variable, variableInstance string, attr Attribute) string {
	return compositeKey(component, "", variable, variableInstance) + "#" + string(attr)
}

// Get implements the GetVariables algorithm for one item.
func (m *Model) Get(component, componentInstance, variable, variableInstance string, attr Attribute) GetResult {
	if attr == "" {
		attr = AttrActual
	}

	rec, status := m.lookup(component, variable)
	if rec == nil {
		return GetResult{Status: status}
	}
	if !rec.supportsAttribute(attr) {
		return GetResult{Status: StatusNotSupportedAttributeType}
	}
	if rec.Mutability == WriteOnly && (attr == AttrActual || attr == AttrTarget) {
		return GetResult{Status: StatusRejected, ReasonCode: ReasonWriteOnly}
	}

	// Invalid marks are per variable; the self-check never addresses
	// instances.
	if m.invalid[compositeKey(component, "", variable, "")] {
		return GetResult{
			Status:         StatusRejected,
			ReasonCode:     ReasonInternalError,
			AdditionalInfo: truncateInfo("variable failed the startup self-check"),
		}
	}

	if attr == AttrMinSet || attr == AttrMaxSet {
		if v, ok := m.rt.OCPP20Variable(overrideKey(component, variable, variableInstance, attr)); ok {
			return GetResult{Status: StatusAccepted, Value: v}
		}
		bound := rec.Min
		if attr == AttrMaxSet {
			bound = rec.Max
		}
		if bound == nil {
			return GetResult{Status: StatusRejected, ReasonCode: ReasonNotFound}
		}
		return GetResult{Status: StatusAccepted, Value: formatBound(*bound, rec.DataType)}
	}

	value, ok := m.resolve(rec, componentInstance, variableInstance)
	if !ok || value == "" {
		return GetResult{Status: StatusRejected, ReasonCode: ReasonInvalidValue}
	}
	if rec.PostProcess != nil {
		value = rec.PostProcess(value)
	}
	value = m.truncateToReportingSize(value)
	if value == "" {
		return GetResult{Status: StatusRejected, ReasonCode: ReasonInvalidValue}
	}
	return GetResult{Status: StatusAccepted, Value: value}
}

// resolve walks the value chain: volatile override, persistent store,
// metadata default, dynamic resolver. The volatile map is keyed by the full
// address, so Set and Get must pass the same instances.
func (m *Model) resolve(rec *VariableRecord, componentInstance, variableInstance string) (string, bool) {
	composite := compositeKey(rec.Component, componentInstance, rec.Variable, variableInstance)
	if v, ok := m.volatile[composite]; ok {
		return v, true
	}
	if rec.Persistent {
		if k, ok := m.rt.ConfigStore().Get(persistKey(rec, variableInstance)); ok {
			return k.Value, true
		}
	}
	if rec.Default != nil {
		return *rec.Default, true
	}
	if rec.Resolve != nil {
		return rec.Resolve(m.rt)
	}
	return "", false
}

// truncateToReportingSize applies DeviceDataCtrlr.ValueSize then
// DeviceDataCtrlr.ReportingValueSize.
func (m *Model) truncateToReportingSize(value string) string {
	if limit := m.positiveIntKey("ValueSize"); limit > 0 && len(value) > limit {
		value = value[:limit]
	}
	if limit := m.positiveIntKey("ReportingValueSize"); limit > 0 && len(value) > limit {
		value = value[:limit]
	}
	return value
}

func (m *Model) positiveIntKey(key string) int {
	n, err := strconv.Atoi(m.rt.ConfigStore().Value(key))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// effectiveSetSizeLimit is min(positive ConfigurationValueSize, positive
// ValueSize, 2500).
func (m *Model) effectiveSetSizeLimit() int {
	limit := defaultValueSizeLimit
	if n := m.positiveIntKey("ConfigurationValueSize"); n > 0 && n < limit {
		limit = n
	}
	if n := m.positiveIntKey("ValueSize"); n > 0 && n < limit {
		limit = n
	}
	return limit
}

// Set implements the SetVariables algorithm for one item.
func (m *Model) Set(component, componentInstance, variable, variableInstance string, attr Attribute, value string) SetResult {
	if attr == "" {
		attr = AttrActual
	}

	rec, status := m.lookup(component, variable)
	if rec == nil {
		return SetResult{Status: status}
	}
	if !rec.supportsAttribute(attr) {
		return SetResult{Status: StatusNotSupportedAttributeType}
	}
	if rec.Mutability == ReadOnly && (attr == AttrActual || attr == AttrTarget) {
		return SetResult{Status: StatusRejected, ReasonCode: ReasonReadOnly}
	}

	if limit := m.effectiveSetSizeLimit(); len(value) > limit {
		return SetResult{
			Status:         StatusRejected,
			ReasonCode:     ReasonTooLargeElement,
			AdditionalInfo: truncateInfo(fmt.Sprintf("Value length exceeds effective size limit (%d)", limit)),
		}
	}

	if attr == AttrMinSet || attr == AttrMaxSet {
		return m.setBoundOverride(rec, component, variableInstance, attr, value)
	}

	if res := m.validateValue(rec, component, variableInstance, value); res != nil {
		return *res
	}

	composite := compositeKey(component, componentInstance, variable, variableInstance)
	previous, _ := m.resolve(rec, componentInstance, variableInstance)

	switch {
	case rec.NoPersist:
		// Accepted but deliberately not stored anywhere.
	case rec.Persistent && rec.Mutability != WriteOnly && !rec.InstanceScoped:
		m.rt.ConfigStore().ForceSet(persistKey(rec, variableInstance), value)
	default:
		m.volatile[composite] = value
	}
	delete(m.invalid, compositeKey(component, "", variable, ""))

	if rec.OnSet != nil {
		rec.OnSet(m.rt, value)
	}

	if rec.RebootRequired && previous != value {
		return SetResult{Status: StatusRebootRequired}
	}
	return SetResult{Status: StatusAccepted}
}

// setBoundOverride stores a MinSet/MaxSet override. Only integer variables
// accept bound overrides, and MinSet must stay at or below MaxSet.
func (m *Model) setBoundOverride(rec *VariableRecord, component, variableInstance string, attr Attribute, value string) SetResult {
	if rec.DataType != TypeInteger {
		return SetResult{
			Status:         StatusRejected,
			ReasonCode:     ReasonInvalidValue,
			AdditionalInfo: truncateInfo("bound overrides require an integer variable"),
		}
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return SetResult{Status: StatusRejected, ReasonCode: ReasonInvalidValue}
	}

	other := AttrMaxSet
	if attr == AttrMaxSet {
		other = AttrMinSet
	}
	if raw, ok := m.rt.OCPP20Variable(overrideKey(component, rec.Variable, variableInstance, other)); ok {
		o, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			if (attr == AttrMinSet && n > o) || (attr == AttrMaxSet && n < o) {
				return SetResult{
					Status:         StatusRejected,
					ReasonCode:     ReasonInvalidValue,
					AdditionalInfo: truncateInfo("MinSet must not exceed MaxSet"),
				}
			}
		}
	}

	m.rt.SetOCPP20Variable(overrideKey(component, rec.Variable, variableInstance, attr), value)
	return SetResult{Status: StatusAccepted}
}

var decimalPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// validateValue applies type-specific validation and range checks; nil means
// the value is acceptable.
func (m *Model) validateValue(rec *VariableRecord, component, variableInstance, value string) *SetResult {
	reject := func(code ReasonCode, info string) *SetResult {
		return &SetResult{Status: StatusRejected, ReasonCode: code, AdditionalInfo: truncateInfo(info)}
	}

	switch rec.DataType {
	case TypeInteger:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return reject(ReasonInvalidValue, "integer value expected")
		}
		return m.checkRange(rec, component, variableInstance, float64(n))
	case TypeDecimal:
		if !decimalPattern.MatchString(value) {
			return reject(ReasonInvalidValue, "decimal value expected")
		}
		n, _ := strconv.ParseFloat(value, 64)
		return m.checkRange(rec, component, variableInstance, n)
	case TypeBoolean:
		if value != "true" && value != "false" {
			return reject(ReasonInvalidValue, "boolean value expected")
		}
	case TypeDateTime:
		if _, err := time.Parse(time.RFC3339, value); err != nil {
			return reject(ReasonInvalidValue, "dateTime value expected")
		}
	case TypeOptionList:
		if !containsMember(rec.Members, value) {
			return reject(ReasonInvalidValue, "value not in option list")
		}
	case TypeSequenceList, TypeMemberList:
		for _, element := range strings.Split(value, ",") {
			if !containsMember(rec.Members, strings.TrimSpace(element)) {
				return reject(ReasonInvalidValue, "list element not allowed")
			}
		}
	}
	return nil
}

// checkRange enforces the metadata bounds, then the MinSet/MaxSet overrides.
func (m *Model) checkRange(rec *VariableRecord, component, variableInstance string, n float64) *SetResult {
	if rec.Min != nil && n < *rec.Min {
		return &SetResult{Status: StatusRejected, ReasonCode: ReasonValueTooLow}
	}
	if rec.Max != nil && n > *rec.Max {
		return &SetResult{Status: StatusRejected, ReasonCode: ReasonValueTooHigh}
	}
	if raw, ok := m.rt.OCPP20Variable(overrideKey(component, rec.Variable, variableInstance, AttrMinSet)); ok {
		if bound, err := strconv.ParseFloat(raw, 64); err == nil && n < bound {
			return &SetResult{Status: StatusRejected, ReasonCode: ReasonValueTooLow}
		}
	}
	if raw, ok := m.rt.OCPP20Variable(overrideKey(component, rec.Variable, variableInstance, AttrMaxSet)); ok {
		if bound, err := strconv.ParseFloat(raw, 64); err == nil && n > bound {
			return &SetResult{Status: StatusRejected, ReasonCode: ReasonValueTooHigh}
		}
	}
	return nil
}

func containsMember(members []string, value string) bool {
	for _, m := range members {
		if m == value {
			return true
		}
	}
	return false
}

func formatBound(v float64, dt DataType) string {
	if dt == TypeInteger {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncateInfo(info string) string {
	if len(info) > additionalInfoLimit {
		return info[:additionalInfoLimit]
	}
	return info
}

// Components lists the registered component names for report generation.
func (m *Model) Components() []string {
	seen := make(map[string]bool)
	var out []string
	for _, rec := range m.ordered {
		if !seen[rec.Component] {
			seen[rec.Component] = true
			out = append(out, rec.Component)
		}
	}
	return out
}

// Records returns the registry entries in registration order.
func (m *Model) Records() []*VariableRecord {
	return m.ordered
}
