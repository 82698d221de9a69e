package station

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/evfleet/ocppsim/internal/template"
)

// Identity is the runtime identity derived from a template. Serial numbers
// are generated once and survive template reloads as long as the template's
// serial prefixes are unchanged.
type Identity struct {
	Name          string `json:"name"`
	Index         int    `json:"index"`
	InstanceIndex int    `json:"instanceIndex"`
	HashID        string `json:"hashId"`

	Vendor          string `json:"chargePointVendor"`
	Model           string `json:"chargePointModel"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`

	ChargeBoxSerialNumber   string `json:"chargeBoxSerialNumber,omitempty"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty"`
	MeterSerialNumber       string `json:"meterSerialNumber,omitempty"`

	// Prefixes are persisted so a reload can tell whether serial numbers may
	// carry over.
	ChargeBoxSerialPrefix   string `json:"chargeBoxSerialNumberPrefix,omitempty"`
	ChargePointSerialPrefix string `json:"chargePointSerialNumberPrefix,omitempty"`
	MeterSerialPrefix       string `json:"meterSerialNumberPrefix,omitempty"`
}

// NewIdentity derives the station identity. prev, when non-nil, is the
// identity of the instance being replaced on a template reload; its serial
// numbers carry over when the corresponding prefix is unchanged.
func NewIdentity(tpl *template.Template, index, instanceIndex int, prev *Identity) Identity {
	id := Identity{
		Name:            stationName(tpl, index, instanceIndex),
		Index:           index,
		InstanceIndex:   instanceIndex,
		Vendor:          tpl.ChargePointVendor,
		Model:           tpl.ChargePointModel,
		FirmwareVersion: tpl.FirmwareVersion,

		ChargeBoxSerialPrefix:   tpl.ChargeBoxSerialNumberPrefix,
		ChargePointSerialPrefix: tpl.ChargePointSerialNumberPrefix,
		MeterSerialPrefix:       tpl.MeterSerialNumberPrefix,
	}

	prevPrefix, prevValue := prevSerial(prev, func(p *Identity) (string, string) { return p.ChargeBoxSerialPrefix, p.ChargeBoxSerialNumber })
	id.ChargeBoxSerialNumber = carrySerial(tpl.ChargeBoxSerialNumberPrefix, prevPrefix, prevValue)
	prevPrefix, prevValue = prevSerial(prev, func(p *Identity) (string, string) { return p.ChargePointSerialPrefix, p.ChargePointSerialNumber })
	id.ChargePointSerialNumber = carrySerial(tpl.ChargePointSerialNumberPrefix, prevPrefix, prevValue)
	prevPrefix, prevValue = prevSerial(prev, func(p *Identity) (string, string) { return p.MeterSerialPrefix, p.MeterSerialNumber })
	id.MeterSerialNumber = carrySerial(tpl.MeterSerialNumberPrefix, prevPrefix, prevValue)

	id.HashID = hashIdentity(id)
	return id
}

// stationName formats the final station id: base name, instance index, a
// zero-padded station index and the optional suffix. fixedName templates use
// the base name verbatim.
func stationName(tpl *template.Template, index, instanceIndex int) string {
	if tpl.FixedName {
		return tpl.BaseName
	}
	return fmt.Sprintf("%s-%d%04d%s", tpl.BaseName, instanceIndex, index, tpl.NameSuffix)
}

// hashIdentity digests the stable identity fields. Generated serial numbers
// and other transient state never participate, so the hash is identical
// across restarts and is usable as the persistence key.
func hashIdentity(id Identity) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", id.Name, id.Vendor, id.Model, id.FirmwareVersion)
	return hex.EncodeToString(h.Sum(nil))
}

func prevSerial(prev *Identity, pick func(*Identity) (prefix, serial string)) (string, string) {
	if prev == nil {
		return "", ""
	}
	return pick(prev)
}

// carrySerial keeps the previous serial when the prefix is unchanged,
// otherwise generates a fresh one. An empty prefix means no serial at all.
func carrySerial(prefix, prevPrefix, prevValue string) string {
	if prefix == "" {
		return ""
	}
	if prefix == prevPrefix && prevValue != "" {
		return prevValue
	}
	return prefix + randomSerialSuffix()
}

func randomSerialSuffix() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf[:])
}
