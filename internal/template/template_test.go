package template

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemplate(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "station.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeTemplate(t, `{
		"baseName": "CS-TEST",
		"chargePointVendor": "ACME",
		"chargePointModel": "Simulated",
		"power": 22,
		"powerUnit": "kW"
	}`)

	tpl, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, Version16, tpl.OCPPVersion)
	assert.Equal(t, CurrentAC, tpl.CurrentOutType)
	assert.Equal(t, 230.0, tpl.VoltageOut)
	assert.Equal(t, 3, tpl.NumberOfPhases)
	assert.Equal(t, 60, tpl.ResetTime)
	assert.Equal(t, 22000.0, tpl.MaximumPower(1))
	assert.Equal(t, 1, tpl.ConnectorCount(1))
}

func TestLoadMigratesDeprecatedKeys(t *testing.T) {
	path := writeTemplate(t, `{
		"baseName": "CS-OLD",
		"supervisionUrl": "ws://old.example/ocpp",
		"authorizationFile": "tags.json",
		"payloadSchemaValidation": false
	}`)

	tpl, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, StringList{"ws://old.example/ocpp"}, tpl.SupervisionURLs)
	assert.Equal(t, "tags.json", tpl.IDTagsFile)
	require.NotNil(t, tpl.OCPPStrictCompliance)
	assert.False(t, *tpl.OCPPStrictCompliance)
}

func TestNewKeysWinOverDeprecated(t *testing.T) {
	path := writeTemplate(t, `{
		"baseName": "CS-BOTH",
		"supervisionUrl": "ws://old.example/ocpp",
		"supervisionUrls": ["ws://a.example", "ws://b.example"],
		"authorizationFile": "old.json",
		"idTagsFile": "new.json"
	}`)

	tpl, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, StringList{"ws://a.example", "ws://b.example"}, tpl.SupervisionURLs)
	assert.Equal(t, "new.json", tpl.IDTagsFile)
}

func TestScalarOrListFields(t *testing.T) {
	path := writeTemplate(t, `{
		"baseName": "CS-LIST",
		"numberOfConnectors": [2, 4],
		"power": [11, 22],
		"powerUnit": "kW"
	}`)

	tpl, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, tpl.ConnectorCount(1))
	assert.Equal(t, 4, tpl.ConnectorCount(2))
	assert.Equal(t, 2, tpl.ConnectorCount(3)) // wraps around
	assert.Equal(t, 11000.0, tpl.MaximumPower(1))
	assert.Equal(t, 22000.0, tpl.MaximumPower(2))
}

func TestConnectorsTableOverridesCount(t *testing.T) {
	path := writeTemplate(t, `{
		"baseName": "CS-CONN",
		"numberOfConnectors": 8,
		"Connectors": {
			"0": {},
			"1": {"bootStatus": "Available"},
			"2": {"bootStatus": "Available"}
		}
	}`)

	tpl, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, tpl.ConnectorCount(1))
}

func TestVersion20MapsTo201(t *testing.T) {
	path := writeTemplate(t, `{"baseName": "CS-20", "ocppVersion": "2.0"}`)
	tpl, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, Version201, tpl.OCPPVersion)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)

	path := writeTemplate(t, `{"chargePointVendor": "ACME"}`)
	_, err = Load(path, nil)
	assert.ErrorContains(t, err, "baseName")

	path = writeTemplate(t, `{not json`)
	_, err = Load(path, nil)
	assert.Error(t, err)
}

func TestWatcherFiresOnWrite(t *testing.T) {
	path := writeTemplate(t, `{"baseName": "CS-WATCH"}`)

	w, err := NewWatcher(nil)
	require.NoError(t, err)
	defer w.Close()

	fired := make(chan struct{}, 4)
	require.NoError(t, w.Subscribe(path, func() { fired <- struct{}{} }))

	require.NoError(t, os.WriteFile(path, []byte(`{"baseName": "CS-WATCH-2"}`), 0o644))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not fire on write")
	}
}
