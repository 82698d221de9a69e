package ocppj

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCall(t *testing.T) {
	data, err := MarshalCall("abc-123", "BootNotification", map[string]string{
		"chargePointVendor": "Acme",
		"chargePointModel":  "X1",
	})
	require.NoError(t, err)

	var elems []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &elems))
	require.Len(t, elems, 4)
	assert.JSONEq(t, "2", string(elems[0]))
	assert.JSONEq(t, `"abc-123"`, string(elems[1]))
	assert.JSONEq(t, `"BootNotification"`, string(elems[2]))
	assert.JSONEq(t, `{"chargePointVendor":"Acme","chargePointModel":"X1"}`, string(elems[3]))
}

func TestUnmarshalCallResult(t *testing.T) {
	f, err := Unmarshal([]byte(`[3,"id-1",{"status":"Accepted","interval":60}]`))
	require.NoError(t, err)
	assert.Equal(t, MessageTypeCallResult, f.Type)
	assert.Equal(t, "id-1", f.MessageID)
	assert.JSONEq(t, `{"status":"Accepted","interval":60}`, string(f.Payload))
}

func TestUnmarshalCall(t *testing.T) {
	f, err := Unmarshal([]byte(`[2,"id-2","Reset",{"type":"Soft"}]`))
	require.NoError(t, err)
	assert.Equal(t, MessageTypeCall, f.Type)
	assert.Equal(t, "Reset", f.Action)
	assert.JSONEq(t, `{"type":"Soft"}`, string(f.Payload))
}

func TestUnmarshalCallError(t *testing.T) {
	f, err := Unmarshal([]byte(`[4,"id-3","NotImplemented","no such action",{"detail":1}]`))
	require.NoError(t, err)
	assert.Equal(t, MessageTypeCallError, f.Type)
	assert.Equal(t, ErrNotImplemented, f.ErrorCode)
	assert.Equal(t, "no such action", f.ErrorDescription)
	assert.Equal(t, float64(1), f.ErrorDetails["detail"])
}

func TestUnmarshalMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not an array", `{"a":1}`},
		{"too short", `[2,"x"]`},
		{"bad message type", `[9,"x",{}]`},
		{"call without payload", `[2,"x","Reset"]`},
		{"empty message id", `[3,"",{}]`},
		{"oversized message id", `[3,"0123456789012345678901234567890123456789",{}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestMarshalCallErrorDefaultsDetails(t *testing.T) {
	data, err := MarshalCallError("id-4", NewError(ErrInternalError, "boom"))
	require.NoError(t, err)
	assert.JSONEq(t, `[4,"id-4","InternalError","boom",{}]`, string(data))
}
