package ocppj

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelatorResolveResult(t *testing.T) {
	c := NewCorrelator(nil)
	defer c.Stop()

	done := c.Register("m1", "Heartbeat", time.Second)
	c.ResolveResult("m1", json.RawMessage(`{"currentTime":"2024-01-01T00:00:00Z"}`))

	resp := <-done
	require.NoError(t, resp.Err)
	assert.JSONEq(t, `{"currentTime":"2024-01-01T00:00:00Z"}`, string(resp.Payload))
	assert.Equal(t, 0, c.PendingCount())
}

func TestCorrelatorResolveError(t *testing.T) {
	c := NewCorrelator(nil)
	defer c.Stop()

	done := c.Register("m2", "Authorize", time.Second)
	c.ResolveError("m2", NewError(ErrInternalError, "backend exploded"))

	resp := <-done
	var wireErr *Error
	require.ErrorAs(t, resp.Err, &wireErr)
	assert.Equal(t, ErrInternalError, wireErr.Code)
}

func TestCorrelatorTimeout(t *testing.T) {
	c := NewCorrelator(nil)
	c.reapInterval = 10 * time.Millisecond
	defer c.Stop()

	done := c.Register("m3", "StartTransaction", 20*time.Millisecond)
	c.reapExpired(time.Now().Add(time.Minute))

	select {
	case resp := <-done:
		assert.True(t, errors.Is(resp.Err, ErrRequestTimeout))
	case <-time.After(time.Second):
		t.Fatal("expected timeout resolution")
	}
	assert.Equal(t, 0, c.PendingCount())
}

func TestCorrelatorUnknownIDDropped(t *testing.T) {
	c := NewCorrelator(nil)
	defer c.Stop()

	// Must not panic or create phantom entries.
	c.ResolveResult("never-registered", json.RawMessage(`{}`))
	c.ResolveError("never-registered", NewError(ErrGenericError, ""))
	assert.Equal(t, 0, c.PendingCount())
}

func TestCorrelatorStopRejectsPending(t *testing.T) {
	c := NewCorrelator(nil)
	done := c.Register("m4", "MeterValues", time.Minute)
	c.Stop()

	resp := <-done
	assert.True(t, errors.Is(resp.Err, ErrRequestTimeout))
}
