// Package configstore holds the OCPP 1.6 style configuration keys for one
// station. The 2.0.1 device model mirrors its persistent variables into the
// same store so a single persistence layer serves both protocol versions.
package configstore

import (
	"sync"
)

// Well-known configuration keys.
const (
	KeyHeartBeatInterval         = "HeartBeatInterval"
	KeyHeartbeatInterval         = "HeartbeatInterval"
	KeyMeterValueSampleInterval  = "MeterValueSampleInterval"
	KeyWebSocketPingInterval     = "WebSocketPingInterval"
	KeyLocalAuthListEnabled      = "LocalAuthListEnabled"
	KeyAuthorizeRemoteTxRequests = "AuthorizeRemoteTxRequests"
	KeyLocalAuthorizeOffline     = "LocalAuthorizeOffline"
	KeyAllowOfflineTxForUnknownID = "AllowOfflineTxForUnknownId"
	KeyNumberOfConnectors        = "NumberOfConnectors"
	KeySupportedFeatureProfiles  = "SupportedFeatureProfiles"
	KeyConnectionTimeOut         = "ConnectionTimeOut"
)

// Key is one 1.6 configuration entry.
type Key struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Readonly bool   `json:"readonly"`
	// Visible keys are reported by GetConfiguration; hidden keys exist for
	// internal bookkeeping only.
	Visible bool `json:"visible"`
	// Reboot marks keys whose change takes effect after restart.
	Reboot bool `json:"reboot"`
}

// SetResult describes the outcome of a write attempt.
type SetResult int

const (
	SetAccepted SetResult = iota
	SetRebootRequired
	SetRejected
	SetNotSupported
)

func (r SetResult) String() string {
	switch r {
	case SetAccepted:
		return "Accepted"
	case SetRebootRequired:
		return "RebootRequired"
	case SetRejected:
		return "Rejected"
	case SetNotSupported:
		return "NotSupported"
	}
	return "Unknown"
}

// Store is an ordered key-value collection with unique lookup by key name.
// It is station-scoped: only the station's own loop mutates it, but reads may
// come from observers, so access is guarded.
type Store struct {
	mu    sync.RWMutex
	keys  []*Key
	index map[string]*Key

	// onChange observes accepted writes, e.g. to persist station state.
	onChange func(key string, value string)
}

// New creates an empty store.
func New() *Store {
	return &Store{index: make(map[string]*Key)}
}

// OnChange registers the persistence hook fired after each accepted write.
func (s *Store) OnChange(fn func(key, value string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Add inserts a key if absent; an existing key keeps its current value but
// adopts the given flags.
func (s *Store) Add(k Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.index[k.Key]; ok {
		existing.Readonly = k.Readonly
		existing.Visible = k.Visible
		existing.Reboot = k.Reboot
		return
	}
	entry := k
	s.keys = append(s.keys, &entry)
	s.index[k.Key] = &entry
}

// Get returns a copy of the entry for key.
func (s *Store) Get(key string) (Key, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.index[key]
	if !ok {
		return Key{}, false
	}
	return *entry, true
}

// Value returns the raw value for key, or the empty string when absent.
func (s *Store) Value(key string) string {
	k, _ := s.Get(key)
	return k.Value
}

// Set applies the 1.6 ChangeConfiguration contract: unknown keys are
// NotSupported, readonly keys Rejected, and accepted writes report whether a
// reboot is required.
func (s *Store) Set(key, value string) SetResult {
	s.mu.Lock()
	entry, ok := s.index[key]
	if !ok {
		s.mu.Unlock()
		return SetNotSupported
	}
	if entry.Readonly {
		s.mu.Unlock()
		return SetRejected
	}
	entry.Value = value
	reboot := entry.Reboot
	hook := s.onChange
	s.mu.Unlock()

	if hook != nil {
		hook(key, value)
	}
	if reboot {
		return SetRebootRequired
	}
	return SetAccepted
}

// ForceSet writes a value regardless of the readonly flag, creating the key
// when missing. Used for internally driven updates (e.g. the heartbeat
// interval adopted from a BootNotification response).
func (s *Store) ForceSet(key, value string) {
	s.mu.Lock()
	entry, ok := s.index[key]
	if !ok {
		entry = &Key{Key: key, Value: value, Visible: true}
		s.keys = append(s.keys, entry)
		s.index[key] = entry
	} else {
		entry.Value = value
	}
	hook := s.onChange
	s.mu.Unlock()

	if hook != nil {
		hook(key, value)
	}
}

// All returns copies of every entry in insertion order.
func (s *Store) All() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Key, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, *k)
	}
	return out
}

// Visible returns copies of the entries reported by GetConfiguration, in
// insertion order, optionally filtered to the requested key names.
func (s *Store) VisibleKeys(requested []string) (found []Key, unknown []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(requested) == 0 {
		for _, k := range s.keys {
			if k.Visible {
				found = append(found, *k)
			}
		}
		return found, nil
	}

	for _, name := range requested {
		if k, ok := s.index[name]; ok && k.Visible {
			found = append(found, *k)
		} else {
			unknown = append(unknown, name)
		}
	}
	return found, unknown
}

// Len reports how many keys exist, hidden ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
