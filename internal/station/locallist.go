package station

import "sync"

// LocalListEntry pairs an identifier with its authorization status as pushed
// by SendLocalList.
type LocalListEntry struct {
	IDTag  string `json:"idTag"`
	Status string `json:"status"`
}

// LocalList is the versioned station-local authorization list maintained by
// SendLocalList and reported by GetLocalListVersion. It is consulted by the
// local-list authorization strategy alongside the idTags file.
type LocalList struct {
	mu      sync.RWMutex
	version int
	entries map[string]string
}

// NewLocalList starts empty at version 0.
func NewLocalList() *LocalList {
	return &LocalList{entries: make(map[string]string)}
}

// Version returns the current list version; 0 means no list installed.
func (l *LocalList) Version() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// ApplyFull replaces the whole list.
func (l *LocalList) ApplyFull(version int, entries []LocalListEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]string, len(entries))
	for _, e := range entries {
		l.entries[e.IDTag] = e.Status
	}
	l.version = version
}

// ApplyDifferential upserts the given entries; an entry without a status
// removes the identifier. Returns false when the version does not advance.
func (l *LocalList) ApplyDifferential(version int, entries []LocalListEntry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if version <= l.version {
		return false
	}
	for _, e := range entries {
		if e.Status == "" {
			delete(l.entries, e.IDTag)
			continue
		}
		l.entries[e.IDTag] = e.Status
	}
	l.version = version
	return true
}

// Accepted reports whether idTag is present with an accepted status.
func (l *LocalList) Accepted(idTag string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[idTag] == "Accepted"
}

// Len reports how many entries are installed.
func (l *LocalList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
