// Package idtags provides the process-wide cache of simulated authorization
// tags loaded from JSON files, with hot invalidation on file change and the
// distribution strategies used by the transaction generator.
package idtags

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Distribution selects how tags are handed out across stations/connectors.
type Distribution string

const (
	DistributionRandom            Distribution = "RANDOM"
	DistributionRoundRobin        Distribution = "ROUND_ROBIN"
	DistributionConnectorAffinity Distribution = "CONNECTOR_AFFINITY"
)

type fileEntry struct {
	tags []string
	// roundRobin holds the last served index per station hash id.
	roundRobin map[string]int
}

// Cache is the process-wide singleton keyed by file path. Concurrent readers
// are common; writers (loads and invalidations) are serialized.
type Cache struct {
	mu      sync.Mutex
	files   map[string]*fileEntry
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	stop    chan struct{}
	stopped sync.Once
}

var (
	defaultCache *Cache
	defaultOnce  sync.Once
)

// Default returns the shared cache, creating it on first use.
func Default() *Cache {
	defaultOnce.Do(func() {
		defaultCache = NewCache(slog.Default())
	})
	return defaultCache
}

// NewCache creates an independent cache (tests use this to avoid the
// singleton).
func NewCache(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		files:  make(map[string]*fileEntry),
		logger: logger,
		stop:   make(chan struct{}),
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("tag file watcher unavailable, hot reload disabled", "error", err)
	} else {
		c.watcher = watcher
		go c.watchLoop()
	}
	return c
}

// Tags returns the tag list for file, loading and watching it on first use.
// Parse failures are logged and yield an empty list; duplicate entries are
// preserved as-is.
func (c *Cache) Tags(file string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tagsLocked(file)
}

func (c *Cache) tagsLocked(file string) []string {
	if entry, ok := c.files[file]; ok {
		return entry.tags
	}

	tags := loadTagFile(file, c.logger)
	c.files[file] = &fileEntry{tags: tags, roundRobin: make(map[string]int)}
	if c.watcher != nil {
		if err := c.watcher.Add(file); err != nil {
			c.logger.Warn("cannot watch tag file", "file", file, "error", err)
		}
	}
	return tags
}

// NextTag picks a tag per the distribution policy. stationIndex is the
// 1-based station instance index used for connector affinity; hashID scopes
// the round-robin counter. An empty list returns ("", false) and the caller
// must treat it as "no authorized tags".
func (c *Cache) NextTag(file string, dist Distribution, hashID string, stationIndex, connectorID int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tags := c.tagsLocked(file)
	n := len(tags)
	if n == 0 {
		return "", false
	}
	entry := c.files[file]

	var idx int
	switch dist {
	case DistributionRoundRobin:
		idx = (entry.roundRobin[hashID] + 1) % n
		entry.roundRobin[hashID] = idx
	case DistributionConnectorAffinity:
		idx = ((stationIndex - 1) + (connectorID - 1)) % n
		if idx < 0 {
			idx += n
		}
	default:
		idx = secureIntn(n)
	}
	return tags[idx], true
}

// Contains reports whether identifier appears in the file's tag list.
func (c *Cache) Contains(file, identifier string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tag := range c.tagsLocked(file) {
		if tag == identifier {
			return true
		}
	}
	return false
}

// Invalidate drops the cached tags and round-robin indexes for file so the
// next access reloads from disk.
func (c *Cache) Invalidate(file string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.files, file)
}

// Close stops the watcher and clears the cache; essential for tests against
// the process-wide singleton.
func (c *Cache) Close() {
	c.stopped.Do(func() {
		close(c.stop)
		if c.watcher != nil {
			c.watcher.Close()
		}
	})
	c.mu.Lock()
	c.files = make(map[string]*fileEntry)
	c.mu.Unlock()
}

func (c *Cache) watchLoop() {
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				c.logger.Info("tag file changed, invalidating", "file", event.Name, "op", event.Op.String())
				c.Invalidate(event.Name)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("tag file watcher error", "error", err)
		case <-c.stop:
			return
		}
	}
}

func loadTagFile(file string, logger *slog.Logger) []string {
	data, err := os.ReadFile(file)
	if err != nil {
		logger.Error("cannot read tag file", "file", file, "error", err)
		return nil
	}
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		logger.Error("cannot parse tag file", "file", file, "error", err)
		return nil
	}
	return tags
}

// secureIntn draws a uniform index from crypto/rand.
func secureIntn(n int) int {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return int(binary.BigEndian.Uint64(buf[:]) % uint64(n))
}
