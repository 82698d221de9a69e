package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// backend persists statistics snapshots. Implementations are selected by the
// performanceStorage config section.
type backend interface {
	store(snap []CommandStats) error
	close() error
}

func newBackend(storageType, uri string) (backend, error) {
	switch storageType {
	case "", "none":
		return nopBackend{}, nil
	case "jsonfile":
		return newJSONFileBackend(uri)
	case "redis":
		return newRedisBackend(uri)
	default:
		return nil, fmt.Errorf("unknown performance storage type %q", storageType)
	}
}

type nopBackend struct{}

func (nopBackend) store([]CommandStats) error { return nil }
func (nopBackend) close() error               { return nil }

// snapshotRecord is the serialized form shared by the file and redis
// backends.
type snapshotRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Commands  []CommandStats `json:"commands"`
}

// jsonFileBackend appends one JSON line per flush.
type jsonFileBackend struct {
	f *os.File
}

func newJSONFileBackend(path string) (*jsonFileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonfile storage needs a file path uri")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open statistics file: %w", err)
	}
	return &jsonFileBackend{f: f}, nil
}

func (b *jsonFileBackend) store(snap []CommandStats) error {
	line, err := json.Marshal(snapshotRecord{Timestamp: time.Now().UTC(), Commands: snap})
	if err != nil {
		return err
	}
	_, err = b.f.Write(append(line, '\n'))
	return err
}

func (b *jsonFileBackend) close() error { return b.f.Close() }

// redisBackend pushes serialized snapshots onto a list.
type redisBackend struct {
	rdb *redis.Client
	key string
}

func newRedisBackend(uri string) (*redisBackend, error) {
	if uri == "" {
		return nil, fmt.Errorf("redis storage needs a uri")
	}

	var opts *redis.Options
	if strings.Contains(uri, "://") {
		parsed, err := redis.ParseURL(uri)
		if err != nil {
			return nil, fmt.Errorf("parse redis uri: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: uri}
	}
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", opts.Addr, err)
	}
	return &redisBackend{rdb: rdb, key: "ocppsim:performance"}, nil
}

func (b *redisBackend) store(snap []CommandStats) error {
	data, err := json.Marshal(snapshotRecord{Timestamp: time.Now().UTC(), Commands: snap})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return b.rdb.LPush(ctx, b.key, data).Err()
}

func (b *redisBackend) close() error { return b.rdb.Close() }
