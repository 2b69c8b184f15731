// Package cachestore is a Redis/Valkey/DragonflyDB-backed store.Engine,
// for use as a Stack's remote or shared-cache level. Grounded on the
// teacher's db/repository/redis.go CacheRepository (JSON-marshaled
// values under a prefixed key, optional TTL) and on queue/redis/queue.go's
// client-setup idiom for the connection itself.
package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/evalgo/entitysync/coreerr"
	"github.com/evalgo/entitysync/entity"
	"github.com/evalgo/entitysync/query"
	"github.com/evalgo/entitysync/store"
)

// Config configures the cache-backed store.
type Config struct {
	RedisURL string        // defaults to ENTITYSYNC_REDIS_URL or redis://localhost:6379/0
	Prefix   string        // key prefix; defaults to "entitysync:entity:"
	TTL      time.Duration // 0 means no expiry
}

// record is the JSON envelope stored under each cache key.
type record struct {
	RemoteValue string               `json:"remote_value,omitempty"`
	LocalValue  string                `json:"local_value,omitempty"`
	HasRemote   bool                  `json:"has_remote"`
	HasLocal    bool                  `json:"has_local"`
	Subtype     entity.Subtype        `json:"subtype"`
	Fields      map[string]interface{} `json:"fields"`
}

func toRecord(e entity.Entity) record {
	remote, hasRemote := e.ID.RemoteValue()
	local, hasLocal := e.ID.LocalValue()
	return record{
		RemoteValue: remote,
		LocalValue:  local,
		HasRemote:   hasRemote,
		HasLocal:    hasLocal,
		Subtype:     e.Sub,
		Fields:      e.Fields,
	}
}

func fromRecord(r record) (entity.Entity, error) {
	var id entity.Identifier
	switch {
	case r.HasRemote:
		id = entity.Remote(r.RemoteValue, r.LocalValue, r.HasLocal)
	case r.HasLocal:
		id = entity.Local(r.LocalValue)
	default:
		return entity.Entity{}, coreerr.Logical("cachestore: record has neither local nor remote value")
	}
	e := entity.New(id, r.Subtype)
	e.Fields = r.Fields
	return e, nil
}

// Store is a store.Engine backed by a single Redis-compatible server.
type Store struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

var _ store.Engine = (*Store)(nil)

// Open connects to the configured server and verifies reachability.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	url := cfg.RedisURL
	if url == "" {
		url = os.Getenv("ENTITYSYNC_REDIS_URL")
	}
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "entitysync:entity:"
	}
	return &Store{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) key(id entity.Identifier) string { return s.prefix + id.String() }

func (s *Store) Get(ctx context.Context, q query.Query) (entity.Entity, bool, error) {
	if q.ID == nil {
		return entity.Entity{}, false, coreerr.Logical("cachestore: Get requires q.ID")
	}
	data, err := s.client.Get(ctx, s.key(*q.ID)).Bytes()
	if err == goredis.Nil {
		return entity.Entity{}, false, nil
	}
	if err != nil {
		return entity.Entity{}, false, coreerr.Store("cachestore: get failed", err)
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return entity.Entity{}, false, coreerr.Deserialization(err)
	}
	e, err := fromRecord(r)
	if err != nil {
		return entity.Entity{}, false, err
	}
	return e, true, nil
}

// Search scans every key under the configured prefix. A cache is
// expected to hold a bounded working set, so an unindexed SCAN is
// acceptable here; sqlstore/docstore are the indexed alternatives for
// large collections.
func (s *Store) Search(ctx context.Context, q query.Query) (query.Result, error) {
	var entities []entity.Entity
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == goredis.Nil {
			continue
		}
		if err != nil {
			return query.Result{}, coreerr.Store("cachestore: scan get failed", err)
		}
		var r record
		if err := json.Unmarshal(data, &r); err != nil {
			return query.Result{}, coreerr.Deserialization(err)
		}
		e, err := fromRecord(r)
		if err != nil {
			return query.Result{}, err
		}
		entities = append(entities, e)
	}
	if err := iter.Err(); err != nil {
		return query.Result{}, coreerr.Store("cachestore: scan failed", err)
	}
	return query.Materialize(entities, q), nil
}

func (s *Store) Set(ctx context.Context, e entity.Entity) (entity.Entity, error) {
	data, err := json.Marshal(toRecord(e))
	if err != nil {
		return entity.Entity{}, fmt.Errorf("cachestore: marshal entity: %w", err)
	}
	if err := s.client.Set(ctx, s.key(e.ID), data, s.ttl).Err(); err != nil {
		return entity.Entity{}, coreerr.Store("cachestore: set failed", err)
	}
	return e, nil
}

func (s *Store) SetMany(ctx context.Context, entities []entity.Entity) ([]entity.Entity, error) {
	for _, e := range entities {
		if _, err := s.Set(ctx, e); err != nil {
			return nil, err
		}
	}
	return entities, nil
}

func (s *Store) Remove(ctx context.Context, id entity.Identifier) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return coreerr.Store("cachestore: delete failed", err)
	}
	return nil
}

func (s *Store) RemoveMany(ctx context.Context, ids []entity.Identifier) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return coreerr.Store("cachestore: bulk delete failed", err)
	}
	return nil
}

func (s *Store) RemoveAll(ctx context.Context, q query.Query) error {
	result, err := s.Search(ctx, q)
	if err != nil {
		return err
	}
	ids := make([]entity.Identifier, len(result.Entities))
	for i, e := range result.Entities {
		ids[i] = e.ID
	}
	return s.RemoveMany(ctx, ids)
}
