// Package corequeue is C4: the Durable Queue. Two interchangeable
// shapes — FIFOQueue (a single ordered durable list keyed by token) and
// UniquingQueue (an ordering set plus a key->request map, deduplicated
// by a caller-supplied key function) — both backed by an injected
// DurableMap so the on-disk representation can be bbolt, Redis, or
// anything else satisfying the interface (§6).
package corequeue

import (
	"encoding/json"
	"fmt"

	"github.com/evalgo/entitysync/requestconfig"
	"github.com/google/uuid"
)

// schemaVersion is embedded in every on-disk key this package writes
// (observed convention: a trailing version suffix; bumping it is the
// only sanctioned way to make a breaking change to QueuedRequest's
// wire shape, paired with a migration).
const schemaVersion = "_9_8_0"

// DurableMap is §6's injected durable map interface: fsync-on-write
// get/set/delete/keys/clear. bolt.Map and the redis.Map alternate
// backend both satisfy it.
type DurableMap interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Keys() ([]string, error)
	Clear() error
}

// QueuedRequest is §3's Queued Request record.
type QueuedRequest struct {
	Wrapped     requestconfig.RequestConfig
	Identifiers []byte
	Timestamp   uint64
	Token       uuid.UUID
}

// NewQueuedRequest wraps a config with a fresh token and timestamp.
func NewQueuedRequest(cfg requestconfig.RequestConfig, timestampNanos uint64) QueuedRequest {
	return QueuedRequest{Wrapped: cfg, Timestamp: timestampNanos, Token: uuid.New()}
}

// Encode is the canonical encoder referenced by the glossary: JSON,
// stable enough to survive process restarts (the custom MarshalJSON
// methods of QueryValue, RetryTrigger and Identifier make the round
// trip exact).
func Encode(r QueuedRequest) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("corequeue: encode queued request: %w", err)
	}
	return data, nil
}

// Decode is Encode's inverse.
func Decode(data []byte) (QueuedRequest, error) {
	var r QueuedRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return QueuedRequest{}, fmt.Errorf("corequeue: decode queued request: %w", err)
	}
	return r, nil
}

func entryKey(token uuid.UUID) string {
	return "entry" + schemaVersion + ":" + token.String()
}
