// Package pglisten decodes PostgreSQL LISTEN/NOTIFY payloads into entity
// ChangeEvents and hands them to registered handlers; no package in this
// module registers one, so connecting them to a manager's continuous
// streams (§4.9) is up to the caller. Grounded directly on the
// teacher's db/listener.go reconnect-loop
// shape: Acquire a connection, LISTEN, WaitForNotification forever,
// reconnect with a fixed backoff on error.
package pglisten

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evalgo/entitysync/entity"
)

// ChangeEvent is the payload a NOTIFY on the configured channel is
// expected to carry: enough to identify which entity changed and
// whether it was a write or a delete, without shipping the full entity
// body over the notification channel (Postgres caps NOTIFY payloads at
// 8000 bytes).
type ChangeEvent struct {
	Kind          string `json:"kind"` // "set" or "remove"
	IdentifierKey string `json:"identifier_key"`
	RemoteValue   string `json:"remote_value,omitempty"`
	LocalValue    string `json:"local_value,omitempty"`
	HasRemote     bool   `json:"has_remote"`
	HasLocal      bool   `json:"has_local"`
	Subtype       string `json:"subtype,omitempty"`
}

// Identifier reconstructs the entity.Identifier the event names.
func (e ChangeEvent) Identifier() (entity.Identifier, error) {
	switch {
	case e.HasRemote:
		return entity.Remote(e.RemoteValue, e.LocalValue, e.HasLocal), nil
	case e.HasLocal:
		return entity.Local(e.LocalValue), nil
	default:
		return entity.Identifier{}, fmt.Errorf("pglisten: event %s has neither local nor remote value", e.IdentifierKey)
	}
}

// Handler is called once per received ChangeEvent.
type Handler func(event ChangeEvent)

// ReconnectDelay is how long the listener waits before re-establishing
// a dropped LISTEN connection.
const ReconnectDelay = time.Second

// Listener subscribes to a Postgres NOTIFY channel and dispatches
// decoded ChangeEvents to its registered handlers.
type Listener struct {
	pool    *pgxpool.Pool
	channel string

	mu       sync.RWMutex
	handlers []Handler
	running  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Listener for the given channel. Start must be called to
// begin consuming notifications.
func New(pool *pgxpool.Pool, channel string) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{pool: pool, channel: channel, ctx: ctx, cancel: cancel}
}

// OnEvent registers a handler for decoded change events.
func (l *Listener) OnEvent(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// Start begins listening in a background goroutine. Calling Start more
// than once is a no-op.
func (l *Listener) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	go l.loop()
}

// Stop cancels the listener's background loop.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.running = false
	l.cancel()
}

func (l *Listener) loop() {
	for {
		select {
		case <-l.ctx.Done():
			return
		default:
			if err := l.listenOnce(); err != nil {
				select {
				case <-l.ctx.Done():
					return
				case <-time.After(ReconnectDelay):
				}
			}
		}
	}
}

func (l *Listener) listenOnce() error {
	conn, err := l.pool.Acquire(l.ctx)
	if err != nil {
		return fmt.Errorf("pglisten: acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(l.ctx, fmt.Sprintf("LISTEN %s", l.channel)); err != nil {
		return fmt.Errorf("pglisten: LISTEN %s: %w", l.channel, err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(l.ctx)
		if err != nil {
			return fmt.Errorf("pglisten: wait for notification: %w", err)
		}

		var event ChangeEvent
		if err := json.Unmarshal([]byte(notification.Payload), &event); err != nil {
			continue
		}
		l.dispatch(event)
	}
}

func (l *Listener) dispatch(event ChangeEvent) {
	l.mu.RLock()
	handlers := make([]Handler, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.RUnlock()

	for _, h := range handlers {
		go h(event)
	}
}
