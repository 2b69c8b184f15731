// Package docstore is a store.Engine backed by CouchDB via Kivik,
// grounded on the teacher pack's CouchDBClient (storage/database.go):
// same kivik.New("couch", ...)/DBExists/CreateDB bring-up sequence, same
// row.ScanDoc/rows.ScanDoc document access.
package docstore

import (
	"context"
	"fmt"
	"net/url"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/evalgo/entitysync/coreerr"
	"github.com/evalgo/entitysync/entity"
	"github.com/evalgo/entitysync/query"
	"github.com/evalgo/entitysync/store"
)

// Config is the connection configuration for a CouchDB-backed store.
type Config struct {
	URL             string
	Database        string
	Username        string
	Password        string
	Timeout         time.Duration
	CreateIfMissing bool
}

func DefaultConfig() Config {
	return Config{
		URL:             "http://localhost:5984",
		Timeout:         30 * time.Second,
		CreateIfMissing: true,
	}
}

// doc is the on-the-wire document shape: identifier parts flattened so
// they are queryable by Mango selectors, plus the entity's own fields
// nested under "fields" to keep them out of CouchDB's reserved
// "_id"/"_rev" namespace.
type doc struct {
	ID          string                 `json:"_id"`
	Rev         string                 `json:"_rev,omitempty"`
	RemoteValue string                 `json:"remote_value,omitempty"`
	LocalValue  string                 `json:"local_value,omitempty"`
	HasRemote   bool                   `json:"has_remote"`
	HasLocal    bool                   `json:"has_local"`
	Subtype     string                 `json:"subtype"`
	Fields      map[string]interface{} `json:"fields"`
}

func toDoc(e entity.Entity, rev string) doc {
	d := doc{ID: e.ID.String(), Rev: rev, Subtype: string(e.Sub), Fields: e.Fields}
	if v, ok := e.ID.RemoteValue(); ok {
		d.RemoteValue, d.HasRemote = v, true
	}
	if v, ok := e.ID.LocalValue(); ok {
		d.LocalValue, d.HasLocal = v, true
	}
	return d
}

func fromDoc(d doc) (entity.Entity, error) {
	var id entity.Identifier
	switch {
	case d.HasRemote:
		id = entity.Remote(d.RemoteValue, d.LocalValue, d.HasLocal)
	case d.HasLocal:
		id = entity.Local(d.LocalValue)
	default:
		return entity.Entity{}, fmt.Errorf("docstore: document %s has neither local nor remote value", d.ID)
	}
	e := entity.New(id, entity.Subtype(d.Subtype))
	e.Fields = d.Fields
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	return e, nil
}

// Store is a kivik.DB-backed store.Engine.
type Store struct {
	client *kivik.Client
	db     *kivik.DB
	config Config
}

var _ store.Engine = (*Store)(nil)

// Open connects to CouchDB, creating the target database if configured to.
func Open(cfg Config) (*Store, error) {
	connectionURL, err := buildConnectionURL(cfg)
	if err != nil {
		return nil, coreerr.Store("docstore: build connection url", err)
	}

	client, err := kivik.New("couch", connectionURL)
	if err != nil {
		return nil, coreerr.Store("docstore: connect", err)
	}

	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	exists, err := client.DBExists(ctx, cfg.Database)
	if err != nil {
		return nil, coreerr.Store("docstore: check database existence", err)
	}
	if !exists {
		if !cfg.CreateIfMissing {
			return nil, coreerr.Store("docstore: database missing", fmt.Errorf("database %s does not exist", cfg.Database))
		}
		if err := client.CreateDB(ctx, cfg.Database); err != nil {
			return nil, coreerr.Store("docstore: create database", err)
		}
	}

	return &Store{client: client, db: client.DB(cfg.Database), config: cfg}, nil
}

func buildConnectionURL(cfg Config) (string, error) {
	if cfg.URL == "" {
		return "", fmt.Errorf("docstore: database URL cannot be empty")
	}
	if cfg.Username == "" && cfg.Password == "" {
		return cfg.URL, nil
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("docstore: parse database url: %w", err)
	}
	parsed.User = url.UserPassword(cfg.Username, cfg.Password)
	return parsed.String(), nil
}

func (s *Store) Get(ctx context.Context, q query.Query) (entity.Entity, bool, error) {
	if q.ID == nil {
		return entity.Entity{}, false, coreerr.Logical("docstore: Get requires q.ID")
	}
	row := s.db.Get(ctx, q.ID.String())
	if row.Err() != nil {
		if kivik.HTTPStatus(row.Err()) == 404 {
			return entity.Entity{}, false, nil
		}
		return entity.Entity{}, false, coreerr.Store("docstore: get", row.Err())
	}
	var d doc
	if err := row.ScanDoc(&d); err != nil {
		return entity.Entity{}, false, coreerr.Store("docstore: scan", err)
	}
	e, err := fromDoc(d)
	return e, err == nil, err
}

func (s *Store) Search(ctx context.Context, q query.Query) (query.Result, error) {
	selector := map[string]interface{}{}
	if q.EntityType != "" {
		selector["subtype"] = string(q.EntityType)
	}

	rows := s.db.Find(ctx, map[string]interface{}{"selector": selector})
	defer rows.Close()

	var entities []entity.Entity
	for rows.Next() {
		var d doc
		if err := rows.ScanDoc(&d); err != nil {
			return query.Result{}, coreerr.Store("docstore: scan search result", err)
		}
		e, err := fromDoc(d)
		if err != nil {
			return query.Result{}, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, coreerr.Store("docstore: iterate search results", err)
	}

	return query.Materialize(entities, q), nil
}

func (s *Store) Set(ctx context.Context, e entity.Entity) (entity.Entity, error) {
	rev := s.currentRev(ctx, e.ID.String())
	if _, err := s.db.Put(ctx, e.ID.String(), toDoc(e, rev)); err != nil {
		return entity.Entity{}, coreerr.Store("docstore: set", err)
	}
	return e, nil
}

func (s *Store) currentRev(ctx context.Context, id string) string {
	row := s.db.Get(ctx, id)
	if row.Err() != nil {
		return ""
	}
	var existing doc
	if err := row.ScanDoc(&existing); err != nil {
		return ""
	}
	return existing.Rev
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
	rev := s.currentRev(ctx, id.String())
	if rev == "" {
		return nil
	}
	if _, err := s.db.Delete(ctx, id.String(), rev); err != nil {
		return coreerr.Store("docstore: remove", err)
	}
	return nil
}

func (s *Store) RemoveMany(ctx context.Context, ids []entity.Identifier) error {
	for _, id := range ids {
		if err := s.Remove(ctx, id); err != nil {
			return err
		}
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

// Close closes the underlying Kivik client.
func (s *Store) Close() error { return s.client.Close() }
