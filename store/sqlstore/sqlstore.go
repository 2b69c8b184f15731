// Package sqlstore is a store.Engine backed by PostgreSQL via GORM,
// grounded on the teacher's gorm.Open/AutoMigrate connection pattern
// (db/postgres.go). Entities are persisted as one row per identifier
// with their Fields marshaled to JSONB; filtering, ordering, pagination
// and grouping are applied in Go via query.Materialize after a
// broad per-subtype fetch, the same "fetch then process" shape the
// teacher's PGRabbitLogList uses.
package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/evalgo/entitysync/coreerr"
	"github.com/evalgo/entitysync/entity"
	"github.com/evalgo/entitysync/query"
	"github.com/evalgo/entitysync/store"
)

// entityRecord is the GORM model backing one persisted entity.
// IdentifierKey is entity.Identifier.String(), the same canonical key
// used throughout the library for map lookups and cache keys.
type entityRecord struct {
	IdentifierKey string `gorm:"primaryKey"`
	RemoteValue   string
	LocalValue    string
	HasRemote     bool
	HasLocal      bool
	Subtype       string
	Fields        []byte `gorm:"type:jsonb"`
	UpdatedAt     time.Time
}

func (entityRecord) TableName() string { return "entitysync_entities" }

// Config mirrors the connection-pool knobs the teacher's PGInfo sets
// explicitly rather than leaving them at the driver defaults.
type Config struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Store is a gorm.DB-backed store.Engine.
type Store struct {
	db *gorm.DB
}

var _ store.Engine = (*Store)(nil)

// Open connects to PostgreSQL, applies the connection-pool
// configuration and migrates the backing table.
func Open(cfg Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, coreerr.Store("sqlstore: connect", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, coreerr.Store("sqlstore: underlying sql.DB", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(&entityRecord{}); err != nil {
		return nil, coreerr.Store("sqlstore: migrate", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open *gorm.DB, for tests driving sqlite or
// a test container instead of a live PostgreSQL DSN.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&entityRecord{}); err != nil {
		return nil, coreerr.Store("sqlstore: migrate", err)
	}
	return &Store{db: db}, nil
}

func toRecord(e entity.Entity) (entityRecord, error) {
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return entityRecord{}, fmt.Errorf("sqlstore: marshal fields: %w", err)
	}
	rec := entityRecord{
		IdentifierKey: e.ID.String(),
		Subtype:       string(e.Sub),
		Fields:        fields,
		UpdatedAt:     time.Now(),
	}
	if v, ok := e.ID.RemoteValue(); ok {
		rec.RemoteValue, rec.HasRemote = v, true
	}
	if v, ok := e.ID.LocalValue(); ok {
		rec.LocalValue, rec.HasLocal = v, true
	}
	return rec, nil
}

func fromRecord(rec entityRecord) (entity.Entity, error) {
	var id entity.Identifier
	switch {
	case rec.HasRemote:
		id = entity.Remote(rec.RemoteValue, rec.LocalValue, rec.HasLocal)
	case rec.HasLocal:
		id = entity.Local(rec.LocalValue)
	default:
		return entity.Entity{}, fmt.Errorf("sqlstore: record %s has neither local nor remote value", rec.IdentifierKey)
	}

	e := entity.New(id, entity.Subtype(rec.Subtype))
	if len(rec.Fields) > 0 {
		if err := json.Unmarshal(rec.Fields, &e.Fields); err != nil {
			return entity.Entity{}, fmt.Errorf("sqlstore: unmarshal fields for %s: %w", rec.IdentifierKey, err)
		}
	}
	return e, nil
}

func (s *Store) Get(ctx context.Context, q query.Query) (entity.Entity, bool, error) {
	if q.ID == nil {
		return entity.Entity{}, false, coreerr.Logical("sqlstore: Get requires q.ID")
	}
	var rec entityRecord
	err := s.db.WithContext(ctx).Where("identifier_key = ?", q.ID.String()).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return entity.Entity{}, false, nil
	}
	if err != nil {
		return entity.Entity{}, false, coreerr.Store("sqlstore: get", err)
	}
	e, err := fromRecord(rec)
	return e, err == nil, err
}

func (s *Store) Search(ctx context.Context, q query.Query) (query.Result, error) {
	tx := s.db.WithContext(ctx).Model(&entityRecord{})
	if q.EntityType != "" {
		tx = tx.Where("subtype = ?", string(q.EntityType))
	}

	var recs []entityRecord
	if err := tx.Find(&recs).Error; err != nil {
		return query.Result{}, coreerr.Store("sqlstore: search", err)
	}

	entities := make([]entity.Entity, 0, len(recs))
	for _, rec := range recs {
		e, err := fromRecord(rec)
		if err != nil {
			return query.Result{}, err
		}
		entities = append(entities, e)
	}
	return query.Materialize(entities, q), nil
}

func (s *Store) Set(ctx context.Context, e entity.Entity) (entity.Entity, error) {
	rec, err := toRecord(e)
	if err != nil {
		return entity.Entity{}, err
	}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return entity.Entity{}, coreerr.Store("sqlstore: set", err)
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
	if err := s.db.WithContext(ctx).Delete(&entityRecord{}, "identifier_key = ?", id.String()).Error; err != nil {
		return coreerr.Store("sqlstore: remove", err)
	}
	return nil
}

func (s *Store) RemoveMany(ctx context.Context, ids []entity.Identifier) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	if err := s.db.WithContext(ctx).Delete(&entityRecord{}, "identifier_key IN ?", keys).Error; err != nil {
		return coreerr.Store("sqlstore: remove_many", err)
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
