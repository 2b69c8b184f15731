// Package memstore is a reference store.Engine backed by an in-memory
// map, used for tests and as the local level of a Stack when no
// on-disk engine is configured.
package memstore

import (
	"context"
	"sync"

	"github.com/evalgo/entitysync/coreerr"
	"github.com/evalgo/entitysync/entity"
	"github.com/evalgo/entitysync/query"
	"github.com/evalgo/entitysync/store"
)

// Store is a mutex-guarded map[identifier]entity.Entity. The zero value
// is not usable; construct with New.
type Store struct {
	mu   sync.RWMutex
	data map[string]entity.Entity
}

var _ store.Engine = (*Store)(nil)

func New() *Store {
	return &Store{data: make(map[string]entity.Entity)}
}

func (s *Store) Get(_ context.Context, q query.Query) (entity.Entity, bool, error) {
	if q.ID == nil {
		return entity.Entity{}, false, coreerr.Logical("memstore: Get requires q.ID")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[q.ID.String()]
	return e, ok, nil
}

func (s *Store) Search(_ context.Context, q query.Query) (query.Result, error) {
	s.mu.RLock()
	entities := make([]entity.Entity, 0, len(s.data))
	for _, e := range s.data {
		entities = append(entities, e)
	}
	s.mu.RUnlock()
	return query.Materialize(entities, q), nil
}

func (s *Store) Set(_ context.Context, e entity.Entity) (entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[e.ID.String()] = e
	return e, nil
}

func (s *Store) SetMany(_ context.Context, entities []entity.Entity) ([]entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		s.data[e.ID.String()] = e
	}
	return entities, nil
}

func (s *Store) Remove(_ context.Context, id entity.Identifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id.String())
	return nil
}

func (s *Store) RemoveMany(_ context.Context, ids []entity.Identifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.data, id.String())
	}
	return nil
}

func (s *Store) RemoveAll(ctx context.Context, q query.Query) error {
	result, err := s.Search(ctx, q)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range result.Entities {
		delete(s.data, e.ID.String())
	}
	return nil
}
