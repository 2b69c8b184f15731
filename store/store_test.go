package store

import (
	"context"
	"testing"

	"github.com/evalgo/entitysync/entity"
	"github.com/evalgo/entitysync/query"
	"github.com/stretchr/testify/assert"
)

type noopEngine struct{ name string }

func (e noopEngine) Get(context.Context, query.Query) (entity.Entity, bool, error) {
	return entity.Entity{}, false, nil
}
func (e noopEngine) Search(context.Context, query.Query) (query.Result, error) {
	return query.Result{}, nil
}
func (e noopEngine) Set(context.Context, entity.Entity) (entity.Entity, error) {
	return entity.Entity{}, nil
}
func (e noopEngine) SetMany(context.Context, []entity.Entity) ([]entity.Entity, error) {
	return nil, nil
}
func (e noopEngine) Remove(context.Context, entity.Identifier) error          { return nil }
func (e noopEngine) RemoveMany(context.Context, []entity.Identifier) error    { return nil }
func (e noopEngine) RemoveAll(context.Context, query.Query) error             { return nil }

func TestStackSeparatesLocalAndRemoteInInsertionOrder(t *testing.T) {
	local1, local2 := noopEngine{"local1"}, noopEngine{"local2"}
	remote1 := noopEngine{"remote1"}
	s := NewStack(
		Member{Engine: local1, Level: Local},
		Member{Engine: remote1, Level: Remote},
		Member{Engine: local2, Level: Local},
	)

	assert.Equal(t, []Engine{local1, local2}, s.Local())
	assert.Equal(t, []Engine{remote1}, s.Remote())
}

func TestSelectReadDispatchesByContext(t *testing.T) {
	local := noopEngine{"local"}
	remote := noopEngine{"remote"}
	s := NewStack(Member{Engine: local, Level: Local}, Member{Engine: remote, Level: Remote})

	assert.Equal(t, []Engine{local}, s.SelectRead(ReadLocal))
	assert.Equal(t, []Engine{remote}, s.SelectRead(ReadRemote))
	assert.Equal(t, []Engine{remote}, s.SelectRead(ReadRemoteOrLocal))
}

func TestSelectWriteLocalAndRemotePutsRemoteFirst(t *testing.T) {
	local := noopEngine{"local"}
	remote := noopEngine{"remote"}
	s := NewStack(Member{Engine: local, Level: Local}, Member{Engine: remote, Level: Remote})

	assert.Equal(t, []Engine{remote, local}, s.SelectWrite(WriteLocalAndRemote))
}

func TestPersistenceStrategyConstructors(t *testing.T) {
	p := Persist(RetainExtraLocal)
	assert.True(t, p.Persist)
	assert.Equal(t, RetainExtraLocal, p.Delta)

	np := DoNotPersist()
	assert.False(t, np.Persist)
}
