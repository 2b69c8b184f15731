package requestconfig

import (
	"testing"

	"github.com/evalgo/entitysync/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeQueryScalar(t *testing.T) {
	q, err := EncodeQuery([]QueryParam{
		{Key: "name", Value: ScalarValue("hello world")},
	})
	require.NoError(t, err)
	assert.Equal(t, "name=hello%20world", q)
}

func TestEncodeQueryArray(t *testing.T) {
	q, err := EncodeQuery([]QueryParam{
		{Key: "tag", Value: ArrayValue([]string{"a", "b"})},
	})
	require.NoError(t, err)
	assert.Equal(t, "tag[]=a&tag[]=b", q)
}

func TestEncodeQueryUnresolvedIdentifier(t *testing.T) {
	id := entity.Local("42")
	_, err := EncodeQuery([]QueryParam{
		{Key: "user", Value: IdentifierValue("user", id)},
	})
	assert.Error(t, err)
}

func TestEncodeQueryResolvedRemoteIdentifier(t *testing.T) {
	id := entity.Remote("99", "", false)
	q, err := EncodeQuery([]QueryParam{
		{Key: "user", Value: IdentifierValue("user", id)},
	})
	require.NoError(t, err)
	assert.Equal(t, "user=99", q)
}

func TestRenderPathUnresolvedIdentifier(t *testing.T) {
	_, err := RenderPath([]PathSegment{
		Component("users"),
		IdentifierSegment("user", entity.Local("7")),
	})
	assert.Error(t, err)
}

func TestRenderPathResolved(t *testing.T) {
	p, err := RenderPath([]PathSegment{
		Component("users"),
		IdentifierSegment("user", entity.Remote("7", "", false)),
	})
	require.NoError(t, err)
	assert.Equal(t, "users/7", p)
}

func TestRenderURL(t *testing.T) {
	u, err := RenderURL("https://api.example.com/", []PathSegment{Component("users")},
		[]QueryParam{{Key: "q", Value: ScalarValue("x")}})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/users?q=x", u)
}
