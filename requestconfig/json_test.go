package requestconfig

import (
	"encoding/json"
	"testing"

	"github.com/evalgo/entitysync/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestConfigJSONRoundTrip(t *testing.T) {
	host := "https://api.example.com"
	tag := "list-users"
	cfg := RequestConfig{
		Method: POST,
		Host:   &host,
		Path: []PathSegment{
			Component("users"),
			IdentifierSegment("user", entity.Remote("9", "3", true)),
		},
		Query: []QueryParam{
			{Key: "q", Value: ScalarValue("x")},
			{Key: "tag", Value: ArrayValue([]string{"a", "b"})},
			{Key: "owner", Value: IdentifierValue("user", entity.Local("42"))},
		},
		Headers: []Header{{Key: "Accept", Value: "application/json"}},
		Body:    RawBody([]byte(`{"x":1}`)),
		Timeout: 5_000_000_000,
		Queueing: QueueingStrategy{
			Sync:  Barrier,
			Retry: RetryTrigger{OnNetworkInterrupt: true}.WithAllErrorCodesExcept([]int{404}),
		},
		Tag:         &tag,
		Deduplicate: true,
	}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var out RequestConfig
	require.NoError(t, json.Unmarshal(data, &out))

	assert.True(t, cfg.Equal(out))
	assert.True(t, out.Queueing.Retry.RetriesOnCode(500))
	assert.False(t, out.Queueing.Retry.RetriesOnCode(404))
}
