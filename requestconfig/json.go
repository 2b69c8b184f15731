package requestconfig

import (
	"encoding/json"

	"github.com/evalgo/entitysync/entity"
)

// identifierUnmarshalTarget lets UnmarshalJSON promote from the
// embedded entity.Identifier so a raw identifier blob can be decoded
// without requestconfig depending on entity's unexported wire shape.
type identifierUnmarshalTarget struct {
	entity.Identifier
}

// queryValueWire is QueryValue's canonical wire shape, capturing the
// unexported isArray discriminant explicitly so Encode/decode of a
// RequestConfig is the identity under the canonical encoder.
type queryValueWire struct {
	Scalar     string            `json:"scalar,omitempty"`
	Array      []string          `json:"array,omitempty"`
	IsArray    bool              `json:"isArray,omitempty"`
	Identifier *identifierValueWire `json:"identifier,omitempty"`
}

type identifierValueWire struct {
	TypeID string `json:"typeID"`
	Value  json.RawMessage `json:"value"`
}

func (q QueryValue) MarshalJSON() ([]byte, error) {
	w := queryValueWire{Scalar: q.Scalar, Array: q.Array, IsArray: q.isArray}
	if q.Identifier != nil {
		raw, err := json.Marshal(*q.Identifier)
		if err != nil {
			return nil, err
		}
		w.Identifier = &identifierValueWire{TypeID: q.TypeID, Value: raw}
	}
	return json.Marshal(w)
}

func (q *QueryValue) UnmarshalJSON(data []byte) error {
	var w queryValueWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*q = QueryValue{Scalar: w.Scalar, Array: w.Array, isArray: w.IsArray}
	if w.Identifier != nil {
		var id identifierUnmarshalTarget
		if err := json.Unmarshal(w.Identifier.Value, &id); err != nil {
			return err
		}
		q.Identifier = &id.Identifier
		q.TypeID = w.Identifier.TypeID
	}
	return nil
}

// retryTriggerWire is RetryTrigger's canonical wire shape.
type retryTriggerWire struct {
	OnNetworkInterrupt  bool  `json:"onNetworkInterrupt,omitempty"`
	OnRequestTimeout    bool  `json:"onRequestTimeout,omitempty"`
	CustomErrorCodes    []int `json:"customErrorCodes,omitempty"`
	AllErrorCodesExcept []int `json:"allErrorCodesExcept,omitempty"`
	HasAllExcept        bool  `json:"hasAllExcept,omitempty"`
}

func (r RetryTrigger) MarshalJSON() ([]byte, error) {
	return json.Marshal(retryTriggerWire{
		OnNetworkInterrupt:  r.OnNetworkInterrupt,
		OnRequestTimeout:    r.OnRequestTimeout,
		CustomErrorCodes:    r.CustomErrorCodes,
		AllErrorCodesExcept: r.AllErrorCodesExcept,
		HasAllExcept:        r.hasAllExcept,
	})
}

func (r *RetryTrigger) UnmarshalJSON(data []byte) error {
	var w retryTriggerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = RetryTrigger{
		OnNetworkInterrupt:  w.OnNetworkInterrupt,
		OnRequestTimeout:    w.OnRequestTimeout,
		CustomErrorCodes:    w.CustomErrorCodes,
		AllErrorCodesExcept: w.AllErrorCodesExcept,
		hasAllExcept:        w.HasAllExcept,
	}
	return nil
}
