package entity

import (
	"encoding/json"
	"fmt"
)

// identifierWire is the canonical on-wire shape for Identifier, used by
// both MarshalJSON and the durable queue's request serialization so
// that encode/decode of an Identifier is the identity (per the
// glossary's canonical-encoder invariant).
type identifierWire struct {
	Kind       string `json:"kind"` // "local" | "remote"
	Local      string `json:"local,omitempty"`
	Remote     string `json:"remote,omitempty"`
	PriorLocal bool   `json:"priorLocal,omitempty"`
}

func (i Identifier) MarshalJSON() ([]byte, error) {
	var w identifierWire
	switch {
	case i.hasR:
		w = identifierWire{Kind: "remote", Remote: i.remote}
		if i.hasL {
			w.Local = i.local
			w.PriorLocal = true
		}
	case i.hasL:
		w = identifierWire{Kind: "local", Local: i.local}
	default:
		return nil, fmt.Errorf("entity: cannot marshal invalid (zero-value) Identifier")
	}
	return json.Marshal(w)
}

func (i *Identifier) UnmarshalJSON(data []byte) error {
	var w identifierWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case "local":
		*i = Local(w.Local)
	case "remote":
		*i = Remote(w.Remote, w.Local, w.PriorLocal)
	default:
		return fmt.Errorf("entity: unknown identifier kind %q", w.Kind)
	}
	return nil
}
