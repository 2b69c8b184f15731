// Package coreerr implements the §7 error taxonomy as a single wrapped
// error type, in the teacher's fmt.Errorf("...: %w", err) idiom
// (db/postgres.go, queue/redis/queue.go) rather than one Go type per
// error kind.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind identifies which branch of the taxonomy an Error belongs to.
type Kind string

const (
	KindTransportNotHTTP  Kind = "transport_protocol_not_http"
	KindNetwork           Kind = "network"
	KindParsing           Kind = "parsing"
	KindURLConstruction   Kind = "url_construction"
	KindDeserialization   Kind = "deserialization"
	KindAPI               Kind = "api"
	KindStore             Kind = "store"
	KindConflict          Kind = "conflict"
	KindNotSupported      Kind = "not_supported"
	KindLogical           Kind = "logical"
	KindAccessInvalid     Kind = "access_invalid"
)

// NetworkKind enumerates the network sub-kinds from §7.
type NetworkKind string

const (
	NetConnectionLost    NetworkKind = "connection_lost"
	NetNotConnected      NetworkKind = "not_connected"
	NetTimedOut          NetworkKind = "timed_out"
	NetCancelled         NetworkKind = "cancelled"
	NetBadURL            NetworkKind = "bad_url"
	NetUnsupportedURL    NetworkKind = "unsupported_url"
	NetCannotFindHost    NetworkKind = "cannot_find_host"
	NetCannotConnectHost NetworkKind = "cannot_connect_to_host"
	NetDNSLookupFailed   NetworkKind = "dns_lookup_failed"
	NetBadServerResponse NetworkKind = "bad_server_response"
	NetUserCancelledAuth NetworkKind = "user_cancelled_auth"
	NetUserAuthRequired  NetworkKind = "user_auth_required"
	NetUnknown           NetworkKind = "unknown"
	NetOther             NetworkKind = "other"
)

// Error is the single concrete error type for the taxonomy. Status,
// Code, Payload and Raw are only meaningful for the Kind they document.
type Error struct {
	Kind    Kind
	Net     NetworkKind // set when Kind == KindNetwork
	Code    int         // HTTP status (KindAPI) or raw network error code (Net == NetOther)
	Payload []byte      // parsed error payload, KindAPI
	Raw     []byte      // raw response body, KindAPI
	Msg     string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		if e.Wrapped != nil {
			return fmt.Sprintf("%s: %v", e.Msg, e.Wrapped)
		}
		return e.Msg
	}
	switch e.Kind {
	case KindNetwork:
		return fmt.Sprintf("network(%s)", e.Net)
	case KindAPI:
		return fmt.Sprintf("api(status=%d)", e.Code)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is supports errors.Is(err, coreerr.New(coreerr.KindConflict, "")) style
// checks against a bare Kind sentinel built with New(kind, "").
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind && (other.Net == "" || e.Net == other.Net)
	}
	return false
}

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Wrapped: err}
}

func Network(kind NetworkKind, err error) *Error {
	return &Error{Kind: KindNetwork, Net: kind, Wrapped: err}
}

func API(status int, payload, raw []byte) *Error {
	return &Error{Kind: KindAPI, Code: status, Payload: payload, Raw: raw}
}

func Deserialization(err error) *Error {
	return &Error{Kind: KindDeserialization, Wrapped: err}
}

func URLConstruction(msg string) *Error { return &Error{Kind: KindURLConstruction, Msg: msg} }

func Store(msg string, err error) *Error {
	return &Error{Kind: KindStore, Msg: msg, Wrapped: err}
}

func Logical(msg string) *Error { return &Error{Kind: KindLogical, Msg: msg} }

var ErrAccessInvalid = &Error{Kind: KindAccessInvalid, Msg: "access level denied or changed mid-operation"}
var ErrNotSupported = &Error{Kind: KindNotSupported, Msg: "operation not supported in current context"}

// KindOf extracts the Kind of err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsFallbackEligible reports whether a store error belongs to the
// "fall-back-to-local-eligible" subset referenced by §7, used by
// RemoteOrLocal reads in the manager.
func IsFallbackEligible(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Kind == KindStore {
		return true
	}
	if e.Kind == KindNetwork {
		switch e.Net {
		case NetConnectionLost, NetNotConnected, NetTimedOut, NetCannotConnectHost, NetDNSLookupFailed:
			return true
		}
	}
	return false
}
