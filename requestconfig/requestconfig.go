// Package requestconfig is C1: a typed, immutable description of one
// HTTP request, its queueing strategy, and the encoding rules that turn
// it into an over-the-wire request (query string, path, body).
package requestconfig

import (
	"slices"
	"strings"
	"time"

	"github.com/evalgo/entitysync/entity"
)

// Method is one of the five methods the core supports.
type Method string

const (
	GET    Method = "GET"
	HEAD   Method = "HEAD"
	DELETE Method = "DELETE"
	POST   Method = "POST"
	PUT    Method = "PUT"
)

// CachePolicy controls whether and how a response may be served from a
// local cache instead of the transport.
type CachePolicy string

const (
	CacheDefault  CachePolicy = "default"
	CacheIgnore   CachePolicy = "ignore_cache"
	CacheOnly     CachePolicy = "cache_only"
	CacheReload   CachePolicy = "reload_ignoring_cache"
)

// PathSegment is one element of a request's path tree: a literal
// component, or an identifier placeholder awaiting substitution (§4.1).
type PathSegment struct {
	Component  string
	Identifier *entity.Identifier
	TypeID     string
}

// Component builds a literal path segment.
func Component(name string) PathSegment { return PathSegment{Component: name} }

// IdentifierSegment builds a path segment standing in for an identifier,
// rendered at transport time as its remote value; a still-Local
// identifier makes rendering fail with a url_construction error that
// names its §4.1 placeholder form.
func IdentifierSegment(typeID string, id entity.Identifier) PathSegment {
	return PathSegment{Identifier: &id, TypeID: typeID}
}

// QueryValue is a scalar, array, or identifier-placeholder query value.
type QueryValue struct {
	Scalar     string
	Array      []string
	Identifier *entity.Identifier
	TypeID     string
	isArray    bool
}

func ScalarValue(v string) QueryValue { return QueryValue{Scalar: v} }
func ArrayValue(v []string) QueryValue {
	return QueryValue{Array: v, isArray: true}
}
func IdentifierValue(typeID string, id entity.Identifier) QueryValue {
	return QueryValue{Identifier: &id, TypeID: typeID}
}

func (q QueryValue) IsArray() bool { return q.isArray }

// QueryParam is one ordered key/value pair of the query mapping; order
// is preserved from construction since the encoding is ordered (§4.1).
type QueryParam struct {
	Key   string
	Value QueryValue
}

// Header is one ordered key/value header pair.
type Header struct {
	Key   string
	Value string
}

// RetryTrigger is a QueueingStrategy's retry_policy set; each field is
// one trigger.
type RetryTrigger struct {
	OnNetworkInterrupt    bool
	OnRequestTimeout      bool
	CustomErrorCodes      []int // OnCustomErrorCodes([code])
	AllErrorCodesExcept   []int // OnAllErrorCodesExcept([code]); in effect only when set via WithAllErrorCodesExcept
	hasAllExcept          bool
}

func (r RetryTrigger) RetriesOnCode(code int) bool {
	for _, c := range r.CustomErrorCodes {
		if c == code {
			return true
		}
	}
	if r.hasAllExcept {
		for _, c := range r.AllErrorCodesExcept {
			if c == code {
				return false
			}
		}
		return true
	}
	return false
}

// WithAllErrorCodesExcept sets the OnAllErrorCodesExcept branch.
func (r RetryTrigger) WithAllErrorCodesExcept(codes []int) RetryTrigger {
	r.AllErrorCodesExcept = codes
	r.hasAllExcept = true
	return r
}

// Sync is the Concurrent/Barrier synchronization mode of a queueing
// strategy.
type Sync string

const (
	Concurrent Sync = "concurrent"
	Barrier    Sync = "barrier"
)

// QueueingStrategy is §3's Queueing Strategy: a synchronization mode
// plus the retry triggers that apply when the queue processor (C6)
// receives an api_error for a request carrying this strategy.
type QueueingStrategy struct {
	Sync  Sync
	Retry RetryTrigger
}

// DefaultQueueingStrategy returns the §3 per-method default: GET/HEAD
// get Concurrent with no retries; DELETE/POST/PUT get Barrier with
// retry-on-network-interrupt and retry-on-timeout.
func DefaultQueueingStrategy(method Method) QueueingStrategy {
	switch method {
	case GET, HEAD:
		return QueueingStrategy{Sync: Concurrent}
	default:
		return QueueingStrategy{
			Sync: Barrier,
			Retry: RetryTrigger{
				OnNetworkInterrupt: true,
				OnRequestTimeout:   true,
			},
		}
	}
}

// Body is either raw bytes or a form-url-encoded mapping.
type Body struct {
	Raw  []byte
	Form []QueryParam
}

func RawBody(b []byte) Body { return Body{Raw: b} }
func FormBody(params []QueryParam) Body { return Body{Form: params} }

func (b Body) IsEmpty() bool { return len(b.Raw) == 0 && len(b.Form) == 0 }

// RequestConfig is §3's immutable Request Config record.
type RequestConfig struct {
	Method            Method
	Host              *string
	Path              []PathSegment
	Query             []QueryParam
	Headers           []Header
	Body              Body
	Timeout           time.Duration
	CachePolicy       CachePolicy
	Queueing          QueueingStrategy
	BackgroundAllowed bool
	Tag               *string
	Deduplicate       bool
}

// New builds a RequestConfig with the §3 method-based defaults
// (queueing strategy and deduplicate flag: true for GET/HEAD, false
// otherwise).
func New(method Method, path []PathSegment) RequestConfig {
	return RequestConfig{
		Method:      method,
		Path:        path,
		Timeout:     30 * time.Second,
		CachePolicy: CacheDefault,
		Queueing:    DefaultQueueingStrategy(method),
		Deduplicate: method == GET || method == HEAD,
	}
}

// WithTag returns a copy tagged for caller-side bookkeeping. Tag is not
// part of the config's identity (see Equal).
func (c RequestConfig) WithTag(tag string) RequestConfig {
	c.Tag = &tag
	return c
}

// WithDeduplicate returns a copy with an explicit deduplicate flag,
// overriding the method-based default. Not part of the config's
// identity.
func (c RequestConfig) WithDeduplicate(v bool) RequestConfig {
	c.Deduplicate = v
	return c
}

// Equal implements §3's "two configs are equal iff their core fields are
// equal; tag and deduplicate flag are not part of identity" — the
// equality the deduplicator and in-flight cache key off of.
func (c RequestConfig) Equal(other RequestConfig) bool {
	if c.Method != other.Method || c.Timeout != other.Timeout || c.CachePolicy != other.CachePolicy {
		return false
	}
	if !ptrStringEqual(c.Host, other.Host) {
		return false
	}
	ra, rb := c.Queueing.Retry, other.Queueing.Retry
	if c.Queueing.Sync != other.Queueing.Sync ||
		ra.OnNetworkInterrupt != rb.OnNetworkInterrupt || ra.OnRequestTimeout != rb.OnRequestTimeout ||
		ra.hasAllExcept != rb.hasAllExcept ||
		!slices.Equal(ra.CustomErrorCodes, rb.CustomErrorCodes) ||
		!slices.Equal(ra.AllErrorCodesExcept, rb.AllErrorCodesExcept) {
		return false
	}
	if c.BackgroundAllowed != other.BackgroundAllowed {
		return false
	}
	if !c.Body.equal(other.Body) {
		return false
	}
	return pathEqual(c.Path, other.Path) && queryEqual(c.Query, other.Query) && headerEqual(c.Headers, other.Headers)
}

// Key renders method, host, path, query, headers, body (raw bytes and
// form keys), timeout and cache policy to a stable string, used as the
// deduplicator's and in-flight cache's map key. Two configs with
// Equal == true always produce the same Key; the converse does not hold,
// since the queueing strategy, BackgroundAllowed and form-body values
// are not rendered.
func (c RequestConfig) Key() string {
	var b strings.Builder
	b.WriteString(string(c.Method))
	b.WriteByte('|')
	if c.Host != nil {
		b.WriteString(*c.Host)
	}
	b.WriteByte('|')
	for _, seg := range c.Path {
		if seg.Identifier != nil {
			b.WriteString(seg.Identifier.String())
		} else {
			b.WriteString(seg.Component)
		}
		b.WriteByte('/')
	}
	b.WriteByte('|')
	for _, q := range c.Query {
		b.WriteString(q.Key)
		b.WriteByte('=')
		if q.Value.Identifier != nil {
			b.WriteString(q.Value.Identifier.String())
		} else if q.Value.isArray {
			b.WriteString(strings.Join(q.Value.Array, ","))
		} else {
			b.WriteString(q.Value.Scalar)
		}
		b.WriteByte('&')
	}
	b.WriteByte('|')
	for _, h := range c.Headers {
		b.WriteString(h.Key)
		b.WriteByte('=')
		b.WriteString(h.Value)
		b.WriteByte('&')
	}
	b.WriteByte('|')
	b.Write(c.Body.Raw)
	for _, f := range c.Body.Form {
		b.WriteString(f.Key)
		b.WriteByte('&')
	}
	b.WriteByte('|')
	b.WriteString(c.Timeout.String())
	b.WriteByte('|')
	b.WriteString(string(c.CachePolicy))
	return b.String()
}

func ptrStringEqual(a, b *string) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func (b Body) equal(other Body) bool {
	if string(b.Raw) != string(other.Raw) {
		return false
	}
	return queryEqual(b.Form, other.Form)
}

func pathEqual(a, b []PathSegment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Component != b[i].Component || a[i].TypeID != b[i].TypeID {
			return false
		}
		ai, aok := segmentIdentifier(a[i])
		bi, bok := segmentIdentifier(b[i])
		if aok != bok || (aok && !ai.Equal(bi)) {
			return false
		}
	}
	return true
}

func segmentIdentifier(s PathSegment) (entity.Identifier, bool) {
	if s.Identifier == nil {
		return entity.Identifier{}, false
	}
	return *s.Identifier, true
}

func queryEqual(a, b []QueryParam) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key != b[i].Key {
			return false
		}
		if a[i].Value.isArray != b[i].Value.isArray || a[i].Value.Scalar != b[i].Value.Scalar {
			return false
		}
		if strings.Join(a[i].Value.Array, "\x00") != strings.Join(b[i].Value.Array, "\x00") {
			return false
		}
		ai, bi := a[i].Value.Identifier, b[i].Value.Identifier
		if a[i].Value.TypeID != b[i].Value.TypeID || (ai == nil) != (bi == nil) || (ai != nil && !ai.Equal(*bi)) {
			return false
		}
	}
	return true
}

func headerEqual(a, b []Header) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
