package requestconfig

import (
	"fmt"
	"strings"

	"github.com/evalgo/entitysync/coreerr"
)

// excludedFromQueryAllowed is the §4.1 exclusion set removed from the
// CharacterSet.urlQueryAllowed baseline; everything else in that
// baseline passes through unescaped, and every other byte is
// percent-encoded.
const excludedFromQueryAllowed = ":/?#[]@!$&'()+,;="

// urlQueryAllowedPunct is the non-alphanumeric part of the
// CharacterSet.urlQueryAllowed baseline.
const urlQueryAllowedPunct = "!$&'()*+,-./:;=?@_~"

func percentEncode(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		if _, err := fmt.Fprintf(&b, "%%%02X", c); err != nil {
			return "", coreerr.New(coreerr.KindParsing, "percent-encoding failed")
		}
	}
	return b.String(), nil
}

func isUnreserved(c byte) bool {
	if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
		return true
	}
	switch c {
	case '-', '_', '.', '~':
		return true
	}
	return strings.IndexByte(urlQueryAllowedPunct, c) >= 0 && strings.IndexByte(excludedFromQueryAllowed, c) < 0
}

// resolveQueryValue substitutes an identifier placeholder query value
// with its literal form, or returns the §4.1 distinguished
// "still a placeholder" error if the identifier remains Local at send
// time (i.e. was never resolved by a merge step).
func resolveQueryValue(v QueryValue) (string, error) {
	if v.Identifier == nil {
		return v.Scalar, nil
	}
	if v.Identifier.IsLocal() {
		return "", coreerr.New(coreerr.KindURLConstruction,
			fmt.Sprintf("identifier placeholder unresolved at send time: %s", v.Identifier.Placeholder(v.TypeID)))
	}
	remote, _ := v.Identifier.RemoteValue()
	return remote, nil
}

// EncodeQuery renders the ordered query mapping as
// "k1=v1&k2=v2&…" per §4.1: RFC-3986 percent-encoding excluding the
// reserved set, array values as repeated "k[]=v" pairs, nested arrays
// rejected.
func EncodeQuery(params []QueryParam) (string, error) {
	var parts []string
	for _, p := range params {
		key, err := percentEncode(p.Key)
		if err != nil {
			return "", err
		}
		if p.Value.IsArray() {
			for _, v := range p.Value.Array {
				ev, err := percentEncode(v)
				if err != nil {
					return "", err
				}
				parts = append(parts, fmt.Sprintf("%s[]=%s", key, ev))
			}
			continue
		}
		resolved, err := resolveQueryValue(p.Value)
		if err != nil {
			return "", err
		}
		ev, err := percentEncode(resolved)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%s=%s", key, ev))
	}
	return strings.Join(parts, "&"), nil
}

// EncodeFormBody renders a form body with the same escaping as
// EncodeQuery, joined by "&", UTF-8 encoded (Go strings already are).
func EncodeFormBody(params []QueryParam) ([]byte, error) {
	encoded, err := EncodeQuery(params)
	if err != nil {
		return nil, err
	}
	return []byte(encoded), nil
}

// RenderPath substitutes each path segment to its literal string,
// joined by "/". An unresolved Local identifier segment surfaces the
// same distinguished error as a query placeholder.
func RenderPath(segments []PathSegment) (string, error) {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg.Identifier == nil {
			parts = append(parts, seg.Component)
			continue
		}
		if seg.Identifier.IsLocal() {
			return "", coreerr.New(coreerr.KindURLConstruction,
				fmt.Sprintf("identifier placeholder unresolved in path: %s", seg.Identifier.Placeholder(seg.TypeID)))
		}
		remote, _ := seg.Identifier.RemoteValue()
		parts = append(parts, remote)
	}
	return strings.Join(parts, "/"), nil
}

// RenderURL builds the full request URL from host, rendered path, and
// encoded query.
func RenderURL(host string, segments []PathSegment, query []QueryParam) (string, error) {
	path, err := RenderPath(segments)
	if err != nil {
		return "", err
	}
	q, err := EncodeQuery(query)
	if err != nil {
		return "", err
	}
	u := strings.TrimRight(host, "/") + "/" + strings.TrimLeft(path, "/")
	if q != "" {
		u += "?" + q
	}
	return u, nil
}
