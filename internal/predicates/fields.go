package predicates

import (
	"net/http"
	"net/url"
	"strings"
)

// Fields is the normalized view of one request that predicates evaluate
// against. Query and header keys are case-insensitive and stored lowercased;
// method and path are case-sensitive scalars unless a predicate opts out via
// caseSensitive: false. A Fields value is read-only during matching.
type Fields struct {
	Method      string
	Path        string
	Body        string
	RequestFrom string
	Query       map[string][]string
	Headers     map[string][]string
}

// FromRequest builds the field model from an incoming HTTP request.
// The body has already been read by the caller.
func FromRequest(r *http.Request, body []byte) *Fields {
	return NewFields(r.Method, r.URL.Path, r.URL.RawQuery, r.Header, string(body), r.RemoteAddr)
}

// NewFields builds a field model from raw request parts. Repeated query keys
// and repeated headers keep all values in declaration order. Malformed query
// pairs are dropped; the well-formed pairs still match.
func NewFields(method, path, rawQuery string, headers map[string][]string, body, requestFrom string) *Fields {
	f := &Fields{
		Method:      method,
		Path:        path,
		Body:        body,
		RequestFrom: requestFrom,
		Query:       make(map[string][]string),
		Headers:     make(map[string][]string),
	}
	vals, _ := url.ParseQuery(rawQuery)
	for k, vs := range vals {
		lk := strings.ToLower(k)
		f.Query[lk] = append(f.Query[lk], vs...)
	}
	for k, vs := range headers {
		lk := strings.ToLower(k)
		f.Headers[lk] = append(f.Headers[lk], vs...)
	}
	return f
}

// scalar returns the value of a scalar field. Recognized scalar fields are
// always present; unknown field names are absent.
func (f *Fields) scalar(field string) (value string, present bool) {
	switch field {
	case FieldMethod:
		return f.Method, true
	case FieldPath:
		return f.Path, true
	case FieldBody:
		return f.Body, true
	case FieldRequestFrom:
		return f.RequestFrom, true
	default:
		return "", false
	}
}

// mapped returns the multi-value mapping for query or headers.
func (f *Fields) mapped(field string) map[string][]string {
	switch field {
	case FieldQuery:
		return f.Query
	case FieldHeaders:
		return f.Headers
	default:
		return nil
	}
}

// mappedValues looks up one key of a mapped field, case-insensitively.
func (f *Fields) mappedValues(field, name string) (values []string, present bool) {
	m := f.mapped(field)
	if m == nil {
		return nil, false
	}
	values, present = m[strings.ToLower(name)]
	return values, present
}
