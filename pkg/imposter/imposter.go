// Package imposter defines the wire model for virtual services and their
// stubs, and compiles stub predicates into their request-ready form.
package imposter

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/shamd/shamd/internal/predicates"
)

// Imposter is one virtual service definition: a port to listen on and an
// ordered list of stubs consulted first-match-wins.
type Imposter struct {
	Port            int       `json:"port"`
	Protocol        string    `json:"protocol"`
	Name            string    `json:"name,omitempty"`
	Stubs           []Stub    `json:"stubs"`
	DefaultResponse *Response `json:"defaultResponse,omitempty"`
	RecordRequests  bool      `json:"recordRequests,omitempty"`
}

// Stub pairs a predicate list with the responses returned when it matches.
// Responses cycle in order, wrapping around.
type Stub struct {
	ID         string          `json:"_id,omitempty"`
	Predicates json.RawMessage `json:"predicates,omitempty"`
	Responses  []Response      `json:"responses,omitempty"`
}

// Response is one entry of a stub's response list.
type Response struct {
	Is *IsResponse `json:"is,omitempty"`
}

// IsResponse is a canned HTTP response. Body is either a JSON string
// (written verbatim) or any other JSON value (written as JSON).
type IsResponse struct {
	StatusCode int               `json:"statusCode,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       json.RawMessage   `json:"body,omitempty"`
}

// BodyBytes renders the response body for the wire. A JSON string body is
// unquoted; structured bodies keep their JSON encoding.
func (r *IsResponse) BodyBytes() []byte {
	if len(r.Body) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(r.Body, &s); err == nil {
		return []byte(s)
	}
	return r.Body
}

// CompiledStub is a stub with its predicates compiled and its response
// cursor. The cursor is the only mutable state and is advanced atomically.
type CompiledStub struct {
	Stub
	next atomic.Uint64
}

// NextResponse returns the stub's next response in cycle order, or nil when
// the stub has no responses.
func (s *CompiledStub) NextResponse() *Response {
	if len(s.Responses) == 0 {
		return nil
	}
	n := s.next.Add(1) - 1
	return &s.Responses[n%uint64(len(s.Responses))]
}

// Compiled is an imposter whose stubs have all been compiled. It is
// immutable after Compile except for response cursors and the recorded
// request log.
type Compiled struct {
	Imposter
	stubs []*CompiledStub
	preds []*predicates.Compiled

	reqMu    sync.Mutex
	requests []RecordedRequest
}

// RecordedRequest is the stored form of one proxied request, kept when the
// imposter has recordRequests enabled.
type RecordedRequest struct {
	Method      string              `json:"method"`
	Path        string              `json:"path"`
	Query       map[string][]string `json:"query,omitempty"`
	Headers     map[string][]string `json:"headers,omitempty"`
	Body        string              `json:"body,omitempty"`
	RequestFrom string              `json:"requestFrom,omitempty"`
}

// Compile validates an imposter definition and compiles every stub's
// predicates. Definition errors (bad regex, bad selector, malformed
// predicate objects) are reported here and reject the whole imposter.
func Compile(imp *Imposter) (*Compiled, error) {
	if imp.Port <= 0 || imp.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", imp.Port)
	}
	if imp.Protocol == "" {
		imp.Protocol = "http"
	}
	if imp.Protocol != "http" {
		return nil, fmt.Errorf("unsupported protocol %q", imp.Protocol)
	}

	c := &Compiled{Imposter: *imp}
	for i := range c.Stubs {
		stub := &c.Stubs[i]
		if stub.ID == "" {
			stub.ID = uuid.NewString()
		}
		nodes, err := predicates.ParsePredicates(stub.Predicates)
		if err != nil {
			return nil, fmt.Errorf("stub %d: %w", i, err)
		}
		compiled, err := predicates.Compile(nodes)
		if err != nil {
			return nil, fmt.Errorf("stub %d: %w", i, err)
		}
		c.stubs = append(c.stubs, &CompiledStub{Stub: *stub})
		c.preds = append(c.preds, compiled)
	}
	return c, nil
}

// Match returns the first stub matching the request, or nil.
func (c *Compiled) Match(f *predicates.Fields) *CompiledStub {
	if i := predicates.FindMatch(c.preds, f); i >= 0 {
		return c.stubs[i]
	}
	return nil
}

// Record stores one request when recording is enabled.
func (c *Compiled) Record(f *predicates.Fields) {
	if !c.RecordRequests {
		return
	}
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	c.requests = append(c.requests, RecordedRequest{
		Method:      f.Method,
		Path:        f.Path,
		Query:       f.Query,
		Headers:     f.Headers,
		Body:        f.Body,
		RequestFrom: f.RequestFrom,
	})
}

// Requests returns a copy of the recorded request log.
func (c *Compiled) Requests() []RecordedRequest {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	out := make([]RecordedRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// NumberOfRequests reports how many requests the imposter has recorded.
func (c *Compiled) NumberOfRequests() int {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	return len(c.requests)
}
