package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shamd/shamd/pkg/imposter"
	"github.com/shamd/shamd/pkg/metrics"
	"github.com/shamd/shamd/pkg/registry"
)

func compileImposter(t *testing.T, def imposter.Imposter) *imposter.Compiled {
	t.Helper()
	comp, err := imposter.Compile(&def)
	require.NoError(t, err)
	return comp
}

func jsonBody(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

func TestHandlerMatchedStub(t *testing.T) {
	comp := compileImposter(t, imposter.Imposter{
		Port: 4545,
		Stubs: []imposter.Stub{{
			Predicates: json.RawMessage(`[{"equals":{"path":"/greet"}}]`),
			Responses: []imposter.Response{{Is: &imposter.IsResponse{
				StatusCode: 201,
				Headers:    map[string]string{"X-Custom": "yes"},
				Body:       jsonBody("hello"),
			}}},
		}},
	})

	e := New(registry.New())
	srv := httptest.NewServer(e.handler(comp))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/greet")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Custom"))
	assert.Equal(t, "hello", string(body))
}

func TestHandlerNoMatchUsesDefault(t *testing.T) {
	comp := compileImposter(t, imposter.Imposter{
		Port: 4545,
		Stubs: []imposter.Stub{{
			Predicates: json.RawMessage(`[{"equals":{"path":"/known"}}]`),
		}},
		DefaultResponse: &imposter.Response{Is: &imposter.IsResponse{
			StatusCode: 404,
			Body:       jsonBody("no stub"),
		}},
	})

	e := New(registry.New())
	srv := httptest.NewServer(e.handler(comp))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/other")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "no stub", string(body))
}

func TestHandlerNoMatchNoDefault(t *testing.T) {
	comp := compileImposter(t, imposter.Imposter{Port: 4545})

	e := New(registry.New())
	srv := httptest.NewServer(e.handler(comp))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/anything")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestHandlerMatchedStubWithoutResponsesUsesDefault(t *testing.T) {
	comp := compileImposter(t, imposter.Imposter{
		Port: 4545,
		Stubs: []imposter.Stub{{
			Predicates: json.RawMessage(`[{"equals":{"path":"/empty"}}]`),
		}},
		DefaultResponse: &imposter.Response{Is: &imposter.IsResponse{
			StatusCode: 418,
			Body:       jsonBody("default"),
		}},
	})

	e := New(registry.New())
	srv := httptest.NewServer(e.handler(comp))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/empty")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, 418, resp.StatusCode)
	assert.Equal(t, "default", string(body))
}

func TestHandlerResponseCycling(t *testing.T) {
	comp := compileImposter(t, imposter.Imposter{
		Port: 4545,
		Stubs: []imposter.Stub{{
			Responses: []imposter.Response{
				{Is: &imposter.IsResponse{StatusCode: 200, Body: jsonBody("first")}},
				{Is: &imposter.IsResponse{StatusCode: 200, Body: jsonBody("second")}},
			},
		}},
	})

	e := New(registry.New())
	srv := httptest.NewServer(e.handler(comp))
	defer srv.Close()

	var bodies []string
	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + "/")
		require.NoError(t, err)
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		bodies = append(bodies, string(b))
	}
	assert.Equal(t, []string{"first", "second", "first"}, bodies)
}

func TestHandlerMatchesOnBody(t *testing.T) {
	comp := compileImposter(t, imposter.Imposter{
		Port: 4545,
		Stubs: []imposter.Stub{{
			Predicates: json.RawMessage(`[{"contains":{"body":"needle"}}]`),
			Responses:  []imposter.Response{{Is: &imposter.IsResponse{StatusCode: 200, Body: jsonBody("found")}}},
		}},
		DefaultResponse: &imposter.Response{Is: &imposter.IsResponse{StatusCode: 404}},
	})

	e := New(registry.New())
	srv := httptest.NewServer(e.handler(comp))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "text/plain", strings.NewReader("hay needle stack"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/", "text/plain", strings.NewReader("just hay"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)
}

func TestHandlerRecordsRequests(t *testing.T) {
	comp := compileImposter(t, imposter.Imposter{Port: 4545, RecordRequests: true})

	e := New(registry.New())
	srv := httptest.NewServer(e.handler(comp))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/recorded?x=1")
	require.NoError(t, err)
	resp.Body.Close()

	reqs := comp.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/recorded", reqs[0].Path)
	assert.Equal(t, []string{"1"}, reqs[0].Query["x"])
}

func TestHandlerMetrics(t *testing.T) {
	comp := compileImposter(t, imposter.Imposter{Port: 4545})

	metricsReg := metrics.NewRegistry()
	e := New(registry.New(), WithMetrics(metricsReg))
	srv := httptest.NewServer(e.handler(comp))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()

	rec := httptest.NewRecorder()
	metricsReg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `shamd_requests_total{matched="true",port="4545"} 1`)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestImposterLifecycle(t *testing.T) {
	port := freePort(t)
	comp := compileImposter(t, imposter.Imposter{
		Port: port,
		Stubs: []imposter.Stub{{
			Responses: []imposter.Response{{Is: &imposter.IsResponse{StatusCode: 202}}},
		}},
	})

	reg := registry.New()
	require.NoError(t, reg.Add(comp))
	e := New(reg)
	require.NoError(t, e.StartAll())

	require.Error(t, e.StartImposter(comp), "starting the same port twice fails")

	var resp *http.Response
	var err error
	for i := 0; i < 20; i++ {
		resp, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/", port))
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 202, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.StopImposter(ctx, port))
	require.NoError(t, e.Shutdown(ctx))
}
