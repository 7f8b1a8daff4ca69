package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type startRecorder struct {
	noop.TracerProvider
	mu    sync.Mutex
	names []string
}

func (p *startRecorder) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return startTracer{p: p}
}

type startTracer struct {
	noop.Tracer
	p *startRecorder
}

func (t startTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	t.p.mu.Lock()
	t.p.names = append(t.p.names, name)
	t.p.mu.Unlock()
	return t.Tracer.Start(ctx, name, opts...)
}

func echoIDs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"request": GetRequestID(r.Context()),
		"trace":   GetTraceID(r.Context()),
	})
}

func TestRequestID(t *testing.T) {
	h := requestID(http.HandlerFunc(echoIDs))

	t.Run("Minted", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/scores", nil))

		id := rr.Header().Get(RequestIDHeader)
		require.Len(t, id, 36)
		assert.Equal(t, id, rr.Header().Get(TraceIDHeader))

		var body map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, id, body["request"])
		assert.Equal(t, id, body["trace"])
	})

	t.Run("Echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/scores", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, "req-42", rr.Header().Get(RequestIDHeader))
	})
}

func TestTraceRequests(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	parent := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})

	t.Run("ValidSpanOverridesTraceID", func(t *testing.T) {
		rec := &startRecorder{}
		h := requestID(traceRequests(rec.Tracer(tracerName))(http.HandlerFunc(echoIDs)))

		req := httptest.NewRequest(http.MethodGet, "/scores", nil)
		req = req.WithContext(trace.ContextWithSpanContext(req.Context(), parent))
		req.Header.Set(RequestIDHeader, "req-1")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, []string{"http GET"}, rec.names)
		assert.Equal(t, "req-1", rr.Header().Get(RequestIDHeader))
		assert.Equal(t, traceID.String(), rr.Header().Get(TraceIDHeader))

		var body map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, traceID.String(), body["trace"])
	})

	t.Run("DisabledKeepsRequestID", func(t *testing.T) {
		h := requestID(traceRequests(noop.NewTracerProvider().Tracer(tracerName))(http.HandlerFunc(echoIDs)))

		req := httptest.NewRequest(http.MethodGet, "/scores", nil)
		req.Header.Set(RequestIDHeader, "req-2")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, "req-2", rr.Header().Get(TraceIDHeader))
	})
}

func TestNewServer_TracingProvider(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, rr.Header().Get(RequestIDHeader), rr.Header().Get(TraceIDHeader),
		"without a provider the trace id is the request id")

	rec := &startRecorder{}
	traced := NewServer(env.server.config, env.repo, nil, env.bus, nil, nil, rec, "test")
	rr = httptest.NewRecorder()
	traced.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"http GET"}, rec.names)
}

func TestLogRequests(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	r := chi.NewRouter()
	r.Use(logRequests)
	r.Get("/scores/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusInternalServerError, CodeInternal, "boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/scores/runs/r-1?branch=b-1&asOf=2025-06-01", nil)
	req.Header.Set(TenantIDHeader, testTenant)
	r.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "/scores/runs/{id}", line["route"])
	assert.Equal(t, "/scores/runs/r-1", line["path"])
	assert.EqualValues(t, http.StatusInternalServerError, line["status"])
	assert.Equal(t, testTenant, line["tenant_id"])
	assert.Equal(t, "b-1", line["branch"])
	assert.Equal(t, "2025-06-01", line["as_of"])
	assert.Greater(t, line["bytes"], float64(0))
}

func TestRecoverPanics(t *testing.T) {
	t.Run("ErrorEnvelope", func(t *testing.T) {
		h := recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("nil map")
		}))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/scores", nil))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, CodeInternal, body.Code)
	})

	t.Run("AbortHandlerPropagates", func(t *testing.T) {
		h := recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(http.ErrAbortHandler)
		}))
		assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		})
	})
}

func TestAllowCORS(t *testing.T) {
	h := allowCORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/scores", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://dash.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), TenantIDHeader)
}
