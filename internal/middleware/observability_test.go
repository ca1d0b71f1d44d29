package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"chatthread/internal/metrics"
	"chatthread/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonLogger(buf *bytes.Buffer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(buf)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.JSONFormatter{})
	return logger
}

func TestObservabilityMiddleware(t *testing.T) {
	var logBuffer bytes.Buffer
	reg := metrics.NewRegistry()

	handler := ObservabilityMiddleware(jsonLogger(&logBuffer), Options{Registry: reg})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestInfo := tracing.GetRequestInfo(r.Context())
			assert.NotEmpty(t, requestInfo.RequestID)
			assert.NotEmpty(t, requestInfo.TraceID)

			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("test response"))
		}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("User-Agent", "test-agent")
	req.RemoteAddr = "192.168.1.100:12345"
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	labels := map[string]string{"method": "GET", "endpoint": "/test"}
	assert.Equal(t, float64(1), reg.CounterValue("http_requests_total", labels))
	assert.Equal(t, float64(0), reg.GaugeValue("http_requests_active", nil))

	snapshot := reg.GetAllMetrics()
	found := false
	for key := range snapshot.Timers {
		if strings.Contains(key, "http_request_duration") {
			found = true
		}
	}
	assert.True(t, found, "expected http_request_duration to be recorded")

	logOutput := logBuffer.String()
	assert.Contains(t, logOutput, "HTTP request started")
	assert.Contains(t, logOutput, "HTTP request completed")
	assert.Contains(t, logOutput, `"request_id"`)
	assert.Contains(t, logOutput, `"trace_id"`)
	assert.Contains(t, logOutput, `"remote_ip":"192.168.1.100"`)
}

func TestObservabilityMiddleware_LogLevelFollowsStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		level  string
	}{
		{name: "success", status: http.StatusAccepted, level: "info"},
		{name: "client error", status: http.StatusBadRequest, level: "warning"},
		{name: "server error", status: http.StatusInternalServerError, level: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuffer bytes.Buffer
			logger := jsonLogger(&logBuffer)
			logger.SetLevel(logrus.InfoLevel)

			handler := ObservabilityMiddleware(logger, Options{Registry: metrics.NewRegistry()})(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
				}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))

			var entry map[string]interface{}
			require.NoError(t, json.Unmarshal(bytes.TrimSpace(logBuffer.Bytes()), &entry))
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, float64(tt.status), entry[LogFieldStatusCode])
		})
	}
}

func TestObservabilityMiddleware_LabelsByRouteTemplate(t *testing.T) {
	reg := metrics.NewRegistry()
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	router := mux.NewRouter()
	router.Use(ObservabilityMiddleware(logger, Options{Registry: reg}))
	router.HandleFunc("/chats/{myId}/{friendId}/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	for _, path := range []string{"/chats/1/2/messages", "/chats/3/7/messages"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	labels := map[string]string{"method": "GET", "endpoint": "/chats/{myId}/{friendId}/messages"}
	assert.Equal(t, float64(2), reg.CounterValue("http_requests_total", labels))
}

func TestObservabilityMiddleware_TrustProxy(t *testing.T) {
	var logBuffer bytes.Buffer
	handler := ObservabilityMiddleware(jsonLogger(&logBuffer), Options{TrustProxy: true, Registry: metrics.NewRegistry()})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, logBuffer.String(), `"remote_ip":"203.0.113.5"`)
}

func TestResponseWrapper(t *testing.T) {
	w := httptest.NewRecorder()
	wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

	wrapper.WriteHeader(http.StatusCreated)
	assert.Equal(t, http.StatusCreated, wrapper.statusCode)

	wrapper.WriteHeader(http.StatusInternalServerError)
	assert.Equal(t, http.StatusCreated, wrapper.statusCode, "only the first status counts")

	data := []byte("test response data")
	n, err := wrapper.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	_, err = wrapper.Write([]byte(" more data"))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)+len(" more data")), wrapper.responseSize)

	assert.Same(t, w, wrapper.Unwrap())
	assert.NotPanics(t, wrapper.Flush)

	_, _, err = wrapper.Hijack()
	assert.Error(t, err, "httptest recorders cannot be hijacked")
}

func TestMiddleware_ConcurrentRequests(t *testing.T) {
	reg := metrics.NewRegistry()
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	handler := ObservabilityMiddleware(logger, Options{Registry: reg})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(20 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(5), reg.CounterValue("http_requests_total", map[string]string{"method": "GET", "endpoint": "/test"}))
	assert.Equal(t, float64(0), reg.GaugeValue("http_requests_active", nil))
}

// Trace IDs must be generated even when OpenTelemetry is not initialized.
func TestObservabilityMiddleware_TraceIDNotAllZeros(t *testing.T) {
	var logBuffer bytes.Buffer
	handler := ObservabilityMiddleware(jsonLogger(&logBuffer), Options{Registry: metrics.NewRegistry()})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestInfo := tracing.GetRequestInfo(r.Context())
			assert.NotEqual(t, "00000000000000000000000000000000", requestInfo.TraceID)
			assert.NotEqual(t, "0000000000000000", requestInfo.SpanID)
			w.WriteHeader(http.StatusOK)
		}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.NotContains(t, logBuffer.String(), `"trace_id":"00000000000000000000000000000000"`)
}
