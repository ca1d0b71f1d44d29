package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"chatthread/internal/metrics"
	"chatthread/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Structured log field names used by the HTTP layer
const (
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldMethod     = "method"
	LogFieldURL        = "url"
	LogFieldRoute      = "route"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldStatusCode = "status_code"
	LogFieldDuration   = "duration_ms"
	LogFieldSize       = "response_size"
)

// Options tunes the observability middleware.
type Options struct {
	// TrustProxy makes client IPs come from forwarding headers.
	TrustProxy bool
	// Registry receives the HTTP metrics; nil means the global registry.
	Registry *metrics.Registry
}

// ObservabilityMiddleware adds metrics collection and tracing to HTTP requests
func ObservabilityMiddleware(logger *logrus.Logger, opts Options) func(http.Handler) http.Handler {
	reg := opts.Registry
	if reg == nil {
		reg = metrics.GetRegistry()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.WithOtelTracing(r.Context(), "http_request")
			defer span.End()

			requestID := tracing.GenerateRequestID()
			ctx = tracing.WithRequestID(ctx, requestID)
			ctx = tracing.WithStartTime(ctx, time.Now())
			r = r.WithContext(ctx)

			route := routeTemplate(r)
			clientIP := ClientIP(r, opts.TrustProxy)

			tracing.AddSpanAttributes(ctx,
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.String()),
				attribute.String("http.route", route),
				attribute.String("user_agent.original", r.Header.Get("User-Agent")),
				attribute.String("client.address", clientIP),
			)

			requestInfo := tracing.GetRequestInfo(ctx)

			wrapper := &responseWrapper{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			logger.WithFields(logrus.Fields{
				LogFieldRequestID: requestInfo.RequestID,
				LogFieldTraceID:   requestInfo.TraceID,
				LogFieldMethod:    r.Method,
				LogFieldURL:       r.URL.Path,
				LogFieldRoute:     route,
				LogFieldRemoteIP:  clientIP,
				LogFieldUserAgent: r.Header.Get("User-Agent"),
				"content_length":  r.ContentLength,
			}).Debug("HTTP request started")

			reg.IncrementCounter("http_requests_total", map[string]string{
				"method":   r.Method,
				"endpoint": route,
			}, "Total HTTP requests")

			reg.AddToGauge("http_requests_active", 1, nil, "Currently active HTTP requests")
			defer reg.AddToGauge("http_requests_active", -1, nil, "Currently active HTTP requests")

			next.ServeHTTP(wrapper, r)

			duration := tracing.Duration(ctx)

			tracing.AddSpanAttributes(ctx,
				attribute.Int("http.response.status_code", wrapper.statusCode),
				attribute.Int64("http.response.size", wrapper.responseSize),
				attribute.Int64("http.request.duration_ms", duration.Milliseconds()),
			)

			if wrapper.statusCode >= 400 {
				tracing.SetSpanStatus(ctx, codes.Error, fmt.Sprintf("HTTP %d", wrapper.statusCode))
			} else {
				tracing.SetSpanStatus(ctx, codes.Ok, "")
			}

			status := strconv.Itoa(wrapper.statusCode)
			reg.RecordTimer("http_request_duration", duration, map[string]string{
				"method":      r.Method,
				"endpoint":    route,
				"status_code": status,
			}, "HTTP request duration")

			reg.IncrementCounter("http_responses_total", map[string]string{
				"method":      r.Method,
				"endpoint":    route,
				"status_code": status,
			}, "HTTP responses by status code")

			logLevel := logrus.InfoLevel
			if wrapper.statusCode >= 400 && wrapper.statusCode < 500 {
				logLevel = logrus.WarnLevel
			} else if wrapper.statusCode >= 500 {
				logLevel = logrus.ErrorLevel
			}

			logger.WithFields(logrus.Fields{
				LogFieldRequestID:  requestInfo.RequestID,
				LogFieldTraceID:    requestInfo.TraceID,
				LogFieldMethod:     r.Method,
				LogFieldURL:        r.URL.Path,
				LogFieldRoute:      route,
				LogFieldStatusCode: wrapper.statusCode,
				LogFieldDuration:   duration.Milliseconds(),
				LogFieldRemoteIP:   clientIP,
				LogFieldSize:       wrapper.responseSize,
			}).Log(logLevel, "HTTP request completed")
		})
	}
}

// routeTemplate labels a request by its mux route so path parameters do not
// explode metric cardinality. Unrouted requests fall back to the raw path.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// responseWrapper captures response metrics
type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
	wroteHeader  bool
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}

// Hijack hands the connection over for WebSocket upgrades.
func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (rw *responseWrapper) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
