package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetUserIDFromContext(r.Context())))
	})
}

func TestVerifyJWT(t *testing.T) {
	valid := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	expired := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	wrongKey := signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.RegisteredClaims{Subject: "user-1"})
	noSubject := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{})
	unsigned := signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.RegisteredClaims{Subject: "user-1"})

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantBody string
	}{
		{"valid", "Bearer " + valid, http.StatusOK, "user-1"},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, "user-1"},
		{"missing header", "", http.StatusUnauthorized, "authorization header required"},
		{"basic scheme", "Basic abc", http.StatusUnauthorized, "invalid authorization header format"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "invalid token"},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized, "invalid token"},
		{"no subject", "Bearer " + noSubject, http.StatusUnauthorized, "token has no subject"},
		{"alg none", "Bearer " + unsigned, http.StatusUnauthorized, "invalid token"},
	}

	h := VerifyJWT(testSecret)(echoUser())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestRequireAdminToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name     string
		token    string
		header   string
		wantCode int
	}{
		{"match", "s3cret", "Bearer s3cret", http.StatusNoContent},
		{"mismatch", "s3cret", "Bearer nope", http.StatusForbidden},
		{"missing", "s3cret", "", http.StatusForbidden},
		{"disabled", "", "Bearer ", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			RequireAdminToken(tt.token)(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestWithUserID(t *testing.T) {
	ctx := WithUserID(context.Background(), "u9")
	assert.Equal(t, "u9", GetUserIDFromContext(ctx))
	assert.Empty(t, GetUserIDFromContext(context.Background()))
}

func TestHTTPMetrics(t *testing.T) {
	reader := metric.NewManualReader()
	m, err := NewHTTPMetrics(metric.NewMeterProvider(metric.WithReader(reader)).Meter("test"))
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })

	for range 3 {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/42", nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var found bool
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "imagehub_http_requests_total" {
				continue
			}
			sum := md.Data.(metricdata.Sum[int64])
			require.Len(t, sum.DataPoints, 1)
			dp := sum.DataPoints[0]
			assert.Equal(t, int64(3), dp.Value)
			path, _ := dp.Attributes.Value("path")
			assert.Equal(t, "/items/{id}", path.AsString())
			status, _ := dp.Attributes.Value("status")
			assert.Equal(t, int64(http.StatusTeapot), status.AsInt64())
			found = true
		}
	}
	assert.True(t, found)
}

func TestAccessLogger(t *testing.T) {
	var buf strings.Builder
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(AccessLogger(log))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	out := buf.String()
	assert.Contains(t, out, `"path":"/health"`)
	assert.Contains(t, out, `"status":200`)
	assert.Contains(t, out, `"bytes":2`)
}
