package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "hostwatch/pkg/logx"
)

func newTestService(health HealthFunc) (*Service, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "hostwatch_test_total", Help: "test"}).Inc()
	return New(Config{}, logx.Nop(), health, reg), reg
}

func do(t *testing.T, h http.Handler, remote, target string, hdr map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = remote
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestHealthz(t *testing.T) {
	var healthErr error
	s, _ := newTestService(func(context.Context) error { return healthErr })
	h := s.Handler(Config{})

	code, body := do(t, h, "127.0.0.1:5000", "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	healthErr = errors.New("database is locked")
	code, body = do(t, h, "127.0.0.1:5000", "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "database is locked")
}

func TestMetricsExposesRegistry(t *testing.T) {
	s, _ := newTestService(nil)
	code, body := do(t, s.Handler(Config{}), "127.0.0.1:5000", "/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "hostwatch_test_total 1")
}

func TestTokenAuth(t *testing.T) {
	s, _ := newTestService(nil)
	h := s.Handler(Config{Token: "s3cret"})

	code, _ := do(t, h, "10.0.0.5:4000", "/healthz", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, h, "10.0.0.5:4000", "/healthz", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, h, "10.0.0.5:4000", "/healthz", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, h, "10.0.0.5:4000", "/metrics?token=s3cret", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, h, "[::1]:4000", "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestPprofOnlyWhenEnabled(t *testing.T) {
	s, _ := newTestService(nil)

	code, _ := do(t, s.Handler(Config{}), "127.0.0.1:1", "/debug/pprof/", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body := do(t, s.Handler(Config{Pprof: true}), "127.0.0.1:1", "/debug/pprof/", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "goroutine")
}

func TestCheckBind(t *testing.T) {
	assert.NoError(t, checkBind(Config{}, "127.0.0.1:9090"))
	assert.NoError(t, checkBind(Config{}, "localhost:9090"))
	assert.ErrorIs(t, checkBind(Config{}, ":9090"), errInsecureBind)
	assert.ErrorIs(t, checkBind(Config{}, "0.0.0.0:9090"), errInsecureBind)
	assert.NoError(t, checkBind(Config{Token: "x"}, "0.0.0.0:9090"))
	assert.NoError(t, checkBind(Config{AllowInsecure: true}, "0.0.0.0:9090"))
}

func TestStartServesAndStops(t *testing.T) {
	s, _ := newTestService(nil)
	ctx := context.Background()
	s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	require.NotNil(t, s.Supervisor())

	s.Apply(ctx, Config{Enabled: false})
	assert.Nil(t, s.Supervisor())
}
