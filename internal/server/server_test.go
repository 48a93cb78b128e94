package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botlauncher/launcher/internal/domain"
	"github.com/botlauncher/launcher/internal/metrics"
)

type fakeController struct {
	launched   []domain.LaunchRequest
	relayed    map[string]domain.LaunchRequest
	runtimeDir string
	runtimeErr error
	peersErr   error
}

func (f *fakeController) Status(context.Context) Status {
	return Status{Identifier: "launcher_me", Version: "test", Connected: true, Running: 2}
}

func (f *fakeController) Peers(context.Context) (map[string]domain.PeerInfo, error) {
	if f.peersErr != nil {
		return nil, f.peersErr
	}
	return map[string]domain.PeerInfo{"launcher_a": {Identifier: "launcher_a", Host: "box"}}, nil
}

func (f *fakeController) Discover(context.Context) (int, error) { return 1, nil }

func (f *fakeController) Launch(_ context.Context, req domain.LaunchRequest) error {
	f.launched = append(f.launched, req)
	return nil
}

func (f *fakeController) Relay(_ context.Context, peer string, req domain.LaunchRequest) error {
	if f.relayed == nil {
		f.relayed = map[string]domain.LaunchRequest{}
	}
	f.relayed[peer] = req
	return nil
}

func (f *fakeController) SelectRuntime(_ context.Context, dir string) error {
	f.runtimeDir = dir
	return f.runtimeErr
}

func newTestServer(secret string, ctl Controller) http.Handler {
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New("127.0.0.1:0", secret, ctl, reg, logger).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:50123"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	h := newTestServer("s3cret", &fakeController{})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/ping", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/status", "").Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodGet, "/status", "", SecretHeader, "nope").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/status", "", SecretHeader, "s3cret").Code)
}

func TestGuard_NoSecretOnlyServesLoopback(t *testing.T) {
	h := newTestServer("", &fakeController{})

	for addr, want := range map[string]int{
		"127.0.0.1:4000":    http.StatusOK,
		"[::1]:4000":        http.StatusOK,
		"192.168.1.20:4000": http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, addr)
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "192.168.1.20:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "ping stays public")
}

func TestRequestID(t *testing.T) {
	h := newTestServer("s3cret", &fakeController{})

	rec := do(t, h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	id := rec.Header().Get(RequestIDHeader)
	require.NotEmpty(t, id)
	var body struct {
		RequestID string `json:"requestId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, id, body.RequestID)

	const given = "6f1c1c1e-8a53-4d36-9a57-3c8f0a0a6a11"
	rec = do(t, h, http.MethodGet, "/ping", "", RequestIDHeader, given)
	assert.Equal(t, given, rec.Header().Get(RequestIDHeader))

	rec = do(t, h, http.MethodGet, "/ping", "", RequestIDHeader, "not-a-uuid")
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get(RequestIDHeader))
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(RequestID(), Recovery(slog.New(slog.NewTextHandler(io.Discard, nil))))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"requestId"`)
}

func TestStatusAndPeers(t *testing.T) {
	h := newTestServer("", &fakeController{})

	rec := do(t, h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Data Status `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "launcher_me", status.Data.Identifier)
	assert.Equal(t, 2, status.Data.Running)

	rec = do(t, h, http.MethodGet, "/peers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"launcher_a"`)
}

func TestPeers_RateLimited(t *testing.T) {
	h := newTestServer("", &fakeController{peersErr: fmt.Errorf("peers: %w", domain.ErrRateLimited)})
	rec := do(t, h, http.MethodGet, "/peers", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLaunch_LocalAndRelay(t *testing.T) {
	ctl := &fakeController{}
	h := newTestServer("", ctl)
	body := `{"jvmArgs":"-Xmx1g","sleep":3,"clients":[{"rsUsername":"a","world":302},{"rsUsername":"b"}]}`

	rec := do(t, h, http.MethodPost, "/launch", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, ctl.launched, 1)
	req := ctl.launched[0]
	assert.Len(t, req.Clients, 2)
	assert.Equal(t, 302, req.Clients[0].World)
	assert.Equal(t, domain.WorldUnset, req.Clients[1].World)
	assert.Equal(t, []string{"-Xmx1g"}, req.GlobalRuntimeArgs)

	rec = do(t, h, http.MethodPost, "/launch?peer=launcher_b", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, ctl.launched, 1)
	assert.Len(t, ctl.relayed["launcher_b"].Clients, 2)
}

func TestLaunch_Rejects(t *testing.T) {
	h := newTestServer("", &fakeController{})
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/launch", `{"clients":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/launch", `not json`).Code)
}

func TestSelectRuntime(t *testing.T) {
	ctl := &fakeController{}
	h := newTestServer("", ctl)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/runtime", `{"dir":"/opt/jre"}`).Code)
	assert.Equal(t, "/opt/jre", ctl.runtimeDir)

	ctl.runtimeErr = fmt.Errorf("select: %w", domain.ErrExecutableNotFound)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/runtime", `{"dir":"/tmp"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/runtime", `{}`).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer("", &fakeController{})
	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "botlauncher_remote_connected")
}
