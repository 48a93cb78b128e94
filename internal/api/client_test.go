package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botlauncher/launcher/internal/domain"
)

type staticSession string

func (s staticSession) Session() (string, error) { return string(s), nil }

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(srv.URL+"/api", 5*time.Second, staticSession("tok"), logger, WithRetryMax(0))
}

func TestCurrentVersion_SendsBearer(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/bot/currentVersion", r.URL.Path)
		assert.Equal(t, "osrs", r.URL.Query().Get("game"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"version": 12.5}`))
	}))

	v, err := c.CurrentVersion(context.Background(), domain.GameOSRS)
	require.NoError(t, err)
	assert.Equal(t, 12.5, v)
}

func TestVersionByHash_AcceptsBothShapes(t *testing.T) {
	for _, body := range []string{"11.25", `{"version":11.25}`} {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "abc", r.URL.Query().Get("hash"))
			w.Write([]byte(body))
		}))
		v, err := c.VersionByHash(context.Background(), domain.GameOSRS, "abc")
		require.NoError(t, err, body)
		assert.Equal(t, 11.25, v)
	}
}

func TestRateLimited(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.Me(context.Background())
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestErrorBodyMessage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/user/login" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"Invalid credentials."}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("not json"))
	}))

	_, err := c.Login(context.Background(), "a@b.c", "pw")
	var httpErr HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	assert.Equal(t, "Invalid credentials.", httpErr.Message)

	_, err = c.Connected(context.Background())
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "Something went wrong.", httpErr.Message)
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(srv.URL, time.Second, nil, logger, WithRetryMax(0))

	err := c.Register(context.Background(), RegisterRequest{Tag: "x"})
	var netErr domain.NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestMailboxRoundTrip(t *testing.T) {
	var consumed atomic.Int64
	var sent map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/message/get":
			assert.Equal(t, "launcher_1", r.URL.Query().Get("consumer"))
			w.Write([]byte(`[{"id":7,"message":"{\"type\":\"kill\"}"}]`))
		case "/api/message/consume":
			assert.Equal(t, "7", r.URL.Query().Get("message"))
			consumed.Add(1)
		case "/api/botLauncher/send":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	ctx := context.Background()

	msgs, err := c.Messages(ctx, "launcher_1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(7), msgs[0].ID)
	assert.JSONEq(t, `{"type":"kill"}`, msgs[0].Body)

	require.NoError(t, c.Consume(ctx, 7))
	assert.Equal(t, int64(1), consumed.Load())

	require.NoError(t, c.Send(ctx, "launcher_2", map[string]string{"type": "launcher:discover"}))
	assert.Equal(t, "launcher_2", sent["socket"])
}

func TestStream_AbsoluteURLSkipsAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte("payload"))
	}))
	defer srv.Close()
	c := newTestClient(t, http.NotFoundHandler())

	body, size, err := c.Stream(context.Background(), srv.URL+"/jdk.zip")
	require.NoError(t, err)
	defer body.Close()
	data, _ := io.ReadAll(body)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, int64(7), size)
}
