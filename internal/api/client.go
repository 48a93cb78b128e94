package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/botlauncher/launcher/internal/domain"
)

// SessionSource provides the bearer token attached to authenticated calls.
type SessionSource interface {
	Session() (string, error)
}

// Client talks to the launcher backend REST API.
type Client struct {
	baseURL  string
	sessions SessionSource

	http     *http.Client
	download *http.Client
	logger   *slog.Logger
}

// Option tweaks a Client at construction.
type Option func(*retryablehttp.Client)

// WithRetryMax overrides how many times a failed request is retried.
func WithRetryMax(n int) Option {
	return func(c *retryablehttp.Client) { c.RetryMax = n }
}

func newRetryClient(opts []Option) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 10 * time.Second
	rc.Logger = nil // suppress default logging
	// Hand the final response back so a 429 can be told apart from other failures.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	for _, o := range opts {
		o(rc)
	}
	return rc
}

// NewClient creates an API client rooted at baseURL. Every call is bounded
// by timeout except streamed downloads, which only bound the response headers.
func NewClient(baseURL string, timeout time.Duration, sessions SessionSource, logger *slog.Logger, opts ...Option) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	apiClient := newRetryClient(opts)
	apiClient.HTTPClient.Timeout = timeout

	dlClient := newRetryClient(opts)
	dlClient.HTTPClient.Timeout = 0
	if tr, ok := dlClient.HTTPClient.Transport.(*http.Transport); ok {
		tr.ResponseHeaderTimeout = timeout
	}

	return &Client{
		baseURL:  baseURL,
		sessions: sessions,
		http:     apiClient.StandardClient(),
		download: dlClient.StandardClient(),
		logger:   logger,
	}
}

// CurrentVersion returns the latest published client version of game.
func (c *Client) CurrentVersion(ctx context.Context, game domain.Game) (float64, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "bot/currentVersion?game="+url.QueryEscape(string(game)), nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Version float64 `json:"version"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("unmarshal current version: %w", err)
	}
	return resp.Version, nil
}

// VersionByHash asks which published version has the given sha512 digest.
func (c *Client) VersionByHash(ctx context.Context, game domain.Game, hash string) (float64, error) {
	q := url.Values{"game": {string(game)}, "hash": {hash}}
	data, err := c.doRequest(ctx, http.MethodGet, "bot/getVersionByHash?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	return parseVersion(data)
}

// parseVersion accepts either a bare number or {"version": n}.
func parseVersion(data []byte) (float64, error) {
	trimmed := strings.TrimSpace(string(data))
	if v, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return v, nil
	}
	var resp struct {
		Version *float64 `json:"version"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || resp.Version == nil {
		return 0, fmt.Errorf("unexpected version payload %q", trimmed)
	}
	return *resp.Version, nil
}

// JarPath is the authenticated download path of the current client jar.
func JarPath(game domain.Game) string {
	return "bot/currentJar?game=" + url.QueryEscape(string(game))
}

// Stream opens target for reading. A relative target is resolved against
// the API base URL and sent with the session; absolute URLs are fetched as-is.
// The caller closes the returned body.
func (c *Client) Stream(ctx context.Context, target string) (io.ReadCloser, int64, error) {
	authenticated := !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://")
	full := target
	if authenticated {
		full = c.baseURL + target
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	if authenticated {
		if err := c.authorize(req); err != nil {
			return nil, 0, err
		}
	}

	resp, err := c.download.Do(req)
	if err != nil {
		return nil, 0, transportError("download "+target, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, 0, statusError(resp.StatusCode, body)
	}
	return resp.Body, resp.ContentLength, nil
}

// Fetch performs an unauthenticated GET of an arbitrary URL.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError("GET "+rawURL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, body)
	}
	return body, nil
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	data, err := c.postJSON(ctx, "user/login", map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("unmarshal login response: %w", err)
	}
	if resp.Token == "" {
		return "", errors.New("login response carried no token")
	}
	return resp.Token, nil
}

// Me returns the user owning the current session.
func (c *Client) Me(ctx context.Context) (*domain.User, error) {
	data, err := c.postJSON(ctx, "user/me?full=true", struct{}{})
	if err != nil {
		return nil, err
	}
	var user domain.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &user, nil
}

// RegisterRequest announces this launcher's presence.
type RegisterRequest struct {
	UserID          int64  `json:"userId"`
	Tag             string `json:"tag"`
	IP              string `json:"ip"`
	MachineUsername string `json:"machineUsername"`
	Platform        string `json:"platform"`
	Host            string `json:"host"`
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	_, err := c.postJSON(ctx, "botLauncher/register", req)
	return err
}

func (c *Client) Unregister(ctx context.Context, tag string) error {
	_, err := c.postJSON(ctx, "botLauncher/unregister", map[string]string{"tag": tag})
	return err
}

// Message is a pending mailbox entry. Body is itself a JSON document.
type Message struct {
	ID   int64  `json:"id"`
	Body string `json:"message"`
}

// Messages returns the pending mailbox entries for consumer.
func (c *Client) Messages(ctx context.Context, consumer string) ([]Message, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "message/get?consumer="+url.QueryEscape(consumer), nil)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	return msgs, nil
}

// Consume acknowledges a mailbox entry.
func (c *Client) Consume(ctx context.Context, id int64) error {
	_, err := c.postJSON(ctx, "message/consume?message="+strconv.FormatInt(id, 10), struct{}{})
	return err
}

// Send relays payload into the mailbox of the launcher tagged target.
func (c *Client) Send(ctx context.Context, target string, payload any) error {
	_, err := c.postJSON(ctx, "botLauncher/send", map[string]any{
		"payload": payload,
		"socket":  target,
	})
	return err
}

// Connected lists the launchers currently registered for this user, keyed by tag.
func (c *Client) Connected(ctx context.Context) (map[string]domain.PeerInfo, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "botLauncher/connected", nil)
	if err != nil {
		return nil, err
	}
	peers := map[string]domain.PeerInfo{}
	if err := json.Unmarshal(data, &peers); err != nil {
		return nil, fmt.Errorf("unmarshal connected launchers: %w", err)
	}
	return peers, nil
}

// --- internal ---

func (c *Client) postJSON(ctx context.Context, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", path, err)
	}
	return c.doRequest(ctx, http.MethodPost, path, data)
}

func (c *Client) authorize(req *http.Request) error {
	if c.sessions == nil {
		return nil
	}
	session, err := c.sessions.Session()
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if session != "" {
		req.Header.Set("Authorization", "Bearer "+session)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(method+" "+path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("API error",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"body", string(respBody),
		)
		return nil, statusError(resp.StatusCode, respBody)
	}

	return respBody, nil
}
