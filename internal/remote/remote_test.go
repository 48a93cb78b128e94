package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botlauncher/launcher/internal/api"
	"github.com/botlauncher/launcher/internal/domain"
	"github.com/botlauncher/launcher/internal/events"
	"github.com/botlauncher/launcher/internal/storage"
)

type sent struct {
	target  string
	payload any
}

type fakeBackend struct {
	mu sync.Mutex

	messages    []api.Message
	pollErr     error
	registerErr error
	peers       map[string]domain.PeerInfo

	registers    int
	unregistered []string
	consumed     []int64
	sent         []sent
}

func (f *fakeBackend) Register(context.Context, api.RegisterRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers++
	return f.registerErr
}

func (f *fakeBackend) Unregister(_ context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered = append(f.unregistered, tag)
	return nil
}

func (f *fakeBackend) Messages(context.Context, string) ([]api.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages, f.pollErr
}

func (f *fakeBackend) Consume(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumed = append(f.consumed, id)
	return nil
}

func (f *fakeBackend) Send(_ context.Context, target string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{target, payload})
	return nil
}

func (f *fakeBackend) Connected(context.Context) (map[string]domain.PeerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers, nil
}

func (f *fakeBackend) setPollErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollErr = err
}

type recordingHandler struct {
	mu       sync.Mutex
	commands []Command
}

func (h *recordingHandler) record(c Command) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, c)
	return nil
}

func (h *recordingHandler) HandleKill(_ context.Context, c Kill) error { return h.record(c) }
func (h *recordingHandler) HandleStartClient(_ context.Context, c StartClient) error {
	return h.record(c)
}
func (h *recordingHandler) HandleDiscover(_ context.Context, c Discover) error { return h.record(c) }
func (h *recordingHandler) HandleDiscovered(_ context.Context, c Discovered) error {
	return h.record(c)
}
func (h *recordingHandler) HandleGetLogs(_ context.Context, c GetLogs) error { return h.record(c) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSelf() *Self {
	s := NewSelf("")
	s.once.Do(func() { s.ip = "203.0.113.7" })
	return s
}

func newTestChannel(backend Backend, h Handler, bus *events.Bus) *Channel {
	return NewChannel(Options{
		Backend: backend,
		Self:    newTestSelf(),
		Handler: h,
		Events:  bus,
		Logger:  discardLogger(),
	})
}

func TestPoll_DedupDispatchesAndConsumesOnce(t *testing.T) {
	backend := &fakeBackend{messages: []api.Message{{ID: 42, Body: `{"type":"kill"}`}}}
	h := &recordingHandler{}
	ch := newTestChannel(backend, h, events.NewBus())
	ctx := context.Background()

	ch.poll(ctx)
	ch.poll(ctx)
	ch.wg.Wait()

	assert.Len(t, h.commands, 1)
	assert.Equal(t, []int64{42}, backend.consumed)
}

func TestPoll_HealthFlipsOnceAndRecoversOnce(t *testing.T) {
	backend := &fakeBackend{pollErr: errors.New("503")}
	bus := events.NewBus()
	var changes []bool
	var failures int
	bus.Subscribe(func(e events.Event) {
		switch ev := e.(type) {
		case events.ConnectionChanged:
			changes = append(changes, ev.Connected)
		case events.Error:
			failures++
		}
	})
	ch := newTestChannel(backend, &recordingHandler{}, bus)
	ctx := context.Background()

	ch.poll(ctx)
	ch.poll(ctx)
	assert.Empty(t, changes)
	ch.poll(ctx)
	assert.Equal(t, []bool{false}, changes)
	ch.poll(ctx)
	ch.poll(ctx)
	assert.Equal(t, []bool{false}, changes, "no duplicate disconnect notifications")
	assert.Equal(t, 1, failures)

	backend.setPollErr(nil)
	ch.poll(ctx)
	ch.poll(ctx)
	assert.Equal(t, []bool{false, true}, changes)
}

func TestPoll_RegisterErrorsCountTowardHealth(t *testing.T) {
	backend := &fakeBackend{registerErr: errors.New("boom"), pollErr: errors.New("boom")}
	ch := newTestChannel(backend, &recordingHandler{}, events.NewBus())
	ch.user = &domain.User{ID: 7}
	ctx := context.Background()

	ch.register(ctx)
	ch.poll(ctx)
	ch.register(ctx)
	assert.True(t, ch.disconnected)
}

func TestPoll_IgnoresOtherTargets(t *testing.T) {
	h := &recordingHandler{}
	backend := &fakeBackend{}
	ch := newTestChannel(backend, h, events.NewBus())
	backend.messages = []api.Message{
		{ID: 1, Body: `{"type":"start:client","identifier":"launcher_someone-else","count":1}`},
		{ID: 2, Body: `{"type":"start:client","identifier":"` + ch.Identifier() + `","count":1}`},
		{ID: 3, Body: `not json`},
	}

	ch.poll(context.Background())
	ch.wg.Wait()
	require.Len(t, h.commands, 1)
	assert.Equal(t, ch.Identifier(), h.commands[0].Target())
	assert.ElementsMatch(t, []int64{1, 2, 3}, backend.consumed)
}

func TestConnect_RegistersAndLoops(t *testing.T) {
	backend := &fakeBackend{}
	ch := NewChannel(Options{
		Backend:          backend,
		Self:             newTestSelf(),
		Handler:          &recordingHandler{},
		Logger:           discardLogger(),
		PollInterval:     10 * time.Millisecond,
		RegisterInterval: 10 * time.Millisecond,
	})

	require.NoError(t, ch.Connect(context.Background(), &domain.User{ID: 1}))
	assert.True(t, ch.Connected())
	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.registers >= 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ch.Disconnect(context.Background()))
	assert.Equal(t, []string{ch.Identifier()}, backend.unregistered)
	assert.Error(t, ch.Connect(context.Background(), nil))
}

func TestDecode_SimpleShapeExpandsCount(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"start:client","count":3,"sleep":5,"jvmArgs":"-Xmx1g","session":"s",
		"proxy":{"ip":"10.0.0.1","port":1080,"username":"u","password":"p"}}`))
	require.NoError(t, err)

	start, ok := cmd.(StartClient)
	require.True(t, ok)
	assert.Equal(t, "s", start.Session)
	require.Len(t, start.Request.Clients, 3)
	for _, c := range start.Request.Clients {
		assert.Equal(t, domain.ClientSpec{
			Game:  domain.GameOSRS,
			World: domain.WorldUnset,
			Proxy: &domain.Proxy{Host: "10.0.0.1", Port: 1080, Username: "u", Password: "p"},
		}, c)
	}
	assert.Equal(t, 5, start.Request.ThrottleMs)
	assert.Equal(t, []string{"-Xmx1g"}, start.Request.GlobalRuntimeArgs)
}

func TestDecode_SimpleShapeCountThreeSharesProxyOnly(t *testing.T) {
	for _, key := range []string{"host", "ip"} {
		t.Run(key, func(t *testing.T) {
			cmd, err := Decode([]byte(`{"type":"start:client","count":3,"proxy":{"` + key + `":"1.2.3.4","port":8080}}`))
			require.NoError(t, err)

			start := cmd.(StartClient)
			require.Len(t, start.Request.Clients, 3)
			for _, c := range start.Request.Clients {
				require.NotNil(t, c.Proxy)
				assert.Equal(t, domain.Proxy{Host: "1.2.3.4", Port: 8080}, *c.Proxy)
				assert.Empty(t, c.Username)
				assert.Empty(t, c.Password)
				assert.Nil(t, c.Script)
				assert.Nil(t, c.RuntimeProfile)
				assert.Equal(t, domain.WorldUnset, c.World)
				assert.Equal(t, domain.GameOSRS, c.Game)
			}
			assert.NotSame(t, start.Request.Clients[0].Proxy, start.Request.Clients[1].Proxy)
		})
	}
}

func TestDecode_QuickLaunchShape(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"start:client","count":9,"qs":{"clients":[
		{"rsUsername":"a","script":{"name":"Fisher","isRepoScript":true}},
		{"rsUsername":"b","scriptName":"Miner","proxyIp":"1.1.1.1","proxyPort":8080}]}}`))
	require.NoError(t, err)

	start := cmd.(StartClient)
	require.Len(t, start.Request.Clients, 2, "qs wins over count")
	assert.Equal(t, "Fisher", start.Request.Clients[0].Script.Name)
	assert.True(t, start.Request.Clients[0].Script.IsRepository)
	assert.Equal(t, "Miner", start.Request.Clients[1].Script.Name)
	assert.Equal(t, "1.1.1.1", start.Request.Clients[1].Proxy.Host)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte(`{"type":"explode"}`))
	assert.ErrorIs(t, err, ErrUnknownCommand)
	_, err = Decode([]byte(`{}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`{"type":"launcher:discovered"}`))
	assert.Error(t, err)
}

func TestStartClientPayload_RoundTrip(t *testing.T) {
	req := domain.LaunchRequest{
		Clients: []domain.ClientSpec{{
			Username: "u",
			Password: "p",
			World:    301,
			Game:     domain.GameRS3,
			Script:   &domain.Script{Name: "Fisher", Args: "x"},
			Proxy:    &domain.Proxy{Host: "h", Port: 1},
		}},
		GlobalRuntimeArgs: []string{"-Xmx1g"},
		ThrottleMs:        2000,
	}
	raw, err := json.Marshal(StartClientPayload("launcher_x", "sess", req))
	require.NoError(t, err)

	cmd, err := Decode(raw)
	require.NoError(t, err)
	start := cmd.(StartClient)
	assert.Equal(t, "launcher_x", start.Target())
	assert.Equal(t, "sess", start.Session)
	assert.Equal(t, req, start.Request)
}

func TestSeenSet_EvictsOldest(t *testing.T) {
	s := newSeenSet(3)
	for _, id := range []int64{1, 2, 3} {
		assert.True(t, s.Add(id))
	}
	assert.False(t, s.Add(2))
	assert.True(t, s.Add(4))
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Add(1), "1 was evicted")
	assert.False(t, s.Add(4))
}

func TestDiscover_SkipsSelf(t *testing.T) {
	backend := &fakeBackend{}
	ch := newTestChannel(backend, &recordingHandler{}, events.NewBus())
	backend.peers = map[string]domain.PeerInfo{
		ch.Identifier(): {Identifier: ch.Identifier()},
		"launcher_a":    {Identifier: "launcher_a"},
		"launcher_b":    {Identifier: "launcher_b"},
	}

	n, err := ch.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, backend.sent, 2)
	for _, s := range backend.sent {
		assert.NotEqual(t, ch.Identifier(), s.target)
	}
}

type fakeBatches struct{ reqs []domain.LaunchRequest }

func (f *fakeBatches) Start(req domain.LaunchRequest) { f.reqs = append(f.reqs, req) }

type fakeSessions struct{ tokens []string }

func (f *fakeSessions) WriteSessionIfAbsent(token string) error {
	f.tokens = append(f.tokens, token)
	return nil
}

func newTestRouter(backend Backend) (*Router, *fakeBatches, *fakeSessions, *events.Bus) {
	batches := &fakeBatches{}
	sessions := &fakeSessions{}
	bus := events.NewBus()
	r := NewRouter(RouterOptions{
		Backend:  backend,
		Self:     newTestSelf(),
		Batches:  batches,
		Sessions: sessions,
		Events:   bus,
		Logger:   discardLogger(),
	})
	r.grace = 0
	return r, batches, sessions, bus
}

func TestRouter_StartClient(t *testing.T) {
	r, batches, sessions, _ := newTestRouter(&fakeBackend{})
	cmd := StartClient{Session: "tok", Request: domain.LaunchRequest{Clients: make([]domain.ClientSpec, 2)}}

	require.NoError(t, r.HandleStartClient(context.Background(), cmd))
	assert.Equal(t, []string{"tok"}, sessions.tokens)
	require.Len(t, batches.reqs, 1)
	assert.Len(t, batches.reqs[0].Clients, 2)
}

func TestRouter_Kill(t *testing.T) {
	backend := &fakeBackend{}
	r, _, _, _ := newTestRouter(backend)
	var closed bool
	r.shutdown = func() { closed = true }
	code := -1
	r.exit = func(c int) { code = c }

	require.NoError(t, r.HandleKill(context.Background(), Kill{}))
	assert.True(t, closed)
	assert.Equal(t, 1, code)
	assert.Equal(t, []string{r.self.Identifier()}, backend.unregistered)
}

func TestRouter_DiscoverRepliesToSource(t *testing.T) {
	backend := &fakeBackend{}
	r, _, _, _ := newTestRouter(backend)

	require.NoError(t, r.HandleDiscover(context.Background(), Discover{Source: "launcher_peer"}))
	require.Len(t, backend.sent, 1)
	assert.Equal(t, "launcher_peer", backend.sent[0].target)

	raw, err := json.Marshal(backend.sent[0].payload)
	require.NoError(t, err)
	cmd, err := Decode(raw)
	require.NoError(t, err)
	found := cmd.(Discovered)
	assert.Equal(t, r.self.Identifier(), found.Peer.Identifier)
	assert.Equal(t, "203.0.113.7", found.Peer.IP)
}

func TestRouter_DiscoveredPublishesPeer(t *testing.T) {
	r, _, _, bus := newTestRouter(&fakeBackend{})
	var got []domain.PeerInfo
	bus.Subscribe(func(e events.Event) {
		if p, ok := e.(events.PeerDiscovered); ok {
			got = append(got, p.Peer)
		}
	})

	require.NoError(t, r.HandleDiscovered(context.Background(), Discovered{Peer: domain.PeerInfo{Identifier: "launcher_other"}}))
	require.NoError(t, r.HandleDiscovered(context.Background(), Discovered{Peer: r.self.Info(context.Background())}))
	require.Len(t, got, 1)
	assert.Equal(t, "launcher_other", got[0].Identifier)
}

type fakeLogs struct {
	category   string
	take, skip int
}

func (f *fakeLogs) Logs(_ context.Context, category string, take, skip int) (storage.LogPage, error) {
	f.category, f.take, f.skip = category, take, skip
	return storage.LogPage{Count: 7, Values: []storage.LogEntry{{ID: 1, Category: category, Type: "info", Message: "hi"}}}, nil
}

func TestRouter_GetLogsRepliesWithPage(t *testing.T) {
	backend := &fakeBackend{}
	r, _, _, _ := newTestRouter(backend)
	logs := &fakeLogs{}
	r.logs = logs

	require.NoError(t, r.HandleGetLogs(context.Background(), GetLogs{Source: "launcher_web", Category: "launcher", Take: 20, Skip: 40}))
	assert.Equal(t, "launcher", logs.category)
	assert.Equal(t, 20, logs.take)
	assert.Equal(t, 40, logs.skip)

	require.Len(t, backend.sent, 1)
	raw, err := json.Marshal(backend.sent[0].payload)
	require.NoError(t, err)
	var reply struct {
		Type   string             `json:"type"`
		Count  int                `json:"count"`
		Values []storage.LogEntry `json:"values"`
	}
	require.NoError(t, json.Unmarshal(raw, &reply))
	assert.Equal(t, TypeLogs, reply.Type)
	assert.Equal(t, 7, reply.Count)
	require.Len(t, reply.Values, 1)
	assert.Equal(t, "hi", reply.Values[0].Message)
}

func TestOSType(t *testing.T) {
	assert.Equal(t, "Windows_NT", osType("windows"))
	assert.Equal(t, "Darwin", osType("darwin"))
	assert.Equal(t, "Freebsd", osType("freebsd"))
}
