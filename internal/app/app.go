// Package app wires the launcher together and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/botlauncher/launcher/internal/api"
	"github.com/botlauncher/launcher/internal/artifact"
	"github.com/botlauncher/launcher/internal/auth"
	"github.com/botlauncher/launcher/internal/config"
	"github.com/botlauncher/launcher/internal/domain"
	"github.com/botlauncher/launcher/internal/events"
	"github.com/botlauncher/launcher/internal/launch"
	"github.com/botlauncher/launcher/internal/metrics"
	"github.com/botlauncher/launcher/internal/network"
	"github.com/botlauncher/launcher/internal/paths"
	"github.com/botlauncher/launcher/internal/process"
	"github.com/botlauncher/launcher/internal/quicklaunch"
	"github.com/botlauncher/launcher/internal/remote"
	"github.com/botlauncher/launcher/internal/server"
	"github.com/botlauncher/launcher/internal/storage"
)

// LogCategory is the persisted log category for launcher messages.
const LogCategory = "launcher"

const shutdownTimeout = 10 * time.Second

// App is the top-level application that owns every subsystem.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	layout paths.Layout

	store    *storage.Store
	db       *storage.DB
	bus      *events.Bus
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	api       *api.Client
	auth      *auth.Service
	resolver  *artifact.Resolver
	launcher  *process.Launcher
	sequencer *launch.Sequencer
	parser    *quicklaunch.Parser

	self    *remote.Self
	channel *remote.Channel
	router  *remote.Router
	ports   *network.PortAllocator

	httpServer *server.Server
	remoteUp   bool

	// batchCtx outlives the remote channel so kill and disconnect do not
	// abort batches mid-spawn.
	batchCtx    context.Context
	stopBatches context.CancelFunc
	batches     sync.WaitGroup

	unsubscribe func()
	closeOnce   sync.Once
}

// New creates and wires all launcher subsystems. layout must already exist.
func New(cfg *config.Config, layout paths.Layout, logger *slog.Logger) (*App, error) {
	store, err := storage.NewStore(layout.Cache)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	db, err := storage.OpenDB(layout.Database())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)
	bus := events.NewBus()

	client := api.NewClient(cfg.APIURL, cfg.RequestTimeout, store, logger)
	authSvc := auth.NewService(client, store, logger)
	resolver := artifact.NewResolver(artifact.Options{
		Backend:        client,
		Config:         db,
		Manifests:      store,
		Layout:         layout,
		RuntimeVersion: cfg.RuntimeVersion,
		Metrics:        m,
		Events:         bus,
		Logger:         logger,
	})
	launcher := process.NewLauncher(logger)

	a := &App{
		cfg:       cfg,
		logger:    logger,
		layout:    layout,
		store:     store,
		db:        db,
		bus:       bus,
		registry:  registry,
		metrics:   m,
		api:       client,
		auth:      authSvc,
		resolver:  resolver,
		launcher:  launcher,
		sequencer: launch.NewSequencer(resolver, launcher, m, logger),
		parser:    quicklaunch.NewParser(client, logger),
		self:      remote.NewSelf(cfg.IPCheckURL),
		ports:     network.NewPortAllocator(),
	}
	a.sequencer.SetDefaultThrottle(cfg.Throttle)
	a.batchCtx, a.stopBatches = context.WithCancel(context.Background())

	a.router = remote.NewRouter(remote.RouterOptions{
		Backend:  client,
		Self:     a.self,
		Batches:  a,
		Sessions: authSvc,
		Logs:     db,
		Events:   bus,
		Logger:   logger,
		Shutdown: a.release,
	})
	a.channel = remote.NewChannel(remote.Options{
		Backend:          client,
		Self:             a.self,
		Handler:          a.router,
		Events:           bus,
		Metrics:          m,
		Logger:           logger,
		PollInterval:     cfg.PollInterval,
		RegisterInterval: cfg.RegisterInterval,
	})
	a.unsubscribe = bus.Subscribe(a.persist)
	return a, nil
}

// Events is the application event bus.
func (a *App) Events() *events.Bus { return a.bus }

// Run optionally performs a quick launch, then connects the remote channel
// and serves the control API until ctx is cancelled.
func (a *App) Run(ctx context.Context, quickArg string) error {
	if quickArg != "" {
		req, err := a.prepareQuickLaunch(ctx, quickArg)
		if err != nil {
			a.bus.Fail(err)
		} else {
			a.Start(req)
		}
	}

	user, err := a.auth.CurrentUser(ctx)
	switch {
	case err != nil:
		a.logger.Warn("could not look up the signed-in user, remote launching disabled", "err", err)
		a.bus.Fail(err)
	case user == nil:
		a.logger.Warn("not signed in, remote launching disabled")
	default:
		if err := a.channel.Connect(ctx, user); err != nil {
			return fmt.Errorf("connect remote channel: %w", err)
		}
		a.remoteUp = true
	}

	addr, err := a.ports.Resolve(a.cfg.ControlAddr)
	if err != nil {
		return fmt.Errorf("resolve control address: %w", err)
	}
	a.httpServer = server.New(addr, a.cfg.ControlSecret, a, a.registry, a.logger)

	a.logger.Info("launcher ready",
		"version", config.Version,
		"tag", a.self.Identifier(),
		"control_addr", addr,
		"signed_in", user != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.httpServer.Start()
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down launcher")
		return a.shutdown()
	case err := <-errCh:
		shutdownErr := a.shutdown()
		if err == nil {
			return shutdownErr
		}
		return errors.Join(fmt.Errorf("control api: %w", err), shutdownErr)
	}
}

// LaunchQuick resolves arg and either runs the batch here, blocking until
// every client was attempted, or relays it to peer.
func (a *App) LaunchQuick(ctx context.Context, arg, peer string) (launch.Summary, error) {
	req, err := a.prepareQuickLaunch(ctx, arg)
	if err != nil {
		return launch.Summary{}, err
	}
	if peer != "" {
		if err := a.Relay(ctx, peer, req); err != nil {
			return launch.Summary{}, err
		}
		return launch.Summary{Total: len(req.Clients)}, nil
	}
	return a.sequencer.Launch(ctx, req, a.callbacks()), nil
}

// prepareQuickLaunch parses arg, signs in with its credentials when they
// name another account and refreshes stable client copies on request.
func (a *App) prepareQuickLaunch(ctx context.Context, arg string) (domain.LaunchRequest, error) {
	res := a.parser.Parse(ctx, arg)
	for _, line := range res.Logs {
		a.logger.Debug(line)
	}
	if res.NoArgs {
		return domain.LaunchRequest{}, errors.New("no quick launch argument given")
	}
	if res.Err != nil {
		return domain.LaunchRequest{}, res.Err
	}
	q := res.Config

	// One attempt only; a failed login is reported, not retried.
	if quicklaunch.ShouldLogin(ctx, a.auth, q) {
		a.bus.Log("Signing in with the quick launch credentials.")
		if err := quicklaunch.Login(ctx, a.auth, q); err != nil {
			return domain.LaunchRequest{}, err
		}
	}

	req := q.Request()

	if q.AutoUpdateClient {
		seen := map[domain.Game]bool{}
		for _, c := range req.Clients {
			game := c.Game
			if game == "" {
				game = domain.GameOSRS
			}
			if seen[game] {
				continue
			}
			seen[game] = true
			path, err := a.resolver.MaterializeClientArtifact(ctx, game)
			if err != nil {
				return domain.LaunchRequest{}, fmt.Errorf("update %s client: %w", game, err)
			}
			a.logger.Info("client copy up to date", "game", game, "path", path)
		}
	}
	return req, nil
}

// Start runs req on its own goroutine. It implements remote.BatchRunner.
func (a *App) Start(req domain.LaunchRequest) {
	a.batches.Add(1)
	go func() {
		defer a.batches.Done()
		a.sequencer.Launch(a.batchCtx, req, a.callbacks())
	}()
}

func (a *App) callbacks() launch.Callbacks {
	return launch.Callbacks{
		OnLog: a.bus.Log,
		OnError: func(i int, err error) {
			a.bus.Fail(fmt.Errorf("client %d: %w", i+1, err))
		},
		OnProgress: func(p domain.Progress) {
			a.bus.Publish(events.DownloadProgress{Progress: p})
		},
		OnFinish: func(s launch.Summary) {
			a.bus.Publish(events.BatchFinished{Total: s.Total, Failed: s.Failed})
		},
	}
}

// persist writes user-facing messages to the log table.
func (a *App) persist(e events.Event) {
	var typ, msg string
	switch ev := e.(type) {
	case events.Log:
		typ, msg = "info", ev.Message
	case events.Error:
		typ, msg = "error", ev.Message
	case events.BatchFinished:
		typ, msg = "info", fmt.Sprintf("Finished launching %d clients, %d failed.", ev.Total, ev.Failed)
	default:
		return
	}
	if err := a.db.WriteLog(context.Background(), LogCategory, typ, msg); err != nil {
		a.logger.Warn("failed to persist log", "err", err)
	}
}

// Status implements server.Controller.
func (a *App) Status(ctx context.Context) server.Status {
	user, _ := a.auth.CurrentUser(ctx)
	return server.Status{
		Identifier: a.self.Identifier(),
		Version:    config.Version,
		Connected:  a.channel.Connected(),
		User:       user,
		Running:    a.launcher.Running(),
	}
}

// Peers lists the launchers registered for the signed-in user.
func (a *App) Peers(ctx context.Context) (map[string]domain.PeerInfo, error) {
	return a.channel.Peers(ctx)
}

func (a *App) Discover(ctx context.Context) (int, error) {
	return a.channel.Discover(ctx)
}

// Launch starts req locally in the background.
func (a *App) Launch(_ context.Context, req domain.LaunchRequest) error {
	a.Start(req)
	return nil
}

// Relay hands req to the launcher tagged peer, passing along this session.
func (a *App) Relay(ctx context.Context, peer string, req domain.LaunchRequest) error {
	session, err := a.auth.Session()
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if session == "" {
		return errors.New("sign in before launching on another machine")
	}
	return a.channel.Relay(ctx, peer, session, req)
}

// SelectRuntime stores a manually chosen runtime directory.
func (a *App) SelectRuntime(ctx context.Context, dir string) error {
	return a.resolver.SelectRuntimeDir(ctx, dir)
}

// ResetRuntime deletes downloaded runtimes and the configured runtime path.
func (a *App) ResetRuntime(ctx context.Context) error {
	return a.resolver.ResetRuntime(ctx)
}

// Login signs in explicitly.
func (a *App) Login(ctx context.Context, email, password string) (*domain.User, error) {
	return a.auth.Login(ctx, email, password)
}

// Logs returns a page of persisted launcher logs.
func (a *App) Logs(ctx context.Context, take, skip int) (storage.LogPage, error) {
	return a.db.Logs(ctx, LogCategory, take, skip)
}

// Close releases local resources without touching the remote registration.
func (a *App) Close() error {
	a.release()
	return nil
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.remoteUp {
		if err := a.channel.Disconnect(ctx); err != nil {
			a.logger.Error("remote channel disconnect error", "err", err)
		}
	}

	a.release()
	a.logger.Info("launcher stopped")
	return nil
}

// release stops the control API, cancels running batches and closes the
// database. It leaves the remote channel alone so it is safe to call from
// a command dispatched by that channel.
func (a *App) release() {
	a.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if a.httpServer != nil {
			if err := a.httpServer.Shutdown(ctx); err != nil {
				a.logger.Error("control api shutdown error", "err", err)
			}
		}

		a.stopBatches()
		a.batches.Wait()
		a.unsubscribe()
		if err := a.db.Close(); err != nil {
			a.logger.Error("database close error", "err", err)
		}
	})
}

// Logout forgets the stored session.
func (a *App) Logout() error {
	return a.auth.Logout()
}
