package remote

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/botlauncher/launcher/internal/domain"
	"github.com/botlauncher/launcher/internal/events"
	"github.com/botlauncher/launcher/internal/storage"
)

// killGrace is how long a kill waits for cleanup before the process exits.
const killGrace = time.Second

// BatchRunner starts a launch batch in the background.
type BatchRunner interface {
	Start(req domain.LaunchRequest)
}

// SessionWriter stores a session handed over by a remote command.
type SessionWriter interface {
	WriteSessionIfAbsent(token string) error
}

// LogReader pages persisted launcher logs.
type LogReader interface {
	Logs(ctx context.Context, category string, take, skip int) (storage.LogPage, error)
}

type RouterOptions struct {
	Backend  Backend
	Self     *Self
	Batches  BatchRunner
	Sessions SessionWriter
	Logs     LogReader
	Events   *events.Bus
	Logger   *slog.Logger
	// Shutdown releases local resources before a kill exits the process.
	Shutdown func()
}

// Router executes decoded commands against the rest of the launcher.
type Router struct {
	backend  Backend
	self     *Self
	batches  BatchRunner
	sessions SessionWriter
	logs     LogReader
	events   *events.Bus
	logger   *slog.Logger
	shutdown func()

	exit  func(code int)
	grace time.Duration
}

func NewRouter(opts RouterOptions) *Router {
	if opts.Shutdown == nil {
		opts.Shutdown = func() {}
	}
	if opts.Events == nil {
		opts.Events = events.NewBus()
	}
	return &Router{
		backend:  opts.Backend,
		self:     opts.Self,
		batches:  opts.Batches,
		sessions: opts.Sessions,
		logs:     opts.Logs,
		events:   opts.Events,
		logger:   opts.Logger,
		shutdown: opts.Shutdown,
		exit:     os.Exit,
		grace:    killGrace,
	}
}

var _ Handler = (*Router)(nil)

// HandleKill unregisters, releases resources and terminates the process
// with a non-zero status.
func (r *Router) HandleKill(ctx context.Context, _ Kill) error {
	r.logger.Warn("Kill command received, shutting down")
	r.events.Log("Received kill command, shutting down.")

	if err := r.backend.Unregister(ctx, r.self.Identifier()); err != nil {
		r.logger.Warn("Unregister before kill failed", "err", err)
	}
	r.shutdown()

	time.Sleep(r.grace)
	r.exit(1)
	return nil
}

func (r *Router) HandleStartClient(_ context.Context, cmd StartClient) error {
	if cmd.Session != "" {
		if err := r.sessions.WriteSessionIfAbsent(cmd.Session); err != nil {
			r.logger.Warn("Failed to store session from remote command", "err", err)
		}
	}
	if len(cmd.Request.Clients) == 0 {
		return fmt.Errorf("start command carried no clients")
	}
	r.events.Log(fmt.Sprintf("Received remote request to start %d clients.", len(cmd.Request.Clients)))
	r.batches.Start(cmd.Request)
	return nil
}

func (r *Router) HandleDiscover(ctx context.Context, cmd Discover) error {
	if cmd.Source == "" || cmd.Source == r.self.Identifier() {
		return nil
	}
	return r.backend.Send(ctx, cmd.Source, discoveredPayload(r.self.Info(ctx)))
}

func (r *Router) HandleDiscovered(_ context.Context, cmd Discovered) error {
	if r.self.IsMe(cmd.Peer) {
		return nil
	}
	r.events.Publish(events.PeerDiscovered{Peer: cmd.Peer})
	return nil
}

// HandleGetLogs replies to the requester with one page of persisted logs.
// Without a log store the page is empty.
func (r *Router) HandleGetLogs(ctx context.Context, cmd GetLogs) error {
	if cmd.Source == "" {
		return nil
	}
	page := storage.LogPage{Values: []storage.LogEntry{}}
	if r.logs != nil {
		var err error
		if page, err = r.logs.Logs(ctx, cmd.Category, cmd.Take, cmd.Skip); err != nil {
			return fmt.Errorf("read logs: %w", err)
		}
	}
	return r.backend.Send(ctx, cmd.Source, logsPayload{
		Type:       TypeLogs,
		Identifier: r.self.Identifier(),
		Count:      page.Count,
		Values:     page.Values,
	})
}
