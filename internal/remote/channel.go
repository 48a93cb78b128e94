// Package remote is the polling mailbox through which other launchers and
// the web dashboard start clients on this machine.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/botlauncher/launcher/internal/api"
	"github.com/botlauncher/launcher/internal/domain"
	"github.com/botlauncher/launcher/internal/events"
	"github.com/botlauncher/launcher/internal/metrics"
)

// failureThreshold consecutive poll or register errors mark the channel disconnected.
const failureThreshold = 3

const consumeTimeout = 10 * time.Second

// Backend is the mailbox and presence API.
type Backend interface {
	Register(ctx context.Context, req api.RegisterRequest) error
	Unregister(ctx context.Context, tag string) error
	Messages(ctx context.Context, consumer string) ([]api.Message, error)
	Consume(ctx context.Context, id int64) error
	Send(ctx context.Context, target string, payload any) error
	Connected(ctx context.Context) (map[string]domain.PeerInfo, error)
}

type Options struct {
	Backend          Backend
	Self             *Self
	Handler          Handler
	Events           *events.Bus
	Metrics          *metrics.Metrics
	Logger           *slog.Logger
	PollInterval     time.Duration
	RegisterInterval time.Duration
}

// Channel registers this launcher, polls its mailbox and dispatches commands.
type Channel struct {
	backend          Backend
	self             *Self
	handler          Handler
	events           *events.Bus
	metrics          *metrics.Metrics
	logger           *slog.Logger
	pollInterval     time.Duration
	registerInterval time.Duration

	mu           sync.Mutex
	seen         *seenSet
	failures     int
	disconnected bool
	user         *domain.User

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewChannel(opts Options) *Channel {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.RegisterInterval <= 0 {
		opts.RegisterInterval = 30 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.Events == nil {
		opts.Events = events.NewBus()
	}
	return &Channel{
		backend:          opts.Backend,
		self:             opts.Self,
		handler:          opts.Handler,
		events:           opts.Events,
		metrics:          opts.Metrics,
		logger:           opts.Logger,
		pollInterval:     opts.PollInterval,
		registerInterval: opts.RegisterInterval,
		seen:             newSeenSet(seenCapacity),
	}
}

// Identifier is the mailbox tag of this launcher.
func (c *Channel) Identifier() string { return c.self.Identifier() }

// Connected reports whether the channel currently considers itself healthy.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user != nil && !c.disconnected
}

// Connect registers for user, performs a first poll and starts the poll
// and register loops. The loops stop when ctx is cancelled or on Close.
func (c *Channel) Connect(ctx context.Context, user *domain.User) error {
	if user == nil {
		return errors.New("remote channel requires a signed-in user")
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("remote channel already connected")
	}
	c.user = user
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	// Resolve the IP before the first registration; failure is not fatal.
	c.self.PublicIP(ctx)
	c.register(loopCtx)
	c.poll(loopCtx)
	c.metrics.Connected.Set(1)
	c.logger.Info("Remote channel connected", "tag", c.Identifier(), "user_id", user.ID)

	c.wg.Add(2)
	go c.loop(loopCtx, c.pollInterval, c.poll)
	go c.loop(loopCtx, c.registerInterval, c.register)
	return nil
}

func (c *Channel) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Close stops the loops and waits for in-flight work.
func (c *Channel) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

func (c *Channel) register(ctx context.Context) {
	c.mu.Lock()
	user := c.user
	c.mu.Unlock()

	info := c.self.Info(ctx)
	err := c.backend.Register(ctx, api.RegisterRequest{
		UserID:          user.ID,
		Tag:             c.Identifier(),
		IP:              info.IP,
		MachineUsername: info.MachineUsername,
		Platform:        info.Type,
		Host:            info.Host,
	})
	if err != nil {
		c.metrics.RegisterErrors.Inc()
		c.recordFailure("register", err)
	}
}

func (c *Channel) poll(ctx context.Context) {
	msgs, err := c.backend.Messages(ctx, c.Identifier())
	if err != nil {
		c.metrics.PollTotal.WithLabelValues("error").Inc()
		c.recordFailure("poll", err)
		return
	}
	c.recordSuccess()
	if len(msgs) == 0 {
		c.metrics.PollTotal.WithLabelValues("empty").Inc()
		return
	}
	c.metrics.PollTotal.WithLabelValues("ok").Inc()

	for _, m := range msgs {
		c.mu.Lock()
		fresh := c.seen.Add(m.ID)
		c.mu.Unlock()
		if !fresh {
			continue
		}
		c.consume(m.ID)
		c.handle(ctx, m)
	}
}

// consume acknowledges id without waiting for the result.
func (c *Channel) consume(id int64) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), consumeTimeout)
		defer cancel()
		if err := c.backend.Consume(ctx, id); err != nil {
			c.logger.Warn("Failed to consume message", "id", id, "err", err)
		}
	}()
}

func (c *Channel) handle(ctx context.Context, m api.Message) {
	cmd, err := Decode([]byte(m.Body))
	if err != nil {
		c.logger.Warn("Ignoring undecodable message", "id", m.ID, "err", err)
		return
	}
	if target := cmd.Target(); target != "" && target != c.Identifier() {
		c.logger.Debug("Ignoring message for another launcher", "id", m.ID, "target", target)
		return
	}

	c.metrics.CommandsTotal.WithLabelValues(cmd.Type()).Inc()
	c.logger.Info("Dispatching remote command", "id", m.ID, "type", cmd.Type())
	if err := cmd.Dispatch(ctx, c.handler); err != nil {
		c.logger.Error("Remote command failed", "id", m.ID, "type", cmd.Type(), "err", err)
		c.events.Fail(fmt.Errorf("%s: %w", cmd.Type(), err))
	}
}

func (c *Channel) recordFailure(op string, err error) {
	c.mu.Lock()
	c.failures++
	flipped := c.failures >= failureThreshold && !c.disconnected
	if flipped {
		c.disconnected = true
	}
	quiet := c.disconnected && !flipped
	c.mu.Unlock()

	if quiet {
		c.logger.Debug("Remote channel still unreachable", "op", op, "err", err)
		return
	}
	c.logger.Warn("Remote channel error", "op", op, "err", err)
	if flipped {
		c.metrics.Connected.Set(0)
		c.events.Publish(events.ConnectionChanged{Connected: false})
		c.events.Fail(fmt.Errorf("lost connection to the launcher service: %w", err))
	}
}

func (c *Channel) recordSuccess() {
	c.mu.Lock()
	c.failures = 0
	recovered := c.disconnected
	c.disconnected = false
	c.mu.Unlock()

	if recovered {
		c.metrics.Connected.Set(1)
		c.logger.Info("Remote channel reconnected")
		c.events.Publish(events.ConnectionChanged{Connected: true})
		c.events.Log("Reconnected to the launcher service.")
	}
}

// Peers lists every launcher registered for the signed-in user, keyed by tag.
func (c *Channel) Peers(ctx context.Context) (map[string]domain.PeerInfo, error) {
	return c.backend.Connected(ctx)
}

// Discover asks every other connected launcher to describe itself. Replies
// arrive as Discovered commands. It returns the number of peers asked.
func (c *Channel) Discover(ctx context.Context) (int, error) {
	peers, err := c.Peers(ctx)
	if err != nil {
		return 0, err
	}
	asked := 0
	var errs []error
	for tag := range peers {
		if tag == c.Identifier() {
			continue
		}
		if err := c.backend.Send(ctx, tag, discoverPayload(c.Identifier())); err != nil {
			errs = append(errs, fmt.Errorf("discover %s: %w", tag, err))
			continue
		}
		asked++
	}
	return asked, errors.Join(errs...)
}

// Relay hands req to the launcher tagged target.
func (c *Channel) Relay(ctx context.Context, target, session string, req domain.LaunchRequest) error {
	if target == "" {
		return errors.New("relay requires a target launcher")
	}
	return c.backend.Send(ctx, target, StartClientPayload(target, session, req))
}

// Disconnect stops the loops and removes this launcher's registration.
func (c *Channel) Disconnect(ctx context.Context) error {
	c.Close()
	c.metrics.Connected.Set(0)
	return c.backend.Unregister(ctx, c.Identifier())
}
