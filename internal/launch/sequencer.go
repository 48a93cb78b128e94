// Package launch turns a LaunchRequest into a throttled series of client spawns.
package launch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/botlauncher/launcher/internal/domain"
	"github.com/botlauncher/launcher/internal/metrics"
)

// SuccessReportDelay is how long after a spawn the sequencer assumes the
// client came up and reports success. Clients are not watched past spawn.
const SuccessReportDelay = 2 * time.Second

// Resolver provides ready-to-run artifacts.
type Resolver interface {
	Ensure(ctx context.Context, kind domain.ArtifactKind, game domain.Game, onProgress func(domain.Progress)) (string, error)
}

// Spawner starts one detached client process.
type Spawner interface {
	Run(ctx context.Context, runtimeHome, jar string, runtimeArgs, appArgs []string) (int, error)
}

// Summary is the outcome of one batch.
type Summary struct {
	Total  int
	Failed int
}

// Callbacks receive batch progress. Any of them may be nil.
type Callbacks struct {
	OnLog      func(msg string)
	OnError    func(index int, err error)
	OnProgress func(p domain.Progress)
	OnFinish   func(s Summary)
}

func (cb Callbacks) log(msg string) {
	if cb.OnLog != nil {
		cb.OnLog(msg)
	}
}

func (cb Callbacks) fail(i int, err error) {
	if cb.OnError != nil {
		cb.OnError(i, err)
	}
}

// Sequencer launches the clients of a request one by one.
type Sequencer struct {
	resolver Resolver
	spawner  Spawner
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// Used when a request carries no throttle of its own.
	defaultThrottle time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	after func(d time.Duration, f func())
}

func NewSequencer(resolver Resolver, spawner Spawner, m *metrics.Metrics, logger *slog.Logger) *Sequencer {
	return &Sequencer{
		resolver: resolver,
		spawner:  spawner,
		metrics:  m,
		logger:   logger,

		defaultThrottle: ThrottleDuration(domain.DefaultThrottleMs),

		sleep: sleepCtx,
		after: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// SetDefaultThrottle sets the delay between spawns for requests that do not
// specify one. Negative values are treated as zero.
func (s *Sequencer) SetDefaultThrottle(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.defaultThrottle = d
}

func (s *Sequencer) DefaultThrottle() time.Duration { return s.defaultThrottle }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Launch runs the whole batch and blocks until every client has been
// attempted. A failing client is reported and the batch moves on.
func (s *Sequencer) Launch(ctx context.Context, req domain.LaunchRequest, cb Callbacks) Summary {
	sum := Summary{Total: len(req.Clients)}
	if sum.Total == 0 {
		if cb.OnFinish != nil {
			cb.OnFinish(sum)
		}
		return sum
	}

	throttle := s.defaultThrottle
	if req.ThrottleMs > 0 {
		throttle = ThrottleDuration(req.ThrottleMs)
	}
	s.metrics.BatchesTotal.Inc()
	cb.log(fmt.Sprintf("Attempting to start %d clients. Waiting %s between each launch.", sum.Total, throttle))

	for i, client := range req.Clients {
		if i > 0 {
			if err := s.sleep(ctx, throttle); err != nil {
				s.logger.Warn("Launch batch interrupted", "remaining", sum.Total-i, "err", err)
				sum.Failed += sum.Total - i
				break
			}
		}

		game := client.Game
		if game == "" {
			game = domain.GameOSRS
		}
		runtimeArgs := RuntimeArgs(req.GlobalRuntimeArgs, game)

		if err := s.launchOne(ctx, client, game, runtimeArgs, cb); err != nil {
			sum.Failed++
			s.metrics.LaunchesTotal.WithLabelValues(string(game), "error").Inc()
			s.logger.Error("Client launch failed", "index", i, "game", game, "err", err)
			cb.fail(i, err)
			continue
		}

		s.metrics.LaunchesTotal.WithLabelValues(string(game), "ok").Inc()
		n := i + 1
		s.after(SuccessReportDelay, func() {
			cb.log(fmt.Sprintf("Successfully sent command to start client %d. It should be opening shortly. Arguments used: %s",
				n, strings.Join(runtimeArgs, " ")))
		})
	}

	if cb.OnFinish != nil {
		cb.OnFinish(sum)
	}
	return sum
}

func (s *Sequencer) launchOne(ctx context.Context, client domain.ClientSpec, game domain.Game, runtimeArgs []string, cb Callbacks) error {
	home, err := s.resolver.Ensure(ctx, domain.KindRuntime, "", cb.OnProgress)
	if err != nil {
		return err
	}
	jar, err := s.resolver.Ensure(ctx, domain.KindClient, game, cb.OnProgress)
	if err != nil {
		return err
	}
	appArgs, err := AppArgs(client)
	if err != nil {
		return err
	}
	_, err = s.spawner.Run(ctx, home, jar, runtimeArgs, appArgs)
	return err
}
