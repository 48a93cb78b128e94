package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/botlauncher/launcher/internal/domain"
)

// download streams target into dst through a temp file in the same
// directory, so dst only ever appears complete.
func (r *Resolver) download(ctx context.Context, target, dst string, kind domain.ArtifactKind, game domain.Game, onProgress func(domain.Progress)) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	started := time.Now()
	body, total, err := r.backend.Stream(ctx, target)
	if err != nil {
		return err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp download: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	report := func(n int64) {
		if onProgress != nil {
			onProgress(domain.Progress{Kind: kind, Game: game, Downloaded: n, Total: total})
		}
	}
	stop := r.sampleProgress(tmpName, report)

	n, err := io.Copy(tmp, body)
	stop()
	if err != nil {
		tmp.Close()
		return domain.NetworkError{Op: "download " + target, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close download: %w", err)
	}
	if total > 0 && n != total {
		return domain.NetworkError{Op: "download " + target, Err: fmt.Errorf("short body: got %d of %d bytes", n, total)}
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("finalize download: %w", err)
	}

	report(n)
	r.metrics.DownloadBytes.WithLabelValues(string(kind)).Add(float64(n))
	r.metrics.DownloadDuration.WithLabelValues(string(kind)).Observe(time.Since(started).Seconds())
	r.logger.Info("Downloaded artifact", "kind", kind, "game", game, "path", dst, "bytes", n)
	return nil
}

// sampleProgress stats file every sample interval and reports its size.
// The returned func stops sampling and waits for the sampler to exit.
func (r *Resolver) sampleProgress(file string, report func(int64)) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.sampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if info, err := os.Stat(file); err == nil {
					report(info.Size())
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
