// Package artifact makes sure the Java runtime and the versioned client jar
// exist locally before a launch, downloading and unpacking them on demand.
package artifact

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/botlauncher/launcher/internal/api"
	"github.com/botlauncher/launcher/internal/domain"
	"github.com/botlauncher/launcher/internal/events"
	"github.com/botlauncher/launcher/internal/metrics"
	"github.com/botlauncher/launcher/internal/paths"
	"github.com/botlauncher/launcher/internal/storage"
)

// minClientSize is the size a client jar must exceed to be trusted when
// the hash service cannot be reached.
const minClientSize = 1000

const cacheTTL = 15 * time.Minute

var versionedJar = regexp.MustCompile(`^(\d+\.\d+)\.jar$`)

// Backend is the subset of the API the resolver needs.
type Backend interface {
	CurrentVersion(ctx context.Context, game domain.Game) (float64, error)
	VersionByHash(ctx context.Context, game domain.Game, hash string) (float64, error)
	Stream(ctx context.Context, target string) (io.ReadCloser, int64, error)
}

// ConfigStore is the persistent key-value configuration.
type ConfigStore interface {
	Config(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// ManifestStore records where materialized copies came from.
type ManifestStore interface {
	LoadManifest(target string) (*storage.Manifest, error)
	SaveManifest(target string, m storage.Manifest) error
}

type Options struct {
	Backend        Backend
	Config         ConfigStore
	Manifests      ManifestStore
	Layout         paths.Layout
	RuntimeVersion int
	Metrics        *metrics.Metrics
	Events         *events.Bus
	Logger         *slog.Logger
}

type cacheKey struct {
	kind domain.ArtifactKind
	game domain.Game
}

type cachedArtifact struct {
	desc      domain.ArtifactDescriptor
	size      int64
	checkedAt time.Time
}

// Resolver locates, verifies and fetches launch artifacts.
type Resolver struct {
	backend        Backend
	kv             ConfigStore
	manifests      ManifestStore
	layout         paths.Layout
	runtimeVersion int
	metrics        *metrics.Metrics
	events         *events.Bus
	logger         *slog.Logger

	goos           string
	runtimeSource  func(version int, goos string) (Source, error)
	sampleInterval time.Duration
	now            func() time.Time

	mu    sync.Mutex
	cache map[cacheKey]cachedArtifact
}

func NewResolver(opts Options) *Resolver {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.Events == nil {
		opts.Events = events.NewBus()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Resolver{
		backend:        opts.Backend,
		kv:             opts.Config,
		manifests:      opts.Manifests,
		layout:         opts.Layout,
		runtimeVersion: opts.RuntimeVersion,
		metrics:        opts.Metrics,
		events:         opts.Events,
		logger:         opts.Logger,
		goos:           runtime.GOOS,
		runtimeSource:  RuntimeSource,
		sampleInterval: time.Second,
		now:            time.Now,
		cache:          make(map[cacheKey]cachedArtifact),
	}
}

func formatVersion(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// ResolveVersion returns the version of kind that should be used for game.
// Client versions come from the backend; when it is unreachable the newest
// locally cached jar is used instead.
func (r *Resolver) ResolveVersion(ctx context.Context, kind domain.ArtifactKind, game domain.Game) (string, error) {
	switch kind {
	case domain.KindClient:
		v, err := r.backend.CurrentVersion(ctx, game)
		if err == nil {
			return formatVersion(v), nil
		}
		local, ok := r.latestLocalClient(game)
		if !ok {
			return "", err
		}
		r.logger.Warn("Using cached client version, backend unavailable", "game", game, "version", local, "err", err)
		return local, nil

	case domain.KindRuntime:
		if _, err := r.runtimeSource(r.runtimeVersion, r.goos); err == nil {
			return strconv.Itoa(r.runtimeVersion), nil
		}
		name := r.detectRuntimeDir()
		if name == "" {
			return "", fmt.Errorf("no runtime available for %s", r.goos)
		}
		return filepath.Base(name), nil

	default:
		return "", fmt.Errorf("unknown artifact kind %q", kind)
	}
}

func (r *Resolver) latestLocalClient(game domain.Game) (string, bool) {
	entries, err := os.ReadDir(r.layout.ClientDir(game))
	if err != nil {
		return "", false
	}
	best, bestVal := "", -1.0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := versionedJar.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if v > bestVal {
			best, bestVal = m[1], v
		}
	}
	return best, best != ""
}

// IsPresent reports whether kind is available locally and valid.
func (r *Resolver) IsPresent(ctx context.Context, kind domain.ArtifactKind, game domain.Game) (bool, error) {
	switch kind {
	case domain.KindClient:
		version, err := r.ResolveVersion(ctx, kind, game)
		if err != nil {
			return false, err
		}
		ok, _, err := r.clientValid(ctx, game, r.layout.ClientJar(game, version), version)
		return ok, err

	case domain.KindRuntime:
		home, err := r.runtimeHome(ctx)
		if err != nil {
			return false, err
		}
		return home != "", nil

	default:
		return false, fmt.Errorf("unknown artifact kind %q", kind)
	}
}

// clientValid checks jar against the server's hash index. It also returns
// the version the server maps the file to, or "" when unknown.
func (r *Resolver) clientValid(ctx context.Context, game domain.Game, jar, version string) (bool, string, error) {
	info, err := os.Stat(jar)
	if errors.Is(err, os.ErrNotExist) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}

	hash, err := fileSHA512(jar)
	if err != nil {
		return false, "", err
	}
	remote, err := r.backend.VersionByHash(ctx, game, hash)
	if err != nil {
		r.logger.Debug("Hash lookup failed, falling back to size check", "path", jar, "err", err)
		return info.Size() > minClientSize, "", nil
	}
	got := formatVersion(remote)
	return got == version, got, nil
}

func fileSHA512(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha512.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Ensure makes kind available for game and returns its local path: the jar
// for clients, the runtime home for runtimes. A successful result is cached
// so repeated calls skip the network.
func (r *Resolver) Ensure(ctx context.Context, kind domain.ArtifactKind, game domain.Game, onProgress func(domain.Progress)) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cacheKey{kind, game}
	if path, ok := r.cached(key); ok {
		return path, nil
	}

	var (
		desc domain.ArtifactDescriptor
		err  error
	)
	switch kind {
	case domain.KindClient:
		desc, err = r.ensureClient(ctx, game, onProgress)
	case domain.KindRuntime:
		desc, err = r.ensureRuntime(ctx, onProgress)
	default:
		err = fmt.Errorf("unknown artifact kind %q", kind)
	}
	if err != nil {
		return "", domain.MissingDependencyError{Kind: kind, Game: game, Err: err}
	}

	r.remember(key, desc)
	return desc.LocalPath, nil
}

func (r *Resolver) cached(key cacheKey) (string, bool) {
	c, ok := r.cache[key]
	if !ok || r.now().Sub(c.checkedAt) > cacheTTL {
		return "", false
	}
	info, err := os.Stat(c.desc.LocalPath)
	if err != nil || (!info.IsDir() && info.Size() != c.size) {
		delete(r.cache, key)
		return "", false
	}
	return c.desc.LocalPath, true
}

func (r *Resolver) remember(key cacheKey, desc domain.ArtifactDescriptor) {
	var size int64
	if info, err := os.Stat(desc.LocalPath); err == nil && !info.IsDir() {
		size = info.Size()
	}
	r.cache[key] = cachedArtifact{desc: desc, size: size, checkedAt: r.now()}
}

func (r *Resolver) forget(kind domain.ArtifactKind) {
	for k := range r.cache {
		if k.kind == kind {
			delete(r.cache, k)
		}
	}
}

// Descriptor returns the last resolved descriptor of kind for game.
func (r *Resolver) Descriptor(kind domain.ArtifactKind, game domain.Game) (domain.ArtifactDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cache[cacheKey{kind, game}]
	return c.desc, ok
}

func (r *Resolver) ensureClient(ctx context.Context, game domain.Game, onProgress func(domain.Progress)) (domain.ArtifactDescriptor, error) {
	version, err := r.ResolveVersion(ctx, domain.KindClient, game)
	if err != nil {
		return domain.ArtifactDescriptor{}, err
	}
	jar := r.layout.ClientJar(game, version)
	desc := domain.ArtifactDescriptor{Kind: domain.KindClient, Game: game, Version: version, LocalPath: jar}

	ok, _, err := r.clientValid(ctx, game, jar, version)
	if err != nil {
		return desc, err
	}
	if !ok {
		r.events.Log(fmt.Sprintf("Downloading %s client %s...", game, version))
		if err := r.download(ctx, api.JarPath(game), jar, domain.KindClient, game, onProgress); err != nil {
			return desc, fmt.Errorf("download client: %w", err)
		}
		ok, got, err := r.clientValid(ctx, game, jar, version)
		if err != nil {
			return desc, err
		}
		if !ok {
			os.Remove(jar)
			return desc, domain.IntegrityMismatchError{Path: jar, Expected: version, Actual: got}
		}
	}

	if hash, err := fileSHA512(jar); err == nil {
		desc.IntegrityHash = hash
	}
	return desc, nil
}

func (r *Resolver) ensureRuntime(ctx context.Context, onProgress func(domain.Progress)) (domain.ArtifactDescriptor, error) {
	desc := domain.ArtifactDescriptor{Kind: domain.KindRuntime, Version: strconv.Itoa(r.runtimeVersion)}

	home, err := r.runtimeHome(ctx)
	if err != nil {
		return desc, err
	}
	if home != "" {
		desc.LocalPath = home
		return desc, nil
	}

	src, err := r.runtimeSource(r.runtimeVersion, r.goos)
	if err != nil {
		return desc, err
	}
	botData := r.layout.BotData()
	archive := filepath.Join(botData, src.FileName())

	r.events.Log(fmt.Sprintf("Downloading Java %d runtime...", r.runtimeVersion))
	if err := r.download(ctx, src.URL, archive, domain.KindRuntime, "", onProgress); err != nil {
		return desc, fmt.Errorf("download runtime: %w", err)
	}

	err = extractArchive(archive, botData, func(entry string) {
		r.events.Publish(events.Extracting{Path: entry})
	})
	os.Remove(archive)
	if err != nil {
		return desc, err
	}
	if err := removeArchiveMetadata(botData); err != nil {
		r.logger.Warn("Failed to remove archive metadata", "dir", botData, "err", err)
	}

	home = r.detectRuntimeDir()
	if home == "" {
		return desc, fmt.Errorf("extracted runtime in %s: %w", botData, domain.ErrExecutableNotFound)
	}
	if err := r.kv.SetConfig(ctx, storage.KeyJavaPath, home); err != nil {
		return desc, fmt.Errorf("store runtime path: %w", err)
	}
	r.logger.Info("Runtime installed", "home", home)
	desc.LocalPath = home
	return desc, nil
}

// runtimeHome returns the configured runtime directory, detecting and
// persisting an extracted one when none is configured. "" means absent.
func (r *Resolver) runtimeHome(ctx context.Context) (string, error) {
	configured, err := r.kv.Config(ctx, storage.KeyJavaPath)
	if err != nil {
		return "", err
	}
	if configured != "" {
		if _, err := os.Stat(configured); err == nil {
			return configured, nil
		}
		r.logger.Warn("Configured runtime path no longer exists", "path", configured)
		if err := r.kv.SetConfig(ctx, storage.KeyJavaPath, ""); err != nil {
			return "", err
		}
	}

	detected := r.detectRuntimeDir()
	if detected == "" {
		return "", nil
	}
	if err := r.kv.SetConfig(ctx, storage.KeyJavaPath, detected); err != nil {
		return "", err
	}
	return detected, nil
}

// detectRuntimeDir finds an extracted runtime under bot-data. Folder names
// start with "jdk" or end with "jre"; the highest name wins.
func (r *Resolver) detectRuntimeDir() string {
	botData := r.layout.BotData()
	entries, err := os.ReadDir(botData)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") || isArchive(name) {
			continue
		}
		if strings.HasPrefix(name, "jdk") || strings.HasSuffix(name, "jre") {
			names = append(names, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names {
		home := filepath.Join(botData, name)
		if r.goos == "darwin" {
			if mac := filepath.Join(home, "Contents", "Home"); hasBin(mac) {
				return mac
			}
		}
		if hasBin(home) {
			return home
		}
	}
	return ""
}

func hasBin(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "bin"))
	return err == nil && info.IsDir()
}

// RuntimePath returns the runtime home to launch with.
func (r *Resolver) RuntimePath(ctx context.Context) (string, error) {
	home, err := r.runtimeHome(ctx)
	if err != nil {
		return "", err
	}
	if home == "" {
		return "", domain.ErrRuntimeNotConfigured
	}
	return home, nil
}

// SelectRuntimeDir accepts a user-chosen runtime directory. It must contain bin/.
func (r *Resolver) SelectRuntimeDir(ctx context.Context, dir string) error {
	if !hasBin(dir) {
		var found []string
		if entries, err := os.ReadDir(dir); err == nil {
			for _, e := range entries {
				found = append(found, e.Name())
			}
		}
		return fmt.Errorf("did not find \"bin\" folder in %s (found: %s): %w",
			dir, strings.Join(found, ", "), domain.ErrExecutableNotFound)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if err := r.kv.SetConfig(ctx, storage.KeyJavaPath, abs); err != nil {
		return fmt.Errorf("store runtime path: %w", err)
	}

	r.mu.Lock()
	r.forget(domain.KindRuntime)
	r.mu.Unlock()
	r.logger.Info("Runtime directory selected", "path", abs)
	return nil
}

// ResetRuntime deletes every downloaded runtime so the next Ensure fetches it again.
func (r *Resolver) ResetRuntime(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	botData := r.layout.BotData()
	if err := os.RemoveAll(botData); err != nil {
		return fmt.Errorf("remove %s: %w", botData, err)
	}
	if err := os.MkdirAll(botData, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", botData, err)
	}
	if err := r.kv.SetConfig(ctx, storage.KeyJavaPath, ""); err != nil {
		return fmt.Errorf("clear runtime path: %w", err)
	}
	r.forget(domain.KindRuntime)
	r.logger.Info("Runtime reset")
	return nil
}

// MaterializeClientArtifact copies the current client jar to the stable
// per-game path. The copy is skipped when its side-car records the same source.
func (r *Resolver) MaterializeClientArtifact(ctx context.Context, game domain.Game) (string, error) {
	jar, err := r.Ensure(ctx, domain.KindClient, game, nil)
	if err != nil {
		return "", err
	}
	stable := r.layout.StableJar(game)

	m, err := r.manifests.LoadManifest(stable)
	if err != nil {
		return "", fmt.Errorf("load manifest: %w", err)
	}
	if m != nil && m.Source == jar {
		if _, err := os.Stat(stable); err == nil {
			return stable, nil
		}
	}

	if err := copyFile(jar, stable); err != nil {
		return "", err
	}
	version := strings.TrimSuffix(filepath.Base(jar), ".jar")
	if err := r.manifests.SaveManifest(stable, storage.Manifest{Source: jar, Version: version, CopiedAt: r.now()}); err != nil {
		return "", fmt.Errorf("save manifest: %w", err)
	}
	r.logger.Info("Client jar materialized", "game", game, "path", stable, "version", version)
	return stable, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp copy: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}
