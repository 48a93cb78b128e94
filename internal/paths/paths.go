package paths

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/botlauncher/launcher/internal/domain"
)

const (
	productDir = "BotLauncher"
	hiddenDir  = ".botlauncher"
)

// Layout is the deterministic on-disk layout of the launcher.
//
//	<home>/BotLauncher/cache            session, database, logs, stable jars
//	<home>/BotLauncher/cache/bot_data   runtime archives and extracted runtimes
//	<home>/.botlauncher/<game>          versioned client jars
type Layout struct {
	Cache  string
	Hidden string
}

// New builds the layout for home. Windows keeps the visible folder under Documents.
func New(home, goos string) Layout {
	visible := home
	if goos == "windows" {
		visible = filepath.Join(home, "Documents")
	}
	return Layout{
		Cache:  filepath.Join(visible, productDir, "cache"),
		Hidden: filepath.Join(home, hiddenDir),
	}
}

// Ensure creates every directory of the layout.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Cache, l.Hidden, l.BotData(), l.DataDir(), l.LogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func (l Layout) BotData() string { return filepath.Join(l.Cache, "bot_data") }

func (l Layout) DataDir() string { return filepath.Join(l.Cache, "data") }

func (l Layout) LogDir() string { return filepath.Join(l.Cache, "logs") }

func (l Layout) Database() string { return filepath.Join(l.DataDir(), "launcher.db") }

// ClientDir holds every cached version of the game's client jar.
func (l Layout) ClientDir(game domain.Game) string {
	return filepath.Join(l.Hidden, string(game))
}

// ClientJar is the versioned jar path, e.g. <hidden>/osrs/12.50.jar.
func (l Layout) ClientJar(game domain.Game, version string) string {
	return filepath.Join(l.ClientDir(game), version+".jar")
}

// StableJar is the well-known path the current client jar is materialized to.
func (l Layout) StableJar(game domain.Game) string {
	return filepath.Join(l.Cache, string(game)+".jar")
}
