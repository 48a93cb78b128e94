package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botlauncher/launcher/internal/domain"
)

func TestLayout(t *testing.T) {
	home := t.TempDir()
	l := New(home, "linux")

	assert.Equal(t, filepath.Join(home, "BotLauncher", "cache"), l.Cache)
	assert.Equal(t, filepath.Join(home, ".botlauncher", "osrs", "12.50.jar"), l.ClientJar(domain.GameOSRS, "12.50"))
	assert.Equal(t, filepath.Join(l.Cache, "rs3.jar"), l.StableJar(domain.GameRS3))

	win := New(home, "windows")
	assert.Equal(t, filepath.Join(home, "Documents", "BotLauncher", "cache"), win.Cache)

	require.NoError(t, l.Ensure())
	assert.DirExists(t, l.BotData())
	assert.DirExists(t, l.DataDir())
}
