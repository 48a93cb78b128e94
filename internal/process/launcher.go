// Package process spawns detached game-client processes on the Java runtime.
package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/botlauncher/launcher/internal/domain"
)

// Launcher starts client processes that outlive the launcher. Each child is
// reaped in the background so it never lingers as a zombie.
type Launcher struct {
	logger *slog.Logger

	mu       sync.Mutex
	children map[int]string
}

func NewLauncher(logger *slog.Logger) *Launcher {
	return &Launcher{
		logger:   logger,
		children: make(map[int]string),
	}
}

// FindExecutable returns the java binary inside runtimeHome/bin: the first
// entry whose name starts with "java" and is not a dll.
func FindExecutable(runtimeHome string) (string, error) {
	if runtimeHome == "" {
		return "", domain.ErrRuntimeNotConfigured
	}
	bin := filepath.Join(runtimeHome, "bin")
	entries, err := os.ReadDir(bin)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", bin, domain.ErrExecutableNotFound)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "java") || strings.Contains(name, "dll") {
			continue
		}
		return filepath.Join(bin, name), nil
	}
	return "", fmt.Errorf("no java binary in %s: %w", bin, domain.ErrExecutableNotFound)
}

// BuildArgs assembles runtimeArgs, "-jar <jar>" and appArgs, dropping empty tokens.
func BuildArgs(jar string, runtimeArgs, appArgs []string) []string {
	args := make([]string, 0, len(runtimeArgs)+len(appArgs)+2)
	for _, a := range runtimeArgs {
		if strings.TrimSpace(a) != "" {
			args = append(args, a)
		}
	}
	args = append(args, "-jar", jar)
	for _, a := range appArgs {
		if strings.TrimSpace(a) != "" {
			args = append(args, a)
		}
	}
	return args
}

// Run spawns jar on the runtime at runtimeHome and returns once the process
// has started. The process is detached and not awaited.
func (l *Launcher) Run(ctx context.Context, runtimeHome, jar string, runtimeArgs, appArgs []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	exe, err := FindExecutable(runtimeHome)
	if err != nil {
		return 0, err
	}

	// Not CommandContext: the client must survive the launcher.
	cmd := exec.Command(exe, BuildArgs(jar, runtimeArgs, appArgs)...)
	cmd.Dir = filepath.Dir(jar)
	cmd.SysProcAttr = detachedAttr()

	if err := cmd.Start(); err != nil {
		return 0, domain.ProcessSpawnError{Executable: exe, Err: err}
	}
	pid := cmd.Process.Pid

	l.mu.Lock()
	l.children[pid] = jar
	l.mu.Unlock()

	l.logger.Info("Client process started", "pid", pid, "exe", exe, "jar", jar)
	go l.reap(cmd)
	return pid, nil
}

func (l *Launcher) reap(cmd *exec.Cmd) {
	pid := cmd.Process.Pid
	err := cmd.Wait()

	l.mu.Lock()
	delete(l.children, pid)
	l.mu.Unlock()

	if err != nil {
		l.logger.Warn("Client process exited", "pid", pid, "err", err)
		return
	}
	l.logger.Info("Client process exited", "pid", pid, "code", cmd.ProcessState.ExitCode())
}

// Running returns the number of spawned clients still alive.
func (l *Launcher) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.children)
}
