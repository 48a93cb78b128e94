//go:build !windows

package process

import "syscall"

// detachedAttr puts the child in its own session so terminal signals
// aimed at the launcher do not reach it.
func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
