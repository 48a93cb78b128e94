package network

import (
	"fmt"
	"net"
	"strconv"
	"sync"
)

// PortAllocator hands out free local ports and remembers which ones it
// reserved for this process.
type PortAllocator struct {
	mu        sync.Mutex
	allocated map[int]struct{}
}

// NewPortAllocator creates a new port allocator.
func NewPortAllocator() *PortAllocator {
	return &PortAllocator{
		allocated: make(map[int]struct{}),
	}
}

// AllocateOne finds and reserves a free port on host.
func (a *PortAllocator) AllocateOne(host string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// The OS may hand back a port we released earlier but still track.
	for attempt := 0; attempt < 5; attempt++ {
		port, err := findFreePort(host)
		if err != nil {
			return 0, err
		}
		if _, taken := a.allocated[port]; taken {
			continue
		}
		a.allocated[port] = struct{}{}
		return port, nil
	}
	return 0, fmt.Errorf("no unreserved port available on %s", host)
}

// Release marks ports as no longer in use.
func (a *PortAllocator) Release(ports ...int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range ports {
		delete(a.allocated, p)
	}
}

// Resolve returns addr with a zero or missing port replaced by a reserved
// free one. An empty host binds loopback.
func (a *PortAllocator) Resolve(addr string) (string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	if host == "" {
		host = "127.0.0.1"
	}

	port := 0
	if portStr != "" {
		if port, err = strconv.Atoi(portStr); err != nil {
			return "", fmt.Errorf("parse port in %q: %w", addr, err)
		}
	}
	if port == 0 {
		if port, err = a.AllocateOne(host); err != nil {
			return "", err
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// findFreePort asks the OS for an available port by binding to port 0.
func findFreePort(host string) (int, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("listen on %s:0: %w", host, err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}
