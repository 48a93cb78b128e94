package network

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_ZeroPortAllocates(t *testing.T) {
	a := NewPortAllocator()

	addr, err := a.Resolve("127.0.0.1:0")
	require.NoError(t, err)

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	assert.NotZero(t, port)
	assert.Contains(t, a.allocated, port)

	a.Release(port)
	assert.NotContains(t, a.allocated, port)
}

func TestResolve_FixedPortKept(t *testing.T) {
	addr, err := NewPortAllocator().Resolve(":8123")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8123", addr)
}

func TestResolve_Invalid(t *testing.T) {
	a := NewPortAllocator()
	_, err := a.Resolve("no-port")
	assert.Error(t, err)
	_, err = a.Resolve("127.0.0.1:http")
	assert.Error(t, err)
}
