package remote

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/user"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/botlauncher/launcher/internal/domain"
)

var fallbackIPServices = []string{
	"https://api.ipify.org",
	"https://icanhazip.com",
}

// Self describes this launcher instance to the backend and its peers.
type Self struct {
	identifier string
	ipServices []string
	client     *http.Client

	once sync.Once
	ip   string
}

// NewSelf creates a launcher identity valid for the lifetime of the process.
// ipCheckURL is tried first when resolving the public IP.
func NewSelf(ipCheckURL string) *Self {
	services := append([]string{}, fallbackIPServices...)
	if ipCheckURL != "" {
		services = append([]string{ipCheckURL}, services...)
	}
	return &Self{
		identifier: "launcher_" + uuid.NewString(),
		ipServices: services,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *Self) Identifier() string { return s.identifier }

// IsMe reports whether p describes this launcher.
func (s *Self) IsMe(p domain.PeerInfo) bool { return p.Identifier == s.identifier }

// PublicIP resolves the public address once and caches it. "" when every
// lookup failed.
func (s *Self) PublicIP(ctx context.Context) string {
	s.once.Do(func() {
		s.ip = s.lookupIP(ctx)
	})
	return s.ip
}

func (s *Self) lookupIP(ctx context.Context) string {
	for _, url := range s.ipServices {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		resp, err := s.client.Do(req)
		if err != nil {
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		resp.Body.Close()
		ip := strings.TrimSpace(string(body))
		if resp.StatusCode == http.StatusOK && ip != "" {
			return ip
		}
	}
	return ""
}

// Info returns the PeerInfo advertised for this launcher.
func (s *Self) Info(ctx context.Context) domain.PeerInfo {
	host, _ := os.Hostname()
	var machineUser string
	if u, err := user.Current(); err == nil {
		machineUser = u.Username
	}
	return domain.PeerInfo{
		Identifier:      s.identifier,
		Host:            host,
		Platform:        runtime.GOOS,
		Type:            osType(runtime.GOOS),
		MachineUsername: machineUser,
		IP:              s.PublicIP(ctx),
	}
}

// osType names the operating system the way peers display it.
func osType(goos string) string {
	switch goos {
	case "windows":
		return "Windows_NT"
	case "darwin":
		return "Darwin"
	case "linux":
		return "Linux"
	default:
		if goos == "" {
			return ""
		}
		return strings.ToUpper(goos[:1]) + goos[1:]
	}
}
