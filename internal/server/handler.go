package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/botlauncher/launcher/internal/domain"
	"github.com/botlauncher/launcher/internal/quicklaunch"
)

// Status is the snapshot served by GET /status.
type Status struct {
	Identifier string       `json:"identifier"`
	Version    string       `json:"version"`
	Connected  bool         `json:"connected"`
	User       *domain.User `json:"user,omitempty"`
	Running    int          `json:"running"`
}

// Controller is the launcher surface exposed over the control API.
type Controller interface {
	Status(ctx context.Context) Status
	Peers(ctx context.Context) (map[string]domain.PeerInfo, error)
	Discover(ctx context.Context) (int, error)
	// Launch starts req in the background.
	Launch(ctx context.Context, req domain.LaunchRequest) error
	Relay(ctx context.Context, peer string, req domain.LaunchRequest) error
	SelectRuntime(ctx context.Context, dir string) error
}

type Handler struct {
	ctl    Controller
	logger *slog.Logger
}

func NewHandler(ctl Controller, logger *slog.Logger) *Handler {
	return &Handler{ctl: ctl, logger: logger}
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": h.ctl.Status(c.Request.Context())})
}

func (h *Handler) Peers(c *gin.Context) {
	peers, err := h.ctl.Peers(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": peers})
}

func (h *Handler) Discover(c *gin.Context) {
	asked, err := h.ctl.Discover(c.Request.Context())
	if err != nil && asked == 0 {
		h.fail(c, err)
		return
	}
	if err != nil {
		h.logger.Warn("Discovery partially failed", "asked", asked, "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"asked": asked}})
}

// Launch accepts a quick-launch document. With ?peer=<tag> the batch is
// relayed to that launcher instead of started here.
func (h *Handler) Launch(c *gin.Context) {
	var doc quicklaunch.QuickLaunch
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	req := doc.Request()
	if len(req.Clients) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "no clients to launch"})
		return
	}

	ctx := c.Request.Context()
	var err error
	if peer := c.Query("peer"); peer != "" {
		err = h.ctl.Relay(ctx, peer, req)
	} else {
		err = h.ctl.Launch(ctx, req)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true, "data": gin.H{"clients": len(req.Clients)}})
}

type runtimeRequest struct {
	Dir string `json:"dir" binding:"required"`
}

func (h *Handler) SelectRuntime(c *gin.Context) {
	var req runtimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if err := h.ctl.SelectRuntime(c.Request.Context(), req.Dir); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	var netErr domain.NetworkError
	switch {
	case errors.Is(err, domain.ErrExecutableNotFound):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimited):
		code = http.StatusTooManyRequests
	case errors.As(err, &netErr):
		code = http.StatusBadGateway
	}
	h.logger.Error("control request failed", "path", c.Request.URL.Path, "err", err)
	c.JSON(code, gin.H{"ok": false, "error": err.Error()})
}
