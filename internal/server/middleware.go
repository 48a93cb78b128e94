package server

import (
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// SecretHeader carries the shared control secret.
	SecretHeader = "X-Launcher-Secret"
	// RequestIDHeader is echoed on every response and attached to its log line.
	RequestIDHeader = "X-Request-Id"

	requestIDKey = "requestID"
)

// publicPaths skip the secret check. quietPaths are polled and log at debug.
var (
	publicPaths = map[string]bool{"/ping": true}
	quietPaths  = map[string]bool{"/ping": true, "/metrics": true}
)

func abort(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{
		"ok":        false,
		"error":     msg,
		"requestId": c.GetString(requestIDKey),
	})
}

// RequestID tags the request with the caller's X-Request-Id or a fresh one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// Guard protects everything but publicPaths. With a secret configured the
// caller must present it in SecretHeader; without one only loopback peers
// are served.
func Guard(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if publicPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		if secret == "" {
			if !fromLoopback(c.Request) {
				abort(c, http.StatusForbidden, "control api without a secret only answers loopback callers")
				return
			}
			c.Next()
			return
		}

		provided := c.GetHeader(SecretHeader)
		switch {
		case provided == "":
			abort(c, http.StatusUnauthorized, "missing "+SecretHeader+" header")
		case subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1:
			abort(c, http.StatusForbidden, "invalid secret")
		default:
			c.Next()
		}
	}
}

func fromLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// AccessLog writes one line per request. Server errors log at warn.
func AccessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelWarn
		case quietPaths[path]:
			level = slog.LevelDebug
		}
		logger.Log(c.Request.Context(), level, "control request",
			"request_id", c.GetString(requestIDKey),
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", time.Since(start).String(),
		)
	}
}

// Recovery turns a handler panic into a 500 carrying the request id.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.Error("control handler panicked",
			"request_id", c.GetString(requestIDKey),
			"path", c.Request.URL.Path,
			"panic", recovered,
		)
		abort(c, http.StatusInternalServerError, "internal server error")
	})
}
