package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/botlauncher/launcher/internal/domain"
)

// HTTPError is a non-2xx backend response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func statusError(code int, body []byte) error {
	if code == http.StatusTooManyRequests {
		return domain.ErrRateLimited
	}
	var payload struct {
		Error string `json:"error"`
	}
	msg := "Something went wrong."
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	return HTTPError{StatusCode: code, Message: msg}
}

func transportError(op string, err error) error {
	if strings.Contains(err.Error(), "429") {
		return domain.ErrRateLimited
	}
	return domain.NetworkError{Op: op, Err: err}
}
