// Package quicklaunch turns a quick-launch argument (a file path, a base64
// blob or an http URL) into a launch request.
package quicklaunch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/botlauncher/launcher/internal/domain"
)

// Fetcher performs the HTTP GET of the third interpretation.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Result is the outcome of Parse. Logs and Errors record every attempt.
type Result struct {
	Config *QuickLaunch
	Logs   []string
	Errors []string
	NoArgs bool
	Err    error
}

func (r *Result) logf(format string, args ...any) {
	r.Logs = append(r.Logs, fmt.Sprintf(format, args...))
}

// Parser resolves quick-launch arguments.
type Parser struct {
	fetcher Fetcher
	logger  *slog.Logger
}

func NewParser(fetcher Fetcher, logger *slog.Logger) *Parser {
	return &Parser{fetcher: fetcher, logger: logger}
}

// Args returns the quick-launch candidates in argv: everything after the
// executable that is not a flag.
func Args(argv []string) []string {
	if len(argv) <= 1 {
		return nil
	}
	var out []string
	for _, a := range argv[1:] {
		if a == "" || a == "." || strings.HasPrefix(a, "-") {
			continue
		}
		out = append(out, a)
	}
	return out
}

type method struct {
	name string
	read func(ctx context.Context, arg string, res *Result) ([]byte, error)
}

// Parse tries, in order, a JSON file, base64 JSON and an HTTP GET returning
// JSON. The first interpretation that yields a document wins.
func (p *Parser) Parse(ctx context.Context, arg string) Result {
	var res Result
	if strings.TrimSpace(arg) == "" {
		res.NoArgs = true
		return res
	}
	res.logf("Attempting to parse quick launch configuration from specified argument %q", arg)

	methods := []method{
		{"file", p.readFile},
		{"base64", p.readBase64},
		{"http", p.readHTTP},
	}

	var attempts []error
	for _, m := range methods {
		raw, err := m.read(ctx, arg, &res)
		if err == nil {
			var ql *QuickLaunch
			ql, err = decode(raw)
			if err == nil {
				res.Config = ql
				res.logf("Successfully parsed quick launch configuration using the %s method with %d clients.", m.name, len(ql.Clients))
				p.logger.Info("Quick launch parsed", "method", m.name, "clients", len(ql.Clients))
				return res
			}
		}
		attempt := fmt.Errorf("%s: %w", m.name, err)
		attempts = append(attempts, attempt)
		res.Errors = append(res.Errors, attempt.Error())
	}

	res.Err = domain.ParseError{Input: arg, Attempts: attempts}
	res.Errors = append(res.Errors, res.Err.Error())
	p.logger.Warn("Quick launch argument could not be parsed", "arg", arg)
	return res
}

func (p *Parser) readFile(_ context.Context, arg string, res *Result) ([]byte, error) {
	res.logf("Checking if argument is a file. %s", arg)
	info, err := os.Stat(arg)
	if err != nil {
		return nil, fmt.Errorf("file was not found: %s", arg)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", arg)
	}
	res.logf("Argument was indeed a file, attempting to read JSON from the file: %s.", arg)
	return os.ReadFile(arg)
}

func (p *Parser) readBase64(_ context.Context, arg string, res *Result) ([]byte, error) {
	res.logf("Checking if the argument is a base64 encoded string. %s", arg)
	trimmed := strings.TrimSpace(arg)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(trimmed); err == nil {
			return data, nil
		}
	}
	return nil, errors.New("argument is not base64")
}

func (p *Parser) readHTTP(ctx context.Context, arg string, res *Result) ([]byte, error) {
	res.logf("Checking a valid url by sending an HTTP GET. %s", arg)
	u, err := url.Parse(arg)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("not an http url: %s", arg)
	}
	return p.fetcher.Fetch(ctx, arg)
}

// decode parses raw JSON, camel-casing every key first.
func decode(raw []byte) (*QuickLaunch, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, errors.New("quick launch document must be a json object")
	}
	normalized, err := json.Marshal(camelizeKeys(obj))
	if err != nil {
		return nil, err
	}
	var ql QuickLaunch
	if err := json.Unmarshal(normalized, &ql); err != nil {
		return nil, fmt.Errorf("invalid quick launch document: %w", err)
	}

	// Older documents spell the credentials email/password.
	var plain struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(normalized, &plain); err != nil {
		return nil, fmt.Errorf("invalid quick launch document: %w", err)
	}
	if ql.Email == "" && ql.Password == "" {
		ql.Email, ql.Password = plain.Email, plain.Password
	}
	return &ql, nil
}

// Authenticator is the session side of quick launch.
type Authenticator interface {
	CurrentUser(ctx context.Context) (*domain.User, error)
	Login(ctx context.Context, email, password string) (*domain.User, error)
}

// ShouldLogin reports whether q carries credentials for a user other than
// the one currently signed in.
// A failed user lookup counts as signed out.
func ShouldLogin(ctx context.Context, auth Authenticator, q *QuickLaunch) bool {
	if !q.HasCredentials() {
		return false
	}
	user, err := auth.CurrentUser(ctx)
	if err != nil {
		return true
	}
	return user == nil || !strings.EqualFold(user.Email, q.Email)
}

// Login signs in with q's credentials.
func Login(ctx context.Context, auth Authenticator, q *QuickLaunch) error {
	if !q.HasCredentials() {
		return nil
	}
	_, err := auth.Login(ctx, q.Email, q.Password)
	return err
}
