package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/botlauncher/launcher/internal/domain"
	"github.com/botlauncher/launcher/internal/quicklaunch"
)

// Wire command types.
const (
	TypeKill        = "kill"
	TypeStartClient = "start:client"
	TypeDiscover    = "launcher:discover"
	TypeDiscovered  = "launcher:discovered"
	TypeGetLogs     = "launcher:getLogs"
	TypeLogs        = "launcher:logs"
)

var ErrUnknownCommand = errors.New("unknown remote command")

// Handler has one method per command variant. Adding a variant without
// a handler method is a compile error at its Dispatch.
type Handler interface {
	HandleKill(ctx context.Context, cmd Kill) error
	HandleStartClient(ctx context.Context, cmd StartClient) error
	HandleDiscover(ctx context.Context, cmd Discover) error
	HandleDiscovered(ctx context.Context, cmd Discovered) error
	HandleGetLogs(ctx context.Context, cmd GetLogs) error
}

// Command is one decoded mailbox message.
type Command interface {
	Type() string
	// Target is the launcher identifier the command is meant for, or "" for any.
	Target() string
	Dispatch(ctx context.Context, h Handler) error
}

type Kill struct {
	Identifier string
}

// StartClient carries a normalized launch request. Session, when set, is
// stored if this launcher has none yet.
type StartClient struct {
	Identifier string
	Session    string
	Request    domain.LaunchRequest
}

// Discover asks this launcher to describe itself to Source.
type Discover struct {
	Identifier string
	Source     string
}

// Discovered is another launcher's reply to a Discover.
type Discovered struct {
	Identifier string
	Peer       domain.PeerInfo
}

type GetLogs struct {
	Identifier string
	Source     string
	Category   string
	Take       int
	Skip       int
}

func (Kill) Type() string        { return TypeKill }
func (StartClient) Type() string { return TypeStartClient }
func (Discover) Type() string    { return TypeDiscover }
func (Discovered) Type() string  { return TypeDiscovered }
func (GetLogs) Type() string     { return TypeGetLogs }

func (c Kill) Target() string        { return c.Identifier }
func (c StartClient) Target() string { return c.Identifier }
func (c Discover) Target() string    { return c.Identifier }
func (c Discovered) Target() string  { return c.Identifier }
func (c GetLogs) Target() string     { return c.Identifier }

func (c Kill) Dispatch(ctx context.Context, h Handler) error { return h.HandleKill(ctx, c) }
func (c StartClient) Dispatch(ctx context.Context, h Handler) error {
	return h.HandleStartClient(ctx, c)
}
func (c Discover) Dispatch(ctx context.Context, h Handler) error   { return h.HandleDiscover(ctx, c) }
func (c Discovered) Dispatch(ctx context.Context, h Handler) error { return h.HandleDiscovered(ctx, c) }
func (c GetLogs) Dispatch(ctx context.Context, h Handler) error    { return h.HandleGetLogs(ctx, c) }

type quickStart struct {
	Clients []quicklaunch.WireClient `json:"clients"`
}

// envelope is the union of every wire shape.
type envelope struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier,omitempty"`
	Source     string `json:"source,omitempty"`

	// start:client
	Session string                 `json:"session,omitempty"`
	JVMArgs string                 `json:"jvmArgs,omitempty"`
	Sleep   int                    `json:"sleep,omitempty"`
	Count   int                    `json:"count,omitempty"`
	Proxy   *quicklaunch.WireProxy `json:"proxy,omitempty"`
	QS      *quickStart            `json:"qs,omitempty"`

	// launcher:discovered
	Launcher *domain.PeerInfo `json:"launcher,omitempty"`

	// launcher:getLogs
	Category string `json:"category,omitempty"`
	Take     int    `json:"take,omitempty"`
	Skip     int    `json:"skip,omitempty"`
}

// Decode parses a mailbox message body into a Command.
func Decode(raw []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode remote command: %w", err)
	}

	switch env.Type {
	case TypeKill:
		return Kill{Identifier: env.Identifier}, nil
	case TypeStartClient:
		return StartClient{
			Identifier: env.Identifier,
			Session:    env.Session,
			Request:    env.launchRequest(),
		}, nil
	case TypeDiscover:
		return Discover{Identifier: env.Identifier, Source: env.Source}, nil
	case TypeDiscovered:
		if env.Launcher == nil {
			return nil, errors.New("discovered command without launcher")
		}
		return Discovered{Identifier: env.Identifier, Peer: *env.Launcher}, nil
	case TypeGetLogs:
		return GetLogs{
			Identifier: env.Identifier,
			Source:     env.Source,
			Category:   env.Category,
			Take:       env.Take,
			Skip:       env.Skip,
		}, nil
	case "":
		return nil, errors.New("remote command without type")
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownCommand, env.Type)
	}
}

// launchRequest normalizes both start:client shapes. Without qs, the
// simple shape expands count into that many clients sharing one proxy.
func (env envelope) launchRequest() domain.LaunchRequest {
	req := domain.LaunchRequest{
		GlobalRuntimeArgs: strings.Fields(env.JVMArgs),
		ThrottleMs:        env.Sleep,
	}

	if env.QS != nil {
		for _, c := range env.QS.Clients {
			req.Clients = append(req.Clients, c.Spec())
		}
		return req
	}

	count := env.Count
	if count <= 0 {
		count = 1
	}
	for i := 0; i < count; i++ {
		req.Clients = append(req.Clients, quicklaunch.WireClient{Proxy: env.Proxy}.Spec())
	}
	return req
}

// StartClientPayload builds the start:client message relayed to another launcher.
func StartClientPayload(target, session string, req domain.LaunchRequest) any {
	qs := &quickStart{}
	for _, c := range req.Clients {
		qs.Clients = append(qs.Clients, quicklaunch.FromSpec(c))
	}
	return envelope{
		Type:       TypeStartClient,
		Identifier: target,
		Session:    session,
		JVMArgs:    strings.Join(req.GlobalRuntimeArgs, " "),
		Sleep:      req.ThrottleMs,
		QS:         qs,
	}
}

func discoverPayload(source string) any {
	return envelope{Type: TypeDiscover, Source: source}
}

func discoveredPayload(self domain.PeerInfo) any {
	return envelope{Type: TypeDiscovered, Source: self.Identifier, Launcher: &self}
}

type logsPayload struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
	Count      int    `json:"count"`
	Values     any    `json:"values"`
}
