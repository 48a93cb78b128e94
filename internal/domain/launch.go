package domain

import "fmt"

// Game selects which client artifact family is resolved and launched.
type Game string

const (
	GameOSRS Game = "osrs"
	GameRS3  Game = "rs3"
)

// ParseGame maps a wire value onto a Game. Empty input selects GameOSRS.
func ParseGame(s string) (Game, error) {
	switch Game(s) {
	case "", GameOSRS:
		return GameOSRS, nil
	case GameRS3:
		return GameRS3, nil
	default:
		return "", fmt.Errorf("unknown game %q", s)
	}
}

// WorldUnset is the sentinel for "let the client pick a world".
const WorldUnset = -1

// DefaultThrottleMs is the delay between successive client spawns.
const DefaultThrottleMs = 10000

// LaunchRequest is one batch of client starts. Clients are launched in order.
type LaunchRequest struct {
	Clients           []ClientSpec `json:"clients"`
	GlobalRuntimeArgs []string     `json:"globalRuntimeArgs,omitempty"`
	ThrottleMs        int          `json:"throttleMs,omitempty"`
}

// ClientSpec configures a single client instance.
type ClientSpec struct {
	Username       string          `json:"username,omitempty"`
	Password       string          `json:"password,omitempty"`
	World          int             `json:"world"`
	Script         *Script         `json:"script,omitempty"`
	Proxy          *Proxy          `json:"proxy,omitempty"`
	RuntimeProfile *RuntimeProfile `json:"runtimeProfile,omitempty"`
	Game           Game            `json:"game,omitempty"`
}

// HasAccount reports whether both halves of the account credentials are set.
func (c ClientSpec) HasAccount() bool {
	return c.Username != "" && c.Password != ""
}

// UsesProxy reports whether the instance should be routed through a proxy.
func (c ClientSpec) UsesProxy() bool {
	return c.Proxy != nil && c.Proxy.Host != ""
}

type Script struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	IsRepository bool   `json:"isRepository"`
	Args         string `json:"args,omitempty"`
}

type Proxy struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// RuntimeProfile carries per-instance performance toggles understood by the client.
type RuntimeProfile struct {
	LowCPU                bool `json:"lowCpu"`
	SuperLowCPU           bool `json:"superLowCpu"`
	EngineTickDelay       int  `json:"engineTickDelay"`
	DisableModelRendering bool `json:"disableModelRendering"`
	DisableSceneRendering bool `json:"disableSceneRendering"`
}

// PeerInfo identifies a launcher instance for discovery.
type PeerInfo struct {
	Identifier      string `json:"identifier"`
	Host            string `json:"host"`
	Platform        string `json:"platform"`
	Type            string `json:"type"`
	MachineUsername string `json:"machineUsername,omitempty"`
	IP              string `json:"ip"`
}

// User is the signed-in launcher account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}
