package launch

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/botlauncher/launcher/internal/domain"
)

// DefaultRuntimeArgs are the JVM flags used when a request carries none.
var DefaultRuntimeArgs = []string{
	"-Xmx768m",
	"-Djava.net.preferIPv4Stack=true",
	"-Djava.net.preferIPv4Addresses=true",
	"-Xss2m",
}

// gameRuntimeArgs are appended to the defaults per game.
var gameRuntimeArgs = map[domain.Game][]string{
	domain.GameRS3: {"-Dsun.java2d.noddraw=true", "-Dsun.java2d.d3d=false"},
}

// RuntimeArgs returns the runtime flags for a client of game. Explicit
// global args replace the defaults entirely.
func RuntimeArgs(global []string, game domain.Game) []string {
	if len(global) > 0 {
		return append([]string(nil), global...)
	}
	args := append([]string(nil), DefaultRuntimeArgs...)
	return append(args, gameRuntimeArgs[game]...)
}

// sleepScaleThreshold separates throttle values given in seconds from
// values given in milliseconds.
const sleepScaleThreshold = 1000

// ThrottleDuration converts a request's throttle into a delay. Zero or
// negative selects the default; values below 1000 are taken as seconds.
func ThrottleDuration(ms int) time.Duration {
	switch {
	case ms <= 0:
		ms = domain.DefaultThrottleMs
	case ms < sleepScaleThreshold:
		ms *= 1000
	}
	return time.Duration(ms) * time.Millisecond
}

type payloadConfig struct {
	LowCpuMode            bool `json:"LowCpuMode,omitempty"`
	SuperLowCpuMode       bool `json:"SuperLowCpuMode,omitempty"`
	EngineTickDelay       int  `json:"EngineTickDelay,omitempty"`
	DisableModelRendering bool `json:"DisableModelRendering,omitempty"`
	DisableSceneRendering bool `json:"DisableSceneRendering,omitempty"`
}

// clientPayload is the document the client reads from its -qs argument.
type clientPayload struct {
	RsUsername   string        `json:"RsUsername,omitempty"`
	RsPassword   string        `json:"RsPassword,omitempty"`
	World        int           `json:"World"`
	ScriptName   *string       `json:"ScriptName"`
	IsRepoScript bool          `json:"IsRepoScript"`
	ScriptArgs   string        `json:"ScriptArgs"`
	UseProxy     bool          `json:"UseProxy"`
	ProxyPort    int           `json:"ProxyPort,omitempty"`
	ProxyIp      string        `json:"ProxyIp,omitempty"`
	ProxyUser    string        `json:"ProxyUser,omitempty"`
	ProxyPass    string        `json:"ProxyPass,omitempty"`
	Config       payloadConfig `json:"Config"`
}

func newPayload(c domain.ClientSpec) clientPayload {
	p := clientPayload{World: c.World}
	if p.World <= 0 {
		p.World = domain.WorldUnset
	}
	if c.HasAccount() {
		p.RsUsername = c.Username
		p.RsPassword = c.Password
	}
	if c.Script != nil && c.Script.Name != "" {
		name := c.Script.Name
		p.ScriptName = &name
		p.IsRepoScript = c.Script.IsRepository
		p.ScriptArgs = c.Script.Args
	}
	if c.UsesProxy() {
		p.UseProxy = true
		p.ProxyIp = c.Proxy.Host
		p.ProxyPort = c.Proxy.Port
		p.ProxyUser = c.Proxy.Username
		p.ProxyPass = c.Proxy.Password
	}
	if rp := c.RuntimeProfile; rp != nil {
		p.Config = payloadConfig{
			LowCpuMode:            rp.LowCPU,
			SuperLowCpuMode:       rp.SuperLowCPU,
			EngineTickDelay:       rp.EngineTickDelay,
			DisableModelRendering: rp.DisableModelRendering,
			DisableSceneRendering: rp.DisableSceneRendering,
		}
	}
	return p
}

// AppArgs encodes c as the client's "-qs <base64 json>" arguments.
func AppArgs(c domain.ClientSpec) ([]string, error) {
	data, err := json.Marshal(newPayload(c))
	if err != nil {
		return nil, fmt.Errorf("encode client payload: %w", err)
	}
	return []string{"-qs", base64.StdEncoding.EncodeToString(data)}, nil
}
