package quicklaunch

import (
	"strings"

	"github.com/botlauncher/launcher/internal/domain"
)

// QuickLaunch is the document a quick-launch argument resolves to.
type QuickLaunch struct {
	Email            string       `json:"rspeerEmail,omitempty"`
	Password         string       `json:"rspeerPassword,omitempty"`
	AutoUpdateClient bool         `json:"autoUpdateClient,omitempty"`
	JVMArgs          string       `json:"jvmArgs,omitempty"`
	Sleep            int          `json:"sleep,omitempty"`
	Clients          []WireClient `json:"clients"`
}

// HasCredentials reports whether the document carries a full login.
func (q *QuickLaunch) HasCredentials() bool {
	return q != nil && q.Email != "" && q.Password != ""
}

// Request normalizes the document into a launch request.
func (q *QuickLaunch) Request() domain.LaunchRequest {
	req := domain.LaunchRequest{
		GlobalRuntimeArgs: SplitArgs(q.JVMArgs),
		ThrottleMs:        q.Sleep,
	}
	for _, c := range q.Clients {
		req.Clients = append(req.Clients, c.Spec())
	}
	return req
}

// SplitArgs splits a whitespace separated argument string, dropping empties.
func SplitArgs(s string) []string {
	return strings.Fields(s)
}

// WireClient is one client entry as it appears on the wire. Both the nested
// shape (script, proxy, config) and the older flat fields are accepted.
type WireClient struct {
	RsUsername string `json:"rsUsername,omitempty"`
	RsPassword string `json:"rsPassword,omitempty"`
	World      int    `json:"world,omitempty"`
	Game       string `json:"game,omitempty"`

	Script *WireScript  `json:"script,omitempty"`
	Proxy  *WireProxy   `json:"proxy,omitempty"`
	Config *WireProfile `json:"config,omitempty"`

	ScriptName   string `json:"scriptName,omitempty"`
	IsRepoScript bool   `json:"isRepoScript,omitempty"`
	ScriptArgs   string `json:"scriptArgs,omitempty"`
	UseProxy     bool   `json:"useProxy,omitempty"`
	ProxyIP      string `json:"proxyIp,omitempty"`
	ProxyPort    int    `json:"proxyPort,omitempty"`
	ProxyUser    string `json:"proxyUser,omitempty"`
	ProxyPass    string `json:"proxyPass,omitempty"`
}

type WireScript struct {
	ScriptID     string `json:"scriptId,omitempty"`
	Name         string `json:"name"`
	IsRepoScript bool   `json:"isRepoScript"`
	ScriptArgs   string `json:"scriptArgs,omitempty"`
}

type WireProxy struct {
	IP       string `json:"ip"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type WireProfile struct {
	LowCPUMode            bool `json:"lowCpuMode"`
	SuperLowCPUMode       bool `json:"superLowCpuMode"`
	EngineTickDelay       int  `json:"engineTickDelay"`
	DisableModelRendering bool `json:"disableModelRendering"`
	DisableSceneRendering bool `json:"disableSceneRendering"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Spec normalizes the entry. Nested values win; flat fields fill the gaps.
// An unknown game falls back to the default one.
func (c WireClient) Spec() domain.ClientSpec {
	spec := domain.ClientSpec{
		Username: c.RsUsername,
		Password: c.RsPassword,
		World:    c.World,
	}
	if spec.World <= 0 {
		spec.World = domain.WorldUnset
	}
	if game, err := domain.ParseGame(c.Game); err == nil {
		spec.Game = game
	} else {
		spec.Game = domain.GameOSRS
	}

	var nested WireScript
	if c.Script != nil {
		nested = *c.Script
	}
	if name := firstNonEmpty(nested.Name, c.ScriptName); name != "" {
		spec.Script = &domain.Script{
			ID:           nested.ScriptID,
			Name:         name,
			IsRepository: nested.IsRepoScript || c.IsRepoScript,
			Args:         firstNonEmpty(nested.ScriptArgs, c.ScriptArgs),
		}
	}

	var proxy WireProxy
	if c.Proxy != nil {
		proxy = *c.Proxy
	}
	if host := firstNonEmpty(proxy.IP, proxy.Host, c.ProxyIP); host != "" {
		port := proxy.Port
		if port == 0 {
			port = c.ProxyPort
		}
		spec.Proxy = &domain.Proxy{
			Host:     host,
			Port:     port,
			Username: firstNonEmpty(proxy.Username, c.ProxyUser),
			Password: firstNonEmpty(proxy.Password, c.ProxyPass),
		}
	}

	if p := c.Config; p != nil {
		spec.RuntimeProfile = &domain.RuntimeProfile{
			LowCPU:                p.LowCPUMode,
			SuperLowCPU:           p.SuperLowCPUMode,
			EngineTickDelay:       p.EngineTickDelay,
			DisableModelRendering: p.DisableModelRendering,
			DisableSceneRendering: p.DisableSceneRendering,
		}
	}
	return spec
}

// FromSpec renders spec in the nested wire shape.
func FromSpec(spec domain.ClientSpec) WireClient {
	c := WireClient{
		RsUsername: spec.Username,
		RsPassword: spec.Password,
		World:      spec.World,
		Game:       string(spec.Game),
	}
	if s := spec.Script; s != nil {
		c.Script = &WireScript{ScriptID: s.ID, Name: s.Name, IsRepoScript: s.IsRepository, ScriptArgs: s.Args}
	}
	if p := spec.Proxy; p != nil {
		c.Proxy = &WireProxy{IP: p.Host, Port: p.Port, Username: p.Username, Password: p.Password}
	}
	if rp := spec.RuntimeProfile; rp != nil {
		c.Config = &WireProfile{
			LowCPUMode:            rp.LowCPU,
			SuperLowCPUMode:       rp.SuperLowCPU,
			EngineTickDelay:       rp.EngineTickDelay,
			DisableModelRendering: rp.DisableModelRendering,
			DisableSceneRendering: rp.DisableSceneRendering,
		}
	}
	return c
}
