package quicklaunch

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botlauncher/launcher/internal/domain"
)

type fakeFetcher struct {
	body  []byte
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(context.Context, string) ([]byte, error) {
	f.calls++
	return f.body, f.err
}

func newTestParser(f Fetcher) *Parser {
	return NewParser(f, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const sample = `{"rspeerEmail":"me@example.com","rspeerPassword":"pw","clients":[{"RsUsername":"u1","world":301},{"rs_username":"u2"}]}`

func TestParse_FileWinsFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ql.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	f := &fakeFetcher{}

	res := newTestParser(f).Parse(context.Background(), path)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Config)
	assert.Len(t, res.Config.Clients, 2)
	assert.Zero(t, f.calls)
	assert.Empty(t, res.Errors)
	assert.NotContains(t, res.Logs, "Checking if the argument is a base64 encoded string. "+path)
}

func TestParse_Base64(t *testing.T) {
	arg := base64.StdEncoding.EncodeToString([]byte(sample))
	f := &fakeFetcher{}

	res := newTestParser(f).Parse(context.Background(), arg)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Config)
	assert.Equal(t, "u1", res.Config.Clients[0].RsUsername)
	assert.Equal(t, "u2", res.Config.Clients[1].RsUsername)
	assert.Zero(t, f.calls)
	assert.Len(t, res.Errors, 1, "the file attempt failed first")
}

func TestParse_HTTP(t *testing.T) {
	f := &fakeFetcher{body: []byte(sample)}

	res := newTestParser(f).Parse(context.Background(), "https://example.com/ql.json")
	require.NoError(t, res.Err)
	require.NotNil(t, res.Config)
	assert.Equal(t, 1, f.calls)
	assert.Equal(t, "me@example.com", res.Config.Email)
}

func TestParse_AllMethodsFail(t *testing.T) {
	f := &fakeFetcher{err: errors.New("offline")}

	res := newTestParser(f).Parse(context.Background(), "https://example.com/ql.json")
	assert.Nil(t, res.Config)
	var parseErr domain.ParseError
	require.ErrorAs(t, res.Err, &parseErr)
	assert.Len(t, parseErr.Attempts, 3)
	assert.Len(t, res.Errors, 4)
}

func TestParse_Empty(t *testing.T) {
	res := newTestParser(&fakeFetcher{}).Parse(context.Background(), "")
	assert.True(t, res.NoArgs)
	assert.Nil(t, res.Config)
}

func TestArgs(t *testing.T) {
	assert.Nil(t, Args([]string{"/usr/bin/launcher"}))
	assert.Equal(t, []string{"ql.json"}, Args([]string{"launcher", "--debug", ".", "ql.json"}))
}

func TestCamelCase(t *testing.T) {
	cases := map[string]string{
		"RsUsername":     "rsUsername",
		"rs_username":    "rsUsername",
		"is-repo-script": "isRepoScript",
		"EMAIL":          "email",
		"AUTO_UPDATE":    "autoUpdate",
		"proxyIP":        "proxyIp",
		"alreadyCamel":   "alreadyCamel",
	}
	for in, want := range cases {
		assert.Equal(t, want, camelCase(in), in)
	}
}

func TestCamelizeKeys_Recursive(t *testing.T) {
	in := map[string]any{
		"Clients": []any{map[string]any{"Proxy": map[string]any{"IP": "1.2.3.4"}}},
		"Keep":    "Value_As_Is",
	}
	out := camelizeKeys(in).(map[string]any)
	assert.Equal(t, "Value_As_Is", out["keep"])
	client := out["clients"].([]any)[0].(map[string]any)
	assert.Equal(t, "1.2.3.4", client["proxy"].(map[string]any)["ip"])
}

func TestWireClient_NestedWinsOverFlat(t *testing.T) {
	c := WireClient{
		Script:     &WireScript{Name: "Nested", ScriptArgs: "a"},
		ScriptName: "Flat",
		ScriptArgs: "b",
		Proxy:      &WireProxy{IP: "1.1.1.1"},
		ProxyIP:    "2.2.2.2",
		ProxyPort:  8080,
		ProxyUser:  "flatuser",
	}
	spec := c.Spec()
	assert.Equal(t, "Nested", spec.Script.Name)
	assert.Equal(t, "a", spec.Script.Args)
	assert.Equal(t, "1.1.1.1", spec.Proxy.Host)
	assert.Equal(t, 8080, spec.Proxy.Port, "flat port fills a missing nested one")
	assert.Equal(t, "flatuser", spec.Proxy.Username)
	assert.Equal(t, domain.WorldUnset, spec.World)
	assert.Equal(t, domain.GameOSRS, spec.Game)
}

func TestWireClient_FlatOnly(t *testing.T) {
	spec := WireClient{ScriptName: "Flat", IsRepoScript: true, World: 420, Game: "rs3"}.Spec()
	assert.Equal(t, &domain.Script{Name: "Flat", IsRepository: true}, spec.Script)
	assert.Nil(t, spec.Proxy)
	assert.Equal(t, 420, spec.World)
	assert.Equal(t, domain.GameRS3, spec.Game)
}

func TestQuickLaunch_Request(t *testing.T) {
	q := &QuickLaunch{JVMArgs: "-Xmx1g  -Xss2m", Sleep: 5, Clients: []WireClient{{}, {}}}
	req := q.Request()
	assert.Len(t, req.Clients, 2)
	assert.Equal(t, []string{"-Xmx1g", "-Xss2m"}, req.GlobalRuntimeArgs)
	assert.Equal(t, 5, req.ThrottleMs)
}

type fakeAuth struct {
	user   *domain.User
	logins int
}

func (f *fakeAuth) CurrentUser(context.Context) (*domain.User, error) { return f.user, nil }

func (f *fakeAuth) Login(_ context.Context, email, _ string) (*domain.User, error) {
	f.logins++
	f.user = &domain.User{Email: email}
	return f.user, nil
}

func TestShouldLogin(t *testing.T) {
	ctx := context.Background()
	q := &QuickLaunch{Email: "me@example.com", Password: "pw"}

	auth := &fakeAuth{}
	assert.True(t, ShouldLogin(ctx, auth, q))
	require.NoError(t, Login(ctx, auth, q))
	assert.Equal(t, 1, auth.logins)
	assert.False(t, ShouldLogin(ctx, auth, q))

	auth.user = &domain.User{Email: "other@example.com"}
	assert.True(t, ShouldLogin(ctx, auth, q))
	assert.False(t, ShouldLogin(ctx, auth, &QuickLaunch{Email: "me@example.com"}))
}

func TestDecode_CredentialKeys(t *testing.T) {
	cases := map[string]string{
		"canonical":   `{"rspeerEmail":"me@example.com","rspeerPassword":"pw"}`,
		"snake case":  `{"rspeer_email":"me@example.com","rspeer_password":"pw"}`,
		"plain names": `{"email":"me@example.com","password":"pw"}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			q, err := decode([]byte(doc))
			require.NoError(t, err)
			assert.Equal(t, "me@example.com", q.Email)
			assert.Equal(t, "pw", q.Password)
			assert.True(t, q.HasCredentials())
		})
	}
}

func TestDecode_CanonicalCredentialsWin(t *testing.T) {
	q, err := decode([]byte(`{"rspeerEmail":"a@example.com","rspeerPassword":"a","email":"b@example.com","password":"b"}`))
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", q.Email)
	assert.Equal(t, "a", q.Password)
}

func TestParse_Base64CredentialsTriggerLogin(t *testing.T) {
	doc := `{"rspeerEmail":"me@example.com","rspeerPassword":"pw","clients":[{"rsUsername":"u1"}]}`
	arg := base64.StdEncoding.EncodeToString([]byte(doc))

	res := newTestParser(&fakeFetcher{}).Parse(context.Background(), arg)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Config)
	assert.True(t, res.Config.HasCredentials())

	auth := &fakeAuth{}
	assert.True(t, ShouldLogin(context.Background(), auth, res.Config))
	require.NoError(t, Login(context.Background(), auth, res.Config))
	assert.Equal(t, 1, auth.logins)
}
