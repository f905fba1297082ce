package e2e_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexjbarnes/ambient-dash/internal/auth"
	"github.com/alexjbarnes/ambient-dash/internal/dashboard"
	"github.com/alexjbarnes/ambient-dash/internal/hub"
	"github.com/alexjbarnes/ambient-dash/internal/logging"
	"github.com/alexjbarnes/ambient-dash/internal/mcpserver"
	"github.com/alexjbarnes/ambient-dash/internal/models"
	"github.com/alexjbarnes/ambient-dash/internal/poll"
	"github.com/alexjbarnes/ambient-dash/internal/provider"
	"github.com/alexjbarnes/ambient-dash/internal/server"
	"github.com/alexjbarnes/ambient-dash/internal/state"
	"github.com/alexjbarnes/ambient-dash/internal/widget/spotify"
)

const (
	testClientID    = "e2e-spotify-client"
	testCode        = "e2e-authorization-code"
	testAccessToken = "e2e-access-token"
	testTrack       = "Hounds of Love"
)

const trackJSON = `{
  "is_playing": true,
  "progress_ms": 30000,
  "currently_playing_type": "track",
  "item": {
    "name": "Hounds of Love",
    "type": "track",
    "duration_ms": 180000,
    "artists": [{"name": "Kate Bush"}],
    "album": {"name": "Hounds of Love", "images": [{"url": "https://i.scdn.co/image/cover", "width": 640, "height": 640}]},
    "external_urls": {"spotify": "https://open.spotify.com/track/1"}
  }
}`

// fakeSpotify stands in for both the accounts service and the Web API.
type fakeSpotify struct {
	srv *httptest.Server

	mu        sync.Mutex
	verifiers []string

	exchanges atomic.Int32
	revoked   atomic.Bool
}

func newFakeSpotify(t *testing.T) *fakeSpotify {
	t.Helper()

	f := &fakeSpotify{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/token", func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseForm()) {
			return
		}

		f.exchanges.Add(1)

		if r.PostForm.Get("code") != testCode {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid authorization code"}`))
			return
		}

		f.mu.Lock()
		f.verifiers = append(f.verifiers, r.PostForm.Get("code_verifier"))
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"` + testAccessToken + `","token_type":"Bearer","expires_in":3600,"refresh_token":"e2e-refresh"}`))
	})
	mux.HandleFunc("GET /v1/me/player/currently-playing", func(w http.ResponseWriter, r *http.Request) {
		if f.revoked.Load() || r.Header.Get("Authorization") != "Bearer "+testAccessToken {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"status":401,"message":"The access token expired"}}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(trackJSON))
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeSpotify) codeVerifiers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.verifiers...)
}

// harness holds the full e2e stack: a real HTTP server with the widget
// API, the websocket stream, the login endpoints and the MCP endpoint,
// backed by a dashboard whose spotify widget talks to fakeSpotify.
type harness struct {
	URL      string
	Dash     *dashboard.Dashboard
	Spotify  *auth.Manager
	Provider *fakeSpotify
	Client   *http.Client
}

// newHarness wires the stack the way main does, with the poll interval
// long enough that only logins and explicit refreshes trigger fetches.
func newHarness(t *testing.T) *harness {
	t.Helper()

	fake := newFakeSpotify(t)
	logger := logging.Discard()
	client := provider.NewClient(nil)

	// Use NewUnstartedServer so the redirect URI can carry the real
	// listener address.
	ts := httptest.NewUnstartedServer(nil)
	serverURL := "http://" + ts.Listener.Addr().String()

	p := auth.Spotify(testClientID, serverURL+"/auth/spotify/callback", "")
	p.TokenURL = fake.srv.URL + "/api/token"
	manager := auth.NewManager(p, state.NewMemory(), client, logger)

	fetcher := spotify.NewFetcher(manager, client, spotify.WithURL(fake.srv.URL+"/v1/me/player/currently-playing"))

	dash := dashboard.NewDashboard(logger)
	dash.AddManager(manager)
	dash.Add(dashboard.New("spotify",
		poll.New("spotify", fetcher.Fetch, poll.WithLogger[models.NowPlaying](logger)),
		dashboard.Options{Interval: time.Hour, Auth: manager},
	))

	ctx, cancel := context.WithCancel(context.Background())
	dash.Start(ctx)
	t.Cleanup(func() {
		cancel()
		dash.Stop()
	})

	stream := hub.New(dash, logger)
	t.Cleanup(stream.Close)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "ambient-dash-e2e", Version: "test"},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, dash)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	ts.Config.Handler = server.NewMux(server.MuxConfig{
		Dashboard:  dash,
		Stream:     stream,
		MCPHandler: mcpHandler,
		Logger:     logger,
	})
	ts.Start()
	t.Cleanup(ts.Close)

	return &harness{
		URL:      serverURL,
		Dash:     dash,
		Spotify:  manager,
		Provider: fake,
		Client:   ts.Client(),
	}
}

// login runs the PKCE login through the HTTP endpoints, standing in for
// the browser: it follows /auth/spotify/login to the provider, then
// calls back with the state the provider would echo. It returns that
// state.
func (h *harness) login(t *testing.T) string {
	t.Helper()

	resp := h.doNoRedirect(t, http.MethodGet, "/auth/spotify/login")
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	authorize, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "accounts.spotify.com", authorize.Host)

	q := authorize.Query()
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, auth.MethodS256, q.Get("code_challenge_method"))
	require.NotEmpty(t, q.Get("state"))

	resp = h.doNoRedirect(t, http.MethodGet, callbackPath(testCode, q.Get("state")))
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	return q.Get("state")
}

func callbackPath(code, state string) string {
	return "/auth/spotify/callback?" + url.Values{
		"code":  {code},
		"state": {state},
	}.Encode()
}

// widget fetches one snapshot through the JSON API.
func (h *harness) widget(t *testing.T, name string) dashboard.Snapshot {
	t.Helper()

	resp := h.doNoRedirect(t, http.MethodGet, "/api/widgets/"+name)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap dashboard.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))

	return snap
}

// waitStatus waits until the widget reaches want, then returns its
// snapshot as served by the JSON API.
func (h *harness) waitStatus(t *testing.T, name string, want dashboard.Status) dashboard.Snapshot {
	t.Helper()

	require.Eventually(t, func() bool {
		snap, err := h.Dash.Snapshot(name)
		return err == nil && snap.Status == want
	}, 5*time.Second, 10*time.Millisecond, "widget %s never reached %s", name, want)

	return h.widget(t, name)
}

// doNoRedirect performs a request with t.Context() and does not follow
// redirects.
func (h *harness) doNoRedirect(t *testing.T, method, path string) *http.Response {
	t.Helper()

	noRedirect := *h.Client
	noRedirect.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	req, err := http.NewRequestWithContext(t.Context(), method, h.URL+path, nil)
	require.NoError(t, err)

	resp, err := noRedirect.Do(req)
	require.NoError(t, err)

	return resp
}

// dialStream connects to the websocket stream.
func (h *harness) dialStream(t *testing.T) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(t.Context(), "ws"+strings.TrimPrefix(h.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	return conn
}

// readMessage reads one hub message with a deadline.
func readMessage(t *testing.T, conn *websocket.Conn) hub.Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)

	var msg hub.Message
	require.NoError(t, json.Unmarshal(data, &msg))

	return msg
}

// mcpSession creates an MCP client session against /mcp.
func (h *harness) mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint:   h.URL + "/mcp",
		HTTPClient: h.Client,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// extractTextContent returns the text of the first content block.
func extractTextContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	require.NotEmpty(t, result.Content)

	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])

	return tc.Text
}

// nowPlaying decodes a snapshot's data as the spotify model.
func nowPlaying(t *testing.T, snap dashboard.Snapshot) models.NowPlaying {
	t.Helper()

	raw, err := json.Marshal(snap.Data)
	require.NoError(t, err)

	var np models.NowPlaying
	require.NoError(t, json.Unmarshal(raw, &np))

	return np
}

// stateFrom extracts the state parameter from a login redirect.
func stateFrom(t *testing.T, resp *http.Response) string {
	t.Helper()

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)

	st := loc.Query().Get("state")
	require.NotEmpty(t, st)

	return st
}
