package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWGEasy имитирует админский API wg-easy: логин с сессионной кукой,
// список клиентов, включение/отключение, удаление, информация о сервере
type fakeWGEasy struct {
	password string
	session  string

	clients map[string]*fakeClient // id -> client

	serverInfoStatus int

	loginCalls  int
	listCalls   int
	enableCalls int

	expireSession bool // следующий authed-запрос получает 401
	ignoreEnable  bool // принять мутацию, но не применить
}

type fakeClient struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Enabled      bool   `json:"enabled"`
	Address      string `json:"address"`
	PublicKey    string `json:"publicKey"`
	PrivateKey   string `json:"privateKey"`
	PreSharedKey string `json:"preSharedKey"`
}

func newFakeWGEasy() *fakeWGEasy {
	return &fakeWGEasy{
		password:         "secret",
		serverInfoStatus: http.StatusOK,
		clients:          make(map[string]*fakeClient),
	}
}

func (f *fakeWGEasy) addClient(c fakeClient) {
	f.clients[c.ID] = &c
}

func (f *fakeWGEasy) authed(r *http.Request) bool {
	if f.expireSession {
		f.expireSession = false
		return false
	}
	ck, err := r.Cookie("connect.sid")
	return err == nil && ck.Value == f.session && f.session != ""
}

func (f *fakeWGEasy) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/session", func(w http.ResponseWriter, r *http.Request) {
		f.loginCalls++
		var body struct {
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Password != f.password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.session = fmt.Sprintf("sid-%d", f.loginCalls)
		http.SetCookie(w, &http.Cookie{Name: "connect.sid", Value: f.session})
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/wireguard/client", func(w http.ResponseWriter, r *http.Request) {
		if !f.authed(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.listCalls++
		out := make([]*fakeClient, 0, len(f.clients))
		for _, c := range f.clients {
			out = append(out, c)
		}
		json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("POST /api/wireguard/client", func(w http.ResponseWriter, r *http.Request) {
		if !f.authed(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body struct {
			Name string `json:"name"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		c := fakeClient{
			ID:           fmt.Sprintf("id-%d", len(f.clients)+1),
			Name:         body.Name,
			Enabled:      true,
			Address:      "10.8.0.2",
			PublicKey:    "pub-" + body.Name,
			PrivateKey:   "priv-" + body.Name,
			PreSharedKey: "psk-" + body.Name,
		}
		f.addClient(c)
		json.NewEncoder(w).Encode(&c)
	})

	mux.HandleFunc("POST /api/wireguard/client/{id}/enable", func(w http.ResponseWriter, r *http.Request) {
		if !f.authed(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.enableCalls++
		var body struct {
			Enabled bool `json:"enabled"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if c, ok := f.clients[r.PathValue("id")]; ok && !f.ignoreEnable {
			c.Enabled = body.Enabled
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("DELETE /api/wireguard/client/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !f.authed(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if _, ok := f.clients[r.PathValue("id")]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.clients, r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/wireguard/server", func(w http.ResponseWriter, r *http.Request) {
		if !f.authed(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.serverInfoStatus != http.StatusOK {
			w.WriteHeader(f.serverInfoStatus)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"publicKey": "server-pub-key"})
	})

	return mux
}

func newTestClient(t *testing.T, ts *httptest.Server, fallbackKey string) *WGEasyClient {
	t.Helper()
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	return NewWGEasyClient("server0", u.Hostname(), u.Port(), "secret", fallbackKey)
}

func TestListClientsLogsInOnceAndCachesCookie(t *testing.T) {
	fake := newFakeWGEasy()
	fake.addClient(fakeClient{ID: "id-1", Name: "client_100", Enabled: true})
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	c := newTestClient(t, ts, "")

	clients, err := c.ListClients(context.Background())
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "client_100", clients[0].Name)
	assert.Equal(t, "server0", clients[0].ServerID)

	_, err = c.ListClients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fake.loginCalls, "session cookie is cached between calls")
}

func TestExpiredSessionTriggersSingleRelogin(t *testing.T) {
	fake := newFakeWGEasy()
	fake.addClient(fakeClient{ID: "id-1", Name: "client_100", Enabled: true})
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	c := newTestClient(t, ts, "")

	_, err := c.ListClients(context.Background())
	require.NoError(t, err)

	// сервер "забывает" сессию: следующий запрос получает 401
	fake.expireSession = true

	clients, err := c.ListClients(context.Background())
	require.NoError(t, err)
	assert.Len(t, clients, 1)
	assert.Equal(t, 2, fake.loginCalls, "exactly one re-login after 401")
}

func TestGetClientNotFoundIsNotError(t *testing.T) {
	fake := newFakeWGEasy()
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	c := newTestClient(t, ts, "")

	client, err := c.GetClient(context.Background(), "client_404")
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestSetEnabledAlreadyInDesiredStateIsNoop(t *testing.T) {
	fake := newFakeWGEasy()
	fake.addClient(fakeClient{ID: "id-1", Name: "client_100", Enabled: false})
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	c := newTestClient(t, ts, "")

	require.NoError(t, c.SetEnabled(context.Background(), "client_100", false))
	require.NoError(t, c.SetEnabled(context.Background(), "client_100", false))
	assert.Equal(t, 0, fake.enableCalls, "no mutation issued for a no-op")
}

func TestSetEnabledIssuesOneMutationAndVerifies(t *testing.T) {
	fake := newFakeWGEasy()
	fake.addClient(fakeClient{ID: "id-1", Name: "client_100", Enabled: true})
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	c := newTestClient(t, ts, "")

	require.NoError(t, c.SetEnabled(context.Background(), "client_100", false))
	assert.Equal(t, 1, fake.enableCalls)
	assert.False(t, fake.clients["id-1"].Enabled)

	// повторное отключение — верифицированный no-op
	require.NoError(t, c.SetEnabled(context.Background(), "client_100", false))
	assert.Equal(t, 1, fake.enableCalls)
}

func TestSetEnabledFailsWhenServerIgnoresMutation(t *testing.T) {
	fake := newFakeWGEasy()
	fake.addClient(fakeClient{ID: "id-1", Name: "client_100", Enabled: true})
	fake.ignoreEnable = true
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	c := newTestClient(t, ts, "")

	err := c.SetEnabled(context.Background(), "client_100", false)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestSetEnabledMissingClient(t *testing.T) {
	fake := newFakeWGEasy()
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	c := newTestClient(t, ts, "")

	err := c.SetEnabled(context.Background(), "client_404", false)
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestRemoveClientAbsentIsSuccess(t *testing.T) {
	fake := newFakeWGEasy()
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	c := newTestClient(t, ts, "")

	assert.NoError(t, c.RemoveClient(context.Background(), "never-existed"))
}

func TestCreateClientReturnsKeyMaterial(t *testing.T) {
	fake := newFakeWGEasy()
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	c := newTestClient(t, ts, "")

	client, err := c.CreateClient(context.Background(), "client_100")
	require.NoError(t, err)
	assert.Equal(t, "client_100", client.Name)
	assert.NotEmpty(t, client.PrivateKey)
	assert.NotEmpty(t, client.PreSharedKey)
	assert.Equal(t, "server0", client.ServerID)
}

func TestServerInfoFallsBackToConfiguredKey(t *testing.T) {
	fake := newFakeWGEasy()
	fake.serverInfoStatus = http.StatusInternalServerError
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	c := newTestClient(t, ts, "env-pub-key")

	info, err := c.ServerInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "env-pub-key", info.PublicKey)
}

func TestServerInfoUnavailableWithoutFallback(t *testing.T) {
	fake := newFakeWGEasy()
	fake.serverInfoStatus = http.StatusInternalServerError
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	c := newTestClient(t, ts, "")

	_, err := c.ServerInfo(context.Background())
	assert.ErrorIs(t, err, ErrServerKeyUnavailable)
}

func TestListClientsUnreachableServer(t *testing.T) {
	fake := newFakeWGEasy()
	ts := httptest.NewServer(fake.handler())
	ts.Close() // порт закрыт

	c := newTestClient(t, ts, "")

	_, err := c.ListClients(context.Background())
	assert.ErrorIs(t, err, ErrGatewayUnreachable)
}

func TestGenerateConfigText(t *testing.T) {
	fake := newFakeWGEasy()
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	c := newTestClient(t, ts, "")

	client, err := c.CreateClient(context.Background(), "client_100")
	require.NoError(t, err)

	cfg, err := c.GenerateConfig(context.Background(), client)
	require.NoError(t, err)

	assert.Contains(t, cfg.ConfigText, "PrivateKey = priv-client_100")
	assert.Contains(t, cfg.ConfigText, "PublicKey = server-pub-key")
	assert.Contains(t, cfg.ConfigText, "PresharedKey = psk-client_100")
	assert.Contains(t, cfg.ConfigText, "AllowedIPs = 0.0.0.0/0")
	assert.Contains(t, cfg.ConfigText, "PersistentKeepalive = 25")
	assert.NotEmpty(t, cfg.QRPNG)
	assert.Equal(t, "server0", cfg.ServerID)
}

func TestEndpointSwapsPanelPortForTunnelPort(t *testing.T) {
	c := NewWGEasyClient("server0", "203.0.113.7", "51821", "secret", "")
	assert.Equal(t, "203.0.113.7:51820", c.endpoint())

	// нестандартный порт API остаётся как есть
	c2 := NewWGEasyClient("server0", "203.0.113.7", "8080", "secret", "")
	assert.Equal(t, "203.0.113.7:8080", c2.endpoint())
}

func TestEndpointStripsScheme(t *testing.T) {
	c := NewWGEasyClient("server0", "vpn.example.com", "51821", "secret", "")
	assert.False(t, strings.HasPrefix(c.endpoint(), "http://"))
}
