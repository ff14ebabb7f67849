package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"wgkeeper/internal/metrics"
	"wgkeeper/internal/wireguard/entity"

	"github.com/sony/gobreaker"
	"golang.org/x/net/proxy"
)

const requestTimeout = 10 * time.Second

// WGEasyClient — клиент админского API одного wg-easy сервера.
// Сессионная кука кешируется после логина; 401 в любом месте сбрасывает
// куку и даёт ровно один повторный логин с повтором запроса.
type WGEasyClient struct {
	ServerID string
	BaseURL  string

	password   string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker

	// fallback публичный ключ сервера из окружения
	fallbackPublicKey string

	// кука используется и планировщиком, и HTTP-обработчиками
	mu     sync.Mutex
	cookie *http.Cookie
}

func (c *WGEasyClient) sessionCookie() *http.Cookie {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cookie
}

func (c *WGEasyClient) setSessionCookie(ck *http.Cookie) {
	c.mu.Lock()
	c.cookie = ck
	c.mu.Unlock()
}

// NewWGEasyClient создает клиент без прокси
func NewWGEasyClient(serverID, host, apiPort, password, fallbackPublicKey string) *WGEasyClient {
	return NewWGEasyClientWithProxy(serverID, host, apiPort, password, fallbackPublicKey, "")
}

// NewWGEasyClientWithProxy создает клиент с опциональным SOCKS5 прокси
func NewWGEasyClientWithProxy(serverID, host, apiPort, password, fallbackPublicKey, proxyAddr string) *WGEasyClient {
	c := &WGEasyClient{
		ServerID:          serverID,
		BaseURL:           fmt.Sprintf("http://%s:%s", host, apiPort),
		password:          password,
		fallbackPublicKey: fallbackPublicKey,
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "wg-easy-" + serverID,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker '%s' changed from %s to %s", name, from, to)
		},
	})

	var httpClient *http.Client
	if proxyAddr != "" {
		proxyURL := &url.URL{
			Scheme: "socks5h",
			Host:   proxyAddr,
		}

		dialer, err := proxy.FromURL(proxyURL, proxy.Direct)
		if err != nil {
			log.Printf("Failed to create SOCKS5 dialer: %v", err)
			httpClient = &http.Client{Timeout: requestTimeout}
		} else {
			transport := &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					return dialer.Dial(network, addr)
				},
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			}
			httpClient = &http.Client{
				Transport: transport,
				Timeout:   requestTimeout,
			}
		}
	} else {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	c.httpClient = httpClient
	return c
}

// login выполняет POST /api/session и кеширует сессионную куку connect.sid
func (c *WGEasyClient) login(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{"password": c.password})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/session", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.roundTrip(req, "login")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: login status %d", ErrUnauthorized, resp.StatusCode)
	}

	for _, ck := range resp.Cookies() {
		if ck.Name == "connect.sid" {
			c.setSessionCookie(ck)
			log.Printf("WGEasyClient %s: logged in", c.ServerID)
			return nil
		}
	}

	return fmt.Errorf("%w: no session cookie in login response", ErrUnauthorized)
}

// roundTrip выполняет запрос через circuit breaker и снимает метрики
func (c *WGEasyClient) roundTrip(req *http.Request, endpoint string) (*http.Response, error) {
	start := time.Now()

	result, err := c.cb.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
		}
		return resp, nil
	})

	metrics.WGAPIRequestDuration.WithLabelValues(c.ServerID, endpoint).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.WGAPIRequestsTotal.WithLabelValues(c.ServerID, endpoint, "error").Inc()
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
		}
		return nil, err
	}

	resp := result.(*http.Response)
	metrics.WGAPIRequestsTotal.WithLabelValues(c.ServerID, endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

// doAuthed выполняет запрос с сессионной кукой. Логинится, если куки нет.
// При 401 сбрасывает куку, логинится заново и повторяет запрос один раз.
func (c *WGEasyClient) doAuthed(ctx context.Context, method, path string, body []byte, endpoint string) (*http.Response, error) {
	if c.sessionCookie() == nil {
		if err := c.login(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.send(ctx, method, path, body, endpoint)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.setSessionCookie(nil)

		log.Printf("WGEasyClient %s: session expired, re-login", c.ServerID)
		if err := c.login(ctx); err != nil {
			return nil, err
		}

		resp, err = c.send(ctx, method, path, body, endpoint)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			return nil, ErrUnauthorized
		}
	}

	return resp, nil
}

func (c *WGEasyClient) send(ctx context.Context, method, path string, body []byte, endpoint string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if ck := c.sessionCookie(); ck != nil {
		req.AddCookie(ck)
	}

	return c.roundTrip(req, endpoint)
}

// ListClients возвращает текущий список клиентов сервера.
// Без внутренних повторов — политику повторов выбирает вызывающий.
func (c *WGEasyClient) ListClients(ctx context.Context) ([]entity.Client, error) {
	resp, err := c.doAuthed(ctx, http.MethodGet, "/api/wireguard/client", nil, "list_clients")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list clients: unexpected status %d", resp.StatusCode)
	}

	var clients []entity.Client
	if err := json.NewDecoder(resp.Body).Decode(&clients); err != nil {
		return nil, fmt.Errorf("list clients: decode: %w", err)
	}

	for i := range clients {
		clients[i].ServerID = c.ServerID
	}

	return clients, nil
}

// GetClient ищет клиента по имени. Отсутствие клиента — не ошибка:
// возвращается (nil, nil).
func (c *WGEasyClient) GetClient(ctx context.Context, name string) (*entity.Client, error) {
	clients, err := c.ListClients(ctx)
	if err != nil {
		return nil, err
	}

	for i := range clients {
		if clients[i].Name == name {
			return &clients[i], nil
		}
	}

	return nil, nil
}

// CreateClient создает клиента с указанным именем. Идемпотентность на
// вызывающем: перед созданием нужно проверить список клиентов по всему пулу.
func (c *WGEasyClient) CreateClient(ctx context.Context, name string) (*entity.Client, error) {
	body, _ := json.Marshal(map[string]string{"name": name})

	resp, err := c.doAuthed(ctx, http.MethodPost, "/api/wireguard/client", body, "create_client")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("create client: unexpected status %d", resp.StatusCode)
	}

	var client entity.Client
	if err := json.NewDecoder(resp.Body).Decode(&client); err != nil {
		return nil, fmt.Errorf("create client: decode: %w", err)
	}
	client.ServerID = c.ServerID

	// wg-easy может не вернуть полные ключи в ответе на создание —
	// тогда перечитываем список
	if client.ID == "" || client.PrivateKey == "" {
		created, err := c.GetClient(ctx, name)
		if err != nil {
			return nil, err
		}
		if created == nil {
			return nil, fmt.Errorf("create client: %s not visible after create", name)
		}
		return created, nil
	}

	log.Printf("WGEasyClient %s: created client %s", c.ServerID, name)
	return &client, nil
}

// SetEnabled переводит клиента в нужное состояние. Если клиент уже в нём —
// успех без сетевой мутации. После мутации состояние перечитывается;
// расхождение с запрошенным — ошибка.
func (c *WGEasyClient) SetEnabled(ctx context.Context, name string, enabled bool) error {
	client, err := c.GetClient(ctx, name)
	if err != nil {
		return err
	}
	if client == nil {
		return fmt.Errorf("%w: %s", ErrClientNotFound, name)
	}

	if client.Enabled == enabled {
		return nil
	}

	body, _ := json.Marshal(map[string]bool{"enabled": enabled})
	path := fmt.Sprintf("/api/wireguard/client/%s/enable", client.ID)

	resp, err := c.doAuthed(ctx, http.MethodPost, path, body, "set_enabled")
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("set enabled: unexpected status %d", resp.StatusCode)
	}

	// Проверяем, что сервер действительно применил изменение
	updated, err := c.GetClient(ctx, name)
	if err != nil {
		return err
	}
	if updated == nil || updated.Enabled != enabled {
		return fmt.Errorf("%w: %s expected enabled=%v", ErrVerificationFailed, name, enabled)
	}

	log.Printf("WGEasyClient %s: client %s enabled=%v", c.ServerID, name, enabled)
	return nil
}

// RemoveClient удаляет клиента по ID. Удаление уже отсутствующего клиента —
// успех (идемпотентность по результату).
func (c *WGEasyClient) RemoveClient(ctx context.Context, id string) error {
	resp, err := c.doAuthed(ctx, http.MethodDelete, "/api/wireguard/client/"+id, nil, "remove_client")
	if err != nil {
		return err
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("remove client: unexpected status %d", resp.StatusCode)
	}
}

// ServerInfo возвращает публичный ключ сервера. Если endpoint недоступен,
// используется ключ из окружения; без того и другого — ErrServerKeyUnavailable.
func (c *WGEasyClient) ServerInfo(ctx context.Context) (*entity.ServerInfo, error) {
	resp, err := c.doAuthed(ctx, http.MethodGet, "/api/wireguard/server", nil, "server_info")
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			var info entity.ServerInfo
			if decErr := json.NewDecoder(resp.Body).Decode(&info); decErr == nil && info.PublicKey != "" {
				return &info, nil
			}
		}
	} else {
		log.Printf("WGEasyClient %s: server info unavailable: %v", c.ServerID, err)
	}

	if c.fallbackPublicKey != "" {
		log.Printf("WGEasyClient %s: using configured server public key", c.ServerID)
		return &entity.ServerInfo{PublicKey: c.fallbackPublicKey}, nil
	}

	return nil, ErrServerKeyUnavailable
}
