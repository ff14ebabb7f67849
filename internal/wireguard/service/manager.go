package service

import (
	"context"
	"log"
	"sync"

	"wgkeeper/internal/config"
	"wgkeeper/internal/wireguard/entity"
)

// ServerManager объединяет пул дескрипторов и по одному WGEasyClient на
// сервер. Все операции "по всему пулу" живут здесь.
type ServerManager struct {
	pool *ServerPool

	mu      sync.Mutex
	clients map[string]*WGEasyClient

	fallbackPublicKey string
	proxyAddr         string
}

func NewServerManager(pool *ServerPool, cfg *config.Config) *ServerManager {
	m := &ServerManager{
		pool:              pool,
		clients:           make(map[string]*WGEasyClient),
		fallbackPublicKey: cfg.WGServerPublicKey,
		proxyAddr:         cfg.WGProxyAddr,
	}

	// Серверы из окружения регистрируются при старте; уже известные пулу
	// (загруженные из файла состояния) просто получают клиента
	for _, s := range cfg.WGServers {
		desc := ServerDescriptor{
			ServerID:      s.ServerID,
			Host:          s.Host,
			APIPort:       s.APIPort,
			Password:      s.Password,
			CapacityLimit: cfg.CapacityLimit,
		}
		if _, ok := pool.Get(s.ServerID); !ok {
			if err := pool.Register(desc); err != nil {
				log.Printf("ServerManager: register %s: %v", s.ServerID, err)
				continue
			}
		}
		m.clients[s.ServerID] = NewWGEasyClientWithProxy(
			s.ServerID, s.Host, s.APIPort, s.Password, m.fallbackPublicKey, m.proxyAddr)
	}

	// Клиенты для серверов, известных только из файла состояния
	for _, d := range pool.Snapshot() {
		if _, ok := m.clients[d.ServerID]; !ok {
			m.clients[d.ServerID] = NewWGEasyClientWithProxy(
				d.ServerID, d.Host, d.APIPort, d.Password, m.fallbackPublicKey, m.proxyAddr)
		}
	}

	return m
}

// Pool возвращает пул дескрипторов
func (m *ServerManager) Pool() *ServerPool {
	return m.pool
}

// RegisterServer добавляет сервер в пул на лету и создаёт для него клиента
func (m *ServerManager) RegisterServer(desc ServerDescriptor) error {
	if err := m.pool.Register(desc); err != nil {
		return err
	}

	m.mu.Lock()
	m.clients[desc.ServerID] = NewWGEasyClientWithProxy(
		desc.ServerID, desc.Host, desc.APIPort, desc.Password, m.fallbackPublicKey, m.proxyAddr)
	m.mu.Unlock()

	return nil
}

// ClientFor возвращает API-клиент сервера по ID
func (m *ServerManager) ClientFor(serverID string) (*WGEasyClient, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[serverID]
	return c, ok
}

// FindClient ищет клиента по имени на всех серверах пула.
// Отсутствие везде — (nil, nil): ожидаемый исход, не ошибка.
// Поиск по всему пулу до создания — то, что держит инвариант
// "не больше одного клиента на пользователя во всём пуле".
func (m *ServerManager) FindClient(ctx context.Context, name string) (*entity.Client, error) {
	var lastErr error

	for _, d := range m.pool.Snapshot() {
		api, ok := m.ClientFor(d.ServerID)
		if !ok {
			continue
		}

		client, err := api.GetClient(ctx, name)
		if err != nil {
			log.Printf("ServerManager: search %s on %s failed: %v", name, d.ServerID, err)
			lastErr = err
			continue
		}
		if client != nil {
			return client, nil
		}
	}

	// Клиент не найден, но часть пула не отвечала — не утверждаем отсутствие
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}

// SetEnabled переключает состояние клиента на конкретном сервере
func (m *ServerManager) SetEnabled(ctx context.Context, serverID, name string, enabled bool) error {
	api, ok := m.ClientFor(serverID)
	if !ok {
		return ErrNoServersAvailable
	}
	return api.SetEnabled(ctx, name, enabled)
}

// AllClients собирает клиентов со всех серверов. Недоступные серверы
// пропускаются с записью в лог.
func (m *ServerManager) AllClients(ctx context.Context) ([]entity.Client, error) {
	var all []entity.Client

	for _, d := range m.pool.Snapshot() {
		api, ok := m.ClientFor(d.ServerID)
		if !ok {
			continue
		}

		clients, err := api.ListClients(ctx)
		if err != nil {
			log.Printf("ServerManager: list clients on %s failed: %v", d.ServerID, err)
			continue
		}
		all = append(all, clients...)
	}

	return all, nil
}

// LiveClientsCount возвращает реальное число клиентов на сервере
func (m *ServerManager) LiveClientsCount(ctx context.Context, serverID string) (int, error) {
	api, ok := m.ClientFor(serverID)
	if !ok {
		return 0, ErrNoServersAvailable
	}

	clients, err := api.ListClients(ctx)
	if err != nil {
		return 0, err
	}
	return len(clients), nil
}

// RefreshClientsCount подтягивает кешированный счётчик к живому значению
func (m *ServerManager) RefreshClientsCount(ctx context.Context, serverID string) (int, error) {
	count, err := m.LiveClientsCount(ctx, serverID)
	if err != nil {
		return 0, err
	}
	if err := m.pool.SetClientsCount(serverID, count); err != nil {
		return 0, err
	}
	return count, nil
}
