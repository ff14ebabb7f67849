package service

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"wgkeeper/internal/metrics"

	"github.com/pkg/errors"
)

// ServerDescriptor — запись о wg-easy сервере в пуле
type ServerDescriptor struct {
	ServerID      string    `json:"server_id"`
	Host          string    `json:"host"`
	APIPort       string    `json:"api_port"`
	Password      string    `json:"password"`
	ClientsCount  int       `json:"clients_count"`
	CapacityLimit int       `json:"capacity_limit"`
	AddedAt       time.Time `json:"added_at"`
}

// poolState — формат файла состояния. Порядок регистрации сохраняется,
// он участвует в разрешении ничьих при выборе сервера.
type poolState struct {
	Servers []ServerDescriptor `json:"servers"`
}

// ServerPool хранит дескрипторы серверов и выбирает сервер для размещения
// нового клиента. Каждая мутация атомарно переписывает файл состояния,
// чтобы рестарт поднимал известную нагрузку, а не начинал вслепую.
type ServerPool struct {
	mu        sync.Mutex
	stateFile string
	servers   []ServerDescriptor
	lastUsed  int // индекс последнего выбора для round-robin
}

func NewServerPool(stateFile string) *ServerPool {
	p := &ServerPool{
		stateFile: stateFile,
		lastUsed:  -1,
	}
	p.loadState()
	return p
}

// Register добавляет сервер в пул. Счётчик клиентов стартует с нуля.
func (p *ServerPool) Register(desc ServerDescriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.servers {
		if s.ServerID == desc.ServerID {
			return errors.Wrap(ErrDuplicateServer, desc.ServerID)
		}
	}

	desc.ClientsCount = 0
	if desc.AddedAt.IsZero() {
		desc.AddedAt = time.Now()
	}
	p.servers = append(p.servers, desc)

	if err := p.saveStateLocked(); err != nil {
		return err
	}

	metrics.PoolServers.Set(float64(len(p.servers)))
	log.Printf("ServerPool: registered %s (%s:%s)", desc.ServerID, desc.Host, desc.APIPort)
	return nil
}

// SelectForPlacement возвращает сервер с наименьшим кешированным числом
// клиентов. Ничья — побеждает зарегистрированный раньше.
func (p *ServerPool) SelectForPlacement() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.servers) == 0 {
		return "", ErrNoServersAvailable
	}

	best := 0
	for i := 1; i < len(p.servers); i++ {
		if p.servers[i].ClientsCount < p.servers[best].ClientsCount {
			best = i
		}
	}

	selected := p.servers[best]
	log.Printf("ServerPool: selected %s with %d clients", selected.ServerID, selected.ClientsCount)
	return selected.ServerID, nil
}

// SelectWithCapacity — round-robin с потолком вместимости. Кешированный
// счётчик может разойтись с реальным (клиентов создают и вне этого
// процесса), поэтому под давлением вместимости число клиентов
// перепроверяется у самого сервера через liveCount.
func (p *ServerPool) SelectWithCapacity(ctx context.Context, liveCount func(ctx context.Context, serverID string) (int, error)) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.servers)
	if n == 0 {
		return "", ErrNoServersAvailable
	}

	for i := 1; i <= n; i++ {
		idx := (p.lastUsed + i) % n
		s := p.servers[idx]

		count, err := liveCount(ctx, s.ServerID)
		if err != nil {
			log.Printf("ServerPool: skip %s, live count failed: %v", s.ServerID, err)
			continue
		}

		limit := s.CapacityLimit
		if limit <= 0 {
			limit = 50
		}
		if count >= limit {
			log.Printf("ServerPool: skip %s, at capacity (%d/%d)", s.ServerID, count, limit)
			continue
		}

		p.lastUsed = idx
		log.Printf("ServerPool: selected %s with %d live clients", s.ServerID, count)
		return s.ServerID, nil
	}

	return "", ErrNoServersAvailable
}

// UpdateClientsCount сдвигает кешированный счётчик на delta и сохраняет пул
func (p *ServerPool) UpdateClientsCount(serverID string, delta int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setCountLocked(serverID, func(cur int) int { return cur + delta })
}

// SetClientsCount выставляет кешированный счётчик в абсолютное значение
func (p *ServerPool) SetClientsCount(serverID string, count int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setCountLocked(serverID, func(int) int { return count })
}

func (p *ServerPool) setCountLocked(serverID string, f func(int) int) error {
	for i := range p.servers {
		if p.servers[i].ServerID != serverID {
			continue
		}

		count := f(p.servers[i].ClientsCount)
		if count < 0 {
			count = 0
		}
		p.servers[i].ClientsCount = count

		if err := p.saveStateLocked(); err != nil {
			return err
		}

		metrics.PoolClientsCount.WithLabelValues(serverID).Set(float64(count))
		log.Printf("ServerPool: %s clients count = %d", serverID, count)
		return nil
	}

	return errors.Wrapf(ErrNoServersAvailable, "unknown server %s", serverID)
}

// Get возвращает дескриптор сервера по ID
func (p *ServerPool) Get(serverID string) (ServerDescriptor, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.servers {
		if s.ServerID == serverID {
			return s, true
		}
	}
	return ServerDescriptor{}, false
}

// Snapshot возвращает копию всех дескрипторов в порядке регистрации
func (p *ServerPool) Snapshot() []ServerDescriptor {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ServerDescriptor, len(p.servers))
	copy(out, p.servers)
	return out
}

func (p *ServerPool) loadState() {
	data, err := os.ReadFile(p.stateFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("ServerPool: error loading state: %v", err)
		}
		return
	}

	var state poolState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Printf("ServerPool: error parsing state file: %v", err)
		return
	}

	p.servers = state.Servers
	metrics.PoolServers.Set(float64(len(p.servers)))
	for _, s := range p.servers {
		metrics.PoolClientsCount.WithLabelValues(s.ServerID).Set(float64(s.ClientsCount))
	}
	log.Printf("ServerPool: loaded %d servers from state", len(p.servers))
}

// saveStateLocked пишет во временный файл и подменяет его переименованием,
// чтобы падение посреди записи не портило долговечную копию
func (p *ServerPool) saveStateLocked() error {
	data, err := json.MarshalIndent(poolState{Servers: p.servers}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal pool state")
	}

	tmp := p.stateFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return errors.Wrap(err, "write pool state")
	}

	if err := os.Rename(tmp, p.stateFile); err != nil {
		return errors.Wrap(err, "replace pool state")
	}

	return nil
}
