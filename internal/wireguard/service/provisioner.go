package service

import (
	"context"
	"log"
	"time"

	"wgkeeper/internal/wireguard/entity"
	"wgkeeper/internal/wireguard/repository"
)

// SubscriptionLedger — операции журнала подписок, нужные провижинингу
type SubscriptionLedger interface {
	ExtendSubscription(ctx context.Context, userID int64, days int) (time.Time, error)
}

// ConfigStore хранит выданный пользователю ключевой материал
type ConfigStore interface {
	Save(ctx context.Context, c *repository.ClientConfig) error
	Delete(ctx context.Context, userID int64) error
}

// Provisioner — операции, которые дергает фронтенд: выдача нового клиента
// и продление подписки
type Provisioner struct {
	manager *ServerManager
	ledger  SubscriptionLedger
	store   ConfigStore

	// capacityPolicy включает round-robin с проверкой живого числа
	// клиентов вместо выбора по кешированному счётчику
	capacityPolicy bool
}

func NewProvisioner(manager *ServerManager, ledger SubscriptionLedger, store ConfigStore, capacityPolicy bool) *Provisioner {
	return &Provisioner{
		manager:        manager,
		ledger:         ledger,
		store:          store,
		capacityPolicy: capacityPolicy,
	}
}

// ProvisionNewClient выдает пользователю конфиг туннеля. Сначала ищем
// существующего клиента по всему пулу (и переиспользуем его, включив при
// необходимости) — только потом создаём нового на выбранном сервере.
// ErrNoServersAvailable и ErrServerKeyUnavailable доходят до вызывающего:
// на том конце ждёт пользователь.
func (p *Provisioner) ProvisionNewClient(ctx context.Context, userID int64) (*entity.ClientConfig, error) {
	name := entity.ClientName(userID)

	existing, err := p.manager.FindClient(ctx, name)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return p.reuseExisting(ctx, userID, existing)
	}

	serverID, err := p.selectServer(ctx)
	if err != nil {
		return nil, err
	}

	api, ok := p.manager.ClientFor(serverID)
	if !ok {
		return nil, ErrNoServersAvailable
	}

	client, err := api.CreateClient(ctx, name)
	if err != nil {
		return nil, err
	}

	if err := p.manager.Pool().UpdateClientsCount(serverID, 1); err != nil {
		log.Printf("Provisioner: update clients count for %s: %v", serverID, err)
	}

	cfg, err := api.GenerateConfig(ctx, client)
	if err != nil {
		return nil, err
	}

	p.saveConfig(ctx, userID, client)
	log.Printf("Provisioner: provisioned client %s on %s", name, serverID)
	return cfg, nil
}

func (p *Provisioner) reuseExisting(ctx context.Context, userID int64, client *entity.Client) (*entity.ClientConfig, error) {
	api, ok := p.manager.ClientFor(client.ServerID)
	if !ok {
		return nil, ErrNoServersAvailable
	}

	if !client.Enabled {
		if err := api.SetEnabled(ctx, client.Name, true); err != nil {
			return nil, err
		}
		client.Enabled = true
	}

	cfg, err := api.GenerateConfig(ctx, client)
	if err != nil {
		return nil, err
	}

	p.saveConfig(ctx, userID, client)
	log.Printf("Provisioner: reused client %s on %s", client.Name, client.ServerID)
	return cfg, nil
}

func (p *Provisioner) selectServer(ctx context.Context) (string, error) {
	if p.capacityPolicy {
		return p.manager.Pool().SelectWithCapacity(ctx, p.manager.LiveClientsCount)
	}
	return p.manager.Pool().SelectForPlacement()
}

func (p *Provisioner) saveConfig(ctx context.Context, userID int64, client *entity.Client) {
	err := p.store.Save(ctx, &repository.ClientConfig{
		UserID:       userID,
		ServerID:     client.ServerID,
		ClientID:     client.ID,
		PrivateKey:   client.PrivateKey,
		PublicKey:    client.PublicKey,
		PreSharedKey: client.PreSharedKey,
	})
	if err != nil {
		log.Printf("Provisioner: save client config for user %d: %v", userID, err)
	}
}

// RequestExtension продлевает подписку и, если клиент на сервере был
// отключен (подписка успела истечь), включает его обратно
func (p *Provisioner) RequestExtension(ctx context.Context, userID int64, days int) (time.Time, error) {
	expiration, err := p.ledger.ExtendSubscription(ctx, userID, days)
	if err != nil {
		return time.Time{}, err
	}

	name := entity.ClientName(userID)
	client, err := p.manager.FindClient(ctx, name)
	if err != nil {
		log.Printf("Provisioner: lookup %s after extension: %v", name, err)
		return expiration, nil
	}
	if client != nil && !client.Enabled {
		if err := p.manager.SetEnabled(ctx, client.ServerID, name, true); err != nil {
			// включение доберет следующий цикл обслуживания или оператор
			log.Printf("Provisioner: re-enable %s failed: %v", name, err)
		}
	}

	return expiration, nil
}

// RemoveClient удаляет клиента пользователя с сервера и его сохраненный
// конфиг. Отсутствие клиента — успех.
func (p *Provisioner) RemoveClient(ctx context.Context, userID int64) error {
	name := entity.ClientName(userID)

	client, err := p.manager.FindClient(ctx, name)
	if err != nil {
		return err
	}

	if client != nil {
		api, ok := p.manager.ClientFor(client.ServerID)
		if !ok {
			return ErrNoServersAvailable
		}
		if err := api.RemoveClient(ctx, client.ID); err != nil {
			return err
		}
		if err := p.manager.Pool().UpdateClientsCount(client.ServerID, -1); err != nil {
			log.Printf("Provisioner: update clients count for %s: %v", client.ServerID, err)
		}
	}

	if err := p.store.Delete(ctx, userID); err != nil {
		log.Printf("Provisioner: delete client config for user %d: %v", userID, err)
	}

	return nil
}
