package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"wgkeeper/internal/metrics"
	"wgkeeper/internal/notify"
	"wgkeeper/internal/subscription"
	"wgkeeper/internal/wireguard/entity"
	wgservice "wgkeeper/internal/wireguard/service"
	"wgkeeper/pkg/retry"
)

const (
	expiredMessage = "❌ Ваша подписка VPN истекла!\n\n" +
		"Для продолжения использования сервиса необходимо продлить подписку."
	warningMessage = "⚠️ Внимание! Ваша подписка VPN истекает через 24 часа!\n\n" +
		"Рекомендуем продлить подписку заранее, чтобы избежать отключения."
)

// Ledger — нужные планировщику операции журнала подписок
type Ledger interface {
	ListActive(ctx context.Context, now time.Time) ([]subscription.Subscription, error)
	ListExpired(ctx context.Context, now time.Time) ([]subscription.Subscription, error)
	Deactivate(ctx context.Context, userID int64) error
}

// Directory — нужные планировщику операции над wg-easy серверами
type Directory interface {
	FindClient(ctx context.Context, name string) (*entity.Client, error)
	SetEnabled(ctx context.Context, serverID, name string, enabled bool) error
}

// Scheduler гоняет два периодических прохода: быстрый по истекшим
// подпискам и медленный по приближающимся к истечению. Оба прохода
// выполняются на одной горутине и потому никогда не пересекаются —
// общий журнал и дедап-карта не требуют блокировок вокруг
// read-modify-write последовательностей.
type Scheduler struct {
	ledger   Ledger
	dir      Directory
	dedup    *NotificationDedup
	notifier notify.Notifier

	expiryInterval  time.Duration
	warningInterval time.Duration
	disableRetry    retry.Policy

	lastWarningSweep time.Time

	// подменяется в тестах
	now func() time.Time
}

func New(ledger Ledger, dir Directory, dedup *NotificationDedup, notifier notify.Notifier, expiryInterval, warningInterval time.Duration) *Scheduler {
	return &Scheduler{
		ledger:          ledger,
		dir:             dir,
		dedup:           dedup,
		notifier:        notifier,
		expiryInterval:  expiryInterval,
		warningInterval: warningInterval,
		disableRetry: retry.Policy{
			MaxAttempts: 3,
			Delay:       time.Second,
			MaxDelay:    time.Second,
			Factor:      1,
			Retryable:   wgservice.IsTransient,
		},
		now: time.Now,
	}
}

// Run крутит оба прохода до отмены контекста. Оба срабатывают сразу при
// старте. Отмена проверяется только между подписками: начатая подписка
// дорабатывается до конца, чтобы остановка не оставила подписку
// деактивированной, но не уведомленной (или наоборот).
func (s *Scheduler) Run(ctx context.Context) {
	log.Println("Scheduler: started")

	s.ExpirySweep(ctx)
	s.WarningSweep(ctx)

	expiryTicker := time.NewTicker(s.expiryInterval)
	defer expiryTicker.Stop()
	warningTicker := time.NewTicker(s.warningInterval)
	defer warningTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Scheduler: stopped")
			return
		case <-expiryTicker.C:
			s.ExpirySweep(ctx)
		case <-warningTicker.C:
			s.WarningSweep(ctx)
		}
	}
}

// ExpirySweep деактивирует истекшие подписки: отключает клиента на
// сервере (с повторами), безусловно снимает активность в журнале и
// один раз уведомляет пользователя. Ни одна ошибка по отдельной
// подписке не останавливает проход.
func (s *Scheduler) ExpirySweep(ctx context.Context) {
	now := s.now()
	metrics.SweepRunsTotal.WithLabelValues("expiry").Inc()

	expired, err := s.ledger.ListExpired(ctx, now)
	if err != nil {
		log.Printf("Scheduler: list expired failed: %v", err)
		return
	}
	if len(expired) == 0 {
		return
	}
	log.Printf("Scheduler: %d expired subscriptions to process", len(expired))

	for i := range expired {
		if ctx.Err() != nil {
			log.Println("Scheduler: expiry sweep interrupted by shutdown")
			return
		}
		s.processExpired(&expired[i])
	}
}

func (s *Scheduler) processExpired(sub *subscription.Subscription) {
	// Начатая подписка дорабатывается даже при остановке процесса:
	// контекст операции не наследует контекст планировщика
	opCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	name := entity.ClientName(sub.UserID)

	// (1) отключение клиента на сервере; отсутствие клиента — уже
	// фактически отключен
	client, err := s.dir.FindClient(opCtx, name)
	switch {
	case err != nil:
		log.Printf("Scheduler: lookup %s failed, will retry next sweep: %v", name, err)
		metrics.SweepSubscriptionsProcessed.WithLabelValues("expiry", "lookup_failed").Inc()
	case client == nil:
		log.Printf("Scheduler: client %s not found on any server, skipping disable", name)
	case client.Enabled:
		err := s.disableRetry.Do(opCtx, "disable "+name, func() error {
			err := s.dir.SetEnabled(opCtx, client.ServerID, name, false)
			if errors.Is(err, wgservice.ErrClientNotFound) {
				// клиента успели удалить — считаем отключенным
				return nil
			}
			return err
		})
		if err != nil {
			// не фатально: журнал всё равно деактивируем, сервер
			// поправит следующий проход или оператор
			log.Printf("Scheduler: disable %s failed after retries: %v", name, err)
			metrics.SweepSubscriptionsProcessed.WithLabelValues("expiry", "disable_failed").Inc()
		} else {
			metrics.SweepSubscriptionsProcessed.WithLabelValues("expiry", "disabled").Inc()
		}
	}

	// (2) журнал — авторитетная запись биллинга; деактивация не ждёт
	// успеха на сервере
	if err := s.ledger.Deactivate(opCtx, sub.UserID); err != nil {
		log.Printf("Scheduler: deactivate subscription %d failed: %v", sub.ID, err)
		metrics.SweepSubscriptionsProcessed.WithLabelValues("expiry", "deactivate_failed").Inc()
		return
	}

	// (3) уведомление об истечении — не больше одного на подписку,
	// независимо от доступности сервера: оплаченный период кончился
	if s.dedup.MarkAndCheck(sub.ID, notify.CategoryExpired) {
		if err := s.notifier.Notify(opCtx, sub.UserID, notify.CategoryExpired, expiredMessage, "extend_subscription"); err != nil {
			log.Printf("Scheduler: notify user %d failed: %v", sub.UserID, err)
		}
		metrics.NotificationsSentTotal.WithLabelValues(notify.CategoryExpired).Inc()
	}

	metrics.SweepSubscriptionsProcessed.WithLabelValues("expiry", "deactivated").Inc()
	log.Printf("Scheduler: subscription %d (user %d) deactivated", sub.ID, sub.UserID)
}

// WarningSweep предупреждает пользователей, у которых осталось 23-24 часа.
// Часовое окно согласовано с часовым интервалом прохода: проход не может
// проскочить окно целиком, а дедап не даёт повторов внутри окна.
func (s *Scheduler) WarningSweep(ctx context.Context) {
	now := s.now()

	// страховка от планировщика, сработавшего раньше срока
	if !s.lastWarningSweep.IsZero() && now.Sub(s.lastWarningSweep) < s.warningInterval-time.Second {
		log.Println("Scheduler: skipping warning sweep, less than an interval since last run")
		return
	}
	s.lastWarningSweep = now

	metrics.SweepRunsTotal.WithLabelValues("warning").Inc()

	active, err := s.ledger.ListActive(ctx, now)
	if err != nil {
		log.Printf("Scheduler: list active failed: %v", err)
		return
	}

	for i := range active {
		if ctx.Err() != nil {
			log.Println("Scheduler: warning sweep interrupted by shutdown")
			return
		}
		s.processWarning(&active[i], now)
	}
}

func (s *Scheduler) processWarning(sub *subscription.Subscription, now time.Time) {
	hoursLeft := sub.Expiration.Sub(now).Hours()
	if hoursLeft < 23 || hoursLeft > 24 {
		return
	}

	if !s.dedup.MarkAndCheck(sub.ID, notify.CategoryExpiryWarning) {
		return
	}

	opCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := s.notifier.Notify(opCtx, sub.UserID, notify.CategoryExpiryWarning, warningMessage, "extend_subscription"); err != nil {
		log.Printf("Scheduler: warn user %d failed: %v", sub.UserID, err)
	}
	metrics.NotificationsSentTotal.WithLabelValues(notify.CategoryExpiryWarning).Inc()
	metrics.SweepSubscriptionsProcessed.WithLabelValues("warning", "warned").Inc()
	log.Printf("Scheduler: sent 24h warning to user %d", sub.UserID)
}
