package scheduler

import "sync"

// NotificationDedup гарантирует не больше одного уведомления на пару
// (подписка, категория) за время жизни процесса. Состояние не
// переживает рестарт — после рестарта возможен повтор уведомления;
// это осознанное ограничение, унаследованное от исходного поведения.
type NotificationDedup struct {
	mu   sync.Mutex
	sent map[dedupKey]bool
}

type dedupKey struct {
	subscriptionID int64
	category       string
}

func NewNotificationDedup() *NotificationDedup {
	return &NotificationDedup{sent: make(map[dedupKey]bool)}
}

// MarkAndCheck атомарно проверяет и помечает пару. true — отправлять,
// false — уже отправляли. Проверка и пометка — одна операция: раздельные
// check и set дали бы гонку, в которой два прохода решают отправить оба.
func (d *NotificationDedup) MarkAndCheck(subscriptionID int64, category string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := dedupKey{subscriptionID: subscriptionID, category: category}
	if d.sent[key] {
		return false
	}
	d.sent[key] = true
	return true
}
