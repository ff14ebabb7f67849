package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"wgkeeper/internal/subscription"
)

type SubscriptionRepository interface {
	GetActiveByUserID(ctx context.Context, userID int64) (*subscription.Subscription, error)
	ListActive(ctx context.Context, now time.Time) ([]subscription.Subscription, error)
	ListExpired(ctx context.Context, now time.Time) ([]subscription.Subscription, error)
	Deactivate(ctx context.Context, userID int64) error
	UpdateExpiration(ctx context.Context, userID int64, expiration time.Time) error
	CreateActive(ctx context.Context, userID int64, expiration time.Time) error
	CreatePayment(ctx context.Context, p *subscription.Payment) error
	GetPayment(ctx context.Context, paymentID string) (*subscription.Payment, error)
	UpdatePaymentStatus(ctx context.Context, paymentID, status string) error
	ClearAll(ctx context.Context) error
}

type Service struct {
	repo SubscriptionRepository
}

func NewService(repo SubscriptionRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) IsUserSubscribed(ctx context.Context, userID int64) (bool, error) {
	sub, err := s.repo.GetActiveByUserID(ctx, userID)
	if err != nil {
		return false, err
	}
	return sub != nil && sub.Expiration.After(time.Now()), nil
}

func (s *Service) GetSubscription(ctx context.Context, userID int64) (*subscription.Subscription, error) {
	return s.repo.GetActiveByUserID(ctx, userID)
}

// ExtendSubscription продлевает подписку на days дней и возвращает новую
// дату окончания. Истекшая подписка продлевается от текущего момента,
// а не от прошедшей даты: неиспользованные дни прошлого периода не
// накапливаются.
func (s *Service) ExtendSubscription(ctx context.Context, userID int64, days int) (time.Time, error) {
	now := time.Now()

	sub, err := s.repo.GetActiveByUserID(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}

	if sub == nil {
		expiration := now.AddDate(0, 0, days)
		if err := s.repo.CreateActive(ctx, userID, expiration); err != nil {
			return time.Time{}, err
		}
		log.Printf("Subscription: created for user %d until %s", userID, expiration)
		return expiration, nil
	}

	base := sub.Expiration
	if base.Before(now) {
		base = now
	}
	expiration := base.AddDate(0, 0, days)

	if err := s.repo.UpdateExpiration(ctx, userID, expiration); err != nil {
		return time.Time{}, err
	}
	log.Printf("Subscription: extended for user %d until %s", userID, expiration)
	return expiration, nil
}

func (s *Service) CreateSubscription(ctx context.Context, userID int64, days int) error {
	_, err := s.ExtendSubscription(ctx, userID, days)
	return err
}

// ListActive и ListExpired отдаются планировщику как есть
func (s *Service) ListActive(ctx context.Context, now time.Time) ([]subscription.Subscription, error) {
	return s.repo.ListActive(ctx, now)
}

func (s *Service) ListExpired(ctx context.Context, now time.Time) ([]subscription.Subscription, error) {
	return s.repo.ListExpired(ctx, now)
}

func (s *Service) Deactivate(ctx context.Context, userID int64) error {
	return s.repo.Deactivate(ctx, userID)
}

// FullReset — административная очистка журнала. Единственный путь,
// физически удаляющий записи.
func (s *Service) FullReset(ctx context.Context) error {
	log.Println("Subscription: full reset requested")
	return s.repo.ClearAll(ctx)
}

// CreatePayment регистрирует ожидающий платеж и возвращает его ID
func (s *Service) CreatePayment(ctx context.Context, userID int64, amount float64, months int) (string, error) {
	p := &subscription.Payment{
		PaymentID:      fmt.Sprintf("tx_%d_%d", userID, time.Now().UnixNano()),
		UserID:         userID,
		Amount:         amount,
		DurationMonths: months,
		Status:         "pending",
	}

	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return "", err
	}
	return p.PaymentID, nil
}

// HandlePaymentWebhook обрабатывает подтверждение платежа: подтвержденный
// платеж продлевает подписку на duration_months * 30 дней
func (s *Service) HandlePaymentWebhook(ctx context.Context, paymentID, status string) error {
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("payment %s not found", paymentID)
	}
	if p.Status != "pending" {
		log.Printf("Subscription: payment %s already %s, webhook ignored", paymentID, p.Status)
		return nil
	}

	if err := s.repo.UpdatePaymentStatus(ctx, paymentID, status); err != nil {
		return err
	}

	if status != "confirmed" {
		return nil
	}

	_, err = s.ExtendSubscription(ctx, p.UserID, p.DurationMonths*30)
	return err
}
