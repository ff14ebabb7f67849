package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wgkeeper/internal/subscription"
)

type fakeRepo struct {
	subs     map[int64]*subscription.Subscription
	payments map[string]*subscription.Payment

	created []int64
	updated []int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		subs:     make(map[int64]*subscription.Subscription),
		payments: make(map[string]*subscription.Payment),
	}
}

func (f *fakeRepo) GetActiveByUserID(_ context.Context, userID int64) (*subscription.Subscription, error) {
	return f.subs[userID], nil
}

func (f *fakeRepo) ListActive(_ context.Context, _ time.Time) ([]subscription.Subscription, error) {
	return nil, nil
}

func (f *fakeRepo) ListExpired(_ context.Context, _ time.Time) ([]subscription.Subscription, error) {
	return nil, nil
}

func (f *fakeRepo) Deactivate(_ context.Context, userID int64) error {
	delete(f.subs, userID)
	return nil
}

func (f *fakeRepo) UpdateExpiration(_ context.Context, userID int64, expiration time.Time) error {
	f.updated = append(f.updated, userID)
	f.subs[userID].Expiration = expiration
	return nil
}

func (f *fakeRepo) CreateActive(_ context.Context, userID int64, expiration time.Time) error {
	f.created = append(f.created, userID)
	f.subs[userID] = &subscription.Subscription{UserID: userID, Expiration: expiration, Active: true}
	return nil
}

func (f *fakeRepo) CreatePayment(_ context.Context, p *subscription.Payment) error {
	f.payments[p.PaymentID] = p
	return nil
}

func (f *fakeRepo) GetPayment(_ context.Context, paymentID string) (*subscription.Payment, error) {
	return f.payments[paymentID], nil
}

func (f *fakeRepo) UpdatePaymentStatus(_ context.Context, paymentID, status string) error {
	f.payments[paymentID].Status = status
	return nil
}

func (f *fakeRepo) ClearAll(_ context.Context) error {
	f.subs = make(map[int64]*subscription.Subscription)
	f.payments = make(map[string]*subscription.Payment)
	return nil
}

func TestExtendWithoutSubscriptionCreatesOne(t *testing.T) {
	repo := newFakeRepo()
	s := NewService(repo)

	before := time.Now().AddDate(0, 0, 30)
	exp, err := s.ExtendSubscription(context.Background(), 100, 30)
	after := time.Now().AddDate(0, 0, 30)

	require.NoError(t, err)
	assert.Equal(t, []int64{100}, repo.created)
	assert.False(t, exp.Before(before))
	assert.False(t, exp.After(after))
}

func TestExtendActiveSubscriptionAddsToExpiration(t *testing.T) {
	repo := newFakeRepo()
	current := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	repo.subs[100] = &subscription.Subscription{UserID: 100, Expiration: current, Active: true}
	s := NewService(repo)

	exp, err := s.ExtendSubscription(context.Background(), 100, 30)

	require.NoError(t, err)
	assert.Equal(t, current.AddDate(0, 0, 30), exp, "extension stacks on remaining time")
	assert.Equal(t, []int64{100}, repo.updated)
	assert.Empty(t, repo.created)
}

func TestExtendLapsedSubscriptionCountsFromNow(t *testing.T) {
	repo := newFakeRepo()
	repo.subs[100] = &subscription.Subscription{
		UserID:     100,
		Expiration: time.Now().Add(-72 * time.Hour),
		Active:     true,
	}
	s := NewService(repo)

	before := time.Now().AddDate(0, 0, 30)
	exp, err := s.ExtendSubscription(context.Background(), 100, 30)
	after := time.Now().AddDate(0, 0, 30)

	require.NoError(t, err)
	// прошедшие дни не переносятся в новый период
	assert.False(t, exp.Before(before))
	assert.False(t, exp.After(after))
}

func TestIsUserSubscribed(t *testing.T) {
	repo := newFakeRepo()
	repo.subs[100] = &subscription.Subscription{
		UserID:     100,
		Expiration: time.Now().Add(time.Hour),
		Active:     true,
	}
	repo.subs[200] = &subscription.Subscription{
		UserID:     200,
		Expiration: time.Now().Add(-time.Hour),
		Active:     true,
	}
	s := NewService(repo)

	ok, err := s.IsUserSubscribed(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsUserSubscribed(context.Background(), 200)
	require.NoError(t, err)
	assert.False(t, ok, "expired but not yet swept is not subscribed")

	ok, err = s.IsUserSubscribed(context.Background(), 300)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWebhookConfirmedExtendsByMonths(t *testing.T) {
	repo := newFakeRepo()
	s := NewService(repo)

	id, err := s.CreatePayment(context.Background(), 100, 5.0, 2)
	require.NoError(t, err)

	require.NoError(t, s.HandlePaymentWebhook(context.Background(), id, "confirmed"))

	sub := repo.subs[100]
	require.NotNil(t, sub)
	want := time.Now().AddDate(0, 0, 60)
	assert.WithinDuration(t, want, sub.Expiration, time.Minute)
	assert.Equal(t, "confirmed", repo.payments[id].Status)
}

func TestWebhookIgnoresNonPendingPayment(t *testing.T) {
	repo := newFakeRepo()
	s := NewService(repo)

	id, err := s.CreatePayment(context.Background(), 100, 5.0, 1)
	require.NoError(t, err)

	require.NoError(t, s.HandlePaymentWebhook(context.Background(), id, "confirmed"))
	first := repo.subs[100].Expiration

	// повторная доставка того же webhook не продлевает второй раз
	require.NoError(t, s.HandlePaymentWebhook(context.Background(), id, "confirmed"))
	assert.Equal(t, first, repo.subs[100].Expiration)
}

func TestWebhookFailedPaymentDoesNotExtend(t *testing.T) {
	repo := newFakeRepo()
	s := NewService(repo)

	id, err := s.CreatePayment(context.Background(), 100, 5.0, 1)
	require.NoError(t, err)

	require.NoError(t, s.HandlePaymentWebhook(context.Background(), id, "failed"))

	assert.Nil(t, repo.subs[100])
	assert.Equal(t, "failed", repo.payments[id].Status)
}

func TestWebhookUnknownPayment(t *testing.T) {
	s := NewService(newFakeRepo())

	err := s.HandlePaymentWebhook(context.Background(), "tx_missing", "confirmed")
	assert.Error(t, err)
}

func TestFullResetClearsLedger(t *testing.T) {
	repo := newFakeRepo()
	s := NewService(repo)

	_, err := s.ExtendSubscription(context.Background(), 100, 30)
	require.NoError(t, err)

	require.NoError(t, s.FullReset(context.Background()))
	assert.Empty(t, repo.subs)
}
