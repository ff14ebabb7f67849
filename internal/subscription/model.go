package subscription

import "time"

type Subscription struct {
	ID         int64
	UserID     int64
	Expiration time.Time
	CreatedAt  time.Time
	Active     bool
}

type Payment struct {
	PaymentID      string
	UserID         int64
	Amount         float64
	DurationMonths int
	Status         string // "pending", "confirmed", "rejected"
	CreatedAt      time.Time
}
