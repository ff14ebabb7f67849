package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"wgkeeper/internal/subscription/service"

	"github.com/go-playground/validator/v10"
)

type Handler struct {
	SubscriptionService *service.Service
	validate            *validator.Validate
}

func NewSubscriptionHandler(ss *service.Service) *Handler {
	return &Handler{
		SubscriptionService: ss,
		validate:            validator.New(),
	}
}

type createPaymentRequest struct {
	UserID int64   `json:"user_id" validate:"required,gt=0"`
	Amount float64 `json:"amount" validate:"required,gt=0"`
	Months int     `json:"months" validate:"required,gt=0,lte=12"`
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	paymentID, err := h.SubscriptionService.CreatePayment(r.Context(), req.UserID, req.Amount, req.Months)
	if err != nil {
		http.Error(w, "failed to create payment", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{
		"payment_id": paymentID,
		"message":    "Payment created. Wait for confirmation.",
	})
}

type webhookRequest struct {
	PaymentID string `json:"payment_id" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=confirmed rejected"`
}

func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.SubscriptionService.HandlePaymentWebhook(r.Context(), req.PaymentID, req.Status); err != nil {
		http.Error(w, "failed to process payment", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}

	sub, err := h.SubscriptionService.GetSubscription(r.Context(), userID)
	if err != nil {
		http.Error(w, "failed to get subscription", http.StatusInternalServerError)
		return
	}
	if sub == nil {
		http.Error(w, "no active subscription", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]interface{}{
		"id":         sub.ID,
		"user_id":    sub.UserID,
		"expiration": sub.Expiration.Format(time.RFC3339),
		"active":     sub.Active,
	})
}

// FullReset — административная очистка журнала подписок
func (h *Handler) FullReset(w http.ResponseWriter, r *http.Request) {
	if err := h.SubscriptionService.FullReset(r.Context()); err != nil {
		http.Error(w, "failed to reset", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
