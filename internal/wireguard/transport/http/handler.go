package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"wgkeeper/internal/wireguard/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	Provisioner *service.Provisioner
	Manager     *service.ServerManager
	validate    *validator.Validate
}

func NewWireGuardHandler(p *service.Provisioner, m *service.ServerManager) *Handler {
	return &Handler{
		Provisioner: p,
		Manager:     m,
		validate:    validator.New(),
	}
}

type provisionRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

// Provision выдает пользователю конфиг туннеля и QR-код
func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg, err := h.Provisioner.ProvisionNewClient(r.Context(), req.UserID)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, service.ErrNoServersAvailable) || errors.Is(err, service.ErrServerKeyUnavailable) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, map[string]interface{}{
		"server_id":   cfg.ServerID,
		"config_text": cfg.ConfigText,
		"qr_png":      base64.StdEncoding.EncodeToString(cfg.QRPNG),
	})
}

type extendRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
	Days   int   `json:"days" validate:"required,gt=0,lte=366"`
}

func (h *Handler) Extend(w http.ResponseWriter, r *http.Request) {
	var req extendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	expiration, err := h.Provisioner.RequestExtension(r.Context(), req.UserID, req.Days)
	if err != nil {
		http.Error(w, "failed to extend subscription", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{
		"expiration": expiration.Format(time.RFC3339),
	})
}

type removeClientRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

func (h *Handler) RemoveClient(w http.ResponseWriter, r *http.Request) {
	var req removeClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.Provisioner.RemoveClient(r.Context(), req.UserID); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ListServers отдает пул серверов; пароли не выдаются наружу
func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	servers := h.Manager.Pool().Snapshot()

	out := make([]map[string]interface{}, 0, len(servers))
	for _, s := range servers {
		out = append(out, map[string]interface{}{
			"server_id":      s.ServerID,
			"host":           s.Host,
			"api_port":       s.APIPort,
			"clients_count":  s.ClientsCount,
			"capacity_limit": s.CapacityLimit,
			"added_at":       s.AddedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, out)
}

type registerServerRequest struct {
	ServerID      string `json:"server_id" validate:"required"`
	Host          string `json:"host" validate:"required,hostname|ip"`
	APIPort       string `json:"api_port" validate:"required,numeric"`
	Password      string `json:"password" validate:"required"`
	CapacityLimit int    `json:"capacity_limit" validate:"gte=0"`
}

func (h *Handler) RegisterServer(w http.ResponseWriter, r *http.Request) {
	var req registerServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := h.Manager.RegisterServer(service.ServerDescriptor{
		ServerID:      req.ServerID,
		Host:          req.Host,
		APIPort:       req.APIPort,
		Password:      req.Password,
		CapacityLimit: req.CapacityLimit,
	})
	if err != nil {
		if errors.Is(err, service.ErrDuplicateServer) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, "failed to register server", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	w.Write([]byte("OK"))
}

// RefreshServer подтягивает кешированный счётчик клиентов к живому значению
func (h *Handler) RefreshServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")

	count, err := h.Manager.RefreshClientsCount(r.Context(), serverID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, map[string]interface{}{
		"server_id":     serverID,
		"clients_count": count,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
