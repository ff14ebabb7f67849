package http

import (
	"encoding/json"
	"net/http"

	"wgkeeper/internal/auth/service"
	"wgkeeper/pkg/hash"
)

// Handler выдает JWT боту (фронтенду) по паролю администратора
type Handler struct {
	JWT          *service.JWTManager
	passwordHash string
}

func NewHandler(jwtSecret, passwordHash string) *Handler {
	return &Handler{
		JWT:          service.NewJWTManager(jwtSecret),
		passwordHash: passwordHash,
	}
}

type loginRequest struct {
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if h.passwordHash == "" || !hash.CheckPassword(h.passwordHash, req.Password) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := h.JWT.Generate("admin")
	if err != nil {
		http.Error(w, "token error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}
