package httpapi

import (
	"encoding/json"
	"net/http"

	"opowatch-engine/internal/secrets"
)

type SecretsHandler struct {
	AdminToken func() string
}

type setAdminTokenReq struct {
	Token string `json:"token"`
}

// SetAdminToken stores the admin token in the OS keychain. Once set, the
// caller must already hold the current token to rotate it.
func (h SecretsHandler) SetAdminToken(w http.ResponseWriter, r *http.Request) {
	if !requireToken(w, r, h.AdminToken) {
		return
	}

	var req setAdminTokenReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if err := secrets.SetAdminToken(req.Token); err != nil {
		http.Error(w, "failed to store token: "+err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
