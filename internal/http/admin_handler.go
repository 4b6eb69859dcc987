package api

import (
	"encoding/json"
	"net/http"

	"postboard/internal/domain/admin"
	"postboard/internal/platform/apperr"
)

type loginRequest struct {
	Password string `json:"password"`
}

// @Summary     Administrator login
// @Tags        admin
// @Accept      json
// @Produce     json
// @Param       request  body      loginRequest  true  "Administrator password"
// @Success     200      {object}  map[string]any
// @Failure     400      {object}  map[string]any  "invalid body"
// @Failure     401      {object}  map[string]any  "invalid credentials"
// @Router      /api/v1/admin/login [post]
func (h *Handler) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, apperr.BadRequest("invalid_input", "invalid body", err))
		return
	}

	token, err := h.admin.Login(req.Password)
	if err != nil {
		errorResponse(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"expiresIn": int(admin.TokenTTL.Seconds()),
	})
}
