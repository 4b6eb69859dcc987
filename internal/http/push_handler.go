package api

import (
	"encoding/json"
	"net/http"

	"postboard/internal/domain/push"
	"postboard/internal/platform/apperr"
)

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

type notifyRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// @Summary     VAPID public key
// @Tags        push
// @Produce     json
// @Success     200  {object}  map[string]string
// @Failure     503  {object}  map[string]any  "push disabled"
// @Router      /api/v1/push/key [get]
func (h *Handler) handlePushKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.push.PublicKey()
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": key})
}

// @Summary     Subscribe to push notifications
// @Tags        push
// @Accept      json
// @Param       request  body  push.Subscription  true  "Browser PushSubscription"
// @Success     201
// @Failure     400      {object}  map[string]any  "invalid subscription"
// @Router      /api/v1/push/subscribe [post]
func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var sub push.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		errorResponse(w, apperr.BadRequest("invalid_input", "invalid body", err))
		return
	}
	if err := h.push.Subscribe(r.Context(), sub); err != nil {
		errorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// @Summary     Unsubscribe from push notifications
// @Tags        push
// @Accept      json
// @Param       request  body  unsubscribeRequest  true  "Endpoint to remove"
// @Success     204
// @Failure     400      {object}  map[string]any  "invalid body"
// @Router      /api/v1/push/unsubscribe [post]
func (h *Handler) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, apperr.BadRequest("invalid_input", "invalid body", err))
		return
	}
	if err := h.push.Unsubscribe(r.Context(), req.Endpoint); err != nil {
		errorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary     Broadcast a custom notification
// @Tags        admin
// @Security    BearerAuth
// @Accept      json
// @Produce     json
// @Param       request  body      notifyRequest  true  "Notification"
// @Success     200      {object}  push.Report
// @Failure     400      {object}  map[string]any  "invalid body"
// @Failure     401      {object}  map[string]any  "unauthorized"
// @Failure     503      {object}  map[string]any  "push disabled"
// @Router      /api/v1/admin/notify [post]
func (h *Handler) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		errorResponse(w, apperr.BadRequest("invalid_input", "title is required", err))
		return
	}

	report, err := h.push.Broadcast(r.Context(), push.Message{Title: req.Title, Body: req.Body, URL: req.URL, Type: "custom"})
	if err != nil && report == (push.Report{}) {
		errorResponse(w, err)
		return
	}
	if err != nil {
		slogLogger.Warn("broadcast partially failed", "error", err)
	}
	writeJSON(w, http.StatusOK, report)
}
