package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"dialogd/pkg/logger"
	"dialogd/pkg/models"
	"dialogd/pkg/store"
	"dialogd/pkg/utils"
	"dialogd/pkg/validation"
)

type createUserRequest struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// createUser handles POST /v1/users. Duplicate ids answer 409 so callers
// can distinguish first contact from a retry.
func (h *handlers) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateUserID(req.UserID); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.d.Store.CreateUser(req.UserID, req.Username, req.ChannelID); err != nil {
		writeErr(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusCreated, map[string]string{"user_id": req.UserID})
}

// findOrCreateUser handles PUT /v1/users: idempotent registration. An
// existing user comes back unchanged, username included.
func (h *handlers) findOrCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateUserID(req.UserID); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := h.d.Store.FindOrCreateUser(req.UserID, req.Username)
	if err != nil {
		writeErr(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, u)
}

// listUsers handles GET /v1/users and returns a full snapshot. A channel
// query parameter narrows the lookup to the channel-addressed user.
func (h *handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	if ch := r.URL.Query().Get("channel"); ch != "" {
		u, err := h.d.Store.GetUserByChannel(ch)
		if err != nil {
			writeErr(w, err)
			return
		}
		utils.JSONWrite(w, http.StatusOK, struct {
			Users []models.User `json:"users"`
		}{Users: []models.User{*u}})
		return
	}
	users, err := h.d.Store.GetAllUsers()
	if err != nil {
		writeErr(w, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	utils.JSONWrite(w, http.StatusOK, struct {
		Users []models.User `json:"users"`
	}{Users: users})
}

// getUser handles GET /v1/users/{id}. When the path id misses, the
// channel index is consulted so callers holding only a chat handle can
// still address the user.
func (h *handlers) getUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	u, err := h.d.Store.GetUser(id)
	if errors.Is(err, store.ErrNotFound) {
		u, err = h.d.Store.GetUserByChannel(id)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, u)
}

// deleteUser handles DELETE /v1/users/{id}; removing an absent user is a
// no-op by design.
func (h *handlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.d.Store.RemoveUser(id); err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("user_delete_requested", "user", id)
	utils.JSONWrite(w, http.StatusOK, map[string]string{"user_id": id})
}

// getContext handles GET /v1/users/{id}/context?limit=N.
func (h *handlers) getContext(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit := h.d.ContextSize
	if ls := r.URL.Query().Get("limit"); ls != "" {
		n, err := strconv.Atoi(ls)
		if err != nil || n <= 0 {
			utils.JSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	sys, window, err := h.d.Store.GetContext(id, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, struct {
		SystemPrompt models.Message   `json:"system_prompt"`
		Messages     []models.Message `json:"messages"`
	}{SystemPrompt: sys, Messages: window})
}

// clearHistory handles DELETE /v1/users/{id}/context (soft truncation).
func (h *handlers) clearHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.d.Store.ClearHistory(id); err != nil {
		writeErr(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "history_cleared"})
}
