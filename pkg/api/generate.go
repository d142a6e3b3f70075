package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"dialogd/pkg/logger"
	"dialogd/pkg/models"
	"dialogd/pkg/prompt"
	"dialogd/pkg/utils"
	"dialogd/pkg/validation"
)

type generateRequest struct {
	Text string `json:"text"`
}

type generateResponse struct {
	AnswerID   string   `json:"answer_id"`
	Candidates []string `json:"candidates"`
}

// generate handles POST /v1/users/{id}/context/generate: renders the
// visible window plus the new user message within the token budget, calls
// the generation backend and appends the user/answer pair atomically.
// A backend failure persists nothing; a retry simply generates a fresh
// answer appended after any previously stored user message.
func (h *handlers) generate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateText(req.Text); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	sys, window, err := h.d.Store.GetContext(id, h.d.ContextSize)
	if err != nil {
		writeErr(w, err)
		return
	}
	userMsg := models.NewUserMessage(utils.GenMessageID(), req.Text)
	text, err := prompt.RenderForGeneration(h.d.Tmpl, sys, append(window, userMsg), h.d.MaxTokens, h.d.Counter)
	if err != nil {
		writeErr(w, err)
		return
	}
	logger.Debug("generation_prompt", "user", id, "prompt", text)

	candidates, err := h.d.Gen.Generate(r.Context(), text)
	if err != nil {
		writeErr(w, err)
		return
	}
	answer := models.NewCandidateAnswer(utils.GenMessageID(), candidates)
	if err := h.d.Store.AppendExchange(id, []models.Message{userMsg, answer}); err != nil {
		writeErr(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, generateResponse{AnswerID: answer.ID, Candidates: candidates})
}

type setCandidateIDsRequest struct {
	CandidateIDs []string `json:"candidate_ids"`
}

// setCandidateIDs handles POST .../context/{answerID}/candidate_ids.
func (h *handlers) setCandidateIDs(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req setCandidateIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateCandidateIDs(req.CandidateIDs); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.d.Store.SetCandidateIDs(vars["id"], vars["answerID"], req.CandidateIDs); err != nil {
		writeErr(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string][]string{"candidate_ids": req.CandidateIDs})
}

type choiceRequest struct {
	ChosenID string `json:"chosen_id"`
}

// resolveChoice handles POST .../context/{answerID}/choice and returns
// the canonicalized text.
func (h *handlers) resolveChoice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req choiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ChosenID == "" {
		utils.JSONError(w, http.StatusBadRequest, "chosen_id is required")
		return
	}
	text, err := h.d.Store.ResolveByChoice(vars["id"], vars["answerID"], req.ChosenID)
	if err != nil {
		writeErr(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]string{"text": text})
}

type customAnswerRequest struct {
	// MessageID addresses the answer by message id or by a registered
	// candidate-id marker; different callers know different identifiers.
	MessageID  string `json:"message_id"`
	CustomText string `json:"custom_text"`
}

// resolveCustom handles POST .../context/custom_answer.
func (h *handlers) resolveCustom(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req customAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.MessageID == "" {
		utils.JSONError(w, http.StatusBadRequest, "message_id is required")
		return
	}
	if err := validation.ValidateText(req.CustomText); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.d.Store.ResolveByCustom(id, req.MessageID, req.CustomText); err != nil {
		writeErr(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]string{"text": req.CustomText})
}
