package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"dialogd/pkg/llm"
	"dialogd/pkg/models"
	"dialogd/pkg/prompt"
	"dialogd/pkg/store"
	"dialogd/pkg/utils"
)

// Deps carries the injected collaborators; handlers hold no process-wide
// state of their own.
type Deps struct {
	Store   *store.Store
	Gen     llm.Generator
	Tmpl    prompt.Template
	Counter prompt.TokenCounter

	// ContextSize is the number of visible messages fed to the prompt
	// assembler; MaxTokens the prompt budget.
	ContextSize int
	MaxTokens   int
}

type handlers struct {
	d Deps
}

// Register mounts all v1 routes on the provided router.
func Register(r *mux.Router, d Deps) {
	if d.Counter == nil {
		d.Counter = prompt.TokenCounterFunc(prompt.Estimate)
	}
	h := &handlers{d: d}

	r.HandleFunc("/v1/users", h.createUser).Methods(http.MethodPost)
	r.HandleFunc("/v1/users", h.findOrCreateUser).Methods(http.MethodPut)
	r.HandleFunc("/v1/users", h.listUsers).Methods(http.MethodGet)
	r.HandleFunc("/v1/users/{id}", h.getUser).Methods(http.MethodGet)
	r.HandleFunc("/v1/users/{id}", h.deleteUser).Methods(http.MethodDelete)

	r.HandleFunc("/v1/users/{id}/context", h.getContext).Methods(http.MethodGet)
	r.HandleFunc("/v1/users/{id}/context", h.clearHistory).Methods(http.MethodDelete)
	r.HandleFunc("/v1/users/{id}/context/generate", h.generate).Methods(http.MethodPost, http.MethodPatch)

	r.HandleFunc("/v1/users/{id}/context/custom_answer", h.resolveCustom).Methods(http.MethodPost)
	r.HandleFunc("/v1/users/{id}/context/{answerID}/candidate_ids", h.setCandidateIDs).Methods(http.MethodPost)
	r.HandleFunc("/v1/users/{id}/context/{answerID}/choice", h.resolveChoice).Methods(http.MethodPost)
}

// writeErr maps domain errors onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrAlreadyExists):
		utils.JSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrInvalidChoice), errors.Is(err, models.ErrNotCandidate):
		utils.JSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrAlreadyResolved):
		utils.JSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, prompt.ErrBudgetExceeded):
		utils.JSONError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, llm.ErrUnavailable):
		utils.JSONError(w, http.StatusBadGateway, err.Error())
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
	}
}
