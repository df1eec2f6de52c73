package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"campaign/internal/domain"
	"campaign/internal/middleware"
)

const maxCreateBody = 64 << 10

type createJobRequest struct {
	RequesterID string `json:"requesterId"`
	Prompt      string `json:"prompt"`
}

// CreateJob accepts a prompt and answers 202 with the stored job. A job whose
// request never reached the broker comes back FAILED, not as an error.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBody)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	job, err := a.Jobs.CreateJob(r.Context(), req.RequesterID, req.Prompt)
	if err != nil {
		a.jobError(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, job)
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := a.Jobs.GetJob(r.Context(), id)
	if err != nil {
		a.jobError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

func (a *App) jobError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrInvalidPrompt), errors.Is(err, domain.ErrInvalidRequester):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		a.Logger.Error().Err(err).Str("request_id", middleware.RequestIDFromContext(r.Context())).Msg("jobs: store unavailable")
		a.error(w, http.StatusServiceUnavailable, "unavailable", "job store unavailable")
	default:
		a.Logger.Error().Err(err).Str("request_id", middleware.RequestIDFromContext(r.Context())).Msg("jobs: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to process job")
	}
}
