package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"campaign/internal/domain"
	"campaign/internal/infra"
)

// JobService is the lifecycle surface the handlers need.
type JobService interface {
	CreateJob(ctx context.Context, requesterID, prompt string) (*domain.Job, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
}

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type App struct {
	Jobs   JobService
	Logger infra.Logger
	// Checks run on every health request, keyed by dependency name.
	Checks map[string]Check
}

func NewApp(jobs JobService, logger infra.Logger) *App {
	return &App{Jobs: jobs, Logger: logger, Checks: map[string]Check{}}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, errorResponse{Error: errCode, Message: msg})
}
