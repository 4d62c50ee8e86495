package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/onkernel/kimd/lib/images"
	"github.com/onkernel/kimd/lib/logger"
	mw "github.com/onkernel/kimd/lib/middleware"
	"github.com/onkernel/kimd/lib/process"
)

// BuildRequest is the body of POST /images/build
type BuildRequest struct {
	ContextDir string `json:"context_dir"`
	// Dockerfile defaults to "Dockerfile", relative to ContextDir
	Dockerfile string `json:"dockerfile,omitempty"`
	Tag        string `json:"tag"`
}

// NameRequest is the body of POST /images/pull and /images/push
type NameRequest struct {
	Name string `json:"name"`
}

// CommandFailure is returned when kim ran but did not succeed
type CommandFailure struct {
	ErrorResponse
	ExitCode int    `json:"exit_code"`
	Signal   string `json:"signal,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// ListImages returns the cached image listing
func (s *ApiService) ListImages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ImageManager.ListImages())
}

// GetReadiness reports whether kim is ready along with the refresh state
func (s *ApiService) GetReadiness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ImageManager.Status())
}

// BuildImage builds an image from a local context directory
func (s *ApiService) BuildImage(w http.ResponseWriter, r *http.Request) {
	var req BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.ContextDir == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "context_dir is required")
		return
	}
	if req.Dockerfile == "" {
		req.Dockerfile = "Dockerfile"
	}
	if _, err := images.ParseNormalizedRef(req.Tag); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_name", err.Error())
		return
	}

	res, err := s.ImageManager.BuildImage(r.Context(), req.ContextDir, req.Dockerfile, req.Tag)
	s.writeCommandResult(w, r, res, err)
}

// PullImage pulls an image from its registry
func (s *ApiService) PullImage(w http.ResponseWriter, r *http.Request) {
	name, ok := decodeName(w, r)
	if !ok {
		return
	}
	res, err := s.ImageManager.PullImage(r.Context(), name)
	s.writeCommandResult(w, r, res, err)
}

// PushImage pushes an image to its registry
func (s *ApiService) PushImage(w http.ResponseWriter, r *http.Request) {
	name, ok := decodeName(w, r)
	if !ok {
		return
	}
	res, err := s.ImageManager.PushImage(r.Context(), name)
	s.writeCommandResult(w, r, res, err)
}

// DeleteImage removes an image by ID
func (s *ApiService) DeleteImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := images.ValidateImageID(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_name", err.Error())
		return
	}
	res, err := s.ImageManager.DeleteImage(r.Context(), id)
	s.writeCommandResult(w, r, res, err)
}

// RefreshImages requests a listing refresh
func (s *ApiService) RefreshImages(w http.ResponseWriter, r *http.Request) {
	s.ImageManager.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

// StartWatching starts polling kim
func (s *ApiService) StartWatching(w http.ResponseWriter, r *http.Request) {
	s.ImageManager.Start()
	logger.FromContext(r.Context()).InfoContext(r.Context(), "image polling started", "subject", mw.SubjectFromContext(r.Context()))
	writeJSON(w, http.StatusAccepted, s.ImageManager.Status())
}

// StopWatching stops polling kim
func (s *ApiService) StopWatching(w http.ResponseWriter, r *http.Request) {
	s.ImageManager.Stop()
	logger.FromContext(r.Context()).InfoContext(r.Context(), "image polling stopped", "subject", mw.SubjectFromContext(r.Context()))
	writeJSON(w, http.StatusAccepted, s.ImageManager.Status())
}

func decodeName(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req NameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return "", false
	}
	if _, err := images.ParseNormalizedRef(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_name", err.Error())
		return "", false
	}
	return req.Name, true
}

func (s *ApiService) writeCommandResult(w http.ResponseWriter, r *http.Request, res *process.Result, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, res)
		return
	}

	log := logger.FromContext(r.Context())

	var exitErr *process.ExitError
	var spawnErr *process.SpawnError
	switch {
	case errors.As(err, &exitErr):
		writeJSON(w, http.StatusBadGateway, CommandFailure{
			ErrorResponse: ErrorResponse{Code: "command_failed", Message: exitErr.Error()},
			ExitCode:      exitErr.ExitCode,
			Signal:        exitErr.Signal,
			TimedOut:      exitErr.TimedOut,
			Stdout:        exitErr.Stdout,
			Stderr:        exitErr.Stderr,
		})
	case errors.As(err, &spawnErr):
		log.ErrorContext(r.Context(), "kim could not be started", "error", err)
		writeError(w, http.StatusServiceUnavailable, "kim_unavailable", err.Error())
	default:
		log.ErrorContext(r.Context(), "kim command failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
