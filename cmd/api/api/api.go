package api

import (
	"encoding/json"
	"net/http"

	"github.com/onkernel/kimd/cmd/api/config"
	"github.com/onkernel/kimd/lib/images"
)

// ApiService serves the image manager to the UI over HTTP
type ApiService struct {
	Config       *config.Config
	ImageManager images.Manager
}

// New creates a new ApiService
func New(
	config *config.Config,
	imageManager images.Manager,
) *ApiService {
	return &ApiService{
		Config:       config,
		ImageManager: imageManager,
	}
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
