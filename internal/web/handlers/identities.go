package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-registry/internal/constants"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/identity"
	"go.uber.org/zap"
)

// IdentityService is the part of identity.Service used by the HTTP API.
type IdentityService interface {
	FindMatch(ctx context.Context, data []byte) (*identity.MatchResult, error)
	Attach(ctx context.Context, data []byte, identityID string) (*identity.WriteResult, error)
	Create(ctx context.Context, data []byte) (*identity.WriteResult, error)
	Get(ctx context.Context, identityID string) (*database.StoredIdentity, error)
	FetchPhoto(ctx context.Context, locator string) ([]byte, error)
	DeletePhoto(ctx context.Context, locator string) error
}

// IdentitiesHandler serves the matching and identity endpoints.
type IdentitiesHandler struct {
	svc IdentityService
	log *zap.Logger
}

// NewIdentitiesHandler creates a new identities handler.
func NewIdentitiesHandler(svc IdentityService, log *zap.Logger) *IdentitiesHandler {
	return &IdentitiesHandler{svc: svc, log: log}
}

// MatchResponse is returned by POST /match.
type MatchResponse struct {
	Matched    bool     `json:"matched"`
	IdentityID string   `json:"identity_id,omitempty"`
	ImageURLs  []string `json:"image_urls"`
	Score      float64  `json:"score"`
	Message    string   `json:"message"`
}

// WriteResponse is returned by create and attach.
type WriteResponse struct {
	IdentityID string   `json:"identity_id"`
	ImageURL   string   `json:"image_url"`
	ImageURLs  []string `json:"image_urls"`
	Version    int64    `json:"version"`
	Message    string   `json:"message"`
}

// IdentityResponse describes a stored identity. The embedding itself is not returned.
type IdentityResponse struct {
	IdentityID   string    `json:"identity_id"`
	ImageURLs    []string  `json:"image_urls"`
	DetScore     float64   `json:"det_score,omitempty"`
	Samples      int       `json:"samples"`
	EmbeddingDim int       `json:"embedding_dim"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// readImage returns the bytes of the "image" multipart field.
func readImage(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "invalid_request", "image is too large")
			return nil, false
		}
		respondError(w, http.StatusBadRequest, "invalid_request", "failed to parse multipart form")
		return nil, false
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile(constants.UploadFormField)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "image is required")
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "failed to read image")
		return nil, false
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "image is empty")
		return nil, false
	}
	return data, true
}

// Match handles POST /match.
func (h *IdentitiesHandler) Match(w http.ResponseWriter, r *http.Request) {
	data, ok := readImage(w, r)
	if !ok {
		return
	}

	res, err := h.svc.FindMatch(r.Context(), data)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, MatchResponse{
		Matched:    res.Matched,
		IdentityID: res.IdentityID,
		ImageURLs:  res.ImageURLs,
		Score:      res.Score,
		Message:    res.Message,
	})
}

// Create handles POST /identities.
func (h *IdentitiesHandler) Create(w http.ResponseWriter, r *http.Request) {
	data, ok := readImage(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Create(r.Context(), data)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, toWriteResponse(res))
}

// Attach handles POST /identities/{id}/photos.
func (h *IdentitiesHandler) Attach(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, ok := readImage(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Attach(r.Context(), data, id)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toWriteResponse(res))
}

// Get handles GET /identities/{id}.
func (h *IdentitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.svc.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}

	urls := rec.Metadata.ImageURLs
	if urls == nil {
		urls = []string{}
	}
	respondJSON(w, http.StatusOK, IdentityResponse{
		IdentityID:   rec.ID,
		ImageURLs:    urls,
		DetScore:     rec.Metadata.DetScore,
		Samples:      rec.Metadata.Samples,
		EmbeddingDim: len(rec.Embedding),
		Version:      rec.Version,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	})
}

func toWriteResponse(res *identity.WriteResult) WriteResponse {
	return WriteResponse{
		IdentityID: res.IdentityID,
		ImageURL:   res.ImageURL,
		ImageURLs:  res.ImageURLs,
		Version:    res.Version,
		Message:    res.Message,
	}
}
