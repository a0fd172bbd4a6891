package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// PhotosHandler serves stored photos by locator.
type PhotosHandler struct {
	svc IdentityService
	log *zap.Logger
}

// NewPhotosHandler creates a new photos handler.
func NewPhotosHandler(svc IdentityService, log *zap.Logger) *PhotosHandler {
	return &PhotosHandler{svc: svc, log: log}
}

func locatorParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	locator := r.URL.Query().Get("url")
	if locator == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "url is required")
		return "", false
	}
	return locator, true
}

// Get handles GET /photos?url=.
func (h *PhotosHandler) Get(w http.ResponseWriter, r *http.Request) {
	locator, ok := locatorParam(w, r)
	if !ok {
		return
	}

	data, err := h.svc.FetchPhoto(r.Context(), locator)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Delete handles DELETE /photos?url=.
func (h *PhotosHandler) Delete(w http.ResponseWriter, r *http.Request) {
	locator, ok := locatorParam(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeletePhoto(r.Context(), locator); err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	h.log.Info("photo deleted via API", zap.String("url", sanitizeForLog(locator)))
	w.WriteHeader(http.StatusNoContent)
}
