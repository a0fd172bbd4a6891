package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-registry/internal/identity"
	"go.uber.org/zap"
)

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, kind, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}

// statusForKind maps an identity error kind to its HTTP status.
func statusForKind(kind identity.Kind) int {
	switch kind {
	case identity.KindInvalidImage:
		return http.StatusBadRequest
	case identity.KindNotFound:
		return http.StatusNotFound
	case identity.KindNoFaceDetected:
		return http.StatusUnprocessableEntity
	case identity.KindUploadFailed, identity.KindIndexReadFailed, identity.KindIndexWriteFailed,
		identity.KindEmbeddingFailed, identity.KindDownloadFailed, identity.KindDeleteFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError writes err as an error response. Only the user-facing
// message is sent; the cause goes to the log.
func respondServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	var ie *identity.Error
	if !errors.As(err, &ie) {
		log.Error("unexpected service error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	status := statusForKind(ie.Kind)
	if status >= http.StatusInternalServerError {
		log.Error("identity operation failed",
			zap.String("kind", string(ie.Kind)),
			zap.String("identity_id", ie.IdentityID),
			zap.Error(ie.Err),
		)
	}
	respondError(w, status, string(ie.Kind), ie.Message)
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
