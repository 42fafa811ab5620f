package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
	"github.com/vladislavdragonenkov/jewelry/internal/ordering"
)

// Коды ошибок в теле ответа.
const (
	codeInvalidRequest      = "invalid_request"
	codeInvalidIndex        = "invalid_index"
	codeInvalidSequence     = "invalid_sequence"
	codeValidation          = "validation_failed"
	codeUnknownKind         = "unknown_kind"
	codeNotFound            = "not_found"
	codeVersionConflict     = "version_conflict"
	codeSequenceConflict    = "sequence_conflict"
	codeHasChildren         = "has_children"
	codeIdempotencyConflict = "idempotency_conflict"
	codeRequestInProgress   = "request_in_progress"
	codeInternal            = "internal"
)

// errBadRequest помечает ошибки разбора запроса.
var errBadRequest = errors.New("bad request")

// errorStatus сопоставляет доменную ошибку HTTP-статусу и коду ответа.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, codeInvalidRequest
	case errors.Is(err, ordering.ErrInvalidIndex):
		return http.StatusBadRequest, codeInvalidIndex
	case domain.IsInvalidSequence(err):
		return http.StatusUnprocessableEntity, codeInvalidSequence
	case errors.Is(err, domain.ErrKindUnsupported):
		return http.StatusNotFound, codeUnknownKind
	case errors.Is(err, domain.ErrNameRequired),
		errors.Is(err, domain.ErrParentRequired),
		errors.Is(err, domain.ErrParentNotAllowed),
		errors.Is(err, domain.ErrParentNotFound),
		errors.Is(err, domain.ErrAttributesInvalid),
		errors.Is(err, domain.ErrSequenceItemsRequired),
		errors.Is(err, domain.ErrKindMismatch):
		return http.StatusUnprocessableEntity, codeValidation
	case domain.IsNotFound(err):
		return http.StatusNotFound, codeNotFound
	case domain.IsVersionConflict(err):
		return http.StatusConflict, codeVersionConflict
	case errors.Is(err, domain.ErrSequenceConflict):
		return http.StatusConflict, codeSequenceConflict
	case errors.Is(err, domain.ErrHasChildren):
		return http.StatusConflict, codeHasChildren
	case domain.IsIdempotencyConflict(err):
		return http.StatusConflict, codeIdempotencyConflict
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func writeError(w http.ResponseWriter, logger *log.Entry, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}
