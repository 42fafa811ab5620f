package rest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
)

const (
	idempotencyKeyHeader      = "Idempotency-Key"
	idempotencyReplayedHeader = "Idempotent-Replayed"
)

// statusRecorder запоминает код ответа и, при необходимости, тело.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	capture bool
	body    bytes.Buffer
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	if r.capture {
		r.body.Write(p)
	}
	return r.ResponseWriter.Write(p)
}

func (r *statusRecorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		entry := h.logger.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.statusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if rec.statusCode() >= http.StatusInternalServerError {
			entry.Warn("http request")
			return
		}
		entry.Debug("http request")
	})
}

func (h *Handler) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.logger.WithFields(log.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"panic":  rec,
				}).Error("panic in http handler")
				writeErrorCode(w, http.StatusInternalServerError, codeInternal, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withIdempotencyKey сохраняет ответ POST-запроса по Idempotency-Key и повторяет его
// для ретраев с тем же телом. Без заголовка запрос обрабатывается как обычно.
func (h *Handler) withIdempotencyKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
		if h.idempotency == nil || key == "" {
			next(w, r)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err != nil {
			writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		ctx := r.Context()
		entry := h.logger.WithField("idempotency_key", key)
		record, err := h.idempotency.CreateProcessing(ctx, key, requestHash(r, body), time.Now().UTC().Add(h.idempotencyTTL))
		if err != nil {
			h.replay(w, entry, record, err)
			return
		}

		// Запись завершается и после обрыва соединения: мутация к этому моменту уже выполнена.
		finishCtx := context.WithoutCancel(ctx)
		rec := &statusRecorder{ResponseWriter: w, capture: true}
		completed := false
		defer func() {
			if completed {
				return
			}
			// next паникует; ключ освобождается для повтора, ответ пишет recoverPanics.
			if err := h.idempotency.MarkFailed(finishCtx, key, nil, http.StatusInternalServerError); err != nil {
				entry.WithError(err).Warn("failed to release idempotency key after panic")
			}
		}()
		next(rec, r)
		completed = true

		status := rec.statusCode()
		if status >= 200 && status < 300 {
			err = h.idempotency.MarkDone(finishCtx, key, rec.body.Bytes(), status)
		} else {
			err = h.idempotency.MarkFailed(finishCtx, key, rec.body.Bytes(), status)
		}
		if err != nil {
			entry.WithError(err).Warn("failed to store idempotent response")
		}
	}
}

func (h *Handler) replay(w http.ResponseWriter, entry *log.Entry, record domain.IdempotencyRecord, createErr error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeErrorCode(w, http.StatusConflict, codeIdempotencyConflict,
			"idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Replayable() {
			w.Header().Set(idempotencyReplayedHeader, "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(record.HTTPStatus)
			_, _ = w.Write(record.ResponseBody)
			return
		}
		writeErrorCode(w, http.StatusConflict, codeRequestInProgress,
			"request with the same idempotency key is already processing")
	default:
		entry.WithError(createErr).Warn("failed to create idempotency record")
		writeErrorCode(w, http.StatusInternalServerError, codeInternal, "failed to initialize idempotency request")
	}
}

// requestHash связывает ключ с конкретным запросом: метод, путь и тело.
func requestHash(r *http.Request, body []byte) string {
	sum := sha256.New()
	_, _ = fmt.Fprintf(sum, "%s %s:", r.Method, r.URL.Path)
	_, _ = sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}
