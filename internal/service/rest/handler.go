// Package rest публикует сервис справочников как REST API /api/v1.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
	"github.com/vladislavdragonenkov/jewelry/internal/service/catalog"
)

const (
	basePath           = "/api/v1"
	maxRequestBody     = 1 << 20
	defaultIdemTTL     = 24 * time.Hour
	defaultHistorySize = 50
)

// Зарезервированные параметры списка; остальные трактуются как фильтры по атрибутам.
var reservedListParams = map[string]struct{}{
	"parent_id": {},
	"page":      {},
	"limit":     {},
	"q":         {},
}

// CatalogService: операции, которые REST-слой вызывает у сервиса справочников.
type CatalogService interface {
	Create(ctx context.Context, in catalog.CreateInput) (domain.Item, error)
	Get(ctx context.Context, kind domain.Kind, id string) (domain.Item, error)
	List(ctx context.Context, filter domain.ListFilter) (domain.ItemPage, error)
	Update(ctx context.Context, in catalog.UpdateInput) (domain.Item, error)
	Delete(ctx context.Context, kind domain.Kind, id string) error
	Move(ctx context.Context, scope domain.Scope, from, to int) ([]domain.Item, error)
	Resequence(ctx context.Context, kind domain.Kind, pairs []domain.SequencePair) (int, error)
	History(ctx context.Context, scope domain.Scope, limit int) ([]domain.HistoryEvent, error)
}

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт logger обработчиков.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithIdempotency включает поддержку заголовка Idempotency-Key для POST-запросов.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(h *Handler) {
		h.idempotency = repo
		if ttl > 0 {
			h.idempotencyTTL = ttl
		}
	}
}

// WithCORSOrigins задаёт разрешённые origin для браузерного клиента.
func WithCORSOrigins(origins []string) Option {
	return func(h *Handler) {
		h.corsOrigins = origins
	}
}

// Handler обслуживает REST API справочников.
type Handler struct {
	svc            CatalogService
	idempotency    domain.IdempotencyRepository
	idempotencyTTL time.Duration
	corsOrigins    []string
	logger         *log.Entry
}

// NewHandler создаёт REST-обработчик поверх сервиса справочников.
func NewHandler(svc CatalogService, opts ...Option) *Handler {
	h := &Handler{
		svc:            svc,
		idempotencyTTL: defaultIdemTTL,
		logger:         log.WithField("component", "rest"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes возвращает http.Handler со всеми маршрутами и middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+basePath+"/{kind}", h.handleList)
	mux.HandleFunc("POST "+basePath+"/{kind}", h.withIdempotencyKey(h.handleCreate))
	mux.HandleFunc("PATCH "+basePath+"/{kind}/sequence", h.handleResequence)
	mux.HandleFunc("POST "+basePath+"/{kind}/move", h.withIdempotencyKey(h.handleMove))
	mux.HandleFunc("GET "+basePath+"/{kind}/history", h.handleHistory)
	mux.HandleFunc("GET "+basePath+"/{kind}/{id}", h.handleGet)
	mux.HandleFunc("PUT "+basePath+"/{kind}/{id}", h.handleUpdate)
	mux.HandleFunc("DELETE "+basePath+"/{kind}/{id}", h.handleDelete)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: h.corsOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete,
		},
		AllowedHeaders: []string{"Content-Type", idempotencyKeyHeader},
		ExposedHeaders: []string{idempotencyReplayedHeader},
	})

	return h.recoverPanics(h.logRequests(corsHandler.Handler(mux)))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	page, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	normalized := catalog.NormalizeFilter(filter)
	writeJSON(w, http.StatusOK, listResponse{
		Items: toItemResponses(page.Items),
		Page:  normalized.Page,
		Limit: normalized.Limit,
		Total: page.Total,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Get(r.Context(), pathKind(r), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	item, err := h.svc.Create(r.Context(), catalog.CreateInput{
		Kind:       pathKind(r),
		ParentID:   req.ParentID,
		Name:       req.Name,
		Attributes: nullAsEmpty(req.Attributes),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("%s/%s/%s", basePath, item.Kind, item.ID))
	writeJSON(w, http.StatusCreated, toItemResponse(item))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Version <= 0 {
		writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "version is required")
		return
	}

	item, err := h.svc.Update(r.Context(), catalog.UpdateInput{
		Kind:       pathKind(r),
		ID:         r.PathValue("id"),
		Name:       req.Name,
		Attributes: nullAsEmpty(req.Attributes),
		Version:    req.Version,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), pathKind(r), r.PathValue("id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResequence(w http.ResponseWriter, r *http.Request) {
	var req resequenceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	updated, err := h.svc.Resequence(r.Context(), pathKind(r), req.Items)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resequenceResponse{Updated: updated})
}

func (h *Handler) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.FromIndex == nil || req.ToIndex == nil {
		writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "from_index and to_index are required")
		return
	}

	scope := domain.Scope{Kind: pathKind(r), ParentID: req.ParentID}
	items, err := h.svc.Move(r.Context(), scope, *req.FromIndex, *req.ToIndex)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, itemsResponse{Items: toItemResponses(items)})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultHistorySize)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	scope := domain.Scope{Kind: pathKind(r), ParentID: r.URL.Query().Get("parent_id")}
	events, err := h.svc.History(r.Context(), scope, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryResponse(scope, events))
}

func parseListFilter(r *http.Request) (domain.ListFilter, error) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		return domain.ListFilter{}, err
	}
	limit, err := intParam(r, "limit", catalog.DefaultPageLimit)
	if err != nil {
		return domain.ListFilter{}, err
	}

	query := r.URL.Query()
	filter := domain.ListFilter{
		Kind:     pathKind(r),
		ParentID: query.Get("parent_id"),
		Query:    query.Get("q"),
		Page:     page,
		Limit:    limit,
	}
	for name, values := range query {
		if _, reserved := reservedListParams[name]; reserved || len(values) == 0 || values[0] == "" {
			continue
		}
		if filter.Attributes == nil {
			filter.Attributes = make(map[string]string)
		}
		filter.Attributes[name] = values[0]
	}
	return filter, nil
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return value, nil
}

func pathKind(r *http.Request) domain.Kind {
	return domain.Kind(r.PathValue("kind"))
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return fmt.Errorf("%w: request body is required", errBadRequest)
	}
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func nullAsEmpty(raw json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return trimmed
}
