// Package syncclient: клиент REST API справочников и доска (Board) с оптимистичной
// перестановкой элементов и синхронизацией с сервером.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
	"github.com/vladislavdragonenkov/jewelry/internal/ordering"
)

const (
	apiPrefix          = "/api/v1"
	defaultHTTPTimeout = 10 * time.Second
	// MaxPageLimit: наибольший размер страницы, который принимает сервер.
	MaxPageLimit = 500
)

// Item: элемент справочника на стороне клиента.
type Item struct {
	ID         string          `json:"id"`
	Kind       domain.Kind     `json:"kind"`
	ParentID   string          `json:"parent_id,omitempty"`
	Sequence   int             `json:"sequence"`
	Name       string          `json:"name"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// SequenceKey реализует ordering.Sequenced.
func (i Item) SequenceKey() string { return i.ID }

// SequenceValue реализует ordering.Sequenced.
func (i Item) SequenceValue() int { return i.Sequence }

// WithSequence реализует ordering.Sequenced.
func (i Item) WithSequence(seq int) Item {
	i.Sequence = seq
	return i
}

var _ ordering.Sequenced[Item] = Item{}

// NewItem: поля создаваемого элемента.
type NewItem struct {
	ParentID   string          `json:"parent_id,omitempty"`
	Name       string          `json:"name"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// ListOptions: параметры GET /api/v1/{kind}.
type ListOptions struct {
	ParentID string
	Query    string
	// Filters: точные совпадения по атрибутам верхнего уровня.
	Filters map[string]string
	Page    int
	Limit   int
}

// ListResult: страница списка.
type ListResult struct {
	Items []Item `json:"items"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
	Total int    `json:"total"`
}

// HistoryEvent: запись журнала изменений порядка.
type HistoryEvent struct {
	Type       string                `json:"type"`
	ItemID     string                `json:"item_id,omitempty"`
	Order      []domain.SequencePair `json:"order"`
	OccurredAt time.Time             `json:"occurred_at"`
}

// APIError: ответ сервера с кодом не 2xx.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// IsStatus сообщает, что err является APIError с указанным статусом.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// ClientOption настраивает Client.
type ClientOption func(*Client)

// WithHTTPClient подменяет http.Client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// WithClientLogger задаёт logger клиента.
func WithClientLogger(logger *log.Entry) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client вызывает REST API справочников.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *log.Entry
}

// NewClient создаёт клиент для сервера по адресу baseURL (например, http://localhost:8080).
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("base url %q must include scheme and host", baseURL)
	}

	c := &Client{
		baseURL: parsed,
		http:    &http.Client{Timeout: defaultHTTPTimeout},
		logger:  log.WithField("component", "sync-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// List возвращает одну страницу справочника.
func (c *Client) List(ctx context.Context, kind domain.Kind, opts ListOptions) (ListResult, error) {
	query := url.Values{}
	for name, value := range opts.Filters {
		query.Set(name, value)
	}
	if opts.ParentID != "" {
		query.Set("parent_id", opts.ParentID)
	}
	if opts.Query != "" {
		query.Set("q", opts.Query)
	}
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	var result ListResult
	err := c.do(ctx, http.MethodGet, c.path(kind), query, nil, nil, &result)
	return result, err
}

// ListAll читает группу целиком, проходя по всем страницам.
func (c *Client) ListAll(ctx context.Context, kind domain.Kind, parentID string) ([]Item, error) {
	var items []Item
	for page := 1; ; page++ {
		result, err := c.List(ctx, kind, ListOptions{ParentID: parentID, Page: page, Limit: MaxPageLimit})
		if err != nil {
			return nil, err
		}
		items = append(items, result.Items...)
		if len(result.Items) == 0 || len(items) >= result.Total {
			break
		}
	}
	if items == nil {
		items = []Item{}
	}
	return items, nil
}

// Get возвращает один элемент.
func (c *Client) Get(ctx context.Context, kind domain.Kind, id string) (Item, error) {
	var item Item
	err := c.do(ctx, http.MethodGet, c.path(kind, id), nil, nil, nil, &item)
	return item, err
}

// Create добавляет элемент в конец группы. Запрос отправляется с новым Idempotency-Key.
func (c *Client) Create(ctx context.Context, kind domain.Kind, in NewItem) (Item, error) {
	headers := http.Header{}
	headers.Set("Idempotency-Key", uuid.NewString())

	var item Item
	err := c.do(ctx, http.MethodPost, c.path(kind), nil, headers, in, &item)
	return item, err
}

// Update сохраняет name/attributes элемента с проверкой версии.
func (c *Client) Update(ctx context.Context, item Item) (Item, error) {
	body := struct {
		Name       string          `json:"name"`
		Attributes json.RawMessage `json:"attributes,omitempty"`
		Version    int64           `json:"version"`
	}{Name: item.Name, Attributes: item.Attributes, Version: item.Version}

	var updated Item
	err := c.do(ctx, http.MethodPut, c.path(item.Kind, item.ID), nil, nil, body, &updated)
	return updated, err
}

// Delete удаляет элемент; сервер перенумеровывает остаток группы.
func (c *Client) Delete(ctx context.Context, kind domain.Kind, id string) error {
	return c.do(ctx, http.MethodDelete, c.path(kind, id), nil, nil, nil, nil)
}

// Resequence отправляет {id, sequence} для каждого элемента одним PATCH-запросом.
func (c *Client) Resequence(ctx context.Context, kind domain.Kind, items []Item) (int, error) {
	body := struct {
		Items []domain.SequencePair `json:"items"`
	}{Items: ordering.Pairs(items)}

	var resp struct {
		Updated int `json:"updated"`
	}
	err := c.do(ctx, http.MethodPatch, c.path(kind, "sequence"), nil, nil, body, &resp)
	return resp.Updated, err
}

// Move выполняет перестановку на сервере и возвращает новый порядок группы.
func (c *Client) Move(ctx context.Context, scope domain.Scope, from, to int) ([]Item, error) {
	body := struct {
		ParentID  string `json:"parent_id,omitempty"`
		FromIndex int    `json:"from_index"`
		ToIndex   int    `json:"to_index"`
	}{ParentID: scope.ParentID, FromIndex: from, ToIndex: to}

	var resp struct {
		Items []Item `json:"items"`
	}
	err := c.do(ctx, http.MethodPost, c.path(scope.Kind, "move"), nil, nil, body, &resp)
	return resp.Items, err
}

// History возвращает последние изменения порядка в группе.
func (c *Client) History(ctx context.Context, scope domain.Scope, limit int) ([]HistoryEvent, error) {
	query := url.Values{}
	if scope.ParentID != "" {
		query.Set("parent_id", scope.ParentID)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Events []HistoryEvent `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, c.path(scope.Kind, "history"), query, nil, nil, &resp)
	return resp.Events, err
}

func (c *Client) path(kind domain.Kind, parts ...string) string {
	segments := append([]string{apiPrefix, string(kind)}, parts...)
	return strings.Join(segments, "/")
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, headers http.Header, body, out any) error {
	target := *c.baseURL
	target.Path = strings.TrimRight(c.baseURL.Path, "/") + path
	target.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for name, values := range headers {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(log.Fields{
		"method":      method,
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("api call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error.Message != "" {
		apiErr.Code = payload.Error.Code
		apiErr.Message = payload.Error.Message
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(data))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
