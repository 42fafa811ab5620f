package rest

import (
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
)

type itemResponse struct {
	ID         string          `json:"id"`
	Kind       domain.Kind     `json:"kind"`
	ParentID   string          `json:"parent_id,omitempty"`
	Sequence   int             `json:"sequence"`
	Name       string          `json:"name"`
	Attributes json.RawMessage `json:"attributes"`
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type listResponse struct {
	Items []itemResponse `json:"items"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
	Total int            `json:"total"`
}

type itemsResponse struct {
	Items []itemResponse `json:"items"`
}

type createRequest struct {
	ParentID   string          `json:"parent_id"`
	Name       string          `json:"name"`
	Attributes json.RawMessage `json:"attributes"`
}

type updateRequest struct {
	Name       string          `json:"name"`
	Attributes json.RawMessage `json:"attributes"`
	Version    int64           `json:"version"`
}

type resequenceRequest struct {
	Items []domain.SequencePair `json:"items"`
}

type resequenceResponse struct {
	Updated int `json:"updated"`
}

type moveRequest struct {
	ParentID  string `json:"parent_id"`
	FromIndex *int   `json:"from_index"`
	ToIndex   *int   `json:"to_index"`
}

type historyEventResponse struct {
	Type       domain.HistoryEventType `json:"type"`
	ItemID     string                  `json:"item_id,omitempty"`
	Order      []domain.SequencePair   `json:"order"`
	OccurredAt time.Time               `json:"occurred_at"`
}

type historyResponse struct {
	Kind     domain.Kind            `json:"kind"`
	ParentID string                 `json:"parent_id,omitempty"`
	Events   []historyEventResponse `json:"events"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func toItemResponse(item domain.Item) itemResponse {
	attrs := item.Attributes
	if len(attrs) == 0 {
		attrs = json.RawMessage(`{}`)
	}
	return itemResponse{
		ID:         item.ID,
		Kind:       item.Kind,
		ParentID:   item.ParentID,
		Sequence:   item.Sequence,
		Name:       item.Name,
		Attributes: attrs,
		Version:    item.Version,
		CreatedAt:  item.CreatedAt,
		UpdatedAt:  item.UpdatedAt,
	}
}

func toItemResponses(items []domain.Item) []itemResponse {
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toItemResponse(item))
	}
	return out
}

func toHistoryResponse(scope domain.Scope, events []domain.HistoryEvent) historyResponse {
	out := historyResponse{
		Kind:     scope.Kind,
		ParentID: scope.ParentID,
		Events:   make([]historyEventResponse, 0, len(events)),
	}
	for _, event := range events {
		order := event.Order
		if order == nil {
			order = []domain.SequencePair{}
		}
		out.Events = append(out.Events, historyEventResponse{
			Type:       event.Type,
			ItemID:     event.ItemID,
			Order:      order,
			OccurredAt: event.Occurred,
		})
	}
	return out
}
