package domain_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
)

// helper для создания корректного элемента справочника.
func makeItem() domain.Item {
	now := time.Now().UTC()
	return domain.Item{
		ID:         "item-1",
		Kind:       domain.KindRawMaterial,
		Sequence:   1,
		Name:       "Gold 22K",
		Attributes: json.RawMessage(`{"unit":"g","purity":0.916,"active":true}`),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestItemValidate_Ok(t *testing.T) {
	item := makeItem()
	if errs := item.Validate(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestItemValidate_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(i *domain.Item)
		want error
	}{
		{
			name: "unknown kind",
			mut:  func(i *domain.Item) { i.Kind = "bangles" },
			want: domain.ErrKindUnsupported,
		},
		{
			name: "blank name",
			mut:  func(i *domain.Item) { i.Name = "   " },
			want: domain.ErrNameRequired,
		},
		{
			name: "submaster without parent",
			mut:  func(i *domain.Item) { i.Kind = domain.KindSubmaster },
			want: domain.ErrParentRequired,
		},
		{
			name: "parent on flat kind",
			mut:  func(i *domain.Item) { i.Kind = domain.KindRawMaterial; i.ParentID = "m-1" },
			want: domain.ErrParentNotAllowed,
		},
		{
			name: "attributes array",
			mut:  func(i *domain.Item) { i.Attributes = json.RawMessage(`[1,2]`) },
			want: domain.ErrAttributesInvalid,
		},
		{
			name: "attributes broken json",
			mut:  func(i *domain.Item) { i.Attributes = json.RawMessage(`{"unit":`) },
			want: domain.ErrAttributesInvalid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			item := makeItem()
			tc.mut(&item)

			errs := item.Validate()
			if !errors.Is(errors.Join(errs...), tc.want) {
				t.Fatalf("expected %v in %v", tc.want, errs)
			}
		})
	}
}

func TestItemSequenced(t *testing.T) {
	item := makeItem()
	moved := item.WithSequence(7)

	if moved.SequenceValue() != 7 || moved.SequenceKey() != item.ID {
		t.Fatalf("unexpected sequenced view: %+v", moved)
	}
	if item.Sequence != 1 {
		t.Fatal("WithSequence must not mutate the receiver")
	}
	if string(moved.Attributes) != string(item.Attributes) || moved.Name != item.Name {
		t.Fatal("WithSequence must keep other fields")
	}
}

func TestItemAttributeString(t *testing.T) {
	item := makeItem()

	tests := []struct {
		attr   string
		want   string
		wantOk bool
	}{
		{attr: "unit", want: "g", wantOk: true},
		{attr: "purity", want: "0.916", wantOk: true},
		{attr: "active", want: "true", wantOk: true},
		{attr: "missing", wantOk: false},
	}

	for _, tt := range tests {
		got, ok := item.AttributeString(tt.attr)
		if ok != tt.wantOk || got != tt.want {
			t.Errorf("AttributeString(%q) = %q, %v; want %q, %v", tt.attr, got, ok, tt.want, tt.wantOk)
		}
	}
}

func TestKind(t *testing.T) {
	for _, kind := range domain.Kinds() {
		if !kind.Valid() {
			t.Errorf("kind %q should be valid", kind)
		}
	}
	if domain.Kind("orders").Valid() {
		t.Error("orders is not a catalog kind")
	}

	parent, ok := domain.KindSubmaster.ParentKind()
	if !ok || parent != domain.KindMaster {
		t.Errorf("submasters should belong to masters, got %q %v", parent, ok)
	}
	if _, ok := domain.KindRejection.ParentKind(); ok {
		t.Error("rejections have no parent kind")
	}
}

func TestScopeKey(t *testing.T) {
	scope := domain.Scope{Kind: domain.KindSubmaster, ParentID: "m-1"}
	if scope.Key() != "submasters/m-1" {
		t.Fatalf("unexpected scope key %q", scope.Key())
	}
	if (domain.Scope{Kind: domain.KindMaster}).Key() != "masters/" {
		t.Fatal("root scope key should end with a slash")
	}
}

func TestListFilterOffset(t *testing.T) {
	if got := (domain.ListFilter{Page: 3, Limit: 20}).Offset(); got != 40 {
		t.Fatalf("expected offset 40, got %d", got)
	}
	if got := (domain.ListFilter{Page: 0, Limit: 20}).Offset(); got != 0 {
		t.Fatalf("expected offset 0 for page 0, got %d", got)
	}
}
