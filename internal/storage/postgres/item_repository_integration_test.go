package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
	"github.com/vladislavdragonenkov/jewelry/internal/ordering"
)

func insertItems(t *testing.T, repo domain.ItemRepository, kind domain.Kind, parentID string, names ...string) []domain.Item {
	t.Helper()

	if parentKind, nested := kind.ParentKind(); nested {
		_, err := repo.Get(context.Background(), parentKind, parentID)
		if errors.Is(err, domain.ErrItemNotFound) {
			_, err = repo.Insert(context.Background(), domain.Item{ID: parentID, Kind: parentKind, Name: parentID})
		}
		require.NoError(t, err)
	}

	items := make([]domain.Item, 0, len(names))
	for _, name := range names {
		saved, err := repo.Insert(context.Background(), domain.Item{
			ID:         parentID + "-" + name,
			Kind:       kind,
			ParentID:   parentID,
			Name:       name,
			Attributes: json.RawMessage(`{"code":"` + name + `"}`),
		})
		require.NoError(t, err)
		items = append(items, saved)
	}
	return items
}

func itemNames(items []domain.Item) []string {
	result := make([]string, 0, len(items))
	for _, item := range items {
		result = append(result, item.Name)
	}
	return result
}

func TestItemRepository_PostgresInsertGetUpdate(t *testing.T) {
	store := openMigratedStore(t)
	repo := NewItemRepository(store)
	ctx := context.Background()

	items := insertItems(t, repo, domain.KindMaster, "", "Metal", "Diamond")
	require.Equal(t, 2, items[1].Sequence)
	require.Equal(t, int64(1), items[0].Version)

	_, err := repo.Insert(ctx, domain.Item{ID: items[0].ID, Kind: domain.KindMaster, Name: "dup"})
	require.ErrorIs(t, err, domain.ErrItemAlreadyExists)

	got, err := repo.Get(ctx, domain.KindMaster, items[0].ID)
	require.NoError(t, err)
	require.JSONEq(t, `{"code":"Metal"}`, string(got.Attributes))

	got.Name = "Metals"
	updated, err := repo.Update(ctx, got)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)

	_, err = repo.Update(ctx, got)
	require.ErrorIs(t, err, domain.ErrItemVersionConflict)

	_, err = repo.Update(ctx, domain.Item{ID: "missing", Kind: domain.KindMaster, Name: "x", Version: 1})
	require.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestItemRepository_PostgresDeleteCompacts(t *testing.T) {
	store := openMigratedStore(t)
	repo := NewItemRepository(store)
	ctx := context.Background()

	items := insertItems(t, repo, domain.KindProductionStage, "", "Casting", "Filing", "Polishing")

	deleted, remaining, err := repo.Delete(ctx, domain.KindProductionStage, items[0].ID)
	require.NoError(t, err)
	require.Equal(t, "Casting", deleted.Name)
	require.Equal(t, []string{"Filing", "Polishing"}, itemNames(remaining))
	require.NoError(t, ordering.Validate(remaining))
}

func TestItemRepository_PostgresApplySequences(t *testing.T) {
	store := openMigratedStore(t)
	repo := NewItemRepository(store)
	ctx := context.Background()

	items := insertItems(t, repo, domain.KindSubmaster, "metal", "Gold", "Silver", "Platinum")

	_, err := repo.ApplySequences(ctx, domain.KindSubmaster, []domain.SequencePair{{ID: items[0].ID, Sequence: 5}})
	require.True(t, domain.IsInvalidSequence(err), "expected invalid sequence, got %v", err)

	pairs := ordering.Pairs([]domain.Item{
		items[2].WithSequence(1),
		items[0].WithSequence(2),
		items[1].WithSequence(3),
	})
	updated, err := repo.ApplySequences(ctx, domain.KindSubmaster, pairs)
	require.NoError(t, err)
	scope := domain.Scope{Kind: domain.KindSubmaster, ParentID: "metal"}
	require.Equal(t, []string{"Platinum", "Gold", "Silver"}, itemNames(updated[scope]))

	stored, err := repo.ListScope(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, []string{"Platinum", "Gold", "Silver"}, itemNames(stored))
}

func TestItemRepository_PostgresConcurrentResequenceKeepsScopeDense(t *testing.T) {
	store := openMigratedStore(t)
	repo := NewItemRepository(store)
	ctx := context.Background()

	items := insertItems(t, repo, domain.KindRejection, "", "a", "b", "c", "d")
	orders := [][]domain.Item{
		{items[3], items[2], items[1], items[0]},
		{items[1], items[0], items[3], items[2]},
	}

	var wg sync.WaitGroup
	for _, order := range orders {
		wg.Add(1)
		go func(order []domain.Item) {
			defer wg.Done()
			_, _ = repo.ApplySequences(ctx, domain.KindRejection, ordering.Pairs(ordering.Renumber(order)))
		}(order)
	}
	wg.Wait()

	stored, err := repo.ListScope(ctx, domain.Scope{Kind: domain.KindRejection})
	require.NoError(t, err)
	require.NoError(t, ordering.Validate(stored))
}

func TestItemRepository_PostgresFind(t *testing.T) {
	store := openMigratedStore(t)
	repo := NewItemRepository(store)
	ctx := context.Background()

	insertItems(t, repo, domain.KindSubmaster, "metal", "Gold", "Silver")
	insertItems(t, repo, domain.KindSubmaster, "stone", "Round", "Oval")

	page, err := repo.Find(ctx, domain.ListFilter{Kind: domain.KindSubmaster, Page: 1, Limit: 3})
	require.NoError(t, err)
	require.Equal(t, 4, page.Total)
	require.Equal(t, []string{"Gold", "Silver", "Round"}, itemNames(page.Items))

	page, err = repo.Find(ctx, domain.ListFilter{Kind: domain.KindSubmaster, Query: "OV"})
	require.NoError(t, err)
	require.Equal(t, []string{"Oval"}, itemNames(page.Items))

	page, err = repo.Find(ctx, domain.ListFilter{
		Kind:       domain.KindSubmaster,
		ParentID:   "metal",
		Attributes: map[string]string{"code": "silver"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Silver"}, itemNames(page.Items))

	_, _, err = repo.Delete(ctx, domain.KindMaster, "stone")
	require.ErrorIs(t, err, domain.ErrHasChildren)

	_, err = repo.Insert(ctx, domain.Item{ID: "orphan", Kind: domain.KindSubmaster, ParentID: "missing", Name: "Orphan"})
	require.ErrorIs(t, err, domain.ErrParentNotFound)
}

func TestItemRepository_PostgresDeleteParentRacesChildInsert(t *testing.T) {
	store := openMigratedStore(t)
	repo := NewItemRepository(store)
	ctx := context.Background()

	for i := range 20 {
		parentID := "race-" + strconv.Itoa(i)
		_, err := repo.Insert(ctx, domain.Item{ID: parentID, Kind: domain.KindMaster, Name: parentID})
		require.NoError(t, err)

		var wg sync.WaitGroup
		var deleteErr, insertErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, deleteErr = repo.Delete(ctx, domain.KindMaster, parentID)
		}()
		go func() {
			defer wg.Done()
			_, insertErr = repo.Insert(ctx, domain.Item{
				ID:       parentID + "-child",
				Kind:     domain.KindSubmaster,
				ParentID: parentID,
				Name:     "Child",
			})
		}()
		wg.Wait()

		// Ровно одна из операций проходит: либо master удалён без детей, либо ребёнок сохранён.
		if deleteErr == nil {
			require.ErrorIs(t, insertErr, domain.ErrParentNotFound)
			children, err := repo.ListScope(ctx, domain.Scope{Kind: domain.KindSubmaster, ParentID: parentID})
			require.NoError(t, err)
			require.Empty(t, children)
			continue
		}
		require.ErrorIs(t, deleteErr, domain.ErrHasChildren)
		require.NoError(t, insertErr)
	}
}
