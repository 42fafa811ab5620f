package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
	"github.com/vladislavdragonenkov/jewelry/internal/ordering"
)

const itemColumns = `id, kind, parent_id, sequence, name, attributes, version, created_at, updated_at`

type itemRepository struct {
	store *Store
}

// NewItemRepository создаёт PostgreSQL-реализацию ItemRepository.
func NewItemRepository(store *Store) domain.ItemRepository {
	return &itemRepository{store: store}
}

func (r *itemRepository) Insert(ctx context.Context, item domain.Item) (domain.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if item.Version == 0 {
		item.Version = 1
	}
	item.CreatedAt, item.UpdatedAt = now, now

	err := r.store.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockScopes(ctx, tx, item.Scope()); err != nil {
			return err
		}
		// Удаление родителя берёт ту же блокировку группы, поэтому проверка не устаревает до commit.
		if parentKind, nested := item.Kind.ParentKind(); nested {
			if err := requireParent(ctx, tx, parentKind, item.ParentID); err != nil {
				return err
			}
		}

		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(sequence), 0) + 1
			FROM catalog_items
			WHERE kind = $1 AND parent_id = $2
		`, string(item.Kind), item.ParentID).Scan(&item.Sequence); err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO catalog_items (`+itemColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			item.ID, string(item.Kind), item.ParentID, item.Sequence, item.Name,
			attributesOrEmpty(item.Attributes), item.Version, item.CreatedAt, item.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrItemAlreadyExists
			}
			return fmt.Errorf("insert item: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Item{}, err
	}

	return item, nil
}

func (r *itemRepository) Get(ctx context.Context, kind domain.Kind, id string) (domain.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	item, err := scanItem(r.store.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM catalog_items
		WHERE kind = $1 AND id = $2
	`, string(kind), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Item{}, domain.ErrItemNotFound
		}
		return domain.Item{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

func (r *itemRepository) ListScope(ctx context.Context, scope domain.Scope) ([]domain.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return listScope(ctx, r.store.db, scope, false)
}

func (r *itemRepository) Find(ctx context.Context, filter domain.ListFilter) (domain.ItemPage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	where, args := buildFindWhere(filter)

	var page domain.ItemPage
	if err := r.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM catalog_items WHERE `+where, args...,
	).Scan(&page.Total); err != nil {
		return domain.ItemPage{}, fmt.Errorf("count items: %w", err)
	}

	query := `SELECT ` + itemColumns + ` FROM catalog_items WHERE ` + where + ` ORDER BY parent_id, sequence`
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset())
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.ItemPage{}, fmt.Errorf("find items: %w", err)
	}
	defer rows.Close()

	page.Items, err = scanItems(rows)
	if err != nil {
		return domain.ItemPage{}, err
	}
	return page, nil
}

// buildFindWhere собирает условие выборки с позиционными параметрами.
// Сравнение атрибутов и поиск по имени выполняются без учёта регистра, как в in-memory реализации.
func buildFindWhere(filter domain.ListFilter) (string, []any) {
	conds := []string{"kind = $1"}
	args := []any{string(filter.Kind)}

	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.ParentID != "" {
		conds = append(conds, "parent_id = "+next(filter.ParentID))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		conds = append(conds, "strpos(lower(name), lower("+next(q)+")) > 0")
	}
	for _, name := range sortedKeys(filter.Attributes) {
		key := next(name)
		conds = append(conds, "lower(attributes->>"+key+") = lower("+next(filter.Attributes[name])+")")
	}

	return strings.Join(conds, " AND "), args
}

func (r *itemRepository) Update(ctx context.Context, item domain.Item) (domain.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	updated, err := scanItem(r.store.db.QueryRowContext(ctx, `
		UPDATE catalog_items
		SET name = $1,
		    attributes = $2,
		    version = version + 1,
		    updated_at = $3
		WHERE kind = $4 AND id = $5 AND version = $6
		RETURNING `+itemColumns,
		item.Name, attributesOrEmpty(item.Attributes), time.Now().UTC(),
		string(item.Kind), item.ID, item.Version,
	))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, fmt.Errorf("update item: %w", err)
	}

	if _, getErr := r.Get(ctx, item.Kind, item.ID); getErr != nil {
		return domain.Item{}, getErr
	}
	return domain.Item{}, domain.ErrItemVersionConflict
}

func (r *itemRepository) Delete(ctx context.Context, kind domain.Kind, id string) (domain.Item, []domain.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// parent_id не меняется после создания, поэтому группу можно определить до блокировки.
	current, err := r.Get(ctx, kind, id)
	if err != nil {
		return domain.Item{}, nil, err
	}

	var (
		deleted   domain.Item
		remaining []domain.Item
	)
	err = r.store.withTx(ctx, func(tx *sql.Tx) error {
		scopes := []domain.Scope{current.Scope()}
		childKind, hasChildren := kind.ChildKind()
		if hasChildren {
			scopes = append(scopes, domain.Scope{Kind: childKind, ParentID: id})
		}
		if err := lockScopes(ctx, tx, scopes...); err != nil {
			return err
		}
		if hasChildren {
			if err := refuseWithChildren(ctx, tx, childKind, id); err != nil {
				return err
			}
		}

		var scanErr error
		deleted, scanErr = scanItem(tx.QueryRowContext(ctx, `
			DELETE FROM catalog_items
			WHERE kind = $1 AND id = $2
			RETURNING `+itemColumns,
			string(kind), id,
		))
		if scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return domain.ErrItemNotFound
			}
			return fmt.Errorf("delete item: %w", scanErr)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE catalog_items
			SET sequence = sequence - 1,
			    updated_at = $1
			WHERE kind = $2 AND parent_id = $3 AND sequence > $4
		`, time.Now().UTC(), string(kind), deleted.ParentID, deleted.Sequence); err != nil {
			return fmt.Errorf("compact scope after delete: %w", err)
		}

		remaining, scanErr = listScope(ctx, tx, deleted.Scope(), false)
		return scanErr
	})
	if err != nil {
		return domain.Item{}, nil, err
	}

	return deleted, remaining, nil
}

func (r *itemRepository) ApplySequences(ctx context.Context, kind domain.Kind, pairs []domain.SequencePair) (map[domain.Scope][]domain.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ids := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		ids = append(ids, pair.ID)
	}

	result := make(map[domain.Scope][]domain.Item)
	err := r.store.withTx(ctx, func(tx *sql.Tx) error {
		grouped, err := groupPairsByScope(ctx, tx, kind, ids, pairs)
		if err != nil {
			return err
		}

		scopes := make([]domain.Scope, 0, len(grouped))
		for scope := range grouped {
			scopes = append(scopes, scope)
		}
		if err := lockScopes(ctx, tx, scopes...); err != nil {
			return err
		}

		now := time.Now().UTC()
		for scope, scopePairs := range grouped {
			current, err := listScope(ctx, tx, scope, true)
			if err != nil {
				return err
			}
			// Проверка плотности та же, что и в памяти: пакет применяется к актуальной группе.
			updated, err := ordering.ApplyPairs(current, scopePairs)
			if err != nil {
				return err
			}

			before := make(map[string]int, len(current))
			for _, item := range current {
				before[item.ID] = item.Sequence
			}
			for i, item := range updated {
				if before[item.ID] == item.Sequence {
					continue
				}
				if _, err := tx.ExecContext(ctx, `
					UPDATE catalog_items
					SET sequence = $1, updated_at = $2
					WHERE id = $3
				`, item.Sequence, now, item.ID); err != nil {
					return fmt.Errorf("update sequence of %s: %w", item.ID, err)
				}
				updated[i].UpdatedAt = now
			}
			result[scope] = updated
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// groupPairsByScope распределяет пары по группам, проверяя существование и тип элементов.
func groupPairsByScope(ctx context.Context, tx *sql.Tx, kind domain.Kind, ids []string, pairs []domain.SequencePair) (map[domain.Scope][]domain.SequencePair, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, kind, parent_id
		FROM catalog_items
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve sequence scopes: %w", err)
	}
	defer rows.Close()

	scopes := make(map[string]domain.Scope, len(ids))
	for rows.Next() {
		var (
			id, kindRaw string
			scope       domain.Scope
		)
		if err := rows.Scan(&id, &kindRaw, &scope.ParentID); err != nil {
			return nil, fmt.Errorf("scan sequence scope: %w", err)
		}
		scope.Kind = domain.Kind(kindRaw)
		scopes[id] = scope
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sequence scopes: %w", err)
	}

	grouped := make(map[domain.Scope][]domain.SequencePair)
	for _, pair := range pairs {
		scope, ok := scopes[pair.ID]
		if !ok {
			return nil, domain.ErrItemNotFound
		}
		if scope.Kind != kind {
			return nil, domain.ErrKindMismatch
		}
		grouped[scope] = append(grouped[scope], pair)
	}
	return grouped, nil
}

func requireParent(ctx context.Context, tx *sql.Tx, kind domain.Kind, id string) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM catalog_items WHERE kind = $1 AND id = $2)
	`, string(kind), id).Scan(&exists); err != nil {
		return fmt.Errorf("check parent: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s %s", domain.ErrParentNotFound, kind, id)
	}
	return nil
}

func refuseWithChildren(ctx context.Context, tx *sql.Tx, childKind domain.Kind, parentID string) error {
	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM catalog_items WHERE kind = $1 AND parent_id = $2
	`, string(childKind), parentID).Scan(&count); err != nil {
		return fmt.Errorf("count children: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %d %s", domain.ErrHasChildren, count, childKind)
	}
	return nil
}

func listScope(ctx context.Context, q rowsQuerier, scope domain.Scope, forUpdate bool) ([]domain.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM catalog_items
		WHERE kind = $1 AND parent_id = $2
		ORDER BY sequence`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := q.QueryContext(ctx, query, string(scope.Kind), scope.ParentID)
	if err != nil {
		return nil, fmt.Errorf("list scope %s: %w", scope.Key(), err)
	}
	defer rows.Close()

	return scanItems(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.Item, error) {
	var (
		item    domain.Item
		kindRaw string
		attrs   []byte
	)
	if err := row.Scan(
		&item.ID,
		&kindRaw,
		&item.ParentID,
		&item.Sequence,
		&item.Name,
		&attrs,
		&item.Version,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return domain.Item{}, err
	}

	item.Kind = domain.Kind(kindRaw)
	item.Attributes = json.RawMessage(attrs)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

func scanItems(rows *sql.Rows) ([]domain.Item, error) {
	items := make([]domain.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func attributesOrEmpty(attrs json.RawMessage) string {
	if len(attrs) == 0 {
		return "{}"
	}
	return string(attrs)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

var _ domain.ItemRepository = (*itemRepository)(nil)
