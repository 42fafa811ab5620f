package syncclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
	"github.com/vladislavdragonenkov/jewelry/internal/ordering"
)

const defaultSyncTimeout = 15 * time.Second

// ErrSyncFailed: сервер не принял новый порядок; локальное состояние перечитано.
var ErrSyncFailed = errors.New("sync failed")

// State: состояние локальной копии группы относительно сервера.
type State int

const (
	// StateSynced: локальный порядок совпадает с последним прочитанным с сервера.
	StateSynced State = iota
	// StatePending: локальный порядок применён оптимистично и ещё не подтверждён.
	StatePending
)

func (s State) String() string {
	switch s {
	case StateSynced:
		return "synced"
	case StatePending:
		return "pending"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Remote: операции сервера, которые нужны доске.
type Remote interface {
	ListAll(ctx context.Context, kind domain.Kind, parentID string) ([]Item, error)
	Resequence(ctx context.Context, kind domain.Kind, items []Item) (int, error)
	Create(ctx context.Context, kind domain.Kind, in NewItem) (Item, error)
	Delete(ctx context.Context, kind domain.Kind, id string) error
}

// BoardOption настраивает Board.
type BoardOption func(*Board)

// WithBoardLogger задаёт logger доски.
func WithBoardLogger(logger *log.Entry) BoardOption {
	return func(b *Board) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSyncTimeout ограничивает время одной синхронизации с сервером.
func WithSyncTimeout(timeout time.Duration) BoardOption {
	return func(b *Board) {
		if timeout > 0 {
			b.syncTimeout = timeout
		}
	}
}

// syncRound: желаемый порядок, ожидающий отправки; все перестановки,
// пришедшие до её начала, получают один общий результат.
type syncRound struct {
	done chan struct{}
	err  error
}

func newSyncRound() *syncRound {
	return &syncRound{done: make(chan struct{})}
}

func (r *syncRound) finish(err error) {
	r.err = err
	close(r.done)
}

// Board владеет локальной копией одной группы и синхронизирует её с сервером.
//
// Перестановка применяется локально сразу, затем отправляется на сервер полным
// списком {id, sequence}. Пока идёт отправка, новые перестановки накапливаются,
// и на сервер уходит только последний желаемый порядок. При ошибке локальное
// состояние отбрасывается и группа перечитывается с сервера.
type Board struct {
	remote      Remote
	scope       domain.Scope
	logger      *log.Entry
	syncTimeout time.Duration

	mu       sync.Mutex
	items    ordering.Collection[Item]
	state    State
	pending  *syncRound
	flushing bool
	// generation растёт при каждом локальном изменении порядка и при перечитывании после ошибки.
	generation uint64

	reloads singleflight.Group
}

// NewBoard создаёт доску для группы scope. Начальное состояние пустое; вызовите Refresh.
func NewBoard(remote Remote, scope domain.Scope, opts ...BoardOption) *Board {
	b := &Board{
		remote:      remote,
		scope:       scope,
		logger:      log.WithField("component", "board").WithField("scope", scope.Key()),
		syncTimeout: defaultSyncTimeout,
		items:       ordering.NewCollection[Item](nil),
		state:       StateSynced,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Scope возвращает группу доски.
func (b *Board) Scope() domain.Scope { return b.scope }

// Items возвращает текущий локальный порядок.
func (b *Board) Items() []Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items.Items()
}

// State возвращает состояние синхронизации.
func (b *Board) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Refresh перечитывает группу с сервера. Параллельные вызовы выполняют один запрос.
// Ответ, прочитанный до перестановки, сделанной во время запроса, отбрасывается.
func (b *Board) Refresh(ctx context.Context) error {
	b.mu.Lock()
	generation := b.generation
	b.mu.Unlock()

	items, err := b.fetch(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flushing || b.generation != generation {
		// Порядок менялся во время чтения: итог определяет синхронизация.
		return nil
	}
	b.items = ordering.NewCollection(items)
	b.state = StateSynced
	return nil
}

// Reorder переносит элемент с позиции from на позицию to.
// Неверный индекс возвращается сразу, без обращения к серверу.
// Метод ждёт подтверждения сервера; при ошибке возвращается ErrSyncFailed,
// а доска содержит перечитанный с сервера порядок.
func (b *Board) Reorder(ctx context.Context, from, to int) error {
	b.mu.Lock()
	next, err := b.items.Reorder(from, to)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if from == to {
		b.mu.Unlock()
		return nil
	}

	b.items = next
	b.state = StatePending
	b.generation++
	if b.pending == nil {
		b.pending = newSyncRound()
	}
	round := b.pending
	if !b.flushing {
		b.flushing = true
		go b.flushLoop()
	}
	b.mu.Unlock()

	select {
	case <-round.done:
		return round.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Append создаёт элемент на сервере (в конец группы) и перечитывает группу.
func (b *Board) Append(ctx context.Context, in NewItem) (Item, error) {
	in.ParentID = b.scope.ParentID
	item, err := b.remote.Create(ctx, b.scope.Kind, in)
	if err != nil {
		return Item{}, err
	}
	return item, b.Refresh(ctx)
}

// Remove удаляет элемент на сервере и перечитывает группу.
func (b *Board) Remove(ctx context.Context, id string) error {
	b.mu.Lock()
	known := b.items.IndexOf(id) >= 0
	b.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: %s", ordering.ErrItemNotFound, id)
	}

	if err := b.remote.Delete(ctx, b.scope.Kind, id); err != nil {
		return err
	}
	return b.Refresh(ctx)
}

func (b *Board) flushLoop() {
	for {
		b.mu.Lock()
		round := b.pending
		if round == nil {
			b.flushing = false
			b.mu.Unlock()
			return
		}
		b.pending = nil
		snapshot := b.items.Items()
		b.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), b.syncTimeout)
		_, err := b.remote.Resequence(ctx, b.scope.Kind, snapshot)
		if err == nil {
			cancel()
			b.mu.Lock()
			if b.pending == nil {
				b.state = StateSynced
			}
			b.mu.Unlock()
			round.finish(nil)
			continue
		}

		syncErr := fmt.Errorf("%w: %w", ErrSyncFailed, err)
		b.logger.WithError(err).Warn("resequence rejected, reloading scope")

		// Чтение, начатое до отказа, могло застать устаревший порядок.
		b.reloads.Forget(b.scope.Key())
		items, reloadErr := b.fetch(ctx)
		cancel()

		b.mu.Lock()
		// Перестановки, накопленные поверх отвергнутого порядка, тоже отменяются.
		queued := b.pending
		b.pending = nil
		if reloadErr == nil {
			b.items = ordering.NewCollection(items)
			b.state = StateSynced
			b.generation++
		} else {
			b.logger.WithError(reloadErr).Error("failed to reload scope after sync failure")
			syncErr = errors.Join(syncErr, fmt.Errorf("reload: %w", reloadErr))
		}
		b.mu.Unlock()

		round.finish(syncErr)
		if queued != nil {
			queued.finish(syncErr)
		}
	}
}

func (b *Board) fetch(ctx context.Context) ([]Item, error) {
	result, err, _ := b.reloads.Do(b.scope.Key(), func() (any, error) {
		items, err := b.remote.ListAll(ctx, b.scope.Kind, b.scope.ParentID)
		if err != nil {
			return nil, err
		}
		return ordering.SortBySequence(items), nil
	})
	if err != nil {
		return nil, fmt.Errorf("list scope %s: %w", b.scope.Key(), err)
	}
	return result.([]Item), nil
}
