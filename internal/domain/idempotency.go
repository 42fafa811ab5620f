package domain

import (
	"strings"
	"time"
)

// DefaultIdempotencyTTL применяется, когда срок хранения ключа не задан.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone означает, что запрос завершён и ответ сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed означает, что обработка завершилась ошибкой и ключ можно переиспользовать.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// IdempotencyRecord хранит результат мутирующего запроса, выполненного с Idempotency-Key.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewIdempotencyRecord проверяет ключ и хеш запроса и возвращает запись в статусе processing.
// Нулевой ttlAt заменяется на now + DefaultIdempotencyTTL.
func NewIdempotencyRecord(key, requestHash string, ttlAt, now time.Time) (IdempotencyRecord, error) {
	key, err := NormalizeIdempotencyKey(key)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	requestHash = strings.TrimSpace(requestHash)
	if requestHash == "" {
		return IdempotencyRecord{}, ErrIdempotencyRequestHashRequired
	}
	if ttlAt.IsZero() {
		ttlAt = now.Add(DefaultIdempotencyTTL)
	}
	return IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// NormalizeIdempotencyKey обрезает пробелы и отклоняет пустой ключ.
func NormalizeIdempotencyKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrIdempotencyKeyRequired
	}
	return key, nil
}

// Replayable сообщает, можно ли вернуть сохранённый ответ без повторной обработки.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status == IdempotencyStatusDone && r.HTTPStatus > 0
}

// Expired сообщает, истёк ли срок хранения ключа.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.IsZero() && !now.Before(r.TTLAt)
}

// TakeOver решает, может ли новый запрос с хешем requestHash занять ключ существующей записи.
// Ключ освобождается по истечении срока или после неудачной попытки с тем же телом.
func (r IdempotencyRecord) TakeOver(requestHash string, now time.Time) error {
	if r.Expired(now) {
		return nil
	}
	if r.RequestHash != requestHash {
		return ErrIdempotencyHashMismatch
	}
	if r.Status == IdempotencyStatusFailed {
		return nil
	}
	return ErrIdempotencyKeyAlreadyExists
}
