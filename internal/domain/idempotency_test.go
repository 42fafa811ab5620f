package domain

import (
	"testing"
	"time"
)

func TestIdempotencyStatusValid(t *testing.T) {
	tests := []struct {
		name   string
		status IdempotencyStatus
		want   bool
	}{
		{name: "processing", status: IdempotencyStatusProcessing, want: true},
		{name: "done", status: IdempotencyStatusDone, want: true},
		{name: "failed", status: IdempotencyStatusFailed, want: true},
		{name: "invalid", status: IdempotencyStatus("broken"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.status.Valid(); got != tc.want {
				t.Fatalf("status %q valid=%v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestIdempotencyRecordReplayable(t *testing.T) {
	done := IdempotencyRecord{Status: IdempotencyStatusDone, HTTPStatus: 201}
	if !done.Replayable() {
		t.Fatal("done record with status code should be replayable")
	}

	processing := IdempotencyRecord{Status: IdempotencyStatusProcessing}
	if processing.Replayable() {
		t.Fatal("processing record must not be replayed")
	}
}

func TestIdempotencyRecordExpired(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	if (IdempotencyRecord{}).Expired(now) {
		t.Fatal("record without ttl never expires")
	}
	if !(IdempotencyRecord{TTLAt: now}).Expired(now) {
		t.Fatal("record with ttl equal to now is expired")
	}
	if (IdempotencyRecord{TTLAt: now.Add(time.Minute)}).Expired(now) {
		t.Fatal("record with ttl in the future is not expired")
	}
}

func TestNewIdempotencyRecord(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	record, err := NewIdempotencyRecord("  key-1 ", " hash ", time.Time{}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Key != "key-1" || record.RequestHash != "hash" {
		t.Fatalf("key and hash must be trimmed, got %q %q", record.Key, record.RequestHash)
	}
	if record.Status != IdempotencyStatusProcessing {
		t.Fatalf("unexpected status %q", record.Status)
	}
	if !record.TTLAt.Equal(now.Add(DefaultIdempotencyTTL)) {
		t.Fatalf("zero ttl must default to %s, got %s", DefaultIdempotencyTTL, record.TTLAt)
	}

	if _, err := NewIdempotencyRecord(" ", "hash", now, now); err != ErrIdempotencyKeyRequired {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := NewIdempotencyRecord("key", "", now, now); err != ErrIdempotencyRequestHashRequired {
		t.Fatalf("expected ErrIdempotencyRequestHashRequired, got %v", err)
	}
}

func TestIdempotencyRecordTakeOver(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	active := now.Add(time.Hour)

	tests := []struct {
		name   string
		record IdempotencyRecord
		hash   string
		want   error
	}{
		{name: "expired", record: IdempotencyRecord{RequestHash: "a", Status: IdempotencyStatusDone, TTLAt: now}, hash: "b", want: nil},
		{name: "failed same hash", record: IdempotencyRecord{RequestHash: "a", Status: IdempotencyStatusFailed, TTLAt: active}, hash: "a", want: nil},
		{name: "failed other hash", record: IdempotencyRecord{RequestHash: "a", Status: IdempotencyStatusFailed, TTLAt: active}, hash: "b", want: ErrIdempotencyHashMismatch},
		{name: "processing", record: IdempotencyRecord{RequestHash: "a", Status: IdempotencyStatusProcessing, TTLAt: active}, hash: "a", want: ErrIdempotencyKeyAlreadyExists},
		{name: "done", record: IdempotencyRecord{RequestHash: "a", Status: IdempotencyStatusDone, TTLAt: active}, hash: "a", want: ErrIdempotencyKeyAlreadyExists},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.record.TakeOver(tc.hash, now); got != tc.want {
				t.Fatalf("TakeOver()=%v, want %v", got, tc.want)
			}
		})
	}
}
