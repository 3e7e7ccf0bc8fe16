package payment

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrRecordNotFound = errors.New("payment record not found")

// Record is the durable trace of one settled gateway transaction. At most
// one record exists per external session id.
type Record struct {
	OrderID           string    `json:"order_id"`
	ExternalSessionID string    `json:"external_session_id"`
	Amount            int       `json:"amount"`
	Status            string    `json:"status"`
	TransactionID     string    `json:"transaction_id"`
	CreatedAt         time.Time `json:"created_at"`
}

type RecordStore interface {
	Create(ctx context.Context, rec Record) error
	GetBySession(ctx context.Context, sessionID string) (Record, error)
	List(ctx context.Context) ([]Record, error)
}

// MemoryRecordStore is the in-memory RecordStore used by tests and
// standalone runs.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]Record // keyed by external session id
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]Record)}
}

func (s *MemoryRecordStore) Create(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ExternalSessionID]; exists {
		return errors.New("payment record already exists for session " + rec.ExternalSessionID)
	}
	s.records[rec.ExternalSessionID] = rec
	return nil
}

func (s *MemoryRecordStore) GetBySession(ctx context.Context, sessionID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (s *MemoryRecordStore) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}
