// Package history keeps the outcome of recent runs for the status API.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultLimit is how many runs a store retains.
const DefaultLimit = 50

// Transition is one state change of a run.
type Transition struct {
	State string    `json:"state"`
	At    time.Time `json:"at"`
}

// Record is the outcome of one run.
type Record struct {
	RunID       string       `json:"run_id"`
	Report      string       `json:"report"`
	Tab         string       `json:"tab"`
	State       string       `json:"state"`
	Error       string       `json:"error,omitempty"`
	ErrorKind   string       `json:"error_kind,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
	PopupFound  bool         `json:"popup_found"`
	PopupClosed bool         `json:"popup_closed"`
	PopupTactic int          `json:"popup_tactic,omitempty"`
	Artifact    string       `json:"artifact,omitempty"`
	Rows        int          `json:"rows"`
	Published   bool         `json:"published"`
	Diagnostics []string     `json:"diagnostics,omitempty"`
	Transitions []Transition `json:"transitions,omitempty"`
}

// Duration is how long the run took.
func (r Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store keeps recent records newest first.
type Store interface {
	Add(ctx context.Context, rec Record) error
	List(ctx context.Context, limit int) ([]Record, error)
}

// Latest returns the newest record, if any.
func Latest(ctx context.Context, s Store) (Record, bool, error) {
	recs, err := s.List(ctx, 1)
	if err != nil || len(recs) == 0 {
		return Record{}, false, err
	}
	return recs[0], true, nil
}

// RedisStore keeps records in a capped Redis list.
type RedisStore struct {
	client *redis.Client
	key    string
	limit  int
}

func NewRedisStore(client *redis.Client, key string, limit int) *RedisStore {
	if key == "" {
		key = "reportsync:runs"
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &RedisStore{client: client, key: key, limit: limit}
}

func (s *RedisStore) Add(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, 0, int64(s.limit-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store run %s: %w", rec.RunID, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}
	items, err := s.client.LRange(ctx, s.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	recs := make([]Record, 0, len(items))
	for _, item := range items {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// MemoryStore keeps records in process.
type MemoryStore struct {
	mu    sync.RWMutex
	recs  []Record
	limit int
}

func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &MemoryStore{limit: limit}
}

func (s *MemoryStore) Add(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append([]Record{rec}, s.recs...)
	if len(s.recs) > s.limit {
		s.recs = s.recs[:s.limit]
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.recs) {
		limit = len(s.recs)
	}
	return append([]Record(nil), s.recs[:limit]...), nil
}
