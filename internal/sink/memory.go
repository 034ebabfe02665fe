package sink

import (
	"context"
	"sync"
)

// MemorySheet keeps tabs in memory. Used for dry runs and tests.
type MemorySheet struct {
	mu     sync.RWMutex
	tabs   map[string][][]string
	Writes int
	// Fail, when set, is returned by ReplaceAll without touching any tab.
	Fail error
}

func NewMemorySheet() *MemorySheet {
	return &MemorySheet{tabs: make(map[string][][]string)}
}

// Seed sets a tab's content directly.
func (m *MemorySheet) Seed(tab string, rows [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tabs[tab] = clone(rows)
}

func (m *MemorySheet) ReplaceAll(ctx context.Context, tab string, rows [][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.tabs[tab] = clone(rows)
	m.Writes++
	return nil
}

// Tab returns a copy of a tab's content.
func (m *MemorySheet) Tab(tab string) [][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.tabs[tab])
}

func clone(rows [][]string) [][]string {
	if rows == nil {
		return nil
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
