package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"opsbridge.org/internal/errs"
)

// Memory is an in-process Store used in tests and when no DSN is configured.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]map[string]Record
	now    func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]map[string]Record), now: time.Now}
}

func (m *Memory) List(_ context.Context, table string) ([]Record, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.tables[table]
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowKey < out[j].RowKey })
	return out, nil
}

func (m *Memory) Upsert(_ context.Context, table string, rec Record) error {
	if err := ValidateTable(table); err != nil {
		return err
	}
	if rec.RowKey == "" {
		return errs.Validation("row key required")
	}
	if rec.PartitionKey == "" {
		rec.PartitionKey = DefaultPartition
	}
	rec.Timestamp = m.now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.tables[table]
	if !ok {
		rows = make(map[string]Record)
		m.tables[table] = rows
	}
	rows[rec.RowKey] = rec
	return nil
}

func (m *Memory) Delete(_ context.Context, table, rowKey string) error {
	if err := ValidateTable(table); err != nil {
		return err
	}
	if rowKey == "" {
		return errs.Validation("id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table][rowKey]; !ok {
		return errs.Mark(errs.Newf("%s/%s not found", table, rowKey), errs.ErrNotFound)
	}
	delete(m.tables[table], rowKey)
	return nil
}
