package episode

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/nakamura-labs/kaizen/types"
)

// MemoryTable is an in-memory VectorTable. Suitable for local development,
// tests, and small single-node deployments.
type MemoryTable struct {
	mu     sync.RWMutex
	rows   map[string]Row
	logger *zap.Logger
}

// NewMemoryTable creates an in-memory vector table.
func NewMemoryTable(logger *zap.Logger) *MemoryTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryTable{
		rows:   make(map[string]Row),
		logger: logger.With(zap.String("component", "episode_table_memory")),
	}
}

// Init implements VectorTable.
func (t *MemoryTable) Init(ctx context.Context) error {
	return ctx.Err()
}

// Insert implements VectorTable.
func (t *MemoryTable) Insert(ctx context.Context, row Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[row.ID] = row
	return nil
}

// Get implements VectorTable.
func (t *MemoryTable) Get(ctx context.Context, id string) (*Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[id]
	if !ok {
		return nil, types.NewError(types.ErrEpisodeNotFound, "episode "+id+" not found")
	}
	copied := row
	return &copied, nil
}

// Delete implements VectorTable.
func (t *MemoryTable) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, id)
	return nil
}

// Query implements VectorTable. Results are ordered by ascending cosine
// distance after the filter is applied.
func (t *MemoryTable) Query(ctx context.Context, embedding []float64, limit int, filter RowFilter) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	matches := make([]Match, 0, len(t.rows))
	for _, row := range t.rows {
		if !filter.Matches(row) {
			continue
		}
		matches = append(matches, Match{Row: row, Distance: cosineDistance(embedding, row.Embedding)})
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// List implements VectorTable.
func (t *MemoryTable) List(ctx context.Context) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	rows := make([]Row, 0, len(t.rows))
	for _, row := range t.rows {
		rows = append(rows, row)
	}
	return rows, nil
}

// Count implements VectorTable.
func (t *MemoryTable) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows), nil
}
