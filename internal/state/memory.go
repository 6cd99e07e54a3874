package state

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/schemaflow/schemaflow/internal/registry"
)

// MemoryTracker is an in-memory StateTracker. It backs tests and one-shot CLI
// runs where no state database is configured; state is lost when the process
// exits.
type MemoryTracker struct {
	mu      sync.RWMutex
	list    map[string]*MigrationListItem
	history []*MigrationRecord
	nextID  int
}

// NewMemoryTracker creates a new in-memory state tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		list:   make(map[string]*MigrationListItem),
		nextID: 1,
	}
}

func (t *MemoryTracker) Initialize(ctx context.Context) error {
	return nil
}

func (t *MemoryTracker) RecordMigration(ctx context.Context, record *MigrationRecord) error {
	if record.MigrationID == "" {
		return fmt.Errorf("migration record has no migration ID")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	stored := *record
	stored.ID = fmt.Sprintf("%d", t.nextID)
	t.nextID++
	if stored.AppliedAt == "" {
		stored.AppliedAt = time.Now().Format(time.RFC3339)
	}
	t.history = append(t.history, &stored)

	item, ok := t.list[record.MigrationID]
	if !ok {
		item = &MigrationListItem{
			MigrationID: record.MigrationID,
			Schema:      record.Schema,
			Version:     record.Version,
			Name:        nameFromMigrationID(record.MigrationID),
			Connection:  record.Connection,
			Backend:     record.Backend,
		}
		t.list[record.MigrationID] = item
	}
	item.LastStatus = stored.Status
	item.LastAppliedAt = stored.AppliedAt
	item.LastErrorMessage = stored.ErrorMessage
	item.Applied = stored.Status == StatusSuccess
	return nil
}

func (t *MemoryTracker) GetMigrationHistory(ctx context.Context, filters *MigrationFilters) ([]*MigrationRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var results []*MigrationRecord
	for _, record := range t.history {
		if !matchRecord(record, filters) {
			continue
		}
		copied := *record
		results = append(results, &copied)
	}
	// Newest first, matching the SQL trackers
	sort.Slice(results, func(i, j int) bool {
		return results[i].AppliedAt > results[j].AppliedAt
	})
	return results, nil
}

func (t *MemoryTracker) GetMigrationList(ctx context.Context, filters *MigrationFilters) ([]*MigrationListItem, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var results []*MigrationListItem
	for _, item := range t.list {
		if filters != nil {
			if filters.Schema != "" && item.Schema != filters.Schema {
				continue
			}
			if filters.Connection != "" && item.Connection != filters.Connection {
				continue
			}
			if filters.Backend != "" && item.Backend != filters.Backend {
				continue
			}
			if filters.Status != "" && item.LastStatus != filters.Status {
				continue
			}
			if filters.Version != "" && item.Version != filters.Version {
				continue
			}
		}
		copied := *item
		results = append(results, &copied)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Version < results[j].Version
	})
	return results, nil
}

func (t *MemoryTracker) IsMigrationApplied(ctx context.Context, migrationID string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	item, ok := t.list[migrationID]
	return ok && item.Applied, nil
}

func (t *MemoryTracker) GetLastAppliedVersion(ctx context.Context, connection string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	last := ""
	for _, item := range t.list {
		if connection != "" && item.Connection != connection {
			continue
		}
		if item.Applied && item.Version > last {
			last = item.Version
		}
	}
	return last, nil
}

func (t *MemoryTracker) RegisterPendingMigration(ctx context.Context, migration *registry.Migration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := migration.ID()
	if _, exists := t.list[id]; exists {
		return nil
	}
	t.list[id] = &MigrationListItem{
		MigrationID: id,
		Version:     migration.Version,
		Name:        migration.Name,
		Connection:  migration.Connection,
		Backend:     migration.Backend,
		LastStatus:  StatusPending,
	}
	return nil
}

func (t *MemoryTracker) DeleteMigration(ctx context.Context, migrationID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.list, migrationID)
	remaining := t.history[:0]
	for _, record := range t.history {
		if record.MigrationID != migrationID {
			remaining = append(remaining, record)
		}
	}
	t.history = remaining
	return nil
}

func (t *MemoryTracker) ReindexMigrations(ctx context.Context, reg registry.Registry) error {
	for _, migration := range reg.GetAll() {
		if err := t.RegisterPendingMigration(ctx, migration); err != nil {
			return err
		}
	}
	return nil
}

func (t *MemoryTracker) Close() error {
	return nil
}

func matchRecord(record *MigrationRecord, filters *MigrationFilters) bool {
	if filters == nil {
		return true
	}
	if filters.Schema != "" && record.Schema != filters.Schema {
		return false
	}
	if filters.Connection != "" && record.Connection != filters.Connection {
		return false
	}
	if filters.Backend != "" && record.Backend != filters.Backend {
		return false
	}
	if filters.Status != "" && record.Status != filters.Status {
		return false
	}
	if filters.Version != "" && record.Version != filters.Version {
		return false
	}
	return true
}

// nameFromMigrationID extracts the name portion of
// {version}_{name}_{backend}_{connection}.
func nameFromMigrationID(migrationID string) string {
	parts := strings.Split(migrationID, "_")
	if len(parts) < 4 {
		return migrationID
	}
	return strings.Join(parts[1:len(parts)-2], "_")
}
