package state

import (
	"context"
	"testing"

	"github.com/schemaflow/schemaflow/internal/registry"
)

func TestMemoryTracker_RecordAndQuery(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()

	record := &MigrationRecord{
		MigrationID: "20240101120000_create_users_postgresql_core",
		Version:     "20240101120000",
		Connection:  "core",
		Backend:     "postgresql",
		Status:      StatusSuccess,
	}
	if err := tracker.RecordMigration(ctx, record); err != nil {
		t.Fatalf("RecordMigration() error = %v", err)
	}

	applied, err := tracker.IsMigrationApplied(ctx, record.MigrationID)
	if err != nil {
		t.Fatalf("IsMigrationApplied() error = %v", err)
	}
	if !applied {
		t.Error("IsMigrationApplied() = false, want true")
	}

	history, err := tracker.GetMigrationHistory(ctx, nil)
	if err != nil {
		t.Fatalf("GetMigrationHistory() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("GetMigrationHistory() returned %d records, want 1", len(history))
	}

	list, err := tracker.GetMigrationList(ctx, &MigrationFilters{Connection: "core"})
	if err != nil {
		t.Fatalf("GetMigrationList() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("GetMigrationList() returned %d items, want 1", len(list))
	}
	if list[0].Name != "create_users" {
		t.Errorf("list item name = %q, want create_users", list[0].Name)
	}
}

func TestMemoryTracker_FailedNotApplied(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()

	record := &MigrationRecord{
		MigrationID: "20240101120000_broken_postgresql_core",
		Version:     "20240101120000",
		Connection:  "core",
		Backend:     "postgresql",
		Status:      StatusFailed,
		ErrorMessage: "syntax error",
	}
	if err := tracker.RecordMigration(ctx, record); err != nil {
		t.Fatalf("RecordMigration() error = %v", err)
	}

	applied, err := tracker.IsMigrationApplied(ctx, record.MigrationID)
	if err != nil {
		t.Fatalf("IsMigrationApplied() error = %v", err)
	}
	if applied {
		t.Error("IsMigrationApplied() = true for failed migration, want false")
	}
}

func TestMemoryTracker_GetLastAppliedVersion(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()

	for _, version := range []string{"20240103120000", "20240101120000", "20240102120000"} {
		record := &MigrationRecord{
			MigrationID: version + "_m_postgresql_core",
			Version:     version,
			Connection:  "core",
			Backend:     "postgresql",
			Status:      StatusSuccess,
		}
		if err := tracker.RecordMigration(ctx, record); err != nil {
			t.Fatalf("RecordMigration() error = %v", err)
		}
	}

	version, err := tracker.GetLastAppliedVersion(ctx, "core")
	if err != nil {
		t.Fatalf("GetLastAppliedVersion() error = %v", err)
	}
	if version != "20240103120000" {
		t.Errorf("GetLastAppliedVersion() = %q, want 20240103120000", version)
	}

	version, err = tracker.GetLastAppliedVersion(ctx, "other")
	if err != nil {
		t.Fatalf("GetLastAppliedVersion() error = %v", err)
	}
	if version != "" {
		t.Errorf("GetLastAppliedVersion() = %q for unknown connection, want empty", version)
	}
}

func TestMemoryTracker_Reindex(t *testing.T) {
	tracker := NewMemoryTracker()
	reg := registry.NewInMemoryRegistry()
	ctx := context.Background()

	_ = reg.Register(&registry.Migration{Version: "20240101120000", Name: "first", Connection: "core", Backend: "postgresql"})
	_ = reg.Register(&registry.Migration{Version: "20240102120000", Name: "second", Connection: "core", Backend: "postgresql"})

	if err := tracker.ReindexMigrations(ctx, reg); err != nil {
		t.Fatalf("ReindexMigrations() error = %v", err)
	}

	list, err := tracker.GetMigrationList(ctx, nil)
	if err != nil {
		t.Fatalf("GetMigrationList() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("GetMigrationList() returned %d items, want 2", len(list))
	}
	for _, item := range list {
		if item.LastStatus != StatusPending {
			t.Errorf("item %s status = %q, want pending", item.MigrationID, item.LastStatus)
		}
		if item.Applied {
			t.Errorf("item %s marked applied before execution", item.MigrationID)
		}
	}
}

func TestMemoryTracker_DeleteMigration(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()

	record := &MigrationRecord{
		MigrationID: "20240101120000_gone_postgresql_core",
		Version:     "20240101120000",
		Connection:  "core",
		Backend:     "postgresql",
		Status:      StatusSuccess,
	}
	_ = tracker.RecordMigration(ctx, record)

	if err := tracker.DeleteMigration(ctx, record.MigrationID); err != nil {
		t.Fatalf("DeleteMigration() error = %v", err)
	}

	list, _ := tracker.GetMigrationList(ctx, nil)
	if len(list) != 0 {
		t.Errorf("GetMigrationList() returned %d items after delete, want 0", len(list))
	}
	history, _ := tracker.GetMigrationHistory(ctx, nil)
	if len(history) != 0 {
		t.Errorf("GetMigrationHistory() returned %d records after delete, want 0", len(history))
	}
}
