package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/limiquantix/servicecluster/internal/domain"
)

func TestHostRepository_UpsertByMAC(t *testing.T) {
	repo := NewHostRepository()
	ctx := context.Background()

	demo := DemoHosts()
	first, created, err := repo.UpsertByMAC(ctx, demo[0])
	if err != nil {
		t.Fatalf("UpsertByMAC failed: %v", err)
	}
	if !created || first.ID != 1 {
		t.Fatalf("Expected new host with ID 1, got created=%v id=%d", created, first.ID)
	}

	changed := demo[0].Clone()
	changed.AvailableDiskGB = 10
	second, created, err := repo.UpsertByMAC(ctx, changed)
	if err != nil {
		t.Fatalf("UpsertByMAC failed: %v", err)
	}
	if created {
		t.Error("Expected existing host to be updated")
	}
	if second.ID != first.ID || second.AvailableDiskGB != 10 {
		t.Errorf("Expected host %d with 10 GB free, got %d with %d", first.ID, second.ID, second.AvailableDiskGB)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("Expected created_at to be preserved")
	}

	// Returned values are copies.
	second.Name = "mutated"
	stored, _ := repo.Get(ctx, first.ID)
	if stored.Name != "Cluster-1" {
		t.Errorf("Expected stored name Cluster-1, got %s", stored.Name)
	}
}

func TestHostRepository_Conflicts(t *testing.T) {
	repo := NewHostRepository()
	ctx := context.Background()
	repo.SeedDemoData()

	clash := DemoHosts()[1].Clone()
	clash.MACAddress = "02:00:00:00:00:01"
	if _, _, err := repo.UpsertByMAC(ctx, clash); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Expected ErrConflict for duplicate IP, got %v", err)
	}

	update := DemoHosts()[0].Clone()
	update.MACAddress = DemoHosts()[2].MACAddress
	if _, err := repo.Update(ctx, 1, update); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Expected ErrConflict for duplicate MAC, got %v", err)
	}

	if _, err := repo.Update(ctx, 42, DemoHosts()[0]); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestHostRepository_Queries(t *testing.T) {
	repo := NewHostRepository()
	ctx := context.Background()
	repo.SeedDemoData()
	repo.SeedDemoData()

	all, _ := repo.List(ctx)
	if len(all) != 3 {
		t.Fatalf("Expected 3 hosts after seeding twice, got %d", len(all))
	}
	for i, h := range all {
		if h.ID != int64(i+1) {
			t.Errorf("Expected ordered IDs, position %d has %d", i, h.ID)
		}
	}

	found, _ := repo.SearchByName(ctx, "-2")
	if len(found) != 1 || found[0].Name != "Cluster-2" {
		t.Errorf("Expected Cluster-2, got %v", found)
	}
	if found, _ := repo.SearchByName(ctx, "cluster"); len(found) != 0 {
		t.Errorf("Expected case-sensitive search, got %d hosts", len(found))
	}

	drained := all[2].Clone()
	drained.AvailableCPUPercent = 0
	if _, err := repo.Update(ctx, drained.ID, drained); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	available, _ := repo.ListAvailable(ctx)
	if len(available) != 2 {
		t.Errorf("Expected 2 available hosts, got %d", len(available))
	}

	if err := repo.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := repo.Delete(ctx, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}
