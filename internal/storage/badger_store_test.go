package storage

import (
	"context"
	"testing"
	"time"

	"github.com/orbit-sh/orbitd/internal/models"
)

func TestWorkloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()

	store, err := NewBadgerStore(path)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}

	spec := models.WorkloadSpec{
		Name:     "web",
		Image:    "nginx:1.25",
		Replicas: 3,
		Port:     8080,
		Resources: models.Resources{
			CPURequest: 250, CPULimit: 500,
			MemRequest: 64 << 20, MemLimit: 128 << 20,
		},
		Env: map[string]string{"LOG_LEVEL": "debug"},
	}
	if err := store.SaveWorkload(ctx, spec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen: data survives the restart.
	store, err = NewBadgerStore(path)
	if err != nil {
		t.Fatalf("reopen badger: %v", err)
	}
	defer store.Close()

	specs, err := store.ListWorkloads(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("expected 1 workload, got %d", len(specs))
	}
	got := specs[0]
	if got.Name != spec.Name || got.Image != spec.Image || got.Replicas != spec.Replicas {
		t.Fatalf("workload mismatch: %+v", got)
	}
	if got.Resources != spec.Resources {
		t.Fatalf("resources mismatch: %+v", got.Resources)
	}
	if got.Env["LOG_LEVEL"] != "debug" {
		t.Fatalf("env mismatch: %+v", got.Env)
	}

	if err := store.DeleteWorkload(ctx, "web"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	specs, err = store.ListWorkloads(ctx)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(specs) != 0 {
		t.Fatalf("expected empty list, got %d", len(specs))
	}
}

func TestInstanceRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	defer store.Close()

	recs := []models.InstanceRecord{
		{ID: "i-1", WorkloadName: "web", Phase: models.PhaseRunning, CreatedAt: time.Now().UTC()},
		{ID: "i-2", WorkloadName: "web", Phase: models.PhasePending, CreatedAt: time.Now().UTC()},
	}
	for _, rec := range recs {
		if err := store.SaveInstance(ctx, rec); err != nil {
			t.Fatalf("save %s: %v", rec.ID, err)
		}
	}

	got, err := store.ListInstances(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(got))
	}

	if err := store.DeleteInstance(ctx, "i-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = store.ListInstances(ctx)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(got) != 1 || got[0].ID != "i-2" {
		t.Fatalf("unexpected instances after delete: %+v", got)
	}

	// Deleting an absent key is a no-op, not an error.
	if err := store.DeleteInstance(ctx, "i-404"); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
}
