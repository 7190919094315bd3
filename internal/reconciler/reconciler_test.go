package reconciler

import (
	"errors"
	"sort"
	"testing"

	"github.com/orbit-sh/orbitd/internal/models"
)

func webSpec(replicas int) models.WorkloadSpec {
	return models.WorkloadSpec{
		Name:     "app",
		Image:    "x:1",
		Replicas: replicas,
		Port:     8000,
	}
}

func activeCount(r *Reconciler, name string) int {
	n := 0
	for _, inst := range r.Observe() {
		if inst.WorkloadName == name && inst.Phase.Active() {
			n++
		}
	}
	return n
}

func TestSubmitValidation(t *testing.T) {
	cases := []struct {
		name string
		spec models.WorkloadSpec
	}{
		{"empty name", models.WorkloadSpec{Image: "x:1", Replicas: 1, Port: 80}},
		{"empty image", models.WorkloadSpec{Name: "a", Replicas: 1, Port: 80}},
		{"negative replicas", models.WorkloadSpec{Name: "a", Image: "x:1", Replicas: -1, Port: 80}},
		{"port too high", models.WorkloadSpec{Name: "a", Image: "x:1", Replicas: 1, Port: 70000}},
		{"port zero", models.WorkloadSpec{Name: "a", Image: "x:1", Replicas: 1, Port: 0}},
		{"cpu request over limit", models.WorkloadSpec{
			Name: "a", Image: "x:1", Replicas: 1, Port: 80,
			Resources: models.Resources{CPURequest: 500, CPULimit: 250},
		}},
		{"negative mem request", models.WorkloadSpec{
			Name: "a", Image: "x:1", Replicas: 1, Port: 80,
			Resources: models.Resources{MemRequest: -1},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := New()
			err := r.Submit(tc.spec)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if len(r.Workloads()) != 0 {
				t.Fatal("rejected spec must not be stored")
			}
		})
	}
}

func TestConvergenceScenario(t *testing.T) {
	r := New()
	if err := r.Submit(webSpec(3)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// First tick creates the full deficit as pending instances.
	actions := r.Tick()
	if len(actions) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(actions))
	}
	for _, a := range actions {
		if a.Type != models.ActionCreateInstance || a.WorkloadName != "app" {
			t.Fatalf("unexpected action %+v", a)
		}
	}
	for _, inst := range r.Observe() {
		if inst.Phase != models.PhasePending {
			t.Fatalf("expected pending after first tick, got %s", inst.Phase)
		}
	}

	// Second tick promotes to running and is otherwise a no-op.
	if actions := r.Tick(); len(actions) != 0 {
		t.Fatalf("expected converged tick, got %d actions", len(actions))
	}
	for _, inst := range r.Observe() {
		if inst.Phase != models.PhaseRunning {
			t.Fatalf("expected running after second tick, got %s", inst.Phase)
		}
	}

	// Scale down to 1: the two newest instances go first.
	before := r.Observe()
	if err := r.Submit(webSpec(1)); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	actions = r.Tick()
	if len(actions) != 2 {
		t.Fatalf("expected 2 terminations, got %d", len(actions))
	}
	if actions[0].InstanceID != before[2].ID || actions[1].InstanceID != before[1].ID {
		t.Fatalf("expected newest-first eviction, got %+v", actions)
	}
	left := r.Observe()
	if len(left) != 1 || left[0].ID != before[0].ID {
		t.Fatalf("expected the oldest instance to survive, got %+v", left)
	}
}

func TestTickIdempotentOnceConverged(t *testing.T) {
	r := New()
	if err := r.Submit(webSpec(4)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	r.Tick()
	r.Tick()
	for i := 0; i < 5; i++ {
		if actions := r.Tick(); len(actions) != 0 {
			t.Fatalf("tick %d: expected no actions, got %+v", i, actions)
		}
	}
	if n := activeCount(r, "app"); n != 4 {
		t.Fatalf("expected 4 active instances, got %d", n)
	}
}

func TestConvergenceToZero(t *testing.T) {
	r := New()
	if err := r.Submit(webSpec(0)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if actions := r.Tick(); len(actions) != 0 {
		t.Fatalf("replicas=0 should converge immediately, got %+v", actions)
	}
}

func TestEvictionOrderFiveToTwo(t *testing.T) {
	r := New()
	if err := r.Submit(webSpec(5)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	r.Tick()
	r.Tick()
	created := r.Observe()
	if len(created) != 5 {
		t.Fatalf("expected 5 instances, got %d", len(created))
	}

	if err := r.Submit(webSpec(2)); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	actions := r.Tick()
	if len(actions) != 3 {
		t.Fatalf("expected 3 terminations, got %d", len(actions))
	}
	// Most recently created terminated first.
	for i, want := range []string{created[4].ID, created[3].ID, created[2].ID} {
		if actions[i].Type != models.ActionTerminateInstance || actions[i].InstanceID != want {
			t.Fatalf("action %d: got %+v, want termination of %s", i, actions[i], want)
		}
	}
	left := r.Observe()
	if len(left) != 2 || left[0].ID != created[0].ID || left[1].ID != created[1].ID {
		t.Fatalf("expected the two oldest instances to survive, got %+v", left)
	}
}

func TestUpsertPreservesInstances(t *testing.T) {
	r := New()
	if err := r.Submit(webSpec(2)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	r.Tick()
	r.Tick()
	before := r.Observe()

	// Same replica count, new image and env: no restart.
	spec := webSpec(2)
	spec.Image = "x:2"
	spec.Env = map[string]string{"MODE": "canary"}
	if err := r.Submit(spec); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if actions := r.Tick(); len(actions) != 0 {
		t.Fatalf("upsert must not restart instances, got %+v", actions)
	}
	after := r.Observe()
	if len(after) != 2 || after[0].ID != before[0].ID || after[1].ID != before[1].ID {
		t.Fatalf("instances changed across upsert: %+v vs %+v", before, after)
	}
	if got := r.Workloads()[0].Image; got != "x:2" {
		t.Fatalf("spec not replaced, image = %s", got)
	}
}

func TestRemoveTerminatesAll(t *testing.T) {
	r := New()
	if err := r.Submit(webSpec(3)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	r.Tick()

	actions, err := r.Remove("app")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(actions) != 3 {
		t.Fatalf("expected 3 terminations, got %d", len(actions))
	}
	if got := len(r.Observe()); got != 0 {
		t.Fatalf("expected no tracked instances, got %d", got)
	}
	if actions := r.Tick(); len(actions) != 0 {
		t.Fatalf("expected converged tick after remove, got %+v", actions)
	}

	if _, err := r.Remove("app"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFailedInstanceIsReplacedNextTick(t *testing.T) {
	r := New()
	if err := r.Submit(webSpec(2)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	r.Tick()
	r.Tick()
	victim := r.Observe()[0]

	if err := r.Fail(victim.ID); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := r.Fail("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	actions := r.Tick()
	if len(actions) != 2 {
		t.Fatalf("expected cleanup + replacement, got %+v", actions)
	}
	if actions[0].Type != models.ActionTerminateInstance || actions[0].InstanceID != victim.ID {
		t.Fatalf("expected termination of failed instance first, got %+v", actions[0])
	}
	if actions[1].Type != models.ActionCreateInstance {
		t.Fatalf("expected replacement create, got %+v", actions[1])
	}

	r.Tick()
	if n := activeCount(r, "app"); n != 2 {
		t.Fatalf("expected 2 active after recovery, got %d", n)
	}
}

func TestObserveReturnsCopies(t *testing.T) {
	r := New()
	if err := r.Submit(webSpec(1)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	r.Tick()

	got := r.Observe()
	got[0].Phase = models.PhaseFailed
	if r.Observe()[0].Phase != models.PhasePending {
		t.Fatal("Observe leaked internal state")
	}
}

func TestTickPanicsOnBypassedValidation(t *testing.T) {
	r := New()
	r.specs["bad"] = models.WorkloadSpec{Name: "bad", Image: "x:1", Replicas: -2, Port: 80}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on negative replica count")
		}
	}()
	r.Tick()
}

func TestRestoreKeepsCreationOrder(t *testing.T) {
	r := New()
	if err := r.Submit(webSpec(3)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	r.Tick()
	r.Tick()
	specs := r.Workloads()
	instances := r.Observe()

	// Feed a shuffled copy into a fresh reconciler.
	shuffled := []models.InstanceRecord{instances[2], instances[0], instances[1]}
	r2 := New()
	r2.Restore(specs, shuffled)

	expected := make([]models.InstanceRecord, len(instances))
	copy(expected, instances)
	sort.Slice(expected, func(i, j int) bool {
		if !expected[i].CreatedAt.Equal(expected[j].CreatedAt) {
			return expected[i].CreatedAt.Before(expected[j].CreatedAt)
		}
		return expected[i].ID < expected[j].ID
	})
	restored := r2.Observe()
	for i := range expected {
		if restored[i].ID != expected[i].ID {
			t.Fatalf("order lost at %d: got %s want %s", i, restored[i].ID, expected[i].ID)
		}
	}
	if actions := r2.Tick(); len(actions) != 0 {
		t.Fatalf("restored reconciler should be converged, got %+v", actions)
	}
}
