package reconciler

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/orbit-sh/orbitd/internal/models"
)

var ErrNotFound = errors.New("not found")

// ValidationError reports a malformed workload spec. Submitting again
// without correcting the spec will fail the same way.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid workload spec: %s: %s", e.Field, e.Reason)
}

// Reconciler holds desired workload specs and the observed set of
// instance records, and converges the two one tick at a time.
//
// It is not safe for concurrent use. Tick, Submit, Remove and Fail
// mutate internal state; callers serialize access (the daemon wraps
// the reconciler in a single mutex).
type Reconciler struct {
	specs map[string]models.WorkloadSpec
	// instances in creation order; newest-first eviction walks it backwards.
	instances []*models.InstanceRecord
	byID      map[string]*models.InstanceRecord

	now   func() time.Time
	newID func() string
}

func New() *Reconciler {
	return &Reconciler{
		specs: make(map[string]models.WorkloadSpec),
		byID:  make(map[string]*models.InstanceRecord),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Validate checks a spec without storing it.
func Validate(spec models.WorkloadSpec) error {
	if spec.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if spec.Image == "" {
		return &ValidationError{Field: "image", Reason: "must not be empty"}
	}
	if spec.Replicas < 0 {
		return &ValidationError{Field: "replicas", Reason: fmt.Sprintf("must be non-negative, got %d", spec.Replicas)}
	}
	if spec.Port < 1 || spec.Port > 65535 {
		return &ValidationError{Field: "port", Reason: fmt.Sprintf("must be in 1..65535, got %d", spec.Port)}
	}
	res := spec.Resources
	for _, q := range []struct {
		name string
		val  int64
	}{
		{"resources.cpu_request", res.CPURequest},
		{"resources.cpu_limit", res.CPULimit},
		{"resources.mem_request", res.MemRequest},
		{"resources.mem_limit", res.MemLimit},
	} {
		if q.val < 0 {
			return &ValidationError{Field: q.name, Reason: "must not be negative"}
		}
	}
	if res.CPULimit > 0 && res.CPURequest > res.CPULimit {
		return &ValidationError{Field: "resources.cpu_request", Reason: "request exceeds limit"}
	}
	if res.MemLimit > 0 && res.MemRequest > res.MemLimit {
		return &ValidationError{Field: "resources.mem_request", Reason: "request exceeds limit"}
	}
	return nil
}

// Submit stores a desired workload spec, replacing any existing spec
// with the same name. Instances already tracked for that name are left
// alone; a changed replica count is acted on by the next Tick.
func (r *Reconciler) Submit(spec models.WorkloadSpec) error {
	if err := Validate(spec); err != nil {
		return err
	}
	r.specs[spec.Name] = spec
	return nil
}

// Workloads returns copies of all submitted specs, ordered by name.
func (r *Reconciler) Workloads() []models.WorkloadSpec {
	out := make([]models.WorkloadSpec, 0, len(r.specs))
	for _, name := range r.specNames() {
		out = append(out, r.specs[name])
	}
	return out
}

// Observe returns copies of all tracked instances in creation order.
func (r *Reconciler) Observe() []models.InstanceRecord {
	out := make([]models.InstanceRecord, len(r.instances))
	for i, inst := range r.instances {
		out[i] = *inst
	}
	return out
}

// Tick runs one reconciliation step and returns the ordered actions it
// took; an empty slice means the reconciler is converged. Tick panics
// if a negative replica count reached the reconciler past validation.
func (r *Reconciler) Tick() []models.ReconcileAction {
	actions := []models.ReconcileAction{}

	// Instances pending since the previous tick come up now; one tick
	// of simulated scheduling latency.
	for _, inst := range r.instances {
		if inst.Phase == models.PhasePending {
			inst.Phase = models.PhaseRunning
		}
	}

	// Failure cleanup: failed instances are terminated so the per-
	// workload pass below can replace them.
	for _, inst := range r.instances {
		if inst.Phase == models.PhaseFailed {
			inst.Phase = models.PhaseTerminating
			actions = append(actions, terminate(inst))
		}
	}

	for _, name := range r.specNames() {
		spec := r.specs[name]
		if spec.Replicas < 0 {
			panic(fmt.Sprintf("reconciler: negative replica count %d for workload %q bypassed validation", spec.Replicas, name))
		}

		active := 0
		for _, inst := range r.instances {
			if inst.WorkloadName == name && inst.Phase.Active() {
				active++
			}
		}

		switch {
		case active < spec.Replicas:
			for i := active; i < spec.Replicas; i++ {
				inst := &models.InstanceRecord{
					ID:           r.newID(),
					WorkloadName: name,
					Phase:        models.PhasePending,
					CreatedAt:    r.now(),
				}
				r.instances = append(r.instances, inst)
				r.byID[inst.ID] = inst
				actions = append(actions, models.ReconcileAction{
					Type:         models.ActionCreateInstance,
					WorkloadName: name,
					InstanceID:   inst.ID,
				})
			}
		case active > spec.Replicas:
			// Newest-first eviction: terminate the most recently created
			// instances so the older, settled replicas survive.
			excess := active - spec.Replicas
			for i := len(r.instances) - 1; i >= 0 && excess > 0; i-- {
				inst := r.instances[i]
				if inst.WorkloadName != name || !inst.Phase.Active() {
					continue
				}
				inst.Phase = models.PhaseTerminating
				actions = append(actions, terminate(inst))
				excess--
			}
		}
	}

	// Terminating records leave the tracked set on the same tick that
	// emitted their termination action.
	r.dropTerminating()
	return actions
}

// Remove deletes a workload spec and terminates all of its instances.
func (r *Reconciler) Remove(name string) ([]models.ReconcileAction, error) {
	if _, ok := r.specs[name]; !ok {
		return nil, fmt.Errorf("workload %q: %w", name, ErrNotFound)
	}
	delete(r.specs, name)

	var actions []models.ReconcileAction
	for _, inst := range r.instances {
		if inst.WorkloadName == name && inst.Phase != models.PhaseTerminating {
			inst.Phase = models.PhaseTerminating
			actions = append(actions, terminate(inst))
		}
	}
	r.dropTerminating()
	return actions, nil
}

// Fail marks an instance failed, the external failure signal. Failed
// instances stop counting toward desired replicas and are swept (and
// replaced, if still desired) on the next tick.
func (r *Reconciler) Fail(instanceID string) error {
	inst, ok := r.byID[instanceID]
	if !ok {
		return fmt.Errorf("instance %q: %w", instanceID, ErrNotFound)
	}
	if inst.Phase.Active() {
		inst.Phase = models.PhaseFailed
	}
	return nil
}

// Restore seeds the reconciler from persisted state. Instances are
// re-ordered by creation time so eviction order survives a restart.
func (r *Reconciler) Restore(specs []models.WorkloadSpec, instances []models.InstanceRecord) {
	for _, spec := range specs {
		r.specs[spec.Name] = spec
	}
	sorted := make([]models.InstanceRecord, len(instances))
	copy(sorted, instances)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	for i := range sorted {
		inst := sorted[i]
		r.instances = append(r.instances, &inst)
		r.byID[inst.ID] = &inst
	}
}

func (r *Reconciler) specNames() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Reconciler) dropTerminating() {
	kept := r.instances[:0]
	for _, inst := range r.instances {
		if inst.Phase == models.PhaseTerminating {
			delete(r.byID, inst.ID)
			continue
		}
		kept = append(kept, inst)
	}
	r.instances = kept
}

func terminate(inst *models.InstanceRecord) models.ReconcileAction {
	return models.ReconcileAction{
		Type:         models.ActionTerminateInstance,
		WorkloadName: inst.WorkloadName,
		InstanceID:   inst.ID,
	}
}
