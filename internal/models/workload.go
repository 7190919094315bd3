package models

import "time"

// Phase describes where an instance is in its lifecycle.
// Pending instances become running after one reconcile tick;
// terminating and failed instances leave the tracked set on the
// tick that emits their termination action.
type Phase string

const (
	PhasePending     Phase = "pending"
	PhaseRunning     Phase = "running"
	PhaseTerminating Phase = "terminating"
	PhaseFailed      Phase = "failed"
)

// Active reports whether the phase counts toward a workload's
// desired replica total.
func (p Phase) Active() bool {
	return p == PhasePending || p == PhaseRunning
}

// Resources is the per-instance resource envelope. CPU quantities
// are millicores, memory quantities are bytes. Zero means unset.
type Resources struct {
	CPURequest int64 `json:"cpu_request,omitempty"`
	CPULimit   int64 `json:"cpu_limit,omitempty"`
	MemRequest int64 `json:"mem_request,omitempty"`
	MemLimit   int64 `json:"mem_limit,omitempty"`
}

// WorkloadSpec is the desired-state definition for one workload.
// Specs are immutable once submitted; a re-submit with the same
// name replaces the spec wholesale.
type WorkloadSpec struct {
	Name      string            `json:"name"`
	Image     string            `json:"image"`
	Replicas  int               `json:"replicas"`
	Port      int               `json:"port"`
	Resources Resources         `json:"resources"`
	Env       map[string]string `json:"env,omitempty"`
}

// InstanceRecord is one tracked execution of a workload.
// Records are owned by the reconciler; callers only ever see copies.
type InstanceRecord struct {
	ID           string    `json:"id"`
	WorkloadName string    `json:"workload_name"`
	Phase        Phase     `json:"phase"`
	CreatedAt    time.Time `json:"created_at"`
}
