package models

// ActionType is the kind of corrective step a tick emits.
type ActionType string

const (
	ActionCreateInstance    ActionType = "create_instance"
	ActionTerminateInstance ActionType = "terminate_instance"
)

// ReconcileAction is one corrective step produced by a tick. Actions
// are values; they are produced once and never mutated. An external
// executor is expected to translate them into container runtime calls.
type ReconcileAction struct {
	Type         ActionType `json:"type"`
	WorkloadName string     `json:"workload_name"`
	InstanceID   string     `json:"instance_id"`
}
