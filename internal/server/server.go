package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/orbit-sh/orbitd/internal/metrics"
	"github.com/orbit-sh/orbitd/internal/models"
	natsclient "github.com/orbit-sh/orbitd/internal/nats"
	"github.com/orbit-sh/orbitd/internal/reconciler"
	"github.com/orbit-sh/orbitd/internal/storage"
)

// Server owns the reconciler and everything around it: persistence,
// event publishing, metrics and tracing. All reconciler access goes
// through the server's single mutex; ticks never overlap with each
// other or with submits and removes.
type Server struct {
	mu     sync.Mutex
	rec    *reconciler.Reconciler
	store  storage.Store
	pub    *natsclient.Publisher // nil when NATS is disabled
	log    *zap.SugaredLogger
	tracer trace.Tracer
}

func New(store storage.Store, pub *natsclient.Publisher, log *zap.SugaredLogger) *Server {
	return &Server{
		rec:    reconciler.New(),
		store:  store,
		pub:    pub,
		log:    log,
		tracer: otel.Tracer("orbitd/server"),
	}
}

// Restore reloads persisted workloads and instances into the reconciler.
// Called once before the daemon starts serving.
func (s *Server) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	specs, err := s.store.ListWorkloads(ctx)
	if err != nil {
		return fmt.Errorf("list workloads: %w", err)
	}
	instances, err := s.store.ListInstances(ctx)
	if err != nil {
		return fmt.Errorf("list instances: %w", err)
	}
	s.rec.Restore(specs, instances)
	s.updateInstanceGauge()
	if len(specs) > 0 || len(instances) > 0 {
		s.log.Infow("state restored", "workloads", len(specs), "instances", len(instances))
	}
	return nil
}

// Apply validates and stores a workload spec (idempotent upsert).
func (s *Server) Apply(ctx context.Context, spec models.WorkloadSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rec.Submit(spec); err != nil {
		return err
	}
	if err := s.store.SaveWorkload(ctx, spec); err != nil {
		return fmt.Errorf("persist workload %q: %w", spec.Name, err)
	}
	s.publish(ctx, map[string]any{
		"event":    "workload.applied",
		"workload": spec.Name,
		"replicas": spec.Replicas,
		"time":     time.Now().Unix(),
	})
	return nil
}

// Remove deletes a workload and terminates all of its instances.
func (s *Server) Remove(ctx context.Context, name string) ([]models.ReconcileAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	actions, err := s.rec.Remove(name)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteWorkload(ctx, name); err != nil {
		return nil, fmt.Errorf("delete workload %q: %w", name, err)
	}
	for _, a := range actions {
		if err := s.store.DeleteInstance(ctx, a.InstanceID); err != nil {
			return nil, fmt.Errorf("delete instance %q: %w", a.InstanceID, err)
		}
	}
	s.recordActions(ctx, actions)
	s.updateInstanceGauge()
	s.publish(ctx, map[string]any{
		"event":    "workload.removed",
		"workload": name,
		"time":     time.Now().Unix(),
	})
	return actions, nil
}

// Workloads lists the submitted specs.
func (s *Server) Workloads() []models.WorkloadSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Workloads()
}

// Instances lists tracked instances, optionally filtered by workload.
func (s *Server) Instances(workload string) []models.InstanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.rec.Observe()
	if workload == "" {
		return all
	}
	out := all[:0]
	for _, inst := range all {
		if inst.WorkloadName == workload {
			out = append(out, inst)
		}
	}
	return out
}

// FailInstance injects the external failure signal for one instance.
func (s *Server) FailInstance(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rec.Fail(id); err != nil {
		return err
	}
	for _, inst := range s.rec.Observe() {
		if inst.ID == id {
			if err := s.store.SaveInstance(ctx, inst); err != nil {
				return fmt.Errorf("persist instance %q: %w", id, err)
			}
			break
		}
	}
	s.updateInstanceGauge()
	return nil
}

// RunTick runs one serialized reconcile step, persists the resulting
// instance set and publishes the emitted actions.
func (s *Server) RunTick(ctx context.Context) ([]models.ReconcileAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "reconcile.tick")
	defer span.End()

	before := make(map[string]struct{})
	for _, inst := range s.rec.Observe() {
		before[inst.ID] = struct{}{}
	}

	actions := s.rec.Tick()
	metrics.TicksTotal.Inc()

	// Persist the surviving set and drop records the tick removed.
	after := s.rec.Observe()
	for _, inst := range after {
		if err := s.store.SaveInstance(ctx, inst); err != nil {
			return nil, fmt.Errorf("persist instance %q: %w", inst.ID, err)
		}
		delete(before, inst.ID)
	}
	for id := range before {
		if err := s.store.DeleteInstance(ctx, id); err != nil {
			return nil, fmt.Errorf("delete instance %q: %w", id, err)
		}
	}

	s.recordActions(ctx, actions)
	s.updateInstanceGauge()
	span.SetAttributes(
		attribute.Int("actions", len(actions)),
		attribute.Int("instances", len(after)),
	)
	return actions, nil
}

// recordActions bumps the action counters and publishes one event per
// action. Publish failures are logged, never fatal: the executor can
// re-derive intent from the next tick.
func (s *Server) recordActions(ctx context.Context, actions []models.ReconcileAction) {
	for _, a := range actions {
		metrics.ActionsTotal.WithLabelValues(string(a.Type)).Inc()
		s.publish(ctx, map[string]any{
			"event":       string(a.Type),
			"workload":    a.WorkloadName,
			"instance_id": a.InstanceID,
			"time":        time.Now().Unix(),
		})
	}
}

func (s *Server) publish(ctx context.Context, event map[string]any) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishEvent(ctx, event); err != nil {
		s.log.Warnw("publish failed", "event", event["event"], "err", err)
	}
}

func (s *Server) updateInstanceGauge() {
	counts := map[models.Phase]int{
		models.PhasePending: 0,
		models.PhaseRunning: 0,
		models.PhaseFailed:  0,
	}
	for _, inst := range s.rec.Observe() {
		counts[inst.Phase]++
	}
	for phase, n := range counts {
		metrics.TrackedInstances.WithLabelValues(string(phase)).Set(float64(n))
	}
}
