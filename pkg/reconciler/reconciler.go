// Package reconciler turns observed container state and scenario requests
// into persisted Model, Package, and Scenario state. Work is sharded by
// resource key across a fixed pool of goroutines so that events for the
// same Package are always processed in arrival order, while unrelated
// Packages reconcile concurrently.
package reconciler

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/piccolo-edge/piccolo/pkg/config"
	"github.com/piccolo-edge/piccolo/pkg/log"
	"github.com/piccolo-edge/piccolo/pkg/metrics"
	"github.com/piccolo-edge/piccolo/pkg/piccoloerr"
	"github.com/piccolo-edge/piccolo/pkg/statemachine"
	"github.com/piccolo-edge/piccolo/pkg/statestore"
	"github.com/piccolo-edge/piccolo/pkg/types"
	"github.com/rs/zerolog"
)

// ingressTimeout bounds how long Submit blocks on a full shard inbox before
// giving up and dropping the event.
const ingressTimeout = time.Second

// parkedDrainInterval is how often parked events are retried against the
// store.
const parkedDrainInterval = 2 * time.Second

// Notifier delivers a best-effort side-effect when a Package's derived
// state becomes Error or Degraded. A failure to notify never blocks or
// fails reconciliation; it is only logged.
type Notifier interface {
	NotifyPackageProblem(ctx context.Context, packageName string, state types.PackageState) error
}

// Reconciler is the sharded, event-driven engine that keeps Model, Package,
// and Scenario state consistent with the facts events report.
type Reconciler struct {
	store    statestore.Store
	notifier Notifier
	cfg      *config.Config
	logger   zerolog.Logger

	shards []chan Event
	parked chan Event
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Reconciler with cfg.ShardCount shards, each bounded by
// cfg.InboxCapacity. notifier may be nil, in which case Package problems are
// only logged.
func New(store statestore.Store, notifier Notifier, cfg *config.Config) *Reconciler {
	r := &Reconciler{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   log.WithComponent("reconciler"),
		shards:   make([]chan Event, cfg.ShardCount),
		parked:   make(chan Event, cfg.ParkedQueueCapacity),
		stopCh:   make(chan struct{}),
	}
	for i := range r.shards {
		r.shards[i] = make(chan Event, cfg.InboxCapacity)
	}
	return r
}

// Start launches one goroutine per shard plus the parked-queue drainer.
func (r *Reconciler) Start(ctx context.Context) {
	for i, inbox := range r.shards {
		r.wg.Add(1)
		go r.runShard(ctx, i, inbox)
	}
	r.wg.Add(1)
	go r.drainParked(ctx)
	r.logger.Info().Int("shards", len(r.shards)).Msg("reconciler started")
}

// Stop signals every shard and the drainer to exit and waits for them.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info().Msg("reconciler stopped")
}

// Submit routes ev to the shard its key hashes to. If that shard's inbox
// stays full for longer than ingressTimeout, ev is dropped and counted.
func (r *Reconciler) Submit(ev Event) {
	idx := shardIndex(ev.shardKey(), len(r.shards))
	select {
	case r.shards[idx] <- ev:
		metrics.ShardInboxDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(r.shards[idx])))
	case <-time.After(ingressTimeout):
		metrics.ReconcileDroppedTotal.WithLabelValues(metricsKind(ev)).Inc()
		r.logger.Warn().Str("shardKey", ev.shardKey()).Str("source", string(ev.Source)).
			Msg("event dropped: shard inbox full past ingress timeout")
	}
}

func shardIndex(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % n
}

func metricsKind(ev Event) string {
	if ev.Kind != "" {
		return string(ev.Kind)
	}
	return string(ev.Source)
}

func (r *Reconciler) runShard(ctx context.Context, idx int, inbox chan Event) {
	defer r.wg.Done()
	for {
		select {
		case ev := <-inbox:
			metrics.ShardInboxDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(inbox)))
			r.process(ctx, ev)
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// drainParked periodically resubmits parked events. An event parked because
// the store was unavailable either succeeds this time or is parked again;
// it is never silently lost except under sustained overflow, at which point
// the oldest parked event is dropped to make room.
func (r *Reconciler) drainParked(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(parkedDrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pending := len(r.parked)
			for i := 0; i < pending; i++ {
				select {
				case ev := <-r.parked:
					r.process(ctx, ev)
				default:
				}
			}
			metrics.ParkedQueueDepth.Set(float64(len(r.parked)))
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// park queues ev for later retry, dropping the oldest parked event if full.
func (r *Reconciler) park(ev Event) {
	select {
	case r.parked <- ev:
	default:
		select {
		case old := <-r.parked:
			metrics.ReconcileDroppedTotal.WithLabelValues(metricsKind(old)).Inc()
		default:
		}
		select {
		case r.parked <- ev:
		default:
		}
	}
	metrics.ParkedQueueDepth.Set(float64(len(r.parked)))
}

// process runs the full six-step contract for one event: load the minimal
// affected subtree, derive new state, skip unchanged state, CAS-write with
// retry, cascade a Model change into its owning Package, and raise a
// best-effort notification if the Package lands in Error or Degraded.
func (r *Reconciler) process(ctx context.Context, ev Event) {
	timer := metrics.NewTimer()
	kind := metricsKind(ev)
	defer timer.ObserveDurationVec(metrics.ReconcileDuration, kind)

	var err error
	switch ev.Source {
	case SourceContainerStatus:
		err = r.processContainerStatus(ctx, ev)
	case SourceScenarioRequest:
		err = r.processScenarioRequest(ev)
	case SourceRegistry:
		err = r.processRegistryEvent(ev)
	case SourceDispatchTick:
		err = r.processDispatchTick(ev)
	default:
		r.logger.Warn().Str("source", string(ev.Source)).Msg("unrecognized event source")
		return
	}

	switch {
	case err == nil:
		return
	case piccoloerr.Is(err, piccoloerr.CodeUnavailable):
		r.park(ev)
		metrics.ReconcileEventsTotal.WithLabelValues(kind, "parked").Inc()
	case piccoloerr.Is(err, piccoloerr.CodeConflict):
		metrics.ReconcileDroppedTotal.WithLabelValues(kind).Inc()
		metrics.ReconcileEventsTotal.WithLabelValues(kind, "dropped").Inc()
		r.logger.Warn().Err(err).Str("shardKey", ev.shardKey()).Msg("event dropped after exhausting CAS retries")
	default:
		metrics.ReconcileEventsTotal.WithLabelValues(kind, "error").Inc()
		r.logger.Error().Err(err).Str("shardKey", ev.shardKey()).Msg("reconcile event failed")
	}
}

// withCASRetry calls fn up to retries+1 times, stopping as soon as fn
// succeeds or fails with anything other than a CAS conflict. fn must
// re-read the current revision and recompute on every call.
func withCASRetry(kind types.Kind, retries int, fn func() error) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		err = fn()
		if err == nil || !piccoloerr.Is(err, piccoloerr.CodeConflict) {
			return err
		}
		metrics.ReconcileRetriesTotal.WithLabelValues(string(kind)).Inc()
	}
	return err
}

// processContainerStatus derives a Model's new state from ev.ContainerStates,
// writes it if changed, and cascades the change into the owning Package.
func (r *Reconciler) processContainerStatus(ctx context.Context, ev Event) error {
	changed, err := r.reconcileModel(ev)
	if err != nil {
		return err
	}
	if !changed || ev.PackageName == "" {
		return nil
	}

	state, pkgChanged, err := r.reconcilePackageCascade(ev.PackageName)
	if err != nil {
		return err
	}
	if pkgChanged && (state == types.PackageStateError || state == types.PackageStateDegraded) {
		r.notifyPackageProblem(ctx, ev.PackageName, state)
	}
	return nil
}

func (r *Reconciler) reconcileModel(ev Event) (bool, error) {
	var changed bool
	err := withCASRetry(types.KindModel, r.cfg.ReconcileRetries, func() error {
		stored, gerr := r.store.GetArtifact(types.KindModel, ev.ResourceName)
		if gerr != nil {
			return gerr
		}

		newState := statemachine.DeriveModel(ev.ContainerStates)
		if stored.Artifact.Model.State == newState {
			changed = false
			return nil
		}

		updated := stored.Artifact
		updated.Model.State = newState
		updated.Model.UpdatedAt = time.Now()
		changed = true
		_, perr := r.store.PutArtifact(types.KindModel, ev.ResourceName, &updated, stored.Revision)
		return perr
	})
	return changed, err
}

// reconcilePackageCascade re-derives a Package's state from the current
// State of every Model it lists. A Model that can no longer be found counts
// as Dead for cascade purposes rather than aborting the cascade.
func (r *Reconciler) reconcilePackageCascade(packageName string) (types.PackageState, bool, error) {
	var newState types.PackageState
	var changed bool

	err := withCASRetry(types.KindPackage, r.cfg.ReconcileRetries, func() error {
		stored, gerr := r.store.GetArtifact(types.KindPackage, packageName)
		if gerr != nil {
			return gerr
		}

		if len(stored.Artifact.Package.Models) == 0 {
			// A Package with no Models yet stays at whatever state it was
			// persisted in (idle) rather than being derived and overwritten.
			newState = stored.Artifact.Package.State
			changed = false
			return nil
		}

		states := make([]types.ModelState, 0, len(stored.Artifact.Package.Models))
		for _, ref := range stored.Artifact.Package.Models {
			model, merr := r.store.GetArtifact(types.KindModel, ref.ModelName)
			if merr != nil {
				states = append(states, types.ModelStateDead)
				continue
			}
			states = append(states, model.Artifact.Model.State)
		}

		newState = statemachine.DerivePackage(states)
		if stored.Artifact.Package.State == newState {
			changed = false
			return nil
		}

		updated := stored.Artifact
		updated.Package.State = newState
		updated.Package.UpdatedAt = time.Now()
		changed = true
		_, perr := r.store.PutArtifact(types.KindPackage, packageName, &updated, stored.Revision)
		return perr
	})
	return newState, changed, err
}

func (r *Reconciler) notifyPackageProblem(ctx context.Context, packageName string, state types.PackageState) {
	if r.notifier == nil {
		r.logger.Warn().Str("package", packageName).Str("state", string(state)).
			Msg("package entered a problem state, no notifier configured")
		return
	}
	if err := r.notifier.NotifyPackageProblem(ctx, packageName, state); err != nil {
		r.logger.Warn().Err(err).Str("package", packageName).Msg("failed to deliver package problem notification")
	}
}

// processScenarioRequest applies one requested Scenario transition.
func (r *Reconciler) processScenarioRequest(ev Event) error {
	return withCASRetry(types.KindScenario, r.cfg.ReconcileRetries, func() error {
		stored, gerr := r.store.GetArtifact(types.KindScenario, ev.ResourceName)
		if gerr != nil {
			return gerr
		}

		next, terr := statemachine.TransitionScenario(stored.Artifact.Scenario.State, ev.ScenarioNewState, ev.TransitionID)
		if terr != nil {
			return terr
		}

		updated := stored.Artifact
		updated.Scenario.State = next
		updated.Scenario.UpdatedAt = time.Now()
		_, perr := r.store.PutArtifact(types.KindScenario, ev.ResourceName, &updated, stored.Revision)
		return perr
	})
}

// ApplyScenarioTransition applies one requested Scenario transition
// synchronously and returns the resulting state, for RPC callers
// (SetScenarioState) that need the outcome in their response rather than
// the fire-and-forget path Submit/processScenarioRequest give event
// sources like a watch-triggered re-request.
func (r *Reconciler) ApplyScenarioTransition(name string, newState types.ScenarioState, transitionID string) (types.ScenarioState, error) {
	var result types.ScenarioState
	var transitionErr error

	err := withCASRetry(types.KindScenario, r.cfg.ReconcileRetries, func() error {
		stored, gerr := r.store.GetArtifact(types.KindScenario, name)
		if gerr != nil {
			return gerr
		}

		next, terr := statemachine.TransitionScenario(stored.Artifact.Scenario.State, newState, transitionID)
		if terr != nil {
			transitionErr = terr
			result = stored.Artifact.Scenario.State
			return nil
		}

		updated := stored.Artifact
		updated.Scenario.State = next
		updated.Scenario.UpdatedAt = time.Now()
		if _, perr := r.store.PutArtifact(types.KindScenario, name, &updated, stored.Revision); perr != nil {
			return perr
		}
		result = next
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, transitionErr
}

// processRegistryEvent observes a node liveness change. Nothing in the data
// model ties a Container's derived state to its node's liveness directly
// (HeartbeatSupervisor owns that transition), so this is a logging hook for
// now: a future resync pass would re-derive every Model scheduled on a node
// that just went NotReady.
func (r *Reconciler) processRegistryEvent(ev Event) error {
	r.logger.Debug().Str("resource", ev.ResourceName).Msg("observed registry event")
	return nil
}

// processDispatchTick retries a previously deferred or failed dispatch.
// Locating the dispatch markers artifact.Intake leaves behind requires
// listing blobs by prefix, which statestore.Store does not expose; wiring
// that through is left for the component that owns the dispatch markers.
func (r *Reconciler) processDispatchTick(ev Event) error {
	r.logger.Debug().Str("resource", ev.ResourceName).Msg("dispatch tick observed")
	return nil
}
