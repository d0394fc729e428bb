// Package artifact implements bundle parsing and ArtifactIntake: the
// six-step algorithm that turns a submitted YAML bundle into persisted
// Scenario/Package/Model spec and state keys, plus best-effort dispatch to
// the nodes those Models target.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/piccolo-edge/piccolo/pkg/piccoloerr"
	"github.com/piccolo-edge/piccolo/pkg/statestore"
	"github.com/piccolo-edge/piccolo/pkg/types"
)

// NodeResolver resolves a Model's target node name to a node id, and
// reports whether that node is expected to be statically pre-registered
// (an unresolved static node is fatal) or dynamic (an unresolved dynamic
// node is only deferred).
type NodeResolver interface {
	Resolve(nodeName string) (nodeID string, static bool, found bool)
}

// DispatchRequest is everything Dispatch needs to push a Model's artifact
// to the node it targets.
type DispatchRequest struct {
	NodeID   string
	Artifact *types.Artifact
}

// Dispatcher pushes an artifact to a node, best-effort, and notifies a node
// when an artifact it holds should be removed. A returned error does not
// roll back the already-persisted spec; Intake leaves a /dispatch marker
// for the deferred-dispatch tick to retry.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) error
	NotifyRemoval(ctx context.Context, nodeID string, kind types.Kind, name string) error
}

const intakeBlobBucket = "intake"
const dispatchBlobBucket = "dispatch"

// Intake is the master-side entry point for applying and removing bundles.
type Intake struct {
	store      statestore.Store
	resolver   NodeResolver
	dispatcher Dispatcher
}

// New creates an Intake over store, resolving Model target nodes via
// resolver and pushing accepted artifacts via dispatcher.
func New(store statestore.Store, resolver NodeResolver, dispatcher Dispatcher) *Intake {
	return &Intake{store: store, resolver: resolver, dispatcher: dispatcher}
}

// kindName is the (kind,name) key a bundle may not repeat.
type kindName struct {
	kind types.Kind
	name string
}

// Apply runs the six ArtifactIntake steps over raw, a bundle of
// "---"-delimited YAML documents.
func (in *Intake) Apply(ctx context.Context, raw []byte) error {
	bundleID := bundleDigest(raw)

	if applied, err := in.alreadyApplied(bundleID); err != nil {
		return err
	} else if applied {
		return nil
	}

	artifacts, err := ParseBundle(raw)
	if err != nil {
		return err
	}

	seen := make(map[kindName]bool, len(artifacts))
	for _, a := range artifacts {
		key := kindName{kind: a.Kind, name: a.Name}
		if seen[key] {
			return piccoloerr.New(piccoloerr.CodeConflict, a.Name,
				fmt.Sprintf("duplicate (%s,%s) within bundle", a.Kind, a.Name))
		}
		seen[key] = true
	}

	type dispatchTarget struct {
		nodeID   string
		artifact *types.Artifact
	}
	var targets []dispatchTarget
	var deferred []*types.Artifact

	models := make(map[string]*types.Artifact, len(artifacts))
	for _, a := range artifacts {
		if a.Kind == types.KindModel {
			models[a.Name] = a
		}
	}

	for _, a := range artifacts {
		if a.Kind != types.KindPackage {
			continue
		}
		for _, ref := range a.Package.Models {
			model, ok := models[ref.ModelName]
			if !ok {
				// The Model isn't in this bundle; it was applied separately
				// (or not yet), so there is nothing here to dispatch.
				continue
			}

			nodeID, static, found := in.resolver.Resolve(ref.Node)
			if !found {
				if static {
					return piccoloerr.New(piccoloerr.CodeUnknownNode, ref.Node,
						fmt.Sprintf("package %s references unknown static node %s", a.Name, ref.Node))
				}
				deferred = append(deferred, model)
				continue
			}
			targets = append(targets, dispatchTarget{nodeID: nodeID, artifact: model})
		}
	}

	for _, a := range artifacts {
		if err := in.persistSpec(a); err != nil {
			return fmt.Errorf("persist %s/%s: %w", a.Kind, a.Name, err)
		}
	}

	for _, t := range targets {
		if err := in.dispatcher.Dispatch(ctx, DispatchRequest{NodeID: t.nodeID, Artifact: t.artifact}); err != nil {
			if markErr := in.leaveDispatchMarker(t.nodeID, t.artifact); markErr != nil {
				return fmt.Errorf("dispatch %s/%s to %s failed (%v) and marker could not be recorded: %w", t.artifact.Kind, t.artifact.Name, t.nodeID, err, markErr)
			}
		}
	}
	for _, a := range deferred {
		if err := in.leaveDispatchMarker("", a); err != nil {
			return fmt.Errorf("record deferred dispatch for %s/%s: %w", a.Kind, a.Name, err)
		}
	}

	return in.markApplied(bundleID)
}

// persistSpec writes an artifact's spec, initializing its state only if no
// record currently exists for (kind,name) — a re-apply of an unchanged
// bundle must not reset in-flight derived/transitioned state.
func (in *Intake) persistSpec(a *types.Artifact) error {
	existing, err := in.store.GetArtifact(a.Kind, a.Name)
	if err == nil {
		return in.mergeSpecOnly(existing, a)
	}
	if !piccoloerr.Is(err, piccoloerr.CodeBadRequest) {
		return err
	}

	_, err = in.store.PutArtifact(a.Kind, a.Name, a, 0)
	return err
}

// mergeSpecOnly overwrites spec fields from incoming onto existing's
// current state, preserving existing's state field, then writes it back
// under CAS.
func (in *Intake) mergeSpecOnly(existing *statestore.StoredArtifact, incoming *types.Artifact) error {
	merged := *incoming
	switch merged.Kind {
	case types.KindScenario:
		merged.Scenario.State = existing.Artifact.Scenario.State
	case types.KindPackage:
		merged.Package.State = existing.Artifact.Package.State
	case types.KindModel:
		merged.Model.State = existing.Artifact.Model.State
	}

	_, err := in.store.PutArtifact(merged.Kind, merged.Name, &merged, existing.Revision)
	return err
}

func (in *Intake) leaveDispatchMarker(nodeID string, a *types.Artifact) error {
	key := fmt.Sprintf("%s/%s/%s", a.Kind, a.Name, nodeID)
	return in.store.PutBlob(dispatchBlobBucket, key, []byte(nodeID))
}

func (in *Intake) alreadyApplied(bundleID string) (bool, error) {
	_, err := in.store.GetBlob(intakeBlobBucket, bundleID)
	if err == nil {
		return true, nil
	}
	if piccoloerr.Is(err, piccoloerr.CodeBadRequest) {
		return false, nil
	}
	return false, err
}

func (in *Intake) markApplied(bundleID string) error {
	return in.store.PutBlob(intakeBlobBucket, bundleID, []byte{1})
}

func bundleDigest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Remove reverses Apply's persistence order for a single artifact: it
// issues RemoveArtifact-equivalent notification via the dispatcher first,
// and deletes the stored artifact record (spec and state together) last.
func (in *Intake) Remove(ctx context.Context, kind types.Kind, name string, targetNodeID string) error {
	stored, err := in.store.GetArtifact(kind, name)
	if err != nil {
		return err
	}

	if targetNodeID != "" {
		if err := in.dispatcher.NotifyRemoval(ctx, targetNodeID, kind, name); err != nil {
			if markErr := in.leaveDispatchMarker(targetNodeID, &stored.Artifact); markErr != nil {
				return fmt.Errorf("notify removal of %s/%s to %s failed (%v) and marker could not be recorded: %w", kind, name, targetNodeID, err, markErr)
			}
		}
	}

	return in.store.DeleteArtifact(kind, name, stored.Revision)
}
