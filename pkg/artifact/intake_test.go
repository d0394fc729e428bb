package artifact

import (
	"context"
	"sync"
	"testing"

	"github.com/piccolo-edge/piccolo/pkg/piccoloerr"
	"github.com/piccolo-edge/piccolo/pkg/statestore"
	"github.com/piccolo-edge/piccolo/pkg/types"
)

type fakeResolver struct {
	nodes map[string]struct {
		id     string
		static bool
	}
	// unknownStatic is the static flag reported for names not in nodes.
	unknownStatic bool
}

func (f *fakeResolver) Resolve(nodeName string) (string, bool, bool) {
	n, ok := f.nodes[nodeName]
	if !ok {
		return "", f.unknownStatic, false
	}
	return n.id, n.static, true
}

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []DispatchRequest
	fail       bool
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req DispatchRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return piccoloerr.New(piccoloerr.CodeUnavailable, "", "agent unreachable")
	}
	f.dispatched = append(f.dispatched, req)
	return nil
}

func (f *fakeDispatcher) NotifyRemoval(ctx context.Context, nodeID string, kind types.Kind, name string) error {
	return nil
}

func newTestIntake(t *testing.T, resolver *fakeResolver, dispatcher *fakeDispatcher) (*Intake, statestore.Store) {
	t.Helper()
	store, err := statestore.Open(t.TempDir(), 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, resolver, dispatcher), store
}

func staticResolver(name, id string) *fakeResolver {
	return &fakeResolver{nodes: map[string]struct {
		id     string
		static bool
	}{
		name: {id: id, static: true},
	}}
}

func TestApplyPersistsAllThreeKinds(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	in, store := newTestIntake(t, staticResolver("node-1", "n1"), dispatcher)

	if err := in.Apply(context.Background(), []byte(sampleBundle)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	sc, err := store.GetArtifact(types.KindScenario, "deploy-edge")
	if err != nil || sc.Artifact.Scenario.State != types.ScenarioStateIdle {
		t.Fatalf("scenario not persisted correctly: %+v, err=%v", sc, err)
	}
	pkg, err := store.GetArtifact(types.KindPackage, "edge-pkg")
	if err != nil || pkg.Artifact.Package.State != types.PackageStateIdle {
		t.Fatalf("package not persisted correctly: %+v, err=%v", pkg, err)
	}
	model, err := store.GetArtifact(types.KindModel, "edge-model")
	if err != nil || model.Artifact.Model.State != types.ModelStateCreated {
		t.Fatalf("model not persisted correctly: %+v, err=%v", model, err)
	}

	if len(dispatcher.dispatched) != 1 || dispatcher.dispatched[0].NodeID != "n1" {
		t.Fatalf("expected one dispatch to n1, got %+v", dispatcher.dispatched)
	}
	dispatched := dispatcher.dispatched[0].Artifact
	if dispatched.Kind != types.KindModel || dispatched.Name != "edge-model" {
		t.Fatalf("expected the Model artifact to be dispatched, got %+v", dispatched)
	}
	if dispatched.Model == nil || len(dispatched.Model.Spec.Containers) != 1 || dispatched.Model.Spec.Containers[0].Name != "main" {
		t.Fatalf("dispatched model missing container specs: %+v", dispatched.Model)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	in, _ := newTestIntake(t, staticResolver("node-1", "n1"), dispatcher)

	if err := in.Apply(context.Background(), []byte(sampleBundle)); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if err := in.Apply(context.Background(), []byte(sampleBundle)); err != nil {
		t.Fatalf("second Apply: %v", err)
	}

	if len(dispatcher.dispatched) != 1 {
		t.Fatalf("expected exactly one dispatch across both applies, got %d", len(dispatcher.dispatched))
	}
}

func TestApplyRejectsUnknownStaticNode(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	in, _ := newTestIntake(t, &fakeResolver{nodes: map[string]struct {
		id     string
		static bool
	}{}, unknownStatic: true}, dispatcher)

	err := in.Apply(context.Background(), []byte(sampleBundle))
	if !piccoloerr.Is(err, piccoloerr.CodeUnknownNode) {
		t.Fatalf("expected CodeUnknownNode, got %v", err)
	}
}

func TestApplyRejectsDuplicateKindNameInBundle(t *testing.T) {
	dup := `
kind: Scenario
name: dup
scenario:
  action: allow
  target: pkg
---
kind: Scenario
name: dup
scenario:
  action: deny
  target: pkg
`
	dispatcher := &fakeDispatcher{}
	in, _ := newTestIntake(t, &fakeResolver{nodes: map[string]struct {
		id     string
		static bool
	}{}}, dispatcher)

	err := in.Apply(context.Background(), []byte(dup))
	if !piccoloerr.Is(err, piccoloerr.CodeConflict) {
		t.Fatalf("expected CodeConflict, got %v", err)
	}
}

func TestApplyFailedDispatchLeavesMarkerNotError(t *testing.T) {
	dispatcher := &fakeDispatcher{fail: true}
	in, store := newTestIntake(t, staticResolver("node-1", "n1"), dispatcher)

	if err := in.Apply(context.Background(), []byte(sampleBundle)); err != nil {
		t.Fatalf("Apply should not fail on dispatch error: %v", err)
	}

	if _, err := store.GetArtifact(types.KindPackage, "edge-pkg"); err != nil {
		t.Fatalf("spec should still be persisted despite dispatch failure: %v", err)
	}
}

func TestRemoveDeletesArtifact(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	in, store := newTestIntake(t, staticResolver("node-1", "n1"), dispatcher)

	if err := in.Apply(context.Background(), []byte(sampleBundle)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := in.Remove(context.Background(), types.KindScenario, "deploy-edge", ""); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := store.GetArtifact(types.KindScenario, "deploy-edge"); !piccoloerr.Is(err, piccoloerr.CodeBadRequest) {
		t.Fatalf("expected artifact to be gone, got %v", err)
	}
}
