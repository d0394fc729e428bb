package registry

import (
	"testing"
	"time"

	"github.com/piccolo-edge/piccolo/pkg/piccoloerr"
	"github.com/piccolo-edge/piccolo/pkg/statestore"
	"github.com/piccolo-edge/piccolo/pkg/types"
)

type fakeValidator struct {
	credentials map[string]types.NodeRole
}

func (f *fakeValidator) Validate(credential string) (types.NodeRole, bool) {
	role, ok := f.credentials[credential]
	return role, ok
}

func newTestRegistry(t *testing.T) (*Registry, statestore.Store) {
	t.Helper()
	return newTestRegistryWithGrace(t, time.Minute)
}

func newTestRegistryWithGrace(t *testing.T, grace time.Duration) (*Registry, statestore.Store) {
	t.Helper()
	store, err := statestore.Open(t.TempDir(), 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	validator := &fakeValidator{credentials: map[string]types.NodeRole{
		"sub-token": types.NodeRoleSub,
	}}
	return New(store, validator, grace), store
}

func TestRegisterUnknownCredentialWritesNothing(t *testing.T) {
	reg, store := newTestRegistry(t)

	_, err := reg.Register(RegisterRequest{Hostname: "h1", Credential: "bogus"})
	if !piccoloerr.Is(err, piccoloerr.CodeUnauthorized) {
		t.Fatalf("expected CodeUnauthorized, got %v", err)
	}

	nodes, err := store.ListNodes()
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(nodes) != 0 {
		t.Fatalf("expected no nodes written, got %d", len(nodes))
	}
}

func TestRegisterAssignsPendingThenInitializing(t *testing.T) {
	reg, _ := newTestRegistry(t)

	info, err := reg.Register(RegisterRequest{Hostname: "h1", Credential: "sub-token"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if info.NodeRole != types.NodeRoleSub {
		t.Fatalf("expected sub role, got %s", info.NodeRole)
	}

	node, err := reg.Get(info.NodeID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if node.Liveness != types.LivenessInitializing {
		t.Fatalf("expected Initializing liveness after registration, got %s", node.Liveness)
	}
}

func TestMarkHeartbeatAdvancesToReady(t *testing.T) {
	reg, _ := newTestRegistry(t)

	info, err := reg.Register(RegisterRequest{Hostname: "h1", Credential: "sub-token"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := reg.MarkHeartbeat(info.NodeID, time.Now()); err != nil {
		t.Fatalf("MarkHeartbeat: %v", err)
	}

	node, err := reg.Get(info.NodeID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if node.Liveness != types.LivenessReady {
		t.Fatalf("expected Ready after first heartbeat, got %s", node.Liveness)
	}
}

func TestMarkHeartbeatPastGraceLeavesInitializing(t *testing.T) {
	reg, _ := newTestRegistryWithGrace(t, time.Millisecond)

	info, err := reg.Register(RegisterRequest{Hostname: "h1", Credential: "sub-token"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if err := reg.MarkHeartbeat(info.NodeID, time.Now()); err != nil {
		t.Fatalf("MarkHeartbeat: %v", err)
	}

	node, err := reg.Get(info.NodeID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if node.Liveness != types.LivenessInitializing {
		t.Fatalf("expected late first heartbeat to leave node Initializing, got %s", node.Liveness)
	}
}

func TestMarkUnreachableThenHeartbeatRecovers(t *testing.T) {
	reg, _ := newTestRegistry(t)

	info, err := reg.Register(RegisterRequest{Hostname: "h1", Credential: "sub-token"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.MarkHeartbeat(info.NodeID, time.Now()); err != nil {
		t.Fatalf("MarkHeartbeat: %v", err)
	}
	if err := reg.MarkUnreachable(info.NodeID, "timeout"); err != nil {
		t.Fatalf("MarkUnreachable: %v", err)
	}

	node, err := reg.Get(info.NodeID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if node.Liveness != types.LivenessNotReady {
		t.Fatalf("expected NotReady, got %s", node.Liveness)
	}

	if err := reg.MarkHeartbeat(info.NodeID, time.Now()); err != nil {
		t.Fatalf("MarkHeartbeat recovery: %v", err)
	}
	node, err = reg.Get(info.NodeID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if node.Liveness != types.LivenessReady {
		t.Fatalf("expected Ready after recovery heartbeat, got %s", node.Liveness)
	}
}

func TestRemoveDeletesNode(t *testing.T) {
	reg, _ := newTestRegistry(t)

	info, err := reg.Register(RegisterRequest{Hostname: "h1", Credential: "sub-token"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Remove(info.NodeID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := reg.Get(info.NodeID); !piccoloerr.Is(err, piccoloerr.CodeUnknownNode) {
		t.Fatalf("expected CodeUnknownNode after removal, got %v", err)
	}
}
