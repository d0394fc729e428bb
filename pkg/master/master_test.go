package master

import (
	"context"
	"crypto/x509"
	"testing"
	"time"

	"github.com/piccolo-edge/piccolo/pkg/config"
	"github.com/piccolo-edge/piccolo/pkg/piccoloerr"
	"github.com/piccolo-edge/piccolo/pkg/rpc"
	"github.com/piccolo-edge/piccolo/pkg/security"
	"github.com/piccolo-edge/piccolo/pkg/statestore"
	"github.com/piccolo-edge/piccolo/pkg/types"
	"google.golang.org/protobuf/types/known/timestamppb"
)

func newTestMaster(t *testing.T) *Master {
	t.Helper()
	store, err := statestore.Open(t.TempDir(), 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ca := security.NewCertAuthority(store)
	if err := ca.Initialize(); err != nil {
		t.Fatalf("Initialize CA: %v", err)
	}
	tokens := security.NewTokenManager()

	cert, err := ca.IssueNodeCertificate("test-master", "master", []string{"localhost"}, nil)
	if err != nil {
		t.Fatalf("IssueNodeCertificate: %v", err)
	}
	x509CA, err := x509.ParseCertificate(ca.GetRootCACert())
	if err != nil {
		t.Fatalf("parse root CA: %v", err)
	}
	fabric := rpc.NewFabric(*cert, x509CA, 1, time.Second)
	t.Cleanup(func() { fabric.Close() })

	cfg := config.Default()
	cfg.ShardCount = 1
	return New(store, ca, tokens, fabric, cfg)
}

func TestValidateAuthenticatesJoinToken(t *testing.T) {
	m := newTestMaster(t)
	jt, err := m.tokens.GenerateToken("sub", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	role, ok := m.Validate(jt.Token)
	if !ok || role != types.NodeRoleSub {
		t.Fatalf("Validate: role=%s ok=%v", role, ok)
	}

	if _, ok := m.Validate("bogus"); ok {
		t.Fatal("expected an unknown token to be rejected")
	}
}

func TestRegisterNodeAssignsIDAndRole(t *testing.T) {
	m := newTestMaster(t)
	jt, err := m.tokens.GenerateToken("sub", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	resp, err := m.RegisterNode(context.Background(), &rpc.NodeRegistrationRequest{
		Hostname:   "node-1",
		Address:    "127.0.0.1:9000",
		Credential: jt.Token,
	})
	if err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}
	if resp.NodeID == "" || resp.NodeRole != types.NodeRoleSub {
		t.Fatalf("unexpected registration response: %+v", resp)
	}

	node, err := m.reg.Get(resp.NodeID)
	if err != nil || node.Liveness != types.LivenessInitializing {
		t.Fatalf("expected node in Initializing, got %+v err=%v", node, err)
	}
}

func TestRegisterNodeRejectsUnknownCredential(t *testing.T) {
	m := newTestMaster(t)
	_, err := m.RegisterNode(context.Background(), &rpc.NodeRegistrationRequest{
		Hostname:   "node-1",
		Credential: "bogus",
	})
	if !piccoloerr.Is(err, piccoloerr.CodeUnauthorized) {
		t.Fatalf("expected CodeUnauthorized, got %v", err)
	}
}

func TestReportStatusCascadesToPackageState(t *testing.T) {
	m := newTestMaster(t)

	_, err := m.store.PutArtifact(types.KindModel, "m1", &types.Artifact{
		Kind:  types.KindModel,
		Name:  "m1",
		Model: &types.Model{Name: "m1", State: types.ModelStateCreated},
	}, 0)
	if err != nil {
		t.Fatalf("seed model: %v", err)
	}
	_, err = m.store.PutArtifact(types.KindPackage, "pkg1", &types.Artifact{
		Kind: types.KindPackage,
		Name: "pkg1",
		Package: &types.Package{
			Name:   "pkg1",
			Models: []types.PackageModelRef{{ModelName: "m1"}},
			State:  types.PackageStateIdle,
		},
	}, 0)
	if err != nil {
		t.Fatalf("seed package: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.recon.Start(ctx)
	defer m.recon.Stop()

	ack, err := m.ReportStatus(ctx, &rpc.StatusReport{
		NodeID: "node-1",
		Containers: []types.Container{
			{ID: "c1", ModelName: "m1", State: types.ContainerRunning},
		},
	})
	if err != nil || !ack.OK {
		t.Fatalf("ReportStatus: ack=%+v err=%v", ack, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pkg, err := m.store.GetArtifact(types.KindPackage, "pkg1")
		if err == nil && pkg.Artifact.Package.State == types.PackageStateRunning {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("package never reached Running within the deadline")
}

func TestSetScenarioStateAppliesTransition(t *testing.T) {
	m := newTestMaster(t)
	_, err := m.store.PutArtifact(types.KindScenario, "s1", &types.Artifact{
		Kind:     types.KindScenario,
		Name:     "s1",
		Scenario: &types.Scenario{Name: "s1", Target: "pkg1", State: types.ScenarioStateIdle},
	}, 0)
	if err != nil {
		t.Fatalf("seed scenario: %v", err)
	}

	resp, err := m.SetScenarioState(context.Background(), &rpc.SetScenarioStateRequest{
		ScenarioName: "s1",
		NewState:     types.ScenarioStateWaiting,
		TransitionID: "t1",
	})
	if err != nil || resp.State != types.ScenarioStateWaiting {
		t.Fatalf("SetScenarioState: resp=%+v err=%v", resp, err)
	}
}

func TestApplyBundleAppliesScenarioPackageAndModel(t *testing.T) {
	m := newTestMaster(t)

	bundle := []byte(`
kind: Model
name: m1
model:
  node: ghost-node
  containers:
    - name: c1
      image: nginx
---
kind: Package
name: pkg1
package:
  models:
    - model: m1
      node: ghost-node
---
kind: Scenario
name: s1
scenario:
  target: pkg1
`)

	resp, err := m.ApplyBundle(context.Background(), &rpc.ApplyBundleRequest{Bundle: bundle})
	if err != nil {
		t.Fatalf("ApplyBundle: %v", err)
	}
	if !resp.Applied {
		t.Fatalf("expected bundle to be applied, got reason=%q", resp.Reason)
	}

	if _, err := m.store.GetArtifact(types.KindModel, "m1"); err != nil {
		t.Fatalf("model not persisted: %v", err)
	}
	if _, err := m.store.GetArtifact(types.KindPackage, "pkg1"); err != nil {
		t.Fatalf("package not persisted: %v", err)
	}
	if _, err := m.store.GetArtifact(types.KindScenario, "s1"); err != nil {
		t.Fatalf("scenario not persisted: %v", err)
	}

	// re-applying the identical bundle is a no-op, not a duplicate error.
	resp2, err := m.ApplyBundle(context.Background(), &rpc.ApplyBundleRequest{Bundle: bundle})
	if err != nil || !resp2.Applied {
		t.Fatalf("re-apply: resp=%+v err=%v", resp2, err)
	}
}

func TestGetTopologyReflectsPlacement(t *testing.T) {
	m := newTestMaster(t)

	_, err := m.store.PutArtifact(types.KindModel, "m1", &types.Artifact{
		Kind:  types.KindModel,
		Name:  "m1",
		Model: &types.Model{Name: "m1", State: types.ModelStateRunning},
	}, 0)
	if err != nil {
		t.Fatalf("seed model: %v", err)
	}
	_, err = m.store.PutArtifact(types.KindPackage, "pkg1", &types.Artifact{
		Kind: types.KindPackage,
		Name: "pkg1",
		Package: &types.Package{
			Name:   "pkg1",
			Models: []types.PackageModelRef{{ModelName: "m1", Node: "node-a"}},
			State:  types.PackageStateRunning,
		},
	}, 0)
	if err != nil {
		t.Fatalf("seed package: %v", err)
	}

	topo, err := m.GetTopology(context.Background(), &rpc.GetTopologyRequest{})
	if err != nil {
		t.Fatalf("GetTopology: %v", err)
	}
	if len(topo.Packages) != 1 || len(topo.Packages[0].Models) != 1 {
		t.Fatalf("unexpected topology: %+v", topo)
	}
	got := topo.Packages[0].Models[0]
	if got.ModelName != "m1" || got.NodeRef != "node-a" || got.State != types.ModelStateRunning {
		t.Fatalf("unexpected topology model entry: %+v", got)
	}
}

func TestUpdateTopologyRetargetsModel(t *testing.T) {
	m := newTestMaster(t)

	_, err := m.store.PutArtifact(types.KindModel, "m1", &types.Artifact{
		Kind:  types.KindModel,
		Name:  "m1",
		Model: &types.Model{Name: "m1", State: types.ModelStateRunning},
	}, 0)
	if err != nil {
		t.Fatalf("seed model: %v", err)
	}
	_, err = m.store.PutArtifact(types.KindPackage, "pkg1", &types.Artifact{
		Kind: types.KindPackage,
		Name: "pkg1",
		Package: &types.Package{
			Name:   "pkg1",
			Models: []types.PackageModelRef{{ModelName: "m1", Node: "node-a"}},
			State:  types.PackageStateRunning,
		},
	}, 0)
	if err != nil {
		t.Fatalf("seed package: %v", err)
	}

	resp, err := m.UpdateTopology(context.Background(), &rpc.UpdateTopologyRequest{
		PackageName: "pkg1",
		ModelName:   "m1",
		NewNode:     "node-b",
	})
	if err != nil || !resp.Applied {
		t.Fatalf("UpdateTopology: resp=%+v err=%v", resp, err)
	}

	pkg, err := m.store.GetArtifact(types.KindPackage, "pkg1")
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if pkg.Artifact.Package.Models[0].Node != "node-b" {
		t.Fatalf("expected model retargeted to node-b, got %+v", pkg.Artifact.Package.Models[0])
	}
}

func TestUpdateTopologyRejectsUnknownModel(t *testing.T) {
	m := newTestMaster(t)

	_, err := m.store.PutArtifact(types.KindPackage, "pkg1", &types.Artifact{
		Kind:    types.KindPackage,
		Name:    "pkg1",
		Package: &types.Package{Name: "pkg1", State: types.PackageStateIdle},
	}, 0)
	if err != nil {
		t.Fatalf("seed package: %v", err)
	}

	resp, err := m.UpdateTopology(context.Background(), &rpc.UpdateTopologyRequest{
		PackageName: "pkg1",
		ModelName:   "missing",
		NewNode:     "node-b",
	})
	if err != nil {
		t.Fatalf("UpdateTopology: %v", err)
	}
	if resp.Applied {
		t.Fatalf("expected rejection for unknown model reference, got %+v", resp)
	}
}

func TestHeartbeatUpdatesRegistry(t *testing.T) {
	m := newTestMaster(t)
	jt, err := m.tokens.GenerateToken("sub", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	reg, err := m.RegisterNode(context.Background(), &rpc.NodeRegistrationRequest{Hostname: "n1", Credential: jt.Token})
	if err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}

	resp, err := m.Heartbeat(context.Background(), &rpc.HeartbeatRequest{
		NodeID:    reg.NodeID,
		Timestamp: timestamppb.Now(),
	})
	if err != nil || !resp.OK {
		t.Fatalf("Heartbeat: resp=%+v err=%v", resp, err)
	}

	node, err := m.reg.Get(reg.NodeID)
	if err != nil || node.Liveness != types.LivenessReady {
		t.Fatalf("expected Ready after first heartbeat, got %+v err=%v", node, err)
	}
}
