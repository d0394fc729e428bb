// Package master wires StateStore, NodeRegistry, ArtifactIntake, the
// Reconciler, HeartbeatSupervisor and the cluster CertAuthority together
// into one rpc.MasterServer implementation: everything a NodeAgent or an
// administrative caller talks to over RPCFabric.
package master

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/piccolo-edge/piccolo/pkg/artifact"
	"github.com/piccolo-edge/piccolo/pkg/config"
	"github.com/piccolo-edge/piccolo/pkg/heartbeat"
	"github.com/piccolo-edge/piccolo/pkg/log"
	"github.com/piccolo-edge/piccolo/pkg/metrics"
	"github.com/piccolo-edge/piccolo/pkg/piccoloerr"
	"github.com/piccolo-edge/piccolo/pkg/reconciler"
	"github.com/piccolo-edge/piccolo/pkg/registry"
	"github.com/piccolo-edge/piccolo/pkg/rpc"
	"github.com/piccolo-edge/piccolo/pkg/security"
	"github.com/piccolo-edge/piccolo/pkg/statestore"
	"github.com/piccolo-edge/piccolo/pkg/types"
	"github.com/rs/zerolog"
)

// Master implements rpc.MasterServer over a Registry, a Reconciler, an
// ArtifactIntake and the cluster's CertAuthority/TokenManager. It also
// satisfies artifact.NodeResolver, artifact.Dispatcher, registry.CredentialValidator,
// heartbeat.Prober and heartbeat.Resyncer, since all five roles need the
// same view of node addresses and the same Fabric connection pool.
type Master struct {
	store  statestore.Store
	reg    *registry.Registry
	recon  *reconciler.Reconciler
	intake *artifact.Intake
	fabric *rpc.Fabric
	ca     *security.CertAuthority
	tokens *security.TokenManager
	cfg    *config.Config
	logger zerolog.Logger

	collector *metrics.Collector
}

// New wires a Master over store, issuing mTLS identities from ca and
// authenticating joins against tokens.
func New(store statestore.Store, ca *security.CertAuthority, tokens *security.TokenManager, fabric *rpc.Fabric, cfg *config.Config) *Master {
	m := &Master{
		store:  store,
		fabric: fabric,
		ca:     ca,
		tokens: tokens,
		cfg:    cfg,
		logger: log.WithComponent("master"),
	}
	m.reg = registry.New(store, m, cfg.RegistrationGrace)
	m.recon = reconciler.New(store, m, cfg)
	m.intake = artifact.New(store, m, m)
	m.collector = metrics.NewCollector(store, cfg.MetricsSampleInterval)
	return m
}

// Start launches the Reconciler, a HeartbeatSupervisor over this Master's own
// Registry, Prober and Resyncer implementations, and the cluster gauge
// collector backing /metrics.
func (m *Master) Start(ctx context.Context) *heartbeat.Supervisor {
	m.recon.Start(ctx)
	sup := heartbeat.New(m.reg, m, m, m.cfg)
	sup.Start(ctx)
	m.collector.Start()
	return sup
}

// Stop drains the Reconciler, stops the metrics collector and closes the
// Fabric's pooled connections.
func (m *Master) Stop(sup *heartbeat.Supervisor) {
	if sup != nil {
		sup.Stop()
	}
	m.collector.Stop()
	m.recon.Stop()
	if err := m.fabric.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("error closing fabric connections")
	}
}

// Registry exposes the underlying Registry for read-only admin endpoints.
func (m *Master) Registry() *registry.Registry {
	return m.reg
}

// --- registry.CredentialValidator ---

// Validate authenticates credential as a join token, returning the role it
// authorizes. "master" tokens register as NodeRoleMaster; anything else
// registers as NodeRoleSub.
func (m *Master) Validate(credential string) (types.NodeRole, bool) {
	role, err := m.tokens.ValidateToken(credential)
	if err != nil {
		return "", false
	}
	if role == "master" {
		return types.NodeRoleMaster, true
	}
	return types.NodeRoleSub, true
}

// --- artifact.NodeResolver ---

// Resolve maps a Package's node-name reference to a registered node id by
// hostname or id. For a registered node, "static" is n.IsStatic() (true for
// sub nodes); an unresolved name reports static false and found false, so
// intake defers it rather than failing.
func (m *Master) Resolve(nodeName string) (string, bool, bool) {
	nodes, err := m.reg.List()
	if err != nil {
		return "", false, false
	}
	for _, n := range nodes {
		if n.Hostname == nodeName || n.ID == nodeName {
			return n.ID, n.IsStatic(), true
		}
	}
	return "", false, false
}

// --- artifact.Dispatcher ---

// Dispatch pushes art to node's agent, retrying idempotently via Fabric.
func (m *Master) Dispatch(ctx context.Context, req artifact.DispatchRequest) error {
	client, err := m.agentClient(req.NodeID)
	if err != nil {
		return err
	}

	info := &rpc.ArtifactInfo{Kind: req.Artifact.Kind, Name: req.Artifact.Name}
	switch req.Artifact.Kind {
	case types.KindModel:
		info.Model = req.Artifact.Model
	case types.KindPackage:
		info.Package = req.Artifact.Package
	}

	return m.fabric.CallIdempotent(ctx, func(ctx context.Context) error {
		_, err := client.HandleArtifact(ctx, info)
		return err
	})
}

// NotifyRemoval tells node's agent to tear down a previously-dispatched
// artifact.
func (m *Master) NotifyRemoval(ctx context.Context, nodeID string, kind types.Kind, name string) error {
	client, err := m.agentClient(nodeID)
	if err != nil {
		return err
	}
	return m.fabric.CallIdempotent(ctx, func(ctx context.Context) error {
		_, err := client.RemoveArtifact(ctx, &rpc.RemoveArtifactRequest{Kind: kind, Name: name})
		return err
	})
}

// --- heartbeat.Prober / heartbeat.Resyncer ---

// Probe asks node's agent to answer a HealthCheck, out-of-band of its own
// heartbeat stream.
func (m *Master) Probe(ctx context.Context, node *types.Node) error {
	client, err := m.agentClient(node.ID)
	if err != nil {
		return err
	}
	_, err = client.HealthCheck(ctx, &rpc.HealthCheckRequest{})
	return err
}

// Resync re-dispatches every Model targeting node, so artifacts deferred or
// failed while it was unreachable land once it recovers.
func (m *Master) Resync(ctx context.Context, node *types.Node) error {
	models, err := m.store.ListModels()
	if err != nil {
		return err
	}
	for _, model := range models {
		if model.NodeName != node.Hostname && model.NodeName != node.ID {
			continue
		}
		art := &types.Artifact{Kind: types.KindModel, Name: model.Name, Model: model}
		if err := m.Dispatch(ctx, artifact.DispatchRequest{NodeID: node.ID, Artifact: art}); err != nil {
			m.logger.Warn().Err(err).Str("model", model.Name).Str("node", node.ID).Msg("resync dispatch failed")
		}
	}
	return nil
}

func (m *Master) agentClient(nodeID string) (*rpc.AgentClient, error) {
	node, err := m.reg.Get(nodeID)
	if err != nil {
		return nil, err
	}
	cc, err := m.fabric.Dial(nodeID, "agent", node.Address)
	if err != nil {
		return nil, err
	}
	return rpc.NewAgentClient(cc), nil
}

// --- rpc.MasterServer ---

// RequestCertificate exchanges a join token for a signed node certificate,
// ahead of the node holding any mTLS identity.
func (m *Master) RequestCertificate(ctx context.Context, req *rpc.CertificateRequest) (*rpc.CertificateResponse, error) {
	role, err := m.tokens.ValidateToken(req.Token)
	if err != nil {
		return nil, piccoloerr.New(piccoloerr.CodeUnauthorized, req.NodeID, "invalid join token")
	}

	cert, err := m.ca.IssueNodeCertificate(req.NodeID, role, []string{req.NodeID}, nil)
	if err != nil {
		return nil, fmt.Errorf("issue node certificate: %w", err)
	}

	rsaKey, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected private key type %T", cert.PrivateKey)
	}

	return &rpc.CertificateResponse{
		Certificate: cert.Certificate[0],
		PrivateKey:  x509.MarshalPKCS1PrivateKey(rsaKey),
		CACert:      m.ca.GetRootCACert(),
	}, nil
}

// RegisterNode authenticates and records a joining node.
func (m *Master) RegisterNode(ctx context.Context, req *rpc.NodeRegistrationRequest) (*rpc.NodeRegistrationResponse, error) {
	info, err := m.reg.Register(registry.RegisterRequest{
		NodeID:     req.NodeID,
		Hostname:   req.Hostname,
		Address:    req.Address,
		Credential: req.Credential,
		Resources:  req.Resources,
		Labels:     req.Labels,
	})
	if err != nil {
		return nil, err
	}
	return &rpc.NodeRegistrationResponse{NodeID: info.NodeID, NodeRole: info.NodeRole, Status: "registered"}, nil
}

// ReportStatus ingests an agent's container status push, submitting one
// Reconciler event per reported Model.
func (m *Master) ReportStatus(ctx context.Context, req *rpc.StatusReport) (*rpc.StatusAck, error) {
	if err := m.reg.MarkHeartbeat(req.NodeID, time.Now()); err != nil {
		m.logger.Warn().Err(err).Str("node", req.NodeID).Msg("status report from node without a registration")
	}

	byModel := make(map[string][]types.ContainerState)
	for _, c := range req.Containers {
		if err := m.store.PutContainer(&c); err != nil {
			m.logger.Warn().Err(err).Str("container", c.ID).Msg("failed to persist reported container")
		}
		byModel[c.ModelName] = append(byModel[c.ModelName], c.State)
	}

	for modelName, states := range byModel {
		pkgName := m.findOwningPackage(modelName)
		m.recon.Submit(reconciler.Event{
			Source:          reconciler.SourceContainerStatus,
			Kind:            types.KindModel,
			ResourceName:    modelName,
			PackageName:     pkgName,
			ContainerStates: states,
		})
	}

	return &rpc.StatusAck{OK: true}, nil
}

// findOwningPackage scans Packages for one whose Models list references
// modelName. The control plane is single-master and the Package set is
// small enough that a linear scan per status report is not a bottleneck;
// an index would only pay for itself at a scale this design doesn't target.
func (m *Master) findOwningPackage(modelName string) string {
	packages, err := m.store.ListPackages()
	if err != nil {
		return ""
	}
	for _, pkg := range packages {
		for _, ref := range pkg.Models {
			if ref.ModelName == modelName {
				return pkg.Name
			}
		}
	}
	return ""
}

// Heartbeat records a liveness ping and returns any pending directives.
// Today the control plane never queues directives; a recovered node picks
// up pending work through Resync instead of a heartbeat response.
func (m *Master) Heartbeat(ctx context.Context, req *rpc.HeartbeatRequest) (*rpc.HeartbeatResponse, error) {
	if err := m.reg.MarkHeartbeat(req.NodeID, req.Timestamp.AsTime()); err != nil {
		return nil, err
	}
	return &rpc.HeartbeatResponse{OK: true}, nil
}

// GetNodes lists every known node.
func (m *Master) GetNodes(ctx context.Context, req *rpc.GetNodesRequest) (*rpc.GetNodesResponse, error) {
	nodes, err := m.reg.List()
	if err != nil {
		return nil, err
	}
	return &rpc.GetNodesResponse{Nodes: nodes}, nil
}

// GetNode looks up a single node by id.
func (m *Master) GetNode(ctx context.Context, req *rpc.GetNodeRequest) (*rpc.GetNodeResponse, error) {
	node, err := m.reg.Get(req.NodeID)
	if err != nil {
		return nil, err
	}
	return &rpc.GetNodeResponse{Node: node}, nil
}

// GetTopology returns every Package's Model placements alongside the
// current node set, for admin inspection of how work is spread across the
// cluster.
func (m *Master) GetTopology(ctx context.Context, req *rpc.GetTopologyRequest) (*rpc.GetTopologyResponse, error) {
	packages, err := m.store.ListPackages()
	if err != nil {
		return nil, err
	}
	nodes, err := m.reg.List()
	if err != nil {
		return nil, err
	}

	resp := &rpc.GetTopologyResponse{Nodes: nodes}
	for _, pkg := range packages {
		tp := rpc.TopologyPackage{Name: pkg.Name, State: pkg.State}
		for _, ref := range pkg.Models {
			tm := rpc.TopologyModel{ModelName: ref.ModelName, NodeRef: ref.Node}
			if nodeID, _, found := m.Resolve(ref.Node); found {
				tm.NodeID = nodeID
			}
			if stored, gerr := m.store.GetArtifact(types.KindModel, ref.ModelName); gerr == nil {
				tm.State = stored.Artifact.Model.State
			}
			tp.Models = append(tp.Models, tm)
		}
		resp.Packages = append(resp.Packages, tp)
	}
	return resp, nil
}

// UpdateTopology retargets a Package's named Model reference onto a
// different node: it CAS-writes the Package's stored models[] entry, then
// notifies the old target (if resolvable) to remove the Model and dispatches
// it to the new one.
func (m *Master) UpdateTopology(ctx context.Context, req *rpc.UpdateTopologyRequest) (*rpc.UpdateTopologyResponse, error) {
	var oldNodeID string
	var found bool
	written := false

	for attempt := 0; attempt <= m.cfg.ReconcileRetries; attempt++ {
		stored, gerr := m.store.GetArtifact(types.KindPackage, req.PackageName)
		if gerr != nil {
			return &rpc.UpdateTopologyResponse{Applied: false, Reason: gerr.Error()}, nil
		}

		found = false
		for i := range stored.Artifact.Package.Models {
			ref := &stored.Artifact.Package.Models[i]
			if ref.ModelName != req.ModelName {
				continue
			}
			found = true
			if oldID, _, ok := m.Resolve(ref.Node); ok {
				oldNodeID = oldID
			}
			ref.Node = req.NewNode
		}
		if !found {
			return &rpc.UpdateTopologyResponse{Applied: false,
				Reason: fmt.Sprintf("package %s has no model %s", req.PackageName, req.ModelName)}, nil
		}

		_, err := m.store.PutArtifact(types.KindPackage, req.PackageName, &stored.Artifact, stored.Revision)
		if err == nil {
			written = true
			break
		}
		if !piccoloerr.Is(err, piccoloerr.CodeConflict) {
			return &rpc.UpdateTopologyResponse{Applied: false, Reason: err.Error()}, nil
		}
	}
	if !written {
		return &rpc.UpdateTopologyResponse{Applied: false,
			Reason: fmt.Sprintf("package %s: CAS retries exhausted", req.PackageName)}, nil
	}

	modelArt, gerr := m.store.GetArtifact(types.KindModel, req.ModelName)
	if gerr != nil {
		return &rpc.UpdateTopologyResponse{Applied: true}, nil
	}

	if newNodeID, _, ok := m.Resolve(req.NewNode); ok {
		if err := m.Dispatch(ctx, artifact.DispatchRequest{NodeID: newNodeID, Artifact: &modelArt.Artifact}); err != nil {
			m.logger.Warn().Err(err).Str("model", req.ModelName).Str("node", newNodeID).Msg("topology update dispatch failed")
		}
	}
	if oldNodeID != "" {
		if err := m.NotifyRemoval(ctx, oldNodeID, types.KindModel, req.ModelName); err != nil {
			m.logger.Warn().Err(err).Str("model", req.ModelName).Str("node", oldNodeID).Msg("topology update removal notice failed")
		}
	}

	return &rpc.UpdateTopologyResponse{Applied: true}, nil
}

// SetScenarioState applies a Scenario transition synchronously and returns
// its outcome.
func (m *Master) SetScenarioState(ctx context.Context, req *rpc.SetScenarioStateRequest) (*rpc.SetScenarioStateResponse, error) {
	state, err := m.recon.ApplyScenarioTransition(req.ScenarioName, req.NewState, req.TransitionID)
	if err != nil {
		return &rpc.SetScenarioStateResponse{State: state}, err
	}
	return &rpc.SetScenarioStateResponse{State: state}, nil
}

// ApplyBundle submits an administrative artifact bundle to ArtifactIntake.
func (m *Master) ApplyBundle(ctx context.Context, req *rpc.ApplyBundleRequest) (*rpc.ApplyBundleResponse, error) {
	if err := m.intake.Apply(ctx, req.Bundle); err != nil {
		return &rpc.ApplyBundleResponse{Applied: false, Reason: err.Error()}, nil
	}
	return &rpc.ApplyBundleResponse{Applied: true}, nil
}
