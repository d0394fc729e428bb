package rpc

import (
	"github.com/piccolo-edge/piccolo/pkg/types"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// NodeRegistrationRequest is what a node presents to RegisterNode.
type NodeRegistrationRequest struct {
	NodeID     string
	Hostname   string
	Address    string
	Credential string
	Resources  *types.NodeResources
	Labels     map[string]string
}

// NodeRegistrationResponse is the cluster snapshot handed back on success.
type NodeRegistrationResponse struct {
	NodeID   string
	NodeRole types.NodeRole
	Status   string
}

// MetricSample is one labeled numeric reading in a StatusReport.
type MetricSample struct {
	Name  string
	Value float64
}

// StatusReport is an agent's periodic push of its node and container state.
type StatusReport struct {
	NodeID     string
	NodeStatus string
	Metrics    []MetricSample
	Containers []types.Container
	Alerts     []string
}

// StatusAck acknowledges a StatusReport.
type StatusAck struct {
	OK bool
}

// HeartbeatRequest is the periodic liveness ping an agent sends the master.
type HeartbeatRequest struct {
	NodeID    string
	Timestamp *timestamppb.Timestamp
}

// HeartbeatResponse carries any directives the master wants the agent to
// act on. The master currently leaves Directives empty; recovery resync is
// pushed by the master through HandleArtifact instead.
type HeartbeatResponse struct {
	OK         bool
	Directives []string
}

// GetNodesRequest has no fields; it lists every known node.
type GetNodesRequest struct{}

// GetNodesResponse lists every known node.
type GetNodesResponse struct {
	Nodes []*types.Node
}

// GetNodeRequest looks up a single node by id.
type GetNodeRequest struct {
	NodeID string
}

// GetNodeResponse returns the looked-up node.
type GetNodeResponse struct {
	Node *types.Node
}

// CertificateRequest exchanges a join token for a signed node certificate,
// ahead of any mTLS connection existing (see pkg/security's CertAuthority
// and TokenManager). It travels over a TLS connection that does not yet
// verify the server, since the caller has no CA cert to check against.
type CertificateRequest struct {
	NodeID string
	Token  string
}

// CertificateResponse carries the PEM-less DER material requestCertificate
// needs to bootstrap mTLS: a signed leaf certificate, its private key, and
// the CA certificate to trust for all further connections.
type CertificateResponse struct {
	Certificate []byte
	PrivateKey  []byte
	CACert      []byte
}

// ApplyBundleRequest carries a raw artifact bundle for administrative
// submission to ArtifactIntake.
type ApplyBundleRequest struct {
	Bundle []byte
}

// ApplyBundleResponse acknowledges an ApplyBundle call.
type ApplyBundleResponse struct {
	Applied bool
	Reason  string
}

// GetTopologyRequest has no fields; it returns the whole cluster graph.
type GetTopologyRequest struct{}

// TopologyModel is one Model reference within a TopologyPackage: the name
// it's known by, the node name its Package targets it at, the node id that
// name resolved to (empty if unresolved), and its current derived state.
type TopologyModel struct {
	ModelName string
	NodeRef   string
	NodeID    string
	State     types.ModelState
}

// TopologyPackage is one Package and the Models it names, annotated with
// their resolved node placement.
type TopologyPackage struct {
	Name   string
	State  types.PackageState
	Models []TopologyModel
}

// GetTopologyResponse is the full Package/Model/Node placement graph.
type GetTopologyResponse struct {
	Packages []TopologyPackage
	Nodes    []*types.Node
}

// UpdateTopologyRequest retargets a Package's named Model onto a different
// node, re-dispatching it there.
type UpdateTopologyRequest struct {
	PackageName string
	ModelName   string
	NewNode     string
}

// UpdateTopologyResponse acknowledges an UpdateTopology call.
type UpdateTopologyResponse struct {
	Applied bool
	Reason  string
}

// SetScenarioStateRequest is the Scenario-transition ingress, carrying a
// caller-supplied correlation id for audit.
type SetScenarioStateRequest struct {
	ScenarioName string
	NewState     types.ScenarioState
	TransitionID string
}

// SetScenarioStateResponse returns the Scenario's resulting state.
type SetScenarioStateResponse struct {
	State types.ScenarioState
}

// ArtifactInfo is what the master pushes an agent to realize.
type ArtifactInfo struct {
	Kind    types.Kind
	Name    string
	Bundle  []byte // the artifact's raw spec document, for agent-local parsing
	Model   *types.Model
	Package *types.Package
}

// ArtifactResponse acknowledges HandleArtifact.
type ArtifactResponse struct {
	Accepted bool
	Reason   string
}

// RemoveArtifactRequest tells an agent to tear down a previously-applied
// artifact.
type RemoveArtifactRequest struct {
	Kind types.Kind
	Name string
}

// RemoveArtifactResponse acknowledges RemoveArtifact.
type RemoveArtifactResponse struct {
	Removed bool
}

// HealthCheckRequest carries no fields; HealthCheck is a pure liveness probe.
type HealthCheckRequest struct{}

// HealthCheckResponse reports that the agent answered.
type HealthCheckResponse struct {
	OK bool
}
