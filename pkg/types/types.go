// Package types defines the PICCOLO cluster data model: the four nested
// resource kinds (Scenario, Package, Model, Container) and the Node entity
// that hosts them.
package types

import (
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Kind identifies one of the three artifact kinds recognized by ArtifactIntake.
type Kind string

const (
	KindScenario Kind = "Scenario"
	KindPackage  Kind = "Package"
	KindModel    Kind = "Model"
)

// NodeRole is the role a node plays in the cluster.
type NodeRole string

const (
	NodeRoleMaster NodeRole = "master"
	NodeRoleSub    NodeRole = "sub"
)

// Liveness is a node's classification by the HeartbeatSupervisor.
type Liveness string

const (
	LivenessPending      Liveness = "Pending"
	LivenessInitializing Liveness = "Initializing"
	LivenessReady        Liveness = "Ready"
	LivenessNotReady     Liveness = "NotReady"
	LivenessMaintenance  Liveness = "Maintenance"
	LivenessTerminating  Liveness = "Terminating"
)

// NodeResources tracks a node's advertised capacity.
type NodeResources struct {
	CPUCores    int
	MemoryBytes int64
	DiskBytes   int64
}

// Node represents a manager ("master") or worker ("sub") node.
type Node struct {
	ID            string
	Hostname      string
	Address       string
	Role          NodeRole
	Labels        map[string]string
	Resources     *NodeResources
	Liveness      Liveness
	LastHeartbeat time.Time
	RegisteredAt  time.Time
}

// IsStatic reports whether the node is expected to be pre-registered rather
// than joining dynamically.
func (n *Node) IsStatic() bool {
	return n.Role == NodeRoleSub
}

// ContainerState is the observed runtime state of a container.
// These states are produced by the workload driver, never derived.
type ContainerState string

const (
	ContainerCreated     ContainerState = "Created"
	ContainerInitialized ContainerState = "Initialized"
	ContainerRunning     ContainerState = "Running"
	ContainerPaused      ContainerState = "Paused"
	ContainerExited      ContainerState = "Exited"
	ContainerDead        ContainerState = "Dead"
	ContainerUnknown     ContainerState = "Unknown"
)

// Container is a single observed runtime instance owned by a Model.
// Only NodeAgents (via the workload driver) create and destroy these; the
// master only ever observes them.
type Container struct {
	ID         string
	Name       string
	ModelName  string
	NodeID     string
	State      ContainerState
	ExitCode   int
	Error      string
	ObservedAt time.Time
}

// ModelState is the derived state of a Model.
type ModelState string

const (
	ModelStateCreated ModelState = "Created" // initial, pre-derivation value only
	ModelStateDead    ModelState = "Dead"
	ModelStatePaused  ModelState = "Paused"
	ModelStateExited  ModelState = "Exited"
	ModelStateRunning ModelState = "Running"
)

// RestartCondition controls when a Model's containers are restarted.
type RestartCondition string

const (
	RestartNever     RestartCondition = "never"
	RestartOnFailure RestartCondition = "on-failure"
	RestartAlways    RestartCondition = "always"
)

// RestartPolicy is part of a Model's spec.
type RestartPolicy struct {
	Condition   RestartCondition
	MaxAttempts int
	Delay       time.Duration
}

// ContainerSpec describes one container within a Model's spec, as parsed
// from an artifact document. The workload driver is treated as a black box;
// this is forwarded to it unmodified.
type ContainerSpec struct {
	Name    string
	Image   string
	Command []string
	Env     []string
	Ports   []int

	// Runtime carries the OCI runtime configuration a WorkloadDriver should
	// apply on top of Command/Env/Ports when it creates the container. Nil
	// means the driver picks its own defaults.
	Runtime *specs.Spec
}

// ModelSpec is the canonical spec of a Model artifact.
type ModelSpec struct {
	Containers    []ContainerSpec
	NetworkMode   string
	RestartPolicy *RestartPolicy
	Annotations   map[string]string
}

// Model is a workload definition targeting a specific node, named within
// a Package's Models list.
type Model struct {
	Name      string
	NodeName  string // the node this model is scheduled onto
	Spec      ModelSpec
	State     ModelState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PackageState is the derived state of a Package.
type PackageState string

const (
	PackageStateIdle     PackageState = "idle" // initial, pre-derivation value only
	PackageStateRunning  PackageState = "running"
	PackageStateDegraded PackageState = "degraded"
	PackageStatePaused   PackageState = "paused"
	PackageStateExited   PackageState = "exited"
	PackageStateError    PackageState = "error"
)

// PackageModelRef names a Model and the node it targets, as listed in a
// Package artifact's models[] field.
type PackageModelRef struct {
	ModelName string
	Node      string
}

// Package groups named Models under a single target for a Scenario.
type Package struct {
	Name      string
	Patterns  []string
	Models    []PackageModelRef
	State     PackageState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScenarioState is the current position of a Scenario in its external
// event-driven transition graph.
type ScenarioState string

const (
	ScenarioStateIdle      ScenarioState = "idle"
	ScenarioStateWaiting   ScenarioState = "waiting"
	ScenarioStateSatisfied ScenarioState = "satisfied"
	ScenarioStateAllowed   ScenarioState = "allowed"
	ScenarioStateDenied    ScenarioState = "denied"
	ScenarioStateCompleted ScenarioState = "completed"
)

// IsTerminal reports whether no further transition is possible from s.
func (s ScenarioState) IsTerminal() bool {
	return s == ScenarioStateDenied || s == ScenarioStateCompleted
}

// Scenario is the top-level resource: an optional condition gating an
// action against a target Package.
type Scenario struct {
	Name      string
	Condition string // optional; empty means unconditional
	Action    string
	Target    string // Package name
	State     ScenarioState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Artifact is the tagged union ArtifactIntake operates over: a sum type
// rather than an interface hierarchy, so the statemachine functions stay
// total over their input. Exactly one of the three pointer fields is non-nil.
type Artifact struct {
	Kind     Kind
	Name     string
	Scenario *Scenario
	Package  *Package
	Model    *Model
}
