package reconciler

import "github.com/piccolo-edge/piccolo/pkg/types"

// EventSource identifies what produced an Event, for logging and metrics.
type EventSource string

const (
	SourceContainerStatus EventSource = "container_status"
	SourceScenarioRequest EventSource = "scenario_request"
	SourceRegistry        EventSource = "registry"
	SourceDispatchTick    EventSource = "dispatch_tick"
)

// Event is one unit of reconciliation work. Every event names the resource
// it concerns; events for the same resource are sharded to the same
// worker so they are processed in arrival order.
type Event struct {
	Source EventSource
	Kind   types.Kind

	// ResourceName identifies the directly affected resource: a Model
	// name for a container-status batch, a Scenario name for a
	// transition request.
	ResourceName string

	// PackageName is the owning Package, used for shard placement so a
	// Model transition and its Package cascade land in the same shard.
	// For Scenario/Package events this equals ResourceName.
	PackageName string

	ContainerStates  []types.ContainerState // for SourceContainerStatus
	ScenarioNewState types.ScenarioState    // for SourceScenarioRequest
	TransitionID     string                 // for SourceScenarioRequest
}

// shardKey is what Event sharding hashes on: same PackageName always maps
// to the same shard, preserving the Model->Package causal order.
func (e Event) shardKey() string {
	if e.Kind == types.KindScenario {
		return "scenario/" + e.ResourceName
	}
	return "package/" + e.PackageName
}
