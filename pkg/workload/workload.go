// Package workload defines the WorkloadDriver contract a NodeAgent drives
// to realize a Model's containers, plus a process-exec reference
// implementation for local testing. A real containerd-backed driver is out
// of scope; any implementation satisfying Driver plugs into pkg/agent.
package workload

import (
	"context"
	"time"

	"github.com/piccolo-edge/piccolo/pkg/types"
)

// Driver is the narrow surface a NodeAgent needs from a container runtime.
type Driver interface {
	Pull(ctx context.Context, image string) error
	Create(ctx context.Context, containerID string, spec types.ContainerSpec) error
	Start(ctx context.Context, containerID string) error
	Stop(ctx context.Context, containerID string, timeout time.Duration) error
	Remove(ctx context.Context, containerID string) error
	Inspect(ctx context.Context, containerID string) (types.ContainerState, error)
}
