package workload

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/piccolo-edge/piccolo/pkg/types"
)

// ExecDriver is a process-exec Driver for local testing: a ContainerSpec's
// Image names an executable on PATH, and Command becomes its arguments.
// It does not isolate anything; it exists so the rest of the control plane
// has something real to drive without a container runtime dependency.
type ExecDriver struct {
	mu      sync.Mutex
	entries map[string]*execEntry
}

type execEntry struct {
	cmd   *exec.Cmd
	mu    sync.Mutex
	state types.ContainerState
	done  chan struct{}
}

// NewExecDriver creates an empty ExecDriver.
func NewExecDriver() *ExecDriver {
	return &ExecDriver{entries: make(map[string]*execEntry)}
}

// Pull verifies the image names a resolvable executable.
func (d *ExecDriver) Pull(ctx context.Context, image string) error {
	if _, err := exec.LookPath(image); err != nil {
		return fmt.Errorf("workload image %q is not an executable on PATH: %w", image, err)
	}
	return nil
}

// Create prepares the process but does not start it.
func (d *ExecDriver) Create(ctx context.Context, containerID string, spec types.ContainerSpec) error {
	cmd := exec.Command(spec.Image, spec.Command...)
	cmd.Env = spec.Env

	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[containerID] = &execEntry{cmd: cmd, state: types.ContainerCreated, done: make(chan struct{})}
	return nil
}

// Start launches the process and begins tracking its exit in the background.
func (d *ExecDriver) Start(ctx context.Context, containerID string) error {
	entry, err := d.get(containerID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	startErr := entry.cmd.Start()
	if startErr != nil {
		entry.state = types.ContainerDead
		entry.mu.Unlock()
		return fmt.Errorf("start %s: %w", containerID, startErr)
	}
	entry.state = types.ContainerRunning
	entry.mu.Unlock()

	go func() {
		waitErr := entry.cmd.Wait()
		entry.mu.Lock()
		if waitErr != nil {
			entry.state = types.ContainerDead
		} else {
			entry.state = types.ContainerExited
		}
		entry.mu.Unlock()
		close(entry.done)
	}()

	return nil
}

// Stop sends SIGTERM and escalates to SIGKILL if the process outlives timeout.
func (d *ExecDriver) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	entry, err := d.get(containerID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	proc := entry.cmd.Process
	entry.mu.Unlock()
	if proc == nil {
		return nil
	}
	_ = proc.Signal(syscall.SIGTERM)

	select {
	case <-entry.done:
		return nil
	case <-time.After(timeout):
		return proc.Kill()
	}
}

// Remove forgets a container's tracking entry. The caller must Stop it first
// if it may still be running.
func (d *ExecDriver) Remove(ctx context.Context, containerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, containerID)
	return nil
}

// Inspect reports a container's last observed state.
func (d *ExecDriver) Inspect(ctx context.Context, containerID string) (types.ContainerState, error) {
	entry, err := d.get(containerID)
	if err != nil {
		return types.ContainerUnknown, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state, nil
}

func (d *ExecDriver) get(containerID string) (*execEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[containerID]
	if !ok {
		return nil, fmt.Errorf("no such container %q", containerID)
	}
	return entry, nil
}
