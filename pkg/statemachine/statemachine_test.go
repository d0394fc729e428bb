package statemachine

import (
	"testing"

	"github.com/piccolo-edge/piccolo/pkg/piccoloerr"
	"github.com/piccolo-edge/piccolo/pkg/types"
)

func TestDeriveModel(t *testing.T) {
	tests := []struct {
		name string
		in   []types.ContainerState
		want types.ModelState
	}{
		{"empty", nil, types.ModelStateDead},
		{"any dead", []types.ContainerState{types.ContainerRunning, types.ContainerDead}, types.ModelStateDead},
		{"all dead", []types.ContainerState{types.ContainerDead, types.ContainerDead}, types.ModelStateDead},
		{"all paused", []types.ContainerState{types.ContainerPaused, types.ContainerPaused}, types.ModelStatePaused},
		{"all exited", []types.ContainerState{types.ContainerExited, types.ContainerExited}, types.ModelStateExited},
		{"mixed paused and exited", []types.ContainerState{types.ContainerPaused, types.ContainerExited}, types.ModelStateRunning},
		{"running present", []types.ContainerState{types.ContainerRunning, types.ContainerExited}, types.ModelStateRunning},
		{"single running", []types.ContainerState{types.ContainerRunning}, types.ModelStateRunning},
		{"unknown counts as running-ish", []types.ContainerState{types.ContainerUnknown}, types.ModelStateRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveModel(tt.in)
			if got != tt.want {
				t.Errorf("DeriveModel(%v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestDeriveModelIsPure(t *testing.T) {
	in := []types.ContainerState{types.ContainerRunning, types.ContainerExited}
	if DeriveModel(in) != DeriveModel(in) {
		t.Error("DeriveModel is not deterministic over the same input")
	}
}

func TestDerivePackage(t *testing.T) {
	tests := []struct {
		name string
		in   []types.ModelState
		want types.PackageState
	}{
		{"empty", nil, types.PackageStateIdle},
		{"all dead", []types.ModelState{types.ModelStateDead, types.ModelStateDead}, types.PackageStateError},
		{"some dead", []types.ModelState{types.ModelStateDead, types.ModelStateRunning}, types.PackageStateDegraded},
		{"all paused", []types.ModelState{types.ModelStatePaused, types.ModelStatePaused}, types.PackageStatePaused},
		{"all exited", []types.ModelState{types.ModelStateExited, types.ModelStateExited}, types.PackageStateExited},
		{"mixed paused and exited", []types.ModelState{types.ModelStatePaused, types.ModelStateExited}, types.PackageStateRunning},
		{"running present", []types.ModelState{types.ModelStateRunning, types.ModelStateExited}, types.PackageStateRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DerivePackage(tt.in)
			if got != tt.want {
				t.Errorf("DerivePackage(%v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestTransitionScenarioHappyPath(t *testing.T) {
	steps := []struct {
		from, to types.ScenarioState
	}{
		{types.ScenarioStateIdle, types.ScenarioStateWaiting},
		{types.ScenarioStateWaiting, types.ScenarioStateSatisfied},
		{types.ScenarioStateSatisfied, types.ScenarioStateAllowed},
		{types.ScenarioStateAllowed, types.ScenarioStateCompleted},
	}

	for _, s := range steps {
		got, err := TransitionScenario(s.from, s.to, "t1")
		if err != nil {
			t.Fatalf("TransitionScenario(%s, %s): unexpected error %v", s.from, s.to, err)
		}
		if got != s.to {
			t.Fatalf("TransitionScenario(%s, %s) = %s", s.from, s.to, got)
		}
	}
}

func TestTransitionScenarioSatisfiedCanBeDenied(t *testing.T) {
	got, err := TransitionScenario(types.ScenarioStateSatisfied, types.ScenarioStateDenied, "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != types.ScenarioStateDenied {
		t.Fatalf("got %s, want denied", got)
	}
}

func TestTransitionScenarioRejectsSkippedStates(t *testing.T) {
	_, err := TransitionScenario(types.ScenarioStateIdle, types.ScenarioStateAllowed, "t1")
	if !piccoloerr.Is(err, piccoloerr.CodeConflict) {
		t.Fatalf("expected CodeConflict, got %v", err)
	}
}

func TestTransitionScenarioRejectsFromTerminalStates(t *testing.T) {
	for _, terminal := range []types.ScenarioState{types.ScenarioStateCompleted, types.ScenarioStateDenied} {
		_, err := TransitionScenario(terminal, types.ScenarioStateAllowed, "t1")
		if !piccoloerr.Is(err, piccoloerr.CodeConflict) {
			t.Fatalf("expected CodeConflict transitioning out of terminal state %s, got %v", terminal, err)
		}
	}
}

func TestTransitionScenarioDuplicateAllowedAfterCompletedIsRejected(t *testing.T) {
	state := types.ScenarioStateWaiting

	var err error
	state, err = TransitionScenario(state, types.ScenarioStateSatisfied, "t1")
	if err != nil {
		t.Fatalf("satisfied: %v", err)
	}
	state, err = TransitionScenario(state, types.ScenarioStateAllowed, "t2")
	if err != nil {
		t.Fatalf("allowed: %v", err)
	}
	state, err = TransitionScenario(state, types.ScenarioStateCompleted, "t3")
	if err != nil {
		t.Fatalf("completed: %v", err)
	}

	if _, err := TransitionScenario(state, types.ScenarioStateAllowed, "t4"); !piccoloerr.Is(err, piccoloerr.CodeConflict) {
		t.Fatalf("expected duplicate allowed after completed to be rejected, got %v", err)
	}
}
