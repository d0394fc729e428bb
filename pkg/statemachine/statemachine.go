// Package statemachine holds the pure, side-effect-free derivation
// functions the Reconciler uses to turn observed container state into
// Model and Package state, plus the Scenario transition graph.
package statemachine

import (
	"fmt"

	"github.com/piccolo-edge/piccolo/pkg/piccoloerr"
	"github.com/piccolo-edge/piccolo/pkg/types"
)

// DeriveModel computes a Model's state from the multiset of its
// containers' observed states. Rules are evaluated in order; the first
// match wins.
func DeriveModel(containers []types.ContainerState) types.ModelState {
	if len(containers) == 0 {
		return types.ModelStateDead
	}

	allPaused, allExited := true, true
	for _, c := range containers {
		if c == types.ContainerDead {
			return types.ModelStateDead
		}
		if c != types.ContainerPaused {
			allPaused = false
		}
		if c != types.ContainerExited {
			allExited = false
		}
	}

	switch {
	case allPaused:
		return types.ModelStatePaused
	case allExited:
		return types.ModelStateExited
	default:
		return types.ModelStateRunning
	}
}

// DerivePackage computes a Package's state from the multiset of its
// member models' states. A Package with no Models is idle, not an error:
// it stays idle until a Model is added, never auto-promoted to running.
func DerivePackage(models []types.ModelState) types.PackageState {
	if len(models) == 0 {
		return types.PackageStateIdle
	}

	allDead, anyDead := true, false
	allPaused, allExited := true, true
	for _, m := range models {
		if m == types.ModelStateDead {
			anyDead = true
		} else {
			allDead = false
		}
		if m != types.ModelStatePaused {
			allPaused = false
		}
		if m != types.ModelStateExited {
			allExited = false
		}
	}

	switch {
	case allDead:
		return types.PackageStateError
	case anyDead:
		return types.PackageStateDegraded
	case allPaused:
		return types.PackageStatePaused
	case allExited:
		return types.PackageStateExited
	default:
		return types.PackageStateRunning
	}
}

// scenarioTransitions lists, for each Scenario state, the states it may
// move to next. idle has no automatic predecessor: it is the state
// ArtifactIntake writes at creation.
var scenarioTransitions = map[types.ScenarioState]map[types.ScenarioState]bool{
	types.ScenarioStateIdle:      {types.ScenarioStateWaiting: true},
	types.ScenarioStateWaiting:   {types.ScenarioStateSatisfied: true},
	types.ScenarioStateSatisfied: {types.ScenarioStateAllowed: true, types.ScenarioStateDenied: true},
	types.ScenarioStateAllowed:   {types.ScenarioStateCompleted: true},
}

// TransitionScenario validates and applies a requested Scenario state
// change. denied and completed are terminal: no transition out of them
// is ever valid, by design (see package doc of the artifact intake
// layer for how a scenario is re-run).
func TransitionScenario(current types.ScenarioState, next types.ScenarioState, transitionID string) (types.ScenarioState, error) {
	if current.IsTerminal() {
		return current, piccoloerr.New(piccoloerr.CodeConflict, transitionID,
			fmt.Sprintf("scenario is in terminal state %s, rejecting transition to %s", current, next))
	}

	allowed, ok := scenarioTransitions[current]
	if !ok || !allowed[next] {
		return current, piccoloerr.New(piccoloerr.CodeConflict, transitionID,
			fmt.Sprintf("invalid scenario transition %s -> %s", current, next))
	}

	return next, nil
}
