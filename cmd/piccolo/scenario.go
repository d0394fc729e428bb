package main

import (
	"fmt"

	"github.com/piccolo-edge/piccolo/pkg/types"
	"github.com/spf13/cobra"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Drive a Scenario's state transitions",
}

var scenarioSetStateCmd = &cobra.Command{
	Use:   "set-state <scenario-name> <state>",
	Short: "Request a Scenario transition (idle, waiting, satisfied, allowed, denied, completed)",
	Args:  cobra.ExactArgs(2),
	RunE:  runScenarioSetState,
}

func init() {
	scenarioSetStateCmd.Flags().String("transition-id", "", "Correlation id recorded with this transition request, for audit")
	scenarioCmd.AddCommand(scenarioSetStateCmd)
}

func runScenarioSetState(cmd *cobra.Command, args []string) error {
	addr, token := dialFlags(cmd)
	transitionID, _ := cmd.Flags().GetString("transition-id")

	c, err := dial(addr, token)
	if err != nil {
		return err
	}
	defer c.Close()

	state, err := c.SetScenarioState(args[0], types.ScenarioState(args[1]), transitionID)
	if err != nil {
		return fmt.Errorf("set scenario state: %w", err)
	}
	fmt.Printf("✓ scenario %s is now %s\n", args[0], state)
	return nil
}
