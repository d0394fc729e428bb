package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Administer Model-to-node placement",
}

var topologySetNodeCmd = &cobra.Command{
	Use:   "set-node <package-name> <model-name> <node>",
	Short: "Retarget a Package's Model onto a different node",
	Args:  cobra.ExactArgs(3),
	RunE:  runTopologySetNode,
}

func init() {
	topologyCmd.AddCommand(topologySetNodeCmd)
}

func runTopologySetNode(cmd *cobra.Command, args []string) error {
	addr, token := dialFlags(cmd)
	c, err := dial(addr, token)
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.UpdateTopology(args[0], args[1], args[2])
	if err != nil {
		return fmt.Errorf("update topology: %w", err)
	}
	if !resp.Applied {
		return fmt.Errorf("topology update rejected: %s", resp.Reason)
	}
	fmt.Printf("✓ model %s in package %s now targets %s\n", args[1], args[0], args[2])
	return nil
}
