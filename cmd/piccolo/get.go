package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Inspect cluster state",
}

var getNodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List registered nodes",
	RunE:  runGetNodes,
}

var getNodeCmd = &cobra.Command{
	Use:   "node <node-id>",
	Short: "Show a single node",
	Args:  cobra.ExactArgs(1),
	RunE:  runGetNode,
}

var getTopologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Show Package/Model placement across nodes",
	RunE:  runGetTopology,
}

func init() {
	getCmd.AddCommand(getNodesCmd)
	getCmd.AddCommand(getNodeCmd)
	getCmd.AddCommand(getTopologyCmd)
}

func runGetNodes(cmd *cobra.Command, args []string) error {
	addr, token := dialFlags(cmd)
	c, err := dial(addr, token)
	if err != nil {
		return err
	}
	defer c.Close()

	nodes, err := c.ListNodes()
	if err != nil {
		return fmt.Errorf("list nodes: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tHOSTNAME\tROLE\tLIVENESS\tADDRESS")
	for _, n := range nodes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", n.ID, n.Hostname, n.Role, n.Liveness, n.Address)
	}
	return w.Flush()
}

func runGetNode(cmd *cobra.Command, args []string) error {
	addr, token := dialFlags(cmd)
	c, err := dial(addr, token)
	if err != nil {
		return err
	}
	defer c.Close()

	node, err := c.GetNode(args[0])
	if err != nil {
		return fmt.Errorf("get node: %w", err)
	}
	fmt.Printf("ID:        %s\n", node.ID)
	fmt.Printf("Hostname:  %s\n", node.Hostname)
	fmt.Printf("Role:      %s\n", node.Role)
	fmt.Printf("Liveness:  %s\n", node.Liveness)
	fmt.Printf("Address:   %s\n", node.Address)
	fmt.Printf("Heartbeat: %s\n", node.LastHeartbeat)
	return nil
}

func runGetTopology(cmd *cobra.Command, args []string) error {
	addr, token := dialFlags(cmd)
	c, err := dial(addr, token)
	if err != nil {
		return err
	}
	defer c.Close()

	topo, err := c.GetTopology()
	if err != nil {
		return fmt.Errorf("get topology: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PACKAGE\tSTATE\tMODEL\tNODE REF\tNODE ID\tMODEL STATE")
	for _, pkg := range topo.Packages {
		if len(pkg.Models) == 0 {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\n", pkg.Name, pkg.State)
			continue
		}
		for _, model := range pkg.Models {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				pkg.Name, pkg.State, model.ModelName, model.NodeRef, model.NodeID, model.State)
		}
	}
	return w.Flush()
}
