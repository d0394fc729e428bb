package main

import (
	"fmt"
	"os"

	"github.com/piccolo-edge/piccolo/pkg/client"
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply an artifact bundle",
	Long: `Apply a piccolo artifact bundle, a YAML document stream of
Model, Package and Scenario resources.

Examples:
  piccolo apply -f bundle.yaml
  piccolo apply -f bundle.yaml --token <join-token>`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "Bundle file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	addr, token := dialFlags(cmd)

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read bundle: %w", err)
	}

	c, err := dial(addr, token)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.ApplyBundle(data); err != nil {
		return fmt.Errorf("apply bundle: %w", err)
	}
	fmt.Printf("✓ bundle applied: %s\n", filename)
	return nil
}

func dial(addr, token string) (*client.Client, error) {
	if token != "" {
		return client.NewWithToken(addr, token)
	}
	return client.New(addr)
}
