package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "piccolo",
	Short:   "piccolo is the CLI for a piccolo-master cluster",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("master", "127.0.0.1:7443", "piccolo-master RPC address")
	rootCmd.PersistentFlags().String("token", "", "Join token, needed only the first time this CLI talks to a master")

	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(scenarioCmd)
	rootCmd.AddCommand(topologyCmd)
}

func dialFlags(cmd *cobra.Command) (addr, token string) {
	addr, _ = cmd.Flags().GetString("master")
	token, _ = cmd.Flags().GetString("token")
	return addr, token
}
