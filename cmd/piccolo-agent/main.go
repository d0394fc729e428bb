package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/piccolo-edge/piccolo/pkg/agent"
	"github.com/piccolo-edge/piccolo/pkg/config"
	"github.com/piccolo-edge/piccolo/pkg/log"
	"github.com/piccolo-edge/piccolo/pkg/rpc"
	"github.com/piccolo-edge/piccolo/pkg/security"
	"github.com/piccolo-edge/piccolo/pkg/types"
	"github.com/piccolo-edge/piccolo/pkg/workload"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

var (
	// Version information, set via ldflags during build.
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "piccolo-agent",
	Short:   "piccolo-agent runs a NodeAgent that joins a piccolo-master cluster",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)

	startCmd.Flags().String("hostname", "", "This agent's hostname, advertised at registration (defaults to os.Hostname)")
	startCmd.Flags().String("listen", "0.0.0.0:7444", "Address this agent serves HandleArtifact/RemoveArtifact/HealthCheck on")
	startCmd.Flags().String("master", "127.0.0.1:7443", "piccolo-master RPC address")
	startCmd.Flags().String("token", "", "Join token issued by piccolo-master (required on first join)")
	startCmd.Flags().Int("cpu", 4, "CPU cores to advertise")
	startCmd.Flags().Int64("memory-bytes", 8*1024*1024*1024, "Memory in bytes to advertise")
	startCmd.Flags().Int64("disk-bytes", 100*1024*1024*1024, "Disk in bytes to advertise")
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Join the cluster and serve the NodeAgent RPCs",
	RunE: func(cmd *cobra.Command, args []string) error {
		hostname, _ := cmd.Flags().GetString("hostname")
		if hostname == "" {
			h, err := os.Hostname()
			if err != nil {
				return fmt.Errorf("determine hostname: %w", err)
			}
			hostname = h
		}
		listenAddr, _ := cmd.Flags().GetString("listen")
		masterAddr, _ := cmd.Flags().GetString("master")
		token, _ := cmd.Flags().GetString("token")
		cpu, _ := cmd.Flags().GetInt("cpu")
		memBytes, _ := cmd.Flags().GetInt64("memory-bytes")
		diskBytes, _ := cmd.Flags().GetInt64("disk-bytes")

		rcfg := config.Default()
		if err := rcfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		a := agent.New(agent.Config{
			Hostname:   hostname,
			Address:    listenAddr,
			MasterAddr: masterAddr,
			JoinToken:  token,
			Resources: &types.NodeResources{
				CPUCores:    cpu,
				MemoryBytes: memBytes,
				DiskBytes:   diskBytes,
			},
		}, rcfg, workload.NewExecDriver())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("start agent: %w", err)
		}
		defer a.Stop()

		certDir, err := security.GetCertDir("agent", hostname)
		if err != nil {
			return fmt.Errorf("get cert directory: %w", err)
		}
		cert, err := security.LoadCertFromFile(certDir)
		if err != nil {
			return fmt.Errorf("load agent certificate: %w", err)
		}
		caCert, err := security.LoadCACertFromFile(certDir)
		if err != nil {
			return fmt.Errorf("load CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		pool.AddCert(caCert)

		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{*cert},
			ClientAuth:   tls.RequireAndVerifyClientCert,
			ClientCAs:    pool,
			MinVersion:   tls.VersionTLS13,
		}

		lis, err := net.Listen("tcp", listenAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", listenAddr, err)
		}

		grpcServer := grpc.NewServer(grpc.Creds(credentials.NewTLS(tlsConfig)))
		rpc.RegisterAgentServer(grpcServer, a)

		go func() {
			log.Info(fmt.Sprintf("NodeAgent %q listening on %s, joined node %s", hostname, listenAddr, a.NodeID()))
			if err := grpcServer.Serve(lis); err != nil {
				log.Errorf("grpc server stopped: %v", err)
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		log.Info("shutdown signal received, draining")
		grpcServer.GracefulStop()

		return nil
	},
}
