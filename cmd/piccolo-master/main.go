package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/piccolo-edge/piccolo/pkg/config"
	"github.com/piccolo-edge/piccolo/pkg/log"
	"github.com/piccolo-edge/piccolo/pkg/master"
	"github.com/piccolo-edge/piccolo/pkg/rpc"
	"github.com/piccolo-edge/piccolo/pkg/security"
	"github.com/piccolo-edge/piccolo/pkg/statestore"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

var (
	// Version information, set via ldflags during build.
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "piccolo-master",
	Short:   "piccolo-master runs the cluster state core's single master",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)

	startCmd.Flags().String("data-dir", "./piccolo-master-data", "State store data directory")
	startCmd.Flags().String("listen", "0.0.0.0:7443", "RPC listen address")
	startCmd.Flags().String("metrics-listen", "127.0.0.1:9090", "Prometheus metrics listen address")
	startCmd.Flags().Duration("bootstrap-token-ttl", 24*time.Hour, "Validity of the join token printed at startup")
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the master, serving RPCFabric and Prometheus metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		listenAddr, _ := cmd.Flags().GetString("listen")
		metricsAddr, _ := cmd.Flags().GetString("metrics-listen")

		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		store, err := statestore.Open(dataDir, cfg.WatchReplayDepth)
		if err != nil {
			return fmt.Errorf("open state store: %w", err)
		}
		defer store.Close()

		ca := security.NewCertAuthority(store)
		if err := ca.LoadFromStore(); err != nil {
			log.Info("no existing cluster CA found, initializing a new one")
			if err := ca.Initialize(); err != nil {
				return fmt.Errorf("initialize CA: %w", err)
			}
			if err := ca.SaveToStore(); err != nil {
				return fmt.Errorf("save CA to store: %w", err)
			}
		}

		host, _, err := net.SplitHostPort(listenAddr)
		if err != nil {
			host = listenAddr
		}
		masterCert, err := ca.IssueNodeCertificate("master", "master", []string{host, "localhost"}, nil)
		if err != nil {
			return fmt.Errorf("issue master certificate: %w", err)
		}
		rootCACert, err := x509.ParseCertificate(ca.GetRootCACert())
		if err != nil {
			return fmt.Errorf("parse root CA certificate: %w", err)
		}

		fabric := rpc.NewFabric(*masterCert, rootCACert, cfg.MaxRetries, cfg.RetryBudget)
		defer fabric.Close()

		tokens := security.NewTokenManager()
		m := master.New(store, ca, tokens, fabric, cfg)

		ttl, _ := cmd.Flags().GetDuration("bootstrap-token-ttl")
		bootstrapToken, err := tokens.GenerateToken("sub", ttl)
		if err != nil {
			return fmt.Errorf("generate bootstrap join token: %w", err)
		}
		log.Info(fmt.Sprintf("bootstrap join token (sub, valid %s): %s", ttl, bootstrapToken.Token))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sup := m.Start(ctx)
		defer m.Stop(sup)

		certPool := x509.NewCertPool()
		certPool.AddCert(rootCACert)
		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{*masterCert},
			ClientAuth:   tls.RequestClientCert,
			ClientCAs:    certPool,
			MinVersion:   tls.VersionTLS13,
		}

		lis, err := net.Listen("tcp", listenAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", listenAddr, err)
		}

		grpcServer := grpc.NewServer(grpc.Creds(credentials.NewTLS(tlsConfig)))
		rpc.RegisterMasterServer(grpcServer, m)

		go func() {
			log.Info(fmt.Sprintf("RPCFabric listening on %s", listenAddr))
			if err := grpcServer.Serve(lis); err != nil {
				log.Errorf("grpc server stopped: %v", err)
			}
		}()

		metricsServer := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
		go func() {
			log.Info(fmt.Sprintf("metrics endpoint listening on http://%s/metrics", metricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server stopped: %v", err)
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		log.Info("shutdown signal received, draining")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer shutdownCancel()
		_ = metricsServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()

		return nil
	},
}
