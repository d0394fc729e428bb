// Package agent implements the NodeAgent: the remote peer a master
// dispatches Models to. It registers with the master, sends a periodic
// heartbeat, and answers the master's HandleArtifact/RemoveArtifact/
// HealthCheck RPCs by driving a workload.Driver.
package agent

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/piccolo-edge/piccolo/pkg/artifact"
	"github.com/piccolo-edge/piccolo/pkg/config"
	"github.com/piccolo-edge/piccolo/pkg/log"
	"github.com/piccolo-edge/piccolo/pkg/rpc"
	"github.com/piccolo-edge/piccolo/pkg/security"
	"github.com/piccolo-edge/piccolo/pkg/types"
	"github.com/piccolo-edge/piccolo/pkg/workload"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Config holds everything an Agent needs to join and serve a cluster.
type Config struct {
	Hostname    string
	Address     string // this agent's own reachable address, advertised at registration
	MasterAddr  string
	JoinToken   string
	Resources   *types.NodeResources
	Labels      map[string]string
	CertNodeKey string // identifies this agent's cert directory across restarts; defaults to Hostname
}

// containerKey composes a Model name and its ContainerSpec name into the
// id the workload driver tracks it under.
func containerKey(modelName, specName string) string {
	return modelName + "/" + specName
}

// Agent is a NodeAgent: it owns no persistent state of its own beyond what
// it needs to keep the driver's containers consistent with the most
// recently pushed Model.
type Agent struct {
	cfg     Config
	rcfg    *config.Config
	driver  workload.Driver
	logger  zerolog.Logger
	nodeID  string

	conn   *grpc.ClientConn
	master *rpc.MasterClient

	mu         sync.RWMutex
	models     map[string]*types.Model     // applied Models, by name
	containers map[string]*types.Container // by containerKey

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an Agent. rcfg supplies HeartbeatInterval/RetryBudget/etc;
// driver realizes the containers a Model describes.
func New(cfg Config, rcfg *config.Config, driver workload.Driver) *Agent {
	return &Agent{
		cfg:        cfg,
		rcfg:       rcfg,
		driver:     driver,
		logger:     log.WithComponent("agent"),
		models:     make(map[string]*types.Model),
		containers: make(map[string]*types.Container),
		stopCh:     make(chan struct{}),
	}
}

// Start obtains a certificate if needed, connects to the master over mTLS,
// registers, and launches the heartbeat loop. The caller is responsible for
// also registering the Agent as an rpc.AgentServer on a grpc.Server it
// serves to the master.
func (a *Agent) Start(ctx context.Context) error {
	certKey := a.cfg.CertNodeKey
	if certKey == "" {
		certKey = a.cfg.Hostname
	}
	certDir, err := security.GetCertDir("agent", certKey)
	if err != nil {
		return fmt.Errorf("get cert directory: %w", err)
	}

	if !security.CertExists(certDir) {
		a.logger.Info().Str("certDir", certDir).Msg("no certificate on disk, requesting one from master")
		if err := a.requestCertificate(ctx, certDir); err != nil {
			return fmt.Errorf("request certificate: %w", err)
		}
	}

	conn, err := a.connectWithMTLS(certDir)
	if err != nil {
		return fmt.Errorf("connect to master: %w", err)
	}
	a.conn = conn
	a.master = rpc.NewMasterClient(conn)

	regCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := a.master.RegisterNode(regCtx, &rpc.NodeRegistrationRequest{
		Hostname:   a.cfg.Hostname,
		Address:    a.cfg.Address,
		Credential: a.cfg.JoinToken,
		Resources:  a.cfg.Resources,
		Labels:     a.cfg.Labels,
	})
	if err != nil {
		return fmt.Errorf("register with master: %w", err)
	}
	a.nodeID = resp.NodeID
	a.logger.Info().Str("nodeID", a.nodeID).Str("role", string(resp.NodeRole)).Msg("registered with master")

	a.wg.Add(1)
	go a.heartbeatLoop()

	return nil
}

// Stop signals the heartbeat loop to exit, waits for it, and tears down the
// connection to the master.
func (a *Agent) Stop() error {
	close(a.stopCh)
	a.wg.Wait()
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

// NodeID is the id assigned at registration. Empty before Start succeeds.
func (a *Agent) NodeID() string {
	return a.nodeID
}

func (a *Agent) heartbeatLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.rcfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.sendHeartbeat(); err != nil {
				a.logger.Warn().Err(err).Msg("heartbeat failed")
			}
		case <-a.stopCh:
			return
		}
	}
}

func (a *Agent) sendHeartbeat() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := a.master.Heartbeat(ctx, &rpc.HeartbeatRequest{
		NodeID:    a.nodeID,
		Timestamp: timestamppb.Now(),
	})
	if err != nil {
		return err
	}
	for _, d := range resp.Directives {
		a.logger.Info().Str("directive", d).Msg("master sent a heartbeat directive")
	}
	return nil
}

// HandleArtifact satisfies rpc.AgentServer. A Model push creates/starts any
// containers it describes that aren't already running; anything else is
// acknowledged and ignored, since only Models carry runnable work.
func (a *Agent) HandleArtifact(ctx context.Context, req *rpc.ArtifactInfo) (*rpc.ArtifactResponse, error) {
	model := req.Model
	if model == nil && len(req.Bundle) > 0 {
		artifacts, err := artifact.ParseBundle(req.Bundle)
		if err != nil {
			return &rpc.ArtifactResponse{Accepted: false, Reason: err.Error()}, nil
		}
		for _, art := range artifacts {
			if art.Kind == types.KindModel {
				model = art.Model
				break
			}
		}
	}
	if model == nil {
		return &rpc.ArtifactResponse{Accepted: true}, nil
	}

	a.mu.Lock()
	a.models[model.Name] = model
	a.mu.Unlock()

	go a.realizeModel(model)

	return &rpc.ArtifactResponse{Accepted: true}, nil
}

// realizeModel pulls, creates, and starts every container a Model
// describes that this agent isn't already tracking, then reports the
// resulting state back to the master.
func (a *Agent) realizeModel(model *types.Model) {
	ctx := context.Background()

	for _, spec := range model.Spec.Containers {
		key := containerKey(model.Name, spec.Name)

		a.mu.RLock()
		_, exists := a.containers[key]
		a.mu.RUnlock()
		if exists {
			continue
		}

		container := &types.Container{
			ID:        key,
			Name:      spec.Name,
			ModelName: model.Name,
			NodeID:    a.nodeID,
			State:     types.ContainerCreated,
		}
		a.mu.Lock()
		a.containers[key] = container
		a.mu.Unlock()

		if err := a.driver.Pull(ctx, spec.Image); err != nil {
			a.failContainer(key, fmt.Sprintf("pull image: %v", err))
			continue
		}
		if err := a.driver.Create(ctx, key, spec); err != nil {
			a.failContainer(key, fmt.Sprintf("create container: %v", err))
			continue
		}
		if err := a.driver.Start(ctx, key); err != nil {
			a.failContainer(key, fmt.Sprintf("start container: %v", err))
			continue
		}

		a.mu.Lock()
		container.State = types.ContainerRunning
		container.ObservedAt = time.Now()
		a.mu.Unlock()
	}

	a.reportStatus()
}

func (a *Agent) failContainer(key, reason string) {
	a.mu.Lock()
	if c, ok := a.containers[key]; ok {
		c.State = types.ContainerDead
		c.Error = reason
		c.ObservedAt = time.Now()
	}
	a.mu.Unlock()
	a.logger.Warn().Str("container", key).Str("reason", reason).Msg("container failed to start")
	a.reportStatus()
}

// RemoveArtifact satisfies rpc.AgentServer: stop and remove every
// container belonging to the named Model, then forget it.
func (a *Agent) RemoveArtifact(ctx context.Context, req *rpc.RemoveArtifactRequest) (*rpc.RemoveArtifactResponse, error) {
	if req.Kind != types.KindModel {
		return &rpc.RemoveArtifactResponse{Removed: true}, nil
	}

	a.mu.Lock()
	model, ok := a.models[req.Name]
	delete(a.models, req.Name)
	a.mu.Unlock()
	if !ok {
		return &rpc.RemoveArtifactResponse{Removed: true}, nil
	}

	for _, spec := range model.Spec.Containers {
		key := containerKey(req.Name, spec.Name)
		stopTimeout := 10 * time.Second
		if model.Spec.RestartPolicy != nil && model.Spec.RestartPolicy.Delay > 0 {
			stopTimeout = model.Spec.RestartPolicy.Delay
		}
		if err := a.driver.Stop(ctx, key, stopTimeout); err != nil {
			a.logger.Warn().Err(err).Str("container", key).Msg("failed to stop container during removal")
		}
		if err := a.driver.Remove(ctx, key); err != nil {
			a.logger.Warn().Err(err).Str("container", key).Msg("failed to remove container")
		}
		a.mu.Lock()
		delete(a.containers, key)
		a.mu.Unlock()
	}

	a.reportStatus()
	return &rpc.RemoveArtifactResponse{Removed: true}, nil
}

// HealthCheck satisfies rpc.AgentServer; it is a pure liveness probe for
// HeartbeatSupervisor's NotReady recovery sweep.
func (a *Agent) HealthCheck(ctx context.Context, req *rpc.HealthCheckRequest) (*rpc.HealthCheckResponse, error) {
	return &rpc.HealthCheckResponse{OK: true}, nil
}

// reportStatus pushes the agent's current container snapshot to the
// master. Failures are logged; the next heartbeat or artifact push will
// carry a fresher snapshot regardless.
func (a *Agent) reportStatus() {
	if a.master == nil {
		return
	}

	a.mu.RLock()
	containers := make([]types.Container, 0, len(a.containers))
	for _, c := range a.containers {
		containers = append(containers, *c)
	}
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := a.master.ReportStatus(ctx, &rpc.StatusReport{
		NodeID:     a.nodeID,
		NodeStatus: "ready",
		Containers: containers,
	}); err != nil {
		a.logger.Warn().Err(err).Msg("failed to report status to master")
	}
}

// requestCertificate exchanges the configured join token for a signed
// certificate over a TLS connection that does not yet verify the server,
// since the agent has no CA cert to check against before this call.
func (a *Agent) requestCertificate(ctx context.Context, certDir string) error {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS13,
	}
	conn, err := grpc.NewClient(a.cfg.MasterAddr, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	if err != nil {
		return fmt.Errorf("dial master: %w", err)
	}
	defer conn.Close()

	client := rpc.NewMasterClient(conn)
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := client.RequestCertificate(reqCtx, &rpc.CertificateRequest{
		NodeID: a.cfg.CertNodeKey,
		Token:  a.cfg.JoinToken,
	})
	if err != nil {
		return fmt.Errorf("request certificate: %w", err)
	}

	if err := os.MkdirAll(certDir, 0700); err != nil {
		return fmt.Errorf("create cert directory: %w", err)
	}
	if err := os.WriteFile(certDir+"/node.crt", resp.Certificate, 0600); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	if err := os.WriteFile(certDir+"/node.key", resp.PrivateKey, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(certDir+"/ca.crt", resp.CACert, 0644); err != nil {
		return fmt.Errorf("write CA certificate: %w", err)
	}
	return nil
}

func (a *Agent) connectWithMTLS(certDir string) (*grpc.ClientConn, error) {
	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("load agent certificate: %w", err)
	}
	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("load CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
	}

	conn, err := grpc.NewClient(a.cfg.MasterAddr, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	if err != nil {
		return nil, fmt.Errorf("dial master: %w", err)
	}
	return conn, nil
}
