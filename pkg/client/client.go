// Package client wraps MasterClient for CLI usage: it resolves a cached
// CLI certificate (or bootstraps one from a join token), dials the master
// with mTLS, and exposes the read/admin calls a piccolo CLI drives.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/piccolo-edge/piccolo/pkg/rpc"
	"github.com/piccolo-edge/piccolo/pkg/security"
	"github.com/piccolo-edge/piccolo/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

const callTimeout = 10 * time.Second

// Client wraps a MasterClient for CLI usage.
type Client struct {
	conn   *grpc.ClientConn
	master *rpc.MasterClient
}

// New connects to addr using a previously bootstrapped CLI certificate. It
// fails with a message pointing at the --token bootstrap (NewWithToken) if
// none exists yet.
func New(addr string) (*Client, error) {
	certDir, err := security.GetCLICertDir()
	if err != nil {
		return nil, fmt.Errorf("get cert directory: %w", err)
	}
	if !security.CertExists(certDir) {
		return nil, fmt.Errorf("CLI certificate not found at %s; run with --token once to bootstrap one", certDir)
	}

	conn, err := connectWithMTLS(addr, certDir)
	if err != nil {
		return nil, fmt.Errorf("connect with mTLS: %w", err)
	}
	return &Client{conn: conn, master: rpc.NewMasterClient(conn)}, nil
}

// NewWithToken bootstraps a CLI certificate from a join token if one isn't
// already cached, then connects with mTLS.
func NewWithToken(addr, token string) (*Client, error) {
	certDir, err := security.GetCLICertDir()
	if err != nil {
		return nil, fmt.Errorf("get cert directory: %w", err)
	}

	if !security.CertExists(certDir) {
		if err := requestCertificate(addr, token, certDir); err != nil {
			return nil, fmt.Errorf("request certificate: %w", err)
		}
	}

	conn, err := connectWithMTLS(addr, certDir)
	if err != nil {
		return nil, fmt.Errorf("connect with mTLS: %w", err)
	}
	return &Client{conn: conn, master: rpc.NewMasterClient(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// ApplyBundle submits a raw artifact bundle for administrative application.
func (c *Client) ApplyBundle(raw []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	resp, err := c.master.ApplyBundle(ctx, &rpc.ApplyBundleRequest{Bundle: raw})
	if err != nil {
		return err
	}
	if !resp.Applied {
		return fmt.Errorf("bundle rejected: %s", resp.Reason)
	}
	return nil
}

// ListNodes lists every node the master knows about.
func (c *Client) ListNodes() ([]*types.Node, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	resp, err := c.master.GetNodes(ctx, &rpc.GetNodesRequest{})
	if err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

// GetNode looks up a single node by id.
func (c *Client) GetNode(id string) (*types.Node, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	resp, err := c.master.GetNode(ctx, &rpc.GetNodeRequest{NodeID: id})
	if err != nil {
		return nil, err
	}
	return resp.Node, nil
}

// GetTopology returns every Package's Model placements and the current node set.
func (c *Client) GetTopology() (*rpc.GetTopologyResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	return c.master.GetTopology(ctx, &rpc.GetTopologyRequest{})
}

// UpdateTopology retargets a Package's named Model onto a different node.
func (c *Client) UpdateTopology(packageName, modelName, newNode string) (*rpc.UpdateTopologyResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	return c.master.UpdateTopology(ctx, &rpc.UpdateTopologyRequest{
		PackageName: packageName,
		ModelName:   modelName,
		NewNode:     newNode,
	})
}

// SetScenarioState requests a Scenario transition and returns its outcome.
func (c *Client) SetScenarioState(scenarioName string, newState types.ScenarioState, transitionID string) (types.ScenarioState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	resp, err := c.master.SetScenarioState(ctx, &rpc.SetScenarioStateRequest{
		ScenarioName: scenarioName,
		NewState:     newState,
		TransitionID: transitionID,
	})
	if err != nil {
		return "", err
	}
	return resp.State, nil
}

// requestCertificate exchanges token for a signed CLI certificate over a
// connection that does not yet verify the master, since the CLI has no CA
// cert to check against until this call returns one.
func requestCertificate(addr, token, certDir string) error {
	tlsConfig := &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS13}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	if err != nil {
		return fmt.Errorf("dial master: %w", err)
	}
	defer conn.Close()

	master := rpc.NewMasterClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	resp, err := master.RequestCertificate(ctx, &rpc.CertificateRequest{NodeID: "cli", Token: token})
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

func connectWithMTLS(addr, certDir string) (*grpc.ClientConn, error) {
	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("load CLI certificate: %w", err)
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

	creds := credentials.NewTLS(tlsConfig)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dial master: %w", err)
	}
	return conn, nil
}
