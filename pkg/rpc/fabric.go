package rpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/piccolo-edge/piccolo/pkg/piccoloerr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// peerKey identifies one pooled connection: a node, and which service on it
// the caller wants (the master dials a node's AgentServer; a node dials the
// master's MasterServer).
type peerKey struct {
	nodeID  string
	service string
}

// Fabric is the client-side connection pool and retry policy RPCFabric
// describes: one mTLS connection per peer, multiplexed across calls, with
// exponential-backoff retry for idempotent calls up to maxRetries/retryBudget.
type Fabric struct {
	tlsConfig   *tls.Config
	maxRetries  int
	retryBudget time.Duration

	mu    sync.Mutex
	conns map[peerKey]*grpc.ClientConn
}

// NewFabric creates a Fabric that dials peers using cert for its own
// identity and trusts certificates signed by ca.
func NewFabric(cert tls.Certificate, ca *x509.Certificate, maxRetries int, retryBudget time.Duration) *Fabric {
	pool := x509.NewCertPool()
	pool.AddCert(ca)

	return &Fabric{
		tlsConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      pool,
			MinVersion:   tls.VersionTLS13,
		},
		maxRetries:  maxRetries,
		retryBudget: retryBudget,
		conns:       make(map[peerKey]*grpc.ClientConn),
	}
}

// Dial returns the pooled connection for (nodeID, service) at addr,
// establishing it on first use.
func (f *Fabric) Dial(nodeID, service, addr string) (*grpc.ClientConn, error) {
	key := peerKey{nodeID: nodeID, service: service}

	f.mu.Lock()
	defer f.mu.Unlock()

	if cc, ok := f.conns[key]; ok {
		return cc, nil
	}

	creds := credentials.NewTLS(f.tlsConfig)
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dial %s (%s): %w", addr, service, err)
	}

	f.conns[key] = cc
	return cc, nil
}

// Close tears down every pooled connection.
func (f *Fabric) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for key, cc := range f.conns {
		if err := cc.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close connection to %s: %w", key.nodeID, err)
		}
	}
	f.conns = make(map[peerKey]*grpc.ClientConn)
	return firstErr
}

// CallIdempotent retries call with exponential backoff and jitter, bounded
// by f.maxRetries and f.retryBudget, for calls the RPCFabric contract
// marks idempotent (send_artifact, notify_removal). A DeadlineExceeded
// from call does not imply the callee didn't act.
func (f *Fabric) CallIdempotent(ctx context.Context, call func(context.Context) error) error {
	deadline := time.Now().Add(f.retryBudget)
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if time.Now().After(deadline) {
			return piccoloerr.Wrap(piccoloerr.CodeUnavailable, "", "retry budget exhausted", lastErr)
		}

		lastErr = call(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}

		backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

func isRetryable(err error) bool {
	if piccoloerr.Is(err, piccoloerr.CodeUnavailable) || piccoloerr.Is(err, piccoloerr.CodeDeadlineExceeded) {
		return true
	}
	pe, ok := piccoloerr.As(err)
	return !ok || pe == nil
}
