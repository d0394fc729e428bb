// Package config carries every runtime tunable as a single struct, with
// sane defaults and validation rules.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Config holds the tunables shared by the master and the agents.
type Config struct {
	// HeartbeatInterval is the agent→master ping period. Must be >= 5s.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is the Ready→NotReady threshold.
	HeartbeatTimeout time.Duration
	// RegistrationGrace bounds Initializing→Ready after registration.
	RegistrationGrace time.Duration
	// ReconcileRetries is the CAS retry budget per reconciled event.
	ReconcileRetries int
	// MaxRetries bounds RPCFabric's idempotent call retries.
	MaxRetries int
	// RetryBudget bounds the total elapsed time spent retrying a call.
	RetryBudget time.Duration
	// ShardCount is the number of reconciler shards.
	ShardCount int
	// InboxCapacity bounds each reconciler shard's inbox channel.
	InboxCapacity int
	// ParkedQueueCapacity bounds the in-memory queue used while the
	// StateStore is unavailable.
	ParkedQueueCapacity int
	// ShutdownGrace bounds how long the reconciler drains in-flight work
	// before aborting outstanding I/O on shutdown.
	ShutdownGrace time.Duration
	// HeartbeatSweepInterval is how often HeartbeatSupervisor sweeps the
	// registry for timed-out nodes.
	HeartbeatSweepInterval time.Duration
	// WatchReplayDepth bounds how many past watch events the StateStore's
	// broker retains for resume; older resumes fail with Compacted.
	WatchReplayDepth int
	// MetricsSampleInterval is how often the cluster gauge collector
	// resamples node/scenario/package/model/container counts.
	MetricsSampleInterval time.Duration
}

// Default returns the configuration with its production defaults.
func Default() *Config {
	return &Config{
		HeartbeatInterval:      10 * time.Second,
		HeartbeatTimeout:       30 * time.Second,
		RegistrationGrace:      30 * time.Second,
		ReconcileRetries:       3,
		MaxRetries:             5,
		RetryBudget:            60 * time.Second,
		ShardCount:             shardDefault(),
		InboxCapacity:          1024,
		ParkedQueueCapacity:    10000,
		ShutdownGrace:          10 * time.Second,
		HeartbeatSweepInterval: 5 * time.Second,
		WatchReplayDepth:       1000,
		MetricsSampleInterval:  15 * time.Second,
	}
}

func shardDefault() int {
	if n := runtime.NumCPU(); n < 8 {
		return n
	}
	return 8
}

// Validate enforces the constraints the control plane relies on:
// heartbeatInterval >= 5s; positive heartbeatTimeout, registrationGrace,
// retryBudget, shardCount, inboxCapacity, parkedQueueCapacity and
// shutdownGrace; and non-negative retry counts. The sweep, replay-depth and
// metrics-sample settings are not checked.
func (c *Config) Validate() error {
	if c.HeartbeatInterval < 5*time.Second {
		return fmt.Errorf("heartbeatInterval must be >= 5s, got %s", c.HeartbeatInterval)
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeatTimeout must be positive")
	}
	if c.RegistrationGrace <= 0 {
		return fmt.Errorf("registrationGrace must be positive")
	}
	if c.ReconcileRetries < 0 {
		return fmt.Errorf("reconcileRetries must be >= 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must be >= 0")
	}
	if c.RetryBudget <= 0 {
		return fmt.Errorf("retryBudget must be positive")
	}
	if c.ShardCount <= 0 {
		return fmt.Errorf("shardCount must be positive")
	}
	if c.InboxCapacity <= 0 {
		return fmt.Errorf("inboxCapacity must be positive")
	}
	if c.ParkedQueueCapacity <= 0 {
		return fmt.Errorf("parkedQueueCapacity must be positive")
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("shutdownGrace must be positive")
	}
	return nil
}
