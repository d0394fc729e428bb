// Package metrics defines and registers Prometheus metrics for cluster
// state, artifact intake, reconciliation, heartbeats, RPCFabric calls, and
// the state store, plus the /health, /ready, and /live HTTP handlers.
package metrics
