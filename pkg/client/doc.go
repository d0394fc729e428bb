// Package client wraps rpc.MasterClient for CLI usage: it resolves a
// cached mTLS certificate (or bootstraps one from a join token via
// RequestCertificate) and exposes the read/admin calls a piccolo CLI
// drives (ApplyBundle, ListNodes, GetNode, SetScenarioState).
package client
