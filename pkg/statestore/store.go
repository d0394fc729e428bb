// Package statestore is the cluster's single source of truth: a durable,
// revision-stamped key/value store over Scenarios, Packages, Models,
// Containers, and Nodes, with optimistic-concurrency writes and a
// resumable watch stream built on pkg/kvevents.
package statestore

import (
	"github.com/piccolo-edge/piccolo/pkg/kvevents"
	"github.com/piccolo-edge/piccolo/pkg/types"
)

// StoredArtifact pairs an Artifact with the revision it was written at.
// Callers pass that revision back as expectedRevision on the next write to
// detect a concurrent modification.
type StoredArtifact struct {
	Artifact types.Artifact
	Revision uint64
}

// Store is the interface the reconciler, artifact intake, node registry,
// and RPC handlers share for all durable cluster state. expectedRevision
// semantics on every mutating call: 0 means "must not currently exist";
// any other value must match the record's current revision exactly or the
// call fails with piccoloerr.CodeConflict.
type Store interface {
	// Artifacts
	GetArtifact(kind types.Kind, name string) (*StoredArtifact, error)
	PutArtifact(kind types.Kind, name string, artifact *types.Artifact, expectedRevision uint64) (uint64, error)
	DeleteArtifact(kind types.Kind, name string, expectedRevision uint64) error
	ListArtifacts(kind types.Kind) ([]*StoredArtifact, error)

	ListScenarios() ([]*types.Scenario, error)
	ListPackages() ([]*types.Package, error)
	ListModels() ([]*types.Model, error)

	// Nodes
	GetNode(id string) (*types.Node, uint64, error)
	PutNode(node *types.Node, expectedRevision uint64) (uint64, error)
	DeleteNode(id string) error
	ListNodes() ([]*types.Node, error)

	// Containers are reported by NodeAgents and only ever upserted wholesale;
	// they do not participate in optimistic concurrency.
	PutContainer(c *types.Container) error
	DeleteContainer(id string) error
	ListContainers() ([]*types.Container, error)
	ListContainersByModel(modelName string) ([]*types.Container, error)
	ListContainersByNode(nodeID string) ([]*types.Container, error)

	// Blob is an opaque byte store for ambient material that doesn't fit the
	// artifact model: the cluster CA's encrypted root key, bundle idempotency
	// markers, and deferred-dispatch markers.
	PutBlob(bucket, key string, data []byte) error
	GetBlob(bucket, key string) ([]byte, error)
	DeleteBlob(bucket, key string) error

	// Watch opens a resumable subscription over a key prefix. See
	// pkg/kvevents for prefix and resume semantics.
	Watch(prefix string, fromRevision uint64) (kvevents.Subscriber, func(), error)

	// Revision returns the store's current global revision counter.
	Revision() uint64

	Close() error
}
