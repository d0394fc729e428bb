// Package registry maintains the authoritative view of node membership:
// registration, liveness transitions, and lookup, backed by the state
// store's node bucket.
package registry

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/piccolo-edge/piccolo/pkg/piccoloerr"
	"github.com/piccolo-edge/piccolo/pkg/statestore"
	"github.com/piccolo-edge/piccolo/pkg/types"
)

// CredentialValidator authenticates a node's presented join credential
// before any registry state is written. An unknown credential is fatal
// per the NodeRegistry register() contract: reject with Unauthorized,
// write nothing.
type CredentialValidator interface {
	Validate(credential string) (role types.NodeRole, ok bool)
}

// Registry is the authoritative, store-backed view of node membership.
type Registry struct {
	store             statestore.Store
	validator         CredentialValidator
	registrationGrace time.Duration
}

// New creates a Registry over store, authenticating registrations with
// validator. A node's first heartbeat only promotes it Initializing->Ready
// if it arrives within registrationGrace of registration; a late first
// heartbeat leaves it Initializing for HeartbeatSupervisor's sweep to time
// out.
func New(store statestore.Store, validator CredentialValidator, registrationGrace time.Duration) *Registry {
	return &Registry{
		store:             store,
		validator:         validator,
		registrationGrace: registrationGrace,
	}
}

// RegisterRequest carries what a node presents when joining.
type RegisterRequest struct {
	Hostname   string
	Address    string
	Credential string
	Resources  *types.NodeResources
	Labels     map[string]string
	NodeID     string // non-empty to rejoin with an existing identity
}

// ClusterInfo is the snapshot returned to a node on successful registration.
type ClusterInfo struct {
	NodeID   string
	NodeRole types.NodeRole
}

// Register validates req's credential, assigns or reuses a node id, and
// writes the node record. A new node starts Pending and is written as
// Initializing once accepted; a rejoining node keeps its liveness. No state
// is written if the credential is unknown.
func (r *Registry) Register(req RegisterRequest) (*ClusterInfo, error) {
	role, ok := r.validator.Validate(req.Credential)
	if !ok {
		return nil, piccoloerr.New(piccoloerr.CodeUnauthorized, req.NodeID, "unknown join credential")
	}

	id := req.NodeID
	if id == "" {
		id = uuid.NewString()
	}

	existing, rev, err := r.store.GetNode(id)
	var expectedRev uint64
	liveness := types.LivenessPending
	registeredAt := time.Now()
	if err == nil {
		expectedRev = rev
		liveness = existing.Liveness
		registeredAt = existing.RegisteredAt // a rejoin doesn't restart the registration-grace clock
	}

	node := &types.Node{
		ID:           id,
		Hostname:     req.Hostname,
		Address:      req.Address,
		Role:         role,
		Labels:       req.Labels,
		Resources:    req.Resources,
		Liveness:     nextOnRegister(liveness),
		RegisteredAt: registeredAt,
	}

	if _, err := r.store.PutNode(node, expectedRev); err != nil {
		return nil, fmt.Errorf("persist node %s: %w", id, err)
	}

	return &ClusterInfo{NodeID: id, NodeRole: role}, nil
}

// nextOnRegister advances Pending to Initializing on an accepted
// registration; a re-registration of an already-live node does not
// regress its liveness.
func nextOnRegister(current types.Liveness) types.Liveness {
	if current == types.LivenessPending || current == "" {
		return types.LivenessInitializing
	}
	return current
}

// List returns every known node.
func (r *Registry) List() ([]*types.Node, error) {
	return r.store.ListNodes()
}

// ListNodes satisfies pkg/metrics.Source.
func (r *Registry) ListNodes() ([]*types.Node, error) {
	return r.List()
}

// Get looks up a node by id.
func (r *Registry) Get(id string) (*types.Node, error) {
	node, _, err := r.store.GetNode(id)
	return node, err
}

// MarkHeartbeat updates lastHeartbeatAt and advances liveness
// NotReady->Ready on any heartbeat, or Initializing->Ready only if at falls
// within registrationGrace of the node's registration; an Initializing node
// whose first heartbeat arrives late is left Initializing for
// HeartbeatSupervisor's sweep to time out, rather than promoted.
func (r *Registry) MarkHeartbeat(id string, at time.Time) error {
	return r.transition(id, func(node *types.Node) error {
		node.LastHeartbeat = at
		switch node.Liveness {
		case types.LivenessInitializing:
			if at.Sub(node.RegisteredAt) <= r.registrationGrace {
				node.Liveness = types.LivenessReady
			}
		case types.LivenessNotReady:
			node.Liveness = types.LivenessReady
		}
		return nil
	})
}

// MarkUnreachable transitions a Ready node to NotReady. reason is
// logged by the caller; the registry itself doesn't retain it.
func (r *Registry) MarkUnreachable(id string, reason string) error {
	return r.transition(id, func(node *types.Node) error {
		if node.Liveness != types.LivenessReady {
			return nil
		}
		node.Liveness = types.LivenessNotReady
		return nil
	})
}

// SetMaintenance puts a node into Maintenance from any state, or releases
// it back to Ready.
func (r *Registry) SetMaintenance(id string, enabled bool) error {
	return r.transition(id, func(node *types.Node) error {
		if enabled {
			node.Liveness = types.LivenessMaintenance
		} else if node.Liveness == types.LivenessMaintenance {
			node.Liveness = types.LivenessReady
		}
		return nil
	})
}

// Remove transitions the node to Terminating and deletes its record.
func (r *Registry) Remove(id string) error {
	if err := r.transition(id, func(node *types.Node) error {
		node.Liveness = types.LivenessTerminating
		return nil
	}); err != nil {
		return err
	}

	return r.store.DeleteNode(id)
}

// transition reads the current node record, applies mutate, and writes
// it back under CAS, retrying once on a conflicting concurrent write.
func (r *Registry) transition(id string, mutate func(*types.Node) error) error {
	node, rev, err := r.store.GetNode(id)
	if err != nil {
		return err
	}
	if err := mutate(node); err != nil {
		return err
	}

	_, err = r.store.PutNode(node, rev)
	if piccoloerr.Is(err, piccoloerr.CodeConflict) {
		node, rev, err = r.store.GetNode(id)
		if err != nil {
			return err
		}
		if err := mutate(node); err != nil {
			return err
		}
		_, err = r.store.PutNode(node, rev)
	}
	return err
}
