package statestore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/piccolo-edge/piccolo/pkg/kvevents"
	"github.com/piccolo-edge/piccolo/pkg/metrics"
	"github.com/piccolo-edge/piccolo/pkg/piccoloerr"
	"github.com/piccolo-edge/piccolo/pkg/types"
)

var (
	bucketArtifacts  = []byte("artifacts")
	bucketNodes      = []byte("nodes")
	bucketContainers = []byte("containers")
	bucketBlobs      = []byte("blobs")
	bucketMeta       = []byte("meta")

	metaRevisionKey = []byte("revision")
)

// BoltStore implements Store on a single bbolt file. Every mutation runs in
// one bbolt.Update transaction that increments a durable revision counter
// alongside the write, then mirrors the change into an in-memory
// kvevents.Broker once the transaction commits.
type BoltStore struct {
	db     *bolt.DB
	broker *kvevents.Broker
}

// artifactRecord is the on-disk envelope for one artifact.
type artifactRecord struct {
	Revision uint64          `json:"revision"`
	Kind     types.Kind      `json:"kind"`
	Scenario *types.Scenario `json:"scenario,omitempty"`
	Package  *types.Package  `json:"package,omitempty"`
	Model    *types.Model    `json:"model,omitempty"`
}

func (r *artifactRecord) artifact(name string) *types.Artifact {
	return &types.Artifact{Kind: r.Kind, Name: name, Scenario: r.Scenario, Package: r.Package, Model: r.Model}
}

type nodeRecord struct {
	Revision uint64     `json:"revision"`
	Node     types.Node `json:"node"`
}

// Open creates or reopens a BoltDB-backed state store rooted at dataDir.
// watchReplayDepth bounds the kvevents broker's replay buffer.
func Open(dataDir string, watchReplayDepth int) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "piccolo.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketArtifacts, bucketNodes, bucketContainers, bucketBlobs, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, broker: kvevents.NewBroker(watchReplayDepth)}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// nextRevision reads and increments the durable global counter within tx.
// Callers must be inside a db.Update transaction.
func nextRevision(tx *bolt.Tx) uint64 {
	meta := tx.Bucket(bucketMeta)
	cur := meta.Get(metaRevisionKey)
	var rev uint64
	if cur != nil {
		rev = binary.BigEndian.Uint64(cur)
	}
	rev++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, rev)
	_ = meta.Put(metaRevisionKey, buf)
	return rev
}

func (s *BoltStore) Revision() uint64 { return s.broker.Revision() }

func (s *BoltStore) Watch(prefix string, fromRevision uint64) (kvevents.Subscriber, func(), error) {
	sub, cancel, err := s.broker.Watch(prefix, fromRevision)
	if err != nil {
		metrics.WatchCompactedTotal.Inc()
		return nil, nil, err
	}
	metrics.WatchSubscribersTotal.Inc()
	wrapped := func() {
		cancel()
		metrics.WatchSubscribersTotal.Dec()
	}
	return sub, wrapped, nil
}

// --- Artifacts ---

func (s *BoltStore) GetArtifact(kind types.Kind, name string) (*StoredArtifact, error) {
	var rec artifactRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketArtifacts).Get([]byte(artifactKey(string(kind), name)))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, piccoloerr.Wrap(piccoloerr.CodeInternal, "", "read artifact", err)
	}
	if !found {
		return nil, piccoloerr.New(piccoloerr.CodeBadRequest, "", fmt.Sprintf("%s %q not found", kind, name))
	}
	return &StoredArtifact{Artifact: *rec.artifact(name), Revision: rec.Revision}, nil
}

func (s *BoltStore) PutArtifact(kind types.Kind, name string, artifact *types.Artifact, expectedRevision uint64) (uint64, error) {
	key := []byte(artifactKey(string(kind), name))
	var newRev uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArtifacts)
		existing := b.Get(key)
		if err := checkExpectedRevision(existing, expectedRevision, unmarshalArtifactRevision); err != nil {
			return err
		}
		newRev = nextRevision(tx)
		rec := artifactRecord{Revision: newRev, Kind: kind, Scenario: artifact.Scenario, Package: artifact.Package, Model: artifact.Model}
		data, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	if err != nil {
		return 0, err
	}
	payload, _ := json.Marshal(artifact)
	s.broker.Append(newRev, kvevents.Put, string(key), payload)
	return newRev, nil
}

func (s *BoltStore) DeleteArtifact(kind types.Kind, name string, expectedRevision uint64) error {
	key := []byte(artifactKey(string(kind), name))
	var rev uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArtifacts)
		existing := b.Get(key)
		if err := checkExpectedRevision(existing, expectedRevision, unmarshalArtifactRevision); err != nil {
			return err
		}
		rev = nextRevision(tx)
		return b.Delete(key)
	})
	if err != nil {
		return err
	}
	s.broker.Append(rev, kvevents.Delete, string(key), nil)
	return nil
}

func (s *BoltStore) ListArtifacts(kind types.Kind) ([]*StoredArtifact, error) {
	var out []*StoredArtifact
	prefix := []byte(artifactPrefix(string(kind)))
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketArtifacts).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var rec artifactRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			name := string(k[len(prefix):])
			out = append(out, &StoredArtifact{Artifact: *rec.artifact(name), Revision: rec.Revision})
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) ListScenarios() ([]*types.Scenario, error) {
	recs, err := s.ListArtifacts(types.KindScenario)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Scenario, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Artifact.Scenario)
	}
	return out, nil
}

func (s *BoltStore) ListPackages() ([]*types.Package, error) {
	recs, err := s.ListArtifacts(types.KindPackage)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Package, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Artifact.Package)
	}
	return out, nil
}

func (s *BoltStore) ListModels() ([]*types.Model, error) {
	recs, err := s.ListArtifacts(types.KindModel)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Model, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Artifact.Model)
	}
	return out, nil
}

// --- Nodes ---

func (s *BoltStore) GetNode(id string) (*types.Node, uint64, error) {
	var rec nodeRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodes).Get([]byte(nodeKey(id)))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, 0, piccoloerr.Wrap(piccoloerr.CodeInternal, "", "read node", err)
	}
	if !found {
		return nil, 0, piccoloerr.New(piccoloerr.CodeUnknownNode, "", fmt.Sprintf("node %q not found", id))
	}
	return &rec.Node, rec.Revision, nil
}

func (s *BoltStore) PutNode(node *types.Node, expectedRevision uint64) (uint64, error) {
	key := []byte(nodeKey(node.ID))
	var newRev uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		existing := b.Get(key)
		if err := checkExpectedRevision(existing, expectedRevision, unmarshalNodeRevision); err != nil {
			return err
		}
		newRev = nextRevision(tx)
		rec := nodeRecord{Revision: newRev, Node: *node}
		data, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	if err != nil {
		return 0, err
	}
	payload, _ := json.Marshal(node)
	s.broker.Append(newRev, kvevents.Put, string(key), payload)
	return newRev, nil
}

func (s *BoltStore) DeleteNode(id string) error {
	key := []byte(nodeKey(id))
	var rev uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		rev = nextRevision(tx)
		return tx.Bucket(bucketNodes).Delete(key)
	})
	if err != nil {
		return err
	}
	s.broker.Append(rev, kvevents.Delete, string(key), nil)
	return nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var out []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var rec nodeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			n := rec.Node
			out = append(out, &n)
			return nil
		})
	})
	return out, err
}

// --- Containers ---

func (s *BoltStore) PutContainer(c *types.Container) error {
	key := []byte(containerKey(c.ID))
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainers).Put(key, data)
	})
	if err != nil {
		return err
	}
	s.broker.Publish(kvevents.Put, string(key), data)
	return nil
}

func (s *BoltStore) DeleteContainer(id string) error {
	key := []byte(containerKey(id))
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainers).Delete(key)
	})
	if err != nil {
		return err
	}
	s.broker.Publish(kvevents.Delete, string(key), nil)
	return nil
}

func (s *BoltStore) ListContainers() ([]*types.Container, error) {
	var out []*types.Container
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainers).ForEach(func(k, v []byte) error {
			var c types.Container
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, &c)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListContainersByModel(modelName string) ([]*types.Container, error) {
	all, err := s.ListContainers()
	if err != nil {
		return nil, err
	}
	var out []*types.Container
	for _, c := range all {
		if c.ModelName == modelName {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *BoltStore) ListContainersByNode(nodeID string) ([]*types.Container, error) {
	all, err := s.ListContainers()
	if err != nil {
		return nil, err
	}
	var out []*types.Container
	for _, c := range all {
		if c.NodeID == nodeID {
			out = append(out, c)
		}
	}
	return out, nil
}

// --- Blobs ---

func blobKey(bucket, key string) []byte {
	return []byte(bucket + "/" + key)
}

func (s *BoltStore) PutBlob(bucket, key string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).Put(blobKey(bucket, key), data)
	})
}

func (s *BoltStore) GetBlob(bucket, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBlobs).Get(blobKey(bucket, key))
		if data == nil {
			return piccoloerr.New(piccoloerr.CodeBadRequest, "", fmt.Sprintf("blob %s/%s not found", bucket, key))
		}
		out = make([]byte, len(data))
		copy(out, data)
		return nil
	})
	return out, err
}

func (s *BoltStore) DeleteBlob(bucket, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).Delete(blobKey(bucket, key))
	})
}

// --- helpers ---

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// checkExpectedRevision enforces optimistic concurrency: expectedRevision
// of 0 requires the key to be absent, any other value must match the
// record's stored revision exactly.
func checkExpectedRevision(existing []byte, expectedRevision uint64, revisionOf func([]byte) (uint64, error)) error {
	if expectedRevision == 0 {
		if existing != nil {
			return piccoloerr.New(piccoloerr.CodeConflict, "", "record already exists")
		}
		return nil
	}
	if existing == nil {
		return piccoloerr.New(piccoloerr.CodeConflict, "", "record does not exist")
	}
	cur, err := revisionOf(existing)
	if err != nil {
		return piccoloerr.Wrap(piccoloerr.CodeInternal, "", "decode existing record", err)
	}
	if cur != expectedRevision {
		return piccoloerr.New(piccoloerr.CodeConflict, "", fmt.Sprintf("revision mismatch: expected %d, have %d", expectedRevision, cur))
	}
	return nil
}

func unmarshalArtifactRevision(data []byte) (uint64, error) {
	var rec artifactRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, err
	}
	return rec.Revision, nil
}

func unmarshalNodeRevision(data []byte) (uint64, error) {
	var rec nodeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, err
	}
	return rec.Revision, nil
}
