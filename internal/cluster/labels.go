package cluster

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	bolt "go.etcd.io/bbolt"
)

// Centroid is a cluster's stable id and its mean feature vector.
type Centroid struct {
	ID     int       `json:"id"`
	Center []float64 `json:"center"`
}

// LabelStore remembers the centroids of the latest run of each clustering
// kind so the next run can reuse their ids.
type LabelStore interface {
	Load(ctx context.Context, kind string) ([]Centroid, error)
	Save(ctx context.Context, kind string, centroids []Centroid) error
	Close() error
}

// MemoryLabelStore keeps centroids for the life of the process.
type MemoryLabelStore struct {
	mu   sync.Mutex
	runs map[string][]Centroid
}

// NewMemoryLabelStore returns an empty in-memory store.
func NewMemoryLabelStore() *MemoryLabelStore {
	return &MemoryLabelStore{runs: make(map[string][]Centroid)}
}

// Load implements LabelStore.
func (m *MemoryLabelStore) Load(_ context.Context, kind string) ([]Centroid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Centroid(nil), m.runs[kind]...), nil
}

// Save implements LabelStore.
func (m *MemoryLabelStore) Save(_ context.Context, kind string, centroids []Centroid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[kind] = append([]Centroid(nil), centroids...)
	return nil
}

// Close implements LabelStore.
func (m *MemoryLabelStore) Close() error { return nil }

var bucketCentroids = []byte("centroids")

// BoltLabelStore persists centroids in a bbolt file so ids survive
// restarts.
type BoltLabelStore struct {
	db *bolt.DB
}

// NewBoltLabelStore opens (or creates) the label file at path.
func NewBoltLabelStore(path string) (*BoltLabelStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, eris.Wrapf(err, "cluster: open label store %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCentroids)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "cluster: create centroid bucket")
	}
	return &BoltLabelStore{db: db}, nil
}

// Load implements LabelStore. A kind never saved yields no centroids.
func (b *BoltLabelStore) Load(_ context.Context, kind string) ([]Centroid, error) {
	var out []Centroid
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCentroids).Get([]byte(kind))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &out)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "cluster: load %s centroids", kind)
	}
	return out, nil
}

// Save implements LabelStore.
func (b *BoltLabelStore) Save(_ context.Context, kind string, centroids []Centroid) error {
	data, err := json.Marshal(centroids)
	if err != nil {
		return eris.Wrapf(err, "cluster: encode %s centroids", kind)
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCentroids).Put([]byte(kind), data)
	})
	if err != nil {
		return eris.Wrapf(err, "cluster: save %s centroids", kind)
	}
	return nil
}

// Close implements LabelStore.
func (b *BoltLabelStore) Close() error { return b.db.Close() }

// matchLabels maps each current centroid index to a stable id. Pairs are
// matched greedily by ascending distance to the previous run's centroids;
// unmatched clusters take the smallest unused ids.
func matchLabels(prev []Centroid, cur [][]float64) []int {
	type pair struct {
		p, c int
		d    float64
	}
	var pairs []pair
	for i, p := range prev {
		for j, c := range cur {
			if len(p.Center) != len(c) {
				continue
			}
			pairs = append(pairs, pair{i, j, distance(p.Center, c)})
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].d < pairs[b].d })

	ids := make([]int, len(cur))
	for i := range ids {
		ids[i] = -1
	}
	usedPrev := make(map[int]bool)
	taken := make(map[int]bool)
	for _, pr := range pairs {
		if usedPrev[pr.p] || ids[pr.c] >= 0 {
			continue
		}
		usedPrev[pr.p] = true
		ids[pr.c] = prev[pr.p].ID
		taken[prev[pr.p].ID] = true
	}
	next := 0
	for j := range ids {
		if ids[j] >= 0 {
			continue
		}
		for taken[next] {
			next++
		}
		ids[j] = next
		taken[next] = true
	}
	return ids
}
