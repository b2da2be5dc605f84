// Package cluster groups pincodes into cold (density-based) and hot
// (centroid-based) clusters and keeps cluster ids stable across runs.
package cluster

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrollment-insight/internal/aggregate"
	"github.com/sells-group/enrollment-insight/internal/geo"
)

// ErrInvalidParameter marks a clustering parameter outside its valid range.
var ErrInvalidParameter = eris.New("cluster: invalid parameter")

// Clustering kinds, also used as label store keys.
const (
	KindCold = "cold"
	KindHot  = "hot"
)

const (
	minClusterPoints = 5
	districtSample   = 5
	mapSpread        = 0.5
)

// ColdParams configures DBSCAN over the lowest-enrollment pincodes.
type ColdParams struct {
	Eps       float64
	MinPoints int
	Limit     int
}

// DefaultColdParams returns eps 0.5, 3 points and the 500 lowest pincodes.
func DefaultColdParams() ColdParams { return ColdParams{Eps: 0.5, MinPoints: 3, Limit: 500} }

// Validate checks the parameter ranges.
func (p ColdParams) Validate() error {
	switch {
	case p.Eps <= 0:
		return eris.Wrapf(ErrInvalidParameter, "eps %v must be positive", p.Eps)
	case p.MinPoints < 1:
		return eris.Wrapf(ErrInvalidParameter, "min_points %d must be at least 1", p.MinPoints)
	case p.Limit < 1:
		return eris.Wrapf(ErrInvalidParameter, "limit %d must be at least 1", p.Limit)
	}
	return nil
}

// HotParams configures KMeans over the most-updated pincodes.
type HotParams struct {
	K        int
	Seed     uint64
	Restarts int
	Limit    int
}

// DefaultHotParams returns k 5, seed 42, 10 restarts and the 300 busiest
// pincodes.
func DefaultHotParams() HotParams { return HotParams{K: 5, Seed: 42, Restarts: 10, Limit: 300} }

// Validate checks the parameter ranges.
func (p HotParams) Validate() error {
	switch {
	case p.K < 1:
		return eris.Wrapf(ErrInvalidParameter, "k %d must be at least 1", p.K)
	case p.Restarts < 1:
		return eris.Wrapf(ErrInvalidParameter, "restarts %d must be at least 1", p.Restarts)
	case p.Limit < 1:
		return eris.Wrapf(ErrInvalidParameter, "limit %d must be at least 1", p.Limit)
	}
	return nil
}

// ID is a cluster id; Noise encodes as "noise".
type ID int

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == Noise {
		return []byte(`"noise"`), nil
	}
	return []byte(strconv.Itoa(int(id))), nil
}

// Cluster summarises one cluster of a run.
type Cluster struct {
	Cluster       ID        `json:"cluster"`
	Count         int       `json:"count"`
	AvgEnrollment *float64  `json:"avg_enrollment,omitempty"`
	AvgUpdates    *float64  `json:"avg_updates,omitempty"`
	Centroid      []float64 `json:"centroid,omitempty"`
	States        []string  `json:"states"`
	Districts     []string  `json:"districts"`
}

// Member is one clustered pincode with its map position.
type Member struct {
	aggregate.Entity
	Enrolled int64   `json:"enrolled"`
	Updates  *int64  `json:"updates,omitempty"`
	Cluster  ID      `json:"cluster"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

// Result is one clustering run. Members lists every input pincode once.
type Result struct {
	InsufficientData bool      `json:"insufficient_data,omitempty"`
	Message          string    `json:"message,omitempty"`
	RunID            string    `json:"run_id"`
	Kind             string    `json:"kind"`
	NumClusters      int       `json:"num_clusters"`
	Noise            int       `json:"noise"`
	Clusters         []Cluster `json:"clusters"`
	Members          []Member  `json:"-"`
}

// Engine runs clusterings and relabels them against the previous run.
type Engine struct {
	labels LabelStore
	mu     sync.Mutex
}

// NewEngine returns an engine backed by labels; nil means in-memory.
func NewEngine(labels LabelStore) *Engine {
	if labels == nil {
		labels = NewMemoryLabelStore()
	}
	return &Engine{labels: labels}
}

// Close releases the label store.
func (e *Engine) Close() error { return e.labels.Close() }

// point is one pincode with its raw features.
type point struct {
	stats    *aggregate.EntityStats
	features []float64
}

// prefix returns the first three digits of a pincode as a number.
func prefix(pincode string) float64 {
	if len(pincode) > 3 {
		pincode = pincode[:3]
	}
	n, err := strconv.Atoi(pincode)
	if err != nil {
		return 0
	}
	return float64(n)
}

// Cold clusters the lowest-enrollment pincodes with DBSCAN on standardised
// [pincode prefix, enrolled] vectors.
func (e *Engine) Cold(ctx context.Context, pincodes *aggregate.Rollup, p ColdParams) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	rows := pincodes.Enrolled()
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Enrolled != rows[j].Enrolled {
			return rows[i].Enrolled < rows[j].Enrolled
		}
		return rows[i].Key.Less(rows[j].Key)
	})
	if len(rows) > p.Limit {
		rows = rows[:p.Limit]
	}
	res := newResult(KindCold)
	if len(rows) < minClusterPoints {
		res.InsufficientData, res.Message = true, "need at least 5 enrolled pincodes"
		return res, nil
	}

	pts := make([]point, len(rows))
	raw := make([][]float64, len(rows))
	for i, s := range rows {
		raw[i] = []float64{prefix(s.Key.Pincode), float64(s.Enrolled)}
		pts[i] = point{stats: s, features: raw[i]}
	}
	labels := DBSCAN(standardize(raw), p.Eps, p.MinPoints)
	e.finish(ctx, &res, pts, labels, false)
	return res, nil
}

// Hot clusters the most-updated pincodes into exactly k groups with KMeans
// on standardised [pincode prefix, updates] vectors.
func (e *Engine) Hot(ctx context.Context, pincodes *aggregate.Rollup, p HotParams) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	var rows []*aggregate.EntityStats
	for _, s := range pincodes.Enrolled() {
		if s.UpdateRecords() > 0 {
			rows = append(rows, s)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].UpdateRecords() != rows[j].UpdateRecords() {
			return rows[i].UpdateRecords() > rows[j].UpdateRecords()
		}
		return rows[i].Key.Less(rows[j].Key)
	})
	if len(rows) > p.Limit {
		rows = rows[:p.Limit]
	}
	res := newResult(KindHot)
	switch {
	case len(rows) < minClusterPoints:
		res.InsufficientData, res.Message = true, "need at least 5 updated pincodes"
		return res, nil
	case len(rows) < p.K:
		res.InsufficientData, res.Message = true, "fewer updated pincodes than clusters"
		return res, nil
	}

	pts := make([]point, len(rows))
	raw := make([][]float64, len(rows))
	for i, s := range rows {
		raw[i] = []float64{prefix(s.Key.Pincode), float64(s.UpdateRecords())}
		pts[i] = point{stats: s, features: raw[i]}
	}
	km, err := KMeans(standardize(raw), p.K, p.Seed, p.Restarts)
	if err != nil {
		return Result{}, err
	}
	e.finish(ctx, &res, pts, km.Labels, true)
	return res, nil
}

func newResult(kind string) Result {
	return Result{RunID: uuid.NewString(), Kind: kind, Clusters: []Cluster{}, Members: []Member{}}
}

// finish groups points by label, assigns stable ids and fills res.
func (e *Engine) finish(ctx context.Context, res *Result, pts []point, labels []int, hot bool) {
	groups := make(map[int][]int)
	var order []int
	for i, l := range labels {
		if _, ok := groups[l]; !ok && l != Noise {
			order = append(order, l)
		}
		groups[l] = append(groups[l], i)
	}
	sort.Ints(order)

	raw := make([][]float64, len(pts))
	for i, p := range pts {
		raw[i] = p.features
	}
	centers := make([][]float64, len(order))
	for i, l := range order {
		centers[i] = mean(raw, groups[l])
	}
	ids := e.relabel(ctx, res.Kind, centers)
	stable := make(map[int]ID, len(order))
	for i, l := range order {
		stable[l] = ID(ids[i])
	}
	stable[Noise] = Noise

	for i, l := range order {
		res.Clusters = append(res.Clusters, summarise(pts, groups[l], stable[l], centers[i], hot))
	}
	sort.Slice(res.Clusters, func(i, j int) bool { return res.Clusters[i].Cluster < res.Clusters[j].Cluster })
	if noise := groups[Noise]; len(noise) > 0 {
		res.Noise = len(noise)
		res.Clusters = append(res.Clusters, summarise(pts, noise, Noise, nil, hot))
	}
	res.NumClusters = len(order)

	for i, p := range pts {
		lat, lng := geo.PincodeCoords(p.stats.Key.Pincode, mapSpread)
		m := Member{
			Entity:   aggregate.EntityOf(p.stats.Key),
			Enrolled: p.stats.Enrolled,
			Cluster:  stable[labels[i]],
			Lat:      lat,
			Lng:      lng,
		}
		if hot {
			u := p.stats.UpdateRecords()
			m.Updates = &u
		}
		res.Members = append(res.Members, m)
	}
}

// relabel maps run-local clusters to stable ids using the label store.
// Store failures fall back to run-local numbering.
func (e *Engine) relabel(ctx context.Context, kind string, centers [][]float64) []int {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, err := e.labels.Load(ctx, kind)
	if err != nil {
		zap.L().Warn("cluster: load previous labels", zap.String("kind", kind), zap.Error(err))
		prev = nil
	}
	ids := matchLabels(prev, centers)
	next := make([]Centroid, len(centers))
	for i, c := range centers {
		next[i] = Centroid{ID: ids[i], Center: c}
	}
	if err := e.labels.Save(ctx, kind, next); err != nil {
		zap.L().Warn("cluster: save labels", zap.String("kind", kind), zap.Error(err))
	}
	return ids
}

func summarise(pts []point, members []int, id ID, center []float64, hot bool) Cluster {
	c := Cluster{Cluster: id, Count: len(members), Centroid: roundAll(center)}
	states := make(map[string]bool)
	districts := make(map[string]bool)
	var enrolled, updates int64
	for _, i := range members {
		s := pts[i].stats
		states[s.Key.State] = true
		districts[s.Key.District] = true
		enrolled += s.Enrolled
		updates += s.UpdateRecords()
	}
	n := float64(len(members))
	if hot {
		avg := aggregate.Round2(float64(updates) / n)
		c.AvgUpdates = &avg
	} else {
		avg := aggregate.Round2(float64(enrolled) / n)
		c.AvgEnrollment = &avg
	}
	c.States = sortedSet(states)
	c.Districts = sortedSet(districts)
	if len(c.Districts) > districtSample {
		c.Districts = c.Districts[:districtSample]
	}
	return c
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func roundAll(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = aggregate.Round2(x)
	}
	return out
}
