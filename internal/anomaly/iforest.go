package anomaly

import (
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
)

// ForestConfig parameterises an isolation forest. The same seed and input
// always produce the same scores.
type ForestConfig struct {
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          uint64
}

// DefaultForestConfig returns 100 trees of 256 samples, 1% contamination
// and seed 42.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{Trees: 100, SampleSize: 256, Contamination: DefaultContamination, Seed: DefaultSeed}
}

// Validate checks the configuration ranges.
func (c ForestConfig) Validate() error {
	switch {
	case c.Trees < 1:
		return eris.Wrapf(ErrInvalidParameter, "trees %d must be at least 1", c.Trees)
	case c.SampleSize < 2:
		return eris.Wrapf(ErrInvalidParameter, "sample size %d must be at least 2", c.SampleSize)
	case c.Contamination <= 0 || c.Contamination > 0.5:
		return eris.Wrapf(ErrInvalidParameter, "contamination %v must be in (0, 0.5]", c.Contamination)
	}
	return nil
}

type itreeNode struct {
	feature     int
	split       float64
	left, right *itreeNode
	size        int
}

// Forest is an isolation forest over fixed-width feature vectors.
type Forest struct {
	cfg    ForestConfig
	trees  []*itreeNode
	sample int
}

// NewForest returns an untrained forest.
func NewForest(cfg ForestConfig) (*Forest, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Forest{cfg: cfg}, nil
}

// Fit grows the trees on data, one row per sample. Refitting discards the
// previous trees.
func (f *Forest) Fit(data [][]float64) error {
	if len(data) < 2 {
		return eris.Wrapf(ErrInvalidParameter, "isolation forest needs at least 2 samples, got %d", len(data))
	}
	width := len(data[0])
	for i, row := range data {
		if len(row) != width {
			return eris.Errorf("anomaly: sample %d has %d features, want %d", i, len(row), width)
		}
	}

	rng := rand.New(rand.NewPCG(f.cfg.Seed, f.cfg.Seed^0x9e3779b97f4a7c15))
	f.sample = min(f.cfg.SampleSize, len(data))
	limit := int(math.Ceil(math.Log2(float64(f.sample))))
	f.trees = make([]*itreeNode, f.cfg.Trees)
	idx := make([]int, len(data))
	for i := range idx {
		idx[i] = i
	}
	for t := range f.trees {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		rows := make([][]float64, f.sample)
		for i := range rows {
			rows[i] = data[idx[i]]
		}
		f.trees[t] = grow(rows, 0, limit, width, rng)
	}
	return nil
}

func grow(rows [][]float64, depth, limit, width int, rng *rand.Rand) *itreeNode {
	if depth >= limit || len(rows) <= 1 {
		return &itreeNode{size: len(rows)}
	}
	var candidates []int
	lo := make([]float64, width)
	hi := make([]float64, width)
	for j := 0; j < width; j++ {
		lo[j], hi[j] = rows[0][j], rows[0][j]
		for _, r := range rows[1:] {
			lo[j] = math.Min(lo[j], r[j])
			hi[j] = math.Max(hi[j], r[j])
		}
		if hi[j] > lo[j] {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return &itreeNode{size: len(rows)}
	}
	feat := candidates[rng.IntN(len(candidates))]
	split := lo[feat] + rng.Float64()*(hi[feat]-lo[feat])
	var left, right [][]float64
	for _, r := range rows {
		if r[feat] < split {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return &itreeNode{
		feature: feat,
		split:   split,
		left:    grow(left, depth+1, limit, width, rng),
		right:   grow(right, depth+1, limit, width, rng),
	}
}

func pathLength(n *itreeNode, x []float64, depth int) float64 {
	for n.left != nil {
		if x[n.feature] < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return float64(depth) + averagePath(n.size)
}

// averagePath is the expected path length of an unsuccessful search in a
// binary search tree of n nodes.
func averagePath(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	const euler = 0.5772156649
	fn := float64(n)
	return 2*(math.Log(fn-1)+euler) - 2*(fn-1)/fn
}

// Score returns the anomaly score of x in (0, 1]; values near 1 are
// anomalous and values well below 0.5 are normal.
func (f *Forest) Score(x []float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	var total float64
	for _, t := range f.trees {
		total += pathLength(t, x, 0)
	}
	mean := total / float64(len(f.trees))
	return math.Pow(2, -mean/averagePath(f.sample))
}

// Predict scores every row of data.
func (f *Forest) Predict(data [][]float64) []float64 {
	out := make([]float64, len(data))
	for i, x := range data {
		out[i] = f.Score(x)
	}
	return out
}

// FlagCount is the number of samples the contamination rate marks as
// anomalous among n.
func (c ForestConfig) FlagCount(n int) int {
	if n == 0 {
		return 0
	}
	return min(n, int(math.Ceil(c.Contamination*float64(n))))
}
