package anomaly

import (
	"sort"
	"time"

	"github.com/sells-group/enrollment-insight/internal/aggregate"
	"github.com/sells-group/enrollment-insight/internal/model"
	"github.com/sells-group/enrollment-insight/internal/snapshot"
)

// spikeWindow is the trailing window, in active days, of the adult
// enrollment baseline.
const spikeWindow = 7

// FraudRow is one flagged district of fraud/anomalies.
type FraudRow struct {
	State            string  `json:"state"`
	District         string  `json:"district"`
	AdultEnrollments int64   `json:"adult_enrollments"`
	SpikeScore       float64 `json:"spike_score"`
	Bio17Plus        int64   `json:"bio_17_plus"`
	AnomalyScore     float64 `json:"anomaly_score"`
	LastDetected     *string `json:"last_detected"`
}

// FraudResult holds the districts an isolation forest isolates most easily.
type FraudResult struct {
	Flags
	Districts     int        `json:"districts"`
	Flagged       int        `json:"flagged"`
	Seed          uint64     `json:"seed"`
	Contamination float64    `json:"contamination"`
	Data          []FraudRow `json:"data"`
}

type districtFeatures struct {
	key       model.EntityKey
	adults    int64
	bio17     int64
	spike     float64
	spikeDate time.Time
}

// features builds one vector per district: total adult enrollments, the
// largest daily adult spike against its trailing baseline, and biometric
// updates for ages 17+.
func features(s *snapshot.Snapshot) []districtFeatures {
	pins := aggregate.Build(s, model.LevelPincode)
	districtOf := make(map[string]model.EntityKey, len(pins.Rows))
	for _, p := range pins.Rows {
		districtOf[p.Key.Pincode], _ = p.Key.Parent()
	}

	daily := make(map[model.EntityKey]map[time.Time]int64)
	for _, r := range s.Enrollments {
		k := districtOf[r.Pincode]
		if daily[k] == nil {
			daily[k] = make(map[time.Time]int64)
		}
		daily[k][model.Day(r.Date)] += r.Age18Plus
	}

	districts := aggregate.Build(s, model.LevelDistrict)
	var out []districtFeatures
	for _, d := range districts.Enrolled() {
		f := districtFeatures{key: d.Key, adults: d.Age18Plus, bio17: d.Bio17Plus}
		f.spike, f.spikeDate = maxSpike(daily[d.Key])
		out = append(out, f)
	}
	return out
}

// maxSpike scores each active day as adults / (trailing mean + 1), where the
// trailing mean covers up to spikeWindow active days ending on that day.
func maxSpike(days map[time.Time]int64) (float64, time.Time) {
	dates := make([]time.Time, 0, len(days))
	for d := range days {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	var best float64
	var bestDate time.Time
	for i, d := range dates {
		start := max(0, i-spikeWindow+1)
		var sum int64
		for _, w := range dates[start : i+1] {
			sum += days[w]
		}
		baseline := float64(sum) / float64(i-start+1)
		score := float64(days[d]) / (baseline + 1)
		if score > best || bestDate.IsZero() {
			best, bestDate = score, d
		}
	}
	return best, bestDate
}

// Fraud trains an isolation forest over per-district feature vectors and
// flags the ceil(contamination * n) most anomalous districts. The model is
// refit on every call.
func Fraud(s *snapshot.Snapshot, cfg ForestConfig) (FraudResult, error) {
	if err := cfg.Validate(); err != nil {
		return FraudResult{}, err
	}
	res := FraudResult{Seed: cfg.Seed, Contamination: cfg.Contamination, Data: []FraudRow{}}
	feats := features(s)
	res.Districts = len(feats)
	if len(feats) < 2 {
		res.Flags = insufficient("need at least two districts with enrollments")
		return res, nil
	}

	data := make([][]float64, len(feats))
	for i, f := range feats {
		data[i] = []float64{float64(f.adults), f.spike, float64(f.bio17)}
	}
	forest, err := NewForest(cfg)
	if err != nil {
		return FraudResult{}, err
	}
	if err := forest.Fit(data); err != nil {
		return FraudResult{}, err
	}
	scores := forest.Predict(data)

	order := make([]int, len(feats))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	res.Flagged = cfg.FlagCount(len(feats))
	for _, i := range order[:res.Flagged] {
		f := feats[i]
		res.Data = append(res.Data, FraudRow{
			State:            f.key.State,
			District:         f.key.District,
			AdultEnrollments: f.adults,
			SpikeScore:       aggregate.Round2(f.spike),
			Bio17Plus:        f.bio17,
			AnomalyScore:     aggregate.Round4(scores[i]),
			LastDetected:     aggregate.DateString(f.spikeDate),
		})
	}
	if len(res.Data) > fraudLimit {
		res.Data = res.Data[:fraudLimit]
	}
	return res, nil
}
