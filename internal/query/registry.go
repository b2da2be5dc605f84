package query

import (
	"context"
	"slices"
	"strings"

	"github.com/sells-group/enrollment-insight/internal/aggregate"
	"github.com/sells-group/enrollment-insight/internal/anomaly"
	"github.com/sells-group/enrollment-insight/internal/model"
)

// Metric categories, in catalogue order.
const (
	CategoryDataInsights = "data_insights"
	CategoryUpdateHealth = "update_health"
	CategoryGeospatial   = "geospatial"
	CategoryTemporal     = "temporal"
	CategoryAnomaly      = "anomaly"
	CategoryComposite    = "composite"
	CategoryInsights     = "insights"
	CategoryTrends       = "trend_analysis"
)

var (
	allLevels      = []model.Level{model.LevelDistrict, model.LevelState, model.LevelPincode}
	aggregateLevel = []model.Level{model.LevelDistrict, model.LevelState}
)

type computeFunc func(ctx context.Context, v *view, p Params, level model.Level) (any, error)

// Metric is one /metrics/{slug} endpoint.
type Metric struct {
	Slug        string
	Category    string
	Description string
	// Levels lists the accepted grouping levels, default first. Nil means
	// the metric has a fixed shape and rejects a level parameter.
	Levels []model.Level
	// Params lists the tuning parameters the metric accepts.
	Params  []string
	compute computeFunc
}

// Name is the snake_case metric name reported in responses.
func (m Metric) Name() string {
	return strings.ReplaceAll(m.Slug, "-", "_")
}

// level picks the grouping level for a request.
func (m Metric) level(p Params) (model.Level, error) {
	if len(m.Levels) == 0 {
		if p.Level != "" {
			return "", validation(m.Slug, "metric %s does not accept a level", m.Slug)
		}
		return "", nil
	}
	if p.Level == "" {
		return m.Levels[0], nil
	}
	if !slices.Contains(m.Levels, p.Level) {
		return "", validation(m.Slug, "metric %s does not support level %q", m.Slug, p.Level)
	}
	return p.Level, nil
}

func rowsAt[T any](fn func(*aggregate.Rollup) []T) computeFunc {
	return func(_ context.Context, v *view, _ Params, level model.Level) (any, error) {
		return fn(v.rollup(level)), nil
	}
}

func fixed[T any](level model.Level, fn func(*aggregate.Rollup) T) computeFunc {
	return func(_ context.Context, v *view, _ Params, _ model.Level) (any, error) {
		return fn(v.rollup(level)), nil
	}
}

func series[T any](fn func(v *view) T) computeFunc {
	return func(_ context.Context, v *view, _ Params, _ model.Level) (any, error) {
		return fn(v), nil
	}
}

var metrics = []Metric{
	// Data insights.
	{
		Slug:        "enrollment-deficit-ratio",
		Category:    CategoryDataInsights,
		Description: "Share of the expected population not yet enrolled, clamped at zero. Uses reference population when available, otherwise the largest entity as the baseline.",
		Levels:      allLevels,
		compute: func(_ context.Context, v *view, _ Params, level model.Level) (any, error) {
			return aggregate.EnrollmentDeficit(v.rollup(level), v.snap.Population), nil
		},
	},
	{
		Slug:        "age-cohort-imbalance",
		Category:    CategoryDataInsights,
		Description: "Absolute gap between the child (0-17) and adult (18+) share of enrollments.",
		Levels:      allLevels,
		compute:     rowsAt(aggregate.AgeCohortImbalance),
	},
	{
		Slug:        "rural-urban-disparity",
		Category:    CategoryDataInsights,
		Description: "State enrollment summary: districts, total enrolled and average per pincode.",
		compute:     fixed(model.LevelState, aggregate.StateSummary),
	},
	{
		Slug:        "pincode-gini",
		Category:    CategoryDataInsights,
		Description: "Gini coefficient of enrollment across pincodes (0 = equal, 1 = concentrated).",
		compute:     fixed(model.LevelPincode, aggregate.PincodeGini),
	},
	{
		Slug:        "demographic-deserts",
		Category:    CategoryDataInsights,
		Description: "Enrolled pincodes with no demographic update in the last 12 months.",
		compute: fixed(model.LevelPincode, func(r *aggregate.Rollup) counted[aggregate.DesertRow] {
			return countRows(aggregate.DemographicDeserts(r))
		}),
	},

	// Update health.
	{
		Slug:        "biometric-freshness",
		Category:    CategoryUpdateHealth,
		Description: "Average days since the latest biometric update. Entities without biometric updates report null, not zero.",
		Levels:      allLevels,
		compute:     rowsAt(aggregate.BiometricFreshness),
	},
	{
		Slug:        "demographic-staleness",
		Category:    CategoryUpdateHealth,
		Description: "Percentage of pincodes whose latest demographic update is older than 24 months.",
		Levels:      allLevels,
		compute:     rowsAt(aggregate.DemographicStaleness),
	},
	{
		Slug:        "update-dependency-ratio",
		Category:    CategoryUpdateHealth,
		Description: "Total updates per enrollment; zero when nothing is enrolled.",
		Levels:      allLevels,
		compute:     rowsAt(aggregate.UpdateDependency),
	},
	{
		Slug:        "child-adult-transition",
		Category:    CategoryUpdateHealth,
		Description: "Biometric updates at 17+ relative to enrollments aged 5-17.",
		Levels:      allLevels,
		compute:     rowsAt(aggregate.ChildAdultTransition),
	},
	{
		Slug:        "multi-update-penalty",
		Category:    CategoryUpdateHealth,
		Description: "Percentage of pincodes with three or more update records.",
		Levels:      aggregateLevel,
		compute:     rowsAt(aggregate.MultiUpdatePenalty),
	},

	// Geospatial.
	{
		Slug:        "enrollment-cold-clusters",
		Category:    CategoryGeospatial,
		Description: "DBSCAN clusters of low-enrollment pincodes; unclustered points are noise.",
		Params:      coldParams,
		compute: func(ctx context.Context, v *view, p Params, _ model.Level) (any, error) {
			return v.coldClusters(ctx, p)
		},
	},
	{
		Slug:        "update-hot-clusters",
		Category:    CategoryGeospatial,
		Description: "KMeans clusters of high-update pincodes; every pincode belongs to exactly one cluster.",
		Params:      hotParams,
		compute: func(ctx context.Context, v *view, p Params, _ model.Level) (any, error) {
			return v.hotClusters(ctx, p)
		},
	},
	{
		Slug:        "moran-i",
		Category:    CategoryGeospatial,
		Description: "Moran's I spatial autocorrelation of district enrollment.",
		compute:     fixed(model.LevelDistrict, aggregate.MoranI),
	},
	{
		Slug:        "contiguity-ratio",
		Category:    CategoryGeospatial,
		Description: "Percentage of districts within 10% of their state's mean enrollment.",
		compute:     fixed(model.LevelDistrict, aggregate.ContiguityRatio),
	},
	{
		Slug:        "enrollment-density-variance",
		Category:    CategoryGeospatial,
		Description: "Per-state spread of pincode enrollment totals.",
		compute:     fixed(model.LevelPincode, aggregate.DensityVariance),
	},

	// Temporal.
	{
		Slug:        "monsoon-fingerprint-spike",
		Category:    CategoryTemporal,
		Description: "July-August biometric updates against the average month, per state and year. Above 1 is a seasonal surge.",
		compute:     series(func(v *view) []aggregate.MonsoonSpikeRow { return aggregate.MonsoonSpike(v.snap) }),
	},
	{
		Slug:        "enrollment-velocity",
		Category:    CategoryTemporal,
		Description: "Month over month enrollment growth per state.",
		compute:     series(func(v *view) []aggregate.VelocityRow { return aggregate.EnrollmentVelocity(v.snap) }),
	},
	{
		Slug:        "update-seasonality-index",
		Category:    CategoryTemporal,
		Description: "Busiest month over quietest month of biometric updates per state.",
		compute:     series(func(v *view) []aggregate.SeasonalityRow { return aggregate.UpdateSeasonality(v.snap) }),
	},
	{
		Slug:        "weekend-effect",
		Category:    CategoryTemporal,
		Description: "Average weekend enrollment day against the average weekday, per state.",
		compute:     series(func(v *view) []aggregate.WeekendRow { return aggregate.WeekendEffect(v.snap) }),
	},
	{
		Slug:        "cohort-aging-progress",
		Category:    CategoryTemporal,
		Description: "Share of the 5-17 cohort already carrying a 17+ biometric update, per state.",
		compute:     fixed(model.LevelState, aggregate.CohortAging),
	},

	// Anomaly.
	{
		Slug:        "enrollment-zscore",
		Category:    CategoryAnomaly,
		Description: "Pincode enrollment z-score against its district (or state) mean; |z| at or above the threshold is an outlier.",
		Levels:      aggregateLevel,
		Params:      []string{ParamThreshold},
		compute: func(_ context.Context, v *view, p Params, level model.Level) (any, error) {
			threshold := v.e.opts.ZScoreThreshold
			if p.Threshold != nil {
				threshold = *p.Threshold
			}
			return anomaly.ZScore(v.rollup(model.LevelPincode), level, threshold)
		},
	},
	{
		Slug:        "bulk-enrollment-days",
		Category:    CategoryAnomaly,
		Description: "Days whose total enrollment exceeds the mean by more than three standard deviations.",
		compute: series(func(v *view) anomaly.BulkResult {
			return anomaly.BulkDays(aggregate.DailyEnrollment(v.snap))
		}),
	},
	{
		Slug:        "orphan-updates",
		Category:    CategoryAnomaly,
		Description: "Pincodes with updates but no enrollment on record.",
		compute:     fixed(model.LevelPincode, anomaly.OrphanUpdates),
	},
	{
		Slug:        "age-distribution-skew",
		Category:    CategoryAnomaly,
		Description: "Skew of the enrollment age mix towards children (positive) or adults (negative).",
		Levels:      allLevels,
		compute:     rowsAt(anomaly.AgeSkew),
	},
	{
		Slug:        "population-mismatch",
		Category:    CategoryAnomaly,
		Description: "Pincodes whose enrollment deviates furthest from the average pincode.",
		compute:     fixed(model.LevelPincode, anomaly.PopulationMismatch),
	},

	// Composite.
	{
		Slug:        "aadhaar-health-index",
		Category:    CategoryComposite,
		Description: "Composite score: Enrollment Volume (40%) + Data Freshness (30%) + Update Activity (30%). Higher = better.",
		Levels:      allLevels,
		compute: func(_ context.Context, v *view, _ Params, level model.Level) (any, error) {
			return v.composite(level).Health, nil
		},
	},
	{
		Slug:        "exclusion-risk-index",
		Category:    CategoryComposite,
		Description: "Risk score: Enrollment Deficit (40%) + Data Staleness (35%) + Update Deserts (25%). Higher = more at risk.",
		Levels:      allLevels,
		compute: func(_ context.Context, v *view, _ Params, level model.Level) (any, error) {
			return v.composite(level).Risk, nil
		},
	},

	// Insights.
	{
		Slug:        "monsoon-fingerprint-index",
		Category:    CategoryInsights,
		Description: "June-September biometric updates against the rest of the year, per state.",
		compute:     series(func(v *view) []aggregate.MonsoonIndexRow { return aggregate.MonsoonIndex(v.snap) }),
	},
	{
		Slug:        "enrollment-mirage",
		Category:    CategoryInsights,
		Description: "Top-decile enrollment pincodes with suspiciously little update activity.",
		compute: func(_ context.Context, v *view, _ Params, _ model.Level) (any, error) {
			return anomaly.Mirage(v.rollup(model.LevelPincode), v.e.opts.MiragePercentile, v.e.opts.MirageRatio)
		},
	},
	{
		Slug:        "phantom-children",
		Category:    CategoryInsights,
		Description: "Age 0-5 enrollments with no subsequent biometric update, as a share of all 0-5 enrollments.",
		Levels:      allLevels,
		compute:     rowsAt(anomaly.PhantomChildren),
	},
	{
		Slug:        "district-twins",
		Category:    CategoryInsights,
		Description: "District pairs in different states with near-identical enrollment age mix.",
		compute:     fixed(model.LevelDistrict, anomaly.DistrictTwins),
	},
	{
		Slug:        "pincode-ghost-towns",
		Category:    CategoryInsights,
		Description: "Enrolled pincodes with no biometric or demographic activity for two years.",
		compute:     fixed(model.LevelPincode, anomaly.GhostTowns),
	},
}

var metricIndex = func() map[string]int {
	idx := make(map[string]int, len(metrics))
	for i, m := range metrics {
		idx[m.Slug] = i
	}
	return idx
}()

// Lookup returns the metric registered under slug.
func Lookup(slug string) (Metric, bool) {
	i, ok := metricIndex[slug]
	if !ok {
		return Metric{}, false
	}
	return metrics[i], true
}

// Metrics returns every registered metric in catalogue order.
func Metrics() []Metric {
	return slices.Clone(metrics)
}

// trendPaths are the /api/trends endpoints listed in the catalogue.
var trendPaths = []string{
	"/api/trends/summary",
	"/api/trends/forecast",
	"/api/trends/enrollment-by-age",
	"/api/trends/state-performance",
	"/api/trends/bottleneck-districts",
	"/api/trends/daily-volume",
	"/api/trends/high-volume-pincodes",
	"/api/trends/fraud/anomalies",
}

// CatalogEntry describes one metric endpoint.
type CatalogEntry struct {
	Slug        string        `json:"slug"`
	Path        string        `json:"path"`
	Category    string        `json:"category"`
	Description string        `json:"description"`
	Levels      []model.Level `json:"levels,omitempty"`
	Params      []string      `json:"params,omitempty"`
}

// Catalog is the GET /metrics listing.
type Catalog struct {
	TotalEndpoints int                 `json:"total_endpoints"`
	Categories     map[string][]string `json:"categories"`
	Metrics        []CatalogEntry      `json:"metrics"`
}

// BuildCatalog lists every metric and trend endpoint.
func BuildCatalog() Catalog {
	c := Catalog{Categories: make(map[string][]string)}
	for _, m := range metrics {
		path := "/metrics/" + m.Slug
		c.Categories[m.Category] = append(c.Categories[m.Category], path)
		c.Metrics = append(c.Metrics, CatalogEntry{
			Slug:        m.Slug,
			Path:        path,
			Category:    m.Category,
			Description: m.Description,
			Levels:      m.Levels,
			Params:      m.Params,
		})
	}
	c.Categories[CategoryTrends] = slices.Clone(trendPaths)
	c.TotalEndpoints = len(metrics) + len(trendPaths)
	return c
}
