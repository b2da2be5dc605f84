package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrollment-insight/internal/config"
	"github.com/sells-group/enrollment-insight/internal/ingest"
)

const enrollmentCSV = `date,state,district,pincode,age_0_5,age_5_17,age_18_greater
01-03-2025,Odisha,Khordha,751001,10,5,3
02-03-2025,Odisha,Khordha,751002,4,2,1
03-03-2025,Orissa,Cuttack,753001,6,1,0
01-03-2025,Kerala,Ernakulam,682001,20,10,5
`

const biometricCSV = `date,state,district,pincode,bio_age_5_17,bio_age_17_
01-03-2025,Odisha,Khordha,751001,3,2
02-03-2025,Odisha,Khordha,751001,1,1
03-03-2025,Kerala,Ernakulam,682001,4,4
`

// testConfig points the package config at a fresh SQLite file.
func testConfig(t *testing.T) {
	t.Helper()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "insight.db")
	c.Server.Port = 8080
	c.Server.CORSOrigins = []string{"*"}
	c.Log = config.LogConfig{Level: "info", Format: "json"}
	c.Engine.ComputeTimeoutSecs = 30
	c.Engine.MaxConcurrentComputations = 4
	c.Engine.CacheTTLSecs = 300
	c.Engine.CacheMaxEntries = 64
	c.Anomaly.ZScoreThreshold = 2
	c.Anomaly.MirageRatioCutoff = 0.05
	c.Anomaly.MiragePercentile = 90
	c.Anomaly.Contamination = 0.01
	c.Anomaly.Seed = 42
	c.Anomaly.Trees = 100
	c.Anomaly.SampleSize = 256
	c.Cluster.ColdEps = 0.5
	c.Cluster.ColdMinPoints = 3
	c.Cluster.ColdLimit = 500
	c.Cluster.HotK = 5
	c.Cluster.HotLimit = 300
	c.Cluster.Seed = 42
	c.Cluster.KMeansRestarts = 10
	c.Forecast.Horizon = 7
	c.Forecast.MinPoints = 3

	old := cfg
	cfg = c
	t.Cleanup(func() { cfg = old })
}

// seedStore loads the fixture exports into the configured store.
func seedStore(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	st, err := initStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	_, err = ingest.Load(ctx, st, ingest.KindEnrollment, strings.NewReader(enrollmentCSV), ingest.Options{})
	require.NoError(t, err)
	_, err = ingest.Load(ctx, st, ingest.KindBiometric, strings.NewReader(biometricCSV), ingest.Options{})
	require.NoError(t, err)
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}
