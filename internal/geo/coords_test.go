package geo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateCoordsAliases(t *testing.T) {
	t.Parallel()

	lat1, lng1 := StateCoords("Orissa")
	lat2, lng2 := StateCoords("odisha")
	assert.Equal(t, lat1, lat2)
	assert.Equal(t, lng1, lng2)
	assert.InDelta(t, 20.5, lat1, 0.001)

	lat, lng := StateCoords("Atlantis")
	assert.InDelta(t, indiaCenter.lat, lat, 0.001)
	assert.InDelta(t, indiaCenter.lng, lng, 0.001)
}

func TestDistrictCoordsDeterministic(t *testing.T) {
	t.Parallel()

	lat1, lng1 := DistrictCoords("Odisha", "Khordha")
	lat2, lng2 := DistrictCoords("orissa", "KHORDHA")
	assert.Equal(t, lat1, lat2)
	assert.Equal(t, lng1, lng2)
	assert.InDelta(t, 20.5, lat1, 1.5)
	assert.InDelta(t, 84.4, lng1, 1.5)
}

func TestPincodeCoords(t *testing.T) {
	t.Parallel()

	lat, lng := PincodeCoords("751001", 0.5)
	// Prefix 75: lat base 26.75, lng base 83.
	assert.InDelta(t, 26.75, lat, 0.5)
	assert.InDelta(t, 83.0, lng, 0.5)

	lat2, lng2 := PincodeCoords("751001", 0.5)
	assert.Equal(t, lat, lat2)
	assert.Equal(t, lng, lng2)

	lat, lng = PincodeCoords("x", 0)
	assert.InDelta(t, 10.75, lat, 0.0001)
	assert.InDelta(t, 71.0, lng, 0.0001)
}

func TestFeatureCollection(t *testing.T) {
	t.Parallel()

	fc := FeatureCollection([]Feature{
		{ID: "a", Lat: 20, Lng: 80, Properties: map[string]any{"enrolled": 10}},
		{ID: "b", Lat: 22, Lng: 85, Properties: map[string]any{"enrolled": 5}},
	})
	require.Len(t, fc.Features, 2)
	require.NotNil(t, fc.BBox)
	assert.InDelta(t, 80.0, fc.BBox.Min(0), 1e-9)
	assert.InDelta(t, 20.0, fc.BBox.Min(1), 1e-9)
	assert.InDelta(t, 85.0, fc.BBox.Max(0), 1e-9)
	assert.InDelta(t, 22.0, fc.BBox.Max(1), 1e-9)

	raw, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"FeatureCollection"`)
	assert.Contains(t, string(raw), `"coordinates":[80,20]`)

	empty := FeatureCollection(nil)
	assert.Empty(t, empty.Features)
	assert.Nil(t, empty.BBox)
}
