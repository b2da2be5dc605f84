package geo

import (
	"hash/fnv"
	"math"
	"strconv"
)

// center is an approximate state centroid with a spread (degrees) used to
// scatter child entities.
type center struct {
	lat, lng, spread float64
}

var stateCenters = map[string]center{
	"andhra pradesh":              {15.9, 79.7, 1.5},
	"arunachal pradesh":           {28.2, 94.7, 1.0},
	"assam":                       {26.2, 92.9, 1.2},
	"bihar":                       {25.6, 85.1, 1.0},
	"chhattisgarh":                {21.3, 81.6, 1.5},
	"goa":                         {15.3, 74.0, 0.3},
	"gujarat":                     {22.3, 71.2, 1.8},
	"haryana":                     {29.1, 76.1, 0.8},
	"himachal pradesh":            {31.1, 77.2, 1.0},
	"jharkhand":                   {23.6, 85.3, 1.0},
	"karnataka":                   {15.3, 75.7, 1.5},
	"kerala":                      {10.9, 76.3, 1.2},
	"madhya pradesh":              {23.5, 77.5, 2.0},
	"maharashtra":                 {19.8, 75.3, 2.0},
	"manipur":                     {24.7, 93.9, 0.5},
	"meghalaya":                   {25.5, 91.4, 0.5},
	"mizoram":                     {23.2, 92.9, 0.5},
	"nagaland":                    {26.2, 94.6, 0.5},
	"odisha":                      {20.5, 84.4, 1.5},
	"punjab":                      {31.1, 75.3, 0.8},
	"rajasthan":                   {27.0, 74.2, 2.5},
	"sikkim":                      {27.5, 88.5, 0.3},
	"tamil nadu":                  {11.1, 78.7, 1.5},
	"telangana":                   {17.9, 79.4, 1.2},
	"tripura":                     {23.9, 91.9, 0.4},
	"uttar pradesh":               {27.0, 80.9, 2.5},
	"uttarakhand":                 {30.1, 79.3, 1.0},
	"west bengal":                 {23.0, 87.9, 1.5},
	"delhi":                       {28.7, 77.1, 0.3},
	"jammu and kashmir":           {33.8, 75.0, 1.5},
	"ladakh":                      {34.2, 77.6, 1.0},
	"puducherry":                  {11.9, 79.8, 0.2},
	"chandigarh":                  {30.7, 76.8, 0.1},
	"andaman and nicobar islands": {11.7, 92.7, 1.0},
	"dadra and nagar haveli and daman and diu": {20.4, 73.0, 0.3},
	"lakshadweep": {10.6, 72.6, 0.5},
}

// indiaCenter is used for states missing from the centroid table.
var indiaCenter = center{20.5937, 78.9629, 3.0}

// jitter maps a seed string to a stable offset in [-spread, spread].
func jitter(seed string, salt byte, spread float64) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	_, _ = h.Write([]byte{salt})
	u := float64(h.Sum64()%1_000_000) / 1_000_000
	return (u*2 - 1) * spread
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// StateCoords returns the approximate centroid of a state.
func StateCoords(state string) (lat, lng float64) {
	c, ok := stateCenters[stateKey(state)]
	if !ok {
		c = indiaCenter
	}
	return c.lat, c.lng
}

// DistrictCoords scatters a district deterministically around its state's
// centroid.
func DistrictCoords(state, district string) (lat, lng float64) {
	c, ok := stateCenters[stateKey(state)]
	if !ok {
		c = indiaCenter
	}
	seed := stateKey(state) + "/" + FoldKey(district)
	return round4(c.lat + jitter(seed, 'y', c.spread)), round4(c.lng + jitter(seed, 'x', c.spread))
}

// PincodeCoords approximates a pincode's location from its two-digit postal
// region prefix, with a stable per-pincode offset of up to spread degrees.
func PincodeCoords(pincode string, spread float64) (lat, lng float64) {
	prefix := 11
	if len(pincode) >= 2 {
		if p, err := strconv.Atoi(pincode[:2]); err == nil {
			prefix = p
		}
	}
	latBase := 8.0 + float64(prefix)/10*2.5
	lngBase := 68.0 + float64(prefix%10)*3.0
	return round4(latBase + jitter(pincode, 'y', spread)), round4(lngBase + jitter(pincode, 'x', spread))
}
