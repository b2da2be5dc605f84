package aggregate

import (
	"sort"

	"github.com/sells-group/enrollment-insight/internal/geo"
	"github.com/sells-group/enrollment-insight/internal/model"
)

// Pincode jitter radius, in degrees, for map projections.
const pincodeSpread = 0.5

// StateMapRow is one state of /map/states.
type StateMapRow struct {
	State     string  `json:"state"`
	Enrolled  int64   `json:"enrolled"`
	Updates   int64   `json:"updates"`
	Districts int     `json:"districts"`
	Pincodes  int     `json:"pincodes"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}

// MapStates projects every state with enrollments, largest first.
func MapStates(states *Rollup) []StateMapRow {
	var rows []StateMapRow
	for _, s := range states.Enrolled() {
		lat, lng := geo.StateCoords(s.Key.State)
		rows = append(rows, StateMapRow{
			State:     s.Key.State,
			Enrolled:  s.Enrolled,
			Updates:   s.TotalUpdates(),
			Districts: s.Districts,
			Pincodes:  s.EnrolledPincodes,
			Lat:       lat,
			Lng:       lng,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Enrolled > rows[j].Enrolled })
	return rows
}

// DistrictMapRow is one district of /map/districts/{state}.
type DistrictMapRow struct {
	District  string  `json:"district"`
	State     string  `json:"state"`
	Enrolled  int64   `json:"enrolled"`
	Age0To5   int64   `json:"age_0_5"`
	Age5To17  int64   `json:"age_5_17"`
	Age18Plus int64   `json:"age_18_plus"`
	Updates   int64   `json:"updates"`
	Pincodes  int     `json:"pincodes"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}

// MapDistricts projects the districts of one state, largest first. state
// must be the canonical name from the entity index.
func MapDistricts(districts *Rollup, state string) []DistrictMapRow {
	rows := []DistrictMapRow{}
	for _, s := range districts.Enrolled() {
		if s.Key.State != state {
			continue
		}
		lat, lng := geo.DistrictCoords(s.Key.State, s.Key.District)
		rows = append(rows, DistrictMapRow{
			District:  s.Key.District,
			State:     s.Key.State,
			Enrolled:  s.Enrolled,
			Age0To5:   s.Age0To5,
			Age5To17:  s.Age5To17,
			Age18Plus: s.Age18Plus,
			Updates:   s.TotalUpdates(),
			Pincodes:  s.EnrolledPincodes,
			Lat:       lat,
			Lng:       lng,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Enrolled > rows[j].Enrolled })
	return rows
}

// PincodeMapRow is one pincode of /map/pincodes/{district}.
type PincodeMapRow struct {
	Pincode   string  `json:"pincode"`
	District  string  `json:"district"`
	State     string  `json:"state"`
	Enrolled  int64   `json:"enrolled"`
	Age0To5   int64   `json:"age_0_5"`
	Age5To17  int64   `json:"age_5_17"`
	Age18Plus int64   `json:"age_18_plus"`
	Updates   int64   `json:"updates"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}

// MapPincodes projects the pincodes of the given districts, largest first.
// A district name shared by several states yields every matching district.
func MapPincodes(pincodes *Rollup, districts []model.EntityKey) []PincodeMapRow {
	want := make(map[model.EntityKey]bool, len(districts))
	for _, k := range districts {
		want[k] = true
	}
	rows := []PincodeMapRow{}
	for _, s := range pincodes.Enrolled() {
		parent, _ := s.Key.Parent()
		if !want[parent] {
			continue
		}
		lat, lng := geo.PincodeCoords(s.Key.Pincode, pincodeSpread)
		rows = append(rows, PincodeMapRow{
			Pincode:   s.Key.Pincode,
			District:  s.Key.District,
			State:     s.Key.State,
			Enrolled:  s.Enrolled,
			Age0To5:   s.Age0To5,
			Age5To17:  s.Age5To17,
			Age18Plus: s.Age18Plus,
			Updates:   s.TotalUpdates(),
			Lat:       lat,
			Lng:       lng,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Enrolled > rows[j].Enrolled })
	return rows
}
