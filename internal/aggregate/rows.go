package aggregate

import (
	"math"
	"time"

	"github.com/sells-group/enrollment-insight/internal/model"
)

// Entity carries the location columns of a result row. Fields below the
// row's level are omitted.
type Entity struct {
	State    string `json:"state"`
	District string `json:"district,omitempty"`
	Pincode  string `json:"pincode,omitempty"`
}

// EntityOf converts a key into row columns.
func EntityOf(k model.EntityKey) Entity {
	return Entity{State: k.State, District: k.District, Pincode: k.Pincode}
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 { return math.Round(v*100) / 100 }

// Round4 rounds to four decimal places.
func Round4(v float64) float64 { return math.Round(v*10000) / 10000 }

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Pct returns num/den as a percentage clamped to [0,100] and rounded to two
// places; 0 when den is not positive.
func Pct(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return Round2(Clamp(float64(num)/float64(den)*100, 0, 100))
}

// DateString formats a date, or returns nil for the zero time.
func DateString(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.Format(model.DateLayout)
	return &s
}

// floatPtr returns a pointer to v.
func floatPtr(v float64) *float64 { return &v }
