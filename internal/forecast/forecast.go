// Package forecast projects daily biometric load with a linear trend.
package forecast

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/enrollment-insight/internal/aggregate"
	"github.com/sells-group/enrollment-insight/internal/model"
)

// ErrInvalidParameter marks a forecast option outside its valid range.
var ErrInvalidParameter = eris.New("forecast: invalid parameter")

// Options controls the regression window and projection length.
type Options struct {
	Horizon   int // projected points
	Window    int // trailing points used for the fit; 0 uses the whole series
	MinPoints int // fewer points than this yields an empty forecast
}

// DefaultOptions projects 7 points from the whole history and needs at
// least 3 observed days.
func DefaultOptions() Options { return Options{Horizon: 7, MinPoints: 3} }

// Validate checks the option ranges.
func (o Options) Validate() error {
	switch {
	case o.Horizon < 1:
		return eris.Wrapf(ErrInvalidParameter, "horizon %d must be at least 1", o.Horizon)
	case o.Window < 0:
		return eris.Wrapf(ErrInvalidParameter, "window %d must not be negative", o.Window)
	case o.Window > 0 && o.Window < 2:
		return eris.Wrapf(ErrInvalidParameter, "window %d must cover at least 2 points", o.Window)
	case o.MinPoints < 2:
		return eris.Wrapf(ErrInvalidParameter, "min points %d must be at least 2", o.MinPoints)
	}
	return nil
}

// Point is one projected day.
type Point struct {
	Date                   string `json:"date"`
	PredictedBiometricLoad int64  `json:"predicted_biometric_load"`
}

// Result is a fitted trend and its projection.
type Result struct {
	InsufficientData bool    `json:"insufficient_data,omitempty"`
	Message          string  `json:"message,omitempty"`
	TrainingPoints   int     `json:"training_points"`
	CadenceDays      int     `json:"cadence_days"`
	Slope            float64 `json:"slope"`
	Intercept        float64 `json:"intercept"`
	Forecast         []Point `json:"forecast"`
}

// Forecast fits load = intercept + slope*day over the trailing window of
// series and projects Horizon further points. Projected dates continue the
// series' modal spacing from its last date. series must be in date order.
func Forecast(series []aggregate.DailyPoint, opt Options) (Result, error) {
	if err := opt.Validate(); err != nil {
		return Result{}, err
	}
	res := Result{Forecast: []Point{}}
	if opt.Window > 0 && len(series) > opt.Window {
		series = series[len(series)-opt.Window:]
	}
	res.TrainingPoints = len(series)
	if len(series) < opt.MinPoints {
		res.InsufficientData = true
		res.Message = "not enough daily observations to fit a trend"
		return res, nil
	}

	origin := series[0].Date
	xs := make([]float64, len(series))
	ys := make([]float64, len(series))
	for i, p := range series {
		xs[i] = float64(model.DaysBetween(origin, p.Date))
		ys[i] = p.Value
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	res.Intercept, res.Slope = aggregate.Round4(alpha), aggregate.Round4(beta)

	res.CadenceDays = cadence(series)
	last := series[len(series)-1].Date
	for k := 1; k <= opt.Horizon; k++ {
		d := last.AddDate(0, 0, k*res.CadenceDays)
		x := float64(model.DaysBetween(origin, d))
		p := alpha + beta*x
		res.Forecast = append(res.Forecast, Point{
			Date:                   d.Format(model.DateLayout),
			PredictedBiometricLoad: int64(math.Max(0, math.Round(p))),
		})
	}
	return res, nil
}

// cadence is the most common gap in days between consecutive points; ties
// go to the shorter gap.
func cadence(series []aggregate.DailyPoint) int {
	counts := make(map[int]int)
	for i := 1; i < len(series); i++ {
		if gap := model.DaysBetween(series[i-1].Date, series[i].Date); gap > 0 {
			counts[gap]++
		}
	}
	if len(counts) == 0 {
		return 1
	}
	gaps := make([]int, 0, len(counts))
	for g := range counts {
		gaps = append(gaps, g)
	}
	sort.Ints(gaps)
	best := gaps[0]
	for _, g := range gaps[1:] {
		if counts[g] > counts[best] {
			best = g
		}
	}
	return best
}
