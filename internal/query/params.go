package query

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/sells-group/enrollment-insight/internal/model"
)

// Params are the optional query parameters shared by the read endpoints.
// Nil pointers mean "use the configured default".
type Params struct {
	Level     model.Level
	Dates     model.DateRange
	Threshold *float64
	Eps       *float64
	MinPoints *int
	K         *int
	Seed      *uint64
	Window    *int
}

// Tuning parameter names. Each endpoint accepts only the ones it uses.
const (
	ParamThreshold = "threshold"
	ParamEps       = "eps"
	ParamMinPoints = "min_points"
	ParamK         = "k"
	ParamSeed      = "seed"
	ParamWindow    = "window"
)

var (
	coldParams = []string{ParamEps, ParamMinPoints}
	hotParams  = []string{ParamK, ParamSeed}
	seedParams = []string{ParamSeed}
)

// ParseParams validates URL query parameters. Malformed values are
// validation errors; they are never replaced by defaults.
func ParseParams(q url.Values) (Params, error) {
	var p Params
	level, err := model.ParseLevel(q.Get("level"), "")
	if err != nil {
		return Params{}, &Error{Kind: KindValidation, Context: "level", Err: err}
	}
	p.Level = level

	p.Dates, err = model.ParseDateRange(q.Get("from"), q.Get("to"))
	if err != nil {
		return Params{}, &Error{Kind: KindValidation, Context: "from/to", Err: err}
	}

	if p.Threshold, err = parseFloat(q, ParamThreshold); err != nil {
		return Params{}, err
	}
	if p.Eps, err = parseFloat(q, ParamEps); err != nil {
		return Params{}, err
	}
	if p.MinPoints, err = parseInt(q, ParamMinPoints); err != nil {
		return Params{}, err
	}
	if p.K, err = parseInt(q, ParamK); err != nil {
		return Params{}, err
	}
	if p.Window, err = parseInt(q, ParamWindow); err != nil {
		return Params{}, err
	}
	if raw := strings.TrimSpace(q.Get(ParamSeed)); raw != "" {
		v, perr := strconv.ParseUint(raw, 10, 64)
		if perr != nil {
			return Params{}, validation(ParamSeed, "seed must be a non-negative integer, got %q", raw)
		}
		p.Seed = &v
	}
	return p, nil
}

// tuning lists the tuning parameters set in p.
func (p Params) tuning() []string {
	var set []string
	if p.Threshold != nil {
		set = append(set, ParamThreshold)
	}
	if p.Eps != nil {
		set = append(set, ParamEps)
	}
	if p.MinPoints != nil {
		set = append(set, ParamMinPoints)
	}
	if p.K != nil {
		set = append(set, ParamK)
	}
	if p.Seed != nil {
		set = append(set, ParamSeed)
	}
	if p.Window != nil {
		set = append(set, ParamWindow)
	}
	return set
}

// only rejects tuning parameters the endpoint does not use.
func (p Params) only(label string, accepts []string) error {
	for _, name := range p.tuning() {
		if !slices.Contains(accepts, name) {
			return validation(label, "%s does not accept parameter %q", label, name)
		}
	}
	return nil
}

func parseFloat(q url.Values, name string) (*float64, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, validation(name, "%s must be a number, got %q", name, raw)
	}
	return &v, nil
}

func parseInt(q url.Values, name string) (*int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, validation(name, "%s must be an integer, got %q", name, raw)
	}
	return &v, nil
}

// datesKey identifies the date range in cache keys.
func (p Params) datesKey() string {
	from, to := "-", "-"
	if !p.Dates.From.IsZero() {
		from = p.Dates.From.Format(model.DateLayout)
	}
	if !p.Dates.To.IsZero() {
		to = p.Dates.To.Format(model.DateLayout)
	}
	return from + ".." + to
}

// key identifies every parameter in cache keys.
func (p Params) key() string {
	var b strings.Builder
	b.WriteString(string(p.Level))
	b.WriteByte('|')
	b.WriteString(p.datesKey())
	writeOpt(&b, "t", p.Threshold)
	writeOpt(&b, "e", p.Eps)
	writeOpt(&b, "m", p.MinPoints)
	writeOpt(&b, "k", p.K)
	writeOpt(&b, "s", p.Seed)
	writeOpt(&b, "w", p.Window)
	return b.String()
}

func writeOpt[T any](b *strings.Builder, name string, v *T) {
	if v == nil {
		return
	}
	fmt.Fprintf(b, "|%s=%v", name, *v)
}
