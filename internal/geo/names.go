// Package geo resolves administrative entity names and projects entities onto
// approximate map coordinates.
package geo

import (
	"net/url"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"

	"github.com/sells-group/enrollment-insight/internal/model"
)

// ErrUnknownEntity is returned when a name does not match any loaded entity.
var ErrUnknownEntity = eris.New("geo: unknown entity")

// stateAliases maps folded historical or variant spellings to the canonical
// state name.
var stateAliases = map[string]string{
	"orissa":                      "Odisha",
	"odisha":                      "Odisha",
	"pondicherry":                 "Puducherry",
	"puducherry":                  "Puducherry",
	"uttaranchal":                 "Uttarakhand",
	"uttarakhand":                 "Uttarakhand",
	"jammu and kashmir":           "Jammu and Kashmir",
	"nct of delhi":                "Delhi",
	"delhi":                       "Delhi",
	"andaman and nicobar":         "Andaman and Nicobar Islands",
	"andaman and nicobar islands": "Andaman and Nicobar Islands",
	"west bangal":                 "West Bengal",
	"westbengal":                  "West Bengal",
	"west bengal":                 "West Bengal",
	"chhatisgarh":                 "Chhattisgarh",
	"chhattisgarh":                "Chhattisgarh",
	"tamilnadu":                   "Tamil Nadu",
	"tamil nadu":                  "Tamil Nadu",
	"dadra and nagar haveli":      "Dadra and Nagar Haveli and Daman and Diu",
	"daman and diu":               "Dadra and Nagar Haveli and Daman and Diu",
	"the dadra and nagar haveli and daman and diu": "Dadra and Nagar Haveli and Daman and Diu",
}

var folder = cases.Fold()

// FoldKey normalizes a name for case-insensitive comparison: case folding,
// "&" spelled out, and runs of whitespace collapsed.
func FoldKey(name string) string {
	s := folder.String(name)
	s = strings.ReplaceAll(s, "&", " and ")
	return strings.Join(strings.Fields(s), " ")
}

// CleanName trims and collapses whitespace without changing case.
func CleanName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// CanonicalState returns the canonical spelling for a state name, resolving
// known aliases such as Orissa -> Odisha.
func CanonicalState(name string) string {
	if c, ok := stateAliases[FoldKey(name)]; ok {
		return c
	}
	return CleanName(name)
}

// stateKey folds a state name after alias resolution.
func stateKey(name string) string {
	return FoldKey(CanonicalState(name))
}

// Names maps raw state and district spellings onto one canonical spelling
// each. District spellings that fold equal within a state collapse onto the
// first spelling seen. A Names is not safe for concurrent use.
type Names struct {
	districts map[string]string
}

// NewNames returns an empty name table.
func NewNames() *Names {
	return &Names{districts: make(map[string]string)}
}

// Location returns the canonical state and district spellings.
func (n *Names) Location(state, district string) (string, string) {
	s := CanonicalState(state)
	d := CleanName(district)
	k := FoldKey(s) + "\x00" + FoldKey(d)
	if c, ok := n.districts[k]; ok {
		return s, c
	}
	n.districts[k] = d
	return s, d
}

// Index answers name lookups over the entities of one snapshot. It is built
// once and is read-only afterwards.
type Index struct {
	states    map[string]model.EntityKey
	districts map[string][]model.EntityKey
	pincodes  map[string]model.EntityKey
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		states:    make(map[string]model.EntityKey),
		districts: make(map[string][]model.EntityKey),
		pincodes:  make(map[string]model.EntityKey),
	}
}

// Add registers a pincode location and its ancestors. Names must already be
// canonical.
func (x *Index) Add(state, district, pincode string) {
	sk := stateKey(state)
	if _, ok := x.states[sk]; !ok {
		x.states[sk] = model.KeyFor(model.LevelState, state, "", "")
	}
	dk := FoldKey(district)
	dkey := model.KeyFor(model.LevelDistrict, state, district, "")
	found := false
	for _, k := range x.districts[dk] {
		if k == dkey {
			found = true
			break
		}
	}
	if !found {
		x.districts[dk] = append(x.districts[dk], dkey)
		sort.Slice(x.districts[dk], func(i, j int) bool { return x.districts[dk][i].Less(x.districts[dk][j]) })
	}
	if pincode != "" {
		if _, ok := x.pincodes[pincode]; !ok {
			x.pincodes[pincode] = model.KeyFor(model.LevelPincode, state, district, pincode)
		}
	}
}

// decode percent-decodes a path segment, tolerating already-decoded input.
func decode(raw string) string {
	if s, err := url.PathUnescape(raw); err == nil {
		return s
	}
	return raw
}

// State resolves a state name (percent-encoded or not, any case, any alias).
func (x *Index) State(raw string) (model.EntityKey, error) {
	name := decode(raw)
	if k, ok := x.states[stateKey(name)]; ok {
		return k, nil
	}
	return model.EntityKey{}, eris.Wrapf(ErrUnknownEntity, "state %q", name)
}

// District resolves a district name. District names are not unique across
// states; when state is non-empty it narrows the match.
func (x *Index) District(raw, state string) ([]model.EntityKey, error) {
	name := decode(raw)
	keys := x.districts[FoldKey(name)]
	if state != "" {
		sk, err := x.State(state)
		if err != nil {
			return nil, err
		}
		var narrowed []model.EntityKey
		for _, k := range keys {
			if k.State == sk.State {
				narrowed = append(narrowed, k)
			}
		}
		keys = narrowed
	}
	if len(keys) == 0 {
		return nil, eris.Wrapf(ErrUnknownEntity, "district %q", name)
	}
	return keys, nil
}

// Pincode resolves a pincode.
func (x *Index) Pincode(raw string) (model.EntityKey, error) {
	code := strings.TrimSpace(decode(raw))
	if k, ok := x.pincodes[code]; ok {
		return k, nil
	}
	return model.EntityKey{}, eris.Wrapf(ErrUnknownEntity, "pincode %q", code)
}

// Resolve looks up an entity at any level. Ambiguous district names resolve
// to the first match in state order.
func (x *Index) Resolve(level model.Level, raw string) (model.EntityKey, error) {
	switch level {
	case model.LevelState:
		return x.State(raw)
	case model.LevelDistrict:
		keys, err := x.District(raw, "")
		if err != nil {
			return model.EntityKey{}, err
		}
		return keys[0], nil
	default:
		return x.Pincode(raw)
	}
}

// Counts reports how many entities of each level are indexed.
func (x *Index) Counts() (states, districts, pincodes int) {
	for _, ks := range x.districts {
		districts += len(ks)
	}
	return len(x.states), districts, len(x.pincodes)
}
