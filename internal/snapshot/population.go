package snapshot

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/enrollment-insight/internal/geo"
	"github.com/sells-group/enrollment-insight/internal/model"
)

// Population is the injected expected-population reference. Figures are
// keyed by canonical state name and by "State/District".
type Population struct {
	States    map[string]int64 `yaml:"states"`
	Districts map[string]int64 `yaml:"districts"`
}

// LoadPopulation reads a population reference file. An empty path yields an
// empty reference.
func LoadPopulation(path string) (*Population, error) {
	if path == "" {
		return &Population{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: read population file %s", path)
	}
	var raw Population
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "snapshot: parse population file %s", path)
	}

	pop := &Population{
		States:    make(map[string]int64, len(raw.States)),
		Districts: make(map[string]int64, len(raw.Districts)),
	}
	for name, n := range raw.States {
		if n < 0 {
			return nil, eris.Errorf("snapshot: negative population for state %q", name)
		}
		pop.States[geo.FoldKey(geo.CanonicalState(name))] = n
	}
	for name, n := range raw.Districts {
		if n < 0 {
			return nil, eris.Errorf("snapshot: negative population for district %q", name)
		}
		pop.Districts[districtKey(name)] = n
	}
	return pop, nil
}

// districtKey folds "State/District" with state alias resolution.
func districtKey(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == '/' {
			return geo.FoldKey(geo.CanonicalState(id[:i])) + "/" + geo.FoldKey(id[i+1:])
		}
	}
	return geo.FoldKey(id)
}

// Expected returns the reference population for an entity, if known.
func (p *Population) Expected(k model.EntityKey) (int64, bool) {
	if p == nil {
		return 0, false
	}
	var n int64
	var ok bool
	switch k.Level {
	case model.LevelState:
		n, ok = p.States[geo.FoldKey(geo.CanonicalState(k.State))]
	case model.LevelDistrict:
		n, ok = p.Districts[districtKey(k.State+"/"+k.District)]
	}
	return n, ok && n > 0
}

// Empty reports whether no reference figures are loaded.
func (p *Population) Empty() bool {
	return p == nil || (len(p.States) == 0 && len(p.Districts) == 0)
}
