package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Level is a granularity of the administrative hierarchy.
type Level string

const (
	LevelState    Level = "state"
	LevelDistrict Level = "district"
	LevelPincode  Level = "pincode"
)

// ParseLevel validates a level name. The empty string yields def.
func ParseLevel(s string, def Level) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return def, nil
	case LevelState:
		return LevelState, nil
	case LevelDistrict:
		return LevelDistrict, nil
	case LevelPincode:
		return LevelPincode, nil
	}
	return "", eris.Errorf("model: unknown level %q (want state, district or pincode)", s)
}

// EntityKey identifies a node in the state -> district -> pincode hierarchy.
// Fields below the key's level are empty.
type EntityKey struct {
	Level    Level  `json:"level"`
	State    string `json:"state"`
	District string `json:"district,omitempty"`
	Pincode  string `json:"pincode,omitempty"`
}

// KeyFor projects a location onto the given level.
func KeyFor(level Level, state, district, pincode string) EntityKey {
	switch level {
	case LevelState:
		return EntityKey{Level: level, State: state}
	case LevelDistrict:
		return EntityKey{Level: level, State: state, District: district}
	default:
		return EntityKey{Level: LevelPincode, State: state, District: district, Pincode: pincode}
	}
}

// Name returns the entity's own name at its level.
func (k EntityKey) Name() string {
	switch k.Level {
	case LevelState:
		return k.State
	case LevelDistrict:
		return k.District
	default:
		return k.Pincode
	}
}

// ID is a stable path-like identifier, e.g. "Odisha/Khordha/751001".
func (k EntityKey) ID() string {
	switch k.Level {
	case LevelState:
		return k.State
	case LevelDistrict:
		return k.State + "/" + k.District
	default:
		return k.State + "/" + k.District + "/" + k.Pincode
	}
}

// Parent returns the key one level up. A state has no parent.
func (k EntityKey) Parent() (EntityKey, bool) {
	switch k.Level {
	case LevelPincode:
		return EntityKey{Level: LevelDistrict, State: k.State, District: k.District}, true
	case LevelDistrict:
		return EntityKey{Level: LevelState, State: k.State}, true
	}
	return EntityKey{}, false
}

// Less orders keys by state, district, pincode.
func (k EntityKey) Less(o EntityKey) bool {
	if k.State != o.State {
		return k.State < o.State
	}
	if k.District != o.District {
		return k.District < o.District
	}
	return k.Pincode < o.Pincode
}

// GeoEntity is a named node with a reference to its parent.
type GeoEntity struct {
	Key    EntityKey  `json:"key"`
	Name   string     `json:"name"`
	Parent *EntityKey `json:"parent,omitempty"`
}
