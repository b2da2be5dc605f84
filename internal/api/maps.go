package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/enrollment-insight/internal/geo"
	"github.com/sells-group/enrollment-insight/internal/query"
)

// mapFormat reads ?format: "" or "json" for rows, "geojson" for a feature
// collection.
func mapFormat(w http.ResponseWriter, r *http.Request) (geojson bool, ok bool) {
	switch f := strings.ToLower(r.URL.Query().Get("format")); f {
	case "", "json":
		return false, true
	case "geojson":
		return true, true
	default:
		writeError(w, r, &query.Error{
			Kind:    query.KindValidation,
			Context: "format",
			Err:     eris.Errorf("format must be json or geojson, got %q", f),
		})
		return false, false
	}
}

// respondMap writes a map result as rows or as GeoJSON.
func respondMap[T any](w http.ResponseWriter, r *http.Request, asGeo bool, res query.Result[T], err error, features func(T) []geo.Feature) {
	if err != nil || !asGeo {
		respond(w, r, res, err)
		return
	}
	setMeta(w, res)
	writeBody(w, http.StatusOK, contentGeoJSON, geo.FeatureCollection(features(res.Value)))
}

func (s *Server) handleMapStates(w http.ResponseWriter, r *http.Request) {
	asGeo, ok := mapFormat(w, r)
	if !ok {
		return
	}
	p, ok := params(w, r)
	if !ok {
		return
	}
	res, err := s.engine.MapStates(r.Context(), p)
	respondMap(w, r, asGeo, res, err, func(m query.StatesMap) []geo.Feature {
		out := make([]geo.Feature, 0, len(m.Data))
		for _, row := range m.Data {
			out = append(out, geo.Feature{
				ID:  row.State,
				Lat: row.Lat,
				Lng: row.Lng,
				Properties: map[string]any{
					"state":     row.State,
					"enrolled":  row.Enrolled,
					"updates":   row.Updates,
					"districts": row.Districts,
					"pincodes":  row.Pincodes,
				},
			})
		}
		return out
	})
}

func (s *Server) handleMapDistricts(w http.ResponseWriter, r *http.Request) {
	asGeo, ok := mapFormat(w, r)
	if !ok {
		return
	}
	p, ok := params(w, r)
	if !ok {
		return
	}
	res, err := s.engine.MapDistricts(r.Context(), chi.URLParam(r, "state"), p)
	respondMap(w, r, asGeo, res, err, func(m query.DistrictsMap) []geo.Feature {
		out := make([]geo.Feature, 0, len(m.Data))
		for _, row := range m.Data {
			out = append(out, geo.Feature{
				ID:  row.State + "/" + row.District,
				Lat: row.Lat,
				Lng: row.Lng,
				Properties: map[string]any{
					"district":    row.District,
					"state":       row.State,
					"enrolled":    row.Enrolled,
					"age_0_5":     row.Age0To5,
					"age_5_17":    row.Age5To17,
					"age_18_plus": row.Age18Plus,
					"updates":     row.Updates,
					"pincodes":    row.Pincodes,
				},
			})
		}
		return out
	})
}

func (s *Server) handleMapPincodes(w http.ResponseWriter, r *http.Request) {
	asGeo, ok := mapFormat(w, r)
	if !ok {
		return
	}
	p, ok := params(w, r)
	if !ok {
		return
	}
	res, err := s.engine.MapPincodes(r.Context(), chi.URLParam(r, "district"), p)
	respondMap(w, r, asGeo, res, err, func(m query.PincodesMap) []geo.Feature {
		out := make([]geo.Feature, 0, len(m.Data))
		for _, row := range m.Data {
			out = append(out, geo.Feature{
				ID:  row.Pincode,
				Lat: row.Lat,
				Lng: row.Lng,
				Properties: map[string]any{
					"pincode":     row.Pincode,
					"district":    row.District,
					"state":       row.State,
					"enrolled":    row.Enrolled,
					"age_0_5":     row.Age0To5,
					"age_5_17":    row.Age5To17,
					"age_18_plus": row.Age18Plus,
					"updates":     row.Updates,
				},
			})
		}
		return out
	})
}

func (s *Server) handleMapClusters(w http.ResponseWriter, r *http.Request) {
	asGeo, ok := mapFormat(w, r)
	if !ok {
		return
	}
	p, ok := params(w, r)
	if !ok {
		return
	}
	res, err := s.engine.MapClusters(r.Context(), chi.URLParam(r, "kind"), p)
	respondMap(w, r, asGeo, res, err, func(m query.ClustersMap) []geo.Feature {
		out := make([]geo.Feature, 0, len(m.Data))
		for _, row := range m.Data {
			props := map[string]any{
				"pincode":  row.Pincode,
				"district": row.District,
				"state":    row.State,
				"enrolled": row.Enrolled,
				"cluster":  row.Cluster,
			}
			if row.Updates != nil {
				props["updates"] = *row.Updates
			}
			out = append(out, geo.Feature{ID: row.Pincode, Lat: row.Lat, Lng: row.Lng, Properties: props})
		}
		return out
	})
}
