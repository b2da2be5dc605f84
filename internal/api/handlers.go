package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/enrollment-insight/internal/forecast"
	"github.com/sells-group/enrollment-insight/internal/query"
)

// params parses the shared query parameters, writing a validation error on
// failure.
func params(w http.ResponseWriter, r *http.Request) (query.Params, bool) {
	p, err := query.ParseParams(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return query.Params{}, false
	}
	return p, true
}

func (s *Server) handleHome(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":                   "Enrollment insight API running",
		"core_endpoints":           len(query.Metrics()),
		"trend_analysis_endpoints": len(query.BuildCatalog().Categories[query.CategoryTrends]),
		"total_endpoints":          query.BuildCatalog().TotalEndpoints,
	}
	if st, err := s.engine.Status(); err == nil {
		body["generation"] = st.Generation
		body["as_of"] = st.AsOf
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, query.BuildCatalog())
}

func (s *Server) handleMetric(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r)
	if !ok {
		return
	}
	res, err := s.engine.Metric(r.Context(), chi.URLParam(r, "slug"), p)
	respond(w, r, res, err)
}

func (s *Server) handleEnrollmentsByState(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r)
	if !ok {
		return
	}
	res, err := s.engine.EnrollmentsByState(r.Context(), p)
	respond(w, r, res, err)
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r)
	if !ok {
		return
	}
	res, err := s.engine.Profile(r.Context(), chi.URLParam(r, "level"), chi.URLParam(r, "name"), p)
	respond(w, r, res, err)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r)
	if !ok {
		return
	}
	res, err := s.engine.Summary(r.Context(), p)
	respond(w, r, res, err)
}

// handleForecast returns the bare list of projected points. A series too
// short to fit yields an empty list flagged by headers.
func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r)
	if !ok {
		return
	}
	res, err := s.engine.Forecast(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	setMeta(w, res)
	points := res.Value.Forecast
	if points == nil {
		points = []forecast.Point{}
	}
	if res.Value.InsufficientData {
		w.Header().Set(headerInsufficient, "true")
		w.Header().Set(headerMessage, res.Value.Message)
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleEnrollmentByAge(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r)
	if !ok {
		return
	}
	res, err := s.engine.EnrollmentByAge(r.Context(), p)
	respond(w, r, res, err)
}

func (s *Server) handleStatePerformance(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r)
	if !ok {
		return
	}
	res, err := s.engine.StatePerformance(r.Context(), p)
	respond(w, r, res, err)
}

func (s *Server) handleBottlenecks(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r)
	if !ok {
		return
	}
	res, err := s.engine.BottleneckDistricts(r.Context(), p)
	respond(w, r, res, err)
}

func (s *Server) handleDailyVolume(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r)
	if !ok {
		return
	}
	res, err := s.engine.DailyVolume(r.Context(), p)
	respond(w, r, res, err)
}

func (s *Server) handleHighVolume(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r)
	if !ok {
		return
	}
	res, err := s.engine.HighVolumePincodes(r.Context(), p)
	respond(w, r, res, err)
}

func (s *Server) handleFraud(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r)
	if !ok {
		return
	}
	res, err := s.engine.Fraud(r.Context(), p)
	respond(w, r, res, err)
}
