package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sells-group/enrollment-insight/internal/query"
)

const (
	headerCache        = "X-Cache"
	headerGeneration   = "X-Snapshot-Generation"
	headerInsufficient = "X-Insufficient-Data"
	headerMessage      = "X-Insufficient-Data-Message"

	contentJSON    = "application/json"
	contentGeoJSON = "application/geo+json"
)

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Context string `json:"context"`
}

func writeBody(w http.ResponseWriter, status int, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	writeBody(w, status, contentJSON, v)
}

// statusOf maps an error kind to its HTTP status.
func statusOf(kind query.Kind) int {
	switch kind {
	case query.KindValidation:
		return http.StatusBadRequest
	case query.KindNotFound:
		return http.StatusNotFound
	case query.KindBudgetExceeded, query.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports a failed request with its kind, reason and context.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: string(query.KindInternal), Message: err.Error(), Context: r.URL.Path}
	var qe *query.Error
	if errors.As(err, &qe) {
		body.Error = string(qe.Kind)
		body.Message = qe.Message()
		if qe.Context != "" {
			body.Context = qe.Context
		}
	}
	status := statusOf(query.Kind(body.Error))
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.String("kind", body.Error),
			zap.String("context", body.Context),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	if query.Kind(body.Error) == query.KindBudgetExceeded {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, body)
}

// setMeta records which snapshot answered and whether the cache did.
func setMeta[T any](w http.ResponseWriter, res query.Result[T]) {
	w.Header().Set(headerGeneration, strconv.FormatUint(res.Generation, 10))
	if res.Cached {
		w.Header().Set(headerCache, "hit")
	} else {
		w.Header().Set(headerCache, "miss")
	}
}

// respond writes a query result or its error.
func respond[T any](w http.ResponseWriter, r *http.Request, res query.Result[T], err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	setMeta(w, res)
	writeJSON(w, http.StatusOK, res.Value)
}
