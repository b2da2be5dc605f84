package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrollment-insight/internal/anomaly"
	"github.com/sells-group/enrollment-insight/internal/cluster"
	"github.com/sells-group/enrollment-insight/internal/forecast"
	"github.com/sells-group/enrollment-insight/internal/geo"
	"github.com/sells-group/enrollment-insight/internal/snapshot"
)

// Kind classifies a failed request for the client.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindBudgetExceeded Kind = "budget_exceeded"
	KindUnavailable    Kind = "unavailable"
	KindInternal       Kind = "internal"
)

// errBudget marks a computation that could not be admitted or finished in
// time.
var errBudget = eris.New("query: computation exceeded budget")

// Error is a classified failure. Context names the metric or entity the
// request was about.
type Error struct {
	Kind    Kind
	Context string
	Err     error
}

func (e *Error) Error() string {
	if e.Context == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Context, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message is the client-facing reason without the context prefix.
func (e *Error) Message() string {
	return e.Err.Error()
}

// validation reports a bad request parameter.
func validation(ctx string, format string, args ...any) error {
	return &Error{Kind: KindValidation, Context: ctx, Err: eris.Errorf(format, args...)}
}

// classify maps an engine error onto the client taxonomy. Errors already
// classified pass through unchanged.
func classify(ctx string, err error) error {
	if err == nil {
		return nil
	}
	var qe *Error
	if errors.As(err, &qe) {
		return err
	}
	kind := KindInternal
	switch {
	case eris.Is(err, anomaly.ErrInvalidParameter),
		eris.Is(err, cluster.ErrInvalidParameter),
		eris.Is(err, forecast.ErrInvalidParameter):
		kind = KindValidation
	case eris.Is(err, geo.ErrUnknownEntity):
		kind = KindNotFound
	case eris.Is(err, snapshot.ErrNoSnapshot):
		kind = KindUnavailable
	case eris.Is(err, errBudget),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		kind = KindBudgetExceeded
	}
	return &Error{Kind: kind, Context: ctx, Err: err}
}

// KindOf returns the kind of a classified error, or KindInternal.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return KindInternal
}
