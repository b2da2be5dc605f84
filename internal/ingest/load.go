package ingest

import (
	"context"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrollment-insight/internal/model"
)

// Sink receives parsed records. store.Store satisfies it.
type Sink interface {
	InsertEnrollments(ctx context.Context, recs []model.EnrollmentRecord) (int64, error)
	InsertUpdates(ctx context.Context, recs []model.UpdateRecord) (int64, error)
}

// Options tunes a load.
type Options struct {
	BatchSize int  // rows per insert, default 5000
	Strict    bool // fail on the first malformed row instead of skipping it
	CSV       CSVOptions
}

// Stats summarises a finished load.
type Stats struct {
	Kind     Kind          `json:"kind"`
	Rows     int64         `json:"rows"`
	Inserted int64         `json:"inserted"`
	Skipped  int64         `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Load parses an export of the given kind from r and writes it to sink in
// batches.
func Load(ctx context.Context, sink Sink, kind Kind, r io.Reader, opts Options) (*Stats, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5000
	}
	start := time.Now()
	log := zap.L().With(zap.String("kind", string(kind)))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	headerCh, rowCh, errCh := streamCSV(ctx, r, opts.CSV)
	header, ok := <-headerCh
	if !ok {
		if err := <-errCh; err != nil {
			return nil, eris.Wrapf(err, "ingest: read %s header", kind)
		}
		return nil, eris.Errorf("ingest: %s export is empty", kind)
	}
	cols, err := newColumnIndex(kind, header)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Kind: kind}
	var enrollments []model.EnrollmentRecord
	var updates []model.UpdateRecord

	flush := func() error {
		var n int64
		var err error
		switch {
		case len(enrollments) > 0:
			n, err = sink.InsertEnrollments(ctx, enrollments)
			enrollments = enrollments[:0]
		case len(updates) > 0:
			n, err = sink.InsertUpdates(ctx, updates)
			updates = updates[:0]
		}
		if err != nil {
			return eris.Wrapf(err, "ingest: insert %s batch", kind)
		}
		stats.Inserted += n
		return nil
	}

	for row := range rowCh {
		stats.Rows++
		var rowErr error
		if kind == KindEnrollment {
			var rec model.EnrollmentRecord
			if rec, rowErr = cols.enrollment(row); rowErr == nil {
				enrollments = append(enrollments, rec)
			}
		} else {
			var rec model.UpdateRecord
			if rec, rowErr = cols.update(kind, row); rowErr == nil {
				updates = append(updates, rec)
			}
		}
		if rowErr != nil {
			if opts.Strict {
				return stats, eris.Wrapf(rowErr, "ingest: %s row %d", kind, stats.Rows)
			}
			stats.Skipped++
			log.Debug("ingest: skipping malformed row", zap.Int64("row", stats.Rows), zap.Error(rowErr))
			continue
		}
		if len(enrollments)+len(updates) >= opts.BatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := <-errCh; err != nil {
		return stats, eris.Wrapf(err, "ingest: read %s export", kind)
	}
	if err := flush(); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	log.Info("ingest: load complete",
		zap.Int64("rows", stats.Rows),
		zap.Int64("inserted", stats.Inserted),
		zap.Int64("skipped", stats.Skipped),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}
