// Package ingest batch-loads enrollment, biometric and demographic CSV
// exports into the record store.
package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	LazyQuotes bool
}

// streamCSV reads a CSV file and sends rows to a channel. The first row is
// treated as the header and returned separately through headerCh. Both
// channels are closed when processing completes.
func streamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan []string, <-chan error) {
	headerCh := make(chan []string, 1)
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)
		defer close(headerCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1
		reader.ReuseRecord = false

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}

			if first {
				first = false
				headerCh <- record
				continue
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return headerCh, rowCh, errCh
}
