package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"

	"github.com/shineum/contact-mailer/internal/contact"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// parseCSV treats the first row as the header. Short rows are padded with
// empty values; cells past the header width are dropped.
func parseCSV(data []byte) ([]contact.Record, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return []contact.Record{}, nil
	}
	if err != nil {
		return nil, parseErr(CSV, err)
	}

	recs := []contact.Record{}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, parseErr(CSV, err)
		}

		if len(row) > len(header) {
			line, _ := r.FieldPos(0)
			slog.Debug("dropping cells beyond header width",
				"line", line,
				"cells", len(row),
				"columns", len(header),
			)
		}

		recs = append(recs, zipRow(header, row))
	}

	return recs, nil
}

// zipRow pairs header names with row cells, padding missing cells with "".
func zipRow(header, row []string) contact.Record {
	rec := make(contact.Record, 0, len(header))
	for i, key := range header {
		value := ""
		if i < len(row) {
			value = row[i]
		}
		rec = append(rec, contact.Field{Key: key, Value: value})
	}
	return rec
}
