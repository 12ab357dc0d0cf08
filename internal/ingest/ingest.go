// Package ingest reads contact files (JSON, CSV, XLSX and XLS) into ordered
// raw records and normalized contacts.
package ingest

import (
	"path/filepath"
	"strings"

	"github.com/shineum/contact-mailer/internal/contact"
)

// Format identifies a contact file encoding.
type Format string

// Supported formats.
const (
	JSON Format = "json"
	CSV  Format = "csv"
	XLSX Format = "xlsx"
	XLS  Format = "xls"
)

// FormatFromFilename derives the format from the file extension,
// case-insensitively.
func FormatFromFilename(name string) (Format, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrEmptyFilename
	}

	ext := filepath.Ext(name)
	switch strings.ToLower(ext) {
	case ".json":
		return JSON, nil
	case ".csv":
		return CSV, nil
	case ".xlsx":
		return XLSX, nil
	case ".xls":
		return XLS, nil
	default:
		return "", &FormatError{Ext: ext}
	}
}

// Parse decodes data in format f into raw records, one per input row or
// object, in input order.
func Parse(data []byte, f Format) ([]contact.Record, error) {
	switch f {
	case JSON:
		return parseJSON(data)
	case CSV:
		return parseCSV(data)
	case XLSX:
		return parseXLSX(data)
	case XLS:
		return parseXLS(data)
	default:
		return nil, &FormatError{Ext: "." + string(f)}
	}
}

// Ingest detects the format from filename, parses data and normalizes every
// record.
func Ingest(filename string, data []byte) ([]contact.Contact, error) {
	f, err := FormatFromFilename(filename)
	if err != nil {
		return nil, err
	}

	recs, err := Parse(data, f)
	if err != nil {
		return nil, err
	}

	return contact.NormalizeAll(recs), nil
}
