package ingest

import (
	"errors"
	"fmt"
)

// ErrEmptyFilename is returned when no filename is supplied to derive a format from.
var ErrEmptyFilename = errors.New("contact file name is empty")

// FormatError reports a file whose extension is not a supported contact format.
type FormatError struct {
	Ext string
}

func (e *FormatError) Error() string {
	if e.Ext == "" {
		return "unsupported file format: missing extension (expected .json, .csv, .xlsx or .xls)"
	}
	return fmt.Sprintf("unsupported file format %q (expected .json, .csv, .xlsx or .xls)", e.Ext)
}

// ParseError reports a contact file that could not be decoded.
type ParseError struct {
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s contact file: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseErr(f Format, err error) error {
	return &ParseError{Format: f, Err: err}
}
