package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/shineum/contact-mailer/internal/contact"
)

// parseJSON accepts a single object or an array of objects. Object key order
// is preserved by streaming tokens instead of decoding into maps.
func parseJSON(data []byte) ([]contact.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, parseErr(JSON, errors.New("empty document"))
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var recs []contact.Record

	switch trimmed[0] {
	case '{':
		rec, err := contact.ReadRecord(dec)
		if err != nil {
			return nil, parseErr(JSON, err)
		}
		recs = append(recs, rec)
	case '[':
		if _, err := dec.Token(); err != nil {
			return nil, parseErr(JSON, err)
		}
		for i := 0; dec.More(); i++ {
			rec, err := contact.ReadRecord(dec)
			if err != nil {
				return nil, parseErr(JSON, fmt.Errorf("element %d: %w", i, err))
			}
			recs = append(recs, rec)
		}
		if _, err := dec.Token(); err != nil {
			return nil, parseErr(JSON, err)
		}
	default:
		return nil, parseErr(JSON, errors.New("document must be an object or an array of objects"))
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, parseErr(JSON, errors.New("unexpected data after top-level value"))
	}

	if recs == nil {
		recs = []contact.Record{}
	}
	return recs, nil
}
