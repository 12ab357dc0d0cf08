package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/shineum/contact-mailer/internal/contact"
)

var errNoSheet = errors.New("workbook has no sheets")

// parseXLSX reads the first sheet of an Office Open XML workbook.
func parseXLSX(data []byte) ([]contact.Record, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, parseErr(XLSX, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, parseErr(XLSX, errNoSheet)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, parseErr(XLSX, fmt.Errorf("sheet %q: %w", sheets[0], err))
	}

	return sheetRecords(rows), nil
}

// parseXLS reads the first sheet of a legacy BIFF workbook.
func parseXLS(data []byte) (recs []contact.Record, err error) {
	// the BIFF decoder panics on some truncated inputs
	defer func() {
		if r := recover(); r != nil {
			recs, err = nil, parseErr(XLS, fmt.Errorf("corrupt workbook: %v", r))
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, parseErr(XLS, err)
	}
	if wb.NumSheets() == 0 {
		return nil, parseErr(XLS, errNoSheet)
	}

	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, parseErr(XLS, errNoSheet)
	}

	var rows [][]string
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, 0, row.LastCol())
		for j := 0; j < row.LastCol(); j++ {
			cells = append(cells, row.Col(j))
		}
		rows = append(rows, cells)
	}

	return sheetRecords(rows), nil
}

// sheetRecords turns header + data rows into records. Blank rows are
// skipped and unnamed header cells get a positional name.
func sheetRecords(rows [][]string) []contact.Record {
	recs := []contact.Record{}

	headerIdx := -1
	for i, row := range rows {
		if !blankRow(row) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return recs
	}

	header := make([]string, len(rows[headerIdx]))
	for i, cell := range rows[headerIdx] {
		if strings.TrimSpace(cell) == "" {
			cell = fmt.Sprintf("Unnamed: %d", i)
		}
		header[i] = cell
	}

	for _, row := range rows[headerIdx+1:] {
		if blankRow(row) {
			continue
		}
		recs = append(recs, zipRow(header, row))
	}
	return recs
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
