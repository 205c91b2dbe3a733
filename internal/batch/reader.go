// Package batch rates many submissions at once: it reads rating requests
// from CSV or XLSX, prices them concurrently, and writes the results back
// out as CSV or XLSX.
package batch

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Row is one submission to rate. Line is the 1-based source row, header
// included, so results can be traced back to the input.
type Row struct {
	Line      int
	ID        string
	Industry  string
	NAICS     string
	Revenue   int64
	Limit     int64
	Retention int64
	Controls  []string
}

// ReadFile reads rows from a .csv or .xlsx file. The first row is a header
// naming the columns; unknown columns are ignored.
func ReadFile(path string) ([]Row, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(path)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "batch: open input")
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(f)
	}
}

// ReadCSV reads rows from CSV.
func ReadCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var records [][]string
	var lines []int
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "batch: read csv")
		}
		line, _ := reader.FieldPos(0)
		records = append(records, rec)
		lines = append(lines, line)
	}
	return parseRecords(records, lines)
}

// ReadXLSX reads rows from the first sheet of an XLSX workbook.
func ReadXLSX(path string) ([]Row, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "batch: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("batch: xlsx has no sheets")
	}

	var records [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		records = append(records, cells)
	}
	return parseRecords(records, nil)
}

// parseRecords maps records onto Rows. lines holds the source line of each
// record; nil means records are consecutive rows starting at 1.
func parseRecords(records [][]string, lines []int) ([]Row, error) {
	if len(records) == 0 {
		return nil, eris.New("batch: input is empty")
	}

	index := make(map[string]int)
	for i, h := range records[0] {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := index["revenue"]; !ok {
		return nil, eris.New("batch: header must include a revenue column")
	}
	_, hasIndustry := index["industry"]
	_, hasNAICS := index["naics"]
	if !hasIndustry && !hasNAICS {
		return nil, eris.New("batch: header must include an industry or naics column")
	}

	var rows []Row
	for i := 1; i < len(records); i++ {
		rec := records[i]
		line := i + 1
		if lines != nil {
			line = lines[i]
		}
		field := func(name string) string {
			j, ok := index[name]
			if !ok || j >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[j])
		}
		if isBlank(rec) {
			continue
		}

		row := Row{
			Line:     line,
			ID:       field("id"),
			Industry: field("industry"),
			NAICS:    field("naics"),
			Controls: splitControls(field("controls")),
		}
		var err error
		if row.Revenue, err = parseAmount(field("revenue")); err != nil {
			return nil, eris.Wrapf(err, "batch: line %d: revenue", line)
		}
		if row.Limit, err = parseAmount(field("limit")); err != nil {
			return nil, eris.Wrapf(err, "batch: line %d: limit", line)
		}
		if row.Retention, err = parseAmount(field("retention")); err != nil {
			return nil, eris.Wrapf(err, "batch: line %d: retention", line)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseAmount accepts "1000000", "1,000,000" and "$1,000,000". Empty is zero.
func parseAmount(s string) (int64, error) {
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	if s == "" {
		return 0, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	// Spreadsheets hand back whole numbers as "5e+06" or "5000000.0".
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, eris.Errorf("invalid amount %q", s)
	}
	return int64(f), nil
}

func splitControls(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '|' || r == ',' })
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isBlank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
