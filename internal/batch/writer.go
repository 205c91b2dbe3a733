package batch

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

var resultHeader = []string{
	"line", "id", "industry", "hazard_class", "revenue_band", "revenue", "limit", "retention",
	"controls", "base_rate_per_1k", "base_premium", "limit_factor", "retention_factor",
	"premium_after_controls", "final_premium", "table_version", "error",
}

func resultRecord(r Result) []string {
	rec := []string{
		strconv.Itoa(r.Row.Line),
		r.Row.ID,
		r.Row.Industry,
		"", "",
		strconv.FormatInt(r.Row.Revenue, 10),
		strconv.FormatInt(r.Row.Limit, 10),
		strconv.FormatInt(r.Row.Retention, 10),
		strings.Join(r.Row.Controls, ";"),
		"", "", "", "", "", "", "", "",
	}
	if r.Err != nil {
		rec[16] = r.Err.Error()
		return rec
	}
	b := r.Quote.Breakdown
	rec[2] = b.Industry
	rec[3] = strconv.Itoa(b.HazardClass)
	rec[4] = b.RevenueBand
	rec[9] = b.BaseRatePer1K.String()
	rec[10] = b.BasePremium.String()
	rec[11] = b.LimitFactor.String()
	rec[12] = b.RetentionFactor.String()
	rec[13] = b.PremiumAfterControls.String()
	rec[14] = strconv.FormatInt(b.FinalPremium, 10)
	rec[15] = b.TableVersion
	return rec
}

// WriteCSV writes one line per result under a header row.
func WriteCSV(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(resultHeader); err != nil {
		return eris.Wrap(err, "batch: write csv header")
	}
	for _, r := range results {
		if err := cw.Write(resultRecord(r)); err != nil {
			return eris.Wrapf(err, "batch: write csv line %d", r.Row.Line)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "batch: flush csv")
	}
	return nil
}

// WriteXLSX writes results to a "Ratings" worksheet. Premiums and amounts
// are numeric cells.
func WriteXLSX(w io.Writer, results []Result) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Ratings")
	if err != nil {
		return eris.Wrap(err, "batch: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range resultHeader {
		header.AddCell().SetString(h)
	}

	numeric := map[int]bool{0: true, 3: true, 5: true, 6: true, 7: true, 14: true}
	for _, r := range results {
		row := sheet.AddRow()
		for i, v := range resultRecord(r) {
			cell := row.AddCell()
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && numeric[i] {
				cell.SetInt64(n)
				continue
			}
			cell.SetString(v)
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "batch: write xlsx")
	}
	return nil
}
