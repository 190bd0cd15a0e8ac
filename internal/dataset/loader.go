package dataset

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"visit-reports-go/internal/failure"
	"visit-reports-go/internal/logger"
	"visit-reports-go/internal/types"
)

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2006/01/02",
	"02/01/06",
	"01-02-06",
	time.RFC3339,
}

// LoadManifest reads batch rows from the first sheet. Columns are found by
// header heuristics; relative audio paths resolve against the manifest's
// directory. Rows without an audio path are skipped.
func LoadManifest(path string, log *logger.Logger) ([]types.VisitRecord, error) {
	if log == nil {
		log = logger.New()
	}
	log = log.Component("dataset").With("path", path)

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, failure.Wrap(failure.InvalidInput, "manifest", fmt.Errorf("open file: %w", err))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, failure.New(failure.InvalidInput, "manifest", "no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, failure.Wrap(failure.InvalidInput, "manifest", fmt.Errorf("read rows: %w", err))
	}
	if len(rows) <= 1 {
		return nil, failure.New(failure.InvalidInput, "manifest", "no data rows")
	}

	audioIdx, customerIdx, dateIdx, salesIdx := -1, -1, -1, -1
	for i, h := range rows[0] {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "audio") || strings.Contains(l, "archivo") || strings.Contains(l, "fichero") || strings.Contains(l, "file") || strings.Contains(l, "path") || strings.Contains(l, "mp3"):
			if audioIdx == -1 {
				audioIdx = i
			}
		case strings.Contains(l, "cliente") || strings.Contains(l, "customer") || strings.Contains(l, "client"):
			if customerIdx == -1 {
				customerIdx = i
			}
		case strings.Contains(l, "fecha") || strings.Contains(l, "date") || strings.Contains(l, "data"):
			if dateIdx == -1 {
				dateIdx = i
			}
		case strings.Contains(l, "comercial") || strings.Contains(l, "sales") || strings.Contains(l, "vendedor") || strings.Contains(l, "rep"):
			if salesIdx == -1 {
				salesIdx = i
			}
		}
	}
	if audioIdx == -1 {
		// headerless sheet: audio path in the first column
		audioIdx = 0
	}
	log.WithField("audio_col", audioIdx).
		WithField("customer_col", customerIdx).
		WithField("date_col", dateIdx).
		WithField("sales_col", salesIdx).
		Debug("detected manifest columns")

	base := filepath.Dir(path)
	var out []types.VisitRecord
	for i, r := range rows {
		if i == 0 {
			continue
		}
		audio := cell(r, audioIdx)
		if audio == "" {
			continue
		}
		if !filepath.IsAbs(audio) {
			audio = filepath.Join(base, audio)
		}
		rec := types.VisitRecord{
			Row:       i + 1,
			AudioPath: audio,
			Visit: types.VisitDetails{
				CustomerName: cell(r, customerIdx),
				SalesPerson:  cell(r, salesIdx),
			},
		}
		if raw := cell(r, dateIdx); raw != "" {
			d, ok := parseDate(raw)
			if !ok {
				log.WithField("row", rec.Row).WithField("value", raw).Warn("unparseable visit date, ignoring")
			}
			rec.Visit.ReportDate = d
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, failure.New(failure.InvalidInput, "manifest", "no rows with an audio path")
	}
	log.WithField("rows", len(out)).Info("manifest loaded")
	return out, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// parseDate accepts the common textual layouts and raw spreadsheet serials.
func parseDate(v string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	if serial, err := strconv.ParseFloat(v, 64); err == nil && serial > 0 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
