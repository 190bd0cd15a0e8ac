package dataset

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"visit-reports-go/internal/failure"
	"visit-reports-go/internal/processor"
	"visit-reports-go/internal/types"
)

const resultsSheet = "Resultados"

// ResultRow pairs a manifest row with what the pipeline produced for it.
type ResultRow struct {
	Record     types.VisitRecord
	Result     processor.Result
	ReportPath string
}

var resultHeader = []any{
	"Fila", "Audio", "Cliente", "Fecha", "Comercial",
	"Estado", "Completitud", "Idioma", "Hablantes", "Tokens entrada", "Tokens salida",
	"Informe", "Transcripción", "Aviso", "Tipo de error", "Error", "ID diagnóstico", "Duración (ms)",
}

// WriteResults writes one summary row per processed manifest row.
func WriteResults(path string, rows []ResultRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return failure.Wrap(failure.Storage, "results", err)
	}
	if err := f.SetSheetRow(resultsSheet, "A1", &resultHeader); err != nil {
		return failure.Wrap(failure.Storage, "results", err)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(resultsSheet, 1, 1, style)
	}

	for i, r := range rows {
		values := resultValues(r)
		axis, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return failure.Wrap(failure.Storage, "results", err)
		}
		if err := f.SetSheetRow(resultsSheet, axis, &values); err != nil {
			return failure.Wrap(failure.Storage, "results", err)
		}
	}
	_ = f.SetColWidth(resultsSheet, "B", "B", 40)
	_ = f.SetColWidth(resultsSheet, "L", "M", 50)

	if err := f.SaveAs(path); err != nil {
		return failure.Wrap(failure.Storage, "results", fmt.Errorf("save %s: %w", path, err))
	}
	return nil
}

func resultValues(r ResultRow) []any {
	res := r.Result
	status := "ok"
	if !res.OK() {
		status = "error"
	}
	date := ""
	if !r.Record.Visit.ReportDate.IsZero() {
		date = r.Record.Visit.ReportDate.Format("2006-01-02")
	}
	language, speakers := "", 0
	if res.Transcript != nil {
		language = string(res.Transcript.Language)
		speakers = res.Transcript.SpeakerCount
	}
	return []any{
		r.Record.Row,
		r.Record.AudioPath,
		r.Record.Visit.CustomerName,
		date,
		r.Record.Visit.SalesPerson,
		status,
		string(res.CompletionStatus),
		language,
		speakers,
		res.Usage.InputTokens,
		res.Usage.OutputTokens,
		r.ReportPath,
		res.StoragePath,
		res.StorageWarning,
		string(res.ErrorKind),
		res.Error,
		res.DiagnosticID,
		res.DurationMs,
	}
}
