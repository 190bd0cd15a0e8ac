// Package conversation turns diarized utterances into speaker turns and the
// plain-text rendering sent to the report generator.
package conversation

import (
	"strings"

	"visit-reports-go/internal/types"
)

// Normalize merges consecutive utterances of the same speaker into turns.
// Input order is kept as-is (utterances sharing a start time stay in
// provider order). Empty input yields an empty, non-nil slice.
func Normalize(utterances []types.Utterance) []types.Turn {
	turns := make([]types.Turn, 0, len(utterances))
	for i, u := range utterances {
		if i > 0 && u.Speaker == turns[len(turns)-1].Speaker {
			last := &turns[len(turns)-1]
			last.Text += " " + u.Text
			continue
		}
		turns = append(turns, types.Turn{Speaker: u.Speaker, Text: u.Text})
	}
	return turns
}

// Render produces one "<speaker>: <text>" line per turn.
func Render(turns []types.Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(t.Speaker))
		b.WriteString(": ")
		b.WriteString(t.Text)
	}
	return b.String()
}

// RenderVisit prefixes the rendered turns with the visit details block
// when any detail is present.
func RenderVisit(visit types.VisitDetails, turns []types.Turn) string {
	body := Render(turns)
	if visit.IsZero() {
		return body
	}
	lines := []string{"DETALLES DE LA VISITA:"}
	if v := strings.TrimSpace(visit.CustomerName); v != "" {
		lines = append(lines, "- Cliente: "+v)
	}
	if !visit.ReportDate.IsZero() {
		lines = append(lines, "- Fecha: "+visit.ReportDate.Format("2006-01-02"))
	}
	if v := strings.TrimSpace(visit.SalesPerson); v != "" {
		lines = append(lines, "- Comercial: "+v)
	}
	return strings.Join(lines, "\n") + "\n\n" + body
}
