package analytics

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"rewardskit/core"
)

const bom = "\ufeff"

// CSVHeader is the column order of WriteCSV. Downstream research tooling
// reads columns by position, so the order must not change.
var CSVHeader = []string{
	"Fecha y Hora",
	"Tipo de Evento",
	"Descripción",
	"Puntos Base",
	"Multiplicador",
	"Puntos Ganados",
	"Nivel Bloom",
	"Metacognitivo",
	"Búsqueda Web",
	"Recurso",
}

const csvTimeLayout = "2006-01-02 15:04:05"

// WriteCSV writes history as a BOM-prefixed CSV document, timestamps
// rendered in loc (time.Local when nil).
func WriteCSV(w io.Writer, history []core.HistoryEntry, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	if _, err := io.WriteString(w, bom); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, h := range history {
		if err := cw.Write(csvRow(h, loc)); err != nil {
			return fmt.Errorf("write entry %s: %w", h.Identity(), err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(h core.HistoryEntry, loc *time.Location) []string {
	return []string{
		h.At().In(loc).Format(csvTimeLayout),
		string(h.Kind),
		h.Label,
		strconv.FormatInt(h.BasePoints, 10),
		strconv.FormatFloat(h.Multiplier, 'f', 1, 64),
		strconv.FormatInt(h.EarnedPoints, 10),
		bloomLevel(h),
		flag(metacognitive(h)),
		flag(h.Kind == core.KindWebSearchUsed || h.Metadata.Bool(core.MetaWebSearch)),
		h.Metadata.ResourceID(),
	}
}

func bloomLevel(h core.HistoryEntry) string {
	if n, ok := h.Metadata.Int(core.MetaBloomLevel); ok && n > 0 {
		return strconv.FormatInt(n, 10)
	}
	if n, ok := h.Kind.BloomLevel(); ok {
		return strconv.Itoa(n)
	}
	return ""
}

func metacognitive(h core.HistoryEntry) bool {
	switch h.Kind {
	case core.KindMetacognitiveReflection, core.KindMetacognitiveIntegration, core.KindSelfAssessment:
		return true
	}
	return h.Metadata.Bool(core.MetaMetacognitive)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
