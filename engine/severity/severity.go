// Package severity grades a diagnosis into none/low/medium/high urgency.
// An explicit severity label from the provider wins; otherwise urgency is
// inferred from the wording of the diagnosis itself.
package severity

import (
	"strings"

	"github.com/autologic-mx/obi2/engine/domain"
)

// Label words the provider uses in its SEVERIDAD Y URGENCIA section.
var labelCues = []struct {
	severity domain.Severity
	cues     []string
}{
	{domain.SeverityHigh, []string{"crítico", "grave", "peligroso"}},
	{domain.SeverityMedium, []string{"moderado", "advertencia", "precaución"}},
	{domain.SeverityLow, []string{"menor", "leve", "simple"}},
}

// Phrases in diagnosis prose that imply urgency when no label is present.
// High is checked first so "no conducir" outranks the "problema" it often
// appears next to.
var textCues = []struct {
	severity domain.Severity
	cues     []string
}{
	{domain.SeverityHigh, []string{"peligro", "urgente", "no conducir", "inmediatamente", "grave", "fallo crítico"}},
	{domain.SeverityMedium, []string{"precaución", "revisar pronto", "atención", "problema", "deterioro", "falla"}},
	{domain.SeverityLow, []string{"buen estado", "fácil solución", "no es grave", "mantenimiento", "revision rutinaria"}},
}

// Classify grades a diagnosis. label is the explicit severity string the
// provider reported, empty when it reported none.
func Classify(diagnosis, label string) domain.Severity {
	if s := fromLabel(label); s != domain.SeverityNone {
		return s
	}
	return fromText(diagnosis)
}

func fromLabel(label string) domain.Severity {
	lower := strings.ToLower(label)
	if lower == "" {
		return domain.SeverityNone
	}
	for _, lc := range labelCues {
		for _, cue := range lc.cues {
			if strings.Contains(lower, cue) {
				return lc.severity
			}
		}
	}
	return domain.SeverityNone
}

func fromText(diagnosis string) domain.Severity {
	lower := strings.ToLower(diagnosis)
	for _, tc := range textCues {
		for _, cue := range tc.cues {
			if strings.Contains(lower, cue) {
				return tc.severity
			}
		}
	}
	return domain.SeverityNone
}
