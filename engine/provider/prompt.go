package provider

import (
	"strconv"
	"strings"

	"github.com/autologic-mx/obi2/engine/domain"
)

// BuildInitialPrompt assembles the first user message of a diagnosis
// conversation from the structured intake data. Absent fields simply do
// not appear.
func BuildInitialPrompt(vehicle domain.Vehicle, obdCodes, symptoms []string, additionalInfo string) string {
	var b strings.Builder

	if vehicle != (domain.Vehicle{}) {
		b.WriteString("Información del vehículo:\n")
		if vehicle.Year > 0 {
			b.WriteString("- Año: " + strconv.Itoa(vehicle.Year) + "\n")
		}
		if vehicle.Make != "" {
			b.WriteString("- Marca: " + vehicle.Make + "\n")
		}
		if vehicle.Model != "" {
			b.WriteString("- Modelo: " + vehicle.Model + "\n")
		}
		if vehicle.Engine != "" {
			b.WriteString("- Motor: " + vehicle.Engine + "\n")
		}
		b.WriteString("\n")
	}

	if len(obdCodes) > 0 {
		b.WriteString("Códigos OBD detectados: " + strings.Join(obdCodes, ", ") + "\n\n")
	}

	if len(symptoms) > 0 {
		b.WriteString("Síntomas reportados:\n")
		for i, s := range symptoms {
			b.WriteString(strconv.Itoa(i+1) + ". " + s + "\n")
		}
		b.WriteString("\n")
	}

	if additionalInfo != "" {
		b.WriteString("Información adicional: " + additionalInfo + "\n\n")
	}

	b.WriteString("Por favor, proporciona un diagnóstico detallado basado en esta información.")
	return b.String()
}
