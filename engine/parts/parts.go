// Package parts extracts recommended part categories from diagnosis text.
// Matching runs over a fixed catalog of part names so downstream catalog
// search always works with known, spellable queries.
package parts

import (
	"regexp"
	"strings"
)

// Catalog is the fixed set of part categories, in scan priority order.
var Catalog = []string{
	"filtro de aire", "filtro de aceite", "filtro de combustible", "filtro de habitáculo",
	"bujía", "cable de bujía", "bobina de encendido",
	"sensor de oxígeno", "sensor MAF", "sensor MAP", "sensor de posición del cigüeñal", "sensor de temperatura",
	"bomba de combustible", "inyector de combustible", "regulador de presión",
	"alternador", "motor de arranque", "batería", "cable de batería",
	"pastilla de freno", "disco de freno", "calibrador de freno", "líquido de frenos",
	"amortiguador", "resorte", "barra estabilizadora",
	"correa de distribución", "correa serpentina", "tensor de correa",
	"termostato", "radiador", "bomba de agua", "manguera de radiador",
	"embrague", "volante motor", "caja de cambios", "aceite de transmisión",
	"junta de culata", "empaque", "sello", "anillo de pistón",
	"catalizador", "silenciador", "tubo de escape", "sensor EGR",
	"aceite de motor", "líquido refrigerante", "líquido de dirección", "líquido limpiaparabrisas",
}

// Section headers the provider uses when it lists parts explicitly. The
// patterns run against normalized (lowercased, accent-stripped) text and
// capture until a blank line or the end of the block. The `\n[A-Z]`
// alternative can never match on lowercased input and is kept inert on
// purpose: upstream behavior is that capture runs through capitalized
// lines to the next blank line, and sections are delimited accordingly.
var sectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)piezas\s+recomendadas[:\s]+(.*?)(?:\n\n|\n[A-Z]|$)`),
	regexp.MustCompile(`(?s)componentes\s+a\s+reemplazar[:\s]+(.*?)(?:\n\n|\n[A-Z]|$)`),
	regexp.MustCompile(`(?s)se\s+recomienda\s+reemplazar[:\s]+(.*?)(?:\n\n|\n[A-Z]|$)`),
	regexp.MustCompile(`(?s)necesitaras[:\s]+(.*?)(?:\n\n|\n[A-Z]|$)`),
}

var foldReplacer = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u",
	"ü", "u", "ñ", "n",
	"à", "a", "è", "e", "ì", "i", "ò", "o", "ù", "u",
)

// Normalize lowercases text and strips the Spanish diacritics, so that
// "Bujías" and "bujias" compare equal.
func Normalize(text string) string {
	return foldReplacer.Replace(strings.ToLower(text))
}

// Extract returns the part categories mentioned in the diagnosis, in
// catalog order, deduplicated. If an explicit parts section is present
// and names at least one known category, only that section counts.
func Extract(diagnosis string) []string {
	normalized := Normalize(diagnosis)

	for _, pat := range sectionPatterns {
		m := pat.FindStringSubmatch(normalized)
		if m == nil {
			continue
		}
		if found := scanCatalog(m[1]); len(found) > 0 {
			return found
		}
	}
	return scanCatalog(normalized)
}

// scanCatalog walks the catalog in order and keeps every category whose
// normalized form appears in the text.
func scanCatalog(normalized string) []string {
	var found []string
	for _, part := range Catalog {
		if strings.Contains(normalized, Normalize(part)) {
			found = append(found, part)
		}
	}
	return found
}
