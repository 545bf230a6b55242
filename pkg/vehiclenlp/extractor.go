// Package vehiclenlp extracts vehicle make, model, and year from free-form
// chat text. Matching is substring based over a market-specific brand table,
// so it tolerates the loose phrasing of messages like "tengo un vw jetta 2015".
package vehiclenlp

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/autologic-mx/obi2/engine/domain"
)

// brandAlias maps a lowercase token found in text to its display name.
// Order matters: the first alias found in the text wins, so short aliases
// like "vw" come after the full brand names they abbreviate.
type brandAlias struct {
	token string
	name  string
}

var brandAliases = []brandAlias{
	{"toyota", "Toyota"},
	{"honda", "Honda"},
	{"nissan", "Nissan"},
	{"volkswagen", "Volkswagen"},
	{"vw", "Volkswagen"},
	{"ford", "Ford"},
	{"chevrolet", "Chevrolet"},
	{"chevy", "Chevrolet"},
	{"bmw", "BMW"},
	{"mercedes", "Mercedes"},
	{"audi", "Audi"},
	{"mazda", "Mazda"},
	{"hyundai", "Hyundai"},
	{"kia", "Kia"},
	{"subaru", "Subaru"},
	{"jeep", "Jeep"},
	{"dodge", "Dodge"},
	{"chrysler", "Chrysler"},
	{"fiat", "Fiat"},
	{"renault", "Renault"},
	{"peugeot", "Peugeot"},
	{"seat", "Seat"},
	{"mitsubishi", "Mitsubishi"},
	{"suzuki", "Suzuki"},
	{"volvo", "Volvo"},
	{"tesla", "Tesla"},
	{"lexus", "Lexus"},
	{"acura", "Acura"},
	{"infiniti", "Infiniti"},
	{"cadillac", "Cadillac"},
	{"buick", "Buick"},
	{"gmc", "GMC"},
	{"ram", "Ram"},
	{"lincoln", "Lincoln"},
	{"jaguar", "Jaguar"},
	{"land rover", "Land Rover"},
	{"porsche", "Porsche"},
}

// brandModels lists known models per brand, lowercase, for the brands most
// common in the Mexican market. Models of other brands are not recognized;
// the diagnosis flow works with make and year alone.
var brandModels = map[string][]string{
	"Toyota":     {"corolla", "camry", "rav4", "highlander", "tacoma", "tundra", "yaris", "prius", "sienna", "sequoia"},
	"Honda":      {"civic", "accord", "cr-v", "pilot", "fit", "hr-v", "odyssey", "ridgeline"},
	"Nissan":     {"sentra", "altima", "maxima", "versa", "rogue", "murano", "pathfinder", "frontier", "titan"},
	"Volkswagen": {"jetta", "passat", "golf", "tiguan", "atlas", "beetle", "polo", "taos"},
	"Ford":       {"focus", "fusion", "mustang", "escape", "explorer", "edge", "f-150", "ranger", "expedition"},
	"Chevrolet":  {"cruze", "malibu", "spark", "sonic", "impala", "equinox", "traverse", "tahoe", "suburban", "silverado"},
	"Mazda":      {"mazda3", "mazda6", "cx-3", "cx-5", "cx-9", "mx-5"},
	"Hyundai":    {"accent", "elantra", "sonata", "tucson", "santa fe", "kona", "palisade"},
	"Kia":        {"rio", "forte", "optima", "k5", "sportage", "sorento", "telluride", "soul"},
}

// Model years outside this window are treated as noise (prices, OBD codes,
// mileage figures).
var yearRe = regexp.MustCompile(`\b(199[0-9]|20[0-3][0-9])\b`)

// Extract pulls whatever vehicle facts the text contains. Fields that the
// text does not mention come back empty, so callers can merge the result
// into a session's vehicle with domain.Vehicle.Merge.
func Extract(text string) domain.Vehicle {
	lower := strings.ToLower(text)

	var v domain.Vehicle
	v.Make = findMake(lower)
	if v.Make != "" {
		v.Model = findModel(lower, v.Make)
	}
	v.Year = findYear(lower)
	return v
}

// findMake returns the display name of the first brand alias present in
// the text, or empty if none match.
func findMake(lower string) string {
	for _, a := range brandAliases {
		if strings.Contains(lower, a.token) {
			return a.name
		}
	}
	return ""
}

// findModel scans the brand's model list in order and returns the first
// model mentioned in the text, in display form.
func findModel(lower, make string) string {
	for _, m := range brandModels[make] {
		if strings.Contains(lower, m) {
			return displayModel(m)
		}
	}
	return ""
}

func findYear(lower string) int {
	m := yearRe.FindString(lower)
	if m == "" {
		return 0
	}
	year, _ := strconv.Atoi(m)
	return year
}

// displayModel capitalizes each word of a lowercase model name. Hyphenated
// short names like cr-v and cx-5 are uppercased entirely.
func displayModel(m string) string {
	words := strings.Fields(m)
	for i, w := range words {
		if len(w) <= 4 && strings.ContainsAny(w, "-0123456789") {
			words[i] = strings.ToUpper(w)
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
