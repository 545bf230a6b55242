package catalog

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/autologic-mx/obi2/engine/domain"
	"github.com/autologic-mx/obi2/engine/parts"
	"github.com/autologic-mx/obi2/pkg/fn"
)

var nonWordRe = regexp.MustCompile(`[^\w\s]`)
var spacesRe = regexp.MustCompile(`\s+`)

// normalizeQuery prepares free text for storefront search: lowercase,
// accents stripped, punctuation collapsed to single spaces.
func normalizeQuery(text string) string {
	t := parts.Normalize(text)
	t = nonWordRe.ReplaceAllString(t, " ")
	t = spacesRe.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// partSynonyms maps a normalized part term to the alternate names and
// translations sellers use in product titles.
var partSynonyms = map[string][]string{
	"sensor maf":          {"medidor flujo aire", "sensor flujo masa aire", "mass air flow", "maf"},
	"sensor map":          {"sensor presion multiple", "manifold absolute pressure", "map"},
	"sensor oxigeno":      {"sonda lambda", "o2 sensor", "sensor lambda"},
	"sensor tps":          {"sensor posicion acelerador", "throttle position sensor"},
	"sensor ckp":          {"sensor posicion ciguenal", "crankshaft position sensor"},
	"sensor cmp":          {"sensor posicion arbol levas", "camshaft position sensor"},
	"balatas":             {"pastillas freno", "brake pads"},
	"discos freno":        {"rotores freno", "brake discs", "brake rotors"},
	"tambor freno":        {"drum brake"},
	"caliper":             {"mordaza freno", "pinza freno"},
	"amortiguador":        {"shock absorber", "strut"},
	"resorte":             {"spring", "muelle"},
	"rotula":              {"ball joint"},
	"buje":                {"bushing", "silent block"},
	"terminal direccion":  {"tie rod end"},
	"bujia":               {"spark plug"},
	"bomba agua":          {"water pump"},
	"bomba aceite":        {"oil pump"},
	"termostato":          {"thermostat"},
	"radiador":            {"radiator"},
	"alternador":          {"alternator", "generator"},
	"arrancador":          {"marcha", "starter", "motor arranque"},
	"valvula egr":         {"egr valve"},
	"correa distribucion": {"timing belt", "banda tiempo"},
	"cadena distribucion": {"timing chain", "cadena tiempo"},
	"embrague":            {"clutch"},
	"volante motor":       {"flywheel"},
	"caja cambios":        {"transmission", "transmision"},
	"diferencial":         {"differential"},
	"bateria":             {"battery", "acumulador"},
	"faro":                {"headlight", "headlamp"},
	"bombilla":            {"bulb", "foco"},
	"filtro aceite":       {"oil filter"},
	"filtro aire":         {"air filter"},
	"filtro combustible":  {"fuel filter", "filtro gasolina"},
	"filtro habitaculo":   {"cabin filter", "filtro polen"},
}

// synonymsFor returns alternate search terms for a normalized part name,
// excluding terms the query already contains.
func synonymsFor(part string) []string {
	for key, syns := range partSynonyms {
		matches := strings.Contains(part, key)
		if !matches {
			for _, s := range syns {
				if strings.Contains(part, s) {
					matches = true
					break
				}
			}
		}
		if !matches {
			continue
		}
		all := append([]string{key}, syns...)
		return fn.Filter(all, func(s string) bool {
			return !strings.Contains(part, s)
		})
	}
	return nil
}

// SearchParts finds products for one part category and vehicle. It layers
// three strategies: the full combined query, synonym queries when the
// first returns fewer than two hits, and partial combinations when
// nothing matched at all.
func (c *Client) SearchParts(ctx context.Context, category string, vehicle domain.Vehicle) ([]domain.Product, error) {
	part := normalizeQuery(category)
	if part == "" {
		return nil, domain.NewValidationError("category", category, domain.ErrEmptySymptom)
	}
	brand := normalizeQuery(vehicle.Make)
	model := normalizeQuery(vehicle.Model)

	query := part
	if brand != "" {
		query += " " + brand
	}
	if model != "" {
		query += " " + model
	}
	if vehicle.Year > 0 {
		query += " " + strconv.Itoa(vehicle.Year)
	}
	c.log.Debug("storefront strategy 1", "query", query)

	results, err := c.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	if len(results) < 2 {
		if syns := synonymsFor(part); len(syns) > 0 {
			queries := fn.Map(syns, func(s string) string {
				q := s
				if brand != "" {
					q += " " + brand
				}
				if model != "" {
					q += " " + model
				}
				if vehicle.Year > 0 {
					q += " " + strconv.Itoa(vehicle.Year)
				}
				return q
			})
			results = c.mergeSearches(ctx, results, queries)
		}
	}

	if len(results) == 0 {
		var combos []string
		if brand != "" {
			combos = append(combos, part+" "+brand)
		}
		if model != "" {
			combos = append(combos, part+" "+model)
		}
		combos = append(combos, part)
		results = c.mergeSearches(ctx, nil, combos)
	}

	if brand != "" && model != "" {
		results = filterRelevant(results, brand, model)
	}
	rankByRelevance(results, part, brand, model, vehicle.Year)
	return results, nil
}

// mergeSearches runs the queries concurrently and merges their hits into
// seed, deduplicating by product ID. Individual query failures only cost
// their own results.
func (c *Client) mergeSearches(ctx context.Context, seed []domain.Product, queries []string) []domain.Product {
	settled := fn.SettleMap(ctx, queries, len(queries), func(ctx context.Context, q string) fn.Result[[]domain.Product] {
		c.log.Debug("storefront fallback query", "query", q)
		return fn.FromPair(c.Search(ctx, q))
	})

	merged := seed
	for _, q := range queries {
		found, err := settled[q].Unwrap()
		if err != nil {
			c.log.Warn("storefront fallback query failed", "query", q, "error", err)
			continue
		}
		merged = append(merged, found...)
	}
	return fn.UniqueBy(merged, func(p domain.Product) string { return p.ID })
}

// carMakes are vehicle brands used to spot products meant for a
// different car. aftermarketBrands are parts manufacturers whose names
// are not evidence of incompatibility.
var carMakes = []string{
	"nissan", "toyota", "honda", "ford", "chevrolet", "volkswagen", "vw",
	"mazda", "kia", "hyundai", "bmw", "mercedes", "audi", "seat", "renault",
	"dodge", "jeep", "chrysler", "fiat", "mitsubishi", "subaru", "suzuki",
	"lexus", "acura", "infiniti",
}

var aftermarketBrands = []string{
	"bosch", "denso", "valeo", "gates", "ngk", "febi", "sachs", "brembo",
	"monroe", "kyb", "delphi", "mahle", "gabriel", "moog", "ac delco", "acdelco",
}

// filterRelevant drops products whose titles name a different car make
// without any sign of fitting ours.
func filterRelevant(products []domain.Product, brand, model string) []domain.Product {
	return fn.Filter(products, func(p domain.Product) bool {
		title := normalizeQuery(p.Title)
		desc := normalizeQuery(p.Description)

		if strings.Contains(title, brand) || strings.Contains(title, model) ||
			strings.Contains(desc, brand) || strings.Contains(desc, model) {
			return true
		}

		for _, other := range carMakes {
			if other == brand || !strings.Contains(title, other) {
				continue
			}
			// Another make in the title usually means a part for a
			// different car, unless it is really an aftermarket brand
			// name or an explicitly universal part.
			aftermarket := false
			for _, am := range aftermarketBrands {
				if strings.Contains(title, am) {
					aftermarket = true
					break
				}
			}
			if aftermarket {
				continue
			}
			if strings.Contains(title, "universal") ||
				strings.Contains(title, "multiple") ||
				strings.Contains(title, "multiples marcas") ||
				strings.Contains(title, "compatible con") {
				return true
			}
			return false
		}
		return true
	})
}

// rankByRelevance sorts products so the ones naming our exact vehicle
// come first.
func rankByRelevance(products []domain.Product, part, brand, model string, year int) {
	score := func(p domain.Product) int {
		title := normalizeQuery(p.Title)
		desc := normalizeQuery(p.Description)
		s := 0

		if brand != "" && model != "" {
			full := brand + " " + model
			if strings.Contains(title, full) {
				s += 50
			}
			if year > 0 && strings.Contains(title, full+" "+strconv.Itoa(year)) {
				s += 70
			}
			if strings.Contains(desc, full) {
				s += 25
			}
		}
		if strings.Contains(title, part) {
			s += 20
		}
		if brand != "" && strings.Contains(title, brand) {
			s += 15
		}
		if model != "" && strings.Contains(title, model) {
			s += 15
		}
		if year > 0 && strings.Contains(title, strconv.Itoa(year)) {
			s += 10
		}
		if brand != "" && model != "" {
			for _, other := range carMakes {
				if other != brand && strings.Contains(title, other) {
					s -= 40
				}
			}
		}
		if strings.Contains(desc, part) {
			s += 5
		}
		if brand != "" && strings.Contains(desc, brand) {
			s += 3
		}
		if model != "" && strings.Contains(desc, model) {
			s += 3
		}
		if p.Image != "" {
			s += 3
		}
		if price, err := strconv.ParseFloat(p.Price, 64); err == nil && price > 0 {
			s += 4
		}
		return s
	}

	sort.SliceStable(products, func(i, j int) bool {
		return score(products[i]) > score(products[j])
	})
}
