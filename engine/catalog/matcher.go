package catalog

import (
	"context"
	"log/slog"

	"github.com/autologic-mx/obi2/engine/domain"
	"github.com/autologic-mx/obi2/pkg/fn"
)

const (
	// MaxCategories bounds how many part categories one turn searches.
	MaxCategories = 3
	// PerCategoryLimit is how many matches each category keeps.
	PerCategoryLimit = 2
)

// Searcher is the part-search surface of the storefront client.
type Searcher interface {
	SearchParts(ctx context.Context, category string, vehicle domain.Vehicle) ([]domain.Product, error)
}

// Matcher fans part-category searches out to the storefront and gathers
// the results per category.
type Matcher struct {
	searcher Searcher
	log      *slog.Logger
}

// NewMatcher creates a matcher over the given searcher.
func NewMatcher(s Searcher, log *slog.Logger) *Matcher {
	if log == nil {
		log = slog.Default()
	}
	return &Matcher{searcher: s, log: log}
}

// MatchAll searches every category concurrently and returns the matches
// keyed by category. Categories beyond MaxCategories are dropped. A
// failed category comes back with no products; one bad search never
// spoils the others.
func (m *Matcher) MatchAll(ctx context.Context, categories []string, vehicle domain.Vehicle) map[string][]domain.Product {
	if len(categories) > MaxCategories {
		categories = categories[:MaxCategories]
	}
	if len(categories) == 0 {
		return map[string][]domain.Product{}
	}

	settled := fn.SettleMap(ctx, categories, len(categories), func(ctx context.Context, cat string) fn.Result[[]domain.Product] {
		return fn.FromPair(m.searcher.SearchParts(ctx, cat, vehicle))
	})

	out := make(map[string][]domain.Product, len(categories))
	for cat, r := range settled {
		products, err := r.Unwrap()
		if err != nil {
			m.log.Warn("catalog search failed for category", "category", cat, "error", err)
			out[cat] = nil
			continue
		}
		if len(products) > PerCategoryLimit {
			products = products[:PerCategoryLimit]
		}
		out[cat] = products
	}
	return out
}
