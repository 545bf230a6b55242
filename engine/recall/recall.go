package recall

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/autologic-mx/obi2/engine/domain"
)

const (
	lookupTimeout = 5 * time.Second
	defaultTopK   = 3
)

type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type caseStore interface {
	Save(ctx context.Context, c Case) error
	Search(ctx context.Context, embedding []float32, topK int, userID string) ([]Match, error)
}

// Recaller ties the embedder and the vector store together.
type Recaller struct {
	embed embedder
	store caseStore
	log   *slog.Logger
}

// NewRecaller creates a Recaller.
func NewRecaller(e *Embedder, s *Store, log *slog.Logger) *Recaller {
	return &Recaller{embed: e, store: s, log: log}
}

// Remember stores a finished diagnostic for later similarity lookups.
// Failures are logged and swallowed.
func (r *Recaller) Remember(ctx context.Context, userID string, vehicle domain.Vehicle, symptoms, diagnosis, severity string) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	vec, err := r.embed.Embed(ctx, symptoms)
	if err != nil {
		r.log.Warn("recall: embed failed, case not stored", "error", err)
		return
	}

	c := Case{
		ID:        uuid.NewString(),
		UserID:    userID,
		Vehicle:   vehicleLabel(vehicle),
		Symptoms:  symptoms,
		Diagnosis: diagnosis,
		Severity:  severity,
		Embedding: vec,
	}
	if err := r.store.Save(ctx, c); err != nil {
		r.log.Warn("recall: save failed", "error", err)
	}
}

// Similar returns past cases close to the given complaint. Failures are
// logged and an empty slice is returned.
func (r *Recaller) Similar(ctx context.Context, symptoms string) []Match {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	vec, err := r.embed.Embed(ctx, symptoms)
	if err != nil {
		r.log.Warn("recall: embed failed, skipping lookup", "error", err)
		return nil
	}

	matches, err := r.store.Search(ctx, vec, defaultTopK, "")
	if err != nil {
		r.log.Warn("recall: search failed", "error", err)
		return nil
	}
	return matches
}

func vehicleLabel(v domain.Vehicle) string {
	if v.Year > 0 {
		return fmt.Sprintf("%s %s %d", v.Make, v.Model, v.Year)
	}
	return fmt.Sprintf("%s %s", v.Make, v.Model)
}
