// Package history persists finished diagnostic sessions to Neo4j. Each save
// merges the user node and attaches a new diagnostic node, so a user's full
// diagnostic trail stays queryable as a graph.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/autologic-mx/obi2/engine/domain"
)

// Record is one saved diagnostic session.
type Record struct {
	ID          string               `json:"id"`
	UserID      string               `json:"userId"`
	Vehicle     domain.Vehicle       `json:"vehicle"`
	OBDCodes    []string             `json:"obdCodes,omitempty"`
	Symptoms    []string             `json:"symptoms,omitempty"`
	Diagnosis   string               `json:"diagnosis,omitempty"`
	Severity    domain.Severity      `json:"severity,omitempty"`
	Parts       []string             `json:"parts,omitempty"`
	ChatHistory []domain.ChatMessage `json:"chatHistory,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
}

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// Store is a Neo4j-backed diagnostic record store.
type Store struct {
	driver     neo4j.DriverWithContext
	newSession func(ctx context.Context) runner // for testing
	now        func() time.Time
}

// NewStore creates a Store on top of an existing driver.
func NewStore(driver neo4j.DriverWithContext) *Store {
	return &Store{driver: driver, now: time.Now}
}

// sessionAdapter adapts neo4j.SessionWithContext to the runner interface.
type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (s *Store) session(ctx context.Context) runner {
	if s.newSession != nil {
		return s.newSession(ctx)
	}
	return &sessionAdapter{sess: s.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

const saveCypher = `
MERGE (u:User {id: $userId})
CREATE (d:Diagnostic $props)
CREATE (u)-[:HAS_DIAGNOSTIC]->(d)
RETURN d.id AS id`

// Save stores a diagnostic record and returns its generated id.
func (s *Store) Save(ctx context.Context, rec Record) (string, error) {
	if rec.UserID == "" {
		return "", fmt.Errorf("history: save: missing user id")
	}

	sess := s.session(ctx)
	defer sess.Close(ctx)

	rec.ID = uuid.NewString()
	rec.CreatedAt = s.now().UTC()

	chat, err := json.Marshal(rec.ChatHistory)
	if err != nil {
		return "", fmt.Errorf("history: marshal chat: %w", err)
	}

	props := map[string]any{
		"id":          rec.ID,
		"make":        rec.Vehicle.Make,
		"model":       rec.Vehicle.Model,
		"year":        rec.Vehicle.Year,
		"engine":      rec.Vehicle.Engine,
		"obdCodes":    rec.OBDCodes,
		"symptoms":    rec.Symptoms,
		"diagnosis":   rec.Diagnosis,
		"severity":    string(rec.Severity),
		"parts":       rec.Parts,
		"chatHistory": string(chat),
		"createdAt":   rec.CreatedAt.Format(time.RFC3339),
	}

	res, err := sess.Run(ctx, saveCypher, map[string]any{"userId": rec.UserID, "props": props})
	if err != nil {
		return "", fmt.Errorf("history: save: %w", err)
	}
	if !res.Next(ctx) {
		return "", fmt.Errorf("history: save: no row returned")
	}
	return rec.ID, nil
}

const listCypher = `
MATCH (u:User {id: $userId})-[:HAS_DIAGNOSTIC]->(d:Diagnostic)
RETURN d ORDER BY d.createdAt DESC LIMIT $limit`

// ListByUser returns a user's saved diagnostics, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, listCypher, map[string]any{"userId": userID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}

	var records []Record
	for res.Next(ctx) {
		rec, err := fromRecord(res.Record(), userID)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func fromRecord(rec *neo4j.Record, userID string) (Record, error) {
	val, ok := rec.Get("d")
	if !ok {
		return Record{}, fmt.Errorf("history: record missing node")
	}
	props := nodeProps(val)
	if props == nil {
		return Record{}, fmt.Errorf("history: unexpected node type %T", val)
	}

	out := Record{
		ID:     strProp(props, "id"),
		UserID: userID,
		Vehicle: domain.Vehicle{
			Make:   strProp(props, "make"),
			Model:  strProp(props, "model"),
			Year:   intProp(props, "year"),
			Engine: strProp(props, "engine"),
		},
		OBDCodes:  strSliceProp(props, "obdCodes"),
		Symptoms:  strSliceProp(props, "symptoms"),
		Diagnosis: strProp(props, "diagnosis"),
		Severity:  domain.Severity(strProp(props, "severity")),
		Parts:     strSliceProp(props, "parts"),
	}
	if raw := strProp(props, "chatHistory"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &out.ChatHistory); err != nil {
			return Record{}, fmt.Errorf("history: unmarshal chat: %w", err)
		}
	}
	if ts := strProp(props, "createdAt"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			out.CreatedAt = t
		}
	}
	return out, nil
}

// nodeProps accepts either a dbtype.Node or a plain map, for test mocks.
func nodeProps(val any) map[string]any {
	type propsHolder interface {
		GetProperties() map[string]any
	}
	if ph, ok := val.(propsHolder); ok {
		return ph.GetProperties()
	}
	if m, ok := val.(map[string]any); ok {
		return m
	}
	return nil
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func intProp(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func strSliceProp(props map[string]any, key string) []string {
	switch v := props[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
