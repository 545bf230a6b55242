// Package domain defines the core types and validation for the OBi-2
// diagnostic pipeline. It acts as the validation gate at pipeline entry points.
package domain

import "time"

// Vehicle is the vehicle context for a diagnostic session. Fields fill in
// across conversation turns and are merged non-destructively: a later message
// naming only the make never erases a previously detected model or year.
type Vehicle struct {
	Make         string `json:"make"`
	Model        string `json:"model"`
	Year         int    `json:"year"`
	Engine       string `json:"engine,omitempty"`
	Transmission string `json:"transmission,omitempty"`
}

// Complete reports whether enough vehicle info is known to diagnose.
func (v Vehicle) Complete() bool {
	return v.Make != "" && v.Model != "" && v.Year != 0
}

// Merge fills empty fields of v from other. Existing fields win.
func (v Vehicle) Merge(other Vehicle) Vehicle {
	if v.Make == "" {
		v.Make = other.Make
	}
	if v.Model == "" {
		v.Model = other.Model
	}
	if v.Year == 0 {
		v.Year = other.Year
	}
	if v.Engine == "" {
		v.Engine = other.Engine
	}
	if v.Transmission == "" {
		v.Transmission = other.Transmission
	}
	return v
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of the diagnostic conversation. Messages are
// append-only; corrections are new messages, never edits.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Severity is the normalized urgency of a diagnosed issue.
type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// UserLevel is the user's self-reported technical proficiency.
type UserLevel string

const (
	LevelNovice       UserLevel = "novato"
	LevelIntermediate UserLevel = "intermedio"
	LevelExpert       UserLevel = "experto"
)

// SymptomMatch is the result of a lexicon fast-path lookup. Derived per user
// message, never persisted.
type SymptomMatch struct {
	Keyword   string   `json:"keyword"`
	Diagnosis string   `json:"diagnosis"`
	Parts     []string `json:"parts"`
}

// Product is one catalog match for a recommended part category.
type Product struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Handle      string `json:"handle"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	ImageAlt    string `json:"imageAlt,omitempty"`
	Price       string `json:"price"`
	VariantID   string `json:"variantId,omitempty"`
}
