// Package diagnose coordinates a diagnostic conversation: session state,
// the lexicon fast path, the diagnosis provider slow path, severity and
// parts extraction, and catalog matching.
package diagnose

import (
	"fmt"
	"sync"
	"time"

	"github.com/autologic-mx/obi2/engine/domain"
	"github.com/autologic-mx/obi2/engine/userlevel"
)

// State is the conversation phase of a session.
type State string

const (
	StateIdle                State = "idle"
	StateAwaitingVehicleInfo State = "awaiting_vehicle_info"
	StateReady               State = "ready"
	StateAwaitingResponse    State = "awaiting_response"
	StateResponded           State = "responded"
	StateSaving              State = "saving"
	StateResetting           State = "resetting"
)

// Session is the mutable state of one diagnostic conversation. Only the
// orchestrator mutates it; the mutex serializes turns so an overlapping
// submit is rejected instead of interleaved.
type Session struct {
	mu     sync.Mutex
	inTurn bool

	ID     string
	UserID string

	state     State
	vehicle   domain.Vehicle
	obdCodes  []string
	symptoms  []string
	messages  []domain.ChatMessage
	level     domain.UserLevel
	levelSet  bool
	severity  domain.Severity
	diagnosis string
	parts     []string
	products  map[string][]domain.Product

	seq int
	now func() time.Time
}

// NewSession creates an empty session in the Idle state.
func NewSession(id, userID string) *Session {
	return &Session{
		ID:     id,
		UserID: userID,
		state:  StateIdle,
		level:  userlevel.DefaultLevel,
		now:    time.Now,
	}
}

// beginTurn claims the single-writer slot for a turn.
func (s *Session) beginTurn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inTurn {
		return domain.ErrTurnInFlight
	}
	s.inTurn = true
	return nil
}

func (s *Session) endTurn() {
	s.mu.Lock()
	s.inTurn = false
	s.mu.Unlock()
}

// State returns the current conversation phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Vehicle returns the merged vehicle context.
func (s *Session) Vehicle() domain.Vehicle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vehicle
}

// MergeVehicle fills in newly detected vehicle fields. Existing fields win.
func (s *Session) MergeVehicle(detected domain.Vehicle) {
	s.mu.Lock()
	s.vehicle = s.vehicle.Merge(detected)
	s.mu.Unlock()
}

// Level returns the user's proficiency level and whether it was
// explicitly classified.
func (s *Session) Level() (domain.UserLevel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level, s.levelSet
}

// SetLevel stores a classified proficiency level. Callers classify at
// most once per session; Clear is the only way back to unclassified.
func (s *Session) SetLevel(level domain.UserLevel) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed = !s.levelSet || s.level != level
	s.level = level
	s.levelSet = true
	return changed
}

// AddOBDCode validates and stores a trouble code. Invalid or duplicate
// codes are rejected without mutating the set.
func (s *Session) AddOBDCode(code string) error {
	canonical, err := domain.ValidateOBDCode(code)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.obdCodes {
		if existing == canonical {
			return domain.NewValidationError("obdCode", canonical, domain.ErrDuplicateOBDCode)
		}
	}
	s.obdCodes = append(s.obdCodes, canonical)
	return nil
}

// OBDCodes returns a copy of the stored trouble codes.
func (s *Session) OBDCodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.obdCodes))
	copy(out, s.obdCodes)
	return out
}

func (s *Session) addSymptom(symptom string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.symptoms {
		if existing == symptom {
			return
		}
	}
	s.symptoms = append(s.symptoms, symptom)
}

// Symptoms returns a copy of the reported symptoms.
func (s *Session) Symptoms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.symptoms))
	copy(out, s.symptoms)
	return out
}

// Messages returns a copy of the chat history.
func (s *Session) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// append adds a message to the history. Messages are append-only; ids are
// unique within the session.
func (s *Session) append(role domain.Role, content string) domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	msg := domain.ChatMessage{
		ID:        fmt.Sprintf("%s-%d", s.ID, s.seq),
		Role:      role,
		Content:   content,
		Timestamp: s.now().UTC(),
	}
	s.messages = append(s.messages, msg)
	return msg
}

func (s *Session) setDiagnosis(text string, sev domain.Severity, parts []string) {
	s.mu.Lock()
	s.diagnosis = text
	s.severity = sev
	s.parts = parts
	s.mu.Unlock()
}

// setProducts replaces the product map wholesale. Categories no longer
// recommended drop out instead of lingering from earlier turns.
func (s *Session) setProducts(products map[string][]domain.Product) {
	s.mu.Lock()
	s.products = products
	s.mu.Unlock()
}

// Result is the payload surfaced to the presentation layer after a turn.
type Result struct {
	Messages  []domain.ChatMessage        `json:"messages"`
	Severity  domain.Severity             `json:"severity"`
	Diagnosis string                      `json:"diagnosis,omitempty"`
	Parts     []string                    `json:"parts,omitempty"`
	Products  map[string][]domain.Product `json:"products,omitempty"`
}

// Snapshot captures the session for persistence or API responses.
func (s *Session) Snapshot() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Result{
		Messages:  make([]domain.ChatMessage, len(s.messages)),
		Severity:  s.severity,
		Diagnosis: s.diagnosis,
		Parts:     append([]string(nil), s.parts...),
		Products:  s.products,
	}
	copy(out.Messages, s.messages)
	return out
}

// Clear resets the session to empty for a new diagnostic, keeping only
// the session id and user id. The proficiency level is cleared too so
// the next conversation can classify afresh.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	s.level = userlevel.DefaultLevel
	s.levelSet = false
	s.vehicle = domain.Vehicle{}
	s.obdCodes = nil
	s.symptoms = nil
	s.messages = nil
	s.severity = domain.SeverityNone
	s.diagnosis = ""
	s.parts = nil
	s.products = nil
}
