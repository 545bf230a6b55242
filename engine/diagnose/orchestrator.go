package diagnose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/autologic-mx/obi2/engine/catalog"
	"github.com/autologic-mx/obi2/engine/domain"
	"github.com/autologic-mx/obi2/engine/history"
	"github.com/autologic-mx/obi2/engine/lexicon"
	"github.com/autologic-mx/obi2/engine/parts"
	"github.com/autologic-mx/obi2/engine/provider"
	"github.com/autologic-mx/obi2/engine/recall"
	"github.com/autologic-mx/obi2/engine/severity"
	"github.com/autologic-mx/obi2/engine/userlevel"
	"github.com/autologic-mx/obi2/pkg/metrics"
	"github.com/autologic-mx/obi2/pkg/resilience"
	"github.com/autologic-mx/obi2/pkg/vehiclenlp"
)

// Analyzer is the diagnosis text provider.
type Analyzer interface {
	Analyze(ctx context.Context, intake provider.Intake, hist []domain.ChatMessage) (provider.AnalyzeResponse, error)
}

// PartsMatcher looks up catalog products per part category.
type PartsMatcher interface {
	MatchAll(ctx context.Context, categories []string, vehicle domain.Vehicle) map[string][]domain.Product
}

// CartLinker builds a prefilled cart URL for matched products.
type CartLinker interface {
	CartLink(items ...catalog.CartItem) string
}

// CaseMemory recalls similar past cases and remembers finished ones.
type CaseMemory interface {
	Similar(ctx context.Context, symptoms string) []recall.Match
	Remember(ctx context.Context, userID string, vehicle domain.Vehicle, symptoms, diagnosis, sev string)
}

// Recorder persists diagnostic sessions.
type Recorder interface {
	Save(ctx context.Context, rec history.Record) (string, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]history.Record, error)
}

// Config wires an Orchestrator. Provider and Adapter are required;
// everything else degrades gracefully when absent.
type Config struct {
	Provider Analyzer
	Matcher  PartsMatcher
	Cart     CartLinker
	Memory   CaseMemory
	Store    Recorder
	Events   EventPublisher
	Metrics  *metrics.Registry
	Log      *slog.Logger
}

// Orchestrator runs diagnostic conversations.
type Orchestrator struct {
	provider Analyzer
	matcher  PartsMatcher
	cart     CartLinker
	memory   CaseMemory
	store    Recorder
	adapter  *userlevel.Adapter
	events   EventPublisher
	log      *slog.Logger

	turns       *metrics.Counter
	lexiconHits *metrics.Counter
	providerOK  *metrics.Counter
	providerErr *metrics.Counter
	turnSeconds *metrics.Histogram
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Events == nil {
		cfg.Events = NopPublisher{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Orchestrator{
		provider:    cfg.Provider,
		matcher:     cfg.Matcher,
		cart:        cfg.Cart,
		memory:      cfg.Memory,
		store:       cfg.Store,
		adapter:     userlevel.NewAdapter(userlevel.DefaultGlossary()),
		events:      cfg.Events,
		log:         cfg.Log,
		turns:       cfg.Metrics.Counter("obi2_chat_turns_total", "Chat turns processed."),
		lexiconHits: cfg.Metrics.Counter("obi2_lexicon_hits_total", "Turns answered by the symptom lexicon fast path."),
		providerOK:  cfg.Metrics.Counter(metrics.WithLabels("obi2_provider_calls_total", "outcome", "ok"), "Diagnosis provider calls by outcome."),
		providerErr: cfg.Metrics.Counter(metrics.WithLabels("obi2_provider_calls_total", "outcome", "error"), "Diagnosis provider calls by outcome."),
		turnSeconds: cfg.Metrics.Histogram("obi2_turn_seconds", "Turn latency.", nil),
	}
}

// Greet emits the welcome message on a fresh session.
func (o *Orchestrator) Greet(s *Session) domain.ChatMessage {
	msg := s.append(domain.RoleAssistant, welcomeMessage)
	s.setState(StateAwaitingVehicleInfo)
	return msg
}

// Turn processes one user message and returns everything appended during
// the turn. Collaborator failures surface as fixed assistant messages,
// never as an error; the only errors are invalid input and an
// overlapping turn.
func (o *Orchestrator) Turn(ctx context.Context, s *Session, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, domain.NewValidationError("message", "", domain.ErrEmptyMessage)
	}
	if err := s.beginTurn(); err != nil {
		return Result{}, err
	}
	defer s.endTurn()

	start := time.Now()
	defer func() {
		o.turnSeconds.Since(start)
		o.turns.Inc()
	}()

	var replies []domain.ChatMessage
	s.append(domain.RoleUser, text)

	// Proficiency is classified once. An established level survives
	// later messages that happen to carry cue words; only an explicit
	// reset clears it.
	if _, established := s.Level(); !established {
		if level, ok := userlevel.Classify(text); ok && s.SetLevel(level) {
			replies = append(replies, s.append(domain.RoleAssistant, userlevel.Notice(level)))
		}
	}

	// Situation buttons send their code verbatim; answer them from the
	// canned quick replies without involving the provider.
	level, _ := s.Level()
	if reply, ok := lexicon.QuickReply(text, level); ok {
		return o.quickReply(ctx, s, level, reply, replies), nil
	}

	s.MergeVehicle(vehiclenlp.Extract(text))
	if s.State() == StateIdle {
		s.setState(StateAwaitingVehicleInfo)
	}
	if !s.Vehicle().Complete() {
		replies = append(replies, s.append(domain.RoleAssistant, askVehicleMessage))
		return o.result(s, replies), nil
	}

	gathering := s.State() == StateAwaitingVehicleInfo
	s.setState(StateReady)

	if match, ok := lexicon.Match(text); ok {
		return o.fastPath(ctx, s, text, match, replies), nil
	}
	if gathering {
		// The message that completed the vehicle info carries no
		// complaint yet; confirm and ask for one instead of sending
		// vehicle data alone to the provider.
		replies = append(replies, s.append(domain.RoleAssistant, vehicleReadyMessage(s.Vehicle())))
		return o.result(s, replies), nil
	}
	return o.slowPath(ctx, s, text, replies), nil
}

// isConnectionError reports whether a provider failure was a transport
// problem rather than a bad answer. The user is then told to check the
// connection instead of simply retrying the request.
func isConnectionError(err error) bool {
	var urlErr *url.Error
	return errors.Is(err, resilience.ErrCircuitOpen) || errors.As(err, &urlErr)
}

// quickReply answers a situation button tap with its canned text, framed
// for the user's level.
func (o *Orchestrator) quickReply(ctx context.Context, s *Session, level domain.UserLevel, reply string, replies []domain.ChatMessage) Result {
	o.lexiconHits.Inc()
	if s.State() == StateIdle {
		s.setState(StateAwaitingVehicleInfo)
	}
	replies = append(replies, s.append(domain.RoleAssistant, userlevel.FrameQuickReply(level, reply)))
	o.events.Publish(ctx, Event{SessionID: s.ID, UserID: s.UserID, Kind: EventTurn, FastPath: true})
	return o.result(s, replies)
}

// fastPath answers from the lexicon without calling the provider, then
// follows up with catalog matches.
func (o *Orchestrator) fastPath(ctx context.Context, s *Session, text string, match domain.SymptomMatch, replies []domain.ChatMessage) Result {
	o.lexiconHits.Inc()
	s.addSymptom(text)
	replies = append(replies, s.append(domain.RoleAssistant, fastPathMessage(match)))

	s.setState(StateAwaitingResponse)
	replies = append(replies, o.catalogFollowUp(ctx, s, match.Parts))
	s.setDiagnosis(match.Diagnosis, severity.Classify(match.Diagnosis, ""), match.Parts)
	s.setState(StateResponded)
	s.setState(StateReady)

	o.events.Publish(ctx, Event{SessionID: s.ID, UserID: s.UserID, Kind: EventTurn, FastPath: true})
	return o.result(s, replies)
}

// slowPath defers to the diagnosis provider, then runs severity and
// parts extraction over its answer.
func (o *Orchestrator) slowPath(ctx context.Context, s *Session, text string, replies []domain.ChatMessage) Result {
	s.setState(StateAwaitingResponse)

	intake := provider.Intake{
		Vehicle:        s.Vehicle(),
		OBDCodes:       s.OBDCodes(),
		Symptoms:       s.Symptoms(),
		AdditionalInfo: o.similarCasesNote(ctx, text),
	}
	resp, err := o.provider.Analyze(ctx, intake, s.Messages())
	if err != nil {
		o.providerErr.Inc()
		o.log.Error("diagnosis provider failed", "session", s.ID, "error", err)
		msg := errorMessage
		if isConnectionError(err) {
			msg = connectionErrorMessage
		}
		replies = append(replies, s.append(domain.RoleAssistant, msg))
		s.setState(StateReady)
		return o.result(s, replies)
	}
	o.providerOK.Inc()

	level, _ := s.Level()
	sev := severity.Classify(resp.Diagnosis, resp.Severity)
	extracted := parts.Extract(resp.Diagnosis)

	replies = append(replies, s.append(domain.RoleAssistant, o.adapter.Rewrite(level, resp.Diagnosis)))
	if len(extracted) > 0 {
		replies = append(replies, s.append(domain.RoleAssistant, partsMessage(level, extracted)))
		replies = append(replies, o.catalogFollowUp(ctx, s, extracted))
	}
	s.setDiagnosis(resp.Diagnosis, sev, extracted)
	s.setState(StateResponded)
	s.setState(StateReady)

	if o.memory != nil {
		o.memory.Remember(ctx, s.UserID, s.Vehicle(), text, resp.Diagnosis, string(sev))
	}
	o.events.Publish(ctx, Event{SessionID: s.ID, UserID: s.UserID, Kind: EventTurn, Severity: string(sev)})
	return o.result(s, replies)
}

// catalogFollowUp searches the catalog for the recommended categories and
// appends the matching follow-up message. Catalog trouble never fails the
// turn; it only changes which message lands.
func (o *Orchestrator) catalogFollowUp(ctx context.Context, s *Session, categories []string) domain.ChatMessage {
	vehicle := s.Vehicle()
	if o.matcher == nil {
		s.setProducts(nil)
		return s.append(domain.RoleAssistant, degradedMessage(vehicle))
	}

	products := o.matcher.MatchAll(ctx, categories, vehicle)
	s.setProducts(products)
	if !hasAnyProduct(products) {
		return s.append(domain.RoleAssistant, noMatchesMessage(vehicle))
	}
	return s.append(domain.RoleAssistant, productsMessage(products, categories, o.cartLink(products, categories)))
}

// cartLink builds a prefilled cart with the first purchasable match per
// category.
func (o *Orchestrator) cartLink(products map[string][]domain.Product, order []string) string {
	if o.cart == nil {
		return ""
	}
	var items []catalog.CartItem
	for _, category := range order {
		for _, p := range products[category] {
			if p.VariantID != "" {
				items = append(items, catalog.CartItem{VariantID: p.VariantID, Quantity: 1})
				break
			}
		}
	}
	if len(items) == 0 {
		return ""
	}
	return o.cart.CartLink(items...)
}

// similarCasesNote summarizes recalled past cases as extra provider
// context. Best-effort; an empty note when recall is absent or down.
func (o *Orchestrator) similarCasesNote(ctx context.Context, text string) string {
	if o.memory == nil {
		return ""
	}
	matches := o.memory.Similar(ctx, text)
	if len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Casos similares diagnosticados anteriormente:\n")
	for _, m := range matches {
		fmt.Fprintf(&b, "- %s: %s\n", m.Vehicle, m.Diagnosis)
	}
	return b.String()
}

func (o *Orchestrator) result(s *Session, replies []domain.ChatMessage) Result {
	snap := s.Snapshot()
	snap.Messages = replies
	return snap
}

// Save persists the session and returns the stored record id.
func (o *Orchestrator) Save(ctx context.Context, s *Session) (string, error) {
	if o.store == nil {
		return "", fmt.Errorf("diagnose: no store configured")
	}
	if len(s.Messages()) == 0 {
		return "", domain.ErrEmptySession
	}

	s.setState(StateSaving)
	defer s.setState(StateReady)

	snap := s.Snapshot()
	id, err := o.store.Save(ctx, history.Record{
		UserID:      s.UserID,
		Vehicle:     s.Vehicle(),
		OBDCodes:    s.OBDCodes(),
		Symptoms:    s.Symptoms(),
		Diagnosis:   snap.Diagnosis,
		Severity:    snap.Severity,
		Parts:       snap.Parts,
		ChatHistory: snap.Messages,
	})
	if err != nil {
		return "", err
	}
	o.events.Publish(ctx, Event{SessionID: s.ID, UserID: s.UserID, Kind: EventSaved})
	return id, nil
}

// History lists a user's saved diagnostics, newest first.
func (o *Orchestrator) History(ctx context.Context, userID string, limit int) ([]history.Record, error) {
	if o.store == nil {
		return nil, fmt.Errorf("diagnose: no store configured")
	}
	return o.store.ListByUser(ctx, userID, limit)
}

// Reset clears the session for a new diagnostic.
func (o *Orchestrator) Reset(ctx context.Context, s *Session) {
	s.setState(StateResetting)
	s.Clear()
	o.events.Publish(ctx, Event{SessionID: s.ID, UserID: s.UserID, Kind: EventReset})
}
