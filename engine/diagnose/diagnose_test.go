package diagnose

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/autologic-mx/obi2/engine/catalog"
	"github.com/autologic-mx/obi2/engine/domain"
	"github.com/autologic-mx/obi2/engine/history"
	"github.com/autologic-mx/obi2/engine/lexicon"
	"github.com/autologic-mx/obi2/engine/provider"
	"github.com/autologic-mx/obi2/engine/recall"
	"github.com/autologic-mx/obi2/pkg/resilience"
)

type fakeAnalyzer struct {
	resp    provider.AnalyzeResponse
	err     error
	calls   int
	intakes []provider.Intake
	started chan struct{}
	release chan struct{}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, intake provider.Intake, _ []domain.ChatMessage) (provider.AnalyzeResponse, error) {
	f.calls++
	f.intakes = append(f.intakes, intake)
	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	if f.release != nil {
		<-f.release
	}
	return f.resp, f.err
}

type fakeMatcher struct {
	products   map[string][]domain.Product
	categories []string
}

func (f *fakeMatcher) MatchAll(_ context.Context, categories []string, _ domain.Vehicle) map[string][]domain.Product {
	f.categories = categories
	return f.products
}

type fakeCart struct{ items []catalog.CartItem }

func (f *fakeCart) CartLink(items ...catalog.CartItem) string {
	f.items = items
	return "https://autologic.mx/cart/40123:1"
}

type fakeMemory struct {
	matches    []recall.Match
	remembered []string
}

func (f *fakeMemory) Similar(context.Context, string) []recall.Match { return f.matches }

func (f *fakeMemory) Remember(_ context.Context, _ string, _ domain.Vehicle, _, diagnosis, _ string) {
	f.remembered = append(f.remembered, diagnosis)
}

type fakeStore struct {
	saved   []history.Record
	saveErr error
	records []history.Record
}

func (f *fakeStore) Save(_ context.Context, rec history.Record) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.saved = append(f.saved, rec)
	return "rec-1", nil
}

func (f *fakeStore) ListByUser(context.Context, string, int) ([]history.Record, error) {
	return f.records, nil
}

type captureEvents struct{ events []Event }

func (c *captureEvents) Publish(_ context.Context, e Event) { c.events = append(c.events, e) }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	if cfg.Log == nil {
		cfg.Log = discard()
	}
	return New(cfg)
}

// readySession walks a session to the Ready state with a complete vehicle.
func readySession(t *testing.T, o *Orchestrator) *Session {
	t.Helper()
	s := NewSession("s1", "u1")
	res, err := o.Turn(context.Background(), s, "Tengo un Honda Civic 2018")
	if err != nil {
		t.Fatalf("setup turn: %v", err)
	}
	if s.State() != StateReady {
		t.Fatalf("setup state = %s, want ready (replies: %v)", s.State(), res.Messages)
	}
	return s
}

func TestTurnRejectsEmptyMessage(t *testing.T) {
	o := newOrchestrator(t, Config{Provider: &fakeAnalyzer{}})
	s := NewSession("s1", "u1")
	_, err := o.Turn(context.Background(), s, "   ")
	if !errors.Is(err, domain.ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
	if len(s.Messages()) != 0 {
		t.Fatal("rejected input must not mutate history")
	}
}

func TestGreetAsksForVehicle(t *testing.T) {
	o := newOrchestrator(t, Config{Provider: &fakeAnalyzer{}})
	s := NewSession("s1", "u1")
	msg := o.Greet(s)
	if !strings.Contains(msg.Content, "marca, modelo y año") {
		t.Errorf("welcome = %q", msg.Content)
	}
	if s.State() != StateAwaitingVehicleInfo {
		t.Errorf("state = %s", s.State())
	}
}

func TestVehicleMergeAcrossTurns(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	o := newOrchestrator(t, Config{Provider: analyzer})
	s := NewSession("s1", "u1")
	ctx := context.Background()

	res, err := o.Turn(ctx, s, "Tengo un Honda Civic")
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if s.State() != StateAwaitingVehicleInfo {
		t.Fatalf("state after partial vehicle = %s", s.State())
	}
	if len(res.Messages) != 1 || !strings.Contains(res.Messages[0].Content, "marca, modelo y año") {
		t.Errorf("expected the vehicle prompt, got %v", res.Messages)
	}

	res, err = o.Turn(ctx, s, "es del 2018")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	v := s.Vehicle()
	if v.Make != "Honda" || v.Model != "Civic" || v.Year != 2018 {
		t.Fatalf("vehicle = %+v", v)
	}
	if analyzer.calls != 0 {
		t.Error("vehicle info alone must not reach the provider")
	}
	if len(res.Messages) != 1 || !strings.Contains(res.Messages[0].Content, "Honda Civic 2018") {
		t.Errorf("expected the vehicle confirmation, got %v", res.Messages)
	}
	if s.State() != StateReady {
		t.Errorf("state = %s", s.State())
	}
}

func TestFastPathTirones(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	matcher := &fakeMatcher{products: map[string][]domain.Product{
		"Bujías": {{ID: "1", Title: "NGK Laser Iridium", Handle: "ngk-laser", Price: "189", VariantID: "40123"}},
	}}
	cart := &fakeCart{}
	events := &captureEvents{}
	o := newOrchestrator(t, Config{Provider: analyzer, Matcher: matcher, Cart: cart, Events: events})
	s := readySession(t, o)

	res, err := o.Turn(context.Background(), s, "mi carro tironea mucho al acelerar")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if analyzer.calls != 0 {
		t.Fatal("lexicon hit must short-circuit the provider")
	}

	if len(res.Messages) != 2 {
		t.Fatalf("expected diagnosis + products messages, got %d", len(res.Messages))
	}
	first := res.Messages[0].Content
	if !strings.Contains(first, "Tirones o jalones al acelerar") {
		t.Errorf("diagnosis message = %q", first)
	}
	for _, part := range []string{"Bujías", "Cables de encendido", "Bobinas de encendido", "Filtro de combustible", "Inyectores"} {
		if !strings.Contains(first, "• "+part) {
			t.Errorf("missing part bullet %q", part)
		}
	}

	wantCategories := []string{"Bujías", "Cables de encendido", "Bobinas de encendido", "Filtro de combustible", "Inyectores"}
	if len(matcher.categories) != len(wantCategories) {
		t.Fatalf("matcher categories = %v", matcher.categories)
	}
	for i, c := range wantCategories {
		if matcher.categories[i] != c {
			t.Errorf("category[%d] = %q, want %q", i, matcher.categories[i], c)
		}
	}

	second := res.Messages[1].Content
	if !strings.Contains(second, "[NGK Laser Iridium](https://autologic.mx/products/ngk-laser) - $189") {
		t.Errorf("products message = %q", second)
	}
	if !strings.Contains(second, "https://autologic.mx/cart/40123:1") {
		t.Errorf("cart link missing: %q", second)
	}
	if len(cart.items) != 1 || cart.items[0].VariantID != "40123" {
		t.Errorf("cart items = %v", cart.items)
	}

	if res.Severity != domain.SeverityMedium {
		t.Errorf("severity = %s", res.Severity)
	}
	if len(events.events) == 0 || !events.events[len(events.events)-1].FastPath {
		t.Errorf("expected a fast-path turn event, got %v", events.events)
	}
	if s.State() != StateReady {
		t.Errorf("state = %s", s.State())
	}
}

func TestFastPathZeroMatchesFallback(t *testing.T) {
	matcher := &fakeMatcher{products: map[string][]domain.Product{"Bujías": nil}}
	o := newOrchestrator(t, Config{Provider: &fakeAnalyzer{}, Matcher: matcher})
	s := readySession(t, o)

	res, err := o.Turn(context.Background(), s, "el motor jalonea en frío")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	last := res.Messages[len(res.Messages)-1].Content
	if !strings.Contains(last, "no están disponibles en línea") {
		t.Errorf("fallback = %q", last)
	}
	if !strings.Contains(last, "Honda Civic 2018") {
		t.Errorf("fallback must name the vehicle: %q", last)
	}
	if !strings.Contains(last, "wa.me") {
		t.Errorf("fallback must offer WhatsApp: %q", last)
	}
}

func TestFastPathDegradedWithoutMatcher(t *testing.T) {
	o := newOrchestrator(t, Config{Provider: &fakeAnalyzer{}})
	s := readySession(t, o)

	res, err := o.Turn(context.Background(), s, "sale humo del escape")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	last := res.Messages[len(res.Messages)-1].Content
	if !strings.Contains(last, "visitar nuestra tienda en autologic.mx") {
		t.Errorf("degraded fallback = %q", last)
	}
}

func TestSlowPathSeverityFromText(t *testing.T) {
	analyzer := &fakeAnalyzer{resp: provider.AnalyzeResponse{Diagnosis: "Esto es grave, revisa inmediatamente"}}
	o := newOrchestrator(t, Config{Provider: analyzer})
	s := readySession(t, o)

	res, err := o.Turn(context.Background(), s, "se enciende una luz rara en el tablero")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if analyzer.calls != 1 {
		t.Fatalf("provider calls = %d", analyzer.calls)
	}
	if res.Severity != domain.SeverityHigh {
		t.Errorf("severity = %s, want high", res.Severity)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("messages = %d", len(res.Messages))
	}
	got := res.Messages[0].Content
	if !strings.Contains(got, "Esto es grave, revisa inmediatamente") {
		t.Errorf("reply must carry the diagnosis: %q", got)
	}
	if !strings.Contains(got, "Perfecto, aquí tienes la información que necesitas.") {
		t.Errorf("reply must use the intermediate framing: %q", got)
	}
}

func TestSlowPathExtractsPartsAndMatches(t *testing.T) {
	analyzer := &fakeAnalyzer{resp: provider.AnalyzeResponse{
		Diagnosis: "El sobrecalentamiento proviene del sistema de enfriamiento.\n\nPiezas recomendadas:\n- termostato\n- bomba de agua\n\nRevisa el nivel de refrigerante.",
	}}
	matcher := &fakeMatcher{products: map[string][]domain.Product{
		"termostato": {{ID: "7", Title: "Termostato Gates", Handle: "gates-t", Price: "350"}},
	}}
	o := newOrchestrator(t, Config{Provider: analyzer, Matcher: matcher})
	s := readySession(t, o)

	res, err := o.Turn(context.Background(), s, "la temperatura sube hasta el tope")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if len(res.Parts) == 0 {
		t.Fatal("expected extracted parts")
	}
	if len(matcher.categories) != len(res.Parts) {
		t.Errorf("matcher got %v, parts %v", matcher.categories, res.Parts)
	}
	if len(res.Messages) != 3 {
		t.Fatalf("expected diagnosis + parts + products messages, got %d", len(res.Messages))
	}
	if !strings.Contains(res.Messages[1].Content, "Refacciones recomendadas para resolver tu problema") {
		t.Errorf("parts message = %q", res.Messages[1].Content)
	}
	if !strings.Contains(res.Messages[2].Content, "Termostato Gates") {
		t.Errorf("products message = %q", res.Messages[2].Content)
	}
}

func TestSlowPathIncludesRecalledCases(t *testing.T) {
	analyzer := &fakeAnalyzer{resp: provider.AnalyzeResponse{Diagnosis: "ok"}}
	memory := &fakeMemory{matches: []recall.Match{{Vehicle: "Nissan Versa 2016", Diagnosis: "Fuga de vacío"}}}
	o := newOrchestrator(t, Config{Provider: analyzer, Memory: memory})
	s := readySession(t, o)

	if _, err := o.Turn(context.Background(), s, "marcha mínima inestable"); err != nil {
		t.Fatalf("turn: %v", err)
	}
	info := analyzer.intakes[0].AdditionalInfo
	if !strings.Contains(info, "Fuga de vacío") {
		t.Errorf("additional info = %q", info)
	}
	if len(memory.remembered) != 1 || memory.remembered[0] != "ok" {
		t.Errorf("remembered = %v", memory.remembered)
	}
}

func TestProviderFailureLeavesHistoryIntact(t *testing.T) {
	analyzer := &fakeAnalyzer{err: errors.New("upstream down")}
	o := newOrchestrator(t, Config{Provider: analyzer})
	s := readySession(t, o)
	before := len(s.Messages())

	res, err := o.Turn(context.Background(), s, "se apaga en los altos")
	if err != nil {
		t.Fatalf("provider failure must not error the turn: %v", err)
	}
	last := res.Messages[len(res.Messages)-1].Content
	if last != errorMessage {
		t.Errorf("reply = %q, want the fixed error message", last)
	}

	msgs := s.Messages()
	if len(msgs) != before+2 {
		t.Fatalf("history length = %d, want user message plus error message", len(msgs))
	}
	if msgs[len(msgs)-2].Role != domain.RoleUser || msgs[len(msgs)-2].Content != "se apaga en los altos" {
		t.Error("failed turn's user message must remain")
	}
	if s.State() != StateReady {
		t.Errorf("state = %s, session must stay usable", s.State())
	}

	analyzer.err = nil
	analyzer.resp = provider.AnalyzeResponse{Diagnosis: "listo"}
	if _, err := o.Turn(context.Background(), s, "sigue igual"); err != nil {
		t.Fatalf("next turn must re-enter the same path: %v", err)
	}
}

func TestProviderConnectionFailureMessage(t *testing.T) {
	analyzer := &fakeAnalyzer{err: resilience.ErrCircuitOpen}
	o := newOrchestrator(t, Config{Provider: analyzer})
	s := readySession(t, o)

	res, err := o.Turn(context.Background(), s, "se apaga en los altos")
	if err != nil {
		t.Fatalf("provider failure must not error the turn: %v", err)
	}
	last := res.Messages[len(res.Messages)-1].Content
	if last != connectionErrorMessage {
		t.Errorf("reply = %q, want the connection error message", last)
	}
}

func TestQuickReplyAnswersSituationCode(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	o := newOrchestrator(t, Config{Provider: analyzer})
	s := NewSession("s1", "u1")

	res, err := o.Turn(context.Background(), s, lexicon.SituationNoStart)
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if analyzer.calls != 0 {
		t.Error("a situation button must be answered without the provider")
	}
	last := res.Messages[len(res.Messages)-1].Content
	if !strings.Contains(last, "OBi-2 dice") || !strings.Contains(last, "batería") {
		t.Errorf("reply = %q, want the framed no-start quick reply", last)
	}
	if s.State() != StateAwaitingVehicleInfo {
		t.Errorf("state = %s, session should keep gathering vehicle info", s.State())
	}
}

func TestQuickReplyFramedForExpert(t *testing.T) {
	o := newOrchestrator(t, Config{Provider: &fakeAnalyzer{}})
	s := NewSession("s1", "u1")
	ctx := context.Background()

	if _, err := o.Turn(ctx, s, "soy experto en mecánica"); err != nil {
		t.Fatalf("turn: %v", err)
	}
	res, err := o.Turn(ctx, s, lexicon.SituationHesitation)
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	last := res.Messages[len(res.Messages)-1].Content
	if !strings.Contains(last, "Analizando el problema reportado") || !strings.Contains(last, "P0171") {
		t.Errorf("reply = %q, want the expert hesitation quick reply", last)
	}
}

func TestOverlappingTurnRejected(t *testing.T) {
	analyzer := &fakeAnalyzer{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	o := newOrchestrator(t, Config{Provider: analyzer})
	s := readySession(t, o)

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Turn(context.Background(), s, "huele raro el motor")
	}()
	<-analyzer.started

	_, err := o.Turn(context.Background(), s, "otro mensaje")
	if !errors.Is(err, domain.ErrTurnInFlight) {
		t.Errorf("err = %v, want ErrTurnInFlight", err)
	}

	close(analyzer.release)
	<-done
}

func TestAddOBDCode(t *testing.T) {
	s := NewSession("s1", "u1")
	if err := s.AddOBDCode("p0300"); err != nil {
		t.Fatalf("AddOBDCode: %v", err)
	}
	if got := s.OBDCodes(); len(got) != 1 || got[0] != "P0300" {
		t.Fatalf("codes = %v", got)
	}

	if err := s.AddOBDCode("X9999"); !errors.Is(err, domain.ErrInvalidOBDCode) {
		t.Errorf("err = %v, want ErrInvalidOBDCode", err)
	}
	if err := s.AddOBDCode("P0300"); !errors.Is(err, domain.ErrDuplicateOBDCode) {
		t.Errorf("err = %v, want ErrDuplicateOBDCode", err)
	}
	if got := s.OBDCodes(); len(got) != 1 {
		t.Errorf("rejected codes must not mutate the set: %v", got)
	}
}

func TestSavePersistsSnapshot(t *testing.T) {
	store := &fakeStore{}
	events := &captureEvents{}
	o := newOrchestrator(t, Config{Provider: &fakeAnalyzer{resp: provider.AnalyzeResponse{Diagnosis: "d"}}, Store: store, Events: events})
	s := readySession(t, o)
	s.AddOBDCode("P0171")

	id, err := o.Save(context.Background(), s)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id != "rec-1" {
		t.Errorf("id = %q", id)
	}
	rec := store.saved[0]
	if rec.UserID != "u1" || rec.Vehicle.Make != "Honda" {
		t.Errorf("record = %+v", rec)
	}
	if len(rec.OBDCodes) != 1 || rec.OBDCodes[0] != "P0171" {
		t.Errorf("codes = %v", rec.OBDCodes)
	}
	if len(rec.ChatHistory) == 0 {
		t.Error("chat history must be captured")
	}
	if events.events[len(events.events)-1].Kind != EventSaved {
		t.Errorf("events = %v", events.events)
	}
}

func TestSaveEmptySession(t *testing.T) {
	o := newOrchestrator(t, Config{Provider: &fakeAnalyzer{}, Store: &fakeStore{}})
	s := NewSession("s1", "u1")
	if _, err := o.Save(context.Background(), s); !errors.Is(err, domain.ErrEmptySession) {
		t.Errorf("err = %v, want ErrEmptySession", err)
	}
}

func TestResetClearsSession(t *testing.T) {
	events := &captureEvents{}
	o := newOrchestrator(t, Config{Provider: &fakeAnalyzer{}, Events: events})
	s := readySession(t, o)

	o.Reset(context.Background(), s)
	if s.State() != StateIdle {
		t.Errorf("state = %s", s.State())
	}
	if len(s.Messages()) != 0 || s.Vehicle().Complete() {
		t.Error("reset must clear history and vehicle")
	}
	if events.events[len(events.events)-1].Kind != EventReset {
		t.Errorf("events = %v", events.events)
	}
}

func TestLevelNoticeOnce(t *testing.T) {
	o := newOrchestrator(t, Config{Provider: &fakeAnalyzer{resp: provider.AnalyzeResponse{Diagnosis: "d"}}})
	s := NewSession("s1", "u1")
	ctx := context.Background()

	res, err := o.Turn(ctx, s, "no sé nada de mecánica, tengo un Honda Civic 2018")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if !strings.Contains(res.Messages[0].Content, "**novato**") {
		t.Errorf("expected a level notice first, got %q", res.Messages[0].Content)
	}

	res, err = o.Turn(ctx, s, "no sé qué hacer, se escucha un ruido al frenar")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	for _, m := range res.Messages {
		if strings.Contains(m.Content, "adaptaré mis respuestas") {
			t.Errorf("level notice must not repeat for the same level: %q", m.Content)
		}
	}
}

func TestLevelStaysStickyAcrossTurns(t *testing.T) {
	o := newOrchestrator(t, Config{Provider: &fakeAnalyzer{resp: provider.AnalyzeResponse{Diagnosis: "d"}}})
	s := NewSession("s1", "u1")
	ctx := context.Background()

	if _, err := o.Turn(ctx, s, "Soy experto en mecánica con conocimiento técnico avanzado, tengo un Honda Civic 2018"); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if level, ok := s.Level(); !ok || level != domain.LevelExpert {
		t.Fatalf("level after first turn = %q (set=%v), want experto", level, ok)
	}

	// A later hesitant phrasing carries a novice cue but must not demote
	// an expert who already identified themselves.
	res, err := o.Turn(ctx, s, "no sé si es la bomba de agua o el termostato")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if level, ok := s.Level(); !ok || level != domain.LevelExpert {
		t.Fatalf("level after second turn = %q (set=%v), want experto", level, ok)
	}
	for _, m := range res.Messages {
		if strings.Contains(m.Content, "**novato**") {
			t.Errorf("unexpected reclassification notice: %q", m.Content)
		}
	}
	var framed bool
	for _, m := range res.Messages {
		if strings.Contains(m.Content, "Basado en los datos técnicos") {
			framed = true
		}
	}
	if !framed {
		t.Errorf("diagnosis should keep the expert framing: %v", res.Messages)
	}
}

func TestResetAllowsReclassification(t *testing.T) {
	o := newOrchestrator(t, Config{Provider: &fakeAnalyzer{}})
	s := NewSession("s1", "u1")
	ctx := context.Background()

	if _, err := o.Turn(ctx, s, "soy experto, tengo un Honda Civic 2018"); err != nil {
		t.Fatalf("turn: %v", err)
	}
	o.Reset(ctx, s)

	res, err := o.Turn(ctx, s, "no sé nada de coches, tengo un Honda Civic 2018")
	if err != nil {
		t.Fatalf("turn after reset: %v", err)
	}
	if level, ok := s.Level(); !ok || level != domain.LevelNovice {
		t.Fatalf("level after reset = %q (set=%v), want novato", level, ok)
	}
	if !strings.Contains(res.Messages[0].Content, "**novato**") {
		t.Errorf("expected a fresh level notice after reset, got %q", res.Messages[0].Content)
	}
}
