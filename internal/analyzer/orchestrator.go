// Package analyzer runs one conversational meal analysis end to end: it reads
// session context, renders a prompt, calls the model, parses the reply and
// writes the outcome back to the session.
package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/calai/calai/internal/adapter"
	"github.com/calai/calai/internal/history"
	"github.com/calai/calai/internal/logging"
	"github.com/calai/calai/internal/nutrition"
	"github.com/calai/calai/internal/prompt"
	"github.com/calai/calai/internal/session"
)

// DefaultMaxInputChars bounds the length of one utterance.
const DefaultMaxInputChars = 5000

// Stage names logged as a request moves through Analyze.
const (
	StageStart          = "start"
	StageContextRead    = "context_read"
	StagePrompted       = "prompted"
	StageModelCalled    = "model_called"
	StageParsed         = "parsed"
	StageContextWritten = "context_written"
	StageDone           = "done"
)

// Persistence is the durable record of conversations. Writes are best
// effort: failures are logged and never fail an analysis.
type Persistence interface {
	SaveMessage(ctx context.Context, sessionID string, role session.Role, content string, result *nutrition.Result) (string, error)
	LoadRecentMessages(ctx context.Context, sessionID string, n int) ([]history.Message, error)
	LoadMealsSince(ctx context.Context, sessionID string, since time.Time) ([]history.Message, error)
	ChatHistory(ctx context.Context, sessionID string, limit, offset int) (history.Page, error)
	SessionSummary(ctx context.Context, id string) (history.Stats, error)
	MostRecentSession(ctx context.Context) (string, bool, error)
	DeleteMessages(ctx context.Context, sessionID string) (int, error)
}

// Options tunes the orchestrator.
type Options struct {
	MaxInputChars int
	// HydrateTurns is how many persisted messages seed a cold session.
	HydrateTurns int
	// DefaultLanguage applies when a request names none.
	DefaultLanguage string
	// FallbackToRecent makes ChatHistory without a session id read the most
	// recently active session instead of failing.
	FallbackToRecent bool
}

// Request is one utterance to analyse.
type Request struct {
	Text      string
	SessionID string
	Language  string
}

// Response is the outcome of Analyze.
type Response struct {
	Result    nutrition.Result `json:"nutrition"`
	SessionID string           `json:"session_id"`
	MessageID string           `json:"message_id"`
	Timestamp time.Time        `json:"timestamp"`
}

// Orchestrator coordinates the session store, prompt builder, model backend
// and persistence for each request.
type Orchestrator struct {
	store   *session.Store
	builder *prompt.Builder
	backend adapter.Backend
	persist Persistence
	log     logrus.FieldLogger
	opts    Options
	now     func() time.Time
}

// New creates an Orchestrator. persist may be nil to run memory-only.
func New(store *session.Store, builder *prompt.Builder, backend adapter.Backend, persist Persistence, log logrus.FieldLogger, opts Options) *Orchestrator {
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = DefaultMaxInputChars
	}
	if opts.HydrateTurns <= 0 {
		opts.HydrateTurns = 10
	}
	opts.DefaultLanguage = prompt.NormalizeLanguage(opts.DefaultLanguage)
	if builder == nil {
		builder = &prompt.Builder{}
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Orchestrator{
		store:   store,
		builder: builder,
		backend: backend,
		persist: persist,
		log:     log,
		opts:    opts,
		now:     time.Now,
	}
}

// Info describes the model backend in use.
func (o *Orchestrator) Info() adapter.ModelInfo {
	return o.backend.Info()
}

// Analyze runs one analysis. It fails only with *InputError; model and
// parse failures degrade to the placeholder result.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (Response, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Response{}, &InputError{Reason: "message is empty"}
	}
	if n := utf8.RuneCountInString(text); n > o.opts.MaxInputChars {
		return Response{}, &InputError{Reason: fmt.Sprintf("message is %d characters, limit is %d", n, o.opts.MaxInputChars)}
	}

	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	lang := o.opts.DefaultLanguage
	if req.Language != "" {
		lang = prompt.NormalizeLanguage(req.Language)
	}
	log := o.log.WithField("session_id", id)
	stage := func(s string) { log.WithField("stage", s).Debug("analyze") }
	stage(StageStart)

	o.hydrate(ctx, id, log)
	snap := o.store.ContextForPrompt(id)
	stage(StageContextRead)

	p, err := o.builder.Build(text, lang, snap)
	if err != nil {
		return Response{}, &InputError{Reason: err.Error()}
	}
	stage(StagePrompted)

	o.store.AppendTurn(id, session.Turn{Role: session.RoleUser, Text: text})
	if o.persist != nil {
		if _, err := o.persist.SaveMessage(ctx, id, session.RoleUser, text, nil); err != nil {
			log.WithError(err).Warn("persist user message")
		}
	}

	raw, err := o.backend.Analyze(ctx, p)
	if err != nil {
		log.WithFields(logrus.Fields{
			"provider": o.backend.Info().Provider,
			"fallback": "provider",
		}).WithError(err).Warn("model call failed, using placeholder analysis")
		raw = nutrition.PlaceholderPayload()
	}
	stage(StageModelCalled)

	result, err := nutrition.Decode(raw)
	if err != nil {
		log.WithFields(logrus.Fields{
			"provider": o.backend.Info().Provider,
			"fallback": "parse",
			"bytes":    len(raw),
		}).WithError(err).Warn("unparseable model output, using placeholder analysis")
		result = nutrition.Placeholder()
	}
	stage(StageParsed)

	ts := o.now()
	stored := result
	o.store.AppendTurn(id, session.Turn{Role: session.RoleAssistant, Text: result.Reply, Nutrition: &stored, Timestamp: ts})
	if result.HasFood() {
		o.store.RecordIntake(id, result.Totals, result.FoodItems)
	}
	stage(StageContextWritten)

	msgID := ""
	if o.persist != nil {
		msgID, err = o.persist.SaveMessage(ctx, id, session.RoleAssistant, result.Reply, &result)
		if err != nil {
			log.WithError(err).Warn("persist assistant message")
		}
	}
	if msgID == "" {
		msgID = uuid.NewString()
	}

	log.WithFields(logrus.Fields{
		"stage":       StageDone,
		"input_type":  result.InputType,
		"items":       len(result.FoodItems),
		"calories":    result.Calories,
		"placeholder": result.Placeholder,
	}).Info("meal analysed")

	return Response{Result: result, SessionID: id, MessageID: msgID, Timestamp: ts}, nil
}

// hydrate seeds a session without turns from persistence: its recent
// conversation and the meals stored since the start of today.
func (o *Orchestrator) hydrate(ctx context.Context, id string, log logrus.FieldLogger) {
	if o.persist == nil || len(o.store.Turns(id)) > 0 {
		return
	}
	msgs, err := o.persist.LoadRecentMessages(ctx, id, o.opts.HydrateTurns)
	if err != nil {
		log.WithError(err).Warn("load persisted history")
		return
	}
	if len(msgs) == 0 {
		return
	}
	turns := make([]session.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, session.Turn{Role: m.Role, Text: m.Content, Nutrition: m.Nutrition, Timestamp: m.Timestamp})
	}

	var meals []session.Meal
	stored, err := o.persist.LoadMealsSince(ctx, id, startOfDay(o.now()))
	if err != nil {
		log.WithError(err).Warn("load persisted meals")
	}
	for _, m := range stored {
		if m.Nutrition != nil && m.Nutrition.HasFood() {
			meals = append(meals, session.Meal{Time: m.Timestamp, Items: m.Nutrition.FoodItems})
		}
	}

	if o.store.Hydrate(id, turns, meals) {
		log.WithFields(logrus.Fields{"turns": len(turns), "meals": len(meals)}).Debug("session rehydrated")
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ContextSummary describes a session's state for today, restoring it from
// persistence first when this process has not seen it yet.
func (o *Orchestrator) ContextSummary(ctx context.Context, id string) session.Summary {
	o.hydrate(ctx, id, o.log.WithField("session_id", id))
	return o.store.Summary(id)
}

// Clear forgets a session in memory and deletes its persisted messages.
func (o *Orchestrator) Clear(ctx context.Context, id string) {
	o.store.Clear(id)
	if o.persist == nil {
		return
	}
	n, err := o.persist.DeleteMessages(ctx, id)
	if err != nil {
		o.log.WithField("session_id", id).WithError(err).Warn("delete persisted messages")
		return
	}
	o.log.WithFields(logrus.Fields{"session_id": id, "deleted": n}).Info("session cleared")
}

// SetProfile replaces a session's profile.
func (o *Orchestrator) SetProfile(id string, profile map[string]string) {
	o.store.SetProfile(id, profile)
}

// Profile returns a session's profile.
func (o *Orchestrator) Profile(id string) map[string]string {
	return o.store.Profile(id)
}

// resolveSession applies the most-recent-session policy to an empty id.
func (o *Orchestrator) resolveSession(ctx context.Context, id string) (string, bool, error) {
	if id != "" {
		return id, true, nil
	}
	if !o.opts.FallbackToRecent {
		return "", false, ErrSessionRequired
	}
	if o.persist != nil {
		recent, ok, err := o.persist.MostRecentSession(ctx)
		if err != nil {
			return "", false, fmt.Errorf("analyzer: most recent session: %w", err)
		}
		return recent, ok, nil
	}
	recent, ok := o.store.MostRecent()
	return recent, ok, nil
}

// ChatHistory returns a page of a session's conversation, newest page
// first, each page ordered oldest first.
func (o *Orchestrator) ChatHistory(ctx context.Context, id string, limit, offset int) (history.Page, error) {
	id, ok, err := o.resolveSession(ctx, id)
	if err != nil {
		return history.Page{}, err
	}
	if !ok {
		return history.Page{SessionID: "none", Messages: []history.Message{}}, nil
	}
	if o.persist != nil {
		return o.persist.ChatHistory(ctx, id, limit, offset)
	}
	return memoryPage(id, o.store.Turns(id), limit, offset), nil
}

func memoryPage(id string, turns []session.Turn, limit, offset int) history.Page {
	page := history.Page{SessionID: id, Messages: []history.Message{}, Total: len(turns)}
	if limit <= 0 || offset >= len(turns) {
		return page
	}
	if offset < 0 {
		offset = 0
	}
	end := len(turns) - offset
	start := end - limit
	if start < 0 {
		start = 0
	}
	for _, t := range turns[start:end] {
		page.Messages = append(page.Messages, history.Message{
			SessionID: id,
			Role:      t.Role,
			Content:   t.Text,
			Nutrition: t.Nutrition,
			Timestamp: t.Timestamp,
		})
	}
	page.HasMore = offset+limit < len(turns)
	return page
}

// SessionStats reports the durable record of a session, or the in-memory one
// when running without persistence.
func (o *Orchestrator) SessionStats(ctx context.Context, id string) (history.Stats, error) {
	if o.persist != nil {
		return o.persist.SessionSummary(ctx, id)
	}
	st := history.Stats{SessionID: id}
	if !o.store.Has(id) {
		return st, nil
	}
	sum := o.store.Summary(id)
	st.Exists = true
	st.CreatedAt = sum.CreatedAt
	st.MessageCount = sum.MessageCount
	st.MealsAnalyzed = sum.MealCount
	st.CaloriesTracked = sum.DailyTotals.Calories
	for _, t := range o.store.Turns(id) {
		if t.Timestamp.After(st.LastActivity) {
			st.LastActivity = t.Timestamp
		}
	}
	return st, nil
}
