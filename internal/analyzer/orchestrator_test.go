package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calai/calai/internal/adapter"
	"github.com/calai/calai/internal/history"
	"github.com/calai/calai/internal/nutrition"
	"github.com/calai/calai/internal/prompt"
	"github.com/calai/calai/internal/session"
)

type fakeBackend struct {
	mu      sync.Mutex
	out     string
	err     error
	prompts []string
}

func (f *fakeBackend) Info() adapter.ModelInfo {
	return adapter.ModelInfo{Provider: "fake", Model: "fake-1", Configured: true}
}

func (f *fakeBackend) Analyze(_ context.Context, p string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
	return f.out, f.err
}

func (f *fakeBackend) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type fakePersistence struct {
	mu       sync.Mutex
	messages map[string][]history.Message
	order    []string
	failSave bool
	deleted  []string
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{messages: make(map[string][]history.Message)}
}

func (p *fakePersistence) touch(id string) {
	for i, o := range p.order {
		if o == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.order = append(p.order, id)
}

func (p *fakePersistence) SaveMessage(_ context.Context, sid string, role session.Role, content string, r *nutrition.Result) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSave {
		return "", errors.New("disk full")
	}
	p.touch(sid)
	id := fmt.Sprintf("msg-%d", len(p.messages[sid])+1)
	p.messages[sid] = append(p.messages[sid], history.Message{ID: id, SessionID: sid, Role: role, Content: content, Nutrition: r, Timestamp: time.Now()})
	return id, nil
}

func (p *fakePersistence) LoadRecentMessages(_ context.Context, sid string, n int) ([]history.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.messages[sid]
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]history.Message(nil), msgs...), nil
}

func (p *fakePersistence) LoadMealsSince(_ context.Context, sid string, since time.Time) ([]history.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []history.Message
	for _, m := range p.messages[sid] {
		if m.Nutrition != nil && m.Nutrition.HasFood() && !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (p *fakePersistence) ChatHistory(_ context.Context, sid string, limit, offset int) (history.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.messages[sid]
	return history.Page{SessionID: sid, Messages: msgs, Total: len(msgs)}, nil
}

func (p *fakePersistence) SessionSummary(_ context.Context, id string) (history.Stats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.messages[id]
	return history.Stats{SessionID: id, Exists: ok, MessageCount: len(p.messages[id])}, nil
}

func (p *fakePersistence) MostRecentSession(context.Context) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.order) == 0 {
		return "", false, nil
	}
	return p.order[len(p.order)-1], true, nil
}

func (p *fakePersistence) DeleteMessages(_ context.Context, sid string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.messages[sid])
	delete(p.messages, sid)
	p.deleted = append(p.deleted, sid)
	return n, nil
}

const bananaJSON = `{"input_type":"food","food_items":[{"name":"Banana","amount":"1","unit":"piece","calories":105,"protein":1.3,"carbs":27,"fat":0.4}],"ai_response":"A banana is a great snack!"}`

func newTestOrchestrator(t *testing.T, backend adapter.Backend, persist Persistence, opts Options) (*Orchestrator, *session.Store, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	store := session.NewStore(session.Options{})
	return New(store, prompt.NewBuilder(nil, 0), backend, persist, log, opts), store, hook
}

func TestAnalyze_FoodUpdatesContext(t *testing.T) {
	backend := &fakeBackend{out: "Here you go: " + bananaJSON}
	o, store, _ := newTestOrchestrator(t, backend, nil, Options{})

	resp, err := o.Analyze(context.Background(), Request{Text: "I had a banana", SessionID: "s1"})
	require.NoError(t, err)

	assert.Equal(t, "s1", resp.SessionID)
	assert.NotEmpty(t, resp.MessageID)
	assert.False(t, resp.Timestamp.IsZero())
	assert.Equal(t, 105.0, resp.Result.Calories)
	assert.Equal(t, "A banana is a great snack!", resp.Result.Reply)

	turns := store.Turns("s1")
	require.Len(t, turns, 2)
	assert.Equal(t, session.RoleUser, turns[0].Role)
	assert.Equal(t, "I had a banana", turns[0].Text)
	assert.Equal(t, session.RoleAssistant, turns[1].Role)
	require.NotNil(t, turns[1].Nutrition)
	assert.Equal(t, resp.Timestamp, turns[1].Timestamp)

	sum := o.ContextSummary(context.Background(), "s1")
	assert.Equal(t, 105.0, sum.DailyTotals.Calories)
	assert.Equal(t, 1, sum.MealCount)
	assert.Equal(t, []string{"Banana"}, sum.FoodsMentioned)
}

func TestAnalyze_PromptUsesContextBeforeUserTurn(t *testing.T) {
	backend := &fakeBackend{out: bananaJSON}
	o, _, _ := newTestOrchestrator(t, backend, nil, Options{})
	ctx := context.Background()

	_, err := o.Analyze(ctx, Request{Text: "first banana", SessionID: "s1"})
	require.NoError(t, err)
	assert.NotContains(t, backend.lastPrompt(), "Recent conversation")

	_, err = o.Analyze(ctx, Request{Text: "second banana", SessionID: "s1", Language: "zh"})
	require.NoError(t, err)
	p := backend.lastPrompt()
	assert.Contains(t, p, "User: first banana")
	assert.NotContains(t, p, "User: second banana")
	assert.Contains(t, p, "Calories consumed today: 105 kcal")
	assert.Contains(t, p, "Simplified Chinese")
}

func TestAnalyze_MintsSessionID(t *testing.T) {
	o, store, _ := newTestOrchestrator(t, &fakeBackend{out: bananaJSON}, nil, Options{})

	resp, err := o.Analyze(context.Background(), Request{Text: "banana"})
	require.NoError(t, err)
	assert.Len(t, resp.SessionID, 36)
	assert.True(t, store.Has(resp.SessionID))
}

func TestAnalyze_InputErrors(t *testing.T) {
	backend := &fakeBackend{out: bananaJSON}
	persist := newFakePersistence()
	o, store, _ := newTestOrchestrator(t, backend, persist, Options{MaxInputChars: 10})

	for _, text := range []string{"", "   \n\t", strings.Repeat("a", 11)} {
		_, err := o.Analyze(context.Background(), Request{Text: text, SessionID: "s1"})
		var ie *InputError
		require.ErrorAs(t, err, &ie, "text %q", text)
	}

	assert.False(t, store.Has("s1"), "no state may change on invalid input")
	assert.Empty(t, backend.prompts)
	assert.Empty(t, persist.messages)

	_, err := o.Analyze(context.Background(), Request{Text: strings.Repeat("饭", 10), SessionID: "s1"})
	assert.NoError(t, err, "limit counts characters, not bytes")
}

func TestAnalyze_UnparseableOutputFallsBack(t *testing.T) {
	backend := &fakeBackend{out: "Sorry, I can't help."}
	o, _, hook := newTestOrchestrator(t, backend, nil, Options{})

	resp, err := o.Analyze(context.Background(), Request{Text: "mystery stew", SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, resp.Result.Placeholder)
	assert.Equal(t, nutrition.PlaceholderName, resp.Result.FoodItems[0].Name)

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["fallback"] == "parse" {
			found = true
			assert.Equal(t, "s1", e.Data["session_id"])
		}
	}
	assert.True(t, found, "parse fallback must be logged")
}

func TestAnalyze_BackendErrorFallsBack(t *testing.T) {
	backend := &fakeBackend{err: &adapter.ModelError{Provider: "fake", Err: errors.New("503")}}
	o, _, hook := newTestOrchestrator(t, backend, nil, Options{})

	resp, err := o.Analyze(context.Background(), Request{Text: "pasta", SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, resp.Result.Placeholder)

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Data["fallback"] == "provider" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAnalyze_UnconfiguredBackendReturnsEstimate(t *testing.T) {
	backend := adapter.NewResilient(adapter.NewClaude(adapter.Settings{}), nil, time.Second)
	o, _, _ := newTestOrchestrator(t, backend, nil, Options{})

	resp, err := o.Analyze(context.Background(), Request{Text: "I had a banana", SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, resp.Result.FoodItems, 1)
	assert.Equal(t, "Estimated meal", resp.Result.FoodItems[0].Name)
	assert.Equal(t, 500.0, o.ContextSummary(context.Background(), "s1").DailyTotals.Calories)
}

func TestAnalyze_NonFoodDoesNotRecordIntake(t *testing.T) {
	backend := &fakeBackend{out: `{"input_type":"question","food_items":[],"ai_response":"Protein helps recovery."}`}
	o, _, _ := newTestOrchestrator(t, backend, nil, Options{})

	_, err := o.Analyze(context.Background(), Request{Text: "why protein?", SessionID: "s1"})
	require.NoError(t, err)

	sum := o.ContextSummary(context.Background(), "s1")
	assert.Equal(t, 2, sum.MessageCount)
	assert.Zero(t, sum.MealCount)
	assert.Zero(t, sum.DailyTotals.Calories)
}

func TestAnalyze_PersistsAndHydrates(t *testing.T) {
	persist := newFakePersistence()
	o, _, _ := newTestOrchestrator(t, &fakeBackend{out: bananaJSON}, persist, Options{})

	resp, err := o.Analyze(context.Background(), Request{Text: "banana", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "msg-2", resp.MessageID)
	require.Len(t, persist.messages["s1"], 2)
	assert.NotNil(t, persist.messages["s1"][1].Nutrition)

	// A fresh process shares only the persisted record.
	backend := &fakeBackend{out: bananaJSON}
	restarted, store, _ := newTestOrchestrator(t, backend, persist, Options{})
	_, err = restarted.Analyze(context.Background(), Request{Text: "another banana", SessionID: "s1"})
	require.NoError(t, err)

	assert.Contains(t, backend.lastPrompt(), "User: banana")
	assert.Len(t, store.Turns("s1"), 4)
}

func TestAnalyze_HydratesSessionThatOnlyHasProfile(t *testing.T) {
	persist := newFakePersistence()
	o, _, _ := newTestOrchestrator(t, &fakeBackend{out: bananaJSON}, persist, Options{})
	_, err := o.Analyze(context.Background(), Request{Text: "banana", SessionID: "alice"})
	require.NoError(t, err)

	backend := &fakeBackend{out: bananaJSON}
	restarted, store, _ := newTestOrchestrator(t, backend, persist, Options{})
	restarted.SetProfile("alice", map[string]string{session.ProfileGoals: "lose weight"})

	_, err = restarted.Analyze(context.Background(), Request{Text: "another banana", SessionID: "alice"})
	require.NoError(t, err)

	p := backend.lastPrompt()
	assert.Contains(t, p, "User: banana")
	assert.Contains(t, p, "Goals: lose weight")
	assert.Contains(t, p, "Calories consumed today: 105 kcal")
	assert.Len(t, store.Turns("alice"), 4)
}

func TestContextSummary_RestoresTodaysIntake(t *testing.T) {
	persist := newFakePersistence()
	o, _, _ := newTestOrchestrator(t, &fakeBackend{out: bananaJSON}, persist, Options{})
	_, err := o.Analyze(context.Background(), Request{Text: "banana", SessionID: "s1"})
	require.NoError(t, err)

	// Yesterday's meal is stored but must not count today.
	persist.mu.Lock()
	old := persist.messages["s1"][1]
	old.ID = "msg-old"
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	persist.messages["s1"] = append([]history.Message{old}, persist.messages["s1"]...)
	persist.mu.Unlock()

	fresh, _, _ := newTestOrchestrator(t, &fakeBackend{out: bananaJSON}, persist, Options{})
	sum := fresh.ContextSummary(context.Background(), "s1")
	assert.Equal(t, 1, sum.MealCount)
	assert.InDelta(t, 105.0, sum.DailyTotals.Calories, 1e-9)
	assert.Equal(t, []string{"Banana"}, sum.FoodsMentioned)

	// A second read does not replay again.
	assert.InDelta(t, 105.0, fresh.ContextSummary(context.Background(), "s1").DailyTotals.Calories, 1e-9)

	assert.Zero(t, fresh.ContextSummary(context.Background(), "ghost").MessageCount)
}

func TestAnalyze_PersistenceFailureIsNotFatal(t *testing.T) {
	persist := newFakePersistence()
	persist.failSave = true
	o, _, _ := newTestOrchestrator(t, &fakeBackend{out: bananaJSON}, persist, Options{})

	resp, err := o.Analyze(context.Background(), Request{Text: "banana", SessionID: "s1"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.MessageID)
}

func TestClear(t *testing.T) {
	persist := newFakePersistence()
	o, store, _ := newTestOrchestrator(t, &fakeBackend{out: bananaJSON}, persist, Options{})
	ctx := context.Background()

	_, err := o.Analyze(ctx, Request{Text: "banana", SessionID: "s1"})
	require.NoError(t, err)
	o.SetProfile("s1", map[string]string{session.ProfileGoals: "cut"})

	o.Clear(ctx, "s1")

	assert.Equal(t, store.ContextForPrompt("never-seen"), store.ContextForPrompt("s1"))
	assert.Equal(t, []string{"s1"}, persist.deleted)
	assert.Empty(t, persist.messages["s1"])
}

func TestChatHistory_SessionPolicy(t *testing.T) {
	ctx := context.Background()

	strict, _, _ := newTestOrchestrator(t, &fakeBackend{out: bananaJSON}, nil, Options{})
	_, err := strict.ChatHistory(ctx, "", 50, 0)
	assert.ErrorIs(t, err, ErrSessionRequired)

	lenient, _, _ := newTestOrchestrator(t, &fakeBackend{out: bananaJSON}, nil, Options{FallbackToRecent: true})
	page, err := lenient.ChatHistory(ctx, "", 50, 0)
	require.NoError(t, err)
	assert.Equal(t, "none", page.SessionID)

	_, err = lenient.Analyze(ctx, Request{Text: "banana", SessionID: "recent"})
	require.NoError(t, err)
	page, err = lenient.ChatHistory(ctx, "", 50, 0)
	require.NoError(t, err)
	assert.Equal(t, "recent", page.SessionID)
	assert.Equal(t, 2, page.Total)
}

func TestMemoryPage(t *testing.T) {
	turns := make([]session.Turn, 5)
	for i := range turns {
		turns[i] = session.Turn{Role: session.RoleUser, Text: fmt.Sprintf("t%d", i)}
	}

	page := memoryPage("s1", turns, 2, 0)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "t3", page.Messages[0].Content)
	assert.True(t, page.HasMore)

	page = memoryPage("s1", turns, 2, 4)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "t0", page.Messages[0].Content)
	assert.False(t, page.HasMore)

	page = memoryPage("s1", turns, 2, 9)
	assert.Empty(t, page.Messages)
	assert.Equal(t, 5, page.Total)
}

func TestSessionStats_MemoryOnly(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &fakeBackend{out: bananaJSON}, nil, Options{})
	ctx := context.Background()

	st, err := o.SessionStats(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, st.Exists)

	_, err = o.Analyze(ctx, Request{Text: "banana", SessionID: "s1"})
	require.NoError(t, err)
	st, err = o.SessionStats(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.Equal(t, 2, st.MessageCount)
	assert.Equal(t, 1, st.MealsAnalyzed)
	assert.Equal(t, 105.0, st.CaloriesTracked)
}

func TestAnalyze_ConcurrentSessions(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &fakeBackend{out: bananaJSON}, nil, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := o.Analyze(context.Background(), Request{Text: "banana", SessionID: fmt.Sprintf("s%d", i%2)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.InDelta(t, 1050.0, o.ContextSummary(context.Background(), "s0").DailyTotals.Calories, 1e-9)
	assert.InDelta(t, 1050.0, o.ContextSummary(context.Background(), "s1").DailyTotals.Calories, 1e-9)
}
