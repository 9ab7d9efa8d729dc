package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/calai/calai/internal/nutrition"
)

const dateLayout = "2006-01-02"

// Options controls the store's windows. Zero values take the defaults.
type Options struct {
	// HistoryLimit is the number of turns kept per session (default 10).
	HistoryLimit int
	// PromptTurns is the number of trailing turns injected into prompts (default 5).
	PromptTurns int
	// RecentMeals is the number of trailing meals whose foods are injected (default 3).
	RecentMeals int
	// Now overrides the clock, mainly for tests around day boundaries.
	Now func() time.Time
}

// DefaultOptions returns the standard windows.
func DefaultOptions() Options {
	return Options{HistoryLimit: 10, PromptTurns: 5, RecentMeals: 3, Now: time.Now}
}

// Store owns every in-memory session. Each session has its own lock, so at
// most one mutation per session id is in flight while distinct sessions only
// share the brief map lookup.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	opts     Options
}

type entry struct {
	mu           sync.Mutex
	id           string
	createdAt    time.Time
	lastActivity time.Time
	turns        []Turn
	intake       map[string]*DailyIntake // keyed by ISO date
	profile      map[string]string
	removed      bool
}

// NewStore creates an empty Store.
func NewStore(opts Options) *Store {
	def := DefaultOptions()
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = def.HistoryLimit
	}
	if opts.PromptTurns <= 0 {
		opts.PromptTurns = def.PromptTurns
	}
	if opts.RecentMeals <= 0 {
		opts.RecentMeals = def.RecentMeals
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	return &Store{
		sessions: make(map[string]*entry),
		opts:     opts,
	}
}

func (s *Store) lookup(id string, create bool) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok && create {
		now := s.opts.Now()
		e = &entry{
			id:           id,
			createdAt:    now,
			lastActivity: now,
			intake:       make(map[string]*DailyIntake),
		}
		s.sessions[id] = e
	}
	return e
}

// update runs fn with the session's lock held, creating the session when
// needed. A session cleared concurrently is re-created rather than written
// to after removal.
func (s *Store) update(id string, fn func(e *entry)) {
	for {
		e := s.lookup(id, true)
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		fn(e)
		e.lastActivity = s.opts.Now()
		e.mu.Unlock()
		return
	}
}

// view runs fn with the session's lock held without creating it. fn receives
// nil for an unknown session.
func (s *Store) view(id string, fn func(e *entry)) {
	e := s.lookup(id, false)
	if e == nil {
		fn(nil)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		fn(nil)
		return
	}
	fn(e)
}

func (s *Store) today() string {
	return s.opts.Now().Format(dateLayout)
}

// Has reports whether the session exists.
func (s *Store) Has(id string) bool {
	found := false
	s.view(id, func(e *entry) { found = e != nil })
	return found
}

// GetOrCreate returns the session, creating it on first reference.
func (s *Store) GetOrCreate(id string) Session {
	var out Session
	s.update(id, func(e *entry) { out = e.snapshot(s.today()) })
	return out
}

// AppendTurn appends a turn and keeps only the newest HistoryLimit turns.
func (s *Store) AppendTurn(id string, t Turn) {
	if t.Timestamp.IsZero() {
		t.Timestamp = s.opts.Now()
	}
	s.update(id, func(e *entry) {
		e.turns = append(e.turns, t)
		if n := len(e.turns); n > s.opts.HistoryLimit {
			e.turns = append([]Turn(nil), e.turns[n-s.opts.HistoryLimit:]...)
		}
	})
}

// Hydrate seeds a session that has no turns yet, e.g. from durable storage
// after a restart. meals are replayed into the intake of the day they were
// eaten, unless the session already tracks intake. It reports whether the
// seed was applied.
func (s *Store) Hydrate(id string, turns []Turn, meals []Meal) bool {
	if len(turns) == 0 && len(meals) == 0 {
		return false
	}
	loc := s.opts.Now().Location()
	applied := false
	s.update(id, func(e *entry) {
		if len(e.turns) > 0 {
			return
		}
		if n := len(turns); n > s.opts.HistoryLimit {
			turns = turns[n-s.opts.HistoryLimit:]
		}
		e.turns = append([]Turn(nil), turns...)
		if len(e.intake) == 0 {
			for _, m := range meals {
				e.addMeal(m.Time.In(loc), nutrition.SumItems(m.Items), m.Items)
			}
		}
		applied = true
	})
	return applied
}

// Turns returns a copy of the session's history without creating it.
func (s *Store) Turns(id string) []Turn {
	var out []Turn
	s.view(id, func(e *entry) {
		if e != nil {
			out = append([]Turn(nil), e.turns...)
		}
	})
	return out
}

// RecordIntake adds a meal's totals to today's intake and appends a meal
// record with the given items.
func (s *Store) RecordIntake(id string, totals nutrition.Totals, items []nutrition.FoodItem) {
	now := s.opts.Now()
	s.update(id, func(e *entry) { e.addMeal(now, totals, items) })
}

func (e *entry) addMeal(at time.Time, totals nutrition.Totals, items []nutrition.FoodItem) {
	day := at.Format(dateLayout)
	in := e.intake[day]
	if in == nil {
		in = &DailyIntake{Date: day}
		e.intake[day] = in
	}
	in.Calories += totals.Calories
	in.Protein += totals.Protein
	in.Carbs += totals.Carbs
	in.Fat += totals.Fat
	in.Meals = append(in.Meals, Meal{
		Time:  at,
		Items: append([]nutrition.FoodItem(nil), items...),
	})
}

// SetProfile replaces the session's profile.
func (s *Store) SetProfile(id string, profile map[string]string) {
	cp := make(map[string]string, len(profile))
	for k, v := range profile {
		cp[k] = v
	}
	s.update(id, func(e *entry) { e.profile = cp })
}

// Profile returns a copy of the session's profile, or nil.
func (s *Store) Profile(id string) map[string]string {
	var out map[string]string
	s.view(id, func(e *entry) {
		if e != nil {
			out = copyProfile(e.profile)
		}
	})
	return out
}

// ContextForPrompt returns the prompt projection of a session. It never
// creates or modifies the session.
func (s *Store) ContextForPrompt(id string) Snapshot {
	snap := Snapshot{
		DailyCalories: "0",
		Goals:         DefaultGoals,
		Restrictions:  DefaultRestrictions,
		RecentFoods:   []string{},
		History:       []HistoryEntry{},
	}
	day := s.today()
	s.view(id, func(e *entry) {
		if e == nil {
			return
		}
		if v := e.profile[ProfileGoals]; v != "" {
			snap.Goals = v
		}
		if v := e.profile[ProfileRestrictions]; v != "" {
			snap.Restrictions = v
		}
		if in := e.intake[day]; in != nil {
			snap.DailyCalories = fmt.Sprintf("%.0f", in.Calories)
			meals := in.Meals
			if n := len(meals); n > s.opts.RecentMeals {
				meals = meals[n-s.opts.RecentMeals:]
			}
			for _, m := range meals {
				for _, it := range m.Items {
					snap.RecentFoods = append(snap.RecentFoods, it.DisplayName())
				}
			}
		}
		turns := e.turns
		if n := len(turns); n > s.opts.PromptTurns {
			turns = turns[n-s.opts.PromptTurns:]
		}
		for _, t := range turns {
			snap.History = append(snap.History, HistoryEntry{Role: t.Role, Text: t.Text})
		}
	})
	return snap
}

// Summary describes the session for display. Unknown sessions yield an empty
// summary.
func (s *Store) Summary(id string) Summary {
	sum := Summary{SessionID: id, FoodsMentioned: []string{}}
	day := s.today()
	s.view(id, func(e *entry) {
		if e == nil {
			return
		}
		sum.CreatedAt = e.createdAt
		sum.MessageCount = len(e.turns)
		if in := e.intake[day]; in != nil {
			sum.DailyTotals = Totals{Calories: in.Calories, Protein: in.Protein, Carbs: in.Carbs, Fat: in.Fat}
			sum.MealCount = len(in.Meals)
			for _, m := range in.Meals {
				for _, it := range m.Items {
					sum.FoodsMentioned = append(sum.FoodsMentioned, it.DisplayName())
				}
			}
		}
	})
	return sum
}

// MostRecent returns the id of the most recently active session.
func (s *Store) MostRecent() (string, bool) {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	var (
		bestID string
		best   time.Time
	)
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed && (bestID == "" || e.lastActivity.After(best)) {
			bestID, best = e.id, e.lastActivity
		}
		e.mu.Unlock()
	}
	return bestID, bestID != ""
}

// Clear forgets the session: its turns, intake and profile. Clearing an
// unknown session is a no-op.
func (s *Store) Clear(id string) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (e *entry) snapshot(day string) Session {
	out := Session{
		ID:        e.id,
		CreatedAt: e.createdAt,
		Turns:     append([]Turn(nil), e.turns...),
		Intake:    DailyIntake{Date: day},
		Profile:   copyProfile(e.profile),
	}
	if in := e.intake[day]; in != nil {
		out.Intake = *in
		out.Intake.Meals = append([]Meal(nil), in.Meals...)
	}
	return out
}

func copyProfile(p map[string]string) map[string]string {
	if p == nil {
		return nil
	}
	cp := make(map[string]string, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}
