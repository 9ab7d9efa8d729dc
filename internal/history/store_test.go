package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calai/calai/internal/db"
	"github.com/calai/calai/internal/nutrition"
	"github.com/calai/calai/internal/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "calai.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	s := NewStore(database)
	clock := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func fiber(v float64) *float64 { return &v }

func lunch() *nutrition.Result {
	r := &nutrition.Result{
		InputType: nutrition.IntentFood,
		FoodItems: []nutrition.FoodItem{
			{Name: "Rice", NameLocal: "米饭", Amount: "1", Unit: "bowl", Calories: 200, Protein: 4, Carbs: 45, Fat: 1},
			{Name: "Broccoli", Amount: "100", Unit: "g", Calories: 35, Protein: 3, Carbs: 7, Fat: 0.4, Fiber: fiber(2.6)},
		},
		AnalysisNotes: "Balanced.",
		Reply:         "Good lunch!",
	}
	r.Recompute()
	return r
}

func TestSaveAndLoadRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveMessage(ctx, "s1", session.RoleUser, "rice and broccoli", nil)
	require.NoError(t, err)
	id, err := s.SaveMessage(ctx, "s1", session.RoleAssistant, "Good lunch!", lunch())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := s.LoadRecentMessages(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, session.RoleUser, msgs[0].Role)
	assert.Nil(t, msgs[0].Nutrition)
	assert.Equal(t, id, msgs[1].ID)

	n := msgs[1].Nutrition
	require.NotNil(t, n)
	require.Len(t, n.FoodItems, 2)
	assert.Equal(t, "米饭", n.FoodItems[0].NameLocal)
	assert.Equal(t, 235.0, n.Calories)
	require.NotNil(t, n.Fiber)
	assert.InDelta(t, 2.6, *n.Fiber, 1e-9)
	assert.Nil(t, n.Sugar)
	assert.Equal(t, "Balanced.", n.AnalysisNotes)
	assert.Equal(t, "Good lunch!", n.Reply)
}

func TestLoadRecentMessages_KeepsNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := s.SaveMessage(ctx, "s1", session.RoleUser, fmt.Sprintf("m%d", i), nil)
		require.NoError(t, err)
	}

	msgs, err := s.LoadRecentMessages(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m3", msgs[0].Content)
	assert.Equal(t, "m5", msgs[2].Content)

	none, err := s.LoadRecentMessages(ctx, "unknown", 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestChatHistory_Pagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.SaveMessage(ctx, "s1", session.RoleUser, fmt.Sprintf("m%d", i), nil)
		require.NoError(t, err)
	}

	page, err := s.ChatHistory(ctx, "s1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.True(t, page.HasMore)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "m3", page.Messages[0].Content)
	assert.Equal(t, "m4", page.Messages[1].Content)

	page, err = s.ChatHistory(ctx, "s1", 2, 4)
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "m0", page.Messages[0].Content)

	empty, err := s.ChatHistory(ctx, "nope", 50, 0)
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.NotNil(t, empty.Messages)
}

func TestSessionSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st, err := s.SessionSummary(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, st.Exists)

	_, err = s.SaveMessage(ctx, "s1", session.RoleUser, "lunch", nil)
	require.NoError(t, err)
	_, err = s.SaveMessage(ctx, "s1", session.RoleAssistant, "ok", lunch())
	require.NoError(t, err)
	_, err = s.SaveMessage(ctx, "s1", session.RoleAssistant, "hello", &nutrition.Result{InputType: nutrition.IntentChat})
	require.NoError(t, err)

	st, err = s.SessionSummary(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.Equal(t, 3, st.MessageCount)
	assert.Equal(t, 1, st.MealsAnalyzed)
	assert.Equal(t, 235.0, st.CaloriesTracked)
	assert.True(t, st.LastActivity.After(st.CreatedAt))
}

func TestMostRecentSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.MostRecentSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.SaveMessage(ctx, "a", session.RoleUser, "first", nil)
	require.NoError(t, err)
	_, err = s.SaveMessage(ctx, "b", session.RoleUser, "second", nil)
	require.NoError(t, err)
	_, err = s.SaveMessage(ctx, "a", session.RoleUser, "again", nil)
	require.NoError(t, err)

	id, ok, err := s.MostRecentSession(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", id)
}

func TestDeleteMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveMessage(ctx, "s1", session.RoleAssistant, "ok", lunch())
	require.NoError(t, err)
	_, err = s.SaveMessage(ctx, "s2", session.RoleUser, "keep me", nil)
	require.NoError(t, err)

	n, err := s.DeleteMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var items int
	require.NoError(t, s.db.Conn().QueryRow(`SELECT COUNT(*) FROM food_items`).Scan(&items))
	assert.Zero(t, items, "food items cascade with their nutrition record")

	msgs, err := s.LoadRecentMessages(ctx, "s2", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestLoadMealsSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveMessage(ctx, "s1", session.RoleAssistant, "yesterday's lunch", lunch())
	require.NoError(t, err)
	cutoff := s.now()
	_, err = s.SaveMessage(ctx, "s1", session.RoleUser, "rice and broccoli", nil)
	require.NoError(t, err)
	_, err = s.SaveMessage(ctx, "s1", session.RoleAssistant, "Good lunch!", lunch())
	require.NoError(t, err)
	_, err = s.SaveMessage(ctx, "s1", session.RoleAssistant, "hello", &nutrition.Result{InputType: nutrition.IntentChat})
	require.NoError(t, err)
	_, err = s.SaveMessage(ctx, "other", session.RoleAssistant, "not mine", lunch())
	require.NoError(t, err)

	meals, err := s.LoadMealsSince(ctx, "s1", cutoff)
	require.NoError(t, err)
	require.Len(t, meals, 1)
	assert.Equal(t, "Good lunch!", meals[0].Content)
	require.NotNil(t, meals[0].Nutrition)
	assert.Len(t, meals[0].Nutrition.FoodItems, 2)
	assert.Equal(t, 235.0, meals[0].Nutrition.Calories)
	assert.False(t, meals[0].Timestamp.Before(cutoff))

	all, err := s.LoadMealsSince(ctx, "s1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
