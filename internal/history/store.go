package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/calai/calai/internal/db"
	"github.com/calai/calai/internal/nutrition"
	"github.com/calai/calai/internal/session"
)

// Store provides read/write access to persisted conversations.
type Store struct {
	db  *db.DB
	now func() time.Time
}

// NewStore creates a Store backed by the given DB.
func NewStore(database *db.DB) *Store {
	return &Store{db: database, now: time.Now}
}

// ---- Sessions ----

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertSession(ctx context.Context, e execer, id string, now time.Time) error {
	ts := formatTime(now)
	_, err := e.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, last_activity) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_activity = excluded.last_activity`,
		id, ts, ts,
	)
	return err
}

// MostRecentSession returns the id of the session with the latest activity.
func (s *Store) MostRecentSession(ctx context.Context) (string, bool, error) {
	var id string
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT id FROM sessions ORDER BY last_activity DESC LIMIT 1`,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("history: most recent session: %w", err)
	}
	return id, true, nil
}

// SessionSummary returns counts for a session. Unknown sessions report
// Exists false and no error.
func (s *Store) SessionSummary(ctx context.Context, id string) (Stats, error) {
	st := Stats{SessionID: id}
	var createdAt, lastActivity string
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT created_at, last_activity FROM sessions WHERE id = ?`, id,
	).Scan(&createdAt, &lastActivity)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("history: session summary: %w", err)
	}
	st.Exists = true
	st.CreatedAt = parseTime(createdAt)
	st.LastActivity = parseTime(lastActivity)

	err = s.db.Conn().QueryRowContext(ctx, `
		SELECT COUNT(m.id), COUNT(n.id), COALESCE(SUM(n.total_calories), 0)
		FROM messages m LEFT JOIN nutrition_info n ON n.id = m.nutrition_id
		WHERE m.session_id = ?`, id,
	).Scan(&st.MessageCount, &st.MealsAnalyzed, &st.CaloriesTracked)
	if err != nil {
		return st, fmt.Errorf("history: session summary counts: %w", err)
	}
	return st, nil
}

// ---- Messages ----

// SaveMessage persists one turn, creating the session row when needed. A
// result with food items is stored alongside as a nutrition record. It
// returns the new message id.
func (s *Store) SaveMessage(ctx context.Context, sessionID string, role session.Role, content string, result *nutrition.Result) (string, error) {
	now := s.now()
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("history: save message: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertSession(ctx, tx, sessionID, now); err != nil {
		return "", fmt.Errorf("history: save message: session: %w", err)
	}

	var nutritionID sql.NullString
	if result != nil && result.HasFood() {
		id, err := insertNutrition(ctx, tx, *result, now)
		if err != nil {
			return "", fmt.Errorf("history: save message: nutrition: %w", err)
		}
		nutritionID = sql.NullString{String: id, Valid: true}
	}

	msgID := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, nutrition_id, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?))`,
		msgID, sessionID, string(role), content, nutritionID, formatTime(now), sessionID,
	)
	if err != nil {
		return "", fmt.Errorf("history: save message: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("history: save message: commit: %w", err)
	}
	return msgID, nil
}

func insertNutrition(ctx context.Context, tx *sql.Tx, r nutrition.Result, now time.Time) (string, error) {
	r.Recompute()
	id := uuid.NewString()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO nutrition_info (id, total_calories, total_protein, total_carbs, total_fat,
		                            total_fiber, total_sugar, total_sodium, analysis_notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.Calories, r.Protein, r.Carbs, r.Fat,
		nullFloat(r.Fiber), nullFloat(r.Sugar), nullFloat(r.Sodium), r.AnalysisNotes, formatTime(now),
	)
	if err != nil {
		return "", err
	}
	for i, it := range r.FoodItems {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO food_items (id, nutrition_info_id, position, name, name_local, amount, unit,
			                        calories, protein, carbs, fat, fiber, sugar, sodium)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), id, i, it.Name, it.NameLocal, it.Amount, it.Unit,
			it.Calories, it.Protein, it.Carbs, it.Fat,
			nullFloat(it.Fiber), nullFloat(it.Sugar), nullFloat(it.Sodium),
		)
		if err != nil {
			return "", err
		}
	}
	return id, nil
}

// LoadRecentMessages returns up to n of the session's newest messages,
// oldest first.
func (s *Store) LoadRecentMessages(ctx context.Context, sessionID string, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}
	msgs, err := s.queryMessages(ctx, sessionID, n, 0)
	if err != nil {
		return nil, fmt.Errorf("history: load recent: %w", err)
	}
	return msgs, nil
}

// LoadMealsSince returns the session's messages that carry a nutrition
// record and were stored at or after since, oldest first.
func (s *Store) LoadMealsSince(ctx context.Context, sessionID string, since time.Time) ([]Message, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, role, content, nutrition_id, created_at
		FROM messages
		WHERE session_id = ? AND nutrition_id IS NOT NULL AND created_at >= ?
		ORDER BY seq`,
		sessionID, formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("history: load meals: %w", err)
	}

	var scanned []messageRow
	for rows.Next() {
		var r messageRow
		var role, createdAt string
		if err := rows.Scan(&r.msg.ID, &role, &r.msg.Content, &r.nutritionID, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("history: load meals: %w", err)
		}
		r.msg.SessionID = sessionID
		r.msg.Role = session.Role(role)
		r.msg.Timestamp = parseTime(createdAt)
		scanned = append(scanned, r)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("history: load meals: %w", err)
	}

	out := make([]Message, 0, len(scanned))
	for _, r := range scanned {
		res, err := s.loadNutrition(ctx, r.nutritionID.String)
		if err != nil {
			return nil, fmt.Errorf("history: load meals: %w", err)
		}
		res.Reply = r.msg.Content
		r.msg.Nutrition = &res
		out = append(out, r.msg)
	}
	return out, nil
}

// ChatHistory returns one page of a session's messages. Pages are counted
// from the newest message; each page is ordered oldest first. An unknown
// session yields an empty page.
func (s *Store) ChatHistory(ctx context.Context, sessionID string, limit, offset int) (Page, error) {
	page := Page{SessionID: sessionID, Messages: []Message{}}
	if limit <= 0 {
		return page, nil
	}
	if offset < 0 {
		offset = 0
	}

	if err := s.db.Conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID,
	).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("history: count messages: %w", err)
	}
	if page.Total == 0 {
		return page, nil
	}

	msgs, err := s.queryMessages(ctx, sessionID, limit, offset)
	if err != nil {
		return page, fmt.Errorf("history: chat history: %w", err)
	}
	page.Messages = msgs
	page.HasMore = offset+limit < page.Total
	return page, nil
}

// DeleteMessages removes every message of a session and the nutrition
// records they reference. It returns the number of messages removed.
func (s *Store) DeleteMessages(ctx context.Context, sessionID string) (int, error) {
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("history: delete messages: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM nutrition_info WHERE id IN (
			SELECT nutrition_id FROM messages WHERE session_id = ? AND nutrition_id IS NOT NULL
		)`, sessionID); err != nil {
		return 0, fmt.Errorf("history: delete nutrition: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("history: delete messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("history: delete messages: commit: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type messageRow struct {
	msg         Message
	nutritionID sql.NullString
	analysis    string
}

// queryMessages loads limit messages newest-first from offset and returns
// them oldest first with their nutrition attached.
func (s *Store) queryMessages(ctx context.Context, sessionID string, limit, offset int) ([]Message, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, role, content, nutrition_id, created_at
		FROM messages WHERE session_id = ?
		ORDER BY seq DESC LIMIT ? OFFSET ?`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, err
	}

	var scanned []messageRow
	for rows.Next() {
		var r messageRow
		var role, createdAt string
		if err := rows.Scan(&r.msg.ID, &role, &r.msg.Content, &r.nutritionID, &createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		r.msg.SessionID = sessionID
		r.msg.Role = session.Role(role)
		r.msg.Timestamp = parseTime(createdAt)
		scanned = append(scanned, r)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	// The connection pool holds a single connection, so nutrition is loaded
	// only after the message rows are closed.
	out := make([]Message, len(scanned))
	for i, r := range scanned {
		if r.nutritionID.Valid {
			res, err := s.loadNutrition(ctx, r.nutritionID.String)
			if err != nil {
				return nil, err
			}
			if res.Reply == "" && r.msg.Role == session.RoleAssistant {
				res.Reply = r.msg.Content
			}
			r.msg.Nutrition = &res
		}
		out[len(scanned)-1-i] = r.msg
	}
	return out, nil
}

func (s *Store) loadNutrition(ctx context.Context, id string) (nutrition.Result, error) {
	var res nutrition.Result
	var notes sql.NullString
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT COALESCE(analysis_notes, '') FROM nutrition_info WHERE id = ?`, id,
	).Scan(&notes)
	if err != nil {
		return res, fmt.Errorf("load nutrition %s: %w", id, err)
	}
	res.AnalysisNotes = notes.String
	res.InputType = nutrition.IntentFood

	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT name, COALESCE(name_local, ''), amount, COALESCE(unit, ''),
		       calories, protein, carbs, fat, fiber, sugar, sodium
		FROM food_items WHERE nutrition_info_id = ? ORDER BY position`, id,
	)
	if err != nil {
		return res, fmt.Errorf("load food items %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var it nutrition.FoodItem
		var fiber, sugar, sodium sql.NullFloat64
		if err := rows.Scan(&it.Name, &it.NameLocal, &it.Amount, &it.Unit,
			&it.Calories, &it.Protein, &it.Carbs, &it.Fat, &fiber, &sugar, &sodium); err != nil {
			return res, err
		}
		it.Fiber = floatPtr(fiber)
		it.Sugar = floatPtr(sugar)
		it.Sodium = floatPtr(sodium)
		res.FoodItems = append(res.FoodItems, it)
	}
	if err := rows.Err(); err != nil {
		return res, err
	}
	res.Recompute()
	return res, nil
}

// ---- helpers ----

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime tries multiple SQLite timestamp layouts.
func parseTime(s string) time.Time {
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
