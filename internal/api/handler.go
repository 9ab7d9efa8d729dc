package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/calai/calai/internal/analyzer"
	"github.com/calai/calai/internal/nutrition"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxBodyBytes        = 1 << 20
)

// Handler serves the meal analysis API.
type Handler struct {
	orch *analyzer.Orchestrator
	log  logrus.FieldLogger
}

// New creates a Handler.
func New(orch *analyzer.Orchestrator, log logrus.FieldLogger) *Handler {
	return &Handler{orch: orch, log: log}
}

// RegisterRoutes mounts the handler's routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Post("/analyze-meal", h.handleAnalyzeMeal)
	r.Get("/chat-history", h.handleChatHistory)
	r.Delete("/chat-history/{sessionID}", h.handleClearHistory)
	r.Get("/session-summary/{sessionID}", h.handleSessionSummary)
	r.Get("/context/{sessionID}", h.handleContext)
	r.Get("/profile/{sessionID}", h.handleGetProfile)
	r.Put("/profile/{sessionID}", h.handlePutProfile)
}

type analyzeRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Language  string `json:"language"`
}

type analyzeResponse struct {
	MessageID  string           `json:"message_id"`
	Nutrition  nutrition.Result `json:"nutrition"`
	AIResponse string           `json:"ai_response"`
	SessionID  string           `json:"session_id"`
	Timestamp  time.Time        `json:"timestamp"`
}

func (h *Handler) handleAnalyzeMeal(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.orch.Analyze(r.Context(), analyzer.Request{
		Text:      req.Message,
		SessionID: req.SessionID,
		Language:  req.Language,
	})
	var inputErr *analyzer.InputError
	if errors.As(err, &inputErr) {
		respondError(w, http.StatusBadRequest, inputErr.Reason)
		return
	}
	if err != nil {
		h.log.WithError(err).Error("analyze meal")
		respondError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	respondJSON(w, http.StatusOK, analyzeResponse{
		MessageID:  resp.MessageID,
		Nutrition:  resp.Result,
		AIResponse: resp.Result.Reply,
		SessionID:  resp.SessionID,
		Timestamp:  resp.Timestamp,
	})
}

func (h *Handler) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryLimit {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	page, err := h.orch.ChatHistory(r.Context(), q.Get("session_id"), limit, offset)
	if errors.Is(err, analyzer.ErrSessionRequired) {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if err != nil {
		h.log.WithError(err).Error("chat history")
		respondError(w, http.StatusInternalServerError, "failed to load chat history")
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (h *Handler) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	h.orch.Clear(r.Context(), chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSessionSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	st, err := h.orch.SessionStats(r.Context(), id)
	if err != nil {
		h.log.WithError(err).Error("session summary")
		respondError(w, http.StatusInternalServerError, "failed to load session summary")
		return
	}
	if !st.Exists {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (h *Handler) handleContext(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.orch.ContextSummary(r.Context(), chi.URLParam(r, "sessionID")))
}

type profileResponse struct {
	SessionID string            `json:"session_id"`
	Profile   map[string]string `json:"profile"`
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	p := h.orch.Profile(id)
	if p == nil {
		p = map[string]string{}
	}
	respondJSON(w, http.StatusOK, profileResponse{SessionID: id, Profile: p})
}

func (h *Handler) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	var profile map[string]string
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&profile); err != nil {
		respondError(w, http.StatusBadRequest, "profile must be an object of string values")
		return
	}
	id := chi.URLParam(r, "sessionID")
	h.orch.SetProfile(id, profile)
	respondJSON(w, http.StatusOK, profileResponse{SessionID: id, Profile: h.orch.Profile(id)})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := h.orch.Info()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"provider":   info.Provider,
		"model":      info.Model,
		"configured": info.Configured,
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
