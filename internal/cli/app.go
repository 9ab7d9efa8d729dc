package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/calai/calai/internal/adapter"
	"github.com/calai/calai/internal/analyzer"
	"github.com/calai/calai/internal/config"
	"github.com/calai/calai/internal/db"
	"github.com/calai/calai/internal/history"
	"github.com/calai/calai/internal/logging"
	"github.com/calai/calai/internal/profile"
	"github.com/calai/calai/internal/prompt"
	"github.com/calai/calai/internal/session"
)

// app holds everything a command needs, wired from config.
type app struct {
	cfg     config.Config
	log     *logrus.Logger
	db      *db.DB
	history *history.Store
	orch    *analyzer.Orchestrator
}

// loadConfig reads .env files and the config file, then applies flag
// overrides.
func loadConfig() (config.Config, error) {
	if err := config.LoadEnvFiles(envFiles...); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// newApp wires the session store, prompt builder, model backend and
// persistence into an orchestrator. Logs go to stderr so stdout stays free
// for command output and the MCP stdio transport.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}

	store := session.NewStore(session.Options{
		HistoryLimit: cfg.Session.HistoryLimit,
		PromptTurns:  cfg.Session.PromptTurns,
		RecentMeals:  cfg.Session.RecentMeals,
	})

	raw, err := adapter.New(adapter.Settings{
		Provider:         cfg.AI.Provider,
		AnthropicKey:     cfg.AI.AnthropicKey,
		AnthropicBaseURL: cfg.AI.AnthropicBaseURL,
		ClaudeModel:      cfg.AI.ClaudeModel,
		OpenAIKey:        cfg.AI.OpenAIKey,
		OpenAIBaseURL:    cfg.AI.OpenAIBaseURL,
		OpenAIModel:      cfg.AI.OpenAIModel,
		OllamaHost:       cfg.AI.OllamaHost,
		OllamaModel:      cfg.AI.OllamaModel,
		MaxTokens:        cfg.AI.MaxTokens,
		Temperature:      cfg.AI.Temperature,
	})
	if err != nil {
		return nil, err
	}
	backend := adapter.NewResilient(raw, log, cfg.AI.Timeout.Duration)
	info := backend.Info()
	log.WithFields(logrus.Fields{
		"provider":   info.Provider,
		"model":      info.Model,
		"configured": info.Configured,
	}).Info("model backend selected")

	// The tokenizer downloads its encoding on first use; without it the
	// history block is sent unbudgeted.
	var builder *prompt.Builder
	if tok, err := prompt.NewTokenizer(info.Model); err == nil {
		log.WithField("encoding", tok.Encoding()).Debug("prompt history budgeted")
		builder = prompt.NewBuilder(tok, cfg.Session.HistoryTokenBudget)
	} else {
		log.WithError(err).Debug("tokenizer unavailable, prompt history is not budgeted")
		builder = prompt.NewBuilder(nil, cfg.Session.HistoryTokenBudget)
	}

	var persist analyzer.Persistence
	if cfg.Storage.Enabled {
		database, err := db.Open(cfg.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.db = database
		a.history = history.NewStore(database)
		persist = a.history
	}

	a.orch = analyzer.New(store, builder, backend, persist, log, analyzer.Options{
		MaxInputChars:    cfg.Session.MaxInputChars,
		HydrateTurns:     cfg.Session.HistoryLimit,
		DefaultLanguage:  cfg.Session.DefaultLanguage,
		FallbackToRecent: cfg.History.FallbackToRecent,
	})

	if cfg.Profiles.File != "" {
		n, err := profile.LoadAndApply(cfg.Profiles.File, a.orch)
		if err != nil {
			log.WithError(err).Warn("profiles file not applied")
		} else {
			log.WithFields(logrus.Fields{"path": cfg.Profiles.File, "profiles": n}).Info("profiles loaded")
		}
	}

	return a, nil
}

// Close releases the database.
func (a *app) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
