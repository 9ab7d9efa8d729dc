package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/calai/calai/internal/api"
	"github.com/calai/calai/internal/profile"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Serve the meal analysis API:

  POST   /api/analyze-meal
  GET    /api/chat-history?session_id=&limit=&offset=
  DELETE /api/chat-history/{session_id}
  GET    /api/session-summary/{session_id}
  GET    /api/context/{session_id}
  GET    /api/profile/{session_id}
  PUT    /api/profile/{session_id}
  GET    /api/health

Press Ctrl-C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if a.cfg.Profiles.File != "" && a.cfg.Profiles.Watch {
				w := profile.NewWatcher(a.cfg.Profiles.File, a.orch, a.log, 0)
				go func() {
					if err := w.Run(ctx); err != nil {
						a.log.WithError(err).Warn("profiles watcher stopped")
					}
				}()
			}

			srv := &http.Server{
				Addr: addr,
				Handler: api.NewRouter(a.orch, a.log, api.Options{
					CORSOrigins: a.cfg.Server.CORSOrigins,
					Timeout:     a.cfg.Server.WriteTimeout.Duration,
				}),
				ReadTimeout:  a.cfg.Server.ReadTimeout.Duration,
				WriteTimeout: a.cfg.Server.WriteTimeout.Duration,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.WithField("addr", addr).Info("http server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("serve: shutdown: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8000)")
	return cmd
}
