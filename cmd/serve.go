package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/cometsec/comet/internal/message"
	"github.com/cometsec/comet/internal/report"
	"github.com/cometsec/comet/pkg/config"
)

var (
	serveAddr  string
	serveEvery time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the exporter as an HTTP-triggered (and optionally scheduled) service",
	Long: `Serve exposes POST /api/v1/export to trigger a run on demand and
GET /healthz for liveness. With --every, runs are additionally started on a
fixed schedule. Only one run executes at a time; triggers that arrive while
a run is in progress are rejected with 409.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(true); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		srv := &trigger{cfg: cfg}

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Get("/healthz", srv.health)
		r.Post("/api/v1/export", srv.export)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		httpSrv := &http.Server{Addr: serveAddr, Handler: r}
		errCh := make(chan error, 1)
		go func() {
			message.Info("Listening on %s", serveAddr)
			errCh <- httpSrv.ListenAndServe()
		}()

		if serveEvery > 0 {
			go srv.schedule(ctx, serveEvery)
		}

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().DurationVar(&serveEvery, "every", 0, "additionally run an export on this interval (0 disables)")
	rootCmd.AddCommand(serveCmd)
}

// trigger serializes export runs: the mutex is held for the whole run, so
// TryLock doubles as the busy indicator.
type trigger struct {
	cfg *config.Config
	mu  sync.Mutex
}

// errBusy reports a trigger that arrived while a run was in progress.
var errBusy = errors.New("an export run is already in progress")

// run executes one export under the single-flight lock.
func (t *trigger) run(ctx context.Context) (report.Document, error) {
	if !t.mu.TryLock() {
		return report.Document{}, errBusy
	}
	defer t.mu.Unlock()

	runner, err := buildRunner(t.cfg, false)
	if err != nil {
		return report.Document{}, err
	}
	return report.New(runner.Run(ctx)), nil
}

func (t *trigger) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// export handles the on-demand trigger: 200 with the report on success,
// 500 with the report on failure, 409 while another run is in flight.
func (t *trigger) export(w http.ResponseWriter, r *http.Request) {
	doc, err := t.run(r.Context())
	w.Header().Set("Content-Type", "application/json")

	switch {
	case errors.Is(err, errBusy):
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": errBusy.Error()})
		return
	case err != nil:
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	if !doc.Success {
		w.WriteHeader(http.StatusInternalServerError)
	}
	_ = json.NewEncoder(w).Encode(doc)
}

// schedule starts an export on every tick; ticks that land while a run is
// still going are skipped, not queued.
func (t *trigger) schedule(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			doc, err := t.run(ctx)
			if errors.Is(err, errBusy) {
				slog.Warn("scheduled export skipped, previous run still in progress")
				continue
			}
			if err != nil {
				slog.Error("scheduled export failed to start", "error", err)
				continue
			}
			slog.Info("scheduled export finished",
				"exportId", doc.ExportID,
				"success", doc.Success,
				"failedScopes", doc.FailedScopes)
		}
	}
}
