// Package internal provides the command implementations and runtime wiring
// of the drift checker.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/pvginkel/ModernAppTemplate/internal/analysis"
	"github.com/pvginkel/ModernAppTemplate/internal/api"
	"github.com/pvginkel/ModernAppTemplate/internal/apperr"
	"github.com/pvginkel/ModernAppTemplate/internal/mcpserver"
	"github.com/pvginkel/ModernAppTemplate/internal/report"
	"github.com/pvginkel/ModernAppTemplate/internal/sse"
	"github.com/pvginkel/ModernAppTemplate/internal/storage"
	"github.com/pvginkel/ModernAppTemplate/internal/watch"
	"github.com/pvginkel/ModernAppTemplate/internal/workspace"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{
		version: "dev",
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// logger builds the slog logger on stderr. defaultFormat applies when the
// configuration leaves the format open.
func (a *application) logger(defaultFormat string) *slog.Logger {
	cfg := a.config.App
	format := cfg.LogFormat
	if format == LogFormatAuto {
		format = defaultFormat
	}
	hopts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var h slog.Handler
	if format == LogFormatJSON {
		h = slog.NewJSONHandler(a.stderr, hopts)
	} else {
		h = slog.NewTextHandler(a.stderr, hopts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

func (a *application) analysisOptions(logger *slog.Logger) []analysis.Option {
	cfg := a.config
	return []analysis.Option{
		analysis.WithAnswersFile(cfg.Snapshot.AnswersFile),
		analysis.WithIgnore(cfg.Snapshot.Ignore...),
		analysis.WithWorkers(cfg.Detect.Workers),
		analysis.WithContextLines(cfg.Detect.ContextLines),
		analysis.WithLogger(logger),
	}
}

func (a *application) textOptions() report.TextOptions {
	return report.TextOptions{Color: a.config.Report.Color}
}

// CheckRequest selects the application and the evidence of one check.
type CheckRequest struct {
	AppRoot  string
	Template string
	Commits  bool
	Diff     bool
}

func (r CheckRequest) options() []analysis.Option {
	opts := []analysis.Option{analysis.WithEvidence(r.Commits, r.Diff)}
	if r.Template != "" {
		opts = append(opts, analysis.WithTemplate(r.Template))
	}
	return opts
}

// Check analyses one application, writes the report to stdout and
// returns the process exit code.
func Check(ctx context.Context, req CheckRequest, opts ...Option) (int, error) {
	app, err := newApplication(opts)
	if err != nil {
		return apperr.ExitConfig, err
	}
	logger := app.logger(LogFormatText)

	res, err := analysis.Run(ctx, req.AppRoot, append(app.analysisOptions(logger), req.options()...)...)
	if err != nil {
		return apperr.ExitCode(err), err
	}
	rep := res.Report()
	if err := report.Write(app.stdout, rep, app.config.Report.Format, app.textOptions()); err != nil {
		return apperr.ExitConfig, fmt.Errorf("write report: %w", err)
	}
	return report.ExitCode(rep), nil
}

// Changes prints the commits and the diff since the application's last
// template sync.
func Changes(ctx context.Context, appRoot string, opts ...Option) (int, error) {
	app, err := newApplication(opts)
	if err != nil {
		return apperr.ExitConfig, err
	}
	logger := app.logger(LogFormatText)

	cs, err := analysis.Changes(ctx, appRoot, app.analysisOptions(logger)...)
	if err != nil {
		return apperr.ExitCode(err), err
	}
	if app.config.Report.Format == "json" {
		enc := json.NewEncoder(app.stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(cs)
	} else {
		err = cs.WriteText(app.stdout)
	}
	if err != nil {
		return apperr.ExitConfig, fmt.Errorf("write changes: %w", err)
	}
	return apperr.ExitClean, nil
}

// WorkspaceRequest selects a VS Code workspace file and the evidence to
// collect for each generated application in it.
type WorkspaceRequest struct {
	File     string
	Template string
	Commits  bool
	Diff     bool
}

type workspaceEntry struct {
	Name   string         `json:"name"`
	Path   string         `json:"path"`
	Report *report.Report `json:"report,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Workspace checks every workspace folder that holds an answers file. The
// exit code is the worst one of the individual checks.
func Workspace(ctx context.Context, req WorkspaceRequest, opts ...Option) (int, error) {
	app, err := newApplication(opts)
	if err != nil {
		return apperr.ExitConfig, err
	}
	logger := app.logger(LogFormatText)

	ws, err := workspace.Load(req.File)
	if err != nil {
		return apperr.ExitConfig, err
	}
	folders := ws.Apps(app.config.Snapshot.AnswersFile)
	if len(folders) == 0 {
		return apperr.ExitConfig, fmt.Errorf("workspace %s: no folder has %s", req.File, app.config.Snapshot.AnswersFile)
	}
	logger.Info("workspace: checking apps", slog.String("file", req.File), slog.Int("apps", len(folders)))

	check := CheckRequest{Template: req.Template, Commits: req.Commits, Diff: req.Diff}
	base := append(app.analysisOptions(logger), check.options()...)

	worst := apperr.ExitClean
	entries := make([]workspaceEntry, 0, len(folders))
	for _, f := range folders {
		if err := ctx.Err(); err != nil {
			return apperr.ExitConfig, err
		}
		entry := workspaceEntry{Name: f.Name, Path: f.Path}
		var code int
		res, err := analysis.Run(ctx, f.Path, base...)
		if err != nil {
			logger.Error("workspace: check failed", slog.String("app", f.Name), slog.String("error", err.Error()))
			entry.Error = err.Error()
			code = apperr.ExitCode(err)
		} else {
			entry.Report = res.Report()
			code = report.ExitCode(entry.Report)
		}
		worst = max(worst, code)
		entries = append(entries, entry)
	}

	if app.config.Report.Format == "json" {
		enc := json.NewEncoder(app.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return apperr.ExitConfig, fmt.Errorf("write report: %w", err)
		}
		return worst, nil
	}
	for _, e := range entries {
		if e.Report == nil {
			if _, err := fmt.Fprintf(app.stdout, "\n%s: %s\n", e.Name, e.Error); err != nil {
				return apperr.ExitConfig, err
			}
			continue
		}
		if err := report.WriteText(app.stdout, e.Report, app.textOptions()); err != nil {
			return apperr.ExitConfig, fmt.Errorf("write report: %w", err)
		}
	}
	return worst, nil
}

// ServeRequest selects the application served by Serve.
type ServeRequest struct {
	AppRoot  string
	Template string
}

// Serve keeps the report of one application up to date while its tree
// changes and serves it over HTTP with live SSE notifications.
func Serve(ctx context.Context, req ServeRequest, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger(LogFormatJSON)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.Serve.Address()),
		slog.String("app_root", req.AppRoot),
		slog.String("template", req.Template),
		slog.String("log_level", cfg.App.LogLevel.String()))

	check := CheckRequest{AppRoot: req.AppRoot, Template: req.Template, Commits: true, Diff: true}
	aopts := append(app.analysisOptions(logger), check.options()...)
	svc := api.NewService(func(ctx context.Context) (*analysis.Result, error) {
		return analysis.Run(ctx, req.AppRoot, aopts...)
	}, logger)

	// The watcher skips what the snapshot skips.
	tree, err := storage.NewFS(req.AppRoot, storage.WithIgnore(cfg.Snapshot.Ignore...))
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	broker := sse.NewBroker()
	defer broker.Close()

	reanalyze := func(ctx context.Context) {
		rep, err := svc.Reanalyze(ctx)
		if err != nil {
			broker.PublishFailure(err)
			return
		}
		broker.PublishReport(rep)
	}

	if rep, err := svc.Reanalyze(ctx); err != nil {
		logger.Warn("initial analysis failed", slog.String("error", err.Error()))
		broker.PublishFailure(err)
	} else {
		broker.PublishReport(rep)
	}

	h := api.NewHandler(svc)
	h.OnReanalyzed = broker.PublishReport
	apiRouter := api.NewRouter(h, cfg.Serve.Auth.AuthEnabled(), cfg.Serve.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if svc.Report() == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"pending"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.Serve.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	watchTree := func(root string, skip func(string) bool) {
		g.Go(func() error {
			return watch.Watch(gCtx, watch.Config{
				Root:     root,
				Debounce: cfg.Serve.Debounce,
				Skip:     skip,
				OnEvent:  broker.PublishFileEvent,
				OnSettle: func([]string) { reanalyze(gCtx) },
			}, logger)
		})
	}
	watchTree(req.AppRoot, tree.Ignored)
	if req.Template != "" {
		watchTree(filepath.Clean(req.Template), nil)
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.Serve.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// MCP serves the drift checker tools over stdio until ctx is done or the
// client disconnects.
func MCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger(LogFormatJSON)
	srv := mcpserver.New(app.version, app.analysisOptions(logger)...)
	logger.Info("mcp: serving on stdio", slog.String("version", app.version))
	if err := srv.ServeStdio(ctx, app.stdin, app.stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
