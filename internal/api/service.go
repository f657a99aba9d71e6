package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pvginkel/ModernAppTemplate/internal/analysis"
	"github.com/pvginkel/ModernAppTemplate/internal/apperr"
	"github.com/pvginkel/ModernAppTemplate/internal/models"
	"github.com/pvginkel/ModernAppTemplate/internal/ownership"
	"github.com/pvginkel/ModernAppTemplate/internal/report"
)

// AnalyzeFunc runs one analysis of the served application.
type AnalyzeFunc func(ctx context.Context) (*analysis.Result, error)

// Service holds the latest analysis of one application and reruns it on
// demand. Runs are serialised; readers always see a complete result.
type Service struct {
	analyze AnalyzeFunc
	logger  *slog.Logger

	runMu sync.Mutex

	mu       sync.RWMutex
	result   *analysis.Result
	report   *report.Report
	err      error
	analyzed time.Time
	runs     int
}

// NewService creates a service that analyses with fn.
func NewService(fn AnalyzeFunc, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{analyze: fn, logger: logger}
}

// Status describes the latest analysis.
type Status struct {
	Runs       int       `json:"runs"`
	AnalyzedAt time.Time `json:"analyzed_at"`
	Error      string    `json:"error,omitempty"`
	ExitCode   int       `json:"exit_code"`
}

// Reanalyze runs the analysis and stores its outcome. A failed run keeps
// the previous report available and records the error.
func (s *Service) Reanalyze(ctx context.Context) (*report.Report, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()
	res, err := s.analyze(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	s.analyzed = time.Now()
	s.err = err
	if err != nil {
		s.logger.Warn("service: analysis failed", slog.String("error", err.Error()))
		return nil, err
	}
	s.result = res
	s.report = res.Report()
	s.logger.Info("service: analysis stored",
		slog.Int("findings", len(s.report.Findings)),
		slog.Duration("took", time.Since(start)))
	return s.report, nil
}

// Report returns the latest report, or nil before the first successful run.
func (s *Service) Report() *report.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// Records returns the latest classification restricted to cats, or all
// records when cats is empty.
func (s *Service) Records(cats ...models.Category) []models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == nil {
		return nil
	}
	if len(cats) == 0 {
		return s.result.Records
	}
	return ownership.Filter(s.result.Records, cats...)
}

// Status reports the outcome of the latest run.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{Runs: s.runs, AnalyzedAt: s.analyzed}
	switch {
	case s.err != nil:
		st.Error = s.err.Error()
		st.ExitCode = apperr.ExitCode(s.err)
	case s.report != nil:
		st.ExitCode = report.ExitCode(s.report)
	}
	return st
}
