package strata

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Report describes one failed operation. Every public Store method
// that fails builds a Report and hands it to the configured
// ErrorReporter before propagating the error unchanged.
type Report struct {
	// ID is a UUIDv7, time-sortable, for correlating a returned error
	// with the reporter's record of it.
	ID    string
	Time  time.Time
	Op    string
	Table string
	Err   error
}

// ErrorReporter receives failure reports from the facade. Report must
// be safe for concurrent use.
type ErrorReporter interface {
	Report(Report)
}

// LogReporter writes reports through slog. The zero value logs to
// slog.Default.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Report(rep Report) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("storage operation failed",
		"report_id", rep.ID,
		"op", rep.Op,
		"table", rep.Table,
		"error", rep.Err,
	)
}

// MemoryReporter retains reports in memory for later inspection. Useful
// in tests and for surfacing recent failures through an admin view.
type MemoryReporter struct {
	mu      sync.Mutex
	reports []Report
}

func (r *MemoryReporter) Report(rep Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

// Reports returns a copy of everything reported so far, oldest first.
func (r *MemoryReporter) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Report, len(r.reports))
	copy(out, r.reports)
	return out
}

// Clear drops all retained reports.
func (r *MemoryReporter) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = nil
}

func newReportID() string {
	return uuid.Must(uuid.NewV7()).String()
}
