// Package strata is an embeddable storage layer with switchable
// backends: a document store keeping one JSON file per table and a
// relational store on SQLite, unified behind one driver contract, one
// query vocabulary, and one transaction model.
//
// A Store owns the active driver and its configuration. Writes flow
// through a fixed pipeline: reserved fields are stripped, the optional
// Validator runs, timestamps are stamped, then the driver persists.
// Failures are handed to the ErrorReporter and propagated unchanged.
package strata

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

// Options configures Open and OpenFromEnv. Only Config is consulted by
// Open; OpenFromEnv builds its own. Nil collaborators take defaults: a
// LogReporter on Logger, slog.Default for Logger, time.Now for Now,
// and no validation.
type Options struct {
	Config    Config
	Validator Validator
	Reporter  ErrorReporter
	Logger    *slog.Logger
	Now       func() time.Time
}

// Store is the storage facade. All methods are safe for concurrent
// use; the active driver additionally serializes its own operations.
type Store struct {
	mu     sync.Mutex
	drv    driver.Driver
	bulk   driver.Bulk // nil when the active driver has no native batch support
	caps   driver.Capabilities
	cfg    Config
	source Source
	closed bool

	validator Validator
	reporter  ErrorReporter
	logger    *slog.Logger
	now       func() time.Time
}

// Open activates the driver selected by opts.Config. The configuration
// source is recorded as override, so SwitchDriver is permitted without
// force.
func Open(ctx context.Context, opts Options) (*Store, error) {
	cfg := opts.Config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return open(ctx, cfg, SourceOverride, opts)
}

// OpenFromEnv activates the driver selected by the environment (see
// FromEnv). The configuration source is recorded as env: a later
// SwitchDriver without force is refused, keeping code from silently
// diverging from deployment settings.
func OpenFromEnv(ctx context.Context, opts Options) (*Store, error) {
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	return open(ctx, cfg, SourceEnv, opts)
}

func open(ctx context.Context, cfg Config, source Source, opts Options) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &Store{
		validator: opts.Validator,
		reporter:  opts.Reporter,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.reporter == nil {
		s.reporter = LogReporter{Logger: s.logger}
	}
	if s.now == nil {
		s.now = time.Now
	}

	drv, err := openDriver(cfg)
	if err != nil {
		return nil, err
	}
	s.activate(drv, cfg, source)
	s.logger.Info("storage driver activated",
		"driver", cfg.Driver, "source", source)
	return s, nil
}

// activate installs drv as the active driver. Callers must hold mu or
// be the only reference holder.
func (s *Store) activate(drv driver.Driver, cfg Config, source Source) {
	s.drv = drv
	s.bulk, _ = drv.(driver.Bulk)
	s.caps = drv.Capabilities()
	s.cfg = cfg
	s.source = source
}

// Shutdown closes the active driver and invalidates the store. Every
// later operation returns ErrClosed. Safe to call more than once.
func (s *Store) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	drv := s.drv
	s.drv = nil
	s.bulk = nil
	if drv == nil {
		return nil
	}
	return drv.Close()
}

// SwitchDriver permanently activates the driver selected by cfg and
// closes the previous one. When the active configuration came from the
// environment the switch is refused unless force is set; use WithDriver
// for a scoped override instead.
func (s *Store) SwitchDriver(ctx context.Context, cfg Config, force bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.source == SourceEnv && !force {
		s.logger.Warn("driver switch refused: active configuration came from the environment",
			"active", s.cfg.Driver, "requested", cfg.Driver)
		return ErrSwitchRefused
	}

	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}
	drv, err := openDriver(cfg)
	if err != nil {
		return err
	}

	old := s.drv
	s.activate(drv, cfg, SourceOverride)
	s.logger.Info("storage driver switched",
		"driver", cfg.Driver, "source", SourceOverride)
	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Warn("closing previous driver", "error", err)
		}
	}
	return nil
}

// WithDriver activates the driver selected by cfg for the duration of
// fn, then restores the previous driver and closes the temporary one on
// every exit path. Inside fn the configuration source is context.
func (s *Store) WithDriver(ctx context.Context, cfg Config, fn func(*Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	temp, err := openDriver(cfg)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	prevDrv, prevBulk, prevCaps := s.drv, s.bulk, s.caps
	prevCfg, prevSource := s.cfg, s.source
	s.activate(temp, cfg, SourceContext)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		restored := !s.closed && s.drv == temp
		if restored {
			s.drv, s.bulk, s.caps = prevDrv, prevBulk, prevCaps
			s.cfg, s.source = prevCfg, prevSource
		} else if prevDrv != nil {
			// fn shut the store down or switched drivers itself; the
			// saved driver must not leak.
			prevDrv.Close()
		}
		s.mu.Unlock()
		temp.Close()
		if restored {
			s.logger.Info("storage driver restored",
				"driver", prevCfg.Driver, "source", prevSource)
		}
	}()
	return fn(s)
}

// ActiveConfig returns the active configuration and where it came
// from.
func (s *Store) ActiveConfig() (Config, Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.source
}

// Capabilities reports what the active driver supports.
func (s *Store) Capabilities() driver.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// HasBulk reports whether the active driver implements native batch
// operations. The bulk methods work either way; without native support
// they fall back to single-record operations inside one transaction.
func (s *Store) HasBulk() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bulk != nil
}

// handle returns the active driver, plus its Bulk surface when native.
func (s *Store) handle() (driver.Driver, driver.Bulk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrClosed
	}
	return s.drv, s.bulk, nil
}

// fail reports err under op/table and returns it unchanged. Facade
// methods call it exactly once per failed public operation.
func (s *Store) fail(op, table string, err error) error {
	if err == nil {
		return nil
	}
	s.reporter.Report(Report{
		ID:    newReportID(),
		Time:  s.now().UTC(),
		Op:    op,
		Table: table,
		Err:   err,
	})
	return err
}

// timestamp is the write-path stamp format: RFC 3339 with nanoseconds,
// UTC.
func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// stripReserved removes the fields owned by the facade write path.
// Caller-supplied values for them are never persisted: ids are
// assigned by drivers and timestamps by the facade.
func stripReserved(rec driver.Record) {
	delete(rec, "id")
	delete(rec, "created_at")
	delete(rec, "updated_at")
}

// probeWith builds the UniqueProbe handed to the Validator, bound to
// the given query surface so it works inside transactions too.
func (s *Store) probeWith(q driver.Queryer) UniqueProbe {
	return func(ctx context.Context, table, field string, value any, excludeID int64) (bool, error) {
		spec := query.New(table).AndWhere(field, query.OpEq, value)
		if excludeID > 0 {
			spec = spec.AndWhere("id", query.OpNe, excludeID)
		}
		n, err := q.Count(ctx, spec)
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
}
