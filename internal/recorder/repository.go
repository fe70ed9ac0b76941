package recorder

import (
	"database/sql"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

// repository streams ticks into SQLite, batching inserts in one
// transaction per flush.
type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	runID         string
	path          string
	mu            sync.Mutex
	buffer        []*Tick
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
	closeErr      error
}

// newRepository replaces any file at path with a fresh database holding
// run.
func newRepository(path string, cfg Config, run *Run, log logger.Logger) (*repository, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  path,
			Error: err.Error(),
		})
	}

	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return nil, errFactory.Wrap(ErrStorageInit, err).WithData(path + suffix)
		}
	}

	dsn := path + "?_journal=WAL&_foreign_keys=1"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := InitSchema(db, log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}
	if err := insertRun(db, run); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		runID:         run.ID,
		path:          path,
		buffer:        make([]*Tick, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(time.Duration(cfg.BatchTimeout) * time.Second)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	log.Info().
		Str("path", path).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Int("batch_timeout", cfg.BatchTimeout).
		Msg("Database output initialized")

	return repo, nil
}

func insertRun(db *sql.DB, run *Run) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.New().Wrap(ErrTransactionFailed, err)
	}

	categories := make([]string, len(run.Categories))
	for i, c := range run.Categories {
		categories[i] = string(c)
	}

	if _, err := tx.Exec(insertRunSQL, run.ID, run.Started.UTC().Format(time.RFC3339Nano),
		run.Interval, strings.Join(categories, ",")); err != nil {
		_ = tx.Rollback()
		return errors.New().Wrap(ErrTransactionFailed, err)
	}
	for _, e := range run.Entities {
		if _, err := tx.Exec(insertEntitySQL, run.ID, int64(e.PID), e.Name, e.Cmdline); err != nil {
			_ = tx.Rollback()
			return errors.New().Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.New().Wrap(ErrTransactionFailed, err)
	}
	return nil
}

func (r *repository) Record(tick *Tick) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, tick)

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

// Finish writes nothing: every tick was already streamed.
func (r *repository) Finish(*Report) error {
	return nil
}

func (r *repository) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.close()
	})
	return r.closeErr
}

func (r *repository) close() error {
	close(r.shutdownChan)
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}
	<-r.flushDoneChan

	// without a flusher the final flush happens here
	r.mu.Lock()
	flushErr := r.flush()
	r.mu.Unlock()

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to checkpoint WAL")
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Debug().Str("path", r.path).Msg("Database output closed")

	return flushErr
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			_ = r.flush()
			r.mu.Unlock()
		case <-r.shutdownChan:
			r.mu.Lock()
			_ = r.flush()
			r.mu.Unlock()
			return
		}
	}
}

func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertSampleSQL)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to prepare statement")
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	rows := 0
	for _, tick := range r.buffer {
		ts := tick.Timestamp.UnixMilli()
		window := float64(tick.Window) / float64(time.Millisecond)
		for _, s := range tick.Samples {
			value := sql.NullFloat64{Float64: s.Value, Valid: !math.IsNaN(s.Value) && !math.IsInf(s.Value, 0)}
			if _, err := stmt.Exec(r.runID, tick.Index, ts, window,
				int64(s.Entity), string(s.Category), s.Index, value); err != nil {
				r.logger.Error().Err(err).Msg("Failed to execute insert")
				if err := tx.Rollback(); err != nil {
					r.logger.Error().Err(err).Msg("Failed to roll back transaction")
				}
				return errFactory.Wrap(ErrTransactionFailed, err)
			}
			rows++
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("ticks", len(r.buffer)).Int("rows", rows).Msg("Flushed samples to database")
	r.buffer = r.buffer[:0]

	return nil
}
