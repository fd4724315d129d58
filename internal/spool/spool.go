package spool

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nerrad567/streamlink/internal/infrastructure/database"
)

// defaultBatchSize is used when New is given a non-positive batch size.
const defaultBatchSize = 100

// Inserter sends datapoints to a stream. *realtime.Client satisfies it.
type Inserter interface {
	Insert(topic string, data any) bool
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Entry is one spooled insert.
type Entry struct {
	ID        int64
	Topic     string
	Payload   json.RawMessage
	Attempts  int
	CreatedAt time.Time
	LastError string
}

// Spool is the durable queue of unsent inserts.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Only one Flush runs at a time; concurrent calls wait their turn.
type Spool struct {
	db        *database.DB
	batchSize int
	flushMu   sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// New returns a spool backed by db. The insert_spool table must exist
// (see the migrations package).
func New(db *database.DB, batchSize int) *Spool {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Spool{db: db, batchSize: batchSize}
}

// SetLogger sets a logger for flush events.
func (s *Spool) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	defer s.loggerMu.Unlock()
	s.logger = logger
}

var discard Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func (s *Spool) log() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	if s.logger == nil {
		return discard
	}
	return s.logger
}

// Enqueue stores an insert for later delivery and returns its ID.
func (s *Spool) Enqueue(ctx context.Context, topic string, data any) (int64, error) {
	if topic == "" {
		return 0, ErrEmptyTopic
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("encoding spooled data: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO insert_spool (topic, payload, created_at) VALUES (?, ?, ?)",
		topic, string(payload), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("spooling insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading spool id: %w", err)
	}
	return id, nil
}

// Deliver inserts data through ins, falling back to the spool when the
// insert could not be sent. It reports whether the data was spooled.
func (s *Spool) Deliver(ctx context.Context, ins Inserter, topic string, data any) (bool, error) {
	if ins.Insert(topic, data) {
		return false, nil
	}
	if _, err := s.Enqueue(ctx, topic, data); err != nil {
		return false, err
	}
	s.log().Debug("insert spooled", "stream", topic)
	return true, nil
}

// Pending returns up to limit entries, oldest first.
func (s *Spool) Pending(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, payload, attempts, created_at, COALESCE(last_error, '')
		FROM insert_spool
		ORDER BY id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying spool: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var payload, createdAt string
		if err := rows.Scan(&e.ID, &e.Topic, &payload, &e.Attempts, &createdAt, &e.LastError); err != nil {
			return nil, fmt.Errorf("scanning spool row: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // Written by Enqueue
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating spool: %w", err)
	}
	return entries, nil
}

// Len returns the number of spooled entries.
func (s *Spool) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM insert_spool").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting spool: %w", err)
	}
	return n, nil
}

// Remove deletes one entry.
func (s *Spool) Remove(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM insert_spool WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("removing spool entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 always reports rows affected
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// markFailed records a failed delivery attempt.
func (s *Spool) markFailed(ctx context.Context, id int64, reason string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"UPDATE insert_spool SET attempts = attempts + 1, last_error = ? WHERE id = ?",
			reason, id,
		)
		return err
	})
}

// Flush replays spooled entries through ins, oldest first, and returns how
// many were sent. Each sent entry is removed; the first entry that cannot
// be sent stops the flush and stays at the head of the queue.
func (s *Spool) Flush(ctx context.Context, ins Inserter) (int, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	sent := 0
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		batch, err := s.Pending(ctx, s.batchSize)
		if err != nil {
			return sent, err
		}

		for _, e := range batch {
			if !ins.Insert(e.Topic, e.Payload) {
				if err := s.markFailed(ctx, e.ID, "insert not sent"); err != nil {
					return sent, err
				}
				s.log().Debug("spool flush stopped", "stream", e.Topic, "sent", sent)
				return sent, nil
			}
			if err := s.Remove(ctx, e.ID); err != nil {
				return sent, err
			}
			sent++
		}

		if len(batch) < s.batchSize {
			if sent > 0 {
				s.log().Info("spool flushed", "sent", sent)
			}
			return sent, nil
		}
	}
}

// Run flushes every interval until ctx is done. A non-positive interval
// disables periodic flushing and Run just waits for ctx.
func (s *Spool) Run(ctx context.Context, ins Inserter, interval time.Duration) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Flush(ctx, ins); err != nil && ctx.Err() == nil {
				s.log().Warn("periodic spool flush failed", "error", err)
			}
		}
	}
}
