package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tagbatch/tagbatch/internal/scheduler"
	_ "modernc.org/sqlite"
)

// Batch kinds.
const (
	KindRead = "read"
	KindSave = "save"
	KindTag  = "tag" // Reads and connected saves in one batch
)

// Batch is one run of a task manager over a directory.
type Batch struct {
	ID         string
	Kind       string // KindRead, KindSave or KindTag
	Dir        string
	StartedAt  time.Time
	FinishedAt time.Time // Zero while running
	Total      int
	OK         int
	Failed     int
	Waiting    int // Never started because the batch stopped
	Cancelled  bool
}

// NewBatch returns an unsaved batch with a fresh ID, started now.
func NewBatch(kind, dir string) *Batch {
	return &Batch{
		ID:        uuid.NewString(),
		Kind:      kind,
		Dir:       dir,
		StartedAt: time.Now().UTC(),
	}
}

// TaskResult is the final state of one task of a batch.
type TaskResult struct {
	BatchID  string
	Index    int
	Path     string
	Status   scheduler.TaskStatus
	Progress int64
	Max      int64
	Err      string
}

// ResultsFrom pairs manager snapshots with the file each task worked on.
func ResultsFrom(batchID string, paths []string, snaps []scheduler.Snapshot) []TaskResult {
	out := make([]TaskResult, len(snaps))
	for i, s := range snaps {
		r := TaskResult{
			BatchID:  batchID,
			Index:    s.Index,
			Status:   s.Status,
			Progress: s.Progress,
			Max:      s.Max,
			Err:      s.Err,
		}
		if i < len(paths) {
			r.Path = paths[i]
		}
		out[i] = r
	}
	return out
}

// Store records batches and their per-task outcomes.
type Store interface {
	SaveBatch(ctx context.Context, b *Batch) error
	FinishBatch(ctx context.Context, b *Batch, results []TaskResult) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	ListBatches(ctx context.Context, limit int) ([]*Batch, error)
	ListFailures(ctx context.Context, batchID string) ([]TaskResult, error)
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite only reads _pragma=name(value) keys and runs them on
	// every new pool connection
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates a private in-memory store for testing.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	// Shared cache lets both pool connections see the same database; the
	// random name keeps stores apart.
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
