package report

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Record is the outcome of one test iteration.
type Record struct {
	TestId        string
	TestNumber    int64
	BrokerUrl     string
	Rate          int
	ParallelCount int
	MessageSize   string
	Duration      string
	Success       bool
	FailedPeer    string
	Message       string
	Messages      int64
	MaxLatency    time.Duration
	P99Latency    time.Duration
	Start         time.Time
	End           time.Time
}

// ResultStore persists Records in a sqlite database.
type ResultStore struct {
	db *sql.DB
	// sqlite allows a single writer at a time
	lock sync.Mutex
}

func OpenResultStore(ctx context.Context, path string) (*ResultStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to open result store %s", path)
	}
	store := &ResultStore{db: db}
	if err := store.setup(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *ResultStore) setup(ctx context.Context) error {
	statements := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		`CREATE TABLE IF NOT EXISTS results (
			TestId TEXT,
			TestNumber INT,
			BrokerUrl TEXT,
			Rate INT,
			ParallelCount INT,
			MessageSize TEXT,
			Duration TEXT,
			Success INT,
			FailedPeer TEXT,
			Message TEXT,
			Messages INT,
			MaxLatency INT,
			P99Latency INT,
			StartTime INT,
			EndTime INT,
			PRIMARY KEY(TestId, TestNumber))`,
	}
	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return errors.WithMessage(err, "failed to set up result store")
		}
	}
	return nil
}

func (s *ResultStore) Record(ctx context.Context, r Record) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO results VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.TestId, r.TestNumber, r.BrokerUrl, r.Rate, r.ParallelCount, r.MessageSize, r.Duration,
		r.Success, r.FailedPeer, r.Message, r.Messages,
		r.MaxLatency.Microseconds(), r.P99Latency.Microseconds(),
		r.Start.UnixMilli(), r.End.UnixMilli(),
	)
	if err != nil {
		return errors.WithMessagef(err, "failed to record test %s/%d", r.TestId, r.TestNumber)
	}
	log.WithFields(log.Fields{"testId": r.TestId, "testNumber": r.TestNumber}).Debug("recorded result")
	return nil
}

// List returns every record in the order the tests started.
func (s *ResultStore) List(ctx context.Context) ([]Record, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT TestId, TestNumber, BrokerUrl, Rate, ParallelCount, MessageSize, Duration, Success,
		       FailedPeer, Message, Messages, MaxLatency, P99Latency, StartTime, EndTime
		FROM results ORDER BY StartTime, TestNumber`)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var maxLatency, p99Latency, start, end int64
		err := rows.Scan(
			&r.TestId, &r.TestNumber, &r.BrokerUrl, &r.Rate, &r.ParallelCount, &r.MessageSize, &r.Duration,
			&r.Success, &r.FailedPeer, &r.Message, &r.Messages, &maxLatency, &p99Latency, &start, &end,
		)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		r.MaxLatency = time.Duration(maxLatency) * time.Microsecond
		r.P99Latency = time.Duration(p99Latency) * time.Microsecond
		r.Start = time.UnixMilli(start)
		r.End = time.UnixMilli(end)
		records = append(records, r)
	}
	return records, errors.WithStack(rows.Err())
}

func (s *ResultStore) Check() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	var one int
	return errors.WithMessage(s.db.QueryRow("SELECT 1").Scan(&one), "result store health check failed")
}

func (s *ResultStore) Close() error {
	return errors.WithStack(s.db.Close())
}
