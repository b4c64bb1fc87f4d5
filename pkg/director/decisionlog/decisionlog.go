// Package decisionlog persists teacher selections in SQLite so decision
// metrics survive restarts.
package decisionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pario-ai/tutorgate/pkg/models"
	_ "modernc.org/sqlite"
)

// Log writes and queries decision records in a dedicated SQLite database.
type Log struct {
	db            *sql.DB
	retentionDays int
	done          chan struct{}
	wg            sync.WaitGroup
}

// TeacherDay counts selections of one teacher on one day.
type TeacherDay struct {
	Teacher string `json:"teacher"`
	Day     string `json:"day"`
	Method  string `json:"method"`
	Count   int64  `json:"count"`
}

// New opens the decision database, creates the schema and starts the
// hourly retention loop. retentionDays <= 0 keeps everything.
func New(dbPath string, retentionDays int) (*Log, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open decision db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate decision db: %w", err)
	}

	l := &Log{db: db, retentionDays: retentionDays, done: make(chan struct{})}
	l.wg.Add(1)
	go l.retentionLoop()
	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS decisions (
		id               TEXT PRIMARY KEY,
		question         TEXT NOT NULL,
		teacher          TEXT NOT NULL,
		grade            INTEGER NOT NULL,
		method           TEXT NOT NULL,
		justification    TEXT,
		confidence       REAL,
		confidence_label TEXT,
		score            INTEGER,
		breakdown        TEXT,
		created_at       DATETIME NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_decisions_teacher ON decisions(teacher)`)
	return err
}

// Append stores a decision.
func (l *Log) Append(ctx context.Context, rec models.DecisionRecord) error {
	var breakdown string
	if len(rec.Breakdown) > 0 {
		b, _ := json.Marshal(rec.Breakdown)
		breakdown = string(b)
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO decisions
		(id, question, teacher, grade, method, justification, confidence,
		 confidence_label, score, breakdown, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Question, rec.Teacher, rec.Grade, string(rec.Method),
		rec.Justification, rec.Confidence, rec.ConfidenceLabel, rec.Score,
		breakdown, rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

// Recent returns up to limit decisions, oldest first. limit <= 0 returns all.
func (l *Log) Recent(ctx context.Context, limit int) ([]models.DecisionRecord, error) {
	q := `SELECT id, question, teacher, grade, method, justification, confidence,
		confidence_label, score, breakdown, created_at
		FROM decisions ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []models.DecisionRecord
	for rows.Next() {
		var (
			r             models.DecisionRecord
			method        string
			justification sql.NullString
			label         sql.NullString
			score         sql.NullInt64
			confidence    sql.NullFloat64
			breakdown     sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Question, &r.Teacher, &r.Grade, &method,
			&justification, &confidence, &label, &score, &breakdown, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan decision row: %w", err)
		}
		r.Method = models.DecisionMethod(method)
		r.Justification = justification.String
		r.Confidence = confidence.Float64
		r.ConfidenceLabel = label.String
		r.Score = int(score.Int64)
		if breakdown.Valid && breakdown.String != "" {
			_ = json.Unmarshal([]byte(breakdown.String), &r.Breakdown)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Stats returns selection counts grouped by teacher, method and day.
func (l *Log) Stats(ctx context.Context) ([]TeacherDay, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT teacher, method, date(created_at) AS day, count(*) AS cnt
		 FROM decisions GROUP BY teacher, method, day ORDER BY day DESC, teacher`)
	if err != nil {
		return nil, fmt.Errorf("decision stats: %w", err)
	}
	defer rows.Close()

	var stats []TeacherDay
	for rows.Next() {
		var s TeacherDay
		var day sql.NullString
		if err := rows.Scan(&s.Teacher, &s.Method, &day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan decision stat: %w", err)
		}
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes decisions older than the retention period.
func (l *Log) Cleanup(ctx context.Context) (int64, error) {
	if l.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -l.retentionDays)
	res, err := l.db.ExecContext(ctx, `DELETE FROM decisions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("decision cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Log) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Log) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background())
		}
	}
}
