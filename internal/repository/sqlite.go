package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/scenarios/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			scenario TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			finished_at DATETIME,
			actions TEXT NOT NULL DEFAULT '[]',
			action_count INTEGER NOT NULL DEFAULT 0,
			score TEXT,
			total_score REAL,
			human_rating INTEGER,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs(scenario, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Verdicts were added after the first schema.
	if err := s.ensureColumn("runs", "verdict", "ALTER TABLE runs ADD COLUMN verdict TEXT"); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveRun upserts the run.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.Run) error {
	actions, err := json.Marshal(run.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	var score, errData sql.NullString
	var totalScore sql.NullFloat64
	if run.Score != nil {
		b, err := json.Marshal(run.Score)
		if err != nil {
			return fmt.Errorf("failed to marshal score: %w", err)
		}
		score = sql.NullString{String: string(b), Valid: true}
		totalScore = sql.NullFloat64{Float64: run.Score.TotalScore, Valid: true}
	}
	if run.Error != nil {
		b, err := json.Marshal(run.Error)
		if err != nil {
			return fmt.Errorf("failed to marshal error: %w", err)
		}
		errData = sql.NullString{String: string(b), Valid: true}
	}
	var rating sql.NullInt64
	if run.HumanRating != nil {
		rating = sql.NullInt64{Int64: int64(*run.HumanRating), Valid: true}
	}
	var verdict sql.NullString
	if run.Verdict != "" {
		verdict = sql.NullString{String: string(run.Verdict), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, scenario, status, created_at, started_at, finished_at, actions, action_count, score, total_score, human_rating, verdict, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			actions = excluded.actions,
			action_count = excluded.action_count,
			score = excluded.score,
			total_score = excluded.total_score,
			human_rating = COALESCE(excluded.human_rating, runs.human_rating),
			verdict = excluded.verdict,
			error = excluded.error`,
		run.RunID, run.ScenarioName, run.Status, run.CreatedAt, nullTime(run.StartedAt), nullTime(run.FinishedAt),
		string(actions), len(run.Actions), score, totalScore, rating, verdict, errData)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}
	return nil
}

// UpdateRating stores a human rating on a saved run.
func (s *SQLiteStore) UpdateRating(ctx context.Context, runID string, rating int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET human_rating = ? WHERE run_id = ?`, rating, runID)
	if err != nil {
		return fmt.Errorf("failed to update rating: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFoundf("run %q in history", runID)
	}
	return nil
}

// ListRunSummaries returns saved runs, newest first.
func (s *SQLiteStore) ListRunSummaries(ctx context.Context, scenario string) ([]domain.RunSummary, error) {
	query := `SELECT run_id, scenario, status, created_at, started_at, finished_at, action_count, score, human_rating, verdict, error FROM runs`
	var args []interface{}
	if scenario != "" {
		query += ` WHERE scenario = ?`
		args = append(args, scenario)
	}
	query += ` ORDER BY created_at DESC, run_id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []domain.RunSummary{}
	for rows.Next() {
		var sum domain.RunSummary
		var startedAt, finishedAt sql.NullTime
		var score, verdict, errData sql.NullString
		var rating sql.NullInt64
		if err := rows.Scan(&sum.RunID, &sum.ScenarioName, &sum.Status, &sum.CreatedAt, &startedAt, &finishedAt,
			&sum.ActionCount, &score, &rating, &verdict, &errData); err != nil {
			return nil, err
		}
		if startedAt.Valid {
			sum.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			sum.FinishedAt = &finishedAt.Time
		}
		if score.Valid {
			var sc domain.Score
			if err := json.Unmarshal([]byte(score.String), &sc); err != nil {
				return nil, fmt.Errorf("failed to decode score of run %s: %w", sum.RunID, err)
			}
			sum.Score = &sc
		}
		if rating.Valid {
			r := int(rating.Int64)
			sum.HumanRating = &r
		}
		if verdict.Valid {
			sum.Verdict = domain.Verdict(verdict.String)
		}
		if errData.Valid {
			var runErr domain.RunError
			if err := json.Unmarshal([]byte(errData.String), &runErr); err != nil {
				return nil, fmt.Errorf("failed to decode error of run %s: %w", sum.RunID, err)
			}
			sum.Error = &runErr
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
