package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Journal records sync runs and per-link transfer outcomes in an embedded
// sqlite database. It is write-only during a run; the filesystem, not the
// journal, decides whether a file is re-downloaded.
type Journal struct {
	db *sql.DB
}

type Run struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     sql.NullTime
	LinksFound     int
	LinksProcessed int
	Transfers      int
}

type Transfer struct {
	RunID     string
	URL       string
	LocalPath string
	Stage     string
	Status    string
	Detail    string
	Uploaded  int
}

func Open(dbPath string) (*Journal, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Ping makes sure the file is actually accessible and the DSN is valid
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	j := &Journal{db: db}

	if err := j.RunMigrations(); err != nil {
		return nil, fmt.Errorf("could not migrate journal database: %w", err)
	}

	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) StartRun(ctx context.Context, id string, linksFound int) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, links_found) VALUES (?, ?, ?)`,
		id, time.Now().UTC(), linksFound)
	return err
}

func (j *Journal) FinishRun(ctx context.Context, id string, linksProcessed int) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, links_processed = ? WHERE id = ?`,
		time.Now().UTC(), linksProcessed, id)
	return err
}

func (j *Journal) RecordTransfer(ctx context.Context, t Transfer) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO transfers (run_id, url, local_path, stage, status, detail, uploaded_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RunID, t.URL, t.LocalPath, t.Stage, t.Status, t.Detail, t.Uploaded, time.Now().UTC())
	return err
}

// RecentRuns lists the newest runs first, with their transfer counts.
func (j *Journal) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT r.id, r.started_at, r.finished_at, r.links_found, r.links_processed,
		       COUNT(t.id) AS transfers
		FROM runs r
		LEFT JOIN transfers t ON t.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.LinksFound, &r.LinksProcessed, &r.Transfers); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
