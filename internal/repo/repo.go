package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gigboard/internal/config"
	"gigboard/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate surfaces a uniqueness violation so callers can treat it
	// as "already exists" instead of a generic store failure.
	ErrDuplicate = errors.New("already exists")
)

// asDuplicate maps a driver uniqueness violation to ErrDuplicate.
func asDuplicate(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicate
	}
	return err
}

const jobColumns = `id,title,COALESCE(description,'') AS description,price,urgency,location,category,status,owner_id,assigned_worker_id,completed_at,created_at`

func scanJob(scan func(dest ...any) error) (domain.Job, error) {
	var j domain.Job
	var category, assigned, completedAt sql.NullString
	err := scan(&j.ID, &j.Title, &j.Description, &j.Price, &j.Urgency, &j.Location,
		&category, &j.Status, &j.OwnerID, &assigned, &completedAt, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	if category.Valid {
		j.Category = &category.String
	}
	if assigned.Valid {
		j.AssignedWorkerID = &assigned.String
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.String
	}
	return j, nil
}

func (r Repo) InsertJob(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO jobs(id,title,description,price,urgency,location,category,status,owner_id,assigned_worker_id,completed_at,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.Title, nullable(j.Description), j.Price, j.Urgency, j.Location,
		nullableStringPtr(j.Category), j.Status, j.OwnerID,
		nullableStringPtr(j.AssignedWorkerID), nullableStringPtr(j.CompletedAt), j.CreatedAt)
	return err
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	return scanJob(row.Scan)
}

func (r Repo) GetJobTx(ctx context.Context, tx *sql.Tx, id string) (domain.Job, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	return scanJob(row.Scan)
}

type JobFilters struct {
	Status          string
	OwnerID         string
	WorkerID        string
	Category        string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListJobs(ctx context.Context, f JobFilters) ([]domain.Job, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.WorkerID != "" {
		clauses = append(clauses, "assigned_worker_id=?")
		args = append(args, f.WorkerID)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + jobColumns + ` FROM jobs ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// AssignJobTx binds a worker to an open job with a single conditional update.
// Returns false if the job was not in the expected state (or missing); the
// caller re-reads to tell those apart. Two concurrent assigns cannot both win.
func (r Repo) AssignJobTx(ctx context.Context, tx *sql.Tx, jobID, workerID string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status=?, assigned_worker_id=? WHERE id=? AND status=?`,
		domain.JobInProgress, workerID, jobID, domain.JobOpen)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CompleteJobTx moves an in_progress job to completed and stamps completed_at.
func (r Repo) CompleteJobTx(ctx context.Context, tx *sql.Tx, jobID, completedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status=?, completed_at=? WHERE id=? AND status=?`,
		domain.JobCompleted, completedAt, jobID, domain.JobInProgress)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CancelJobTx cancels a job from open or in_progress and clears the binding.
func (r Repo) CancelJobTx(ctx context.Context, tx *sql.Tx, jobID string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status=?, assigned_worker_id=NULL WHERE id=? AND status IN (?,?)`,
		domain.JobCancelled, jobID, domain.JobOpen, domain.JobInProgress)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ReopenJobTx returns a job to open, clearing the worker binding and
// completion stamp.
func (r Repo) ReopenJobTx(ctx context.Context, tx *sql.Tx, jobID string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status=?, assigned_worker_id=NULL, completed_at=NULL WHERE id=? AND status IN (?,?,?)`,
		domain.JobOpen, jobID, domain.JobInProgress, domain.JobCompleted, domain.JobCancelled)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) DeleteJobTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertMarketplaceConfig(ctx context.Context, cfg *config.Config) error {
	return upsertMarketplaceConfig(ctx, r.DB, nil, cfg)
}

func (r Repo) UpsertMarketplaceConfigTx(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	return upsertMarketplaceConfig(ctx, nil, tx, cfg)
}

func upsertMarketplaceConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO marketplace_configs(id,config_json,created_at,updated_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, string(payload), now, now)
	return err
}

func (r Repo) GetMarketplaceConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM marketplace_configs WHERE id=1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
