package repo

import (
	"context"
	"database/sql"

	"gigboard/internal/domain"
)

// InsertRatingTx stores a rating. A violation of the (job, rater, direction)
// uniqueness constraint is returned as ErrDuplicate.
func (r Repo) InsertRatingTx(ctx context.Context, tx *sql.Tx, rt domain.Rating) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ratings(id,job_id,rater_id,rated_id,rating,review,direction,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		rt.ID, rt.JobID, rt.RaterID, rt.RatedID, rt.Rating, nullableStringPtr(rt.Review), rt.Direction, rt.CreatedAt)
	return asDuplicate(err)
}

func (r Repo) GetRating(ctx context.Context, jobID, raterID, direction string) (domain.Rating, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id,job_id,rater_id,rated_id,rating,review,direction,created_at FROM ratings
WHERE job_id=? AND rater_id=? AND direction=?`, jobID, raterID, direction)
	return scanRating(row.Scan)
}

func (r Repo) ListRatingsByJob(ctx context.Context, jobID string) ([]domain.Rating, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,job_id,rater_id,rated_id,rating,review,direction,created_at FROM ratings
WHERE job_id=? ORDER BY created_at ASC, id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Rating
	for rows.Next() {
		rt, err := scanRating(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rt)
	}
	return res, rows.Err()
}

// ListRatingsForUser returns ratings received by a user, newest first.
func (r Repo) ListRatingsForUser(ctx context.Context, userID string) ([]domain.Rating, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,job_id,rater_id,rated_id,rating,review,direction,created_at FROM ratings
WHERE rated_id=? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Rating
	for rows.Next() {
		rt, err := scanRating(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rt)
	}
	return res, rows.Err()
}

func scanRating(scan func(dest ...any) error) (domain.Rating, error) {
	var rt domain.Rating
	var review sql.NullString
	err := scan(&rt.ID, &rt.JobID, &rt.RaterID, &rt.RatedID, &rt.Rating, &review, &rt.Direction, &rt.CreatedAt)
	if err == sql.ErrNoRows {
		return rt, ErrNotFound
	}
	if err != nil {
		return rt, err
	}
	if review.Valid {
		rt.Review = &review.String
	}
	return rt, nil
}
