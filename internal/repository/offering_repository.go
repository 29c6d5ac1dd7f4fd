package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/class-scheduler-api/internal/models"
)

// OfferingRepository persists class offerings outside enrollment transactions.
type OfferingRepository struct {
	db *sqlx.DB
}

// NewOfferingRepository constructs the repository.
func NewOfferingRepository(db *sqlx.DB) *OfferingRepository {
	return &OfferingRepository{db: db}
}

// Create inserts an offering. Missing semester or course surfaces as ErrForeignKey.
func (r *OfferingRepository) Create(ctx context.Context, offering *models.ClassOffering) error {
	if offering.CreatedAt.IsZero() {
		offering.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO class_offerings (semester_id, course_code, capacity, created_at)
VALUES (:semester_id, :course_code, :capacity, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, offering); err != nil {
		return classify("create offering", err)
	}
	return nil
}

// Find returns the offering or sql.ErrNoRows.
func (r *OfferingRepository) Find(ctx context.Context, semesterID, courseCode string) (*models.ClassOffering, error) {
	const query = `SELECT ` + offeringColumns + ` FROM class_offerings WHERE semester_id = $1 AND course_code = $2`
	var offering models.ClassOffering
	if err := r.db.GetContext(ctx, &offering, query, semesterID, courseCode); err != nil {
		return nil, classify("find offering", err)
	}
	return &offering, nil
}
