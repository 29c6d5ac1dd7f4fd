package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	"github.com/noah-isme/class-scheduler-api/internal/repository"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

// WaitlistPromoter moves the longest-waiting enrollment of an offering into a freed seat.
type WaitlistPromoter struct {
	metrics *MetricsService
	logger  *zap.Logger
}

// NewWaitlistPromoter constructs the promoter.
func NewWaitlistPromoter(metrics *MetricsService, logger *zap.Logger) *WaitlistPromoter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WaitlistPromoter{metrics: metrics, logger: logger}
}

// Promote flips the oldest waitlisted enrollment of the offering to scheduled
// and returns it. It returns nil when nobody is waiting. It must run on the
// transaction that freed the seat; any error is meant to abort that transaction.
func (p *WaitlistPromoter) Promote(ctx context.Context, tx repository.EnrollmentTx, semesterID, courseCode string) (*models.Enrollment, error) {
	next, err := tx.FindOldestWaitlisted(ctx, semesterID, courseCode)
	if err != nil {
		return nil, storeError(err, "failed to load waitlist")
	}
	if next == nil {
		return nil, nil
	}

	if err := tx.UpdateEnrollmentStatus(ctx, semesterID, next.StudentID, courseCode, models.EnrollmentStatusScheduled); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return nil, appErrors.WrapAs(err, appErrors.ErrInternal, "waitlisted enrollment changed during promotion")
		}
		return nil, storeError(err, "failed to promote waitlisted enrollment")
	}

	promoted := *next
	promoted.Status = models.EnrollmentStatusScheduled
	p.metrics.RecordPromotion()
	p.logger.Info("waitlisted enrollment promoted",
		zap.String("semester", semesterID),
		zap.String("course_code", courseCode),
		zap.String("student_id", promoted.StudentID),
	)
	return &promoted, nil
}
