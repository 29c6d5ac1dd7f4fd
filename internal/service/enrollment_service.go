package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	"github.com/noah-isme/class-scheduler-api/internal/repository"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
	"github.com/noah-isme/class-scheduler-api/pkg/middleware/requestid"
)

// EnrollmentStore opens enrollment transactions.
type EnrollmentStore interface {
	Begin(ctx context.Context) (repository.EnrollmentTx, error)
}

// EventPublisher receives events for changes that have committed.
type EventPublisher interface {
	Publish(ctx context.Context, event models.EnrollmentEvent)
}

// CatalogInvalidator drops cached catalog rows that a committed change removed.
type CatalogInvalidator interface {
	ForgetOffering(ctx context.Context, semesterID, courseCode string)
	ForgetStudent(ctx context.Context, studentID string)
}

// ScheduleClassRequest asks for a seat in an offering.
type ScheduleClassRequest struct {
	SemesterID string `json:"semester_id" validate:"required,max=64"`
	StudentID  string `json:"student_id" validate:"required,max=64"`
	CourseCode string `json:"course_code" validate:"required,max=64"`
}

// DropClassRequest removes a student's enrollment from an offering.
type DropClassRequest struct {
	SemesterID string `validate:"required,max=64"`
	StudentID  string `validate:"required,max=64"`
	CourseCode string `validate:"required,max=64"`
}

// DropOfferingRequest cancels an offering.
type DropOfferingRequest struct {
	SemesterID string `validate:"required,max=64"`
	CourseCode string `validate:"required,max=64"`
}

// DropClassResult reports the removed enrollment and the promotion it caused, if any.
type DropClassResult struct {
	Dropped  models.Enrollment  `json:"dropped"`
	Promoted *models.Enrollment `json:"promoted,omitempty"`
}

// WithdrawResult reports everything a student withdrawal removed and promoted.
type WithdrawResult struct {
	StudentID string              `json:"student_id"`
	Removed   []models.Enrollment `json:"removed"`
	Promoted  []models.Enrollment `json:"promoted"`
}

// EnrollmentOptions tunes the retry loop around enrollment transactions.
type EnrollmentOptions struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	Clock        func() time.Time
	Catalog      CatalogInvalidator
}

// EnrollmentService runs the schedule, drop, cancel and withdraw workflows.
// Every call is one store transaction; conflicts reported by the store are
// retried with exponential backoff.
type EnrollmentService struct {
	store       EnrollmentStore
	ledger      *CapacityLedger
	promoter    *WaitlistPromoter
	events      EventPublisher
	catalog     CatalogInvalidator
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

// NewEnrollmentService constructs EnrollmentService. events and metrics may be nil.
func NewEnrollmentService(store EnrollmentStore, events EventPublisher, metrics *MetricsService, opts EnrollmentOptions, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 50 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &EnrollmentService{
		store:       store,
		ledger:      NewCapacityLedger(),
		promoter:    NewWaitlistPromoter(metrics, logger),
		events:      events,
		catalog:     opts.Catalog,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.RetryBackoff,
		now:         opts.Clock,
	}
}

// ScheduleClass enrolls the student into the offering, scheduled when a seat
// is free and waitlisted otherwise.
func (s *EnrollmentService) ScheduleClass(ctx context.Context, req ScheduleClassRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid schedule request")
	}

	var enrollment *models.Enrollment
	err := s.runTx(ctx, "schedule_class", func(tx repository.EnrollmentTx) error {
		enrollment = nil
		if _, err := tx.GetStudent(ctx, req.StudentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return storeError(err, "failed to load student")
		}

		ledger, err := s.ledger.Evaluate(ctx, tx, req.SemesterID, req.CourseCode)
		if err != nil {
			return err
		}

		_, err = tx.FindEnrollment(ctx, req.SemesterID, req.StudentID, req.CourseCode)
		switch {
		case err == nil:
			return appErrors.Clone(appErrors.ErrAlreadyEnrolled, "")
		case !errors.Is(err, sql.ErrNoRows):
			return storeError(err, "failed to check existing enrollment")
		}

		status := models.EnrollmentStatusWaitlisted
		if ledger.HasSeat() {
			status = models.EnrollmentStatusScheduled
		}
		candidate := &models.Enrollment{
			SemesterID:  req.SemesterID,
			StudentID:   req.StudentID,
			CourseCode:  req.CourseCode,
			Status:      status,
			RequestedAt: s.now(),
		}
		if err := tx.InsertEnrollment(ctx, candidate); err != nil {
			switch {
			case errors.Is(err, repository.ErrDuplicate):
				return appErrors.WrapAs(err, appErrors.ErrAlreadyEnrolled, "")
			case errors.Is(err, repository.ErrForeignKey):
				return appErrors.WrapAs(err, appErrors.ErrNotFound, "class offering or student not found")
			}
			return storeError(err, "failed to insert enrollment")
		}
		enrollment = candidate
		return nil
	})
	if err != nil {
		s.recordFailure(ctx, "schedule_class", err)
		return nil, err
	}

	s.metrics.RecordEnrollmentOutcome("schedule_class", string(enrollment.Status))
	eventType := models.EventEnrollmentScheduled
	if enrollment.Status == models.EnrollmentStatusWaitlisted {
		eventType = models.EventEnrollmentWaitlisted
	}
	s.publish(ctx, models.EnrollmentEvent{
		Type:       eventType,
		SemesterID: enrollment.SemesterID,
		CourseCode: enrollment.CourseCode,
		StudentID:  enrollment.StudentID,
		Status:     enrollment.Status,
	})
	return enrollment, nil
}

// StudentDropClass removes the student's enrollment. A freed scheduled seat is
// handed to the oldest waitlisted student in the same transaction.
func (s *EnrollmentService) StudentDropClass(ctx context.Context, req DropClassRequest) (*DropClassResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid drop request")
	}

	var result *DropClassResult
	err := s.runTx(ctx, "drop_class", func(tx repository.EnrollmentTx) error {
		result = nil
		if _, err := tx.LockOffering(ctx, req.SemesterID, req.CourseCode); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotEnrolled, "")
			}
			return storeError(err, "failed to lock class offering")
		}

		existing, err := tx.FindEnrollment(ctx, req.SemesterID, req.StudentID, req.CourseCode)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotEnrolled, "")
			}
			return storeError(err, "failed to load enrollment")
		}

		deleted, err := tx.DeleteEnrollment(ctx, req.SemesterID, req.StudentID, req.CourseCode)
		if err != nil {
			return storeError(err, "failed to delete enrollment")
		}
		if deleted != 1 {
			return appErrors.WrapAs(fmt.Errorf("%d rows deleted", deleted), appErrors.ErrInternal, "locked enrollment vanished")
		}

		res := &DropClassResult{Dropped: *existing}
		if existing.Status == models.EnrollmentStatusScheduled {
			promoted, err := s.promoter.Promote(ctx, tx, req.SemesterID, req.CourseCode)
			if err != nil {
				return err
			}
			res.Promoted = promoted
		}
		result = res
		return nil
	})
	if err != nil {
		s.recordFailure(ctx, "drop_class", err)
		return nil, err
	}

	s.metrics.RecordEnrollmentOutcome("drop_class", string(result.Dropped.Status))
	s.publish(ctx, models.EnrollmentEvent{
		Type:       models.EventEnrollmentDropped,
		SemesterID: result.Dropped.SemesterID,
		CourseCode: result.Dropped.CourseCode,
		StudentID:  result.Dropped.StudentID,
		Status:     result.Dropped.Status,
	})
	if result.Promoted != nil {
		s.publishPromotion(ctx, *result.Promoted)
	}
	return result, nil
}

// DropOffering cancels the offering together with all of its enrollments and
// returns who was affected. Nobody is promoted since the seats no longer exist.
func (s *EnrollmentService) DropOffering(ctx context.Context, req DropOfferingRequest) ([]models.AffectedEnrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid cancel request")
	}

	var affected []models.AffectedEnrollment
	err := s.runTx(ctx, "drop_offering", func(tx repository.EnrollmentTx) error {
		affected = nil
		if _, err := tx.LockOffering(ctx, req.SemesterID, req.CourseCode); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "class offering not found")
			}
			return storeError(err, "failed to lock class offering")
		}

		removed, err := tx.DeleteAllEnrollmentsForOffering(ctx, req.SemesterID, req.CourseCode)
		if err != nil {
			return storeError(err, "failed to delete offering enrollments")
		}

		deleted, err := tx.DeleteOffering(ctx, req.SemesterID, req.CourseCode)
		if err != nil {
			return storeError(err, "failed to delete class offering")
		}
		if deleted != 1 {
			return appErrors.WrapAs(fmt.Errorf("%d rows deleted", deleted), appErrors.ErrInternal, "locked class offering vanished")
		}

		affected = removed
		return nil
	})
	if err != nil {
		s.recordFailure(ctx, "drop_offering", err)
		return nil, err
	}
	if affected == nil {
		affected = []models.AffectedEnrollment{}
	}

	s.metrics.RecordEnrollmentOutcome("drop_offering", "ok")
	if s.catalog != nil {
		s.catalog.ForgetOffering(ctx, req.SemesterID, req.CourseCode)
	}
	s.logger.Info("class offering cancelled",
		zap.String("semester", req.SemesterID),
		zap.String("course_code", req.CourseCode),
		zap.Int("affected", len(affected)),
	)
	s.publish(ctx, models.EnrollmentEvent{
		Type:       models.EventOfferingCancelled,
		SemesterID: req.SemesterID,
		CourseCode: req.CourseCode,
		Affected:   affected,
	})
	return affected, nil
}

// WithdrawStudent deletes the student and every enrollment they hold, then
// promotes once per offering in which they held a scheduled seat.
func (s *EnrollmentService) WithdrawStudent(ctx context.Context, studentID string) (*WithdrawResult, error) {
	if err := s.validator.Var(studentID, "required,max=64"); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid student id")
	}

	var result *WithdrawResult
	err := s.runTx(ctx, "withdraw_student", func(tx repository.EnrollmentTx) error {
		result = nil
		if _, err := tx.LockStudent(ctx, studentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return storeError(err, "failed to lock student")
		}

		current, err := tx.ListEnrollmentsForStudent(ctx, studentID)
		if err != nil {
			return storeError(err, "failed to list student enrollments")
		}
		for _, key := range offeringKeys(current) {
			if _, err := tx.LockOffering(ctx, key.SemesterID, key.CourseCode); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return appErrors.WrapAs(err, appErrors.ErrInternal, "enrollment references missing offering")
				}
				return storeError(err, "failed to lock class offering")
			}
		}

		removed, err := tx.DeleteAllEnrollmentsForStudent(ctx, studentID)
		if err != nil {
			return storeError(err, "failed to delete student enrollments")
		}
		if _, err := tx.DeleteStudent(ctx, studentID); err != nil {
			return storeError(err, "failed to delete student")
		}

		res := &WithdrawResult{StudentID: studentID, Removed: removed, Promoted: []models.Enrollment{}}
		if res.Removed == nil {
			res.Removed = []models.Enrollment{}
		}
		freed := make([]models.Enrollment, 0, len(removed))
		for _, e := range removed {
			if e.Status == models.EnrollmentStatusScheduled {
				freed = append(freed, e)
			}
		}
		for _, key := range offeringKeys(freed) {
			promoted, err := s.promoter.Promote(ctx, tx, key.SemesterID, key.CourseCode)
			if err != nil {
				return err
			}
			if promoted != nil {
				res.Promoted = append(res.Promoted, *promoted)
			}
		}
		result = res
		return nil
	})
	if err != nil {
		s.recordFailure(ctx, "withdraw_student", err)
		return nil, err
	}

	s.metrics.RecordEnrollmentOutcome("withdraw_student", "ok")
	if s.catalog != nil {
		s.catalog.ForgetStudent(ctx, studentID)
	}
	s.publish(ctx, models.EnrollmentEvent{
		Type:      models.EventStudentWithdrawn,
		StudentID: studentID,
		Removed:   result.Removed,
	})
	for _, promoted := range result.Promoted {
		s.publishPromotion(ctx, promoted)
	}
	return result, nil
}

// runTx executes fn in a fresh transaction, committing on success and rolling
// back on any error. Retryable failures are attempted again up to maxAttempts.
func (s *EnrollmentService) runTx(ctx context.Context, operation string, fn func(tx repository.EnrollmentTx) error) error {
	backoff := s.backoff
	for attempt := 1; ; attempt++ {
		err := s.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !appErrors.IsRetryable(err) || attempt >= s.maxAttempts {
			return err
		}

		s.metrics.RecordTxRetry(operation)
		s.logger.Warn("enrollment transaction conflict, retrying",
			zap.String("operation", operation),
			zap.String("request_id", requestid.FromContext(ctx)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		backoff *= 2
	}
}

func (s *EnrollmentService) attempt(ctx context.Context, fn func(tx repository.EnrollmentTx) error) (err error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return storeError(err, "failed to begin enrollment transaction")
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("enrollment transaction rollback failed", zap.Error(rbErr))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return storeError(err, "failed to commit enrollment transaction")
	}
	return nil
}

func (s *EnrollmentService) recordFailure(ctx context.Context, operation string, err error) {
	appErr := appErrors.FromError(err)
	s.metrics.RecordEnrollmentOutcome(operation, appErr.Code)
	if appErr.Status >= 500 {
		s.logger.Error("enrollment operation aborted",
			zap.String("operation", operation),
			zap.String("request_id", requestid.FromContext(ctx)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("enrollment operation rejected", zap.String("operation", operation), zap.String("code", appErr.Code))
}

func (s *EnrollmentService) publishPromotion(ctx context.Context, promoted models.Enrollment) {
	s.publish(ctx, models.EnrollmentEvent{
		Type:       models.EventEnrollmentPromoted,
		SemesterID: promoted.SemesterID,
		CourseCode: promoted.CourseCode,
		StudentID:  promoted.StudentID,
		Status:     promoted.Status,
	})
}

func (s *EnrollmentService) publish(ctx context.Context, event models.EnrollmentEvent) {
	if s.events == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if event.RequestID == "" {
		event.RequestID = requestid.FromContext(ctx)
	}
	s.events.Publish(ctx, event)
}

// offeringKeys returns the distinct offerings of the enrollments in lock order.
func offeringKeys(enrollments []models.Enrollment) []models.OfferingKey {
	seen := make(map[models.OfferingKey]struct{}, len(enrollments))
	keys := make([]models.OfferingKey, 0, len(enrollments))
	for _, e := range enrollments {
		key := e.Offering()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// storeError maps classified repository failures onto the API error taxonomy.
func storeError(err error, message string) *appErrors.Error {
	switch {
	case errors.Is(err, repository.ErrSerialization),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return appErrors.WrapAs(err, appErrors.ErrConflict, "")
	case errors.Is(err, repository.ErrUnavailable):
		return appErrors.WrapAs(err, appErrors.ErrStoreUnavailable, "")
	default:
		return appErrors.WrapAs(err, appErrors.ErrInternal, message)
	}
}
