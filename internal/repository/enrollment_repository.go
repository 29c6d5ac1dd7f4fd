package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/class-scheduler-api/internal/models"
)

// EnrollmentTx is the transaction-scoped persistence contract used by the
// enrollment engine. Every method runs on the same database transaction, so
// reads observe earlier writes of the same tx.
type EnrollmentTx interface {
	// LockOffering loads the offering and holds its row lock until the tx
	// ends. Returns sql.ErrNoRows when absent.
	LockOffering(ctx context.Context, semesterID, courseCode string) (*models.ClassOffering, error)
	// GetStudent loads the student under a share lock.
	GetStudent(ctx context.Context, studentID string) (*models.Student, error)
	// LockStudent loads the student under an exclusive lock.
	LockStudent(ctx context.Context, studentID string) (*models.Student, error)
	CountEnrollments(ctx context.Context, semesterID, courseCode string, status models.EnrollmentStatus) (int, error)
	FindEnrollment(ctx context.Context, semesterID, studentID, courseCode string) (*models.Enrollment, error)
	// InsertEnrollment stores the row and overwrites RequestedAt and Seq with
	// the values the store assigned.
	InsertEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	DeleteEnrollment(ctx context.Context, semesterID, studentID, courseCode string) (int64, error)
	// FindOldestWaitlisted returns nil when the waitlist is empty.
	FindOldestWaitlisted(ctx context.Context, semesterID, courseCode string) (*models.Enrollment, error)
	UpdateEnrollmentStatus(ctx context.Context, semesterID, studentID, courseCode string, status models.EnrollmentStatus) error
	ListEnrollmentsForStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
	DeleteAllEnrollmentsForStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
	DeleteStudent(ctx context.Context, studentID string) (int64, error)
	DeleteAllEnrollmentsForOffering(ctx context.Context, semesterID, courseCode string) ([]models.AffectedEnrollment, error)
	DeleteOffering(ctx context.Context, semesterID, courseCode string) (int64, error)
	Commit() error
	Rollback() error
}

// QueryObserver receives timing for store operations.
type QueryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// EnrollmentTxOptions controls how enrollment transactions are opened.
type EnrollmentTxOptions struct {
	Isolation   sql.IsolationLevel
	LockTimeout time.Duration
}

// EnrollmentRepository opens enrollment transactions against PostgreSQL.
type EnrollmentRepository struct {
	db       *sqlx.DB
	opts     EnrollmentTxOptions
	observer QueryObserver
}

// NewEnrollmentRepository constructs the repository. observer may be nil.
func NewEnrollmentRepository(db *sqlx.DB, opts EnrollmentTxOptions, observer QueryObserver) *EnrollmentRepository {
	if opts.Isolation == sql.LevelDefault {
		opts.Isolation = sql.LevelReadCommitted
	}
	return &EnrollmentRepository{db: db, opts: opts, observer: observer}
}

// Begin opens a transaction with the configured isolation and lock timeout.
func (r *EnrollmentRepository) Begin(ctx context.Context) (EnrollmentTx, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: r.opts.Isolation})
	if err != nil {
		return nil, classify("begin enrollment tx", err)
	}
	if r.opts.LockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", r.opts.LockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return nil, classify("set lock timeout", err)
		}
	}
	return &enrollmentTx{tx: tx, observer: r.observer}, nil
}

type enrollmentTx struct {
	tx       *sqlx.Tx
	observer QueryObserver
}

func (t *enrollmentTx) observe(label string, start time.Time) {
	if t.observer != nil {
		t.observer.ObserveDBQuery(label, time.Since(start))
	}
}

const offeringColumns = `semester_id, course_code, capacity, created_at`

func (t *enrollmentTx) LockOffering(ctx context.Context, semesterID, courseCode string) (*models.ClassOffering, error) {
	defer t.observe("lock_offering", time.Now())
	const query = `SELECT ` + offeringColumns + ` FROM class_offerings WHERE semester_id = $1 AND course_code = $2 FOR UPDATE`
	var offering models.ClassOffering
	if err := t.tx.GetContext(ctx, &offering, query, semesterID, courseCode); err != nil {
		return nil, classify("lock offering", err)
	}
	return &offering, nil
}

const studentColumns = `id, first_name, last_name, created_at`

func (t *enrollmentTx) GetStudent(ctx context.Context, studentID string) (*models.Student, error) {
	defer t.observe("get_student", time.Now())
	const query = `SELECT ` + studentColumns + ` FROM students WHERE id = $1 FOR SHARE`
	var student models.Student
	if err := t.tx.GetContext(ctx, &student, query, studentID); err != nil {
		return nil, classify("get student", err)
	}
	return &student, nil
}

func (t *enrollmentTx) LockStudent(ctx context.Context, studentID string) (*models.Student, error) {
	defer t.observe("lock_student", time.Now())
	const query = `SELECT ` + studentColumns + ` FROM students WHERE id = $1 FOR UPDATE`
	var student models.Student
	if err := t.tx.GetContext(ctx, &student, query, studentID); err != nil {
		return nil, classify("lock student", err)
	}
	return &student, nil
}

func (t *enrollmentTx) CountEnrollments(ctx context.Context, semesterID, courseCode string, status models.EnrollmentStatus) (int, error) {
	defer t.observe("count_enrollments", time.Now())
	const query = `SELECT COUNT(*) FROM enrollments WHERE semester_id = $1 AND course_code = $2 AND status = $3`
	var total int
	if err := t.tx.GetContext(ctx, &total, query, semesterID, courseCode, status); err != nil {
		return 0, classify("count enrollments", err)
	}
	return total, nil
}

const enrollmentColumns = `semester_id, student_id, course_code, status, requested_at, seq`

func (t *enrollmentTx) FindEnrollment(ctx context.Context, semesterID, studentID, courseCode string) (*models.Enrollment, error) {
	defer t.observe("find_enrollment", time.Now())
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE semester_id = $1 AND student_id = $2 AND course_code = $3 FOR UPDATE`
	var enrollment models.Enrollment
	if err := t.tx.GetContext(ctx, &enrollment, query, semesterID, studentID, courseCode); err != nil {
		return nil, classify("find enrollment", err)
	}
	return &enrollment, nil
}

func (t *enrollmentTx) InsertEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	defer t.observe("insert_enrollment", time.Now())
	if !enrollment.Status.Valid() {
		return fmt.Errorf("insert enrollment: %w: status %q", ErrInvalidTransition, enrollment.Status)
	}
	// requested_at comes from the database clock while the offering row is
	// locked, so waitlist order always equals insertion order across app
	// instances.
	const query = `INSERT INTO enrollments (semester_id, student_id, course_code, status, requested_at)
VALUES ($1, $2, $3, $4, clock_timestamp()) RETURNING requested_at, seq`
	var stamp struct {
		RequestedAt time.Time `db:"requested_at"`
		Seq         int64     `db:"seq"`
	}
	if err := t.tx.GetContext(ctx, &stamp, query,
		enrollment.SemesterID, enrollment.StudentID, enrollment.CourseCode, enrollment.Status); err != nil {
		return classify("insert enrollment", err)
	}
	enrollment.RequestedAt = stamp.RequestedAt
	enrollment.Seq = stamp.Seq
	return nil
}

func (t *enrollmentTx) DeleteEnrollment(ctx context.Context, semesterID, studentID, courseCode string) (int64, error) {
	defer t.observe("delete_enrollment", time.Now())
	const query = `DELETE FROM enrollments WHERE semester_id = $1 AND student_id = $2 AND course_code = $3`
	res, err := t.tx.ExecContext(ctx, query, semesterID, studentID, courseCode)
	if err != nil {
		return 0, classify("delete enrollment", err)
	}
	return rowsAffected("delete enrollment", res)
}

func (t *enrollmentTx) FindOldestWaitlisted(ctx context.Context, semesterID, courseCode string) (*models.Enrollment, error) {
	defer t.observe("find_oldest_waitlisted", time.Now())
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments
WHERE semester_id = $1 AND course_code = $2 AND status = $3
ORDER BY requested_at ASC, seq ASC LIMIT 1 FOR UPDATE`
	var enrollment models.Enrollment
	if err := t.tx.GetContext(ctx, &enrollment, query, semesterID, courseCode, models.EnrollmentStatusWaitlisted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify("find oldest waitlisted", err)
	}
	return &enrollment, nil
}

// UpdateEnrollmentStatus only performs the WAITLISTED -> SCHEDULED flip; any
// other request, or a row not currently waitlisted, yields ErrInvalidTransition.
func (t *enrollmentTx) UpdateEnrollmentStatus(ctx context.Context, semesterID, studentID, courseCode string, status models.EnrollmentStatus) error {
	defer t.observe("update_enrollment_status", time.Now())
	if status != models.EnrollmentStatusScheduled {
		return fmt.Errorf("update enrollment status: %w: to %q", ErrInvalidTransition, status)
	}
	const query = `UPDATE enrollments SET status = $4
WHERE semester_id = $1 AND student_id = $2 AND course_code = $3 AND status = $5`
	res, err := t.tx.ExecContext(ctx, query, semesterID, studentID, courseCode, status, models.EnrollmentStatusWaitlisted)
	if err != nil {
		return classify("update enrollment status", err)
	}
	affected, err := rowsAffected("update enrollment status", res)
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("update enrollment status: %w: %d rows matched", ErrInvalidTransition, affected)
	}
	return nil
}

func (t *enrollmentTx) ListEnrollmentsForStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	defer t.observe("list_student_enrollments", time.Now())
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE student_id = $1 ORDER BY semester_id, course_code`
	var enrollments []models.Enrollment
	if err := t.tx.SelectContext(ctx, &enrollments, query, studentID); err != nil {
		return nil, classify("list student enrollments", err)
	}
	return enrollments, nil
}

func (t *enrollmentTx) DeleteAllEnrollmentsForStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	defer t.observe("delete_student_enrollments", time.Now())
	const query = `DELETE FROM enrollments WHERE student_id = $1 RETURNING ` + enrollmentColumns
	var removed []models.Enrollment
	if err := t.tx.SelectContext(ctx, &removed, query, studentID); err != nil {
		return nil, classify("delete student enrollments", err)
	}
	return removed, nil
}

func (t *enrollmentTx) DeleteStudent(ctx context.Context, studentID string) (int64, error) {
	defer t.observe("delete_student", time.Now())
	res, err := t.tx.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, studentID)
	if err != nil {
		return 0, classify("delete student", err)
	}
	return rowsAffected("delete student", res)
}

func (t *enrollmentTx) DeleteAllEnrollmentsForOffering(ctx context.Context, semesterID, courseCode string) ([]models.AffectedEnrollment, error) {
	defer t.observe("delete_offering_enrollments", time.Now())
	const query = `DELETE FROM enrollments e USING students s
WHERE s.id = e.student_id AND e.semester_id = $1 AND e.course_code = $2
RETURNING e.student_id, s.first_name, s.last_name, e.status`
	var affected []models.AffectedEnrollment
	if err := t.tx.SelectContext(ctx, &affected, query, semesterID, courseCode); err != nil {
		return nil, classify("delete offering enrollments", err)
	}
	return affected, nil
}

func (t *enrollmentTx) DeleteOffering(ctx context.Context, semesterID, courseCode string) (int64, error) {
	defer t.observe("delete_offering", time.Now())
	const query = `DELETE FROM class_offerings WHERE semester_id = $1 AND course_code = $2`
	res, err := t.tx.ExecContext(ctx, query, semesterID, courseCode)
	if err != nil {
		return 0, classify("delete offering", err)
	}
	return rowsAffected("delete offering", res)
}

func (t *enrollmentTx) Commit() error {
	return classify("commit enrollment tx", t.tx.Commit())
}

func (t *enrollmentTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return classify("rollback enrollment tx", err)
	}
	return nil
}

func rowsAffected(op string, res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(op, err)
	}
	return n, nil
}
