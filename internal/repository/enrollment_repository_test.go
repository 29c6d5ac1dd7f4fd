package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/class-scheduler-api/internal/models"
)

type recordingObserver struct {
	labels []string
}

func (o *recordingObserver) ObserveDBQuery(label string, duration time.Duration) {
	o.labels = append(o.labels, label)
}

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func beginTx(t *testing.T, mock sqlmock.Sqlmock, db *sqlx.DB, observer QueryObserver) EnrollmentTx {
	mock.ExpectBegin()
	repo := NewEnrollmentRepository(db, EnrollmentTxOptions{}, observer)
	tx, err := repo.Begin(context.Background())
	require.NoError(t, err)
	return tx
}

var enrollmentRowColumns = []string{"semester_id", "student_id", "course_code", "status", "requested_at", "seq"}

func TestEnrollmentRepositoryBeginSetsLockTimeout(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout = 1500")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	repo := NewEnrollmentRepository(db, EnrollmentTxOptions{LockTimeout: 1500 * time.Millisecond}, nil)
	tx, err := repo.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryBeginUnavailable(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

	repo := NewEnrollmentRepository(db, EnrollmentTxOptions{}, nil)
	_, err := repo.Begin(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEnrollmentTxLockOffering(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	observer := &recordingObserver{}
	tx := beginTx(t, mock, db, observer)

	rows := sqlmock.NewRows([]string{"semester_id", "course_code", "capacity", "created_at"}).
		AddRow("2025-FALL", "CS101", 30, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT semester_id, course_code, capacity, created_at FROM class_offerings WHERE semester_id = $1 AND course_code = $2 FOR UPDATE")).
		WithArgs("2025-FALL", "CS101").
		WillReturnRows(rows)

	offering, err := tx.LockOffering(context.Background(), "2025-FALL", "CS101")
	require.NoError(t, err)
	assert.Equal(t, 30, offering.Capacity)
	assert.Equal(t, []string{"lock_offering"}, observer.labels)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentTxLockOfferingMissing(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	tx := beginTx(t, mock, db, nil)

	mock.ExpectQuery("FROM class_offerings").
		WithArgs("2025-FALL", "NOPE").
		WillReturnError(sql.ErrNoRows)

	_, err := tx.LockOffering(context.Background(), "2025-FALL", "NOPE")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestEnrollmentTxLockOfferingTimeout(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	tx := beginTx(t, mock, db, nil)

	mock.ExpectQuery("FROM class_offerings").
		WillReturnError(&pq.Error{Code: "55P03", Message: "canceling statement due to lock timeout"})

	_, err := tx.LockOffering(context.Background(), "2025-FALL", "CS101")
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestEnrollmentTxStudentLocks(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	tx := beginTx(t, mock, db, nil)

	cols := []string{"id", "first_name", "last_name", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1 FOR SHARE")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("s1", "Ada", "Lovelace", time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1 FOR UPDATE")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("s1", "Ada", "Lovelace", time.Now()))

	shared, err := tx.GetStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", shared.FirstName)
	locked, err := tx.LockStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "Lovelace", locked.LastName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentTxCountEnrollments(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	tx := beginTx(t, mock, db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE semester_id = $1 AND course_code = $2 AND status = $3")).
		WithArgs("2025-FALL", "CS101", models.EnrollmentStatusScheduled).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := tx.CountEnrollments(context.Background(), "2025-FALL", "CS101", models.EnrollmentStatusScheduled)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentTxInsertEnrollment(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	tx := beginTx(t, mock, db, nil)

	stored := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("VALUES ($1, $2, $3, $4, clock_timestamp()) RETURNING requested_at, seq")).
		WithArgs("2025-FALL", "s1", "CS101", models.EnrollmentStatusWaitlisted).
		WillReturnRows(sqlmock.NewRows([]string{"requested_at", "seq"}).AddRow(stored, int64(17)))

	appClock := stored.Add(time.Hour)
	enrollment := &models.Enrollment{SemesterID: "2025-FALL", StudentID: "s1", CourseCode: "CS101", Status: models.EnrollmentStatusWaitlisted, RequestedAt: appClock}
	require.NoError(t, tx.InsertEnrollment(context.Background(), enrollment))
	assert.Equal(t, int64(17), enrollment.Seq)
	assert.True(t, stored.Equal(enrollment.RequestedAt), "database clock wins over the caller's")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentTxInsertEnrollmentDuplicate(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	tx := beginTx(t, mock, db, nil)

	mock.ExpectQuery("INSERT INTO enrollments").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "enrollments_pkey"})

	err := tx.InsertEnrollment(context.Background(), &models.Enrollment{SemesterID: "2025-FALL", StudentID: "s1", CourseCode: "CS101", Status: models.EnrollmentStatusScheduled})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestEnrollmentTxInsertEnrollmentRejectsUnknownStatus(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	tx := beginTx(t, mock, db, nil)

	err := tx.InsertEnrollment(context.Background(), &models.Enrollment{SemesterID: "2025-FALL", StudentID: "s1", CourseCode: "CS101", Status: "DROPPED"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentTxFindAndDeleteEnrollment(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	tx := beginTx(t, mock, db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE semester_id = $1 AND student_id = $2 AND course_code = $3 FOR UPDATE")).
		WithArgs("2025-FALL", "s1", "CS101").
		WillReturnRows(sqlmock.NewRows(enrollmentRowColumns).AddRow("2025-FALL", "s1", "CS101", "SCHEDULED", time.Now(), 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM enrollments WHERE semester_id = $1 AND student_id = $2 AND course_code = $3")).
		WithArgs("2025-FALL", "s1", "CS101").
		WillReturnResult(sqlmock.NewResult(0, 1))

	found, err := tx.FindEnrollment(context.Background(), "2025-FALL", "s1", "CS101")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusScheduled, found.Status)

	affected, err := tx.DeleteEnrollment(context.Background(), "2025-FALL", "s1", "CS101")
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentTxFindOldestWaitlisted(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	tx := beginTx(t, mock, db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY requested_at ASC, seq ASC LIMIT 1 FOR UPDATE")).
		WithArgs("2025-FALL", "CS101", models.EnrollmentStatusWaitlisted).
		WillReturnRows(sqlmock.NewRows(enrollmentRowColumns).AddRow("2025-FALL", "s2", "CS101", "WAITLISTED", time.Now(), 5))
	mock.ExpectQuery("ORDER BY requested_at ASC").
		WithArgs("2025-FALL", "CS102", models.EnrollmentStatusWaitlisted).
		WillReturnError(sql.ErrNoRows)

	next, err := tx.FindOldestWaitlisted(context.Background(), "2025-FALL", "CS101")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "s2", next.StudentID)

	none, err := tx.FindOldestWaitlisted(context.Background(), "2025-FALL", "CS102")
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentTxUpdateEnrollmentStatus(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	tx := beginTx(t, mock, db, nil)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $4")).
		WithArgs("2025-FALL", "s2", "CS101", models.EnrollmentStatusScheduled, models.EnrollmentStatusWaitlisted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $4")).
		WithArgs("2025-FALL", "s3", "CS101", models.EnrollmentStatusScheduled, models.EnrollmentStatusWaitlisted).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, tx.UpdateEnrollmentStatus(context.Background(), "2025-FALL", "s2", "CS101", models.EnrollmentStatusScheduled))

	err := tx.UpdateEnrollmentStatus(context.Background(), "2025-FALL", "s3", "CS101", models.EnrollmentStatusScheduled)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = tx.UpdateEnrollmentStatus(context.Background(), "2025-FALL", "s2", "CS101", models.EnrollmentStatusWaitlisted)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentTxStudentCascade(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	tx := beginTx(t, mock, db, nil)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE student_id = $1 ORDER BY semester_id, course_code")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(enrollmentRowColumns).
			AddRow("2025-FALL", "s1", "CS101", "SCHEDULED", now, 1).
			AddRow("2025-FALL", "s1", "CS102", "WAITLISTED", now, 2))
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM enrollments WHERE student_id = $1 RETURNING")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(enrollmentRowColumns).
			AddRow("2025-FALL", "s1", "CS101", "SCHEDULED", now, 1).
			AddRow("2025-FALL", "s1", "CS102", "WAITLISTED", now, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students WHERE id = $1")).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	listed, err := tx.ListEnrollmentsForStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	removed, err := tx.DeleteAllEnrollmentsForStudent(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, removed, 2)
	assert.Equal(t, models.EnrollmentStatusWaitlisted, removed[1].Status)

	n, err := tx.DeleteStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentTxOfferingCascade(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	tx := beginTx(t, mock, db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM enrollments e USING students s")).
		WithArgs("2025-FALL", "CS101").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "first_name", "last_name", "status"}).
			AddRow("s1", "Ada", "Lovelace", "SCHEDULED").
			AddRow("s2", "Alan", "Turing", "WAITLISTED"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM class_offerings WHERE semester_id = $1 AND course_code = $2")).
		WithArgs("2025-FALL", "CS101").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	affected, err := tx.DeleteAllEnrollmentsForOffering(context.Background(), "2025-FALL", "CS101")
	require.NoError(t, err)
	require.Len(t, affected, 2)
	assert.Equal(t, "Turing", affected[1].LastName)
	assert.Equal(t, models.EnrollmentStatusWaitlisted, affected[1].PriorStatus)

	n, err := tx.DeleteOffering(context.Background(), "2025-FALL", "CS101")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, tx.Rollback())
	assert.NoError(t, tx.Rollback(), "second rollback is a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}
