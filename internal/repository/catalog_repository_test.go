package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/class-scheduler-api/internal/models"
)

func TestSemesterRepository(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewSemesterRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO semesters (id, created_at)")).
		WithArgs("2025-FALL", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, created_at FROM semesters WHERE id = $1")).
		WithArgs("2025-FALL").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("2025-FALL", time.Now()))

	require.NoError(t, repo.Create(context.Background(), &models.Semester{ID: "2025-FALL"}))
	semester, err := repo.FindByID(context.Background(), "2025-FALL")
	require.NoError(t, err)
	assert.Equal(t, "2025-FALL", semester.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryDuplicate(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec("INSERT INTO courses").
		WithArgs("CS101", "Intro", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectQuery(regexp.QuoteMeta("SELECT code, description, created_at FROM courses WHERE code = $1")).
		WithArgs("CS999").
		WillReturnError(sql.ErrNoRows)

	err := repo.Create(context.Background(), &models.Course{Code: "CS101", Description: "Intro"})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = repo.FindByCode(context.Background(), "CS999")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfferingRepository(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewOfferingRepository(db)

	mock.ExpectExec("INSERT INTO class_offerings").
		WithArgs("2025-FALL", "CS404", 10, sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23503"})
	mock.ExpectQuery(regexp.QuoteMeta("FROM class_offerings WHERE semester_id = $1 AND course_code = $2")).
		WithArgs("2025-FALL", "CS101").
		WillReturnRows(sqlmock.NewRows([]string{"semester_id", "course_code", "capacity", "created_at"}).AddRow("2025-FALL", "CS101", 2, time.Now()))

	err := repo.Create(context.Background(), &models.ClassOffering{SemesterID: "2025-FALL", CourseCode: "CS404", Capacity: 10})
	assert.ErrorIs(t, err, ErrForeignKey)

	offering, err := repo.Find(context.Background(), "2025-FALL", "CS101")
	require.NoError(t, err)
	assert.Equal(t, 2, offering.Capacity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepository(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("INSERT INTO students").
		WithArgs("s1", "Ada", "Lovelace", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, first_name, last_name, created_at FROM students WHERE id = $1")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "first_name", "last_name", "created_at"}).AddRow("s1", "Ada", "Lovelace", time.Now()))

	require.NoError(t, repo.Create(context.Background(), &models.Student{ID: "s1", FirstName: "Ada", LastName: "Lovelace"}))
	student, err := repo.FindByID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "Lovelace, Ada", student.FullName())
	assert.NoError(t, mock.ExpectationsWereMet())
}
